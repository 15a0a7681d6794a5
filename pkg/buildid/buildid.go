// Copyright 2018-2024 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package buildid extracts GNU build ids from ELF binaries.
package buildid

import (
	"debug/elf"
	"encoding/binary"
	"encoding/hex"
	"io"

	"github.com/pkg/errors"

	"github.com/dwarfkeep/dwarfkeep/pkg/errtypes"
)

// NT_GNU_BUILD_ID note type, name "GNU\x00".
const ntGNUBuildID = 3

// FromFile returns the GNU build id of the ELF binary at path, hex encoded.
func FromFile(path string) (string, error) {
	f, err := elf.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "buildid: error opening '%s'", path)
	}
	defer f.Close()
	return FromELF(f)
}

// FromELF returns the GNU build id of f, hex encoded. It fails with
// errtypes.NotFound when the binary carries no build id note.
func FromELF(f *elf.File) (string, error) {
	// The linker puts the note in its own section; prefer that and fall
	// back to scanning PT_NOTE segments for stripped layouts.
	if s := f.Section(".note.gnu.build-id"); s != nil {
		if data, err := s.Data(); err == nil {
			if id, ok := fromNotes(data, f.ByteOrder); ok {
				return id, nil
			}
		}
	}

	for _, p := range f.Progs {
		if p.Type != elf.PT_NOTE {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(p.Open(), 1<<20))
		if err != nil {
			continue
		}
		if id, ok := fromNotes(data, f.ByteOrder); ok {
			return id, nil
		}
	}

	return "", errtypes.NotFound("gnu build id note")
}

// fromNotes walks a chain of ELF notes and returns the hex-encoded
// descriptor of the first NT_GNU_BUILD_ID entry. Entries are 4-aligned.
// Sizes are widened to int64 before aligning so crafted headers cannot
// wrap around the bounds check.
func fromNotes(data []byte, bo binary.ByteOrder) (string, bool) {
	for len(data) >= 12 {
		namesz := int64(bo.Uint32(data[0:4]))
		descsz := int64(bo.Uint32(data[4:8]))
		typ := bo.Uint32(data[8:12])
		data = data[12:]

		nameLen := align4(namesz)
		descLen := align4(descsz)
		if nameLen+descLen > int64(len(data)) {
			return "", false
		}

		name := data[:namesz]
		desc := data[nameLen : nameLen+descsz]
		data = data[nameLen+descLen:]

		if typ == ntGNUBuildID && string(name) == "GNU\x00" && len(desc) > 0 {
			return hex.EncodeToString(desc), true
		}
	}
	return "", false
}

func align4(n int64) int64 {
	return (n + 3) &^ 3
}
