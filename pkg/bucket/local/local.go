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

package local

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"

	"github.com/dwarfkeep/dwarfkeep/pkg/bucket"
	"github.com/dwarfkeep/dwarfkeep/pkg/bucket/registry"
	"github.com/dwarfkeep/dwarfkeep/pkg/errtypes"
	"github.com/dwarfkeep/dwarfkeep/pkg/utils/cfg"
)

func init() {
	registry.Register("local", New)
}

type config struct {
	Root string `mapstructure:"root"`
}

func (c *config) ApplyDefaults() {
	if c.Root == "" {
		c.Root = "/var/tmp/dwarfkeep/bucket"
	}
}

// New returns a bucket storing payloads on the local filesystem. Writes go
// through a temp file and an atomic rename, so readers never observe a
// half-written payload.
func New(m map[string]interface{}) (bucket.Bucket, error) {
	var c config
	if err := cfg.Decode(m, &c); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(c.Root, 0700); err != nil {
		return nil, errors.Wrap(err, "local: error creating root dir")
	}
	return &bkt{root: c.Root}, nil
}

type bkt struct {
	root string
}

func (b *bkt) Put(ctx context.Context, key string, r io.Reader) error {
	f, err := renameio.NewPendingFile(b.path(key), renameio.WithPermissions(0600))
	if err != nil {
		return errors.Wrapf(err, "local: could not open blob '%s' for writing", key)
	}
	defer f.Cleanup()

	if _, err := io.Copy(f, r); err != nil {
		return errors.Wrapf(err, "local: could not write blob '%s'", key)
	}
	return f.CloseAtomicallyReplace()
}

func (b *bkt) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errtypes.NotFound(key)
		}
		return nil, errors.Wrapf(err, "local: could not read blob '%s'", key)
	}
	return f, nil
}

func (b *bkt) path(key string) string {
	return filepath.Join(b.root, filepath.Clean(filepath.Join("/", key)))
}
