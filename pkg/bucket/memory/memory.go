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

package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/dwarfkeep/dwarfkeep/pkg/bucket"
	"github.com/dwarfkeep/dwarfkeep/pkg/bucket/registry"
	"github.com/dwarfkeep/dwarfkeep/pkg/errtypes"
)

func init() {
	registry.Register("memory", New)
}

// New returns a bucket that keeps payloads in process memory.
func New(c map[string]interface{}) (bucket.Bucket, error) {
	return &bkt{
		objects: map[string][]byte{},
		lock:    &sync.Mutex{},
	}, nil
}

type bkt struct {
	lock    *sync.Mutex
	objects map[string][]byte
}

func (b *bkt) Put(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrapf(err, "memory: error reading payload for '%s'", key)
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	b.objects[key] = data
	return nil
}

func (b *bkt) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	data, ok := b.objects[key]
	if !ok {
		return nil, errtypes.NotFound(key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
