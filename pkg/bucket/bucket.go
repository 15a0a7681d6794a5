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

// Package bucket defines the object store holding uploaded debuginfo
// payloads. Keys are upload ids; writes are whole-object.
package bucket

import (
	"context"
	"io"
)

// Bucket is the interface that stores and retrieves debuginfo payloads.
type Bucket interface {
	// Put stores the bytes read from r under key, overwriting any
	// previous object with the same key.
	Put(ctx context.Context, key string, r io.Reader) error

	// Get returns a reader over the object stored under key or
	// errtypes.NotFound. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}
