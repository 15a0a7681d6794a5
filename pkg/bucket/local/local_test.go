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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwarfkeep/dwarfkeep/pkg/bucket"
	"github.com/dwarfkeep/dwarfkeep/pkg/errtypes"
)

func newBucket(t *testing.T) (bucket.Bucket, string) {
	t.Helper()
	root := t.TempDir()
	b, err := New(map[string]interface{}{"root": root})
	require.NoError(t, err)
	return b, root
}

func TestPutGet(t *testing.T) {
	b, _ := newBucket(t)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "upload-1", strings.NewReader("debuginfo bytes")))

	rc, err := b.Get(ctx, "upload-1")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "debuginfo bytes", string(data))
}

func TestGetUnknownKey(t *testing.T) {
	b, _ := newBucket(t)

	_, err := b.Get(context.Background(), "upload-1")
	require.Error(t, err)
	_, ok := err.(errtypes.NotFound)
	assert.True(t, ok, "expected errtypes.NotFound, got %T", err)
}

func TestPutOverwrites(t *testing.T) {
	b, _ := newBucket(t)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "upload-1", strings.NewReader("first")))
	require.NoError(t, b.Put(ctx, "upload-1", strings.NewReader("second")))

	rc, err := b.Get(ctx, "upload-1")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestKeysCannotEscapeRoot(t *testing.T) {
	b, root := newBucket(t)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "../../escape", strings.NewReader("jailed")))

	// the blob must land inside the root, not two levels up
	_, err := os.Stat(filepath.Join(root, "escape"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "..", "..", "escape"))
	assert.True(t, os.IsNotExist(err))
}

func TestPayloadsSurviveReopen(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	b, err := New(map[string]interface{}{"root": root})
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, "upload-1", strings.NewReader("durable")))

	b, err = New(map[string]interface{}{"root": root})
	require.NoError(t, err)

	rc, err := b.Get(ctx, "upload-1")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "durable", string(data))
}
