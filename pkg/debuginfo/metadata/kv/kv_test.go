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

package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfo/metadata"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfopb"
	"github.com/dwarfkeep/dwarfkeep/pkg/errtypes"
)

const buildID = "deadbeefcafe1234"

var typ = debuginfopb.DebuginfoType_DEBUGINFO_TYPE_DEBUGINFO_UNSPECIFIED

// newStore builds the driver on the in-process go-micro store so the tests
// exercise the real serialization without a NATS server.
func newStore(t *testing.T) metadata.Store {
	s, err := New(map[string]interface{}{"store": "memory"})
	require.NoError(t, err)
	return s
}

func TestRecordRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	startedAt := time.Now()

	require.NoError(t, s.MarkAsUploading(ctx, buildID, "upload-1", "h1", typ, startedAt))

	d, err := s.Fetch(ctx, buildID, typ)
	require.NoError(t, err)
	assert.Equal(t, buildID, d.BuildID)
	assert.Equal(t, metadata.SourceUpload, d.Source)
	require.NotNil(t, d.Upload)
	assert.Equal(t, "upload-1", d.Upload.ID)
	assert.Equal(t, "h1", d.Upload.Hash)
	assert.Equal(t, metadata.StateUploading, d.Upload.State)
	assert.True(t, d.Upload.StartedAt.Equal(startedAt),
		"StartedAt did not survive serialization: want %v, got %v", startedAt, d.Upload.StartedAt)
}

func TestFetchUnknownBuildID(t *testing.T) {
	s := newStore(t)

	_, err := s.Fetch(context.Background(), buildID, typ)
	require.Error(t, err)
	_, ok := err.(errtypes.NotFound)
	assert.True(t, ok, "expected errtypes.NotFound, got %T", err)
}

func TestUploadLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkAsUploading(ctx, buildID, "upload-1", "h1", typ, time.Now()))
	require.NoError(t, s.MarkAsUploaded(ctx, buildID, "upload-1", typ, time.Now()))

	d, err := s.Fetch(ctx, buildID, typ)
	require.NoError(t, err)
	assert.Equal(t, metadata.StateUploaded, d.Upload.State)
	assert.False(t, d.Upload.FinishedAt.IsZero())

	// an uploaded payload with the same hash must not be restarted
	err = s.MarkAsUploading(ctx, buildID, "upload-2", "h1", typ, time.Now())
	require.Error(t, err)
	_, ok := err.(errtypes.AlreadyExists)
	assert.True(t, ok, "expected errtypes.AlreadyExists, got %T", err)

	// a different payload overwrites the record
	require.NoError(t, s.MarkAsUploading(ctx, buildID, "upload-3", "h2", typ, time.Now()))
	d, err = s.Fetch(ctx, buildID, typ)
	require.NoError(t, err)
	assert.Equal(t, "upload-3", d.Upload.ID)
}

func TestMarkAsUploadedUnknownUpload(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.MarkAsUploaded(ctx, buildID, "upload-9", typ, time.Now())
	require.Error(t, err)
	_, ok := err.(errtypes.NotFound)
	assert.True(t, ok, "expected errtypes.NotFound, got %T", err)

	require.NoError(t, s.MarkAsUploading(ctx, buildID, "upload-1", "h1", typ, time.Now()))
	err = s.MarkAsUploaded(ctx, buildID, "upload-9", typ, time.Now())
	require.Error(t, err)
	_, ok = err.(errtypes.NotFound)
	assert.True(t, ok, "expected errtypes.NotFound, got %T", err)
}

func TestMarkAsDebuginfodSource(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkAsDebuginfodSource(ctx, "https://mirror.example", buildID, typ))

	d, err := s.Fetch(ctx, buildID, typ)
	require.NoError(t, err)
	assert.Equal(t, metadata.SourceDebuginfod, d.Source)
	assert.Equal(t, "https://mirror.example", d.DebuginfodSource)
}

func TestSetQuality(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkAsUploading(ctx, buildID, "upload-1", "h1", typ, time.Now()))
	require.NoError(t, s.SetQuality(ctx, buildID, typ, &metadata.Quality{NotValidELF: true}))

	d, err := s.Fetch(ctx, buildID, typ)
	require.NoError(t, err)
	require.NotNil(t, d.Quality)
	assert.True(t, d.Quality.NotValidELF)
	assert.False(t, d.IsValid())
}
