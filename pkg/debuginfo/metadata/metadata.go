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

// Package metadata defines the debuginfo metadata records and the store
// interface implemented by the drivers under this tree.
package metadata

import (
	"context"
	"strconv"
	"time"

	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfopb"
)

// Key returns the store key for (buildID, typ). The format is shared by all
// drivers and is safe for NATS KV subjects.
func Key(buildID string, typ debuginfopb.DebuginfoType) string {
	return buildID + "/" + strconv.Itoa(int(typ))
}

// Source says where the payload bytes of a record can be fetched from.
type Source int

const (
	// SourceUnknown marks a record whose origin was never set.
	SourceUnknown Source = iota
	// SourceUpload marks debuginfo an agent uploaded into the bucket.
	SourceUpload
	// SourceDebuginfod marks debuginfo served by an upstream debuginfod
	// mirror; no bytes are kept locally.
	SourceDebuginfod
)

func (s Source) String() string {
	switch s {
	case SourceUpload:
		return "upload"
	case SourceDebuginfod:
		return "debuginfod"
	default:
		return "unknown"
	}
}

// State tracks the lifecycle of an upload sub-record.
type State int

const (
	// StateUnknown is the zero value and never stored explicitly.
	StateUnknown State = iota
	// StateUploading is set by MarkAsUploading; the payload may or may not
	// be in the bucket yet.
	StateUploading
	// StateUploaded is set by MarkAsUploaded once the client sealed the
	// upload.
	StateUploaded
)

func (s State) String() string {
	switch s {
	case StateUploading:
		return "uploading"
	case StateUploaded:
		return "uploaded"
	default:
		return "unknown"
	}
}

// Quality carries the verdict of the offline validator. A record without a
// quality annotation counts as valid.
type Quality struct {
	NotValidELF bool
}

// Upload is the sub-record present on records with SourceUpload.
type Upload struct {
	// ID is a ULID minted by InitiateUpload; it doubles as the bucket key.
	ID string
	// Hash is the client-supplied content fingerprint.
	Hash string
	State State
	// StartedAt is the time of the accepting InitiateUpload call. The
	// staleness rule is computed from it.
	StartedAt time.Time
	// FinishedAt stays zero until MarkUploadFinished.
	FinishedAt time.Time
}

// Debuginfo is one metadata record. Records are keyed by (build id, type);
// the two fields are repeated here so a fetched snapshot is self-contained.
type Debuginfo struct {
	BuildID string
	Type    debuginfopb.DebuginfoType
	Source  Source
	// Upload is present exactly when Source is SourceUpload.
	Upload  *Upload
	Quality *Quality
	// DebuginfodSource is the mirror URL recorded when Source is
	// SourceDebuginfod.
	DebuginfodSource string
}

// Store is the interface that manipulates debuginfo metadata records.
// Implementations serialize transitions and hand out value copies on read,
// so callers can inspect a snapshot without holding any lock.
type Store interface {
	// Fetch returns a snapshot of the record for (buildID, typ) or
	// errtypes.NotFound.
	Fetch(ctx context.Context, buildID string, typ debuginfopb.DebuginfoType) (*Debuginfo, error)

	// MarkAsUploading creates or overwrites the record with a fresh upload
	// sub-record in StateUploading. It fails with errtypes.AlreadyExists
	// if an uploaded record with the same hash is already present.
	MarkAsUploading(ctx context.Context, buildID, uploadID, hash string, typ debuginfopb.DebuginfoType, startedAt time.Time) error

	// MarkAsUploaded transitions the upload sub-record identified by
	// uploadID to StateUploaded and stamps finishedAt. It fails with
	// errtypes.NotFound when no record with that upload id exists.
	MarkAsUploaded(ctx context.Context, buildID, uploadID string, typ debuginfopb.DebuginfoType, finishedAt time.Time) error

	// MarkAsDebuginfodSource records that the debuginfo is served by the
	// upstream mirror at source. It is idempotent.
	MarkAsDebuginfodSource(ctx context.Context, source, buildID string, typ debuginfopb.DebuginfoType) error

	// SetQuality attaches the validator verdict to an existing record and
	// fails with errtypes.NotFound when the record is absent.
	SetQuality(ctx context.Context, buildID string, typ debuginfopb.DebuginfoType, quality *Quality) error
}

// Clone returns a deep copy of the record.
func (d *Debuginfo) Clone() *Debuginfo {
	if d == nil {
		return nil
	}
	c := *d
	if d.Upload != nil {
		u := *d.Upload
		c.Upload = &u
	}
	if d.Quality != nil {
		q := *d.Quality
		c.Quality = &q
	}
	return &c
}

// IsValid reports whether the record is usable as-is. Records are valid
// unless the validator has flagged them.
func (d *Debuginfo) IsValid() bool {
	return d == nil || d.Quality == nil || !d.Quality.NotValidELF
}
