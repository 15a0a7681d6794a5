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

// Package fetcher resolves the debuginfo bytes for a build id, wherever the
// metadata says they live.
package fetcher

import (
	"context"
	"io"

	"github.com/dwarfkeep/dwarfkeep/pkg/bucket"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfo/metadata"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfod"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfopb"
	"github.com/dwarfkeep/dwarfkeep/pkg/errtypes"
)

// Fetcher streams debuginfo payloads from the bucket or from the upstream
// mirror recorded in the metadata.
type Fetcher struct {
	meta metadata.Store
	bkt  bucket.Bucket
	dcl  debuginfod.Client
}

// New returns a Fetcher reading through the given stores.
func New(meta metadata.Store, bkt bucket.Bucket, dcl debuginfod.Client) *Fetcher {
	return &Fetcher{
		meta: meta,
		bkt:  bkt,
		dcl:  dcl,
	}
}

// FetchDebuginfo returns a stream of the debuginfo for (buildID, typ). It
// fails with errtypes.NotFound when no record or payload exists; uploads
// still in flight are not served.
func (f *Fetcher) FetchDebuginfo(ctx context.Context, buildID string, typ debuginfopb.DebuginfoType) (io.ReadCloser, error) {
	d, err := f.meta.Fetch(ctx, buildID, typ)
	if err != nil {
		return nil, err
	}

	switch d.Source {
	case metadata.SourceUpload:
		if d.Upload == nil {
			return nil, errtypes.InternalError("fetcher: record with source upload carries no upload")
		}
		if d.Upload.State != metadata.StateUploaded {
			return nil, errtypes.NotFound(buildID)
		}
		return f.bkt.Get(ctx, d.Upload.ID)
	case metadata.SourceDebuginfod:
		return f.dcl.Get(ctx, d.DebuginfodSource, buildID)
	default:
		return nil, errtypes.InternalError("fetcher: unknown debuginfo source")
	}
}
