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
	"context"
	"sync"
	"time"

	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfo/metadata"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfo/metadata/registry"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfopb"
	"github.com/dwarfkeep/dwarfkeep/pkg/errtypes"
)

func init() {
	registry.Register("memory", New)
}

// New returns a metadata store that keeps records in process memory.
// Records do not survive a restart.
func New(c map[string]interface{}) (metadata.Store, error) {
	return &store{
		records: map[string]*metadata.Debuginfo{},
		lock:    &sync.Mutex{},
	}, nil
}

type store struct {
	lock *sync.Mutex
	// records maps metadata.Key(buildID, typ) to the record. Values never
	// leave the store; reads hand out clones.
	records map[string]*metadata.Debuginfo
}

func (s *store) Fetch(ctx context.Context, buildID string, typ debuginfopb.DebuginfoType) (*metadata.Debuginfo, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	k := metadata.Key(buildID, typ)
	d, ok := s.records[k]
	if !ok {
		return nil, errtypes.NotFound(k)
	}
	return d.Clone(), nil
}

func (s *store) MarkAsUploading(ctx context.Context, buildID, uploadID, hash string, typ debuginfopb.DebuginfoType, startedAt time.Time) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	k := metadata.Key(buildID, typ)
	if d, ok := s.records[k]; ok {
		if d.Upload != nil && d.Upload.State == metadata.StateUploaded && d.Upload.Hash == hash {
			return errtypes.AlreadyExists(k)
		}
	}

	// Overwrite wholesale: a stale quality verdict must not outlive the
	// bytes it was issued for.
	s.records[k] = &metadata.Debuginfo{
		BuildID: buildID,
		Type:    typ,
		Source:  metadata.SourceUpload,
		Upload: &metadata.Upload{
			ID:        uploadID,
			Hash:      hash,
			State:     metadata.StateUploading,
			StartedAt: startedAt,
		},
	}
	return nil
}

func (s *store) MarkAsUploaded(ctx context.Context, buildID, uploadID string, typ debuginfopb.DebuginfoType, finishedAt time.Time) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	k := metadata.Key(buildID, typ)
	d, ok := s.records[k]
	if !ok || d.Upload == nil || d.Upload.ID != uploadID {
		return errtypes.NotFound(k)
	}

	d.Upload.State = metadata.StateUploaded
	d.Upload.FinishedAt = finishedAt
	return nil
}

func (s *store) MarkAsDebuginfodSource(ctx context.Context, source, buildID string, typ debuginfopb.DebuginfoType) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.records[metadata.Key(buildID, typ)] = &metadata.Debuginfo{
		BuildID:          buildID,
		Type:             typ,
		Source:           metadata.SourceDebuginfod,
		DebuginfodSource: source,
	}
	return nil
}

func (s *store) SetQuality(ctx context.Context, buildID string, typ debuginfopb.DebuginfoType, quality *metadata.Quality) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	k := metadata.Key(buildID, typ)
	d, ok := s.records[k]
	if !ok {
		return errtypes.NotFound(k)
	}

	q := *quality
	d.Quality = &q
	return nil
}
