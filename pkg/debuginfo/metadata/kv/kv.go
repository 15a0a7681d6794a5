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

// Package kv persists debuginfo metadata records through a go-micro
// key-value store, so records survive daemon restarts when backed by
// NATS JetStream.
package kv

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	microstore "go-micro.dev/v4/store"

	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfo/metadata"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfo/metadata/registry"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfopb"
	"github.com/dwarfkeep/dwarfkeep/pkg/errtypes"
	"github.com/dwarfkeep/dwarfkeep/pkg/kvstore"
	"github.com/dwarfkeep/dwarfkeep/pkg/utils/cfg"
)

func init() {
	registry.Register("kv", New)
}

type config struct {
	// Store selects the kvstore implementation: memory, sharedmem,
	// nats-js, redis or noop.
	Store string `mapstructure:"store"`
	// Nodes are the server endpoints for the nats-js and redis stores.
	Nodes    []string `mapstructure:"nodes"`
	Database string   `mapstructure:"database"`
	Table    string   `mapstructure:"table"`
}

func (c *config) ApplyDefaults() {
	if c.Store == "" {
		c.Store = kvstore.TypeMemory
	}
	if c.Database == "" {
		c.Database = "dwarfkeep"
	}
	if c.Table == "" {
		c.Table = "debuginfo-metadata"
	}
}

// New returns a metadata store backed by a go-micro key-value store.
func New(m map[string]interface{}) (metadata.Store, error) {
	var c config
	if err := cfg.Decode(m, &c); err != nil {
		return nil, err
	}

	s := kvstore.Create(
		kvstore.Type(c.Store),
		microstore.Nodes(c.Nodes...),
		microstore.Database(c.Database),
		microstore.Table(c.Table),
	)

	return &store{
		// Records never expire; staleness is judged by the coordinator.
		kv:   kvstore.NewKV(s, c.Database, c.Table, 0),
		lock: &sync.Mutex{},
	}, nil
}

type store struct {
	// lock serializes read-modify-write transitions; single kv operations
	// are atomic on their own.
	lock *sync.Mutex
	kv   kvstore.KV
}

func (s *store) pull(k string) (*metadata.Debuginfo, error) {
	d := &metadata.Debuginfo{}
	if err := s.kv.Pull(k, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *store) Fetch(ctx context.Context, buildID string, typ debuginfopb.DebuginfoType) (*metadata.Debuginfo, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.pull(metadata.Key(buildID, typ))
}

func (s *store) MarkAsUploading(ctx context.Context, buildID, uploadID, hash string, typ debuginfopb.DebuginfoType, startedAt time.Time) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	k := metadata.Key(buildID, typ)
	d, err := s.pull(k)
	if err == nil && d.Upload != nil && d.Upload.State == metadata.StateUploaded && d.Upload.Hash == hash {
		return errtypes.AlreadyExists(k)
	}
	if err != nil {
		if _, ok := err.(errtypes.NotFound); !ok {
			return errors.Wrap(err, "kv: error fetching record")
		}
	}

	return s.kv.Push(k, &metadata.Debuginfo{
		BuildID: buildID,
		Type:    typ,
		Source:  metadata.SourceUpload,
		Upload: &metadata.Upload{
			ID:        uploadID,
			Hash:      hash,
			State:     metadata.StateUploading,
			StartedAt: startedAt,
		},
	})
}

func (s *store) MarkAsUploaded(ctx context.Context, buildID, uploadID string, typ debuginfopb.DebuginfoType, finishedAt time.Time) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	k := metadata.Key(buildID, typ)
	d, err := s.pull(k)
	if err != nil {
		return err
	}
	if d.Upload == nil || d.Upload.ID != uploadID {
		return errtypes.NotFound(k)
	}

	d.Upload.State = metadata.StateUploaded
	d.Upload.FinishedAt = finishedAt
	return s.kv.Push(k, d)
}

func (s *store) MarkAsDebuginfodSource(ctx context.Context, source, buildID string, typ debuginfopb.DebuginfoType) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.kv.Push(metadata.Key(buildID, typ), &metadata.Debuginfo{
		BuildID:          buildID,
		Type:             typ,
		Source:           metadata.SourceDebuginfod,
		DebuginfodSource: source,
	})
}

func (s *store) SetQuality(ctx context.Context, buildID string, typ debuginfopb.DebuginfoType, quality *metadata.Quality) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	k := metadata.Key(buildID, typ)
	d, err := s.pull(k)
	if err != nil {
		return err
	}

	q := *quality
	d.Quality = &q
	return s.kv.Push(k, d)
}
