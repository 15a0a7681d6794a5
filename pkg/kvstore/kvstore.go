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

// Package kvstore creates go-micro key-value stores from configuration and
// wraps them with msgpack (de)serialization for typed records.
package kvstore

import (
	"context"
	"strings"
	"time"

	natsjs "github.com/go-micro/plugins/v4/store/nats-js"
	"github.com/go-micro/plugins/v4/store/redis"
	"github.com/nats-io/nats.go"
	"github.com/shamaton/msgpack/v2"
	"go-micro.dev/v4/logger"
	microstore "go-micro.dev/v4/store"

	"github.com/dwarfkeep/dwarfkeep/pkg/errtypes"
)

const (
	// TypeMemory is an in-process map, the default. Every Create call
	// returns a fresh instance.
	TypeMemory = "memory"
	// TypeSharedMem is an in-process map shared by every service in the
	// process that asks for it.
	TypeSharedMem = "sharedmem"
	// TypeNoop discards writes and never finds a key.
	TypeNoop = "noop"
	// TypeNatsJS persists through a NATS JetStream key-value bucket.
	TypeNatsJS = "nats-js"
	// TypeRedis persists through a redis server.
	TypeRedis = "redis"
)

var sharedMemStore *microstore.Store

type typeContextKey struct{}

// Type returns a microstore option that selects the store implementation.
func Type(val string) microstore.Option {
	return func(o *microstore.Options) {
		if o.Context == nil {
			o.Context = context.Background()
		}
		o.Context = context.WithValue(o.Context, typeContextKey{}, val)
	}
}

type ttlContextKey struct{}

// TTL returns a microstore option that sets the default record expiry.
// Zero means records never expire.
func TTL(val time.Duration) microstore.Option {
	return func(o *microstore.Options) {
		if o.Context == nil {
			o.Context = context.Background()
		}
		o.Context = context.WithValue(o.Context, ttlContextKey{}, val)
	}
}

// Create initializes a new store. The implementation is chosen with the
// Type option; unknown types fall back to memory with a logged error.
func Create(opts ...microstore.Option) microstore.Store {
	options := &microstore.Options{
		Context: context.Background(),
	}
	for _, o := range opts {
		o(options)
	}

	storeType, _ := options.Context.Value(typeContextKey{}).(string)

	switch storeType {
	case TypeNoop:
		return microstore.NewNoopStore(opts...)
	case TypeSharedMem:
		// Services are constructed sequentially during startup, before
		// any of them serves traffic.
		if sharedMemStore == nil {
			s := microstore.NewMemoryStore(opts...)
			sharedMemStore = &s
		}
		return *sharedMemStore
	case TypeRedis:
		return redis.NewStore(opts...)
	case TypeNatsJS:
		ttl, _ := options.Context.Value(ttlContextKey{}).(time.Duration)
		// Nodes, Database and Table come in through the generic options.
		return natsjs.NewStore(
			append(opts,
				natsjs.NatsOptions(nats.Options{Name: "dwarfkeep"}),
				natsjs.DefaultTTL(ttl))...,
		)
	case TypeMemory, "mem", "": // allow existing short form and use as default
		return microstore.NewMemoryStore(opts...)
	default:
		if options.Logger == nil {
			options.Logger = logger.DefaultLogger
		}
		options.Logger.Logf(logger.ErrorLevel, "unknown store type: '%s', falling back to memory", storeType)
		return microstore.NewMemoryStore(opts...)
	}
}

// KV handles typed key value operations on a store, bound to one
// database/table pair.
type KV interface {
	Pull(key string, dest interface{}) error
	Push(key string, src interface{}) error
	List(opts ...microstore.ListOption) ([]string, error)
	Delete(key string, opts ...microstore.DeleteOption) error
	Close() error
}

// NewKV binds s to database/table and serializes values with msgpack.
func NewKV(s microstore.Store, database, table string, ttl time.Duration) KV {
	return kv{s: s, database: database, table: table, ttl: ttl}
}

type kv struct {
	s               microstore.Store
	database, table string
	ttl             time.Duration
}

// Pull reads the value under key into dest. A missing key surfaces as
// errtypes.NotFound.
func (c kv) Pull(key string, dest interface{}) error {
	r, err := c.s.Read(key, microstore.ReadFrom(c.database, c.table), microstore.ReadLimit(1))
	if err == microstore.ErrNotFound {
		return errtypes.NotFound(key)
	}
	if err != nil {
		return err
	}
	if len(r) == 0 {
		return errtypes.NotFound(key)
	}

	return msgpack.Unmarshal(r[0].Value, dest)
}

// Push writes src under key.
func (c kv) Push(key string, src interface{}) error {
	b, err := msgpack.Marshal(src)
	if err != nil {
		return err
	}
	return c.s.Write(
		&microstore.Record{Key: key, Value: b},
		microstore.WriteTo(c.database, c.table),
		microstore.WriteTTL(c.ttl),
	)
}

// List lists the keys in the bound database and table.
func (c kv) List(opts ...microstore.ListOption) ([]string, error) {
	o := []microstore.ListOption{
		microstore.ListFrom(c.database, c.table),
	}
	o = append(o, opts...)
	keys, err := c.s.List(o...)
	if err != nil {
		return nil, err
	}
	// the nats-js store hands keys back with the table prepended
	for i, key := range keys {
		keys[i] = strings.TrimPrefix(key, c.table)
	}
	return keys, nil
}

// Delete deletes the given key.
func (c kv) Delete(key string, opts ...microstore.DeleteOption) error {
	o := []microstore.DeleteOption{
		microstore.DeleteFrom(c.database, c.table),
	}
	o = append(o, opts...)
	return c.s.Delete(key, o...)
}

// Close closes the underlying store.
func (c kv) Close() error {
	return c.s.Close()
}
