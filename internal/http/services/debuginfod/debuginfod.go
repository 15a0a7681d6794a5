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

// Package debuginfod serves stored debuginfo over the debuginfod HTTP
// protocol: GET /buildid/<build id>/debuginfo and /executable. Payloads
// come from the bucket for uploaded records and are relayed from the
// recorded upstream for debuginfod-sourced ones.
package debuginfod

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dwarfkeep/dwarfkeep/pkg/appctx"
	"github.com/dwarfkeep/dwarfkeep/pkg/bucket"
	bucketregistry "github.com/dwarfkeep/dwarfkeep/pkg/bucket/registry"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfo/fetcher"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfo/metadata"
	metadataregistry "github.com/dwarfkeep/dwarfkeep/pkg/debuginfo/metadata/registry"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfod"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfopb"
	"github.com/dwarfkeep/dwarfkeep/pkg/errtypes"
	"github.com/dwarfkeep/dwarfkeep/pkg/rhttp/global"
	"github.com/dwarfkeep/dwarfkeep/pkg/utils/cfg"
)

func init() {
	global.Register("debuginfod", New)
}

type config struct {
	Prefix string `mapstructure:"prefix"`

	MetadataDriver  string                            `mapstructure:"metadata_driver"`
	MetadataDrivers map[string]map[string]interface{} `mapstructure:"metadata_drivers"`
	BucketDriver    string                            `mapstructure:"bucket_driver"`
	BucketDrivers   map[string]map[string]interface{} `mapstructure:"bucket_drivers"`
	Debuginfod      map[string]interface{}            `mapstructure:"debuginfod"`
}

func (c *config) ApplyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "debuginfod"
	}
	if c.MetadataDriver == "" {
		c.MetadataDriver = "memory"
	}
	if c.BucketDriver == "" {
		c.BucketDriver = "memory"
	}
}

type svc struct {
	conf *config
	f    *fetcher.Fetcher
}

// New returns a new debuginfod service. It must be configured with the
// same metadata and bucket drivers as the grpc coordinator so both ends
// see the same records.
func New(ctx context.Context, m map[string]interface{}) (global.Service, error) {
	var c config
	if err := cfg.Decode(m, &c); err != nil {
		return nil, err
	}

	meta, err := getMetadataStore(&c)
	if err != nil {
		return nil, err
	}

	bkt, err := getBucket(&c)
	if err != nil {
		return nil, err
	}

	dcl, err := debuginfod.New(c.Debuginfod)
	if err != nil {
		return nil, err
	}

	return &svc{
		conf: &c,
		f:    fetcher.New(meta, bkt, dcl),
	}, nil
}

func getMetadataStore(c *config) (metadata.Store, error) {
	if f, ok := metadataregistry.NewFuncs[c.MetadataDriver]; ok {
		return f(c.MetadataDrivers[c.MetadataDriver])
	}
	return nil, fmt.Errorf("debuginfod: metadata driver not found: %s", c.MetadataDriver)
}

func getBucket(c *config) (bucket.Bucket, error) {
	if f, ok := bucketregistry.NewFuncs[c.BucketDriver]; ok {
		return f(c.BucketDrivers[c.BucketDriver])
	}
	return nil, fmt.Errorf("debuginfod: bucket driver not found: %s", c.BucketDriver)
}

func (s *svc) Prefix() string {
	return s.conf.Prefix
}

func (s *svc) Close() error {
	return nil
}

func (s *svc) Unprotected() []string {
	return []string{"/"}
}

// sectionType maps the path section of the debuginfod protocol to the
// stored debuginfo type. Source files are not kept, so /source is absent.
func sectionType(section string) (debuginfopb.DebuginfoType, bool) {
	switch section {
	case "debuginfo":
		return debuginfopb.DebuginfoType_DEBUGINFO_TYPE_DEBUGINFO_UNSPECIFIED, true
	case "executable":
		return debuginfopb.DebuginfoType_DEBUGINFO_TYPE_EXECUTABLE, true
	default:
		return 0, false
	}
}

func (s *svc) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 3 || parts[0] != "buildid" || parts[1] == "" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		buildID := parts[1]

		typ, ok := sectionType(parts[2])
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		ctx := r.Context()
		log := appctx.GetLogger(ctx)

		rc, err := s.f.FetchDebuginfo(ctx, buildID, typ)
		if err != nil {
			if _, ok := err.(errtypes.NotFound); ok {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			log.Error().Err(err).Str("buildid", buildID).Msg("debuginfod: error fetching debuginfo")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		defer rc.Close()

		w.Header().Set("Content-Type", "application/octet-stream")
		if r.Method == http.MethodHead {
			return
		}

		if _, err := io.Copy(w, rc); err != nil {
			// the status line is already out; all we can do is log
			log.Error().Err(err).Str("buildid", buildID).Msg("debuginfod: error streaming debuginfo")
		}
	})
}
