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

// Package debuginfod probes upstream debuginfod mirrors for debuginfo by
// build id, speaking the /buildid/<id>/debuginfo protocol.
package debuginfod

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bluele/gcache"
	"github.com/pkg/errors"

	"github.com/dwarfkeep/dwarfkeep/pkg/appctx"
	"github.com/dwarfkeep/dwarfkeep/pkg/errtypes"
	"github.com/dwarfkeep/dwarfkeep/pkg/httpclient"
	"github.com/dwarfkeep/dwarfkeep/pkg/utils/cfg"
)

// Client asks upstream debuginfod mirrors about build ids.
type Client interface {
	// Exists returns the base URL of the first configured upstream that
	// serves the build id, or the empty string when none does. Upstream
	// failures degrade to "not found": an unreachable mirror must never
	// block an upload decision.
	Exists(ctx context.Context, buildID string) string

	// Get streams the debuginfo for buildID from the given upstream.
	// It returns errtypes.NotFound when the upstream answers 404.
	Get(ctx context.Context, upstream, buildID string) (io.ReadCloser, error)
}

type config struct {
	// Upstreams are probed in order; the first hit wins.
	Upstreams []string `mapstructure:"upstreams"`
	// Timeout bounds a single probe or download, in seconds.
	Timeout int `mapstructure:"timeout"`
	// CacheSize caps the number of cached existence answers.
	CacheSize int `mapstructure:"cache_size"`
	// CacheTTL is the lifetime of a cached answer, in seconds. Misses are
	// cached too, so agents hammering an unknown build id stay cheap.
	CacheTTL int `mapstructure:"cache_ttl"`
}

func (c *config) ApplyDefaults() {
	if len(c.Upstreams) == 0 {
		c.Upstreams = []string{"https://debuginfod.elfutils.org"}
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.CacheSize == 0 {
		c.CacheSize = 10000
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 3600
	}
}

type client struct {
	conf   *config
	httpcl *httpclient.Client
	// exists caches buildID -> source URL ("" for a miss).
	exists gcache.Cache
}

// New returns a Client probing the configured upstreams.
func New(m map[string]interface{}) (Client, error) {
	var c config
	if err := cfg.Decode(m, &c); err != nil {
		return nil, err
	}

	return &client{
		conf:   &c,
		httpcl: httpclient.New(httpclient.Timeout(time.Duration(c.Timeout) * time.Second)),
		exists: gcache.New(c.CacheSize).LFU().Build(),
	}, nil
}

func debuginfoURL(upstream, buildID string) string {
	return fmt.Sprintf("%s/buildid/%s/debuginfo", strings.TrimSuffix(upstream, "/"), buildID)
}

func (c *client) Exists(ctx context.Context, buildID string) string {
	if v, err := c.exists.Get(buildID); err == nil {
		return v.(string)
	}

	source := c.probe(ctx, buildID)
	ttl := time.Duration(c.conf.CacheTTL) * time.Second
	if err := c.exists.SetWithExpire(buildID, source, ttl); err != nil {
		appctx.GetLogger(ctx).Error().Err(err).Msg("debuginfod: error caching existence answer")
	}
	return source
}

func (c *client) probe(ctx context.Context, buildID string) string {
	log := appctx.GetLogger(ctx)
	for _, upstream := range c.conf.Upstreams {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, debuginfoURL(upstream, buildID), nil)
		if err != nil {
			log.Error().Err(err).Str("upstream", upstream).Msg("debuginfod: error creating probe request")
			continue
		}

		res, err := c.httpcl.Do(req)
		if err != nil {
			log.Warn().Err(err).Str("upstream", upstream).Msg("debuginfod: probe failed")
			continue
		}
		res.Body.Close()

		if res.StatusCode == http.StatusOK {
			return upstream
		}
	}
	return ""
}

func (c *client) Get(ctx context.Context, upstream, buildID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, debuginfoURL(upstream, buildID), nil)
	if err != nil {
		return nil, errors.Wrap(err, "debuginfod: error creating download request")
	}

	res, err := c.httpcl.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "debuginfod: error downloading debuginfo")
	}

	switch res.StatusCode {
	case http.StatusOK:
		return res.Body, nil
	case http.StatusNotFound:
		res.Body.Close()
		return nil, errtypes.NotFound(buildID)
	default:
		res.Body.Close()
		return nil, errors.Errorf("debuginfod: upstream %s answered %s", upstream, res.Status)
	}
}
