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

package debuginfod

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dwarfkeep/dwarfkeep/pkg/errtypes"
)

func newClient(t *testing.T, upstreams ...string) Client {
	t.Helper()
	c, err := New(map[string]interface{}{"upstreams": upstreams})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}
	return c
}

func TestExistsProbesUpstreamsInOrder(t *testing.T) {
	miss := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer miss.Close()

	probed := ""
	hit := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected a HEAD probe, got %s", r.Method)
		}
		if ua := r.Header.Get("User-Agent"); ua != "dwarfkeep" {
			t.Errorf("unexpected user agent %q", ua)
		}
		probed = r.URL.Path
	}))
	defer hit.Close()

	c := newClient(t, miss.URL, hit.URL)

	if source := c.Exists(context.Background(), "aabbccdd"); source != hit.URL {
		t.Errorf("expected source %s, got %q", hit.URL, source)
	}
	if probed != "/buildid/aabbccdd/debuginfo" {
		t.Errorf("probed wrong path %q", probed)
	}
}

func TestExistsCachesAnswers(t *testing.T) {
	probes := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes++
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)

	for i := 0; i < 3; i++ {
		if source := c.Exists(context.Background(), "aabbccdd"); source != srv.URL {
			t.Fatalf("expected source %s, got %q", srv.URL, source)
		}
	}
	if probes != 1 {
		t.Errorf("expected a single probe, got %d", probes)
	}
}

func TestExistsCachesMisses(t *testing.T) {
	probes := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)

	for i := 0; i < 3; i++ {
		if source := c.Exists(context.Background(), "aabbccdd"); source != "" {
			t.Fatalf("expected no source, got %q", source)
		}
	}
	if probes != 1 {
		t.Errorf("expected a single probe, got %d", probes)
	}
}

func TestExistsDegradesWhenUpstreamIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := newClient(t, srv.URL)

	if source := c.Exists(context.Background(), "aabbccdd"); source != "" {
		t.Errorf("expected no source, got %q", source)
	}
}

func TestGetStreamsDebuginfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/buildid/aabbccdd/debuginfo" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("dwarf data"))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)

	rc, err := c.Get(context.Background(), srv.URL, "aabbccdd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("error reading body: %v", err)
	}
	if string(b) != "dwarf data" {
		t.Errorf("got body %q", string(b))
	}
}

func TestGetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)

	_, err := c.Get(context.Background(), srv.URL, "aabbccdd")
	if _, ok := err.(errtypes.NotFound); !ok {
		t.Errorf("expected errtypes.NotFound, got %v", err)
	}
}

func TestGetUpstreamFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)

	_, err := c.Get(context.Background(), srv.URL, "aabbccdd")
	if err == nil {
		t.Fatal("expected an error")
	}
	if _, ok := err.(errtypes.NotFound); ok {
		t.Error("a server fault must not look like a miss")
	}
}
