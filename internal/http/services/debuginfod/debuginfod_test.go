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
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/dwarfkeep/dwarfkeep/pkg/bucket"
	bucketmem "github.com/dwarfkeep/dwarfkeep/pkg/bucket/memory"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfo/fetcher"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfo/metadata"
	metamem "github.com/dwarfkeep/dwarfkeep/pkg/debuginfo/metadata/memory"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfod"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfopb"
	"github.com/dwarfkeep/dwarfkeep/pkg/errtypes"
)

type fakeUpstream struct {
	source  string
	payload string
	err     error
}

func (f *fakeUpstream) Exists(ctx context.Context, buildID string) string {
	return f.source
}

func (f *fakeUpstream) Get(ctx context.Context, upstream, buildID string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.source == "" || upstream != f.source {
		return nil, errtypes.NotFound(buildID)
	}
	return io.NopCloser(strings.NewReader(f.payload)), nil
}

func newService(t *testing.T, dcl debuginfod.Client) (*svc, metadata.Store, bucket.Bucket) {
	t.Helper()

	meta, err := metamem.New(nil)
	if err != nil {
		t.Fatalf("error creating metadata store: %v", err)
	}
	bkt, err := bucketmem.New(nil)
	if err != nil {
		t.Fatalf("error creating bucket: %v", err)
	}
	return &svc{
		conf: &config{Prefix: "debuginfod"},
		f:    fetcher.New(meta, bkt, dcl),
	}, meta, bkt
}

func seedUploaded(t *testing.T, meta metadata.Store, bkt bucket.Bucket, buildID string, typ debuginfopb.DebuginfoType, payload string) {
	t.Helper()
	ctx := context.Background()

	if err := meta.MarkAsUploading(ctx, buildID, "upload-1", "h1", typ, time.Now()); err != nil {
		t.Fatalf("error seeding record: %v", err)
	}
	if err := meta.MarkAsUploaded(ctx, buildID, "upload-1", typ, time.Now()); err != nil {
		t.Fatalf("error sealing record: %v", err)
	}
	if err := bkt.Put(ctx, "upload-1", strings.NewReader(payload)); err != nil {
		t.Fatalf("error writing payload: %v", err)
	}
}

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestServesUploadedDebuginfo(t *testing.T) {
	s, meta, bkt := newService(t, &fakeUpstream{})
	seedUploaded(t, meta, bkt, "deadbeef", debuginfopb.DebuginfoType_DEBUGINFO_TYPE_DEBUGINFO_UNSPECIFIED, "dwarf data")

	w := do(s.Handler(), http.MethodGet, "/buildid/deadbeef/debuginfo")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("unexpected content type %q", ct)
	}
	if w.Body.String() != "dwarf data" {
		t.Errorf("got body %q", w.Body.String())
	}
}

func TestServesExecutableSection(t *testing.T) {
	s, meta, bkt := newService(t, &fakeUpstream{})
	seedUploaded(t, meta, bkt, "deadbeef", debuginfopb.DebuginfoType_DEBUGINFO_TYPE_EXECUTABLE, "elf bytes")

	w := do(s.Handler(), http.MethodGet, "/buildid/deadbeef/executable")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "elf bytes" {
		t.Errorf("got body %q", w.Body.String())
	}
}

func TestRelaysDebuginfodSourcedPayloads(t *testing.T) {
	up := &fakeUpstream{source: "https://debuginfod.example", payload: "mirrored dwarf"}
	s, meta, _ := newService(t, up)

	typ := debuginfopb.DebuginfoType_DEBUGINFO_TYPE_DEBUGINFO_UNSPECIFIED
	if err := meta.MarkAsDebuginfodSource(context.Background(), up.source, "deadbeef", typ); err != nil {
		t.Fatalf("error seeding record: %v", err)
	}

	w := do(s.Handler(), http.MethodGet, "/buildid/deadbeef/debuginfo")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "mirrored dwarf" {
		t.Errorf("got body %q", w.Body.String())
	}
}

func TestUnknownBuildIDIs404(t *testing.T) {
	s, _, _ := newService(t, &fakeUpstream{})

	w := do(s.Handler(), http.MethodGet, "/buildid/deadbeef/debuginfo")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestInFlightUploadIs404(t *testing.T) {
	s, meta, _ := newService(t, &fakeUpstream{})

	typ := debuginfopb.DebuginfoType_DEBUGINFO_TYPE_DEBUGINFO_UNSPECIFIED
	if err := meta.MarkAsUploading(context.Background(), "deadbeef", "upload-1", "h1", typ, time.Now()); err != nil {
		t.Fatalf("error seeding record: %v", err)
	}

	w := do(s.Handler(), http.MethodGet, "/buildid/deadbeef/debuginfo")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestMalformedPathsAre404(t *testing.T) {
	s, _, _ := newService(t, &fakeUpstream{})

	for _, target := range []string{
		"/buildid/deadbeef/source",
		"/buildid/deadbeef",
		"/buildid//debuginfo",
		"/frobnicate",
	} {
		if w := do(s.Handler(), http.MethodGet, target); w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", target, w.Code)
		}
	}
}

func TestOnlyReadsAreAllowed(t *testing.T) {
	s, _, _ := newService(t, &fakeUpstream{})

	w := do(s.Handler(), http.MethodPost, "/buildid/deadbeef/debuginfo")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestHeadDoesNotStreamTheBody(t *testing.T) {
	s, meta, bkt := newService(t, &fakeUpstream{})
	seedUploaded(t, meta, bkt, "deadbeef", debuginfopb.DebuginfoType_DEBUGINFO_TYPE_DEBUGINFO_UNSPECIFIED, "dwarf data")

	w := do(s.Handler(), http.MethodHead, "/buildid/deadbeef/debuginfo")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("expected an empty body, got %q", w.Body.String())
	}
}

func TestBackendFaultIs500(t *testing.T) {
	up := &fakeUpstream{source: "https://debuginfod.example", err: errors.New("upstream exploded")}
	s, meta, _ := newService(t, up)

	typ := debuginfopb.DebuginfoType_DEBUGINFO_TYPE_DEBUGINFO_UNSPECIFIED
	if err := meta.MarkAsDebuginfodSource(context.Background(), up.source, "deadbeef", typ); err != nil {
		t.Fatalf("error seeding record: %v", err)
	}

	w := do(s.Handler(), http.MethodGet, "/buildid/deadbeef/debuginfo")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}
