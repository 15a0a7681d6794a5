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

package debuginfo

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfo/metadata"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfopb"
	"github.com/dwarfkeep/dwarfkeep/pkg/errtypes"

	_ "github.com/dwarfkeep/dwarfkeep/pkg/bucket/memory"
	_ "github.com/dwarfkeep/dwarfkeep/pkg/debuginfo/metadata/memory"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeDebuginfod answers existence probes from a fixed map instead of
// hitting real mirrors.
type fakeDebuginfod struct {
	sources map[string]string
	payload map[string][]byte
}

func (f *fakeDebuginfod) Exists(ctx context.Context, buildID string) string {
	return f.sources[buildID]
}

func (f *fakeDebuginfod) Get(ctx context.Context, upstream, buildID string) (io.ReadCloser, error) {
	p, ok := f.payload[buildID]
	if !ok {
		return nil, errtypes.NotFound(buildID)
	}
	return io.NopCloser(bytes.NewReader(p)), nil
}

// uploadStream feeds queued frames to the Upload handler and captures the
// response it sends back.
type uploadStream struct {
	grpc.ServerStream
	ctx     context.Context
	reqs    []*debuginfopb.UploadRequest
	recvErr error
	resp    *debuginfopb.UploadResponse
}

func (f *uploadStream) Context() context.Context { return f.ctx }

func (f *uploadStream) Recv() (*debuginfopb.UploadRequest, error) {
	if len(f.reqs) == 0 {
		if f.recvErr != nil {
			return nil, f.recvErr
		}
		return nil, io.EOF
	}
	r := f.reqs[0]
	f.reqs = f.reqs[1:]
	return r, nil
}

func (f *uploadStream) SendAndClose(r *debuginfopb.UploadResponse) error {
	f.resp = r
	return nil
}

var _ = Describe("Debuginfo service", func() {
	const (
		buildID = "deadbeefcafe1234"
		mirror  = "https://mirror.example"
	)

	var (
		ctx context.Context
		s   *service
		dfd *fakeDebuginfod
		typ = debuginfopb.DebuginfoType_DEBUGINFO_TYPE_DEBUGINFO_UNSPECIFIED
	)

	probe := func(req *debuginfopb.ShouldInitiateUploadRequest) *debuginfopb.ShouldInitiateUploadResponse {
		res, err := s.ShouldInitiateUpload(ctx, req)
		Expect(err).ToNot(HaveOccurred())
		return res
	}

	seedUploaded := func(hash string) string {
		uploadID := "upload-0"
		Expect(s.meta.MarkAsUploading(ctx, buildID, uploadID, hash, typ, time.Now())).To(Succeed())
		Expect(s.meta.MarkAsUploaded(ctx, buildID, uploadID, typ, time.Now())).To(Succeed())
		return uploadID
	}

	markInvalid := func() {
		Expect(s.meta.SetQuality(ctx, buildID, typ, &metadata.Quality{NotValidELF: true})).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()

		svc, err := New(ctx, map[string]interface{}{
			"max_upload_duration": 60,
			"max_upload_size":     1024,
		})
		Expect(err).ToNot(HaveOccurred())

		var ok bool
		s, ok = svc.(*service)
		Expect(ok).To(BeTrue())

		dfd = &fakeDebuginfod{
			sources: map[string]string{},
			payload: map[string][]byte{},
		}
		s.dcl = dfd
	})

	Describe("New", func() {
		It("rejects unknown metadata drivers", func() {
			_, err := New(ctx, map[string]interface{}{"metadata_driver": "etcd"})
			Expect(err).To(MatchError(ContainSubstring("metadata driver not found: etcd")))
		})

		It("rejects unknown bucket drivers", func() {
			_, err := New(ctx, map[string]interface{}{"bucket_driver": "tape"})
			Expect(err).To(MatchError(ContainSubstring("bucket driver not found: tape")))
		})
	})

	Describe("UnprotectedEndpoints", func() {
		It("exposes every method without auth", func() {
			Expect(s.UnprotectedEndpoints()).To(ConsistOf(
				"/dwarfkeep.debuginfo.v1.DebuginfoService/ShouldInitiateUpload",
				"/dwarfkeep.debuginfo.v1.DebuginfoService/InitiateUpload",
				"/dwarfkeep.debuginfo.v1.DebuginfoService/Upload",
				"/dwarfkeep.debuginfo.v1.DebuginfoService/MarkUploadFinished",
			))
		})
	})

	Describe("ShouldInitiateUpload", func() {
		It("rejects short build ids", func() {
			_, err := s.ShouldInitiateUpload(ctx, &debuginfopb.ShouldInitiateUploadRequest{BuildId: "ab"})
			Expect(status.Code(err)).To(Equal(codes.InvalidArgument))
			Expect(status.Convert(err).Message()).To(Equal("unexpectedly short input"))
		})

		Context("when the build id was never seen", func() {
			It("asks for the upload when no mirror serves it", func() {
				res := probe(&debuginfopb.ShouldInitiateUploadRequest{
					BuildId:     buildID,
					BuildIdType: debuginfopb.BuildIdType_BUILD_ID_TYPE_GNU,
				})
				Expect(res.ShouldInitiateUpload).To(BeTrue())
				Expect(res.Reason).To(Equal(reasonFirstTimeSeen))
			})

			It("does not consult mirrors for non-GNU build ids", func() {
				dfd.sources[buildID] = mirror

				res := probe(&debuginfopb.ShouldInitiateUploadRequest{
					BuildId:     buildID,
					BuildIdType: debuginfopb.BuildIdType_BUILD_ID_TYPE_HASH,
				})
				Expect(res.ShouldInitiateUpload).To(BeTrue())
				Expect(res.Reason).To(Equal(reasonFirstTimeSeen))

				_, err := s.meta.Fetch(ctx, buildID, typ)
				Expect(err).To(HaveOccurred())
			})

			It("suppresses the upload and records the mirror on a debuginfod hit", func() {
				dfd.sources[buildID] = mirror

				res := probe(&debuginfopb.ShouldInitiateUploadRequest{
					BuildId:     buildID,
					BuildIdType: debuginfopb.BuildIdType_BUILD_ID_TYPE_GNU,
				})
				Expect(res.ShouldInitiateUpload).To(BeFalse())
				Expect(res.Reason).To(Equal(reasonDebuginfoInDebuginfod))

				d, err := s.meta.Fetch(ctx, buildID, typ)
				Expect(err).ToNot(HaveOccurred())
				Expect(d.Source).To(Equal(metadata.SourceDebuginfod))
				Expect(d.DebuginfodSource).To(Equal(mirror))
			})

			It("probes mirrors for build ids of unknown provenance", func() {
				dfd.sources[buildID] = mirror

				res := probe(&debuginfopb.ShouldInitiateUploadRequest{
					BuildId:     buildID,
					BuildIdType: debuginfopb.BuildIdType_BUILD_ID_TYPE_UNKNOWN_UNSPECIFIED,
				})
				Expect(res.ShouldInitiateUpload).To(BeFalse())
				Expect(res.Reason).To(Equal(reasonDebuginfoInDebuginfod))
			})
		})

		Context("when the record points at a mirror", func() {
			BeforeEach(func() {
				Expect(s.meta.MarkAsDebuginfodSource(ctx, mirror, buildID, typ)).To(Succeed())
			})

			It("still asks for the bytes so they are held locally", func() {
				res := probe(&debuginfopb.ShouldInitiateUploadRequest{BuildId: buildID})
				Expect(res.ShouldInitiateUpload).To(BeTrue())
				Expect(res.Reason).To(Equal(reasonDebuginfodSource))
			})

			It("asks for the bytes when the mirror copy is flagged invalid", func() {
				markInvalid()

				res := probe(&debuginfopb.ShouldInitiateUploadRequest{BuildId: buildID})
				Expect(res.ShouldInitiateUpload).To(BeTrue())
				Expect(res.Reason).To(Equal(reasonDebuginfodInvalid))
			})
		})

		Context("when an upload is in progress", func() {
			It("tells the agent to wait", func() {
				Expect(s.meta.MarkAsUploading(ctx, buildID, "upload-1", "h1", typ, time.Now())).To(Succeed())

				res := probe(&debuginfopb.ShouldInitiateUploadRequest{BuildId: buildID})
				Expect(res.ShouldInitiateUpload).To(BeFalse())
				Expect(res.Reason).To(Equal(reasonUploadInProgress))
			})

			It("lets a stale upload be retried", func() {
				Expect(s.meta.MarkAsUploading(ctx, buildID, "upload-1", "h1", typ, time.Now().Add(-time.Hour))).To(Succeed())

				res := probe(&debuginfopb.ShouldInitiateUploadRequest{BuildId: buildID})
				Expect(res.ShouldInitiateUpload).To(BeTrue())
				Expect(res.Reason).To(Equal(reasonUploadStale))
			})
		})

		Context("when an upload finished and the record is valid", func() {
			BeforeEach(func() {
				seedUploaded("h1")
			})

			It("declines a different payload", func() {
				res := probe(&debuginfopb.ShouldInitiateUploadRequest{BuildId: buildID, Hash: "h2"})
				Expect(res.ShouldInitiateUpload).To(BeFalse())
				Expect(res.Reason).To(Equal(reasonDebuginfoAlreadyExists))
			})

			It("declines the identical payload", func() {
				res := probe(&debuginfopb.ShouldInitiateUploadRequest{BuildId: buildID, Hash: "h1"})
				Expect(res.ShouldInitiateUpload).To(BeFalse())
				Expect(res.Reason).To(Equal(reasonDebuginfoEqual))
			})

			It("accepts a forced upload", func() {
				res := probe(&debuginfopb.ShouldInitiateUploadRequest{BuildId: buildID, Hash: "h2", Force: true})
				Expect(res.ShouldInitiateUpload).To(BeTrue())
				Expect(res.Reason).To(Equal(reasonDebuginfoAlreadyExistsButForced))
			})
		})

		Context("when an upload finished but the record is invalid", func() {
			BeforeEach(func() {
				seedUploaded("h1")
				markInvalid()
			})

			It("asks the agent to hash and retry when no hash is given", func() {
				res := probe(&debuginfopb.ShouldInitiateUploadRequest{BuildId: buildID})
				Expect(res.ShouldInitiateUpload).To(BeTrue())
				Expect(res.Reason).To(Equal(reasonDebuginfoInvalid))
			})

			It("declines the same bytes that already failed validation", func() {
				res := probe(&debuginfopb.ShouldInitiateUploadRequest{BuildId: buildID, Hash: "h1"})
				Expect(res.ShouldInitiateUpload).To(BeFalse())
				Expect(res.Reason).To(Equal(reasonDebuginfoEqual))
			})

			It("accepts replacement bytes", func() {
				res := probe(&debuginfopb.ShouldInitiateUploadRequest{BuildId: buildID, Hash: "h2"})
				Expect(res.ShouldInitiateUpload).To(BeTrue())
				Expect(res.Reason).To(Equal(reasonDebuginfoNotEqual))
			})
		})
	})

	Describe("isUploadStale", func() {
		It("never treats an unstamped upload as stale", func() {
			Expect(s.isUploadStale(&metadata.Upload{})).To(BeFalse())
		})

		It("keeps fresh uploads", func() {
			Expect(s.isUploadStale(&metadata.Upload{StartedAt: time.Now()})).To(BeFalse())
		})

		It("keeps uploads inside the window plus grace", func() {
			startedAt := time.Now().Add(-s.maxUploadDuration - staleGrace + 10*time.Second)
			Expect(s.isUploadStale(&metadata.Upload{StartedAt: startedAt})).To(BeFalse())
		})

		It("flags uploads past the window plus grace", func() {
			startedAt := time.Now().Add(-s.maxUploadDuration - staleGrace - 10*time.Second)
			Expect(s.isUploadStale(&metadata.Upload{StartedAt: startedAt})).To(BeTrue())
		})
	})

	Describe("InitiateUpload", func() {
		It("requires a hash", func() {
			_, err := s.InitiateUpload(ctx, &debuginfopb.InitiateUploadRequest{BuildId: buildID, Size: 10})
			Expect(status.Code(err)).To(Equal(codes.InvalidArgument))
			Expect(status.Convert(err).Message()).To(Equal("Hash is empty"))
		})

		It("requires a size", func() {
			_, err := s.InitiateUpload(ctx, &debuginfopb.InitiateUploadRequest{BuildId: buildID, Hash: "h1"})
			Expect(status.Code(err)).To(Equal(codes.InvalidArgument))
			Expect(status.Convert(err).Message()).To(Equal("Size is zero"))
		})

		It("hands out instructions and marks the record as uploading", func() {
			res, err := s.InitiateUpload(ctx, &debuginfopb.InitiateUploadRequest{
				BuildId: buildID,
				Hash:    "h1",
				Size:    100,
			})
			Expect(err).ToNot(HaveOccurred())

			in := res.GetUploadInstructions()
			Expect(in).ToNot(BeNil())
			Expect(in.BuildId).To(Equal(buildID))
			Expect(in.UploadId).ToNot(BeEmpty())
			Expect(in.UploadStrategy).To(Equal(debuginfopb.UploadInstructions_UPLOAD_STRATEGY_GRPC))
			Expect(in.SignedUrl).To(BeEmpty())

			d, err := s.meta.Fetch(ctx, buildID, typ)
			Expect(err).ToNot(HaveOccurred())
			Expect(d.Source).To(Equal(metadata.SourceUpload))
			Expect(d.Upload.ID).To(Equal(in.UploadId))
			Expect(d.Upload.Hash).To(Equal("h1"))
			Expect(d.Upload.State).To(Equal(metadata.StateUploading))
			Expect(d.Upload.StartedAt).ToNot(BeZero())
		})

		It("answers AlreadyExists for a payload the server already holds", func() {
			seedUploaded("h1")

			_, err := s.InitiateUpload(ctx, &debuginfopb.InitiateUploadRequest{
				BuildId: buildID,
				Hash:    "h1",
				Size:    100,
			})
			Expect(status.Code(err)).To(Equal(codes.AlreadyExists))
			Expect(status.Convert(err).Message()).To(Equal("Debuginfo already exists"))
		})

		It("refuses initiations the probe would have declined", func() {
			seedUploaded("h1")

			_, err := s.InitiateUpload(ctx, &debuginfopb.InitiateUploadRequest{
				BuildId: buildID,
				Hash:    "h2",
				Size:    100,
			})
			Expect(status.Code(err)).To(Equal(codes.FailedPrecondition))
			Expect(status.Convert(err).Message()).To(ContainSubstring(reasonDebuginfoAlreadyExists))
		})

		It("enforces the upload size limit", func() {
			_, err := s.InitiateUpload(ctx, &debuginfopb.InitiateUploadRequest{
				BuildId: buildID,
				Hash:    "h1",
				Size:    2048,
			})
			Expect(status.Code(err)).To(Equal(codes.InvalidArgument))
			Expect(status.Convert(err).Message()).To(Equal("Upload size 2048 exceeds the maximum allowed size 1024"))
		})

		It("mints a fresh upload id on a forced retry", func() {
			old := seedUploaded("h1")

			res, err := s.InitiateUpload(ctx, &debuginfopb.InitiateUploadRequest{
				BuildId: buildID,
				Hash:    "h2",
				Size:    100,
				Force:   true,
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.UploadInstructions.UploadId).ToNot(Equal(old))

			d, err := s.meta.Fetch(ctx, buildID, typ)
			Expect(err).ToNot(HaveOccurred())
			Expect(d.Upload.State).To(Equal(metadata.StateUploading))
			Expect(d.Upload.Hash).To(Equal("h2"))
		})

		It("fails a forced retry of the identical payload", func() {
			// The store refuses to overwrite an uploaded record with the
			// same hash, so forcing the same bytes surfaces as an internal
			// error rather than a silent re-upload.
			seedUploaded("h1")

			_, err := s.InitiateUpload(ctx, &debuginfopb.InitiateUploadRequest{
				BuildId: buildID,
				Hash:    "h1",
				Size:    100,
				Force:   true,
			})
			Expect(status.Code(err)).To(Equal(codes.Internal))
			Expect(status.Convert(err).Message()).To(ContainSubstring("Failed to mark metadata as uploading"))
		})
	})

	Describe("Upload", func() {
		initiate := func(hash string) string {
			res, err := s.InitiateUpload(ctx, &debuginfopb.InitiateUploadRequest{
				BuildId: buildID,
				Hash:    hash,
				Size:    100,
			})
			Expect(err).ToNot(HaveOccurred())
			return res.UploadInstructions.UploadId
		}

		infoFrame := func(uploadID string) *debuginfopb.UploadRequest {
			return &debuginfopb.UploadRequest{Info: &debuginfopb.UploadInfo{
				BuildId:  buildID,
				UploadId: uploadID,
				Type:     typ,
			}}
		}

		chunkFrame := func(p string) *debuginfopb.UploadRequest {
			return &debuginfopb.UploadRequest{ChunkData: []byte(p)}
		}

		It("rejects an empty stream", func() {
			err := s.Upload(&uploadStream{ctx: ctx})
			Expect(status.Code(err)).To(Equal(codes.InvalidArgument))
			Expect(status.Convert(err).Message()).To(Equal("Empty request"))
		})

		It("rejects a first frame without content", func() {
			err := s.Upload(&uploadStream{ctx: ctx, reqs: []*debuginfopb.UploadRequest{{}}})
			Expect(status.Code(err)).To(Equal(codes.InvalidArgument))
			Expect(status.Convert(err).Message()).To(Equal("Missing data"))
		})

		It("rejects a chunk as the first frame", func() {
			err := s.Upload(&uploadStream{ctx: ctx, reqs: []*debuginfopb.UploadRequest{chunkFrame("oops")}})
			Expect(status.Code(err)).To(Equal(codes.InvalidArgument))
			Expect(status.Convert(err).Message()).To(Equal("Invalid data type."))
		})

		It("rejects unknown debuginfo types", func() {
			frame := &debuginfopb.UploadRequest{Info: &debuginfopb.UploadInfo{
				BuildId:  buildID,
				UploadId: "upload-1",
				Type:     debuginfopb.DebuginfoType(42),
			}}
			err := s.Upload(&uploadStream{ctx: ctx, reqs: []*debuginfopb.UploadRequest{frame}})
			Expect(status.Code(err)).To(Equal(codes.InvalidArgument))
			Expect(status.Convert(err).Message()).To(Equal("Invalid debuginfo type."))
		})

		It("refuses uploads that were never initiated", func() {
			err := s.Upload(&uploadStream{ctx: ctx, reqs: []*debuginfopb.UploadRequest{infoFrame("upload-1")}})
			Expect(status.Code(err)).To(Equal(codes.FailedPrecondition))
			Expect(status.Convert(err).Message()).To(ContainSubstring("upload was not previously initiated"))
		})

		It("refuses streams carrying a superseded upload id", func() {
			initiate("h1")

			err := s.Upload(&uploadStream{ctx: ctx, reqs: []*debuginfopb.UploadRequest{infoFrame("stale-id")}})
			Expect(status.Code(err)).To(Equal(codes.FailedPrecondition))
			Expect(status.Convert(err).Message()).To(ContainSubstring("upload metadata not found"))
		})

		It("stores the chunks under the upload id", func() {
			uploadID := initiate("h1")

			stream := &uploadStream{ctx: ctx, reqs: []*debuginfopb.UploadRequest{
				infoFrame(uploadID),
				chunkFrame("hello "),
				chunkFrame("world"),
			}}
			Expect(s.Upload(stream)).To(Succeed())
			Expect(stream.resp).ToNot(BeNil())
			Expect(stream.resp.BuildId).To(Equal(buildID))
			Expect(stream.resp.Size).To(Equal(uint64(11)))

			rc, err := s.bkt.Get(ctx, uploadID)
			Expect(err).ToNot(HaveOccurred())
			defer rc.Close()
			data, err := io.ReadAll(rc)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(data)).To(Equal("hello world"))
		})

		It("rejects a second header frame in the middle of the stream", func() {
			uploadID := initiate("h1")

			stream := &uploadStream{ctx: ctx, reqs: []*debuginfopb.UploadRequest{
				infoFrame(uploadID),
				chunkFrame("hello "),
				infoFrame(uploadID),
			}}
			err := s.Upload(stream)
			Expect(status.Code(err)).To(Equal(codes.InvalidArgument))
			Expect(status.Convert(err).Message()).To(Equal("provided no value or invalid data"))
		})

		It("surfaces transport failures", func() {
			uploadID := initiate("h1")

			stream := &uploadStream{
				ctx:     ctx,
				reqs:    []*debuginfopb.UploadRequest{infoFrame(uploadID), chunkFrame("hello")},
				recvErr: errors.New("connection reset"),
			}
			err := s.Upload(stream)
			Expect(status.Code(err)).To(Equal(codes.Internal))
			Expect(status.Convert(err).Message()).To(ContainSubstring("connection reset"))
		})
	})

	Describe("MarkUploadFinished", func() {
		It("rejects short build ids", func() {
			_, err := s.MarkUploadFinished(ctx, &debuginfopb.MarkUploadFinishedRequest{BuildId: "ab"})
			Expect(status.Code(err)).To(Equal(codes.InvalidArgument))
		})

		It("refuses uploads that were never initiated", func() {
			_, err := s.MarkUploadFinished(ctx, &debuginfopb.MarkUploadFinishedRequest{
				BuildId:  buildID,
				UploadId: "upload-1",
			})
			Expect(status.Code(err)).To(Equal(codes.FailedPrecondition))
			Expect(status.Convert(err).Message()).To(ContainSubstring("upload was not previously initiated"))
		})

		It("seals the upload", func() {
			res, err := s.InitiateUpload(ctx, &debuginfopb.InitiateUploadRequest{
				BuildId: buildID,
				Hash:    "h1",
				Size:    100,
			})
			Expect(err).ToNot(HaveOccurred())
			uploadID := res.UploadInstructions.UploadId

			_, err = s.MarkUploadFinished(ctx, &debuginfopb.MarkUploadFinishedRequest{
				BuildId:  buildID,
				UploadId: uploadID,
			})
			Expect(err).ToNot(HaveOccurred())

			d, err := s.meta.Fetch(ctx, buildID, typ)
			Expect(err).ToNot(HaveOccurred())
			Expect(d.Upload.State).To(Equal(metadata.StateUploaded))
			Expect(d.Upload.FinishedAt).ToNot(BeZero())
		})
	})
})
