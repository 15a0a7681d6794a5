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

// Package debuginfo implements the dwarfkeep.debuginfo.v1.DebuginfoService
// upload coordinator: it decides whether an agent should upload debuginfo
// for a build id, hands out upload ids, ingests the payload stream into the
// bucket and seals finished uploads in the metadata store.
package debuginfo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dwarfkeep/dwarfkeep/pkg/appctx"
	"github.com/dwarfkeep/dwarfkeep/pkg/bucket"
	bucketregistry "github.com/dwarfkeep/dwarfkeep/pkg/bucket/registry"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfo/metadata"
	metadataregistry "github.com/dwarfkeep/dwarfkeep/pkg/debuginfo/metadata/registry"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfod"
	"github.com/dwarfkeep/dwarfkeep/pkg/debuginfopb"
	"github.com/dwarfkeep/dwarfkeep/pkg/errtypes"
	"github.com/dwarfkeep/dwarfkeep/pkg/rgrpc"
	"github.com/dwarfkeep/dwarfkeep/pkg/utils/cfg"
)

func init() {
	rgrpc.Register("debuginfo", New)
}

// staleGrace absorbs clock skew and a slow final chunk before an
// in-progress upload may be taken over.
const staleGrace = 2 * time.Minute

type conf struct {
	// MaxUploadDuration is the accepted upload window in seconds. An
	// Uploading record older than this plus the grace period is stale.
	MaxUploadDuration int   `mapstructure:"max_upload_duration"`
	MaxUploadSize     int64 `mapstructure:"max_upload_size"`

	MetadataDriver  string                            `mapstructure:"metadata_driver"`
	MetadataDrivers map[string]map[string]interface{} `mapstructure:"metadata_drivers"`
	BucketDriver    string                            `mapstructure:"bucket_driver"`
	BucketDrivers   map[string]map[string]interface{} `mapstructure:"bucket_drivers"`
	Debuginfod      map[string]interface{}            `mapstructure:"debuginfod"`
}

func (c *conf) ApplyDefaults() {
	if c.MaxUploadDuration == 0 {
		c.MaxUploadDuration = 900
	}
	if c.MaxUploadSize == 0 {
		c.MaxUploadSize = 1000 * 1000 * 1000
	}
	if c.MetadataDriver == "" {
		c.MetadataDriver = "memory"
	}
	if c.BucketDriver == "" {
		c.BucketDriver = "memory"
	}
}

type service struct {
	conf              *conf
	meta              metadata.Store
	bkt               bucket.Bucket
	dcl               debuginfod.Client
	maxUploadDuration time.Duration
}

// New returns a new DebuginfoService coordinator.
func New(ctx context.Context, m map[string]interface{}) (rgrpc.Service, error) {
	var c conf
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

	return &service{
		conf:              &c,
		meta:              meta,
		bkt:               bkt,
		dcl:               dcl,
		maxUploadDuration: time.Duration(c.MaxUploadDuration) * time.Second,
	}, nil
}

func getMetadataStore(c *conf) (metadata.Store, error) {
	if f, ok := metadataregistry.NewFuncs[c.MetadataDriver]; ok {
		return f(c.MetadataDrivers[c.MetadataDriver])
	}
	return nil, fmt.Errorf("debuginfo: metadata driver not found: %s", c.MetadataDriver)
}

func getBucket(c *conf) (bucket.Bucket, error) {
	if f, ok := bucketregistry.NewFuncs[c.BucketDriver]; ok {
		return f(c.BucketDrivers[c.BucketDriver])
	}
	return nil, fmt.Errorf("debuginfo: bucket driver not found: %s", c.BucketDriver)
}

func (s *service) Close() error {
	return nil
}

func (s *service) UnprotectedEndpoints() []string {
	return []string{
		debuginfopb.DebuginfoService_ShouldInitiateUpload_FullMethodName,
		debuginfopb.DebuginfoService_InitiateUpload_FullMethodName,
		debuginfopb.DebuginfoService_Upload_FullMethodName,
		debuginfopb.DebuginfoService_MarkUploadFinished_FullMethodName,
	}
}

func (s *service) Register(ss *grpc.Server) {
	debuginfopb.RegisterDebuginfoServiceServer(ss, s)
}

func validateBuildID(id string) error {
	if len(id) <= 2 {
		return status.Error(codes.InvalidArgument, "unexpectedly short input")
	}
	return nil
}

// decision builds the response and counts it. Every decision path funnels
// through here so the metric covers the probe RPC and the re-check inside
// InitiateUpload alike.
func decision(should bool, reason string) *debuginfopb.ShouldInitiateUploadResponse {
	decisionsTotal.WithLabelValues(strconv.FormatBool(should), reasonLabel(reason)).Inc()
	return &debuginfopb.ShouldInitiateUploadResponse{
		ShouldInitiateUpload: should,
		Reason:               reason,
	}
}

// ShouldInitiateUpload returns whether an upload should be initiated for
// the given build id. Probing first lets agents skip extracting debuginfo
// from binaries nobody needs.
func (s *service) ShouldInitiateUpload(ctx context.Context, req *debuginfopb.ShouldInitiateUploadRequest) (*debuginfopb.ShouldInitiateUploadResponse, error) {
	if err := validateBuildID(req.BuildId); err != nil {
		return nil, err
	}

	d, err := s.meta.Fetch(ctx, req.BuildId, req.Type)
	if err != nil {
		if _, ok := err.(errtypes.NotFound); ok {
			return s.handleNewBuildID(ctx, req)
		}
		return nil, status.Errorf(codes.Internal, "failed to fetch metadata: %v", err)
	}

	return s.handleExistingDebuginfo(req, d)
}

func (s *service) handleNewBuildID(ctx context.Context, req *debuginfopb.ShouldInitiateUploadRequest) (*debuginfopb.ShouldInitiateUploadResponse, error) {
	// only GNU build ids stand a chance of living on a public mirror
	if req.BuildIdType != debuginfopb.BuildIdType_BUILD_ID_TYPE_GNU &&
		req.BuildIdType != debuginfopb.BuildIdType_BUILD_ID_TYPE_UNKNOWN_UNSPECIFIED {
		return decision(true, reasonFirstTimeSeen), nil
	}

	source := s.dcl.Exists(ctx, req.BuildId)
	if source == "" {
		return decision(true, reasonFirstTimeSeen), nil
	}

	if err := s.meta.MarkAsDebuginfodSource(ctx, source, req.BuildId, req.Type); err != nil {
		appctx.GetLogger(ctx).Error().Err(err).
			Str("buildid", req.BuildId).
			Msg("error recording debuginfod source")
	}
	return decision(false, reasonDebuginfoInDebuginfod), nil
}

func (s *service) handleExistingDebuginfo(req *debuginfopb.ShouldInitiateUploadRequest, d *metadata.Debuginfo) (*debuginfopb.ShouldInitiateUploadResponse, error) {
	switch d.Source {
	case metadata.SourceDebuginfod:
		return s.handleDebuginfodSource(d)
	case metadata.SourceUpload:
		return s.handleUploadSource(req, d)
	default:
		return nil, status.Error(codes.Internal, "Inconsistent metadata: unknown source")
	}
}

// handleDebuginfodSource always asks for the upload: bytes held locally
// can be served even when the mirror goes away.
func (s *service) handleDebuginfodSource(d *metadata.Debuginfo) (*debuginfopb.ShouldInitiateUploadResponse, error) {
	if !d.IsValid() {
		return decision(true, reasonDebuginfodInvalid), nil
	}
	return decision(true, reasonDebuginfodSource), nil
}

func (s *service) handleUploadSource(req *debuginfopb.ShouldInitiateUploadRequest, d *metadata.Debuginfo) (*debuginfopb.ShouldInitiateUploadResponse, error) {
	if d.Upload == nil {
		return nil, status.Error(codes.Internal, "Inconsistent metadata: missing upload info")
	}

	switch d.Upload.State {
	case metadata.StateUploading:
		return s.handleUploadingState(d.Upload)
	case metadata.StateUploaded:
		return s.handleUploadedState(req, d)
	default:
		return nil, status.Error(codes.Internal, "Inconsistent metadata: unknown upload state")
	}
}

func (s *service) handleUploadingState(u *metadata.Upload) (*debuginfopb.ShouldInitiateUploadResponse, error) {
	if s.isUploadStale(u) {
		return decision(true, reasonUploadStale), nil
	}
	return decision(false, reasonUploadInProgress), nil
}

func (s *service) handleUploadedState(req *debuginfopb.ShouldInitiateUploadRequest, d *metadata.Debuginfo) (*debuginfopb.ShouldInitiateUploadResponse, error) {
	if !d.IsValid() {
		// recovery path: replacement bytes are welcome unless they hash
		// to the same invalid payload
		if req.Hash == "" {
			return decision(true, reasonDebuginfoInvalid), nil
		}
		if d.Upload.Hash == req.Hash {
			return decision(false, reasonDebuginfoEqual), nil
		}
		return decision(true, reasonDebuginfoNotEqual), nil
	}

	if req.Force {
		return decision(true, reasonDebuginfoAlreadyExistsButForced), nil
	}
	if d.Upload.Hash == req.Hash {
		return decision(false, reasonDebuginfoEqual), nil
	}
	return decision(false, reasonDebuginfoAlreadyExists), nil
}

func (s *service) isUploadStale(u *metadata.Upload) bool {
	if u.StartedAt.IsZero() {
		return false
	}
	return u.StartedAt.Add(s.maxUploadDuration + staleGrace).Before(time.Now())
}

// InitiateUpload re-runs the decision to defend against probes gone stale,
// then hands out a fresh upload id and marks the record as uploading.
func (s *service) InitiateUpload(ctx context.Context, req *debuginfopb.InitiateUploadRequest) (*debuginfopb.InitiateUploadResponse, error) {
	if req.Hash == "" {
		return nil, status.Error(codes.InvalidArgument, "Hash is empty")
	}
	if req.Size == 0 {
		return nil, status.Error(codes.InvalidArgument, "Size is zero")
	}

	should, err := s.ShouldInitiateUpload(ctx, &debuginfopb.ShouldInitiateUploadRequest{
		BuildId:     req.BuildId,
		Hash:        req.Hash,
		Force:       req.Force,
		Type:        req.Type,
		BuildIdType: req.BuildIdType,
	})
	if err != nil {
		return nil, err
	}

	if !should.ShouldInitiateUpload {
		if strings.EqualFold(should.Reason, reasonDebuginfoEqual) {
			return nil, status.Error(codes.AlreadyExists, "Debuginfo already exists")
		}
		return nil, status.Errorf(codes.FailedPrecondition, "upload should not have been attempted to be initiated, a previous check should have failed with %s", should.Reason)
	}

	if req.Size > s.conf.MaxUploadSize {
		return nil, status.Errorf(codes.InvalidArgument, "Upload size %d exceeds the maximum allowed size %d", req.Size, s.conf.MaxUploadSize)
	}

	uploadID := ulid.Make().String()
	if err := s.meta.MarkAsUploading(ctx, req.BuildId, uploadID, req.Hash, req.Type, time.Now()); err != nil {
		return nil, status.Errorf(codes.Internal, "Failed to mark metadata as uploading. details: %v", err)
	}

	uploadsInitiatedTotal.Inc()
	appctx.GetLogger(ctx).Debug().
		Str("buildid", req.BuildId).
		Str("uploadid", uploadID).
		Int64("size", req.Size).
		Msg("upload initiated")

	return &debuginfopb.InitiateUploadResponse{
		UploadInstructions: &debuginfopb.UploadInstructions{
			UploadId:       uploadID,
			BuildId:        req.BuildId,
			UploadStrategy: debuginfopb.UploadInstructions_UPLOAD_STRATEGY_GRPC,
			SignedUrl:      "",
			Type:           req.Type,
		},
	}, nil
}

// Upload ingests the payload stream for a previously initiated upload. The
// first frame carries the header, all later frames carry chunk bytes.
func (s *service) Upload(stream debuginfopb.DebuginfoService_UploadServer) error {
	ctx := stream.Context()

	req, err := stream.Recv()
	if err == io.EOF {
		return status.Error(codes.InvalidArgument, "Empty request")
	}
	if err != nil {
		return status.Errorf(codes.Internal, "Failed to receive message: %v", err)
	}

	info := req.GetInfo()
	if info == nil {
		if req.GetChunkData() == nil {
			return status.Error(codes.InvalidArgument, "Missing data")
		}
		return status.Error(codes.InvalidArgument, "Invalid data type.")
	}
	if _, ok := debuginfopb.DebuginfoType_name[int32(info.Type)]; !ok {
		return status.Error(codes.InvalidArgument, "Invalid debuginfo type.")
	}
	if err := validateBuildID(info.BuildId); err != nil {
		return err
	}

	d, err := s.meta.Fetch(ctx, info.BuildId, info.Type)
	if err != nil {
		if _, ok := err.(errtypes.NotFound); ok {
			return status.Error(codes.FailedPrecondition, "metadata not found, this indicates that the upload was not previously initiated")
		}
		return status.Errorf(codes.Internal, "failed to fetch metadata: %v", err)
	}
	if d.Upload == nil {
		return status.Error(codes.FailedPrecondition, "metadata not found, this indicates that the upload was not previously initiated")
	}
	if d.Upload.ID != info.UploadId {
		return status.Error(codes.FailedPrecondition, "upload metadata not found, this indicates that the upload was not previously initiated")
	}

	var payload bytes.Buffer
	for {
		req, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			uploadsFailedTotal.Inc()
			return status.Errorf(codes.Internal, "Failed to receive message: %v", err)
		}
		chunk := req.GetChunkData()
		if chunk == nil {
			uploadsFailedTotal.Inc()
			return status.Error(codes.InvalidArgument, "provided no value or invalid data")
		}
		payload.Write(chunk)
	}

	size := payload.Len()
	if err := s.bkt.Put(ctx, info.UploadId, &payload); err != nil {
		uploadsFailedTotal.Inc()
		return status.Errorf(codes.Internal, "Failed to store debuginfo: %v", err)
	}

	uploadedBytesTotal.Add(float64(size))
	appctx.GetLogger(ctx).Debug().
		Str("buildid", info.BuildId).
		Str("uploadid", info.UploadId).
		Int("size", size).
		Msg("debuginfo payload stored")

	return stream.SendAndClose(&debuginfopb.UploadResponse{
		BuildId: info.BuildId,
		Size:    uint64(size),
	})
}

// MarkUploadFinished seals the upload identified by the upload id.
func (s *service) MarkUploadFinished(ctx context.Context, req *debuginfopb.MarkUploadFinishedRequest) (*debuginfopb.MarkUploadFinishedResponse, error) {
	if err := validateBuildID(req.BuildId); err != nil {
		return nil, err
	}

	if err := s.meta.MarkAsUploaded(ctx, req.BuildId, req.UploadId, req.Type, time.Now()); err != nil {
		if _, ok := err.(errtypes.NotFound); ok {
			return nil, status.Error(codes.FailedPrecondition, "upload metadata not found, this indicates that the upload was not previously initiated")
		}
		return nil, status.Errorf(codes.Internal, "Failed to mark metadata as uploaded. details: %v", err)
	}

	uploadsFinishedTotal.Inc()
	return &debuginfopb.MarkUploadFinishedResponse{}, nil
}
