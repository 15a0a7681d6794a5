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

// Package debuginfopb holds the messages of the
// dwarfkeep.debuginfo.v1.DebuginfoService API.
//
// The types are maintained by hand and kept in sync with debuginfo.proto;
// they marshal to the canonical protobuf wire format (see wire.go), so
// protoc-generated clients in any language interoperate. Identifiers mirror
// protoc-gen-go output on purpose: a Go client can switch between this
// package and a generated one without code changes.
package debuginfopb

import "strconv"

// DebuginfoType distinguishes payload categories archived under the same
// build id.
type DebuginfoType int32

const (
	DebuginfoType_DEBUGINFO_TYPE_DEBUGINFO_UNSPECIFIED DebuginfoType = 0
	DebuginfoType_DEBUGINFO_TYPE_EXECUTABLE            DebuginfoType = 1
	DebuginfoType_DEBUGINFO_TYPE_SOURCES               DebuginfoType = 2
)

// DebuginfoType_name and DebuginfoType_value mirror the protoc-generated
// enum maps.
var (
	DebuginfoType_name = map[int32]string{
		0: "DEBUGINFO_TYPE_DEBUGINFO_UNSPECIFIED",
		1: "DEBUGINFO_TYPE_EXECUTABLE",
		2: "DEBUGINFO_TYPE_SOURCES",
	}
	DebuginfoType_value = map[string]int32{
		"DEBUGINFO_TYPE_DEBUGINFO_UNSPECIFIED": 0,
		"DEBUGINFO_TYPE_EXECUTABLE":            1,
		"DEBUGINFO_TYPE_SOURCES":               2,
	}
)

func (t DebuginfoType) String() string {
	if s, ok := DebuginfoType_name[int32(t)]; ok {
		return s
	}
	return strconv.Itoa(int(t))
}

// BuildIdType says how the build id was produced. Only GNU and unknown
// build ids are eligible for public debuginfod lookup.
type BuildIdType int32

const (
	BuildIdType_BUILD_ID_TYPE_UNKNOWN_UNSPECIFIED BuildIdType = 0
	BuildIdType_BUILD_ID_TYPE_GNU                 BuildIdType = 1
	BuildIdType_BUILD_ID_TYPE_HASH                BuildIdType = 2
	BuildIdType_BUILD_ID_TYPE_GO                  BuildIdType = 3
)

// BuildIdType_name and BuildIdType_value mirror the protoc-generated enum
// maps.
var (
	BuildIdType_name = map[int32]string{
		0: "BUILD_ID_TYPE_UNKNOWN_UNSPECIFIED",
		1: "BUILD_ID_TYPE_GNU",
		2: "BUILD_ID_TYPE_HASH",
		3: "BUILD_ID_TYPE_GO",
	}
	BuildIdType_value = map[string]int32{
		"BUILD_ID_TYPE_UNKNOWN_UNSPECIFIED": 0,
		"BUILD_ID_TYPE_GNU":                 1,
		"BUILD_ID_TYPE_HASH":                2,
		"BUILD_ID_TYPE_GO":                  3,
	}
)

func (t BuildIdType) String() string {
	if s, ok := BuildIdType_name[int32(t)]; ok {
		return s
	}
	return strconv.Itoa(int(t))
}

// UploadInstructions_UploadStrategy selects the transport for the payload.
type UploadInstructions_UploadStrategy int32

const (
	UploadInstructions_UPLOAD_STRATEGY_UNSPECIFIED UploadInstructions_UploadStrategy = 0
	UploadInstructions_UPLOAD_STRATEGY_GRPC        UploadInstructions_UploadStrategy = 1
	UploadInstructions_UPLOAD_STRATEGY_SIGNED_URL  UploadInstructions_UploadStrategy = 2
)

// UploadInstructions_UploadStrategy_name and _value mirror the
// protoc-generated enum maps.
var (
	UploadInstructions_UploadStrategy_name = map[int32]string{
		0: "UPLOAD_STRATEGY_UNSPECIFIED",
		1: "UPLOAD_STRATEGY_GRPC",
		2: "UPLOAD_STRATEGY_SIGNED_URL",
	}
	UploadInstructions_UploadStrategy_value = map[string]int32{
		"UPLOAD_STRATEGY_UNSPECIFIED": 0,
		"UPLOAD_STRATEGY_GRPC":        1,
		"UPLOAD_STRATEGY_SIGNED_URL":  2,
	}
)

func (s UploadInstructions_UploadStrategy) String() string {
	if n, ok := UploadInstructions_UploadStrategy_name[int32(s)]; ok {
		return n
	}
	return strconv.Itoa(int(s))
}

// ShouldInitiateUploadRequest probes whether an upload is needed. Hash may
// be empty: agents ask before hashing to avoid extracting debuginfo they
// will not upload.
type ShouldInitiateUploadRequest struct {
	BuildId     string
	Hash        string
	Force       bool
	Type        DebuginfoType
	BuildIdType BuildIdType
}

// ShouldInitiateUploadResponse carries the decision and its reason. The
// reason is a full sentence whose exact identity is part of the API.
type ShouldInitiateUploadResponse struct {
	ShouldInitiateUpload bool
	Reason               string
}

// InitiateUploadRequest asks for upload instructions.
type InitiateUploadRequest struct {
	BuildId     string
	Hash        string
	Size        int64
	Force       bool
	Type        DebuginfoType
	BuildIdType BuildIdType
}

// InitiateUploadResponse wraps the instructions for the accepted upload.
type InitiateUploadResponse struct {
	UploadInstructions *UploadInstructions
}

// GetUploadInstructions returns the instructions or nil.
func (m *InitiateUploadResponse) GetUploadInstructions() *UploadInstructions {
	if m == nil {
		return nil
	}
	return m.UploadInstructions
}

// UploadInstructions tell the agent how to transfer the payload.
type UploadInstructions struct {
	BuildId        string
	UploadId       string
	UploadStrategy UploadInstructions_UploadStrategy
	SignedUrl      string
	Type           DebuginfoType
}

// UploadRequest is one frame of the upload stream. Exactly one of Info and
// ChunkData is set: Info on the first frame, ChunkData on all others.
type UploadRequest struct {
	Info      *UploadInfo
	ChunkData []byte
}

// GetInfo returns the header of the frame or nil.
func (m *UploadRequest) GetInfo() *UploadInfo {
	if m == nil {
		return nil
	}
	return m.Info
}

// GetChunkData returns the chunk payload of the frame or nil.
func (m *UploadRequest) GetChunkData() []byte {
	if m == nil {
		return nil
	}
	return m.ChunkData
}

// UploadInfo is the header frame of an upload stream.
type UploadInfo struct {
	BuildId  string
	UploadId string
	Type     DebuginfoType
}

// UploadResponse reports the number of payload bytes the server ingested.
type UploadResponse struct {
	BuildId string
	Size    uint64
}

// MarkUploadFinishedRequest seals the upload identified by UploadId.
type MarkUploadFinishedRequest struct {
	BuildId  string
	UploadId string
	Type     DebuginfoType
}

// MarkUploadFinishedResponse is empty.
type MarkUploadFinishedResponse struct{}
