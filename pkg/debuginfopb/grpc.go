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

package debuginfopb

import (
	"context"

	"google.golang.org/grpc"
)

// DebuginfoService_ServiceName is the fully qualified name used on the wire.
const DebuginfoService_ServiceName = "dwarfkeep.debuginfo.v1.DebuginfoService"

const (
	DebuginfoService_ShouldInitiateUpload_FullMethodName = "/dwarfkeep.debuginfo.v1.DebuginfoService/ShouldInitiateUpload"
	DebuginfoService_InitiateUpload_FullMethodName       = "/dwarfkeep.debuginfo.v1.DebuginfoService/InitiateUpload"
	DebuginfoService_Upload_FullMethodName               = "/dwarfkeep.debuginfo.v1.DebuginfoService/Upload"
	DebuginfoService_MarkUploadFinished_FullMethodName   = "/dwarfkeep.debuginfo.v1.DebuginfoService/MarkUploadFinished"
)

// DebuginfoServiceClient is the client API for DebuginfoService.
type DebuginfoServiceClient interface {
	// ShouldInitiateUpload is the cheap, idempotent probe an agent issues
	// before extracting debuginfo from a binary.
	ShouldInitiateUpload(ctx context.Context, in *ShouldInitiateUploadRequest, opts ...grpc.CallOption) (*ShouldInitiateUploadResponse, error)
	// InitiateUpload re-runs the decision authoritatively and hands out
	// upload instructions.
	InitiateUpload(ctx context.Context, in *InitiateUploadRequest, opts ...grpc.CallOption) (*InitiateUploadResponse, error)
	// Upload streams the payload; the first frame carries the upload info,
	// all following frames carry chunks.
	Upload(ctx context.Context, opts ...grpc.CallOption) (DebuginfoService_UploadClient, error)
	// MarkUploadFinished seals a previously initiated upload.
	MarkUploadFinished(ctx context.Context, in *MarkUploadFinishedRequest, opts ...grpc.CallOption) (*MarkUploadFinishedResponse, error)
}

type debuginfoServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewDebuginfoServiceClient returns a client speaking DebuginfoService over cc.
func NewDebuginfoServiceClient(cc grpc.ClientConnInterface) DebuginfoServiceClient {
	return &debuginfoServiceClient{cc}
}

func (c *debuginfoServiceClient) ShouldInitiateUpload(ctx context.Context, in *ShouldInitiateUploadRequest, opts ...grpc.CallOption) (*ShouldInitiateUploadResponse, error) {
	out := new(ShouldInitiateUploadResponse)
	err := c.cc.Invoke(ctx, DebuginfoService_ShouldInitiateUpload_FullMethodName, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *debuginfoServiceClient) InitiateUpload(ctx context.Context, in *InitiateUploadRequest, opts ...grpc.CallOption) (*InitiateUploadResponse, error) {
	out := new(InitiateUploadResponse)
	err := c.cc.Invoke(ctx, DebuginfoService_InitiateUpload_FullMethodName, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *debuginfoServiceClient) Upload(ctx context.Context, opts ...grpc.CallOption) (DebuginfoService_UploadClient, error) {
	stream, err := c.cc.NewStream(ctx, &DebuginfoService_ServiceDesc.Streams[0], DebuginfoService_Upload_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	return &debuginfoServiceUploadClient{stream}, nil
}

func (c *debuginfoServiceClient) MarkUploadFinished(ctx context.Context, in *MarkUploadFinishedRequest, opts ...grpc.CallOption) (*MarkUploadFinishedResponse, error) {
	out := new(MarkUploadFinishedResponse)
	err := c.cc.Invoke(ctx, DebuginfoService_MarkUploadFinished_FullMethodName, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DebuginfoService_UploadClient is the client side of the upload stream.
type DebuginfoService_UploadClient interface {
	Send(*UploadRequest) error
	CloseAndRecv() (*UploadResponse, error)
	grpc.ClientStream
}

type debuginfoServiceUploadClient struct {
	grpc.ClientStream
}

func (x *debuginfoServiceUploadClient) Send(m *UploadRequest) error {
	return x.ClientStream.SendMsg(m)
}

func (x *debuginfoServiceUploadClient) CloseAndRecv() (*UploadResponse, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(UploadResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// DebuginfoServiceServer is the server API for DebuginfoService.
type DebuginfoServiceServer interface {
	ShouldInitiateUpload(context.Context, *ShouldInitiateUploadRequest) (*ShouldInitiateUploadResponse, error)
	InitiateUpload(context.Context, *InitiateUploadRequest) (*InitiateUploadResponse, error)
	Upload(DebuginfoService_UploadServer) error
	MarkUploadFinished(context.Context, *MarkUploadFinishedRequest) (*MarkUploadFinishedResponse, error)
}

// DebuginfoService_UploadServer is the server side of the upload stream.
type DebuginfoService_UploadServer interface {
	SendAndClose(*UploadResponse) error
	Recv() (*UploadRequest, error)
	grpc.ServerStream
}

type debuginfoServiceUploadServer struct {
	grpc.ServerStream
}

func (x *debuginfoServiceUploadServer) SendAndClose(m *UploadResponse) error {
	return x.ServerStream.SendMsg(m)
}

func (x *debuginfoServiceUploadServer) Recv() (*UploadRequest, error) {
	m := new(UploadRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RegisterDebuginfoServiceServer registers srv on s.
func RegisterDebuginfoServiceServer(s grpc.ServiceRegistrar, srv DebuginfoServiceServer) {
	s.RegisterService(&DebuginfoService_ServiceDesc, srv)
}

func _DebuginfoService_ShouldInitiateUpload_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ShouldInitiateUploadRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DebuginfoServiceServer).ShouldInitiateUpload(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: DebuginfoService_ShouldInitiateUpload_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DebuginfoServiceServer).ShouldInitiateUpload(ctx, req.(*ShouldInitiateUploadRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _DebuginfoService_InitiateUpload_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(InitiateUploadRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DebuginfoServiceServer).InitiateUpload(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: DebuginfoService_InitiateUpload_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DebuginfoServiceServer).InitiateUpload(ctx, req.(*InitiateUploadRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _DebuginfoService_Upload_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(DebuginfoServiceServer).Upload(&debuginfoServiceUploadServer{stream})
}

func _DebuginfoService_MarkUploadFinished_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(MarkUploadFinishedRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DebuginfoServiceServer).MarkUploadFinished(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: DebuginfoService_MarkUploadFinished_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DebuginfoServiceServer).MarkUploadFinished(ctx, req.(*MarkUploadFinishedRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// DebuginfoService_ServiceDesc is the grpc.ServiceDesc for DebuginfoService.
var DebuginfoService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: DebuginfoService_ServiceName,
	HandlerType: (*DebuginfoServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ShouldInitiateUpload",
			Handler:    _DebuginfoService_ShouldInitiateUpload_Handler,
		},
		{
			MethodName: "InitiateUpload",
			Handler:    _DebuginfoService_InitiateUpload_Handler,
		},
		{
			MethodName: "MarkUploadFinished",
			Handler:    _DebuginfoService_MarkUploadFinished_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Upload",
			Handler:       _DebuginfoService_Upload_Handler,
			ClientStreams: true,
		},
	},
	Metadata: "debuginfo.proto",
}
