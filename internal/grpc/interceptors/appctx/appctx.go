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

// Package appctx propagates the trace id and a request-scoped logger into
// handler contexts. It runs first in the interceptor chain.
package appctx

import (
	"context"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/dwarfkeep/dwarfkeep/pkg/appctx"
	"github.com/dwarfkeep/dwarfkeep/pkg/trace"
)

// TraceHeader is the incoming metadata key a caller may use to hand over
// its own trace id.
const TraceHeader = "dwarfkeep-grpc-trace-id"

func getContext(ctx context.Context, log zerolog.Logger) context.Context {
	traceID := trace.Get(ctx)
	if traceID == "" {
		if md, ok := metadata.FromIncomingContext(ctx); ok && md != nil {
			if val, ok := md[TraceHeader]; ok && len(val) > 0 && val[0] != "" {
				traceID = val[0]
			}
		}
	}
	if traceID == "" {
		traceID = trace.Generate()
	}

	ctx = trace.Set(ctx, traceID)
	sub := log.With().Str("traceid", traceID).Logger()
	return appctx.WithLogger(ctx, &sub)
}

// NewUnary returns a new unary interceptor that creates the application
// context.
func NewUnary(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		return handler(getContext(ctx, log), req)
	}
}

// NewStream returns a new server stream interceptor that creates the
// application context.
func NewStream(log zerolog.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := getContext(ss.Context(), log)
		return handler(srv, newWrappedServerStream(ctx, ss))
	}
}

func newWrappedServerStream(ctx context.Context, ss grpc.ServerStream) *wrappedServerStream {
	return &wrappedServerStream{ServerStream: ss, newCtx: ctx}
}

type wrappedServerStream struct {
	grpc.ServerStream
	newCtx context.Context
}

func (ss *wrappedServerStream) Context() context.Context {
	return ss.newCtx
}
