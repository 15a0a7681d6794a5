// Copyright 2018-2023 CERN
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

// Package rgrpc provides the gRPC server run by the daemon and the
// registries that gRPC services and interceptors use to hook into it.
package rgrpc

import (
	"context"
	"io"
	"net"
	"sort"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	_ "google.golang.org/grpc/encoding/gzip" // register the gzip compressor
	"google.golang.org/grpc/reflection"

	"github.com/dwarfkeep/dwarfkeep/internal/grpc/interceptors/appctx"
	"github.com/dwarfkeep/dwarfkeep/internal/grpc/interceptors/log"
	"github.com/dwarfkeep/dwarfkeep/internal/grpc/interceptors/recovery"
	ctxpkg "github.com/dwarfkeep/dwarfkeep/pkg/appctx"
	"github.com/dwarfkeep/dwarfkeep/pkg/utils/cfg"
)

// UnaryInterceptors is a map of registered unary grpc interceptors.
var UnaryInterceptors = map[string]NewUnaryInterceptor{}

// StreamInterceptors is a map of registered streaming grpc interceptors.
var StreamInterceptors = map[string]NewStreamInterceptor{}

// NewUnaryInterceptor is the type that unary interceptors need to register.
type NewUnaryInterceptor func(m map[string]interface{}) (grpc.UnaryServerInterceptor, int, error)

// NewStreamInterceptor is the type that stream interceptors need to register.
type NewStreamInterceptor func(m map[string]interface{}) (grpc.StreamServerInterceptor, int, error)

// RegisterUnaryInterceptor registers a new unary interceptor.
func RegisterUnaryInterceptor(name string, newFunc NewUnaryInterceptor) {
	UnaryInterceptors[name] = newFunc
}

// RegisterStreamInterceptor registers a new stream interceptor.
func RegisterStreamInterceptor(name string, newFunc NewStreamInterceptor) {
	StreamInterceptors[name] = newFunc
}

// Services is a map of service name and its new function.
var Services = map[string]NewService{}

// Register registers a new gRPC service with name and new function.
func Register(name string, newFunc NewService) {
	Services[name] = newFunc
}

// NewService is the function that gRPC services need to register at init time.
// The context carries the server logger.
type NewService func(ctx context.Context, conf map[string]interface{}) (Service, error)

// Service represents a grpc service.
type Service interface {
	Register(ss *grpc.Server)
	io.Closer
	UnprotectedEndpoints() []string
}

type unaryInterceptorTriple struct {
	Name        string
	Priority    int
	Interceptor grpc.UnaryServerInterceptor
}

type streamInterceptorTriple struct {
	Name        string
	Priority    int
	Interceptor grpc.StreamServerInterceptor
}

// defaultMaxMsgSize fits whole debuginfo payloads in a single
// request or response.
const defaultMaxMsgSize = 1000 * 1000 * 1000

type config struct {
	Network             string                            `mapstructure:"network"`
	Address             string                            `mapstructure:"address"`
	ShutdownDeadline    int                               `mapstructure:"shutdown_deadline"`
	MaxRecvMsgSize      int                               `mapstructure:"max_recv_msg_size"`
	MaxSendMsgSize      int                               `mapstructure:"max_send_msg_size"`
	EnableReflection    bool                              `mapstructure:"enable_reflection"`
	EnabledServices     []string                          `mapstructure:"enabled_services"`
	Services            map[string]map[string]interface{} `mapstructure:"services"`
	EnabledInterceptors []string                          `mapstructure:"enabled_interceptors"`
	Interceptors        map[string]map[string]interface{} `mapstructure:"interceptors"`
}

func (c *config) ApplyDefaults() {
	if c.Network == "" {
		c.Network = "tcp"
	}
	if c.Address == "" {
		c.Address = "0.0.0.0:3333"
	}
	if c.ShutdownDeadline == 0 {
		c.ShutdownDeadline = 10
	}
	if c.MaxRecvMsgSize == 0 {
		c.MaxRecvMsgSize = defaultMaxMsgSize
	}
	if c.MaxSendMsgSize == 0 {
		c.MaxSendMsgSize = defaultMaxMsgSize
	}
}

// Server is a gRPC server.
type Server struct {
	s        *grpc.Server
	conf     *config
	listener net.Listener
	log      zerolog.Logger
	services map[string]Service
}

// New returns a new Server.
func New(m map[string]interface{}, log zerolog.Logger) (*Server, error) {
	var c config
	if err := cfg.Decode(m, &c); err != nil {
		return nil, errors.Wrap(err, "rgrpc: error decoding config")
	}

	server := &Server{conf: &c, log: log, services: map[string]Service{}}

	opts, err := server.getInterceptors()
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		grpc.MaxRecvMsgSize(c.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(c.MaxSendMsgSize),
	)

	server.s = grpc.NewServer(opts...)
	return server, nil
}

// Start starts the server.
func (s *Server) Start(ln net.Listener) error {
	if err := s.registerServices(); err != nil {
		err = errors.Wrap(err, "unable to register services")
		return err
	}

	s.listener = ln
	s.log.Info().Msgf("grpc server listening at %s:%s", s.Network(), s.Address())
	err := s.s.Serve(s.listener)
	if err != nil {
		err = errors.Wrap(err, "serve failed")
		return err
	}
	return nil
}

func (s *Server) isServiceEnabled(name string) bool {
	if _, ok := s.conf.Services[name]; ok {
		return true
	}
	for _, k := range s.conf.EnabledServices {
		if k == name {
			return true
		}
	}
	return false
}

func (s *Server) isInterceptorEnabled(name string) bool {
	if _, ok := s.conf.Interceptors[name]; ok {
		return true
	}
	for _, k := range s.conf.EnabledInterceptors {
		if k == name {
			return true
		}
	}
	return false
}

func (s *Server) registerServices() error {
	ctx := ctxpkg.WithLogger(context.Background(), &s.log)
	for name, newFunc := range Services {
		if !s.isServiceEnabled(name) {
			s.log.Info().Msgf("grpc service disabled: %s", name)
			continue
		}
		svc, err := newFunc(ctx, s.conf.Services[name])
		if err != nil {
			return errors.Wrapf(err, "rgrpc: error creating service %s", name)
		}
		svc.Register(s.s)
		s.services[name] = svc
		s.log.Info().Msgf("grpc service enabled: %s", name)
		for _, e := range svc.UnprotectedEndpoints() {
			s.log.Info().Msgf("unprotected endpoint: %s", e)
		}
	}

	if s.conf.EnableReflection {
		s.log.Info().Msg("rgrpc: grpc server reflection enabled")
		reflection.Register(s.s)
	}

	return nil
}

func (s *Server) cleanupServices() {
	for name, svc := range s.services {
		if err := svc.Close(); err != nil {
			s.log.Error().Err(err).Msgf("error closing service %q", name)
		} else {
			s.log.Info().Msgf("service %q correctly closed", name)
		}
	}
}

// Stop stops the server.
func (s *Server) Stop() error {
	s.cleanupServices()
	s.s.Stop()
	return nil
}

// GracefulStop drains the server, falling back to a hard stop when the
// shutdown deadline expires before all connections finish.
func (s *Server) GracefulStop() error {
	s.cleanupServices()
	done := make(chan struct{})
	go func() {
		s.s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Duration(s.conf.ShutdownDeadline) * time.Second):
		s.log.Warn().Msg("rgrpc: shutdown deadline reached, hard stopping")
		s.s.Stop()
	}
	return nil
}

// Network returns the network type.
func (s *Server) Network() string {
	return s.conf.Network
}

// Address returns the network address.
func (s *Server) Address() string {
	return s.conf.Address
}

func (s *Server) getInterceptors() ([]grpc.ServerOption, error) {
	unaryTriples := []*unaryInterceptorTriple{}
	for name, newFunc := range UnaryInterceptors {
		if s.isInterceptorEnabled(name) {
			inter, prio, err := newFunc(s.conf.Interceptors[name])
			if err != nil {
				return nil, err
			}
			triple := &unaryInterceptorTriple{
				Name:        name,
				Priority:    prio,
				Interceptor: inter,
			}
			unaryTriples = append(unaryTriples, triple)
		}
	}

	sort.SliceStable(unaryTriples, func(i, j int) bool {
		return unaryTriples[i].Priority < unaryTriples[j].Priority
	})

	unaryInterceptors := []grpc.UnaryServerInterceptor{}
	for _, t := range unaryTriples {
		unaryInterceptors = append(unaryInterceptors, t.Interceptor)
		s.log.Info().Msgf("chaining grpc unary interceptor %s with priority %d", t.Name, t.Priority)
	}
	unaryInterceptors = append([]grpc.UnaryServerInterceptor{
		appctx.NewUnary(s.log),
		log.NewUnary(),
		recovery.NewUnary(),
	}, unaryInterceptors...)
	unaryChain := grpc_middleware.ChainUnaryServer(unaryInterceptors...)

	streamTriples := []*streamInterceptorTriple{}
	for name, newFunc := range StreamInterceptors {
		if s.isInterceptorEnabled(name) {
			inter, prio, err := newFunc(s.conf.Interceptors[name])
			if err != nil {
				return nil, err
			}
			triple := &streamInterceptorTriple{
				Name:        name,
				Priority:    prio,
				Interceptor: inter,
			}
			streamTriples = append(streamTriples, triple)
		}
	}

	sort.SliceStable(streamTriples, func(i, j int) bool {
		return streamTriples[i].Priority < streamTriples[j].Priority
	})

	streamInterceptors := []grpc.StreamServerInterceptor{}
	for _, t := range streamTriples {
		streamInterceptors = append(streamInterceptors, t.Interceptor)
		s.log.Info().Msgf("chaining grpc stream interceptor %s with priority %d", t.Name, t.Priority)
	}
	streamInterceptors = append([]grpc.StreamServerInterceptor{
		appctx.NewStream(s.log),
		log.NewStream(),
		recovery.NewStream(),
	}, streamInterceptors...)
	streamChain := grpc_middleware.ChainStreamServer(streamInterceptors...)

	opts := []grpc.ServerOption{
		grpc.UnaryInterceptor(unaryChain),
		grpc.StreamInterceptor(streamChain),
	}

	return opts, nil
}
