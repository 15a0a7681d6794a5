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

// Package rhttp provides the HTTP server run by the daemon. Services
// register through pkg/rhttp/global and are routed by URL prefix.
package rhttp

import (
	"context"
	"net"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/dwarfkeep/dwarfkeep/pkg/appctx"
	"github.com/dwarfkeep/dwarfkeep/pkg/rhttp/global"
	"github.com/dwarfkeep/dwarfkeep/pkg/trace"
	"github.com/dwarfkeep/dwarfkeep/pkg/utils/cfg"
)

// TraceHeader is the HTTP header carrying the trace id across services.
const TraceHeader = "x-dwarfkeep-trace-id"

// middlewareTriple represents a middleware with the
// priority to be chained.
type middlewareTriple struct {
	Name       string
	Priority   int
	Middleware global.Middleware
}

type config struct {
	Network            string                            `mapstructure:"network"`
	Address            string                            `mapstructure:"address"`
	CertFile           string                            `mapstructure:"certfile"`
	KeyFile            string                            `mapstructure:"keyfile"`
	Services           map[string]map[string]interface{} `mapstructure:"services"`
	EnabledServices    []string                          `mapstructure:"enabled_services"`
	Middlewares        map[string]map[string]interface{} `mapstructure:"middlewares"`
	EnabledMiddlewares []string                          `mapstructure:"enabled_middlewares"`
}

func (c *config) ApplyDefaults() {
	if c.Network == "" {
		c.Network = "tcp"
	}
	if c.Address == "" {
		c.Address = "0.0.0.0:3334"
	}
}

// Server contains the server info.
type Server struct {
	httpServer  *http.Server
	conf        *config
	listener    net.Listener
	svcs        map[string]global.Service // map key is svc Prefix
	handlers    map[string]http.Handler
	middlewares []*middlewareTriple
	log         zerolog.Logger
}

// New returns a new server.
func New(m map[string]interface{}, log zerolog.Logger) (*Server, error) {
	var c config
	if err := cfg.Decode(m, &c); err != nil {
		return nil, errors.Wrap(err, "rhttp: error decoding config")
	}

	s := &Server{
		httpServer: &http.Server{},
		conf:       &c,
		svcs:       map[string]global.Service{},
		handlers:   map[string]http.Handler{},
		log:        log,
	}
	return s, nil
}

// Start starts the server.
func (s *Server) Start(ln net.Listener) error {
	if err := s.registerServices(); err != nil {
		return errors.Wrap(err, "rhttp: error registering services")
	}

	if err := s.registerMiddlewares(); err != nil {
		return errors.Wrap(err, "rhttp: error registering middlewares")
	}

	s.httpServer.Handler = s.getHandler()
	s.listener = ln

	if s.conf.CertFile != "" && s.conf.KeyFile != "" {
		s.log.Info().Msgf("https server listening at https://%s", s.listener.Addr())
		err := s.httpServer.ServeTLS(s.listener, s.conf.CertFile, s.conf.KeyFile)
		if err == nil || err == http.ErrServerClosed {
			return nil
		}
		return err
	}

	s.log.Info().Msgf("http server listening at http://%s", s.listener.Addr())
	err := s.httpServer.Serve(s.listener)
	if err == nil || err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the server.
func (s *Server) Stop() error {
	s.closeServices()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// GracefulStop gracefully stops the server.
func (s *Server) GracefulStop() error {
	s.closeServices()
	return s.httpServer.Shutdown(context.Background())
}

func (s *Server) closeServices() {
	for _, svc := range s.svcs {
		if err := svc.Close(); err != nil {
			s.log.Error().Err(err).Msgf("error closing service %q", svc.Prefix())
		} else {
			s.log.Info().Msgf("service %q correctly closed", svc.Prefix())
		}
	}
}

// Network return the network type.
func (s *Server) Network() string {
	return s.conf.Network
}

// Address returns the network address.
func (s *Server) Address() string {
	return s.conf.Address
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

func (s *Server) isMiddlewareEnabled(name string) bool {
	if _, ok := s.conf.Middlewares[name]; ok {
		return true
	}
	for _, k := range s.conf.EnabledMiddlewares {
		if k == name {
			return true
		}
	}
	return false
}

func (s *Server) registerServices() error {
	ctx := appctx.WithLogger(context.Background(), &s.log)
	for name, newFunc := range global.Services {
		if !s.isServiceEnabled(name) {
			s.log.Info().Msgf("http service disabled: %s", name)
			continue
		}
		svc, err := newFunc(ctx, s.conf.Services[name])
		if err != nil {
			return errors.Wrapf(err, "rhttp: error creating service %s", name)
		}
		s.handlers[svc.Prefix()] = svc.Handler()
		s.svcs[svc.Prefix()] = svc
		s.log.Info().Msgf("http service enabled: %s@/%s", name, svc.Prefix())
		for _, url := range getUnprotected(svc.Prefix(), svc.Unprotected()) {
			s.log.Info().Msgf("unprotected URL: %s", url)
		}
	}
	return nil
}

func (s *Server) registerMiddlewares() error {
	middlewares := []*middlewareTriple{}
	for name, newFunc := range global.NewMiddlewares {
		if !s.isMiddlewareEnabled(name) {
			continue
		}
		m, prio, err := newFunc(s.conf.Middlewares[name])
		if err != nil {
			return errors.Wrapf(err, "rhttp: error creating middleware %s", name)
		}
		middlewares = append(middlewares, &middlewareTriple{
			Name:       name,
			Priority:   prio,
			Middleware: m,
		})
		s.log.Info().Msgf("http middleware enabled: %s", name)
	}
	s.middlewares = middlewares
	return nil
}

func getUnprotected(prefix string, unprotected []string) []string {
	for i := range unprotected {
		unprotected[i] = path.Join("/", prefix, unprotected[i])
	}
	return unprotected
}

// clean the url putting a slash (/) at the beginning if it does not have it
// and removing the slashes at the end
// if the url is "/", the output is "".
func cleanURL(url string) string {
	if len(url) > 0 {
		if url[0] != '/' {
			url = "/" + url
		}
		url = strings.TrimRight(url, "/")
	}
	return url
}

func urlHasPrefix(url, prefix string) bool {
	url = cleanURL(url)
	prefix = cleanURL(prefix)

	partsURL := strings.Split(url, "/")
	partsPrefix := strings.Split(prefix, "/")

	if len(partsPrefix) > len(partsURL) {
		return false
	}

	for i, p := range partsPrefix {
		u := partsURL[i]
		if p != u {
			return false
		}
	}

	return true
}

func (s *Server) getHandlerLongestCommonURL(url string) (http.Handler, string, bool) {
	var match string

	for k := range s.handlers {
		if urlHasPrefix(url, k) && len(k) > len(match) {
			match = k
		}
	}

	h, ok := s.handlers[match]
	return h, match, ok
}

func getSubURL(url, prefix string) string {
	// pre cond: prefix is a prefix for url
	// example: url = "/api/v0/", prefix = "/api", res = "/v0"
	url = cleanURL(url)
	prefix = cleanURL(prefix)

	return url[len(prefix):]
}

func (s *Server) getHandler() http.Handler {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := s.handlers[r.URL.Path]; ok {
			s.log.Debug().Msgf("http routing: url=%s", r.URL.Path)
			r.URL.Path = "/"
			h.ServeHTTP(w, r)
			return
		}

		// find by longest common path
		if h, url, ok := s.getHandlerLongestCommonURL(r.URL.Path); ok {
			s.log.Debug().Msgf("http routing: url=%s", url)
			r.URL.Path = getSubURL(r.URL.Path, url)
			h.ServeHTTP(w, r)
			return
		}

		s.log.Debug().Msgf("http routing: url=%s svc=not-found", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})

	sort.SliceStable(s.middlewares, func(i, j int) bool {
		return s.middlewares[i].Priority > s.middlewares[j].Priority
	})

	handler := http.Handler(h)
	for _, triple := range s.middlewares {
		s.log.Info().Msgf("chaining http middleware %s with priority %d", triple.Name, triple.Priority)
		handler = triple.Middleware(handler)
	}

	// the appctx middleware is internal and always the outermost so every
	// request carries a logger and a trace id.
	handler = s.appctxMiddleware(handler)

	return handler
}

func (s *Server) appctxMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		t := trace.Get(ctx)
		if t == "" {
			t = r.Header.Get(TraceHeader)
			if t == "" {
				t = trace.Generate()
			}
			ctx = trace.Set(ctx, t)
		}

		sub := s.log.With().Str("traceid", t).Logger()
		ctx = appctx.WithLogger(ctx, &sub)
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}
