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

// Package log emits one access line per HTTP request.
package log

import (
	"net"
	"net/http"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/dwarfkeep/dwarfkeep/pkg/appctx"
	"github.com/dwarfkeep/dwarfkeep/pkg/rhttp/global"
)

const defaultPriority = 100

func init() {
	global.RegisterMiddleware("log", New)
}

type config struct {
	Priority int `mapstructure:"priority"`
}

// New returns a middleware that logs HTTP requests and responses.
func New(m map[string]interface{}) (global.Middleware, int, error) {
	c := &config{}
	if err := mapstructure.Decode(m, c); err != nil {
		return nil, 0, errors.Wrap(err, "log: error decoding config")
	}
	if c.Priority == 0 {
		c.Priority = defaultPriority
	}

	mw := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := &responseLogger{w: w, status: http.StatusOK}
			h.ServeHTTP(lw, r)
			writeLog(appctx.GetLogger(r.Context()), r, start, lw.status, lw.size)
		})
	}
	return mw, c.Priority, nil
}

func writeLog(log *zerolog.Logger, r *http.Request, start time.Time, status, size int) {
	end := time.Now()
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	var event *zerolog.Event
	switch {
	case status < 400:
		event = log.Info()
	case status < 500:
		event = log.Warn()
	default:
		event = log.Error()
	}

	event.Str("host", host).
		Str("method", r.Method).
		Str("uri", r.RequestURI).
		Str("user-agent", r.UserAgent()).
		Int("status", status).
		Int("size", size).
		Str("start", start.Format("02/Jan/2006:15:04:05 -0700")).
		Str("end", end.Format("02/Jan/2006:15:04:05 -0700")).
		Dur("time", end.Sub(start)).
		Msg("http")
}

// responseLogger wraps http.ResponseWriter and keeps track of the HTTP
// status code and body size.
type responseLogger struct {
	w      http.ResponseWriter
	status int
	size   int
}

func (l *responseLogger) Header() http.Header {
	return l.w.Header()
}

func (l *responseLogger) Write(b []byte) (int, error) {
	size, err := l.w.Write(b)
	l.size += size
	return size, err
}

func (l *responseLogger) WriteHeader(s int) {
	l.w.WriteHeader(s)
	l.status = s
}

func (l *responseLogger) Flush() {
	if f, ok := l.w.(http.Flusher); ok {
		f.Flush()
	}
}
