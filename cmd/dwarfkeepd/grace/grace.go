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

// Package grace supervises the daemon servers: it binds their listeners,
// traps signals and performs hot reloads by forking a child that inherits
// the open sockets, so in-flight uploads survive a restart.
package grace

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// fdEnvPrefix marks the env variables handing listener fds to a forked
// child: DWARFKEEP_FD_<SERVER>=<fd>.
const fdEnvPrefix = "DWARFKEEP_FD_"

// Addressable tells the watcher where a server wants to listen.
type Addressable interface {
	Network() string
	Address() string
}

// Server is the interface the gRPC and HTTP servers implement so the
// watcher can run and stop them.
type Server interface {
	Start(net.Listener) error
	Stop() error
	GracefulStop() error
	Addressable
}

// Watcher watches the daemon servers and coordinates restarts that
// preserve open network sockets.
type Watcher struct {
	log       zerolog.Logger
	graceful  bool
	ppid      int
	lns       map[string]net.Listener
	ss        map[string]Server
	pidFile   string
	childPIDs []int
}

// Option represent an option.
type Option func(w *Watcher)

// WithLogger adds a logger to the Watcher.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Watcher) {
		w.log = l
	}
}

// WithPIDFile specifies the pid file to use.
func WithPIDFile(fn string) Option {
	return func(w *Watcher) {
		w.pidFile = fn
	}
}

// NewWatcher creates a Watcher.
func NewWatcher(opts ...Option) *Watcher {
	w := &Watcher{
		log:      zerolog.Nop(),
		graceful: os.Getenv("GRACEFUL") == "true",
		ppid:     os.Getppid(),
		pidFile:  path.Join(os.TempDir(), "dwarfkeepd.pid"),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Exit exits the current process cleaning up existing pid files.
func (w *Watcher) Exit(errc int) {
	w.Clean()
	os.Exit(errc)
}

// Clean cleans up existing pid files.
func (w *Watcher) Clean() {
	err := w.clean()
	if err != nil {
		w.log.Warn().Err(err).Msg("error removing pid file")
	} else {
		w.log.Info().Msgf("pid file %q got removed", w.pidFile)
	}
}

func (w *Watcher) clean() error {
	// only remove the pid file if the pid was written by us
	filePID, err := w.readPID()
	if err != nil {
		return err
	}

	if filePID != os.Getpid() {
		// the pidfile may have been taken over by a forked child
		return fmt.Errorf("pid:%d in pidfile is different from pid:%d, it can be a leftover from a hard shutdown or that a reload was triggered", filePID, os.Getpid())
	}

	return os.Remove(w.pidFile)
}

func (w *Watcher) readPID() (int, error) {
	piddata, err := os.ReadFile(w.pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(string(piddata))
	if err != nil {
		return 0, err
	}
	return pid, nil
}

// GetProcessFromFile reads the pidfile and returns the running process or
// an error if the process or file are not available.
func GetProcessFromFile(pfile string) (*os.Process, error) {
	data, err := os.ReadFile(pfile)
	if err != nil {
		return nil, err
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return nil, err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return nil, err
	}

	return process, nil
}

// WritePID writes the pid to the configured pid file.
func (w *Watcher) WritePID() error {
	if piddata, err := os.ReadFile(w.pidFile); err == nil {
		if pid, err := strconv.Atoi(string(piddata)); err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				// a zero signal only checks for existence
				if err := process.Signal(syscall.Signal(0)); err == nil {
					if !w.graceful {
						return fmt.Errorf("pid already running: %d", pid)
					}

					if pid != w.ppid { // overwrite only the parent's pidfile
						return fmt.Errorf("pid %d is not this process parent", pid)
					}
				} else {
					w.log.Warn().Err(err).Msg("error sending zero kill signal to current process")
				}
			} else {
				w.log.Warn().Msgf("pid:%d not found", pid)
			}
		} else {
			w.log.Warn().Msg("error casting contents of pidfile to pid(int)")
		}
	}

	// the pidfile did not exist, belongs to our parent during a graceful
	// reload, or its process is gone
	err := os.WriteFile(w.pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0664)
	if err != nil {
		return err
	}
	w.log.Info().Msgf("pidfile saved at: %s", w.pidFile)
	return nil
}

// inherited wraps a listener recovered from a parent fd; closing it must
// close the fd too.
type inherited struct {
	f  *os.File
	ln net.Listener
}

func (i *inherited) Accept() (net.Conn, error) {
	return i.ln.Accept()
}

func (i *inherited) Close() error {
	if err := i.f.Close(); err != nil {
		return err
	}
	return i.ln.Close()
}

func (i *inherited) Addr() net.Addr {
	return i.ln.Addr()
}

// inheritedListeners recovers the listeners the parent handed over via
// DWARFKEEP_FD_<SERVER>=<fd>. Names are lowercased to match the server
// map keys.
func inheritedListeners(log zerolog.Logger) map[string]net.Listener {
	lns := make(map[string]net.Listener)
	for _, val := range os.Environ() {
		if !strings.HasPrefix(val, fdEnvPrefix) {
			continue
		}
		env := strings.TrimPrefix(val, fdEnvPrefix)
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.ToLower(parts[0])
		fd, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			continue
		}
		f := os.NewFile(uintptr(fd), "")
		ln, err := net.FileListener(f)
		if err != nil {
			log.Warn().Err(err).Msgf("error recovering listener from fd %d", fd)
			continue
		}
		lns[name] = &inherited{f: f, ln: ln}
	}
	return lns
}

// GetListeners returns one bound listener per server, keyed like the given
// map. On a graceful restart the parent fds are reused where the addresses
// still match and the parent is asked to shut down.
func (w *Watcher) GetListeners(servers map[string]Server) (map[string]net.Listener, error) {
	w.ss = servers
	lns := make(map[string]net.Listener)

	if w.graceful {
		w.log.Info().Msg("graceful restart, inheriting parent listener fds")

		inherited := inheritedListeners(w.log)
		for name, ln := range inherited {
			s, ok := servers[name]
			if !ok {
				continue
			}
			if addressEqual(ln.Addr(), s.Network(), s.Address()) {
				lns[name] = ln
			}
		}

		// inherited listeners nobody wants must not leak into the child
		for name, ln := range inherited {
			if _, ok := lns[name]; !ok {
				if err := ln.Close(); err != nil {
					return nil, errors.Wrap(err, "error closing unused inherited listener")
				}
			}
		}

		for name, s := range servers {
			if _, ok := lns[name]; ok {
				continue
			}
			ln, err := net.Listen(s.Network(), s.Address())
			if err != nil {
				return nil, errors.Wrapf(err, "error listening on %s:%s", s.Network(), s.Address())
			}
			lns[name] = ln
		}

		// ask the parent to drain and leave; the sockets are ours now
		w.log.Info().Msgf("killing parent pid gracefully with SIGQUIT: %d", w.ppid)
		if err := syscall.Kill(w.ppid, syscall.SIGQUIT); err != nil {
			return nil, errors.Wrapf(err, "error killing parent process with ppid:%d", w.ppid)
		}

		w.lns = lns
		return lns, nil
	}

	for name, s := range servers {
		ln, err := net.Listen(s.Network(), s.Address())
		if err != nil {
			return nil, errors.Wrapf(err, "error listening on %s:%s", s.Network(), s.Address())
		}
		lns[name] = ln
	}
	w.lns = lns
	return lns, nil
}

func addressEqual(a net.Addr, network, address string) bool {
	if a.Network() != network {
		return false
	}

	switch network {
	case "tcp":
		t, err := net.ResolveTCPAddr(network, address)
		if err != nil {
			return false
		}
		return a.(*net.TCPAddr).Port == t.Port
	case "unix":
		t, err := net.ResolveUnixAddr(network, address)
		if err != nil {
			return false
		}
		u := a.(*net.UnixAddr)
		return u.Name == t.Name && u.Net == t.Net
	}
	return false
}

// TrapSignals captures the OS signal.
func (w *Watcher) TrapSignals() {
	signalCh := make(chan os.Signal, 1024)
	signal.Notify(signalCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	for {
		s := <-signalCh
		w.log.Info().Msgf("%v signal received", s)

		switch s {
		case syscall.SIGHUP:
			w.log.Info().Msg("preparing for a hot-reload, forking child process...")

			p, err := forkChild(w.lns)
			if err != nil {
				w.log.Error().Err(err).Msg("unable to fork child process")
			} else {
				w.log.Info().Msgf("child forked with new pid %d", p.Pid)
				w.childPIDs = append(w.childPIDs, p.Pid)
			}

		case syscall.SIGQUIT:
			w.log.Info().Msg("preparing for a graceful shutdown with deadline of 10 seconds")
			go func() {
				count := 10
				ticker := time.NewTicker(time.Second)
				for ; true; <-ticker.C {
					w.log.Info().Msgf("shutting down in %d seconds", count-1)
					count--
					if count <= 0 {
						w.log.Info().Msg("deadline reached before draining active conns, hard stopping ...")
						for name, s := range w.ss {
							if err := s.Stop(); err != nil {
								w.log.Error().Err(err).Msgf("error stopping server %s", name)
							}
							w.log.Info().Msgf("fd to %s:%s abruptly closed", s.Network(), s.Address())
						}
						w.Exit(1)
					}
				}
			}()
			for name, s := range w.ss {
				w.log.Info().Msgf("fd to %s:%s gracefully closed", s.Network(), s.Address())
				if err := s.GracefulStop(); err != nil {
					w.log.Error().Err(err).Msgf("error stopping server %s", name)
					w.Exit(1)
				}
			}
			w.log.Info().Msg("exit with error code 0")
			w.Exit(0)

		case syscall.SIGINT, syscall.SIGTERM:
			w.log.Info().Msg("preparing for hard shutdown, aborting all conns")
			for name, s := range w.ss {
				w.log.Info().Msgf("fd to %s:%s abruptly closed", s.Network(), s.Address())
				if err := s.Stop(); err != nil {
					w.log.Error().Err(err).Msgf("error stopping server %s", name)
				}
			}
			w.Exit(0)
		}
	}
}

func getListenerFile(ln net.Listener) (*os.File, error) {
	switch t := ln.(type) {
	case *inherited:
		return t.f, nil
	case *net.TCPListener:
		return t.File()
	case *net.UnixListener:
		return t.File()
	}
	return nil, fmt.Errorf("unsupported listener: %T", ln)
}

func forkChild(lns map[string]net.Listener) (*os.Process, error) {
	// stdin, stdout and stderr keep fds 0 to 2, the listeners follow
	files := []*os.File{
		os.Stdin,
		os.Stdout,
		os.Stderr,
	}

	environment := append(os.Environ(), "GRACEFUL=true")
	counter := 3
	for name, ln := range lns {
		fd, err := getListenerFile(ln)
		if err != nil {
			return nil, err
		}
		environment = append(environment, fmt.Sprintf("%s%s=%d", fdEnvPrefix, strings.ToUpper(name), counter))
		files = append(files, fd)
		counter++
	}

	execName, err := os.Executable()
	if err != nil {
		return nil, err
	}
	execDir := filepath.Dir(execName)

	p, err := os.StartProcess(execName, os.Args, &os.ProcAttr{
		Dir:   execDir,
		Env:   environment,
		Files: files,
		Sys:   &syscall.SysProcAttr{},
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}
