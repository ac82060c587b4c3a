// Copyright 2025 Tom Barlow
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

package invoker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tombee/dirigent/internal/log"
	"github.com/tombee/dirigent/internal/registry"
	"github.com/tombee/dirigent/internal/rpc"
	"github.com/tombee/dirigent/internal/supervisor"
)

// protocolVersion is sent in the initialize handshake.
const protocolVersion = "2025-06-18"

// session binds one running server process to its RPC transport. Created
// lazily on first use; the initialize handshake must complete before any
// tool traffic flows.
type session struct {
	name   string
	desc   *registry.Descriptor
	sup    *supervisor.Supervisor
	tr     *rpc.Transport
	logger *slog.Logger
}

// initializeParams is the handshake request payload.
type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// newSession starts the server process, wires its stdio to a transport,
// and completes the initialize handshake. Any failure tears the process
// down before returning.
func newSession(ctx context.Context, desc *registry.Descriptor, logger *slog.Logger) (*session, error) {
	if desc.Transport != "" && desc.Transport != registry.TransportStdio {
		return nil, ErrUnsupportedTransport(desc.Name, string(desc.Transport))
	}

	sup := supervisor.New(supervisor.Config{
		Name:    desc.Name,
		Command: desc.Command,
		Args:    desc.Args,
		Env:     desc.Env,
		Logger:  logger,
	})

	stdin, stdout, err := sup.Start(ctx)
	if err != nil {
		serverStartsTotal.WithLabelValues(desc.Name, "spawn_failed").Inc()
		return nil, ErrProcessFailed(desc.Name, err)
	}

	serverLogger := log.WithServer(logger, desc.Name)
	tr := rpc.New(stdin, stdout, rpc.Config{
		Logger:      serverLogger,
		CallTimeout: desc.CallTimeoutDuration(),
	})

	s := &session{
		name:   desc.Name,
		desc:   desc,
		sup:    sup,
		tr:     tr,
		logger: serverLogger,
	}

	// An unexpected process exit fails every in-flight request immediately
	// instead of letting callers wait out their timeouts.
	go func() {
		event, ok := <-sup.Exited()
		if !ok {
			return
		}
		if event.Unexpected {
			tr.Fail(fmt.Errorf("process terminated: %s", event))
		} else {
			tr.Close()
		}
	}()

	if err := s.handshake(ctx); err != nil {
		serverStartsTotal.WithLabelValues(desc.Name, "handshake_failed").Inc()
		s.close(context.Background())
		return nil, err
	}

	serverStartsTotal.WithLabelValues(desc.Name, "success").Inc()
	return s, nil
}

// handshake runs initialize and announces readiness. Liveness traffic uses
// the shorter probe timeout, not the tool call timeout.
func (s *session) handshake(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, rpc.DefaultProbeTimeout)
	defer cancel()

	_, err := s.tr.Call(probeCtx, rpc.MethodInitialize, initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: "dirigent", Version: "0.1.0"},
	})
	if err != nil {
		return s.mapError(rpc.MethodInitialize, err)
	}

	if err := s.tr.Notify(rpc.NotificationInitialized, map[string]any{}); err != nil {
		return ErrProcessFailed(s.name, err)
	}
	return nil
}

// call issues one request on the session's transport, mapping transport
// failures into the invoker's error taxonomy.
func (s *session) call(ctx context.Context, method string, params any) (result []byte, err error) {
	raw, err := s.tr.Call(ctx, method, params)
	if err != nil {
		return nil, s.mapError(method, err)
	}
	return raw, nil
}

// mapError translates transport-level errors into categorized invocation
// errors.
func (s *session) mapError(method string, err error) error {
	var timeoutErr *rpc.TimeoutError
	if errors.As(err, &timeoutErr) {
		return ErrCallTimeout(s.name, method, err)
	}

	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) {
		return ErrCallFailed(s.name, method, rpcErr)
	}

	// Anything else is the transport dying under us: process crash, closed
	// streams, unreadable output.
	return ErrProcessFailed(s.name, err)
}

// alive reports whether the session can still carry traffic.
func (s *session) alive() bool {
	return s.sup.State() == supervisor.StateRunning
}

// close shuts down the transport and stops the process.
func (s *session) close(ctx context.Context) {
	s.tr.Close()
	if err := s.sup.Stop(ctx); err != nil {
		s.logger.Warn("error stopping tool server", "error", err)
	}
}
