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

// Package invoker is the single façade through which the assistant talks
// to tool servers. It owns the running sessions, starts servers lazily on
// first use, and flattens results into the canonical shape. Callers never
// see processes, transports, or raw envelopes.
package invoker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/dirigent/internal/normalize"
	"github.com/tombee/dirigent/internal/registry"
	"github.com/tombee/dirigent/internal/rpc"
	"github.com/tombee/dirigent/internal/supervisor"
)

// ToolInfo describes one tool advertised by a server.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ResourceInfo describes one resource advertised by a server.
type ResourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ServerStatus is a point-in-time snapshot of one registered server.
type ServerStatus struct {
	Name    string
	Kind    registry.Kind
	Enabled bool
	State   supervisor.State
	PID     int
	Pending int
	Uptime  time.Duration
}

// Invoker routes tool calls to server sessions. Safe for concurrent use;
// calls to different servers proceed independently, and calls to the same
// server multiplex over one session.
type Invoker struct {
	registry *registry.Registry
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates an invoker over the given catalog.
func New(reg *registry.Registry, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		registry: reg,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// session returns the live session for a server, starting one lazily. The
// catalog is consulted first: unknown and disabled servers are refused
// before any process interaction.
func (inv *Invoker) session(ctx context.Context, name string) (*session, error) {
	desc, err := inv.registry.Get(name)
	if err != nil {
		return nil, ErrUnknownServer(name, inv.registry.Names())
	}
	if !desc.IsEnabled() {
		return nil, ErrServerDisabled(name)
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	if s, ok := inv.sessions[name]; ok {
		if s.alive() {
			return s, nil
		}
		// The process died since last use. Drop the dead session; this call
		// is a fresh explicit start, not an automatic restart of the old one.
		delete(inv.sessions, name)
	}

	s, err := newSession(ctx, desc, inv.logger)
	if err != nil {
		return nil, err
	}
	inv.sessions[name] = s
	return s, nil
}

// ListTools returns the tools advertised by a server.
func (inv *Invoker) ListTools(ctx context.Context, server string) ([]ToolInfo, error) {
	s, err := inv.session(ctx, server)
	if err != nil {
		return nil, err
	}

	raw, err := s.call(ctx, rpc.MethodToolsList, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, ErrCallFailed(server, rpc.MethodToolsList, err)
	}
	return result.Tools, nil
}

// CallTool invokes a named tool with the given arguments and returns the
// normalized result.
func (inv *Invoker) CallTool(ctx context.Context, server, tool string, args map[string]any) (normalize.Result, error) {
	start := time.Now()
	res, err := inv.callTool(ctx, server, tool, args)
	observeCall(server, tool, start, err)
	return res, err
}

func (inv *Invoker) callTool(ctx context.Context, server, tool string, args map[string]any) (normalize.Result, error) {
	s, err := inv.session(ctx, server)
	if err != nil {
		return normalize.Result{}, err
	}

	if args == nil {
		args = map[string]any{}
	}
	params := map[string]any{
		"name":      tool,
		"arguments": args,
	}

	raw, err := s.call(ctx, rpc.MethodToolsCall, params)
	if err != nil {
		return normalize.Result{}, err
	}

	res, err := normalize.Normalize(raw)
	if err != nil {
		return normalize.Result{}, ErrBadResultShape(server, tool, err)
	}

	inv.logger.Debug("tool call completed",
		"server", server,
		"tool", tool,
		"shape", res.Shape,
	)
	return res, nil
}

// ListResources returns the resources advertised by a server.
func (inv *Invoker) ListResources(ctx context.Context, server string) ([]ResourceInfo, error) {
	s, err := inv.session(ctx, server)
	if err != nil {
		return nil, err
	}

	raw, err := s.call(ctx, rpc.MethodResourcesList, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Resources []ResourceInfo `json:"resources"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, ErrCallFailed(server, rpc.MethodResourcesList, err)
	}
	return result.Resources, nil
}

// ReadResource reads a resource by URI and returns the normalized content.
func (inv *Invoker) ReadResource(ctx context.Context, server, uri string) (normalize.Result, error) {
	s, err := inv.session(ctx, server)
	if err != nil {
		return normalize.Result{}, err
	}

	raw, err := s.call(ctx, rpc.MethodResourcesRead, map[string]any{"uri": uri})
	if err != nil {
		return normalize.Result{}, err
	}

	res, err := normalize.Normalize(raw)
	if err != nil {
		return normalize.Result{}, ErrBadResultShape(server, uri, err)
	}
	return res, nil
}

// Ping checks a server's liveness with the probe timeout.
func (inv *Invoker) Ping(ctx context.Context, server string) error {
	s, err := inv.session(ctx, server)
	if err != nil {
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, rpc.DefaultProbeTimeout)
	defer cancel()
	_, err = s.call(probeCtx, rpc.MethodPing, nil)
	return err
}

// StopServer gracefully stops a server's process if one is running.
func (inv *Invoker) StopServer(ctx context.Context, name string) error {
	inv.mu.Lock()
	s, ok := inv.sessions[name]
	delete(inv.sessions, name)
	inv.mu.Unlock()

	if !ok {
		return nil
	}
	s.close(ctx)
	return nil
}

// StopAll gracefully stops every running session. Used on shutdown.
func (inv *Invoker) StopAll(ctx context.Context) {
	inv.mu.Lock()
	sessions := make([]*session, 0, len(inv.sessions))
	for name, s := range inv.sessions {
		sessions = append(sessions, s)
		delete(inv.sessions, name)
	}
	inv.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()
			s.close(ctx)
		}(s)
	}
	wg.Wait()
}

// Status reports every registered server with its process state.
func (inv *Invoker) Status() []ServerStatus {
	inv.mu.Lock()
	sessions := make(map[string]*session, len(inv.sessions))
	for name, s := range inv.sessions {
		sessions[name] = s
	}
	inv.mu.Unlock()

	descriptors := inv.registry.List()
	out := make([]ServerStatus, 0, len(descriptors))
	for _, d := range descriptors {
		st := ServerStatus{
			Name:    d.Name,
			Kind:    d.Kind,
			Enabled: d.IsEnabled(),
			State:   supervisor.StateNotStarted,
		}
		if s, ok := sessions[d.Name]; ok {
			st.State = s.sup.State()
			st.PID = s.sup.PID()
			st.Pending = s.tr.PendingCount()
			if st.State == supervisor.StateRunning {
				st.Uptime = time.Since(s.sup.StartedAt())
			}
		}
		out = append(out, st)
	}
	return out
}

// Logs returns the last n captured stderr lines for a server, or nil when
// no session exists.
func (inv *Invoker) Logs(name string, n int) []supervisor.LogEntry {
	inv.mu.Lock()
	s, ok := inv.sessions[name]
	inv.mu.Unlock()
	if !ok {
		return nil
	}
	return s.sup.Logs(n)
}
