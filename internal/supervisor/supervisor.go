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

// Package supervisor owns the lifecycle of one tool server process: spawn
// with a merged environment, graceful or forced shutdown, and crash
// detection. No other component signals the process directly.
//
// The supervisor deliberately does not restart failed processes; restart
// policy is an explicit caller action.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// DefaultGracePeriod bounds how long Stop waits for a graceful exit before
// force-killing the process.
const DefaultGracePeriod = 5 * time.Second

// StartError is the synchronous, typed report of a spawn failure (missing
// executable, permission denied). Crashes after a successful start are
// reported asynchronously through the exit notification channel instead.
type StartError struct {
	Command string
	Cause   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start %q: %v", e.Command, e.Cause)
}

func (e *StartError) Unwrap() error {
	return e.Cause
}

// ExitEvent describes a process exit observed by the supervisor. Unexpected
// is true when the exit was not the result of an explicit Stop; subscribers
// (the RPC transport's owner) use it to fail pending requests immediately.
type ExitEvent struct {
	PID        int
	ExitCode   int
	Err        error
	Unexpected bool
}

func (e ExitEvent) String() string {
	kind := "stopped"
	if e.Unexpected {
		kind = "terminated unexpectedly"
	}
	return fmt.Sprintf("process %d %s (exit code %d)", e.PID, kind, e.ExitCode)
}

// Config describes how to launch one tool server process.
type Config struct {
	// Name identifies the server in logs and captured output.
	Name string

	// Command is the executable to run.
	Command string

	// Args are the command-line arguments.
	Args []string

	// Env is overlaid on the inherited process environment; these values
	// win on conflict. Secrets handed over by the auth collaborator at
	// registration time arrive here.
	Env map[string]string

	// GracePeriod bounds graceful shutdown (defaults to DefaultGracePeriod).
	GracePeriod time.Duration

	// StderrCapacity is the stderr ring buffer size in lines (default 1000).
	StderrCapacity int

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// Supervisor manages exactly one process. Start may be called again after
// the previous process reached a terminal state; each start produces a
// fresh exit notification channel.
type Supervisor struct {
	name    string
	command string
	args    []string
	env     map[string]string
	grace   time.Duration
	logger  *slog.Logger

	// stderr holds the most recent diagnostic lines from the process.
	stderr *RingBuffer

	mu        sync.Mutex
	state     State
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	exitCh    chan ExitEvent
	waitDone  chan struct{}
}

// New creates a supervisor for the given launch recipe. The process is not
// spawned until Start.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	grace := cfg.GracePeriod
	if grace == 0 {
		grace = DefaultGracePeriod
	}

	return &Supervisor{
		name:    cfg.Name,
		command: cfg.Command,
		args:    cfg.Args,
		env:     cfg.Env,
		grace:   grace,
		logger:  logger.With("server", cfg.Name),
		stderr:  NewRingBuffer(cfg.StderrCapacity),
		state:   StateNotStarted,
	}
}

// Start spawns the configured command with stdin/stdout piped for the RPC
// transport and stderr captured as diagnostics. It fails fast if a process
// is already starting or running.
func (s *Supervisor) Start(ctx context.Context) (io.WriteCloser, io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStarting || s.state == StateRunning || s.state == StateStopping {
		return nil, nil, fmt.Errorf("server %s is already running", s.name)
	}
	s.state = StateStarting

	cmd := exec.Command(s.command, s.args...)
	cmd.Env = mergeEnv(os.Environ(), s.env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.state = StateFailed
		return nil, nil, &StartError{Command: s.command, Cause: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		s.state = StateFailed
		return nil, nil, &StartError{Command: s.command, Cause: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		s.state = StateFailed
		return nil, nil, &StartError{Command: s.command, Cause: err}
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		s.state = StateFailed
		return nil, nil, &StartError{Command: s.command, Cause: err}
	}

	s.cmd = cmd
	s.pid = cmd.Process.Pid
	s.startedAt = time.Now()
	s.state = StateRunning
	s.exitCh = make(chan ExitEvent, 1)
	s.waitDone = make(chan struct{})

	go s.captureStderr(stderr)
	go s.waitForExit(cmd, s.exitCh, s.waitDone)

	s.logger.Info("tool server process started",
		"command", s.command,
		"pid", s.pid,
	)

	return stdin, stdout, nil
}

// Exited returns the exit notification channel for the current process.
// The channel receives exactly one event. Returns nil if the process was
// never started.
func (s *Supervisor) Exited() <-chan ExitEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCh
}

// Stop requests a graceful shutdown (SIGTERM), waits up to the grace
// period, then force-kills. Calling Stop on a process that is not running
// is a no-op, not an error.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning && s.state != StateStopping {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	cmd := s.cmd
	waitDone := s.waitDone
	s.mu.Unlock()

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Process already gone; the wait goroutine settles the state.
		s.logger.Debug("signal on stop", "error", err)
	}

	grace := time.NewTimer(s.grace)
	defer grace.Stop()

	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitDone
		return ctx.Err()
	case <-grace.C:
		s.logger.Warn("grace period expired, force-killing process", "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill()
		<-waitDone
		return nil
	}
}

// waitForExit reaps the process and publishes the exit event. The exit is
// unexpected unless an explicit Stop transitioned the state first.
func (s *Supervisor) waitForExit(cmd *exec.Cmd, exitCh chan ExitEvent, waitDone chan struct{}) {
	err := cmd.Wait()

	s.mu.Lock()
	unexpected := s.state != StateStopping
	if unexpected && (err != nil || !cmd.ProcessState.Success()) {
		s.state = StateFailed
	} else if unexpected {
		// Clean zero exit without a Stop: the server ended on its own.
		s.state = StateStopped
	} else {
		s.state = StateStopped
	}
	pid := s.pid
	s.mu.Unlock()

	event := ExitEvent{
		PID:        pid,
		ExitCode:   cmd.ProcessState.ExitCode(),
		Err:        err,
		Unexpected: unexpected,
	}

	if unexpected {
		s.logger.Error("tool server process exited unexpectedly",
			"pid", pid,
			"exit_code", event.ExitCode,
			"error", err,
		)
	} else {
		s.logger.Info("tool server process exited", "pid", pid, "exit_code", event.ExitCode)
	}

	// Buffered; the single event never blocks the reaper.
	exitCh <- event
	close(waitDone)
}

// captureStderr drains the process's stderr into the ring buffer. The
// stream is diagnostic-only and never parsed as protocol.
func (s *Supervisor) captureStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		s.stderr.Add(LogEntry{Timestamp: time.Now(), Message: line})
		s.logger.Debug("server stderr", "line", line)
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID returns the process id of the current or last process, 0 if never
// started.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// StartedAt returns when the current process was spawned.
func (s *Supervisor) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Logs returns the last n captured stderr lines, oldest first. n <= 0
// returns everything retained.
func (s *Supervisor) Logs(n int) []LogEntry {
	if n <= 0 {
		return s.stderr.GetAll()
	}
	return s.stderr.GetLast(n)
}

// mergeEnv overlays the descriptor environment on the inherited one;
// overlay values win on key conflict.
func mergeEnv(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return base
	}

	merged := make(map[string]string, len(base)+len(overlay))
	order := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = v
	}
	for k, v := range overlay {
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = v
	}

	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+merged[k])
	}
	return out
}
