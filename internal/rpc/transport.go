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

package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTransportClosed is returned for calls issued after Close, and resolves
// any requests still pending when the transport shuts down.
var ErrTransportClosed = errors.New("rpc: transport closed")

// TimeoutError reports a request whose deadline expired before a response
// arrived. The pending entry is removed on expiry; a late response for the
// same id is discarded, never delivered.
type TimeoutError struct {
	Method  string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rpc: %s timed out after %s", e.Method, e.Elapsed.Round(time.Millisecond))
}

// maxLineSize bounds a single response line. Tool servers returning large
// documents (fetched pages, resource blobs) routinely exceed bufio's 64KB
// default.
const maxLineSize = 10 * 1024 * 1024

// DefaultCallTimeout applies to tool invocations when the caller's context
// carries no deadline of its own.
const DefaultCallTimeout = 30 * time.Second

// DefaultProbeTimeout is the shorter bound for liveness traffic
// (initialize, ping).
const DefaultProbeTimeout = 5 * time.Second

// pendingRequest is a correlation record for one in-flight request. The
// response channel has capacity 1 and is written at most once: whichever of
// response arrival, deadline expiry, or transport shutdown happens first
// claims the entry by deleting it from the table.
type pendingRequest struct {
	id       int64
	method   string
	issuedAt time.Time
	ch       chan Response
}

// Transport frames JSON-RPC 2.0 messages over a process's stdio streams,
// one JSON object per line. It is safe for concurrent use: writes are
// serialized, and the pending table is guarded by a mutex.
type Transport struct {
	logger *slog.Logger

	// w is the process's stdin. writeMu serializes writers so interleaved
	// concurrent calls cannot corrupt line framing.
	w       io.Writer
	writeMu sync.Mutex

	// pending is the correlation table, keyed by request id. failure holds
	// the terminal error once the transport has shut down.
	pendingMu sync.Mutex
	pending   map[int64]*pendingRequest
	failure   error

	// counter assigns request ids. Monotonic per transport instance; ids
	// are never reused while an entry referencing them is live.
	counter atomic.Int64

	callTimeout time.Duration

	done     chan struct{}
	readerWG sync.WaitGroup
}

// Config adjusts transport behavior. The zero value is usable.
type Config struct {
	// Logger is used for structured logging (optional).
	Logger *slog.Logger

	// CallTimeout applies when a caller's context has no deadline.
	// Defaults to DefaultCallTimeout.
	CallTimeout time.Duration
}

// New creates a transport over the given writer (process stdin) and reader
// (process stdout) and starts the background reader. The reader goroutine
// exits when r reaches EOF or the transport is closed.
func New(w io.Writer, r io.Reader, cfg Config) *Transport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	callTimeout := cfg.CallTimeout
	if callTimeout == 0 {
		callTimeout = DefaultCallTimeout
	}

	t := &Transport{
		logger:      logger,
		w:           w,
		pending:     make(map[int64]*pendingRequest),
		callTimeout: callTimeout,
		done:        make(chan struct{}),
	}

	t.readerWG.Add(1)
	go t.readLoop(r)

	return t
}

// Call issues a request and blocks until its response arrives, the context
// is done, the deadline expires, or the transport shuts down. When ctx
// carries no deadline the transport's call timeout applies.
func (t *Transport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.callTimeout)
		defer cancel()
	}

	id := t.counter.Add(1)
	req := Request{
		JSONRPC: Version,
		ID:      &id,
		Method:  method,
		Params:  params,
	}

	pr := &pendingRequest{
		id:       id,
		method:   method,
		issuedAt: time.Now(),
		ch:       make(chan Response, 1),
	}

	t.pendingMu.Lock()
	if t.failure != nil {
		err := t.failure
		t.pendingMu.Unlock()
		return nil, err
	}
	t.pending[id] = pr
	t.pendingMu.Unlock()

	if err := t.write(req); err != nil {
		t.removePending(id)
		return nil, fmt.Errorf("rpc: send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		// Claim the entry so a late response is discarded by the reader.
		t.removePending(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Method: method, Elapsed: time.Since(pr.issuedAt)}
		}
		return nil, ctx.Err()

	case <-t.done:
		t.removePending(id)
		// A response delivered just before shutdown still wins.
		select {
		case resp := <-pr.ch:
			if resp.Error != nil {
				return nil, resp.Error
			}
			return resp.Result, nil
		default:
		}
		t.pendingMu.Lock()
		err := t.failure
		t.pendingMu.Unlock()
		if err == nil {
			err = ErrTransportClosed
		}
		return nil, err

	case resp := <-pr.ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

// Notify sends a fire-and-forget notification: no id is assigned and no
// reply is expected.
func (t *Transport) Notify(method string, params any) error {
	req := Request{
		JSONRPC: Version,
		Method:  method,
		Params:  params,
	}
	return t.write(req)
}

// write marshals a message and appends the newline frame terminator under
// the write lock.
func (t *Transport) write(req Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	payload = append(payload, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.w.Write(payload)
	return err
}

// readLoop consumes the process's stdout line by line. Non-protocol output
// is logged and dropped; the loop keeps running so one noisy line never
// kills the stream.
func (t *Transport) readLoop(r io.Reader) {
	defer t.readerWG.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		// A single line may carry several independent JSON values when the
		// server flushes multiple messages in one write.
		dec := json.NewDecoder(bytes.NewReader(line))
		for dec.More() {
			var resp Response
			if err := dec.Decode(&resp); err != nil {
				t.logger.Debug("dropping non-protocol output line",
					"line", truncateForLog(line),
					"error", err,
				)
				break
			}
			t.dispatch(resp)
		}

		select {
		case <-t.done:
			return
		default:
		}
	}

	if err := scanner.Err(); err != nil {
		t.Fail(fmt.Errorf("rpc: read: %w", err))
		return
	}
	// EOF: the process closed its stdout. Pending requests are failed by
	// the supervisor's exit notification; failing here covers the case
	// where stdout closes without a process exit event.
	t.Fail(fmt.Errorf("rpc: connection closed: %w", io.EOF))
}

// dispatch routes one decoded message to its pending entry.
func (t *Transport) dispatch(resp Response) {
	if resp.ID == nil {
		// Server-initiated notification; nothing correlates to it.
		if resp.Method != "" {
			t.logger.Debug("ignoring server notification", "method", resp.Method)
		}
		return
	}

	t.pendingMu.Lock()
	pr, ok := t.pending[*resp.ID]
	if ok {
		delete(t.pending, *resp.ID)
	}
	t.pendingMu.Unlock()

	if !ok {
		// Stale (timed out) or unknown id. Discarded, never delivered.
		t.logger.Debug("discarding response with no pending request", "id", *resp.ID)
		return
	}

	pr.ch <- resp
}

// removePending claims a pending entry, making any later resolution of the
// same id a no-op.
func (t *Transport) removePending(id int64) {
	t.pendingMu.Lock()
	delete(t.pending, id)
	t.pendingMu.Unlock()
}

// Fail shuts the transport down with the given terminal error, resolving
// every still-pending request with it. The process supervisor calls this on
// unexpected exit so callers fail immediately instead of waiting out their
// timeouts. Only the first failure sticks; later calls are no-ops.
func (t *Transport) Fail(err error) {
	t.pendingMu.Lock()
	if t.failure != nil {
		t.pendingMu.Unlock()
		return
	}
	t.failure = err
	orphaned := len(t.pending)
	for id := range t.pending {
		delete(t.pending, id)
	}
	t.pendingMu.Unlock()

	// Closing done wakes every caller blocked in Call; each reads the
	// terminal error under the lock.
	close(t.done)

	if orphaned > 0 {
		t.logger.Warn("failed pending requests on transport shutdown",
			"count", orphaned,
			"error", err,
		)
	}
}

// Close shuts the transport down, failing any pending requests with
// ErrTransportClosed. It does not close the underlying streams; the process
// supervisor owns those.
func (t *Transport) Close() error {
	t.Fail(ErrTransportClosed)
	return nil
}

// PendingCount returns the number of in-flight requests. Used by tests and
// status reporting.
func (t *Transport) PendingCount() int {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	return len(t.pending)
}

// truncateForLog bounds diagnostic output of dropped lines.
func truncateForLog(line []byte) string {
	const max = 200
	if len(line) <= max {
		return string(line)
	}
	return string(line[:max]) + "..."
}
