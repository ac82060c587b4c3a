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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/dirigent/internal/registry"
	"github.com/tombee/dirigent/internal/supervisor"
)

// fakeServerScript is a minimal newline-framed JSON-RPC responder. Request
// ids are assigned monotonically from 1 per connection, so the script
// tracks them with a counter; notifications carry no id and don't consume
// one.
const fakeServerScript = `#!/bin/sh
i=0
while IFS= read -r line; do
  i=$((i+1))
  case "$line" in
    *'"method":"initialize"'*)
      printf '{"jsonrpc":"2.0","id":%d,"result":{"protocolVersion":"2025-06-18","serverInfo":{"name":"fake"}}}\n' "$i";;
    *'"method":"notifications/initialized"'*)
      i=$((i-1));;
    *'"method":"tools/list"'*)
      printf '{"jsonrpc":"2.0","id":%d,"result":{"tools":[{"name":"echo","description":"echoes input"},{"name":"weird","description":"bad shapes"}]}}\n' "$i";;
    *'"name":"weird"'*)
      printf '{"jsonrpc":"2.0","id":%d,"result":{"content":"not a part list"}}\n' "$i";;
    *'"method":"tools/call"'*)
      printf '{"jsonrpc":"2.0","id":%d,"result":{"content":[{"type":"text","text":"hello from fake"}]}}\n' "$i";;
    *'"method":"ping"'*)
      printf '{"jsonrpc":"2.0","id":%d,"result":{}}\n' "$i";;
    *)
      printf '{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"Method not found"}}\n' "$i";;
  esac
done
`

// crashingServerScript completes the handshake, then dies without replying
// to the first real request.
const crashingServerScript = `#!/bin/sh
i=0
while IFS= read -r line; do
  i=$((i+1))
  case "$line" in
    *'"method":"initialize"'*)
      printf '{"jsonrpc":"2.0","id":%d,"result":{"protocolVersion":"2025-06-18"}}\n' "$i";;
    *'"method":"notifications/initialized"'*)
      i=$((i-1));;
    *)
      exit 1;;
  esac
done
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0700))
	return path
}

func newTestInvoker(t *testing.T, script string) *Invoker {
	t.Helper()
	reg := registry.New(nil)
	require.NoError(t, reg.Register(&registry.Descriptor{
		Name:        "fake",
		Kind:        registry.KindGenericStdio,
		Command:     "sh",
		Args:        []string{script},
		CallTimeout: 5,
	}))

	inv := New(reg, nil)
	t.Cleanup(func() { inv.StopAll(context.Background()) })
	return inv
}

func TestInvoker_UnknownServerRefused(t *testing.T) {
	inv := New(registry.New(nil), nil)

	_, err := inv.CallTool(context.Background(), "ghost", "anything", nil)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeConfig, CodeOf(err))
}

func TestInvoker_DisabledServerRefusedBeforeSpawn(t *testing.T) {
	disabled := false
	reg := registry.New(nil)
	// The command does not exist; if the invoker ever tried to spawn it the
	// error would be a process error, not a config error.
	require.NoError(t, reg.Register(&registry.Descriptor{
		Name:    "dormant",
		Command: "/nonexistent/binary",
		Enabled: &disabled,
	}))
	inv := New(reg, nil)

	_, err := inv.ListTools(context.Background(), "dormant")
	require.Error(t, err)
	assert.Equal(t, ErrorCodeConfig, CodeOf(err))
	assert.Contains(t, err.Error(), "disabled")
}

func TestInvoker_UnsupportedTransportRefused(t *testing.T) {
	reg := registry.New(nil)
	require.NoError(t, reg.Register(&registry.Descriptor{
		Name:      "remote",
		Command:   "irrelevant",
		Transport: registry.TransportHTTP,
	}))
	inv := New(reg, nil)

	_, err := inv.ListTools(context.Background(), "remote")
	require.Error(t, err)
	assert.Equal(t, ErrorCodeConfig, CodeOf(err))
}

func TestInvoker_ListToolsAndCallTool(t *testing.T) {
	inv := newTestInvoker(t, writeScript(t, fakeServerScript))

	tools, err := inv.ListTools(context.Background(), "fake")
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].Name)

	res, err := inv.CallTool(context.Background(), "fake", "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.True(t, res.IsText)
	assert.Equal(t, "hello from fake", res.Text)
}

func TestInvoker_SessionReusedAcrossCalls(t *testing.T) {
	inv := newTestInvoker(t, writeScript(t, fakeServerScript))

	_, err := inv.ListTools(context.Background(), "fake")
	require.NoError(t, err)
	firstPID := inv.Status()[0].PID
	require.NotZero(t, firstPID)

	_, err = inv.CallTool(context.Background(), "fake", "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, firstPID, inv.Status()[0].PID)
}

func TestInvoker_SpawnFailureIsProcessError(t *testing.T) {
	reg := registry.New(nil)
	require.NoError(t, reg.Register(&registry.Descriptor{
		Name:    "broken",
		Command: "/nonexistent/binary/for-sure",
	}))
	inv := New(reg, nil)

	_, err := inv.ListTools(context.Background(), "broken")
	require.Error(t, err)
	assert.Equal(t, ErrorCodeProcess, CodeOf(err))
}

func TestInvoker_CrashDuringCallFailsFast(t *testing.T) {
	inv := newTestInvoker(t, writeScript(t, crashingServerScript))

	start := time.Now()
	_, err := inv.CallTool(context.Background(), "fake", "echo", nil)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeProcess, CodeOf(err))
	// The crash must resolve the call well before the 5s call timeout.
	assert.Less(t, time.Since(start), 3*time.Second)

	require.Eventually(t, func() bool {
		return inv.Status()[0].State == supervisor.StateFailed
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, inv.Status()[0].Pending)
}

func TestInvoker_FreshSessionAfterCrash(t *testing.T) {
	script := writeScript(t, crashingServerScript)
	inv := newTestInvoker(t, script)

	_, err := inv.CallTool(context.Background(), "fake", "echo", nil)
	require.Error(t, err)

	// The next call is a fresh explicit start, reaching a new process that
	// completes its handshake before crashing again.
	_, err = inv.CallTool(context.Background(), "fake", "echo", nil)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeProcess, CodeOf(err))
}

func TestInvoker_UnrecognizedShapeIsNormalizationError(t *testing.T) {
	inv := newTestInvoker(t, writeScript(t, fakeServerScript))

	_, err := inv.CallTool(context.Background(), "fake", "weird", nil)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeNormalization, CodeOf(err))
}

func TestInvoker_PingAndStop(t *testing.T) {
	inv := newTestInvoker(t, writeScript(t, fakeServerScript))

	require.NoError(t, inv.Ping(context.Background(), "fake"))

	require.NoError(t, inv.StopServer(context.Background(), "fake"))
	assert.Equal(t, supervisor.StateNotStarted, inv.Status()[0].State)

	// Stopping a server with no session is a no-op.
	require.NoError(t, inv.StopServer(context.Background(), "fake"))
}

func TestInvoker_ConcurrentCallsMultiplex(t *testing.T) {
	inv := newTestInvoker(t, writeScript(t, fakeServerScript))

	// Warm the session so both goroutines share one process.
	_, err := inv.ListTools(context.Background(), "fake")
	require.NoError(t, err)

	const callers = 4
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := inv.CallTool(context.Background(), "fake", "echo", nil)
			errs <- err
		}()
	}
	for i := 0; i < callers; i++ {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, 0, inv.Status()[0].Pending)
}
