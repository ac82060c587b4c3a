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

package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
defaults:
  timeout: 20
servers:
  directory:
    kind: graph-query
    command: python
    args: ["-m", "graph_server"]
    env:
      GRAPH_TOKEN: "${DIRIGENT_TEST_GRAPH_TOKEN}"
  weather:
    kind: fetch
    command: npx
    args: ["-y", "fetch-server"]
    timeout: 45
  legacy:
    command: ./legacy-server
    enabled: false
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "servers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.Servers, 3)

	dir := cfg.Servers["directory"]
	assert.Equal(t, "directory", dir.Name)
	assert.Equal(t, KindGraphQuery, dir.Kind)
	assert.Equal(t, TransportStdio, dir.Transport)
	// Defaults block applies when unset; explicit values win.
	assert.Equal(t, 20*time.Second, dir.CallTimeoutDuration())
	assert.Equal(t, 45*time.Second, cfg.Servers["weather"].CallTimeoutDuration())

	assert.Equal(t, KindGenericStdio, cfg.Servers["legacy"].Kind)
	assert.False(t, cfg.Servers["legacy"].IsEnabled())
}

func TestLoadConfig_MissingFileIsEmpty(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Servers)
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "servers: [not: a: map")
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "servers.yaml")

	cfg := &Config{
		Servers: map[string]*Descriptor{
			"docs": {Kind: KindDocs, Command: "npx", Args: []string{"-y", "docs-server"}},
		},
	}
	require.NoError(t, cfg.Save(path))

	// No temp file left behind after the atomic rename.
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Contains(t, loaded.Servers, "docs")
	assert.Equal(t, KindDocs, loaded.Servers["docs"].Kind)
}

func TestConfig_DescriptorsExpandEnv(t *testing.T) {
	t.Setenv("DIRIGENT_TEST_GRAPH_TOKEN", "tok-123")
	path := writeConfig(t, sampleConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	var dir *Descriptor
	for _, d := range cfg.Descriptors() {
		if d.Name == "directory" {
			dir = d
		}
	}
	require.NotNil(t, dir)
	assert.Equal(t, "tok-123", dir.Env["GRAPH_TOKEN"])
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	r := New(nil)
	w, err := NewWatcher(WatcherConfig{
		Registry:      r,
		Path:          path,
		DebounceDelay: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()

	updated := sampleConfig + `
  added:
    kind: docs
    command: npx
`
	// Save as editors do: write temp, rename over.
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(updated), 0600))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool {
		_, err := r.Get("added")
		return err == nil
	}, 3*time.Second, 25*time.Millisecond)
}

func TestWatcher_BadReloadKeepsPreviousCatalog(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	r := New(nil)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, r.Replace(cfg.Descriptors()))

	w, err := NewWatcher(WatcherConfig{
		Registry:      r,
		Path:          path,
		DebounceDelay: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("servers: [broken"), 0600))

	// Give the debounced reload time to fire and be rejected.
	time.Sleep(300 * time.Millisecond)
	_, err = r.Get("directory")
	assert.NoError(t, err)
}
