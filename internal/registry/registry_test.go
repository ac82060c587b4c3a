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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New(nil)

	require.NoError(t, r.Register(&Descriptor{
		Name:    "directory",
		Kind:    KindGraphQuery,
		Command: "python",
		Args:    []string{"-m", "graph_server"},
	}))

	d, err := r.Get("directory")
	require.NoError(t, err)
	assert.Equal(t, KindGraphQuery, d.Kind)
	assert.Equal(t, "python", d.Command)
	assert.True(t, d.IsEnabled())
}

func TestRegistry_GetUnknownNamesKnownServers(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(&Descriptor{Name: "docs", Command: "npx"}))

	_, err := r.Get("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown server "nope"`)
	assert.Contains(t, err.Error(), "docs")
}

func TestRegistry_RegisterReplacesByName(t *testing.T) {
	r := New(nil)

	require.NoError(t, r.Register(&Descriptor{Name: "fetcher", Command: "old-binary"}))
	require.NoError(t, r.Register(&Descriptor{Name: "fetcher", Command: "new-binary"}))

	d, err := r.Get("fetcher")
	require.NoError(t, err)
	assert.Equal(t, "new-binary", d.Command)
	assert.Len(t, r.Names(), 1)
}

func TestRegistry_RejectsInvalidDescriptors(t *testing.T) {
	r := New(nil)

	tests := []struct {
		name string
		d    *Descriptor
	}{
		{"empty name", &Descriptor{Command: "x"}},
		{"bad name", &Descriptor{Name: "1bad", Command: "x"}},
		{"missing command", &Descriptor{Name: "ok"}},
		{"bad kind", &Descriptor{Name: "ok", Command: "x", Kind: "banana"}},
		{"bad transport", &Descriptor{Name: "ok", Command: "x", Transport: "carrier-pigeon"}},
		{"negative timeout", &Descriptor{Name: "ok", Command: "x", CallTimeout: -1}},
		{"bad env key", &Descriptor{Name: "ok", Command: "x", Env: map[string]string{"1BAD": "v"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, r.Register(tt.d))
		})
	}
}

func TestRegistry_ListEnabledFiltersDisabled(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(&Descriptor{Name: "on", Command: "x"}))
	require.NoError(t, r.Register(&Descriptor{Name: "off", Command: "x", Enabled: boolPtr(false)}))

	enabled := r.ListEnabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "on", enabled[0].Name)

	assert.Len(t, r.List(), 2)
}

func TestRegistry_ByKind(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(&Descriptor{Name: "graph", Command: "x", Kind: KindGraphQuery}))
	require.NoError(t, r.Register(&Descriptor{Name: "docs", Command: "x", Kind: KindDocs}))
	require.NoError(t, r.Register(&Descriptor{Name: "graph-off", Command: "x", Kind: KindGraphQuery, Enabled: boolPtr(false)}))

	byKind := r.ByKind(KindGraphQuery)
	require.Len(t, byKind, 1)
	assert.Equal(t, "graph", byKind[0].Name)
}

func TestRegistry_ReplaceSwapsCatalog(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(&Descriptor{Name: "old", Command: "x"}))

	require.NoError(t, r.Replace([]*Descriptor{
		{Name: "alpha", Command: "a"},
		{Name: "beta", Command: "b"},
	}))

	assert.Equal(t, []string{"alpha", "beta"}, r.Names())
	_, err := r.Get("old")
	assert.Error(t, err)
}

func TestRegistry_ReplaceRejectsDuplicates(t *testing.T) {
	r := New(nil)
	err := r.Replace([]*Descriptor{
		{Name: "dup", Command: "a"},
		{Name: "dup", Command: "b"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(&Descriptor{Name: "srv", Command: "x"}))

	d, err := r.Get("srv")
	require.NoError(t, err)
	d.Command = "mutated"

	fresh, err := r.Get("srv")
	require.NoError(t, err)
	assert.Equal(t, "x", fresh.Command)
}

func TestDescriptor_ExpandEnv(t *testing.T) {
	t.Setenv("DIRIGENT_TEST_TOKEN", "s3cret")

	d := &Descriptor{
		Name:    "srv",
		Command: "x",
		Env: map[string]string{
			"API_TOKEN": "${DIRIGENT_TEST_TOKEN}",
			"STATIC":    "plain-value",
			"MISSING":   "${DIRIGENT_TEST_NOT_SET_ANYWHERE}",
		},
	}

	env := d.ExpandEnv()
	assert.Equal(t, "s3cret", env["API_TOKEN"])
	assert.Equal(t, "plain-value", env["STATIC"])
	assert.Equal(t, "", env["MISSING"])
}

func TestRedactEnvNeverLeaksValues(t *testing.T) {
	out := redactEnv(map[string]string{
		"API_TOKEN": "s3cret-value",
		"REGION":    "eu-west-1",
	})
	for k, v := range out {
		assert.NotContains(t, v, "s3cret", k)
		assert.Equal(t, "[REDACTED]", v)
	}
	assert.Nil(t, redactEnv(nil))
}

func TestValidateServerName(t *testing.T) {
	assert.NoError(t, ValidateServerName("graph-query_2"))
	assert.Error(t, ValidateServerName(""))
	assert.Error(t, ValidateServerName("2fast"))
	assert.Error(t, ValidateServerName("has space"))
}
