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

package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/dirigent/internal/registry"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(nil)
	for _, d := range []*registry.Descriptor{
		{Name: "graph", Kind: registry.KindGraphQuery, Command: "x"},
		{Name: "handbook", Kind: registry.KindDocs, Command: "x"},
		{Name: "web", Kind: registry.KindFetch, Command: "x"},
	} {
		require.NoError(t, reg.Register(d))
	}
	return reg
}

func TestClassifier_EndpointShapedQuery(t *testing.T) {
	c := New(newTestRegistry(t), nil)

	cls := c.Classify("POST /groups/{id}/members to add a user")
	assert.Equal(t, registry.KindGraphQuery, cls.Kind)
	assert.Equal(t, "graph", cls.TargetServer)
	assert.Equal(t, "query", cls.TargetTool)
	assert.Equal(t, "/groups/{id}/members", cls.Arguments["endpoint"])
	assert.Equal(t, "POST", cls.Arguments["method"])
	assert.GreaterOrEqual(t, cls.Confidence, 0.9)
}

func TestClassifier_EndpointDefaultsToGET(t *testing.T) {
	c := New(newTestRegistry(t), nil)

	cls := c.Classify("show me /users/{id}/memberOf")
	assert.Equal(t, registry.KindGraphQuery, cls.Kind)
	assert.Equal(t, "GET", cls.Arguments["method"])
}

func TestClassifier_AuthQuestionRoutesToDocs(t *testing.T) {
	c := New(newTestRegistry(t), nil)

	cls := c.Classify("How do I authenticate against the directory API?")
	assert.Equal(t, registry.KindDocs, cls.Kind)
	assert.Equal(t, "handbook", cls.TargetServer)
	assert.Equal(t, "search_docs", cls.TargetTool)
	assert.Greater(t, cls.Confidence, 0.5)
}

func TestClassifier_WeatherRoutesToFetch(t *testing.T) {
	c := New(newTestRegistry(t), nil)

	cls := c.Classify("what's the weather forecast for Berlin?")
	assert.Equal(t, registry.KindFetch, cls.Kind)
	assert.Equal(t, "web", cls.TargetServer)
	assert.Equal(t, "fetch", cls.TargetTool)
}

func TestClassifier_URLRoutesToFetchNotGraph(t *testing.T) {
	c := New(newTestRegistry(t), nil)

	cls := c.Classify("fetch https://example.com/status for me")
	assert.Equal(t, registry.KindFetch, cls.Kind)
}

func TestClassifier_PriorityEndpointBeatsDocs(t *testing.T) {
	c := New(newTestRegistry(t), nil)

	// Contains docs vocabulary but the literal path wins.
	cls := c.Classify("docs say to call GET /users/{id} for the profile")
	assert.Equal(t, registry.KindGraphQuery, cls.Kind)
}

func TestClassifier_NoMatchDefaultsToFetch(t *testing.T) {
	c := New(newTestRegistry(t), nil)

	cls := c.Classify("tell me a joke about databases")
	assert.Equal(t, registry.KindFetch, cls.Kind)
	assert.Equal(t, "web", cls.TargetServer)
	assert.Equal(t, "fetch", cls.TargetTool)
	assert.True(t, cls.Routable())
	assert.Less(t, cls.Confidence, 0.5)
	assert.Greater(t, cls.Confidence, 0.0)
}

func TestClassifier_DirectoryTermsRouteToDocs(t *testing.T) {
	c := New(newTestRegistry(t), nil)

	// Directory nouns without a literal endpoint path are questions about
	// the directory, not graph queries.
	cls := c.Classify("who is the manager of the sales group")
	assert.Equal(t, registry.KindDocs, cls.Kind)
	assert.Equal(t, "handbook", cls.TargetServer)
	assert.Equal(t, "search_docs", cls.TargetTool)
	assert.True(t, cls.Routable())
	assert.Greater(t, cls.Confidence, 0.5)
}

func TestClassifier_DefaultFetchWithoutFetchServer(t *testing.T) {
	reg := registry.New(nil)
	require.NoError(t, reg.Register(&registry.Descriptor{
		Name: "handbook", Kind: registry.KindDocs, Command: "x",
	}))
	c := New(reg, nil)

	cls := c.Classify("tell me a joke about databases")
	assert.Equal(t, registry.KindFetch, cls.Kind)
	assert.False(t, cls.Routable())
	assert.Contains(t, cls.Reasoning, "no enabled fetch server")
}

func TestClassifier_Deterministic(t *testing.T) {
	c := New(newTestRegistry(t), nil)

	first := c.Classify("how do I configure oauth scopes?")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, c.Classify("how do I configure oauth scopes?"))
	}
}

func TestClassifier_MissingKindLeavesTargetEmpty(t *testing.T) {
	reg := registry.New(nil)
	require.NoError(t, reg.Register(&registry.Descriptor{
		Name: "web", Kind: registry.KindFetch, Command: "x",
	}))
	c := New(reg, nil)

	cls := c.Classify("how do I authenticate?")
	assert.Equal(t, registry.KindDocs, cls.Kind)
	assert.False(t, cls.Routable())
	assert.Contains(t, cls.Reasoning, "no enabled docs server")
}

// stubProvider returns a canned completion or error.
type stubProvider struct {
	response string
	err      error
	called   bool
}

func (s *stubProvider) Complete(_ context.Context, _ string) (string, error) {
	s.called = true
	return s.response, s.err
}

func (s *stubProvider) Name() string { return "stub" }

func TestRefiner_NilProviderPassesThrough(t *testing.T) {
	r := NewRefiner(New(newTestRegistry(t), nil), nil, nil)

	cls := r.Classify(context.Background(), "what's the weather in Oslo?")
	assert.Equal(t, registry.KindFetch, cls.Kind)
}

func TestRefiner_HighConfidenceSkipsProvider(t *testing.T) {
	stub := &stubProvider{response: `{"kind":"docs","confidence":1}`}
	r := NewRefiner(New(newTestRegistry(t), nil), stub, nil)

	cls := r.Classify(context.Background(), "GET /users/{id}")
	assert.Equal(t, registry.KindGraphQuery, cls.Kind)
	assert.False(t, stub.called)
}

func TestRefiner_ProviderErrorKeepsHeuristic(t *testing.T) {
	stub := &stubProvider{err: errors.New("model unavailable")}
	r := NewRefiner(New(newTestRegistry(t), nil), stub, nil)

	cls := r.Classify(context.Background(), "what's the weather?")
	assert.True(t, stub.called)
	assert.Equal(t, registry.KindFetch, cls.Kind)
}

func TestRefiner_UsableRefinementWins(t *testing.T) {
	stub := &stubProvider{
		response: "Here you go:\n" + `{"kind":"docs","tool":"search_docs","arguments":{"query":"token rotation"},"confidence":0.92,"reasoning":"asks about credential handling"}`,
	}
	r := NewRefiner(New(newTestRegistry(t), nil), stub, nil)

	cls := r.Classify(context.Background(), "what's the weather-proof way to rotate things?")
	assert.Equal(t, registry.KindDocs, cls.Kind)
	assert.Equal(t, "handbook", cls.TargetServer)
	assert.Equal(t, 0.92, cls.Confidence)
	assert.Contains(t, cls.Reasoning, "refined")
}

func TestRefiner_GarbageRefinementKeepsHeuristic(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"not json", "I think it's a docs question."},
		{"unknown kind", `{"kind":"quantum","confidence":0.9}`},
		{"confidence out of range", `{"kind":"docs","confidence":7}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubProvider{response: tt.response}
			r := NewRefiner(New(newTestRegistry(t), nil), stub, nil)

			cls := r.Classify(context.Background(), "what's the weather?")
			assert.Equal(t, registry.KindFetch, cls.Kind)
		})
	}
}
