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

package assistant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/dirigent/internal/classify"
	"github.com/tombee/dirigent/internal/normalize"
	"github.com/tombee/dirigent/internal/registry"
)

type fakeClassifier struct {
	result classify.Classification
}

func (f *fakeClassifier) Classify(_ context.Context, _ string) classify.Classification {
	return f.result
}

type fakeInvoker struct {
	server string
	tool   string
	args   map[string]any
	result normalize.Result
	err    error
	calls  int
}

func (f *fakeInvoker) CallTool(_ context.Context, server, tool string, args map[string]any) (normalize.Result, error) {
	f.calls++
	f.server = server
	f.tool = tool
	f.args = args
	return f.result, f.err
}

func TestAssistant_AskRoutesAndInvokes(t *testing.T) {
	cls := classify.Classification{
		Kind:         registry.KindFetch,
		TargetServer: "web",
		TargetTool:   "fetch",
		Arguments:    map[string]any{"query": "weather in berlin"},
		Confidence:   0.8,
	}
	inv := &fakeInvoker{result: normalize.Result{Text: "sunny, 24C", IsText: true}}
	a := New(&fakeClassifier{result: cls}, inv, nil)

	answer, err := a.Ask(context.Background(), "what's the weather in Berlin?")
	require.NoError(t, err)
	assert.Equal(t, "web", inv.server)
	assert.Equal(t, "fetch", inv.tool)
	assert.Equal(t, "weather in berlin", inv.args["query"])
	assert.Equal(t, "sunny, 24C", answer.Result.Text)
	assert.NotEmpty(t, answer.QueryID)
}

func TestAssistant_UnroutableQueryNeverInvokes(t *testing.T) {
	inv := &fakeInvoker{}
	// A classification with no resolved server, e.g. when no enabled server
	// of the decided kind is registered.
	a := New(&fakeClassifier{result: classify.Classification{
		Kind:      registry.KindFetch,
		Reasoning: "no enabled fetch server registered",
	}}, inv, nil)

	_, err := a.Ask(context.Background(), "tell me a joke")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tool server")
	assert.Zero(t, inv.calls)
}

func TestAssistant_InvocationErrorSurfaces(t *testing.T) {
	boom := errors.New("process terminated")
	inv := &fakeInvoker{err: boom}
	a := New(&fakeClassifier{result: classify.Classification{
		Kind:         registry.KindGraphQuery,
		TargetServer: "graph",
		TargetTool:   "query",
	}}, inv, nil)

	answer, err := a.Ask(context.Background(), "GET /users")
	require.ErrorIs(t, err, boom)
	// The classification is still reported so the caller can explain what
	// was attempted.
	assert.Equal(t, "graph", answer.Classification.TargetServer)
}

func TestAssistant_QueryIDsAreUnique(t *testing.T) {
	inv := &fakeInvoker{result: normalize.Result{Text: "ok", IsText: true}}
	a := New(&fakeClassifier{result: classify.Classification{
		Kind:         registry.KindFetch,
		TargetServer: "web",
		TargetTool:   "fetch",
	}}, inv, nil)

	first, err := a.Ask(context.Background(), "q")
	require.NoError(t, err)
	second, err := a.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.NotEqual(t, first.QueryID, second.QueryID)
}
