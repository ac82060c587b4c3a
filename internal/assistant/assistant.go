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

// Package assistant ties classification and invocation together: a query
// goes in, a routed tool result comes out. Each query gets a unique id
// that threads through the logs of every layer it touches.
package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tombee/dirigent/internal/classify"
	"github.com/tombee/dirigent/internal/log"
	"github.com/tombee/dirigent/internal/normalize"
)

// Invoker is the tool invocation surface the assistant depends on.
type Invoker interface {
	CallTool(ctx context.Context, server, tool string, args map[string]any) (normalize.Result, error)
}

// Classifier is the routing surface the assistant depends on.
type Classifier interface {
	Classify(ctx context.Context, query string) classify.Classification
}

// Answer is the outcome of one query.
type Answer struct {
	// QueryID is the unique id assigned to this query.
	QueryID string
	// Classification is the routing decision that produced the answer.
	Classification classify.Classification
	// Result is the normalized tool result.
	Result normalize.Result
}

// Assistant routes natural-language queries to tool servers.
type Assistant struct {
	classifier Classifier
	invoker    Invoker
	logger     *slog.Logger
}

// New creates an assistant.
func New(classifier Classifier, invoker Invoker, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		classifier: classifier,
		invoker:    invoker,
		logger:     logger,
	}
}

// Ask classifies a query, invokes the chosen tool, and returns the
// normalized result. Unroutable queries fail without touching any server.
func (a *Assistant) Ask(ctx context.Context, query string) (Answer, error) {
	queryID := uuid.NewString()
	logger := log.WithQueryID(a.logger, queryID)

	cls := a.classifier.Classify(ctx, query)
	logger.Info("query classified",
		"kind", cls.Kind,
		"server", cls.TargetServer,
		"tool", cls.TargetTool,
		"confidence", cls.Confidence,
		"reasoning", cls.Reasoning,
	)

	answer := Answer{QueryID: queryID, Classification: cls}
	if !cls.Routable() {
		return answer, fmt.Errorf("no tool server can answer this query (%s)", cls.Reasoning)
	}

	result, err := a.invoker.CallTool(ctx, cls.TargetServer, cls.TargetTool, cls.Arguments)
	if err != nil {
		logger.Warn("tool invocation failed",
			"server", cls.TargetServer,
			"tool", cls.TargetTool,
			"error", err,
		)
		return answer, err
	}

	answer.Result = result
	logger.Info("query answered", "shape", result.Shape)
	return answer, nil
}
