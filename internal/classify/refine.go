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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tombee/dirigent/internal/llm"
	"github.com/tombee/dirigent/internal/registry"
)

// refineThreshold is the heuristic confidence above which the LLM is not
// consulted at all.
const refineThreshold = 0.85

// refineTimeout bounds the refinement round trip; a slow model must not
// stall query handling.
const refineTimeout = 10 * time.Second

// Refiner layers LLM refinement over the deterministic classifier.
// Refinement only ever raises the quality of a low-confidence decision:
// when the provider is absent, errors, or returns something unusable, the
// heuristic result stands unchanged.
type Refiner struct {
	base     *Classifier
	provider llm.Provider
	logger   *slog.Logger
}

// NewRefiner wraps a classifier with an optional provider. A nil provider
// yields pass-through behavior.
func NewRefiner(base *Classifier, provider llm.Provider, logger *slog.Logger) *Refiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refiner{base: base, provider: provider, logger: logger}
}

// refinement is the JSON shape the model is asked to produce.
type refinement struct {
	Kind       string         `json:"kind"`
	Tool       string         `json:"tool"`
	Arguments  map[string]any `json:"arguments"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
}

// Classify routes a query, consulting the LLM only when the heuristic is
// unsure.
func (r *Refiner) Classify(ctx context.Context, query string) Classification {
	heuristic := r.base.Classify(query)
	if r.provider == nil || heuristic.Confidence >= refineThreshold {
		return heuristic
	}

	refined, err := r.refine(ctx, query, heuristic)
	if err != nil {
		r.logger.Debug("refinement unavailable, keeping heuristic decision",
			"provider", r.provider.Name(),
			"error", err,
		)
		return heuristic
	}
	return refined
}

func (r *Refiner) refine(ctx context.Context, query string, heuristic Classification) (Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, refineTimeout)
	defer cancel()

	raw, err := r.provider.Complete(ctx, buildPrompt(query, heuristic))
	if err != nil {
		return Classification{}, err
	}

	var ref refinement
	if err := json.Unmarshal([]byte(extractJSON(raw)), &ref); err != nil {
		return Classification{}, fmt.Errorf("unparsable refinement: %w", err)
	}

	kind := registry.Kind(ref.Kind)
	switch kind {
	case registry.KindFetch, registry.KindGraphQuery, registry.KindDocs, registry.KindGenericStdio:
	default:
		return Classification{}, fmt.Errorf("refinement named unknown kind %q", ref.Kind)
	}
	if ref.Confidence < 0 || ref.Confidence > 1 {
		return Classification{}, fmt.Errorf("refinement confidence %v out of range", ref.Confidence)
	}

	cls := Classification{
		Kind:       kind,
		TargetTool: ref.Tool,
		Arguments:  ref.Arguments,
		Confidence: ref.Confidence,
		Reasoning:  "refined: " + ref.Reasoning,
	}
	if cls.TargetTool == "" {
		cls.TargetTool = heuristic.TargetTool
	}
	if cls.Arguments == nil {
		cls.Arguments = heuristic.Arguments
	}
	return r.base.resolve(cls), nil
}

// buildPrompt asks the model to improve the heuristic decision without
// inventing capabilities the catalog lacks.
func buildPrompt(query string, heuristic Classification) string {
	return fmt.Sprintf(`You route queries to tool servers. Kinds: fetch (web/weather retrieval), graph-query (directory graph: users, groups, devices), docs (product documentation search), generic-stdio (none of the above).

Query: %q

A keyword classifier decided kind=%s tool=%s confidence=%.2f (%s).

Reply with only a JSON object: {"kind": "...", "tool": "...", "arguments": {...}, "confidence": 0.0-1.0, "reasoning": "..."}`,
		query, heuristic.Kind, heuristic.TargetTool, heuristic.Confidence, heuristic.Reasoning)
}

// extractJSON tolerates models that wrap their JSON in prose or fences.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
