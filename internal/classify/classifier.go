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

// Package classify decides which tool server and tool should answer a
// natural-language query. The base classifier is deterministic keyword
// matching, so the same query always routes the same way; an optional LLM
// refinement layers on top without changing that baseline.
package classify

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/tombee/dirigent/internal/registry"
)

// Classification is a routing decision for one query.
type Classification struct {
	// Kind is the server category the query routes to.
	Kind registry.Kind
	// TargetServer is the chosen server name, empty when no enabled server
	// of the kind exists.
	TargetServer string
	// TargetTool is the tool to invoke on the target server.
	TargetTool string
	// Arguments are the extracted tool arguments.
	Arguments map[string]any
	// Confidence is the classifier's certainty, 0..1.
	Confidence float64
	// Reasoning explains the decision for logs and debugging.
	Reasoning string
}

// Routable reports whether the classification names a concrete server.
func (c Classification) Routable() bool {
	return c.TargetServer != "" && c.TargetTool != ""
}

// Default tools per server kind. Servers advertising different tool names
// are reachable through explicit invocation; routing targets the
// conventional name.
const (
	toolGraphQuery = "query"
	toolDocsSearch = "search_docs"
	toolFetch      = "fetch"
)

// docsVocabulary routes product documentation and authentication questions.
var docsVocabulary = []string{
	"how do i", "how to", "documentation", "docs", "guide", "tutorial",
	"authenticate", "authentication", "auth", "oauth", "token", "scope",
	"permission", "setup", "configure", "api reference", "getting started",
}

// fetchVocabulary routes generic retrieval from the outside world.
var fetchVocabulary = []string{
	"weather", "forecast", "temperature", "fetch", "download", "web page",
	"website", "url", "http://", "https://", "news", "look up",
}

// graphVocabulary routes directory graph queries.
var graphVocabulary = []string{
	"user", "users", "group", "groups", "member", "members", "device",
	"devices", "directory", "org chart", "manager", "report", "licens",
}

// httpMethodRegex matches an explicit HTTP method preceding a path.
var httpMethodRegex = regexp.MustCompile(`(?i)\b(GET|POST|PUT|PATCH|DELETE)\b`)

// endpointRegex matches an API endpoint path such as /users/{id}/memberOf.
var endpointRegex = regexp.MustCompile(`(/[a-zA-Z0-9_{}.$-]+)+`)

// Classifier routes queries against the current server catalog.
type Classifier struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// New creates a classifier over the given catalog.
func New(reg *registry.Registry, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{registry: reg, logger: logger}
}

// Classify routes one query. Matching is case-insensitive and the priority
// order is fixed: endpoint-shaped queries beat documentation matches, which
// beat generic fetch matches. A query matching no vocabulary still routes,
// to the fetch server at low confidence, so every query selects exactly one
// server. The same query always produces the same decision.
func (c *Classifier) Classify(query string) Classification {
	lower := strings.ToLower(query)

	if cls, ok := c.classifyEndpoint(query, lower); ok {
		return cls
	}
	if cls, ok := c.classifyDocs(lower); ok {
		return cls
	}
	if cls, ok := c.classifyFetch(lower); ok {
		return cls
	}

	return c.resolve(Classification{
		Kind:       registry.KindFetch,
		TargetTool: toolFetch,
		Arguments:  map[string]any{"query": strings.TrimSpace(lower)},
		Confidence: 0.2,
		Reasoning:  "no vocabulary matched, defaulting to fetch",
	})
}

// classifyEndpoint recognizes queries shaped like API endpoint calls and
// extracts the path and HTTP method for the graph-query server. Only a
// literal endpoint path triggers this branch; documentation questions that
// merely mention directory nouns fall through to the docs classifier.
func (c *Classifier) classifyEndpoint(query, lower string) (Classification, bool) {
	// Full URLs are retrieval targets, not directory endpoints.
	if strings.Contains(lower, "http://") || strings.Contains(lower, "https://") {
		return Classification{}, false
	}

	path := endpointRegex.FindString(query)
	if path == "" {
		return Classification{}, false
	}

	method := "GET"
	if m := httpMethodRegex.FindString(query); m != "" {
		method = strings.ToUpper(m)
	}

	confidence := 0.9
	reasoning := fmt.Sprintf("graph query: endpoint path %q", path)
	if hits := countHits(lower, graphVocabulary); hits > 0 {
		confidence = 0.95
		reasoning += fmt.Sprintf(", %d directory term(s)", hits)
	}

	return c.resolve(Classification{
		Kind:       registry.KindGraphQuery,
		TargetTool: toolGraphQuery,
		Arguments:  map[string]any{"endpoint": path, "method": method},
		Confidence: confidence,
		Reasoning:  reasoning,
	}), true
}

// classifyDocs recognizes documentation and authentication questions, and
// directory questions that are not endpoint-shaped: "who manages the sales
// group" is a question about the directory, answered from the docs server
// when no literal path was given.
func (c *Classifier) classifyDocs(lower string) (Classification, bool) {
	docHits := countHits(lower, docsVocabulary)

	// Directory nouns only count when the query is not a retrieval target;
	// a URL mentioning "users" is still a fetch.
	dirHits := 0
	if !strings.Contains(lower, "http://") && !strings.Contains(lower, "https://") {
		dirHits = countHits(lower, graphVocabulary)
	}

	hits := docHits + dirHits
	if hits == 0 {
		return Classification{}, false
	}

	// One keyword alone is suggestive; each extra raises confidence.
	confidence := min(0.55+0.15*float64(hits-1), 0.95)

	return c.resolve(Classification{
		Kind:       registry.KindDocs,
		TargetTool: toolDocsSearch,
		Arguments:  map[string]any{"query": strings.TrimSpace(lower)},
		Confidence: confidence,
		Reasoning:  fmt.Sprintf("documentation query: %d keyword(s), %d directory term(s) matched", docHits, dirHits),
	}), true
}

// classifyFetch recognizes generic retrieval queries.
func (c *Classifier) classifyFetch(lower string) (Classification, bool) {
	hits := countHits(lower, fetchVocabulary)
	if hits == 0 {
		return Classification{}, false
	}

	confidence := min(0.5+0.15*float64(hits-1), 0.9)

	return c.resolve(Classification{
		Kind:       registry.KindFetch,
		TargetTool: toolFetch,
		Arguments:  map[string]any{"query": strings.TrimSpace(lower)},
		Confidence: confidence,
		Reasoning:  fmt.Sprintf("fetch query: %d keyword(s) matched", hits),
	}), true
}

// resolve fills in the target server: the first enabled server of the
// decided kind. A kind with no enabled server keeps the classification but
// leaves the target empty.
func (c *Classifier) resolve(cls Classification) Classification {
	servers := c.registry.ByKind(cls.Kind)
	if len(servers) == 0 {
		cls.Reasoning += fmt.Sprintf("; no enabled %s server registered", cls.Kind)
		return cls
	}
	cls.TargetServer = servers[0].Name

	c.logger.Debug("query classified",
		"kind", cls.Kind,
		"server", cls.TargetServer,
		"tool", cls.TargetTool,
		"confidence", cls.Confidence,
	)
	return cls
}

func countHits(lower string, vocabulary []string) int {
	hits := 0
	for _, term := range vocabulary {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	return hits
}
