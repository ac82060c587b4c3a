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

// Package normalize flattens the inconsistent result envelopes produced by
// tool servers into a single canonical shape. Servers wrap their payloads
// differently: bare primitives, arrays, content envelopes with text parts,
// JSON serialized inside text parts, sometimes nested another level deep.
// Callers should not have to know which server they talked to.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Shape records which decoding strategy produced a normalized result. It is
// provenance for debugging, not part of the result's meaning.
type Shape string

const (
	// ShapePrimitive means the payload was a bare string, number, bool, or null.
	ShapePrimitive Shape = "primitive"
	// ShapeArray means the payload was a top-level JSON array.
	ShapeArray Shape = "array"
	// ShapeContentText means a content envelope whose text parts were plain text.
	ShapeContentText Shape = "content_text"
	// ShapeContentJSON means a content envelope whose text part carried JSON.
	ShapeContentJSON Shape = "content_json"
	// ShapeEmbeddedJSON means JSON recovered from inside a larger text payload.
	ShapeEmbeddedJSON Shape = "embedded_json"
	// ShapeObject means a plain JSON object with no content envelope.
	ShapeObject Shape = "object"
)

// Result is the canonical form of a tool server response: either flattened
// text or a structured JSON value, never both.
type Result struct {
	// Text holds the flattened textual payload when IsText is true.
	Text string
	// JSON holds the structured payload when IsText is false.
	JSON json.RawMessage
	// IsText selects which of the two fields carries the payload.
	IsText bool
	// Shape records the strategy that produced this result.
	Shape Shape
}

// String renders the result for display: the text itself, or compact JSON.
func (r Result) String() string {
	if r.IsText {
		return r.Text
	}
	return string(r.JSON)
}

// Error reports a payload no strategy recognized. The raw payload is
// carried verbatim so the caller can log or surface it.
type Error struct {
	Raw json.RawMessage
}

func (e *Error) Error() string {
	return fmt.Sprintf("unrecognized result shape: %s", truncate(string(e.Raw), 200))
}

// contentEnvelope matches the common wrapper {"content":[{"type":...}]}.
type contentEnvelope struct {
	Content []contentPart `json:"content"`
	IsError bool          `json:"isError"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Normalize flattens a raw result payload. Strategies are tried in a fixed
// order; the first match wins:
//
//  1. bare primitive
//  2. top-level array
//  3. content envelope (text parts joined; a text part that is itself JSON
//     is unwrapped, recursing at most one level into a nested envelope)
//  4. JSON embedded in a text payload, recovered from the first '{'
//  5. plain object
//
// Anything else is an *Error carrying the raw payload.
func Normalize(raw json.RawMessage) (Result, error) {
	return normalize(raw, 0)
}

const maxEnvelopeDepth = 1

func normalize(raw json.RawMessage, depth int) (Result, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Result{}, &Error{Raw: raw}
	}

	switch trimmed[0] {
	case '{':
		// Fall through to envelope handling below.
	case '[':
		if !json.Valid(trimmed) {
			return Result{}, &Error{Raw: raw}
		}
		return Result{JSON: append(json.RawMessage(nil), trimmed...), Shape: ShapeArray}, nil
	default:
		// Primitive: string, number, bool, or null. Unmarshaling null into a
		// string is a no-op, which would leave the result empty; keep the
		// literal instead.
		if bytes.Equal(trimmed, []byte("null")) {
			return Result{Text: "null", IsText: true, Shape: ShapePrimitive}, nil
		}
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return Result{Text: s, IsText: true, Shape: ShapePrimitive}, nil
		}
		if json.Valid(trimmed) {
			return Result{Text: string(trimmed), IsText: true, Shape: ShapePrimitive}, nil
		}
		return Result{}, &Error{Raw: raw}
	}

	var env contentEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Result{}, &Error{Raw: raw}
	}

	if len(env.Content) == 0 {
		// A plain object without the content wrapper. Distinguish a real
		// object from one that merely failed to populate the envelope.
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return Result{}, &Error{Raw: raw}
		}
		if _, hasContent := probe["content"]; hasContent {
			// content was present but not the expected part list.
			return Result{}, &Error{Raw: raw}
		}
		return Result{JSON: append(json.RawMessage(nil), trimmed...), Shape: ShapeObject}, nil
	}

	return flattenEnvelope(env, raw, depth)
}

// flattenEnvelope joins the envelope's text parts and unwraps JSON carried
// inside them.
func flattenEnvelope(env contentEnvelope, raw json.RawMessage, depth int) (Result, error) {
	var parts []string
	for _, p := range env.Content {
		if p.Type != "" && p.Type != "text" {
			// Non-text parts (images, audio) have no flattened form here;
			// skip them rather than fail the whole result.
			continue
		}
		parts = append(parts, p.Text)
	}
	if len(parts) == 0 {
		return Result{}, &Error{Raw: raw}
	}

	joined := strings.Join(parts, "\n")
	trimmed := strings.TrimSpace(joined)

	// A single text part that is itself JSON gets unwrapped. A nested
	// content envelope inside it is recursed into at most once; deeper
	// nesting is reported as unrecognized rather than silently flattened.
	if len(parts) == 1 && looksLikeJSON(trimmed) && json.Valid([]byte(trimmed)) {
		if depth < maxEnvelopeDepth && hasContentList([]byte(trimmed)) {
			inner, err := normalize(json.RawMessage(trimmed), depth+1)
			if err == nil {
				return inner, nil
			}
			return Result{}, &Error{Raw: raw}
		}
		if depth >= maxEnvelopeDepth && hasContentList([]byte(trimmed)) {
			return Result{}, &Error{Raw: raw}
		}
		return Result{JSON: json.RawMessage(trimmed), Shape: ShapeContentJSON}, nil
	}

	// Some servers prefix their JSON with a human-readable banner. Recover
	// the object from the first '{' when the remainder parses cleanly.
	if idx := strings.IndexByte(joined, '{'); idx > 0 {
		candidate := strings.TrimSpace(joined[idx:])
		if json.Valid([]byte(candidate)) {
			return Result{JSON: json.RawMessage(candidate), Shape: ShapeEmbeddedJSON}, nil
		}
	}

	return Result{Text: joined, IsText: true, Shape: ShapeContentText}, nil
}

// looksLikeJSON reports whether s begins like a JSON object or array.
func looksLikeJSON(s string) bool {
	return len(s) > 0 && (s[0] == '{' || s[0] == '[')
}

// hasContentList reports whether the payload is an object whose "content"
// field is a part list, i.e. another envelope.
func hasContentList(raw []byte) bool {
	var env contentEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false
	}
	return len(env.Content) > 0
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
