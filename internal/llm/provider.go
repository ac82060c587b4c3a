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

// Package llm abstracts the completion backend used for optional query
// refinement. The assistant works without one; a provider sharpens routing
// decisions but never replaces the deterministic baseline.
package llm

import "context"

// Provider produces a completion for a prompt.
type Provider interface {
	// Complete returns the model's completion for the given prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// Name identifies the provider for logs.
	Name() string
}
