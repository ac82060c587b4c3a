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

// Package registry is the catalog of known tool servers: their launch
// recipes, kinds, and enabled state. It answers "what servers exist and how
// do I start them" and nothing else; running processes belong to the
// invoker layer.
package registry

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// ServerNameRegex validates tool server names. Names must start with a
// letter and contain only letters, numbers, hyphens, and underscores.
// Maximum length is 64 characters.
var ServerNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// Kind classifies what a tool server is for. The query classifier routes
// on it.
type Kind string

const (
	// KindFetch serves generic HTTP retrieval (web pages, APIs, weather).
	KindFetch Kind = "fetch"
	// KindGraphQuery serves directory graph queries (users, groups, devices).
	KindGraphQuery Kind = "graph-query"
	// KindDocs serves product documentation search.
	KindDocs Kind = "docs"
	// KindGenericStdio is any other stdio tool server with no routing role.
	KindGenericStdio Kind = "generic-stdio"
)

// ValidKinds lists the accepted kind values.
var ValidKinds = []Kind{KindFetch, KindGraphQuery, KindDocs, KindGenericStdio}

// TransportKind selects how the assistant talks to a server.
type TransportKind string

const (
	// TransportStdio is newline-framed JSON-RPC over the process's stdio.
	TransportStdio TransportKind = "stdio"
	// TransportHTTP is accepted in configuration for forward compatibility
	// but no session can be established over it yet.
	TransportHTTP TransportKind = "http"
)

// Descriptor is one tool server's registration: identity, launch recipe,
// and routing metadata.
type Descriptor struct {
	// Name uniquely identifies the server.
	Name string `yaml:"-"`

	// Kind classifies the server for query routing.
	Kind Kind `yaml:"kind,omitempty"`

	// Transport selects the wire mechanism (default stdio).
	Transport TransportKind `yaml:"transport,omitempty"`

	// Command is the executable to run (e.g. "npx", "python").
	Command string `yaml:"command,omitempty"`

	// Args are command-line arguments.
	Args []string `yaml:"args,omitempty"`

	// Env is overlaid on the inherited environment when the process is
	// spawned. Values support ${VAR} substitution at load time.
	Env map[string]string `yaml:"env,omitempty"`

	// Enabled gates whether the server may be started at all. Disabled
	// servers are refused before any process interaction.
	Enabled *bool `yaml:"enabled,omitempty"`

	// CallTimeout bounds individual tool calls in seconds (0 means the
	// configured default).
	CallTimeout int `yaml:"timeout,omitempty"`
}

// IsEnabled reports the effective enabled state; unset means enabled.
func (d *Descriptor) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// CallTimeoutDuration returns the per-server call timeout, or 0 when the
// default should apply.
func (d *Descriptor) CallTimeoutDuration() time.Duration {
	return time.Duration(d.CallTimeout) * time.Second
}

// Validate checks a descriptor for registration.
func (d *Descriptor) Validate() error {
	if err := ValidateServerName(d.Name); err != nil {
		return err
	}
	if d.Command == "" {
		return fmt.Errorf("command is required")
	}
	if d.Kind != "" && !validKind(d.Kind) {
		return fmt.Errorf("invalid kind: %s (must be one of %s)", d.Kind, kindList())
	}
	if d.Transport != "" && d.Transport != TransportStdio && d.Transport != TransportHTTP {
		return fmt.Errorf("invalid transport: %s (must be 'stdio' or 'http')", d.Transport)
	}
	if d.CallTimeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	for k := range d.Env {
		if !envKeyRegex.MatchString(k) {
			return fmt.Errorf("invalid environment variable key: %s", k)
		}
	}
	return nil
}

var envKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateServerName validates a tool server name.
func ValidateServerName(name string) error {
	if name == "" {
		return fmt.Errorf("server name is required")
	}
	if len(name) > 64 {
		return fmt.Errorf("server name exceeds 64 character limit")
	}
	if !ServerNameRegex.MatchString(name) {
		return fmt.Errorf("invalid server name: must start with a letter and contain only letters, numbers, hyphens, and underscores")
	}
	return nil
}

func validKind(k Kind) bool {
	for _, v := range ValidKinds {
		if k == v {
			return true
		}
	}
	return false
}

func kindList() string {
	parts := make([]string, len(ValidKinds))
	for i, k := range ValidKinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

// varRegex matches ${VAR} references in environment values.
var varRegex = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// ExpandEnv resolves ${VAR} references in the descriptor's env values
// against the assistant's own environment. Unset variables expand to the
// empty string.
func (d *Descriptor) ExpandEnv() map[string]string {
	if len(d.Env) == 0 {
		return nil
	}
	out := make(map[string]string, len(d.Env))
	for k, v := range d.Env {
		out[k] = varRegex.ReplaceAllStringFunc(v, func(ref string) string {
			name := ref[2 : len(ref)-1]
			return os.Getenv(name)
		})
	}
	return out
}
