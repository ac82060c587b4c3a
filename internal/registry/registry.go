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
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tombee/dirigent/internal/log"
)

// Registry holds the known tool server descriptors, keyed by unique name.
// It is a passive catalog: replacing a descriptor never touches a running
// process, the new recipe simply applies on the next start.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	servers map[string]*Descriptor
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		servers: make(map[string]*Descriptor),
	}
}

// Register adds or replaces a descriptor. The descriptor is validated
// first; names are unique, so re-registering a name replaces its recipe.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("descriptor is required")
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("server %q: %w", d.Name, err)
	}

	r.mu.Lock()
	_, replaced := r.servers[d.Name]
	cp := *d
	r.servers[d.Name] = &cp
	r.mu.Unlock()

	if replaced {
		r.logger.Info("tool server registration replaced", "server", d.Name)
	} else {
		r.logger.Debug("tool server registered",
			"server", d.Name,
			"kind", d.Kind,
			"env", redactEnv(d.Env),
		)
	}
	return nil
}

// redactEnv masks descriptor env values, which may carry secrets.
func redactEnv(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = log.SanitizeSecret(v)
	}
	return out
}

// Unregister removes a descriptor. Removing an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.servers, name)
	r.mu.Unlock()
}

// Get returns the descriptor for a name, or an error naming the known
// servers when it does not exist.
func (r *Registry) Get(name string) (*Descriptor, error) {
	r.mu.RLock()
	d, ok := r.servers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown server %q (known: %v)", name, r.Names())
	}
	cp := *d
	return &cp, nil
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns copies of all descriptors, sorted by name.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Descriptor, 0, len(r.servers))
	for _, d := range r.servers {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListEnabled returns copies of the enabled descriptors, sorted by name.
func (r *Registry) ListEnabled() []*Descriptor {
	all := r.List()
	out := all[:0]
	for _, d := range all {
		if d.IsEnabled() {
			out = append(out, d)
		}
	}
	return out
}

// ByKind returns the enabled descriptors of the given kind, sorted by name.
func (r *Registry) ByKind(kind Kind) []*Descriptor {
	enabled := r.ListEnabled()
	out := enabled[:0]
	for _, d := range enabled {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// Replace swaps the entire catalog for the given descriptors, validating
// each first. Used by configuration reload; running processes are not
// affected.
func (r *Registry) Replace(descriptors []*Descriptor) error {
	next := make(map[string]*Descriptor, len(descriptors))
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("server %q: %w", d.Name, err)
		}
		if _, dup := next[d.Name]; dup {
			return fmt.Errorf("duplicate server name %q", d.Name)
		}
		cp := *d
		next[d.Name] = &cp
	}

	r.mu.Lock()
	r.servers = next
	r.mu.Unlock()

	r.logger.Info("tool server catalog replaced", "count", len(next))
	return nil
}
