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
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk catalog of tool servers. Stored by default at
// ~/.config/dirigent/servers.yaml.
type Config struct {
	// Servers maps server name to its descriptor.
	Servers map[string]*Descriptor `yaml:"servers,omitempty"`

	// Defaults provides fallback values for descriptor fields.
	Defaults Defaults `yaml:"defaults,omitempty"`
}

// Defaults provides fallback values for server descriptors.
type Defaults struct {
	// Timeout is the default per-call timeout in seconds (default: 30).
	Timeout int `yaml:"timeout,omitempty"`

	// Transport is the default transport kind (default: stdio).
	Transport TransportKind `yaml:"transport,omitempty"`
}

// DefaultConfigPath returns the default catalog location under the user's
// config directory.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return filepath.Join(dir, "dirigent", "servers.yaml"), nil
}

// LoadConfig loads the catalog from disk. A missing file yields an empty
// config rather than an error.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Servers: make(map[string]*Descriptor)}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]*Descriptor)
	}

	cfg.applyDefaults()

	// Names live in the map keys; copy them onto the descriptors.
	for name, d := range cfg.Servers {
		d.Name = name
	}

	return &cfg, nil
}

// Save writes the catalog to disk atomically: temp file then rename.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

// applyDefaults fills unset descriptor fields from the defaults block.
func (c *Config) applyDefaults() {
	defaults := c.Defaults
	if defaults.Timeout == 0 {
		defaults.Timeout = 30
	}
	if defaults.Transport == "" {
		defaults.Transport = TransportStdio
	}

	for _, d := range c.Servers {
		if d.CallTimeout == 0 {
			d.CallTimeout = defaults.Timeout
		}
		if d.Transport == "" {
			d.Transport = defaults.Transport
		}
		if d.Kind == "" {
			d.Kind = KindGenericStdio
		}
	}
}

// Validate validates every descriptor in the catalog.
func (c *Config) Validate() error {
	for name, d := range c.Servers {
		d.Name = name
		if err := d.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Descriptors returns the catalog as a descriptor list with ${VAR} env
// references resolved, ready for Registry.Replace.
func (c *Config) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, len(c.Servers))
	for name, d := range c.Servers {
		cp := *d
		cp.Name = name
		cp.Env = cp.ExpandEnv()
		out = append(out, &cp)
	}
	return out
}
