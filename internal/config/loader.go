package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/taskara/internal/util"
)

// Load reads the config file at path (if non-empty), applies TASKARA_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	tc, err := LoadWithSources(path)
	if err != nil {
		return nil, err
	}
	if err := tc.Config.Validate(); err != nil {
		return nil, err
	}
	return tc.Config, nil
}

// LoadWithSources loads configuration with source tracking.
// Priority: defaults < file < env. A missing file is an error only when a
// path was given explicitly.
func LoadWithSources(path string) (*TrackedConfig, error) {
	tc := NewTrackedConfig()

	if path != "" {
		if err := mergeFromFile(tc, path); err != nil {
			return nil, err
		}
	}

	ApplyEnvVars(tc)
	return tc, nil
}

// mergeFromFile overlays a YAML file onto the tracked config. Keys absent
// from the file keep their current values.
func mergeFromFile(tc *TrackedConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, tc.Config); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	for _, key := range flattenKeys("", raw) {
		tc.SetSourceWithPath(key, SourceFile, path)
	}
	return nil
}

// flattenKeys returns the dotted paths of every leaf in a decoded YAML map.
func flattenKeys(prefix string, m map[string]any) []string {
	var keys []string
	for k, v := range m {
		p := k
		if prefix != "" {
			p = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			keys = append(keys, flattenKeys(p, sub)...)
			continue
		}
		keys = append(keys, p)
	}
	sort.Strings(keys)
	return keys
}

// SaveTo writes the config as YAML.
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := util.WriteFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
