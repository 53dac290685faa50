package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Override applies key/value overrides using the yaml field names of Config.
// Unknown keys are rejected so typos never silently fall back to defaults.
func (c *Config) Override(overrides map[string]interface{}) error {
	if len(overrides) == 0 {
		return nil
	}

	base, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	fields := make(map[string]interface{})
	if err := yaml.Unmarshal(base, &fields); err != nil {
		return fmt.Errorf("failed to decode config fields: %w", err)
	}

	for k, v := range overrides {
		if _, ok := fields[k]; !ok {
			return fmt.Errorf("unknown config key %q", k)
		}
		fields[k] = v
	}

	merged, err := yaml.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode overrides: %w", err)
	}
	var out Config
	dec := yaml.NewDecoder(bytes.NewReader(merged))
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil {
		return fmt.Errorf("invalid override: %w", err)
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*c = out
	return nil
}

// ParseOverrides parses "key=value,key=value". Values are typed with YAML
// scalar rules, so "true" is a bool and "64" an int.
func ParseOverrides(s string) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid override %q (want key=value)", pair)
		}
		k = strings.TrimSpace(k)
		var val interface{}
		if err := yaml.Unmarshal([]byte(strings.TrimSpace(v)), &val); err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}

// LoadOverrides reads a YAML mapping of overrides from a file.
func LoadOverrides(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides file: %w", err)
	}
	out := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse overrides: %w", err)
	}
	return out, nil
}
