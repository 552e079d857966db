package config

import (
	"fmt"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Accessor provides typed key/value lookups over the merged configuration
// (file, environment, defaults). Keys are relative to the `netsensor` root,
// e.g. "queue.capacity".
type Accessor struct {
	v      *viper.Viper
	prefix string
}

func (a *Accessor) key(k string) string {
	return a.prefix + "." + k
}

// HasValue reports whether key is set by file, env or default.
func (a *Accessor) HasValue(key string) bool {
	return a.v.IsSet(a.key(key))
}

// GetValueAsInt returns key as an int, or 0 when unset or not numeric.
func (a *Accessor) GetValueAsInt(key string) int {
	return a.v.GetInt(a.key(key))
}

// GetValueAsBool returns key as a bool.
func (a *Accessor) GetValueAsBool(key string) bool {
	return a.v.GetBool(a.key(key))
}

// GetValue returns key as a string.
func (a *Accessor) GetValue(key string) string {
	return a.v.GetString(a.key(key))
}

// Dump renders the effective configuration as YAML.
func (a *Accessor) Dump() ([]byte, error) {
	out, err := yaml.Marshal(map[string]any{a.prefix: a.v.AllSettings()[a.prefix]})
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return out, nil
}
