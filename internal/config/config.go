// Package config loads client settings and agent definition files. Settings
// come from viper (config file, PARLEY_* environment, defaults); agent
// definitions are YAML documents describing the agents a user can start.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/parley-dev/parley/pkg/protocol"
)

// Settings is everything the client needs to reach its agent server.
type Settings struct {
	ServerURL      string
	Token          string
	Transport      string // "stream" or "socket"
	DefinitionsDir string
}

// SetDefaults registers the default settings on a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server_url", "http://localhost:8123")
	v.SetDefault("token", "")
	v.SetDefault("transport", "stream")
	v.SetDefault("definitions_dir", "")
}

// FromViper reads Settings out of a configured viper instance.
func FromViper(v *viper.Viper) Settings {
	return Settings{
		ServerURL:      strings.TrimRight(v.GetString("server_url"), "/"),
		Token:          v.GetString("token"),
		Transport:      v.GetString("transport"),
		DefinitionsDir: v.GetString("definitions_dir"),
	}
}

// Definition is one agent definition file.
type Definition struct {
	Name         string                 `yaml:"name"`
	Kind         string                 `yaml:"kind"` // reactive | templated
	Model        string                 `yaml:"model"`
	Description  string                 `yaml:"description"`
	Restrictions *definitionRestriction `yaml:"restrictions"`
}

type definitionRestriction struct {
	CanSwitchSessions *bool `yaml:"can_switch_sessions"`
	CanAccessHistory  *bool `yaml:"can_access_history"`
	CanFreeTypeText   *bool `yaml:"can_free_type_text"`
	CanEndEarly       *bool `yaml:"can_end_early"`
}

// SessionKind maps the definition's kind string onto the protocol enum.
func (d Definition) SessionKind() protocol.SessionKind {
	return protocol.ParseSessionKind(d.Kind)
}

// Overrides converts the definition's restriction block to the wire shape
// consumed by the restriction policy. Nil when the file has none.
func (d Definition) Overrides() *protocol.RestrictionOverrides {
	if d.Restrictions == nil {
		return nil
	}
	return &protocol.RestrictionOverrides{
		CanSwitchSessions: d.Restrictions.CanSwitchSessions,
		CanAccessHistory:  d.Restrictions.CanAccessHistory,
		CanFreeTypeText:   d.Restrictions.CanFreeTypeText,
		CanEndEarly:       d.Restrictions.CanEndEarly,
	}
}

// LoadDefinitions reads every *.yaml / *.yml file in dir, sorted by name.
// A missing or empty dir yields no definitions, not an error.
func LoadDefinitions(dir string) ([]Definition, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read definitions dir: %w", err)
	}

	var defs []Definition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read definition %s: %w", entry.Name(), err)
		}
		var def Definition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse definition %s: %w", entry.Name(), err)
		}
		if def.Name == "" {
			def.Name = strings.TrimSuffix(entry.Name(), ext)
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// FindDefinition looks a definition up by name.
func FindDefinition(defs []Definition, name string) (Definition, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}
