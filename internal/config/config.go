// Package config loads fetchgraph settings with the precedence
// flags > environment (FETCHGRAPH_*) > config file > defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	selection "github.com/hanpama/fetchgraph/internal/selection"
)

// EnvPrefix prefixes environment overrides, e.g. FETCHGRAPH_LOG_LEVEL.
const EnvPrefix = "FETCHGRAPH"

// FileNames are looked up in the working directory when no config file is
// given explicitly.
var FileNames = []string{"fetchgraph.yaml", "fetchgraph.yml"}

// Config represents fetchgraph.yaml.
type Config struct {
	// Metadata is the path of the annotated SDL describing entity types.
	Metadata string `mapstructure:"metadata"`
	// Roots maps GraphQL root fields to entity types as "field=Type".
	Roots     []string         `mapstructure:"roots"`
	SkipOvers []SkipOverConfig `mapstructure:"skip_overs"`

	Log     LogConfig     `mapstructure:"log"`
	Server  ServerConfig  `mapstructure:"server"`
	Otel    OtelConfig    `mapstructure:"otel"`
	Planner PlannerConfig `mapstructure:"planner"`
}

// SkipOverConfig is one skip-over rule.
type SkipOverConfig struct {
	Field     string `mapstructure:"field"`
	Target    string `mapstructure:"target"`
	Type      string `mapstructure:"type"`
	SingleUse bool   `mapstructure:"single_use"`
}

type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

type ServerConfig struct {
	Addr    string        `mapstructure:"addr"`
	Timeout time.Duration `mapstructure:"timeout"`
	Pretty  bool          `mapstructure:"pretty"`
}

type OtelConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Service  string `mapstructure:"service"`
}

type PlannerConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
}

// flagKeys binds command line flags to config keys.
var flagKeys = map[string]string{
	"metadata":      "metadata",
	"root":          "roots",
	"log-format":    "log.format",
	"log-level":     "log.level",
	"addr":          "server.addr",
	"timeout":       "server.timeout",
	"pretty":        "server.pretty",
	"otel-endpoint": "otel.endpoint",
	"otel-service":  "otel.service",
	"max-depth":     "planner.max_depth",
}

// Load discovers and loads configuration. flags may be nil; flags it holds
// that were set on the command line take precedence over every other
// source.
//
// Returns the loaded config, the path of the config file (empty if none was
// found), and any error encountered.
func Load(explicitPath string, flags *pflag.FlagSet) (*Config, string, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, "", fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	path, err := findConfigFile(explicitPath)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, path, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, path, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, path, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("metadata", "schema.graphql")
	v.SetDefault("roots", []string{})
	v.SetDefault("skip_overs", []map[string]any{})

	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.timeout", 10*time.Second)
	v.SetDefault("server.pretty", false)

	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.service", "fetchgraph")

	v.SetDefault("planner.max_depth", 0)
}

func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}
	for _, name := range FileNames {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	return "", nil
}

// RootMap parses Roots.
func (c *Config) RootMap() (map[string]string, error) {
	out := make(map[string]string, len(c.Roots))
	for _, r := range c.Roots {
		field, typ, ok := strings.Cut(r, "=")
		field, typ = strings.TrimSpace(field), strings.TrimSpace(typ)
		if !ok || field == "" || typ == "" {
			return nil, fmt.Errorf("invalid root %q, want field=Type", r)
		}
		if prev, dup := out[field]; dup && prev != typ {
			return nil, fmt.Errorf("root %s mapped to both %s and %s", field, prev, typ)
		}
		out[field] = typ
	}
	return out, nil
}

// Rules converts the configured skip-overs.
func (c *Config) Rules() []selection.SkipOver {
	out := make([]selection.SkipOver, len(c.SkipOvers))
	for i, s := range c.SkipOvers {
		out[i] = selection.SkipOver{Field: s.Field, Target: s.Target, Type: s.Type, SingleUse: s.SingleUse}
	}
	return out
}
