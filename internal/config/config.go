// Package config loads and validates the connector configuration.
//
// Configuration is read with viper from a JSON or YAML file, overlaid with
// COMMONROOM_* environment variables and defaults, then checked against an
// embedded CUE schema. Every violation is reported at once.
package config

import (
	_ "embed"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"

	"github.com/observablehq/airbyte/internal/fields"
	"github.com/observablehq/airbyte/internal/retry"
)

//go:embed schema.cue
var schemaCUE string

// EnvPrefix prefixes environment overrides, e.g. COMMONROOM_API_TOKEN.
const EnvPrefix = "COMMONROOM"

// Defaults.
const (
	DefaultEmailField    = "email"
	DefaultSource        = "Airbyte"
	DefaultMaxWorkers    = 20
	DefaultMaxAttempts   = 3
	DefaultBackoffUnitMS = 1000
)

// FieldMapping maps a record key to a remote field.
type FieldMapping struct {
	Source string `mapstructure:"source" json:"source"`
	API    string `mapstructure:"api" json:"api"`
}

// Config is the validated connector configuration.
type Config struct {
	APIToken      string         `mapstructure:"api_token" json:"api_token"`
	EmailField    string         `mapstructure:"email_field" json:"email_field"`
	MemberFields  []FieldMapping `mapstructure:"member_fields" json:"member_fields"`
	CustomFields  []FieldMapping `mapstructure:"custom_fields" json:"custom_fields"`
	Source        string         `mapstructure:"source" json:"source"`
	MaxWorkers    int            `mapstructure:"max_workers" json:"max_workers"`
	MaxAttempts   int            `mapstructure:"max_attempts" json:"max_attempts"`
	BackoffUnitMS int            `mapstructure:"backoff_unit_ms" json:"backoff_unit_ms"`
	BaseURL       string         `mapstructure:"base_url" json:"base_url"`
}

// Load reads the configuration at path. An empty path uses only defaults
// and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("email_field", DefaultEmailField)
	v.SetDefault("source", DefaultSource)
	v.SetDefault("max_workers", DefaultMaxWorkers)
	v.SetDefault("max_attempts", DefaultMaxAttempts)
	v.SetDefault("backoff_unit_ms", DefaultBackoffUnitMS)
	v.SetDefault("base_url", "")
	v.SetDefault("member_fields", []FieldMapping{})
	v.SetDefault("custom_fields", []FieldMapping{})

	v.SetEnvPrefix(EnvPrefix)
	for _, key := range []string{"api_token", "base_url", "max_workers"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if filepath.Ext(path) == "" {
			v.SetConfigType("json")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Problem is one schema violation.
type Problem struct {
	Path    string
	Message string
}

// ValidationError lists every schema violation of a configuration.
type ValidationError struct {
	Problems []Problem
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.Message
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

// Validate checks cfg against the embedded CUE schema.
func Validate(cfg *Config) error {
	normalized := *cfg
	if normalized.MemberFields == nil {
		normalized.MemberFields = []FieldMapping{}
	}
	if normalized.CustomFields == nil {
		normalized.CustomFields = []FieldMapping{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := ctx.Encode(normalized)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	err := schema.Unify(value).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	verr := &ValidationError{}
	for _, e := range cueerrors.Errors(err) {
		path := strings.Join(e.Path(), ".")
		msg := e.Error()
		if path != "" && !strings.Contains(msg, path) {
			msg = path + ": " + msg
		}
		verr.Problems = append(verr.Problems, Problem{Path: path, Message: msg})
	}
	if len(verr.Problems) == 0 {
		verr.Problems = []Problem{{Message: err.Error()}}
	}
	return verr
}

// IdentityMappings returns the member field mappings in configured order.
func (c *Config) IdentityMappings() fields.Mappings {
	return toMappings(c.MemberFields)
}

// CustomMappings returns the custom field mappings in configured order.
func (c *Config) CustomMappings() fields.Mappings {
	return toMappings(c.CustomFields)
}

// RetryPolicy returns the retry policy for remote writes.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.MaxAttempts,
		Unit:        time.Duration(c.BackoffUnitMS) * time.Millisecond,
	}
}

func toMappings(in []FieldMapping) fields.Mappings {
	out := make(fields.Mappings, len(in))
	for i, m := range in {
		out[i] = fields.Mapping{Source: m.Source, Remote: m.API}
	}
	return out
}
