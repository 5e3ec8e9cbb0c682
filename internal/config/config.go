// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package config loads warden's configuration from defaults, an optional
// YAML file and WARDEN_* environment variables.
package config

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sigil-dev/warden/internal/permission"
	"github.com/sigil-dev/warden/internal/provider"
	"github.com/sigil-dev/warden/internal/secrets"
	"github.com/sigil-dev/warden/internal/security"
	"github.com/sigil-dev/warden/internal/store"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g. WARDEN_AGENT_MAX_TURNS.
const EnvPrefix = "WARDEN"

// Config is the top-level warden configuration.
type Config struct {
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
	Models      ModelsConfig              `mapstructure:"models"`
	Agent       AgentConfig               `mapstructure:"agent"`
	Tools       ToolsConfig               `mapstructure:"tools"`
	Security    SecurityConfig            `mapstructure:"security"`
	Permissions PermissionsConfig         `mapstructure:"permissions"`
	Context     ContextConfig             `mapstructure:"context"`
	Storage     StorageConfig             `mapstructure:"storage"`
	Audit       AuditConfig               `mapstructure:"audit"`
	Log         LogConfig                 `mapstructure:"log"`
}

// ProviderConfig holds credentials and endpoint for an LLM provider. APIKey
// may be a literal, a keyring://service/key URI or a ${NAME} reference;
// Load resolves the latter two.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// ModelsConfig selects the model, as "provider/model".
type ModelsConfig struct {
	Default   string `mapstructure:"default"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// AgentConfig bounds the orchestration loop.
type AgentConfig struct {
	MaxTurns         int           `mapstructure:"max_turns"`
	DoomThreshold    int           `mapstructure:"doom_threshold"`
	DoomWindow       int           `mapstructure:"doom_window"`
	InferenceTimeout time.Duration `mapstructure:"inference_timeout"`
	ParallelTools    bool          `mapstructure:"parallel_tools"`
	MaxParallelTools int           `mapstructure:"max_parallel_tools"`
	HistoryKeep      int           `mapstructure:"history_keep"`
}

// ToolsConfig sets per-call execution limits.
type ToolsConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	MaxTimeout     time.Duration `mapstructure:"max_timeout"`
}

// SecurityConfig feeds the security validator.
type SecurityConfig struct {
	MaxOutputBytes int   `mapstructure:"max_output_bytes"`
	MaxFileBytes   int64 `mapstructure:"max_file_bytes"`
	AllowNetwork   bool  `mapstructure:"allow_network"`
}

// PermissionsConfig overlays rules on the built-in permission table.
// Keys are tool names or "*" patterns; values are allow, deny, ask or
// ask_once.
type PermissionsConfig struct {
	Rules map[string]string `mapstructure:"rules"`
}

// ContextConfig sizes the context monitor.
type ContextConfig struct {
	Budget int `mapstructure:"budget"`
}

// StorageConfig selects the session store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// AuditConfig locates the audit log directory.
type AuditConfig struct {
	Dir string `mapstructure:"dir"`
}

// LogConfig controls the slog level.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("models.default", "anthropic/claude-sonnet-4-5")
	v.SetDefault("models.max_tokens", 8192)
	v.SetDefault("agent.max_turns", 50)
	v.SetDefault("agent.doom_threshold", 3)
	v.SetDefault("agent.doom_window", 10)
	v.SetDefault("agent.inference_timeout", "5m")
	v.SetDefault("agent.parallel_tools", true)
	v.SetDefault("agent.max_parallel_tools", 4)
	v.SetDefault("agent.history_keep", 200)
	v.SetDefault("tools.default_timeout", "2m")
	v.SetDefault("tools.max_timeout", "10m")
	v.SetDefault("security.max_output_bytes", security.DefaultMaxOutputBytes)
	v.SetDefault("security.max_file_bytes", security.DefaultMaxFileBytes)
	v.SetDefault("security.allow_network", false)
	v.SetDefault("context.budget", 200000)
	v.SetDefault("storage.backend", store.DefaultBackend)
	v.SetDefault("storage.path", "")
	v.SetDefault("audit.dir", "")
	v.SetDefault("log.level", "info")
}

// Load reads configuration from path (when non-empty) over the defaults,
// applies WARDEN_* environment overrides, resolves credential references
// through secretStore and validates the result. A nil secretStore leaves
// keyring URIs unresolvable but still expands ${NAME} references.
func Load(path string, secretStore secrets.Store) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, name := range provider.Names {
		_ = v.BindEnv("providers." + string(name) + ".api_key")
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, wardenerr.Errorf(wardenerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	if err := secrets.ResolveViperSecrets(v, secretStore); err != nil {
		return nil, wardenerr.Wrap(err, wardenerr.CodeConfigValidateInvalidValue, "resolving credentials")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, wardenerr.Errorf(wardenerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors, collecting every
// problem rather than stopping at the first.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateModels()...)
	errs = append(errs, c.validateAgent()...)
	errs = append(errs, c.validateLimits()...)
	errs = append(errs, c.validateStorage()...)

	if _, err := c.PermissionRules(); err != nil {
		errs = append(errs, wardenerr.Wrap(err, wardenerr.CodeConfigValidateInvalidValue, "config: permissions.rules"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func invalid(format string, args ...any) error {
	return wardenerr.Errorf(wardenerr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func (c *Config) validateModels() []error {
	var errs []error

	name, model := c.Model()
	switch {
	case c.Models.Default == "":
		errs = append(errs, invalid("models.default must not be empty"))
	case name == "" || model == "":
		errs = append(errs, invalid("models.default must be in \"provider/model\" format, got %q", c.Models.Default))
	case !knownProvider(name):
		errs = append(errs, invalid("models.default %q names unknown provider %q", c.Models.Default, name))
	}

	for name := range c.Providers {
		if !knownProvider(name) {
			errs = append(errs, invalid("providers.%s is not a supported provider", name))
		}
	}

	if c.Models.MaxTokens <= 0 {
		errs = append(errs, invalid("models.max_tokens must be greater than 0, got %d", c.Models.MaxTokens))
	}

	return errs
}

func (c *Config) validateAgent() []error {
	var errs []error
	a := c.Agent

	if a.MaxTurns <= 0 {
		errs = append(errs, invalid("agent.max_turns must be greater than 0, got %d", a.MaxTurns))
	}
	if a.DoomThreshold < 2 {
		errs = append(errs, invalid("agent.doom_threshold must be at least 2, got %d", a.DoomThreshold))
	}
	if a.DoomWindow < a.DoomThreshold {
		errs = append(errs, invalid("agent.doom_window (%d) must not be smaller than agent.doom_threshold (%d)",
			a.DoomWindow, a.DoomThreshold))
	}
	if a.InferenceTimeout <= 0 {
		errs = append(errs, invalid("agent.inference_timeout must be positive, got %s", a.InferenceTimeout))
	}
	if a.MaxParallelTools <= 0 {
		errs = append(errs, invalid("agent.max_parallel_tools must be greater than 0, got %d", a.MaxParallelTools))
	}
	if a.HistoryKeep < 0 {
		errs = append(errs, invalid("agent.history_keep must not be negative, got %d", a.HistoryKeep))
	}

	return errs
}

func (c *Config) validateLimits() []error {
	var errs []error

	if c.Tools.DefaultTimeout <= 0 {
		errs = append(errs, invalid("tools.default_timeout must be positive, got %s", c.Tools.DefaultTimeout))
	}
	if c.Tools.MaxTimeout < c.Tools.DefaultTimeout {
		errs = append(errs, invalid("tools.max_timeout (%s) must not be below tools.default_timeout (%s)",
			c.Tools.MaxTimeout, c.Tools.DefaultTimeout))
	}
	if c.Security.MaxOutputBytes <= 0 {
		errs = append(errs, invalid("security.max_output_bytes must be greater than 0, got %d", c.Security.MaxOutputBytes))
	}
	if c.Security.MaxFileBytes <= 0 {
		errs = append(errs, invalid("security.max_file_bytes must be greater than 0, got %d", c.Security.MaxFileBytes))
	}
	if c.Context.Budget <= 0 {
		errs = append(errs, invalid("context.budget must be greater than 0, got %d", c.Context.Budget))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	valid := map[string]bool{"sqlite": true, "json": true}
	if !valid[c.Storage.Backend] {
		return []error{invalid("storage.backend must be one of [sqlite, json], got %q", c.Storage.Backend)}
	}
	return nil
}

// Model splits models.default into provider and model name. OpenRouter
// model names keep their own vendor prefix: "openrouter/openai/gpt-4.1"
// yields ("openrouter", "openai/gpt-4.1").
func (c *Config) Model() (providerName, model string) {
	providerName, model, _ = strings.Cut(c.Models.Default, "/")
	return providerName, model
}

// APIKey returns the resolved API key configured for a provider.
func (c *Config) APIKey(name string) string {
	return c.Providers[name].APIKey
}

// PermissionRules converts permissions.rules into permission levels.
func (c *Config) PermissionRules() (map[string]permission.Level, error) {
	return permission.ConvertRules(c.Permissions.Rules)
}

// SlogLevel returns the configured log level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	l, err := ParseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// ParseLevel maps debug, info, warn and error onto slog levels. An empty
// string means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, invalid("log.level must be one of [debug, info, warn, error], got %q", s)
	}
}

func knownProvider(name string) bool {
	for _, n := range provider.Names {
		if string(n) == name {
			return true
		}
	}
	return false
}
