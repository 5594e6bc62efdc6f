// Package config provides configuration management for the policy engine.
package config

import (
	"os"
	"strings"
	"time"
)

// Plugin drivers.
const (
	DriverHTTP  = "http"
	DriverLocal = "local"
)

// EngineConfig holds the complete pmengine configuration.
type EngineConfig struct {
	Server   ServerConfig
	Database DatabaseConfig
	Engine   EngineSettings
	Plugins  PluginsConfig
}

// ServerConfig holds configuration for the REST and gRPC listeners.
type ServerConfig struct {
	Host           string
	HTTPPort       int
	GRPCPort       int
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	// RateLimit is the sustained request rate per second for each client IP.
	RateLimit float64
	RateBurst int
}

// DatabaseConfig holds the journal database location. An empty URL runs
// the engine without a journal.
type DatabaseConfig struct {
	URL string
}

// EngineSettings holds boot-time engine state.
type EngineSettings struct {
	// PolicyTypes are registered before the first request is served.
	PolicyTypes []string
	// BootstrapFile is a rule set pushed once at boot.
	BootstrapFile string
}

// PluginsConfig describes how each policy type reaches its plugin.
type PluginsConfig struct {
	// DefaultURL is the base URL of the HTTP plugin used by types without
	// their own entry.
	DefaultURL string
	Timeout    time.Duration
	// User and Password are HTTP basic auth credentials, environment only.
	User     string
	Password string
	// Types is keyed by upper-case policy type.
	Types map[string]PluginTypeConfig
}

// PluginTypeConfig configures the plugin for one policy type. Variable names
// are matched case-insensitively.
type PluginTypeConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`

	// Local driver rules. Empty lists and maps impose no constraint.
	ConditionVariables []string            `mapstructure:"condition_variables"`
	ActionVariables    []string            `mapstructure:"action_variables"`
	ConditionKinds     map[string]string   `mapstructure:"condition_kinds"`
	ActionKinds        map[string]string   `mapstructure:"action_kinds"`
	ConditionValues    map[string][]string `mapstructure:"condition_values"`
	ActionValues       map[string][]string `mapstructure:"action_values"`
	// ConditionRequires maps a variable to alternative sets of variables;
	// at least one set must be present in the same clause.
	ConditionRequires map[string][][]string `mapstructure:"condition_requires"`
	// ConditionExcludes maps a variable to variables it may not share a clause with.
	ConditionExcludes map[string][]string   `mapstructure:"condition_excludes"`
	ActionRequires    map[string][][]string `mapstructure:"action_requires"`
	ActionExcludes    map[string][]string   `mapstructure:"action_excludes"`
	// FormalExpressions are CEL expressions over rule that must all hold.
	FormalExpressions []string `mapstructure:"formal_expressions"`
}

// DefaultEngineConfig returns configuration with default values.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			HTTPPort:       8181,
			GRPCPort:       50051,
			RequestTimeout: 30 * time.Second,
			MaxBodyBytes:   1 << 20,
			RateLimit:      100,
			RateBurst:      200,
		},
		Plugins: PluginsConfig{
			Timeout: 10 * time.Second,
			Types:   map[string]PluginTypeConfig{},
		},
	}
}

// PluginCredentials reads HTTP plugin credentials from PM_PLUGINS_USER and
// PM_PLUGINS_PASSWORD. Both are empty when unset.
func PluginCredentials() (user, password string) {
	return strings.TrimSpace(os.Getenv("PM_PLUGINS_USER")), os.Getenv("PM_PLUGINS_PASSWORD")
}
