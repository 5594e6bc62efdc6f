package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*EngineConfig, error) {
	v := viper.New()

	// Set defaults matching DefaultEngineConfig
	d := DefaultEngineConfig()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.http_port", d.Server.HTTPPort)
	v.SetDefault("server.grpc_port", d.Server.GRPCPort)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)
	v.SetDefault("server.rate_limit", d.Server.RateLimit)
	v.SetDefault("server.rate_burst", d.Server.RateBurst)
	v.SetDefault("database.url", "")
	v.SetDefault("engine.policy_types", []string{})
	v.SetDefault("engine.bootstrap_file", "")
	v.SetDefault("plugins.default_url", "")
	v.SetDefault("plugins.timeout", "10s")

	// Bind environment variables with PM_ prefix
	v.SetEnvPrefix("PM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Security check: reject credentials in config files
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &EngineConfig{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			HTTPPort:       v.GetInt("server.http_port"),
			GRPCPort:       v.GetInt("server.grpc_port"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
			MaxBodyBytes:   v.GetInt64("server.max_body_bytes"),
			RateLimit:      v.GetFloat64("server.rate_limit"),
			RateBurst:      v.GetInt("server.rate_burst"),
		},
		Database: DatabaseConfig{
			URL: v.GetString("database.url"),
		},
		Engine: EngineSettings{
			PolicyTypes:   splitList(v.GetStringSlice("engine.policy_types")),
			BootstrapFile: v.GetString("engine.bootstrap_file"),
		},
		Plugins: PluginsConfig{
			DefaultURL: v.GetString("plugins.default_url"),
			Timeout:    v.GetDuration("plugins.timeout"),
			Types:      map[string]PluginTypeConfig{},
		},
	}
	cfg.Plugins.User, cfg.Plugins.Password = PluginCredentials()

	// Viper lower-cases map keys; policy types are upper-case everywhere else.
	var types map[string]PluginTypeConfig
	if err := v.UnmarshalKey("plugins.types", &types); err != nil {
		return nil, fmt.Errorf("invalid plugins.types: %w", err)
	}
	for name, t := range types {
		t.Driver = strings.ToLower(strings.TrimSpace(t.Driver))
		if t.Driver == "" {
			t.Driver = DriverHTTP
		}
		cfg.Plugins.Types[strings.ToUpper(name)] = t
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// splitList accepts both YAML lists and comma-separated environment values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, s := range strings.Split(item, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// validateConfig checks port ranges, positive limits and plugin drivers.
func validateConfig(cfg *EngineConfig) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.GRPCPort <= 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("grpc_port must be between 1 and 65535, got %d", cfg.Server.GRPCPort)
	}
	if cfg.Server.HTTPPort == cfg.Server.GRPCPort {
		return fmt.Errorf("http_port and grpc_port must differ, both are %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive, got %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Server.RateLimit <= 0 {
		return fmt.Errorf("rate_limit must be positive, got %v", cfg.Server.RateLimit)
	}
	if cfg.Server.RateBurst <= 0 {
		return fmt.Errorf("rate_burst must be positive, got %d", cfg.Server.RateBurst)
	}
	if cfg.Plugins.Timeout <= 0 {
		return fmt.Errorf("plugins.timeout must be positive, got %v", cfg.Plugins.Timeout)
	}
	if cfg.Plugins.DefaultURL != "" {
		if err := validateURL(cfg.Plugins.DefaultURL); err != nil {
			return fmt.Errorf("plugins.default_url: %w", err)
		}
	}
	for name, t := range cfg.Plugins.Types {
		switch t.Driver {
		case DriverLocal:
		case DriverHTTP:
			if t.URL == "" && cfg.Plugins.DefaultURL == "" {
				return fmt.Errorf("plugins.types.%s: http driver needs url or plugins.default_url", name)
			}
			if t.URL != "" {
				if err := validateURL(t.URL); err != nil {
					return fmt.Errorf("plugins.types.%s.url: %w", name, err)
				}
			}
		default:
			return fmt.Errorf("plugins.types.%s: driver must be %q or %q, got %q", name, DriverHTTP, DriverLocal, t.Driver)
		}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only credentials (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("plugins.password") || v.InConfig("password") {
		return fmt.Errorf("plugin credentials not allowed in config files (use PM_PLUGINS_PASSWORD environment variable)")
	}
	return nil
}
