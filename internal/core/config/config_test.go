package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	tmpfile.Close()
	return tmpfile.Name()
}

func TestPluginCredentials(t *testing.T) {
	t.Setenv("PM_PLUGINS_USER", " onos ")
	t.Setenv("PM_PLUGINS_PASSWORD", "rocks")

	user, password := PluginCredentials()
	if user != "onos" {
		t.Errorf("expected user onos, got %q", user)
	}
	if password != "rocks" {
		t.Errorf("expected password rocks, got %q", password)
	}
}

func TestLoadConfig(t *testing.T) {
	// Clean environment
	os.Unsetenv("PM_SERVER_HOST")
	os.Unsetenv("PM_SERVER_HTTP_PORT")
	os.Unsetenv("PM_ENGINE_POLICY_TYPES")

	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.Host != "0.0.0.0" {
			t.Errorf("expected host 0.0.0.0, got %s", cfg.Server.Host)
		}
		if cfg.Server.HTTPPort != 8181 {
			t.Errorf("expected http_port 8181, got %d", cfg.Server.HTTPPort)
		}
		if cfg.Server.GRPCPort != 50051 {
			t.Errorf("expected grpc_port 50051, got %d", cfg.Server.GRPCPort)
		}
		if cfg.Server.RequestTimeout != 30*time.Second {
			t.Errorf("expected timeout 30s, got %v", cfg.Server.RequestTimeout)
		}
		if cfg.Server.MaxBodyBytes != 1<<20 {
			t.Errorf("expected max_body_bytes 1MiB, got %d", cfg.Server.MaxBodyBytes)
		}
		if cfg.Server.RateLimit != 100 || cfg.Server.RateBurst != 200 {
			t.Errorf("expected rate 100/200, got %v/%d", cfg.Server.RateLimit, cfg.Server.RateBurst)
		}
		if cfg.Plugins.Timeout != 10*time.Second {
			t.Errorf("expected plugin timeout 10s, got %v", cfg.Plugins.Timeout)
		}
		if cfg.Database.URL != "" {
			t.Errorf("expected no database by default, got %s", cfg.Database.URL)
		}
		if len(cfg.Plugins.Types) != 0 {
			t.Errorf("expected no plugin types, got %v", cfg.Plugins.Types)
		}
	})

	t.Run("environment override", func(t *testing.T) {
		t.Setenv("PM_SERVER_HTTP_PORT", "9999")
		t.Setenv("PM_SERVER_HOST", "127.0.0.1")
		t.Setenv("PM_ENGINE_POLICY_TYPES", "firewall,qos")

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.HTTPPort != 9999 {
			t.Errorf("expected port 9999, got %d", cfg.Server.HTTPPort)
		}
		if cfg.Server.Host != "127.0.0.1" {
			t.Errorf("expected host 127.0.0.1, got %s", cfg.Server.Host)
		}
		if len(cfg.Engine.PolicyTypes) != 2 || cfg.Engine.PolicyTypes[1] != "qos" {
			t.Errorf("expected [firewall qos], got %v", cfg.Engine.PolicyTypes)
		}
	})

	t.Run("plugin types from file", func(t *testing.T) {
		path := writeConfig(t, `plugins:
  default_url: "http://localhost:8181/onos"
  types:
    firewall:
      driver: local
      condition_variables: [ip, port]
      action_variables: [drop]
      condition_kinds:
        ip: ipv4
        port: port
      action_values:
        drop: ["true", "false"]
      formal_expressions:
        - "rule.priority <= 100"
    qos: {}
`)
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		fw, ok := cfg.Plugins.Types["FIREWALL"]
		if !ok {
			t.Fatalf("expected FIREWALL entry, got %v", cfg.Plugins.Types)
		}
		if fw.Driver != DriverLocal {
			t.Errorf("expected local driver, got %q", fw.Driver)
		}
		if len(fw.ConditionVariables) != 2 {
			t.Errorf("expected 2 condition variables, got %v", fw.ConditionVariables)
		}
		if fw.ConditionKinds["ip"] != "ipv4" {
			t.Errorf("expected ip kind ipv4, got %v", fw.ConditionKinds)
		}
		if len(fw.ActionValues["drop"]) != 2 {
			t.Errorf("expected drop values, got %v", fw.ActionValues)
		}
		if len(fw.FormalExpressions) != 1 {
			t.Errorf("expected one expression, got %v", fw.FormalExpressions)
		}
		if qos := cfg.Plugins.Types["QOS"]; qos.Driver != DriverHTTP {
			t.Errorf("expected qos to default to http driver, got %q", qos.Driver)
		}
	})

	t.Run("invalid port range", func(t *testing.T) {
		t.Setenv("PM_SERVER_HTTP_PORT", "70000")

		_, err := LoadConfig("")
		if err == nil {
			t.Error("expected error for port > 65535")
		}
	})

	t.Run("ports must differ", func(t *testing.T) {
		t.Setenv("PM_SERVER_HTTP_PORT", "50051")

		_, err := LoadConfig("")
		if err == nil {
			t.Error("expected error for http_port == grpc_port")
		}
	})

	t.Run("invalid negative values", func(t *testing.T) {
		t.Setenv("PM_SERVER_RATE_BURST", "-1")

		_, err := LoadConfig("")
		if err == nil {
			t.Error("expected error for negative rate_burst")
		}
	})

	t.Run("unknown driver", func(t *testing.T) {
		path := writeConfig(t, `plugins:
  types:
    firewall:
      driver: grpc
`)
		_, err := LoadConfig(path)
		if err == nil {
			t.Error("expected error for unknown driver")
		}
	})

	t.Run("http driver without url", func(t *testing.T) {
		path := writeConfig(t, `plugins:
  types:
    firewall:
      driver: http
`)
		_, err := LoadConfig(path)
		if err == nil {
			t.Error("expected error for http driver without any url")
		}
	})

	t.Run("malformed default url", func(t *testing.T) {
		t.Setenv("PM_PLUGINS_DEFAULT_URL", "localhost:8181")

		_, err := LoadConfig("")
		if err == nil {
			t.Error("expected error for url without scheme")
		}
	})
}
