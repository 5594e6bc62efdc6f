package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solatis/pmengine/internal/core/manager"
	"github.com/solatis/pmengine/internal/types"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level, format string
		wantErr       bool
	}{
		{"info", "json", false},
		{"debug", "console", false},
		{"warn", "text", false},
		{"loud", "json", true},
		{"info", "xml", true},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			l, err := newLogger(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestPushCommand(t *testing.T) {
	var got types.RuleSet
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/policies", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":3,"success":true,"messages":["Policy [1] enforced."],"ids":[1]}`))
	}))
	defer srv.Close()

	file := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
policies:
  - type: firewall
    priority: 5
    form: DNF
    conditions: [[{variable: ip, value: 10.0.0.1}]]
    actions: [{variable: drop, value: "true"}]
`), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"push", "-f", file, "--server", srv.URL})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	require.Len(t, got.Policies, 1)
	assert.Equal(t, "firewall", got.Policies[0].Type)
	assert.Contains(t, out.String(), "Policy [1] enforced.")
}

func TestBootstrap(t *testing.T) {
	m, err := manager.New(acceptAll{})
	require.NoError(t, err)
	ctx := context.Background()
	require.True(t, m.RegisterType(ctx, "FIREWALL").Success)

	file := filepath.Join(t.TempDir(), "bootstrap.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"policies": [
		{"type": "FIREWALL", "priority": 2, "form": "DNF",
		 "conditions": [[{"variable": "ip", "value": "10.0.0.1"}]],
		 "actions": [{"variable": "drop", "value": "true"}]},
		{"type": "UNKNOWN", "priority": 1, "form": "DNF",
		 "conditions": [[{"variable": "ip", "value": "10.0.0.1"}]],
		 "actions": [{"variable": "drop", "value": "true"}]}
	]}`), 0o600))

	require.NoError(t, bootstrap(ctx, m, file, zap.NewNop()))
	assert.Len(t, m.Active(), 1)

	assert.Error(t, bootstrap(ctx, m, filepath.Join(t.TempDir(), "missing.json"), zap.NewNop()))
}

type acceptAll struct{}

func (acceptAll) Lookup(string) (manager.Plugin, error)               { return acceptAll{}, nil }
func (acceptAll) FormalValidation(context.Context, types.Rule) error  { return nil }
func (acceptAll) ContextValidation(context.Context, types.Rule) error { return nil }
func (acceptAll) Enforce(context.Context, types.Rule) error           { return nil }
func (acceptAll) Remove(context.Context, types.Rule) error            { return nil }
