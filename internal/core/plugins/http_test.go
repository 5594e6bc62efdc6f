package plugins

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/pmengine/internal/types"
)

type recordedCall struct {
	path string
	user string
	pass string
	rule types.Rule
}

func newPluginServer(t *testing.T, status func(path string) int) (*httptest.Server, func() []recordedCall) {
	t.Helper()
	var mu sync.Mutex
	var calls []recordedCall

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var rule types.Rule
		_ = json.Unmarshal(body, &rule)
		user, pass, _ := r.BasicAuth()

		mu.Lock()
		calls = append(calls, recordedCall{path: r.URL.Path, user: user, pass: pass, rule: rule})
		mu.Unlock()

		code := status(r.URL.Path)
		w.WriteHeader(code)
		if code == http.StatusOK {
			io.WriteString(w, "ok")
		} else {
			io.WriteString(w, "Formal error: 'foo' is not a valid condition variable.")
		}
	}))
	t.Cleanup(srv.Close)

	return srv, func() []recordedCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedCall(nil), calls...)
	}
}

func sampleRule() types.Rule {
	return types.Rule{
		ID:         7,
		Type:       "FIREWALL",
		Priority:   5,
		Form:       types.FormDNF,
		Conditions: []types.Clause{{{Variable: "ip", Value: "10.0.0.1"}}},
		Actions:    []types.Action{{Variable: "drop", Value: "true"}},
		State:      types.StateNew,
	}
}

func TestHTTP_Endpoints(t *testing.T) {
	srv, calls := newPluginServer(t, func(string) int { return http.StatusOK })
	h, err := NewHTTP(srv.URL+"/onos/", time.Second, WithBasicAuth("onos", "rocks"))
	require.NoError(t, err)

	ctx := context.Background()
	rule := sampleRule()
	require.NoError(t, h.FormalValidation(ctx, rule))
	require.NoError(t, h.ContextValidation(ctx, rule))
	require.NoError(t, h.Enforce(ctx, rule))
	require.NoError(t, h.Remove(ctx, rule))

	got := calls()
	require.Len(t, got, 4)
	assert.Equal(t, "/onos/firewallpolicy/formalvalidation", got[0].path)
	assert.Equal(t, "/onos/firewallpolicy/contextvalidation", got[1].path)
	assert.Equal(t, "/onos/firewallpolicy/enforce", got[2].path)
	assert.Equal(t, "/onos/firewallpolicy/remove", got[3].path)
	for _, c := range got {
		assert.Equal(t, "onos", c.user)
		assert.Equal(t, "rocks", c.pass)
		assert.Equal(t, 7, c.rule.ID)
		assert.Equal(t, "10.0.0.1", c.rule.Conditions[0][0].Value)
	}
}

func TestHTTP_RejectionCarriesBody(t *testing.T) {
	srv, _ := newPluginServer(t, func(string) int { return http.StatusBadRequest })
	h, err := NewHTTP(srv.URL, time.Second)
	require.NoError(t, err)

	err = h.FormalValidation(context.Background(), sampleRule())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'foo' is not a valid condition variable")
	assert.Contains(t, err.Error(), "status 400")
}

func TestHTTP_Unreachable(t *testing.T) {
	srv, _ := newPluginServer(t, func(string) int { return http.StatusOK })
	url := srv.URL
	srv.Close()

	h, err := NewHTTP(url, time.Second)
	require.NoError(t, err)
	err = h.ContextValidation(context.Background(), sampleRule())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestHTTP_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	h, err := NewHTTP(srv.URL, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Error(t, h.Enforce(context.Background(), sampleRule()))
}

func TestNewHTTP_RequiresURL(t *testing.T) {
	_, err := NewHTTP("", time.Second)
	assert.Error(t, err)
}
