package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/pmengine/internal/core/journal"
	"github.com/solatis/pmengine/internal/core/manager"
	"github.com/solatis/pmengine/internal/types"
)

type acceptAll struct{}

func (acceptAll) Lookup(string) (manager.Plugin, error)               { return acceptAll{}, nil }
func (acceptAll) FormalValidation(context.Context, types.Rule) error  { return nil }
func (acceptAll) ContextValidation(context.Context, types.Rule) error { return nil }
func (acceptAll) Enforce(context.Context, types.Rule) error           { return nil }
func (acceptAll) Remove(context.Context, types.Rule) error            { return nil }

type fakeHistory struct {
	events []journal.Event
	err    error
}

func (f fakeHistory) History(context.Context, int) ([]journal.Event, error) {
	return f.events, f.err
}

func newRouter(t *testing.T, history HistoryReader) (http.Handler, *manager.Manager) {
	t.Helper()
	m, err := manager.New(acceptAll{})
	require.NoError(t, err)
	require.True(t, m.RegisterType(context.Background(), "FIREWALL").Success)

	svc, err := NewService(m, history, 1<<20, nil)
	require.NoError(t, err)
	r := chi.NewRouter()
	svc.Routes(r)
	return r, m
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

const firewallPolicy = `{"policies": [{
	"type": "firewall", "priority": %s, "form": "DNF",
	"conditions": [[{"variable": "ip", "value": "%s"}]],
	"actions": [{"variable": "drop", "value": "%s"}]
}]}`

func policy(priority, ip, drop string) string {
	return fmt.Sprintf(firewallPolicy, priority, ip, drop)
}

func TestPush(t *testing.T) {
	h, _ := newRouter(t, nil)

	rec, out := do(t, h, http.MethodPost, "/policies", policy("5", "10.0.0.1", "true"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(types.CodeSuccess), out["code"])
	assert.Equal(t, []any{float64(1)}, out["ids"])

	rec, out = do(t, h, http.MethodPost, "/policies", policy("5", "10.0.0.1", "true"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, float64(types.CodeDuplicate), out["code"])

	rec, out = do(t, h, http.MethodPost, "/policies", policy("3", "10.0.0.1", "false"))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "conflicting lower priority rule is kept out")
	assert.Equal(t, float64(types.CodeRejected), out["code"])
}

func TestPush_BadBodies(t *testing.T) {
	h, _ := newRouter(t, nil)

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"not json", "{policies", parseErrorMessage},
		{"empty body", "", parseErrorMessage},
		{"no policies", `{"policies": []}`, "There is no new policy."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := do(t, h, http.MethodPost, "/policies", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, false, out["success"])
			assert.Contains(t, out["messages"], tt.message)
		})
	}
}

func TestPush_YAML(t *testing.T) {
	h, m := newRouter(t, nil)

	body := `
policies:
  - type: FIREWALL
    priority: 2
    form: CNF
    conditions:
      - [{variable: ip, value: 10.0.0.1}, {variable: ip, value: 10.0.0.2}]
    actions:
      - {variable: drop, value: "true"}
`
	req := httptest.NewRequest(http.MethodPost, "/policies", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/yaml")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	r, err := m.Get(1)
	require.NoError(t, err)
	assert.Equal(t, types.FormDNF, r.Form)
	assert.Len(t, r.Conditions, 2)
}

func TestReads(t *testing.T) {
	h, _ := newRouter(t, nil)
	do(t, h, http.MethodPost, "/policies", policy("5", "10.0.0.1", "true"))
	do(t, h, http.MethodPost, "/policies", policy("3", "10.0.0.1", "false"))

	count := func(path string) int {
		rec, out := do(t, h, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
		return len(out["policies"].([]any))
	}
	assert.Equal(t, 2, count("/policies"))
	assert.Equal(t, 1, count("/policies/active"))
	assert.Equal(t, 1, count("/policies/state/pending"))
	assert.Equal(t, 1, count("/policies/state/ENFORCED"))
	assert.Equal(t, 2, count("/policies/type/firewall"))
	assert.Equal(t, 0, count("/policies/type/QOS"))
	assert.Equal(t, 1, count("/policies/id/2"))

	rec, out := do(t, h, http.MethodGet, "/policies/id/9", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["messages"], "No Policy with ID 9")

	_, out = do(t, h, http.MethodGet, "/policies/num", "")
	assert.Contains(t, out["messages"], "The number of policies is 2")

	_, out = do(t, h, http.MethodGet, "/policies/types", "")
	assert.Equal(t, []any{"FIREWALL"}, out["messages"])

	rec, _ = do(t, h, http.MethodGet, "/policies/state/bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/policies/id/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLifecycleRoutes(t *testing.T) {
	h, m := newRouter(t, nil)
	do(t, h, http.MethodPost, "/policies", policy("5", "10.0.0.1", "true"))
	do(t, h, http.MethodPost, "/policies", policy("3", "10.0.0.1", "false"))

	rec, _ := do(t, h, http.MethodGet, "/policies/activate/2", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "still outranked")

	rec, _ = do(t, h, http.MethodPut, "/policies/2/priority/9", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	r, _ := m.Get(2)
	assert.Equal(t, types.StateEnforced, r.State)

	rec, _ = do(t, h, http.MethodDelete, "/policies/deactivate/2", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodDelete, "/policies/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, http.MethodDelete, "/policies/1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out := do(t, h, http.MethodDelete, "/policies", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, out["messages"], "All policies deleted")
	assert.Zero(t, m.Count())
}

func TestPolicyTypeRoutes(t *testing.T) {
	h, m := newRouter(t, nil)

	rec, out := do(t, h, http.MethodPut, "/policytype/register/qos", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, out["messages"], "Policy type QOS successfully added")

	do(t, h, http.MethodPost, "/policies", policy("5", "10.0.0.1", "true"))

	rec, out = do(t, h, http.MethodDelete, "/policytype/deregister/firewall", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	orphans := out["policies"].([]any)
	require.Len(t, orphans, 1)
	assert.Equal(t, float64(1), orphans[0].(map[string]any)["id"])
	assert.Zero(t, m.Count())
	assert.Equal(t, []string{"QOS"}, m.Types())
}

func TestHistory(t *testing.T) {
	h, _ := newRouter(t, nil)
	rec, _ := do(t, h, http.MethodGet, "/policies/1/history", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h, _ = newRouter(t, fakeHistory{events: []journal.Event{{RuleID: 1, From: types.StateNew, To: types.StateEnforced}}})
	rec, out := do(t, h, http.MethodGet, "/policies/1/history", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["events"], 1)

	h, _ = newRouter(t, fakeHistory{err: errors.New("db down")})
	rec, _ = do(t, h, http.MethodGet, "/policies/1/history", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(nil, nil, 1, nil)
	assert.Error(t, err)

	m, err := manager.New(acceptAll{})
	require.NoError(t, err)
	_, err = NewService(m, nil, 0, nil)
	assert.Error(t, err)
}
