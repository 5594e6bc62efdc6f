// internal/rules/selfcheck_test.go
package rules

import (
	"errors"
	"testing"

	"github.com/solatis/pmengine/internal/types"
)

func TestSelfCheck(t *testing.T) {
	tests := []struct {
		name        string
		conditions  []types.Clause
		actions     []types.Action
		wantErr     error
		wantClause  int
		wantActions int
	}{
		{
			name:        "repeated condition dropped",
			conditions:  []types.Clause{{cond("X", "1"), cond("X", "1")}},
			actions:     []types.Action{{Variable: "drop", Value: "true"}},
			wantClause:  1,
			wantActions: 1,
		},
		{
			name:        "repeat differing only in case dropped",
			conditions:  []types.Clause{{cond("mac", "AA:BB"), cond("MAC", "aa:bb")}},
			actions:     []types.Action{{Variable: "drop", Value: "true"}},
			wantClause:  1,
			wantActions: 1,
		},
		{
			name:       "conflicting condition values",
			conditions: []types.Clause{{cond("X", "1"), cond("X", "2")}},
			actions:    []types.Action{{Variable: "drop", Value: "true"}},
			wantErr:    types.ErrSelfConflictingConditions,
		},
		{
			name: "same variable in different clauses is fine",
			conditions: []types.Clause{
				{cond("X", "1")},
				{cond("X", "2")},
			},
			actions:     []types.Action{{Variable: "drop", Value: "true"}},
			wantClause:  1,
			wantActions: 1,
		},
		{
			name:       "repeated action dropped",
			conditions: []types.Clause{{cond("X", "1")}},
			actions: []types.Action{
				{Variable: "queue", Value: "2"},
				{Variable: "queue", Value: "2"},
				{Variable: "drop", Value: "false"},
			},
			wantClause:  1,
			wantActions: 2,
		},
		{
			name:       "conflicting actions",
			conditions: []types.Clause{{cond("X", "1")}},
			actions: []types.Action{
				{Variable: "queue", Value: "2"},
				{Variable: "queue", Value: "3"},
			},
			wantErr: types.ErrSelfConflictingActions,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := types.Rule{Conditions: tt.conditions, Actions: tt.actions}
			err := SelfCheck(&r)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || !errors.Is(err, types.ErrFormal) {
					t.Fatalf("SelfCheck() error = %v, want %v wrapped in ErrFormal", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SelfCheck() unexpected error = %v", err)
			}
			if len(r.Conditions[0]) != tt.wantClause {
				t.Errorf("first clause has %d conditions, want %d", len(r.Conditions[0]), tt.wantClause)
			}
			if len(r.Actions) != tt.wantActions {
				t.Errorf("got %d actions, want %d", len(r.Actions), tt.wantActions)
			}
		})
	}
}

func TestSelfCheck_KeepsFirstOccurrence(t *testing.T) {
	r := types.Rule{
		Conditions: []types.Clause{{cond("Port", "80"), cond("port", "80")}},
		Actions:    []types.Action{{Variable: "drop", Value: "true"}},
	}
	if err := SelfCheck(&r); err != nil {
		t.Fatalf("SelfCheck() error = %v", err)
	}
	if r.Conditions[0][0].Variable != "Port" {
		t.Errorf("kept %q, want first occurrence %q", r.Conditions[0][0].Variable, "Port")
	}
}
