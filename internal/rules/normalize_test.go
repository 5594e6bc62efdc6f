// internal/rules/normalize_test.go
package rules

import (
	"errors"
	"testing"

	"github.com/solatis/pmengine/internal/types"
)

func validRule() types.Rule {
	return types.Rule{
		Type:     "firewall",
		Priority: 5,
		Form:     "dnf",
		Conditions: []types.Clause{
			{cond("port", "80"), cond("ip", "10.0.0.1")},
		},
		Actions: []types.Action{{Variable: "drop", Value: "true"}},
	}
}

func TestNormalize(t *testing.T) {
	t.Run("canonical form", func(t *testing.T) {
		r := validRule()
		r.Conditions = append(r.Conditions, types.Clause{cond("ip", "10.0.0.0")})
		r.Actions = append(r.Actions, types.Action{Variable: "alert", Value: "on"})

		if err := Normalize(&r); err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if r.Type != "FIREWALL" {
			t.Errorf("Type = %q, want FIREWALL", r.Type)
		}
		if r.Form != types.FormDNF {
			t.Errorf("Form = %q, want DNF", r.Form)
		}
		if r.State != types.StateNew {
			t.Errorf("State = %q, want NEW", r.State)
		}
		if r.Conditions[0][0] != cond("ip", "10.0.0.0") {
			t.Errorf("clauses not sorted: %v", r.Conditions)
		}
		if r.Conditions[1][0] != cond("ip", "10.0.0.1") || r.Conditions[1][1] != cond("port", "80") {
			t.Errorf("clause not sorted: %v", r.Conditions[1])
		}
		if r.Actions[0].Variable != "alert" {
			t.Errorf("actions not sorted: %v", r.Actions)
		}
	})

	t.Run("CNF converted", func(t *testing.T) {
		r := validRule()
		r.Form = "CNF"
		r.Conditions = []types.Clause{
			{cond("port", "80"), cond("port", "443")},
			{cond("ip", "10.0.0.1")},
		}
		if err := Normalize(&r); err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if len(r.Conditions) != 2 {
			t.Fatalf("got %d clauses, want 2", len(r.Conditions))
		}
		for _, clause := range r.Conditions {
			if len(clause) != 2 {
				t.Errorf("clause %v has %d conditions, want 2", clause, len(clause))
			}
		}
	})

	rejects := []struct {
		name    string
		mutate  func(r *types.Rule)
		wantErr error
	}{
		{"missing type", func(r *types.Rule) { r.Type = " " }, types.ErrInvalidRule},
		{"zero priority", func(r *types.Rule) { r.Priority = 0 }, types.ErrInvalidPriority},
		{"unknown form", func(r *types.Rule) { r.Form = "XOR" }, types.ErrInvalidForm},
		{"missing form", func(r *types.Rule) { r.Form = "" }, types.ErrInvalidForm},
		{"no conditions", func(r *types.Rule) { r.Conditions = nil }, types.ErrInvalidRule},
		{"no actions", func(r *types.Rule) { r.Actions = nil }, types.ErrInvalidRule},
		{"empty clause", func(r *types.Rule) { r.Conditions = append(r.Conditions, types.Clause{}) }, types.ErrInvalidRule},
	}
	for _, tt := range rejects {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule()
			tt.mutate(&r)
			err := Normalize(&r)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Normalize() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, types.ErrFormal) {
				t.Errorf("Normalize() error = %v, want wrapped ErrFormal", err)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	a := validRule()
	b := validRule()
	b.Conditions = []types.Clause{{cond("ip", "10.0.0.1"), cond("port", "80")}}

	if !Equal(a, b) {
		t.Errorf("Equal() = false for rules differing only in condition order")
	}

	b.Priority = 6
	if Equal(a, b) {
		t.Errorf("Equal() = true for rules with different priority")
	}

	c := validRule()
	c.Conditions[0][0].Value = "8080"
	if Equal(a, c) {
		t.Errorf("Equal() = true for rules with different conditions")
	}

	d := validRule()
	d.Actions[0].Value = "TRUE"
	if Equal(a, d) {
		t.Errorf("Equal() = true for actions differing in case")
	}
}

func TestEqualConditions_DoesNotMutateInput(t *testing.T) {
	a := []types.Clause{{cond("z", "1"), cond("a", "1")}}
	b := []types.Clause{{cond("a", "1"), cond("z", "1")}}
	if !EqualConditions(a, b) {
		t.Fatal("EqualConditions() = false, want true")
	}
	if a[0][0].Variable != "z" {
		t.Errorf("input reordered: %v", a)
	}
}
