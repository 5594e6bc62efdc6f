// internal/types/rules.go
package types

/*
 * Domain types for policy admission.
 *
 * Provides Rule, Clause, Condition and Action used by internal/rules for
 * normalization and conflict detection and by internal/core/manager for the
 * lifecycle. These types are wire-format agnostic apart from struct tags;
 * the JSON shape matches what policy-type plugins expect to receive.
 *
 * Key types:
 *   - Rule: complete policy definition (DNF after normalization)
 *   - Clause: AND group of conditions
 *   - Condition / Action: variable-value pairs in separate namespaces
 *   - RuleSet: batch of rules submitted together
 */

// Condition is a single variable-value constraint.
type Condition struct {
	Variable string `json:"variable" yaml:"variable"`
	Value    string `json:"value" yaml:"value"`
}

// Less orders conditions by (variable, value).
func (c Condition) Less(o Condition) bool {
	if c.Variable != o.Variable {
		return c.Variable < o.Variable
	}
	return c.Value < o.Value
}

// Action is a single variable-value effect applied when a rule is enforced.
type Action struct {
	Variable string `json:"variable" yaml:"variable"`
	Value    string `json:"value" yaml:"value"`
}

// Less orders actions by (variable, value).
func (a Action) Less(o Action) bool {
	if a.Variable != o.Variable {
		return a.Variable < o.Variable
	}
	return a.Value < o.Value
}

// Clause is a conjunction of conditions. A DNF rule ORs its clauses.
type Clause []Condition

// Rule is a policy rule as held by the engine.
type Rule struct {
	ID         int      `json:"id" yaml:"id"`
	Type       string   `json:"type" yaml:"type"`
	Priority   int      `json:"priority" yaml:"priority"`
	Form       Form     `json:"form" yaml:"form"`
	Conditions []Clause `json:"conditions" yaml:"conditions"`
	Actions    []Action `json:"actions" yaml:"actions"`
	State      State    `json:"state,omitempty" yaml:"state,omitempty"`

	// Deactivated excludes a PENDING rule from automatic reactivation until
	// it is explicitly activated again. Never serialized.
	Deactivated bool `json:"-" yaml:"-"`
}

// Clone returns a deep copy; callers may mutate the copy freely.
func (r Rule) Clone() Rule {
	out := r
	if r.Conditions != nil {
		out.Conditions = make([]Clause, len(r.Conditions))
		for i, clause := range r.Conditions {
			out.Conditions[i] = append(Clause(nil), clause...)
		}
	}
	if r.Actions != nil {
		out.Actions = append([]Action(nil), r.Actions...)
	}
	return out
}

// RuleSet is a batch of rules. Submission order carries no meaning beyond
// breaking priority ties.
type RuleSet struct {
	Policies []Rule `json:"policies" yaml:"policies"`
}
