// Package types provides the policy model shared across pmengine components.
//
// Zero-dependency design: types.go, rules.go and errors.go use only the
// standard library so the model can be imported by clients without pulling in
// the engine. ID utilities in ids.go import uuid and rule-set decoding in
// ruleset.go imports yaml.v3; both are isolated for selective inclusion.
package types

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of a policy rule.
type State string

const (
	StateNew               State = "NEW"
	StateFormallyValidated State = "FORMALLY_VALIDATED"
	StateContextValidated  State = "CONTEXT_VALIDATED"
	StateEnforced          State = "ENFORCED"
	StatePending           State = "PENDING"
)

// stateNames lists accepted spellings per state. The second entry is the
// legacy alternative name still sent by older plugin apps.
var stateNames = []struct {
	state State
	alt   string
}{
	{StateNew, "new"},
	{StateFormallyValidated, "FORMALLYVALIDATED"},
	{StateContextValidated, "CONTEXTVALIDATED"},
	{StateEnforced, "enforced"},
	{StatePending, "pending"},
}

// ParseState converts a state name (common or alternative, any case) to State.
func ParseState(s string) (State, error) {
	for _, n := range stateNames {
		if strings.EqualFold(string(n.state), s) || strings.EqualFold(n.alt, s) {
			return n.state, nil
		}
	}
	return "", fmt.Errorf("unknown policy state %q", s)
}

// Form is the propositional form in which a rule's conditions are written.
type Form string

const (
	// FormCNF is an AND of clauses, each clause an OR of conditions.
	FormCNF Form = "CNF"
	// FormDNF is an OR of clauses, each clause an AND of conditions.
	FormDNF Form = "DNF"
)

// ParseForm accepts "cnf" or "dnf" in any case.
func ParseForm(s string) (Form, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(FormCNF):
		return FormCNF, nil
	case string(FormDNF):
		return FormDNF, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidForm, s)
	}
}

// Result codes reported for every admission outcome.
// Transport layers map CodeSuccess to success and everything else to failure.
type Code int

const (
	// CodeFormalError: malformed, unregistered or self-conflicting rule; never stored.
	CodeFormalError Code = 0
	// CodeRejected: context or conflict failure; rule stored as PENDING.
	CodeRejected Code = 1
	// CodeDuplicate: identical rule already held; original id echoed.
	CodeDuplicate Code = 2
	// CodeSuccess: rule enforced.
	CodeSuccess Code = 3
)

// MinPriority is the lowest priority accepted on admission.
const MinPriority = 1
