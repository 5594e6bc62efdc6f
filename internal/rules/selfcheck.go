// internal/rules/selfcheck.go
package rules

import (
	"fmt"
	"strings"

	"github.com/solatis/pmengine/internal/types"
)

// SelfCheck removes repeated conditions and actions from r and rejects rules
// that contradict themselves. Variables and values compare case-insensitively.
// Within a clause the first occurrence of a variable is kept; a later
// occurrence with the same value is dropped, one with a different value
// fails the check. Actions follow the same rule across the whole list.
// Errors wrap types.ErrFormal.
func SelfCheck(r *types.Rule) error {
	for i, clause := range r.Conditions {
		deduped, ok := dedupeConditions(clause)
		if !ok {
			return fmt.Errorf("%w: %w", types.ErrFormal, types.ErrSelfConflictingConditions)
		}
		r.Conditions[i] = deduped
	}

	actions, ok := dedupeActions(r.Actions)
	if !ok {
		return fmt.Errorf("%w: %w", types.ErrFormal, types.ErrSelfConflictingActions)
	}
	r.Actions = actions
	return nil
}

func dedupeConditions(clause types.Clause) (types.Clause, bool) {
	out := clause[:0:0]
	seen := make(map[string]string, len(clause))
	for _, c := range clause {
		key := strings.ToLower(c.Variable)
		if v, ok := seen[key]; ok {
			if !strings.EqualFold(v, c.Value) {
				return nil, false
			}
			continue
		}
		seen[key] = c.Value
		out = append(out, c)
	}
	return out, true
}

func dedupeActions(actions []types.Action) ([]types.Action, bool) {
	out := actions[:0:0]
	seen := make(map[string]string, len(actions))
	for _, a := range actions {
		key := strings.ToLower(a.Variable)
		if v, ok := seen[key]; ok {
			if !strings.EqualFold(v, a.Value) {
				return nil, false
			}
			continue
		}
		seen[key] = a.Value
		out = append(out, a)
	}
	return out, true
}
