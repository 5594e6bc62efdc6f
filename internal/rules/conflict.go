// internal/rules/conflict.go
package rules

import (
	"strings"

	"github.com/solatis/pmengine/internal/types"
)

/*
 * Pairwise conflict detection.
 *
 * CheckConflict compares a candidate rule against one ENFORCED rule:
 *   1. Different types never conflict.
 *   2. Independent rules never conflict. A clause pair is independent when
 *      the clauses share no variable, or when a shared variable carries
 *      different values (case-insensitive). The rules are independent only
 *      when every one of the |active| x |candidate| clause pairs is.
 *   3. Equal actions: equal conditions too make a duplicate, otherwise the
 *      rules are compatible (same effect, different trigger).
 *   4. Anything else is a conflict, whatever the priorities.
 *
 * This is a conservative heuristic. Values are compared for equality only;
 * overlapping value spaces (prefixes, ranges) are not reasoned about.
 */

// Verdict classifies the relation between two rules.
type Verdict int

const (
	NoConflict Verdict = iota
	Conflict
	Duplicate
)

func (v Verdict) String() string {
	switch v {
	case NoConflict:
		return "no-conflict"
	case Conflict:
		return "conflict"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Conflict reasons reported in Finding.Reason.
const (
	ReasonDifferentType   = "different policy types"
	ReasonIndependent     = "independent conditions"
	ReasonCompatible      = "equal actions on different conditions"
	ReasonDuplicate       = "duplicated policy"
	ReasonConflict        = "dependent conditions with different actions"
	ReasonConflictSamePri = "dependent conditions with different actions and equal priority"
)

// Finding is the outcome of one pairwise check.
type Finding struct {
	Verdict Verdict
	Reason  string
	// With is the id of the active rule the candidate was compared against.
	With int
}

// CheckConflict compares candidate against an active rule. Neither rule is
// modified; for duplicates the caller reuses Finding.With as the id.
func CheckConflict(candidate, active types.Rule) Finding {
	f := Finding{With: active.ID}

	if candidate.Type != active.Type {
		f.Reason = ReasonDifferentType
		return f
	}
	if Independent(active.Conditions, candidate.Conditions) {
		f.Reason = ReasonIndependent
		return f
	}
	if EqualActions(candidate.Actions, active.Actions) {
		if EqualConditions(candidate.Conditions, active.Conditions) {
			f.Verdict = Duplicate
			f.Reason = ReasonDuplicate
			return f
		}
		f.Reason = ReasonCompatible
		return f
	}

	f.Verdict = Conflict
	f.Reason = ReasonConflict
	if candidate.Priority == active.Priority {
		f.Reason = ReasonConflictSamePri
	}
	return f
}

// Independent reports whether every (active, candidate) clause pair is
// independent. Empty condition sets are trivially independent.
func Independent(active, candidate []types.Clause) bool {
	independentPairs := 0
	for _, ac := range active {
		am := clauseValues(ac)
		for _, cc := range candidate {
			if clausesIndependent(am, clauseValues(cc)) {
				independentPairs++
			}
		}
	}
	return independentPairs == len(active)*len(candidate)
}

// clausesIndependent is true when a and b share no variable or disagree on
// at least one shared variable.
func clausesIndependent(a, b map[string]string) bool {
	shared := false
	for variable, av := range a {
		bv, ok := b[variable]
		if !ok {
			continue
		}
		shared = true
		if !strings.EqualFold(av, bv) {
			return true
		}
	}
	return !shared
}

// clauseValues maps variable to value. Clauses are self-checked before they
// get here, so each variable appears at most once.
func clauseValues(c types.Clause) map[string]string {
	m := make(map[string]string, len(c))
	for _, cond := range c {
		m[cond.Variable] = cond.Value
	}
	return m
}
