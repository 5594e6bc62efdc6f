// Package rules holds the pure policy algorithms: CNF to DNF conversion,
// normalization and equality, self-consistency checks, pairwise conflict
// detection and priority resolution. Nothing here locks, logs or performs I/O.
package rules

import "github.com/solatis/pmengine/internal/types"

// Assessment is the combined conflict detection and resolution outcome for
// one candidate against the current active set.
type Assessment struct {
	Resolution Resolution
	// Conflicting holds the active rules the candidate conflicts with.
	// On Evict these are the rules to move to PENDING.
	Conflicting []types.Rule
	// DuplicateOf is the id of an identical active rule, 0 if none.
	DuplicateOf int
	Findings    []Finding
}

// Assess checks candidate against every rule in active and resolves the
// conflicts found. An identical active rule counts as a conflict of equal
// priority, so the result is KeepExisting with DuplicateOf set.
func Assess(candidate types.Rule, active []types.Rule) Assessment {
	var a Assessment
	for _, ar := range active {
		f := CheckConflict(candidate, ar)
		if f.Verdict == NoConflict {
			continue
		}
		a.Findings = append(a.Findings, f)
		if f.Verdict == Duplicate && a.DuplicateOf == 0 {
			a.DuplicateOf = ar.ID
		}
		a.Conflicting = append(a.Conflicting, ar)
	}
	a.Resolution = Resolve(candidate, a.Conflicting)
	return a
}
