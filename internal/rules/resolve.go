package rules

import "github.com/solatis/pmengine/internal/types"

// Resolution is the priority decision for a candidate and the active rules
// it conflicts with.
type Resolution int

const (
	// Admit: nothing conflicts, the candidate is enforced.
	Admit Resolution = iota
	// KeepExisting: some conflicting rule has equal or higher priority; the
	// candidate goes to PENDING and no active rule is touched.
	KeepExisting
	// Evict: the candidate outranks every conflicting rule; all of them move
	// to PENDING and the candidate is enforced.
	Evict
)

func (r Resolution) String() string {
	switch r {
	case Admit:
		return "admit"
	case KeepExisting:
		return "keep-existing"
	case Evict:
		return "evict"
	default:
		return "unknown"
	}
}

// Resolve decides between candidate and the rules it conflicts with.
// Equal priority keeps the incumbent.
func Resolve(candidate types.Rule, conflicting []types.Rule) Resolution {
	if len(conflicting) == 0 {
		return Admit
	}
	for _, active := range conflicting {
		if active.Priority >= candidate.Priority {
			return KeepExisting
		}
	}
	return Evict
}
