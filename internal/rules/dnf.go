// internal/rules/dnf.go
package rules

import "github.com/solatis/pmengine/internal/types"

/*
 * CNF to DNF conversion.
 *
 * Input clauses are ANDed, each clause an OR of conditions. Output clauses
 * are ORed, each clause an AND of conditions. Conversion is a plain
 * cartesian expansion: one condition is picked from every CNF clause, so the
 * result has prod(len(cnf[j])) clauses of length len(cnf).
 *
 * No simplification is performed. Redundant or contradictory output clauses
 * are left for SelfCheck to deduplicate or reject.
 */

// ToDNF converts CNF conditions to the equivalent DNF.
// Empty input yields a single empty clause.
func ToDNF(cnf []types.Clause) []types.Clause {
	var dnf []types.Clause
	expand(cnf, 0, make(types.Clause, 0, len(cnf)), &dnf)
	return dnf
}

// expand picks each condition of cnf[j] in turn and recurses to j+1.
// current is copied on emit so sibling branches never share backing arrays.
func expand(cnf []types.Clause, j int, current types.Clause, dnf *[]types.Clause) {
	if j == len(cnf) {
		*dnf = append(*dnf, append(types.Clause(nil), current...))
		return
	}
	for _, cond := range cnf[j] {
		expand(cnf, j+1, append(current, cond), dnf)
	}
}
