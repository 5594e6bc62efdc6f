// internal/rules/normalize.go
package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/solatis/pmengine/internal/types"
)

/*
 * Rule normalization and structural equality.
 *
 * Every rule entering the engine is normalized once: type upper-cased,
 * conditions converted to DNF, each clause sorted by (variable, value),
 * clauses sorted lexicographically, and actions sorted. After normalization
 * two rules with the same meaning have the same shape, so duplicate
 * detection is a field-by-field comparison.
 *
 * Equality helpers still sort copies of their inputs. Rules restored from
 * the journal or built by plugins are not guaranteed to be normalized.
 */

// Normalize validates admission constraints and rewrites r into canonical
// DNF form with state NEW. Errors wrap types.ErrFormal.
func Normalize(r *types.Rule) error {
	r.Type = strings.ToUpper(strings.TrimSpace(r.Type))
	if r.Type == "" {
		return fmt.Errorf("%w: %w: type is required", types.ErrFormal, types.ErrInvalidRule)
	}
	if r.Priority < types.MinPriority {
		return fmt.Errorf("%w: %w, got %d", types.ErrFormal, types.ErrInvalidPriority, r.Priority)
	}
	form, err := types.ParseForm(string(r.Form))
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrFormal, err)
	}
	if len(r.Conditions) == 0 || len(r.Actions) == 0 {
		return fmt.Errorf("%w: %w: conditions and actions must be non-empty", types.ErrFormal, types.ErrInvalidRule)
	}
	for i, clause := range r.Conditions {
		if len(clause) == 0 {
			return fmt.Errorf("%w: %w: clause %d is empty", types.ErrFormal, types.ErrInvalidRule, i)
		}
	}

	if form == types.FormCNF {
		r.Conditions = ToDNF(r.Conditions)
	}
	r.Form = types.FormDNF
	r.State = types.StateNew
	r.Deactivated = false
	SortRule(r)
	return nil
}

// SortRule sorts every clause, then the clauses, then the actions, in place.
func SortRule(r *types.Rule) {
	for _, clause := range r.Conditions {
		sortClause(clause)
	}
	sort.SliceStable(r.Conditions, func(i, j int) bool {
		return clauseLess(r.Conditions[i], r.Conditions[j])
	})
	sortActions(r.Actions)
}

func sortClause(c types.Clause) {
	sort.SliceStable(c, func(i, j int) bool { return c[i].Less(c[j]) })
}

func sortActions(a []types.Action) {
	sort.SliceStable(a, func(i, j int) bool { return a[i].Less(a[j]) })
}

// clauseLess compares sorted clauses lexicographically; a proper prefix sorts first.
func clauseLess(a, b types.Clause) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i].Less(b[i])
		}
	}
	return len(a) < len(b)
}

// EqualConditions reports whether two condition sets are identical after
// sorting. Comparison is case-sensitive.
func EqualConditions(a, b []types.Clause) bool {
	if len(a) != len(b) {
		return false
	}
	x := types.Rule{Conditions: a}.Clone()
	y := types.Rule{Conditions: b}.Clone()
	SortRule(&x)
	SortRule(&y)
	for i := range x.Conditions {
		if len(x.Conditions[i]) != len(y.Conditions[i]) {
			return false
		}
		for j := range x.Conditions[i] {
			if x.Conditions[i][j] != y.Conditions[i][j] {
				return false
			}
		}
	}
	return true
}

// EqualActions reports whether two action lists hold the same actions,
// ignoring order. Comparison is case-sensitive.
func EqualActions(a, b []types.Action) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]types.Action(nil), a...)
	y := append([]types.Action(nil), b...)
	sortActions(x)
	sortActions(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// Equal reports whether two rules are duplicates: same type, conditions,
// actions and priority. Id and state are ignored.
func Equal(a, b types.Rule) bool {
	return a.Type == b.Type &&
		a.Priority == b.Priority &&
		EqualConditions(a.Conditions, b.Conditions) &&
		EqualActions(a.Actions, b.Actions)
}
