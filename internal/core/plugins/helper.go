// internal/core/plugins/helper.go
package plugins

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/solatis/pmengine/internal/types"
)

/*
 * Formal checks shared by in-process plugins.
 *
 * Every check returns nil or an error whose message is shown to the caller
 * as the reason for a formal rejection. Variable names are compared
 * case-insensitively; enumerated values are compared exactly.
 */

// Value kinds accepted in condition_kinds and action_kinds.
const (
	KindIPv4 = "ipv4"
	KindMAC  = "mac"
	KindPort = "port"
)

var (
	ipv4Pattern = regexp.MustCompile(`^(([01]?\d\d?|2[0-4]\d|25[0-5])\.){3}([01]?\d\d?|2[0-4]\d|25[0-5])$`)
	macPattern  = regexp.MustCompile(`^([a-fA-F0-9]{2}[:-]){5}[a-fA-F0-9]{2}$`)
)

func isIPv4(v string) bool { return ipv4Pattern.MatchString(v) }
func isMAC(v string) bool  { return macPattern.MatchString(v) }

func isPort(v string) bool {
	n, err := strconv.Atoi(v)
	return err == nil && n >= 0 && n < 65536
}

// kindCheck returns the validator for a value kind.
func kindCheck(kind string) (func(string) bool, error) {
	switch strings.ToLower(kind) {
	case KindIPv4:
		return isIPv4, nil
	case KindMAC:
		return isMAC, nil
	case KindPort:
		return isPort, nil
	default:
		return nil, fmt.Errorf("unknown value kind %q (expected %s, %s or %s)", kind, KindIPv4, KindMAC, KindPort)
	}
}

func lowerSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[strings.ToLower(s)] = true
	}
	return out
}

// pair is a variable-value pair from either namespace.
type pair struct{ variable, value string }

func conditionPairs(clause types.Clause) []pair {
	out := make([]pair, len(clause))
	for i, c := range clause {
		out[i] = pair{c.Variable, c.Value}
	}
	return out
}

func actionPairs(actions []types.Action) []pair {
	out := make([]pair, len(actions))
	for i, a := range actions {
		out[i] = pair{a.Variable, a.Value}
	}
	return out
}

// checkVariables rejects variables outside allowed. A nil allowed set accepts all.
func checkVariables(pairs []pair, allowed map[string]bool, namespace string) error {
	if allowed == nil {
		return nil
	}
	for _, p := range pairs {
		if !allowed[strings.ToLower(p.variable)] {
			return fmt.Errorf("'%s' is not a valid %s variable", p.variable, namespace)
		}
	}
	return nil
}

// checkKinds rejects values whose format does not match their variable's kind.
func checkKinds(pairs []pair, kinds map[string]func(string) bool, namespace string) error {
	for _, p := range pairs {
		check, ok := kinds[strings.ToLower(p.variable)]
		if ok && !check(p.value) {
			return fmt.Errorf("policy %s value '%s' does not have a valid format", namespace, p.value)
		}
	}
	return nil
}

// checkValues rejects values outside their variable's enumerated list.
func checkValues(pairs []pair, values map[string]map[string]bool) error {
	for _, p := range pairs {
		allowed, ok := values[strings.ToLower(p.variable)]
		if ok && !allowed[p.value] {
			return fmt.Errorf("policy variable '%s' does not have a valid value", p.variable)
		}
	}
	return nil
}

// checkRelations enforces requires and excludes over one group of pairs: a
// clause for conditions, the whole list for actions.
func checkRelations(pairs []pair, requires map[string][][]string, excludes map[string][]string, namespace string) error {
	present := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		present[strings.ToLower(p.variable)] = true
	}

	for _, p := range pairs {
		v := strings.ToLower(p.variable)
		if alternatives, ok := requires[v]; ok && len(alternatives) > 0 {
			satisfied := false
			for _, set := range alternatives {
				if allPresent(present, set) {
					satisfied = true
					break
				}
			}
			if !satisfied {
				return fmt.Errorf("not all the %s relations of the policy %s '%s' are fulfilled", namespace, namespace, p.variable)
			}
		}
		for _, other := range excludes[v] {
			if present[strings.ToLower(other)] {
				return fmt.Errorf("some %ss are incompatible: '%s' and '%s'", namespace, p.variable, other)
			}
		}
	}
	return nil
}

func allPresent(present map[string]bool, set []string) bool {
	for _, s := range set {
		if !present[strings.ToLower(s)] {
			return false
		}
	}
	return true
}
