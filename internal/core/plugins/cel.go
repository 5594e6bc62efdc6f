// internal/core/plugins/cel.go
package plugins

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/solatis/pmengine/internal/types"
)

// expression is a compiled CEL check over a rule. Compiled expressions are
// safe for concurrent evaluation.
type expression struct {
	source  string
	program cel.Program
}

// newRuleEnv declares the variables available to formal expressions:
//
//	rule.type        string
//	rule.priority    int
//	rule.conditions  list of clauses, each a map variable -> value
//	rule.actions     map variable -> value
func newRuleEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("rule.type", cel.StringType),
		cel.Variable("rule.priority", cel.IntType),
		cel.Variable("rule.conditions", cel.ListType(cel.MapType(cel.StringType, cel.StringType))),
		cel.Variable("rule.actions", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// compileExpressions parses and type-checks every source, which must
// evaluate to bool.
func compileExpressions(env *cel.Env, sources []string) ([]expression, error) {
	out := make([]expression, 0, len(sources))
	for _, src := range sources {
		ast, issues := env.Compile(src)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("CEL compile error in %q: %w", src, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("CEL expression %q must evaluate to bool, got %s", src, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("CEL program creation failed for %q: %w", src, err)
		}
		out = append(out, expression{source: src, program: prg})
	}
	return out, nil
}

// ruleVars flattens a rule into the activation for newRuleEnv. A variable
// repeated within a clause or across actions keeps its last value.
func ruleVars(r types.Rule) map[string]any {
	conditions := make([]map[string]string, 0, len(r.Conditions))
	for _, clause := range r.Conditions {
		m := make(map[string]string, len(clause))
		for _, c := range clause {
			m[c.Variable] = c.Value
		}
		conditions = append(conditions, m)
	}
	actions := make(map[string]string, len(r.Actions))
	for _, a := range r.Actions {
		actions[a.Variable] = a.Value
	}
	return map[string]any{
		"rule.type":       r.Type,
		"rule.priority":   int64(r.Priority),
		"rule.conditions": conditions,
		"rule.actions":    actions,
	}
}

// eval reports whether r satisfies the expression.
func (e expression) eval(r types.Rule) (bool, error) {
	out, _, err := e.program.Eval(ruleVars(r))
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error for %q: %w", e.source, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression %q returned non-bool: %T", e.source, out.Value())
	}
	return result, nil
}
