// internal/core/plugins/local.go
package plugins

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/solatis/pmengine/internal/core/config"
	"github.com/solatis/pmengine/internal/types"
)

// Local is an in-process plugin for policy types whose formal rules fit in
// configuration. Context validation always accepts; Enforce and Remove only
// log, so the rule's effect is left to whoever consumes the journal.
type Local struct {
	policyType string

	conditionVars     map[string]bool
	actionVars        map[string]bool
	conditionKinds    map[string]func(string) bool
	actionKinds       map[string]func(string) bool
	conditionValues   map[string]map[string]bool
	actionValues      map[string]map[string]bool
	conditionRequires map[string][][]string
	conditionExcludes map[string][]string
	actionRequires    map[string][][]string
	actionExcludes    map[string][]string
	expressions       []expression

	logger *zap.Logger
}

// NewLocal builds a Local plugin for policyType from its configuration.
// Unknown value kinds and invalid expressions are reported here rather
// than at validation time.
func NewLocal(policyType string, cfg config.PluginTypeConfig, logger *zap.Logger) (*Local, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Local{
		policyType:        strings.ToUpper(policyType),
		conditionVars:     lowerSet(cfg.ConditionVariables),
		actionVars:        lowerSet(cfg.ActionVariables),
		conditionValues:   lowerValueSets(cfg.ConditionValues),
		actionValues:      lowerValueSets(cfg.ActionValues),
		conditionRequires: lowerKeys(cfg.ConditionRequires),
		conditionExcludes: lowerKeys(cfg.ConditionExcludes),
		actionRequires:    lowerKeys(cfg.ActionRequires),
		actionExcludes:    lowerKeys(cfg.ActionExcludes),
		logger:            logger.With(zap.String("component", "plugins.Local"), zap.String("type", strings.ToUpper(policyType))),
	}

	var err error
	if l.conditionKinds, err = kindChecks(cfg.ConditionKinds); err != nil {
		return nil, fmt.Errorf("condition_kinds: %w", err)
	}
	if l.actionKinds, err = kindChecks(cfg.ActionKinds); err != nil {
		return nil, fmt.Errorf("action_kinds: %w", err)
	}

	if len(cfg.FormalExpressions) > 0 {
		env, err := newRuleEnv()
		if err != nil {
			return nil, err
		}
		if l.expressions, err = compileExpressions(env, cfg.FormalExpressions); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// FormalValidation checks variables, value formats, enumerated values,
// variable relations and expressions, stopping at the first failure.
func (l *Local) FormalValidation(_ context.Context, rule types.Rule) error {
	for _, clause := range rule.Conditions {
		pairs := conditionPairs(clause)
		if err := checkVariables(pairs, l.conditionVars, "condition"); err != nil {
			return err
		}
		if err := checkKinds(pairs, l.conditionKinds, "condition"); err != nil {
			return err
		}
		if err := checkValues(pairs, l.conditionValues); err != nil {
			return err
		}
		if err := checkRelations(pairs, l.conditionRequires, l.conditionExcludes, "condition"); err != nil {
			return err
		}
	}

	pairs := actionPairs(rule.Actions)
	if err := checkVariables(pairs, l.actionVars, "action"); err != nil {
		return err
	}
	if err := checkKinds(pairs, l.actionKinds, "action"); err != nil {
		return err
	}
	if err := checkValues(pairs, l.actionValues); err != nil {
		return err
	}
	if err := checkRelations(pairs, l.actionRequires, l.actionExcludes, "action"); err != nil {
		return err
	}

	for _, e := range l.expressions {
		ok, err := e.eval(rule)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("policy does not satisfy %q", e.source)
		}
	}
	return nil
}

func (l *Local) ContextValidation(context.Context, types.Rule) error {
	return nil
}

func (l *Local) Enforce(_ context.Context, rule types.Rule) error {
	l.logger.Info("policy enforced", zap.Int("id", rule.ID), zap.Int("priority", rule.Priority))
	return nil
}

func (l *Local) Remove(_ context.Context, rule types.Rule) error {
	l.logger.Info("policy removed", zap.Int("id", rule.ID))
	return nil
}

func kindChecks(kinds map[string]string) (map[string]func(string) bool, error) {
	out := make(map[string]func(string) bool, len(kinds))
	for variable, kind := range kinds {
		check, err := kindCheck(kind)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", variable, err)
		}
		out[strings.ToLower(variable)] = check
	}
	return out, nil
}

func lowerValueSets(values map[string][]string) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(values))
	for variable, list := range values {
		set := make(map[string]bool, len(list))
		for _, v := range list {
			set[v] = true
		}
		out[strings.ToLower(variable)] = set
	}
	return out
}

func lowerKeys[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}
