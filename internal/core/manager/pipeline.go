// internal/core/manager/pipeline.go
package manager

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/solatis/pmengine/internal/rules"
	"github.com/solatis/pmengine/internal/types"
)

/*
 * Admission pipeline for one pushed rule.
 *
 *   normalize -> registered type -> plugin formal validation -> self-check
 *     (any failure: code 0, nothing stored)
 *   -> plugin context validation
 *     (failure: stored PENDING, code 1)
 *   -> under lock: duplicate of a stored rule (code 2, nothing stored),
 *      conflict detection against ENFORCED rules and resolution
 *     (keep existing: stored PENDING, code 1; admit or evict: ENFORCED, code 3)
 *
 * Plugin calls happen with the lock released, so the enforced set may change
 * between context validation and the locked decision. The decision always
 * uses the enforced set as of the moment the lock is held.
 */

// Push admits a batch of rules. Rules are processed in descending priority
// order, ties in submission order, and each later rule sees the rules
// enforced before it. A failing rule never stops the batch.
func (m *Manager) Push(ctx context.Context, rs types.RuleSet) *PushResult {
	ctx, span := m.tracer.Start(ctx, "manager.Push",
		trace.WithAttributes(attribute.Int("pmengine.push.rules", len(rs.Policies))))
	defer span.End()

	if len(rs.Policies) == 0 {
		span.SetStatus(codes.Error, types.ErrEmptyInput.Error())
		return &PushResult{Response: failure(types.CodeFormalError, types.ErrEmptyInput, "There is no new policy.")}
	}

	order := make([]int, len(rs.Policies))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rs.Policies[order[a]].Priority > rs.Policies[order[b]].Priority
	})

	result := &PushResult{Response: Response{Code: types.CodeSuccess, Success: true}}
	evictions := false
	for _, idx := range order {
		outcome, evicted := m.admit(ctx, idx, rs.Policies[idx].Clone())
		evictions = evictions || evicted

		result.Outcomes = append(result.Outcomes, outcome)
		result.Messages = append(result.Messages, outcome.Messages...)
		if outcome.ID != 0 {
			result.IDs = append(result.IDs, outcome.ID)
		}
		if !outcome.Success() && result.Success {
			result.Success = false
			result.Code = outcome.Code
			result.Err = outcome.Err
		}
	}

	if evictions {
		if sr := m.sweep(ctx); sr.Success {
			result.Messages = append(result.Messages, sr.Messages...)
		}
	}

	span.SetAttributes(attribute.Int("pmengine.push.code", int(result.Code)))
	if !result.Success {
		span.SetStatus(codes.Error, "not every policy was enforced")
	}
	return result
}

// admit runs the pipeline for one rule. evicted reports whether enforcing
// the rule moved any other rule to PENDING.
func (m *Manager) admit(ctx context.Context, index int, r types.Rule) (out Outcome, evicted bool) {
	out.Index = index
	r.ID = 0

	formal := func(err error) (Outcome, bool) {
		m.logger.Info("policy rejected by formal validation", zap.Int("index", index), zap.Error(err))
		out.Code = types.CodeFormalError
		out.Err = err
		out.Messages = []string{"Formal error: " + err.Error()}
		return out, false
	}

	if err := rules.Normalize(&r); err != nil {
		return formal(err)
	}
	if !m.registry.has(r.Type) {
		return formal(unregistered(r.Type))
	}
	plugin, err := m.plugins.Lookup(r.Type)
	if err != nil {
		return formal(fmt.Errorf("%w: %w", types.ErrFormal, err))
	}
	if err := plugin.FormalValidation(ctx, r); err != nil {
		return formal(fmt.Errorf("%w: %w", types.ErrFormal, err))
	}
	if err := rules.SelfCheck(&r); err != nil {
		return formal(err)
	}
	r.State = types.StateFormallyValidated

	if cerr := plugin.ContextValidation(ctx, r); cerr != nil {
		return m.storeRejected(ctx, out, r, fmt.Errorf("%w: %w", types.ErrContext, cerr),
			"Policy failed at context validation.")
	}
	r.State = types.StateContextValidated

	var fx effects
	m.mu.Lock()
	if !m.registry.has(r.Type) {
		m.mu.Unlock()
		return formal(unregistered(r.Type))
	}
	if dup, ok := m.findDuplicateLocked(r); ok {
		m.mu.Unlock()
		return duplicateOutcome(out, dup), false
	}
	a := rules.Assess(r, m.activeLocked(r.Type))
	switch {
	case a.DuplicateOf != 0:
		m.mu.Unlock()
		return duplicateOutcome(out, a.DuplicateOf), false

	case a.Resolution == rules.KeepExisting:
		r.ID = m.allocateID()
		r.State = types.StatePending
		m.store.put(r)
		fx.transition(m, r, types.StateNew, "conflict")
		m.mu.Unlock()
		m.apply(ctx, &fx)

		m.logger.Info("policy pending after conflict", zap.Int("id", r.ID), zap.Int("priority", r.Priority))
		out.ID = r.ID
		out.Code = types.CodeRejected
		out.Err = fmt.Errorf("%w: outranked by %s", types.ErrConflict, conflictIDs(a))
		out.Messages = append([]string{"Policy failed at conflict validation."}, findingMessages(a)...)
		return out, false
	}

	r.ID = m.allocateID()
	evictedIDs := m.enforceLocked(&r, a.Conflicting, types.StateNew, &fx)
	m.mu.Unlock()
	m.apply(ctx, &fx)

	m.logger.Info("policy enforced",
		zap.Int("id", r.ID), zap.String("type", r.Type), zap.Ints("evicted", evictedIDs))
	out.ID = r.ID
	out.Code = types.CodeSuccess
	out.Messages = []string{fmt.Sprintf("Policy [%d] enforced.", r.ID)}
	if len(evictedIDs) > 0 {
		out.Messages = append(out.Messages,
			fmt.Sprintf("Policies [%s] moved to pending state.", formatIDs(evictedIDs)))
	}
	return out, len(evictedIDs) > 0
}

// storeRejected stores r as PENDING after a context failure unless an
// identical rule is already stored.
func (m *Manager) storeRejected(ctx context.Context, out Outcome, r types.Rule, err error, msg string) (Outcome, bool) {
	var fx effects
	m.mu.Lock()
	if !m.registry.has(r.Type) {
		m.mu.Unlock()
		out.Code = types.CodeFormalError
		out.Err = unregistered(r.Type)
		out.Messages = []string{"Formal error: " + out.Err.Error()}
		return out, false
	}
	if dup, ok := m.findDuplicateLocked(r); ok {
		m.mu.Unlock()
		return duplicateOutcome(out, dup), false
	}
	r.ID = m.allocateID()
	r.State = types.StatePending
	m.store.put(r)
	fx.transition(m, r, types.StateNew, "context validation failed")
	m.mu.Unlock()
	m.apply(ctx, &fx)

	m.logger.Info("policy pending after context validation", zap.Int("id", r.ID), zap.Error(err))
	out.ID = r.ID
	out.Code = types.CodeRejected
	out.Err = err
	out.Messages = []string{msg, err.Error()}
	return out, false
}

// findDuplicateLocked returns the id of a stored rule identical to r.
// Caller holds m.mu.
func (m *Manager) findDuplicateLocked(r types.Rule) (int, bool) {
	for _, s := range m.store.filter(func(s types.Rule) bool { return s.Type == r.Type && s.ID != r.ID }) {
		if rules.Equal(r, s) {
			return s.ID, true
		}
	}
	return 0, false
}

// activeLocked returns the ENFORCED rules of a type. Caller holds m.mu.
func (m *Manager) activeLocked(policyType string) []types.Rule {
	return m.store.filter(func(r types.Rule) bool {
		return r.State == types.StateEnforced && r.Type == policyType
	})
}

// enforceLocked moves every rule in evict to PENDING and stores r as
// ENFORCED. r must carry its id. Returns the evicted ids. Caller holds m.mu.
func (m *Manager) enforceLocked(r *types.Rule, evict []types.Rule, from types.State, fx *effects) []int {
	ids := make([]int, 0, len(evict))
	updated := make([]types.Rule, 0, len(evict)+1)
	for _, e := range evict {
		e.State = types.StatePending
		e.Deactivated = false
		updated = append(updated, e)
		fx.remove = append(fx.remove, e)
		fx.transition(m, e, types.StateEnforced, fmt.Sprintf("evicted by policy %d", r.ID))
		ids = append(ids, e.ID)
	}
	r.State = types.StateEnforced
	r.Deactivated = false
	updated = append(updated, *r)
	m.store.put(updated...)

	fx.enforce = append(fx.enforce, *r)
	fx.transition(m, *r, from, "enforced")
	return ids
}

func unregistered(policyType string) error {
	return fmt.Errorf("%w: %w: %s", types.ErrFormal, types.ErrTypeNotRegistered, policyType)
}

func duplicateOutcome(out Outcome, id int) Outcome {
	out.ID = id
	out.Code = types.CodeDuplicate
	out.Err = fmt.Errorf("%w: identical to policy %d", types.ErrDuplicate, id)
	out.Messages = []string{"Duplicated policy.", fmt.Sprintf("Policy [%d] already exists.", id)}
	return out
}

func conflictIDs(a rules.Assessment) string {
	ids := make([]int, 0, len(a.Conflicting))
	for _, r := range a.Conflicting {
		ids = append(ids, r.ID)
	}
	return "policies [" + formatIDs(ids) + "]"
}

func findingMessages(a rules.Assessment) []string {
	msgs := make([]string, 0, len(a.Findings))
	for _, f := range a.Findings {
		msgs = append(msgs, fmt.Sprintf("Policy [%d]: %s.", f.With, f.Reason))
	}
	return msgs
}
