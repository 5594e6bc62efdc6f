// internal/core/manager/lifecycle.go
package manager

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/solatis/pmengine/internal/rules"
	"github.com/solatis/pmengine/internal/types"
)

// errNotPending is returned by attempt when the rule left PENDING while
// context validation ran without the lock.
var errNotPending = errors.New("policy is no longer pending")

// Activate re-attempts a PENDING rule. The rule loses its deactivated mark
// whatever the outcome. When enforcing it evicts other rules a sweep follows.
func (m *Manager) Activate(ctx context.Context, id int) Response {
	m.mu.Lock()
	r, ok := m.store.get(id)
	if !ok || r.State != types.StatePending {
		m.mu.Unlock()
		return notFound(id)
	}
	if r.Deactivated {
		r.Deactivated = false
		m.store.put(r)
	}
	m.mu.Unlock()

	resp, evicted := m.attempt(ctx, id)
	if len(evicted) > 0 {
		if sr := m.sweep(ctx); sr.Success {
			resp.Messages = append(resp.Messages, sr.Messages...)
		}
	}
	return resp
}

// attempt runs context validation and the locked conflict decision for a
// stored PENDING rule. It is shared by Activate, Reprioritize and sweeps.
// Returns the ids evicted by the rule when it was enforced.
func (m *Manager) attempt(ctx context.Context, id int) (Response, []int) {
	r, ok := m.store.get(id)
	if !ok || r.State != types.StatePending {
		return failure(types.CodeRejected, fmt.Errorf("%w: id %d", errNotPending, id)), nil
	}

	plugin, err := m.plugins.Lookup(r.Type)
	if err != nil {
		return failure(types.CodeFormalError, fmt.Errorf("%w: %w", types.ErrFormal, err)), nil
	}
	if err := plugin.ContextValidation(ctx, r); err != nil {
		err = fmt.Errorf("%w: %w", types.ErrContext, err)
		resp := failure(types.CodeRejected, err, "Policy failed at context validation.", err.Error())
		resp.IDs = []int{id}
		return resp, nil
	}

	var fx effects
	m.mu.Lock()
	// Re-read under the lock: the rule may have been deleted, activated or
	// re-prioritized while context validation ran.
	r, ok = m.store.get(id)
	if !ok || r.State != types.StatePending {
		m.mu.Unlock()
		return failure(types.CodeRejected, fmt.Errorf("%w: id %d", errNotPending, id)), nil
	}

	a := rules.Assess(r, m.activeLocked(r.Type))
	if a.DuplicateOf != 0 {
		m.mu.Unlock()
		resp := failure(types.CodeDuplicate,
			fmt.Errorf("%w: identical to policy %d", types.ErrDuplicate, a.DuplicateOf),
			"Duplicated policy.", fmt.Sprintf("Policy [%d] is already enforced.", a.DuplicateOf))
		resp.IDs = []int{id}
		return resp, nil
	}
	if a.Resolution == rules.KeepExisting {
		m.mu.Unlock()
		resp := failure(types.CodeRejected,
			fmt.Errorf("%w: outranked by %s", types.ErrConflict, conflictIDs(a)),
			append([]string{"Policy failed at conflict validation."}, findingMessages(a)...)...)
		resp.IDs = []int{id}
		return resp, nil
	}

	evicted := m.enforceLocked(&r, a.Conflicting, types.StatePending, &fx)
	m.mu.Unlock()
	m.apply(ctx, &fx)

	m.logger.Info("policy activated", zap.Int("id", id), zap.Ints("evicted", evicted))
	resp := success("Policy activated.")
	if len(evicted) > 0 {
		resp.Messages = append(resp.Messages,
			fmt.Sprintf("Policies [%s] moved to pending state.", formatIDs(evicted)))
	}
	resp.IDs = []int{id}
	return resp, evicted
}

// Deactivate moves an ENFORCED rule to PENDING and marks it so sweeps leave
// it alone until it is explicitly activated.
func (m *Manager) Deactivate(ctx context.Context, id int) Response {
	var fx effects
	m.mu.Lock()
	r, ok := m.store.get(id)
	if !ok || r.State != types.StateEnforced {
		m.mu.Unlock()
		return notFound(id)
	}
	r.State = types.StatePending
	r.Deactivated = true
	m.store.put(r)
	fx.remove = append(fx.remove, r)
	fx.transition(m, r, types.StateEnforced, "deactivated")
	m.mu.Unlock()
	m.apply(ctx, &fx)

	m.logger.Info("policy deactivated", zap.Int("id", id))
	resp := success(fmt.Sprintf("Policy [%d] deactivated.", id))
	resp.IDs = []int{id}
	if sr := m.sweep(ctx); sr.Success {
		resp.Messages = append(resp.Messages, sr.Messages...)
	}
	return resp
}

// Delete removes a rule in any state. Deleting an unknown id changes
// nothing. The id counter restarts when the store becomes empty.
func (m *Manager) Delete(ctx context.Context, id int) Response {
	if deleted := m.deleteRules(ctx, []int{id}); len(deleted) == 0 {
		return notFound(id)
	}

	resp := success(fmt.Sprintf("Policy [%d] deleted.", id))
	resp.IDs = []int{id}
	if sr := m.sweep(ctx); sr.Success {
		resp.Messages = append(resp.Messages, sr.Messages...)
	}
	return resp
}

// deleteRules removes the stored rules among ids in one locked section and
// returns them. Unknown ids are skipped.
func (m *Manager) deleteRules(ctx context.Context, ids []int) []types.Rule {
	var fx effects
	var deleted []types.Rule
	m.mu.Lock()
	for _, id := range ids {
		r, ok := m.store.get(id)
		if !ok {
			continue
		}
		if r.State == types.StateEnforced {
			fx.remove = append(fx.remove, r)
		}
		fx.deleted(m, r, "deleted")
		deleted = append(deleted, r)
	}
	if len(deleted) == 0 {
		m.mu.Unlock()
		return nil
	}
	for _, r := range deleted {
		m.store.remove(r.ID)
	}
	if m.store.count() == 0 {
		m.nextID = 0
	}
	m.mu.Unlock()
	m.apply(ctx, &fx)

	for _, r := range deleted {
		m.logger.Info("policy deleted", zap.Int("id", r.ID), zap.String("state", string(r.State)))
	}
	return deleted
}

// DeleteAll removes every rule and restarts the id counter. Enforced rules
// are removed from the environment after the store is cleared.
func (m *Manager) DeleteAll(ctx context.Context) Response {
	var fx effects
	m.mu.Lock()
	all := m.store.filter(nil)
	ids := make([]int, 0, len(all))
	for _, r := range all {
		if r.State == types.StateEnforced {
			fx.remove = append(fx.remove, r)
		}
		fx.deleted(m, r, "deleted")
		ids = append(ids, r.ID)
	}
	m.store.clear()
	m.nextID = 0
	m.mu.Unlock()
	m.apply(ctx, &fx)

	m.logger.Info("all policies deleted", zap.Int("count", len(ids)))
	resp := success("All policies deleted")
	resp.IDs = ids
	return resp
}

// Reprioritize changes a rule's priority and re-attempts it right away.
// An ENFORCED rule is removed from the environment first. Other pending
// rules get a sweep afterwards. A priority that would make the rule
// identical to another stored rule is refused and nothing changes.
func (m *Manager) Reprioritize(ctx context.Context, id, priority int) Response {
	if priority < types.MinPriority {
		return failure(types.CodeFormalError,
			fmt.Errorf("%w: %w, got %d", types.ErrFormal, types.ErrInvalidPriority, priority))
	}

	var fx effects
	m.mu.Lock()
	r, ok := m.store.get(id)
	if !ok {
		m.mu.Unlock()
		return notFound(id)
	}
	from := r.State
	moved := r
	moved.Priority = priority
	if dup, ok := m.findDuplicateLocked(moved); ok {
		m.mu.Unlock()
		resp := failure(types.CodeDuplicate,
			fmt.Errorf("%w: identical to policy %d", types.ErrDuplicate, dup),
			"Duplicated policy.", fmt.Sprintf("Policy [%d] already exists with priority %d.", dup, priority))
		resp.IDs = []int{id}
		return resp
	}
	if from == types.StateEnforced {
		fx.remove = append(fx.remove, r)
	}
	r.Priority = priority
	r.State = types.StatePending
	r.Deactivated = false
	m.store.put(r)
	fx.transition(m, r, from, fmt.Sprintf("priority changed to %d", priority))
	m.mu.Unlock()
	m.apply(ctx, &fx)

	attempted, _ := m.attempt(ctx, id)
	sr := m.sweep(ctx)

	var msgs []string
	if !attempted.Success {
		msgs = append(msgs, attempted.Messages...)
	}
	if sr.Success {
		msgs = append(msgs, sr.Messages...)
	}
	if cur, ok := m.store.get(id); ok && cur.State == types.StateEnforced {
		msgs = append(msgs, fmt.Sprintf("Priority successfully changed. Policy [%d] enforced with priority %d.", id, priority))
	} else {
		msgs = append(msgs, fmt.Sprintf("Priority successfully changed. Policy [%d] moved to pending state with priority %d.", id, priority))
	}

	m.logger.Info("policy priority changed", zap.Int("id", id), zap.Int("priority", priority))
	resp := success(msgs...)
	resp.IDs = []int{id}
	return resp
}
