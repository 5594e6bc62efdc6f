// Package manager implements the policy lifecycle: admission of pushed
// rules through the validation pipeline, conflict handling against the
// enforced set, activation, deactivation, deletion, re-prioritization and
// the reactivation sweep of pending rules.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/solatis/pmengine/internal/types"
)

/*
 * Locking model.
 *
 * mu serializes every decide-and-mutate section: conflict detection,
 * resolution, id allocation and store writes happen together under it.
 * Plugin calls (validators and actuators) and recorder writes are always
 * made after mu is released. Locked sections collect them in an effects
 * value which apply() runs afterwards.
 *
 * Reads go straight to the copy-on-write store and never take mu.
 */

const tracerName = "github.com/solatis/pmengine/internal/core/manager"

// Manager owns the rule store and drives every lifecycle operation.
type Manager struct {
	mu     sync.Mutex
	nextID int

	store    *store
	registry *registry

	plugins  PluginSet
	recorder Recorder
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder journals every lifecycle transition and type change.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithLogger sets the logger. Defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTracer sets the tracer. Defaults to the global provider's tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// New creates a Manager resolving plugins through plugins.
func New(plugins PluginSet, opts ...Option) (*Manager, error) {
	if plugins == nil {
		return nil, fmt.Errorf("plugins cannot be nil")
	}
	m := &Manager{
		store:    newStore(),
		registry: newRegistry(),
		plugins:  plugins,
		recorder: nopRecorder{},
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// All returns every stored rule ordered by id.
func (m *Manager) All() []types.Rule {
	return m.store.filter(nil)
}

// Active returns the ENFORCED rules ordered by id.
func (m *Manager) Active() []types.Rule {
	return m.ByState(types.StateEnforced)
}

// Get returns the rule with the given id.
func (m *Manager) Get(id int) (types.Rule, error) {
	r, ok := m.store.get(id)
	if !ok {
		return types.Rule{}, fmt.Errorf("%w: id %d", types.ErrNotFound, id)
	}
	return r, nil
}

// ByState returns the rules in state s ordered by id.
func (m *Manager) ByState(s types.State) []types.Rule {
	return m.store.filter(func(r types.Rule) bool { return r.State == s })
}

// ByType returns the rules of a policy type, matched case-insensitively.
func (m *Manager) ByType(policyType string) []types.Rule {
	t := canonicalType(policyType)
	return m.store.filter(func(r types.Rule) bool { return r.Type == t })
}

// Count returns the number of stored rules.
func (m *Manager) Count() int {
	return m.store.count()
}

// Types returns the registered policy types, sorted.
func (m *Manager) Types() []string {
	return m.registry.list()
}

// RegisterType adds a policy type. Registering a known type succeeds
// without change.
func (m *Manager) RegisterType(ctx context.Context, policyType string) Response {
	t := canonicalType(policyType)
	if t == "" {
		return failure(types.CodeFormalError,
			fmt.Errorf("%w: %w: empty policy type", types.ErrFormal, types.ErrInvalidRule))
	}
	if m.registry.add(t) {
		m.logger.Info("policy type registered", zap.String("type", t))
		if err := m.recorder.RecordType(context.WithoutCancel(ctx), t, true); err != nil {
			m.logger.Warn("failed to record policy type", zap.String("type", t), zap.Error(err))
		}
	}
	return success(fmt.Sprintf("Policy type %s successfully added", t))
}

// DeregisterType removes a policy type and deletes every rule of that type.
// The deleted rules are returned as they were before deletion.
func (m *Manager) DeregisterType(ctx context.Context, policyType string) ([]types.Rule, Response) {
	t := canonicalType(policyType)

	// Admission re-checks the registry under mu, so once the type is gone
	// no rule of it can be stored after the ids are collected here.
	m.mu.Lock()
	removed := m.registry.remove(t)
	var ids []int
	for _, r := range m.store.filter(func(r types.Rule) bool { return r.Type == t }) {
		ids = append(ids, r.ID)
	}
	m.mu.Unlock()

	if removed {
		m.logger.Info("policy type deregistered", zap.String("type", t))
		if err := m.recorder.RecordType(context.WithoutCancel(ctx), t, false); err != nil {
			m.logger.Warn("failed to record policy type", zap.String("type", t), zap.Error(err))
		}
	}

	orphans := m.deleteRules(ctx, ids)
	ids = make([]int, 0, len(orphans))
	for _, r := range orphans {
		ids = append(ids, r.ID)
	}
	if len(ids) > 0 {
		m.sweep(ctx)
	}

	resp := success(fmt.Sprintf("Policy type %s successfully removed", t))
	resp.IDs = ids
	return orphans, resp
}

// allocateID returns the next rule id. Caller holds m.mu.
func (m *Manager) allocateID() int {
	m.nextID++
	return m.nextID
}

// effects are the side effects of a locked section, run by apply once the
// lock is released.
type effects struct {
	remove      []types.Rule
	enforce     []types.Rule
	transitions []Transition
}

func (fx *effects) transition(m *Manager, r types.Rule, from types.State, reason string) {
	fx.transitions = append(fx.transitions, Transition{
		RuleID:   r.ID,
		Type:     r.Type,
		Priority: r.Priority,
		From:     from,
		To:       r.State,
		Reason:   reason,
		At:       m.now(),
	})
}

func (fx *effects) deleted(m *Manager, r types.Rule, reason string) {
	gone := r
	gone.State = StateDeleted
	fx.transition(m, gone, r.State, reason)
}

// apply runs actuator calls and journals transitions. Removals go first so
// an evicting rule is enforced only after the rules it displaced are gone.
// Actuator failures are logged; the stored state is not rolled back.
//
// The store already reflects fx, so the calls run detached from ctx
// cancellation. Plugin clients bound them with their own timeouts.
func (m *Manager) apply(ctx context.Context, fx *effects) {
	ctx = context.WithoutCancel(ctx)
	for _, r := range fx.remove {
		m.actuate(ctx, r, "remove", Plugin.Remove)
	}
	for _, r := range fx.enforce {
		m.actuate(ctx, r, "enforce", Plugin.Enforce)
	}
	if len(fx.transitions) == 0 {
		return
	}
	if err := m.recorder.RecordTransitions(ctx, fx.transitions); err != nil {
		m.logger.Warn("failed to record transitions",
			zap.Int("count", len(fx.transitions)), zap.Error(err))
	}
}

func (m *Manager) actuate(ctx context.Context, r types.Rule, op string, call func(Plugin, context.Context, types.Rule) error) {
	p, err := m.plugins.Lookup(r.Type)
	if err == nil {
		err = call(p, ctx, r)
	}
	if err != nil {
		m.logger.Error("actuator call failed",
			zap.String("op", op), zap.Int("id", r.ID), zap.String("type", r.Type), zap.Error(err))
		return
	}
	m.logger.Debug("actuator call succeeded",
		zap.String("op", op), zap.Int("id", r.ID), zap.String("type", r.Type))
}
