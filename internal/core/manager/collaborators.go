// internal/core/manager/collaborators.go
package manager

import (
	"context"
	"time"

	"github.com/solatis/pmengine/internal/types"
)

// Plugin is the per-type collaborator that validates and applies rules.
// Validators report rejection through a non-nil error whose message is
// shown to the caller. Actuator errors are logged only.
type Plugin interface {
	FormalValidation(ctx context.Context, rule types.Rule) error
	ContextValidation(ctx context.Context, rule types.Rule) error
	Enforce(ctx context.Context, rule types.Rule) error
	Remove(ctx context.Context, rule types.Rule) error
}

// PluginSet resolves the plugin serving a policy type.
type PluginSet interface {
	Lookup(policyType string) (Plugin, error)
}

// StateDeleted is the pseudo-state recorded when a rule leaves the store.
const StateDeleted types.State = "DELETED"

// Transition is one lifecycle change of one rule.
type Transition struct {
	RuleID   int
	Type     string
	Priority int
	From     types.State
	To       types.State
	Reason   string
	At       time.Time
}

// Recorder persists lifecycle history. Calls are made outside the manager
// lock; a failing recorder is logged and never affects the operation.
type Recorder interface {
	RecordTransitions(ctx context.Context, transitions []Transition) error
	RecordType(ctx context.Context, policyType string, registered bool) error
}

type nopRecorder struct{}

func (nopRecorder) RecordTransitions(context.Context, []Transition) error { return nil }
func (nopRecorder) RecordType(context.Context, string, bool) error        { return nil }
