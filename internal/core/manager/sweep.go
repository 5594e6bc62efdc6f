// internal/core/manager/sweep.go
package manager

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/solatis/pmengine/internal/types"
)

// ActivatePending runs a reactivation sweep on demand.
func (m *Manager) ActivatePending(ctx context.Context) Response {
	return m.sweep(ctx)
}

// sweep re-attempts every PENDING rule not marked deactivated, highest
// priority first with ties broken by id. Each rule gets its own context
// validation and locked decision, so a rule promoted early in the sweep is
// part of the enforced set for the rules after it.
func (m *Manager) sweep(ctx context.Context) Response {
	pending := m.ByState(types.StatePending)
	ctx, span := m.tracer.Start(ctx, "manager.Sweep",
		trace.WithAttributes(attribute.Int("pmengine.sweep.pending", len(pending))))
	defer span.End()

	if len(pending) == 0 {
		return Response{Code: types.CodeRejected, Messages: []string{"No pending policies to activate"}}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return pending[i].ID < pending[j].ID
	})

	var promoted []int
	for _, r := range pending {
		if r.Deactivated {
			continue
		}
		if resp, _ := m.attempt(ctx, r.ID); resp.Success {
			promoted = append(promoted, r.ID)
		}
	}

	span.SetAttributes(attribute.Int("pmengine.sweep.promoted", len(promoted)))
	if len(promoted) == 0 {
		return Response{Code: types.CodeRejected, Messages: []string{"No pending policy could be activated."}}
	}
	m.logger.Info("pending policies activated", zap.Ints("ids", promoted))
	resp := success(fmt.Sprintf("Policies [%s] activated.", formatIDs(promoted)))
	resp.IDs = promoted
	return resp
}
