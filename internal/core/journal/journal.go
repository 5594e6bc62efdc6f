// Package journal persists the policy lifecycle: every state transition of
// every rule and the set of registered policy types. It implements
// manager.Recorder on top of the db package's named queries.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/solatis/pmengine/internal/core/db"
	"github.com/solatis/pmengine/internal/core/manager"
	"github.com/solatis/pmengine/internal/types"
)

// Event is one recorded transition.
type Event struct {
	ID         types.EventID `json:"event_id"`
	RuleID     int           `json:"rule_id"`
	Type       string        `json:"type"`
	Priority   int           `json:"priority"`
	From       types.State   `json:"from"`
	To         types.State   `json:"to"`
	Reason     string        `json:"reason,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

type eventRow struct {
	EventID    string `db:"event_id"`
	RuleID     int    `db:"rule_id"`
	PolicyType string `db:"policy_type"`
	Priority   int    `db:"priority"`
	FromState  string `db:"from_state"`
	ToState    string `db:"to_state"`
	Reason     string `db:"reason"`
	OccurredAt string `db:"occurred_at"`
}

// Journal writes transitions and type registrations through sqlx.
type Journal struct {
	conn    *sqlx.DB
	queries *db.Queries
	logger  *zap.Logger
	now     func() time.Time
}

var _ manager.Recorder = (*Journal)(nil)

// New creates a Journal on an already migrated connection.
func New(conn *sqlx.DB, logger *zap.Logger) (*Journal, error) {
	if conn == nil {
		return nil, fmt.Errorf("conn cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q, err := db.LoadQueries(conn)
	if err != nil {
		return nil, err
	}
	return &Journal{
		conn:    conn,
		queries: q,
		logger:  logger.With(zap.String("component", "journal")),
		now:     time.Now,
	}, nil
}

// RecordTransitions appends ts in one transaction; either all are stored or none.
func (j *Journal) RecordTransitions(ctx context.Context, ts []manager.Transition) error {
	if len(ts) == 0 {
		return nil
	}
	tx, err := j.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin journal transaction: %w", err)
	}
	defer tx.Rollback()

	q := j.queries.WithTx(tx)
	for _, t := range ts {
		at := t.At
		if at.IsZero() {
			at = j.now()
		}
		_, err := q.Exec(ctx, "insert-rule-event",
			string(types.NewEventID()),
			t.RuleID,
			t.Type,
			t.Priority,
			string(t.From),
			string(t.To),
			t.Reason,
			at.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to record transition of policy %d: %w", t.RuleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit journal transaction: %w", err)
	}
	j.logger.Debug("transitions recorded", zap.Int("count", len(ts)))
	return nil
}

// RecordType persists a type registration or removes it.
func (j *Journal) RecordType(ctx context.Context, policyType string, registered bool) error {
	if registered {
		_, err := j.queries.Exec(ctx, "insert-policy-type", policyType, j.now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("failed to record policy type %s: %w", policyType, err)
		}
		return nil
	}
	if _, err := j.queries.Exec(ctx, "delete-policy-type", policyType); err != nil {
		return fmt.Errorf("failed to remove policy type %s: %w", policyType, err)
	}
	return nil
}

// Types returns the persisted policy types, sorted.
func (j *Journal) Types(ctx context.Context) ([]string, error) {
	var names []string
	if err := j.queries.Select(ctx, "list-policy-types", &names); err != nil {
		return nil, fmt.Errorf("failed to list policy types: %w", err)
	}
	return names, nil
}

// History returns the transitions recorded for ruleID, oldest first. Ids
// restart when the store empties, so a history may span several rules that
// held the same id.
func (j *Journal) History(ctx context.Context, ruleID int) ([]Event, error) {
	var rows []eventRow
	if err := j.queries.Select(ctx, "list-rule-events", &rows, ruleID); err != nil {
		return nil, fmt.Errorf("failed to read history of policy %d: %w", ruleID, err)
	}

	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		at, err := time.Parse(time.RFC3339Nano, r.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("event %s has malformed timestamp %q: %w", r.EventID, r.OccurredAt, err)
		}
		events = append(events, Event{
			ID:         types.EventID(r.EventID),
			RuleID:     r.RuleID,
			Type:       r.PolicyType,
			Priority:   r.Priority,
			From:       types.State(r.FromState),
			To:         types.State(r.ToState),
			Reason:     r.Reason,
			OccurredAt: at,
		})
	}
	return events, nil
}
