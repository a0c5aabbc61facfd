// Package lifecycle owns task status transitions and their audit log.
//
// Every transition is one transaction: a conditional update of the task row
// keyed on its version, followed by an audit event insert. Either both are
// stored or neither is.
package lifecycle

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/randalmurphal/taskara/internal/db"
	tkerrors "github.com/randalmurphal/taskara/internal/errors"
	"github.com/randalmurphal/taskara/internal/task"
)

// SystemActor is recorded when a change has no named actor.
const SystemActor = "system"

// Change carries the optional data that accompanies a transition.
type Change struct {
	Actor  string
	Reason string

	// Assignee is required when moving to assigned.
	Assignee *string
	// AssignedType records what kind of party the assignee is.
	AssignedType *string
	// Output is stored when moving to success.
	Output *string
}

// Manager applies lifecycle transitions.
type Manager struct {
	db     *db.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for transition diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a lifecycle manager backed by d.
func NewManager(d *db.DB, opts ...Option) *Manager {
	m := &Manager{
		db:     d,
		logger: slog.Default(),
		now:    task.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Assign moves a created task to assigned.
func (m *Manager) Assign(ctx context.Context, t *task.Task, assignee, actor string) error {
	return m.Transition(ctx, t, task.StatusAssigned, Change{Actor: actor, Assignee: &assignee})
}

// AssignAs is Assign with the kind of assignee recorded, such as "agent".
func (m *Manager) AssignAs(ctx context.Context, t *task.Task, assignee, assignedType, actor string) error {
	ch := Change{Actor: actor, Assignee: &assignee}
	if strings.TrimSpace(assignedType) != "" {
		ch.AssignedType = &assignedType
	}
	return m.Transition(ctx, t, task.StatusAssigned, ch)
}

// Start moves a created or assigned task to in_progress.
func (m *Manager) Start(ctx context.Context, t *task.Task, actor string) error {
	return m.Transition(ctx, t, task.StatusInProgress, Change{Actor: actor})
}

// Complete moves an in-progress task to success and records its output.
func (m *Manager) Complete(ctx context.Context, t *task.Task, output, actor string) error {
	return m.Transition(ctx, t, task.StatusSuccess, Change{Actor: actor, Output: &output})
}

// Fail moves an in-progress task to failed. The reason is stored on the
// task and on the audit event.
func (m *Manager) Fail(ctx context.Context, t *task.Task, reason, actor string) error {
	return m.Transition(ctx, t, task.StatusFailed, Change{Actor: actor, Reason: reason})
}

// Cancel moves any non-terminal task to cancelled.
func (m *Manager) Cancel(ctx context.Context, t *task.Task, reason, actor string) error {
	return m.Transition(ctx, t, task.StatusCancelled, Change{Actor: actor, Reason: reason})
}

// Transition moves t to the requested status.
//
// Illegal transitions fail with InvalidTransition before anything is
// written. The edge is checked again against the stored status inside the
// transaction, so a t whose Status was changed in memory cannot skip states.
// A stale t.Version fails with Conflict and nothing is written.
// On success t holds the stored state, including its new version.
func (m *Manager) Transition(ctx context.Context, t *task.Task, to task.Status, ch Change) error {
	if t == nil || t.ID == "" || t.Version == 0 {
		return tkerrors.Validation("task", "must be a saved task")
	}
	from := t.Status
	if !task.CanTransition(from, to) {
		return tkerrors.InvalidTransition(t.ID, string(from), string(to))
	}

	now := m.now().UTC()
	next := t.Clone()
	next.Status = to
	next.UpdatedAt = now

	switch to {
	case task.StatusAssigned:
		if ch.Assignee == nil || strings.TrimSpace(*ch.Assignee) == "" {
			return tkerrors.Validation("assignee", "required to assign a task")
		}
	case task.StatusInProgress:
		if next.StartedAt == nil {
			next.StartedAt = &now
		}
	case task.StatusSuccess:
		next.CompletedAt = &now
	case task.StatusFailed, task.StatusCancelled:
		next.CompletedAt = &now
		if ch.Reason != "" {
			next.Error = task.StringPtr(ch.Reason)
		}
	}
	if ch.Assignee != nil {
		next.AssigneeID = task.StringPtr(*ch.Assignee)
	}
	if ch.AssignedType != nil {
		next.AssignedType = task.StringPtr(*ch.AssignedType)
	}
	if ch.Output != nil {
		next.Output = task.StringPtr(*ch.Output)
	}

	actor := ch.Actor
	if actor == "" {
		actor = SystemActor
	}
	ev := &task.Event{
		TaskID:    t.ID,
		From:      from,
		To:        to,
		Actor:     actor,
		Reason:    ch.Reason,
		CreatedAt: now,
	}

	err := m.db.RunInTx(ctx, func(tx *db.TxOps) error {
		if err := db.UpdateTaskStateTx(tx, next, from); err != nil {
			return err
		}
		return db.AppendEventTx(tx, ev)
	})
	if err != nil {
		m.logger.Debug("task transition rejected",
			"task_id", t.ID, "from", from, "to", to, "actor", actor, "error", err)
		return err
	}

	*t = *next
	m.logger.Debug("task transitioned",
		"task_id", t.ID, "from", from, "to", to, "actor", actor, "version", t.Version, "event_seq", ev.Seq)
	return nil
}

// SetOutput records output without changing status and without an audit
// event. It is subject to the same version check as a transition.
func (m *Manager) SetOutput(ctx context.Context, t *task.Task, output, actor string) error {
	if t == nil || t.ID == "" || t.Version == 0 {
		return tkerrors.Validation("task", "must be a saved task")
	}
	next := t.Clone()
	next.Output = task.StringPtr(output)
	next.UpdatedAt = m.now().UTC()

	err := m.db.RunInTx(ctx, func(tx *db.TxOps) error {
		return db.UpdateTaskStateTx(tx, next, next.Status)
	})
	if err != nil {
		return err
	}

	*t = *next
	if actor == "" {
		actor = SystemActor
	}
	m.logger.Debug("task output set", "task_id", t.ID, "status", t.Status, "actor", actor, "version", t.Version)
	return nil
}

// History returns the task's audit log in order.
func (m *Manager) History(ctx context.Context, taskID string) ([]task.Event, error) {
	return m.db.ListEvents(ctx, taskID)
}

// Reload returns the stored state of a task.
func (m *Manager) Reload(ctx context.Context, taskID string) (*task.Task, error) {
	return m.db.GetTask(ctx, taskID)
}
