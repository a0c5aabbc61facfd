package db

import (
	"context"

	tkerrors "github.com/randalmurphal/taskara/internal/errors"
	"github.com/randalmurphal/taskara/internal/task"
)

const eventColumns = `id, task_id, seq, from_status, to_status, actor, reason, created_at`

// AppendEventTx appends an audit event within the transaction that made
// the state change, so the two commit or roll back together. ID, Seq and
// CreatedAt are assigned here.
func AppendEventTx(tx *TxOps, ev *task.Event) error {
	if ev.TaskID == "" {
		return tkerrors.Validation("task_id", "events belong to a task")
	}
	if ev.ID == "" {
		ev.ID = task.NewID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = task.Now()
	}

	row := tx.QueryRow(`
		INSERT INTO task_events (`+eventColumns+`)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM task_events WHERE task_id = ?), ?, ?, ?, ?, ?)
		RETURNING seq
	`, ev.ID, ev.TaskID, ev.TaskID, string(ev.From), string(ev.To), ev.Actor, ev.Reason,
		task.FormatTime(ev.CreatedAt))
	if err := row.Scan(&ev.Seq); err != nil {
		return tx.classify("append event", err)
	}
	return nil
}

// ListEvents returns a task's audit log in sequence order.
func (d *DB) ListEvents(ctx context.Context, taskID string) ([]task.Event, error) {
	q := d.conn(ctx)
	rows, err := q.Query(`
		SELECT `+eventColumns+` FROM task_events
		WHERE task_id = ?
		ORDER BY seq ASC
	`, taskID)
	if err != nil {
		return nil, q.classify("list events", err)
	}
	defer func() { _ = rows.Close() }()

	var events []task.Event
	for rows.Next() {
		var (
			ev             task.Event
			from, to, when string
		)
		if err := rows.Scan(&ev.ID, &ev.TaskID, &ev.Seq, &from, &to, &ev.Actor, &ev.Reason, &when); err != nil {
			return nil, q.classify("scan event", err)
		}
		col := func(name string) column { return column{kind: "event", id: ev.ID, name: name} }
		if ev.From, err = col("from_status").status(from); err != nil {
			return nil, err
		}
		if ev.To, err = col("to_status").status(to); err != nil {
			return nil, err
		}
		if ev.CreatedAt, err = col("created_at").timestamp(when); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, q.classify("iterate events", err)
	}
	return events, nil
}
