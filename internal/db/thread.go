package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	tkerrors "github.com/randalmurphal/taskara/internal/errors"
	"github.com/randalmurphal/taskara/internal/task"
)

const threadColumns = `id, task_id, name, created_at`

// CreateThread creates a named thread. An empty taskID creates a
// standalone thread. The name must be unused within the task.
func (d *DB) CreateThread(ctx context.Context, taskID, name string) (*task.Thread, error) {
	var th *task.Thread
	err := d.RunInTx(ctx, func(tx *TxOps) error {
		var err error
		th, err = CreateThreadTx(tx, taskID, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return th, nil
}

// CreateThreadTx creates a thread within an existing transaction.
func CreateThreadTx(tx *TxOps, taskID, name string) (*task.Thread, error) {
	if strings.TrimSpace(name) == "" {
		return nil, tkerrors.Validation("name", "thread name must not be empty")
	}

	th := &task.Thread{
		ID:        task.NewID(),
		Name:      name,
		CreatedAt: task.Now(),
	}
	if taskID != "" {
		exists, err := taskExists(tx, taskID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, tkerrors.NotFound("task", taskID)
		}
		th.TaskID = task.StringPtr(taskID)
	}

	res, err := tx.Exec(`
		INSERT INTO threads (`+threadColumns+`) VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, th.ID, nullString(th.TaskID), th.Name, task.FormatTime(th.CreatedAt))
	if err != nil {
		return nil, tx.classify("create thread", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, tx.classify("create thread", err)
	}
	if n == 0 {
		return nil, tkerrors.Conflict("thread", name, fmt.Sprintf("name already used by task %s", taskID))
	}
	return th, nil
}

// EnsureThread returns the named thread of a task, creating it if needed.
func (d *DB) EnsureThread(ctx context.Context, taskID, name string) (*task.Thread, error) {
	var th *task.Thread
	err := d.RunInTx(ctx, func(tx *TxOps) error {
		var err error
		th, err = EnsureThreadTx(tx, taskID, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return th, nil
}

// EnsureThreadTx is the idempotent form of CreateThreadTx. Standalone
// threads have no unique name, so taskID is required.
func EnsureThreadTx(tx *TxOps, taskID, name string) (*task.Thread, error) {
	if taskID == "" {
		return nil, tkerrors.Validation("task_id", "required to ensure a named thread")
	}
	th, err := getThreadByName(tx, taskID, name)
	if err == nil {
		return th, nil
	}
	if !tkerrors.IsNotFound(err) {
		return nil, err
	}

	th, err = CreateThreadTx(tx, taskID, name)
	if tkerrors.IsConflict(err) {
		// Created concurrently between the lookup and the insert.
		return getThreadByName(tx, taskID, name)
	}
	return th, err
}

// GetThread retrieves a thread by ID.
func (d *DB) GetThread(ctx context.Context, id string) (*task.Thread, error) {
	return getThread(d.conn(ctx), id)
}

func getThread(q querier, id string) (*task.Thread, error) {
	row := q.QueryRow(`SELECT `+threadColumns+` FROM threads WHERE id = ?`, id)
	th, err := scanThread(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tkerrors.NotFound("thread", id)
		}
		return nil, q.classify("get thread", err)
	}
	return th, nil
}

// GetThreadByName retrieves a task's thread by name.
func (d *DB) GetThreadByName(ctx context.Context, taskID, name string) (*task.Thread, error) {
	return getThreadByName(d.conn(ctx), taskID, name)
}

func getThreadByName(q querier, taskID, name string) (*task.Thread, error) {
	row := q.QueryRow(`SELECT `+threadColumns+` FROM threads WHERE task_id = ? AND name = ?`, taskID, name)
	th, err := scanThread(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tkerrors.NotFound("thread", taskID+"/"+name)
		}
		return nil, q.classify("get thread", err)
	}
	return th, nil
}

// ListThreads returns a task's threads in creation order.
func (d *DB) ListThreads(ctx context.Context, taskID string) ([]*task.Thread, error) {
	q := d.conn(ctx)
	rows, err := q.Query(`
		SELECT `+threadColumns+` FROM threads
		WHERE task_id = ?
		ORDER BY created_at ASC, id ASC
	`, taskID)
	if err != nil {
		return nil, q.classify("list threads", err)
	}
	defer func() { _ = rows.Close() }()

	var threads []*task.Thread
	for rows.Next() {
		th, err := scanThread(rows)
		if err != nil {
			return nil, q.classify("scan thread", err)
		}
		threads = append(threads, th)
	}
	if err := rows.Err(); err != nil {
		return nil, q.classify("iterate threads", err)
	}
	return threads, nil
}

// DeleteThread removes a thread and its messages.
func (d *DB) DeleteThread(ctx context.Context, id string) error {
	return d.RunInTx(ctx, func(tx *TxOps) error {
		if _, err := getThread(tx, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM messages WHERE thread_id = ?`, id); err != nil {
			return tx.classify("delete thread messages", err)
		}
		if _, err := tx.Exec(`DELETE FROM threads WHERE id = ?`, id); err != nil {
			return tx.classify("delete thread", err)
		}
		return nil
	})
}

func scanThread(row rowScanner) (*task.Thread, error) {
	var (
		th      task.Thread
		taskID  sql.NullString
		created string
	)
	if err := row.Scan(&th.ID, &taskID, &th.Name, &created); err != nil {
		return nil, err
	}
	ts, err := column{kind: "thread", id: th.ID, name: "created_at"}.timestamp(created)
	if err != nil {
		return nil, err
	}
	th.CreatedAt = ts
	th.TaskID = stringPtr(taskID)
	return &th, nil
}
