package db

import (
	"context"
	"database/sql"
	"errors"

	tkerrors "github.com/randalmurphal/taskara/internal/errors"
	"github.com/randalmurphal/taskara/internal/task"
)

const promptColumns = `id, task_id, namespace, thread, response, metadata, agent_id, model, approved, created_at`

// InsertPrompt stores a prompt snapshot for an existing task. ID,
// Namespace and CreatedAt are filled in when empty. The stored row never
// shares memory with p.
func (d *DB) InsertPrompt(ctx context.Context, p *task.Prompt) error {
	if p.TaskID == "" {
		return tkerrors.Validation("task_id", "prompts belong to a task")
	}
	next := p.Clone()
	if next.ID == "" {
		next.ID = task.NewID()
	}
	if next.Namespace == "" {
		next.Namespace = task.DefaultNamespace
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = task.Now()
	}
	next.CreatedAt = next.CreatedAt.UTC()
	if next.Thread == nil {
		next.Thread = []task.RoleMessage{}
	}

	norm, err := next.Metadata.Normalized()
	if err != nil {
		return tkerrors.Validation("metadata", err.Error())
	}
	if len(norm) == 0 {
		norm = nil
	}
	next.Metadata = norm

	thread, err := encodeJSON(next.Thread)
	if err != nil {
		return tkerrors.Validation("thread", err.Error())
	}
	response, err := encodeJSON(next.Response)
	if err != nil {
		return tkerrors.Validation("response", err.Error())
	}
	metadata, err := next.Metadata.Encode()
	if err != nil {
		return tkerrors.Validation("metadata", err.Error())
	}

	err = d.RunInTx(ctx, func(tx *TxOps) error {
		exists, err := taskExists(tx, next.TaskID)
		if err != nil {
			return err
		}
		if !exists {
			return tkerrors.NotFound("task", next.TaskID)
		}
		res, err := tx.Exec(`
			INSERT INTO prompts (`+promptColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, next.ID, next.TaskID, next.Namespace, thread, response, metadata,
			next.AgentID, next.Model, boolInt(next.Approved), task.FormatTime(next.CreatedAt))
		if err != nil {
			return tx.classify("insert prompt", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return tx.classify("insert prompt", err)
		}
		if n == 0 {
			return tkerrors.Conflict("prompt", next.ID, "a prompt with this id already exists")
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.ID = next.ID
	p.Namespace = next.Namespace
	p.CreatedAt = next.CreatedAt
	return nil
}

// GetPrompt retrieves a prompt by ID.
func (d *DB) GetPrompt(ctx context.Context, id string) (*task.Prompt, error) {
	q := d.conn(ctx)
	row := q.QueryRow(`SELECT `+promptColumns+` FROM prompts WHERE id = ?`, id)
	p, err := scanPrompt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tkerrors.NotFound("prompt", id)
		}
		return nil, q.classify("get prompt", err)
	}
	return p, nil
}

// ListPrompts returns a task's prompts in creation order. An empty
// namespace lists every namespace.
func (d *DB) ListPrompts(ctx context.Context, taskID, namespace string) ([]*task.Prompt, error) {
	query := `SELECT ` + promptColumns + ` FROM prompts WHERE task_id = ?`
	args := []any{taskID}
	if namespace != "" {
		query += ` AND namespace = ?`
		args = append(args, namespace)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	q := d.conn(ctx)
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, q.classify("list prompts", err)
	}
	defer func() { _ = rows.Close() }()

	var prompts []*task.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, q.classify("scan prompt", err)
		}
		prompts = append(prompts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, q.classify("iterate prompts", err)
	}
	return prompts, nil
}

// ApprovePrompt marks a prompt approved. Approving twice is a no-op.
func (d *DB) ApprovePrompt(ctx context.Context, id string) error {
	q := d.conn(ctx)
	res, err := q.Exec(`UPDATE prompts SET approved = 1 WHERE id = ?`, id)
	if err != nil {
		return q.classify("approve prompt", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return q.classify("approve prompt", err)
	}
	if n == 0 {
		return tkerrors.NotFound("prompt", id)
	}
	return nil
}

func scanPrompt(row rowScanner) (*task.Prompt, error) {
	var (
		p                                   task.Prompt
		thread, response, metadata, created string
		approved                            int
	)
	if err := row.Scan(&p.ID, &p.TaskID, &p.Namespace, &thread, &response, &metadata,
		&p.AgentID, &p.Model, &approved, &created); err != nil {
		return nil, err
	}

	col := func(name string) column { return column{kind: "prompt", id: p.ID, name: name} }
	var err error
	if p.Thread, err = col("thread").roleMessages(thread); err != nil {
		return nil, err
	}
	if p.Response, err = col("response").roleMessage(response); err != nil {
		return nil, err
	}
	if p.Metadata, err = col("metadata").metadata(metadata); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = col("created_at").timestamp(created); err != nil {
		return nil, err
	}
	p.Approved = approved != 0
	return &p, nil
}
