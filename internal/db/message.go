package db

import (
	"context"
	"math"

	tkerrors "github.com/randalmurphal/taskara/internal/errors"
	"github.com/randalmurphal/taskara/internal/task"
)

const messageColumns = `id, thread_id, seq, role, text, images, created_at`

// AppendMessage appends a message to a thread and returns it with its
// assigned sequence number.
//
// The sequence is computed inside the INSERT. When two writers race for
// the same position the UNIQUE(thread_id, seq) constraint rejects one of
// them with a retryable Conflict.
func (d *DB) AppendMessage(ctx context.Context, threadID, role, text string, images []string) (*task.Message, error) {
	for _, key := range images {
		if key == "" {
			return nil, tkerrors.Validation("images", "image keys must not be empty")
		}
	}
	encoded, err := encodeStrings(images)
	if err != nil {
		return nil, tkerrors.Validation("images", err.Error())
	}

	m := &task.Message{
		ID:        task.NewID(),
		ThreadID:  threadID,
		Role:      role,
		Text:      text,
		CreatedAt: task.Now(),
	}
	if len(images) > 0 {
		m.Images = append([]string(nil), images...)
	}

	err = d.RunInTx(ctx, func(tx *TxOps) error {
		if _, err := getThread(tx, threadID); err != nil {
			return err
		}
		row := tx.QueryRow(`
			INSERT INTO messages (`+messageColumns+`)
			VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE thread_id = ?), ?, ?, ?, ?)
			RETURNING seq
		`, m.ID, threadID, threadID, role, text, encoded, task.FormatTime(m.CreatedAt))
		if err := row.Scan(&m.Seq); err != nil {
			err = tx.classify("append message", err)
			if tkerrors.IsConflict(err) {
				lost := tkerrors.Conflict("thread", threadID, "concurrent append took the same sequence number")
				lost.Retryable = true
				return lost.WithCause(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns up to limit messages with seq greater than since,
// in sequence order. A limit of zero or less returns all of them.
func (d *DB) ListMessages(ctx context.Context, threadID string, since int64, limit int) ([]task.Message, error) {
	lim := int64(math.MaxInt64)
	if limit > 0 {
		lim = int64(limit)
	}

	q := d.conn(ctx)
	rows, err := q.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE thread_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, threadID, since, lim)
	if err != nil {
		return nil, q.classify("list messages", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []task.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, q.classify("scan message", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, q.classify("iterate messages", err)
	}
	return msgs, nil
}

// CountMessages returns the number of messages in a thread.
func (d *DB) CountMessages(ctx context.Context, threadID string) (int, error) {
	q := d.conn(ctx)
	var n int
	if err := q.QueryRow(`SELECT COUNT(*) FROM messages WHERE thread_id = ?`, threadID).Scan(&n); err != nil {
		return 0, q.classify("count messages", err)
	}
	return n, nil
}

func scanMessage(row rowScanner) (task.Message, error) {
	var (
		m               task.Message
		images, created string
	)
	if err := row.Scan(&m.ID, &m.ThreadID, &m.Seq, &m.Role, &m.Text, &images, &created); err != nil {
		return task.Message{}, err
	}
	col := func(name string) column { return column{kind: "message", id: m.ID, name: name} }
	var err error
	if m.Images, err = col("images").strings(images); err != nil {
		return task.Message{}, err
	}
	if m.CreatedAt, err = col("created_at").timestamp(created); err != nil {
		return task.Message{}, err
	}
	return m, nil
}
