package db

import (
	"context"
	"database/sql"
	"errors"

	tkerrors "github.com/randalmurphal/taskara/internal/errors"
	"github.com/randalmurphal/taskara/internal/task"
)

// PutImage stores an image blob under key, replacing any blob already
// stored there.
func (d *DB) PutImage(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return tkerrors.Validation("key", "image key must not be empty")
	}
	if len(data) == 0 {
		return tkerrors.Validation("data", "image must not be empty")
	}
	q := d.conn(ctx)
	_, err := q.Exec(`
		INSERT INTO images (key, data, size, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET data = excluded.data, size = excluded.size
	`, key, data, int64(len(data)), task.FormatTime(task.Now()))
	if err != nil {
		return q.classify("put image", err)
	}
	return nil
}

// GetImage returns the blob stored under key.
func (d *DB) GetImage(ctx context.Context, key string) ([]byte, error) {
	q := d.conn(ctx)
	var data []byte
	if err := q.QueryRow(`SELECT data FROM images WHERE key = ?`, key).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tkerrors.NotFound("image", key)
		}
		return nil, q.classify("get image", err)
	}
	return data, nil
}
