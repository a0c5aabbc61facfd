package image

import (
	"context"

	"github.com/randalmurphal/taskara/internal/db"
)

// DBStore keeps blobs in the images table of the active database.
type DBStore struct {
	db *db.DB
}

// NewDBStore returns a Store backed by d.
func NewDBStore(d *db.DB) *DBStore {
	return &DBStore{db: d}
}

// Put implements Store.
func (s *DBStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	key, err := resolveKey(key, data)
	if err != nil {
		return "", err
	}
	if err := s.db.PutImage(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// Get implements Store.
func (s *DBStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return s.db.GetImage(ctx, key)
}
