package image

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	tkerrors "github.com/randalmurphal/taskara/internal/errors"
	"github.com/randalmurphal/taskara/internal/util"
)

// FileStore keeps one file per blob under a directory.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// NewFileStore creates dir if needed and returns a Store rooted there.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, tkerrors.ConfigInvalid("images.dir", "must be set for the file image store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, tkerrors.Storage("create image dir", false, err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Dir returns the root directory.
func (s *FileStore) Dir() string { return s.dir }

// path maps a key to its file. Keys are query-escaped, which keeps distinct
// keys in distinct files and leaves only portable characters.
func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, url.QueryEscape(key))
}

// Put implements Store. Readers never see a partially written blob.
// A content key already on disk is not rewritten.
func (s *FileStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", tkerrors.Timeout("put image", err)
	}
	key, err := resolveKey(key, data)
	if err != nil {
		return "", err
	}

	path := s.path(key)
	if IsContentKey(key) {
		if _, err := os.Stat(path); err == nil {
			return key, nil
		}
	}

	if err := util.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", tkerrors.Storage("put image", false, err)
	}

	s.logger.Debug("image stored", "key", key, "size", len(data))
	return key, nil
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, tkerrors.Timeout("get image", err)
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, tkerrors.NotFound("image", key)
		}
		return nil, tkerrors.Storage("get image", false, err)
	}
	return data, nil
}
