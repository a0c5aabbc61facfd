// Package thread manages conversation threads and their ordered messages.
package thread

import (
	"context"
	"iter"
	"log/slog"

	"github.com/randalmurphal/taskara/internal/db"
	tkerrors "github.com/randalmurphal/taskara/internal/errors"
	"github.com/randalmurphal/taskara/internal/image"
	"github.com/randalmurphal/taskara/internal/task"
)

// DefaultPageSize is the number of messages fetched per round trip while
// iterating a thread.
const DefaultPageSize = 100

// Store reads and writes threads and messages.
type Store struct {
	db       *db.DB
	images   image.Store
	logger   *slog.Logger
	pageSize int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithImageStore sets where PostWithImages puts blobs. The default keeps
// them in the database.
func WithImageStore(images image.Store) Option {
	return func(s *Store) {
		if images != nil {
			s.images = images
		}
	}
}

// WithPageSize sets the iterator page size.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// NewStore returns a thread store backed by d.
func NewStore(d *db.DB, opts ...Option) *Store {
	s := &Store{
		db:       d,
		images:   image.NewDBStore(d),
		logger:   slog.Default(),
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateThread creates a named thread. An empty taskID creates a
// standalone thread.
func (s *Store) CreateThread(ctx context.Context, taskID, name string) (*task.Thread, error) {
	th, err := s.db.CreateThread(ctx, taskID, name)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("thread created", "thread_id", th.ID, "task_id", taskID, "name", name)
	return th, nil
}

// EnsureThread returns the task's thread with the given name, creating it
// if needed.
func (s *Store) EnsureThread(ctx context.Context, taskID, name string) (*task.Thread, error) {
	return s.db.EnsureThread(ctx, taskID, name)
}

// DefaultThread returns the task's main thread.
func (s *Store) DefaultThread(ctx context.Context, taskID string) (*task.Thread, error) {
	return s.db.EnsureThread(ctx, taskID, task.DefaultThreadName)
}

// GetThread returns a thread by ID.
func (s *Store) GetThread(ctx context.Context, threadID string) (*task.Thread, error) {
	return s.db.GetThread(ctx, threadID)
}

// ListThreads returns a task's threads, oldest first.
func (s *Store) ListThreads(ctx context.Context, taskID string) ([]*task.Thread, error) {
	return s.db.ListThreads(ctx, taskID)
}

// RemoveThread deletes a thread and its messages. A task's main thread
// lives as long as the task and cannot be removed.
func (s *Store) RemoveThread(ctx context.Context, threadID string) error {
	th, err := s.db.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if th.IsDefault() {
		return tkerrors.Validation("thread", "the main thread of a task cannot be removed")
	}
	if err := s.db.DeleteThread(ctx, threadID); err != nil {
		return err
	}
	s.logger.Debug("thread removed", "thread_id", threadID, "task_id", task.Deref(th.TaskID))
	return nil
}

// PostMessage appends a message and returns its sequence number. images
// are keys already held by the image store.
func (s *Store) PostMessage(ctx context.Context, threadID, role, text string, images ...string) (int64, error) {
	if role == "" {
		return 0, tkerrors.Validation("role", "must not be empty")
	}
	m, err := s.db.AppendMessage(ctx, threadID, role, text, images)
	if err != nil {
		return 0, err
	}
	s.logger.Debug("message posted", "thread_id", threadID, "seq", m.Seq, "role", role, "images", len(images))
	return m.Seq, nil
}

// PostWithImages stores each blob in the image store and appends a message
// referencing the resulting keys.
func (s *Store) PostWithImages(ctx context.Context, threadID, role, text string, blobs [][]byte) (int64, error) {
	keys := make([]string, 0, len(blobs))
	for _, b := range blobs {
		key, err := s.images.Put(ctx, "", b)
		if err != nil {
			return 0, err
		}
		keys = append(keys, key)
	}
	return s.PostMessage(ctx, threadID, role, text, keys...)
}

// Image returns a blob referenced by a message.
func (s *Store) Image(ctx context.Context, key string) ([]byte, error) {
	return s.images.Get(ctx, key)
}

// ListMessages returns the thread's messages with seq greater than since,
// in sequence order.
//
// Messages are fetched one page at a time. A page is read fully before any
// of it is yielded, so no database connection is held while the caller
// runs. Ranging over the sequence again starts over from since. A missing
// thread yields a single NotFound error.
func (s *Store) ListMessages(ctx context.Context, threadID string, since int64) iter.Seq2[task.Message, error] {
	return func(yield func(task.Message, error) bool) {
		if _, err := s.db.GetThread(ctx, threadID); err != nil {
			yield(task.Message{}, err)
			return
		}

		cursor := since
		for {
			page, err := s.db.ListMessages(ctx, threadID, cursor, s.pageSize)
			if err != nil {
				yield(task.Message{}, err)
				return
			}
			for _, m := range page {
				if !yield(m, nil) {
					return
				}
				cursor = m.Seq
			}
			if len(page) < s.pageSize {
				return
			}
		}
	}
}

// Messages collects ListMessages into a slice.
func (s *Store) Messages(ctx context.Context, threadID string, since int64) ([]task.Message, error) {
	var out []task.Message
	for m, err := range s.ListMessages(ctx, threadID, since) {
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Snapshot returns the whole thread as role messages, ready to be stored
// with a prompt.
func (s *Store) Snapshot(ctx context.Context, threadID string) ([]task.RoleMessage, error) {
	msgs, err := s.Messages(ctx, threadID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]task.RoleMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.AsRoleMessage())
	}
	return out, nil
}
