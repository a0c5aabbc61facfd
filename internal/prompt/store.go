// Package prompt records prompt/response pairs for later review.
//
// A stored prompt is a frozen copy of the conversation that produced a
// response. Later writes to the live thread, or to the slices the caller
// passed in, never reach the stored snapshot.
package prompt

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/taskara/internal/db"
	"github.com/randalmurphal/taskara/internal/task"
	"github.com/randalmurphal/taskara/internal/thread"
)

// Store persists prompts.
type Store struct {
	db      *db.DB
	threads *thread.Store
	logger  *slog.Logger
}

// NewStore returns a prompt store backed by d. threads is used by
// CaptureThread and may be nil when that is not needed.
func NewStore(d *db.DB, threads *thread.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: d, threads: threads, logger: logger}
}

// Option sets an optional prompt field.
type Option func(*task.Prompt)

// WithNamespace files the prompt under namespace instead of "default".
func WithNamespace(ns string) Option {
	return func(p *task.Prompt) { p.Namespace = ns }
}

// WithMetadata attaches metadata to the prompt.
func WithMetadata(md task.Metadata) Option {
	return func(p *task.Prompt) { p.Metadata = md }
}

// WithAgent records which agent produced the response.
func WithAgent(agentID string) Option {
	return func(p *task.Prompt) { p.AgentID = agentID }
}

// WithModel records which model produced the response.
func WithModel(model string) Option {
	return func(p *task.Prompt) { p.Model = model }
}

// StorePrompt saves snapshot and response for a task. The inputs are
// deep-copied before anything is persisted.
func (s *Store) StorePrompt(ctx context.Context, taskID string, snapshot []task.RoleMessage, response task.RoleMessage, opts ...Option) (*task.Prompt, error) {
	p := &task.Prompt{
		TaskID:   taskID,
		Thread:   task.CloneRoleMessages(snapshot),
		Response: response.Clone(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.Metadata = p.Metadata.Clone()

	if err := s.db.InsertPrompt(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Debug("prompt stored",
		"prompt_id", p.ID, "task_id", taskID, "namespace", p.Namespace, "messages", len(p.Thread))
	return p, nil
}

// CaptureThread snapshots the current contents of a thread and stores it
// with response.
func (s *Store) CaptureThread(ctx context.Context, taskID, threadID string, response task.RoleMessage, opts ...Option) (*task.Prompt, error) {
	snapshot, err := s.threads.Snapshot(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return s.StorePrompt(ctx, taskID, snapshot, response, opts...)
}

// ListPrompts returns a task's prompts in creation order. An empty
// namespace lists all of them.
func (s *Store) ListPrompts(ctx context.Context, taskID, namespace string) ([]*task.Prompt, error) {
	return s.db.ListPrompts(ctx, taskID, namespace)
}

// GetPrompt returns one prompt.
func (s *Store) GetPrompt(ctx context.Context, id string) (*task.Prompt, error) {
	return s.db.GetPrompt(ctx, id)
}

// ApprovePrompt marks a prompt as reviewed and accepted.
func (s *Store) ApprovePrompt(ctx context.Context, id string) error {
	if err := s.db.ApprovePrompt(ctx, id); err != nil {
		return err
	}
	s.logger.Debug("prompt approved", "prompt_id", id)
	return nil
}
