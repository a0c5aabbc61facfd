// Package review tracks the approvals a task needs before its result is
// trusted.
//
// A task may carry any number of requirements. Each names users and agents
// and a count of approvals. Reviews are append-only verdicts; the latest
// one per reviewer counts. Whoever a requirement names and has not yet
// reviewed is pending until the requirement is met.
package review

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/taskara/internal/db"
	tkerrors "github.com/randalmurphal/taskara/internal/errors"
	"github.com/randalmurphal/taskara/internal/task"
)

// Store reads and writes review requirements and reviews.
type Store struct {
	db     *db.DB
	logger *slog.Logger
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

// NewStore returns a review store backed by d.
func NewStore(d *db.DB, opts ...Option) *Store {
	s := &Store{db: d, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddRequirement attaches a new requirement to req.TaskID. ID and
// timestamps are assigned on req.
func (s *Store) AddRequirement(ctx context.Context, req *task.ReviewRequirement) error {
	if req == nil {
		return tkerrors.Validation("requirement", "must not be nil")
	}
	if req.ID != "" {
		return tkerrors.Validation("id", "a new requirement must not have an ID")
	}
	if err := s.db.SaveReviewRequirement(ctx, req); err != nil {
		return err
	}
	s.logger.Debug("review requirement added",
		"task_id", req.TaskID, "requirement_id", req.ID, "required", req.NumberRequired)
	return nil
}

// UpdateRequirement replaces a stored requirement.
func (s *Store) UpdateRequirement(ctx context.Context, req *task.ReviewRequirement) error {
	if req == nil || req.ID == "" {
		return tkerrors.Validation("id", "must name a stored requirement")
	}
	return s.db.SaveReviewRequirement(ctx, req)
}

// RemoveRequirement deletes a requirement. Reviews are kept.
func (s *Store) RemoveRequirement(ctx context.Context, id string) error {
	if err := s.db.DeleteReviewRequirement(ctx, id); err != nil {
		return err
	}
	s.logger.Debug("review requirement removed", "requirement_id", id)
	return nil
}

// Requirements returns a task's requirements, oldest first.
func (s *Store) Requirements(ctx context.Context, taskID string) ([]*task.ReviewRequirement, error) {
	return s.db.ListReviewRequirements(ctx, taskID)
}

// Submit records a verdict on a task. Anyone may review; only reviewers a
// requirement names count toward it.
func (s *Store) Submit(ctx context.Context, taskID, reviewer string, typ task.ReviewerType, approved bool, reason string) (*task.Review, error) {
	r := &task.Review{
		TaskID:       taskID,
		Reviewer:     reviewer,
		ReviewerType: typ,
		Approved:     approved,
		Reason:       reason,
	}
	if r.ReviewerType == "" {
		r.ReviewerType = task.ReviewerUser
	}
	if err := s.db.AddReview(ctx, r); err != nil {
		return nil, err
	}
	s.logger.Debug("review submitted",
		"task_id", taskID, "reviewer", reviewer, "reviewer_type", r.ReviewerType, "approved", approved, "seq", r.Seq)
	return r, nil
}

// Reviews returns every review of a task in submission order.
func (s *Store) Reviews(ctx context.Context, taskID string) ([]task.Review, error) {
	return s.db.ListReviews(ctx, taskID)
}

// Pending lists who still owes a review on a task.
func (s *Store) Pending(ctx context.Context, taskID string) (*task.PendingReviewers, error) {
	return s.db.PendingReviewers(ctx, taskID, "")
}

// PendingTasks returns the IDs of tasks waiting on the reviewer.
func (s *Store) PendingTasks(ctx context.Context, reviewer string, typ task.ReviewerType) ([]string, error) {
	if typ == "" {
		typ = task.ReviewerUser
	}
	return s.db.PendingTasks(ctx, reviewer, typ)
}

// IsPending reports whether any named reviewer still owes a review.
func (s *Store) IsPending(ctx context.Context, taskID string) (bool, error) {
	return s.db.TaskIsPending(ctx, taskID)
}

// Satisfied reports whether every requirement on the task is met. A task
// with no requirements is satisfied.
func (s *Store) Satisfied(ctx context.Context, taskID string) (bool, error) {
	if _, err := s.db.GetTask(ctx, taskID); err != nil {
		return false, err
	}
	reqs, err := s.db.ListReviewRequirements(ctx, taskID)
	if err != nil {
		return false, err
	}
	if len(reqs) == 0 {
		return true, nil
	}
	reviews, err := s.db.ListReviews(ctx, taskID)
	if err != nil {
		return false, err
	}
	for _, req := range reqs {
		if !req.Satisfied(reviews) {
			return false, nil
		}
	}
	return true, nil
}
