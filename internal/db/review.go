package db

import (
	"context"
	"database/sql"
	"errors"
	"slices"

	tkerrors "github.com/randalmurphal/taskara/internal/errors"
	"github.com/randalmurphal/taskara/internal/task"
)

const (
	requirementColumns = `id, task_id, number_required, user_ids, agent_ids, group_names, task_types, created_at, updated_at`
	reviewColumns      = `id, task_id, seq, reviewer, reviewer_type, approved, reason, created_at`
)

// SaveReviewRequirement inserts r when it has no ID and otherwise replaces
// the stored requirement with the same ID and task. Pending reviewers for
// the task are recomputed in the same transaction.
func (d *DB) SaveReviewRequirement(ctx context.Context, r *task.ReviewRequirement) error {
	if r == nil {
		return tkerrors.Validation("requirement", "must not be nil")
	}
	if err := r.Validate(); err != nil {
		return err
	}
	next := r.Clone()
	err := d.RunInTx(ctx, func(tx *TxOps) error {
		exists, err := taskExists(tx, next.TaskID)
		if err != nil {
			return err
		}
		if !exists {
			return tkerrors.NotFound("task", next.TaskID)
		}
		if next.ID == "" {
			err = insertRequirement(tx, next)
		} else {
			err = updateRequirement(tx, next)
		}
		if err != nil {
			return err
		}
		return SyncPendingReviewersTx(tx, next.TaskID)
	})
	if err != nil {
		return err
	}
	*r = *next
	return nil
}

func insertRequirement(tx *TxOps, r *task.ReviewRequirement) error {
	r.ID = task.NewID()
	r.CreatedAt = task.Now()
	r.UpdatedAt = r.CreatedAt
	cols, err := encodeRequirement(r)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO review_requirements (`+requirementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.TaskID, r.NumberRequired, cols.users, cols.agents, cols.groups, cols.types,
		task.FormatTime(r.CreatedAt), task.FormatTime(r.UpdatedAt))
	if err != nil {
		return tx.classify("insert review requirement", err)
	}
	return nil
}

func updateRequirement(tx *TxOps, r *task.ReviewRequirement) error {
	stored, err := getRequirement(tx, r.ID)
	if err != nil {
		return err
	}
	if stored.TaskID != r.TaskID {
		return tkerrors.NotFound("review requirement", r.TaskID+"/"+r.ID)
	}
	r.CreatedAt = stored.CreatedAt
	r.UpdatedAt = task.Now()
	cols, err := encodeRequirement(r)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		UPDATE review_requirements
		SET number_required = ?, user_ids = ?, agent_ids = ?, group_names = ?, task_types = ?, updated_at = ?
		WHERE id = ?
	`, r.NumberRequired, cols.users, cols.agents, cols.groups, cols.types, task.FormatTime(r.UpdatedAt), r.ID)
	if err != nil {
		return tx.classify("update review requirement", err)
	}
	return nil
}

type requirementJSON struct {
	users, agents, groups, types string
}

func encodeRequirement(r *task.ReviewRequirement) (requirementJSON, error) {
	var (
		out requirementJSON
		err error
	)
	if out.users, err = encodeStrings(r.Users); err != nil {
		return out, err
	}
	if out.agents, err = encodeStrings(r.Agents); err != nil {
		return out, err
	}
	if out.groups, err = encodeStrings(r.Groups); err != nil {
		return out, err
	}
	out.types, err = encodeStrings(r.Types)
	return out, err
}

// GetReviewRequirement retrieves a requirement by ID.
func (d *DB) GetReviewRequirement(ctx context.Context, id string) (*task.ReviewRequirement, error) {
	return getRequirement(d.conn(ctx), id)
}

func getRequirement(q querier, id string) (*task.ReviewRequirement, error) {
	row := q.QueryRow(`SELECT `+requirementColumns+` FROM review_requirements WHERE id = ?`, id)
	r, err := scanRequirement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tkerrors.NotFound("review requirement", id)
		}
		return nil, q.classify("get review requirement", err)
	}
	return r, nil
}

// ListReviewRequirements returns a task's requirements in creation order.
func (d *DB) ListReviewRequirements(ctx context.Context, taskID string) ([]*task.ReviewRequirement, error) {
	return listRequirements(d.conn(ctx), taskID)
}

func listRequirements(q querier, taskID string) ([]*task.ReviewRequirement, error) {
	rows, err := q.Query(`
		SELECT `+requirementColumns+` FROM review_requirements
		WHERE task_id = ?
		ORDER BY created_at ASC, id ASC
	`, taskID)
	if err != nil {
		return nil, q.classify("list review requirements", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*task.ReviewRequirement
	for rows.Next() {
		r, err := scanRequirement(rows)
		if err != nil {
			return nil, q.classify("scan review requirement", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, q.classify("iterate review requirements", err)
	}
	return out, nil
}

// DeleteReviewRequirement removes a requirement and the pending reviewers
// it produced.
func (d *DB) DeleteReviewRequirement(ctx context.Context, id string) error {
	return d.RunInTx(ctx, func(tx *TxOps) error {
		r, err := getRequirement(tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM pending_reviewers WHERE requirement_id = ?`, id); err != nil {
			return tx.classify("delete pending reviewers", err)
		}
		if _, err := tx.Exec(`DELETE FROM review_requirements WHERE id = ?`, id); err != nil {
			return tx.classify("delete review requirement", err)
		}
		return SyncPendingReviewersTx(tx, r.TaskID)
	})
}

func scanRequirement(row rowScanner) (*task.ReviewRequirement, error) {
	var (
		r                            task.ReviewRequirement
		users, agents, groups, types string
		created, updated             string
	)
	if err := row.Scan(&r.ID, &r.TaskID, &r.NumberRequired, &users, &agents, &groups, &types, &created, &updated); err != nil {
		return nil, err
	}
	col := func(name string) column { return column{kind: "review requirement", id: r.ID, name: name} }
	var err error
	if r.Users, err = col("user_ids").strings(users); err != nil {
		return nil, err
	}
	if r.Agents, err = col("agent_ids").strings(agents); err != nil {
		return nil, err
	}
	if r.Groups, err = col("group_names").strings(groups); err != nil {
		return nil, err
	}
	if r.Types, err = col("task_types").strings(types); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = col("created_at").timestamp(created); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = col("updated_at").timestamp(updated); err != nil {
		return nil, err
	}
	return &r, nil
}

// AddReview appends a review to its task and recomputes the task's pending
// reviewers. ID, Seq and CreatedAt are assigned here.
func (d *DB) AddReview(ctx context.Context, r *task.Review) error {
	if r == nil {
		return tkerrors.Validation("review", "must not be nil")
	}
	if err := r.Validate(); err != nil {
		return err
	}
	next := *r
	next.ID = task.NewID()
	next.CreatedAt = task.Now()
	err := d.RunInTx(ctx, func(tx *TxOps) error {
		exists, err := taskExists(tx, next.TaskID)
		if err != nil {
			return err
		}
		if !exists {
			return tkerrors.NotFound("task", next.TaskID)
		}
		row := tx.QueryRow(`
			INSERT INTO reviews (`+reviewColumns+`)
			VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM reviews WHERE task_id = ?), ?, ?, ?, ?, ?)
			RETURNING seq
		`, next.ID, next.TaskID, next.TaskID, next.Reviewer, string(next.ReviewerType),
			boolInt(next.Approved), next.Reason, task.FormatTime(next.CreatedAt))
		if err := row.Scan(&next.Seq); err != nil {
			return tx.classify("add review", err)
		}
		return SyncPendingReviewersTx(tx, next.TaskID)
	})
	if err != nil {
		return err
	}
	*r = next
	return nil
}

// ListReviews returns a task's reviews in the order they were added.
func (d *DB) ListReviews(ctx context.Context, taskID string) ([]task.Review, error) {
	return listReviews(d.conn(ctx), taskID)
}

func listReviews(q querier, taskID string) ([]task.Review, error) {
	rows, err := q.Query(`
		SELECT `+reviewColumns+` FROM reviews
		WHERE task_id = ?
		ORDER BY seq ASC
	`, taskID)
	if err != nil {
		return nil, q.classify("list reviews", err)
	}
	defer func() { _ = rows.Close() }()

	var out []task.Review
	for rows.Next() {
		var (
			r         task.Review
			typ, when string
			approved  int
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Seq, &r.Reviewer, &typ, &approved, &r.Reason, &when); err != nil {
			return nil, q.classify("scan review", err)
		}
		col := func(name string) column { return column{kind: "review", id: r.ID, name: name} }
		parsed, err := task.ParseReviewerType(typ)
		if err != nil || typ == "" {
			return nil, col("reviewer_type").fail(errors.New("unknown reviewer type " + typ))
		}
		r.ReviewerType = parsed
		r.Approved = approved != 0
		if r.CreatedAt, err = col("created_at").timestamp(when); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, q.classify("iterate reviews", err)
	}
	return out, nil
}

// SyncPendingReviewersTx rebuilds the pending reviewer rows of a task from
// its requirements and reviews. Every write that touches either calls it
// before commit.
func SyncPendingReviewersTx(tx *TxOps, taskID string) error {
	reqs, err := listRequirements(tx, taskID)
	if err != nil {
		return err
	}
	var reviews []task.Review
	if len(reqs) > 0 {
		if reviews, err = listReviews(tx, taskID); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`DELETE FROM pending_reviewers WHERE task_id = ?`, taskID); err != nil {
		return tx.classify("clear pending reviewers", err)
	}
	for _, req := range reqs {
		for _, rv := range req.Pending(reviews) {
			_, err := tx.Exec(`
				INSERT INTO pending_reviewers (task_id, requirement_id, reviewer, reviewer_type)
				VALUES (?, ?, ?, ?)
			`, taskID, req.ID, rv.ID, string(rv.Type))
			if err != nil {
				return tx.classify("insert pending reviewer", err)
			}
		}
	}
	return nil
}

// PendingReviewers lists who still owes a review on a task. A non-empty
// requirementID limits the result to that requirement. Users and agents
// are sorted and distinct.
func (d *DB) PendingReviewers(ctx context.Context, taskID, requirementID string) (*task.PendingReviewers, error) {
	q := d.conn(ctx)
	query := `SELECT DISTINCT reviewer, reviewer_type FROM pending_reviewers WHERE task_id = ?`
	args := []any{taskID}
	if requirementID != "" {
		query += ` AND requirement_id = ?`
		args = append(args, requirementID)
	}
	query += ` ORDER BY reviewer_type, reviewer`
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, q.classify("list pending reviewers", err)
	}
	defer func() { _ = rows.Close() }()

	out := &task.PendingReviewers{TaskID: taskID, Users: []string{}, Agents: []string{}}
	for rows.Next() {
		var id, typ string
		if err := rows.Scan(&id, &typ); err != nil {
			return nil, q.classify("scan pending reviewer", err)
		}
		switch task.ReviewerType(typ) {
		case task.ReviewerAgent:
			out.Agents = append(out.Agents, id)
		default:
			out.Users = append(out.Users, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, q.classify("iterate pending reviewers", err)
	}
	slices.Sort(out.Users)
	slices.Sort(out.Agents)
	return out, nil
}

// PendingTasks returns the IDs of tasks on which the reviewer still owes a
// review, sorted.
func (d *DB) PendingTasks(ctx context.Context, reviewer string, typ task.ReviewerType) ([]string, error) {
	q := d.conn(ctx)
	rows, err := q.Query(`
		SELECT DISTINCT task_id FROM pending_reviewers
		WHERE reviewer = ? AND reviewer_type = ?
		ORDER BY task_id
	`, reviewer, string(typ))
	if err != nil {
		return nil, q.classify("list pending tasks", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, q.classify("scan pending task", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, q.classify("iterate pending tasks", err)
	}
	return ids, nil
}

// TaskIsPending reports whether anyone still owes a review on the task.
func (d *DB) TaskIsPending(ctx context.Context, taskID string) (bool, error) {
	q := d.conn(ctx)
	var n int
	err := q.QueryRow(`SELECT COUNT(*) FROM pending_reviewers WHERE task_id = ?`, taskID).Scan(&n)
	if err != nil {
		return false, q.classify("check pending reviewers", err)
	}
	return n > 0, nil
}
