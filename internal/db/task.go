package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	tkerrors "github.com/randalmurphal/taskara/internal/errors"
	"github.com/randalmurphal/taskara/internal/task"
)

const taskColumns = `id, description, owner_id, assignee_id, assigned_type, status, output, error,
	metadata, parameters, project, labels, tags, parent_id, max_steps,
	created_at, updated_at, started_at, completed_at, version`

// TaskFilter selects tasks for FindTasks and CountTasks. Zero fields do not filter.
type TaskFilter struct {
	OwnerID      string
	AssigneeID   string
	AssignedType string
	Project      string
	Status       []task.Status

	// Time bounds are exclusive.
	CreatedAfter  time.Time
	CreatedBefore time.Time
	UpdatedAfter  time.Time
	UpdatedBefore time.Time

	// Label matches tasks carrying every key with exactly that value.
	Label map[string]string
	// Tag matches tasks carrying the tag.
	Tag      string
	ParentID string
	// PendingReviewer matches tasks on which the reviewer still owes a review.
	PendingReviewer string

	Limit  int
	Offset int

	// Descending reverses the created_at, id ordering.
	Descending bool
}

// SaveTask creates or updates a task.
//
// A task with Version 0 is inserted: ID and timestamps are filled in, the
// default thread is created and Version becomes 1. A task with Version > 0
// updates its descriptive fields only if the stored version still matches;
// status, assignee, output and error are owned by the lifecycle manager and
// are not written here. On success t reflects what was stored.
func (d *DB) SaveTask(ctx context.Context, t *task.Task) error {
	next := t.Clone()
	err := d.RunInTx(ctx, func(tx *TxOps) error {
		return SaveTaskTx(tx, next)
	})
	if err != nil {
		return err
	}
	*t = *next
	return nil
}

// SaveTaskTx saves a task within an existing transaction. t is modified
// in place; callers that need all-or-nothing semantics on the struct should
// pass a copy.
func SaveTaskTx(tx *TxOps, t *task.Task) error {
	if t.Version == 0 {
		return insertTask(tx, t)
	}
	return updateTask(tx, t)
}

func prepareTask(t *task.Task) error {
	if t.Status == "" {
		t.Status = task.StatusCreated
	}
	if t.MaxSteps == 0 {
		t.MaxSteps = task.DefaultMaxSteps
	}
	if err := t.Validate(); err != nil {
		return err
	}
	norm, err := t.Metadata.Normalized()
	if err != nil {
		return tkerrors.Validation("metadata", err.Error())
	}
	if len(norm) == 0 {
		norm = nil
	}
	t.Metadata = norm
	params, err := t.Parameters.Normalized()
	if err != nil {
		return tkerrors.Validation("parameters", err.Error())
	}
	if len(params) == 0 {
		params = nil
	}
	t.Parameters = params
	if len(t.Labels) == 0 {
		t.Labels = nil
	}
	t.Tags = dedupeTags(t.Tags)
	return nil
}

func insertTask(tx *TxOps, t *task.Task) error {
	if t.ID == "" {
		t.ID = task.NewID()
	}
	if t.Status != "" && t.Status != task.StatusCreated {
		return tkerrors.Validation("status", "new tasks start in the created state")
	}
	if err := prepareTask(t); err != nil {
		return err
	}

	now := task.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.CreatedAt

	enc, err := encodeTaskJSON(t)
	if err != nil {
		return err
	}

	res, err := tx.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, t.ID, t.Description, t.OwnerID, nullString(t.AssigneeID), nullString(t.AssignedType), string(t.Status),
		nullString(t.Output), nullString(t.Error),
		enc.metadata, enc.parameters, nullString(t.Project), enc.labels, enc.tags, nullString(t.ParentID), t.MaxSteps,
		task.FormatTime(t.CreatedAt), task.FormatTime(t.UpdatedAt),
		nullTime(t.StartedAt), nullTime(t.CompletedAt), 1)
	if err != nil {
		return tx.classify("insert task", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return tx.classify("insert task", err)
	} else if n == 0 {
		return tkerrors.Conflict("task", t.ID, "a task with this id already exists")
	}

	if err := writeTaskIndexes(tx, t); err != nil {
		return err
	}
	if _, err := EnsureThreadTx(tx, t.ID, task.DefaultThreadName); err != nil {
		return err
	}

	t.Version = 1
	return nil
}

func updateTask(tx *TxOps, t *task.Task) error {
	if t.ID == "" {
		return tkerrors.Validation("id", "required to update a saved task")
	}
	if err := prepareTask(t); err != nil {
		return err
	}

	enc, err := encodeTaskJSON(t)
	if err != nil {
		return err
	}

	now := task.Now()
	res, err := tx.Exec(`
		UPDATE tasks SET
			description = ?, owner_id = ?, metadata = ?, parameters = ?, project = ?,
			labels = ?, tags = ?, parent_id = ?, max_steps = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND status = ?
	`, t.Description, t.OwnerID, enc.metadata, enc.parameters, nullString(t.Project),
		enc.labels, enc.tags, nullString(t.ParentID), t.MaxSteps, task.FormatTime(now),
		t.ID, t.Version, string(t.Status))
	if err != nil {
		return tx.classify("update task", err)
	}
	err = checkTaskWrite(tx, res, t.ID, t.Version, t.Status, func(stored task.Status) error {
		return tkerrors.Validation("status",
			fmt.Sprintf("stored status is %s, not %s; status changes through lifecycle transitions", stored, t.Status))
	})
	if err != nil {
		return err
	}

	if err := writeTaskIndexes(tx, t); err != nil {
		return err
	}
	if _, err := EnsureThreadTx(tx, t.ID, task.DefaultThreadName); err != nil {
		return err
	}

	// Lifecycle-owned fields are not written here; hand back the stored ones.
	stored, err := getTask(tx, t.ID)
	if err != nil {
		return err
	}
	t.AssigneeID = stored.AssigneeID
	t.AssignedType = stored.AssignedType
	t.Output = stored.Output
	t.Error = stored.Error
	t.StartedAt = stored.StartedAt
	t.CompletedAt = stored.CompletedAt
	t.UpdatedAt = now
	t.Version++
	return nil
}

// UpdateTaskStateTx writes the lifecycle-owned columns of t if the stored
// row still has version t.Version and status from, then bumps t.Version.
// UpdatedAt must already hold the new modification time. A stored status
// other than from fails with InvalidTransition naming the stored status, or
// with Conflict when t.Status equals from and no transition was requested.
func UpdateTaskStateTx(tx *TxOps, t *task.Task, from task.Status) error {
	res, err := tx.Exec(`
		UPDATE tasks SET
			status = ?, assignee_id = ?, assigned_type = ?, output = ?, error = ?,
			started_at = ?, completed_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND status = ?
	`, string(t.Status), nullString(t.AssigneeID), nullString(t.AssignedType), nullString(t.Output), nullString(t.Error),
		nullTime(t.StartedAt), nullTime(t.CompletedAt), task.FormatTime(t.UpdatedAt),
		t.ID, t.Version, string(from))
	if err != nil {
		return tx.classify("update task state", err)
	}
	err = checkTaskWrite(tx, res, t.ID, t.Version, from, func(stored task.Status) error {
		if from == t.Status {
			return tkerrors.Conflict("task", t.ID, fmt.Sprintf("stored status is %s, not %s", stored, from))
		}
		return tkerrors.InvalidTransition(t.ID, string(stored), string(t.Status))
	})
	if err != nil {
		return err
	}
	t.Version++
	return nil
}

// checkTaskWrite turns a zero-row conditional task update into NotFound, a
// stale-version Conflict, or the error onStatus builds when the version
// matched but the stored status was not the expected one.
func checkTaskWrite(q querier, res sql.Result, id string, version int64, expected task.Status,
	onStatus func(stored task.Status) error,
) error {
	n, err := res.RowsAffected()
	if err != nil {
		return q.classify("update task", err)
	}
	if n > 0 {
		return nil
	}

	var (
		storedVersion int64
		storedStatus  string
	)
	err = q.QueryRow(`SELECT version, status FROM tasks WHERE id = ?`, id).Scan(&storedVersion, &storedStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return tkerrors.NotFound("task", id)
	}
	if err != nil {
		return q.classify("check task", err)
	}
	if storedVersion != version {
		return tkerrors.StaleVersion("task", id, version)
	}
	if task.Status(storedStatus) != expected {
		return onStatus(task.Status(storedStatus))
	}
	return tkerrors.StaleVersion("task", id, version)
}

// taskJSON holds the JSON-encoded columns of a task row.
type taskJSON struct {
	metadata, parameters, labels, tags string
}

func encodeTaskJSON(t *task.Task) (taskJSON, error) {
	var (
		enc taskJSON
		err error
	)
	if enc.metadata, err = t.Metadata.Encode(); err != nil {
		return enc, tkerrors.Validation("metadata", err.Error())
	}
	if enc.parameters, err = t.Parameters.Encode(); err != nil {
		return enc, tkerrors.Validation("parameters", err.Error())
	}
	if enc.labels, err = encodeLabels(t.Labels); err != nil {
		return enc, tkerrors.Validation("labels", err.Error())
	}
	if enc.tags, err = encodeStrings(t.Tags); err != nil {
		return enc, tkerrors.Validation("tags", err.Error())
	}
	return enc, nil
}

// writeTaskIndexes rewrites the tag and label side tables used by FindTasks.
func writeTaskIndexes(tx *TxOps, t *task.Task) error {
	if _, err := tx.Exec(`DELETE FROM task_tags WHERE task_id = ?`, t.ID); err != nil {
		return tx.classify("clear task tags", err)
	}
	for _, tag := range t.Tags {
		if _, err := tx.Exec(`INSERT INTO task_tags (task_id, tag) VALUES (?, ?)`, t.ID, tag); err != nil {
			return tx.classify("insert task tag", err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM task_labels WHERE task_id = ?`, t.ID); err != nil {
		return tx.classify("clear task labels", err)
	}
	keys := make([]string, 0, len(t.Labels))
	for k := range t.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := tx.Exec(`INSERT INTO task_labels (task_id, key, value) VALUES (?, ?, ?)`, t.ID, k, t.Labels[k]); err != nil {
			return tx.classify("insert task label", err)
		}
	}
	return nil
}

func dedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// GetTask retrieves a task by ID.
func (d *DB) GetTask(ctx context.Context, id string) (*task.Task, error) {
	return getTask(d.conn(ctx), id)
}

// GetTaskTx retrieves a task within an existing transaction.
func GetTaskTx(tx *TxOps, id string) (*task.Task, error) {
	return getTask(tx, id)
}

func getTask(q querier, id string) (*task.Task, error) {
	row := q.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tkerrors.NotFound("task", id)
		}
		return nil, q.classify("get task", err)
	}
	return t, nil
}

func taskExists(q querier, id string) (bool, error) {
	var n int
	err := q.QueryRow(`SELECT COUNT(*) FROM tasks WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, q.classify("check task", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask decodes one tasks row. Shape errors are DeserializationErrors.
func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t                                task.Task
		assignee, assignedType           sql.NullString
		output, errText, parent, project sql.NullString
		status, metadata, params         string
		labels, tags                     string
		created, updated                 string
		started, completed               sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Description, &t.OwnerID, &assignee, &assignedType, &status, &output, &errText,
		&metadata, &params, &project, &labels, &tags, &parent, &t.MaxSteps,
		&created, &updated, &started, &completed, &t.Version); err != nil {
		return nil, err
	}

	col := func(name string) column { return column{kind: "task", id: t.ID, name: name} }
	var err error
	if t.Status, err = col("status").status(status); err != nil {
		return nil, err
	}
	if t.Metadata, err = col("metadata").metadata(metadata); err != nil {
		return nil, err
	}
	if t.Parameters, err = col("parameters").metadata(params); err != nil {
		return nil, err
	}
	if t.Labels, err = col("labels").labels(labels); err != nil {
		return nil, err
	}
	if t.Tags, err = col("tags").strings(tags); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = col("created_at").timestamp(created); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = col("updated_at").timestamp(updated); err != nil {
		return nil, err
	}
	if t.StartedAt, err = col("started_at").nullTime(started); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = col("completed_at").nullTime(completed); err != nil {
		return nil, err
	}
	t.AssigneeID = stringPtr(assignee)
	t.AssignedType = stringPtr(assignedType)
	t.Project = stringPtr(project)
	t.Output = stringPtr(output)
	t.Error = stringPtr(errText)
	t.ParentID = stringPtr(parent)
	return &t, nil
}

// where renders the filter as a WHERE clause with ? placeholders.
func (f TaskFilter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.AssigneeID != "" {
		conds = append(conds, "assignee_id = ?")
		args = append(args, f.AssigneeID)
	}
	if f.AssignedType != "" {
		conds = append(conds, "assigned_type = ?")
		args = append(args, f.AssignedType)
	}
	if f.Project != "" {
		conds = append(conds, "project = ?")
		args = append(args, f.Project)
	}
	if len(f.Status) > 0 {
		marks := make([]string, len(f.Status))
		for i, s := range f.Status {
			marks[i] = "?"
			args = append(args, string(s))
		}
		conds = append(conds, "status IN ("+strings.Join(marks, ", ")+")")
	}
	timeBound := func(column, op string, t time.Time) {
		if !t.IsZero() {
			conds = append(conds, column+" "+op+" ?")
			args = append(args, task.FormatTime(t))
		}
	}
	timeBound("created_at", ">", f.CreatedAfter)
	timeBound("created_at", "<", f.CreatedBefore)
	timeBound("updated_at", ">", f.UpdatedAfter)
	timeBound("updated_at", "<", f.UpdatedBefore)

	keys := make([]string, 0, len(f.Label))
	for k := range f.Label {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		conds = append(conds, "EXISTS (SELECT 1 FROM task_labels l WHERE l.task_id = tasks.id AND l.key = ? AND l.value = ?)")
		args = append(args, k, f.Label[k])
	}
	if f.Tag != "" {
		conds = append(conds, "EXISTS (SELECT 1 FROM task_tags g WHERE g.task_id = tasks.id AND g.tag = ?)")
		args = append(args, f.Tag)
	}
	if f.ParentID != "" {
		conds = append(conds, "parent_id = ?")
		args = append(args, f.ParentID)
	}
	if f.PendingReviewer != "" {
		conds = append(conds, "EXISTS (SELECT 1 FROM pending_reviewers p WHERE p.task_id = tasks.id AND p.reviewer = ?)")
		args = append(args, f.PendingReviewer)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (f TaskFilter) validate() error {
	if f.Limit < 0 {
		return tkerrors.Validation("limit", "must not be negative")
	}
	if f.Offset < 0 {
		return tkerrors.Validation("offset", "must not be negative")
	}
	for _, s := range f.Status {
		if !task.IsValidStatus(s) {
			return tkerrors.Validation("status", fmt.Sprintf("unknown status %q", s))
		}
	}
	return nil
}

// FindTasks returns tasks matching the filter ordered by created_at then id.
func (d *DB) FindTasks(ctx context.Context, f TaskFilter) ([]*task.Task, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	where, args := f.where()

	dir := "ASC"
	if f.Descending {
		dir = "DESC"
	}
	query := `SELECT ` + taskColumns + ` FROM tasks` + where +
		` ORDER BY created_at ` + dir + `, id ` + dir

	if f.Limit > 0 || f.Offset > 0 {
		limit := int64(math.MaxInt64)
		if f.Limit > 0 {
			limit = int64(f.Limit)
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, int64(f.Offset))
	}

	q := d.conn(ctx)
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, q.classify("find tasks", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, q.classify("scan task", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, q.classify("iterate tasks", err)
	}
	return tasks, nil
}

// CountTasks returns how many tasks match the filter, ignoring Limit and Offset.
func (d *DB) CountTasks(ctx context.Context, f TaskFilter) (int, error) {
	if err := f.validate(); err != nil {
		return 0, err
	}
	where, args := f.where()

	q := d.conn(ctx)
	var n int
	if err := q.QueryRow(`SELECT COUNT(*) FROM tasks`+where, args...).Scan(&n); err != nil {
		return 0, q.classify("count tasks", err)
	}
	return n, nil
}

// DeleteTask removes a task and everything it owns in one transaction:
// messages, threads, prompts, reviews and review requirements, audit
// events, tags and labels. Child tasks
// are detached rather than deleted.
func (d *DB) DeleteTask(ctx context.Context, id string) error {
	return d.RunInTx(ctx, func(tx *TxOps) error {
		exists, err := taskExists(tx, id)
		if err != nil {
			return err
		}
		if !exists {
			return tkerrors.NotFound("task", id)
		}

		steps := []struct {
			op, query string
		}{
			{"delete task messages", `DELETE FROM messages WHERE thread_id IN (SELECT id FROM threads WHERE task_id = ?)`},
			{"delete task threads", `DELETE FROM threads WHERE task_id = ?`},
			{"delete task prompts", `DELETE FROM prompts WHERE task_id = ?`},
			{"delete pending reviewers", `DELETE FROM pending_reviewers WHERE task_id = ?`},
			{"delete task reviews", `DELETE FROM reviews WHERE task_id = ?`},
			{"delete review requirements", `DELETE FROM review_requirements WHERE task_id = ?`},
			{"delete task events", `DELETE FROM task_events WHERE task_id = ?`},
			{"delete task tags", `DELETE FROM task_tags WHERE task_id = ?`},
			{"delete task labels", `DELETE FROM task_labels WHERE task_id = ?`},
			{"delete task", `DELETE FROM tasks WHERE id = ?`},
		}
		for _, s := range steps {
			if _, err := tx.Exec(s.query, id); err != nil {
				return tx.classify(s.op, err)
			}
		}

		if _, err := tx.Exec(`
			UPDATE tasks SET parent_id = NULL, updated_at = ?, version = version + 1
			WHERE parent_id = ?
		`, task.FormatTime(task.Now()), id); err != nil {
			return tx.classify("detach child tasks", err)
		}
		return nil
	})
}
