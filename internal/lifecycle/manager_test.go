package lifecycle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/taskara/internal/db"
	tkerrors "github.com/randalmurphal/taskara/internal/errors"
	"github.com/randalmurphal/taskara/internal/task"
)

func newTask(t *testing.T, d *db.DB) *task.Task {
	t.Helper()
	tk := task.New("find ducks", "alice")
	require.NoError(t, d.SaveTask(context.Background(), tk))
	return tk
}

func TestFullLifecycle(t *testing.T) {
	t.Parallel()
	d := db.NewTestDB(t)
	m := NewManager(d)
	ctx := context.Background()
	tk := newTask(t, d)

	require.NoError(t, m.Assign(ctx, tk, "bob", "alice"))
	assert.Equal(t, task.StatusAssigned, tk.Status)
	assert.Equal(t, "bob", task.Deref(tk.AssigneeID))

	require.NoError(t, m.Start(ctx, tk, "bob"))
	assert.Equal(t, task.StatusInProgress, tk.Status)
	require.NotNil(t, tk.StartedAt)

	require.NoError(t, m.Complete(ctx, tk, "Rouen", "bob"))
	assert.Equal(t, task.StatusSuccess, tk.Status)
	assert.Equal(t, "Rouen", task.Deref(tk.Output))
	require.NotNil(t, tk.CompletedAt)

	stored, err := m.Reload(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSuccess, stored.Status)
	assert.Equal(t, "Rouen", task.Deref(stored.Output))
	assert.Equal(t, tk.Version, stored.Version)

	events, err := m.History(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, task.StatusCreated, events[0].From)
	assert.Equal(t, task.StatusAssigned, events[0].To)
	assert.Equal(t, "alice", events[0].Actor)
	assert.Equal(t, task.StatusInProgress, events[1].To)
	assert.Equal(t, task.StatusSuccess, events[2].To)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
	}

	final, err := task.Replay(events)
	require.NoError(t, err)
	assert.Equal(t, stored.Status, final)
}

func TestTerminalTaskRejectsTransition(t *testing.T) {
	t.Parallel()
	d := db.NewTestDB(t)
	m := NewManager(d)
	ctx := context.Background()
	tk := newTask(t, d)

	require.NoError(t, m.Cancel(ctx, tk, "not needed", "alice"))
	version := tk.Version

	err := m.Start(ctx, tk, "bob")
	require.Error(t, err)
	assert.True(t, tkerrors.IsInvalidTransition(err))
	assert.Equal(t, task.StatusCancelled, tk.Status)
	assert.Equal(t, version, tk.Version)

	stored, err := m.Reload(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, stored.Status)
	assert.Equal(t, "not needed", task.Deref(stored.Error))

	events, err := m.History(ctx, tk.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, "not needed", events[0].Reason)
}

func TestIllegalEdges(t *testing.T) {
	t.Parallel()
	d := db.NewTestDB(t)
	m := NewManager(d)
	ctx := context.Background()

	tests := []struct {
		name string
		to   task.Status
	}{
		{"created to success", task.StatusSuccess},
		{"created to failed", task.StatusFailed},
		{"created to created", task.StatusCreated},
	}
	for _, tt := range tests {
		tk := newTask(t, d)
		err := m.Transition(ctx, tk, tt.to, Change{Actor: "alice"})
		assert.True(t, tkerrors.IsInvalidTransition(err), tt.name)
		assert.Equal(t, task.StatusCreated, tk.Status, tt.name)
	}
}

func TestStaleCopyConflicts(t *testing.T) {
	t.Parallel()
	d := db.NewTestDB(t)
	m := NewManager(d)
	ctx := context.Background()
	tk := newTask(t, d)

	first, err := m.Reload(ctx, tk.ID)
	require.NoError(t, err)
	second, err := m.Reload(ctx, tk.ID)
	require.NoError(t, err)

	require.NoError(t, m.Start(ctx, first, "bob"))

	err = m.Cancel(ctx, second, "late", "carol")
	require.Error(t, err)
	assert.True(t, tkerrors.IsConflict(err), "got %v", err)
	assert.Equal(t, task.StatusCreated, second.Status)

	stored, err := m.Reload(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, stored.Status)

	events, err := m.History(ctx, tk.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestEventFailureRollsBackStatus(t *testing.T) {
	t.Parallel()
	d := db.NewTestDB(t)
	m := NewManager(d)
	ctx := context.Background()
	tk := newTask(t, d)

	_, err := d.DB().Exec("DROP TABLE task_events")
	require.NoError(t, err)

	err = m.Start(ctx, tk, "bob")
	require.Error(t, err)
	assert.Equal(t, task.StatusCreated, tk.Status)

	stored, err := m.Reload(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCreated, stored.Status)
	assert.Nil(t, stored.StartedAt)
	assert.Equal(t, tk.Version, stored.Version)
}

func TestAssignAsRecordsType(t *testing.T) {
	t.Parallel()
	d := db.NewTestDB(t)
	m := NewManager(d)
	ctx := context.Background()
	tk := newTask(t, d)

	require.NoError(t, m.AssignAs(ctx, tk, "scout-7", "agent", "alice"))
	assert.Equal(t, "agent", task.Deref(tk.AssignedType))

	stored, err := m.Reload(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "scout-7", task.Deref(stored.AssigneeID))
	assert.Equal(t, "agent", task.Deref(stored.AssignedType))
}

func TestAssignRequiresAssignee(t *testing.T) {
	t.Parallel()
	d := db.NewTestDB(t)
	m := NewManager(d)
	tk := newTask(t, d)

	err := m.Assign(context.Background(), tk, "  ", "alice")
	assert.True(t, tkerrors.IsValidation(err))
	assert.Equal(t, task.StatusCreated, tk.Status)
}

func TestSetOutputWritesNoEvent(t *testing.T) {
	t.Parallel()
	d := db.NewTestDB(t)
	m := NewManager(d)
	ctx := context.Background()
	tk := newTask(t, d)

	require.NoError(t, m.Start(ctx, tk, "bob"))
	require.NoError(t, m.SetOutput(ctx, tk, "partial", "bob"))
	assert.Equal(t, task.StatusInProgress, tk.Status)

	stored, err := m.Reload(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "partial", task.Deref(stored.Output))

	events, err := m.History(ctx, tk.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStoredStatusGuardsTransition(t *testing.T) {
	t.Parallel()
	d := db.NewTestDB(t)
	m := NewManager(d)
	ctx := context.Background()
	tk := newTask(t, d)

	// The in-memory status claims in_progress; the row is still created.
	tampered := tk.Clone()
	tampered.Status = task.StatusInProgress
	err := m.Complete(ctx, tampered, "Rouen", "bob")
	require.Error(t, err)
	assert.True(t, tkerrors.IsInvalidTransition(err), "got %v", err)
	var te *tkerrors.TaskError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, string(task.StatusCreated), te.From)
	assert.Equal(t, string(task.StatusSuccess), te.To)
	assert.Equal(t, task.StatusInProgress, tampered.Status, "caller's task untouched")

	stored, err := m.Reload(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCreated, stored.Status)
	assert.Nil(t, stored.Output)

	events, err := m.History(ctx, tk.ID)
	require.NoError(t, err)
	assert.Empty(t, events)

	// SetOutput does not rewrite a status the row does not have.
	tampered.Status = task.StatusSuccess
	assert.True(t, tkerrors.IsConflict(m.SetOutput(ctx, tampered, "x", "bob")))

	require.NoError(t, m.Start(ctx, tk, "bob"))
	require.NoError(t, m.Complete(ctx, tk, "Rouen", "bob"))
	events, err = m.History(ctx, tk.ID)
	require.NoError(t, err)
	st, err := task.Replay(events)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSuccess, st)
}

func TestFailRecordsReason(t *testing.T) {
	t.Parallel()
	d := db.NewTestDB(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(d, WithClock(func() time.Time { return at }), WithLogger(nil))
	ctx := context.Background()
	tk := newTask(t, d)

	require.NoError(t, m.Start(ctx, tk, ""))
	require.NoError(t, m.Fail(ctx, tk, "no ducks found", ""))

	assert.Equal(t, task.StatusFailed, tk.Status)
	assert.Equal(t, "no ducks found", task.Deref(tk.Error))
	require.NotNil(t, tk.CompletedAt)
	assert.True(t, tk.CompletedAt.Equal(at))

	events, err := m.History(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, SystemActor, events[1].Actor)
	assert.True(t, events[1].CreatedAt.Equal(at))
}

func TestConcurrentTransitionsOneWins(t *testing.T) {
	t.Parallel()
	d := db.NewTestDB(t)
	m := NewManager(d)
	ctx := context.Background()
	tk := newTask(t, d)

	const workers = 6
	copies := make([]*task.Task, workers)
	for i := range copies {
		c, err := m.Reload(ctx, tk.ID)
		require.NoError(t, err)
		copies[i] = c
	}

	var wins, conflicts atomic.Int32
	var g errgroup.Group
	for _, c := range copies {
		g.Go(func() error {
			err := m.Start(ctx, c, "worker")
			switch {
			case err == nil:
				wins.Add(1)
			case tkerrors.IsConflict(err):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(workers-1), conflicts.Load())

	events, err := m.History(ctx, tk.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
