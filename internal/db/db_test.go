package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/taskara/internal/config"
	"github.com/randalmurphal/taskara/internal/db/driver"
	tkerrors "github.com/randalmurphal/taskara/internal/errors"
	"github.com/randalmurphal/taskara/internal/task"
)

func TestOpenFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default().Database
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "nested", "taskara.db")

	d, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = d.Close() }()

	assert.Equal(t, driver.DialectSQLite, d.Dialect())
	assert.Equal(t, cfg.SQLite.Path, d.DSN())

	tk := newSavedTask(t, d, "persisted", "alice")
	require.NoError(t, d.Close())

	reopened, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.GetTask(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Description)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "oracle"})
	assert.Equal(t, tkerrors.CodeConfigInvalid, tkerrors.CodeOf(err))
}

func TestMigrateIdempotent(t *testing.T) {
	t.Parallel()
	d := NewTestDB(t)

	require.NoError(t, d.Migrate(context.Background()))
	require.NoError(t, d.Migrate(context.Background()))

	var n int
	require.NoError(t, d.DB().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&n))
	assert.Equal(t, 2, n)
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	t.Parallel()
	d := NewTestDB(t)
	ctx := context.Background()
	sentinel := errors.New("boom")

	err := d.RunInTx(ctx, func(tx *TxOps) error {
		tk := task.New("doomed", "alice")
		if err := SaveTaskTx(tx, tk); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	n, err := d.CountTasks(ctx, TaskFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunInTxRollsBackOnPanic(t *testing.T) {
	t.Parallel()
	d := NewTestDB(t)
	ctx := context.Background()

	assert.PanicsWithValue(t, "mid-transaction", func() {
		_ = d.RunInTx(ctx, func(tx *TxOps) error {
			if err := SaveTaskTx(tx, task.New("doomed", "alice")); err != nil {
				return err
			}
			panic("mid-transaction")
		})
	})

	n, err := d.CountTasks(ctx, TaskFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// The single SQLite connection must be usable again.
	newSavedTask(t, d, "after panic", "alice")
}

func TestSaveTaskValidation(t *testing.T) {
	t.Parallel()
	d := NewTestDB(t)
	ctx := context.Background()

	err := d.SaveTask(ctx, task.New("", "alice"))
	assert.True(t, tkerrors.IsValidation(err))

	started := task.New("skip ahead", "alice")
	started.Status = task.StatusInProgress
	assert.True(t, tkerrors.IsValidation(d.SaveTask(ctx, started)))

	bad := task.New("bad metadata", "alice")
	bad.Metadata = task.Metadata{"f": func() {}}
	assert.True(t, tkerrors.IsValidation(d.SaveTask(ctx, bad)))
}

func TestCorruptRowsFailDeserialization(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		column string
		value  string
	}{
		{"metadata not json", "metadata", "{not json"},
		{"metadata is array", "metadata", `["a"]`},
		{"tags is object", "tags", `{"a":1}`},
		{"labels wrong value type", "labels", `{"a":1}`},
		{"unknown status", "status", "paused"},
		{"bad timestamp", "created_at", "yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := NewTestDB(t)
			ctx := context.Background()
			tk := newSavedTask(t, d, "find ducks", "alice")

			_, err := d.DB().Exec("UPDATE tasks SET "+tt.column+" = ? WHERE id = ?", tt.value, tk.ID)
			require.NoError(t, err)

			_, err = d.GetTask(ctx, tk.ID)
			require.Error(t, err)
			assert.True(t, tkerrors.IsDeserialization(err), "got %v", err)
			assert.Contains(t, err.Error(), tt.column)
			assert.Contains(t, err.Error(), tk.ID)

			found, err := d.FindTasks(ctx, TaskFilter{})
			assert.Nil(t, found, "no partial results")
			assert.True(t, tkerrors.IsDeserialization(err))
		})
	}
}

func TestCorruptMessageImages(t *testing.T) {
	t.Parallel()
	d := NewTestDB(t)
	ctx := context.Background()

	th, err := d.CreateThread(ctx, "", "scratch")
	require.NoError(t, err)
	m, err := d.AppendMessage(ctx, th.ID, "user", "hi", nil)
	require.NoError(t, err)

	_, err = d.DB().Exec("UPDATE messages SET images = '\"key\"' WHERE id = ?", m.ID)
	require.NoError(t, err)

	_, err = d.ListMessages(ctx, th.ID, 0, 0)
	assert.True(t, tkerrors.IsDeserialization(err))
}

func TestCorruptPromptThread(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		column string
		value  string
	}{
		{"response is array", "response", `[]`},
		{"response missing fields", "response", `{"nope":true}`},
		{"response role not string", "response", `{"role":1,"text":"ok"}`},
		{"response images not array", "response", `{"role":"assistant","text":"ok","images":"k"}`},
		{"thread is object", "thread", `{"role":"user","text":"hi"}`},
		{"thread element missing fields", "thread", `[{"bogus":1}]`},
		{"thread element not object", "thread", `["hi"]`},
		{"thread image key not string", "thread", `[{"role":"user","text":"hi","images":[1]}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := NewTestDB(t)
			ctx := context.Background()
			tk := newSavedTask(t, d, "find ducks", "alice")

			p := &task.Prompt{
				TaskID:   tk.ID,
				Thread:   []task.RoleMessage{{Role: "user", Text: "where are the ducks?"}},
				Response: task.RoleMessage{Role: "assistant", Text: "ok"},
			}
			require.NoError(t, d.InsertPrompt(ctx, p))

			_, err := d.DB().Exec("UPDATE prompts SET "+tt.column+" = ? WHERE id = ?", tt.value, p.ID)
			require.NoError(t, err)

			got, err := d.GetPrompt(ctx, p.ID)
			assert.Nil(t, got)
			assert.True(t, tkerrors.IsDeserialization(err), "got %v", err)
			assert.Contains(t, err.Error(), tt.column)

			list, err := d.ListPrompts(ctx, tk.ID, "")
			assert.Nil(t, list, "no partial results")
			assert.True(t, tkerrors.IsDeserialization(err))
		})
	}
}

func TestExpiredContextIsTimeout(t *testing.T) {
	t.Parallel()
	d := NewTestDB(t)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := d.GetTask(ctx, "any")
	require.Error(t, err)
	assert.True(t, tkerrors.IsTimeout(err), "got %v", err)
	assert.False(t, tkerrors.IsStorage(err))
}

func TestConcurrentAppendsSerialize(t *testing.T) {
	t.Parallel()
	d := NewTestDB(t)
	ctx := context.Background()
	tk := newSavedTask(t, d, "find ducks", "alice")
	th, err := d.GetThreadByName(ctx, tk.ID, task.DefaultThreadName)
	require.NoError(t, err)

	const writers = 8
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			_, err := d.AppendMessage(ctx, th.ID, "agent", "step", nil)
			return err
		})
	}
	require.NoError(t, g.Wait())

	msgs, err := d.ListMessages(ctx, th.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, writers)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Seq)
	}
}

func TestDeleteThread(t *testing.T) {
	t.Parallel()
	d := NewTestDB(t)
	ctx := context.Background()
	tk := newSavedTask(t, d, "find ducks", "alice")

	side, err := d.CreateThread(ctx, tk.ID, "side")
	require.NoError(t, err)
	_, err = d.AppendMessage(ctx, side.ID, "user", "x", nil)
	require.NoError(t, err)

	require.NoError(t, d.DeleteThread(ctx, side.ID))
	_, err = d.GetThread(ctx, side.ID)
	assert.True(t, tkerrors.IsNotFound(err))
	n, err := d.CountMessages(ctx, side.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.True(t, tkerrors.IsNotFound(d.DeleteThread(ctx, side.ID)))
}
