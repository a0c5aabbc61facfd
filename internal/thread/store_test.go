package thread

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/taskara/internal/db"
	tkerrors "github.com/randalmurphal/taskara/internal/errors"
	"github.com/randalmurphal/taskara/internal/image"
	"github.com/randalmurphal/taskara/internal/task"
)

func setup(t *testing.T, opts ...Option) (*Store, *task.Task) {
	t.Helper()
	d := db.NewTestDB(t)
	tk := task.New("find ducks", "alice")
	require.NoError(t, d.SaveTask(context.Background(), tk))
	return NewStore(d, opts...), tk
}

func post(t *testing.T, s *Store, threadID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.PostMessage(context.Background(), threadID, "agent", fmt.Sprintf("step %d", i+1))
		require.NoError(t, err)
	}
}

func TestDefaultThreadExists(t *testing.T) {
	t.Parallel()
	s, tk := setup(t)
	ctx := context.Background()

	main, err := s.DefaultThread(ctx, tk.ID)
	require.NoError(t, err)
	assert.True(t, main.IsDefault())

	again, err := s.EnsureThread(ctx, tk.ID, task.DefaultThreadName)
	require.NoError(t, err)
	assert.Equal(t, main.ID, again.ID)
}

func TestPostMessageAssignsSequence(t *testing.T) {
	t.Parallel()
	s, tk := setup(t)
	ctx := context.Background()
	main, err := s.DefaultThread(ctx, tk.ID)
	require.NoError(t, err)

	seq, err := s.PostMessage(ctx, main.ID, "user", "find ducks")
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	seq, err = s.PostMessage(ctx, main.ID, "assistant", "looking")
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)

	_, err = s.PostMessage(ctx, main.ID, "", "no role")
	assert.True(t, tkerrors.IsValidation(err))

	_, err = s.PostMessage(ctx, "missing", "user", "x")
	assert.True(t, tkerrors.IsNotFound(err))
}

func TestListMessagesOrderedAcrossPages(t *testing.T) {
	t.Parallel()
	s, tk := setup(t, WithPageSize(3))
	ctx := context.Background()
	main, err := s.DefaultThread(ctx, tk.ID)
	require.NoError(t, err)
	post(t, s, main.ID, 10)

	var seqs []int64
	for m, err := range s.ListMessages(ctx, main.ID, 0) {
		require.NoError(t, err)
		seqs = append(seqs, m.Seq)
	}
	require.Len(t, seqs, 10)
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}

	// Ranging again restarts from the beginning.
	count := 0
	for _, err := range s.ListMessages(ctx, main.ID, 0) {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 10, count)
}

func TestCursorConcatenationMatchesFullList(t *testing.T) {
	t.Parallel()
	s, tk := setup(t, WithPageSize(4))
	ctx := context.Background()
	main, err := s.DefaultThread(ctx, tk.ID)
	require.NoError(t, err)
	post(t, s, main.ID, 9)

	all, err := s.Messages(ctx, main.ID, 0)
	require.NoError(t, err)

	first, err := s.Messages(ctx, main.ID, 0)
	require.NoError(t, err)
	first = first[:5]
	rest, err := s.Messages(ctx, main.ID, first[len(first)-1].Seq)
	require.NoError(t, err)

	assert.Equal(t, all, append(first, rest...))
}

func TestListMessagesStopsEarly(t *testing.T) {
	t.Parallel()
	s, tk := setup(t, WithPageSize(2))
	ctx := context.Background()
	main, err := s.DefaultThread(ctx, tk.ID)
	require.NoError(t, err)
	post(t, s, main.ID, 5)

	var got []int64
	for m, err := range s.ListMessages(ctx, main.ID, 0) {
		require.NoError(t, err)
		got = append(got, m.Seq)
		if len(got) == 3 {
			break
		}
	}
	assert.Equal(t, []int64{1, 2, 3}, got)

	// The connection is free again after breaking out.
	_, err = s.PostMessage(ctx, main.ID, "agent", "after break")
	require.NoError(t, err)
}

func TestListMessagesMissingThread(t *testing.T) {
	t.Parallel()
	s, _ := setup(t)

	var errs []error
	for _, err := range s.ListMessages(context.Background(), "missing", 0) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.True(t, tkerrors.IsNotFound(errs[0]))
}

func TestDuplicateThreadNameConflicts(t *testing.T) {
	t.Parallel()
	s, tk := setup(t)
	ctx := context.Background()

	_, err := s.CreateThread(ctx, tk.ID, "research")
	require.NoError(t, err)

	_, err = s.CreateThread(ctx, tk.ID, "research")
	assert.True(t, tkerrors.IsConflict(err), "got %v", err)

	threads, err := s.ListThreads(ctx, tk.ID)
	require.NoError(t, err)
	assert.Len(t, threads, 2)
}

func TestRemoveThread(t *testing.T) {
	t.Parallel()
	s, tk := setup(t)
	ctx := context.Background()

	main, err := s.DefaultThread(ctx, tk.ID)
	require.NoError(t, err)
	assert.True(t, tkerrors.IsValidation(s.RemoveThread(ctx, main.ID)))

	side, err := s.CreateThread(ctx, tk.ID, "side")
	require.NoError(t, err)
	post(t, s, side.ID, 2)
	require.NoError(t, s.RemoveThread(ctx, side.ID))

	_, err = s.GetThread(ctx, side.ID)
	assert.True(t, tkerrors.IsNotFound(err))
}

func TestPostWithImages(t *testing.T) {
	t.Parallel()
	files, err := image.NewFileStore(filepath.Join(t.TempDir(), "images"), nil)
	require.NoError(t, err)
	s, tk := setup(t, WithImageStore(files))
	ctx := context.Background()
	main, err := s.DefaultThread(ctx, tk.ID)
	require.NoError(t, err)

	blob := []byte("a duck, probably")
	_, err = s.PostWithImages(ctx, main.ID, "user", "is this a duck?", [][]byte{blob})
	require.NoError(t, err)

	msgs, err := s.Messages(ctx, main.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, []string{image.Key(blob)}, msgs[0].Images)

	data, err := s.Image(ctx, msgs[0].Images[0])
	require.NoError(t, err)
	assert.Equal(t, blob, data)
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	s, tk := setup(t)
	ctx := context.Background()
	main, err := s.DefaultThread(ctx, tk.ID)
	require.NoError(t, err)

	_, err = s.PostMessage(ctx, main.ID, "user", "find ducks")
	require.NoError(t, err)
	_, err = s.PostMessage(ctx, main.ID, "assistant", "Rouen", "sha256:abc")
	require.NoError(t, err)

	snap, err := s.Snapshot(ctx, main.ID)
	require.NoError(t, err)
	assert.Equal(t, []task.RoleMessage{
		{Role: "user", Text: "find ducks"},
		{Role: "assistant", Text: "Rouen", Images: []string{"sha256:abc"}},
	}, snap)
}
