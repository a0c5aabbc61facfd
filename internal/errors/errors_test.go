package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskErrorFormat(t *testing.T) {
	tests := []struct {
		name    string
		err     *TaskError
		wantErr string
	}{
		{
			name:    "what only",
			err:     &TaskError{What: "something broke"},
			wantErr: "something broke",
		},
		{
			name:    "what and why",
			err:     &TaskError{What: "something broke", Why: "bad input"},
			wantErr: "something broke: bad input",
		},
		{
			name: "with cause",
			err: &TaskError{
				What:  "something broke",
				Cause: errors.New("underlying error"),
			},
			wantErr: "something broke: underlying error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, tt.err.Error())
		})
	}
}

func TestIsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("get task: %w", NotFound("task", "t-1"))

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsConflict(wrapped))
	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestInvalidTransitionCarriesStates(t *testing.T) {
	err := InvalidTransition("t-1", "success", "in_progress")

	require.True(t, IsInvalidTransition(err))
	assert.Equal(t, "success", err.From)
	assert.Equal(t, "in_progress", err.To)
	assert.Contains(t, err.Error(), "success")
	assert.Contains(t, err.Error(), "in_progress")
}

func TestRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("wrap: %w", Storage("insert", true, errors.New("locked")))))
	assert.False(t, IsRetryable(Storage("insert", false, errors.New("disk full"))))
	assert.False(t, IsRetryable(Timeout("query", errors.New("deadline"))))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestTimeoutDistinctFromStorage(t *testing.T) {
	err := Timeout("query", errors.New("deadline"))
	assert.True(t, IsTimeout(err))
	assert.False(t, IsStorage(err))
}

func TestWithCauseCopies(t *testing.T) {
	base := Conflict("thread", "main", "name exists")
	cause := errors.New("unique violation")
	withCause := base.WithCause(cause)

	assert.Nil(t, base.Cause)
	assert.Equal(t, cause, withCause.Cause)
	assert.True(t, errors.Is(withCause, cause))
	assert.True(t, IsConflict(withCause))
}

func TestMarshalJSON(t *testing.T) {
	err := Storage("commit", true, errors.New("connection reset"))
	data, mErr := json.Marshal(err)
	require.NoError(t, mErr)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "STORAGE", out["code"])
	assert.Equal(t, true, out["retryable"])
	assert.Equal(t, "connection reset", out["cause"])
}

func TestCategory(t *testing.T) {
	assert.Equal(t, CategoryNotFound, NotFound("task", "x").Category())
	assert.Equal(t, CategoryConflict, StaleVersion("task", "x", 2).Category())
	assert.Equal(t, CategoryUnknown, (&TaskError{Code: "BOGUS"}).Category())
}
