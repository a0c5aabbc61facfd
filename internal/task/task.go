package task

import (
	"strings"
	"time"

	"github.com/google/uuid"

	tkerrors "github.com/randalmurphal/taskara/internal/errors"
)

const (
	// DefaultThreadName is the thread every saved task is guaranteed to have.
	DefaultThreadName = "main"

	// DefaultMaxSteps is applied when a task is saved with MaxSteps unset.
	DefaultMaxSteps = 30

	// TimeLayout is the fixed-width UTC format used for stored timestamps.
	TimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Task is a unit of work tracked by taskara.
//
// AssignedType says what kind of party the assignee is, e.g. "user" or
// "agent", and is set together with the assignee. Parameters are the inputs
// the task is run with.
type Task struct {
	ID           string            `yaml:"id" json:"id"`
	Description  string            `yaml:"description" json:"description"`
	OwnerID      string            `yaml:"owner_id" json:"owner_id"`
	AssigneeID   *string           `yaml:"assignee_id,omitempty" json:"assignee_id,omitempty"`
	AssignedType *string           `yaml:"assigned_type,omitempty" json:"assigned_type,omitempty"`
	Status       Status            `yaml:"status" json:"status"`
	Output       *string           `yaml:"output,omitempty" json:"output,omitempty"`
	Error        *string           `yaml:"error,omitempty" json:"error,omitempty"`
	Metadata     Metadata          `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Parameters   Metadata          `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Project      *string           `yaml:"project,omitempty" json:"project,omitempty"`
	Labels       map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
	Tags         []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	ParentID     *string           `yaml:"parent_id,omitempty" json:"parent_id,omitempty"`
	MaxSteps     int               `yaml:"max_steps" json:"max_steps"`
	CreatedAt    time.Time         `yaml:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `yaml:"updated_at" json:"updated_at"`
	StartedAt    *time.Time        `yaml:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt  *time.Time        `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`

	// Version is zero until the task is first saved and is bumped by every
	// successful write. Writers must present the version they read.
	Version int64 `yaml:"version" json:"version"`
}

// New creates an unsaved task in the created state.
func New(description, ownerID string) *Task {
	return &Task{
		Description: description,
		OwnerID:     ownerID,
		Status:      StatusCreated,
		MaxSteps:    DefaultMaxSteps,
	}
}

// NewID returns a fresh entity identifier.
func NewID() string {
	return uuid.NewString()
}

// Validate checks the fields required before a task can be persisted.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Description) == "" {
		return tkerrors.Validation("description", "must not be empty")
	}
	if strings.TrimSpace(t.OwnerID) == "" {
		return tkerrors.Validation("owner_id", "must not be empty")
	}
	if t.Status != "" && !IsValidStatus(t.Status) {
		return tkerrors.Validation("status", "unknown status "+string(t.Status))
	}
	if t.MaxSteps < 0 {
		return tkerrors.Validation("max_steps", "must not be negative")
	}
	for k := range t.Labels {
		if k == "" {
			return tkerrors.Validation("labels", "label keys must not be empty")
		}
	}
	for _, tag := range t.Tags {
		if tag == "" {
			return tkerrors.Validation("tags", "tags must not be empty")
		}
	}
	if err := t.Metadata.Validate(); err != nil {
		return tkerrors.Validation("metadata", err.Error())
	}
	if err := t.Parameters.Validate(); err != nil {
		return tkerrors.Validation("parameters", err.Error())
	}
	if t.Project != nil && strings.TrimSpace(*t.Project) == "" {
		return tkerrors.Validation("project", "must not be blank when set")
	}
	return nil
}

// IsTerminal reports whether the task has reached a final status.
func (t *Task) IsTerminal() bool {
	return IsTerminal(t.Status)
}

// HasTag reports whether the task carries tag.
func (t *Task) HasTag(tag string) bool {
	for _, v := range t.Tags {
		if v == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.AssigneeID = cloneString(t.AssigneeID)
	c.AssignedType = cloneString(t.AssignedType)
	c.Project = cloneString(t.Project)
	c.Output = cloneString(t.Output)
	c.Error = cloneString(t.Error)
	c.ParentID = cloneString(t.ParentID)
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.Metadata = t.Metadata.Clone()
	c.Parameters = t.Parameters.Clone()
	if t.Labels != nil {
		c.Labels = make(map[string]string, len(t.Labels))
		for k, v := range t.Labels {
			c.Labels[k] = v
		}
	}
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	return &c
}

// Deref returns the string behind p, or "" when p is nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Now returns the current time in UTC without a monotonic reading.
func Now() time.Time {
	return time.Now().UTC()
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}
