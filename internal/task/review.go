package task

import (
	"slices"
	"strings"
	"time"

	tkerrors "github.com/randalmurphal/taskara/internal/errors"
)

// DefaultReviewsRequired applies when a requirement sets no count.
const DefaultReviewsRequired = 2

// ReviewerType is the kind of party a reviewer is.
type ReviewerType string

const (
	ReviewerUser  ReviewerType = "user"
	ReviewerAgent ReviewerType = "agent"
)

// ParseReviewerType accepts "user" or "agent". Empty means user.
func ParseReviewerType(s string) (ReviewerType, error) {
	switch ReviewerType(strings.ToLower(strings.TrimSpace(s))) {
	case "", ReviewerUser:
		return ReviewerUser, nil
	case ReviewerAgent:
		return ReviewerAgent, nil
	default:
		return "", tkerrors.Validation("reviewer_type", "must be user or agent, got "+s)
	}
}

// Reviewer identifies one party that may review a task.
type Reviewer struct {
	ID   string       `yaml:"id" json:"id"`
	Type ReviewerType `yaml:"type" json:"type"`
}

// ReviewRequirement says how many approvals a task needs and from whom.
type ReviewRequirement struct {
	ID             string    `yaml:"id" json:"id"`
	TaskID         string    `yaml:"task_id" json:"task_id"`
	NumberRequired int       `yaml:"number_required" json:"number_required"`
	Users          []string  `yaml:"users,omitempty" json:"users,omitempty"`
	Agents         []string  `yaml:"agents,omitempty" json:"agents,omitempty"`
	Groups         []string  `yaml:"groups,omitempty" json:"groups,omitempty"`
	Types          []string  `yaml:"types,omitempty" json:"types,omitempty"`
	CreatedAt      time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt      time.Time `yaml:"updated_at" json:"updated_at"`
}

// Validate checks the requirement before it is stored.
func (r *ReviewRequirement) Validate() error {
	if strings.TrimSpace(r.TaskID) == "" {
		return tkerrors.Validation("task_id", "must not be empty")
	}
	if r.NumberRequired < 0 {
		return tkerrors.Validation("number_required", "must not be negative")
	}
	lists := []struct {
		field string
		vals  []string
	}{
		{"users", r.Users}, {"agents", r.Agents}, {"groups", r.Groups}, {"types", r.Types},
	}
	for _, l := range lists {
		if slices.Contains(l.vals, "") {
			return tkerrors.Validation(l.field, "entries must not be empty")
		}
	}
	return nil
}

// Reviewers lists the named users then agents, without duplicates.
func (r *ReviewRequirement) Reviewers() []Reviewer {
	out := make([]Reviewer, 0, len(r.Users)+len(r.Agents))
	seen := make(map[Reviewer]bool, cap(out))
	add := func(id string, typ ReviewerType) {
		rv := Reviewer{ID: id, Type: typ}
		if !seen[rv] {
			seen[rv] = true
			out = append(out, rv)
		}
	}
	for _, u := range r.Users {
		add(u, ReviewerUser)
	}
	for _, a := range r.Agents {
		add(a, ReviewerAgent)
	}
	return out
}

// Satisfied reports whether enough named reviewers approved the task. Only
// each reviewer's most recent review counts; reviews must be in Seq order.
func (r *ReviewRequirement) Satisfied(reviews []Review) bool {
	latest := latestReviews(r.TaskID, reviews)
	approvals := 0
	for _, rv := range r.Reviewers() {
		if rev, ok := latest[rv]; ok && rev.Approved {
			approvals++
		}
	}
	return approvals >= r.required()
}

// Pending returns the named reviewers still owed a review. A satisfied
// requirement has none.
func (r *ReviewRequirement) Pending(reviews []Review) []Reviewer {
	if r.Satisfied(reviews) {
		return nil
	}
	latest := latestReviews(r.TaskID, reviews)
	var out []Reviewer
	for _, rv := range r.Reviewers() {
		if _, ok := latest[rv]; !ok {
			out = append(out, rv)
		}
	}
	return out
}

func (r *ReviewRequirement) required() int {
	if r.NumberRequired == 0 {
		return DefaultReviewsRequired
	}
	return r.NumberRequired
}

// Clone returns a deep copy.
func (r *ReviewRequirement) Clone() *ReviewRequirement {
	if r == nil {
		return nil
	}
	c := *r
	c.Users = slices.Clone(r.Users)
	c.Agents = slices.Clone(r.Agents)
	c.Groups = slices.Clone(r.Groups)
	c.Types = slices.Clone(r.Types)
	return &c
}

func latestReviews(taskID string, reviews []Review) map[Reviewer]Review {
	out := make(map[Reviewer]Review, len(reviews))
	for _, rev := range reviews {
		if rev.TaskID != taskID {
			continue
		}
		out[Reviewer{ID: rev.Reviewer, Type: rev.ReviewerType}] = rev
	}
	return out
}

// Review is one reviewer's verdict on a task. Reviews are append-only and
// numbered per task by Seq; a later review by the same reviewer supersedes
// an earlier one.
type Review struct {
	ID           string       `yaml:"id" json:"id"`
	TaskID       string       `yaml:"task_id" json:"task_id"`
	Seq          int64        `yaml:"seq" json:"seq"`
	Reviewer     string       `yaml:"reviewer" json:"reviewer"`
	ReviewerType ReviewerType `yaml:"reviewer_type" json:"reviewer_type"`
	Approved     bool         `yaml:"approved" json:"approved"`
	Reason       string       `yaml:"reason,omitempty" json:"reason,omitempty"`
	CreatedAt    time.Time    `yaml:"created_at" json:"created_at"`
}

// PendingReviewers lists who still owes a review on a task.
type PendingReviewers struct {
	TaskID string   `yaml:"task_id" json:"task_id"`
	Users  []string `yaml:"users" json:"users"`
	Agents []string `yaml:"agents" json:"agents"`
}

// Validate checks a review before it is stored.
func (r *Review) Validate() error {
	if strings.TrimSpace(r.TaskID) == "" {
		return tkerrors.Validation("task_id", "must not be empty")
	}
	if strings.TrimSpace(r.Reviewer) == "" {
		return tkerrors.Validation("reviewer", "must not be empty")
	}
	if r.ReviewerType != ReviewerUser && r.ReviewerType != ReviewerAgent {
		return tkerrors.Validation("reviewer_type", "must be user or agent, got "+string(r.ReviewerType))
	}
	return nil
}
