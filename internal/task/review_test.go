package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tkerrors "github.com/randalmurphal/taskara/internal/errors"
)

func TestRequirementSatisfied(t *testing.T) {
	req := &ReviewRequirement{TaskID: "t1", Users: []string{"bob", "carol"}, Agents: []string{"checker"}}
	approve := func(id string, typ ReviewerType, ok bool) Review {
		return Review{TaskID: "t1", Reviewer: id, ReviewerType: typ, Approved: ok}
	}

	tests := []struct {
		name    string
		reviews []Review
		want    bool
		pending []Reviewer
	}{
		{"no reviews", nil, false, []Reviewer{{"bob", ReviewerUser}, {"carol", ReviewerUser}, {"checker", ReviewerAgent}}},
		{"one approval", []Review{approve("bob", ReviewerUser, true)}, false,
			[]Reviewer{{"carol", ReviewerUser}, {"checker", ReviewerAgent}}},
		{"default of two met", []Review{approve("bob", ReviewerUser, true), approve("checker", ReviewerAgent, true)}, true, nil},
		{"same reviewer twice", []Review{approve("bob", ReviewerUser, true), approve("bob", ReviewerUser, true)}, false,
			[]Reviewer{{"carol", ReviewerUser}, {"checker", ReviewerAgent}}},
		{"latest verdict wins", []Review{
			approve("bob", ReviewerUser, true), approve("carol", ReviewerUser, true), approve("bob", ReviewerUser, false),
		}, false, []Reviewer{{"checker", ReviewerAgent}}},
		{"type must match", []Review{approve("bob", ReviewerUser, true), approve("checker", ReviewerUser, true)}, false,
			[]Reviewer{{"carol", ReviewerUser}, {"checker", ReviewerAgent}}},
		{"other task ignored", []Review{
			approve("bob", ReviewerUser, true), {TaskID: "t2", Reviewer: "carol", ReviewerType: ReviewerUser, Approved: true},
		}, false, []Reviewer{{"carol", ReviewerUser}, {"checker", ReviewerAgent}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, req.Satisfied(tt.reviews))
			assert.Equal(t, tt.pending, req.Pending(tt.reviews))
		})
	}
}

func TestRequirementCount(t *testing.T) {
	one := &ReviewRequirement{TaskID: "t1", NumberRequired: 1, Users: []string{"bob", "bob"}}
	assert.Len(t, one.Reviewers(), 1)
	assert.True(t, one.Satisfied([]Review{{TaskID: "t1", Reviewer: "bob", ReviewerType: ReviewerUser, Approved: true}}))

	// More approvals required than reviewers named can never be met.
	three := &ReviewRequirement{TaskID: "t1", NumberRequired: 3, Users: []string{"bob"}}
	assert.False(t, three.Satisfied([]Review{{TaskID: "t1", Reviewer: "bob", ReviewerType: ReviewerUser, Approved: true}}))
	assert.Empty(t, three.Pending([]Review{{TaskID: "t1", Reviewer: "bob", ReviewerType: ReviewerUser, Approved: true}}))
}

func TestReviewerTypeParse(t *testing.T) {
	for in, want := range map[string]ReviewerType{"": ReviewerUser, "user": ReviewerUser, " Agent ": ReviewerAgent} {
		got, err := ParseReviewerType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseReviewerType("robot")
	assert.True(t, tkerrors.IsValidation(err))
}

func TestRequirementValidateAndClone(t *testing.T) {
	assert.True(t, tkerrors.IsValidation((&ReviewRequirement{}).Validate()))
	assert.True(t, tkerrors.IsValidation((&ReviewRequirement{TaskID: "t1", Agents: []string{""}}).Validate()))

	req := &ReviewRequirement{TaskID: "t1", Users: []string{"bob"}}
	c := req.Clone()
	c.Users[0] = "eve"
	assert.Equal(t, "bob", req.Users[0])
	assert.Nil(t, (*ReviewRequirement)(nil).Clone())
}
