package models

import (
	"encoding/json"
	"testing"
	"time"

	contextutils "assessapp/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestCreateQuestionRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateQuestionRequest
		wantErr bool
	}{
		{"valid multiple choice", CreateQuestionRequest{Type: QuestionMultipleChoice, Prompt: "2+2?", Options: []string{"3", "4"}, CorrectOption: intPtr(1)}, false},
		{"one option", CreateQuestionRequest{Type: QuestionMultipleChoice, Prompt: "?", Options: []string{"a"}, CorrectOption: intPtr(0)}, true},
		{"correct out of range", CreateQuestionRequest{Type: QuestionMultipleChoice, Prompt: "?", Options: []string{"a", "b"}, CorrectOption: intPtr(2)}, true},
		{"missing correct", CreateQuestionRequest{Type: QuestionMultipleChoice, Prompt: "?", Options: []string{"a", "b"}}, true},
		{"short answer", CreateQuestionRequest{Type: QuestionShortAnswer, Prompt: "Explain", ExpectedAnswer: "..."}, false},
		{"video with options", CreateQuestionRequest{Type: QuestionVideoResponse, Prompt: "Pitch", Options: []string{"a"}}, true},
		{"blank prompt", CreateQuestionRequest{Type: QuestionPhotoUpload, Prompt: "  "}, true},
		{"unknown type", CreateQuestionRequest{Type: "essay", Prompt: "x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, true, contextutils.IsError(err, contextutils.ErrInvalidInput) || contextutils.IsError(err, contextutils.ErrMissingRequired))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestToQuestion_DefaultsPoints(t *testing.T) {
	q := (&CreateQuestionRequest{Type: QuestionShortAnswer, Prompt: " Why? "}).ToQuestion(9)
	assert.Equal(t, uint(9), q.TestID)
	assert.Equal(t, 1, q.Points)
	assert.Equal(t, "Why?", q.Prompt)
}

func TestUpdateQuestionRequest_ApplyTo(t *testing.T) {
	q := Question{Type: QuestionMultipleChoice, Prompt: "p", Options: []string{"a", "b"}, CorrectOption: intPtr(0)}

	require.NoError(t, (&UpdateQuestionRequest{CorrectOption: intPtr(1)}).ApplyTo(&q))
	assert.Equal(t, 1, *q.CorrectOption)

	err := (&UpdateQuestionRequest{Options: &[]string{"only"}}).ApplyTo(&q)
	assert.Error(t, err)
}

func TestTestRedactedHidesAnswerKey(t *testing.T) {
	test := Test{Questions: []Question{
		{Type: QuestionMultipleChoice, Options: []string{"a", "b"}, CorrectOption: intPtr(1)},
		{Type: QuestionShortAnswer, ExpectedAnswer: "secret", Rubric: "rubric"},
	}}

	red := test.Redacted()
	assert.Nil(t, red.Questions[0].CorrectOption)
	assert.Empty(t, red.Questions[1].ExpectedAnswer)
	assert.Empty(t, red.Questions[1].Rubric)
	// original untouched
	assert.NotNil(t, test.Questions[0].CorrectOption)

	body, err := json.Marshal(red)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "correct_option")
	assert.NotContains(t, string(body), "secret")
}

func TestQuizRedacted(t *testing.T) {
	q := Quiz{Questions: []QuizQuestion{{CorrectOption: 2}}}
	assert.Equal(t, -1, q.Redacted().Questions[0].CorrectOption)
	assert.Equal(t, 2, q.Questions[0].CorrectOption)
}

func TestTestDeadline(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	_, ok := (&Test{}).Deadline(start)
	assert.False(t, ok)

	d, ok := (&Test{TimeLimitMinutes: 30}).Deadline(start)
	assert.True(t, ok)
	assert.Equal(t, start.Add(30*time.Minute), d)
}

func TestCreateQuizRequest_Validate(t *testing.T) {
	ok := CreateQuizRequest{Questions: []CreateQuizQuestionRequest{{Prompt: "p", Options: []string{"a", "b"}, CorrectOption: 1}}}
	assert.NoError(t, ok.Validate())

	bad := CreateQuizRequest{Questions: []CreateQuizQuestionRequest{{Prompt: "p", Options: []string{"a", "b"}, CorrectOption: 5}}}
	assert.Error(t, bad.Validate())
}

func TestUserMarshalOmitsPasswordHash(t *testing.T) {
	body, err := json.Marshal(User{ID: 1, Username: "alice", PasswordHash: "hash", Role: RoleAdmin})
	require.NoError(t, err)
	assert.NotContains(t, string(body), "hash")
	assert.True(t, (&User{Role: RoleAdmin}).IsAdmin())
	assert.False(t, (*User)(nil).IsAdmin())
	assert.True(t, RoleUser.Valid())
	assert.False(t, Role("root").Valid())
}
