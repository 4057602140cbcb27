package models

import (
	"strings"

	contextutils "assessapp/internal/utils"
)

// Validate checks the cross-field rules binding tags cannot express: multiple
// choice needs two or more options and an in-range correct option; other types
// must not carry options.
func (r *CreateQuestionRequest) Validate() error {
	if !r.Type.Valid() {
		return contextutils.WrapErrorf(contextutils.ErrInvalidInput, "unknown question type %q", r.Type)
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return contextutils.WrapError(contextutils.ErrMissingRequired, "prompt is required")
	}
	return validateChoices(r.Type, r.Options, r.CorrectOption)
}

func validateChoices(t QuestionType, options []string, correct *int) error {
	if t != QuestionMultipleChoice {
		if len(options) > 0 || correct != nil {
			return contextutils.WrapErrorf(contextutils.ErrInvalidInput, "%s questions take no options", t)
		}
		return nil
	}
	if len(options) < 2 {
		return contextutils.WrapError(contextutils.ErrInvalidInput, "multiple choice questions need at least two options")
	}
	if correct == nil || *correct < 0 || *correct >= len(options) {
		return contextutils.WrapError(contextutils.ErrInvalidInput, "correct_option must index one of the options")
	}
	return nil
}

// ApplyTo copies the set fields onto q and re-validates the result
func (r *UpdateQuestionRequest) ApplyTo(q *Question) error {
	if r.Prompt != nil {
		q.Prompt = *r.Prompt
	}
	if r.Options != nil {
		q.Options = *r.Options
	}
	if r.CorrectOption != nil {
		q.CorrectOption = r.CorrectOption
	}
	if r.ExpectedAnswer != nil {
		q.ExpectedAnswer = *r.ExpectedAnswer
	}
	if r.Rubric != nil {
		q.Rubric = *r.Rubric
	}
	if r.Points != nil {
		q.Points = *r.Points
	}
	if r.Position != nil {
		q.Position = *r.Position
	}
	if strings.TrimSpace(q.Prompt) == "" {
		return contextutils.WrapError(contextutils.ErrMissingRequired, "prompt is required")
	}
	return validateChoices(q.Type, q.Options, q.CorrectOption)
}

// ToQuestion builds the row for a validated request
func (r *CreateQuestionRequest) ToQuestion(testID uint) Question {
	points := r.Points
	if points < 1 {
		points = 1
	}
	return Question{
		TestID:         testID,
		Type:           r.Type,
		Prompt:         strings.TrimSpace(r.Prompt),
		Options:        r.Options,
		CorrectOption:  r.CorrectOption,
		ExpectedAnswer: r.ExpectedAnswer,
		Rubric:         r.Rubric,
		Points:         points,
		Position:       r.Position,
	}
}

// Validate checks that every quiz item's correct option is in range
func (r *CreateQuizRequest) Validate() error {
	for i, q := range r.Questions {
		if q.CorrectOption < 0 || q.CorrectOption >= len(q.Options) {
			return contextutils.WrapErrorf(contextutils.ErrInvalidInput, "question %d: correct_option out of range", i+1)
		}
	}
	return nil
}
