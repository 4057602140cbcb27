package models

import (
	"time"

	"gorm.io/datatypes"
)

// QuestionType represents the kind of response a question expects
type QuestionType string

// Question types supported by the system
const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionShortAnswer    QuestionType = "short_answer"
	QuestionVideoResponse  QuestionType = "video_response"
	QuestionPhotoUpload    QuestionType = "photo_upload"
)

// Valid reports whether t is a known question type
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionMultipleChoice, QuestionShortAnswer, QuestionVideoResponse, QuestionPhotoUpload:
		return true
	}
	return false
}

// RequiresMedia reports whether answers to this question type carry an upload
func (t QuestionType) RequiresMedia() bool {
	return t == QuestionVideoResponse || t == QuestionPhotoUpload
}

// AttemptStatus is the lifecycle state of an attempt
type AttemptStatus string

// Attempt states
const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
	AttemptAbandoned  AttemptStatus = "abandoned"
)

// AnswerStatus tells whether an answer has a score yet
type AnswerStatus string

// Answer states
const (
	AnswerScored  AnswerStatus = "scored"
	AnswerPending AnswerStatus = "pending"
	AnswerFailed  AnswerStatus = "failed"
)

// Topic groups tests, modules and quizzes by subject
type Topic struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:128;uniqueIndex;not null" json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Test is an ordered set of questions taken in attempts
type Test struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Title            string     `gorm:"size:255;not null" json:"title"`
	Description      string     `json:"description"`
	TopicID          *uint      `gorm:"index" json:"topic_id,omitempty"`
	TimeLimitMinutes int        `gorm:"not null;default:0" json:"time_limit_minutes"`
	PassingScore     int        `gorm:"not null;default:60" json:"passing_score"`
	IsPublished      bool       `gorm:"not null;default:false;index" json:"is_published"`
	CreatedBy        uint       `json:"created_by"`
	Questions        []Question `gorm:"foreignKey:TestID;constraint:OnDelete:CASCADE" json:"questions,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Deadline returns when an attempt started at startedAt runs out of time.
// ok is false for tests without a time limit.
func (t *Test) Deadline(startedAt time.Time) (deadline time.Time, ok bool) {
	if t.TimeLimitMinutes <= 0 {
		return time.Time{}, false
	}
	return startedAt.Add(time.Duration(t.TimeLimitMinutes) * time.Minute), true
}

// Question is one item of a test
type Question struct {
	ID             uint                        `gorm:"primaryKey" json:"id"`
	TestID         uint                        `gorm:"index;not null" json:"test_id"`
	Type           QuestionType                `gorm:"size:32;not null" json:"type"`
	Prompt         string                      `gorm:"not null" json:"prompt"`
	Options        datatypes.JSONSlice[string] `json:"options,omitempty"`
	CorrectOption  *int                        `json:"correct_option,omitempty"`
	ExpectedAnswer string                      `json:"expected_answer,omitempty"`
	Rubric         string                      `json:"rubric,omitempty"`
	Points         int                         `gorm:"not null;default:1" json:"points"`
	Position       int                         `gorm:"not null;default:0" json:"position"`
	CreatedAt      time.Time                   `json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}

// Redacted returns a copy without the answer key, for non-admin readers
func (q Question) Redacted() Question {
	q.CorrectOption = nil
	q.ExpectedAnswer = ""
	q.Rubric = ""
	return q
}

// Redacted returns a copy of the test whose questions hide their answer keys
func (t Test) Redacted() Test {
	if t.Questions != nil {
		qs := make([]Question, len(t.Questions))
		for i, q := range t.Questions {
			qs[i] = q.Redacted()
		}
		t.Questions = qs
	}
	return t
}

// Attempt is a user's single run through a test
type Attempt struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	UserID      uint          `gorm:"index;not null" json:"user_id"`
	TestID      uint          `gorm:"index;not null" json:"test_id"`
	Status      AttemptStatus `gorm:"size:16;not null;index" json:"status"`
	StartedAt   time.Time     `gorm:"not null" json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Score       *int          `json:"score,omitempty"`
	Passed      *bool         `json:"passed,omitempty"`
	XPAwarded   int           `gorm:"not null;default:0" json:"xp_awarded"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// IsOpen reports whether the attempt still accepts answers
func (a *Attempt) IsOpen() bool {
	return a.Status == AttemptInProgress
}

// Answer is one submitted response within an attempt, with any AI-derived assessment
type Answer struct {
	ID               uint                        `gorm:"primaryKey" json:"id"`
	AttemptID        uint                        `gorm:"not null;uniqueIndex:idx_answers_attempt_question" json:"attempt_id"`
	QuestionID       uint                        `gorm:"not null;uniqueIndex:idx_answers_attempt_question" json:"question_id"`
	UserID           uint                        `gorm:"not null;index" json:"user_id"`
	Content          string                      `json:"content,omitempty"`
	SelectedOption   *int                        `json:"selected_option,omitempty"`
	MediaKey         *string                     `gorm:"size:512" json:"media_key,omitempty"`
	MediaContentType *string                     `gorm:"size:128" json:"media_content_type,omitempty"`
	Status           AnswerStatus                `gorm:"size:16;not null;index" json:"status"`
	IsCorrect        *bool                       `json:"is_correct,omitempty"`
	Score            *int                        `json:"score,omitempty"`
	ContentScore     *int                        `json:"content_score,omitempty"`
	EmotionScore     *int                        `json:"emotion_score,omitempty"`
	SpeechScore      *int                        `json:"speech_score,omitempty"`
	FacialScore      *int                        `json:"facial_score,omitempty"`
	Feedback         string                      `json:"feedback,omitempty"`
	Strengths        datatypes.JSONSlice[string] `json:"strengths,omitempty"`
	Improvements     datatypes.JSONSlice[string] `json:"improvements,omitempty"`
	GradedBy         *uint                       `json:"graded_by,omitempty"`
	CreatedAt        time.Time                   `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time                   `json:"updated_at"`
}
