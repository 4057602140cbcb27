package models

import (
	"time"

	"assessapp/internal/scoring"
)

// RegisterRequest is the body of POST /v1/auth/register
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Email    string `json:"email" binding:"omitempty,email"`
	Timezone string `json:"timezone"`
}

// LoginRequest is the body of POST /v1/auth/login
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UpdateRoleRequest is the body of PUT /v1/admin/users/:id/role
type UpdateRoleRequest struct {
	Role Role `json:"role" binding:"required,oneof=user admin"`
}

// CreateTopicRequest is the body of POST /v1/topics
type CreateTopicRequest struct {
	Name        string `json:"name" binding:"required,max=128"`
	Description string `json:"description"`
}

// CreateQuestionRequest describes one question to add to a test
type CreateQuestionRequest struct {
	Type           QuestionType `json:"type" binding:"required,oneof=multiple_choice short_answer video_response photo_upload"`
	Prompt         string       `json:"prompt" binding:"required"`
	Options        []string     `json:"options"`
	CorrectOption  *int         `json:"correct_option"`
	ExpectedAnswer string       `json:"expected_answer"`
	Rubric         string       `json:"rubric"`
	Points         int          `json:"points" binding:"gte=0"`
	Position       int          `json:"position"`
}

// UpdateQuestionRequest is the body of PUT /v1/questions/:id; nil fields are left unchanged
type UpdateQuestionRequest struct {
	Prompt         *string   `json:"prompt"`
	Options        *[]string `json:"options"`
	CorrectOption  *int      `json:"correct_option"`
	ExpectedAnswer *string   `json:"expected_answer"`
	Rubric         *string   `json:"rubric"`
	Points         *int      `json:"points" binding:"omitempty,gte=1"`
	Position       *int      `json:"position"`
}

// CreateTestRequest is the body of POST /v1/tests
type CreateTestRequest struct {
	Title            string                  `json:"title" binding:"required,max=255"`
	Description      string                  `json:"description"`
	TopicID          *uint                   `json:"topic_id"`
	TimeLimitMinutes int                     `json:"time_limit_minutes" binding:"gte=0"`
	PassingScore     *int                    `json:"passing_score" binding:"omitempty,gte=0,lte=100"`
	IsPublished      bool                    `json:"is_published"`
	Questions        []CreateQuestionRequest `json:"questions" binding:"dive"`
}

// UpdateTestRequest is the body of PUT /v1/tests/:id; nil fields are left unchanged
type UpdateTestRequest struct {
	Title            *string `json:"title" binding:"omitempty,max=255"`
	Description      *string `json:"description"`
	TopicID          *uint   `json:"topic_id"`
	TimeLimitMinutes *int    `json:"time_limit_minutes" binding:"omitempty,gte=0"`
	PassingScore     *int    `json:"passing_score" binding:"omitempty,gte=0,lte=100"`
	IsPublished      *bool   `json:"is_published"`
}

// TestFilter narrows GET /v1/tests
type TestFilter struct {
	PublishedOnly bool
	TopicID       *uint
	Limit         int
	Offset        int
}

// SubmitAnswerRequest is the JSON form of POST /v1/attempts/:id/answers.
// Multipart submissions carry the same fields as form values plus a media file.
type SubmitAnswerRequest struct {
	QuestionID      uint                   `json:"question_id" form:"question_id" binding:"required"`
	Content         string                 `json:"content" form:"content"`
	SelectedOption  *int                   `json:"selected_option" form:"selected_option"`
	Transcript      string                 `json:"transcript" form:"transcript"`
	DurationSeconds float64                `json:"duration_seconds" form:"duration_seconds" binding:"gte=0"`
	FacialMetrics   *scoring.FacialMetrics `json:"facial_metrics" form:"-"`
}

// GradeAnswerRequest is the body of POST /v1/answers/:id/grade
type GradeAnswerRequest struct {
	Score    *int   `json:"score" binding:"required,gte=0,lte=100"`
	Feedback string `json:"feedback"`
}

// CreateModuleRequest is the body of POST /v1/modules
type CreateModuleRequest struct {
	Title       string `json:"title" binding:"required,max=255"`
	Description string `json:"description"`
	TopicID     *uint  `json:"topic_id"`
	Difficulty  string `json:"difficulty" binding:"omitempty,oneof=beginner intermediate advanced"`
	Position    int    `json:"position"`
	IsPublished bool   `json:"is_published"`
}

// UpdateModuleRequest is the body of PUT /v1/modules/:id; nil fields are left unchanged
type UpdateModuleRequest struct {
	Title       *string `json:"title" binding:"omitempty,max=255"`
	Description *string `json:"description"`
	TopicID     *uint   `json:"topic_id"`
	Difficulty  *string `json:"difficulty" binding:"omitempty,oneof=beginner intermediate advanced"`
	Position    *int    `json:"position"`
	IsPublished *bool   `json:"is_published"`
}

// CreateLessonRequest is the body of POST /v1/modules/:id/lessons
type CreateLessonRequest struct {
	Title    string `json:"title" binding:"required,max=255"`
	Content  string `json:"content"`
	Position int    `json:"position"`
	XPReward *int   `json:"xp_reward" binding:"omitempty,gte=0"`
}

// CreateQuizQuestionRequest describes one quiz item
type CreateQuizQuestionRequest struct {
	Prompt        string   `json:"prompt" binding:"required"`
	Options       []string `json:"options" binding:"required,min=2"`
	CorrectOption int      `json:"correct_option" binding:"gte=0"`
}

// CreateQuizRequest is the body of POST /v1/quizzes
type CreateQuizRequest struct {
	LessonID  *uint                       `json:"lesson_id"`
	TopicID   *uint                       `json:"topic_id"`
	Title     string                      `json:"title" binding:"required,max=255"`
	XPReward  *int                        `json:"xp_reward" binding:"omitempty,gte=0"`
	Questions []CreateQuizQuestionRequest `json:"questions" binding:"required,min=1,dive"`
}

// SubmitQuizRequest is the body of POST /v1/quizzes/:id/submit
type SubmitQuizRequest struct {
	Selected []int `json:"selected" binding:"required"`
}

// AggregateRequest is the body of POST /v1/scoring/aggregate
type AggregateRequest struct {
	Content float64 `json:"content"`
	Emotion float64 `json:"emotion"`
	Speech  float64 `json:"speech"`
	Facial  float64 `json:"facial"`
}

// AggregateResponse answers POST /v1/scoring/aggregate
type AggregateResponse struct {
	Overall int                `json:"overall"`
	Weights map[string]float64 `json:"weights"`
}

// AttemptResult is an attempt together with its test and graded answers
type AttemptResult struct {
	Attempt Attempt  `json:"attempt"`
	Test    Test     `json:"test"`
	Answers []Answer `json:"answers"`
}

// ModuleProgress is a user's completion of one module
type ModuleProgress struct {
	ModuleID  uint    `json:"module_id"`
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// UserStatsSummary aggregates a user's assessment history
type UserStatsSummary struct {
	Attempts         int64   `json:"attempts"`
	Completed        int64   `json:"completed"`
	AverageScore     float64 `json:"average_score"`
	BestScore        int     `json:"best_score"`
	AnswersScored    int64   `json:"answers_scored"`
	LessonsCompleted int64   `json:"lessons_completed"`
	QuizzesCompleted int64   `json:"quizzes_completed"`
}

// UserProgress answers GET /v1/me/progress
type UserProgress struct {
	XP            int              `json:"xp"`
	Level         int              `json:"level"`
	NextLevelXP   int              `json:"next_level_xp"`
	LevelProgress int              `json:"level_progress"`
	CurrentStreak int              `json:"current_streak"`
	LongestStreak int              `json:"longest_streak"`
	Rank          int              `json:"rank"`
	Badges        []UserBadge      `json:"badges"`
	Stats         UserStatsSummary `json:"stats"`
}

// DashboardCounts are the storage-derived numbers shown on the live dashboard
type DashboardCounts struct {
	TotalUsers      int64 `json:"total_users"`
	ActiveAttempts  int64 `json:"active_attempts"`
	AnswersLastHour int64 `json:"answers_last_hour"`
	CompletedToday  int64 `json:"completed_today"`
}

// ActivityEvent is one entry in the live activity feed
type ActivityEvent struct {
	Type     string    `json:"type"`
	UserID   uint      `json:"user_id,omitempty"`
	Username string    `json:"username,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Activity event types
const (
	ActivityAttemptStarted   = "attempt_started"
	ActivityAnswerSubmitted  = "answer_submitted"
	ActivityAttemptCompleted = "attempt_completed"
	ActivityLessonCompleted  = "lesson_completed"
	ActivityQuizSubmitted    = "quiz_submitted"
	ActivityBadgeEarned      = "badge_earned"
	ActivityLevelUp          = "level_up"
	ActivityUserRegistered   = "user_registered"
)

// UpdateLessonRequest is the body of PUT /v1/lessons/:id; nil fields are left unchanged
type UpdateLessonRequest struct {
	Title    *string `json:"title" binding:"omitempty,max=255"`
	Content  *string `json:"content"`
	Position *int    `json:"position"`
	XPReward *int    `json:"xp_reward" binding:"omitempty,gte=0"`
}
