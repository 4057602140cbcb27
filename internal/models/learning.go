package models

import (
	"time"

	"gorm.io/datatypes"
)

// LessonStatus is a user's progress through one lesson
type LessonStatus string

// Lesson progress states
const (
	LessonNotStarted LessonStatus = "not_started"
	LessonInProgress LessonStatus = "in_progress"
	LessonCompleted  LessonStatus = "completed"
)

// DefaultLessonXP is awarded for lessons created without an explicit reward
const DefaultLessonXP = 20

// LearningModule is an ordered collection of lessons
type LearningModule struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Description string    `json:"description"`
	TopicID     *uint     `gorm:"index" json:"topic_id,omitempty"`
	Difficulty  string    `gorm:"size:32" json:"difficulty,omitempty"`
	Position    int       `gorm:"not null;default:0" json:"position"`
	IsPublished bool      `gorm:"not null;default:false" json:"is_published"`
	Lessons     []Lesson  `gorm:"foreignKey:ModuleID;constraint:OnDelete:CASCADE" json:"lessons,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Lesson is one unit of reading material inside a module
type Lesson struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ModuleID  uint      `gorm:"index;not null" json:"module_id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Content   string    `json:"content"`
	Position  int       `gorm:"not null;default:0" json:"position"`
	XPReward  int       `gorm:"not null;default:20" json:"xp_reward"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LessonProgress tracks one user's state for one lesson
type LessonProgress struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	UserID      uint         `gorm:"not null;uniqueIndex:idx_lesson_progress_user_lesson" json:"user_id"`
	LessonID    uint         `gorm:"not null;uniqueIndex:idx_lesson_progress_user_lesson" json:"lesson_id"`
	Status      LessonStatus `gorm:"size:16;not null" json:"status"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TableName keeps the singular table name used by the migrations
func (LessonProgress) TableName() string { return "lesson_progress" }

// Quiz is a short multiple-choice check attached to a lesson or topic
type Quiz struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	LessonID  *uint          `gorm:"index" json:"lesson_id,omitempty"`
	TopicID   *uint          `gorm:"index" json:"topic_id,omitempty"`
	Title     string         `gorm:"size:255;not null" json:"title"`
	XPReward  int            `gorm:"not null;default:30" json:"xp_reward"`
	Questions []QuizQuestion `gorm:"foreignKey:QuizID;constraint:OnDelete:CASCADE" json:"questions,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// TableName pins the table name so it matches the migrations
func (Quiz) TableName() string { return "quizzes" }

// QuizQuestion is one multiple-choice item of a quiz
type QuizQuestion struct {
	ID            uint                        `gorm:"primaryKey" json:"id"`
	QuizID        uint                        `gorm:"index;not null" json:"quiz_id"`
	Prompt        string                      `gorm:"not null" json:"prompt"`
	Options       datatypes.JSONSlice[string] `json:"options"`
	CorrectOption int                         `json:"correct_option"`
	Position      int                         `gorm:"not null;default:0" json:"position"`
}

// Redacted returns a copy of the quiz whose questions hide the correct option
func (q Quiz) Redacted() Quiz {
	if q.Questions != nil {
		qs := make([]QuizQuestion, len(q.Questions))
		for i, qq := range q.Questions {
			qq.CorrectOption = -1
			qs[i] = qq
		}
		q.Questions = qs
	}
	return q
}

// QuizResult records one graded quiz submission
type QuizResult struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	QuizID    uint      `gorm:"index;not null;uniqueIndex:idx_quiz_results_first_pass" json:"quiz_id"`
	UserID    uint      `gorm:"index;not null;uniqueIndex:idx_quiz_results_first_pass" json:"user_id"`
	Correct   int       `json:"correct"`
	Total     int       `json:"total"`
	Score     int       `json:"score"`
	XPAwarded int       `json:"xp_awarded"`
	// FirstPass is true on the user's first submission and NULL afterwards,
	// so the unique index admits one first pass per (quiz, user)
	FirstPass *bool     `gorm:"uniqueIndex:idx_quiz_results_first_pass" json:"first_pass,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
