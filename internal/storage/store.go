// Package storage is the data-access façade of the assessment backend. Every
// read and write of the relational schema goes through Store.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"assessapp/internal/models"
	"assessapp/internal/observability"
	contextutils "assessapp/internal/utils"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Store is the storage façade used by every service
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id uint) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]models.User, error)
	UpdateUserRole(ctx context.Context, id uint, role models.Role) error
	TouchUser(ctx context.Context, id uint, at time.Time) error

	// Topics
	CreateTopic(ctx context.Context, topic *models.Topic) error
	GetTopic(ctx context.Context, id uint) (*models.Topic, error)
	ListTopics(ctx context.Context) ([]models.Topic, error)

	// Tests and questions
	CreateTest(ctx context.Context, test *models.Test) error
	GetTest(ctx context.Context, id uint, withQuestions bool) (*models.Test, error)
	ListTests(ctx context.Context, filter models.TestFilter) ([]models.Test, error)
	UpdateTest(ctx context.Context, test *models.Test) error
	DeleteTest(ctx context.Context, id uint) error
	CreateQuestion(ctx context.Context, question *models.Question) error
	GetQuestion(ctx context.Context, id uint) (*models.Question, error)
	ListQuestionsByTest(ctx context.Context, testID uint) ([]models.Question, error)
	UpdateQuestion(ctx context.Context, question *models.Question) error
	DeleteQuestion(ctx context.Context, id uint) error

	// Attempts and answers
	CreateAttempt(ctx context.Context, attempt *models.Attempt) error
	GetAttempt(ctx context.Context, id uint) (*models.Attempt, error)
	FindOpenAttempt(ctx context.Context, userID, testID uint) (*models.Attempt, error)
	ListAttemptsByUser(ctx context.Context, userID uint, limit, offset int) ([]models.Attempt, error)
	UpdateAttempt(ctx context.Context, attempt *models.Attempt) error
	CloseAttempt(ctx context.Context, attempt *models.Attempt) (bool, error)
	CountActiveAttempts(ctx context.Context) (int64, error)
	ListStaleAttempts(ctx context.Context, now time.Time, maxAge time.Duration) ([]models.Attempt, error)
	UpsertAnswer(ctx context.Context, answer *models.Answer) error
	GetAnswer(ctx context.Context, id uint) (*models.Answer, error)
	ListAnswersByAttempt(ctx context.Context, attemptID uint) ([]models.Answer, error)
	UpdateAnswer(ctx context.Context, answer *models.Answer) error
	ListPendingAnswers(ctx context.Context, types []models.QuestionType, limit int) ([]models.Answer, error)

	// Learning modules, lessons and progress
	CreateModule(ctx context.Context, module *models.LearningModule) error
	GetModule(ctx context.Context, id uint, withLessons bool) (*models.LearningModule, error)
	ListModules(ctx context.Context, publishedOnly bool) ([]models.LearningModule, error)
	UpdateModule(ctx context.Context, module *models.LearningModule) error
	DeleteModule(ctx context.Context, id uint) error
	CreateLesson(ctx context.Context, lesson *models.Lesson) error
	GetLesson(ctx context.Context, id uint) (*models.Lesson, error)
	ListLessonsByModule(ctx context.Context, moduleID uint) ([]models.Lesson, error)
	UpdateLesson(ctx context.Context, lesson *models.Lesson) error
	DeleteLesson(ctx context.Context, id uint) error
	GetLessonProgress(ctx context.Context, userID, lessonID uint) (*models.LessonProgress, error)
	StartLessonProgress(ctx context.Context, userID, lessonID uint, at time.Time) (*models.LessonProgress, error)
	CompleteLessonProgress(ctx context.Context, userID, lessonID uint, at time.Time) (bool, error)
	ListLessonProgress(ctx context.Context, userID uint) ([]models.LessonProgress, error)

	// Quizzes
	CreateQuiz(ctx context.Context, quiz *models.Quiz) error
	GetQuiz(ctx context.Context, id uint) (*models.Quiz, error)
	ListQuizzes(ctx context.Context, lessonID *uint) ([]models.Quiz, error)
	DeleteQuiz(ctx context.Context, id uint) error
	CreateQuizResult(ctx context.Context, result *models.QuizResult, firstPassXP int) (bool, error)
	ListQuizResultsByUser(ctx context.Context, userID uint) ([]models.QuizResult, error)

	// Gamification
	UpsertBadges(ctx context.Context, badges []models.Badge) error
	ListBadges(ctx context.Context) ([]models.Badge, error)
	AwardBadge(ctx context.Context, userID, badgeID uint, at time.Time) (bool, error)
	ListUserBadges(ctx context.Context, userID uint) ([]models.UserBadge, error)
	GetOrCreateUserStats(ctx context.Context, userID uint) (*models.UserStats, error)
	UpdateUserStats(ctx context.Context, userID uint, fn func(stats *models.UserStats) error) (*models.UserStats, error)
	RecomputeLeaderboard(ctx context.Context, now time.Time) (int, error)
	ListLeaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)

	// Aggregates
	GetUserStats(ctx context.Context, userID uint) (*models.UserStatsSummary, error)
	GetUserRank(ctx context.Context, userID uint) (int, error)
	GetDashboardCounts(ctx context.Context, now time.Time) (*models.DashboardCounts, error)

	Ping(ctx context.Context) error
}

// GormStore implements Store on top of gorm
type GormStore struct {
	db     *gorm.DB
	logger *observability.Logger
}

var _ Store = (*GormStore)(nil)

// NewGormStore creates a Store over an open gorm handle
func NewGormStore(db *gorm.DB, logger *observability.Logger) *GormStore {
	return &GormStore{db: db, logger: logger}
}

// DB exposes the underlying gorm handle, for the admin CLI
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Ping checks the database connection
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return contextutils.WrapError(contextutils.ErrDatabaseConnection, err.Error())
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return contextutils.WrapErrorf(contextutils.ErrDatabaseConnection, "ping failed: %v", err)
	}
	return nil
}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *GormStore) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// mapError converts gorm and driver errors into AppErrors
func mapError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "%s not found", what)
	case isUniqueViolation(err):
		return contextutils.WrapErrorf(contextutils.ErrRecordExists, "%s already exists", what)
	}
	var appErr *contextutils.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "%s: %v", what, err)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
