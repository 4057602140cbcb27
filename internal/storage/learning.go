package storage

import (
	"context"
	"time"

	"assessapp/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateModule inserts a learning module and any lessons it carries
func (s *GormStore) CreateModule(ctx context.Context, module *models.LearningModule) error {
	return mapError(s.transaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(module).Error
	}), "module")
}

// GetModule loads a module, optionally with its lessons ordered by position
func (s *GormStore) GetModule(ctx context.Context, id uint, withLessons bool) (*models.LearningModule, error) {
	q := s.conn(ctx)
	if withLessons {
		q = q.Preload("Lessons", func(db *gorm.DB) *gorm.DB { return db.Order("position, id") })
	}
	var module models.LearningModule
	if err := q.First(&module, id).Error; err != nil {
		return nil, mapError(err, "module")
	}
	return &module, nil
}

// ListModules returns modules with their lessons, ordered by position
func (s *GormStore) ListModules(ctx context.Context, publishedOnly bool) ([]models.LearningModule, error) {
	q := s.conn(ctx).Preload("Lessons", func(db *gorm.DB) *gorm.DB { return db.Order("position, id") })
	if publishedOnly {
		q = q.Where("is_published = ?", true)
	}
	var modules []models.LearningModule
	return modules, mapError(q.Order("position, id").Find(&modules).Error, "modules")
}

// UpdateModule saves the module's own columns
func (s *GormStore) UpdateModule(ctx context.Context, module *models.LearningModule) error {
	err := s.conn(ctx).Model(module).Select(
		"title", "description", "topic_id", "difficulty", "position", "is_published", "updated_at",
	).Updates(module).Error
	return mapError(err, "module")
}

// DeleteModule removes a module; lessons cascade
func (s *GormStore) DeleteModule(ctx context.Context, id uint) error {
	return s.deleteByID(ctx, &models.LearningModule{}, id, "module")
}

// CreateLesson inserts a lesson
func (s *GormStore) CreateLesson(ctx context.Context, lesson *models.Lesson) error {
	return mapError(s.conn(ctx).Create(lesson).Error, "lesson")
}

// GetLesson loads a lesson by id
func (s *GormStore) GetLesson(ctx context.Context, id uint) (*models.Lesson, error) {
	var lesson models.Lesson
	if err := s.conn(ctx).First(&lesson, id).Error; err != nil {
		return nil, mapError(err, "lesson")
	}
	return &lesson, nil
}

// ListLessonsByModule returns a module's lessons ordered by position
func (s *GormStore) ListLessonsByModule(ctx context.Context, moduleID uint) ([]models.Lesson, error) {
	var lessons []models.Lesson
	err := s.conn(ctx).Where("module_id = ?", moduleID).Order("position, id").Find(&lessons).Error
	return lessons, mapError(err, "lessons")
}

// UpdateLesson saves every column of a lesson
func (s *GormStore) UpdateLesson(ctx context.Context, lesson *models.Lesson) error {
	return mapError(s.conn(ctx).Save(lesson).Error, "lesson")
}

// DeleteLesson removes a lesson
func (s *GormStore) DeleteLesson(ctx context.Context, id uint) error {
	return s.deleteByID(ctx, &models.Lesson{}, id, "lesson")
}

// GetLessonProgress returns the user's progress row for a lesson, or
// ErrRecordNotFound when the user never opened it
func (s *GormStore) GetLessonProgress(ctx context.Context, userID, lessonID uint) (*models.LessonProgress, error) {
	var p models.LessonProgress
	err := s.conn(ctx).Where("user_id = ? AND lesson_id = ?", userID, lessonID).First(&p).Error
	if err != nil {
		return nil, mapError(err, "lesson progress")
	}
	return &p, nil
}

// StartLessonProgress creates an in-progress row for the (user, lesson) pair
// unless one exists, and returns the stored row
func (s *GormStore) StartLessonProgress(ctx context.Context, userID, lessonID uint, at time.Time) (*models.LessonProgress, error) {
	if err := s.insertLessonProgress(ctx, userID, lessonID, at); err != nil {
		return nil, err
	}
	return s.GetLessonProgress(ctx, userID, lessonID)
}

// CompleteLessonProgress moves the (user, lesson) row to completed. It reports
// true only for the call that made the transition; the conditional update
// serializes concurrent callers on the row lock.
func (s *GormStore) CompleteLessonProgress(ctx context.Context, userID, lessonID uint, at time.Time) (bool, error) {
	if err := s.insertLessonProgress(ctx, userID, lessonID, at); err != nil {
		return false, err
	}
	res := s.conn(ctx).Model(&models.LessonProgress{}).
		Where("user_id = ? AND lesson_id = ? AND status <> ?", userID, lessonID, models.LessonCompleted).
		Updates(map[string]interface{}{
			"status":       models.LessonCompleted,
			"started_at":   gorm.Expr("COALESCE(started_at, ?)", at),
			"completed_at": at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return false, mapError(res.Error, "lesson progress")
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) insertLessonProgress(ctx context.Context, userID, lessonID uint, at time.Time) error {
	row := &models.LessonProgress{
		UserID:    userID,
		LessonID:  lessonID,
		Status:    models.LessonInProgress,
		StartedAt: &at,
		UpdatedAt: at,
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "lesson_id"}},
		DoNothing: true,
	}).Create(row).Error
	return mapError(err, "lesson progress")
}

// ListLessonProgress returns every progress row of a user
func (s *GormStore) ListLessonProgress(ctx context.Context, userID uint) ([]models.LessonProgress, error) {
	var rows []models.LessonProgress
	err := s.conn(ctx).Where("user_id = ?", userID).Order("lesson_id").Find(&rows).Error
	return rows, mapError(err, "lesson progress")
}

// CreateQuiz inserts a quiz together with its questions
func (s *GormStore) CreateQuiz(ctx context.Context, quiz *models.Quiz) error {
	return mapError(s.transaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(quiz).Error
	}), "quiz")
}

// GetQuiz loads a quiz with its questions ordered by position
func (s *GormStore) GetQuiz(ctx context.Context, id uint) (*models.Quiz, error) {
	var quiz models.Quiz
	err := s.conn(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("position, id") }).
		First(&quiz, id).Error
	if err != nil {
		return nil, mapError(err, "quiz")
	}
	return &quiz, nil
}

// ListQuizzes returns quizzes, optionally only those attached to one lesson
func (s *GormStore) ListQuizzes(ctx context.Context, lessonID *uint) ([]models.Quiz, error) {
	q := s.conn(ctx).Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("position, id") })
	if lessonID != nil {
		q = q.Where("lesson_id = ?", *lessonID)
	}
	var quizzes []models.Quiz
	return quizzes, mapError(q.Order("id").Find(&quizzes).Error, "quizzes")
}

// DeleteQuiz removes a quiz; questions and results cascade
func (s *GormStore) DeleteQuiz(ctx context.Context, id uint) error {
	return s.deleteByID(ctx, &models.Quiz{}, id, "quiz")
}

// CreateQuizResult records a graded quiz submission. The user's first
// submission of a quiz carries the first-pass marker and firstPassXP; the
// unique index on the marker lets only one concurrent submission claim it.
// first reports whether this submission did.
func (s *GormStore) CreateQuizResult(ctx context.Context, result *models.QuizResult, firstPassXP int) (first bool, err error) {
	claimed := true
	result.FirstPass = &claimed
	result.XPAwarded = firstPassXP
	err = s.conn(ctx).Create(result).Error
	if err == nil {
		return true, nil
	}
	if !isUniqueViolation(err) {
		return false, mapError(err, "quiz result")
	}

	result.ID = 0
	result.FirstPass = nil
	result.XPAwarded = 0
	return false, mapError(s.conn(ctx).Create(result).Error, "quiz result")
}

// ListQuizResultsByUser returns the user's quiz results, newest first
func (s *GormStore) ListQuizResultsByUser(ctx context.Context, userID uint) ([]models.QuizResult, error) {
	var results []models.QuizResult
	err := s.conn(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC").Find(&results).Error
	return results, mapError(err, "quiz results")
}
