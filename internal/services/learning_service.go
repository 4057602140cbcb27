package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"assessapp/internal/models"
	"assessapp/internal/observability"
	"assessapp/internal/scoring"
	"assessapp/internal/storage"
	contextutils "assessapp/internal/utils"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
)

// DefaultQuizXP applies when a quiz is created without an explicit reward
const DefaultQuizXP = 30

// LearningServiceInterface defines topic, module, lesson and quiz operations
type LearningServiceInterface interface {
	CreateTopic(ctx context.Context, req *models.CreateTopicRequest) (*models.Topic, error)
	ListTopics(ctx context.Context) ([]models.Topic, error)

	CreateModule(ctx context.Context, req *models.CreateModuleRequest) (*models.LearningModule, error)
	GetModule(ctx context.Context, id uint, isAdmin bool) (*models.LearningModule, error)
	ListModules(ctx context.Context, isAdmin bool) ([]models.LearningModule, error)
	UpdateModule(ctx context.Context, id uint, req *models.UpdateModuleRequest) (*models.LearningModule, error)
	DeleteModule(ctx context.Context, id uint) error

	CreateLesson(ctx context.Context, moduleID uint, req *models.CreateLessonRequest) (*models.Lesson, error)
	GetLesson(ctx context.Context, id uint, isAdmin bool) (*models.Lesson, error)
	UpdateLesson(ctx context.Context, id uint, req *models.UpdateLessonRequest) (*models.Lesson, error)
	DeleteLesson(ctx context.Context, id uint) error
	StartLesson(ctx context.Context, userID, lessonID uint, isAdmin bool) (*models.LessonProgress, error)
	CompleteLesson(ctx context.Context, userID, lessonID uint, isAdmin bool) (*models.LessonProgress, bool, error)
	GetModuleProgress(ctx context.Context, userID, moduleID uint, isAdmin bool) (*models.ModuleProgress, error)

	CreateQuiz(ctx context.Context, req *models.CreateQuizRequest) (*models.Quiz, error)
	GetQuiz(ctx context.Context, id uint, isAdmin bool) (*models.Quiz, error)
	ListQuizzes(ctx context.Context, lessonID *uint, isAdmin bool) ([]models.Quiz, error)
	DeleteQuiz(ctx context.Context, id uint) error
	SubmitQuiz(ctx context.Context, userID, quizID uint, isAdmin bool, req *models.SubmitQuizRequest) (*models.QuizResult, error)
}

// LearningService serves learning modules and quizzes and tracks progress
type LearningService struct {
	store        storage.Store
	gamification GamificationServiceInterface
	activity     ActivityPublisher
	logger       *observability.Logger
	now          func() time.Time
}

var _ LearningServiceInterface = (*LearningService)(nil)

// NewLearningServiceWithLogger creates a learning service
func NewLearningServiceWithLogger(store storage.Store, gamification GamificationServiceInterface, activity ActivityPublisher, logger *observability.Logger) *LearningService {
	return &LearningService{
		store:        store,
		gamification: gamification,
		activity:     publisherOrNoop(activity),
		logger:       logger,
		now:          utcNow,
	}
}

// CreateTopic adds a topic
func (s *LearningService) CreateTopic(ctx context.Context, req *models.CreateTopicRequest) (*models.Topic, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, contextutils.WrapError(contextutils.ErrMissingRequired, "name is required")
	}
	topic := &models.Topic{Name: name, Description: req.Description}
	if err := s.store.CreateTopic(ctx, topic); err != nil {
		return nil, err
	}
	return topic, nil
}

// ListTopics returns all topics by name
func (s *LearningService) ListTopics(ctx context.Context) ([]models.Topic, error) {
	topics, err := s.store.ListTopics(ctx)
	if topics == nil && err == nil {
		topics = []models.Topic{}
	}
	return topics, err
}

// CreateModule adds a learning module
func (s *LearningService) CreateModule(ctx context.Context, req *models.CreateModuleRequest) (*models.LearningModule, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, contextutils.WrapError(contextutils.ErrMissingRequired, "title is required")
	}
	module := &models.LearningModule{
		Title:       title,
		Description: req.Description,
		TopicID:     req.TopicID,
		Difficulty:  req.Difficulty,
		Position:    req.Position,
		IsPublished: req.IsPublished,
	}
	if err := s.store.CreateModule(ctx, module); err != nil {
		return nil, err
	}
	return module, nil
}

// GetModule returns a module with its lessons. Unpublished modules are only
// visible to admins.
func (s *LearningService) GetModule(ctx context.Context, id uint, isAdmin bool) (*models.LearningModule, error) {
	module, err := s.store.GetModule(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if !isAdmin && !module.IsPublished {
		return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "module %d not found", id)
	}
	return module, nil
}

// ListModules lists modules; non-admins see published ones only
func (s *LearningService) ListModules(ctx context.Context, isAdmin bool) ([]models.LearningModule, error) {
	modules, err := s.store.ListModules(ctx, !isAdmin)
	if modules == nil && err == nil {
		modules = []models.LearningModule{}
	}
	return modules, err
}

// UpdateModule applies the set fields of req to a module
func (s *LearningService) UpdateModule(ctx context.Context, id uint, req *models.UpdateModuleRequest) (*models.LearningModule, error) {
	module, err := s.store.GetModule(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			return nil, contextutils.WrapError(contextutils.ErrMissingRequired, "title cannot be empty")
		}
		module.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		module.Description = *req.Description
	}
	if req.TopicID != nil {
		module.TopicID = req.TopicID
	}
	if req.Difficulty != nil {
		module.Difficulty = *req.Difficulty
	}
	if req.Position != nil {
		module.Position = *req.Position
	}
	if req.IsPublished != nil {
		module.IsPublished = *req.IsPublished
	}
	module.UpdatedAt = s.now()
	if err := s.store.UpdateModule(ctx, module); err != nil {
		return nil, err
	}
	return s.store.GetModule(ctx, id, true)
}

// DeleteModule removes a module and its lessons
func (s *LearningService) DeleteModule(ctx context.Context, id uint) error {
	return s.store.DeleteModule(ctx, id)
}

// CreateLesson appends a lesson to a module
func (s *LearningService) CreateLesson(ctx context.Context, moduleID uint, req *models.CreateLessonRequest) (*models.Lesson, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, contextutils.WrapError(contextutils.ErrMissingRequired, "title is required")
	}
	if _, err := s.store.GetModule(ctx, moduleID, false); err != nil {
		return nil, err
	}
	lesson := &models.Lesson{
		ModuleID: moduleID,
		Title:    title,
		Content:  req.Content,
		Position: req.Position,
		XPReward: models.DefaultLessonXP,
	}
	if req.XPReward != nil {
		lesson.XPReward = *req.XPReward
	}
	if err := s.store.CreateLesson(ctx, lesson); err != nil {
		return nil, err
	}
	return lesson, nil
}

// GetLesson returns one lesson. Lessons of unpublished modules are only
// visible to admins.
func (s *LearningService) GetLesson(ctx context.Context, id uint, isAdmin bool) (*models.Lesson, error) {
	return s.visibleLesson(ctx, id, isAdmin)
}

func (s *LearningService) visibleLesson(ctx context.Context, id uint, isAdmin bool) (*models.Lesson, error) {
	lesson, err := s.store.GetLesson(ctx, id)
	if err != nil || isAdmin {
		return lesson, err
	}
	module, err := s.store.GetModule(ctx, lesson.ModuleID, false)
	if err != nil {
		return nil, err
	}
	if !module.IsPublished {
		return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "lesson %d not found", id)
	}
	return lesson, nil
}

// visibleQuiz hides quizzes attached to a lesson of an unpublished module
func (s *LearningService) visibleQuiz(ctx context.Context, quiz *models.Quiz, isAdmin bool) error {
	if isAdmin || quiz.LessonID == nil {
		return nil
	}
	if _, err := s.visibleLesson(ctx, *quiz.LessonID, false); err != nil {
		if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
			return contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "quiz %d not found", quiz.ID)
		}
		return err
	}
	return nil
}

// UpdateLesson applies the set fields of req to a lesson
func (s *LearningService) UpdateLesson(ctx context.Context, id uint, req *models.UpdateLessonRequest) (*models.Lesson, error) {
	lesson, err := s.store.GetLesson(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			return nil, contextutils.WrapError(contextutils.ErrMissingRequired, "title cannot be empty")
		}
		lesson.Title = strings.TrimSpace(*req.Title)
	}
	if req.Content != nil {
		lesson.Content = *req.Content
	}
	if req.Position != nil {
		lesson.Position = *req.Position
	}
	if req.XPReward != nil {
		lesson.XPReward = *req.XPReward
	}
	if err := s.store.UpdateLesson(ctx, lesson); err != nil {
		return nil, err
	}
	return lesson, nil
}

// DeleteLesson removes a lesson and its progress rows
func (s *LearningService) DeleteLesson(ctx context.Context, id uint) error {
	return s.store.DeleteLesson(ctx, id)
}

// StartLesson marks a lesson in progress. Completed lessons stay completed.
func (s *LearningService) StartLesson(ctx context.Context, userID, lessonID uint, isAdmin bool) (*models.LessonProgress, error) {
	if _, err := s.visibleLesson(ctx, lessonID, isAdmin); err != nil {
		return nil, err
	}
	return s.store.StartLessonProgress(ctx, userID, lessonID, s.now())
}

// CompleteLesson marks a lesson completed and awards its XP the first time.
// awarded reports whether this call did the completing; of concurrent calls
// exactly one completes.
func (s *LearningService) CompleteLesson(ctx context.Context, userID, lessonID uint, isAdmin bool) (result0 *models.LessonProgress, awarded bool, err error) {
	ctx, span := observability.TraceLearningFunction(ctx, "CompleteLesson",
		observability.AttributeUserID(userID),
		attribute.Int64("lesson.id", int64(lessonID)),
	)
	defer observability.FinishSpan(span, &err)

	lesson, err := s.visibleLesson(ctx, lessonID, isAdmin)
	if err != nil {
		return nil, false, err
	}

	now := s.now()
	completed, err := s.store.CompleteLessonProgress(ctx, userID, lessonID, now)
	if err != nil {
		return nil, false, err
	}
	progress, err := s.store.GetLessonProgress(ctx, userID, lessonID)
	if err != nil {
		return nil, false, err
	}
	if !completed {
		return progress, false, nil
	}

	if _, err := s.gamification.Record(ctx, userID, Achievement{
		Type:            models.ActivityLessonCompleted,
		XP:              lesson.XPReward,
		LessonCompleted: true,
	}); err != nil {
		s.logger.Error(ctx, "Failed to record lesson achievement", err, map[string]interface{}{
			"lesson_id": lessonID,
			"user_id":   userID,
		})
	}
	publishActivity(ctx, s.store, s.activity, userID, models.ActivityLessonCompleted, fmt.Sprintf("completed the lesson %q", lesson.Title), now)
	return progress, true, nil
}

// GetModuleProgress reports how many of a module's lessons the user completed
func (s *LearningService) GetModuleProgress(ctx context.Context, userID, moduleID uint, isAdmin bool) (*models.ModuleProgress, error) {
	module, err := s.GetModule(ctx, moduleID, isAdmin)
	if err != nil {
		return nil, err
	}
	lessons := module.Lessons
	progress, err := s.store.ListLessonProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	completed := make(map[uint]bool, len(progress))
	for _, p := range progress {
		if p.Status == models.LessonCompleted {
			completed[p.LessonID] = true
		}
	}

	result := &models.ModuleProgress{ModuleID: moduleID, Total: len(lessons)}
	for _, l := range lessons {
		if completed[l.ID] {
			result.Completed++
		}
	}
	if result.Total > 0 {
		result.Percent = float64(scoring.RoundHalfUp(float64(result.Completed)*1000/float64(result.Total))) / 10
	}
	return result, nil
}

// CreateQuiz validates and stores a quiz with its questions
func (s *LearningService) CreateQuiz(ctx context.Context, req *models.CreateQuizRequest) (*models.Quiz, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.LessonID != nil {
		if _, err := s.store.GetLesson(ctx, *req.LessonID); err != nil {
			return nil, err
		}
	}
	quiz := &models.Quiz{
		LessonID: req.LessonID,
		TopicID:  req.TopicID,
		Title:    strings.TrimSpace(req.Title),
		XPReward: DefaultQuizXP,
	}
	if req.XPReward != nil {
		quiz.XPReward = *req.XPReward
	}
	for i, q := range req.Questions {
		quiz.Questions = append(quiz.Questions, models.QuizQuestion{
			Prompt:        strings.TrimSpace(q.Prompt),
			Options:       datatypes.JSONSlice[string](q.Options),
			CorrectOption: q.CorrectOption,
			Position:      i + 1,
		})
	}
	if err := s.store.CreateQuiz(ctx, quiz); err != nil {
		return nil, err
	}
	return quiz, nil
}

// GetQuiz returns a quiz; non-admins get it without correct options
func (s *LearningService) GetQuiz(ctx context.Context, id uint, isAdmin bool) (*models.Quiz, error) {
	quiz, err := s.store.GetQuiz(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.visibleQuiz(ctx, quiz, isAdmin); err != nil {
		return nil, err
	}
	if isAdmin {
		return quiz, nil
	}
	redacted := quiz.Redacted()
	return &redacted, nil
}

// ListQuizzes lists quizzes, optionally those of one lesson
func (s *LearningService) ListQuizzes(ctx context.Context, lessonID *uint, isAdmin bool) ([]models.Quiz, error) {
	quizzes, err := s.store.ListQuizzes(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if quizzes == nil {
		return []models.Quiz{}, nil
	}
	if isAdmin {
		return quizzes, nil
	}
	visible := make([]models.Quiz, 0, len(quizzes))
	for i := range quizzes {
		if err := s.visibleQuiz(ctx, &quizzes[i], false); err != nil {
			if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		visible = append(visible, quizzes[i].Redacted())
	}
	return visible, nil
}

// DeleteQuiz removes a quiz, its questions and results
func (s *LearningService) DeleteQuiz(ctx context.Context, id uint) error {
	return s.store.DeleteQuiz(ctx, id)
}

// SubmitQuiz grades a quiz submission. XP and the quiz counter only move on
// the user's first submission of a quiz.
func (s *LearningService) SubmitQuiz(ctx context.Context, userID, quizID uint, isAdmin bool, req *models.SubmitQuizRequest) (result0 *models.QuizResult, err error) {
	ctx, span := observability.TraceLearningFunction(ctx, "SubmitQuiz",
		observability.AttributeUserID(userID),
		attribute.Int64("quiz.id", int64(quizID)),
	)
	defer observability.FinishSpan(span, &err)

	quiz, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if err := s.visibleQuiz(ctx, quiz, isAdmin); err != nil {
		return nil, err
	}
	if len(req.Selected) != len(quiz.Questions) {
		return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput,
			"expected %d selections, got %d", len(quiz.Questions), len(req.Selected))
	}

	correct := 0
	for i, q := range quiz.Questions {
		if req.Selected[i] == q.CorrectOption {
			correct++
		}
	}
	total := len(quiz.Questions)
	score := scoring.MinScore
	if total > 0 {
		score = scoring.RoundHalfUp(float64(correct) * 100 / float64(total))
	}

	result := &models.QuizResult{
		QuizID:  quizID,
		UserID:  userID,
		Correct: correct,
		Total:   total,
		Score:   score,
	}
	first, err := s.store.CreateQuizResult(ctx, result, QuizXP(quiz.XPReward, score))
	if err != nil {
		return nil, err
	}

	if first {
		if _, err := s.gamification.Record(ctx, userID, Achievement{
			Type:          models.ActivityQuizSubmitted,
			XP:            result.XPAwarded,
			QuizCompleted: true,
		}); err != nil {
			s.logger.Error(ctx, "Failed to record quiz achievement", err, map[string]interface{}{
				"quiz_id": quizID,
				"user_id": userID,
			})
		}
	}
	publishActivity(ctx, s.store, s.activity, userID, models.ActivityQuizSubmitted, fmt.Sprintf("scored %d%% on the quiz %q", score, quiz.Title), s.now())

	span.SetAttributes(attribute.Int("quiz.score", score), attribute.Bool("quiz.first", first))
	return result, nil
}
