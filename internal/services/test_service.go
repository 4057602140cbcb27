package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"assessapp/internal/ai"
	"assessapp/internal/models"
	"assessapp/internal/observability"
	"assessapp/internal/scoring"
	"assessapp/internal/storage"
	"assessapp/internal/uploads"
	contextutils "assessapp/internal/utils"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
)

// MediaStorer stores answer uploads; *uploads.MediaStore satisfies it
type MediaStorer interface {
	Validate(kind models.QuestionType, contentType string, size int64) error
	SaveAnswerMedia(ctx context.Context, attemptID uint, kind models.QuestionType, media uploads.Media) (string, error)
	OpenMedia(ctx context.Context, key string) (io.ReadCloser, error)
	DeleteMedia(ctx context.Context, key string)
}

// TestServiceInterface defines test authoring and test-taking operations
type TestServiceInterface interface {
	CreateTest(ctx context.Context, creatorID uint, req *models.CreateTestRequest) (*models.Test, error)
	GetTest(ctx context.Context, id uint, isAdmin bool) (*models.Test, error)
	ListTests(ctx context.Context, filter models.TestFilter) ([]models.Test, error)
	UpdateTest(ctx context.Context, id uint, req *models.UpdateTestRequest) (*models.Test, error)
	DeleteTest(ctx context.Context, id uint) error
	AddQuestion(ctx context.Context, testID uint, req *models.CreateQuestionRequest) (*models.Question, error)
	UpdateQuestion(ctx context.Context, id uint, req *models.UpdateQuestionRequest) (*models.Question, error)
	DeleteQuestion(ctx context.Context, id uint) error

	StartAttempt(ctx context.Context, userID, testID uint) (*models.Attempt, bool, error)
	ListAttempts(ctx context.Context, userID uint, limit, offset int) ([]models.Attempt, error)
	SubmitAnswer(ctx context.Context, userID, attemptID uint, req *models.SubmitAnswerRequest, media *uploads.Media) (*models.Answer, error)
	CompleteAttempt(ctx context.Context, userID, attemptID uint) (*models.AttemptResult, error)
	GetAttemptResult(ctx context.Context, userID, attemptID uint, isAdmin bool) (*models.AttemptResult, error)
	GradeAnswer(ctx context.Context, graderID, answerID uint, req *models.GradeAnswerRequest) (*models.Answer, error)
	OpenAnswerMedia(ctx context.Context, userID, answerID uint, isAdmin bool) (io.ReadCloser, string, error)

	SweepStaleAttempts(ctx context.Context, maxAge time.Duration) (int, error)
	RescorePendingAnswers(ctx context.Context, limit int) (int, error)
}

// TestService runs tests: authoring, attempts, answer grading and completion
type TestService struct {
	store        storage.Store
	assessment   AssessmentServiceInterface
	gamification GamificationServiceInterface
	media        MediaStorer
	activity     ActivityPublisher
	metrics      *observability.Metrics
	logger       *observability.Logger
	now          func() time.Time
}

var _ TestServiceInterface = (*TestService)(nil)

// NewTestServiceWithLogger creates a test service
func NewTestServiceWithLogger(
	store storage.Store,
	assessment AssessmentServiceInterface,
	gamification GamificationServiceInterface,
	media MediaStorer,
	activity ActivityPublisher,
	metrics *observability.Metrics,
	logger *observability.Logger,
) *TestService {
	return &TestService{
		store:        store,
		assessment:   assessment,
		gamification: gamification,
		media:        media,
		activity:     publisherOrNoop(activity),
		metrics:      metrics,
		logger:       logger,
		now:          utcNow,
	}
}

// DefaultPassingScore applies when a test is created without one
const DefaultPassingScore = 60

// CreateTest validates and stores a test together with its questions
func (s *TestService) CreateTest(ctx context.Context, creatorID uint, req *models.CreateTestRequest) (result0 *models.Test, err error) {
	ctx, span := observability.TraceTestFunction(ctx, "CreateTest",
		observability.AttributeUserID(creatorID),
		attribute.Int("questions.count", len(req.Questions)),
	)
	defer observability.FinishSpan(span, &err)

	if strings.TrimSpace(req.Title) == "" {
		return nil, contextutils.WrapError(contextutils.ErrMissingRequired, "title is required")
	}
	if err := s.checkTopic(ctx, req.TopicID); err != nil {
		return nil, err
	}

	test := &models.Test{
		Title:            strings.TrimSpace(req.Title),
		Description:      req.Description,
		TopicID:          req.TopicID,
		TimeLimitMinutes: req.TimeLimitMinutes,
		PassingScore:     DefaultPassingScore,
		IsPublished:      req.IsPublished,
		CreatedBy:        creatorID,
	}
	if req.PassingScore != nil {
		test.PassingScore = *req.PassingScore
	}
	for i := range req.Questions {
		q := &req.Questions[i]
		if err := q.Validate(); err != nil {
			return nil, contextutils.WrapErrorf(err, "question %d", i+1)
		}
		question := q.ToQuestion(0)
		if question.Position == 0 {
			question.Position = i + 1
		}
		test.Questions = append(test.Questions, question)
	}

	if err := s.store.CreateTest(ctx, test); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "Test created", map[string]interface{}{
		"test_id":   test.ID,
		"questions": len(test.Questions),
		"user_id":   creatorID,
	})
	return test, nil
}

func (s *TestService) checkTopic(ctx context.Context, topicID *uint) error {
	if topicID == nil {
		return nil
	}
	if _, err := s.store.GetTopic(ctx, *topicID); err != nil {
		if errors.Is(err, contextutils.ErrRecordNotFound) {
			return contextutils.WrapErrorf(contextutils.ErrInvalidInput, "topic %d does not exist", *topicID)
		}
		return err
	}
	return nil
}

// GetTest returns a test with its questions. Non-admins only see published
// tests, without answer keys.
func (s *TestService) GetTest(ctx context.Context, id uint, isAdmin bool) (*models.Test, error) {
	test, err := s.store.GetTest(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if isAdmin {
		return test, nil
	}
	if !test.IsPublished {
		return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "test %d not found", id)
	}
	redacted := test.Redacted()
	return &redacted, nil
}

// ListTests lists tests matching filter
func (s *TestService) ListTests(ctx context.Context, filter models.TestFilter) ([]models.Test, error) {
	tests, err := s.store.ListTests(ctx, filter)
	if err != nil {
		return nil, err
	}
	if tests == nil {
		tests = []models.Test{}
	}
	return tests, nil
}

// UpdateTest applies the set fields of req to a test
func (s *TestService) UpdateTest(ctx context.Context, id uint, req *models.UpdateTestRequest) (result0 *models.Test, err error) {
	ctx, span := observability.TraceTestFunction(ctx, "UpdateTest", observability.AttributeTestID(id))
	defer observability.FinishSpan(span, &err)

	test, err := s.store.GetTest(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			return nil, contextutils.WrapError(contextutils.ErrMissingRequired, "title cannot be empty")
		}
		test.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		test.Description = *req.Description
	}
	if req.TopicID != nil {
		if err := s.checkTopic(ctx, req.TopicID); err != nil {
			return nil, err
		}
		test.TopicID = req.TopicID
	}
	if req.TimeLimitMinutes != nil {
		test.TimeLimitMinutes = *req.TimeLimitMinutes
	}
	if req.PassingScore != nil {
		test.PassingScore = *req.PassingScore
	}
	if req.IsPublished != nil {
		test.IsPublished = *req.IsPublished
	}
	test.UpdatedAt = s.now()

	if err := s.store.UpdateTest(ctx, test); err != nil {
		return nil, err
	}
	return s.store.GetTest(ctx, id, true)
}

// DeleteTest removes a test with its questions, attempts and answers
func (s *TestService) DeleteTest(ctx context.Context, id uint) error {
	return s.store.DeleteTest(ctx, id)
}

// AddQuestion appends a question to a test
func (s *TestService) AddQuestion(ctx context.Context, testID uint, req *models.CreateQuestionRequest) (*models.Question, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetTest(ctx, testID, false); err != nil {
		return nil, err
	}
	q := req.ToQuestion(testID)
	if q.Position == 0 {
		existing, err := s.store.ListQuestionsByTest(ctx, testID)
		if err != nil {
			return nil, err
		}
		for _, e := range existing {
			if e.Position >= q.Position {
				q.Position = e.Position + 1
			}
		}
	}
	if err := s.store.CreateQuestion(ctx, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// UpdateQuestion applies the set fields of req to a question
func (s *TestService) UpdateQuestion(ctx context.Context, id uint, req *models.UpdateQuestionRequest) (*models.Question, error) {
	q, err := s.store.GetQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := req.ApplyTo(q); err != nil {
		return nil, err
	}
	if err := s.store.UpdateQuestion(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// DeleteQuestion removes a question and its answers
func (s *TestService) DeleteQuestion(ctx context.Context, id uint) error {
	return s.store.DeleteQuestion(ctx, id)
}

// StartAttempt opens an attempt at a published test. An attempt still in
// progress is resumed instead; resumed reports which happened.
func (s *TestService) StartAttempt(ctx context.Context, userID, testID uint) (result0 *models.Attempt, resumed bool, err error) {
	ctx, span := observability.TraceTestFunction(ctx, "StartAttempt",
		observability.AttributeUserID(userID),
		observability.AttributeTestID(testID),
	)
	defer observability.FinishSpan(span, &err)

	test, err := s.store.GetTest(ctx, testID, true)
	if err != nil {
		return nil, false, err
	}
	if !test.IsPublished {
		return nil, false, contextutils.WrapErrorf(contextutils.ErrForbidden, "test %d is not published", testID)
	}
	if len(test.Questions) == 0 {
		return nil, false, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "test %d has no questions", testID)
	}

	now := s.now()
	open, err := s.store.FindOpenAttempt(ctx, userID, testID)
	switch {
	case err == nil:
		if !s.expired(test, open, now) {
			span.SetAttributes(attribute.Bool("attempt.resumed", true))
			return open, true, nil
		}
		if _, err := s.finalize(ctx, open, test, models.AttemptCompleted, now); err != nil {
			return nil, false, err
		}
	case !errors.Is(err, contextutils.ErrRecordNotFound):
		return nil, false, err
	}

	attempt := &models.Attempt{
		UserID:    userID,
		TestID:    testID,
		Status:    models.AttemptInProgress,
		StartedAt: now,
	}
	if err := s.store.CreateAttempt(ctx, attempt); err != nil {
		return nil, false, err
	}
	s.touch(ctx, userID, now)
	publishActivity(ctx, s.store, s.activity, userID, models.ActivityAttemptStarted, fmt.Sprintf("started %q", test.Title), now)
	return attempt, false, nil
}

func (s *TestService) expired(test *models.Test, attempt *models.Attempt, now time.Time) bool {
	deadline, limited := test.Deadline(attempt.StartedAt)
	return limited && now.After(deadline)
}

// ListAttempts returns the user's attempts, newest first
func (s *TestService) ListAttempts(ctx context.Context, userID uint, limit, offset int) ([]models.Attempt, error) {
	attempts, err := s.store.ListAttemptsByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if attempts == nil {
		attempts = []models.Attempt{}
	}
	return attempts, nil
}

// openAttempt loads an attempt owned by userID that still accepts answers.
// An attempt past its time limit is completed on the spot and rejected.
func (s *TestService) openAttempt(ctx context.Context, userID, attemptID uint, now time.Time) (*models.Attempt, *models.Test, error) {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, nil, err
	}
	if attempt.UserID != userID {
		return nil, nil, contextutils.WrapErrorf(contextutils.ErrForbidden, "attempt %d belongs to another user", attemptID)
	}
	if !attempt.IsOpen() {
		return nil, nil, contextutils.WrapErrorf(contextutils.ErrAttemptClosed, "attempt %d is %s", attemptID, attempt.Status)
	}
	test, err := s.store.GetTest(ctx, attempt.TestID, false)
	if err != nil {
		return nil, nil, err
	}
	return attempt, test, nil
}

// SubmitAnswer records and grades an answer. Submitting again for the same
// question replaces the earlier answer.
func (s *TestService) SubmitAnswer(ctx context.Context, userID, attemptID uint, req *models.SubmitAnswerRequest, media *uploads.Media) (result0 *models.Answer, err error) {
	ctx, span := observability.TraceTestFunction(ctx, "SubmitAnswer",
		observability.AttributeUserID(userID),
		observability.AttributeAttemptID(attemptID),
		observability.AttributeQuestionID(req.QuestionID),
	)
	defer observability.FinishSpan(span, &err)

	now := s.now()
	attempt, test, err := s.openAttempt(ctx, userID, attemptID, now)
	if err != nil {
		return nil, err
	}
	if s.expired(test, attempt, now) {
		if _, err := s.finalize(ctx, attempt, test, models.AttemptCompleted, now); err != nil {
			return nil, err
		}
		return nil, contextutils.WrapErrorf(contextutils.ErrAttemptClosed, "time limit of %d minutes has passed", test.TimeLimitMinutes)
	}

	question, err := s.store.GetQuestion(ctx, req.QuestionID)
	if err != nil {
		return nil, err
	}
	if question.TestID != attempt.TestID {
		return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "question %d is not part of this test", question.ID)
	}
	span.SetAttributes(observability.AttributeQuestionType(string(question.Type)))

	if question.Type.RequiresMedia() {
		if media == nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrMissingRequired, "%s questions require a media upload", question.Type)
		}
		if err := s.media.Validate(question.Type, media.ContentType, media.Size); err != nil {
			return nil, err
		}
	} else if media != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrUploadRejected, "%s questions take no upload", question.Type)
	}

	previous, err := s.findAnswer(ctx, attempt.ID, question.ID)
	if err != nil {
		return nil, err
	}

	answer := &models.Answer{
		AttemptID:  attempt.ID,
		QuestionID: question.ID,
		UserID:     userID,
	}
	switch question.Type {
	case models.QuestionMultipleChoice:
		err = gradeMultipleChoice(question, req, answer)
	case models.QuestionShortAnswer:
		err = s.gradeShortAnswer(ctx, question, req, answer)
	case models.QuestionVideoResponse:
		err = s.gradeVideo(ctx, attempt.ID, question, req, media, answer)
	case models.QuestionPhotoUpload:
		err = s.storePhoto(ctx, attempt.ID, req, media, answer)
	default:
		err = contextutils.WrapErrorf(contextutils.ErrInvalidInput, "unsupported question type %q", question.Type)
	}
	if err != nil {
		if answer.MediaKey != nil {
			s.media.DeleteMedia(ctx, *answer.MediaKey)
		}
		return nil, err
	}

	if err := s.store.UpsertAnswer(ctx, answer); err != nil {
		if answer.MediaKey != nil {
			s.media.DeleteMedia(ctx, *answer.MediaKey)
		}
		return nil, err
	}
	if previous != nil && previous.MediaKey != nil && (answer.MediaKey == nil || *previous.MediaKey != *answer.MediaKey) {
		s.media.DeleteMedia(ctx, *previous.MediaKey)
	}

	if answer.Status == models.AnswerScored {
		s.metrics.RecordAnswerScored(ctx, string(question.Type))
	}
	s.touch(ctx, userID, now)
	publishActivity(ctx, s.store, s.activity, userID, models.ActivityAnswerSubmitted, fmt.Sprintf("answered a %s question in %q", strings.ReplaceAll(string(question.Type), "_", " "), test.Title), now)

	s.logger.Info(ctx, "Answer submitted", map[string]interface{}{
		"attempt_id":    attempt.ID,
		"question_id":   question.ID,
		"question_type": string(question.Type),
		"status":        string(answer.Status),
		"replaced":      previous != nil,
	})
	return answer, nil
}

func (s *TestService) findAnswer(ctx context.Context, attemptID, questionID uint) (*models.Answer, error) {
	answers, err := s.store.ListAnswersByAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	for i := range answers {
		if answers[i].QuestionID == questionID {
			return &answers[i], nil
		}
	}
	return nil, nil
}

func gradeMultipleChoice(q *models.Question, req *models.SubmitAnswerRequest, answer *models.Answer) error {
	if req.SelectedOption == nil {
		return contextutils.WrapError(contextutils.ErrMissingRequired, "selected_option is required")
	}
	selected := *req.SelectedOption
	if selected < 0 || selected >= len(q.Options) {
		return contextutils.WrapErrorf(contextutils.ErrInvalidInput, "selected_option must be between 0 and %d", len(q.Options)-1)
	}
	correct := q.CorrectOption != nil && *q.CorrectOption == selected
	score := scoring.MinScore
	if correct {
		score = scoring.MaxScore
	}
	answer.SelectedOption = intPtr(selected)
	answer.IsCorrect = boolPtr(correct)
	answer.Score = intPtr(score)
	answer.Status = models.AnswerScored
	return nil
}

func (s *TestService) gradeShortAnswer(ctx context.Context, q *models.Question, req *models.SubmitAnswerRequest, answer *models.Answer) error {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return contextutils.WrapError(contextutils.ErrMissingRequired, "content is required")
	}
	answer.Content = content

	eval, err := s.assessment.EvaluateText(ctx, q, content)
	if err != nil {
		s.logger.Warn(ctx, "Content evaluation unavailable, answer left pending", map[string]interface{}{
			"question_id": q.ID,
			"error":       err.Error(),
		})
		answer.Status = models.AnswerPending
		return nil
	}
	applyEvaluation(answer, eval)
	answer.Score = intPtr(eval.Score)
	answer.Status = models.AnswerScored
	return nil
}

func (s *TestService) gradeVideo(ctx context.Context, attemptID uint, q *models.Question, req *models.SubmitAnswerRequest, media *uploads.Media, answer *models.Answer) error {
	if err := s.saveMedia(ctx, attemptID, q.Type, media, answer); err != nil {
		return err
	}
	answer.Content = strings.TrimSpace(req.Transcript)

	result, err := s.assessment.EvaluateVideo(ctx, q, VideoSubmission{
		Transcript:      req.Transcript,
		DurationSeconds: req.DurationSeconds,
		Facial:          req.FacialMetrics,
	})
	if result != nil {
		answer.EmotionScore = intPtr(result.Emotion)
		answer.SpeechScore = intPtr(result.Speech)
		answer.FacialScore = intPtr(result.Facial)
	}
	if err != nil || result == nil || result.Content == nil {
		s.logger.Warn(ctx, "Video evaluation incomplete, answer left pending", map[string]interface{}{
			"question_id": q.ID,
			"error":       fmt.Sprint(err),
		})
		answer.Status = models.AnswerPending
		return nil
	}
	applyEvaluation(answer, result.Content)
	answer.Score = intPtr(result.Overall)
	answer.Status = models.AnswerScored
	return nil
}

func (s *TestService) storePhoto(ctx context.Context, attemptID uint, req *models.SubmitAnswerRequest, media *uploads.Media, answer *models.Answer) error {
	if err := s.saveMedia(ctx, attemptID, models.QuestionPhotoUpload, media, answer); err != nil {
		return err
	}
	answer.Content = strings.TrimSpace(req.Content)
	answer.Status = models.AnswerPending
	return nil
}

func (s *TestService) saveMedia(ctx context.Context, attemptID uint, kind models.QuestionType, media *uploads.Media, answer *models.Answer) error {
	key, err := s.media.SaveAnswerMedia(ctx, attemptID, kind, *media)
	if err != nil {
		return err
	}
	contentType := media.ContentType
	answer.MediaKey = &key
	answer.MediaContentType = &contentType
	return nil
}

func applyEvaluation(answer *models.Answer, eval *ai.ContentEvaluation) {
	answer.ContentScore = intPtr(eval.Score)
	answer.Feedback = eval.Feedback
	answer.Strengths = datatypes.JSONSlice[string](eval.Strengths)
	answer.Improvements = datatypes.JSONSlice[string](eval.Improvements)
}

// CompleteAttempt scores and closes an attempt and awards XP
func (s *TestService) CompleteAttempt(ctx context.Context, userID, attemptID uint) (result0 *models.AttemptResult, err error) {
	ctx, span := observability.TraceTestFunction(ctx, "CompleteAttempt",
		observability.AttributeUserID(userID),
		observability.AttributeAttemptID(attemptID),
	)
	defer observability.FinishSpan(span, &err)

	now := s.now()
	attempt, test, err := s.openAttempt(ctx, userID, attemptID, now)
	if err != nil {
		return nil, err
	}
	closed, err := s.finalize(ctx, attempt, test, models.AttemptCompleted, now)
	if err != nil {
		return nil, err
	}
	if !closed {
		return nil, contextutils.WrapErrorf(contextutils.ErrAttemptClosed, "attempt %d was already closed", attemptID)
	}
	return s.GetAttemptResult(ctx, userID, attemptID, false)
}

// finalize closes an attempt. Completed attempts are scored and earn XP;
// abandoned attempts keep no score. It reports false when the attempt had
// already been closed by someone else.
func (s *TestService) finalize(ctx context.Context, attempt *models.Attempt, test *models.Test, status models.AttemptStatus, now time.Time) (bool, error) {
	attempt.Status = status
	attempt.CompletedAt = &now

	var achievement Achievement
	if status == models.AttemptCompleted {
		questions, err := s.store.ListQuestionsByTest(ctx, test.ID)
		if err != nil {
			return false, err
		}
		answers, err := s.store.ListAnswersByAttempt(ctx, attempt.ID)
		if err != nil {
			return false, err
		}
		score, xp, videoBest := scoreAttempt(questions, answers)
		passed := score >= test.PassingScore
		xp += XPAttemptCompleted
		if passed {
			xp += XPAttemptPassed
		}
		attempt.Score = intPtr(score)
		attempt.Passed = boolPtr(passed)
		attempt.XPAwarded = xp
		achievement = Achievement{
			Type:             models.ActivityAttemptCompleted,
			XP:               xp,
			AttemptCompleted: true,
			AttemptScore:     intPtr(score),
			VideoScore:       videoBest,
		}
	}

	closed, err := s.store.CloseAttempt(ctx, attempt)
	if err != nil {
		return false, err
	}
	if !closed {
		return false, nil
	}

	if status != models.AttemptCompleted {
		s.logger.Info(ctx, "Attempt abandoned", map[string]interface{}{"attempt_id": attempt.ID})
		return true, nil
	}

	if _, err := s.gamification.Record(ctx, attempt.UserID, achievement); err != nil {
		s.logger.Error(ctx, "Failed to record attempt achievement", err, map[string]interface{}{
			"attempt_id": attempt.ID,
		})
	}
	publishActivity(ctx, s.store, s.activity, attempt.UserID, models.ActivityAttemptCompleted,
		fmt.Sprintf("completed %q with %d%%", test.Title, *attempt.Score), now)

	s.logger.Info(ctx, "Attempt completed", map[string]interface{}{
		"attempt_id": attempt.ID,
		"score":      *attempt.Score,
		"passed":     *attempt.Passed,
		"xp":         attempt.XPAwarded,
	})
	return true, nil
}

// scoreAttempt returns the points-weighted score, the XP earned by individual
// answers and the best scored video overall, if any
func scoreAttempt(questions []models.Question, answers []models.Answer) (score, xp int, videoBest *int) {
	byQuestion := make(map[uint]*models.Answer, len(answers))
	for i := range answers {
		byQuestion[answers[i].QuestionID] = &answers[i]
	}

	items := make([]scoring.WeightedScore, 0, len(questions))
	for _, q := range questions {
		item := scoring.WeightedScore{Points: q.Points}
		a, ok := byQuestion[q.ID]
		if ok && a.Status == models.AnswerScored && a.Score != nil {
			item.Score = a.Score
			switch q.Type {
			case models.QuestionMultipleChoice:
				if a.IsCorrect != nil && *a.IsCorrect {
					xp += XPMultipleChoiceCorrect
				}
			default:
				xp += OpenAnswerXP(*a.Score)
			}
			if q.Type == models.QuestionVideoResponse && (videoBest == nil || *a.Score > *videoBest) {
				videoBest = intPtr(*a.Score)
			}
		}
		items = append(items, item)
	}
	return scoring.AttemptScore(items), xp, videoBest
}

// GetAttemptResult returns an attempt with its test and answers. Answer keys
// stay hidden from non-admins until the attempt is closed.
func (s *TestService) GetAttemptResult(ctx context.Context, userID, attemptID uint, isAdmin bool) (*models.AttemptResult, error) {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && attempt.UserID != userID {
		return nil, contextutils.WrapErrorf(contextutils.ErrForbidden, "attempt %d belongs to another user", attemptID)
	}
	test, err := s.store.GetTest(ctx, attempt.TestID, true)
	if err != nil {
		return nil, err
	}
	answers, err := s.store.ListAnswersByAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if answers == nil {
		answers = []models.Answer{}
	}
	if !isAdmin && attempt.IsOpen() {
		redacted := test.Redacted()
		test = &redacted
	}
	return &models.AttemptResult{Attempt: *attempt, Test: *test, Answers: answers}, nil
}

// GradeAnswer sets a manual score on an answer. A completed attempt's score is
// recomputed; XP already awarded is left alone.
func (s *TestService) GradeAnswer(ctx context.Context, graderID, answerID uint, req *models.GradeAnswerRequest) (result0 *models.Answer, err error) {
	ctx, span := observability.TraceTestFunction(ctx, "GradeAnswer",
		observability.AttributeUserID(graderID),
		attribute.Int64("answer.id", int64(answerID)),
	)
	defer observability.FinishSpan(span, &err)

	if req.Score == nil {
		return nil, contextutils.WrapError(contextutils.ErrMissingRequired, "score is required")
	}
	score := int(scoring.Clamp(float64(*req.Score)))

	answer, err := s.store.GetAnswer(ctx, answerID)
	if err != nil {
		return nil, err
	}
	answer.Score = intPtr(score)
	answer.Status = models.AnswerScored
	answer.GradedBy = &graderID
	if strings.TrimSpace(req.Feedback) != "" {
		answer.Feedback = strings.TrimSpace(req.Feedback)
	}
	if err := s.store.UpdateAnswer(ctx, answer); err != nil {
		return nil, err
	}

	question, err := s.store.GetQuestion(ctx, answer.QuestionID)
	if err == nil {
		s.metrics.RecordAnswerScored(ctx, string(question.Type))
	}
	if err := s.refreshAttemptScore(ctx, answer.AttemptID); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "Answer graded manually", map[string]interface{}{
		"answer_id": answerID,
		"grader_id": graderID,
		"score":     score,
	})
	return answer, nil
}

// refreshAttemptScore recomputes score and pass state of a completed attempt
func (s *TestService) refreshAttemptScore(ctx context.Context, attemptID uint) error {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if attempt.Status != models.AttemptCompleted {
		return nil
	}
	test, err := s.store.GetTest(ctx, attempt.TestID, true)
	if err != nil {
		return err
	}
	answers, err := s.store.ListAnswersByAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	score, _, _ := scoreAttempt(test.Questions, answers)
	attempt.Score = intPtr(score)
	attempt.Passed = boolPtr(score >= test.PassingScore)
	return s.store.UpdateAttempt(ctx, attempt)
}

// OpenAnswerMedia opens an answer's upload for its owner or an admin
func (s *TestService) OpenAnswerMedia(ctx context.Context, userID, answerID uint, isAdmin bool) (io.ReadCloser, string, error) {
	answer, err := s.store.GetAnswer(ctx, answerID)
	if err != nil {
		return nil, "", err
	}
	if !isAdmin && answer.UserID != userID {
		return nil, "", contextutils.WrapErrorf(contextutils.ErrForbidden, "answer %d belongs to another user", answerID)
	}
	if answer.MediaKey == nil {
		return nil, "", contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "answer %d has no media", answerID)
	}
	rc, err := s.media.OpenMedia(ctx, *answer.MediaKey)
	if err != nil {
		return nil, "", err
	}
	contentType := "application/octet-stream"
	if answer.MediaContentType != nil {
		contentType = *answer.MediaContentType
	}
	return rc, contentType, nil
}

// SweepStaleAttempts closes in-progress attempts nobody will finish. Attempts
// past their time limit are completed and scored; attempts older than maxAge
// without a time limit are abandoned.
func (s *TestService) SweepStaleAttempts(ctx context.Context, maxAge time.Duration) (result0 int, err error) {
	ctx, span := observability.TraceTestFunction(ctx, "SweepStaleAttempts",
		attribute.String("max_age", maxAge.String()),
	)
	defer observability.FinishSpan(span, &err)

	now := s.now()
	stale, err := s.store.ListStaleAttempts(ctx, now, maxAge)
	if err != nil {
		return 0, err
	}

	closed := 0
	for i := range stale {
		attempt := &stale[i]
		test, err := s.store.GetTest(ctx, attempt.TestID, false)
		if err != nil {
			s.logger.Warn(ctx, "Skipping stale attempt", map[string]interface{}{
				"attempt_id": attempt.ID,
				"error":      err.Error(),
			})
			continue
		}
		status := models.AttemptAbandoned
		if _, limited := test.Deadline(attempt.StartedAt); limited {
			status = models.AttemptCompleted
		}
		ok, err := s.finalize(ctx, attempt, test, status, now)
		if err != nil {
			s.logger.Error(ctx, "Failed to close stale attempt", err, map[string]interface{}{"attempt_id": attempt.ID})
			continue
		}
		if ok {
			closed++
		}
	}
	span.SetAttributes(attribute.Int("attempts.closed", closed))
	return closed, nil
}

// RescorePendingAnswers retries content grading for answers left pending by an
// unavailable chat model. Photo uploads stay pending for manual grading.
func (s *TestService) RescorePendingAnswers(ctx context.Context, limit int) (result0 int, err error) {
	ctx, span := observability.TraceTestFunction(ctx, "RescorePendingAnswers", observability.AttributeLimit(limit))
	defer observability.FinishSpan(span, &err)

	pending, err := s.store.ListPendingAnswers(ctx, []models.QuestionType{models.QuestionShortAnswer, models.QuestionVideoResponse}, limit)
	if err != nil {
		return 0, err
	}

	rescored := 0
	for i := range pending {
		answer := &pending[i]
		question, err := s.store.GetQuestion(ctx, answer.QuestionID)
		if err != nil {
			continue
		}
		eval, err := s.assessment.EvaluateText(ctx, question, answer.Content)
		if err != nil {
			if contextutils.IsError(err, contextutils.ErrMissingRequired) && question.Type == models.QuestionVideoResponse {
				eval = &ai.ContentEvaluation{Score: scoring.MinScore, Feedback: "No speech was detected in the recording."}
			} else {
				s.logger.Debug(ctx, "Answer still cannot be graded", map[string]interface{}{
					"answer_id": answer.ID,
					"error":     err.Error(),
				})
				continue
			}
		}

		applyEvaluation(answer, eval)
		score := eval.Score
		if question.Type == models.QuestionVideoResponse {
			score = scoring.Aggregate(float64(eval.Score), subScore(answer.EmotionScore), subScore(answer.SpeechScore), subScore(answer.FacialScore))
		}
		answer.Score = intPtr(score)
		answer.Status = models.AnswerScored
		if err := s.store.UpdateAnswer(ctx, answer); err != nil {
			return rescored, err
		}
		s.metrics.RecordAnswerScored(ctx, string(question.Type))
		if err := s.refreshAttemptScore(ctx, answer.AttemptID); err != nil {
			return rescored, err
		}
		rescored++
	}
	span.SetAttributes(attribute.Int("answers.rescored", rescored))
	if rescored > 0 {
		s.logger.Info(ctx, "Pending answers rescored", map[string]interface{}{"count": rescored})
	}
	return rescored, nil
}

func subScore(v *int) float64 {
	if v == nil {
		return scoring.NeutralSubScore
	}
	return float64(*v)
}

func (s *TestService) touch(ctx context.Context, userID uint, now time.Time) {
	if err := s.store.TouchUser(ctx, userID, now); err != nil {
		s.logger.Warn(ctx, "Failed to update last activity", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
}
