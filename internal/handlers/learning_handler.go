package handlers

import (
	"net/http"

	"assessapp/internal/models"
	"assessapp/internal/observability"
	"assessapp/internal/services"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// LearningHandler serves topics, learning modules, lessons and quizzes
type LearningHandler struct {
	learningService services.LearningServiceInterface
	logger          *observability.Logger
}

// NewLearningHandler creates a new LearningHandler
func NewLearningHandler(learningService services.LearningServiceInterface, logger *observability.Logger) *LearningHandler {
	return &LearningHandler{learningService: learningService, logger: logger}
}

// ListTopics returns every topic
func (h *LearningHandler) ListTopics(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "list_topics")
	defer observability.FinishSpan(span, nil)

	topics, err := h.learningService.ListTopics(ctx)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topics": topics})
}

// CreateTopic adds a topic
func (h *LearningHandler) CreateTopic(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "create_topic")
	defer observability.FinishSpan(span, nil)

	var req models.CreateTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleBindError(c, err)
		return
	}
	topic, err := h.learningService.CreateTopic(ctx, &req)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, topic)
}

// ListModules lists modules; drafts are only listed for admins
func (h *LearningHandler) ListModules(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "list_modules")
	defer observability.FinishSpan(span, nil)

	modules, err := h.learningService.ListModules(ctx, currentUser(c).IsAdmin())
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"modules": modules})
}

// GetModule returns a module with its lessons
func (h *LearningHandler) GetModule(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_module")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int("module.id", int(id)))
	module, err := h.learningService.GetModule(ctx, id, currentUser(c).IsAdmin())
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, module)
}

// CreateModule adds a learning module
func (h *LearningHandler) CreateModule(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "create_module")
	defer observability.FinishSpan(span, nil)

	var req models.CreateModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleBindError(c, err)
		return
	}
	module, err := h.learningService.CreateModule(ctx, &req)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, module)
}

// UpdateModule applies a partial update to a module
func (h *LearningHandler) UpdateModule(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "update_module")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req models.UpdateModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleBindError(c, err)
		return
	}
	module, err := h.learningService.UpdateModule(ctx, id, &req)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, module)
}

// DeleteModule removes a module and its lessons
func (h *LearningHandler) DeleteModule(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "delete_module")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.learningService.DeleteModule(ctx, id); err != nil {
		HandleAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CreateLesson adds a lesson to a module
func (h *LearningHandler) CreateLesson(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "create_lesson")
	defer observability.FinishSpan(span, nil)

	moduleID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req models.CreateLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleBindError(c, err)
		return
	}
	lesson, err := h.learningService.CreateLesson(ctx, moduleID, &req)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lesson)
}

// GetLesson returns a lesson
func (h *LearningHandler) GetLesson(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_lesson")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	lesson, err := h.learningService.GetLesson(ctx, id, currentUser(c).IsAdmin())
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, lesson)
}

// UpdateLesson applies a partial update to a lesson
func (h *LearningHandler) UpdateLesson(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "update_lesson")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req models.UpdateLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleBindError(c, err)
		return
	}
	lesson, err := h.learningService.UpdateLesson(ctx, id, &req)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, lesson)
}

// DeleteLesson removes a lesson
func (h *LearningHandler) DeleteLesson(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "delete_lesson")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.learningService.DeleteLesson(ctx, id); err != nil {
		HandleAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StartLesson marks a lesson as in progress for the caller
func (h *LearningHandler) StartLesson(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "start_lesson")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	progress, err := h.learningService.StartLesson(ctx, currentUser(c).ID, id, currentUser(c).IsAdmin())
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// CompleteLesson marks a lesson as completed for the caller. XP is awarded
// on the first completion only.
func (h *LearningHandler) CompleteLesson(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "complete_lesson")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	progress, awarded, err := h.learningService.CompleteLesson(ctx, currentUser(c).ID, id, currentUser(c).IsAdmin())
	if err != nil {
		HandleAppError(c, err)
		return
	}
	span.SetAttributes(attribute.Bool("lesson.xp_awarded", awarded))
	c.JSON(http.StatusOK, gin.H{"progress": progress, "xp_awarded": awarded})
}

// GetModuleProgress returns the caller's completion of a module
func (h *LearningHandler) GetModuleProgress(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_module_progress")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	progress, err := h.learningService.GetModuleProgress(ctx, currentUser(c).ID, id, currentUser(c).IsAdmin())
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// ListQuizzes lists quizzes, optionally for one lesson
func (h *LearningHandler) ListQuizzes(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "list_quizzes")
	defer observability.FinishSpan(span, nil)

	lessonID, ok := parseOptionalIDQuery(c, "lesson_id")
	if !ok {
		return
	}
	quizzes, err := h.learningService.ListQuizzes(ctx, lessonID, currentUser(c).IsAdmin())
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quizzes": quizzes})
}

// GetQuiz returns a quiz; correct options are hidden from non-admins
func (h *LearningHandler) GetQuiz(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_quiz")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	quiz, err := h.learningService.GetQuiz(ctx, id, currentUser(c).IsAdmin())
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, quiz)
}

// CreateQuiz adds a quiz
func (h *LearningHandler) CreateQuiz(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "create_quiz")
	defer observability.FinishSpan(span, nil)

	var req models.CreateQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleBindError(c, err)
		return
	}
	quiz, err := h.learningService.CreateQuiz(ctx, &req)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, quiz)
}

// DeleteQuiz removes a quiz
func (h *LearningHandler) DeleteQuiz(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "delete_quiz")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.learningService.DeleteQuiz(ctx, id); err != nil {
		HandleAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SubmitQuiz grades the caller's selections
func (h *LearningHandler) SubmitQuiz(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "submit_quiz")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req models.SubmitQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleBindError(c, err)
		return
	}
	result, err := h.learningService.SubmitQuiz(ctx, currentUser(c).ID, id, currentUser(c).IsAdmin(), &req)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	span.SetAttributes(attribute.Int("quiz.score", result.Score))
	c.JSON(http.StatusOK, result)
}
