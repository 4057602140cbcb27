package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"assessapp/internal/config"
	"assessapp/internal/models"
	"assessapp/internal/observability"
	"assessapp/internal/scoring"
	"assessapp/internal/services"
	"assessapp/internal/uploads"
	contextutils "assessapp/internal/utils"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// multipartOverhead leaves room for the non-file form fields of an answer
const multipartOverhead = 1 << 20

// TestHandler serves test authoring and test taking
type TestHandler struct {
	testService services.TestServiceInterface
	config      *config.Config
	logger      *observability.Logger
}

// NewTestHandler creates a new TestHandler
func NewTestHandler(testService services.TestServiceInterface, cfg *config.Config, logger *observability.Logger) *TestHandler {
	return &TestHandler{testService: testService, config: cfg, logger: logger}
}

// ListTests lists tests; non-admins only see published ones
func (h *TestHandler) ListTests(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "list_tests")
	defer observability.FinishSpan(span, nil)

	topicID, ok := parseOptionalIDQuery(c, "topic_id")
	if !ok {
		return
	}
	page, size := ParsePagination(c, 1, 20, 100)
	tests, err := h.testService.ListTests(ctx, models.TestFilter{
		PublishedOnly: !currentUser(c).IsAdmin(),
		TopicID:       topicID,
		Limit:         size,
		Offset:        pageOffset(page, size),
	})
	if err != nil {
		HandleAppError(c, err)
		return
	}
	WritePaginated(c, "tests", tests, page, size, nil)
}

// GetTest returns a test. Answer keys are hidden from non-admins.
func (h *TestHandler) GetTest(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_test")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	span.SetAttributes(observability.AttributeTestID(id))
	test, err := h.testService.GetTest(ctx, id, currentUser(c).IsAdmin())
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, test)
}

// CreateTest creates a test with its questions
func (h *TestHandler) CreateTest(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "create_test")
	defer observability.FinishSpan(span, nil)

	var req models.CreateTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleBindError(c, err)
		return
	}
	test, err := h.testService.CreateTest(ctx, currentUser(c).ID, &req)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	span.SetAttributes(observability.AttributeTestID(test.ID))
	c.JSON(http.StatusCreated, test)
}

// UpdateTest applies a partial update to a test
func (h *TestHandler) UpdateTest(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "update_test")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req models.UpdateTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleBindError(c, err)
		return
	}
	span.SetAttributes(observability.AttributeTestID(id))
	test, err := h.testService.UpdateTest(ctx, id, &req)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, test)
}

// DeleteTest removes a test
func (h *TestHandler) DeleteTest(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "delete_test")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	span.SetAttributes(observability.AttributeTestID(id))
	if err := h.testService.DeleteTest(ctx, id); err != nil {
		HandleAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AddQuestion appends a question to a test
func (h *TestHandler) AddQuestion(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "add_question")
	defer observability.FinishSpan(span, nil)

	testID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req models.CreateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleBindError(c, err)
		return
	}
	span.SetAttributes(observability.AttributeTestID(testID), observability.AttributeQuestionType(string(req.Type)))
	q, err := h.testService.AddQuestion(ctx, testID, &req)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

// UpdateQuestion applies a partial update to a question
func (h *TestHandler) UpdateQuestion(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "update_question")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req models.UpdateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleBindError(c, err)
		return
	}
	span.SetAttributes(observability.AttributeQuestionID(id))
	q, err := h.testService.UpdateQuestion(ctx, id, &req)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// DeleteQuestion removes a question
func (h *TestHandler) DeleteQuestion(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "delete_question")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	span.SetAttributes(observability.AttributeQuestionID(id))
	if err := h.testService.DeleteQuestion(ctx, id); err != nil {
		HandleAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StartAttempt starts (or resumes) the caller's attempt at a test
func (h *TestHandler) StartAttempt(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "start_attempt")
	defer observability.FinishSpan(span, nil)

	testID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	user := currentUser(c)
	attempt, resumed, err := h.testService.StartAttempt(ctx, user.ID, testID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	span.SetAttributes(
		observability.AttributeTestID(testID),
		observability.AttributeAttemptID(attempt.ID),
		attribute.Bool("attempt.resumed", resumed),
	)
	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"attempt": attempt, "resumed": resumed})
}

// ListAttempts lists the caller's attempts, newest first
func (h *TestHandler) ListAttempts(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "list_attempts")
	defer observability.FinishSpan(span, nil)

	page, size := ParsePagination(c, 1, 20, 100)
	attempts, err := h.testService.ListAttempts(ctx, currentUser(c).ID, size, pageOffset(page, size))
	if err != nil {
		HandleAppError(c, err)
		return
	}
	WritePaginated(c, "attempts", attempts, page, size, nil)
}

// GetAttempt returns an attempt with its test and answers
func (h *TestHandler) GetAttempt(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_attempt")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	user := currentUser(c)
	span.SetAttributes(observability.AttributeAttemptID(id))
	result, err := h.testService.GetAttemptResult(ctx, user.ID, id, user.IsAdmin())
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SubmitAnswer records an answer. It accepts JSON, or multipart form data
// carrying a "media" file for video and photo questions.
func (h *TestHandler) SubmitAnswer(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "submit_answer")
	defer observability.FinishSpan(span, nil)

	attemptID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	span.SetAttributes(observability.AttributeAttemptID(attemptID))

	var (
		req   models.SubmitAnswerRequest
		media *uploads.Media
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		m, closeMedia, ok := h.bindMultipartAnswer(c, &req)
		if !ok {
			return
		}
		defer closeMedia()
		media = m
	} else if err := c.ShouldBindJSON(&req); err != nil {
		HandleBindError(c, err)
		return
	}

	answer, err := h.testService.SubmitAnswer(ctx, currentUser(c).ID, attemptID, &req, media)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	span.SetAttributes(
		observability.AttributeQuestionID(answer.QuestionID),
		attribute.String("answer.status", string(answer.Status)),
	)
	c.JSON(http.StatusCreated, answer)
}

func (h *TestHandler) bindMultipartAnswer(c *gin.Context, req *models.SubmitAnswerRequest) (*uploads.Media, func(), bool) {
	noop := func() {}
	maxBytes := h.config.Uploads.MaxBytes
	if maxBytes <= 0 {
		maxBytes = config.DefaultUploadMaxBytes
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)

	if err := c.ShouldBind(req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			StandardizeHTTPError(c, http.StatusRequestEntityTooLarge, "Upload too large", err.Error())
			return nil, noop, false
		}
		HandleBindError(c, err)
		return nil, noop, false
	}
	if raw := strings.TrimSpace(c.PostForm("facial_metrics")); raw != "" {
		var fm scoring.FacialMetrics
		if err := json.Unmarshal([]byte(raw), &fm); err != nil {
			HandleValidationError(c, "facial_metrics", raw, "must be a JSON object")
			return nil, noop, false
		}
		req.FacialMetrics = &fm
	}

	header, err := c.FormFile("media")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, noop, true
		}
		HandleAppError(c, contextutils.WrapError(contextutils.ErrUploadRejected, "unreadable media upload"))
		return nil, noop, false
	}
	file, err := header.Open()
	if err != nil {
		HandleAppError(c, contextutils.WrapError(contextutils.ErrUploadRejected, "unreadable media upload"))
		return nil, noop, false
	}
	media := &uploads.Media{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}
	return media, func() { _ = file.Close() }, true
}

// CompleteAttempt finishes an attempt and returns its result
func (h *TestHandler) CompleteAttempt(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "complete_attempt")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	span.SetAttributes(observability.AttributeAttemptID(id))
	result, err := h.testService.CompleteAttempt(ctx, currentUser(c).ID, id)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GradeAnswer records a manual grade for an answer
func (h *TestHandler) GradeAnswer(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "grade_answer")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req models.GradeAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleBindError(c, err)
		return
	}
	span.SetAttributes(attribute.Int("answer.id", int(id)))
	answer, err := h.testService.GradeAnswer(ctx, currentUser(c).ID, id, &req)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

// GetAnswerMedia streams the media file attached to an answer
func (h *TestHandler) GetAnswerMedia(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_answer_media")
	defer observability.FinishSpan(span, nil)

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	user := currentUser(c)
	rc, contentType, err := h.testService.OpenAnswerMedia(ctx, user.ID, id, user.IsAdmin())
	if err != nil {
		HandleAppError(c, err)
		return
	}
	defer func() { _ = rc.Close() }()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Cache-Control", "private, no-store")
	c.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
}
