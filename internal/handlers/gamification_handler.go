package handlers

import (
	"net/http"

	"assessapp/internal/models"
	"assessapp/internal/observability"
	"assessapp/internal/scoring"
	"assessapp/internal/services"

	"github.com/gin-gonic/gin"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// GamificationHandler serves XP, badges, the leaderboard and the score calculator
type GamificationHandler struct {
	gamificationService services.GamificationServiceInterface
	logger              *observability.Logger
}

// NewGamificationHandler creates a new GamificationHandler
func NewGamificationHandler(gamificationService services.GamificationServiceInterface, logger *observability.Logger) *GamificationHandler {
	return &GamificationHandler{gamificationService: gamificationService, logger: logger}
}

// GetProgress returns the caller's XP, level, streak, badges and rank
func (h *GamificationHandler) GetProgress(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_progress")
	defer observability.FinishSpan(span, nil)

	progress, err := h.gamificationService.GetProgress(ctx, currentUser(c).ID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// ListBadges returns the badge catalogue
func (h *GamificationHandler) ListBadges(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "list_badges")
	defer observability.FinishSpan(span, nil)

	badges, err := h.gamificationService.ListBadges(ctx)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"badges": badges})
}

// GetLeaderboard returns the top users by XP
func (h *GamificationHandler) GetLeaderboard(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_leaderboard")
	defer observability.FinishSpan(span, nil)

	limit := ParseLimit(c, defaultLeaderboardLimit, maxLeaderboardLimit)
	span.SetAttributes(observability.AttributeLimit(limit))

	entries, err := h.gamificationService.GetLeaderboard(ctx, limit)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

// Aggregate combines sub-scores into an overall score with the standard weights.
// Out of range inputs are clamped.
func (h *GamificationHandler) Aggregate(c *gin.Context) {
	var req models.AggregateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleBindError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.AggregateResponse{
		Overall: scoring.Aggregate(req.Content, req.Emotion, req.Speech, req.Facial),
		Weights: map[string]float64{
			"content": scoring.ContentWeight,
			"emotion": scoring.EmotionWeight,
			"speech":  scoring.SpeechWeight,
			"facial":  scoring.FacialWeight,
		},
	})
}
