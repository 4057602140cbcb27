package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"assessapp/internal/models"
	"assessapp/internal/observability"
	"assessapp/internal/storage"
	contextutils "assessapp/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// XP rewards
const (
	XPMultipleChoiceCorrect = 10
	XPAttemptCompleted      = 50
	XPAttemptPassed         = 50
)

// OpenAnswerXP is the reward for a scored open-ended answer
func OpenAnswerXP(score int) int {
	if score <= 0 {
		return 0
	}
	return score / 10
}

// QuizXP scales a quiz's reward by the submission's score
func QuizXP(reward, score int) int {
	if reward <= 0 || score <= 0 {
		return 0
	}
	return reward * score / 100
}

// Level returns the level reached with xp: 1 + floor(sqrt(xp/100))
func Level(xp int) int {
	if xp <= 0 {
		return 1
	}
	return 1 + int(math.Floor(math.Sqrt(float64(xp)/100)))
}

// XPForLevel is the total XP needed to reach level n
func XPForLevel(n int) int {
	if n <= 1 {
		return 0
	}
	return 100 * (n - 1) * (n - 1)
}

// LevelProgress is the percentage of the way from the current level to the next
func LevelProgress(xp int) int {
	level := Level(xp)
	floor, next := XPForLevel(level), XPForLevel(level+1)
	if next <= floor {
		return 0
	}
	return (xp - floor) * 100 / (next - floor)
}

// ApplyStreak records activity at now on stats. Days are UTC calendar days:
// a second activity on the same day changes nothing, the next day extends the
// streak and a longer gap restarts it at 1.
func ApplyStreak(stats *models.UserStats, now time.Time) {
	today := contextutils.DayUTC(now)
	switch {
	case stats.LastActivityDate == nil || stats.CurrentStreak == 0:
		stats.CurrentStreak = 1
	default:
		switch days := contextutils.DaysBetween(*stats.LastActivityDate, today); {
		case days <= 0:
			return
		case days == 1:
			stats.CurrentStreak++
		default:
			stats.CurrentStreak = 1
		}
	}
	if stats.CurrentStreak > stats.LongestStreak {
		stats.LongestStreak = stats.CurrentStreak
	}
	stats.LastActivityDate = &today
}

// EffectiveStreak is the streak as of now: 0 once a full day passed without activity
func EffectiveStreak(stats *models.UserStats, now time.Time) int {
	if stats.LastActivityDate == nil {
		return 0
	}
	if contextutils.DaysBetween(*stats.LastActivityDate, now) > 1 {
		return 0
	}
	return stats.CurrentStreak
}

// DefaultBadges is the badge catalog seeded into every database
func DefaultBadges() []models.Badge {
	return []models.Badge{
		{Code: "first_attempt", Name: "First Steps", Description: "Complete your first test", Icon: "flag", CriteriaType: models.CriteriaAttemptsCompleted, Threshold: 1},
		{Code: "tests_5", Name: "Test Taker", Description: "Complete five tests", Icon: "clipboard", CriteriaType: models.CriteriaAttemptsCompleted, Threshold: 5},
		{Code: "perfect_score", Name: "Perfectionist", Description: "Score 100 on a test", Icon: "star", CriteriaType: models.CriteriaPerfectScore, Threshold: 100},
		{Code: "streak_3", Name: "On a Roll", Description: "Stay active three days in a row", Icon: "flame", CriteriaType: models.CriteriaStreak, Threshold: 3},
		{Code: "streak_7", Name: "Week Warrior", Description: "Stay active seven days in a row", Icon: "fire", CriteriaType: models.CriteriaStreak, Threshold: 7},
		{Code: "xp_500", Name: "Rising Star", Description: "Earn 500 XP", Icon: "trending", CriteriaType: models.CriteriaXP, Threshold: 500},
		{Code: "xp_2000", Name: "Expert", Description: "Earn 2000 XP", Icon: "trophy", CriteriaType: models.CriteriaXP, Threshold: 2000},
		{Code: "lessons_10", Name: "Bookworm", Description: "Complete ten lessons", Icon: "book", CriteriaType: models.CriteriaLessonsCompleted, Threshold: 10},
		{Code: "video_star", Name: "Video Star", Description: "Score 90 or more on a video response", Icon: "video", CriteriaType: models.CriteriaVideoScore, Threshold: 90},
		{Code: "quiz_master", Name: "Quiz Master", Description: "Complete ten quizzes", Icon: "check", CriteriaType: models.CriteriaQuizzesCompleted, Threshold: 10},
	}
}

// Achievement is something a user just did that earns XP and may earn badges
type Achievement struct {
	Type             string
	XP               int
	AttemptCompleted bool
	LessonCompleted  bool
	QuizCompleted    bool
	// AttemptScore is set for completed attempts
	AttemptScore *int
	// VideoScore is the best video response overall in this event
	VideoScore *int
}

// AwardResult reports what an achievement changed
type AwardResult struct {
	XPGained  int              `json:"xp_gained"`
	Stats     models.UserStats `json:"stats"`
	LeveledUp bool             `json:"leveled_up"`
	NewBadges []models.Badge   `json:"new_badges,omitempty"`
}

// GamificationServiceInterface defines XP, streak, badge and leaderboard operations
type GamificationServiceInterface interface {
	Record(ctx context.Context, userID uint, a Achievement) (*AwardResult, error)
	GetProgress(ctx context.Context, userID uint) (*models.UserProgress, error)
	ListBadges(ctx context.Context) ([]models.Badge, error)
	GetLeaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
	RefreshLeaderboard(ctx context.Context) (int, error)
	GetRank(ctx context.Context, userID uint) (int, error)
	SeedBadges(ctx context.Context) error
}

// GamificationService keeps user stats, awards badges and maintains the leaderboard
type GamificationService struct {
	store    storage.Store
	notifier Notifier
	activity ActivityPublisher
	logger   *observability.Logger
	now      func() time.Time
}

var _ GamificationServiceInterface = (*GamificationService)(nil)

// NewGamificationServiceWithLogger creates a gamification service. notifier
// and activity may be nil.
func NewGamificationServiceWithLogger(store storage.Store, notifier Notifier, activity ActivityPublisher, logger *observability.Logger) *GamificationService {
	return &GamificationService{
		store:    store,
		notifier: notifier,
		activity: publisherOrNoop(activity),
		logger:   logger,
		now:      utcNow,
	}
}

// Record applies an achievement: extends the streak, adds XP, recomputes the
// level, bumps counters and then awards any badges the new state qualifies for
func (s *GamificationService) Record(ctx context.Context, userID uint, a Achievement) (result0 *AwardResult, err error) {
	ctx, span := observability.TraceGamificationFunction(ctx, "Record",
		observability.AttributeUserID(userID),
		attribute.String("achievement.type", a.Type),
		attribute.Int("achievement.xp", a.XP),
	)
	defer observability.FinishSpan(span, &err)

	now := s.now()
	xp := a.XP
	if xp < 0 {
		xp = 0
	}

	var oldLevel int
	stats, err := s.store.UpdateUserStats(ctx, userID, func(st *models.UserStats) error {
		oldLevel = st.Level
		if oldLevel < 1 {
			oldLevel = 1
		}
		ApplyStreak(st, now)
		st.XP += xp
		st.Level = Level(st.XP)
		if a.AttemptCompleted {
			st.TestsCompleted++
		}
		if a.LessonCompleted {
			st.LessonsCompleted++
		}
		if a.QuizCompleted {
			st.QuizzesCompleted++
		}
		return nil
	})
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to update user stats")
	}

	result := &AwardResult{XPGained: xp, Stats: *stats, LeveledUp: stats.Level > oldLevel}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	result.NewBadges, err = s.awardBadges(ctx, user, stats, a, now)
	if err != nil {
		return nil, err
	}

	if result.LeveledUp {
		s.activity.Publish(ctx, models.ActivityEvent{
			Type:     models.ActivityLevelUp,
			UserID:   userID,
			Username: user.Username,
			Message:  fmt.Sprintf("%s reached level %d", user.Username, stats.Level),
			At:       now,
		})
		s.notify(ctx, func(ctx context.Context) error { return s.notifier.LevelUp(ctx, user, stats.Level) })
	}

	s.logger.Debug(ctx, "Achievement recorded", map[string]interface{}{
		"user_id":    userID,
		"type":       a.Type,
		"xp":         xp,
		"total_xp":   stats.XP,
		"level":      stats.Level,
		"new_badges": len(result.NewBadges),
	})
	return result, nil
}

func (s *GamificationService) awardBadges(ctx context.Context, user *models.User, stats *models.UserStats, a Achievement, now time.Time) ([]models.Badge, error) {
	badges, err := s.store.ListBadges(ctx)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to list badges")
	}

	var earned []models.Badge
	for _, b := range badges {
		if !qualifies(b, stats, a) {
			continue
		}
		awarded, err := s.store.AwardBadge(ctx, user.ID, b.ID, now)
		if err != nil {
			return earned, contextutils.WrapErrorf(err, "failed to award badge %s", b.Code)
		}
		if !awarded {
			continue
		}
		earned = append(earned, b)

		badge := b
		s.activity.Publish(ctx, models.ActivityEvent{
			Type:     models.ActivityBadgeEarned,
			UserID:   user.ID,
			Username: user.Username,
			Message:  fmt.Sprintf("%s earned the %s badge", user.Username, badge.Name),
			At:       now,
		})
		s.notify(ctx, func(ctx context.Context) error { return s.notifier.BadgeEarned(ctx, user, badge) })
	}
	return earned, nil
}

func qualifies(b models.Badge, stats *models.UserStats, a Achievement) bool {
	switch b.CriteriaType {
	case models.CriteriaAttemptsCompleted:
		return stats.TestsCompleted >= b.Threshold
	case models.CriteriaPerfectScore:
		return a.AttemptScore != nil && *a.AttemptScore >= b.Threshold
	case models.CriteriaStreak:
		return stats.CurrentStreak >= b.Threshold
	case models.CriteriaXP:
		return stats.XP >= b.Threshold
	case models.CriteriaLessonsCompleted:
		return stats.LessonsCompleted >= b.Threshold
	case models.CriteriaVideoScore:
		return a.VideoScore != nil && *a.VideoScore >= b.Threshold
	case models.CriteriaQuizzesCompleted:
		return stats.QuizzesCompleted >= b.Threshold
	}
	return false
}

// notify sends a notification without holding up the request. Failures are logged.
func (s *GamificationService) notify(ctx context.Context, send func(ctx context.Context) error) {
	if s.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := send(ctx); err != nil {
			s.logger.Warn(ctx, "Failed to send notification", map[string]interface{}{"error": err.Error()})
		}
	}()
}

// GetProgress returns the user's XP, level, streak, badges, history and rank
func (s *GamificationService) GetProgress(ctx context.Context, userID uint) (result0 *models.UserProgress, err error) {
	ctx, span := observability.TraceGamificationFunction(ctx, "GetProgress", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	stats, err := s.store.GetOrCreateUserStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	badges, err := s.store.ListUserBadges(ctx, userID)
	if err != nil {
		return nil, err
	}
	summary, err := s.store.GetUserStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	rank, err := s.store.GetUserRank(ctx, userID)
	if err != nil {
		return nil, err
	}
	if badges == nil {
		badges = []models.UserBadge{}
	}

	level := Level(stats.XP)
	return &models.UserProgress{
		XP:            stats.XP,
		Level:         level,
		NextLevelXP:   XPForLevel(level + 1),
		LevelProgress: LevelProgress(stats.XP),
		CurrentStreak: EffectiveStreak(stats, s.now()),
		LongestStreak: stats.LongestStreak,
		Rank:          rank,
		Badges:        badges,
		Stats:         *summary,
	}, nil
}

// ListBadges returns the badge catalog
func (s *GamificationService) ListBadges(ctx context.Context) ([]models.Badge, error) {
	return s.store.ListBadges(ctx)
}

// GetLeaderboard returns the top entries of the last recomputed leaderboard
func (s *GamificationService) GetLeaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	return s.store.ListLeaderboard(ctx, limit)
}

// RefreshLeaderboard recomputes the leaderboard from user stats
func (s *GamificationService) RefreshLeaderboard(ctx context.Context) (result0 int, err error) {
	ctx, span := observability.TraceGamificationFunction(ctx, "RefreshLeaderboard")
	defer observability.FinishSpan(span, &err)

	n, err := s.store.RecomputeLeaderboard(ctx, s.now())
	if err != nil {
		return 0, contextutils.WrapError(err, "failed to recompute leaderboard")
	}
	span.SetAttributes(attribute.Int("leaderboard.entries", n))
	return n, nil
}

// GetRank returns the user's live rank
func (s *GamificationService) GetRank(ctx context.Context, userID uint) (int, error) {
	return s.store.GetUserRank(ctx, userID)
}

// SeedBadges inserts or refreshes the default badge catalog
func (s *GamificationService) SeedBadges(ctx context.Context) (err error) {
	ctx, span := observability.TraceGamificationFunction(ctx, "SeedBadges")
	defer observability.FinishSpan(span, &err)

	badges := DefaultBadges()
	if err := s.store.UpsertBadges(ctx, badges); err != nil {
		return contextutils.WrapError(err, "failed to seed badges")
	}
	s.logger.Info(ctx, "Badge catalog seeded", map[string]interface{}{"count": len(badges)})
	return nil
}
