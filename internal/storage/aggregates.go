package storage

import (
	"context"
	"database/sql"
	"time"

	"assessapp/internal/models"
	"assessapp/internal/observability"
	contextutils "assessapp/internal/utils"
)

// GetUserStats summarizes a user's assessment and learning history
func (s *GormStore) GetUserStats(ctx context.Context, userID uint) (result0 *models.UserStatsSummary, err error) {
	ctx, span := observability.TraceStorageFunction(ctx, "GetUserStats", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	db := s.conn(ctx)
	summary := &models.UserStatsSummary{}

	if err := db.Model(&models.Attempt{}).Where("user_id = ?", userID).Count(&summary.Attempts).Error; err != nil {
		return nil, mapError(err, "attempts")
	}

	var scores struct {
		Completed int64
		Average   sql.NullFloat64
		Best      sql.NullInt64
	}
	err = db.Model(&models.Attempt{}).
		Select("COUNT(*) AS completed, AVG(score) AS average, MAX(score) AS best").
		Where("user_id = ? AND status = ?", userID, models.AttemptCompleted).
		Scan(&scores).Error
	if err != nil {
		return nil, mapError(err, "attempts")
	}
	summary.Completed = scores.Completed
	if scores.Average.Valid {
		summary.AverageScore = roundTenth(scores.Average.Float64)
	}
	if scores.Best.Valid {
		summary.BestScore = int(scores.Best.Int64)
	}

	err = db.Model(&models.Answer{}).
		Where("user_id = ? AND status = ?", userID, models.AnswerScored).
		Count(&summary.AnswersScored).Error
	if err != nil {
		return nil, mapError(err, "answers")
	}

	err = db.Model(&models.LessonProgress{}).
		Where("user_id = ? AND status = ?", userID, models.LessonCompleted).
		Count(&summary.LessonsCompleted).Error
	if err != nil {
		return nil, mapError(err, "lesson progress")
	}

	err = db.Model(&models.QuizResult{}).
		Where("user_id = ?", userID).
		Distinct("quiz_id").
		Count(&summary.QuizzesCompleted).Error
	if err != nil {
		return nil, mapError(err, "quiz results")
	}

	return summary, nil
}

// GetUserRank returns 1 plus the number of users with strictly more XP, so
// users with equal XP share a rank
func (s *GormStore) GetUserRank(ctx context.Context, userID uint) (int, error) {
	db := s.conn(ctx)

	var xp int64
	var stats models.UserStats
	res := db.Where("user_id = ?", userID).Limit(1).Find(&stats)
	if res.Error != nil {
		return 0, mapError(res.Error, "user stats")
	}
	if res.RowsAffected > 0 {
		xp = int64(stats.XP)
	}

	var ahead int64
	if err := db.Model(&models.UserStats{}).Where("xp > ?", xp).Count(&ahead).Error; err != nil {
		return 0, mapError(err, "user stats")
	}
	return int(ahead) + 1, nil
}

// GetDashboardCounts returns the storage-derived numbers of the live dashboard
func (s *GormStore) GetDashboardCounts(ctx context.Context, now time.Time) (result0 *models.DashboardCounts, err error) {
	ctx, span := observability.TraceStorageFunction(ctx, "GetDashboardCounts")
	defer observability.FinishSpan(span, &err)

	db := s.conn(ctx)
	now = now.UTC()
	counts := &models.DashboardCounts{}

	if err := db.Model(&models.User{}).Count(&counts.TotalUsers).Error; err != nil {
		return nil, mapError(err, "users")
	}
	if err := db.Model(&models.Attempt{}).Where("status = ?", models.AttemptInProgress).Count(&counts.ActiveAttempts).Error; err != nil {
		return nil, mapError(err, "attempts")
	}
	err = db.Model(&models.Answer{}).
		Where("created_at >= ?", contextutils.HourAgo(now)).
		Count(&counts.AnswersLastHour).Error
	if err != nil {
		return nil, mapError(err, "answers")
	}
	err = db.Model(&models.Attempt{}).
		Where("status = ? AND completed_at >= ?", models.AttemptCompleted, contextutils.DayUTC(now)).
		Count(&counts.CompletedToday).Error
	if err != nil {
		return nil, mapError(err, "attempts")
	}
	return counts, nil
}

func roundTenth(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
