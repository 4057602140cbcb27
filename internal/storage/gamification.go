package storage

import (
	"context"
	"time"

	"assessapp/internal/models"
	"assessapp/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertBadges inserts the badge catalog, updating existing badges by code
func (s *GormStore) UpsertBadges(ctx context.Context, badges []models.Badge) error {
	if len(badges) == 0 {
		return nil
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "icon", "criteria_type", "threshold"}),
	}).Create(&badges).Error
	return mapError(err, "badges")
}

// ListBadges returns the badge catalog
func (s *GormStore) ListBadges(ctx context.Context) ([]models.Badge, error) {
	var badges []models.Badge
	return badges, mapError(s.conn(ctx).Order("id").Find(&badges).Error, "badges")
}

// AwardBadge gives a badge to a user. It reports false when the user already
// had it.
func (s *GormStore) AwardBadge(ctx context.Context, userID, badgeID uint, at time.Time) (bool, error) {
	ub := models.UserBadge{UserID: userID, BadgeID: badgeID, AwardedAt: at.UTC()}
	res := s.conn(ctx).Omit("Badge").Clauses(clause.OnConflict{DoNothing: true}).Create(&ub)
	if res.Error != nil {
		return false, mapError(res.Error, "user badge")
	}
	return res.RowsAffected > 0, nil
}

// ListUserBadges returns a user's badges with their definitions, oldest first
func (s *GormStore) ListUserBadges(ctx context.Context, userID uint) ([]models.UserBadge, error) {
	var rows []models.UserBadge
	err := s.conn(ctx).Preload("Badge").Where("user_id = ?", userID).Order("awarded_at, id").Find(&rows).Error
	return rows, mapError(err, "user badges")
}

// GetOrCreateUserStats returns the user's stats row, creating it on first use
func (s *GormStore) GetOrCreateUserStats(ctx context.Context, userID uint) (*models.UserStats, error) {
	stats := models.UserStats{UserID: userID, Level: 1}
	err := s.conn(ctx).Where(models.UserStats{UserID: userID}).FirstOrCreate(&stats).Error
	if err != nil {
		return nil, mapError(err, "user stats")
	}
	return &stats, nil
}

// UpdateUserStats applies fn to the user's stats row inside a transaction
// holding a row lock, then saves it
func (s *GormStore) UpdateUserStats(ctx context.Context, userID uint, fn func(stats *models.UserStats) error) (result0 *models.UserStats, err error) {
	ctx, span := observability.TraceStorageFunction(ctx, "UpdateUserStats", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	var stats models.UserStats
	err = s.transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.UserStats{UserID: userID, Level: 1}).Error; err != nil {
			return err
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).First(&stats).Error; err != nil {
			return err
		}
		if err := fn(&stats); err != nil {
			return err
		}
		return tx.Save(&stats).Error
	})
	if err != nil {
		return nil, mapError(err, "user stats")
	}
	return &stats, nil
}

type leaderboardRow struct {
	UserID   uint
	Username string
	XP       int
	Level    int
}

// RecomputeLeaderboard rebuilds leaderboard_entries from user_stats. Users are
// ordered by XP descending then user id; users with equal XP share a rank.
func (s *GormStore) RecomputeLeaderboard(ctx context.Context, now time.Time) (result0 int, err error) {
	ctx, span := observability.TraceStorageFunction(ctx, "RecomputeLeaderboard")
	defer observability.FinishSpan(span, &err)

	var rows []leaderboardRow
	err = s.transaction(ctx, func(tx *gorm.DB) error {
		err := tx.Table("users").
			Select("users.id AS user_id, users.username, COALESCE(user_stats.xp, 0) AS xp, COALESCE(user_stats.level, 1) AS level").
			Joins("LEFT JOIN user_stats ON user_stats.user_id = users.id").
			Order("xp DESC, users.id ASC").
			Scan(&rows).Error
		if err != nil {
			return err
		}

		if err := tx.Where("1 = 1").Delete(&models.LeaderboardEntry{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		entries := make([]models.LeaderboardEntry, len(rows))
		rank := 0
		for i, r := range rows {
			if i == 0 || r.XP != rows[i-1].XP {
				rank = i + 1
			}
			entries[i] = models.LeaderboardEntry{
				UserID:      r.UserID,
				Username:    r.Username,
				XP:          r.XP,
				Level:       r.Level,
				Rank:        rank,
				RefreshedAt: now.UTC(),
			}
		}
		return tx.CreateInBatches(entries, 500).Error
	})
	if err != nil {
		return 0, mapError(err, "leaderboard")
	}

	span.SetAttributes(attribute.Int("leaderboard.entries", len(rows)))
	s.logger.Info(ctx, "Leaderboard recomputed", map[string]interface{}{"entries": len(rows)})
	return len(rows), nil
}

// ListLeaderboard returns the top entries of the materialized leaderboard
func (s *GormStore) ListLeaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	var entries []models.LeaderboardEntry
	err := s.conn(ctx).Order("rank, user_id").Limit(clampLimit(limit, 10, 100)).Find(&entries).Error
	return entries, mapError(err, "leaderboard")
}
