package models

import "time"

// BadgeCriteria names the statistic a badge threshold is compared against
type BadgeCriteria string

// Badge criteria
const (
	CriteriaAttemptsCompleted BadgeCriteria = "attempts_completed"
	CriteriaPerfectScore      BadgeCriteria = "perfect_score"
	CriteriaStreak            BadgeCriteria = "streak"
	CriteriaXP                BadgeCriteria = "xp"
	CriteriaLessonsCompleted  BadgeCriteria = "lessons_completed"
	CriteriaVideoScore        BadgeCriteria = "video_score"
	CriteriaQuizzesCompleted  BadgeCriteria = "quizzes_completed"
)

// Badge is an achievement definition from the seeded catalog
type Badge struct {
	ID           uint          `gorm:"primaryKey" json:"id"`
	Code         string        `gorm:"size:64;uniqueIndex;not null" json:"code"`
	Name         string        `gorm:"size:128;not null" json:"name"`
	Description  string        `json:"description"`
	Icon         string        `gorm:"size:64" json:"icon"`
	CriteriaType BadgeCriteria `gorm:"size:32;not null" json:"criteria_type"`
	Threshold    int           `gorm:"not null" json:"threshold"`
}

// UserBadge records that a user earned a badge
type UserBadge struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_user_badges_user_badge" json:"user_id"`
	BadgeID   uint      `gorm:"not null;uniqueIndex:idx_user_badges_user_badge" json:"badge_id"`
	AwardedAt time.Time `gorm:"not null" json:"awarded_at"`
	Badge     Badge     `gorm:"foreignKey:BadgeID" json:"badge"`
}

// UserStats is the per-user gamification state
type UserStats struct {
	UserID           uint       `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	XP               int        `gorm:"not null;default:0;index" json:"xp"`
	Level            int        `gorm:"not null;default:1" json:"level"`
	CurrentStreak    int        `gorm:"not null;default:0" json:"current_streak"`
	LongestStreak    int        `gorm:"not null;default:0" json:"longest_streak"`
	LastActivityDate *time.Time `json:"last_activity_date,omitempty"`
	TestsCompleted   int        `gorm:"not null;default:0" json:"tests_completed"`
	LessonsCompleted int        `gorm:"not null;default:0" json:"lessons_completed"`
	QuizzesCompleted int        `gorm:"not null;default:0" json:"quizzes_completed"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName keeps the plural-less table name used by the migrations
func (UserStats) TableName() string { return "user_stats" }

// LeaderboardEntry is one row of the materialized leaderboard
type LeaderboardEntry struct {
	UserID      uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Username    string    `gorm:"size:64;not null" json:"username"`
	XP          int       `gorm:"not null" json:"xp"`
	Level       int       `gorm:"not null" json:"level"`
	Rank        int       `gorm:"not null;index" json:"rank"`
	RefreshedAt time.Time `gorm:"not null" json:"refreshed_at"`
}

// TableName pins the table name so it matches the migrations
func (LeaderboardEntry) TableName() string { return "leaderboard_entries" }
