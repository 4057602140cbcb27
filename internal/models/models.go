// Package models defines the gorm-mapped tables of the assessment backend and
// the request and response types exchanged over the HTTP API.
package models

import "time"

// Role is a user's authorization role
type Role string

// Roles supported by the system
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User represents an account. Email is optional and unique when present.
type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Username     string     `gorm:"size:64;uniqueIndex;not null" json:"username"`
	Email        *string    `gorm:"size:255;uniqueIndex" json:"email,omitempty"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Role         Role       `gorm:"size:16;not null;default:user" json:"role"`
	Timezone     string     `gorm:"size:64" json:"timezone,omitempty"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsAdmin reports whether the user has the admin role
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// All returns every table model in dependency order, for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Topic{},
		&Test{},
		&Question{},
		&Attempt{},
		&Answer{},
		&LearningModule{},
		&Lesson{},
		&LessonProgress{},
		&Quiz{},
		&QuizQuestion{},
		&QuizResult{},
		&Badge{},
		&UserBadge{},
		&UserStats{},
		&LeaderboardEntry{},
	}
}
