// Package services implements the operations behind the HTTP API: taking
// tests, AI-assisted assessment, learning modules, gamification and accounts.
package services

import (
	"context"
	"strings"
	"time"

	"assessapp/internal/models"
	"assessapp/internal/storage"
)

// ActivityPublisher receives the events shown in the live dashboard feed
type ActivityPublisher interface {
	Publish(ctx context.Context, event models.ActivityEvent)
}

// ConnectionRevoker drops the live connections a user holds
type ConnectionRevoker interface {
	DisconnectUser(userID uint) int
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, models.ActivityEvent) {}

func publisherOrNoop(p ActivityPublisher) ActivityPublisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func intPtr(v int) *int {
	return &v
}

func boolPtr(v bool) *bool {
	return &v
}

// publishActivity emits a feed event for userID, prefixing message with the
// username when it can be resolved
func publishActivity(ctx context.Context, store storage.Store, activity ActivityPublisher, userID uint, eventType, message string, at time.Time) {
	username := ""
	if user, err := store.GetUserByID(ctx, userID); err == nil {
		username = user.Username
	}
	activity.Publish(ctx, models.ActivityEvent{
		Type:     eventType,
		UserID:   userID,
		Username: username,
		Message:  strings.TrimSpace(username + " " + message),
		At:       at,
	})
}
