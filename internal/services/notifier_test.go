package services

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"assessapp/internal/config"
	"assessapp/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/mail.v2"
)

type capturingSender struct {
	sent []*mail.Message
	err  error
}

func (c *capturingSender) DialAndSend(m ...*mail.Message) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, m...)
	return nil
}

func emailConfig() config.EmailConfig {
	return config.EmailConfig{
		Enabled: true,
		SMTP:    config.SMTPConfig{Host: "smtp.example.com", Port: 587, FromAddress: "noreply@example.com", FromName: "Assess"},
	}
}

func TestEmailNotifier_BadgeEarned(t *testing.T) {
	sender := &capturingSender{}
	n := NewEmailNotifierWithSender(emailConfig(), sender, testLogger())
	email := "alice@example.com"
	user := &models.User{ID: 1, Username: "alice", Email: &email}

	require.NoError(t, n.BadgeEarned(context.Background(), user, models.Badge{Name: "First Steps", Description: "Complete your first test"}))
	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, []string{"alice@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"New badge: First Steps"}, msg.GetHeader("Subject"))

	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "First Steps")
}

func TestEmailNotifier_SkipsWithoutAddressOrWhenDisabled(t *testing.T) {
	sender := &capturingSender{}
	n := NewEmailNotifierWithSender(emailConfig(), sender, testLogger())
	require.NoError(t, n.LevelUp(context.Background(), &models.User{ID: 2, Username: "bob"}, 3))
	assert.Empty(t, sender.sent)

	disabled := NewEmailNotifier(config.EmailConfig{}, testLogger())
	assert.False(t, disabled.IsEnabled())
	email := "bob@example.com"
	require.NoError(t, disabled.LevelUp(context.Background(), &models.User{ID: 2, Username: "bob", Email: &email}, 3))
}

func TestEmailNotifier_SendFailure(t *testing.T) {
	sender := &capturingSender{err: errors.New("connection refused")}
	n := NewEmailNotifierWithSender(emailConfig(), sender, testLogger())
	email := "alice@example.com"
	err := n.LevelUp(context.Background(), &models.User{ID: 1, Username: "alice", Email: &email}, 2)
	assert.Error(t, err)
}
