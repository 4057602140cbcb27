package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"assessapp/internal/config"
	"assessapp/internal/models"
	"assessapp/internal/observability"
	contextutils "assessapp/internal/utils"

	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/mail.v2"
)

// Notifier tells users about achievements outside the app
type Notifier interface {
	BadgeEarned(ctx context.Context, user *models.User, badge models.Badge) error
	LevelUp(ctx context.Context, user *models.User, level int) error
}

// MessageSender delivers a composed message; *mail.Dialer satisfies it
type MessageSender interface {
	DialAndSend(m ...*mail.Message) error
}

// EmailNotifier sends achievement emails over SMTP
type EmailNotifier struct {
	cfg    config.EmailConfig
	sender MessageSender
	logger *observability.Logger
}

var _ Notifier = (*EmailNotifier)(nil)

// NewEmailNotifier creates a notifier. It sends nothing unless email is enabled
// and an SMTP host is configured.
func NewEmailNotifier(cfg config.EmailConfig, logger *observability.Logger) *EmailNotifier {
	n := &EmailNotifier{cfg: cfg, logger: logger}
	if cfg.Enabled && cfg.SMTP.Host != "" {
		n.sender = mail.NewDialer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password)
	}
	return n
}

// NewEmailNotifierWithSender creates an enabled notifier over a custom sender
func NewEmailNotifierWithSender(cfg config.EmailConfig, sender MessageSender, logger *observability.Logger) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, sender: sender, logger: logger}
}

// IsEnabled reports whether messages are actually sent
func (n *EmailNotifier) IsEnabled() bool {
	return n.cfg.Enabled && n.sender != nil
}

var (
	badgeEarnedTemplate = template.Must(template.New("badge_earned").Parse(`<html><body>
<h2>You earned a badge, {{.Username}}!</h2>
<p><strong>{{.BadgeName}}</strong>: {{.Description}}</p>
<p>Keep going to unlock the next one.</p>
</body></html>`))

	levelUpTemplate = template.Must(template.New("level_up").Parse(`<html><body>
<h2>Level {{.Level}} reached!</h2>
<p>Nice work, {{.Username}}. You now have the experience of a level {{.Level}} learner.</p>
</body></html>`))
)

// BadgeEarned emails the user about a new badge
func (n *EmailNotifier) BadgeEarned(ctx context.Context, user *models.User, badge models.Badge) error {
	return n.send(ctx, user, "badge_earned", fmt.Sprintf("New badge: %s", badge.Name), badgeEarnedTemplate, map[string]interface{}{
		"Username":    user.Username,
		"BadgeName":   badge.Name,
		"Description": badge.Description,
	})
}

// LevelUp emails the user about reaching a new level
func (n *EmailNotifier) LevelUp(ctx context.Context, user *models.User, level int) error {
	return n.send(ctx, user, "level_up", fmt.Sprintf("You reached level %d", level), levelUpTemplate, map[string]interface{}{
		"Username": user.Username,
		"Level":    level,
	})
}

func (n *EmailNotifier) send(ctx context.Context, user *models.User, templateName, subject string, tmpl *template.Template, data map[string]interface{}) (err error) {
	ctx, span := observability.TraceFunction(ctx, "notifier", "send",
		attribute.String("email.template", templateName),
		observability.AttributeUserID(user.ID),
	)
	defer observability.FinishSpan(span, &err)

	if !n.IsEnabled() {
		return nil
	}
	if user.Email == nil || *user.Email == "" {
		n.logger.Debug(ctx, "User has no email address, skipping notification", map[string]interface{}{
			"user_id":  user.ID,
			"template": templateName,
		})
		return nil
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return contextutils.WrapError(err, "failed to render email")
	}

	m := mail.NewMessage()
	m.SetHeader("From", m.FormatAddress(n.cfg.SMTP.FromAddress, n.cfg.SMTP.FromName))
	m.SetHeader("To", *user.Email)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body.String())

	if err = n.sender.DialAndSend(m); err != nil {
		n.logger.Error(ctx, "Failed to send email", err, map[string]interface{}{
			"user_id":  user.ID,
			"template": templateName,
		})
		return contextutils.WrapError(err, "failed to send email")
	}

	n.logger.Info(ctx, "Email sent successfully", map[string]interface{}{
		"user_id":  user.ID,
		"template": templateName,
		"subject":  subject,
	})
	return nil
}
