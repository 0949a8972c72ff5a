package services

import (
	"context"
	"fmt"

	"cactus/internal/config"
	"cactus/internal/models"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type EmailService struct {
	apiKey    string
	host      string
	fromEmail string
	fromName  string
}

func NewEmailService(cfg config.EmailConfig) *EmailService {
	return &EmailService{
		apiKey:    cfg.APIKey,
		host:      cfg.Host,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
	}
}

// Enabled reports whether an API key and sender are configured
func (s *EmailService) Enabled() bool {
	return s != nil && s.apiKey != "" && s.fromEmail != ""
}

// SendUpdateReminder tells a member the group's update window closes soon
func (s *EmailService) SendUpdateReminder(ctx context.Context, user models.User, groupName, groupEmoji string, closesAt string) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	name := user.Name
	if name == "" {
		name = user.Email
	}
	to := mail.NewEmail(name, user.Email)
	subject := fmt.Sprintf("%s update reminder for %s", groupEmoji, groupName)
	plainContent := fmt.Sprintf("Hi %s, updates for %s are due in an hour (%s). Don't forget to post.",
		name, groupName, closesAt)
	htmlContent := fmt.Sprintf("<p>Hi %s,</p><p>Updates for <strong>%s</strong> are due in an hour (%s).</p><p>Don't forget to post.</p>",
		name, groupName, closesAt)

	message := mail.NewSingleEmail(from, subject, to, plainContent, htmlContent)
	return s.send(ctx, user.Email, message)
}

func (s *EmailService) send(ctx context.Context, recipient string, message *mail.SGMailV3) error {
	request := sendgrid.GetRequest(s.apiKey, "/v3/mail/send", s.host)
	request.Method = "POST"
	request.Body = mail.GetRequestBody(message)

	response, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", recipient, err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("failed to send email to %s: %d", recipient, response.StatusCode)
	}
	return nil
}
