package resend

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"

	"gainable/config"
	"gainable/providers"
)

// Mailer sends transactional email through Resend.
type Mailer struct {
	Config *config.Config
	Logger *zap.Logger
	client *resend.Client
}

// NewMailer creates a Resend-backed mailer.
func NewMailer(cfg *config.Config, logger *zap.Logger) *Mailer {
	return &Mailer{Config: cfg, Logger: logger, client: resend.NewClient(cfg.ResendAPIKey)}
}

// Send hands the message to Resend and returns its message ID.
func (m *Mailer) Send(ctx context.Context, msg providers.Email) (string, error) {
	if len(msg.To) == 0 {
		return "", fmt.Errorf("email %q has no recipient", msg.Subject)
	}
	req := &resend.SendEmailRequest{
		From:    m.Config.MailFrom,
		To:      msg.To,
		Cc:      msg.Cc,
		ReplyTo: msg.ReplyTo,
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	}
	for _, a := range msg.Attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Content:  a.Content,
			Filename: a.Filename,
		})
	}

	sent, err := m.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("resend: %w", err)
	}
	m.Logger.Debug("Email accepted", zap.String("id", sent.Id), zap.Strings("to", msg.To))
	return sent.Id, nil
}
