// Package mailer delivers plain notification emails.
package mailer

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// ErrNoRecipients is returned when a message has nobody to deliver to.
var ErrNoRecipients = errors.New("mailer: message has no recipients")

// Address is a named mailbox.
type Address struct {
	Name  string
	Email string
}

// Attachment is a file sent alongside a message. Content is base64 encoded.
type Attachment struct {
	Filename    string
	ContentType string
	Content     string
}

// Message is an outgoing email.
type Message struct {
	To          []Address
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Mailer sends messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

func validate(msg Message) error {
	for _, to := range msg.To {
		if strings.TrimSpace(to.Email) != "" {
			return nil
		}
	}
	return ErrNoRecipients
}

// LogMailer writes messages to the logger instead of delivering them. Used
// when mail is disabled.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// Send logs the message envelope.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	recipients := make([]string, 0, len(msg.To))
	for _, to := range msg.To {
		recipients = append(recipients, to.Email)
	}
	m.logger.Info("mail suppressed",
		zap.Strings("to", recipients),
		zap.String("subject", msg.Subject),
		zap.Int("attachments", len(msg.Attachments)),
	)
	return nil
}
