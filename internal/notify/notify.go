// Package notify tells operators about transactions that could not be applied.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/OpenNSW/edibridge/internal/config"
	"github.com/mailgun/mailgun-go/v4"
)

// Failure describes one failed transaction.
type Failure struct {
	FileName      string    `json:"fileName"`
	SetID         string    `json:"setId"`
	ControlNumber string    `json:"controlNumber"`
	Kind          string    `json:"kind"`
	Message       string    `json:"message"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Subject is the one-line summary used for the notification.
func (f Failure) Subject() string {
	return fmt.Sprintf("%s error in %s (%s #%s)", f.Kind, f.FileName, f.SetID, f.ControlNumber)
}

// Body is the plain-text notification body.
func (f Failure) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", f.FileName)
	fmt.Fprintf(&b, "Transaction set: %s\n", f.SetID)
	fmt.Fprintf(&b, "Control number: %s\n", f.ControlNumber)
	fmt.Fprintf(&b, "Error kind: %s\n", f.Kind)
	fmt.Fprintf(&b, "Occurred at: %s\n\n", f.OccurredAt.UTC().Format(time.RFC3339))
	b.WriteString(f.Message)
	b.WriteString("\n")
	return b.String()
}

// Notifier delivers failure notifications.
type Notifier interface {
	Notify(ctx context.Context, f Failure) error
}

// New picks a notifier from configuration. Incomplete mailgun settings fall
// back to logging.
func New(cfg config.NotifyConfig) Notifier {
	switch cfg.Provider {
	case "mailgun":
		if cfg.MailgunDomain == "" || cfg.MailgunAPIKey == "" || cfg.SenderEmail == "" || len(cfg.Recipients) == 0 {
			slog.Warn("mailgun configuration incomplete (domain, API key, sender or recipients missing), falling back to log notifier")
			return &LogNotifier{}
		}
		mg := mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey)
		slog.Info("mailgun notifier initialized", "domain", cfg.MailgunDomain, "recipients", len(cfg.Recipients))
		return NewMailgunNotifier(mg, cfg.SenderEmail, cfg.Recipients, cfg.SubjectPrefix)
	case "log", "":
		return &LogNotifier{}
	default:
		slog.Warn("unknown notify provider, falling back to log notifier", "provider", cfg.Provider)
		return &LogNotifier{}
	}
}

// LogNotifier writes failures to the structured log.
type LogNotifier struct{}

func (n *LogNotifier) Notify(ctx context.Context, f Failure) error {
	slog.ErrorContext(ctx, "transaction failed",
		"file", f.FileName,
		"set", f.SetID,
		"control", f.ControlNumber,
		"kind", f.Kind,
		"error", f.Message,
	)
	return nil
}

// mailSender is the part of mailgun.Mailgun used here.
type mailSender interface {
	NewMessage(from, subject, text string, to ...string) *mailgun.Message
	Send(ctx context.Context, m *mailgun.Message) (string, string, error)
}

// MailgunNotifier emails failures through Mailgun.
type MailgunNotifier struct {
	mg            mailSender
	sender        string
	recipients    []string
	subjectPrefix string
}

func NewMailgunNotifier(mg mailSender, sender string, recipients []string, subjectPrefix string) *MailgunNotifier {
	return &MailgunNotifier{mg: mg, sender: sender, recipients: recipients, subjectPrefix: subjectPrefix}
}

func (n *MailgunNotifier) Notify(ctx context.Context, f Failure) error {
	subject := f.Subject()
	if n.subjectPrefix != "" {
		subject = n.subjectPrefix + " " + subject
	}
	message := n.mg.NewMessage(n.sender, subject, f.Body(), n.recipients...)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, id, err := n.mg.Send(ctx, message)
	if err != nil {
		slog.ErrorContext(ctx, "failed to send failure notification via mailgun", "error", err, "file", f.FileName)
		return fmt.Errorf("failed to send notification via mailgun: %w", err)
	}
	slog.InfoContext(ctx, "failure notification sent via mailgun", "file", f.FileName, "id", id, "response", resp)
	return nil
}
