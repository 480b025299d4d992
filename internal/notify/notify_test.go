package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/OpenNSW/edibridge/internal/config"
	"github.com/mailgun/mailgun-go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
	impl *mailgun.MailgunImpl
}

func (m *mockSender) NewMessage(from, subject, text string, to ...string) *mailgun.Message {
	m.Called(from, subject, text, to)
	return m.impl.NewMessage(from, subject, text, to...)
}

func (m *mockSender) Send(ctx context.Context, msg *mailgun.Message) (string, string, error) {
	args := m.Called(msg)
	return args.String(0), args.String(1), args.Error(2)
}

func failure() Failure {
	return Failure{
		FileName:      "po_20240101.edi",
		SetID:         "850",
		ControlNumber: "0002",
		Kind:          "business",
		Message:       "order ACM-1 not found",
		OccurredAt:    time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFailure_Text(t *testing.T) {
	f := failure()
	assert.Equal(t, "business error in po_20240101.edi (850 #0002)", f.Subject())
	assert.Contains(t, f.Body(), "Control number: 0002")
	assert.Contains(t, f.Body(), "order ACM-1 not found")
	assert.Contains(t, f.Body(), "2024-01-01T12:00:00Z")
}

func TestMailgunNotifier_Notify(t *testing.T) {
	sender := &mockSender{impl: mailgun.NewMailgun("mg.example.com", "key")}
	f := failure()
	sender.On("NewMessage", "edi@example.com", "[edi] "+f.Subject(), f.Body(), []string{"ops@example.com"}).Once()
	sender.On("Send", mock.Anything).Return("Queued", "<id@mg>", nil).Once()

	n := NewMailgunNotifier(sender, "edi@example.com", []string{"ops@example.com"}, "[edi]")
	require.NoError(t, n.Notify(context.Background(), f))
	sender.AssertExpectations(t)
}

func TestMailgunNotifier_SendError(t *testing.T) {
	sender := &mockSender{impl: mailgun.NewMailgun("mg.example.com", "key")}
	sender.On("NewMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	sender.On("Send", mock.Anything).Return("", "", errors.New("unauthorized"))

	err := NewMailgunNotifier(sender, "edi@example.com", []string{"ops@example.com"}, "").Notify(context.Background(), failure())
	assert.ErrorContains(t, err, "unauthorized")
}

func TestNew(t *testing.T) {
	assert.IsType(t, &LogNotifier{}, New(config.NotifyConfig{Provider: "log"}))
	assert.IsType(t, &LogNotifier{}, New(config.NotifyConfig{Provider: "mailgun", MailgunDomain: "mg.example.com"}))
	assert.IsType(t, &LogNotifier{}, New(config.NotifyConfig{Provider: "pager"}))
	assert.IsType(t, &MailgunNotifier{}, New(config.NotifyConfig{
		Provider:      "mailgun",
		MailgunDomain: "mg.example.com",
		MailgunAPIKey: "key",
		SenderEmail:   "edi@example.com",
		Recipients:    []string{"ops@example.com"},
	}))
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, (&LogNotifier{}).Notify(context.Background(), failure()))
}
