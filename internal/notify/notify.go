package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"campustv/internal/ws"
	"campustv/pkg/email"
	"campustv/pkg/logging"
)

// IngestInfo carries the broadcaster's ingest endpoint for a provisioned
// live input.
type IngestInfo struct {
	RTMPSURL  string
	StreamKey string
}

// Notifier is the fan-out surface the reconcilers call. Delivery is
// fire-and-forget; failures are logged and never block a state transition.
type Notifier interface {
	Notify(ctx context.Context, accountID, title, message string)
	Broadcast(group, event string, data map[string]interface{})
	SendStreamKeyEmail(ctx context.Context, to, displayName string, ingest IngestInfo, start, end time.Time)
}

// Service persists notifications, pushes realtime events through the hub and
// sends ingest credentials over SMTP.
type Service struct {
	db     *sql.DB
	hub    *ws.Hub
	sender *email.Sender
	logger logging.Logger
}

// NewService creates a notification service. The email sender may be nil when
// SMTP is not configured; stream-key mails are then skipped with a warning.
func NewService(db *sql.DB, hub *ws.Hub, sender *email.Sender, logger logging.Logger) *Service {
	return &Service{db: db, hub: hub, sender: sender, logger: logger}
}

// Notify stores a notification row for the account and pushes it to the
// account's realtime group.
func (s *Service) Notify(ctx context.Context, accountID, title, message string) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campustv.notifications (id, account_id, title, message, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, uuid.New().String(), accountID, title, message)
	if err != nil {
		s.logger.WithError(err).WithField("account_id", accountID).Error("Failed to store notification")
	}

	s.hub.Broadcast(ws.GroupAccount(accountID), "notification", map[string]interface{}{
		"title":   title,
		"message": message,
	})
}

// Broadcast pushes an event to a realtime group.
func (s *Service) Broadcast(group, event string, data map[string]interface{}) {
	s.hub.Broadcast(group, event, data)
}

// SendStreamKeyEmail mails the broadcaster their ingest URL and stream key
// for the upcoming window.
func (s *Service) SendStreamKeyEmail(ctx context.Context, to, displayName string, ingest IngestInfo, start, end time.Time) {
	if s.sender == nil {
		s.logger.WithField("to", to).Warn("SMTP not configured, skipping stream key email")
		return
	}

	subject := fmt.Sprintf("Your broadcast is scheduled: %s - %s",
		start.Format("15:04"), end.Format("15:04 Jan 2"))
	body := fmt.Sprintf(`<p>Hi %s,</p>
<p>Your broadcast window runs from <b>%s</b> to <b>%s</b>.</p>
<p>Ingest URL: <code>%s</code><br>Stream key: <code>%s</code></p>
<p>Start streaming a few minutes early so the stream is confirmed before the slot begins.</p>`,
		displayName,
		start.Format("15:04 Jan 2, 2006"), end.Format("15:04 Jan 2, 2006"),
		ingest.RTMPSURL, ingest.StreamKey)

	if err := s.sender.SendMail(ctx, to, subject, body); err != nil {
		s.logger.WithError(err).WithField("to", to).Error("Failed to send stream key email")
	}
}
