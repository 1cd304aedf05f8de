package notify

import (
	"context"

	"go.uber.org/zap"
)

// Sender delivers customer-facing notifications. The current implementation
// only logs; swapping in an email or push provider means providing another
// Sender.
type Sender interface {
	Send(ctx context.Context, userID, subject, body string) error
}

type logSender struct {
	log *zap.SugaredLogger
}

func NewLogSender(log *zap.SugaredLogger) Sender {
	return &logSender{log: log}
}

func (s *logSender) Send(_ context.Context, userID, subject, body string) error {
	s.log.Infow("notification sent", "user_id", userID, "subject", subject, "body", body)
	return nil
}
