package outreach

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Transport delivers a message to a user. Implementations live outside the
// engine; delivery failures never roll back the recorded attempt.
type Transport interface {
	Deliver(ctx context.Context, userID, message string) error
}

// LogTransport only logs the message
type LogTransport struct {
	logger *logrus.Logger
}

func NewLogTransport(logger *logrus.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Deliver(ctx context.Context, userID, message string) error {
	t.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"length":  len(message),
	}).Info("Delivering outreach message")
	return nil
}
