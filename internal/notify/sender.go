// Package notify defines the outbound notification capability. Real delivery
// is out of scope for the pipeline; the variants here format and log what
// would be sent, and production deployments inject their own Sender.
package notify

import (
	"context"
	"fmt"
	"log"
)

// Notification is one outbound message about a sync outcome.
type Notification struct {
	UserID  string
	Subject string
	Body    string
}

// Sender delivers notifications over one channel.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// NewSender selects a Sender variant by channel name.
func NewSender(channel string, logger *log.Logger) (Sender, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[notify] ", log.LstdFlags)
	}
	switch channel {
	case "email":
		return &emailSender{logger: logger}, nil
	case "webhook":
		return &webhookSender{logger: logger}, nil
	case "log", "":
		return &logSender{logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown notify channel: %s", channel)
	}
}

type emailSender struct {
	logger *log.Logger
}

func (s *emailSender) Send(_ context.Context, n Notification) error {
	s.logger.Printf("email to user=%s subject=%q: %s", n.UserID, n.Subject, n.Body)
	return nil
}

type webhookSender struct {
	logger *log.Logger
}

func (s *webhookSender) Send(_ context.Context, n Notification) error {
	s.logger.Printf("webhook for user=%s subject=%q: %s", n.UserID, n.Subject, n.Body)
	return nil
}

type logSender struct {
	logger *log.Logger
}

func (s *logSender) Send(_ context.Context, n Notification) error {
	s.logger.Printf("notification user=%s subject=%q: %s", n.UserID, n.Subject, n.Body)
	return nil
}
