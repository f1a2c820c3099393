package transport

import (
	"context"

	"github.com/sirupsen/logrus"
)

// ConsoleTransport logs deliveries instead of sending them. Used in
// development when no SMTP host is configured.
type ConsoleTransport struct {
	logger  *logrus.Logger
	channel string
}

func NewConsoleTransport(logger *logrus.Logger, channel string) *ConsoleTransport {
	return &ConsoleTransport{logger: logger, channel: channel}
}

func (t *ConsoleTransport) Send(ctx context.Context, msg Message) error {
	t.logger.WithFields(logrus.Fields{
		"channel":    t.channel,
		"subscriber": msg.SubscriberID,
		"subject":    msg.Subject,
		"audio_ref":  msg.AudioRef,
	}).Info(msg.Body)
	return nil
}
