// Package transport adapts rendered scheduler output to the surrounding
// application's delivery mechanisms. The scheduler decides what to send and
// when; transports own how bytes reach a subscriber. Transports are treated
// as unreliable — retry policy lives with the dispatchers, not here.
package transport

import (
	"context"
	"fmt"
)

// Message is one fully rendered delivery handed to a transport.
type Message struct {
	SubscriberID string
	Email        string
	Subject      string
	Body         string

	// AudioRef is an opaque resource identifier carried through from the
	// day plan, untouched.
	AudioRef string
}

// Transport delivers one rendered message over a single channel.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Registry maps channel names to their transports.
type Registry map[string]Transport

func (r Registry) For(channel string) (Transport, error) {
	t, ok := r[channel]
	if !ok {
		return nil, fmt.Errorf("no transport registered for channel %q", channel)
	}
	return t, nil
}
