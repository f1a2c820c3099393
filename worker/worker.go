// Package worker contains the scheduler driver and the dispatchers it feeds.
// The driver enumerates subscribers on a fixed tick and computes due work;
// the dispatchers deliver exactly once, gated by atomic claims against the
// subscriber state store. Multiple driver instances may run in parallel —
// correctness rests entirely on the store's claim primitives.
package worker

import (
	"context"
	"time"

	"coursedrip/models"
)

// Store is the slice of the subscriber state store the scheduler depends
// on. Implemented by store.SubscriberStore; tests substitute an in-memory
// fake.
type Store interface {
	Schedulable(ctx context.Context) ([]models.Subscriber, error)
	Get(ctx context.Context, id string) (*models.Subscriber, error)
	Status(ctx context.Context, id string) (models.SubscriberStatus, error)
	Records(ctx context.Context, subscriberID string) ([]models.DeliveryRecord, error)

	ClaimPrimary(ctx context.Context, subscriberID, sequenceID string, dayOffset int) (bool, error)
	ClaimSecondary(ctx context.Context, subscriberID, sequenceID string, dayOffset, index int) (bool, error)
	CancelSecondary(ctx context.Context, subscriberID, sequenceID string, dayOffset, index int) (bool, error)

	MarkDelivered(ctx context.Context, key models.DeliveryKey, deliveredAt time.Time, variantIndex *int) error
	MarkFailed(ctx context.Context, key models.DeliveryKey, attempts int, lastError string) error

	// ChooseVariant selects a candidate for one claimed secondary slot and
	// records it as used, atomically per subscriber.
	ChooseVariant(ctx context.Context, subscriberID, sequenceID string, dayOffset, index int, candidates []string) (string, int, error)
}

// Clock abstracts wall time so tests can drive the schedule directly.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Config carries the scheduler knobs.
type Config struct {
	// TickInterval must stay short enough that secondary-event hour windows
	// are respected.
	TickInterval time.Duration

	// Workers bounds concurrent dispatches so the transports are never
	// overwhelmed.
	Workers int

	// CatchUpPerTick caps how many backlog day plans one subscriber drains
	// per tick. The default of 1 preserves narrative pacing: a subscriber
	// returning after two weeks away gets their backlog one day at a time.
	CatchUpPerTick int

	MaxSendAttempts int
	RetryBackoff    time.Duration
	SendTimeout     time.Duration
}
