package worker

import (
	"context"
	"errors"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"coursedrip/catalog"
	"coursedrip/metrics"
	"coursedrip/models"
	"coursedrip/transport"
	"coursedrip/utils"
)

// PrimaryDispatcher delivers a day plan's primary message for a subscriber
// exactly once.
type PrimaryDispatcher struct {
	store      Store
	transports transport.Registry
	clock      Clock
	logger     *logrus.Logger
	cfg        Config
}

func NewPrimaryDispatcher(store Store, transports transport.Registry, clock Clock, logger *logrus.Logger, cfg Config) *PrimaryDispatcher {
	return &PrimaryDispatcher{store: store, transports: transports, clock: clock, logger: logger, cfg: cfg}
}

func (d *PrimaryDispatcher) Dispatch(ctx context.Context, sub models.Subscriber, seq *catalog.Sequence, plan *catalog.DayPlan) error {
	log := d.logger.WithFields(logrus.Fields{
		"subscriber": sub.ID,
		"sequence":   seq.ID,
		"day":        plan.DayOffset,
		"kind":       models.KindPrimary,
	})

	// Re-check status right before claiming: a pause or unenrollment that
	// landed after the tick enumerated this subscriber must freeze the send.
	status, err := d.store.Status(ctx, sub.ID)
	if err != nil {
		return err
	}
	if status != models.SubscriberActive {
		log.WithField("status", status).Debug("skipping primary, subscriber no longer active")
		return nil
	}

	// Render before claiming. A missing token is a data-integrity defect:
	// the slot stays unclaimed so the operator can fix the data and the next
	// tick retries, instead of burning the claim on unfixable input.
	body, err := utils.RenderTemplate(plan.PrimaryTemplate, sub.Tokens)
	if err != nil {
		metrics.PersonalizationErrorsTotal.Inc()
		sentry.CaptureException(err)
		log.WithError(err).Error("primary personalization failed, slot left unclaimed")
		return err
	}

	claimed, err := d.store.ClaimPrimary(ctx, sub.ID, seq.ID, plan.DayOffset)
	if err != nil {
		return err
	}
	if !claimed {
		metrics.ClaimRacesTotal.Inc()
		return nil
	}

	key := models.DeliveryKey{SubscriberID: sub.ID, SequenceID: seq.ID, DayOffset: plan.DayOffset, Kind: models.KindPrimary}

	tr, err := d.transports.For(catalog.ChannelDirectMessage)
	if err != nil {
		// configuration defect; terminal, the claim is not released
		d.failTerminal(ctx, key, 0, err, log)
		return err
	}

	msg := transport.Message{
		SubscriberID: sub.ID,
		Email:        sub.Email,
		Subject:      seq.Name,
		Body:         body,
		AudioRef:     plan.AudioRef,
	}
	attempts, err := sendWithRetry(ctx, tr, msg, d.cfg)
	if err != nil {
		d.failTerminal(ctx, key, attempts, err, log)
		return err
	}

	if err := d.store.MarkDelivered(ctx, key, d.clock.Now(), nil); err != nil {
		return err
	}
	metrics.DeliveriesTotal.WithLabelValues("primary", "delivered").Inc()
	log.Info("primary delivered")
	return nil
}

// failTerminal parks the record in the failed state with the claim held: the
// transport may have partially succeeded, so releasing the claim could show
// the subscriber a duplicate message.
func (d *PrimaryDispatcher) failTerminal(ctx context.Context, key models.DeliveryKey, attempts int, cause error, log *logrus.Entry) {
	metrics.DeliveriesTotal.WithLabelValues("primary", "failed").Inc()
	sentry.CaptureException(cause)
	log.WithError(cause).WithField("attempts", attempts).Error("primary delivery failed terminally")

	if err := d.store.MarkFailed(ctx, key, attempts, cause.Error()); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("could not record terminal failure")
	}
}
