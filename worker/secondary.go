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

// SecondaryDispatcher publishes scheduled community-activity posts whose
// randomized window has elapsed, exactly once each, and cancels outstanding
// posts for unenrolled subscribers.
type SecondaryDispatcher struct {
	store      Store
	transports transport.Registry
	clock      Clock
	logger     *logrus.Logger
	cfg        Config
}

func NewSecondaryDispatcher(store Store, transports transport.Registry, clock Clock, logger *logrus.Logger, cfg Config) *SecondaryDispatcher {
	return &SecondaryDispatcher{store: store, transports: transports, clock: clock, logger: logger, cfg: cfg}
}

// Dispatch claims and delivers the index-th secondary event of a day plan.
// The caller has already established that the event's window elapsed.
func (d *SecondaryDispatcher) Dispatch(ctx context.Context, subscriberID string, seq *catalog.Sequence, plan *catalog.DayPlan, index int) error {
	ev := &plan.SecondaryEvents[index]
	key := models.DeliveryKey{
		SubscriberID: subscriberID,
		SequenceID:   seq.ID,
		DayOffset:    plan.DayOffset,
		Kind:         models.KindSecondary(index),
	}
	log := d.logger.WithFields(logrus.Fields{
		"subscriber": subscriberID,
		"sequence":   seq.ID,
		"day":        plan.DayOffset,
		"kind":       key.Kind,
	})

	// Fresh read: the tick's snapshot may predate an unenrollment.
	sub, err := d.store.Get(ctx, subscriberID)
	if err != nil {
		return err
	}
	if sub.Status == models.SubscriberUnenrolled {
		return d.Cancel(ctx, subscriberID, seq, plan.DayOffset, index)
	}

	claimed, err := d.store.ClaimSecondary(ctx, subscriberID, seq.ID, plan.DayOffset, index)
	if err != nil {
		return err
	}
	if !claimed {
		metrics.ClaimRacesTotal.Inc()
		return nil
	}

	// Selection and the used-variant append happen in one store transaction
	// under the subscriber row lock: two slots racing on the same pool can
	// never both pick against the stale used set.
	choice, variantIdx, err := d.store.ChooseVariant(ctx, subscriberID, seq.ID, plan.DayOffset, index, ev.Candidates)
	if err != nil {
		return err
	}
	body, err := utils.RenderTemplate(choice, sub.Tokens)
	if err != nil {
		metrics.PersonalizationErrorsTotal.Inc()
		d.failTerminal(ctx, key, 0, err, log)
		return err
	}

	tr, err := d.transports.For(ev.Channel)
	if err != nil {
		d.failTerminal(ctx, key, 0, err, log)
		return err
	}

	msg := transport.Message{
		SubscriberID: subscriberID,
		Email:        sub.Email,
		Subject:      seq.Name,
		Body:         body,
	}
	attempts, err := sendWithRetry(ctx, tr, msg, d.cfg)
	if err != nil {
		d.failTerminal(ctx, key, attempts, err, log)
		return err
	}

	if err := d.store.MarkDelivered(ctx, key, d.clock.Now(), &variantIdx); err != nil {
		return err
	}
	metrics.DeliveriesTotal.WithLabelValues("secondary", "delivered").Inc()
	log.WithField("variant", variantIdx).Info("secondary delivered")
	return nil
}

// Cancel terminally cancels a not-yet-claimed secondary slot for an
// unenrolled subscriber. A slot already claimed by an in-flight dispatch is
// left alone and runs to completion.
func (d *SecondaryDispatcher) Cancel(ctx context.Context, subscriberID string, seq *catalog.Sequence, dayOffset, index int) error {
	cancelled, err := d.store.CancelSecondary(ctx, subscriberID, seq.ID, dayOffset, index)
	if err != nil {
		return err
	}
	if cancelled {
		metrics.DeliveriesTotal.WithLabelValues("secondary", "cancelled").Inc()
		d.logger.WithFields(logrus.Fields{
			"subscriber": subscriberID,
			"sequence":   seq.ID,
			"day":        dayOffset,
			"kind":       models.KindSecondary(index),
		}).Info("secondary cancelled after unenrollment")
	}
	return nil
}

func (d *SecondaryDispatcher) failTerminal(ctx context.Context, key models.DeliveryKey, attempts int, cause error, log *logrus.Entry) {
	metrics.DeliveriesTotal.WithLabelValues("secondary", "failed").Inc()
	sentry.CaptureException(cause)
	log.WithError(cause).WithField("attempts", attempts).Error("secondary delivery failed terminally")

	if err := d.store.MarkFailed(ctx, key, attempts, cause.Error()); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("could not record terminal failure")
	}
}
