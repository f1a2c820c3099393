package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"coursedrip/catalog"
	"coursedrip/metrics"
	"coursedrip/models"
	"coursedrip/utils"
)

// Driver is the orchestration loop. On every tick it enumerates schedulable
// subscribers, computes due work from delivery-record state and hands
// dispatches to the pool. A crash mid-tick is safe: the next tick recomputes
// everything from the records, and the claims keep dispatch exactly-once.
type Driver struct {
	store     Store
	catalog   *catalog.Catalog
	primary   *PrimaryDispatcher
	secondary *SecondaryDispatcher
	pool      *Pool
	clock     Clock
	logger    *logrus.Logger
	cfg       Config
}

func NewDriver(store Store, cat *catalog.Catalog, primary *PrimaryDispatcher, secondary *SecondaryDispatcher,
	pool *Pool, clock Clock, logger *logrus.Logger, cfg Config) *Driver {
	return &Driver{
		store:     store,
		catalog:   cat,
		primary:   primary,
		secondary: secondary,
		pool:      pool,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start runs the tick loop until the context is cancelled.
func (d *Driver) Start(ctx context.Context) {
	d.logger.WithField("interval", d.cfg.TickInterval).Info("scheduler driver started")

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("scheduler driver shutting down, waiting for in-flight dispatches")
			d.pool.Wait()
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick evaluates every schedulable subscriber once. Store unavailability
// aborts the tick cleanly; atomic claims guarantee no partial state.
func (d *Driver) Tick(ctx context.Context) {
	started := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(started).Seconds()) }()

	subs, err := d.store.Schedulable(ctx)
	if err != nil {
		metrics.TickErrorsTotal.Inc()
		d.logger.WithError(err).Error("tick aborted, could not enumerate subscribers")
		return
	}

	for _, sub := range subs {
		if err := d.evaluate(ctx, sub); err != nil {
			d.logger.WithError(err).WithField("subscriber", sub.ID).Error("subscriber evaluation failed")
		}
	}
}

func (d *Driver) evaluate(ctx context.Context, sub models.Subscriber) error {
	seq, err := d.catalog.Get(sub.SequenceID)
	if err != nil {
		return err
	}
	recs, err := d.store.Records(ctx, sub.ID)
	if err != nil {
		return err
	}

	primaries := make(map[int]models.DeliveryRecord)
	secondaries := make(map[string]bool)
	for _, rec := range recs {
		if rec.Kind == models.KindPrimary {
			primaries[rec.DayOffset] = rec
		} else {
			secondaries[models.DeliveryKey{
				SubscriberID: rec.SubscriberID,
				SequenceID:   rec.SequenceID,
				DayOffset:    rec.DayOffset,
				Kind:         rec.Kind,
			}.String()] = true
		}
	}

	// Dispatches past this point must run to completion even if the tick
	// loop's context is cancelled mid-shutdown: a send interrupted after its
	// claim would park the slot as failed-terminal over deploy timing. The
	// per-attempt timeout and bounded attempt count still limit them, and
	// Start's pool.Wait drains them before returning.
	dispatchCtx := context.WithoutCancel(ctx)

	now := d.clock.Now()
	if sub.Status == models.SubscriberActive {
		d.evaluatePrimary(dispatchCtx, sub, seq, primaries, now)
	}
	d.evaluateSecondaries(dispatchCtx, sub, seq, primaries, secondaries, now)
	return nil
}

// evaluatePrimary dispatches the lowest eligible day plans, at most
// CatchUpPerTick of them. A subscriber with a backlog drains it in ascending
// day order across ticks, bounding per-tick work.
func (d *Driver) evaluatePrimary(ctx context.Context, sub models.Subscriber, seq *catalog.Sequence,
	primaries map[int]models.DeliveryRecord, now time.Time) {

	budget := d.cfg.CatchUpPerTick
	if budget < 1 {
		budget = 1
	}

	days := utils.ElapsedDays(sub.EnrolledAt, now)
	for i := range seq.Days {
		plan := &seq.Days[i]
		if plan.DayOffset > days {
			return
		}
		if _, exists := primaries[plan.DayOffset]; exists {
			continue
		}
		subCopy := sub
		d.pool.Submit(func() {
			_ = d.primary.Dispatch(ctx, subCopy, seq, plan)
		})
		budget--
		if budget == 0 {
			return
		}
	}
}

// evaluateSecondaries walks every delivered primary whose day plan has
// secondary events without a record yet. Paused subscribers still receive
// them — they were promised relative to an already-delivered primary. For
// unenrolled subscribers the outstanding slots are cancelled instead.
func (d *Driver) evaluateSecondaries(ctx context.Context, sub models.Subscriber, seq *catalog.Sequence,
	primaries map[int]models.DeliveryRecord, secondaries map[string]bool, now time.Time) {

	for dayOffset, rec := range primaries {
		if rec.Status != models.DeliveryDelivered || rec.DeliveredAt == nil {
			continue
		}
		plan := seq.Plan(dayOffset)
		if plan == nil {
			// definition changed underneath an old record; nothing to schedule
			continue
		}
		deliveredAt := *rec.DeliveredAt

		for i := range plan.SecondaryEvents {
			key := models.DeliveryKey{
				SubscriberID: sub.ID,
				SequenceID:   seq.ID,
				DayOffset:    dayOffset,
				Kind:         models.KindSecondary(i),
			}
			if secondaries[key.String()] {
				continue
			}

			subID, planRef, idx := sub.ID, plan, i
			if sub.Status == models.SubscriberUnenrolled {
				d.pool.Submit(func() {
					_ = d.secondary.Cancel(ctx, subID, seq, planRef.DayOffset, idx)
				})
				continue
			}

			ev := &plan.SecondaryEvents[i]
			due := deliveredAt.Add(utils.WindowOffset(sub.ID, seq.ID, dayOffset, i, ev.MinHour, ev.MaxHour))
			if now.Before(due) {
				continue
			}
			d.pool.Submit(func() {
				_ = d.secondary.Dispatch(ctx, subID, seq, planRef, idx)
			})
		}
	}
}
