// Package store owns all mutable scheduler state: subscribers and their
// delivery records. It is the only component that writes shared state, and
// the atomic claim primitives here are the sole concurrency-safety mechanism
// for the whole scheduler — multiple driver instances may race on the same
// subscriber and exactly one claim wins.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coursedrip/models"
)

var (
	ErrNotFound         = errors.New("subscriber not found")
	ErrBadTransition    = errors.New("invalid status transition")
	ErrRecordNotClaimed = errors.New("delivery record not in claimed state")
)

type SubscriberStore struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewSubscriberStore(db *gorm.DB, logger *logrus.Logger) *SubscriberStore {
	return &SubscriberStore{db: db, logger: logger}
}

// Enroll persists a new subscriber.
func (s *SubscriberStore) Enroll(ctx context.Context, sub *models.Subscriber) error {
	return s.db.WithContext(ctx).Create(sub).Error
}

// Get returns one subscriber by id.
func (s *SubscriberStore) Get(ctx context.Context, id string) (*models.Subscriber, error) {
	var sub models.Subscriber
	err := s.db.WithContext(ctx).First(&sub, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Status returns just the current lifecycle status of a subscriber. Used by
// dispatchers right before claiming so an unenrollment that happened after
// the tick's enumeration is still honored.
func (s *SubscriberStore) Status(ctx context.Context, id string) (models.SubscriberStatus, error) {
	var sub models.Subscriber
	err := s.db.WithContext(ctx).Select("status").First(&sub, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return sub.Status, nil
}

// Schedulable lists every subscriber the driver should evaluate this tick.
// Active subscribers get primary dispatch, paused and unenrolled ones are
// still scanned so promised secondary events fire or get cancelled.
func (s *SubscriberStore) Schedulable(ctx context.Context) ([]models.Subscriber, error) {
	var subs []models.Subscriber
	err := s.db.WithContext(ctx).
		Where("status IN ?", []models.SubscriberStatus{
			models.SubscriberActive,
			models.SubscriberPaused,
			models.SubscriberUnenrolled,
		}).
		Find(&subs).Error
	return subs, err
}

// Pause freezes new primary claims for the subscriber. Elapsed time keeps
// accruing; only sending stops.
func (s *SubscriberStore) Pause(ctx context.Context, id string) error {
	return s.transition(ctx, id, models.SubscriberActive, func(sub *models.Subscriber) map[string]interface{} {
		return map[string]interface{}{
			"status":    models.SubscriberPaused,
			"paused_at": time.Now().UTC(),
		}
	})
}

// Resume reactivates a paused subscriber. When freezeClock is set the
// enrollment timestamp is shifted forward by the pause duration, so the
// subscriber resumes at the elapsed day where they paused.
func (s *SubscriberStore) Resume(ctx context.Context, id string, freezeClock bool) error {
	return s.transition(ctx, id, models.SubscriberPaused, func(sub *models.Subscriber) map[string]interface{} {
		updates := map[string]interface{}{
			"status":    models.SubscriberActive,
			"paused_at": gorm.Expr("NULL"),
		}
		if freezeClock && sub.PausedAt != nil {
			paused := time.Since(*sub.PausedAt)
			updates["enrolled_at"] = sub.EnrolledAt.Add(paused)
		}
		return updates
	})
}

// Unenroll terminates the subscription. Future claims are frozen from this
// instant; outstanding secondary events are cancelled by the driver on its
// next pass, and dispatches already past their claim check run to completion.
func (s *SubscriberStore) Unenroll(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&models.Subscriber{}).
		Where("id = ? AND status <> ?", id, models.SubscriberUnenrolled).
		Updates(map[string]interface{}{
			"status":        models.SubscriberUnenrolled,
			"unenrolled_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrBadTransition
	}
	return nil
}

func (s *SubscriberStore) transition(ctx context.Context, id string, from models.SubscriberStatus,
	build func(*models.Subscriber) map[string]interface{}) error {

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscriber
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sub, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if sub.Status != from {
			return fmt.Errorf("%w: %s -> request from %s", ErrBadTransition, sub.Status, from)
		}
		return tx.Model(&sub).Updates(build(&sub)).Error
	})
}
