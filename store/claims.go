package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coursedrip/models"
	"coursedrip/utils"
)

// The claim primitives below are conditional inserts against the unique
// delivery-key index. Postgres resolves the conflict, so the check and the
// reservation are one atomic operation — never a read followed by a write.
// RowsAffected == 0 means another worker already owns the slot.

// ClaimPrimary reserves the primary delivery slot for one day plan.
func (s *SubscriberStore) ClaimPrimary(ctx context.Context, subscriberID, sequenceID string, dayOffset int) (bool, error) {
	return s.claim(ctx, models.DeliveryRecord{
		SubscriberID: subscriberID,
		SequenceID:   sequenceID,
		DayOffset:    dayOffset,
		Kind:         models.KindPrimary,
		Status:       models.DeliveryClaimed,
		ClaimedAt:    time.Now().UTC(),
	})
}

// ClaimSecondary reserves the index-th secondary slot of a day plan.
func (s *SubscriberStore) ClaimSecondary(ctx context.Context, subscriberID, sequenceID string, dayOffset, index int) (bool, error) {
	return s.claim(ctx, models.DeliveryRecord{
		SubscriberID: subscriberID,
		SequenceID:   sequenceID,
		DayOffset:    dayOffset,
		Kind:         models.KindSecondary(index),
		Status:       models.DeliveryClaimed,
		ClaimedAt:    time.Now().UTC(),
	})
}

// CancelSecondary terminally cancels an unclaimed secondary slot. It uses
// the same conflict-gated insert, so it can never override a slot that a
// dispatcher already claimed or delivered.
func (s *SubscriberStore) CancelSecondary(ctx context.Context, subscriberID, sequenceID string, dayOffset, index int) (bool, error) {
	return s.claim(ctx, models.DeliveryRecord{
		SubscriberID: subscriberID,
		SequenceID:   sequenceID,
		DayOffset:    dayOffset,
		Kind:         models.KindSecondary(index),
		Status:       models.DeliveryCancelled,
		ClaimedAt:    time.Now().UTC(),
	})
}

func (s *SubscriberStore) claim(ctx context.Context, rec models.DeliveryRecord) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "subscriber_id"},
				{Name: "sequence_id"},
				{Name: "day_offset"},
				{Name: "kind"},
			},
			DoNothing: true,
		}).
		Create(&rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Records returns every delivery record of a subscriber, oldest day first.
func (s *SubscriberStore) Records(ctx context.Context, subscriberID string) ([]models.DeliveryRecord, error) {
	var recs []models.DeliveryRecord
	err := s.db.WithContext(ctx).
		Where("subscriber_id = ?", subscriberID).
		Order("day_offset ASC, kind ASC").
		Find(&recs).Error
	return recs, err
}

// MarkDelivered finalizes a claimed record. The non-null delivered_at it
// writes is the sole source of truth for "already sent".
func (s *SubscriberStore) MarkDelivered(ctx context.Context, key models.DeliveryKey, deliveredAt time.Time, variantIndex *int) error {
	updates := map[string]interface{}{
		"status":       models.DeliveryDelivered,
		"delivered_at": deliveredAt.UTC(),
	}
	if variantIndex != nil {
		updates["chosen_variant_index"] = *variantIndex
	}
	return s.finalize(ctx, key, updates)
}

// MarkFailed moves a claimed record to the terminal failed state after retry
// exhaustion. The claim is deliberately not released: the transport may have
// partially succeeded, and re-claiming would risk a duplicate user-visible
// send. Failed records surface through AttentionRecords for remediation.
func (s *SubscriberStore) MarkFailed(ctx context.Context, key models.DeliveryKey, attempts int, lastError string) error {
	return s.finalize(ctx, key, map[string]interface{}{
		"status":     models.DeliveryFailed,
		"attempts":   attempts,
		"last_error": lastError,
	})
}

func (s *SubscriberStore) finalize(ctx context.Context, key models.DeliveryKey, updates map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&models.DeliveryRecord{}).
		Where("subscriber_id = ? AND sequence_id = ? AND day_offset = ? AND kind = ? AND status = ?",
			key.SubscriberID, key.SequenceID, key.DayOffset, key.Kind, models.DeliveryClaimed).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotClaimed
	}
	return nil
}

// ChooseVariant picks the secondary variant for one claimed slot and records
// it as used in the same transaction. Selection runs under the subscriber
// row lock, so concurrent dispatches for different slots of the same
// subscriber always see each other's picks: a variant is never repeated
// while the pool still has unused candidates.
func (s *SubscriberStore) ChooseVariant(ctx context.Context, subscriberID, sequenceID string, dayOffset, index int, candidates []string) (string, int, error) {
	var (
		choice     string
		variantIdx int
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscriber
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&sub, "id = ?", subscriberID).Error; err != nil {
			return err
		}
		choice, variantIdx = utils.SelectVariant(subscriberID, sequenceID, dayOffset, index, candidates, sub.UsedVariants)
		for _, v := range sub.UsedVariants {
			if v == choice {
				// exhausted-pool repeat, already recorded
				return nil
			}
		}
		sub.UsedVariants = append(sub.UsedVariants, choice)
		return tx.Model(&sub).Update("used_variants", sub.UsedVariants).Error
	})
	if err != nil {
		return "", 0, err
	}
	return choice, variantIdx, nil
}

// AttentionRecords lists delivery records needing operator attention:
// terminal failures plus claims held longer than staleAfter. A long-held
// claim means a worker died between claiming and the terminal write; the
// claim is never auto-released, so without this listing the slot would be
// invisible forever.
func (s *SubscriberStore) AttentionRecords(ctx context.Context, staleAfter time.Duration, limit int) ([]models.DeliveryRecord, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	var recs []models.DeliveryRecord
	err := s.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND claimed_at < ?)",
			models.DeliveryFailed, models.DeliveryClaimed, cutoff).
		Order("updated_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}
