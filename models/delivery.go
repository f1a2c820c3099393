package models

import (
	"fmt"
	"time"
)

// DeliveryStatus is the state of one delivery record. Claimed records are
// owned by exactly one worker; delivered, failed and cancelled are terminal.
type DeliveryStatus string

const (
	DeliveryClaimed   DeliveryStatus = "claimed"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryCancelled DeliveryStatus = "cancelled"
)

const KindPrimary = "primary"

// KindSecondary returns the record kind for the i-th secondary event of a
// day plan, e.g. "secondary#0".
func KindSecondary(index int) string {
	return fmt.Sprintf("secondary#%d", index)
}

// DeliveryKey identifies one delivery slot. The tuple is unique per record
// and backs the atomic claim: inserting a row that conflicts on this key
// means another worker already owns the slot.
type DeliveryKey struct {
	SubscriberID string
	SequenceID   string
	DayOffset    int
	Kind         string
}

func (k DeliveryKey) String() string {
	return fmt.Sprintf("%s/%s/day%d/%s", k.SubscriberID, k.SequenceID, k.DayOffset, k.Kind)
}

// DeliveryRecord is the sole source of truth for "already sent". A row with
// a non-null DeliveredAt exists at most once per key.
type DeliveryRecord struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	SubscriberID string `gorm:"type:uuid;not null;uniqueIndex:ux_delivery_key,priority:1" json:"subscriber_id"`
	SequenceID   string `gorm:"not null;uniqueIndex:ux_delivery_key,priority:2" json:"sequence_id"`
	DayOffset    int    `gorm:"not null;uniqueIndex:ux_delivery_key,priority:3" json:"day_offset"`
	Kind         string `gorm:"not null;uniqueIndex:ux_delivery_key,priority:4" json:"kind"`

	Status      DeliveryStatus `gorm:"not null;default:'claimed';index" json:"status"`
	ClaimedAt   time.Time      `gorm:"not null" json:"claimed_at"`
	DeliveredAt *time.Time     `json:"delivered_at"`

	// ChosenVariantIndex is set for secondary records only and points into
	// the event's candidate list.
	ChosenVariantIndex *int `json:"chosen_variant_index"`

	Attempts  int    `gorm:"default:0" json:"attempts"`
	LastError string `json:"last_error"`
}

// StaleClaim reports a record that has sat in the claimed state longer than
// after: the owning worker died between the claim and its terminal write.
// The claim is never auto-released, so these need operator attention just
// like terminal failures.
func (r *DeliveryRecord) StaleClaim(now time.Time, after time.Duration) bool {
	return r.Status == DeliveryClaimed && now.Sub(r.ClaimedAt) > after
}

func (r *DeliveryRecord) Key() DeliveryKey {
	return DeliveryKey{
		SubscriberID: r.SubscriberID,
		SequenceID:   r.SequenceID,
		DayOffset:    r.DayOffset,
		Kind:         r.Kind,
	}
}
