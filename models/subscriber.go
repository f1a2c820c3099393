package models

import (
	"time"

	"gorm.io/gorm"
)

// SubscriberStatus enumerates the lifecycle states of an enrollment.
type SubscriberStatus string

const (
	SubscriberActive     SubscriberStatus = "active"
	SubscriberPaused     SubscriberStatus = "paused"
	SubscriberUnenrolled SubscriberStatus = "unenrolled"
)

// Subscriber represents one enrollment into a lifecycle sequence.
type Subscriber struct {
	ID        string `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Email      string `gorm:"not null;index" json:"email"`
	SequenceID string `gorm:"not null;index" json:"sequence_id"`

	// EnrolledAt anchors every day-offset computation and is immutable,
	// except under the pause-freezes-clock policy where Resume shifts it
	// forward by the pause duration.
	EnrolledAt time.Time `gorm:"not null" json:"enrolled_at"`

	Status       SubscriberStatus `gorm:"not null;default:'active';index" json:"status"`
	PausedAt     *time.Time       `json:"paused_at"`
	UnenrolledAt *time.Time       `json:"unenrolled_at"`

	// Tokens holds the personalization values substituted into templates,
	// e.g. firstName.
	Tokens map[string]string `gorm:"type:jsonb;serializer:json" json:"tokens"`

	// UsedVariants records every secondary content variant already shown to
	// this subscriber. It only grows; the variant selector excludes entries
	// until the candidate pool is exhausted.
	UsedVariants []string `gorm:"type:jsonb;serializer:json" json:"used_variants"`
}
