package models

import "time"

// FeedPost is one rendered community-activity post persisted to a
// subscriber's in-app feed. Written by the feed transport; the scheduler
// itself never reads these back.
type FeedPost struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time

	SubscriberID string    `gorm:"type:uuid;not null;index" json:"subscriber_id"`
	Body         string    `gorm:"not null" json:"body"`
	AudioRef     string    `json:"audio_ref"`
	PostedAt     time.Time `gorm:"not null" json:"posted_at"`
}

// DirectMessage is the persisted copy of a primary lifecycle message sent to
// a subscriber, kept alongside the SMTP send for the in-app message view.
type DirectMessage struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time

	SubscriberID string    `gorm:"type:uuid;not null;index" json:"subscriber_id"`
	Subject      string    `json:"subject"`
	Body         string    `gorm:"not null" json:"body"`
	AudioRef     string    `json:"audio_ref"`
	SentAt       time.Time `gorm:"not null" json:"sent_at"`
}
