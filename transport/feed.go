package transport

import (
	"context"
	"time"

	"gorm.io/gorm"

	"coursedrip/models"
)

// FeedTransport publishes community-activity posts into the subscriber's
// in-app feed.
type FeedTransport struct {
	db *gorm.DB
}

func NewFeedTransport(db *gorm.DB) *FeedTransport {
	return &FeedTransport{db: db}
}

func (t *FeedTransport) Send(ctx context.Context, msg Message) error {
	post := models.FeedPost{
		SubscriberID: msg.SubscriberID,
		Body:         msg.Body,
		AudioRef:     msg.AudioRef,
		PostedAt:     time.Now().UTC(),
	}
	return t.db.WithContext(ctx).Create(&post).Error
}
