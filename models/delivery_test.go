package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStaleClaim(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	after := 30 * time.Minute

	rec := DeliveryRecord{Status: DeliveryClaimed, ClaimedAt: now.Add(-time.Hour)}
	assert.True(t, rec.StaleClaim(now, after), "hour-old claim is stale")

	rec.ClaimedAt = now.Add(-time.Minute)
	assert.False(t, rec.StaleClaim(now, after), "fresh claim is in flight, not stale")

	rec.ClaimedAt = now.Add(-after)
	assert.False(t, rec.StaleClaim(now, after), "exactly at the threshold is not yet stale")

	old := now.Add(-time.Hour)
	for _, status := range []DeliveryStatus{DeliveryDelivered, DeliveryFailed, DeliveryCancelled} {
		rec := DeliveryRecord{Status: status, ClaimedAt: old}
		assert.False(t, rec.StaleClaim(now, after), "terminal records are never stale claims")
	}
}
