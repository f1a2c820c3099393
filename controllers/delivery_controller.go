package controller

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"coursedrip/config"
	"coursedrip/store"
)

// DeliveryController exposes delivery-record state to operators: per
// subscriber timelines and the terminal failures that need remediation.
type DeliveryController struct {
	Store  *store.SubscriberStore
	Logger *logrus.Logger
}

func NewDeliveryController(st *store.SubscriberStore, logger *logrus.Logger) *DeliveryController {
	return &DeliveryController{Store: st, Logger: logger}
}

// ListDeliveries returns every delivery record of one subscriber.
func (dc *DeliveryController) ListDeliveries(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := dc.Store.Get(c.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Subscriber not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load subscriber",
		})
	}

	recs, err := dc.Store.Records(c.Context(), id)
	if err != nil {
		dc.Logger.WithError(err).Error("failed to list deliveries")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load deliveries",
		})
	}
	return c.JSON(fiber.Map{
		"subscriber_id": id,
		"deliveries":    recs,
	})
}

// ListFailed returns deliveries needing remediation, newest first: terminal
// failures plus claims held long enough that the owning worker must have
// died before its terminal write. These records hold their claim forever; an
// operator resolves them out of band.
func (dc *DeliveryController) ListFailed(c *fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "100"))
	if err != nil || limit < 1 || limit > 1000 {
		limit = 100
	}

	staleAfter := config.AppConfig.StaleClaimAfter
	recs, err := dc.Store.AttentionRecords(c.Context(), staleAfter, limit)
	if err != nil {
		dc.Logger.WithError(err).Error("failed to list failed deliveries")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load failed deliveries",
		})
	}

	now := time.Now().UTC()
	items := make([]fiber.Map, 0, len(recs))
	for i := range recs {
		reason := "failed"
		if recs[i].StaleClaim(now, staleAfter) {
			reason = "stale_claim"
		}
		items = append(items, fiber.Map{
			"record": recs[i],
			"reason": reason,
		})
	}
	return c.JSON(fiber.Map{
		"count":    len(items),
		"failures": items,
	})
}
