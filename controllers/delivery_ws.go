package controller

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/websocket/v2"

	"coursedrip/store"
)

// HandleDeliveryStreamWS pushes a subscriber's delivery timeline to an ops
// dashboard, re-sending whenever new records appear. The client sends one
// JSON frame naming the subscriber, then receives updates until it closes.
func HandleDeliveryStreamWS(st *store.SubscriberStore) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		var input struct {
			SubscriberID string `json:"subscriberId"`
		}
		if err := c.ReadJSON(&input); err != nil {
			log.Printf("Error reading JSON: %v", err)
			return
		}

		lastCount := -1
		for {
			recs, err := st.Records(context.Background(), input.SubscriberID)
			if err != nil {
				log.Printf("Error loading deliveries: %v", err)
				return
			}

			if len(recs) != lastCount {
				lastCount = len(recs)
				update := struct {
					SubscriberID string      `json:"subscriberId"`
					Count        int         `json:"count"`
					Deliveries   interface{} `json:"deliveries"`
				}{
					SubscriberID: input.SubscriberID,
					Count:        len(recs),
					Deliveries:   recs,
				}
				if err := c.WriteJSON(update); err != nil {
					return
				}
			}

			time.Sleep(5 * time.Second)
		}
	}
}
