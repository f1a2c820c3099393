package worker

import (
	"context"
	"time"

	"coursedrip/metrics"
	"coursedrip/transport"
)

// sendWithRetry drives one delivery through its transport with bounded
// attempts, exponential backoff and a per-attempt timeout. Returns the
// number of attempts made and the last error when all were exhausted.
func sendWithRetry(ctx context.Context, t transport.Transport, msg transport.Message, cfg Config) (int, error) {
	backoff := cfg.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxSendAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		lastErr = t.Send(sendCtx, msg)
		cancel()
		if lastErr == nil {
			return attempt, nil
		}

		if attempt == cfg.MaxSendAttempts {
			break
		}
		metrics.TransportRetriesTotal.Inc()
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return cfg.MaxSendAttempts, lastErr
}
