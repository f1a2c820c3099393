package utils

import (
	"fmt"
	"hash/fnv"
	"time"
)

// Secondary-event timing and variant choice must be reproducible: a crashed
// worker that re-evaluates the same slot has to land on the same target
// instant and the same candidate. Everything here is seeded from stable
// identifiers, never from wall-clock randomness.

func eventSeed(tag, subscriberID, sequenceID string, dayOffset, index int) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%d|%d", tag, subscriberID, sequenceID, dayOffset, index)
	return h.Sum64()
}

// WindowOffset returns the deterministic delay, relative to the primary
// message's delivery, for the index-th secondary event of a day plan. The
// result lies in [minHour, maxHour] with minute granularity.
func WindowOffset(subscriberID, sequenceID string, dayOffset, index, minHour, maxHour int) time.Duration {
	seed := eventSeed("window", subscriberID, sequenceID, dayOffset, index)
	spanMinutes := uint64((maxHour-minHour)*60) + 1
	extra := time.Duration(seed%spanMinutes) * time.Minute
	return time.Duration(minHour)*time.Hour + extra
}

// SelectVariant picks one candidate for a secondary event, skipping any
// already in used until the pool is exhausted; once every candidate has been
// seen the choice falls back to the full pool so the scheduled slot never
// silently vanishes. Returns the chosen text and its index in candidates.
func SelectVariant(subscriberID, sequenceID string, dayOffset, index int, candidates, used []string) (string, int) {
	seen := make(map[string]bool, len(used))
	for _, u := range used {
		seen[u] = true
	}

	remaining := make([]int, 0, len(candidates))
	for i, c := range candidates {
		if !seen[c] {
			remaining = append(remaining, i)
		}
	}
	if len(remaining) == 0 {
		for i := range candidates {
			remaining = append(remaining, i)
		}
	}

	seed := eventSeed("variant", subscriberID, sequenceID, dayOffset, index)
	chosen := remaining[int(seed%uint64(len(remaining)))]
	return candidates[chosen], chosen
}
