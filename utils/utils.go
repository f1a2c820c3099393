package utils

import "time"

// Pointer returns a pointer to the given value.
func Pointer[T any](v T) *T {
	return &v
}

// ElapsedDays returns the whole UTC epoch-day difference between enrollment
// and now. Day boundaries are UTC by policy: subscriber-local boundaries are
// not reproducible across a fleet of workers without timezone data this
// system does not model.
func ElapsedDays(enrolledAt, now time.Time) int {
	const day = 24 * time.Hour
	enrolled := enrolledAt.UTC().Truncate(day)
	current := now.UTC().Truncate(day)
	return int(current.Sub(enrolled) / day)
}
