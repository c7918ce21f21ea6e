// Package service implements the application use cases on top of the
// repository. Every mutation runs in a single store transaction so the
// lifecycle, queue and QR invariants hold under concurrent requests; events
// are dispatched only after the transaction commits.
package service

import (
	"time"
)

// Clock returns the current time. Services take one so tests can pin it.
type Clock func() time.Time

// SystemClock returns the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

func clockOrDefault(c Clock) Clock {
	if c == nil {
		return SystemClock
	}
	return c
}

// Page size bounds shared by list operations.
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func clampLimit(limit int32) int32 {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	}
	return limit
}
