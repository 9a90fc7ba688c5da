// Package refund maps time-to-event and payment amounts to refund values.
// Everything here is pure; callers decide what to do with the result.
package refund

import (
	"errors"
	"time"
)

// ErrWindowClosed is returned when the seminar starts in under two hours;
// cancellation is disallowed entirely inside that window.
var ErrWindowClosed = errors.New("cancellation window is closed")

const (
	lockoutWindow    = 2 * time.Hour
	fullRefundWindow = 24 * time.Hour
)

// Evaluate returns the refund percentage for cancelling a registration of a
// seminar starting at startsAt, as of now:
//
//	>= 24h before start  100%
//	[2h, 24h)             50%
//	<  2h                 ErrWindowClosed
func Evaluate(startsAt, now time.Time) (int, error) {
	untilStart := startsAt.Sub(now)
	switch {
	case untilStart < lockoutWindow:
		return 0, ErrWindowClosed
	case untilStart < fullRefundWindow:
		return 50, nil
	default:
		return 100, nil
	}
}

// UntilStart returns how long until the seminar starts, for user-facing
// cancellation errors inside the lockout window.
func UntilStart(startsAt, now time.Time) time.Duration {
	return startsAt.Sub(now)
}

// Amount computes the refund for one seminar's seat out of a possibly
// multi-seminar payment. The discount is prorated across the cart by price:
// the seat's paid share is finalAmount * price / baseAmount, and the refund
// is pct percent of that share, floored to the smallest currency unit.
func Amount(finalAmount, baseAmount, seminarPrice int64, pct int) int64 {
	if baseAmount <= 0 || finalAmount <= 0 || pct <= 0 {
		return 0
	}
	share := finalAmount * seminarPrice / baseAmount
	return share * int64(pct) / 100
}
