package stripegw

import (
	"strings"

	"seminar-app/internal/domain/billing"
)

// NormalizeIntentStatus maps a Stripe payment-intent status onto our payment
// statuses. Anything still in flight stays PENDING.
func NormalizeIntentStatus(s string) string {
	switch strings.TrimSpace(s) {
	case "succeeded":
		return billing.StatusSucceeded
	case "canceled":
		return billing.StatusFailed
	case "requires_payment_method", "requires_confirmation", "requires_action", "processing", "requires_capture":
		return billing.StatusPending
	default:
		return billing.StatusPending
	}
}
