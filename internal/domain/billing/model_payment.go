package billing

import (
	"time"

	"seminar-app/internal/domain/catalog"
)

// Payment statuses. SUCCEEDED, FAILED and REFUNDED are terminal for webhook
// reconciliation; REFUNDED is only ever reached from SUCCEEDED.
const (
	StatusPending   = "PENDING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusRefunded  = "REFUNDED"
)

// Payment is one charge against the payment gateway, covering a cart of one
// or more registrations. The Stripe payment-intent id doubles as the
// idempotency key for webhook reconciliation.
type Payment struct {
	ID                    uint                  `gorm:"primaryKey" json:"id"`
	UserID                uint                  `gorm:"index" json:"user_id"`
	StripePaymentIntentID string                `gorm:"uniqueIndex" json:"stripe_payment_intent_id"`
	BaseAmount            int64                 `json:"base_amount"`
	DiscountAmount        int64                 `json:"discount_amount"`
	FinalAmount           int64                 `json:"final_amount"`
	RefundedAmount        int64                 `json:"refunded_amount"`
	DiscountRuleID        *uint                 `json:"discount_rule_id,omitempty"`
	DiscountRule          *catalog.DiscountRule `json:"-"`
	Status                string                `gorm:"index" json:"status"`
	RefundID              *string               `json:"refund_id,omitempty"`
	NeedsManualReview     bool                  `json:"needs_manual_review"`
	Metadata              string                `json:"-"` // JSON echo of seminar/discount linkage
	CreatedAt             time.Time             `json:"created_at"`
}

// Terminal reports whether webhook events for the payment are no-ops.
func (p *Payment) Terminal() bool {
	switch p.Status {
	case StatusSucceeded, StatusFailed, StatusRefunded:
		return true
	}
	return false
}
