package stripewebhooks

import (
	"errors"
	"fmt"
	"time"

	"seminar-app/database"
	"seminar-app/internal/domain/billing"
	"seminar-app/internal/domain/registration"
	"seminar-app/internal/infra/logging"
	"seminar-app/internal/infra/stripegw"

	"github.com/stripe/stripe-go/v75"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errSeatUnavailable aborts the confirmation transaction when any seat in
// the cart can no longer be taken; the whole cart is then refunded.
var errSeatUnavailable = errors.New("seat unavailable")

// errAlreadyClaimed means a rival delivery of the same event owns the
// payment row; this delivery backs off with nothing to do.
var errAlreadyClaimed = errors.New("payment claimed by rival delivery")

// reconcileSucceeded drives a successful charge into a confirmed seat.
// The confirmed-count check and the status writes share one transaction, so
// racing webhooks for a full seminar cannot overbook; the loser takes the
// refund path instead. The PENDING->SUCCEEDED flip is a conditional claim,
// so two concurrent deliveries of the same event reconcile exactly once.
func reconcileSucceeded(pi *stripe.PaymentIntent) error {
	var payment billing.Payment
	if err := database.DB.Where("stripe_payment_intent_id = ?", pi.ID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errUnknownPayment
		}
		return fmt.Errorf("load payment: %w", err)
	}
	if payment.Terminal() {
		return nil // duplicate delivery, already reconciled
	}
	if stripegw.NormalizeIntentStatus(string(pi.Status)) != billing.StatusSucceeded {
		return nil
	}

	var regs []registration.Registration
	if err := database.DB.Where("payment_id = ?", payment.ID).Find(&regs).Error; err != nil {
		return fmt.Errorf("load registrations: %w", err)
	}

	seatLost := false
	err := database.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&billing.Payment{}).
			Where("id = ? AND status = ?", payment.ID, billing.StatusPending).
			Update("status", billing.StatusSucceeded)
		if res.Error != nil {
			return fmt.Errorf("mark payment succeeded: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errAlreadyClaimed
		}
		for _, reg := range regs {
			if err := registration.Confirm(tx, reg.ID); err != nil {
				if errors.Is(err, registration.ErrCapacityExceeded) ||
					errors.Is(err, registration.ErrAlreadyCancelled) {
					seatLost = true
					return errSeatUnavailable
				}
				return err
			}
		}
		return nil
	})

	if err == nil {
		scheduleLifecycleEmails(&payment, regs)
		logging.L.Info("payment confirmed",
			zap.Uint("payment_id", payment.ID),
			zap.String("intent", pi.ID),
			zap.Int("registrations", len(regs)))
		return nil
	}
	if errors.Is(err, errAlreadyClaimed) {
		return nil
	}
	if !seatLost {
		return err // nothing committed; gateway will retry
	}

	return refundUnplaceable(&payment, regs, pi.ID)
}

// refundUnplaceable is the overbooking safety valve: the charge landed but a
// seat cannot be given, so the money goes back and the registrations close.
// The capture is recorded as SUCCEEDED first so REFUNDED is only ever
// reached from SUCCEEDED; the flip is conditional on PENDING so a rival
// delivery can never pull a terminal row back and refund a second time.
func refundUnplaceable(payment *billing.Payment, regs []registration.Registration, intentID string) error {
	res := database.DB.Model(&billing.Payment{}).
		Where("id = ? AND status = ?", payment.ID, billing.StatusPending).
		Update("status", billing.StatusSucceeded)
	if res.Error != nil {
		return fmt.Errorf("record capture before refund: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil // rival delivery owns the payment
	}

	now := time.Now()
	for _, reg := range regs {
		if err := registration.Cancel(database.DB, reg.ID, now); err != nil &&
			!errors.Is(err, registration.ErrAlreadyCancelled) {
			logging.L.Error("cancel registration after lost seat",
				zap.Uint("registration_id", reg.ID), zap.Error(err))
		}
	}

	refundRef, err := stripegw.Default.Refund(intentID, payment.FinalAmount)
	if err != nil {
		// Money captured, seat refused, refund failed: flag for an operator
		// rather than holding the seat hostage to the billing system.
		logging.L.Error("automatic refund failed, flagging payment",
			zap.Uint("payment_id", payment.ID), zap.Error(err))
		if dbErr := database.DB.Model(&billing.Payment{}).
			Where("id = ?", payment.ID).
			Update("needs_manual_review", true).Error; dbErr != nil {
			return fmt.Errorf("flag payment for review: %w", dbErr)
		}
		return nil
	}

	if err := database.DB.Model(&billing.Payment{}).
		Where("id = ? AND status = ?", payment.ID, billing.StatusSucceeded).
		Updates(map[string]interface{}{
			"status":          billing.StatusRefunded,
			"refund_id":       refundRef,
			"refunded_amount": payment.FinalAmount,
		}).Error; err != nil {
		return fmt.Errorf("mark payment refunded: %w", err)
	}

	logging.L.Info("payment auto-refunded, seminar full",
		zap.Uint("payment_id", payment.ID),
		zap.String("refund_ref", refundRef))
	return nil
}
