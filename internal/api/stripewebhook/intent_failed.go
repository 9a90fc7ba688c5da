package stripewebhooks

import (
	"errors"
	"fmt"
	"time"

	"seminar-app/database"
	"seminar-app/internal/domain/billing"
	"seminar-app/internal/domain/registration"
	"seminar-app/internal/infra/logging"

	"github.com/stripe/stripe-go/v75"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// reconcileFailed closes out a charge that never completed. The registration
// was PENDING the whole time, so no seat was ever held.
func reconcileFailed(pi *stripe.PaymentIntent) error {
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

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&billing.Payment{}).
			Where("id = ? AND status = ?", payment.ID, billing.StatusPending).
			Update("status", billing.StatusFailed)
		if res.Error != nil {
			return fmt.Errorf("mark payment failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errAlreadyClaimed
		}

		var regs []registration.Registration
		if err := tx.Where("payment_id = ?", payment.ID).Find(&regs).Error; err != nil {
			return fmt.Errorf("load registrations: %w", err)
		}
		now := time.Now()
		for _, reg := range regs {
			if err := registration.Cancel(tx, reg.ID, now); err != nil &&
				!errors.Is(err, registration.ErrAlreadyCancelled) {
				return err
			}
		}

		logging.L.Info("payment failed, registrations cancelled",
			zap.Uint("payment_id", payment.ID),
			zap.String("intent", pi.ID))
		return nil
	})
	if errors.Is(err, errAlreadyClaimed) {
		return nil
	}
	return err
}
