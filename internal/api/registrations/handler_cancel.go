package registrations

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"seminar-app/database"
	"seminar-app/internal/domain/billing"
	"seminar-app/internal/domain/catalog"
	"seminar-app/internal/domain/refund"
	"seminar-app/internal/domain/registration"
	"seminar-app/internal/infra/logging"
	"seminar-app/internal/infra/mailqueue"
	"seminar-app/internal/infra/stripegw"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Mail is used to silence reminders for a cancelled seat. Wired at startup.
var Mail *mailqueue.Scheduler

// CancelRegistration gives up a seat. A confirmed, paid seat inside the
// refund window is refunded per policy; if the gateway refuses the refund
// the cancellation still goes through and the payment is flagged for an
// operator ("fail open toward the user, fail closed toward the books").
func CancelRegistration(c *gin.Context) {
	id64, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid registration id"})
		return
	}
	regID := uint(id64)

	userID := c.GetUint("user_id")
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not identified"})
		return
	}

	var reg registration.Registration
	if err := database.DB.First(&reg, regID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Registration not found"})
		return
	}
	if reg.UserID != userID && c.GetString("role") != "admin" {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not your registration"})
		return
	}
	if reg.Status == registration.StatusCancelled {
		c.JSON(http.StatusConflict, gin.H{"error": "Registration is already cancelled"})
		return
	}

	var sem catalog.Seminar
	if err := database.DB.First(&sem, reg.SeminarID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load seminar"})
		return
	}

	now := time.Now()

	// Refund eligibility: confirmed seat backed by a succeeded payment.
	var payment *billing.Payment
	if reg.PaymentID != nil {
		var p billing.Payment
		if err := database.DB.First(&p, *reg.PaymentID).Error; err == nil {
			payment = &p
		}
	}
	refundable := reg.Status == registration.StatusConfirmed &&
		payment != nil && payment.Status == billing.StatusSucceeded

	if !refundable {
		// Never-paid or still-pending seats just transition with zero refund.
		if err := registration.Cancel(database.DB, reg.ID, now); err != nil {
			if errors.Is(err, registration.ErrAlreadyCancelled) {
				c.JSON(http.StatusConflict, gin.H{"error": "Registration is already cancelled"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel registration"})
			return
		}
		silenceEmails(reg.ID)
		c.JSON(http.StatusOK, gin.H{"refund_amount": 0, "refund_status": "none"})
		return
	}

	pct, err := refund.Evaluate(sem.StartsAt, now)
	if err != nil {
		if errors.Is(err, refund.ErrWindowClosed) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("Cancellation closed: seminar starts in %s",
					refund.UntilStart(sem.StartsAt, now).Round(time.Minute)),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to evaluate refund policy"})
		return
	}
	amount := refund.Amount(payment.FinalAmount, payment.BaseAmount, sem.PriceAmount, pct)

	// The seat is released first; a billing outage must not hold it hostage.
	// Cancel is single-winner, so of two racing requests only the one that
	// flipped the row goes on to the gateway; the money moves once.
	if err := registration.Cancel(database.DB, reg.ID, now); err != nil {
		if errors.Is(err, registration.ErrAlreadyCancelled) {
			c.JSON(http.StatusConflict, gin.H{"error": "Registration is already cancelled"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel registration"})
		return
	}
	silenceEmails(reg.ID)

	refundRef, err := stripegw.Default.Refund(payment.StripePaymentIntentID, amount)
	if err != nil {
		logging.L.Error("refund failed, payment flagged for review",
			zap.Uint("payment_id", payment.ID),
			zap.Uint("registration_id", reg.ID),
			zap.Error(err))
		if dbErr := database.DB.Model(&billing.Payment{}).
			Where("id = ?", payment.ID).
			Update("needs_manual_review", true).Error; dbErr != nil {
			logging.L.Error("flag payment for review", zap.Uint("payment_id", payment.ID), zap.Error(dbErr))
		}
		c.JSON(http.StatusOK, gin.H{"refund_amount": amount, "refund_status": "manual_review"})
		return
	}

	updates := map[string]interface{}{
		"refund_id":       refundRef,
		"refunded_amount": payment.RefundedAmount + amount,
	}
	// REFUNDED only once no live registration remains on the payment; a
	// partially refunded cart stays SUCCEEDED.
	var live int64
	if err := database.DB.Model(&registration.Registration{}).
		Where("payment_id = ? AND status <> ?", payment.ID, registration.StatusCancelled).
		Count(&live).Error; err == nil && live == 0 {
		updates["status"] = billing.StatusRefunded
	}
	if err := database.DB.Model(&billing.Payment{}).
		Where("id = ?", payment.ID).
		Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Refund issued but not recorded", "details": err.Error()})
		return
	}

	logging.L.Info("registration cancelled with refund",
		zap.Uint("registration_id", reg.ID),
		zap.Int64("refund_amount", amount),
		zap.Int("refund_pct", pct))
	c.JSON(http.StatusOK, gin.H{"refund_amount": amount, "refund_status": "refunded"})
}

func silenceEmails(registrationID uint) {
	if Mail == nil {
		return
	}
	if _, err := Mail.CancelForRegistration(registrationID); err != nil {
		logging.L.Error("cancel scheduled emails", zap.Uint("registration_id", registrationID), zap.Error(err))
	}
}
