package checkout

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"seminar-app/config"
	"seminar-app/database"
	"seminar-app/internal/domain/billing"
	"seminar-app/internal/domain/pricing"
	"seminar-app/internal/domain/registration"
	"seminar-app/internal/infra/stripegw"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// IntentMetadata is echoed to the gateway and stored on the Payment row so
// webhook reconciliation can rebuild the cart without trusting the event.
type IntentMetadata struct {
	UserID         uint   `json:"user_id"`
	UserEmail      string `json:"user_email"`
	SeminarIDs     []uint `json:"seminar_ids"`
	DiscountRuleID *uint  `json:"discount_rule_id,omitempty"`
}

// CreateCheckout prices the cart, opens a payment intent with the gateway
// and persists the PENDING payment plus one PENDING registration per
// seminar. The payment row is only written after the gateway call succeeds,
// so a gateway outage leaves no partial state behind.
func CreateCheckout(c *gin.Context) {
	var body struct {
		SeminarID  uint   `json:"seminar_id"`
		SeminarIDs []uint `json:"seminar_ids"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ids := body.SeminarIDs
	if len(ids) == 0 && body.SeminarID != 0 {
		ids = []uint{body.SeminarID}
	}
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cart is empty"})
		return
	}
	seen := make(map[uint]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Duplicate seminar in cart"})
			return
		}
		seen[id] = true
	}

	userID := c.GetUint("user_id")
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not identified"})
		return
	}
	userEmail := c.GetString("email")

	quote, err := pricing.Resolve(database.DB, ids)
	if err != nil {
		switch {
		case errors.Is(err, pricing.ErrEmptyCart):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cart is empty"})
		case errors.Is(err, pricing.ErrSeminarNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Seminar not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to price cart"})
		}
		return
	}

	// Best-effort availability check before charging. The authoritative
	// capacity check happens again at confirmation time.
	now := time.Now()
	for _, sem := range quote.Seminars {
		if !sem.Bookable(now) {
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("Seminar %q is not open for registration", sem.Title)})
			return
		}
		confirmed, err := registration.ConfirmedCount(database.DB, sem.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check availability"})
			return
		}
		if confirmed >= int64(sem.Capacity) {
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("Seminar %q is fully booked", sem.Title)})
			return
		}
	}

	meta := IntentMetadata{
		UserID:     userID,
		UserEmail:  userEmail,
		SeminarIDs: ids,
	}
	if quote.AppliedRule != nil {
		meta.DiscountRuleID = &quote.AppliedRule.ID
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode metadata"})
		return
	}

	intent, err := stripegw.Default.CreateIntent(quote.FinalAmount, config.CURRENCY, map[string]string{
		"user_id":     fmt.Sprint(userID),
		"seminar_ids": joinIDs(ids),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open payment", "details": err.Error()})
		return
	}

	payment := &billing.Payment{
		UserID:                userID,
		StripePaymentIntentID: intent.Handle,
		BaseAmount:            quote.BaseAmount,
		DiscountAmount:        quote.DiscountAmount,
		FinalAmount:           quote.FinalAmount,
		DiscountRuleID:        meta.DiscountRuleID,
		Status:                billing.StatusPending,
		Metadata:              string(metaJSON),
	}

	var regIDs []uint
	err = database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(payment).Error; err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		for _, sem := range quote.Seminars {
			reg, err := registration.Reserve(tx, sem.ID, userID, now)
			if err != nil {
				return err
			}
			if err := tx.Model(&registration.Registration{}).
				Where("id = ?", reg.ID).
				Update("payment_id", payment.ID).Error; err != nil {
				return fmt.Errorf("link registration to payment: %w", err)
			}
			regIDs = append(regIDs, reg.ID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, registration.ErrSeminarNotBookable) {
			c.JSON(http.StatusConflict, gin.H{"error": "Seminar is not open for registration"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record checkout"})
		return
	}

	resp := gin.H{
		"client_token":     intent.ClientToken,
		"payment_id":       payment.ID,
		"registration_ids": regIDs,
		"base_amount":      quote.BaseAmount,
		"final_amount":     quote.FinalAmount,
	}
	if quote.AppliedRule != nil {
		resp["applied_discount"] = quote.AppliedRule
	}
	c.JSON(http.StatusOK, resp)
}

func joinIDs(ids []uint) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ",")
}
