package stripewebhooks

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"

	"seminar-app/internal/infra/logging"
	"seminar-app/internal/infra/mailqueue"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/webhook"
	"go.uber.org/zap"
)

// Mail is the scheduler lifecycle emails are enqueued on. Wired at startup.
var Mail *mailqueue.Scheduler

// errUnknownPayment marks events referencing an intent we never opened.
// Logged and acknowledged so the gateway stops retrying.
var errUnknownPayment = errors.New("unknown payment")

// StripeWebhook is the signed event entrypoint. Signature failures are
// rejected outright and never processed; duplicate or out-of-order events
// converge through the terminal-state checks in the reconcilers.
func StripeWebhook(c *gin.Context) {
	endpointSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if endpointSecret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "STRIPE_WEBHOOK_SECRET not configured"})
		return
	}

	payload, err := readStripeBody(c, 65536)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error reading request body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		payload,
		c.GetHeader("Stripe-Signature"),
		endpointSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		logging.L.Warn("stripe signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Signature verification failed"})
		return
	}

	switch event.Type {
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse payment intent"})
			return
		}
		if err := reconcileSucceeded(&pi); err != nil {
			if errors.Is(err, errUnknownPayment) {
				logging.L.Warn("event for unknown payment intent", zap.String("intent", pi.ID))
				c.JSON(http.StatusOK, gin.H{"status": "ignored"})
				return
			}
			logging.L.Error("reconcile succeeded event", zap.String("intent", pi.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return

	case "payment_intent.payment_failed", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse payment intent"})
			return
		}
		if err := reconcileFailed(&pi); err != nil {
			if errors.Is(err, errUnknownPayment) {
				logging.L.Warn("event for unknown payment intent", zap.String("intent", pi.ID))
				c.JSON(http.StatusOK, gin.H{"status": "ignored"})
				return
			}
			logging.L.Error("reconcile failed event", zap.String("intent", pi.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return

	default:
		// Acknowledge unknown events to avoid retries
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
}

func readStripeBody(c *gin.Context, maxBytes int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	return io.ReadAll(c.Request.Body)
}
