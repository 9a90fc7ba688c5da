package stripewebhooks_test

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"seminar-app/config"
	"seminar-app/database"
	routes "seminar-app/internal/app/http"
	"seminar-app/internal/domain/billing"
	"seminar-app/internal/domain/catalog"
	"seminar-app/internal/domain/mailer"
	"seminar-app/internal/domain/registration"
	"seminar-app/internal/infra/mailqueue"
	"seminar-app/internal/infra/stripegw"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const webhookSecret = "whsec_test"

type fakeGateway struct {
	mu        sync.Mutex
	refunds   map[string]int64
	refundErr error
}

func (f *fakeGateway) CreateIntent(amount int64, currency string, metadata map[string]string) (*stripegw.Intent, error) {
	return &stripegw.Intent{Handle: "pi_fake", ClientToken: "cs_fake"}, nil
}

func (f *fakeGateway) Refund(handle string, amount int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return "", f.refundErr
	}
	if f.refunds == nil {
		f.refunds = map[string]int64{}
	}
	f.refunds[handle] += amount
	return "re_fake", nil
}

func setupEnv(t *testing.T) (*gorm.DB, *gin.Engine, *fakeGateway) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("STRIPE_WEBHOOK_SECRET", webhookSecret)
	config.JWT_SECRET = "test-secret"

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	database.DB = db

	gw := &fakeGateway{}
	stripegw.Default = gw

	mail := mailqueue.NewScheduler(db, nopSender{}, nil, time.Minute, 3)
	r := gin.New()
	routes.RegisterRoutes(r, mail)
	return db, r, gw
}

type nopSender struct{}

func (nopSender) Send(to, subject, body string) error { return nil }

func seedSeminar(t *testing.T, db *gorm.DB, capacity int) *catalog.Seminar {
	t.Helper()
	sem := &catalog.Seminar{
		Title:       "Production Go",
		StartsAt:    time.Now().Add(72 * time.Hour),
		EndsAt:      time.Now().Add(75 * time.Hour),
		PriceAmount: 5000,
		Capacity:    capacity,
		Published:   true,
		Active:      true,
	}
	require.NoError(t, db.Create(sem).Error)
	return sem
}

// seedCheckout plants the rows the checkout endpoint would have written:
// a PENDING payment and one PENDING registration per seminar.
func seedCheckout(t *testing.T, db *gorm.DB, intentID string, userID uint, seminars ...*catalog.Seminar) (*billing.Payment, []uint) {
	t.Helper()
	var total int64
	ids := make([]uint, 0, len(seminars))
	for _, sem := range seminars {
		total += sem.PriceAmount
		ids = append(ids, sem.ID)
	}
	meta, err := json.Marshal(map[string]interface{}{
		"user_id": userID, "user_email": "attendee@example.com", "seminar_ids": ids,
	})
	require.NoError(t, err)

	payment := &billing.Payment{
		UserID:                userID,
		StripePaymentIntentID: intentID,
		BaseAmount:            total,
		FinalAmount:           total,
		Status:                billing.StatusPending,
		Metadata:              string(meta),
	}
	require.NoError(t, db.Create(payment).Error)

	var regIDs []uint
	for _, sem := range seminars {
		reg := &registration.Registration{
			UserID:    userID,
			SeminarID: sem.ID,
			PaymentID: &payment.ID,
			Status:    registration.StatusPending,
		}
		require.NoError(t, db.Create(reg).Error)
		regIDs = append(regIDs, reg.ID)
	}
	return payment, regIDs
}

func signedEvent(t *testing.T, eventType, intentID, intentStatus string) (*bytes.Reader, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":     "evt_" + intentID,
		"object": "event",
		"type":   eventType,
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":     intentID,
				"object": "payment_intent",
				"status": intentStatus,
			},
		},
	})
	require.NoError(t, err)

	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	header := fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
	return bytes.NewReader(payload), header
}

func deliver(t *testing.T, r *gin.Engine, eventType, intentID, intentStatus string) *httptest.ResponseRecorder {
	t.Helper()
	body, header := signedEvent(t, eventType, intentID, intentStatus)
	req := httptest.NewRequest(http.MethodPost, "/webhook", body)
	req.Header.Set("Stripe-Signature", header)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	_, r, _ := setupEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookSuccessConfirmsSeat(t *testing.T) {
	db, r, _ := setupEnv(t)
	sem := seedSeminar(t, db, 5)
	payment, regIDs := seedCheckout(t, db, "pi_1", 7, sem)

	w := deliver(t, r, "payment_intent.succeeded", "pi_1", "succeeded")
	assert.Equal(t, http.StatusOK, w.Code)

	var gotPayment billing.Payment
	require.NoError(t, db.First(&gotPayment, payment.ID).Error)
	assert.Equal(t, billing.StatusSucceeded, gotPayment.Status)

	var reg registration.Registration
	require.NoError(t, db.First(&reg, regIDs[0]).Error)
	assert.Equal(t, registration.StatusConfirmed, reg.Status)

	// Confirmation, reminder and follow-up all queued.
	var tasks []mailer.EmailTask
	require.NoError(t, db.Find(&tasks).Error)
	kinds := map[string]bool{}
	for _, task := range tasks {
		kinds[task.Kind] = true
		assert.Equal(t, "attendee@example.com", task.Recipient)
		assert.Equal(t, mailer.StatusScheduled, task.Status)
	}
	assert.True(t, kinds[mailer.KindConfirmation])
	assert.True(t, kinds[mailer.KindReminder])
	assert.True(t, kinds[mailer.KindFollowUp])
}

func TestWebhookReplayIsIdempotent(t *testing.T) {
	db, r, gw := setupEnv(t)
	sem := seedSeminar(t, db, 5)
	payment, _ := seedCheckout(t, db, "pi_1", 7, sem)

	for i := 0; i < 3; i++ {
		w := deliver(t, r, "payment_intent.succeeded", "pi_1", "succeeded")
		assert.Equal(t, http.StatusOK, w.Code)
	}

	confirmed, err := registration.ConfirmedCount(db, sem.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), confirmed)

	var gotPayment billing.Payment
	require.NoError(t, db.First(&gotPayment, payment.ID).Error)
	assert.Equal(t, billing.StatusSucceeded, gotPayment.Status)
	assert.Empty(t, gw.refunds)

	// Replays do not pile up duplicate email tasks either.
	var taskCount int64
	require.NoError(t, db.Model(&mailer.EmailTask{}).Count(&taskCount).Error)
	assert.Equal(t, int64(3), taskCount)
}

func TestWebhookFailureHoldsNoSeat(t *testing.T) {
	db, r, _ := setupEnv(t)
	sem := seedSeminar(t, db, 5)
	payment, regIDs := seedCheckout(t, db, "pi_1", 7, sem)

	w := deliver(t, r, "payment_intent.payment_failed", "pi_1", "requires_payment_method")
	assert.Equal(t, http.StatusOK, w.Code)

	var gotPayment billing.Payment
	require.NoError(t, db.First(&gotPayment, payment.ID).Error)
	assert.Equal(t, billing.StatusFailed, gotPayment.Status)

	var reg registration.Registration
	require.NoError(t, db.First(&reg, regIDs[0]).Error)
	assert.Equal(t, registration.StatusCancelled, reg.Status)

	confirmed, err := registration.ConfirmedCount(db, sem.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), confirmed)
}

func TestWebhookOverbookingSafetyValve(t *testing.T) {
	db, r, gw := setupEnv(t)
	sem := seedSeminar(t, db, 1)
	_, firstRegs := seedCheckout(t, db, "pi_first", 1, sem)
	second, secondRegs := seedCheckout(t, db, "pi_second", 2, sem)

	assert.Equal(t, http.StatusOK, deliver(t, r, "payment_intent.succeeded", "pi_first", "succeeded").Code)
	assert.Equal(t, http.StatusOK, deliver(t, r, "payment_intent.succeeded", "pi_second", "succeeded").Code)

	// Exactly one seat confirmed.
	confirmed, err := registration.ConfirmedCount(db, sem.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), confirmed)

	var winner registration.Registration
	require.NoError(t, db.First(&winner, firstRegs[0]).Error)
	assert.Equal(t, registration.StatusConfirmed, winner.Status)

	// The loser's charge came back in full and its registration closed.
	var loser registration.Registration
	require.NoError(t, db.First(&loser, secondRegs[0]).Error)
	assert.Equal(t, registration.StatusCancelled, loser.Status)

	var gotPayment billing.Payment
	require.NoError(t, db.First(&gotPayment, second.ID).Error)
	assert.Equal(t, billing.StatusRefunded, gotPayment.Status)
	assert.Equal(t, gotPayment.FinalAmount, gotPayment.RefundedAmount)
	assert.Equal(t, gotPayment.FinalAmount, gw.refunds["pi_second"])
}

func TestWebhookSafetyValveRefundFailureFlagsPayment(t *testing.T) {
	db, r, gw := setupEnv(t)
	gw.refundErr = fmt.Errorf("gateway down")
	sem := seedSeminar(t, db, 1)
	seedCheckout(t, db, "pi_first", 1, sem)
	second, _ := seedCheckout(t, db, "pi_second", 2, sem)

	assert.Equal(t, http.StatusOK, deliver(t, r, "payment_intent.succeeded", "pi_first", "succeeded").Code)
	assert.Equal(t, http.StatusOK, deliver(t, r, "payment_intent.succeeded", "pi_second", "succeeded").Code)

	var gotPayment billing.Payment
	require.NoError(t, db.First(&gotPayment, second.ID).Error)
	assert.Equal(t, billing.StatusSucceeded, gotPayment.Status)
	assert.True(t, gotPayment.NeedsManualReview)
}

func TestWebhookConcurrentDeliveriesReconcileOnce(t *testing.T) {
	db, r, gw := setupEnv(t)
	sem := seedSeminar(t, db, 5)
	payment, _ := seedCheckout(t, db, "pi_1", 7, sem)

	// The same event lands twice at once. The conditional claim on the
	// payment row means only one delivery reconciles; the other backs off
	// without queueing a second set of emails or touching the gateway.
	var wg sync.WaitGroup
	codes := make([]int, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = deliver(t, r, "payment_intent.succeeded", "pi_1", "succeeded").Code
		}(i)
	}
	wg.Wait()

	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}

	confirmed, err := registration.ConfirmedCount(db, sem.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), confirmed)

	var gotPayment billing.Payment
	require.NoError(t, db.First(&gotPayment, payment.ID).Error)
	assert.Equal(t, billing.StatusSucceeded, gotPayment.Status)
	assert.Empty(t, gw.refunds)

	var taskCount int64
	require.NoError(t, db.Model(&mailer.EmailTask{}).Count(&taskCount).Error)
	assert.Equal(t, int64(3), taskCount)
}

func TestWebhookOversizedBodyRejected(t *testing.T) {
	_, r, _ := setupEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(make([]byte, 70000)))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWebhookUnknownIntentAcknowledged(t *testing.T) {
	_, r, _ := setupEnv(t)
	w := deliver(t, r, "payment_intent.succeeded", "pi_ghost", "succeeded")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ignored")
}

func TestWebhookIgnoresUnrelatedEvents(t *testing.T) {
	_, r, _ := setupEnv(t)
	w := deliver(t, r, "customer.created", "cus_1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ignored")
}
