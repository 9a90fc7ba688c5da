package checkout_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"seminar-app/config"
	"seminar-app/database"
	routes "seminar-app/internal/app/http"
	"seminar-app/internal/domain/billing"
	"seminar-app/internal/domain/catalog"
	"seminar-app/internal/domain/registration"
	"seminar-app/internal/infra/mailqueue"
	"seminar-app/internal/infra/stripegw"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeGateway struct {
	intents int
	err     error
}

func (f *fakeGateway) CreateIntent(amount int64, currency string, metadata map[string]string) (*stripegw.Intent, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.intents++
	return &stripegw.Intent{
		Handle:      fmt.Sprintf("pi_fake_%d", f.intents),
		ClientToken: fmt.Sprintf("cs_fake_%d", f.intents),
	}, nil
}

func (f *fakeGateway) Refund(handle string, amount int64) (string, error) {
	return "re_fake", nil
}

type nopSender struct{}

func (nopSender) Send(to, subject, body string) error { return nil }

func setupEnv(t *testing.T) (*gorm.DB, *gin.Engine, *fakeGateway) {
	t.Helper()
	gin.SetMode(gin.TestMode)
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

	r := gin.New()
	routes.RegisterRoutes(r, mailqueue.NewScheduler(db, nopSender{}, nil, time.Minute, 3))
	return db, r, gw
}

func authToken(t *testing.T, userID uint, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": float64(userID),
		"email":   "attendee@example.com",
		"role":    role,
	})
	signed, err := token.SignedString([]byte(config.JWT_SECRET))
	require.NoError(t, err)
	return signed
}

func seedSeminar(t *testing.T, db *gorm.DB, title string, price int64, capacity int) *catalog.Seminar {
	t.Helper()
	sem := &catalog.Seminar{
		Title:       title,
		StartsAt:    time.Now().Add(72 * time.Hour),
		EndsAt:      time.Now().Add(75 * time.Hour),
		PriceAmount: price,
		Capacity:    capacity,
		Published:   true,
		Active:      true,
	}
	require.NoError(t, db.Create(sem).Error)
	return sem
}

func postCheckout(t *testing.T, r *gin.Engine, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCheckoutRequiresAuth(t *testing.T) {
	_, r, _ := setupEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewReader([]byte(`{"seminar_id":1}`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCheckoutEmptyCart(t *testing.T) {
	_, r, _ := setupEnv(t)
	w := postCheckout(t, r, authToken(t, 7, "user"), map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckoutUnknownSeminar(t *testing.T) {
	_, r, _ := setupEnv(t)
	w := postCheckout(t, r, authToken(t, 7, "user"), map[string]interface{}{"seminar_id": 999})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckoutFullSeminar(t *testing.T) {
	db, r, _ := setupEnv(t)
	sem := seedSeminar(t, db, "Full", 5000, 1)
	require.NoError(t, db.Create(&registration.Registration{
		UserID: 1, SeminarID: sem.ID, Status: registration.StatusConfirmed,
	}).Error)

	w := postCheckout(t, r, authToken(t, 7, "user"), map[string]interface{}{"seminar_id": sem.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCheckoutUnpublishedSeminar(t *testing.T) {
	db, r, _ := setupEnv(t)
	sem := seedSeminar(t, db, "Draft", 5000, 5)
	require.NoError(t, db.Model(sem).Update("published", false).Error)

	w := postCheckout(t, r, authToken(t, 7, "user"), map[string]interface{}{"seminar_id": sem.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCheckoutCreatesPendingState(t *testing.T) {
	db, r, _ := setupEnv(t)
	a := seedSeminar(t, db, "A", 3000, 5)
	b := seedSeminar(t, db, "B", 5000, 5)
	require.NoError(t, db.Create(&catalog.DiscountRule{
		MinCourses: 2, DiscountAmount: 1000, Active: true,
	}).Error)

	w := postCheckout(t, r, authToken(t, 7, "user"), map[string]interface{}{
		"seminar_ids": []uint{a.ID, b.ID},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		ClientToken     string `json:"client_token"`
		FinalAmount     int64  `json:"final_amount"`
		BaseAmount      int64  `json:"base_amount"`
		RegistrationIDs []uint `json:"registration_ids"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "cs_fake_1", resp.ClientToken)
	assert.Equal(t, int64(8000), resp.BaseAmount)
	assert.Equal(t, int64(7000), resp.FinalAmount)
	require.Len(t, resp.RegistrationIDs, 2)

	var payment billing.Payment
	require.NoError(t, db.Where("stripe_payment_intent_id = ?", "pi_fake_1").First(&payment).Error)
	assert.Equal(t, billing.StatusPending, payment.Status)
	assert.Equal(t, int64(7000), payment.FinalAmount)

	var regs []registration.Registration
	require.NoError(t, db.Where("payment_id = ?", payment.ID).Find(&regs).Error)
	require.Len(t, regs, 2)
	for _, reg := range regs {
		assert.Equal(t, registration.StatusPending, reg.Status)
	}

	// No seat held before the webhook lands.
	confirmed, err := registration.ConfirmedCount(db, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), confirmed)
}

func TestCheckoutGatewayFailureLeavesNoState(t *testing.T) {
	db, r, gw := setupEnv(t)
	sem := seedSeminar(t, db, "A", 3000, 5)
	gw.err = fmt.Errorf("gateway unreachable")

	w := postCheckout(t, r, authToken(t, 7, "user"), map[string]interface{}{"seminar_id": sem.ID})
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var payments int64
	require.NoError(t, db.Model(&billing.Payment{}).Count(&payments).Error)
	assert.Equal(t, int64(0), payments)
	var regs int64
	require.NoError(t, db.Model(&registration.Registration{}).Count(&regs).Error)
	assert.Equal(t, int64(0), regs)
}

func TestCheckoutRejectsDuplicateCartEntries(t *testing.T) {
	db, r, _ := setupEnv(t)
	sem := seedSeminar(t, db, "A", 3000, 5)

	w := postCheckout(t, r, authToken(t, 7, "user"), map[string]interface{}{
		"seminar_ids": []uint{sem.ID, sem.ID},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
