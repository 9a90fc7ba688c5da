package admin

import (
	"net/http"
	"time"

	"seminar-app/database"
	"seminar-app/internal/domain/billing"
	"seminar-app/internal/domain/catalog"
	"seminar-app/internal/domain/registration"

	"github.com/gin-gonic/gin"
)

type AdminPayment struct {
	ID                uint    `json:"id"`
	UserID            uint    `json:"user_id"`
	IntentID          string  `json:"intent_id"`
	FinalAmount       int64   `json:"final_amount"`
	RefundedAmount    int64   `json:"refunded_amount"`
	Status            string  `json:"status"`
	NeedsManualReview bool    `json:"needs_manual_review"`
	RefundID          *string `json:"refund_id,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

type SeminarOccupancy struct {
	SeminarID uint   `json:"seminar_id"`
	Title     string `json:"title"`
	Capacity  int    `json:"capacity"`
	Confirmed int64  `json:"confirmed"`
}

type AdminStats struct {
	TotalRevenue   int64              `json:"total_revenue"`
	RecentRevenue  int64              `json:"recent_revenue"`
	ConfirmedSeats int64              `json:"confirmed_seats"`
	Occupancy      []SeminarOccupancy `json:"occupancy"`
}

// ListAllPayments is the operator payment view; ?needs_review=1 narrows it
// to charges waiting on manual reconciliation after a failed refund.
func ListAllPayments(c *gin.Context) {
	q := database.DB.Order("created_at DESC")
	if c.Query("needs_review") == "1" {
		q = q.Where("needs_manual_review = ?", true)
	}

	var payments []billing.Payment
	if err := q.Find(&payments).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payments"})
		return
	}

	var result []AdminPayment
	for _, p := range payments {
		result = append(result, AdminPayment{
			ID:                p.ID,
			UserID:            p.UserID,
			IntentID:          p.StripePaymentIntentID,
			FinalAmount:       p.FinalAmount,
			RefundedAmount:    p.RefundedAmount,
			Status:            p.Status,
			NeedsManualReview: p.NeedsManualReview,
			RefundID:          p.RefundID,
			CreatedAt:         p.CreatedAt.Format("2006-01-02 15:04"),
		})
	}

	c.JSON(http.StatusOK, result)
}

// GetAdminStats reports revenue and seat totals. Occupancy counts are
// derived from confirmed registrations, same as the capacity check.
func GetAdminStats(c *gin.Context) {
	var stats AdminStats

	database.DB.Model(&billing.Payment{}).
		Where("status IN ?", []string{billing.StatusSucceeded, billing.StatusRefunded}).
		Select("COALESCE(SUM(final_amount - refunded_amount), 0)").
		Scan(&stats.TotalRevenue)

	thirtyDaysAgo := time.Now().AddDate(0, 0, -30)
	database.DB.Model(&billing.Payment{}).
		Where("status IN ? AND created_at >= ?", []string{billing.StatusSucceeded, billing.StatusRefunded}, thirtyDaysAgo).
		Select("COALESCE(SUM(final_amount - refunded_amount), 0)").
		Scan(&stats.RecentRevenue)

	database.DB.Model(&registration.Registration{}).
		Where("status = ?", registration.StatusConfirmed).
		Count(&stats.ConfirmedSeats)

	var seminars []catalog.Seminar
	if err := database.DB.Where("active = ?", true).Order("starts_at ASC").Find(&seminars).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load seminars"})
		return
	}
	for _, sem := range seminars {
		confirmed, err := registration.ConfirmedCount(database.DB, sem.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count registrations"})
			return
		}
		stats.Occupancy = append(stats.Occupancy, SeminarOccupancy{
			SeminarID: sem.ID,
			Title:     sem.Title,
			Capacity:  sem.Capacity,
			Confirmed: confirmed,
		})
	}

	c.JSON(http.StatusOK, stats)
}
