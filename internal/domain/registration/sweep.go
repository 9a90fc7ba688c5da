package registration

import (
	"fmt"
	"time"

	"seminar-app/internal/domain/billing"

	"gorm.io/gorm"
)

// SweepStalePending cancels PENDING registrations older than ttl whose
// payment never reached an outcome. A webhook that lands after the sweep
// finds the registration CANCELLED and the reconciler refunds the charge.
// Returns the number of registrations cancelled.
func SweepStalePending(db *gorm.DB, ttl time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-ttl)

	var ids []uint
	err := db.Model(&Registration{}).
		Joins("LEFT JOIN payments ON payments.id = registrations.payment_id").
		Where("registrations.status = ? AND registrations.created_at < ?", StatusPending, cutoff).
		Where("payments.id IS NULL OR payments.status = ?", billing.StatusPending).
		Pluck("registrations.id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("find stale pending registrations: %w", err)
	}

	var swept int64
	for _, id := range ids {
		if err := Cancel(db, id, now); err != nil {
			continue
		}
		swept++
	}
	return swept, nil
}
