package registration

import (
	"errors"
	"fmt"
	"time"

	"seminar-app/internal/domain/catalog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a registration or its seminar does not exist.
var ErrNotFound = errors.New("registration not found")

// ErrSeminarNotBookable is returned when the seminar is inactive,
// unpublished, or already started.
var ErrSeminarNotBookable = errors.New("seminar is not open for registration")

// ErrCapacityExceeded is returned when confirming would push the seminar
// past its capacity. The registration stays PENDING.
var ErrCapacityExceeded = errors.New("seminar is fully booked")

// ErrAlreadyCancelled is returned for any transition attempted on a
// CANCELLED registration.
var ErrAlreadyCancelled = errors.New("registration is already cancelled")

// ErrNotPending is returned when Confirm is called on a non-PENDING row.
var ErrNotPending = errors.New("registration is not pending")

// Reserve opens a PENDING registration for the user. No capacity is taken
// here; seats are only counted at confirmation time.
func Reserve(db *gorm.DB, seminarID, userID uint, now time.Time) (*Registration, error) {
	var sem catalog.Seminar
	if err := db.First(&sem, seminarID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load seminar: %w", err)
	}
	if !sem.Bookable(now) {
		return nil, ErrSeminarNotBookable
	}

	reg := &Registration{
		UserID:    userID,
		SeminarID: seminarID,
		Status:    StatusPending,
	}
	if err := db.Create(reg).Error; err != nil {
		return nil, fmt.Errorf("create registration: %w", err)
	}
	return reg, nil
}

// Confirm moves a PENDING registration to CONFIRMED, re-deriving the live
// CONFIRMED count for its seminar inside the same transaction as the write.
// Recomputing from the registrations table (instead of bumping a stored
// counter) keeps the count self-healing across webhook retries and crashes.
func Confirm(db *gorm.DB, registrationID uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var reg Registration
		if err := tx.First(&reg, registrationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load registration: %w", err)
		}
		switch reg.Status {
		case StatusConfirmed:
			return nil // idempotent
		case StatusCancelled:
			return ErrAlreadyCancelled
		case StatusPending:
		default:
			return ErrNotPending
		}

		// Pin the seminar row so racing confirms for the same seminar
		// serialize. SQLite (tests) takes a whole-database write lock and
		// rejects FOR UPDATE syntax.
		semTx := tx
		if tx.Dialector.Name() == "postgres" {
			semTx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var sem catalog.Seminar
		if err := semTx.First(&sem, reg.SeminarID).Error; err != nil {
			return fmt.Errorf("load seminar: %w", err)
		}

		var confirmed int64
		if err := tx.Model(&Registration{}).
			Where("seminar_id = ? AND status = ?", reg.SeminarID, StatusConfirmed).
			Count(&confirmed).Error; err != nil {
			return fmt.Errorf("count confirmed: %w", err)
		}
		if confirmed >= int64(sem.Capacity) {
			return ErrCapacityExceeded
		}

		res := tx.Model(&Registration{}).
			Where("id = ? AND status = ?", reg.ID, StatusPending).
			Update("status", StatusConfirmed)
		if res.Error != nil {
			return fmt.Errorf("confirm registration: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// The row moved under us between the read and the write.
			if err := tx.First(&reg, reg.ID).Error; err != nil {
				return fmt.Errorf("reload registration: %w", err)
			}
			if reg.Status == StatusConfirmed {
				return nil
			}
			return ErrAlreadyCancelled
		}
		return nil
	})
}

// Cancel moves a PENDING or CONFIRMED registration to CANCELLED. A seat held
// by a CONFIRMED row is released implicitly: the confirmed count is derived,
// so there is nothing to decrement. The status guard on the update makes the
// transition single-winner: of two racing cancels, exactly one succeeds and
// the other sees ErrAlreadyCancelled.
func Cancel(db *gorm.DB, registrationID uint, now time.Time) error {
	res := db.Model(&Registration{}).
		Where("id = ? AND status IN ?", registrationID, []string{StatusPending, StatusConfirmed}).
		Updates(map[string]interface{}{
			"status":       StatusCancelled,
			"cancelled_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("cancel registration: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var reg Registration
		if err := db.First(&reg, registrationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load registration: %w", err)
		}
		return ErrAlreadyCancelled
	}
	return nil
}

// ConfirmedCount derives the current participant count for a seminar.
func ConfirmedCount(db *gorm.DB, seminarID uint) (int64, error) {
	var n int64
	err := db.Model(&Registration{}).
		Where("seminar_id = ? AND status = ?", seminarID, StatusConfirmed).
		Count(&n).Error
	return n, err
}
