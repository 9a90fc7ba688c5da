package registration

import "time"

// Registration statuses. CANCELLED is terminal.
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusCancelled = "CANCELLED"
)

// Registration is one user's claim on one seat in a seminar. Its lifecycle
// is independent of payment completion: the row is created PENDING at
// checkout and only becomes CONFIRMED once a verified payment event lands
// and the capacity check passes.
type Registration struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UserID      uint       `gorm:"index" json:"user_id"`
	SeminarID   uint       `gorm:"index" json:"seminar_id"`
	PaymentID   *uint      `gorm:"index" json:"payment_id,omitempty"`
	Status      string     `gorm:"index" json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}
