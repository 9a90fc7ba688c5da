package catalog

import "time"

// Seminar is a scheduled, capacity-limited paid live event. Capacity is a
// ceiling only; the number of taken seats is always derived from confirmed
// registrations and never stored here.
type Seminar struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	PriceAmount int64     `json:"price_amount"` // smallest currency unit
	Capacity    int       `json:"capacity"`
	Published   bool      `json:"published"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Bookable reports whether new registrations may be opened against the
// seminar at the given time.
func (s *Seminar) Bookable(now time.Time) bool {
	return s.Active && s.Published && s.StartsAt.After(now)
}
