package catalog

import "time"

// DiscountRule grants a fixed amount off when a cart holds between
// MinCourses and MaxCourses seminars (MaxCourses nil = no ceiling).
// Rules are immutable once created; retiring one means Active=false.
type DiscountRule struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	MinCourses     int       `json:"min_courses"`
	MaxCourses     *int      `json:"max_courses,omitempty"`
	DiscountAmount int64     `json:"discount_amount"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

// Matches reports whether the rule applies to a cart of the given size.
func (r *DiscountRule) Matches(cartSize int) bool {
	if cartSize < r.MinCourses {
		return false
	}
	if r.MaxCourses != nil && cartSize > *r.MaxCourses {
		return false
	}
	return true
}
