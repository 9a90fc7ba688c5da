// Package pricing computes the charge for a cart of seminars and picks the
// best matching discount rule. It is read-only over the catalog.
package pricing

import (
	"errors"
	"fmt"

	"seminar-app/internal/domain/catalog"

	"gorm.io/gorm"
)

// ErrEmptyCart is returned for a cart with no seminar ids.
var ErrEmptyCart = errors.New("cart is empty")

// ErrSeminarNotFound is returned when any cart id is unknown or inactive.
var ErrSeminarNotFound = errors.New("seminar not found")

// Quote is the priced cart. FinalAmount is never negative.
type Quote struct {
	BaseAmount     int64                 `json:"base_amount"`
	DiscountAmount int64                 `json:"discount_amount"`
	FinalAmount    int64                 `json:"final_amount"`
	AppliedRule    *catalog.DiscountRule `json:"applied_rule,omitempty"`
	Seminars       []catalog.Seminar     `json:"-"`
}

// Resolve sums the price of every seminar in the cart and applies the best
// matching active discount rule. Deterministic given catalog state; no side
// effects.
func Resolve(db *gorm.DB, seminarIDs []uint) (*Quote, error) {
	if len(seminarIDs) == 0 {
		return nil, ErrEmptyCart
	}

	seminars := make([]catalog.Seminar, 0, len(seminarIDs))
	var base int64
	for _, id := range seminarIDs {
		var sem catalog.Seminar
		if err := db.First(&sem, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrSeminarNotFound
			}
			return nil, fmt.Errorf("load seminar %d: %w", id, err)
		}
		if !sem.Active {
			return nil, ErrSeminarNotFound
		}
		seminars = append(seminars, sem)
		base += sem.PriceAmount
	}

	rule, err := bestRule(db, len(seminarIDs))
	if err != nil {
		return nil, err
	}

	quote := &Quote{BaseAmount: base, FinalAmount: base, Seminars: seminars}
	if rule != nil {
		quote.AppliedRule = rule
		quote.DiscountAmount = rule.DiscountAmount
		quote.FinalAmount = base - rule.DiscountAmount
		if quote.FinalAmount < 0 {
			quote.FinalAmount = 0
		}
	}
	return quote, nil
}

// bestRule picks the matching active rule with the largest discount.
// Ties break on smallest min_courses, then lowest id, so resolution is
// deterministic even when two rules offer the same amount.
func bestRule(db *gorm.DB, cartSize int) (*catalog.DiscountRule, error) {
	var rules []catalog.DiscountRule
	if err := db.
		Where("active = ? AND min_courses <= ?", true, cartSize).
		Order("discount_amount DESC, min_courses ASC, id ASC").
		Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("load discount rules: %w", err)
	}

	for i := range rules {
		if rules[i].Matches(cartSize) {
			return &rules[i], nil
		}
	}
	return nil, nil
}
