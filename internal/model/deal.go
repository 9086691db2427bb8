package model

import (
	"time"

	"github.com/google/uuid"
)

// Deal is the registry record the redemption core reads eligibility from.
// Deal CRUD is venue-side; the core only ever increments RedemptionCount,
// and only when a scan is granted.
type Deal struct {
	ID              uuid.UUID `json:"id"`
	VenueID         uuid.UUID `json:"venue_id"`
	Title           string    `json:"title"`
	StartsAt        time.Time `json:"starts_at"`
	EndsAt          time.Time `json:"ends_at"`
	MaxRedemptions  *int      `json:"max_redemptions"` // nil = unlimited
	RedemptionCount int       `json:"redemption_count"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"-"` // Not exposed in API
}

// Live reports whether the deal is active and inside its schedule window.
func (d *Deal) Live(now time.Time) bool {
	return d.IsActive && !now.Before(d.StartsAt) && !now.After(d.EndsAt)
}

// SoldOut reports whether the redemption cap has been reached.
func (d *Deal) SoldOut() bool {
	return d.MaxRedemptions != nil && d.RedemptionCount >= *d.MaxRedemptions
}

// CreateDealRequest is the DTO for creating a deal.
type CreateDealRequest struct {
	Title          string    `json:"title" validate:"required,notblank,max=255"`
	StartsAt       time.Time `json:"starts_at" validate:"required"`
	EndsAt         time.Time `json:"ends_at" validate:"required"`
	MaxRedemptions *int      `json:"max_redemptions" validate:"omitempty,gte=1"`
	IsActive       *bool     `json:"is_active"`
}

// DealResponse is the API response DTO for GET /api/deals/:dealId.
// Live and SoldOut are read-time views only; issuance re-validates
// eligibility server-side inside its own transaction.
type DealResponse struct {
	ID              uuid.UUID `json:"id"`
	VenueID         uuid.UUID `json:"venue_id"`
	Title           string    `json:"title"`
	StartsAt        time.Time `json:"starts_at"`
	EndsAt          time.Time `json:"ends_at"`
	MaxRedemptions  *int      `json:"max_redemptions"`
	RedemptionCount int       `json:"redemption_count"`
	IsActive        bool      `json:"is_active"`
	Live            bool      `json:"live"`
	SoldOut         bool      `json:"sold_out"`
}
