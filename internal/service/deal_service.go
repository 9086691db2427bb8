package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dealradar/redemption-service/internal/model"
)

// DealService provides the venue-facing registry operations. In the
// full marketplace this surface lives in the backend CRUD service; it
// is hosted here so the redemption core runs end to end.
type DealService struct {
	dealRepo DealRepositoryInterface
	now      func() time.Time
}

// NewDealService creates a new DealService with the given repository.
func NewDealService(dealRepo DealRepositoryInterface) *DealService {
	return &DealService{dealRepo: dealRepo, now: time.Now}
}

// NewDealServiceWithClock creates a DealService with a custom clock.
// Primarily used for testing.
func NewDealServiceWithClock(dealRepo DealRepositoryInterface, now func() time.Time) *DealService {
	return &DealService{dealRepo: dealRepo, now: now}
}

// Create creates a new deal owned by the given venue.
// Returns ErrInvalidRequest if request data is nil or the schedule
// window is inverted.
func (s *DealService) Create(ctx context.Context, venueID uuid.UUID, req *model.CreateDealRequest) (*model.Deal, error) {
	// Defense-in-depth: handler validates, but never trust it alone
	if req == nil || !req.EndsAt.After(req.StartsAt) {
		return nil, ErrInvalidRequest
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	deal := &model.Deal{
		ID:             uuid.New(),
		VenueID:        venueID,
		Title:          req.Title,
		StartsAt:       req.StartsAt,
		EndsAt:         req.EndsAt,
		MaxRedemptions: req.MaxRedemptions,
		IsActive:       active,
	}
	if err := s.dealRepo.Insert(ctx, deal); err != nil {
		return nil, err
	}
	return deal, nil
}

// GetByID retrieves a deal with its read-time live/sold-out view.
// Returns ErrDealNotFound if the deal doesn't exist. The view is
// informational; issuance re-validates eligibility in its own
// transaction.
func (s *DealService) GetByID(ctx context.Context, id uuid.UUID) (*model.DealResponse, error) {
	deal, err := s.dealRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get deal: %w", err)
	}
	if deal == nil {
		return nil, ErrDealNotFound
	}
	return DealView(deal, s.now()), nil
}

// DealView projects a deal into its API response shape at an instant.
func DealView(deal *model.Deal, now time.Time) *model.DealResponse {
	return &model.DealResponse{
		ID:              deal.ID,
		VenueID:         deal.VenueID,
		Title:           deal.Title,
		StartsAt:        deal.StartsAt,
		EndsAt:          deal.EndsAt,
		MaxRedemptions:  deal.MaxRedemptions,
		RedemptionCount: deal.RedemptionCount,
		IsActive:        deal.IsActive,
		Live:            deal.Live(now),
		SoldOut:         deal.SoldOut(),
	}
}
