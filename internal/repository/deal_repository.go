package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealradar/redemption-service/internal/model"
	"github.com/dealradar/redemption-service/internal/service"
	"github.com/dealradar/redemption-service/pkg/database"
)

const dealColumns = `id, venue_id, title, starts_at, ends_at, max_redemptions, redemption_count, is_active, created_at`

// DealRepository provides data access for the deal registry using pgx.
type DealRepository struct {
	pool database.TxQuerier
}

// NewDealRepository creates a new DealRepository with the given pool.
func NewDealRepository(pool *pgxpool.Pool) *DealRepository {
	return &DealRepository{pool: pool}
}

// NewDealRepositoryWithQuerier creates a DealRepository with a custom querier.
// This is primarily used for testing.
func NewDealRepositoryWithQuerier(q database.TxQuerier) *DealRepository {
	return &DealRepository{pool: q}
}

// Insert inserts a new deal into the registry.
func (r *DealRepository) Insert(ctx context.Context, deal *model.Deal) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO deals (id, venue_id, title, starts_at, ends_at, max_redemptions, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		deal.ID, deal.VenueID, deal.Title, deal.StartsAt, deal.EndsAt, deal.MaxRedemptions, deal.IsActive)
	if err != nil {
		return fmt.Errorf("insert deal %s: %w", deal.ID, err)
	}
	return nil
}

// GetByID retrieves a deal by id.
// Returns nil, nil if the deal is not found (service layer handles this).
func (r *DealRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Deal, error) {
	return scanDeal(r.pool.QueryRow(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE id = $1`, id), id, false)
}

// GetForUpdate retrieves a deal with a row lock (SELECT FOR UPDATE).
// Issuance serializes on this lock so cap checks cannot overcommit.
// Returns service.ErrDealNotFound if the deal doesn't exist.
func (r *DealRepository) GetForUpdate(ctx context.Context, tx database.TxQuerier, id uuid.UUID) (*model.Deal, error) {
	deal, err := scanDeal(tx.QueryRow(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE id = $1 FOR UPDATE`, id), id, true)
	if err != nil {
		return nil, err
	}
	return deal, nil
}

// Get retrieves a deal by id through an arbitrary querier, typically a
// transaction that just consumed a claim.
func (r *DealRepository) Get(ctx context.Context, q database.TxQuerier, id uuid.UUID) (*model.Deal, error) {
	return scanDeal(q.QueryRow(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE id = $1`, id), id, false)
}

// IncrementRedemptionCount bumps the registry counter for a deal.
// Must run in the same transaction as the claim consume CAS: the CAS
// firing at most once per claim is what keeps the counter exact under
// retries.
func (r *DealRepository) IncrementRedemptionCount(ctx context.Context, tx database.TxQuerier, id uuid.UUID) error {
	_, err := tx.Exec(ctx,
		`UPDATE deals SET redemption_count = redemption_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment redemption count for %s: %w", id, err)
	}
	return nil
}

func scanDeal(row pgx.Row, id uuid.UUID, notFoundAsErr bool) (*model.Deal, error) {
	var deal model.Deal
	err := row.Scan(
		&deal.ID,
		&deal.VenueID,
		&deal.Title,
		&deal.StartsAt,
		&deal.EndsAt,
		&deal.MaxRedemptions,
		&deal.RedemptionCount,
		&deal.IsActive,
		&deal.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if notFoundAsErr {
				return nil, service.ErrDealNotFound
			}
			return nil, nil // Not found - let service handle
		}
		return nil, fmt.Errorf("get deal %s: %w", id, err)
	}
	return &deal, nil
}
