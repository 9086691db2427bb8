package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealradar/redemption-service/internal/model"
	"github.com/dealradar/redemption-service/internal/service"
	"github.com/dealradar/redemption-service/pkg/database"
)

const claimColumns = `id, deal_id, user_id, status, token, issued_at, expires_at, consumed_at, consumed_by`

// ClaimRepository provides data access for the redemption ledger using pgx.
// All race-sensitive transitions are single conditional statements; no
// method is a read-modify-write from application code.
type ClaimRepository struct {
	pool database.TxQuerier
}

// NewClaimRepository creates a new ClaimRepository with the given pool.
func NewClaimRepository(pool *pgxpool.Pool) *ClaimRepository {
	return &ClaimRepository{pool: pool}
}

// NewClaimRepositoryWithQuerier creates a ClaimRepository with a custom querier.
// This is primarily used for testing.
func NewClaimRepositoryWithQuerier(q database.TxQuerier) *ClaimRepository {
	return &ClaimRepository{pool: q}
}

// Insert inserts a new issued claim within a transaction.
// Returns service.ErrActiveClaimExists when the one-issued-claim-per-
// (deal,user) partial unique index rejects the row.
func (r *ClaimRepository) Insert(ctx context.Context, tx database.TxQuerier, claim *model.RedemptionClaim) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO redemption_claims (id, deal_id, user_id, status, token, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		claim.ID, claim.DealID, claim.UserID, claim.Status, claim.Token, claim.IssuedAt, claim.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return service.ErrActiveClaimExists
		}
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

// GetIssuedForUpdate retrieves the issued claim for (deal, user) with a
// row lock, or nil, nil when none exists. The caller decides whether the
// claim is still within TTL.
func (r *ClaimRepository) GetIssuedForUpdate(ctx context.Context, tx database.TxQuerier, dealID uuid.UUID, userID string) (*model.RedemptionClaim, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+claimColumns+` FROM redemption_claims
		 WHERE deal_id = $1 AND user_id = $2 AND status = 'issued' FOR UPDATE`,
		dealID, userID)
	claim, err := scanClaim(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get issued claim for deal %s: %w", dealID, err)
	}
	return claim, nil
}

// HasConsumed reports whether the user already holds a consumed claim
// for the deal (one redemption per user per deal).
func (r *ClaimRepository) HasConsumed(ctx context.Context, tx database.TxQuerier, dealID uuid.UUID, userID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM redemption_claims
		   WHERE deal_id = $1 AND user_id = $2 AND status = 'consumed')`,
		dealID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check consumed claim for deal %s: %w", dealID, err)
	}
	return exists, nil
}

// CountIssuedSince counts how many claims were minted for (deal, user)
// after the given instant. Backs the regeneration sliding window; rows
// are counted regardless of their current status so voiding codes does
// not reset the window.
func (r *ClaimRepository) CountIssuedSince(ctx context.Context, tx database.TxQuerier, dealID uuid.UUID, userID string, since time.Time) (int, error) {
	var n int
	err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM redemption_claims
		 WHERE deal_id = $1 AND user_id = $2 AND issued_at > $3`,
		dealID, userID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count issued claims for deal %s: %w", dealID, err)
	}
	return n, nil
}

// Void transitions a claim from issued to voided. Used when the user
// regenerates their code; must run in the same transaction as the
// replacement Insert.
func (r *ClaimRepository) Void(ctx context.Context, tx database.TxQuerier, claimID uuid.UUID) error {
	tag, err := tx.Exec(ctx,
		`UPDATE redemption_claims SET status = 'voided' WHERE id = $1 AND status = 'issued'`,
		claimID)
	if err != nil {
		return fmt.Errorf("void claim %s: %w", claimID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("void claim %s: claim no longer issued", claimID)
	}
	return nil
}

// MarkExpired transitions a stale issued claim to expired. Expiry is
// lazy; this is only called when a read or verify observes a past
// expires_at, never from a background sweep.
func (r *ClaimRepository) MarkExpired(ctx context.Context, tx database.TxQuerier, claimID uuid.UUID) error {
	_, err := tx.Exec(ctx,
		`UPDATE redemption_claims SET status = 'expired' WHERE id = $1 AND status = 'issued'`,
		claimID)
	if err != nil {
		return fmt.Errorf("mark claim %s expired: %w", claimID, err)
	}
	return nil
}

// Consume is the verifier's compare-and-set: issued -> consumed, only
// while unexpired, recording who scanned and when. Concurrent calls for
// the same token serialize on the row; exactly one gets it back, the
// rest get nil, nil and classify the denial via GetByToken.
func (r *ClaimRepository) Consume(ctx context.Context, tx database.TxQuerier, dealID uuid.UUID, token, scannerSessionID string, now time.Time) (*model.RedemptionClaim, error) {
	row := tx.QueryRow(ctx,
		`UPDATE redemption_claims
		 SET status = 'consumed', consumed_at = $4, consumed_by = $3
		 WHERE deal_id = $1 AND token = $2 AND status = 'issued' AND expires_at > $4
		 RETURNING `+claimColumns,
		dealID, token, scannerSessionID, now)
	claim, err := scanClaim(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("consume claim: %w", err)
	}
	return claim, nil
}

// GetByToken retrieves a claim by (deal, token), or nil, nil when no
// such claim exists. Scoping to the deal keeps tokens presented under
// the wrong deal endpoint indistinguishable from unknown ones.
func (r *ClaimRepository) GetByToken(ctx context.Context, tx database.TxQuerier, dealID uuid.UUID, token string) (*model.RedemptionClaim, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+claimColumns+` FROM redemption_claims WHERE deal_id = $1 AND token = $2`,
		dealID, token)
	claim, err := scanClaim(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get claim by token: %w", err)
	}
	return claim, nil
}

func scanClaim(row pgx.Row) (*model.RedemptionClaim, error) {
	var claim model.RedemptionClaim
	err := row.Scan(
		&claim.ID,
		&claim.DealID,
		&claim.UserID,
		&claim.Status,
		&claim.Token,
		&claim.IssuedAt,
		&claim.ExpiresAt,
		&claim.ConsumedAt,
		&claim.ConsumedBy,
	)
	if err != nil {
		return nil, err
	}
	return &claim, nil
}
