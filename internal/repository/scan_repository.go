package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealradar/redemption-service/internal/model"
	"github.com/dealradar/redemption-service/pkg/database"
)

// ScanRepository provides access to the append-only scan audit trail.
type ScanRepository struct {
	pool database.TxQuerier
}

// NewScanRepository creates a new ScanRepository with the given pool.
func NewScanRepository(pool *pgxpool.Pool) *ScanRepository {
	return &ScanRepository{pool: pool}
}

// NewScanRepositoryWithQuerier creates a ScanRepository with a custom querier.
// This is primarily used for testing.
func NewScanRepositoryWithQuerier(q database.TxQuerier) *ScanRepository {
	return &ScanRepository{pool: q}
}

// Insert appends one scan attempt. Runs outside the verify transaction
// so an audit failure can never change a verification outcome.
func (r *ScanRepository) Insert(ctx context.Context, attempt *model.ScanAttempt) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO scan_attempts (token, claim_id, scanner_session_id, outcome, attempted_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		attempt.Token, attempt.ClaimID, attempt.ScannerSessionID, attempt.Outcome, attempt.AttemptedAt)
	if err != nil {
		return fmt.Errorf("insert scan attempt: %w", err)
	}
	return nil
}

// CountSince counts attempts by one scanner session after the given
// instant. Backs the scan-velocity flag.
func (r *ScanRepository) CountSince(ctx context.Context, scannerSessionID string, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM scan_attempts WHERE scanner_session_id = $1 AND attempted_at > $2`,
		scannerSessionID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count scan attempts for %s: %w", scannerSessionID, err)
	}
	return n, nil
}
