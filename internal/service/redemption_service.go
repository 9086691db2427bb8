package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/dealradar/redemption-service/internal/config"
	"github.com/dealradar/redemption-service/internal/model"
	"github.com/dealradar/redemption-service/pkg/database"
)

// DealRepositoryInterface defines the interface for deal registry access.
type DealRepositoryInterface interface {
	Insert(ctx context.Context, deal *model.Deal) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Deal, error)
	Get(ctx context.Context, q database.TxQuerier, id uuid.UUID) (*model.Deal, error)
	GetForUpdate(ctx context.Context, tx database.TxQuerier, id uuid.UUID) (*model.Deal, error)
	IncrementRedemptionCount(ctx context.Context, tx database.TxQuerier, id uuid.UUID) error
}

// ClaimRepositoryInterface defines the interface for ledger access.
type ClaimRepositoryInterface interface {
	Insert(ctx context.Context, tx database.TxQuerier, claim *model.RedemptionClaim) error
	GetIssuedForUpdate(ctx context.Context, tx database.TxQuerier, dealID uuid.UUID, userID string) (*model.RedemptionClaim, error)
	HasConsumed(ctx context.Context, tx database.TxQuerier, dealID uuid.UUID, userID string) (bool, error)
	CountIssuedSince(ctx context.Context, tx database.TxQuerier, dealID uuid.UUID, userID string, since time.Time) (int, error)
	Void(ctx context.Context, tx database.TxQuerier, claimID uuid.UUID) error
	MarkExpired(ctx context.Context, tx database.TxQuerier, claimID uuid.UUID) error
	Consume(ctx context.Context, tx database.TxQuerier, dealID uuid.UUID, token, scannerSessionID string, now time.Time) (*model.RedemptionClaim, error)
	GetByToken(ctx context.Context, tx database.TxQuerier, dealID uuid.UUID, token string) (*model.RedemptionClaim, error)
}

// ScanRepositoryInterface defines the interface for the scan audit trail.
type ScanRepositoryInterface interface {
	Insert(ctx context.Context, attempt *model.ScanAttempt) error
	CountSince(ctx context.Context, scannerSessionID string, since time.Time) (int, error)
}

// TxBeginner defines the interface for beginning transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// VerifyResult is the outcome of one verify call. Outcome is what the
// scanning device is told; forged tokens surface as not_found here and
// are only distinguished in the audit trail.
type VerifyResult struct {
	Outcome model.ScanOutcome
	Claim   *model.RedemptionClaim
	Deal    *model.Deal
}

// RedemptionService implements the token issuer and token verifier.
// It keeps no cross-request state: every race-sensitive transition is a
// single conditional statement or transaction in the ledger, so any
// number of instances can run behind a load balancer.
type RedemptionService struct {
	pool      TxBeginner
	dealRepo  DealRepositoryInterface
	claimRepo ClaimRepositoryInterface
	scanRepo  ScanRepositoryInterface
	cfg       config.RedemptionConfig
	now       func() time.Time
}

// NewRedemptionService creates a RedemptionService with the given pool,
// repositories, and protocol configuration.
func NewRedemptionService(pool *pgxpool.Pool, dealRepo DealRepositoryInterface, claimRepo ClaimRepositoryInterface, scanRepo ScanRepositoryInterface, cfg config.RedemptionConfig) *RedemptionService {
	return &RedemptionService{
		pool:      pool,
		dealRepo:  dealRepo,
		claimRepo: claimRepo,
		scanRepo:  scanRepo,
		cfg:       cfg,
		now:       time.Now,
	}
}

// NewRedemptionServiceWithTxBeginner creates a RedemptionService with a
// custom TxBeginner and clock. Primarily used for testing.
func NewRedemptionServiceWithTxBeginner(pool TxBeginner, dealRepo DealRepositoryInterface, claimRepo ClaimRepositoryInterface, scanRepo ScanRepositoryInterface, cfg config.RedemptionConfig, now func() time.Time) *RedemptionService {
	if now == nil {
		now = time.Now
	}
	return &RedemptionService{
		pool:      pool,
		dealRepo:  dealRepo,
		claimRepo: claimRepo,
		scanRepo:  scanRepo,
		cfg:       cfg,
		now:       now,
	}
}

// QRPayloadFor builds the deep-link payload for an issued claim.
func (s *RedemptionService) QRPayloadFor(claim *model.RedemptionClaim) string {
	return QRPayload(s.cfg.QRScheme, claim.DealID, claim.Token)
}

// IssueOrRegenerate issues a redemption code for (dealID, userID).
//
// Preconditions are checked in order, first failure wins, and no state
// changes on any failure path: deal exists, deal is live, cap not
// reached, user has not already consumed this deal.
//
// If an unexpired code is already issued it is returned unchanged
// ("show my existing code") unless regenerate is set, in which case the
// old claim is voided and a fresh one inserted in the same transaction.
// Regeneration is capped by a sliding window over recent mints.
//
// Returns:
//   - ErrDealNotFound, ErrDealNotLive, ErrDealSoldOut, ErrAlreadyRedeemed
//   - ErrRegenLimited when the regeneration window cap is hit
func (s *RedemptionService) IssueOrRegenerate(ctx context.Context, dealID uuid.UUID, userID string, regenerate bool) (*model.RedemptionClaim, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // Safe: no-op if committed

	// 1. Lock the deal row. Concurrent issuers for the same deal
	// serialize here, which is what makes the cap check exact.
	deal, err := s.dealRepo.GetForUpdate(ctx, tx, dealID)
	if err != nil {
		if errors.Is(err, ErrDealNotFound) {
			return nil, ErrDealNotFound
		}
		return nil, fmt.Errorf("get deal for update: %w", err)
	}

	now := s.now()

	// 2. Schedule window and active flag, re-validated server-side.
	if !deal.Live(now) {
		return nil, ErrDealNotLive
	}

	// 3. Redemption cap. The counter only moves on granted scans.
	if deal.SoldOut() {
		return nil, ErrDealSoldOut
	}

	// 4. One redemption per user per deal.
	consumed, err := s.claimRepo.HasConsumed(ctx, tx, dealID, userID)
	if err != nil {
		return nil, fmt.Errorf("check consumed: %w", err)
	}
	if consumed {
		return nil, ErrAlreadyRedeemed
	}

	active, err := s.claimRepo.GetIssuedForUpdate(ctx, tx, dealID, userID)
	if err != nil {
		return nil, fmt.Errorf("get issued claim: %w", err)
	}

	if active != nil {
		if now.Before(active.ExpiresAt) {
			if !regenerate {
				// Idempotent: same code both times.
				if err := tx.Commit(ctx); err != nil {
					return nil, fmt.Errorf("commit tx: %w", err)
				}
				return active, nil
			}

			minted, err := s.claimRepo.CountIssuedSince(ctx, tx, dealID, userID, now.Add(-s.cfg.RegenWindow))
			if err != nil {
				return nil, fmt.Errorf("count recent mints: %w", err)
			}
			if minted >= s.cfg.RegenLimit {
				return nil, ErrRegenLimited
			}

			if err := s.claimRepo.Void(ctx, tx, active.ID); err != nil {
				return nil, fmt.Errorf("void prior claim: %w", err)
			}
		} else {
			// Lazy expiry: flip the stale row so the partial unique
			// index admits the replacement.
			if err := s.claimRepo.MarkExpired(ctx, tx, active.ID); err != nil {
				return nil, fmt.Errorf("expire prior claim: %w", err)
			}
		}
	}

	token, err := NewToken()
	if err != nil {
		return nil, err
	}

	claim := &model.RedemptionClaim{
		ID:        uuid.New(),
		DealID:    dealID,
		UserID:    userID,
		Status:    model.StatusIssued,
		Token:     token,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.TokenTTL),
	}
	if err := s.claimRepo.Insert(ctx, tx, claim); err != nil {
		if errors.Is(err, ErrActiveClaimExists) {
			return nil, ErrActiveClaimExists
		}
		return nil, fmt.Errorf("insert claim: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return claim, nil
}

// Verify atomically validates and consumes a scanned code.
//
// The consume CAS and the registry counter increment share one
// transaction, so concurrent scans of the same token yield exactly one
// granted outcome and the counter moves exactly once. Expiry is checked
// inside the CAS predicate. Denials are classified afterwards without
// revealing whether the deal portion of a guessed payload was valid.
//
// Every call appends a scan attempt best-effort after the decision.
func (s *RedemptionService) Verify(ctx context.Context, dealID uuid.UUID, token, scannerSessionID string) (*VerifyResult, error) {
	now := s.now()

	result, err := s.verify(ctx, dealID, token, scannerSessionID, now)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, dealID, token, scannerSessionID, result, now)
	return result, nil
}

func (s *RedemptionService) verify(ctx context.Context, dealID uuid.UUID, token, scannerSessionID string, now time.Time) (*VerifyResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // Safe: no-op if committed

	claim, err := s.claimRepo.Consume(ctx, tx, dealID, token, scannerSessionID, now)
	if err != nil {
		return nil, fmt.Errorf("consume claim: %w", err)
	}

	if claim != nil {
		if err := s.dealRepo.IncrementRedemptionCount(ctx, tx, claim.DealID); err != nil {
			return nil, fmt.Errorf("increment redemption count: %w", err)
		}
		deal, err := s.dealRepo.Get(ctx, tx, claim.DealID)
		if err != nil {
			return nil, fmt.Errorf("get deal after consume: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit tx: %w", err)
		}
		return &VerifyResult{Outcome: model.OutcomeGranted, Claim: claim, Deal: deal}, nil
	}

	// CAS found nothing to consume; classify the denial.
	existing, err := s.claimRepo.GetByToken(ctx, tx, dealID, token)
	if err != nil {
		return nil, fmt.Errorf("classify denial: %w", err)
	}

	outcome := model.OutcomeNotFound
	switch {
	case existing == nil:
		// Unknown token. Voided codes land here too via status below.
	case existing.Status == model.StatusConsumed:
		outcome = model.OutcomeAlreadyConsumed
	case existing.Status == model.StatusExpired:
		outcome = model.OutcomeExpired
	case existing.Status == model.StatusVoided:
		// Indistinguishable from unknown for the caller.
	case existing.Status == model.StatusIssued && !now.Before(existing.ExpiresAt):
		// Lazy expiry at verify time.
		if err := s.claimRepo.MarkExpired(ctx, tx, existing.ID); err != nil {
			return nil, fmt.Errorf("expire claim: %w", err)
		}
		outcome = model.OutcomeExpired
	default:
		// Issued and unexpired yet the CAS missed: a concurrent scan
		// consumed it between our two statements.
		outcome = model.OutcomeAlreadyConsumed
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &VerifyResult{Outcome: outcome, Claim: existing}, nil
}

// audit appends the scan attempt and applies the velocity flag. Both
// are best-effort: failures are logged and never surface to the caller.
func (s *RedemptionService) audit(ctx context.Context, dealID uuid.UUID, token, scannerSessionID string, result *VerifyResult, now time.Time) {
	outcome := result.Outcome
	if outcome == model.OutcomeNotFound && !WellFormedToken(token) {
		outcome = model.OutcomeForged
	}

	attempt := &model.ScanAttempt{
		Token:            token,
		ScannerSessionID: scannerSessionID,
		Outcome:          outcome,
		AttemptedAt:      now,
	}
	if result.Claim != nil {
		attempt.ClaimID = &result.Claim.ID
	}

	if err := s.scanRepo.Insert(ctx, attempt); err != nil {
		log.Warn().
			Err(err).
			Str("scanner_session_id", scannerSessionID).
			Str("outcome", string(outcome)).
			Msg("failed to record scan attempt")
		return
	}

	n, err := s.scanRepo.CountSince(ctx, scannerSessionID, now.Add(-s.cfg.ScanVelocityWindow))
	if err != nil {
		log.Warn().Err(err).Str("scanner_session_id", scannerSessionID).Msg("scan velocity check failed")
		return
	}
	if n > s.cfg.ScanVelocityLimit {
		// Flag only. A busy venue night looks a lot like a brute force.
		log.Warn().
			Str("scanner_session_id", scannerSessionID).
			Str("deal_id", dealID.String()).
			Int("attempts_in_window", n).
			Dur("window", s.cfg.ScanVelocityWindow).
			Msg("abnormal scan velocity")
	}
}
