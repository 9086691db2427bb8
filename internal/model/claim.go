package model

import (
	"time"

	"github.com/google/uuid"
)

// ClaimStatus is the lifecycle state of a redemption claim.
// Issued is the only non-terminal state: a claim moves to consumed
// exactly once via the verifier's compare-and-set, to voided when the
// user regenerates their code, or to expired once its TTL has elapsed
// (evaluated lazily at read/verify time).
type ClaimStatus string

const (
	StatusIssued   ClaimStatus = "issued"
	StatusConsumed ClaimStatus = "consumed"
	StatusExpired  ClaimStatus = "expired"
	StatusVoided   ClaimStatus = "voided"
)

// RedemptionClaim is one user's attempt to redeem one deal.
// At most one claim per (DealID, UserID) may be in status issued at a
// time, enforced by a partial unique index at the storage layer.
type RedemptionClaim struct {
	ID         uuid.UUID   `json:"id"`
	DealID     uuid.UUID   `json:"deal_id"`
	UserID     string      `json:"user_id"`
	Status     ClaimStatus `json:"status"`
	Token      string      `json:"-"` // never serialized wholesale; DTOs expose it deliberately
	IssuedAt   time.Time   `json:"issued_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
	ConsumedAt *time.Time  `json:"consumed_at,omitempty"`
	ConsumedBy *string     `json:"consumed_by,omitempty"`
}

// ScanOutcome classifies a single verify call for the audit trail.
type ScanOutcome string

const (
	OutcomeGranted         ScanOutcome = "granted"
	OutcomeAlreadyConsumed ScanOutcome = "already_consumed"
	OutcomeExpired         ScanOutcome = "expired"
	OutcomeNotFound        ScanOutcome = "not_found"
	// OutcomeForged marks tokens that do not even decode as one of ours.
	// Surfaced to callers as not_found; kept distinct internally for
	// fraud analytics.
	OutcomeForged ScanOutcome = "forged"
)

// ScanAttempt is an append-only audit record. It never mutates claim
// state; recording it is best-effort and must not change the verify
// decision.
type ScanAttempt struct {
	Token            string
	ClaimID          *uuid.UUID
	ScannerSessionID string
	Outcome          ScanOutcome
	AttemptedAt      time.Time
}

// GenerateQRRequest is the optional DTO for POST /api/deals/:dealId/generate-qr.
type GenerateQRRequest struct {
	Regenerate bool `json:"regenerate"`
}

// GenerateQRResponse carries the scannable payload back to the consumer app.
type GenerateQRResponse struct {
	QRPayload      string    `json:"qr_payload"`
	RedemptionCode string    `json:"redemption_code"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// RedeemResponse is returned by POST /api/deals/:dealId/redeem; same
// issuance semantics as generate-qr but exposes the claim identifiers.
type RedeemResponse struct {
	ClaimID        uuid.UUID `json:"claim_id"`
	DealID         uuid.UUID `json:"deal_id"`
	UserID         string    `json:"user_id"`
	RedemptionCode string    `json:"redemption_code"`
	QRPayload      string    `json:"qr_payload"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// VerifyRequest is the DTO for POST /api/deals/:dealId/verify.
type VerifyRequest struct {
	RedemptionCode string `json:"redemption_code" validate:"required,notblank,max=128"`
}

// VerifyResponse is always returned with HTTP 200: denial is a business
// outcome for the scanning staff, not a transport error.
type VerifyResponse struct {
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Deal       *DealResponse     `json:"deal,omitempty"`
	User       *VerifiedUser     `json:"user,omitempty"`
	Redemption *RedemptionResult `json:"redemption,omitempty"`
}

// VerifiedUser identifies the consumer whose code was granted.
type VerifiedUser struct {
	ID string `json:"id"`
}

// RedemptionResult is the granted redemption summary shown to staff.
type RedemptionResult struct {
	ID         uuid.UUID `json:"id"`
	RedeemedAt time.Time `json:"redeemed_at"`
}
