package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dealradar/redemption-service/internal/auth"
	"github.com/dealradar/redemption-service/internal/model"
	"github.com/dealradar/redemption-service/internal/service"
)

// RedemptionServiceInterface defines the interface for the issuer and verifier.
type RedemptionServiceInterface interface {
	IssueOrRegenerate(ctx context.Context, dealID uuid.UUID, userID string, regenerate bool) (*model.RedemptionClaim, error)
	Verify(ctx context.Context, dealID uuid.UUID, token, scannerSessionID string) (*service.VerifyResult, error)
	QRPayloadFor(claim *model.RedemptionClaim) string
}

// RedemptionHandler handles HTTP requests for issuing and verifying codes.
type RedemptionHandler struct {
	service   RedemptionServiceInterface
	validator *validator.Validate
}

// NewRedemptionHandler creates a new RedemptionHandler with the given service and validator.
func NewRedemptionHandler(svc RedemptionServiceInterface, v *validator.Validate) *RedemptionHandler {
	return &RedemptionHandler{service: svc, validator: v}
}

// issue runs the shared issuance path for generate-qr and redeem and
// returns the claim, or nil after writing the error response.
func (h *RedemptionHandler) issue(c *fiber.Ctx) (*model.RedemptionClaim, error) {
	ident, ok := auth.IdentityFrom(c)
	if !ok {
		return nil, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "bearer credential required"})
	}

	dealID, err := uuid.Parse(c.Params("dealId"))
	if err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid deal id"})
	}

	// Body is optional; an absent body means "show my existing code".
	var req model.GenerateQRRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}

	claim, err := h.service.IssueOrRegenerate(c.Context(), dealID, ident.Subject, req.Regenerate)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDealNotFound):
			return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "deal not found"})
		case errors.Is(err, service.ErrDealNotLive):
			return nil, c.Status(fiber.StatusGone).JSON(fiber.Map{"error": "deal is not live"})
		case errors.Is(err, service.ErrDealSoldOut):
			return nil, c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "deal is sold out"})
		case errors.Is(err, service.ErrAlreadyRedeemed):
			return nil, c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "deal already redeemed"})
		case errors.Is(err, service.ErrRegenLimited):
			return nil, c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too many code regenerations"})
		}
		log.Error().
			Err(err).
			Str("request_id", c.GetRespHeader("X-Request-ID")).
			Str("deal_id", dealID.String()).
			Str("user_id", ident.Subject).
			Msg("failed to issue redemption code")
		return nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return claim, nil
}

// GenerateQR handles POST /api/deals/:dealId/generate-qr requests.
func (h *RedemptionHandler) GenerateQR(c *fiber.Ctx) error {
	claim, err := h.issue(c)
	if claim == nil {
		return err
	}

	return c.JSON(model.GenerateQRResponse{
		QRPayload:      h.service.QRPayloadFor(claim),
		RedemptionCode: claim.Token,
		ExpiresAt:      claim.ExpiresAt,
	})
}

// Redeem handles POST /api/deals/:dealId/redeem requests. Issuance
// semantics are identical to generate-qr; the response additionally
// carries the claim identifiers the consumer app tracks.
func (h *RedemptionHandler) Redeem(c *fiber.Ctx) error {
	claim, err := h.issue(c)
	if claim == nil {
		return err
	}

	return c.JSON(model.RedeemResponse{
		ClaimID:        claim.ID,
		DealID:         claim.DealID,
		UserID:         claim.UserID,
		RedemptionCode: claim.Token,
		QRPayload:      h.service.QRPayloadFor(claim),
		ExpiresAt:      claim.ExpiresAt,
	})
}

// denialMessage maps a denial outcome to the reason shown to staff.
func denialMessage(outcome model.ScanOutcome) string {
	switch outcome {
	case model.OutcomeAlreadyConsumed:
		return "already redeemed"
	case model.OutcomeExpired:
		return "code expired"
	default:
		return "invalid code"
	}
}

// Verify handles POST /api/deals/:dealId/verify requests from staff
// scanners. Denials are business outcomes, not transport errors, so
// every decided scan answers 200 with a success flag.
func (h *RedemptionHandler) Verify(c *fiber.Ctx) error {
	ident, ok := auth.IdentityFrom(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "bearer credential required"})
	}

	dealID, err := uuid.Parse(c.Params("dealId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid deal id"})
	}

	var req model.VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: redemption_code is required"})
	}

	result, err := h.service.Verify(c.Context(), dealID, req.RedemptionCode, ident.ScannerSession())
	if err != nil {
		log.Error().
			Err(err).
			Str("request_id", c.GetRespHeader("X-Request-ID")).
			Str("deal_id", dealID.String()).
			Str("scanner_session_id", ident.ScannerSession()).
			Msg("verify failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	if result.Outcome != model.OutcomeGranted {
		log.Info().
			Str("deal_id", dealID.String()).
			Str("scanner_session_id", ident.ScannerSession()).
			Str("outcome", string(result.Outcome)).
			Msg("scan denied")
		return c.JSON(model.VerifyResponse{
			Success: false,
			Error:   denialMessage(result.Outcome),
		})
	}

	claim := result.Claim
	log.Info().
		Str("deal_id", dealID.String()).
		Str("claim_id", claim.ID.String()).
		Str("scanner_session_id", ident.ScannerSession()).
		Msg("scan granted")

	return c.JSON(model.VerifyResponse{
		Success: true,
		Deal:    service.DealView(result.Deal, *claim.ConsumedAt),
		User:    &model.VerifiedUser{ID: claim.UserID},
		Redemption: &model.RedemptionResult{
			ID:         claim.ID,
			RedeemedAt: *claim.ConsumedAt,
		},
	})
}
