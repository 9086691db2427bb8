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

// DealServiceInterface defines the interface for deal registry logic.
type DealServiceInterface interface {
	Create(ctx context.Context, venueID uuid.UUID, req *model.CreateDealRequest) (*model.Deal, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.DealResponse, error)
}

// DealHandler handles HTTP requests for the venue-facing deal registry.
type DealHandler struct {
	service   DealServiceInterface
	validator *validator.Validate
}

// NewDealHandler creates a new DealHandler with the given service and validator.
func NewDealHandler(svc DealServiceInterface, v *validator.Validate) *DealHandler {
	return &DealHandler{service: svc, validator: v}
}

// formatDealValidationError converts validator errors to user-facing messages.
func formatDealValidationError(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			field := fe.Field()
			tag := fe.Tag()

			switch field {
			case "Title":
				if tag == "required" {
					return "invalid request: title is required"
				}
				if tag == "notblank" {
					return "invalid request: title cannot be whitespace only"
				}
				if tag == "max" {
					return "invalid request: title exceeds maximum length of 255"
				}
				return "invalid request: title is invalid"
			case "StartsAt", "EndsAt":
				return "invalid request: starts_at and ends_at are required"
			case "MaxRedemptions":
				return "invalid request: max_redemptions must be at least 1"
			default:
				if tag == "required" {
					return "invalid request: " + field + " is required"
				}
				return "invalid request: " + field + " is invalid"
			}
		}
	}
	return "invalid request"
}

// CreateDeal handles POST /api/deals requests from venue credentials.
func (h *DealHandler) CreateDeal(c *fiber.Ctx) error {
	ident, ok := auth.IdentityFrom(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "bearer credential required"})
	}
	venueID, err := uuid.Parse(ident.Subject)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid venue credential"})
	}

	var req model.CreateDealRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatDealValidationError(err)})
	}

	deal, err := h.service.Create(c.Context(), venueID, &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: ends_at must be after starts_at"})
		}
		log.Error().
			Err(err).
			Str("request_id", c.GetRespHeader("X-Request-ID")).
			Str("venue_id", venueID.String()).
			Msg("failed to create deal")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	log.Info().
		Str("deal_id", deal.ID.String()).
		Str("venue_id", venueID.String()).
		Msg("deal created")

	return c.Status(fiber.StatusCreated).JSON(deal)
}

// GetDeal handles GET /api/deals/:dealId requests.
func (h *DealHandler) GetDeal(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("dealId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid deal id"})
	}

	deal, err := h.service.GetByID(c.Context(), dealID)
	if err != nil {
		if errors.Is(err, service.ErrDealNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "deal not found"})
		}
		log.Error().Err(err).Str("deal_id", dealID.String()).Msg("failed to get deal")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.JSON(deal)
}
