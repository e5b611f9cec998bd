package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/ports"
	cardsvc "github.com/voltgrid/csms/internal/service/card"
)

type CardHandler struct {
	cards   ports.RFIDCardRepository
	service *cardsvc.Service
	log     *zap.Logger
}

func NewCardHandler(cards ports.RFIDCardRepository, service *cardsvc.Service, log *zap.Logger) *CardHandler {
	return &CardHandler{cards: cards, service: service, log: log}
}

func (h *CardHandler) List(c *fiber.Ctx) error {
	cards, err := h.cards.FindAll(c.Context())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list cards")
	}
	return c.JSON(fiber.Map{"cards": cards, "count": len(cards)})
}

type CardRequest struct {
	IDTag      string     `json:"id_tag"`
	UserID     string     `json:"user_id"`
	Label      string     `json:"label"`
	Active     *bool      `json:"active"`
	Blocked    *bool      `json:"blocked"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
}

func (h *CardHandler) Create(c *fiber.Ctx) error {
	var req CardRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.IDTag == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "id_tag is required"})
	}

	existing, err := h.cards.FindByTag(c.Context(), req.IDTag)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to check card")
	}
	if existing != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Card already exists"})
	}

	card := &domain.RFIDCard{
		IDTag:      req.IDTag,
		UserID:     req.UserID,
		Label:      req.Label,
		Active:     true,
		ExpiryDate: req.ExpiryDate,
	}
	if req.Active != nil {
		card.Active = *req.Active
	}
	if req.Blocked != nil {
		card.Blocked = *req.Blocked
	}

	if err := h.cards.Save(c.Context(), card); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to save card")
	}
	return c.Status(fiber.StatusCreated).JSON(card)
}

func (h *CardHandler) Update(c *fiber.Ctx) error {
	idTag := c.Params("id_tag")
	card, err := h.cards.FindByTag(c.Context(), idTag)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to load card")
	}
	if card == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Card not found"})
	}

	var req CardRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if req.Label != "" {
		card.Label = req.Label
	}
	if req.UserID != "" {
		card.UserID = req.UserID
	}
	if req.Active != nil {
		card.Active = *req.Active
	}
	if req.Blocked != nil {
		card.Blocked = *req.Blocked
	}
	if req.ExpiryDate != nil {
		card.ExpiryDate = req.ExpiryDate
	}

	if err := h.cards.Save(c.Context(), card); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to save card")
	}
	h.service.Invalidate(c.Context(), idTag)
	return c.JSON(card)
}

func (h *CardHandler) Delete(c *fiber.Ctx) error {
	idTag := c.Params("id_tag")
	if err := h.cards.Delete(c.Context(), idTag); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to delete card")
	}
	h.service.Invalidate(c.Context(), idTag)
	return c.JSON(fiber.Map{"status": "deleted"})
}
