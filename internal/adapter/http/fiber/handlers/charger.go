package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	v16 "github.com/voltgrid/csms/internal/adapter/ocpp/v16"
	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/ports"
	chargersvc "github.com/voltgrid/csms/internal/service/charger"
)

type ChargerHandler struct {
	chargers   ports.ChargerRepository
	connectors ports.ConnectorRepository
	sessions   ports.SessionRepository
	logs       ports.LogRepository
	registry   *v16.Registry
	log        *zap.Logger
}

func NewChargerHandler(
	chargers ports.ChargerRepository,
	connectors ports.ConnectorRepository,
	sessions ports.SessionRepository,
	logs ports.LogRepository,
	registry *v16.Registry,
	log *zap.Logger,
) *ChargerHandler {
	return &ChargerHandler{
		chargers:   chargers,
		connectors: connectors,
		sessions:   sessions,
		logs:       logs,
		registry:   registry,
		log:        log,
	}
}

func (h *ChargerHandler) List(c *fiber.Ctx) error {
	filter := map[string]interface{}{}
	if status := c.Query("status"); status != "" {
		filter["status"] = status
	}
	if connected := c.Query("connected"); connected != "" {
		filter["is_connected"] = connected == "true"
	}

	chargers, err := h.chargers.FindAll(c.Context(), filter)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list chargers")
	}
	return c.JSON(fiber.Map{"chargers": chargers, "count": len(chargers)})
}

func (h *ChargerHandler) Get(c *fiber.Ctx) error {
	charger, err := h.chargers.FindByID(c.Context(), c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to load charger")
	}
	if charger == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Charger not found"})
	}

	connectors, err := h.connectors.FindByCharger(c.Context(), charger.ID)
	if err == nil {
		charger.Connectors = connectors
	}

	return c.JSON(fiber.Map{
		"charger":        charger,
		"live_connected": h.registry.Connected(charger.ID),
	})
}

type RegisterChargerRequest struct {
	ChargerID string `json:"charger_id"`
	Vendor    string `json:"vendor"`
	Model     string `json:"model"`
}

func (h *ChargerHandler) Register(c *fiber.Ctx) error {
	var req RegisterChargerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.ChargerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "charger_id is required"})
	}

	existing, err := h.chargers.FindByID(c.Context(), req.ChargerID)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to check charger")
	}
	if existing != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Charger already registered"})
	}

	charger := &domain.Charger{
		ID:             req.ChargerID,
		Vendor:         req.Vendor,
		Model:          req.Model,
		Status:         domain.ChargerStatusUnknown,
		MaxRetries:     3,
		RetryIntervalS: 5,
		RetryEnabled:   true,
	}
	if err := h.chargers.Save(c.Context(), charger); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to save charger")
	}
	return c.Status(fiber.StatusCreated).JSON(charger)
}

type UpdateRetryPolicyRequest struct {
	MaxRetries     *int  `json:"max_retries"`
	RetryIntervalS *int  `json:"retry_interval_s"`
	RetryEnabled   *bool `json:"retry_enabled"`
}

func (h *ChargerHandler) UpdateRetryPolicy(c *fiber.Ctx) error {
	var req UpdateRetryPolicyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	charger, err := h.chargers.FindByID(c.Context(), c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to load charger")
	}
	if charger == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Charger not found"})
	}

	if req.MaxRetries != nil {
		if *req.MaxRetries < chargersvc.MinRetries || *req.MaxRetries > chargersvc.MaxRetries {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "max_retries out of range 1..10"})
		}
		charger.MaxRetries = *req.MaxRetries
	}
	if req.RetryIntervalS != nil {
		if *req.RetryIntervalS < 1 || *req.RetryIntervalS > 60 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "retry_interval_s out of range 1..60"})
		}
		charger.RetryIntervalS = *req.RetryIntervalS
	}
	if req.RetryEnabled != nil {
		charger.RetryEnabled = *req.RetryEnabled
	}

	if err := h.chargers.Save(c.Context(), charger); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to save charger")
	}
	return c.JSON(charger)
}

// DeleteConnector removes a connector row. Refused while the connector has an
// active session.
func (h *ChargerHandler) DeleteConnector(c *fiber.Ctx) error {
	connectorID, err := strconv.Atoi(c.Params("connector_id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid connector id"})
	}
	chargerID := c.Params("id")

	active, err := h.sessions.HasActiveOnConnector(c.Context(), chargerID, connectorID)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to check sessions")
	}
	if active {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Connector has an active session"})
	}

	if err := h.connectors.Delete(c.Context(), chargerID, connectorID); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to delete connector")
	}
	return c.JSON(fiber.Map{"status": "deleted"})
}

func (h *ChargerHandler) Sessions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	sessions, err := h.sessions.FindByCharger(c.Context(), c.Params("id"), limit)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list sessions")
	}
	return c.JSON(fiber.Map{"sessions": sessions, "count": len(sessions)})
}

func (h *ChargerHandler) Messages(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	messages, err := h.logs.FindMessages(c.Context(), c.Params("id"), limit)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list messages")
	}
	return c.JSON(fiber.Map{"messages": messages, "count": len(messages)})
}

func (h *ChargerHandler) ConnectionEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	events, err := h.logs.FindConnectionEvents(c.Context(), c.Params("id"), limit)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list connection events")
	}
	return c.JSON(fiber.Map{"events": events, "count": len(events)})
}
