package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	v16 "github.com/voltgrid/csms/internal/adapter/ocpp/v16"
	"github.com/voltgrid/csms/internal/ports"
)

// CommandHandler exposes the CS->CP command endpoints. Every endpoint checks
// that the charger exists; commands that cannot queue while disconnected also
// require a live connection.
type CommandHandler struct {
	commands *v16.Commands
	chargers ports.ChargerRepository
	sessions ports.SessionService
	log      *zap.Logger
}

func NewCommandHandler(commands *v16.Commands, chargers ports.ChargerRepository, sessions ports.SessionService, log *zap.Logger) *CommandHandler {
	return &CommandHandler{
		commands: commands,
		chargers: chargers,
		sessions: sessions,
		log:      log,
	}
}

func (h *CommandHandler) requireCharger(c *fiber.Ctx) (string, error) {
	chargerID := c.Params("id")
	charger, err := h.chargers.FindByID(c.Context(), chargerID)
	if err != nil {
		return "", fiber.NewError(fiber.StatusInternalServerError, "failed to load charger")
	}
	if charger == nil {
		return "", fiber.NewError(fiber.StatusNotFound, "charger not found")
	}
	return chargerID, nil
}

func (h *CommandHandler) respond(c *fiber.Ctx, messageID string, queued bool, err error) error {
	if err != nil {
		var cmdErr *v16.CommandError
		if errors.As(err, &cmdErr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"status": "Rejected",
				"detail": cmdErr.Message,
			})
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	body := fiber.Map{
		"status":     "Accepted",
		"message_id": messageID,
	}
	if queued {
		body["queued"] = true
	}
	return c.JSON(body)
}

type remoteStartRequest struct {
	IDTag       string `json:"id_tag"`
	ConnectorID *int   `json:"connector_id,omitempty"`
}

func (h *CommandHandler) RemoteStart(c *fiber.Ctx) error {
	chargerID, err := h.requireCharger(c)
	if err != nil {
		return err
	}
	var req remoteStartRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	messageID, queued, err := h.commands.RemoteStartTransaction(c.Context(), chargerID, req.IDTag, req.ConnectorID)
	return h.respond(c, messageID, queued, err)
}

// RemoteStop resolves the charger's most recent active session and stops its
// transaction. The caller never supplies a transaction id.
func (h *CommandHandler) RemoteStop(c *fiber.Ctx) error {
	chargerID, err := h.requireCharger(c)
	if err != nil {
		return err
	}
	session, err := h.sessions.ActiveByCharger(c.Context(), chargerID)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to look up active session")
	}
	if session == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"status": "Rejected",
			"detail": "no active session for charger",
		})
	}
	messageID, queued, err := h.commands.RemoteStopTransaction(c.Context(), chargerID, session.TransactionID)
	return h.respond(c, messageID, queued, err)
}

type resetRequest struct {
	Type string `json:"type"`
}

func (h *CommandHandler) Reset(c *fiber.Ctx) error {
	chargerID, err := h.requireCharger(c)
	if err != nil {
		return err
	}
	var req resetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	messageID, queued, err := h.commands.Reset(c.Context(), chargerID, req.Type)
	return h.respond(c, messageID, queued, err)
}

type unlockRequest struct {
	ConnectorID int `json:"connector_id"`
}

func (h *CommandHandler) UnlockConnector(c *fiber.Ctx) error {
	chargerID, err := h.requireCharger(c)
	if err != nil {
		return err
	}
	var req unlockRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	messageID, queued, err := h.commands.UnlockConnector(c.Context(), chargerID, req.ConnectorID)
	return h.respond(c, messageID, queued, err)
}

type getConfigurationRequest struct {
	Keys []string `json:"keys,omitempty"`
}

func (h *CommandHandler) GetConfiguration(c *fiber.Ctx) error {
	chargerID, err := h.requireCharger(c)
	if err != nil {
		return err
	}
	var req getConfigurationRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
	}
	messageID, queued, err := h.commands.GetConfiguration(c.Context(), chargerID, req.Keys)
	return h.respond(c, messageID, queued, err)
}

type changeConfigurationRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (h *CommandHandler) ChangeConfiguration(c *fiber.Ctx) error {
	chargerID, err := h.requireCharger(c)
	if err != nil {
		return err
	}
	var req changeConfigurationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	messageID, queued, err := h.commands.ChangeConfiguration(c.Context(), chargerID, req.Key, req.Value)
	return h.respond(c, messageID, queued, err)
}

func (h *CommandHandler) ClearCache(c *fiber.Ctx) error {
	chargerID, err := h.requireCharger(c)
	if err != nil {
		return err
	}
	messageID, queued, err := h.commands.ClearCache(c.Context(), chargerID)
	return h.respond(c, messageID, queued, err)
}

type changeAvailabilityRequest struct {
	ConnectorID int    `json:"connector_id"`
	Type        string `json:"type"`
}

func (h *CommandHandler) ChangeAvailability(c *fiber.Ctx) error {
	chargerID, err := h.requireCharger(c)
	if err != nil {
		return err
	}
	var req changeAvailabilityRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	messageID, queued, err := h.commands.ChangeAvailability(c.Context(), chargerID, req.ConnectorID, req.Type)
	return h.respond(c, messageID, queued, err)
}

type triggerMessageRequest struct {
	RequestedMessage string `json:"requested_message"`
	ConnectorID      *int   `json:"connector_id,omitempty"`
}

func (h *CommandHandler) TriggerMessage(c *fiber.Ctx) error {
	chargerID, err := h.requireCharger(c)
	if err != nil {
		return err
	}
	var req triggerMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	messageID, queued, err := h.commands.TriggerMessage(c.Context(), chargerID, req.RequestedMessage, req.ConnectorID)
	return h.respond(c, messageID, queued, err)
}

type reserveNowRequest struct {
	ConnectorID   int    `json:"connector_id"`
	ExpiryDate    string `json:"expiry_date"`
	IDTag         string `json:"id_tag"`
	ReservationID int    `json:"reservation_id"`
}

func (h *CommandHandler) ReserveNow(c *fiber.Ctx) error {
	chargerID, err := h.requireCharger(c)
	if err != nil {
		return err
	}
	var req reserveNowRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	messageID, queued, err := h.commands.ReserveNow(c.Context(), chargerID, req.ConnectorID, req.ExpiryDate, req.IDTag, req.ReservationID)
	return h.respond(c, messageID, queued, err)
}

type cancelReservationRequest struct {
	ReservationID int `json:"reservation_id"`
}

func (h *CommandHandler) CancelReservation(c *fiber.Ctx) error {
	chargerID, err := h.requireCharger(c)
	if err != nil {
		return err
	}
	var req cancelReservationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	messageID, queued, err := h.commands.CancelReservation(c.Context(), chargerID, req.ReservationID)
	return h.respond(c, messageID, queued, err)
}

type setChargingProfileRequest struct {
	ConnectorID int                    `json:"connector_id"`
	Profile     map[string]interface{} `json:"cs_charging_profiles"`
}

func (h *CommandHandler) SetChargingProfile(c *fiber.Ctx) error {
	chargerID, err := h.requireCharger(c)
	if err != nil {
		return err
	}
	var req setChargingProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	messageID, queued, err := h.commands.SetChargingProfile(c.Context(), chargerID, req.ConnectorID, req.Profile)
	return h.respond(c, messageID, queued, err)
}

type clearChargingProfileRequest struct {
	ID          *int `json:"id,omitempty"`
	ConnectorID *int `json:"connector_id,omitempty"`
}

func (h *CommandHandler) ClearChargingProfile(c *fiber.Ctx) error {
	chargerID, err := h.requireCharger(c)
	if err != nil {
		return err
	}
	var req clearChargingProfileRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
	}
	messageID, queued, err := h.commands.ClearChargingProfile(c.Context(), chargerID, req.ID, req.ConnectorID)
	return h.respond(c, messageID, queued, err)
}

type sendLocalListRequest struct {
	ListVersion int                  `json:"list_version"`
	UpdateType  string               `json:"update_type"`
	LocalList   []v16.LocalListEntry `json:"local_authorization_list,omitempty"`
}

func (h *CommandHandler) SendLocalList(c *fiber.Ctx) error {
	chargerID, err := h.requireCharger(c)
	if err != nil {
		return err
	}
	var req sendLocalListRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	messageID, queued, err := h.commands.SendLocalList(c.Context(), chargerID, req.ListVersion, req.UpdateType, req.LocalList)
	return h.respond(c, messageID, queued, err)
}

func (h *CommandHandler) GetLocalListVersion(c *fiber.Ctx) error {
	chargerID, err := h.requireCharger(c)
	if err != nil {
		return err
	}
	messageID, queued, err := h.commands.GetLocalListVersion(c.Context(), chargerID)
	return h.respond(c, messageID, queued, err)
}

type getDiagnosticsRequest struct {
	Location string `json:"location"`
}

func (h *CommandHandler) GetDiagnostics(c *fiber.Ctx) error {
	chargerID, err := h.requireCharger(c)
	if err != nil {
		return err
	}
	var req getDiagnosticsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	messageID, queued, err := h.commands.GetDiagnostics(c.Context(), chargerID, req.Location)
	return h.respond(c, messageID, queued, err)
}

type updateFirmwareRequest struct {
	Location     string `json:"location"`
	RetrieveDate string `json:"retrieve_date"`
}

func (h *CommandHandler) UpdateFirmware(c *fiber.Ctx) error {
	chargerID, err := h.requireCharger(c)
	if err != nil {
		return err
	}
	var req updateFirmwareRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	messageID, queued, err := h.commands.UpdateFirmware(c.Context(), chargerID, req.Location, req.RetrieveDate)
	return h.respond(c, messageID, queued, err)
}

type dataTransferRequest struct {
	VendorID  string      `json:"vendor_id"`
	MessageID string      `json:"message_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

func (h *CommandHandler) DataTransfer(c *fiber.Ctx) error {
	chargerID, err := h.requireCharger(c)
	if err != nil {
		return err
	}
	var req dataTransferRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	messageID, queued, err := h.commands.DataTransfer(c.Context(), chargerID, req.VendorID, req.MessageID, req.Data)
	return h.respond(c, messageID, queued, err)
}
