package v16

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// CommandErrorKind classifies a rejected outbound command so the HTTP layer
// can pick the right status code.
type CommandErrorKind int

const (
	ErrKindValidation CommandErrorKind = iota + 1
	ErrKindNotConnected
)

type CommandError struct {
	Kind    CommandErrorKind
	Message string
}

func (e *CommandError) Error() string { return e.Message }

func validationErr(format string, args ...interface{}) *CommandError {
	return &CommandError{Kind: ErrKindValidation, Message: fmt.Sprintf(format, args...)}
}

var validResetTypes = map[string]bool{"Hard": true, "Soft": true}

var validAvailabilityTypes = map[string]bool{"Inoperative": true, "Operative": true}

var validUpdateTypes = map[string]bool{"Differential": true, "Full": true}

var validTriggerMessages = map[string]bool{
	"BootNotification":              true,
	"DiagnosticsStatusNotification": true,
	"FirmwareStatusNotification":    true,
	"Heartbeat":                     true,
	"MeterValues":                   true,
	"StatusNotification":            true,
}

// Commands builds and submits CS->CP CALLs. It is the ports.CommandSender
// used by the admin API and the back-office command reader.
type Commands struct {
	engine *Engine
	log    *zap.Logger
}

func NewCommands(engine *Engine, log *zap.Logger) *Commands {
	return &Commands{engine: engine, log: log}
}

// Send submits an arbitrary pre-validated action. Known actions should go
// through the typed builders below, which validate before submitting.
func (c *Commands) Send(ctx context.Context, chargerID, action string, payload interface{}) (string, bool, error) {
	messageID, queued, err := c.engine.Submit(ctx, chargerID, action, payload)
	if err == ErrNotConnected {
		return "", false, &CommandError{Kind: ErrKindNotConnected, Message: "charger not connected: " + chargerID}
	}
	return messageID, queued, err
}

func (c *Commands) RemoteStartTransaction(ctx context.Context, chargerID, idTag string, connectorID *int) (string, bool, error) {
	if idTag == "" {
		return "", false, validationErr("idTag is required")
	}
	payload := map[string]interface{}{"idTag": idTag}
	if connectorID != nil {
		if *connectorID < 1 {
			return "", false, validationErr("connectorId must be >= 1")
		}
		payload["connectorId"] = *connectorID
	}
	return c.Send(ctx, chargerID, "RemoteStartTransaction", payload)
}

func (c *Commands) RemoteStopTransaction(ctx context.Context, chargerID string, transactionID int) (string, bool, error) {
	if transactionID <= 0 {
		return "", false, validationErr("transactionId must be positive")
	}
	return c.Send(ctx, chargerID, "RemoteStopTransaction", map[string]interface{}{
		"transactionId": transactionID,
	})
}

func (c *Commands) Reset(ctx context.Context, chargerID, resetType string) (string, bool, error) {
	if !validResetTypes[resetType] {
		return "", false, validationErr("type must be Hard or Soft, got %q", resetType)
	}
	return c.Send(ctx, chargerID, "Reset", map[string]interface{}{"type": resetType})
}

func (c *Commands) UnlockConnector(ctx context.Context, chargerID string, connectorID int) (string, bool, error) {
	if connectorID < 1 {
		return "", false, validationErr("connectorId must be >= 1")
	}
	return c.Send(ctx, chargerID, "UnlockConnector", map[string]interface{}{
		"connectorId": connectorID,
	})
}

func (c *Commands) GetConfiguration(ctx context.Context, chargerID string, keys []string) (string, bool, error) {
	for _, k := range keys {
		if len(k) > 50 {
			return "", false, validationErr("configuration key exceeds 50 characters: %q", k)
		}
	}
	payload := map[string]interface{}{}
	if len(keys) > 0 {
		payload["key"] = keys
	}
	return c.Send(ctx, chargerID, "GetConfiguration", payload)
}

func (c *Commands) ChangeConfiguration(ctx context.Context, chargerID, key, value string) (string, bool, error) {
	if key == "" {
		return "", false, validationErr("key is required")
	}
	if len(key) > 50 {
		return "", false, validationErr("key exceeds 50 characters")
	}
	if len(value) > 500 {
		return "", false, validationErr("value exceeds 500 characters")
	}
	return c.Send(ctx, chargerID, "ChangeConfiguration", map[string]interface{}{
		"key":   key,
		"value": value,
	})
}

func (c *Commands) ClearCache(ctx context.Context, chargerID string) (string, bool, error) {
	return c.Send(ctx, chargerID, "ClearCache", map[string]interface{}{})
}

func (c *Commands) ChangeAvailability(ctx context.Context, chargerID string, connectorID int, availabilityType string) (string, bool, error) {
	if connectorID < 0 {
		return "", false, validationErr("connectorId must be >= 0")
	}
	if !validAvailabilityTypes[availabilityType] {
		return "", false, validationErr("type must be Inoperative or Operative, got %q", availabilityType)
	}
	return c.Send(ctx, chargerID, "ChangeAvailability", map[string]interface{}{
		"connectorId": connectorID,
		"type":        availabilityType,
	})
}

func (c *Commands) TriggerMessage(ctx context.Context, chargerID, requested string, connectorID *int) (string, bool, error) {
	if !validTriggerMessages[requested] {
		return "", false, validationErr("requestedMessage %q is not triggerable", requested)
	}
	payload := map[string]interface{}{"requestedMessage": requested}
	if connectorID != nil {
		if *connectorID < 1 {
			return "", false, validationErr("connectorId must be >= 1")
		}
		payload["connectorId"] = *connectorID
	}
	return c.Send(ctx, chargerID, "TriggerMessage", payload)
}

func (c *Commands) ReserveNow(ctx context.Context, chargerID string, connectorID int, expiry, idTag string, reservationID int) (string, bool, error) {
	if connectorID < 0 {
		return "", false, validationErr("connectorId must be >= 0")
	}
	if idTag == "" {
		return "", false, validationErr("idTag is required")
	}
	if expiry == "" {
		return "", false, validationErr("expiryDate is required")
	}
	return c.Send(ctx, chargerID, "ReserveNow", map[string]interface{}{
		"connectorId":   connectorID,
		"expiryDate":    expiry,
		"idTag":         idTag,
		"reservationId": reservationID,
	})
}

func (c *Commands) CancelReservation(ctx context.Context, chargerID string, reservationID int) (string, bool, error) {
	if reservationID <= 0 {
		return "", false, validationErr("reservationId must be positive")
	}
	return c.Send(ctx, chargerID, "CancelReservation", map[string]interface{}{
		"reservationId": reservationID,
	})
}

func (c *Commands) SetChargingProfile(ctx context.Context, chargerID string, connectorID int, profile map[string]interface{}) (string, bool, error) {
	if connectorID < 0 {
		return "", false, validationErr("connectorId must be >= 0")
	}
	if profile == nil {
		return "", false, validationErr("csChargingProfiles is required")
	}
	return c.Send(ctx, chargerID, "SetChargingProfile", map[string]interface{}{
		"connectorId":        connectorID,
		"csChargingProfiles": profile,
	})
}

func (c *Commands) ClearChargingProfile(ctx context.Context, chargerID string, profileID *int, connectorID *int) (string, bool, error) {
	payload := map[string]interface{}{}
	if profileID != nil {
		payload["id"] = *profileID
	}
	if connectorID != nil {
		payload["connectorId"] = *connectorID
	}
	return c.Send(ctx, chargerID, "ClearChargingProfile", payload)
}

// LocalListEntry is one authorization entry pushed with SendLocalList.
type LocalListEntry struct {
	IDTag     string                 `json:"idTag"`
	IDTagInfo map[string]interface{} `json:"idTagInfo,omitempty"`
}

func (c *Commands) SendLocalList(ctx context.Context, chargerID string, listVersion int, updateType string, entries []LocalListEntry) (string, bool, error) {
	if listVersion <= 0 {
		return "", false, validationErr("listVersion must be positive")
	}
	if !validUpdateTypes[updateType] {
		return "", false, validationErr("updateType must be Differential or Full, got %q", updateType)
	}
	for _, e := range entries {
		if e.IDTag == "" {
			return "", false, validationErr("every localAuthorizationList entry needs an idTag")
		}
	}
	payload := map[string]interface{}{
		"listVersion": listVersion,
		"updateType":  updateType,
	}
	if len(entries) > 0 {
		payload["localAuthorizationList"] = entries
	}
	return c.Send(ctx, chargerID, "SendLocalList", payload)
}

func (c *Commands) GetLocalListVersion(ctx context.Context, chargerID string) (string, bool, error) {
	return c.Send(ctx, chargerID, "GetLocalListVersion", map[string]interface{}{})
}

func (c *Commands) GetDiagnostics(ctx context.Context, chargerID, location string) (string, bool, error) {
	if location == "" {
		return "", false, validationErr("location is required")
	}
	return c.Send(ctx, chargerID, "GetDiagnostics", map[string]interface{}{
		"location": location,
	})
}

func (c *Commands) UpdateFirmware(ctx context.Context, chargerID, location, retrieveDate string) (string, bool, error) {
	if location == "" {
		return "", false, validationErr("location is required")
	}
	if retrieveDate == "" {
		return "", false, validationErr("retrieveDate is required")
	}
	return c.Send(ctx, chargerID, "UpdateFirmware", map[string]interface{}{
		"location":     location,
		"retrieveDate": retrieveDate,
	})
}

func (c *Commands) DataTransfer(ctx context.Context, chargerID, vendorID, messageID string, data interface{}) (string, bool, error) {
	if vendorID == "" {
		return "", false, validationErr("vendorId is required")
	}
	payload := map[string]interface{}{"vendorId": vendorID}
	if messageID != "" {
		payload["messageId"] = messageID
	}
	if data != nil {
		payload["data"] = data
	}
	return c.Send(ctx, chargerID, "DataTransfer", payload)
}
