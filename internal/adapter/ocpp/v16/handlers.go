package v16

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/ports"
)

// Handlers processes inbound OCPP 1.6 CALLs from charge points. Each handler
// returns the CALLRESULT payload or a FrameError that becomes a CALLERROR.
type Handlers struct {
	chargers  ports.ChargerService
	sessions  ports.SessionService
	cards     ports.CardService
	projector ports.Projector
	events    ports.EventSink
	sysconfig ports.SystemConfigRepository
	log       *zap.Logger
}

func NewHandlers(
	chargers ports.ChargerService,
	sessions ports.SessionService,
	cards ports.CardService,
	projector ports.Projector,
	events ports.EventSink,
	sysconfig ports.SystemConfigRepository,
	log *zap.Logger,
) *Handlers {
	return &Handlers{
		chargers:  chargers,
		sessions:  sessions,
		cards:     cards,
		projector: projector,
		events:    events,
		sysconfig: sysconfig,
		log:       log,
	}
}

// HandleCall routes one inbound action. Unknown actions get NotImplemented.
func (h *Handlers) HandleCall(ctx context.Context, chargerID, action string, payload json.RawMessage) (interface{}, *FrameError) {
	switch action {
	case "BootNotification":
		return h.handleBootNotification(ctx, chargerID, payload)
	case "Heartbeat":
		return h.handleHeartbeat(ctx, chargerID)
	case "StatusNotification":
		return h.handleStatusNotification(ctx, chargerID, payload)
	case "MeterValues":
		return h.handleMeterValues(ctx, chargerID, payload)
	case "StartTransaction":
		return h.handleStartTransaction(ctx, chargerID, payload)
	case "StopTransaction":
		return h.handleStopTransaction(ctx, chargerID, payload)
	case "Authorize":
		return h.handleAuthorize(ctx, chargerID, payload)
	case "DataTransfer":
		return h.handleDataTransfer(ctx, chargerID, payload)
	case "DiagnosticsStatusNotification":
		return h.handleLoggedNotification(chargerID, action, payload)
	case "FirmwareStatusNotification":
		return h.handleLoggedNotification(chargerID, action, payload)
	case "GetCompositeSchedule":
		return h.handleGetCompositeSchedule(ctx, chargerID, payload)
	case "CancelReservation", "ReserveNow", "TriggerMessage",
		"RemoteStartTransaction", "RemoteStopTransaction":
		// Echoed or CP-initiated copies of CS-side actions are acknowledged.
		return map[string]string{"status": "Accepted"}, nil
	default:
		h.log.Warn("unknown OCPP action",
			zap.String("charger_id", chargerID),
			zap.String("action", action),
		)
		return nil, &FrameError{Code: ErrCodeNotImplemented, Description: "action not implemented: " + action}
	}
}

type bootNotificationReq struct {
	ChargePointVendor string `json:"chargePointVendor"`
	ChargePointModel  string `json:"chargePointModel"`
	ChargePointSerial string `json:"chargePointSerialNumber,omitempty"`
	FirmwareVersion   string `json:"firmwareVersion,omitempty"`
}

func (h *Handlers) handleBootNotification(ctx context.Context, chargerID string, payload json.RawMessage) (interface{}, *FrameError) {
	var req bootNotificationReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, &FrameError{Code: ErrCodeFormatViolation, Description: "invalid BootNotification payload"}
	}

	h.log.Info("BootNotification",
		zap.String("charger_id", chargerID),
		zap.String("vendor", req.ChargePointVendor),
		zap.String("model", req.ChargePointModel),
	)

	if _, err := h.chargers.RegisterBoot(ctx, chargerID,
		req.ChargePointVendor, req.ChargePointModel, req.ChargePointSerial, req.FirmwareVersion); err != nil {
		h.log.Error("failed to persist boot", zap.String("charger_id", chargerID), zap.Error(err))
		return nil, &FrameError{Code: ErrCodeInternalError, Description: "failed to persist boot notification"}
	}

	interval := h.sysconfig.GetInt(ctx, domain.ConfigKeyHeartbeatInterval, 60)

	h.events.Publish("boot_notification", chargerID, map[string]interface{}{
		"vendor":   req.ChargePointVendor,
		"model":    req.ChargePointModel,
		"serial":   req.ChargePointSerial,
		"firmware": req.FirmwareVersion,
	})

	return map[string]interface{}{
		"currentTime": time.Now().UTC().Format(time.RFC3339),
		"interval":    interval,
		"status":      "Accepted",
	}, nil
}

func (h *Handlers) handleHeartbeat(ctx context.Context, chargerID string) (interface{}, *FrameError) {
	now := time.Now().UTC()
	if err := h.chargers.Heartbeat(ctx, chargerID); err != nil {
		h.log.Warn("failed to persist heartbeat", zap.String("charger_id", chargerID), zap.Error(err))
	}
	h.projector.HeartbeatSeen(chargerID, now)
	h.events.Publish("heartbeat", chargerID, map[string]interface{}{})

	return map[string]string{
		"currentTime": now.Format(time.RFC3339),
	}, nil
}

type statusNotificationReq struct {
	ConnectorID int    `json:"connectorId"`
	ErrorCode   string `json:"errorCode"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp,omitempty"`
	VendorInfo  string `json:"info,omitempty"`
}

func (h *Handlers) handleStatusNotification(ctx context.Context, chargerID string, payload json.RawMessage) (interface{}, *FrameError) {
	var req statusNotificationReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, &FrameError{Code: ErrCodeFormatViolation, Description: "invalid StatusNotification payload"}
	}

	status := domain.ChargerStatus(req.Status)
	if err := h.chargers.UpdateConnectorStatus(ctx, chargerID, req.ConnectorID, status, req.ErrorCode); err != nil {
		h.log.Warn("failed to update connector status",
			zap.String("charger_id", chargerID),
			zap.Int("connector_id", req.ConnectorID),
			zap.Error(err),
		)
	}
	h.projector.StatusChanged(chargerID, req.ConnectorID, status, req.ErrorCode)

	h.events.Publish("status_notification", chargerID, map[string]interface{}{
		"connector_id": req.ConnectorID,
		"status":       req.Status,
		"error_code":   req.ErrorCode,
	})
	if req.ErrorCode != "" && req.ErrorCode != "NoError" {
		h.events.Publish("fault_notification", chargerID, map[string]interface{}{
			"connector_id": req.ConnectorID,
			"status":       req.Status,
			"error_code":   req.ErrorCode,
			"info":         req.VendorInfo,
		})
	}

	return map[string]interface{}{}, nil
}

type sampledValue struct {
	Value     string `json:"value"`
	Measurand string `json:"measurand,omitempty"`
	Unit      string `json:"unit,omitempty"`
	Phase     string `json:"phase,omitempty"`
}

type meterValue struct {
	Timestamp    string         `json:"timestamp"`
	SampledValue []sampledValue `json:"sampledValue"`
}

type meterValuesReq struct {
	ConnectorID   int          `json:"connectorId"`
	TransactionID *int         `json:"transactionId,omitempty"`
	MeterValue    []meterValue `json:"meterValue"`
}

func (h *Handlers) handleMeterValues(ctx context.Context, chargerID string, payload json.RawMessage) (interface{}, *FrameError) {
	var req meterValuesReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, &FrameError{Code: ErrCodeFormatViolation, Description: "invalid MeterValues payload"}
	}

	var energyKWh, powerKW, voltage, current float64
	var sawEnergy bool
	for _, mv := range req.MeterValue {
		for _, sv := range mv.SampledValue {
			val, err := strconv.ParseFloat(sv.Value, 64)
			if err != nil {
				continue
			}
			switch sv.Measurand {
			case "Energy.Active.Import.Register", "":
				// Absent measurand defaults to the energy register per 1.6.
				energyKWh = val / 1000.0
				sawEnergy = true
			case "Power.Active.Import":
				powerKW = val / 1000.0
				if sv.Unit == "kW" {
					powerKW = val
				}
			case "Voltage":
				voltage = val
			case "Current.Import":
				current = val
			}
		}
	}

	if sawEnergy {
		if err := h.chargers.UpdateConnectorEnergy(ctx, chargerID, req.ConnectorID, energyKWh); err != nil {
			h.log.Warn("failed to update connector energy",
				zap.String("charger_id", chargerID),
				zap.Int("connector_id", req.ConnectorID),
				zap.Error(err),
			)
		}
	}

	txID := 0
	if req.TransactionID != nil {
		txID = *req.TransactionID
	}
	h.projector.MeterUpdate(chargerID, req.ConnectorID, txID, energyKWh, powerKW, voltage, current)

	h.events.Publish("meter_values", chargerID, map[string]interface{}{
		"connector_id":   req.ConnectorID,
		"transaction_id": req.TransactionID,
		"energy_kwh":     energyKWh,
		"power_kw":       powerKW,
		"voltage":        voltage,
		"current":        current,
	})

	return map[string]interface{}{}, nil
}

type startTransactionReq struct {
	ConnectorID   int    `json:"connectorId"`
	IDTag         string `json:"idTag"`
	MeterStart    int    `json:"meterStart"`
	Timestamp     string `json:"timestamp"`
	ReservationID *int   `json:"reservationId,omitempty"`
}

func (h *Handlers) handleStartTransaction(ctx context.Context, chargerID string, payload json.RawMessage) (interface{}, *FrameError) {
	var req startTransactionReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, &FrameError{Code: ErrCodeFormatViolation, Description: "invalid StartTransaction payload"}
	}

	at := parseOCPPTime(req.Timestamp)
	session, err := h.sessions.Start(ctx, chargerID, req.ConnectorID, req.IDTag, req.MeterStart, at)
	if err != nil {
		h.log.Error("failed to start transaction",
			zap.String("charger_id", chargerID),
			zap.Error(err),
		)
		return map[string]interface{}{
			"transactionId": -1,
			"idTagInfo":     map[string]string{"status": "Invalid"},
		}, nil
	}

	h.log.Info("StartTransaction",
		zap.String("charger_id", chargerID),
		zap.Int("transaction_id", session.TransactionID),
		zap.String("id_tag", req.IDTag),
	)

	h.projector.SessionStarted(session)
	h.events.Publish("transaction_start", chargerID, map[string]interface{}{
		"transaction_id": session.TransactionID,
		"connector_id":   session.ConnectorID,
		"id_tag":         session.IDTag,
		"meter_start":    session.MeterStart,
		"start_time":     session.StartTime.UTC().Format(time.RFC3339),
	})

	return map[string]interface{}{
		"transactionId": session.TransactionID,
		"idTagInfo":     map[string]string{"status": "Accepted"},
	}, nil
}

type stopTransactionReq struct {
	TransactionID int    `json:"transactionId"`
	MeterStop     int    `json:"meterStop"`
	Timestamp     string `json:"timestamp"`
	IDTag         string `json:"idTag,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func (h *Handlers) handleStopTransaction(ctx context.Context, chargerID string, payload json.RawMessage) (interface{}, *FrameError) {
	var req stopTransactionReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, &FrameError{Code: ErrCodeFormatViolation, Description: "invalid StopTransaction payload"}
	}

	at := parseOCPPTime(req.Timestamp)
	session, err := h.sessions.Stop(ctx, chargerID, req.TransactionID, req.MeterStop, at)
	if err != nil {
		h.log.Warn("failed to stop transaction",
			zap.String("charger_id", chargerID),
			zap.Int("transaction_id", req.TransactionID),
			zap.Error(err),
		)
		// The CP already stopped charging; rejecting the stop would only
		// strand it.
		return map[string]interface{}{
			"idTagInfo": map[string]string{"status": "Accepted"},
		}, nil
	}

	h.log.Info("StopTransaction",
		zap.String("charger_id", chargerID),
		zap.Int("transaction_id", session.TransactionID),
		zap.Float64("energy_kwh", session.EnergyDeliveredKWh),
	)

	h.projector.SessionStopped(session)
	h.events.Publish("transaction_stop", chargerID, map[string]interface{}{
		"transaction_id": session.TransactionID,
		"meter_stop":     req.MeterStop,
		"energy_kwh":     session.EnergyDeliveredKWh,
		"cost":           session.Cost,
		"reason":         req.Reason,
	})

	return map[string]interface{}{
		"idTagInfo": map[string]string{"status": "Accepted"},
	}, nil
}

type authorizeReq struct {
	IDTag string `json:"idTag"`
}

func (h *Handlers) handleAuthorize(ctx context.Context, chargerID string, payload json.RawMessage) (interface{}, *FrameError) {
	var req authorizeReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, &FrameError{Code: ErrCodeFormatViolation, Description: "invalid Authorize payload"}
	}

	status := h.cards.Authorize(ctx, req.IDTag)
	h.log.Info("Authorize",
		zap.String("charger_id", chargerID),
		zap.String("id_tag", req.IDTag),
		zap.String("status", string(status)),
	)

	return map[string]interface{}{
		"idTagInfo": map[string]string{"status": string(status)},
	}, nil
}

type dataTransferReq struct {
	VendorID  string          `json:"vendorId"`
	MessageID string          `json:"messageId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (h *Handlers) handleDataTransfer(ctx context.Context, chargerID string, payload json.RawMessage) (interface{}, *FrameError) {
	var req dataTransferReq
	if err := json.Unmarshal(payload, &req); err != nil {
		// Some vendors double-quote JSON inside data; the outer frame is
		// still accepted and the raw string forwarded as-is.
		h.log.Debug("DataTransfer with unparseable payload, accepting",
			zap.String("charger_id", chargerID),
		)
		return map[string]string{"status": "Accepted"}, nil
	}

	h.log.Info("DataTransfer",
		zap.String("charger_id", chargerID),
		zap.String("vendor_id", req.VendorID),
		zap.String("message_id", req.MessageID),
	)

	return map[string]string{"status": "Accepted"}, nil
}

func (h *Handlers) handleLoggedNotification(chargerID, action string, payload json.RawMessage) (interface{}, *FrameError) {
	h.log.Info(action,
		zap.String("charger_id", chargerID),
		zap.ByteString("payload", payload),
	)
	return map[string]interface{}{}, nil
}

type getCompositeScheduleReq struct {
	ConnectorID      int    `json:"connectorId"`
	Duration         int    `json:"duration"`
	ChargingRateUnit string `json:"chargingRateUnit,omitempty"`
}

func (h *Handlers) handleGetCompositeSchedule(ctx context.Context, chargerID string, payload json.RawMessage) (interface{}, *FrameError) {
	var req getCompositeScheduleReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, &FrameError{Code: ErrCodeFormatViolation, Description: "invalid GetCompositeSchedule payload"}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	return map[string]interface{}{
		"status":        "Accepted",
		"connectorId":   req.ConnectorID,
		"scheduleStart": now,
		"chargingSchedule": map[string]interface{}{
			"chargingRateUnit": "W",
			"chargingSchedulePeriod": []map[string]interface{}{
				{"startPeriod": 0, "limit": 10000},
			},
		},
	}, nil
}

func parseOCPPTime(s string) time.Time {
	if s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
