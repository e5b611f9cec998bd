package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Simulator drives one fake charge point through boot, heartbeats, a charging
// session loop, and replies to central-station commands.
type Simulator struct {
	serverURL string
	chargerID string
	log       *zap.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu            sync.Mutex
	transactionID int
	meterWh       int
	charging      bool
	interval      time.Duration
}

func NewSimulator(serverURL, chargerID string, log *zap.Logger) *Simulator {
	return &Simulator{
		serverURL: serverURL,
		chargerID: chargerID,
		log:       log,
		meterWh:   rand.Intn(100000),
		interval:  60 * time.Second,
	}
}

// Run connects and keeps the charge point alive until ctx is done,
// reconnecting with backoff when the socket drops.
func (s *Simulator) Run(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.session(ctx); err != nil {
			s.log.Warn("session ended", zap.String("charger_id", s.chargerID), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *Simulator) session(ctx context.Context) error {
	dialer := websocket.Dialer{
		Subprotocols:     []string{"ocpp1.6"},
		HandshakeTimeout: 10 * time.Second,
	}
	url := fmt.Sprintf("%s/ocpp/%s", s.serverURL, s.chargerID)
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	s.conn = conn
	defer conn.Close()

	s.log.Info("connected", zap.String("charger_id", s.chargerID), zap.String("url", url))

	if err := s.bootNotification(); err != nil {
		return err
	}
	s.statusNotification(1, "Available", "NoError")

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.heartbeatLoop(sessionCtx)
	go s.chargeLoop(sessionCtx)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(raw)
	}
}

func (s *Simulator) send(frame []interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Simulator) call(action string, payload interface{}) error {
	return s.send([]interface{}{2, uuid.New().String(), action, payload})
}

func (s *Simulator) bootNotification() error {
	return s.call("BootNotification", map[string]interface{}{
		"chargePointVendor":       "VoltGrid",
		"chargePointModel":        "SIM-1000",
		"chargePointSerialNumber": s.chargerID,
		"firmwareVersion":         "sim-1.0.0",
	})
}

func (s *Simulator) statusNotification(connectorID int, status, errorCode string) {
	s.call("StatusNotification", map[string]interface{}{
		"connectorId": connectorID,
		"status":      status,
		"errorCode":   errorCode,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Simulator) heartbeatLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		interval := s.interval
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			s.call("Heartbeat", map[string]interface{}{})
		}
	}
}

// chargeLoop runs random charging sessions: start, a few meter values, stop.
func (s *Simulator) chargeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(20+rand.Intn(40)) * time.Second):
		}

		s.mu.Lock()
		charging := s.charging
		s.mu.Unlock()
		if charging {
			continue
		}

		s.startTransaction("SIM-TAG-001")

		for i := 0; i < 3; i++ {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Second):
			}
			s.meterValues()
		}

		s.stopTransaction()
	}
}

func (s *Simulator) startTransaction(idTag string) {
	s.mu.Lock()
	meter := s.meterWh
	s.mu.Unlock()

	s.statusNotification(1, "Preparing", "NoError")
	s.call("StartTransaction", map[string]interface{}{
		"connectorId": 1,
		"idTag":       idTag,
		"meterStart":  meter,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
	s.statusNotification(1, "Charging", "NoError")
}

func (s *Simulator) meterValues() {
	s.mu.Lock()
	s.meterWh += 500 + rand.Intn(1000)
	meter := s.meterWh
	txID := s.transactionID
	s.mu.Unlock()

	s.call("MeterValues", map[string]interface{}{
		"connectorId":   1,
		"transactionId": txID,
		"meterValue": []map[string]interface{}{
			{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
				"sampledValue": []map[string]interface{}{
					{"value": fmt.Sprintf("%d", meter), "measurand": "Energy.Active.Import.Register", "unit": "Wh"},
					{"value": fmt.Sprintf("%d", 7000+rand.Intn(4000)), "measurand": "Power.Active.Import", "unit": "W"},
					{"value": "230.1", "measurand": "Voltage", "unit": "V"},
					{"value": "32.0", "measurand": "Current.Import", "unit": "A"},
				},
			},
		},
	})
}

func (s *Simulator) stopTransaction() {
	s.mu.Lock()
	meter := s.meterWh
	txID := s.transactionID
	s.charging = false
	s.mu.Unlock()

	s.call("StopTransaction", map[string]interface{}{
		"transactionId": txID,
		"meterStop":     meter,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"reason":        "Local",
	})
	s.statusNotification(1, "Finishing", "NoError")
	s.statusNotification(1, "Available", "NoError")
}

func (s *Simulator) handleMessage(raw []byte) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil || len(elems) < 3 {
		return
	}

	var msgType int
	json.Unmarshal(elems[0], &msgType)
	var messageID string
	json.Unmarshal(elems[1], &messageID)

	switch msgType {
	case 2:
		var action string
		json.Unmarshal(elems[2], &action)
		var payload json.RawMessage
		if len(elems) > 3 {
			payload = elems[3]
		}
		s.handleCall(messageID, action, payload)
	case 3:
		s.handleResult(elems[2])
	case 4:
		s.log.Warn("received CALLERROR", zap.ByteString("frame", raw))
	}
}

// handleResult picks transaction ids and heartbeat intervals out of
// CALLRESULTs. The simulator keeps no pending-call table; payload shape is
// enough to identify what it answers.
func (s *Simulator) handleResult(payload json.RawMessage) {
	var result struct {
		TransactionID *int `json:"transactionId"`
		Interval      *int `json:"interval"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if result.TransactionID != nil && *result.TransactionID > 0 {
		s.transactionID = *result.TransactionID
		s.charging = true
	}
	if result.Interval != nil && *result.Interval > 0 {
		s.interval = time.Duration(*result.Interval) * time.Second
	}
}

func (s *Simulator) handleCall(messageID, action string, payload json.RawMessage) {
	s.log.Info("command received",
		zap.String("charger_id", s.chargerID),
		zap.String("action", action),
	)

	reply := func(p interface{}) {
		s.send([]interface{}{3, messageID, p})
	}

	switch action {
	case "RemoteStartTransaction":
		var req struct {
			IDTag string `json:"idTag"`
		}
		json.Unmarshal(payload, &req)
		reply(map[string]string{"status": "Accepted"})
		go s.startTransaction(req.IDTag)
	case "RemoteStopTransaction":
		reply(map[string]string{"status": "Accepted"})
		go s.stopTransaction()
	case "Reset":
		reply(map[string]string{"status": "Accepted"})
		go func() {
			time.Sleep(time.Second)
			s.conn.Close()
		}()
	case "GetConfiguration":
		reply(map[string]interface{}{
			"configurationKey": []map[string]interface{}{
				{"key": "HeartbeatInterval", "readonly": false, "value": "60"},
				{"key": "MeterValueSampleInterval", "readonly": false, "value": "60"},
			},
		})
	case "ChangeConfiguration", "ChangeAvailability", "UnlockConnector",
		"ClearCache", "TriggerMessage", "SetChargingProfile",
		"ClearChargingProfile", "ReserveNow", "CancelReservation",
		"DataTransfer":
		reply(map[string]string{"status": "Accepted"})
	default:
		s.send([]interface{}{4, messageID, "NotImplemented", "action not supported", map[string]interface{}{}})
	}
}
