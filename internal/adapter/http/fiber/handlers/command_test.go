package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/adapter/http/fiber/middleware"
	v16 "github.com/voltgrid/csms/internal/adapter/ocpp/v16"
	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/mocks"
)

func newCommandApp(t *testing.T, sessions *mocks.MockSessionService) (*fiber.App, *v16.Registry) {
	t.Helper()
	registry := v16.NewRegistry(zap.NewNop())
	engine := v16.NewEngine(registry, &mocks.MockChargerService{}, zap.NewNop())
	commands := v16.NewCommands(engine, zap.NewNop())

	chargers := mocks.NewMockChargerRepository()
	chargers.Chargers["CP-1"] = &domain.Charger{ID: "CP-1"}

	h := NewCommandHandler(commands, chargers, sessions, zap.NewNop())
	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(zap.NewNop()),
	})
	app.Post("/chargers/:id/commands/remote-stop", h.RemoteStop)
	app.Post("/chargers/:id/commands/change-configuration", h.ChangeConfiguration)
	return app, registry
}

// connectChargePoint registers a live socket for the charger and returns the
// client side, which receives whatever the registry sends.
func connectChargePoint(t *testing.T, registry *v16.Registry, chargerID string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if _, err := registry.AcceptCP(chargerID, conn, "", r.RemoteAddr); err != nil {
			conn.Close()
		}
	}))
	t.Cleanup(ts.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for !registry.Connected(chargerID) {
		if time.Now().After(deadline) {
			t.Fatalf("charger %s never registered", chargerID)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return client
}

func postJSON(t *testing.T, app *fiber.App, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var parsed map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			t.Fatalf("response does not parse: %s", raw)
		}
	}
	return resp.StatusCode, parsed
}

func TestRemoteStopWithoutActiveSession(t *testing.T) {
	app, _ := newCommandApp(t, &mocks.MockSessionService{
		ActiveByChargerFunc: func(ctx context.Context, chargerID string) (*domain.ChargingSession, error) {
			return nil, nil
		},
	})

	status, body := postJSON(t, app, "/chargers/CP-1/commands/remote-stop", "{}")
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %v", status, body)
	}
	if body["status"] != "Rejected" || body["detail"] == "" {
		t.Errorf("expected Rejected body with detail, got %v", body)
	}
}

func TestRemoteStopResolvesActiveSession(t *testing.T) {
	sessions := &mocks.MockSessionService{
		ActiveByChargerFunc: func(ctx context.Context, chargerID string) (*domain.ChargingSession, error) {
			return &domain.ChargingSession{ChargerID: chargerID, TransactionID: 7, Status: domain.SessionStatusActive}, nil
		},
	}
	app, registry := newCommandApp(t, sessions)
	client := connectChargePoint(t, registry, "CP-1")

	status, body := postJSON(t, app, "/chargers/CP-1/commands/remote-stop", "{}")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	if body["status"] != "Accepted" {
		t.Errorf("expected Accepted, got %v", body)
	}
	if body["message_id"] == "" || body["message_id"] == nil {
		t.Errorf("expected a message_id, got %v", body)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("charge point received no frame: %v", err)
	}
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil || len(frame) != 4 {
		t.Fatalf("malformed frame: %s", raw)
	}
	var action string
	json.Unmarshal(frame[2], &action)
	if action != "RemoteStopTransaction" {
		t.Errorf("expected RemoteStopTransaction, got %s", action)
	}
	var payload map[string]int
	json.Unmarshal(frame[3], &payload)
	if payload["transactionId"] != 7 {
		t.Errorf("expected transactionId 7, got %v", payload)
	}
}

func TestRemoteStopChargerDisconnected(t *testing.T) {
	app, _ := newCommandApp(t, &mocks.MockSessionService{
		ActiveByChargerFunc: func(ctx context.Context, chargerID string) (*domain.ChargingSession, error) {
			return &domain.ChargingSession{ChargerID: chargerID, TransactionID: 7, Status: domain.SessionStatusActive}, nil
		},
	})

	status, body := postJSON(t, app, "/chargers/CP-1/commands/remote-stop", "{}")
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %v", status, body)
	}
	if body["status"] != "Rejected" {
		t.Errorf("expected Rejected body, got %v", body)
	}
}

func TestRemoteStopUnknownCharger(t *testing.T) {
	app, _ := newCommandApp(t, &mocks.MockSessionService{})

	status, _ := postJSON(t, app, "/chargers/CP-404/commands/remote-stop", "{}")
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown charger, got %d", status)
	}
}

func TestChangeConfigurationValidationRejected(t *testing.T) {
	app, _ := newCommandApp(t, &mocks.MockSessionService{})

	status, body := postJSON(t, app, "/chargers/CP-1/commands/change-configuration",
		`{"key":"`+strings.Repeat("k", 51)+`","value":"v"}`)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %v", status, body)
	}
	if body["status"] != "Rejected" || body["detail"] == "" {
		t.Errorf("expected Rejected body with detail, got %v", body)
	}
}
