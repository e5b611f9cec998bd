package v16

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/mocks"
	"github.com/voltgrid/csms/pkg/config"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	registry := NewRegistry(zap.NewNop())
	chargers := &mocks.MockChargerService{}
	engine := NewEngine(registry, chargers, zap.NewNop())
	handlers := NewHandlers(chargers, &mocks.MockSessionService{}, &mocks.MockCardService{},
		&mocks.MockProjector{}, &mocks.MockEventSink{}, mocks.NewMockSystemConfigRepository(), zap.NewNop())
	srv := NewServer(config.OCPPConfig{}, registry, engine, handlers, chargers,
		&mocks.MockProjector{}, &mocks.MockEventSink{}, mocks.NewMockLogRepository(), zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("/ocpp/", srv.serveCP)
	mux.HandleFunc("/master", srv.serveMaster)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s failed: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitConnected(t *testing.T, srv *Server, chargerID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !srv.registry.Connected(chargerID) {
		if time.Now().After(deadline) {
			t.Fatalf("charger %s never registered", chargerID)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMasterBroadcastReachesChargePoints(t *testing.T) {
	srv, wsURL := newTestServer(t)

	cp := dialWS(t, wsURL+"/ocpp/CP-1")
	waitConnected(t, srv, "CP-1")
	master := dialWS(t, wsURL+"/master")

	frame := []byte(`[2,"m-1","Reset",{"type":"Soft"}]`)
	if err := master.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("master write failed: %v", err)
	}

	cp.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err := cp.ReadMessage()
	if err != nil {
		t.Fatalf("charge point received nothing: %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Errorf("broadcast must be verbatim: got %s", got)
	}

	master.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := master.ReadMessage()
	if err != nil {
		t.Fatalf("master received no ack: %v", err)
	}
	var ack map[string]string
	if err := json.Unmarshal(raw, &ack); err != nil {
		t.Fatalf("ack does not parse: %v", err)
	}
	if ack["status"] != "success" {
		t.Errorf("expected success ack, got %v", ack)
	}
	if ack["message"] == "" {
		t.Error("ack should carry a message")
	}
}

func TestMasterBroadcastWithoutChargePoints(t *testing.T) {
	_, wsURL := newTestServer(t)
	master := dialWS(t, wsURL+"/master")

	if err := master.WriteMessage(websocket.TextMessage, []byte(`[2,"m-2","ClearCache",{}]`)); err != nil {
		t.Fatalf("master write failed: %v", err)
	}

	master.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := master.ReadMessage()
	if err != nil {
		t.Fatalf("master received no ack: %v", err)
	}
	var ack map[string]string
	if err := json.Unmarshal(raw, &ack); err != nil {
		t.Fatalf("ack does not parse: %v", err)
	}
	if ack["status"] != "warning" {
		t.Errorf("expected warning ack with no charge points, got %v", ack)
	}
}

func TestDuplicateConnectionRejectedWith1003(t *testing.T) {
	srv, wsURL := newTestServer(t)

	dialWS(t, wsURL+"/ocpp/CP-1")
	waitConnected(t, srv, "CP-1")

	second := dialWS(t, wsURL+"/ocpp/CP-1")
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := second.ReadMessage()
	if err == nil {
		t.Fatal("second socket should have been closed")
	}
	if !websocket.IsCloseError(err, websocket.CloseUnsupportedData) {
		t.Errorf("expected close code 1003, got %v", err)
	}
}
