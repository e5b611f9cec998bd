package v16

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/mocks"
)

type handlerFixture struct {
	handlers  *Handlers
	chargers  *mocks.MockChargerService
	sessions  *mocks.MockSessionService
	cards     *mocks.MockCardService
	projector *mocks.MockProjector
	events    *mocks.MockEventSink
	sysconfig *mocks.MockSystemConfigRepository
}

func newHandlerFixture() *handlerFixture {
	f := &handlerFixture{
		chargers:  &mocks.MockChargerService{},
		sessions:  &mocks.MockSessionService{},
		cards:     &mocks.MockCardService{},
		projector: &mocks.MockProjector{},
		events:    &mocks.MockEventSink{},
		sysconfig: mocks.NewMockSystemConfigRepository(),
	}
	f.handlers = NewHandlers(f.chargers, f.sessions, f.cards, f.projector, f.events, f.sysconfig, zap.NewNop())
	return f
}

func TestBootNotification(t *testing.T) {
	f := newHandlerFixture()
	f.sysconfig.Set(context.Background(), domain.ConfigKeyHeartbeatInterval, "120", "")

	payload := json.RawMessage(`{"chargePointVendor":"ACME","chargePointModel":"X1"}`)
	result, ferr := f.handlers.HandleCall(context.Background(), "CP-1", "BootNotification", payload)
	if ferr != nil {
		t.Fatalf("unexpected error: %v", ferr)
	}

	resp := result.(map[string]interface{})
	if resp["status"] != "Accepted" {
		t.Errorf("expected Accepted, got %v", resp["status"])
	}
	if resp["interval"] != 120 {
		t.Errorf("expected interval 120, got %v", resp["interval"])
	}
	if _, err := time.Parse(time.RFC3339, resp["currentTime"].(string)); err != nil {
		t.Errorf("currentTime is not RFC3339: %v", err)
	}
	if len(f.events.ByType("boot_notification")) != 1 {
		t.Error("expected a boot_notification event")
	}
}

func TestBootNotificationMalformed(t *testing.T) {
	f := newHandlerFixture()
	_, ferr := f.handlers.HandleCall(context.Background(), "CP-1", "BootNotification", json.RawMessage(`"nope"`))
	if ferr == nil || ferr.Code != ErrCodeFormatViolation {
		t.Fatalf("expected FormatViolation, got %v", ferr)
	}
}

func TestHeartbeat(t *testing.T) {
	f := newHandlerFixture()
	result, ferr := f.handlers.HandleCall(context.Background(), "CP-1", "Heartbeat", json.RawMessage(`{}`))
	if ferr != nil {
		t.Fatalf("unexpected error: %v", ferr)
	}
	resp := result.(map[string]string)
	if _, err := time.Parse(time.RFC3339, resp["currentTime"]); err != nil {
		t.Errorf("currentTime is not RFC3339: %v", err)
	}
}

func TestStatusNotificationFaultEvent(t *testing.T) {
	f := newHandlerFixture()

	payload := json.RawMessage(`{"connectorId":1,"status":"Faulted","errorCode":"GroundFailure"}`)
	if _, ferr := f.handlers.HandleCall(context.Background(), "CP-1", "StatusNotification", payload); ferr != nil {
		t.Fatalf("unexpected error: %v", ferr)
	}

	if len(f.events.ByType("status_notification")) != 1 {
		t.Error("expected a status_notification event")
	}
	if len(f.events.ByType("fault_notification")) != 1 {
		t.Error("expected a fault_notification event for non-NoError code")
	}
}

func TestStatusNotificationNoErrorSkipsFault(t *testing.T) {
	f := newHandlerFixture()

	payload := json.RawMessage(`{"connectorId":1,"status":"Available","errorCode":"NoError"}`)
	if _, ferr := f.handlers.HandleCall(context.Background(), "CP-1", "StatusNotification", payload); ferr != nil {
		t.Fatalf("unexpected error: %v", ferr)
	}
	if len(f.events.ByType("fault_notification")) != 0 {
		t.Error("NoError must not raise a fault_notification")
	}
}

func TestMeterValuesEnergyParsing(t *testing.T) {
	f := newHandlerFixture()

	var gotEnergy float64
	f.chargers.UpdateConnectorEnergyFunc = func(ctx context.Context, chargerID string, connectorID int, energyKWh float64) error {
		gotEnergy = energyKWh
		return nil
	}

	payload := json.RawMessage(`{
		"connectorId": 1,
		"transactionId": 7,
		"meterValue": [{
			"timestamp": "2026-01-01T00:00:00Z",
			"sampledValue": [
				{"value":"15500","measurand":"Energy.Active.Import.Register","unit":"Wh"},
				{"value":"7400","measurand":"Power.Active.Import","unit":"W"},
				{"value":"230.2","measurand":"Voltage","unit":"V"}
			]
		}]
	}`)
	if _, ferr := f.handlers.HandleCall(context.Background(), "CP-1", "MeterValues", payload); ferr != nil {
		t.Fatalf("unexpected error: %v", ferr)
	}
	if gotEnergy != 15.5 {
		t.Errorf("expected 15.5 kWh, got %v", gotEnergy)
	}
	events := f.events.ByType("meter_values")
	if len(events) != 1 {
		t.Fatal("expected a meter_values event")
	}
	if events[0].Data["power_kw"] != 7.4 {
		t.Errorf("expected 7.4 kW, got %v", events[0].Data["power_kw"])
	}
}

func TestStartTransaction(t *testing.T) {
	f := newHandlerFixture()
	f.sessions.StartFunc = func(ctx context.Context, chargerID string, connectorID int, idTag string, meterStart int, at time.Time) (*domain.ChargingSession, error) {
		return &domain.ChargingSession{
			ChargerID:     chargerID,
			ConnectorID:   connectorID,
			TransactionID: 42,
			IDTag:         idTag,
			MeterStart:    meterStart,
			StartTime:     at,
			Status:        domain.SessionStatusActive,
		}, nil
	}

	payload := json.RawMessage(`{"connectorId":1,"idTag":"TAG-1","meterStart":1000,"timestamp":"2026-01-01T10:00:00Z"}`)
	result, ferr := f.handlers.HandleCall(context.Background(), "CP-1", "StartTransaction", payload)
	if ferr != nil {
		t.Fatalf("unexpected error: %v", ferr)
	}

	resp := result.(map[string]interface{})
	if resp["transactionId"] != 42 {
		t.Errorf("expected transaction id 42, got %v", resp["transactionId"])
	}
	info := resp["idTagInfo"].(map[string]string)
	if info["status"] != "Accepted" {
		t.Errorf("expected Accepted, got %v", info["status"])
	}
	if len(f.projector.Started) != 1 {
		t.Error("expected projector to see the started session")
	}
}

func TestAuthorizeStatuses(t *testing.T) {
	f := newHandlerFixture()
	f.cards.AuthorizeFunc = func(ctx context.Context, idTag string) domain.AuthorizationStatus {
		if idTag == "GOOD" {
			return domain.AuthorizationAccepted
		}
		return domain.AuthorizationBlocked
	}

	for tag, want := range map[string]string{"GOOD": "Accepted", "BAD": "Blocked"} {
		payload, _ := json.Marshal(map[string]string{"idTag": tag})
		result, ferr := f.handlers.HandleCall(context.Background(), "CP-1", "Authorize", payload)
		if ferr != nil {
			t.Fatalf("unexpected error: %v", ferr)
		}
		info := result.(map[string]interface{})["idTagInfo"].(map[string]string)
		if info["status"] != want {
			t.Errorf("tag %s: expected %s, got %s", tag, want, info["status"])
		}
	}
}

func TestDataTransferToleratesGarbage(t *testing.T) {
	f := newHandlerFixture()
	result, ferr := f.handlers.HandleCall(context.Background(), "CP-1", "DataTransfer", json.RawMessage(`12345`))
	if ferr != nil {
		t.Fatalf("DataTransfer must tolerate junk payloads, got %v", ferr)
	}
	if result.(map[string]string)["status"] != "Accepted" {
		t.Errorf("expected Accepted, got %v", result)
	}
}

func TestGetCompositeScheduleSynthetic(t *testing.T) {
	f := newHandlerFixture()
	payload := json.RawMessage(`{"connectorId":1,"duration":600}`)
	result, ferr := f.handlers.HandleCall(context.Background(), "CP-1", "GetCompositeSchedule", payload)
	if ferr != nil {
		t.Fatalf("unexpected error: %v", ferr)
	}
	resp := result.(map[string]interface{})
	sched := resp["chargingSchedule"].(map[string]interface{})
	periods := sched["chargingSchedulePeriod"].([]map[string]interface{})
	if len(periods) != 1 || periods[0]["limit"] != 10000 {
		t.Errorf("unexpected schedule: %v", sched)
	}
}

func TestUnknownActionNotImplemented(t *testing.T) {
	f := newHandlerFixture()
	_, ferr := f.handlers.HandleCall(context.Background(), "CP-1", "TotallyMadeUp", json.RawMessage(`{}`))
	if ferr == nil || ferr.Code != ErrCodeNotImplemented {
		t.Fatalf("expected NotImplemented, got %v", ferr)
	}
}
