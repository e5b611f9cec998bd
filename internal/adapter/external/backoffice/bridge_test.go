package backoffice

import (
	"testing"

	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/mocks"
)

func TestPublishStampsSource(t *testing.T) {
	b := NewBridge("", "", mocks.NewMockCache(), nil, "csms", zap.NewNop())

	b.Publish("boot_notification", "CP-1", map[string]interface{}{"vendor": "acme"})

	select {
	case ev := <-b.events:
		if ev.Source != "ocpp_service" {
			t.Errorf("expected source ocpp_service, got %q", ev.Source)
		}
		if ev.EventType != "boot_notification" || ev.ChargerID != "CP-1" {
			t.Errorf("unexpected event: %+v", ev)
		}
		if ev.Timestamp == "" {
			t.Error("event should carry a timestamp")
		}
	default:
		t.Fatal("event never reached the buffer")
	}
}
