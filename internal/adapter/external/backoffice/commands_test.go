package backoffice

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/mocks"
)

func popResult(t *testing.T, cache *mocks.MockCache, requestID string) CommandResult {
	t.Helper()
	raw, err := cache.PopList(context.Background(), "csms:responses:"+requestID, time.Second)
	if err != nil {
		t.Fatalf("pop failed: %v", err)
	}
	if raw == "" {
		t.Fatal("expected a command result on the response list")
	}
	var result CommandResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		t.Fatalf("result does not parse: %v", err)
	}
	return result
}

func TestHandlePushesAcceptedResult(t *testing.T) {
	cache := mocks.NewMockCache()
	sender := &mocks.MockCommandSender{}
	reader := NewCommandReader(cache, sender, "csms", zap.NewNop())

	reader.handle(context.Background(), Command{
		RequestID:       "req-1",
		ChargerID:       "CP-1",
		Command:         "Reset",
		Payload:         map[string]string{"type": "Soft"},
		RequireResponse: true,
	})

	if len(sender.Sent) != 1 || sender.Sent[0].Action != "Reset" {
		t.Fatalf("expected one Reset send, got %v", sender.Sent)
	}

	result := popResult(t, cache, "req-1")
	if result.Status != "accepted" || result.MessageID != "msg-1" {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Message == "" {
		t.Error("accepted result should carry a message")
	}
}

func TestHandlePushesRejection(t *testing.T) {
	cache := mocks.NewMockCache()
	sender := &mocks.MockCommandSender{
		SendFunc: func(ctx context.Context, chargerID, action string, payload interface{}) (string, bool, error) {
			return "", false, errors.New("charger not connected")
		},
	}
	reader := NewCommandReader(cache, sender, "csms", zap.NewNop())

	reader.handle(context.Background(), Command{
		RequestID:       "req-2",
		ChargerID:       "CP-1",
		Command:         "Reset",
		RequireResponse: true,
	})

	result := popResult(t, cache, "req-2")
	if result.Status != "error" {
		t.Errorf("rejected command must report error status, got %+v", result)
	}
	if result.Message == "" {
		t.Error("expected an error message")
	}
}

func TestHandleRefusesUnsupportedCommand(t *testing.T) {
	cache := mocks.NewMockCache()
	sender := &mocks.MockCommandSender{}
	reader := NewCommandReader(cache, sender, "csms", zap.NewNop())

	reader.handle(context.Background(), Command{
		RequestID:       "req-3",
		ChargerID:       "CP-1",
		Command:         "ClearCache",
		RequireResponse: true,
	})

	if len(sender.Sent) != 0 {
		t.Fatalf("unsupported command must never reach the sender, got %v", sender.Sent)
	}
	result := popResult(t, cache, "req-3")
	if result.Status != "error" || result.Message == "" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestHandleSkipsResponseUnlessRequired(t *testing.T) {
	cache := mocks.NewMockCache()
	sender := &mocks.MockCommandSender{}
	reader := NewCommandReader(cache, sender, "csms", zap.NewNop())

	// request_id present but require_response unset: submit, no response.
	reader.handle(context.Background(), Command{RequestID: "req-4", ChargerID: "CP-1", Command: "UnlockConnector"})

	if len(sender.Sent) != 1 {
		t.Fatalf("expected the command to be sent, got %v", sender.Sent)
	}
	n, _ := cache.ListLen(context.Background(), "csms:responses:req-4")
	if n != 0 {
		t.Error("no response should be written unless require_response is set")
	}
}
