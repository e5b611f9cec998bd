package v16

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/mocks"
	"github.com/voltgrid/csms/internal/ports"
)

func newTestCommands() *Commands {
	registry := NewRegistry(zap.NewNop())
	chargers := &mocks.MockChargerService{
		RetryPolicyFunc: func(ctx context.Context, chargerID string) ports.RetryPolicy {
			return ports.RetryPolicy{MaxRetries: 3, RetryInterval: 5 * time.Second, Enabled: true}
		},
	}
	engine := NewEngine(registry, chargers, zap.NewNop())
	return NewCommands(engine, zap.NewNop())
}

func assertValidationErr(t *testing.T, err error, fragment string) {
	t.Helper()
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected a CommandError, got %v", err)
	}
	if cmdErr.Kind != ErrKindValidation {
		t.Fatalf("expected a validation error, got kind %d: %s", cmdErr.Kind, cmdErr.Message)
	}
	if !strings.Contains(cmdErr.Message, fragment) {
		t.Errorf("message %q should mention %q", cmdErr.Message, fragment)
	}
}

func TestChangeConfigurationKeyTooLong(t *testing.T) {
	c := newTestCommands()
	_, _, err := c.ChangeConfiguration(context.Background(), "CP-1", strings.Repeat("k", 51), "v")
	assertValidationErr(t, err, "50")
}

func TestChangeConfigurationValueTooLong(t *testing.T) {
	c := newTestCommands()
	_, _, err := c.ChangeConfiguration(context.Background(), "CP-1", "HeartbeatInterval", strings.Repeat("v", 501))
	assertValidationErr(t, err, "500")
}

func TestChangeConfigurationAtLimitQueuesWhileDisconnected(t *testing.T) {
	c := newTestCommands()
	messageID, queued, err := c.ChangeConfiguration(context.Background(), "CP-1",
		strings.Repeat("k", 50), strings.Repeat("v", 500))
	if err != nil {
		t.Fatalf("values at the limit must pass validation: %v", err)
	}
	if !queued || messageID == "" {
		t.Errorf("expected queued submission, got queued=%v id=%q", queued, messageID)
	}
}

func TestGetConfigurationKeyTooLong(t *testing.T) {
	c := newTestCommands()
	_, _, err := c.GetConfiguration(context.Background(), "CP-1", []string{"ok", strings.Repeat("k", 51)})
	assertValidationErr(t, err, "50")
}

func TestSendLocalListValidation(t *testing.T) {
	c := newTestCommands()

	if _, _, err := c.SendLocalList(context.Background(), "CP-1", 0, "Full", nil); err == nil {
		t.Error("listVersion 0 must be rejected")
	} else {
		assertValidationErr(t, err, "listVersion")
	}

	if _, _, err := c.SendLocalList(context.Background(), "CP-1", 1, "Partial", nil); err == nil {
		t.Error("unknown updateType must be rejected")
	} else {
		assertValidationErr(t, err, "updateType")
	}

	entries := []LocalListEntry{{IDTag: ""}}
	if _, _, err := c.SendLocalList(context.Background(), "CP-1", 1, "Differential", entries); err == nil {
		t.Error("entry without idTag must be rejected")
	} else {
		assertValidationErr(t, err, "idTag")
	}
}

func TestSendLocalListValidButDisconnected(t *testing.T) {
	c := newTestCommands()
	entries := []LocalListEntry{{IDTag: "ABCD1234", IDTagInfo: map[string]interface{}{"status": "Accepted"}}}

	_, _, err := c.SendLocalList(context.Background(), "CP-1", 2, "Full", entries)
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Kind != ErrKindNotConnected {
		t.Fatalf("valid list should only fail on connectivity, got %v", err)
	}
}

func TestGetLocalListVersionDisconnected(t *testing.T) {
	c := newTestCommands()
	_, _, err := c.GetLocalListVersion(context.Background(), "CP-1")
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Kind != ErrKindNotConnected {
		t.Fatalf("expected not-connected error, got %v", err)
	}
}
