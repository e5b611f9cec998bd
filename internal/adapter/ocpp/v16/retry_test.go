package v16

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/mocks"
	"github.com/voltgrid/csms/internal/ports"
)

func newTestEngine(policy ports.RetryPolicy) *Engine {
	registry := NewRegistry(zap.NewNop())
	chargers := &mocks.MockChargerService{
		RetryPolicyFunc: func(ctx context.Context, chargerID string) ports.RetryPolicy {
			return policy
		},
	}
	return NewEngine(registry, chargers, zap.NewNop())
}

func TestSubmitDisconnectedNonQueueable(t *testing.T) {
	e := newTestEngine(ports.RetryPolicy{MaxRetries: 3, RetryInterval: 5 * time.Second, Enabled: true})

	_, _, err := e.Submit(context.Background(), "CP-1", "Reset", map[string]string{"type": "Soft"})
	if err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if e.PendingCount() != 0 {
		t.Errorf("expected no pending, got %d", e.PendingCount())
	}
}

func TestSubmitDisconnectedQueueable(t *testing.T) {
	e := newTestEngine(ports.RetryPolicy{MaxRetries: 3, RetryInterval: 5 * time.Second, Enabled: true})

	messageID, queued, err := e.Submit(context.Background(), "CP-1", "ChangeConfiguration", map[string]string{"key": "k", "value": "v"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !queued {
		t.Fatal("expected queued=true")
	}
	if messageID == "" {
		t.Fatal("expected a message id")
	}

	pending := e.PendingFor("CP-1")
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending, got %d", len(pending))
	}
	if !pending[0].Queued {
		t.Error("pending should be marked queued")
	}
}

func TestSubmitQueueableWithRetryDisabled(t *testing.T) {
	e := newTestEngine(ports.RetryPolicy{MaxRetries: 3, RetryInterval: 5 * time.Second, Enabled: false})

	_, _, err := e.Submit(context.Background(), "CP-1", "ChangeConfiguration", map[string]string{"key": "k"})
	if err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected when retry disabled, got %v", err)
	}
}

func TestResponseTimeoutHonorsRetrySchedule(t *testing.T) {
	// 10 retries x 20s exceeds the 30s floor; the retention window must
	// cover the whole schedule.
	e := newTestEngine(ports.RetryPolicy{MaxRetries: 10, RetryInterval: 20 * time.Second, Enabled: true})

	_, _, err := e.Submit(context.Background(), "CP-1", "ChangeConfiguration", map[string]string{"key": "k"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := e.PendingFor("CP-1")[0]
	if want := 200 * time.Second; p.ResponseTimeout != want {
		t.Errorf("expected response timeout %v, got %v", want, p.ResponseTimeout)
	}
}

func TestHandleResponseFirstWins(t *testing.T) {
	e := newTestEngine(ports.RetryPolicy{MaxRetries: 3, RetryInterval: 5 * time.Second, Enabled: true})

	messageID, _, err := e.Submit(context.Background(), "CP-1", "ChangeConfiguration", map[string]string{"key": "k"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, ok := e.HandleResponse(messageID)
	if !ok || p == nil {
		t.Fatal("first response should correlate")
	}
	if p.Action != "ChangeConfiguration" {
		t.Errorf("unexpected action %s", p.Action)
	}

	if _, ok := e.HandleResponse(messageID); ok {
		t.Error("second response must be ignored")
	}
	if e.PendingCount() != 0 {
		t.Errorf("expected no pending, got %d", e.PendingCount())
	}
}

func TestOnDisconnectKeepsQueueable(t *testing.T) {
	e := newTestEngine(ports.RetryPolicy{MaxRetries: 3, RetryInterval: 5 * time.Second, Enabled: true})

	var failed []FailureReason
	e.SetFailureHandler(func(p *PendingOutbound, reason FailureReason) {
		failed = append(failed, reason)
	})

	// Queueable survives; a hand-registered non-queueable pending does not.
	if _, _, err := e.Submit(context.Background(), "CP-1", "ChangeConfiguration", map[string]string{"key": "k"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.add(&PendingOutbound{
		MessageID:       "reset-1",
		ChargerID:       "CP-1",
		Action:          "Reset",
		FirstSentAt:     time.Now(),
		LastAttemptAt:   time.Now(),
		MaxRetries:      3,
		RetryInterval:   5 * time.Second,
		ResponseTimeout: DefaultResponseTimeout,
	})

	e.OnDisconnect("CP-1")

	if len(failed) != 1 || failed[0] != FailDisconnected {
		t.Fatalf("expected one disconnected failure, got %v", failed)
	}
	pending := e.PendingFor("CP-1")
	if len(pending) != 1 || pending[0].Action != "ChangeConfiguration" {
		t.Fatalf("expected the queueable pending to survive, got %v", pending)
	}
}

func TestTickTimesOutExpiredPending(t *testing.T) {
	e := newTestEngine(ports.RetryPolicy{MaxRetries: 3, RetryInterval: 5 * time.Second, Enabled: true})

	var failed []FailureReason
	e.SetFailureHandler(func(p *PendingOutbound, reason FailureReason) {
		failed = append(failed, reason)
	})

	past := time.Now().UTC().Add(-time.Minute)
	e.add(&PendingOutbound{
		MessageID:       "old-1",
		ChargerID:       "CP-1",
		Action:          "ChangeConfiguration",
		FirstSentAt:     past,
		LastAttemptAt:   past,
		MaxRetries:      3,
		RetryInterval:   5 * time.Second,
		ResponseTimeout: DefaultResponseTimeout,
		Queued:          true,
	})

	e.tick(time.Now().UTC())

	if len(failed) != 1 || failed[0] != FailTimeout {
		t.Fatalf("expected timeout failure, got %v", failed)
	}
	if e.PendingCount() != 0 {
		t.Errorf("expected no pending, got %d", e.PendingCount())
	}
}

func TestTickSkipsDisconnectedQueued(t *testing.T) {
	e := newTestEngine(ports.RetryPolicy{MaxRetries: 3, RetryInterval: time.Second, Enabled: true})

	var failed []FailureReason
	e.SetFailureHandler(func(p *PendingOutbound, reason FailureReason) {
		failed = append(failed, reason)
	})

	now := time.Now().UTC()
	e.add(&PendingOutbound{
		MessageID:       "q-1",
		ChargerID:       "CP-1",
		Action:          "ChangeConfiguration",
		FirstSentAt:     now.Add(-5 * time.Second),
		LastAttemptAt:   now.Add(-5 * time.Second),
		MaxRetries:      3,
		RetryInterval:   time.Second,
		ResponseTimeout: DefaultResponseTimeout,
		Queued:          true,
	})

	e.tick(now)

	if len(failed) != 0 {
		t.Fatalf("queued pending must not fail while within its window, got %v", failed)
	}
	if e.PendingCount() != 1 {
		t.Errorf("expected 1 pending, got %d", e.PendingCount())
	}
}
