package v16

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/observability/telemetry"
	"github.com/voltgrid/csms/internal/ports"
)

// DefaultResponseTimeout bounds how long a PendingOutbound may wait for its
// CALLRESULT/CALLERROR, measured from creation.
const DefaultResponseTimeout = 30 * time.Second

const engineTick = time.Second

// queueWhileDisconnected lists the actions whose PendingOutbound survives CP
// absence and is sent on reconnect. Everything else is abandoned on
// disconnect.
var queueWhileDisconnected = map[string]bool{
	"ChangeConfiguration": true,
}

// PendingOutbound tracks one outbound CALL awaiting its response.
type PendingOutbound struct {
	MessageID       string
	ChargerID       string
	Action          string
	Frame           []byte
	FirstSentAt     time.Time
	LastAttemptAt   time.Time
	RetryCount      int
	MaxRetries      int
	RetryInterval   time.Duration
	ResponseTimeout time.Duration
	Queued          bool // held while the charger is disconnected
}

// FailureReason classifies why a PendingOutbound terminated without a
// response.
type FailureReason string

const (
	FailExhausted    FailureReason = "exhausted"
	FailTimeout      FailureReason = "timeout"
	FailDisconnected FailureReason = "disconnected"
)

// Engine owns every PendingOutbound and runs the single bookkeeping loop
// that drives retries, timeouts, and disconnect policy.
type Engine struct {
	registry *Registry
	chargers ports.ChargerService
	log      *zap.Logger

	mu      sync.Mutex
	pending map[string]*PendingOutbound

	// onFail is invoked outside the engine lock when a pending terminates
	// without a response.
	onFail func(p *PendingOutbound, reason FailureReason)

	done chan struct{}
	once sync.Once
}

func NewEngine(registry *Registry, chargers ports.ChargerService, log *zap.Logger) *Engine {
	return &Engine{
		registry: registry,
		chargers: chargers,
		log:      log,
		pending:  make(map[string]*PendingOutbound),
		done:     make(chan struct{}),
	}
}

// SetFailureHandler registers the callback for terminal failures. Must be
// called before Run.
func (e *Engine) SetFailureHandler(fn func(p *PendingOutbound, reason FailureReason)) {
	e.onFail = fn
}

// Submit sends an outbound CALL and registers its PendingOutbound. When the
// charger is absent and the action queues while disconnected, the pending is
// created without a write and queued=true is returned; otherwise absence is
// an error.
func (e *Engine) Submit(ctx context.Context, chargerID, action string, payload interface{}) (messageID string, queued bool, err error) {
	policy := e.chargers.RetryPolicy(ctx, chargerID)

	messageID = uuid.New().String()
	frame, err := EncodeCall(messageID, action, payload)
	if err != nil {
		return "", false, err
	}

	// The retention window honors both bounds: a queued message survives
	// until its retry schedule or the response timeout runs out, whichever
	// is later.
	responseTimeout := DefaultResponseTimeout
	if sched := time.Duration(policy.MaxRetries) * policy.RetryInterval; sched > responseTimeout {
		responseTimeout = sched
	}

	now := time.Now().UTC()
	p := &PendingOutbound{
		MessageID:       messageID,
		ChargerID:       chargerID,
		Action:          action,
		Frame:           frame,
		FirstSentAt:     now,
		LastAttemptAt:   now,
		MaxRetries:      policy.MaxRetries,
		RetryInterval:   policy.RetryInterval,
		ResponseTimeout: responseTimeout,
	}

	if !e.registry.Connected(chargerID) {
		if !policy.Enabled || !queueWhileDisconnected[action] {
			return "", false, ErrNotConnected
		}
		p.Queued = true
		e.add(p)
		e.log.Info("outbound command queued for retry",
			zap.String("charger_id", chargerID),
			zap.String("action", action),
			zap.String("message_id", messageID),
		)
		return messageID, true, nil
	}

	e.add(p)
	if err := e.registry.SendToCP(chargerID, frame); err != nil {
		e.remove(messageID)
		return "", false, err
	}
	telemetry.MessagesSent.Inc()
	return messageID, false, nil
}

func (e *Engine) add(p *PendingOutbound) {
	e.mu.Lock()
	e.pending[p.MessageID] = p
	telemetry.PendingMessages.Set(float64(len(e.pending)))
	e.mu.Unlock()
}

func (e *Engine) remove(messageID string) *PendingOutbound {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pending[messageID]
	if !ok {
		return nil
	}
	delete(e.pending, messageID)
	telemetry.PendingMessages.Set(float64(len(e.pending)))
	return p
}

// HandleResponse correlates a CALLRESULT/CALLERROR with its pending CALL.
// The first response wins; anything later is ignored and false is returned.
func (e *Engine) HandleResponse(messageID string) (*PendingOutbound, bool) {
	p := e.remove(messageID)
	if p == nil {
		return nil, false
	}
	return p, true
}

// PendingFor reports the pending message ids for one charger.
func (e *Engine) PendingFor(chargerID string) []*PendingOutbound {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*PendingOutbound
	for _, p := range e.pending {
		if p.ChargerID == chargerID {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// FlushQueued writes every queued pending for the charger, called after the
// charger reconnects. Returns the number of frames sent.
func (e *Engine) FlushQueued(chargerID string) int {
	e.mu.Lock()
	var toSend []*PendingOutbound
	for _, p := range e.pending {
		if p.ChargerID == chargerID && p.Queued {
			toSend = append(toSend, p)
		}
	}
	e.mu.Unlock()

	sent := 0
	now := time.Now().UTC()
	for _, p := range toSend {
		if err := e.registry.SendToCP(chargerID, p.Frame); err != nil {
			continue
		}
		e.mu.Lock()
		p.Queued = false
		p.LastAttemptAt = now
		e.mu.Unlock()
		telemetry.MessagesSent.Inc()
		sent++
		e.log.Info("flushed queued command",
			zap.String("charger_id", chargerID),
			zap.String("action", p.Action),
			zap.String("message_id", p.MessageID),
		)
	}
	return sent
}

// OnDisconnect resolves the charger's pendings: queue-while-disconnected
// entries are kept for reconnect, the rest terminate as disconnected.
func (e *Engine) OnDisconnect(chargerID string) {
	e.mu.Lock()
	var failed []*PendingOutbound
	for id, p := range e.pending {
		if p.ChargerID != chargerID {
			continue
		}
		if queueWhileDisconnected[p.Action] {
			p.Queued = true
			continue
		}
		delete(e.pending, id)
		failed = append(failed, p)
	}
	telemetry.PendingMessages.Set(float64(len(e.pending)))
	e.mu.Unlock()

	for _, p := range failed {
		e.fail(p, FailDisconnected)
	}
}

// Run drives the bookkeeping loop until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(engineTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case now := <-ticker.C:
			e.tick(now.UTC())
		}
	}
}

func (e *Engine) Stop() {
	e.once.Do(func() { close(e.done) })
}

func (e *Engine) tick(now time.Time) {
	type resend struct {
		p     *PendingOutbound
		frame []byte
	}
	var timedOut, exhausted []*PendingOutbound
	var resends []resend

	e.mu.Lock()
	for id, p := range e.pending {
		if now.Sub(p.FirstSentAt) >= p.ResponseTimeout {
			delete(e.pending, id)
			timedOut = append(timedOut, p)
			continue
		}
		if now.Sub(p.LastAttemptAt) < p.RetryInterval {
			continue
		}
		connected := e.registry.Connected(p.ChargerID)
		if !connected {
			// Queued entries wait for reconnect; the timeout above still
			// bounds their lifetime.
			continue
		}
		if p.RetryCount >= p.MaxRetries {
			delete(e.pending, id)
			exhausted = append(exhausted, p)
			continue
		}
		p.RetryCount++
		p.LastAttemptAt = now
		p.Queued = false
		resends = append(resends, resend{p: p, frame: p.Frame})
	}
	telemetry.PendingMessages.Set(float64(len(e.pending)))
	e.mu.Unlock()

	for _, p := range timedOut {
		e.fail(p, FailTimeout)
	}
	for _, p := range exhausted {
		e.fail(p, FailExhausted)
	}
	for _, rs := range resends {
		if err := e.registry.SendToCP(rs.p.ChargerID, rs.frame); err != nil {
			e.log.Warn("retry send failed",
				zap.String("charger_id", rs.p.ChargerID),
				zap.String("message_id", rs.p.MessageID),
				zap.Error(err),
			)
			continue
		}
		telemetry.MessagesSent.Inc()
		e.log.Debug("resent outbound command",
			zap.String("charger_id", rs.p.ChargerID),
			zap.String("action", rs.p.Action),
			zap.Int("retry", rs.p.RetryCount),
		)
	}
}

func (e *Engine) fail(p *PendingOutbound, reason FailureReason) {
	telemetry.MessagesFailed.Inc()
	e.log.Warn("outbound command failed",
		zap.String("charger_id", p.ChargerID),
		zap.String("action", p.Action),
		zap.String("message_id", p.MessageID),
		zap.String("reason", string(reason)),
		zap.Int("retries", p.RetryCount),
	)
	if e.onFail != nil {
		e.onFail(p, reason)
	}
}
