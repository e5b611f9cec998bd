package projector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/ports"
)

const (
	eventBuffer     = 256
	refreshInterval = 30 * time.Second
	cleanupInterval = time.Hour
	retainFor       = 24 * time.Hour
)

// LiveCharger is the dashboard view of one charge point.
type LiveCharger struct {
	ChargerID          string               `json:"charger_id"`
	Connected          bool                 `json:"connected"`
	Status             domain.ChargerStatus `json:"status"`
	Connectors         []domain.Connector   `json:"connectors"`
	ActiveSessions     int                  `json:"active_sessions"`
	TotalEnergyToday   float64              `json:"total_energy_today"`
	TotalSessionsToday int64                `json:"total_sessions_today"`
	LastHeartbeat      *time.Time           `json:"last_heartbeat,omitempty"`
	LastSeen           time.Time            `json:"last_seen"`
}

// LiveSession is the dashboard view of one active charging session.
type LiveSession struct {
	SessionID     string    `json:"session_id"`
	ChargerID     string    `json:"charger_id"`
	ConnectorID   int       `json:"connector_id"`
	TransactionID int       `json:"transaction_id"`
	IDTag         string    `json:"id_tag"`
	StartTime     time.Time `json:"start_time"`
	EnergyKWh     float64   `json:"energy_kwh"`
	PowerKW       float64   `json:"power_kw"`
	Voltage       float64   `json:"voltage"`
	Current       float64   `json:"current"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Statistics aggregates the live view for the dashboard header.
type Statistics struct {
	ConnectedChargers   int     `json:"connected_chargers"`
	ActiveSessions      int     `json:"active_sessions"`
	TotalEnergyTodayKWh float64 `json:"total_energy_today_kwh"`
	TotalSessionsToday  int64   `json:"total_sessions_today"`
}

// Snapshot is the full live state, sent to dashboards on attach.
type Snapshot struct {
	Chargers   []LiveCharger `json:"charger_status"`
	Sessions   []LiveSession `json:"active_sessions"`
	Statistics Statistics    `json:"statistics"`
}

// Message is one dashboard feed entry.
type Message struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type command struct {
	apply func(p *Projector)
}

// Projector maintains the live in-memory view of chargers and sessions. All
// state lives in one goroutine; callers communicate through the channel, so
// handler hot paths never contend on a lock.
type Projector struct {
	sessions   ports.SessionRepository
	chargers   ports.ChargerRepository
	connectors ports.ConnectorRepository
	log        *zap.Logger

	cmds chan command

	live   map[string]*LiveCharger
	active map[string]*LiveSession // keyed by charger id

	broadcast func(Message)
	snapshots chan chan Snapshot
}

func New(sessions ports.SessionRepository, chargers ports.ChargerRepository, connectors ports.ConnectorRepository, log *zap.Logger) *Projector {
	return &Projector{
		sessions:   sessions,
		chargers:   chargers,
		connectors: connectors,
		log:        log,
		cmds:       make(chan command, eventBuffer),
		live:       make(map[string]*LiveCharger),
		active:     make(map[string]*LiveSession),
		snapshots:  make(chan chan Snapshot),
	}
}

// SetBroadcaster registers the dashboard fan-out. Must be set before Run.
func (p *Projector) SetBroadcaster(fn func(Message)) {
	p.broadcast = fn
}

// Run owns all projector state until ctx is done.
func (p *Projector) Run(ctx context.Context) {
	p.seed(ctx)

	refresh := time.NewTicker(refreshInterval)
	defer refresh.Stop()
	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-p.cmds:
			cmd.apply(p)
		case reply := <-p.snapshots:
			reply <- p.snapshot()
		case now := <-refresh.C:
			p.refresh(ctx, now.UTC())
			p.emit("status_update", p.snapshot())
		case now := <-cleanup.C:
			p.prune(now.UTC())
		}
	}
}

// seed loads active sessions from the store so a restart does not blank the
// dashboard.
func (p *Projector) seed(ctx context.Context) {
	active, err := p.sessions.FindActive(ctx)
	if err != nil {
		p.log.Warn("failed to seed live sessions", zap.Error(err))
		return
	}
	for i := range active {
		s := &active[i]
		p.active[s.ChargerID] = &LiveSession{
			SessionID:     s.ID,
			ChargerID:     s.ChargerID,
			ConnectorID:   s.ConnectorID,
			TransactionID: s.TransactionID,
			IDTag:         s.IDTag,
			StartTime:     s.StartTime,
			EnergyKWh:     s.EnergyDeliveredKWh,
			UpdatedAt:     time.Now().UTC(),
		}
	}
	p.log.Info("live view seeded", zap.Int("active_sessions", len(p.active)))
}

// refresh re-reads every tracked charger from persistence so the live view
// does not drift from the store between events.
func (p *Projector) refresh(ctx context.Context, now time.Time) {
	since := startOfDay(now)
	for id, c := range p.live {
		stored, err := p.chargers.FindByID(ctx, id)
		if err != nil {
			p.log.Warn("live view refresh failed", zap.String("charger_id", id), zap.Error(err))
			continue
		}
		if stored != nil {
			c.Connected = stored.IsConnected
			c.Status = stored.Status
			c.LastHeartbeat = stored.LastHeartbeat
		}
		if connectors, err := p.connectors.FindByCharger(ctx, id); err == nil {
			c.Connectors = connectors
		}
		if _, ok := p.active[id]; ok {
			c.ActiveSessions = 1
		} else {
			c.ActiveSessions = 0
		}
		if n, err := p.sessions.CountSince(ctx, id, since); err == nil {
			c.TotalSessionsToday = n
		}
		if kwh, err := p.sessions.EnergySince(ctx, id, since); err == nil {
			c.TotalEnergyToday = kwh
		}
	}
}

func startOfDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (p *Projector) submit(apply func(p *Projector)) {
	select {
	case p.cmds <- command{apply: apply}:
	default:
		// Feed congestion: the live view is advisory, dropping beats
		// blocking an OCPP handler.
		p.log.Warn("projector queue full, event dropped")
	}
}

// GetSnapshot returns a copy of the live state.
func (p *Projector) GetSnapshot(ctx context.Context) Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case p.snapshots <- reply:
		select {
		case snap := <-reply:
			return snap
		case <-ctx.Done():
		}
	case <-ctx.Done():
	}
	return Snapshot{}
}

func (p *Projector) snapshot() Snapshot {
	snap := Snapshot{
		Chargers: make([]LiveCharger, 0, len(p.live)),
		Sessions: make([]LiveSession, 0, len(p.active)),
	}
	for _, c := range p.live {
		if _, ok := p.active[c.ChargerID]; ok {
			c.ActiveSessions = 1
		} else {
			c.ActiveSessions = 0
		}
		snap.Chargers = append(snap.Chargers, *c)
		if c.Connected {
			snap.Statistics.ConnectedChargers++
		}
		snap.Statistics.TotalEnergyTodayKWh += c.TotalEnergyToday
		snap.Statistics.TotalSessionsToday += c.TotalSessionsToday
	}
	for _, s := range p.active {
		snap.Sessions = append(snap.Sessions, *s)
	}
	snap.Statistics.ActiveSessions = len(p.active)
	return snap
}

// prune drops stale state: disconnected chargers unseen past the retention
// window and active sessions that never stopped.
func (p *Projector) prune(now time.Time) {
	for id, c := range p.live {
		if !c.Connected && now.Sub(c.LastSeen) > retainFor {
			delete(p.live, id)
		}
	}
	for id, s := range p.active {
		if now.Sub(s.StartTime) > retainFor {
			p.log.Warn("evicting stale active session",
				zap.String("charger_id", id),
				zap.Int("transaction_id", s.TransactionID),
			)
			delete(p.active, id)
		}
	}
}

func (p *Projector) emit(msgType string, data interface{}) {
	if p.broadcast == nil {
		return
	}
	p.broadcast(Message{
		Type:      msgType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	})
}

func (p *Projector) charger(chargerID string) *LiveCharger {
	c, ok := p.live[chargerID]
	if !ok {
		c = &LiveCharger{ChargerID: chargerID, Status: domain.ChargerStatusUnknown}
		p.live[chargerID] = c
	}
	return c
}

// --- ports.Projector ---

func (p *Projector) SessionStarted(s *domain.ChargingSession) {
	sess := &LiveSession{
		SessionID:     s.ID,
		ChargerID:     s.ChargerID,
		ConnectorID:   s.ConnectorID,
		TransactionID: s.TransactionID,
		IDTag:         s.IDTag,
		StartTime:     s.StartTime,
		UpdatedAt:     time.Now().UTC(),
	}
	p.submit(func(p *Projector) {
		p.active[sess.ChargerID] = sess
		p.emit("session_started", sess)
	})
}

func (p *Projector) SessionStopped(s *domain.ChargingSession) {
	chargerID := s.ChargerID
	summary := map[string]interface{}{
		"session_id":     s.ID,
		"charger_id":     s.ChargerID,
		"transaction_id": s.TransactionID,
		"energy_kwh":     s.EnergyDeliveredKWh,
		"cost":           s.Cost,
		"status":         s.Status,
	}
	p.submit(func(p *Projector) {
		delete(p.active, chargerID)
		p.emit("session_stopped", summary)
	})
}

func (p *Projector) MeterUpdate(chargerID string, connectorID, transactionID int, energyKWh, powerKW, voltage, current float64) {
	now := time.Now().UTC()
	p.submit(func(p *Projector) {
		sess, ok := p.active[chargerID]
		if !ok {
			return
		}
		sess.EnergyKWh = energyKWh
		sess.PowerKW = powerKW
		sess.Voltage = voltage
		sess.Current = current
		sess.UpdatedAt = now
		p.emit("meter_update", sess)
	})
}

func (p *Projector) StatusChanged(chargerID string, connectorID int, status domain.ChargerStatus, errorCode string) {
	now := time.Now().UTC()
	p.submit(func(p *Projector) {
		c := p.charger(chargerID)
		c.Status = status
		c.LastSeen = now
		p.emit("status_update", map[string]interface{}{
			"charger_id":   chargerID,
			"connector_id": connectorID,
			"status":       status,
			"error_code":   errorCode,
		})
	})
}

func (p *Projector) HeartbeatSeen(chargerID string, at time.Time) {
	p.submit(func(p *Projector) {
		c := p.charger(chargerID)
		c.LastHeartbeat = &at
		c.LastSeen = at
		c.Connected = true
	})
}

func (p *Projector) ConnectionChanged(chargerID string, connected bool) {
	now := time.Now().UTC()
	p.submit(func(p *Projector) {
		c := p.charger(chargerID)
		c.Connected = connected
		c.LastSeen = now
		p.emit("connection_update", map[string]interface{}{
			"charger_id": chargerID,
			"connected":  connected,
		})
	})
}
