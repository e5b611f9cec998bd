package v16

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/ports"
)

const (
	heartbeatSweepInterval = 60 * time.Second
	socketSweepInterval    = 10 * time.Second
)

// Monitor detects dead charge points two ways: chargers whose last heartbeat
// is older than the configured timeout, and sockets whose transport no
// longer accepts pings.
type Monitor struct {
	registry  *Registry
	chargers  ports.ChargerRepository
	logs      ports.LogRepository
	projector ports.Projector
	events    ports.EventSink
	timeout   time.Duration
	log       *zap.Logger
}

func NewMonitor(
	registry *Registry,
	chargers ports.ChargerRepository,
	logs ports.LogRepository,
	projector ports.Projector,
	events ports.EventSink,
	timeout time.Duration,
	log *zap.Logger,
) *Monitor {
	return &Monitor{
		registry:  registry,
		chargers:  chargers,
		logs:      logs,
		projector: projector,
		events:    events,
		timeout:   timeout,
		log:       log,
	}
}

// Run drives both sweeps until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	heartbeat := time.NewTicker(heartbeatSweepInterval)
	defer heartbeat.Stop()
	socket := time.NewTicker(socketSweepInterval)
	defer socket.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			m.sweepHeartbeats(ctx)
		case <-socket.C:
			m.sweepSockets()
		}
	}
}

// sweepHeartbeats marks chargers offline when their last heartbeat is older
// than the timeout. The socket may still look open; the DB state is the
// authority for liveness.
func (m *Monitor) sweepHeartbeats(ctx context.Context) {
	connected, err := m.chargers.FindConnected(ctx)
	if err != nil {
		m.log.Warn("heartbeat sweep query failed", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	for i := range connected {
		c := &connected[i]
		last := c.ConnectionTime
		if c.LastHeartbeat != nil {
			last = c.LastHeartbeat
		}
		if last == nil || now.Sub(*last) < m.timeout {
			continue
		}

		m.log.Warn("charger heartbeat timeout",
			zap.String("charger_id", c.ID),
			zap.Time("last_heartbeat", *last),
		)
		if err := m.chargers.SetConnected(ctx, c.ID, false, now); err != nil {
			m.log.Warn("failed to mark charger offline",
				zap.String("charger_id", c.ID),
				zap.Error(err),
			)
			continue
		}

		m.logs.AppendConnectionEvent(ctx, &domain.ConnectionEvent{
			EventType:    domain.ConnectionEventTimeout,
			ChargerID:    c.ID,
			ConnectionID: m.registry.ConnectionID(c.ID),
			Reason:       "heartbeat timeout",
			CreatedAt:    now,
		})
		m.projector.ConnectionChanged(c.ID, false)
		m.events.Publish("heartbeat_timeout", c.ID, map[string]interface{}{
			"last_heartbeat": last.Format(time.RFC3339),
		})
	}
}

// sweepSockets pings every live socket and closes the broken ones. Closing
// unblocks the read loop, which runs the normal disconnect path.
func (m *Monitor) sweepSockets() {
	dead := m.registry.SweepDead()
	for _, sess := range dead {
		m.log.Warn("socket failed liveness ping",
			zap.String("charger_id", sess.chargerID),
			zap.String("connection_id", sess.connectionID),
		)
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "liveness ping failed")
		sess.writeControl(websocket.CloseMessage, msg)
		sess.conn.Close()
	}
}
