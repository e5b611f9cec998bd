package v16

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/observability/telemetry"
)

// ErrAlreadyConnected is returned when a charger id already owns a live
// socket. The caller closes the second socket with code 1003.
var ErrAlreadyConnected = errors.New("charger id already connected")

var ErrNotConnected = errors.New("charger not connected")

const writeTimeout = 10 * time.Second

// cpSession is one live charge-point socket. All writes go through writeMu so
// handler responses and outbound commands never interleave.
type cpSession struct {
	chargerID    string
	connectionID string
	conn         *websocket.Conn
	subprotocol  string
	remoteAddr   string
	connectedAt  time.Time

	writeMu sync.Mutex
}

func (s *cpSession) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *cpSession) writeControl(messageType int, data []byte) error {
	return s.conn.WriteControl(messageType, data, time.Now().Add(writeTimeout))
}

type masterSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (m *masterSocket) write(data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return m.conn.WriteMessage(websocket.TextMessage, data)
}

// ObserverEnvelope wraps one OCPP frame for master observers.
type ObserverEnvelope struct {
	MessageType      string          `json:"message_type"`
	Timestamp        string          `json:"timestamp"`
	ChargerID        string          `json:"charger_id"`
	ConnectionID     string          `json:"connection_id"`
	Direction        string          `json:"direction"`
	OCPPMessage      json.RawMessage `json:"ocpp_message"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	Source           string          `json:"source"`
}

// Registry is the single owner of live socket handles. Every other component
// addresses charge points by id and asks the registry to send.
type Registry struct {
	mu      sync.RWMutex
	cps     map[string]*cpSession
	masters map[*masterSocket]bool
	log     *zap.Logger

	// onOutbound observes every successful CP write, including retries.
	// Set once during wiring, before any traffic.
	onOutbound func(chargerID, connectionID string, frame []byte)
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		cps:     make(map[string]*cpSession),
		masters: make(map[*masterSocket]bool),
		log:     log,
	}
}

// AcceptCP registers a live socket for the charger, rejecting a second
// concurrent connect for the same id.
func (r *Registry) AcceptCP(chargerID string, conn *websocket.Conn, subprotocol, remoteAddr string) (*cpSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.cps[chargerID]; exists {
		return nil, ErrAlreadyConnected
	}

	s := &cpSession{
		chargerID:    chargerID,
		connectionID: uuid.New().String(),
		conn:         conn,
		subprotocol:  subprotocol,
		remoteAddr:   remoteAddr,
		connectedAt:  time.Now().UTC(),
	}
	r.cps[chargerID] = s
	telemetry.ConnectedChargers.Set(float64(len(r.cps)))
	return s, nil
}

// DeregisterCP removes the charger's socket mapping. It returns the session
// and its duration; removing an unknown or superseded session is a no-op.
func (r *Registry) DeregisterCP(chargerID, connectionID string) (*cpSession, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.cps[chargerID]
	if !ok || s.connectionID != connectionID {
		return nil, 0
	}
	delete(r.cps, chargerID)
	telemetry.ConnectedChargers.Set(float64(len(r.cps)))
	return s, time.Since(s.connectedAt)
}

func (r *Registry) Connected(chargerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.cps[chargerID]
	return ok
}

func (r *Registry) ConnectionID(chargerID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.cps[chargerID]; ok {
		return s.connectionID
	}
	return ""
}

func (r *Registry) session(chargerID string) *cpSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cps[chargerID]
}

// SetOutboundObserver registers the hook invoked after every successful
// SendToCP write.
func (r *Registry) SetOutboundObserver(fn func(chargerID, connectionID string, frame []byte)) {
	r.onOutbound = fn
}

// SendToCP writes a serialized frame to the charger's socket.
func (r *Registry) SendToCP(chargerID string, data []byte) error {
	s := r.session(chargerID)
	if s == nil {
		return ErrNotConnected
	}
	if err := s.write(data); err != nil {
		r.log.Warn("write to charge point failed",
			zap.String("charger_id", chargerID),
			zap.Error(err),
		)
		return err
	}
	if r.onOutbound != nil {
		r.onOutbound(chargerID, s.connectionID, data)
	}
	return nil
}

// BroadcastToCPs writes the frame to every connected charge point,
// best-effort, and reports how many writes succeeded.
func (r *Registry) BroadcastToCPs(data []byte) int {
	r.mu.RLock()
	sessions := make([]*cpSession, 0, len(r.cps))
	for _, s := range r.cps {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, s := range sessions {
		if err := s.write(data); err == nil {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) RegisterMaster(conn *websocket.Conn) *masterSocket {
	m := &masterSocket{conn: conn}
	r.mu.Lock()
	r.masters[m] = true
	count := len(r.masters)
	r.mu.Unlock()
	r.log.Info("master observer attached", zap.Int("masters", count))
	return m
}

func (r *Registry) DeregisterMaster(m *masterSocket) {
	r.mu.Lock()
	delete(r.masters, m)
	r.mu.Unlock()
}

// ForwardToMasters wraps the frame in an observer envelope and writes it to
// every master socket. A socket whose write fails is dropped.
func (r *Registry) ForwardToMasters(chargerID, connectionID string, frame []byte, direction string, processingMs int64) {
	r.mu.RLock()
	masters := make([]*masterSocket, 0, len(r.masters))
	for m := range r.masters {
		masters = append(masters, m)
	}
	r.mu.RUnlock()

	if len(masters) == 0 {
		return
	}

	env := ObserverEnvelope{
		MessageType:      "ocpp_forward",
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		ChargerID:        chargerID,
		ConnectionID:     connectionID,
		Direction:        direction,
		OCPPMessage:      json.RawMessage(frame),
		ProcessingTimeMs: processingMs,
		Source:           "ocpp_handler",
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}

	for _, m := range masters {
		if err := m.write(data); err != nil {
			r.DeregisterMaster(m)
			m.conn.Close()
		}
	}
}

// ConnectionInfo is the registry's public view of one live CP socket.
type ConnectionInfo struct {
	ChargerID    string    `json:"charger_id"`
	ConnectionID string    `json:"connection_id"`
	RemoteAddr   string    `json:"remote_address"`
	Subprotocol  string    `json:"subprotocol"`
	ConnectedAt  time.Time `json:"connected_at"`
}

func (r *Registry) Connections() []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]ConnectionInfo, 0, len(r.cps))
	for _, s := range r.cps {
		infos = append(infos, ConnectionInfo{
			ChargerID:    s.chargerID,
			ConnectionID: s.connectionID,
			RemoteAddr:   s.remoteAddr,
			Subprotocol:  s.subprotocol,
			ConnectedAt:  s.connectedAt,
		})
	}
	return infos
}

func (r *Registry) MasterCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.masters)
}

// SweepDead pings every CP socket and returns the sessions whose transport
// is broken. Callers deregister and log the disconnect.
func (r *Registry) SweepDead() []*cpSession {
	r.mu.RLock()
	sessions := make([]*cpSession, 0, len(r.cps))
	for _, s := range r.cps {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	var dead []*cpSession
	for _, s := range sessions {
		if err := s.writeControl(websocket.PingMessage, nil); err != nil {
			dead = append(dead, s)
		}
	}
	return dead
}
