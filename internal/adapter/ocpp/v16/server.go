package v16

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/observability/telemetry"
	"github.com/voltgrid/csms/internal/ports"
	"github.com/voltgrid/csms/pkg/config"
)

const (
	handshakeTimeout = 10 * time.Second
	pongWait         = 120 * time.Second
	pingPeriod       = 30 * time.Second
)

// Server terminates charge-point WebSocket connections at /ocpp/{id} and
// master observer connections at /master.
type Server struct {
	cfg       config.OCPPConfig
	registry  *Registry
	engine    *Engine
	handlers  *Handlers
	chargers  ports.ChargerService
	projector ports.Projector
	events    ports.EventSink
	logs      ports.LogRepository
	log       *zap.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

func NewServer(
	cfg config.OCPPConfig,
	registry *Registry,
	engine *Engine,
	handlers *Handlers,
	chargers ports.ChargerService,
	projector ports.Projector,
	events ports.EventSink,
	logs ports.LogRepository,
	log *zap.Logger,
) *Server {
	s := &Server{
		cfg:       cfg,
		registry:  registry,
		engine:    engine,
		handlers:  handlers,
		chargers:  chargers,
		projector: projector,
		events:    events,
		logs:      logs,
		log:       log,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			Subprotocols:     cfg.Subprotocols,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
	}

	// Outbound writes from any source (handler replies excluded, they log
	// inline) are mirrored to masters and the message log.
	registry.SetOutboundObserver(func(chargerID, connectionID string, frame []byte) {
		s.registry.ForwardToMasters(chargerID, connectionID, frame, "outgoing", 0)
		action := ""
		messageID := ""
		if f, ferr := ParseFrame(frame); ferr == nil {
			action = f.Action
			messageID = f.MessageID
		}
		telemetry.OCPPMessagesTotal.WithLabelValues(action, "out").Inc()
		s.appendMessageLog(&domain.MessageLog{
			Timestamp:   time.Now().UTC(),
			ChargerID:   chargerID,
			Direction:   domain.DirectionOut,
			Action:      action,
			MessageID:   messageID,
			Status:      domain.MessageStatusPending,
			RequestJSON: string(frame),
		})
	})

	return s
}

// Start runs the listener until ctx is cancelled, then closes every CP
// socket with 1001 going-away.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ocpp/", s.serveCP)
	mux.HandleFunc("/master", s.serveMaster)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLSEnabled() {
			s.httpSrv.TLSConfig = &tls.Config{
				MinVersion:   tls.VersionTLS10,
				CipherSuites: []uint16{tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA},
			}
			s.log.Info("OCPP WebSocket server starting with TLS", zap.String("addr", addr))
			err = s.httpSrv.ListenAndServeTLS(s.cfg.SSLCertfile, s.cfg.SSLKeyfile)
		} else {
			s.log.Info("OCPP WebSocket server starting", zap.String("addr", addr))
			err = s.httpSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.shutdown()
	return nil
}

func (s *Server) shutdown() {
	closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, info := range s.registry.Connections() {
		if sess := s.registry.session(info.ChargerID); sess != nil {
			sess.writeControl(websocket.CloseMessage, closeMsg)
			sess.conn.Close()
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) serveCP(w http.ResponseWriter, r *http.Request) {
	chargerID := strings.TrimPrefix(r.URL.Path, "/ocpp/")
	chargerID = strings.Trim(chargerID, "/")
	if chargerID == "" || strings.Contains(chargerID, "/") {
		http.Error(w, "charger id required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed",
			zap.String("charger_id", chargerID),
			zap.Error(err),
		)
		return
	}

	// A client that offered subprotocols but matched none is refused; one
	// that offered none at all is tolerated.
	offered := websocket.Subprotocols(r)
	if len(offered) > 0 && conn.Subprotocol() == "" {
		s.log.Warn("no acceptable subprotocol",
			zap.String("charger_id", chargerID),
			zap.Strings("offered", offered),
		)
		msg := websocket.FormatCloseMessage(websocket.CloseProtocolError, "unsupported subprotocol")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		conn.Close()
		return
	}

	sess, err := s.registry.AcceptCP(chargerID, conn, conn.Subprotocol(), r.RemoteAddr)
	if err != nil {
		s.log.Warn("rejecting duplicate connection", zap.String("charger_id", chargerID))
		msg := websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "charger already connected")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		conn.Close()
		return
	}

	s.onConnect(sess)
	go s.readLoop(sess)
}

func (s *Server) onConnect(sess *cpSession) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.log.Info("charge point connected",
		zap.String("charger_id", sess.chargerID),
		zap.String("connection_id", sess.connectionID),
		zap.String("remote_addr", sess.remoteAddr),
		zap.String("subprotocol", sess.subprotocol),
	)

	if err := s.chargers.MarkConnected(ctx, sess.chargerID); err != nil {
		s.log.Warn("failed to mark charger connected",
			zap.String("charger_id", sess.chargerID),
			zap.Error(err),
		)
	}

	s.appendConnectionEvent(&domain.ConnectionEvent{
		EventType:     domain.ConnectionEventConnect,
		ChargerID:     sess.chargerID,
		ConnectionID:  sess.connectionID,
		RemoteAddress: sess.remoteAddr,
		Subprotocol:   sess.subprotocol,
		CreatedAt:     time.Now().UTC(),
	})

	s.projector.ConnectionChanged(sess.chargerID, true)
	s.events.Publish("connection", sess.chargerID, map[string]interface{}{
		"connection_id": sess.connectionID,
		"remote_addr":   sess.remoteAddr,
	})

	// Messages queued while the charger was away go out now.
	s.engine.FlushQueued(sess.chargerID)
}

func (s *Server) readLoop(sess *cpSession) {
	defer s.onDisconnect(sess, "socket closed")

	sess.conn.SetReadLimit(MaxFrameSize)
	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ticker.C:
				if err := sess.writeControl(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		msgType, raw, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("read error",
					zap.String("charger_id", sess.chargerID),
					zap.Error(err),
				)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handleFrame(sess, raw)
	}
}

func (s *Server) handleFrame(sess *cpSession, raw []byte) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	frame, ferr := ParseFrame(raw)
	if ferr != nil {
		telemetry.OCPPErrorsTotal.WithLabelValues(ferr.Code).Inc()
		s.log.Warn("malformed frame",
			zap.String("charger_id", sess.chargerID),
			zap.String("error", ferr.Error()),
		)
		if ferr.MessageID != "" {
			if data, err := EncodeCallError(ferr.MessageID, ferr.Code, ferr.Description); err == nil {
				sess.write(data)
			}
		}
		s.appendMessageLog(&domain.MessageLog{
			Timestamp:   time.Now().UTC(),
			ChargerID:   sess.chargerID,
			Direction:   domain.DirectionIn,
			MessageID:   ferr.MessageID,
			Status:      domain.MessageStatusError,
			RequestJSON: string(raw),
		})
		return
	}

	s.registry.ForwardToMasters(sess.chargerID, sess.connectionID, raw, "incoming", 0)

	switch frame.Type {
	case CallMessage:
		s.handleInboundCall(ctx, sess, frame, raw, started)
	case CallResultMessage, CallErrorMessage:
		s.handleInboundResponse(sess, frame, raw)
	}
}

func (s *Server) handleInboundCall(ctx context.Context, sess *cpSession, frame *Frame, raw []byte, started time.Time) {
	telemetry.OCPPMessagesTotal.WithLabelValues(frame.Action, "in").Inc()

	payload, herr := s.handlers.HandleCall(ctx, sess.chargerID, frame.Action, frame.Payload)

	var reply []byte
	var encodeErr error
	status := domain.MessageStatusSuccess
	if herr != nil {
		telemetry.OCPPErrorsTotal.WithLabelValues(herr.Code).Inc()
		status = domain.MessageStatusError
		reply, encodeErr = EncodeCallError(frame.MessageID, herr.Code, herr.Description)
	} else {
		reply, encodeErr = EncodeCallResult(frame.MessageID, payload)
	}
	if encodeErr != nil {
		s.log.Error("failed to encode reply",
			zap.String("charger_id", sess.chargerID),
			zap.String("action", frame.Action),
			zap.Error(encodeErr),
		)
		return
	}

	if err := sess.write(reply); err != nil {
		s.log.Warn("failed to write reply",
			zap.String("charger_id", sess.chargerID),
			zap.String("action", frame.Action),
			zap.Error(err),
		)
		return
	}

	elapsed := time.Since(started).Milliseconds()
	s.registry.ForwardToMasters(sess.chargerID, sess.connectionID, reply, "outgoing", elapsed)
	s.appendMessageLog(&domain.MessageLog{
		Timestamp:        time.Now().UTC(),
		ChargerID:        sess.chargerID,
		Direction:        domain.DirectionIn,
		Action:           frame.Action,
		MessageID:        frame.MessageID,
		Status:           status,
		ProcessingTimeMs: elapsed,
		RequestJSON:      string(raw),
		ResponseJSON:     string(reply),
	})
}

func (s *Server) handleInboundResponse(sess *cpSession, frame *Frame, raw []byte) {
	p, ok := s.engine.HandleResponse(frame.MessageID)
	if !ok {
		s.log.Debug("uncorrelated response",
			zap.String("charger_id", sess.chargerID),
			zap.String("message_id", frame.MessageID),
		)
		return
	}

	result := map[string]interface{}{
		"request_id": p.MessageID,
		"action":     p.Action,
	}
	if frame.Type == CallErrorMessage {
		result["success"] = false
		result["error_code"] = frame.ErrorCode
		result["error_description"] = frame.ErrorDescription
		telemetry.OCPPErrorsTotal.WithLabelValues(frame.ErrorCode).Inc()
	} else {
		result["success"] = true
		var payload interface{}
		if err := json.Unmarshal(frame.Payload, &payload); err == nil {
			result["payload"] = payload
		}
	}

	s.events.Publish("remote_command_result", sess.chargerID, result)
	s.appendMessageLog(&domain.MessageLog{
		Timestamp:    time.Now().UTC(),
		ChargerID:    sess.chargerID,
		Direction:    domain.DirectionIn,
		Action:       p.Action,
		MessageID:    frame.MessageID,
		Status:       responseStatus(frame),
		ResponseJSON: string(raw),
	})
}

func responseStatus(frame *Frame) domain.MessageStatus {
	if frame.Type == CallErrorMessage {
		return domain.MessageStatusError
	}
	return domain.MessageStatusSuccess
}

func (s *Server) onDisconnect(sess *cpSession, reason string) {
	sess.conn.Close()

	removed, duration := s.registry.DeregisterCP(sess.chargerID, sess.connectionID)
	if removed == nil {
		// A newer socket owns the id; nothing to tear down.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.log.Info("charge point disconnected",
		zap.String("charger_id", sess.chargerID),
		zap.String("connection_id", sess.connectionID),
		zap.Duration("session_duration", duration),
	)

	if err := s.chargers.MarkDisconnected(ctx, sess.chargerID); err != nil {
		s.log.Warn("failed to mark charger disconnected",
			zap.String("charger_id", sess.chargerID),
			zap.Error(err),
		)
	}

	s.appendConnectionEvent(&domain.ConnectionEvent{
		EventType:        domain.ConnectionEventDisconnect,
		ChargerID:        sess.chargerID,
		ConnectionID:     sess.connectionID,
		RemoteAddress:    sess.remoteAddr,
		Subprotocol:      sess.subprotocol,
		Reason:           reason,
		SessionDurationS: duration.Seconds(),
		CreatedAt:        time.Now().UTC(),
	})

	s.projector.ConnectionChanged(sess.chargerID, false)
	s.events.Publish("disconnection", sess.chargerID, map[string]interface{}{
		"connection_id":      sess.connectionID,
		"session_duration_s": duration.Seconds(),
		"reason":             reason,
	})

	s.engine.OnDisconnect(sess.chargerID)
}

func (s *Server) serveMaster(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("master upgrade failed", zap.Error(err))
		return
	}

	m := s.registry.RegisterMaster(conn)
	defer func() {
		s.registry.DeregisterMaster(m)
		conn.Close()
		s.log.Info("master observer detached")
	}()

	conn.SetReadLimit(MaxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Frames sent by a master are broadcast verbatim to every connected
	// charge point; the master gets an ack per frame.
	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		s.handleMasterBroadcast(m, raw)
	}
}

func (s *Server) handleMasterBroadcast(m *masterSocket, raw []byte) {
	total := len(s.registry.Connections())
	delivered := s.registry.BroadcastToCPs(raw)

	status := "success"
	message := fmt.Sprintf("broadcast delivered to %d charge point(s)", delivered)
	if total == 0 || delivered < total {
		status = "warning"
		message = fmt.Sprintf("broadcast delivered to %d of %d charge point(s)", delivered, total)
	}

	s.log.Info("master broadcast",
		zap.Int("delivered", delivered),
		zap.Int("connected", total),
	)

	ack, err := json.Marshal(map[string]string{"status": status, "message": message})
	if err != nil {
		return
	}
	if err := m.write(ack); err != nil {
		s.log.Warn("failed to ack master broadcast", zap.Error(err))
	}
}

func (s *Server) appendMessageLog(m *domain.MessageLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logs.AppendMessage(ctx, m)
}

func (s *Server) appendConnectionEvent(e *domain.ConnectionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logs.AppendConnectionEvent(ctx, e)
}
