package domain

import (
	"time"
)

type MessageDirection string

const (
	DirectionIn      MessageDirection = "IN"
	DirectionOut     MessageDirection = "OUT"
	DirectionForward MessageDirection = "FORWARD"
)

type MessageStatus string

const (
	MessageStatusSuccess MessageStatus = "Success"
	MessageStatusError   MessageStatus = "Error"
	MessageStatusPending MessageStatus = "Pending"
	MessageStatusTimeout MessageStatus = "Timeout"
)

// MessageLog is an append-only record of every OCPP frame handled by the
// central station.
type MessageLog struct {
	ID               uint             `json:"id" gorm:"primaryKey"`
	Timestamp        time.Time        `json:"timestamp" gorm:"index"`
	ChargerID        string           `json:"charger_id" gorm:"index"`
	Direction        MessageDirection `json:"direction"`
	Action           string           `json:"action"`
	MessageID        string           `json:"message_id" gorm:"index"`
	Status           MessageStatus    `json:"status"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
	RequestJSON      string           `json:"request_json" gorm:"type:text"`
	ResponseJSON     string           `json:"response_json" gorm:"type:text"`
}

func (MessageLog) TableName() string { return "message_logs" }

type ConnectionEventType string

const (
	ConnectionEventConnect    ConnectionEventType = "CONNECT"
	ConnectionEventDisconnect ConnectionEventType = "DISCONNECT"
	ConnectionEventTimeout    ConnectionEventType = "TIMEOUT"
	ConnectionEventReconnect  ConnectionEventType = "RECONNECT"
)

// ConnectionEvent is an append-only record of CP socket lifecycle changes.
// ConnectionID is a UUID assigned per CP socket.
type ConnectionEvent struct {
	ID               uint                `json:"id" gorm:"primaryKey"`
	EventType        ConnectionEventType `json:"event_type"`
	ChargerID        string              `json:"charger_id" gorm:"index"`
	ConnectionID     string              `json:"connection_id"`
	RemoteAddress    string              `json:"remote_address"`
	Subprotocol      string              `json:"subprotocol"`
	Reason           string              `json:"reason"`
	SessionDurationS float64             `json:"session_duration_s"`
	CreatedAt        time.Time           `json:"created_at" gorm:"index"`
}

func (ConnectionEvent) TableName() string { return "connection_events" }
