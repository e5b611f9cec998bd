package domain

import (
	"time"
)

type ChargerStatus string

const (
	ChargerStatusUnknown       ChargerStatus = "Unknown"
	ChargerStatusAvailable     ChargerStatus = "Available"
	ChargerStatusPreparing     ChargerStatus = "Preparing"
	ChargerStatusCharging      ChargerStatus = "Charging"
	ChargerStatusSuspendedEVSE ChargerStatus = "SuspendedEVSE"
	ChargerStatusSuspendedEV   ChargerStatus = "SuspendedEV"
	ChargerStatusFinishing     ChargerStatus = "Finishing"
	ChargerStatusReserved      ChargerStatus = "Reserved"
	ChargerStatusUnavailable   ChargerStatus = "Unavailable"
	ChargerStatusFaulted       ChargerStatus = "Faulted"
	ChargerStatusOffline       ChargerStatus = "Offline"
)

// Charger is a charge point known to the central station. The row is created
// on first successful WebSocket upgrade or via admin registration and is
// never deleted by the core.
type Charger struct {
	ID              string        `json:"charger_id" gorm:"primaryKey"`
	Vendor          string        `json:"vendor"`
	Model           string        `json:"model"`
	SerialNumber    string        `json:"serial_number"`
	FirmwareVersion string        `json:"firmware_version"`
	Status          ChargerStatus `json:"status"`

	IsConnected    bool       `json:"is_connected"`
	ConnectionTime *time.Time `json:"connection_time,omitempty"`
	DisconnectTime *time.Time `json:"disconnect_time,omitempty"`
	LastHeartbeat  *time.Time `json:"last_heartbeat,omitempty"`

	// Per-charger outbound retry policy. Bounds are enforced by the
	// admin facade: max_retries 1..10, retry_interval_s 1..60.
	MaxRetries     int  `json:"max_retries" gorm:"default:3"`
	RetryIntervalS int  `json:"retry_interval_s" gorm:"default:5"`
	RetryEnabled   bool `json:"retry_enabled" gorm:"default:true"`

	Connectors []Connector `json:"connectors,omitempty" gorm:"foreignKey:ChargerID"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Connector is one outlet of a charger. ConnectorID 0 denotes the whole
// station, per OCPP 1.6.
type Connector struct {
	ID                 uint          `json:"id" gorm:"primaryKey"`
	ChargerID          string        `json:"charger_id" gorm:"uniqueIndex:idx_charger_connector"`
	ConnectorID        int           `json:"connector_id" gorm:"uniqueIndex:idx_charger_connector"`
	Status             ChargerStatus `json:"status"`
	ErrorCode          string        `json:"error_code"`
	EnergyDeliveredKWh float64       `json:"energy_delivered_kwh" gorm:"column:energy_delivered_kwh"`
	PowerDeliveredKW   float64       `json:"power_delivered_kw" gorm:"column:power_delivered_kw"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}
