package domain

import (
	"time"
)

type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "Active"
	SessionStatusCompleted SessionStatus = "Completed"
	SessionStatusStopped   SessionStatus = "Stopped"
	SessionStatusFaulted   SessionStatus = "Faulted"
)

// ChargingSession is one charging transaction. TransactionID is the OCPP
// transaction id allocated at StartTransaction time, monotonically increasing
// per charger; ID is a surrogate UUID.
type ChargingSession struct {
	ID            string `json:"session_id" gorm:"primaryKey"`
	ChargerID     string `json:"charger_id" gorm:"index:idx_session_charger_tx"`
	ConnectorID   int    `json:"connector_id"`
	TransactionID int    `json:"transaction_id" gorm:"index:idx_session_charger_tx"`
	IDTag         string `json:"id_tag"`

	StartTime time.Time  `json:"start_time"`
	StopTime  *time.Time `json:"stop_time,omitempty"`

	MeterStart         int     `json:"meter_start"` // Wh
	MeterStop          *int    `json:"meter_stop,omitempty"`
	EnergyDeliveredKWh float64 `json:"energy_delivered_kwh" gorm:"column:energy_delivered_kwh"`
	Cost               float64 `json:"cost"`

	Status SessionStatus `json:"status" gorm:"index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
