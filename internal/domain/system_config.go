package domain

import (
	"time"
)

// SystemConfig is a key/value table holding system-wide defaults. Seeded on
// first start; per-charger settings take precedence where both exist.
type SystemConfig struct {
	Key         string    `json:"key" gorm:"primaryKey"`
	Value       string    `json:"value"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (SystemConfig) TableName() string { return "system_config" }

// Well-known system_config keys.
const (
	ConfigKeyMaxRetries         = "max_retries"
	ConfigKeyRetryInterval      = "retry_interval"
	ConfigKeyHeartbeatInterval  = "heartbeat_interval_s"
	ConfigKeyMeterValueInterval = "meter_value_interval_s"
	ConfigKeyConnectionTimeout  = "connection_timeout_s"
)
