package config

import "time"

type Config struct {
	Debug bool `mapstructure:"debug"`

	HTTP       HTTPConfig       `mapstructure:"http"`
	OCPP       OCPPConfig       `mapstructure:"ocpp"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MQ         MQConfig         `mapstructure:"mq"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Backoffice BackofficeConfig `mapstructure:"backoffice"`
	Intervals  IntervalsConfig  `mapstructure:"intervals"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	Vault      VaultConfig      `mapstructure:"vault"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// HTTPConfig is the admin facade listener.
type HTTPConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// OCPPConfig is the charge-point WebSocket listener. TLS is enabled only when
// both keyfile and certfile are present.
type OCPPConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	Subprotocols []string `mapstructure:"subprotocols"`
	SSLKeyfile   string   `mapstructure:"ssl_keyfile"`
	SSLCertfile  string   `mapstructure:"ssl_certfile"`
}

func (c OCPPConfig) TLSEnabled() bool {
	return c.SSLKeyfile != "" && c.SSLCertfile != ""
}

type DatabaseConfig struct {
	URL          string `mapstructure:"url"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// MQConfig selects the optional internal broker. The URL scheme picks the
// implementation: amqp:// for RabbitMQ, nats:// for NATS.
type MQConfig struct {
	BrokerURL string `mapstructure:"broker_url"`
	Exchange  string `mapstructure:"exchange"`
}

type JWTConfig struct {
	Secret              string `mapstructure:"secret"`
	Algorithm           string `mapstructure:"algorithm"`
	AccessTokenExpireMn int    `mapstructure:"access_token_expire_minutes"`
}

func (c JWTConfig) AccessTokenDuration() time.Duration {
	return time.Duration(c.AccessTokenExpireMn) * time.Minute
}

// BackofficeConfig is the external HTTP event sink.
type BackofficeConfig struct {
	APIURL string `mapstructure:"api_url"`
	APIKey string `mapstructure:"api_key"`
}

type IntervalsConfig struct {
	HeartbeatInterval     int `mapstructure:"heartbeat_interval"`
	MeterValueInterval    int `mapstructure:"meter_value_interval"`
	ConnectionTimeout     int `mapstructure:"connection_timeout"`
	SessionTimeout        int `mapstructure:"session_timeout"`
	MaxConcurrentSessions int `mapstructure:"max_concurrent_sessions"`
}

type PricingConfig struct {
	PerKWh float64 `mapstructure:"per_kwh"`
}

// VaultConfig enables the optional secret overlay. When Addr is empty the
// overlay is skipped entirely.
type VaultConfig struct {
	Addr       string `mapstructure:"addr"`
	Token      string `mapstructure:"token"`
	SecretPath string `mapstructure:"secret_path"`
}

type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}
