package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from an optional config.yaml plus environment
// variables. Deploy environments are expected to be env-only.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Vault.Addr != "" {
		if err := applyVaultOverlay(&cfg); err != nil {
			return nil, fmt.Errorf("vault overlay: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8000)
	v.SetDefault("http.allowed_origins", []string{"*"})

	v.SetDefault("ocpp.host", "0.0.0.0")
	v.SetDefault("ocpp.port", 9000)
	v.SetDefault("ocpp.subprotocols", []string{"ocpp1.6", "ocpp2.0.1"})

	v.SetDefault("jwt.algorithm", "HS256")
	v.SetDefault("jwt.access_token_expire_minutes", 60)

	v.SetDefault("intervals.heartbeat_interval", 60)
	v.SetDefault("intervals.meter_value_interval", 60)
	v.SetDefault("intervals.connection_timeout", 600)
	v.SetDefault("intervals.session_timeout", 86400)
	v.SetDefault("intervals.max_concurrent_sessions", 100)

	v.SetDefault("pricing.per_kwh", 0.15)

	v.SetDefault("mq.exchange", "ocpp")
	v.SetDefault("vault.secret_path", "secret/data/csms")
}

// bindEnv maps the flat deploy variables onto the nested config keys.
func bindEnv(v *viper.Viper) {
	v.BindEnv("debug", "DEBUG")
	v.BindEnv("http.host", "HOST")
	v.BindEnv("http.port", "PORT")

	v.BindEnv("ocpp.host", "OCPP_WEBSOCKET_HOST")
	v.BindEnv("ocpp.port", "OCPP_WEBSOCKET_PORT")
	v.BindEnv("ocpp.subprotocols", "OCPP_SUBPROTOCOLS")
	v.BindEnv("ocpp.ssl_keyfile", "SSL_KEYFILE")
	v.BindEnv("ocpp.ssl_certfile", "SSL_CERTFILE")

	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("redis.url", "REDIS_URL")
	v.BindEnv("mq.broker_url", "MQ_BROKER_URL")
	v.BindEnv("mq.exchange", "MQ_EXCHANGE")

	v.BindEnv("jwt.secret", "SECRET_KEY")
	v.BindEnv("jwt.algorithm", "ALGORITHM")
	v.BindEnv("jwt.access_token_expire_minutes", "ACCESS_TOKEN_EXPIRE_MINUTES")

	v.BindEnv("backoffice.api_url", "LARAVEL_API_URL")
	v.BindEnv("backoffice.api_key", "LARAVEL_API_KEY")

	v.BindEnv("intervals.heartbeat_interval", "HEARTBEAT_INTERVAL")
	v.BindEnv("intervals.meter_value_interval", "METER_VALUE_INTERVAL")
	v.BindEnv("intervals.connection_timeout", "CONNECTION_TIMEOUT")
	v.BindEnv("intervals.session_timeout", "SESSION_TIMEOUT")
	v.BindEnv("intervals.max_concurrent_sessions", "MAX_CONCURRENT_SESSIONS")

	v.BindEnv("pricing.per_kwh", "PRICE_PER_KWH")

	v.BindEnv("vault.addr", "VAULT_ADDR")
	v.BindEnv("vault.token", "VAULT_TOKEN")
	v.BindEnv("vault.secret_path", "VAULT_SECRET_PATH")

	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.jaeger_endpoint", "JAEGER_ENDPOINT")
}

func (c *Config) Validate() error {
	if c.JWT.Algorithm != "HS256" {
		return fmt.Errorf("unsupported JWT algorithm %q: only HS256 is supported", c.JWT.Algorithm)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}
