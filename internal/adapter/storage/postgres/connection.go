package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/voltgrid/csms/internal/domain"
)

// NewConnection initializes the PostgreSQL connection pool using GORM.
func NewConnection(url string, maxOpen, maxIdle int, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(url), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if maxOpen <= 0 {
		maxOpen = 50
	}
	if maxIdle <= 0 {
		maxIdle = 10
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)

	log.Info("Connected to PostgreSQL")
	return db, nil
}

// RunMigrations creates or updates the schema and seeds system_config with
// default intervals and retry bounds on first start.
func RunMigrations(ctx context.Context, db *gorm.DB, log *zap.Logger) error {
	if err := db.WithContext(ctx).AutoMigrate(
		&domain.Charger{},
		&domain.Connector{},
		&domain.ChargingSession{},
		&domain.MessageLog{},
		&domain.ConnectionEvent{},
		&domain.RFIDCard{},
		&domain.User{},
		&domain.SystemConfig{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	defaults := map[string]string{
		domain.ConfigKeyMaxRetries:         "3",
		domain.ConfigKeyRetryInterval:      "5",
		domain.ConfigKeyHeartbeatInterval:  "60",
		domain.ConfigKeyMeterValueInterval: "60",
		domain.ConfigKeyConnectionTimeout:  "600",
	}
	for key, value := range defaults {
		var existing domain.SystemConfig
		err := db.WithContext(ctx).First(&existing, "key = ?", key).Error
		if err == gorm.ErrRecordNotFound {
			if err := db.WithContext(ctx).Create(&domain.SystemConfig{Key: key, Value: value}).Error; err != nil {
				return fmt.Errorf("seed system_config %s: %w", key, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("read system_config %s: %w", key, err)
		}
	}

	log.Info("Database schema migrated")
	return nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
