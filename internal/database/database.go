package database

import (
	"fmt"
	"time"

	"fleetwatch/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

var DB *gorm.DB

func InitDB(config Config) error {
	var dialector gorm.Dialector

	switch config.Driver {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			config.User, config.Password, config.Host, config.Port, config.DBName)
		dialector = mysql.Open(dsn)
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(config.DBName)
	default:
		return fmt.Errorf("unsupported database driver: %s", config.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(50)
	sqlDB.SetMaxOpenConns(200)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	DB = db

	if err := Migrate(db); err != nil {
		return err
	}

	return nil
}

// Migrate creates the schema plus the unique constraint that enforces
// "at most one non-CLOSED alert per fingerprint" (a partial index, or
// its generated-column equivalent on MySQL). Exposed so tests can
// migrate a throwaway sqlite database.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Device{},
		&models.TelemetryReading{},
		&models.AlertRule{},
		&models.Alert{},
		&models.MaintenanceWindow{},
		&models.EscalationPolicy{},
		&models.EscalationLevel{},
		&models.OncallSchedule{},
		&models.OncallLayer{},
		&models.OncallOverride{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// MySQL has no partial indexes; emulate one with a stored generated
	// column that mirrors the fingerprint only while the alert is live.
	// NULLs repeat freely under a unique index, so closed rows never
	// collide, and the duplicate-key error doubles as the conflict signal
	// for the alert store's insert.
	if db.Dialector.Name() == "mysql" {
		if !db.Migrator().HasColumn(&models.Alert{}, "open_marker") {
			if err := db.Exec(
				`ALTER TABLE alerts ADD COLUMN open_marker VARCHAR(64)
				 GENERATED ALWAYS AS (IF(status <> 'CLOSED', fingerprint, NULL)) STORED`,
			).Error; err != nil {
				return fmt.Errorf("failed to create alert dedup column: %w", err)
			}
		}
		if !db.Migrator().HasIndex(&models.Alert{}, "idx_alerts_open_marker") {
			if err := db.Exec(
				`CREATE UNIQUE INDEX idx_alerts_open_marker ON alerts (open_marker)`,
			).Error; err != nil {
				return fmt.Errorf("failed to create alert dedup index: %w", err)
			}
		}
		return nil
	}

	// Postgres and sqlite get the real partial constraint, which also
	// serves as the ON CONFLICT target.
	if err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open_fingerprint
		 ON alerts (fingerprint) WHERE status <> 'CLOSED'`,
	).Error; err != nil {
		return fmt.Errorf("failed to create alert dedup index: %w", err)
	}

	return nil
}

func GetDB() *gorm.DB {
	return DB
}
