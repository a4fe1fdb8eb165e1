package database

import (
	"errors"
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Connect opens a database connection for the given driver.
// Errors are translated so unique violations surface as gorm.ErrDuplicatedKey.
func Connect(driver, dsn string, logLevel logger.LogLevel) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres, "":
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer; serialize through one connection.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	log.Println("Database connection established")
	return db, nil
}

// AutoMigrate runs database migrations
func AutoMigrate(db *gorm.DB) error {
	log.Println("Running database migrations...")

	err := db.AutoMigrate(
		&SlackSettings{},
		&Project{},
		&ProjectSecret{},
		&Incident{},
		&AgentRun{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("Database migrations completed successfully")
	return nil
}

// InitializeDefaults creates default records if they don't exist
func InitializeDefaults(db *gorm.DB) error {
	log.Println("Initializing default database records...")

	var count int64
	db.Model(&SlackSettings{}).Count(&count)
	if count == 0 {
		defaultSlackSettings := &SlackSettings{
			Enabled: false, // Disabled by default until configured
		}
		if err := db.Create(defaultSlackSettings).Error; err != nil {
			return fmt.Errorf("failed to create default slack settings: %w", err)
		}
		log.Println("Created default Slack settings (disabled)")
	}

	return nil
}

// GetSlackSettings retrieves Slack settings from the database
func GetSlackSettings(db *gorm.DB) (*SlackSettings, error) {
	var settings SlackSettings
	if err := db.First(&settings).Error; err != nil {
		return nil, err
	}
	return &settings, nil
}

// GetOrCreateSlackSettings retrieves Slack settings, creating the disabled default row if missing
func GetOrCreateSlackSettings(db *gorm.DB) (*SlackSettings, error) {
	settings, err := GetSlackSettings(db)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		settings = &SlackSettings{Enabled: false}
		if err := db.Create(settings).Error; err != nil {
			return nil, err
		}
		return settings, nil
	}
	return settings, err
}

// UpdateSlackSettings updates Slack settings in the database
func UpdateSlackSettings(db *gorm.DB, settings *SlackSettings) error {
	return db.Model(&SlackSettings{}).Where("id = ?", settings.ID).
		Select("bot_token", "signing_secret", "app_token", "enabled").
		Updates(settings).Error
}

// Close closes the database connection
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
