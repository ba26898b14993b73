// Package db provides database connection and migration functionality.
package db

import (
	"fmt"
	stdlog "log"
	"os"

	"trustchain/internal/config"
	"trustchain/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens a database connection using the provided configuration.
func Open(cfg config.Config) (*gorm.DB, error) {
	// Configure GORM logger (Silent to avoid cluttering output; only errors will be logged)
	newLogger := logger.New(
		stdlog.New(os.Stdout, "", stdlog.LstdFlags),
		logger.Config{
			SlowThreshold:             0,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	if cfg.DBDialect == "" || cfg.DBDsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	gcfg := &gorm.Config{Logger: newLogger, TranslateError: true}
	switch cfg.DBDialect {
	case config.DatabaseSchemePostgres:
		return gorm.Open(postgres.Open(cfg.DBDsn), gcfg)
	case config.DatabaseSchemeSQLite:
		gdb, err := gorm.Open(sqlite.Open(cfg.DBDsn), gcfg)
		if err != nil {
			return nil, err
		}
		// sqlite serializes writers anyway; one connection also keeps :memory: databases shared
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return gdb, nil
	default:
		return nil, fmt.Errorf("unsupported DB_DIALECT: %s", cfg.DBDialect)
	}
}

// AutoMigrate runs database migrations for the ledger table.
// profiles belongs to the web application and is only created when missing.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	if err := db.AutoMigrate(&models.ReputationBlock{}); err != nil {
		return err
	}
	if !db.Migrator().HasTable(&models.Profile{}) {
		return db.AutoMigrate(&models.Profile{})
	}
	return nil
}
