package database

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/neurocohort/databank/pkg/common/config"
	"github.com/neurocohort/databank/pkg/common/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to the report store. Postgres is the shared store; sqlite
// serves local runs and tests.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported report driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		logger.WithField("driver", driver).WithError(err).Error("Failed to connect to report store")
		return nil, err
	}
	logger.WithField("driver", driver).Info("Connected to report store")
	return db, nil
}

// PostgresDSN builds a connection string from the POSTGRES_* settings.
func PostgresDSN(cfg *config.Config) string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.PostgresHost,
		cfg.PostgresUser,
		cfg.PostgresPassword,
		cfg.PostgresDB,
		cfg.PostgresPort,
		cfg.PostgresSSLMode,
	)
}

// FromConfig opens the configured report store. It returns nil without an
// error when no store is configured.
func FromConfig(cfg *config.Config) (*gorm.DB, error) {
	if cfg.ReportDriver == "" {
		return nil, nil
	}
	dsn := cfg.ReportDSN
	if dsn == "" && strings.EqualFold(cfg.ReportDriver, DriverPostgres) {
		dsn = PostgresDSN(cfg)
	}
	return Open(cfg.ReportDriver, dsn)
}

func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
