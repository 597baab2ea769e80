package data

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dcrodman/realm/internal/core"
)

// Models returns every model managed by this package, in migration order.
func Models() []interface{} {
	return []interface{}{&Session{}, &ServerSpecification{}, &WorldServerRequest{}}
}

// Open connects to the database engine named in the config and migrates the schema.
func Open(cfg *core.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Database.Engine) {
	case "sqlite":
		dialector = sqlite.Open(cfg.QualifiedPath(cfg.Database.Filename))
	case "postgres":
		dialector = postgres.Open(cfg.DatabaseURL())
	default:
		return nil, fmt.Errorf("unsupported database engine: %s", cfg.Database.Engine)
	}

	// By default only log errors but enable full SQL query prints-to-console with debug mode
	log := logger.Default.LogMode(logger.Error)
	if cfg.Debugging.DatabaseLoggingEnabled {
		log = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err = db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("error auto migrating db: %w", err)
	}
	return db, nil
}

// Close closes the connection pool underlying db.
func Close(db *gorm.DB) error {
	database, err := db.DB()
	if err != nil {
		return fmt.Errorf("error while getting current connection: %w", err)
	}
	if err := database.Close(); err != nil {
		return fmt.Errorf("error while closing database connection: %w", err)
	}
	return nil
}
