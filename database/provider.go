package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/services/logging"
	"github.com/thoka/discourse-login-helper/services/logintoken"
	"github.com/thoka/discourse-login-helper/services/ratelimit"
	"github.com/thoka/discourse-login-helper/services/totp"
	"github.com/thoka/discourse-login-helper/services/users"
	"github.com/thoka/discourse-login-helper/session"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models are the tables owned by the login helper.
func Models() []any {
	return []any{
		&users.User{},
		&logintoken.LoginToken{},
		&ratelimit.Counter{},
		&totp.TOTPSecret{},
		&totp.UsedCode{},
		&session.UserSession{},
	}
}

// Open connects to the configured database. A sqlite in-memory database is
// pinned to one connection so every query sees the same data.
func Open(cfg *config.DatabaseConfig, logger *logging.Service) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres, mysql)", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(logger)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == "sqlite" && strings.Contains(cfg.DSN, ":memory:") {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access database pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

func Migrate(db *gorm.DB, models ...any) error {
	if len(models) == 0 {
		return nil
	}
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to auto-migrate models: %w", err)
	}
	return nil
}

func ProvideDatabase(cfg *config.Config, logger *logging.Service) (*gorm.DB, error) {
	db, err := Open(&cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := Migrate(db, Models()...); err != nil {
			return nil, err
		}
		if logger != nil {
			logger.Info("database migrated", zap.Int("models", len(Models())))
		}
	}

	return db, nil
}

// Ping checks the connection within timeout.
func Ping(ctx context.Context, db *gorm.DB, timeout time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
