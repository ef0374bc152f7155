package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/leadengine/whatsapp-ingest/core/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connection wraps the gorm handle with the degraded-mode flag. When no
// DATABASE_URL is configured the store runs against an in-memory sqlite
// database and rejects writes with a well-known error.
type Connection struct {
	DB       *gorm.DB
	Degraded bool
}

// New opens the database described by cfg.Database.URL. Postgres URLs go
// through the postgres driver; file: and plain paths through sqlite. An
// empty URL yields the degraded in-memory connection.
func New(cfg *config.Config) (*Connection, error) {
	url := strings.TrimSpace(cfg.Database.URL)

	var (
		dialector gorm.Dialector
		degraded  bool
	)
	switch {
	case url == "":
		dialector = sqlite.Open("file::memory:?cache=shared")
		degraded = true
	case strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://"):
		dialector = postgres.Open(url)
	default:
		dialector = sqlite.Open(url)
	}

	logMode := logger.Warn
	if cfg.App.Debug {
		logMode = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logMode),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB instance: %w", err)
	}

	if dialectorIsSqlite(url) {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetMaxIdleConns(10)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Connection{DB: db, Degraded: degraded}, nil
}

func dialectorIsSqlite(url string) bool {
	return url == "" || (!strings.HasPrefix(url, "postgres://") && !strings.HasPrefix(url, "postgresql://"))
}
