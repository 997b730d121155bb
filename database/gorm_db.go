package database

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// SQLiteFileName is the per-workspace index file under the workspace root
	SQLiteFileName = "index.db"
)

// Options selects the backend for one workspace store.
type Options struct {
	Driver string
	DSN    string // postgres only
	Slug   string // workspace slug, used as the postgres schema name
	Dir    string // workspace root, holds the sqlite file
	Debug  bool
}

func newGormLogger(debug bool) logger.Interface {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// InitGormDB opens the index store for one workspace. Each workspace gets its own sqlite file,
// or its own schema when the postgres backend is selected.
func InitGormDB(opts Options) (*gorm.DB, error) {
	gcfg := &gorm.Config{
		Logger:         newGormLogger(opts.Debug),
		TranslateError: true,
	}

	var (
		db  *gorm.DB
		err error
	)
	switch opts.Driver {
	case DriverSQLite, "":
		dsn := filepath.Join(opts.Dir, SQLiteFileName) + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
		db, err = gorm.Open(sqlite.Open(dsn), gcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store in %s: %w", opts.Dir, err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
		}
		// one writer at a time; claims and rollups rely on it
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(time.Hour)
	case DriverPostgres:
		schema := SchemaName(opts.Slug)
		if err := ensureSchema(opts.DSN, schema, gcfg); err != nil {
			return nil, err
		}
		db, err = gorm.Open(postgres.Open(WithSearchPath(opts.DSN, schema)), gcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres schema %s: %w", schema, err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
		}
		sqlDB.SetMaxIdleConns(2)
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetConnMaxLifetime(time.Hour)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	if err := AutoMigrateModels(db); err != nil {
		CloseGormDB(db)
		return nil, err
	}
	if _, err := PromoteNotApplicable(db); err != nil {
		CloseGormDB(db)
		return nil, err
	}
	return db, nil
}

// CloseGormDB releases the pool behind db.
func CloseGormDB(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SchemaName maps a workspace slug onto a postgres identifier.
func SchemaName(slug string) string {
	return "ws_" + strings.ReplaceAll(slug, "-", "_")
}

// WithSearchPath pins every connection of a pool to schema, for both URL and key=value DSNs.
func WithSearchPath(dsn, schema string) string {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err == nil {
			q := u.Query()
			q.Set("search_path", schema)
			u.RawQuery = q.Encode()
			return u.String()
		}
	}
	return strings.TrimSpace(dsn) + " search_path=" + schema
}

func ensureSchema(dsn, schema string, gcfg *gorm.Config) error {
	db, err := gorm.Open(postgres.Open(dsn), gcfg)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer CloseGormDB(db)

	if err := db.Exec(`CREATE SCHEMA IF NOT EXISTS "` + schema + `"`).Error; err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	return nil
}

// DropSchema removes a workspace's postgres schema and everything in it.
func DropSchema(dsn, slug string) error {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: newGormLogger(false)})
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer CloseGormDB(db)

	schema := SchemaName(slug)
	if err := db.Exec(`DROP SCHEMA IF EXISTS "` + schema + `" CASCADE`).Error; err != nil {
		return fmt.Errorf("failed to drop schema %s: %w", schema, err)
	}
	return nil
}
