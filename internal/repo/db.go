// Package repo implements the data persistence layer for chat messages,
// backed by GORM over an embedded SQLite file. This file contains database
// bootstrapping helpers and the versioned schema migrations.
package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-chat-store/internal/domain"
)

// SchemaVersion is the schema version this build writes. It is stored in
// the metadata table under MetaKeyVersion.
const SchemaVersion = 1

// MetaKeyVersion is the metadata key holding the schema version.
const MetaKeyVersion = "version"

// ErrSchemaTooNew is returned when the database was written by a newer build.
var ErrSchemaTooNew = errors.New("database schema is newer than this build supports")

// connection-level PRAGMAs, applied to every pooled connection
var pragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

type openOptions struct {
	logger  logger.Interface
	tracing bool
}

// OpenOption customizes OpenSQLite.
type OpenOption func(*openOptions)

// WithLogger sets the GORM logger (e.g. logger.Default.LogMode(logger.Silent)).
func WithLogger(l logger.Interface) OpenOption {
	return func(o *openOptions) { o.logger = l }
}

// WithTracing installs the GORM OpenTelemetry plugin so every query becomes
// a span under the caller's context.
func WithTracing() OpenOption {
	return func(o *openOptions) { o.tracing = true }
}

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string, opts ...OpenOption) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, "file:") {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	db, err := gorm.Open(sqlite.Open(dsn(path)), &gorm.Config{Logger: o.logger})
	if err != nil {
		return nil, err
	}
	if o.tracing {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, err
		}
	}

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

func dsn(path string) string {
	var b strings.Builder
	b.WriteString(path)
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for _, p := range pragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// Close releases the connection pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type migration struct {
	version int
	name    string
	up      func(tx *gorm.DB) error
}

// migrations are applied in order; each one bumps the stored version.
var migrations = []migration{
	{
		version: 1,
		name:    "messages, read_status and metadata tables",
		up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&domain.Message{}, &domain.ReadStatus{})
		},
	},
}

// Migrate brings the schema up to SchemaVersion. Each step runs in its own
// transaction together with the version bump, so a failed step leaves the
// previous version in place.
func Migrate(ctx context.Context, db *gorm.DB) error {
	db = db.WithContext(ctx)
	if err := db.AutoMigrate(&domain.Metadata{}); err != nil {
		return fmt.Errorf("migrate metadata: %w", err)
	}
	current, err := StoredSchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return fmt.Errorf("%w: found %d, support %d", ErrSchemaTooNew, current, SchemaVersion)
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := m.up(tx); err != nil {
				return err
			}
			return SetMeta(ctx, tx, MetaKeyVersion, strconv.Itoa(m.version))
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

// StoredSchemaVersion returns the schema version recorded in metadata, or 0
// for a fresh database.
func StoredSchemaVersion(ctx context.Context, db *gorm.DB) (int, error) {
	v, err := GetMeta(ctx, db, MetaKeyVersion)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("metadata %s=%q: %w", MetaKeyVersion, v, err)
	}
	return n, nil
}
