// Package sqljournal implements [durable.Journal] on SQLite or PostgreSQL.
package sqljournal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // sqlite driver
)

//go:embed migrations/*.sql
var migrations embed.FS

// Dialect selects SQL placeholder style and migration dialect.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// ParseDSN returns the driver name, dialect and driver DSN for a journal DSN.
//
// postgres:// and postgresql:// URLs use pgx. Everything else is a SQLite
// path, optionally prefixed with sqlite://.
func ParseDSN(dsn string) (driver string, dialect Dialect, driverDSN string) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "pgx", DialectPostgres, dsn
	}
	path := strings.TrimPrefix(dsn, "sqlite://")
	if !strings.Contains(path, "_pragma=") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		path += sep + sqlitePragmas
	}
	return "sqlite", DialectSQLite, path
}

// Open connects to the journal database and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Journal, error) {
	driver, dialect, driverDSN := ParseDSN(dsn)
	db, err := sql.Open(driver, driverDSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", dialect, err)
	}
	if err := Migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, err
	}
	if dialect == DialectSQLite {
		// SQLite allows one writer; serialise in the pool instead of
		// surfacing SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	return New(db, dialect), nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	gooseDialect := goose.DialectSQLite3
	if dialect == DialectPostgres {
		gooseDialect = goose.DialectPostgres
	}
	provider, err := goose.NewProvider(gooseDialect, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
