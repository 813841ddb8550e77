package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shrimpsizemoose/trekker/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Dialect names the SQL flavour behind a DB.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DB wraps sqlx.DB for Postgres (pgx) or SQLite.
type DB struct {
	Client  *sqlx.DB
	Dialect Dialect
}

// NewDB opens a connection picking the driver from the DSN: postgres:// and
// postgresql:// go to pgx, everything else is treated as a SQLite path.
func NewDB(dsn string) (*DB, error) {
	return NewDBWithDriver("", dsn)
}

// NewDBWithDriver is NewDB with an explicit Postgres driver: "pgx" (the
// default) or "postgres" for lib/pq. The driver is ignored for SQLite paths.
func NewDBWithDriver(driver, dsn string) (*DB, error) {
	if !strings.HasPrefix(dsn, "postgres") {
		return open("sqlite3", sqliteDSN(dsn), DialectSQLite)
	}
	switch driver {
	case "", "pgx":
		return open("pgx", dsn, DialectPostgres)
	case "postgres", "pq":
		return open("postgres", dsn, DialectPostgres)
	default:
		return nil, fmt.Errorf("unknown postgres driver %q", driver)
	}
}

// NewMemory returns a migrated in-memory SQLite database.
func NewMemory() (*DB, error) {
	db, err := NewDB(":memory:")
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func open(driver, dsn string, dialect Dialect) (*DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// each sqlite connection to :memory: is its own database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return &DB{Client: db, Dialect: dialect}, nil
}

func sqliteDSN(dsn string) string {
	if dsn == ":memory:" || strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
}

// Migrate applies the embedded schema files in name order. Statements are
// idempotent so this runs on every start.
func (d *DB) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		content, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		sql := string(content)
		if d.Dialect == DialectSQLite {
			sql = translateToSQLite(sql)
		}
		logger.Debug.Printf("Applying migration: %s", name)
		if _, err := d.Client.ExecContext(ctx, sql); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
	}
	return nil
}

// translateToSQLite converts the Postgres schema to SQLite dialect.
func translateToSQLite(sql string) string {
	replacements := []struct{ from, to string }{
		{"TIMESTAMPTZ", "DATETIME"},
		{"now()", "CURRENT_TIMESTAMP"},
	}
	for _, r := range replacements {
		sql = strings.ReplaceAll(sql, r.from, r.to)
	}
	return sql
}

// Healthy pings the database.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
