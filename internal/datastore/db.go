// Package datastore reads model records from a relational database for
// indexing and result materialization. SQLite (modernc.org/sqlite) and
// PostgreSQL (lib/pq) are supported.
package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
)

// Dialect selects placeholder syntax and connection setup.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a configured driver name to a dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	default:
		return "", ferrors.ConfigError("unsupported database driver "+driver, nil).
			WithSuggestion("use sqlite or postgres")
	}
}

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// DB is a reconnectable database handle.
type DB struct {
	dialect Dialect
	dsn     string

	mu sync.RWMutex
	db *sql.DB
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	d := &DB{dialect: dialect, dsn: dsn}
	conn, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}
	d.db = conn
	return d, nil
}

// Wrap uses an already open *sql.DB. Reconnect on a wrapped handle only
// pings it.
func Wrap(db *sql.DB, dialect Dialect) *DB {
	return &DB{dialect: dialect, db: db}
}

func (d *DB) connect(ctx context.Context) (*sql.DB, error) {
	conn, err := sql.Open(d.dialect.driverName(), d.dsn)
	if err != nil {
		return nil, ferrors.New(ferrors.ErrCodeDatabase, "cannot open database", err)
	}

	if d.dialect == DialectSQLite {
		// Single writer to prevent lock contention
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxLifetime(0)
		if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			_ = conn.Close()
			return nil, classify("set busy timeout", err)
		}
	} else {
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, classify("ping database", err)
	}
	return conn, nil
}

// Dialect returns the SQL dialect.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// SQL returns the current *sql.DB.
func (d *DB) SQL() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// Reconnect replaces the connection pool after a transient failure.
func (d *DB) Reconnect(ctx context.Context) error {
	if d.dsn == "" {
		return classify("ping database", d.SQL().PingContext(ctx))
	}
	conn, err := d.connect(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	old := d.db
	d.db = conn
	d.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	slog.Info("database_reconnected", slog.String("dialect", string(d.dialect)))
	return nil
}

// InTx runs fn in a transaction, rolling back when it fails.
func (d *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.SQL().BeginTx(ctx, &sql.TxOptions{ReadOnly: d.dialect == DialectPostgres})
	if err != nil {
		return classify("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("transaction_rollback_failed", slog.String("error", rbErr.Error()))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

// Close closes the connection pool.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// rebind rewrites ? placeholders into the dialect's syntax, numbering
// from start.
func (d *DB) rebind(query string, start int) string {
	if d.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := start
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteString("$" + strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func quoteIdent(name string) string {
	return fmt.Sprintf("%q", name)
}
