package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
)

// Config holds the connection pool configuration.
type Config struct {
	// Driver is "mysql" (default) or "sqlite3" for embedded local runs.
	Driver string `yaml:"driver"`

	// DSN is the data source name.
	// MySQL: "user:password@tcp(host:port)/dbname?parseTime=true&loc=UTC"
	// SQLite: "file:solveq.db?_foreign_keys=on" or "file::memory:?cache=shared"
	DSN string `yaml:"dsn"`

	MaxOpenConnections int           `yaml:"maxOpenConnections"`
	MaxIdleConnections int           `yaml:"maxIdleConnections"`
	ConnMaxLifetime    time.Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"connMaxIdleTime"`

	// AutoMigrate applies the bundled schema on startup.
	AutoMigrate bool `yaml:"autoMigrate"`
}

func (c *Config) applyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverMySQL
	}
	if c.MaxOpenConnections == 0 {
		c.MaxOpenConnections = 25
	}
	if c.MaxIdleConnections == 0 {
		c.MaxIdleConnections = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 10 * time.Minute
	}
	if c.Driver == DriverSQLite {
		// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
		c.MaxOpenConnections = 1
		c.MaxIdleConnections = 1
	}
}

// dataSourceName makes MySQL report matched rows instead of changed rows, so
// a guarded UPDATE that rewrites a column with its current value still counts
// as applied, the way SQLite reports it.
func dataSourceName(driver, dsn string) (string, error) {
	if driver != DriverMySQL {
		return dsn, nil
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql DSN: %w", err)
	}
	parsed.ClientFoundRows = true
	return parsed.FormatDSN(), nil
}

// SQLDatabase implements Database over database/sql.
type SQLDatabase struct {
	db     *sql.DB
	driver string
}

// Open connects and verifies the database described by cfg.
func Open(ctx context.Context, cfg Config) (*SQLDatabase, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("DSN cannot be empty")
	}
	cfg.applyDefaults()
	if cfg.Driver != DriverMySQL && cfg.Driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}

	dsn, err := dataSourceName(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConnections)
	conn.SetMaxIdleConns(cfg.MaxIdleConnections)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &SQLDatabase{db: conn, driver: cfg.Driver}
	if cfg.AutoMigrate {
		if err := Migrate(ctx, database); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return database, nil
}

func (m *SQLDatabase) Dialect() string {
	return m.driver
}

// Query executes a query that returns rows
func (m *SQLDatabase) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return rows, nil
}

// QueryRow executes a query that returns at most one row
func (m *SQLDatabase) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return m.db.QueryRowContext(ctx, query, args...)
}

// Exec executes a query that doesn't return rows
func (m *SQLDatabase) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	result, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("exec failed: %w", err)
	}
	return result, nil
}

// Transaction executes a function within a database transaction
func (m *SQLDatabase) Transaction(ctx context.Context, fn func(tx Transaction) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}
	wrapped := &sqlTransaction{tx: tx}
	if err := fn(wrapped); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

// Ping verifies a connection to the database is still alive
func (m *SQLDatabase) Ping(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// Close closes the database connection
func (m *SQLDatabase) Close() error {
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	return nil
}

type sqlTransaction struct {
	tx *sql.Tx
}

func (t *sqlTransaction) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transaction query failed: %w", err)
	}
	return rows, nil
}

func (t *sqlTransaction) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *sqlTransaction) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transaction exec failed: %w", err)
	}
	return result, nil
}

func (t *sqlTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqlTransaction) Rollback() error {
	return t.tx.Rollback()
}
