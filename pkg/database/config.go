package database

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds the SQLite connection settings.
type Config struct {
	DatabasePath    string        `json:"database_path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
}

// DefaultConfig suits a single classroom server.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/studysync.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	return nil
}

// DSN is the go-sqlite3 connection string. Pragmas in the DSN apply to
// every pooled connection, not just the first.
func (c *Config) DSN() string {
	return "file:" + c.DatabasePath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_synchronous=NORMAL"
}

// Open opens the database and applies the pool limits.
func Open(c *Config) (*sql.DB, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", c.DSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(c.MaxConnections)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

const sqliteOptimizations = `
	PRAGMA cache_size = -16000;
	PRAGMA temp_store = MEMORY;
`

func applySQLiteOptimizations(db *sql.DB) error {
	_, err := db.Exec(sqliteOptimizations)
	return err
}
