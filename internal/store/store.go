package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/datallboy/serenity/internal/infra/config"
)

// PersistentStore holds the settings entries and task history.
// The same schema runs on sqlite (default) and postgres.
type PersistentStore struct {
	db     *sql.DB
	driver string
}

// Open connects to the database selected by cfg and runs migrations.
func Open(cfg config.StoreConfig) (*PersistentStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		return NewSQLiteStore(cfg.SQLitePath)
	case config.DriverPostgres:
		return NewPostgresStore(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func NewSQLiteStore(dbPath string) (*PersistentStore, error) {
	// Ensure the database directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	return newStore(db, config.DriverSQLite)
}

func NewPostgresStore(dsn string) (*PersistentStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	return newStore(db, config.DriverPostgres)
}

func newStore(db *sql.DB, driver string) (*PersistentStore, error) {
	// Ping makes sure the database is actually reachable and the DSN is valid
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	store := &PersistentStore{db: db, driver: driver}

	if err := store.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not migrate database: %w", err)
	}

	return store, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *PersistentStore) rebind(query string) string {
	if s.driver != config.DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *PersistentStore) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	return err
}

func (s *PersistentStore) Close() error {
	return s.db.Close()
}
