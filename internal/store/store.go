package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/datallboy/mediagrab/internal/domain"
	"github.com/datallboy/mediagrab/internal/infra/config"
	_ "modernc.org/sqlite"
)

var ErrJobNotFound = errors.New("job not found")

// JobStore is the download history ledger
type JobStore interface {
	SaveJob(ctx context.Context, job *domain.JobRecord) error
	GetJob(ctx context.Context, id string) (*domain.JobRecord, error)
	// ListJobs returns the newest jobs first
	ListJobs(ctx context.Context, limit int) ([]*domain.JobRecord, error)
	Close() error
}

// Open picks the backend named by cfg.Driver
func Open(cfg config.StoreConfig) (JobStore, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgresStore(cfg.PostgresDSN)
	case "", "sqlite":
		return NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbDir := filepath.Dir(dbPath)

	// Ensure the database directory exists
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Ping makes sure the file is actually accessible and the DSN is valid
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not migrate database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
