package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/margindev/margin/internal/slogging"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
)

// PostgresConfig holds the configuration for PostgreSQL connection
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
}

// PostgresDB represents a PostgreSQL database connection
type PostgresDB struct {
	db  *sql.DB
	cfg PostgresConfig
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(cfg PostgresConfig) (*PostgresDB, error) {
	logger := slogging.Get()
	logger.Debug("Initializing PostgreSQL connection to %s:%s/%s", cfg.Host, cfg.Port, cfg.Database)

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("pgx", connString)
	if err != nil {
		logger.Error("Failed to open PostgreSQL connection: %v", err)
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	// Shorter max lifetime recycles connections before load balancers or
	// database restarts invalidate them under us
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("Failed to ping PostgreSQL: %v", err)
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	logger.Debug("PostgreSQL connection established successfully")

	return &PostgresDB{
		db:  db,
		cfg: cfg,
	}, nil
}

// Close closes the database connection
func (db *PostgresDB) Close() error {
	logger := slogging.Get()
	logger.Debug("Closing PostgreSQL connection to %s:%s/%s", db.cfg.Host, db.cfg.Port, db.cfg.Database)

	if db.db != nil {
		if err := db.db.Close(); err != nil {
			logger.Error("Error closing PostgreSQL connection: %v", err)
			return fmt.Errorf("error closing database connection: %w", err)
		}
	}
	return nil
}

// GetDB returns the database connection
func (db *PostgresDB) GetDB() *sql.DB {
	return db.db
}

// Ping checks if the database connection is alive
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}
