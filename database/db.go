package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"speedrun-backend/logging"
)

var DB *sql.DB

// ConnectDB opens the Postgres pool, verifies it answers and stores it in DB.
func ConnectDB(databaseURL string) error {
	if databaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("database not reachable: %w", err)
	}

	DB = db
	logging.Info().Msg("Connected to PostgreSQL successfully")
	return nil
}

// Ping reports whether the shared pool is usable.
func Ping(ctx context.Context) error {
	if DB == nil {
		return errors.New("database not connected")
	}
	return DB.PingContext(ctx)
}
