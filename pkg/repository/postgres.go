package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/pixelchess/chess-server/pkg/chess"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    username      TEXT NOT NULL,
    rating_rapid  INTEGER NOT NULL DEFAULT 1200,
    rating_blitz  INTEGER NOT NULL DEFAULT 1200,
    rating_bullet INTEGER NOT NULL DEFAULT 1200,
    wins          INTEGER NOT NULL DEFAULT 0,
    losses        INTEGER NOT NULL DEFAULT 0,
    draws         INTEGER NOT NULL DEFAULT 0
)`

// PostgresUserRepository is the Postgres-backed implementation of
// UserRepository.
type PostgresUserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresRepository opens the pool, verifies connectivity and bootstraps
// the schema. An unreachable store is a startup failure, not a degraded mode.
func NewPostgresRepository(databaseURL string, logger *zap.Logger) (*PostgresUserRepository, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open user store: %w", err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping user store: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap user store schema: %w", err)
	}

	return &PostgresUserRepository{db: db, logger: logger}, nil
}

// Close releases the connection pool.
func (r *PostgresUserRepository) Close() error {
	return r.db.Close()
}

// GetUser retrieves a user by ID
func (r *PostgresUserRepository) GetUser(ctx context.Context, id string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, username, rating_rapid, rating_blitz, rating_bullet, wins, losses, draws
		FROM users WHERE id = $1`, id)

	var user User
	var rapid, blitz, bullet int
	err := row.Scan(&user.ID, &user.Username, &rapid, &blitz, &bullet,
		&user.Wins, &user.Losses, &user.Draws)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read user %s: %w", id, err)
	}

	user.Ratings = map[chess.Mode]int{
		chess.ModeRapid:  rapid,
		chess.ModeBlitz:  blitz,
		chess.ModeBullet: bullet,
	}

	return &user, nil
}

// UpdateGameResult writes the new rating and bumps the result counter in a
// single statement, so a crash can never commit one without the other.
func (r *PostgresUserRepository) UpdateGameResult(
	ctx context.Context,
	id string,
	mode chess.Mode,
	newRating int,
	outcome Outcome,
) error {
	ratingColumn, ok := ratingColumns[mode]
	if !ok {
		return fmt.Errorf("unknown mode %q", mode)
	}
	statColumn, ok := statColumns[outcome]
	if !ok {
		return fmt.Errorf("unknown outcome %q", outcome)
	}

	query := fmt.Sprintf(
		`UPDATE users SET %s = $2, %s = %s + 1 WHERE id = $1`,
		ratingColumn, statColumn, statColumn,
	)

	result, err := r.db.ExecContext(ctx, query, id, newRating)
	if err != nil {
		return fmt.Errorf("update user %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}

	return nil
}

// Column names are taken from these fixed tables, never from input.
var ratingColumns = map[chess.Mode]string{
	chess.ModeRapid:  "rating_rapid",
	chess.ModeBlitz:  "rating_blitz",
	chess.ModeBullet: "rating_bullet",
}

var statColumns = map[Outcome]string{
	OutcomeWin:  "wins",
	OutcomeLoss: "losses",
	OutcomeDraw: "draws",
}
