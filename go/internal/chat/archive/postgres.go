package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/astromitra/consultroom/go/internal/models"
)

const createMessagesTable = `
CREATE TABLE IF NOT EXISTS room_messages (
	room_id     TEXT        NOT NULL,
	message_id  TEXT        NOT NULL,
	body        TEXT        NOT NULL,
	sender_id   TEXT        NOT NULL,
	sender_name TEXT        NOT NULL,
	sender_role TEXT        NOT NULL,
	status      TEXT        NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (room_id, message_id)
)`

const insertMessage = `
INSERT INTO room_messages (room_id, message_id, body, sender_id, sender_name, sender_role, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (room_id, message_id) DO NOTHING`

// PostgresStore archives messages to PostgreSQL. The (room_id, message_id)
// primary key makes archive writes idempotent against relay retries.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and ensures the archive table.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, createMessagesTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure archive table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// SaveMessage writes one message; duplicates are a silent no-op.
func (s *PostgresStore) SaveMessage(ctx context.Context, msg models.Message) error {
	_, err := s.pool.Exec(ctx, insertMessage,
		msg.RoomID, msg.ID, msg.Text, msg.SenderID, msg.SenderName,
		string(msg.SenderRole), string(msg.Status), msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive message %s: %w", msg.ID, err)
	}
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Driver identifies the backend for metrics labels.
func (s *PostgresStore) Driver() string { return "postgres" }
