package pending

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/afikmenashe/security-alerting/internal/alert"
)

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS pending_alerts (
		id         BIGINT PRIMARY KEY,
		payload    BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// PostgresStore keeps records in the pending_alerts table.
type PostgresStore struct {
	conn *sql.DB
}

// NewPostgresStore opens a connection, verifies it and creates the table if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{conn: conn}
	if err := s.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	slog.Info("Successfully connected to PostgreSQL database")
	return s, nil
}

// EnsureSchema creates the pending_alerts table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create pending_alerts table: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	if s.conn != nil {
		slog.Info("Closing database connection")
		return s.conn.Close()
	}
	return nil
}

// Put upserts the record.
func (s *PostgresStore) Put(ctx context.Context, id uint64, ev alert.Event) error {
	query := `
		INSERT INTO pending_alerts (id, payload)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload
	`
	if _, err := s.conn.ExecContext(ctx, query, int64(id), Marshal(ev)); err != nil {
		return fmt.Errorf("failed to store pending record: %w", err)
	}
	return nil
}

// Delete removes the record.
func (s *PostgresStore) Delete(ctx context.Context, id uint64) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM pending_alerts WHERE id = $1`, int64(id)); err != nil {
		return fmt.Errorf("failed to delete pending record: %w", err)
	}
	return nil
}

// List returns every record in id order.
func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id, payload FROM pending_alerts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			id      int64
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan pending record: %w", err)
		}
		records = append(records, decodeRecord(uint64(id), payload))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending records: %w", err)
	}
	return records, nil
}
