// Package sqlite persists processed payment notifications so duplicate
// deliveries are recognized across restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gatewaykit/fondy"
)

// Open opens the database at path with the pure-Go sqlite driver and
// checks the connection.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processed_notifications (
			order_id TEXT PRIMARY KEY,
			order_status TEXT NOT NULL,
			payment_id TEXT NOT NULL DEFAULT '',
			payload BLOB,
			processed_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return nil
}

// NotificationStore implements [fondy.NotificationStore] on a sqlite table.
type NotificationStore struct {
	db *sql.DB
}

var _ fondy.NotificationStore = (*NotificationStore)(nil)

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

// MarkProcessed inserts rec unless its order id is already recorded.
func (s *NotificationStore) MarkProcessed(ctx context.Context, rec fondy.ProcessedNotification) (bool, error) {
	processedAt := rec.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_notifications (order_id, order_status, payment_id, payload, processed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.OrderID,
		string(rec.OrderStatus),
		rec.PaymentID,
		rec.Payload,
		processedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *NotificationStore) Release(ctx context.Context, orderID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_notifications WHERE order_id = ?`,
		orderID,
	)
	return err
}

func (s *NotificationStore) Get(ctx context.Context, orderID string) (*fondy.ProcessedNotification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT order_id, order_status, payment_id, payload, processed_at
		 FROM processed_notifications
		 WHERE order_id = ?`,
		orderID,
	)

	var (
		rec         fondy.ProcessedNotification
		status      string
		processedAt string
	)
	if err := row.Scan(&rec.OrderID, &status, &rec.PaymentID, &rec.Payload, &processedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fondy.ErrNotificationNotFound
		}
		return nil, err
	}
	rec.OrderStatus = fondy.OrderStatus(status)
	t, err := time.Parse(time.RFC3339Nano, processedAt)
	if err != nil {
		return nil, fmt.Errorf("sqlite: parse processed_at: %w", err)
	}
	rec.ProcessedAt = t
	return &rec, nil
}
