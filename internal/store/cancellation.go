package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmarchant/reverie/internal/model"
)

// CancellationStore keeps the bounded-retention cancellation side-records.
// A fresh record means "treat this customer's subscription as inactive"
// without a live processor call; after retention lapses the live check is
// consulted again.
type CancellationStore struct {
	db *sql.DB
}

func NewCancellationStore(db *sql.DB) *CancellationStore {
	return &CancellationStore{db: db}
}

const cancellationCols = `id, customer_id, cancelled_at, expires_at`

func scanCancellation(scanner interface{ Scan(...any) error }) (*model.Cancellation, error) {
	var c model.Cancellation
	err := scanner.Scan(&c.ID, &c.CustomerID, &c.CancelledAt, &c.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Upsert records or refreshes a cancellation for the customer.
func (s *CancellationStore) Upsert(customerID string, retention time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO cancellations (customer_id, cancelled_at, expires_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(customer_id) DO UPDATE SET cancelled_at = excluded.cancelled_at, expires_at = excluded.expires_at`,
		customerID, now, now.Add(retention),
	)
	if err != nil {
		return fmt.Errorf("upsert cancellation: %w", err)
	}
	return nil
}

// Get returns a still-fresh cancellation for the customer, or nil.
func (s *CancellationStore) Get(customerID string) (*model.Cancellation, error) {
	row := s.db.QueryRow(
		`SELECT `+cancellationCols+` FROM cancellations WHERE customer_id = ? AND expires_at > ?`,
		customerID, time.Now().UTC(),
	)
	c, err := scanCancellation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cancellation: %w", err)
	}
	return c, nil
}

func (s *CancellationStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM cancellations WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired cancellations: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
