package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmarchant/reverie/internal/model"
)

// BridgeStore holds short-TTL session-id records written by the webhook
// path. It is an optimization only; when a record is missing or the store
// is unreachable, the confirm path falls back to the payment processor.
type BridgeStore struct {
	db *sql.DB
}

func NewBridgeStore(db *sql.DB) *BridgeStore {
	return &BridgeStore{db: db}
}

const bridgeCols = `id, payment_session_id, grant_id, expires_at, created_at`

func scanBridge(scanner interface{ Scan(...any) error }) (*model.Bridge, error) {
	var b model.Bridge
	err := scanner.Scan(&b.ID, &b.PaymentSessionID, &b.GrantID, &b.ExpiresAt, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Put upserts the bridge record for a session. Retries land on identical
// content, so last-write-wins is safe here.
func (s *BridgeStore) Put(sessionID string, grantID int64, ttl time.Duration) error {
	expiresAt := time.Now().UTC().Add(ttl)
	_, err := s.db.Exec(
		`INSERT INTO confirm_bridge (payment_session_id, grant_id, expires_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(payment_session_id) DO UPDATE SET grant_id = excluded.grant_id, expires_at = excluded.expires_at`,
		sessionID, grantID, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("put bridge: %w", err)
	}
	return nil
}

// Get returns the bridge record for a session, or nil if absent or expired.
func (s *BridgeStore) Get(sessionID string) (*model.Bridge, error) {
	row := s.db.QueryRow(
		`SELECT `+bridgeCols+` FROM confirm_bridge WHERE payment_session_id = ? AND expires_at > ?`,
		sessionID, time.Now().UTC(),
	)
	b, err := scanBridge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bridge: %w", err)
	}
	return b, nil
}

func (s *BridgeStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM confirm_bridge WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired bridges: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
