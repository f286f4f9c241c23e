package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmarchant/reverie/internal/model"
)

// ErrCodeTaken is returned when a code binding collides with an existing
// code. The caller regenerates and retries; codes are never overwritten.
var ErrCodeTaken = fmt.Errorf("access code already taken")

type GrantStore struct {
	db *sql.DB
}

func NewGrantStore(db *sql.DB) *GrantStore {
	return &GrantStore{db: db}
}

func scanGrant(scanner interface{ Scan(...any) error }) (*model.AccessGrant, error) {
	var g model.AccessGrant
	var customerID sql.NullString
	var code sql.NullString
	var emailHash sql.NullString
	var expiresAt sql.NullTime
	err := scanner.Scan(
		&g.ID, &g.PaymentSessionID, &g.Type, &customerID, &code,
		&emailHash, &expiresAt, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if customerID.Valid {
		g.CustomerID = &customerID.String
	}
	if code.Valid {
		g.Code = &code.String
	}
	if emailHash.Valid {
		g.EmailHash = &emailHash.String
	}
	if expiresAt.Valid {
		g.ExpiresAt = &expiresAt.Time
	}
	return &g, nil
}

const grantCols = `id, payment_session_id, type, customer_id, code, email_hash, expires_at, created_at, updated_at`

// CreateIfAbsent inserts a grant for the session id unless one already
// exists, then returns whichever record ended up stored. Concurrent calls
// for the same session id converge on the same row; the grant fields are a
// pure function of the session, so losing the insert race is harmless.
func (s *GrantStore) CreateIfAbsent(g *model.AccessGrant) (*model.AccessGrant, error) {
	_, err := s.db.Exec(
		`INSERT INTO access_grants (payment_session_id, type, customer_id, code, email_hash, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(payment_session_id) DO NOTHING`,
		g.PaymentSessionID, string(g.Type), g.CustomerID, g.Code, g.EmailHash, g.ExpiresAt,
	)
	if err != nil {
		if isCodeConflict(err) {
			return nil, ErrCodeTaken
		}
		return nil, fmt.Errorf("insert grant: %w", err)
	}
	stored, err := s.GetBySessionID(g.PaymentSessionID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("grant missing after insert for session %s", g.PaymentSessionID)
	}
	return stored, nil
}

func (s *GrantStore) GetByID(id int64) (*model.AccessGrant, error) {
	row := s.db.QueryRow(`SELECT `+grantCols+` FROM access_grants WHERE id = ?`, id)
	g, err := scanGrant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get grant: %w", err)
	}
	return g, nil
}

func (s *GrantStore) GetBySessionID(sessionID string) (*model.AccessGrant, error) {
	row := s.db.QueryRow(`SELECT `+grantCols+` FROM access_grants WHERE payment_session_id = ?`, sessionID)
	g, err := scanGrant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get grant by session: %w", err)
	}
	return g, nil
}

func (s *GrantStore) GetByCode(code string) (*model.AccessGrant, error) {
	row := s.db.QueryRow(`SELECT `+grantCols+` FROM access_grants WHERE code = ?`, code)
	g, err := scanGrant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get grant by code: %w", err)
	}
	return g, nil
}

// GetByEmailHash returns the most recent grant bound to the hash. The same
// email may buy more than once; the newest grant is the one that matters.
func (s *GrantStore) GetByEmailHash(emailHash string) (*model.AccessGrant, error) {
	row := s.db.QueryRow(
		`SELECT `+grantCols+` FROM access_grants WHERE email_hash = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		emailHash,
	)
	g, err := scanGrant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get grant by email hash: %w", err)
	}
	return g, nil
}

// BindCode attaches a code to an unbound grant. Returns ErrCodeTaken on a
// code collision so the caller can regenerate. A no-op (zero rows) means
// the grant was already bound; callers re-fetch and use the existing
// binding.
func (s *GrantStore) BindCode(grantID int64, code string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE access_grants SET code = ?, updated_at = datetime('now')
		 WHERE id = ? AND code IS NULL AND email_hash IS NULL`,
		code, grantID,
	)
	if err != nil {
		if isCodeConflict(err) {
			return false, ErrCodeTaken
		}
		return false, fmt.Errorf("bind code: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// BindEmailHash attaches an email hash to an unbound grant. Zero rows
// means the grant was already bound.
func (s *GrantStore) BindEmailHash(grantID int64, emailHash string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE access_grants SET email_hash = ?, updated_at = datetime('now')
		 WHERE id = ? AND code IS NULL AND email_hash IS NULL`,
		emailHash, grantID,
	)
	if err != nil {
		return false, fmt.Errorf("bind email hash: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func isCodeConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "access_grants.code")
}
