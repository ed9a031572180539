// Package session persists the cloud session token in SQLite so a
// restart resumes the session instead of logging in again.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-climate/internal/cloudapi"
	"github.com/nerrad567/gray-logic-climate/internal/infrastructure/database"
)

// Store keeps one token triple per account in the cloud_sessions table.
//
// Thread Safety:
//   - Safe for concurrent use; the database serializes writers.
type Store struct {
	db      *database.DB
	account string
	now     func() time.Time
}

// NewStore returns a store for account, normally the login email.
// The schema must already be migrated.
func NewStore(db *database.DB, account string) *Store {
	return &Store{db: db, account: account, now: time.Now}
}

// Load returns the stored token. The bool is false when no session is
// stored for the account.
func (s *Store) Load(ctx context.Context) (cloudapi.Token, bool, error) {
	var tok cloudapi.Token
	var issuedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT token, refresh_token, issued_at FROM cloud_sessions WHERE account = ?",
		s.account,
	).Scan(&tok.Token, &tok.RefreshToken, &issuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cloudapi.Token{}, false, nil
	}
	if err != nil {
		return cloudapi.Token{}, false, fmt.Errorf("loading session: %w", err)
	}

	tok.IssuedAt, err = time.Parse(time.RFC3339Nano, issuedAt)
	if err != nil {
		return cloudapi.Token{}, false, fmt.Errorf("parsing session issued_at %q: %w", issuedAt, err)
	}
	return tok, true, nil
}

// Save replaces the stored token.
func (s *Store) Save(ctx context.Context, tok cloudapi.Token) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cloud_sessions (account, token, refresh_token, issued_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			token = excluded.token,
			refresh_token = excluded.refresh_token,
			issued_at = excluded.issued_at,
			updated_at = excluded.updated_at`,
		s.account,
		tok.Token,
		tok.RefreshToken,
		tok.IssuedAt.UTC().Format(time.RFC3339Nano),
		s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Clear removes the stored token.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cloud_sessions WHERE account = ?", s.account); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}
