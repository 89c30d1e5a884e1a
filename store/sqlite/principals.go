package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	authcore "github.com/stef9github/ReactDjango-Hub-sub008"
)

const principalColumns = `id, identifier, org_scope, password_hash, status,
	failed_logins, locked_until, created_at, updated_at`

// CreatePrincipal inserts a new identity row. Identifier collisions within
// an organization scope report ErrPrincipalExists.
func (s *Store) CreatePrincipal(ctx context.Context, record authcore.PrincipalRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO principals (`+principalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.Identifier, record.OrgScope, record.PasswordHash,
		string(record.Status), record.FailedLogins, toMillis(record.LockedUntil),
		toMillis(record.CreatedAt), toMillis(record.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return authcore.ErrPrincipalExists
	}
	if err != nil {
		return fmt.Errorf("insert principal: %w", err)
	}
	return nil
}

func (s *Store) GetPrincipal(ctx context.Context, id string) (authcore.PrincipalRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+principalColumns+` FROM principals WHERE id = ?`, id)
	return scanPrincipal(row)
}

func (s *Store) FindByIdentifier(ctx context.Context, identifier, orgScope string) (authcore.PrincipalRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+principalColumns+` FROM principals
		WHERE identifier = ? AND org_scope = ?`, identifier, orgScope)
	return scanPrincipal(row)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.updatePrincipal(ctx, id, `
		UPDATE principals SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, toMillis(time.Now()), id)
}

// SetStatus flips the lifecycle state; rows are never deleted so audit
// references stay resolvable.
func (s *Store) SetStatus(ctx context.Context, id string, status authcore.PrincipalStatus) error {
	return s.updatePrincipal(ctx, id, `
		UPDATE principals SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toMillis(time.Now()), id)
}

// RecordLoginFailure increments the failure counter in a single UPDATE so
// concurrent wrong-password attempts count exactly, and returns the new
// count.
func (s *Store) RecordLoginFailure(ctx context.Context, id string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE principals
		SET failed_logins = failed_logins + 1, updated_at = ?
		WHERE id = ?`, toMillis(time.Now()), id)
	if err != nil {
		return 0, fmt.Errorf("increment failures: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, authcore.ErrPrincipalNotFound
	}

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT failed_logins FROM principals WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("read failures: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return count, nil
}

func (s *Store) ClearLoginFailures(ctx context.Context, id string) error {
	return s.updatePrincipal(ctx, id, `
		UPDATE principals SET failed_logins = 0, updated_at = ? WHERE id = ?`,
		toMillis(time.Now()), id)
}

// SetLockout locks the principal until the given time, independent of any
// rate-limiter window.
func (s *Store) SetLockout(ctx context.Context, id string, until time.Time) error {
	return s.updatePrincipal(ctx, id, `
		UPDATE principals SET status = ?, locked_until = ?, updated_at = ? WHERE id = ?`,
		string(authcore.StatusLocked), toMillis(until), toMillis(time.Now()), id)
}

// ClearLockout restores active status and zeroes the failure counter.
func (s *Store) ClearLockout(ctx context.Context, id string) error {
	return s.updatePrincipal(ctx, id, `
		UPDATE principals
		SET status = ?, locked_until = 0, failed_logins = 0, updated_at = ?
		WHERE id = ?`,
		string(authcore.StatusActive), toMillis(time.Now()), id)
}

func (s *Store) updatePrincipal(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update principal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return authcore.ErrPrincipalNotFound
	}
	return nil
}

func scanPrincipal(row *sql.Row) (authcore.PrincipalRecord, error) {
	var record authcore.PrincipalRecord
	var status string
	var lockedUntil, createdAt, updatedAt int64

	err := row.Scan(
		&record.ID, &record.Identifier, &record.OrgScope, &record.PasswordHash,
		&status, &record.FailedLogins, &lockedUntil, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return authcore.PrincipalRecord{}, authcore.ErrPrincipalNotFound
	}
	if err != nil {
		return authcore.PrincipalRecord{}, fmt.Errorf("scan principal: %w", err)
	}

	record.Status = authcore.PrincipalStatus(status)
	record.LockedUntil = fromMillis(lockedUntil)
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}
