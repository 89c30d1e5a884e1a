package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stef9github/ReactDjango-Hub-sub008/mfa"
)

const methodColumns = `id, principal_id, type, destination, secret,
	verified, is_primary, totp_counter, created_at`

func (s *Store) CreateMethod(ctx context.Context, m mfa.Method) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mfa_methods (id, principal_id, type, destination, secret,
			verified, is_primary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.PrincipalID, string(m.Type), m.Destination, m.Secret,
		boolInt(m.Verified), boolInt(m.Primary), toMillis(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert mfa method: %w", err)
	}
	return nil
}

func (s *Store) GetMethod(ctx context.Context, methodID string) (mfa.Method, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+methodColumns+` FROM mfa_methods WHERE id = ?`, methodID)

	m, err := scanMethod(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return mfa.Method{}, mfa.ErrMethodNotFound
	}
	return m, err
}

func (s *Store) ListMethods(ctx context.Context, principalID string) ([]mfa.Method, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+methodColumns+` FROM mfa_methods
		WHERE principal_id = ? ORDER BY created_at`, principalID)
	if err != nil {
		return nil, fmt.Errorf("list mfa methods: %w", err)
	}
	defer rows.Close()

	var out []mfa.Method
	for rows.Next() {
		m, err := scanMethod(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) MarkMethodVerified(ctx context.Context, methodID string) error {
	return s.updateMethod(ctx, `
		UPDATE mfa_methods SET verified = 1 WHERE id = ?`, methodID)
}

// SetPrimaryMethod promotes one method and demotes the principal's others
// in the same transaction.
func (s *Store) SetPrimaryMethod(ctx context.Context, principalID, methodID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE mfa_methods SET is_primary = 0 WHERE principal_id = ?`, principalID); err != nil {
		return fmt.Errorf("demote methods: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE mfa_methods SET is_primary = 1
		WHERE id = ? AND principal_id = ?`, methodID, principalID)
	if err != nil {
		return fmt.Errorf("promote method: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mfa.ErrMethodNotFound
	}

	return tx.Commit()
}

func (s *Store) DeleteMethod(ctx context.Context, methodID string) error {
	return s.updateMethod(ctx, `
		DELETE FROM mfa_methods WHERE id = ?`, methodID)
}

// ReplaceBackupCodes swaps the principal's entire recovery pool atomically.
func (s *Store) ReplaceBackupCodes(ctx context.Context, principalID string, codes []mfa.BackupCode) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM backup_codes WHERE principal_id = ?`, principalID); err != nil {
		return fmt.Errorf("clear backup codes: %w", err)
	}

	for _, code := range codes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO backup_codes (principal_id, hash, used)
			VALUES (?, ?, ?)`,
			principalID, code.Hash[:], boolInt(code.Used)); err != nil {
			return fmt.Errorf("insert backup code: %w", err)
		}
	}

	return tx.Commit()
}

// ConsumeBackupCode flips a matching unused code to used in one UPDATE, so
// the same code can never verify twice, and reports how many codes remain.
func (s *Store) ConsumeBackupCode(ctx context.Context, principalID string, hash [32]byte) (int, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE backup_codes SET used = 1
		WHERE principal_id = ? AND hash = ? AND used = 0`,
		principalID, hash[:])
	if err != nil {
		return 0, false, fmt.Errorf("consume backup code: %w", err)
	}
	consumed, _ := res.RowsAffected()

	var remaining int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM backup_codes
		WHERE principal_id = ? AND used = 0`, principalID).Scan(&remaining); err != nil {
		return 0, false, fmt.Errorf("count backup codes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit: %w", err)
	}
	return remaining, consumed == 1, nil
}

func (s *Store) UpdateTOTPCounter(ctx context.Context, methodID string, counter int64) error {
	return s.updateMethod(ctx, `
		UPDATE mfa_methods SET totp_counter = ? WHERE id = ?`, counter, methodID)
}

func (s *Store) GetTOTPCounter(ctx context.Context, methodID string) (int64, error) {
	var counter int64
	err := s.db.QueryRowContext(ctx, `
		SELECT totp_counter FROM mfa_methods WHERE id = ?`, methodID).Scan(&counter)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, mfa.ErrMethodNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read totp counter: %w", err)
	}
	return counter, nil
}

func (s *Store) updateMethod(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update mfa method: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mfa.ErrMethodNotFound
	}
	return nil
}

func scanMethod(scan func(dest ...any) error) (mfa.Method, error) {
	var m mfa.Method
	var methodType string
	var verified, primary int
	var totpCounter, createdAt int64

	if err := scan(
		&m.ID, &m.PrincipalID, &methodType, &m.Destination, &m.Secret,
		&verified, &primary, &totpCounter, &createdAt,
	); err != nil {
		return mfa.Method{}, err
	}

	m.Type = mfa.MethodType(methodType)
	m.Verified = verified == 1
	m.Primary = primary == 1
	m.CreatedAt = fromMillis(createdAt)
	return m, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
