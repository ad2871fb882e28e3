package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"presence/internal/account"
	"presence/internal/biometric"
)

const templateCounter = "templates"

func (s *SQL) GetTemplate(ctx context.Context, subject string) (biometric.Template, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, s.q(`SELECT body FROM templates WHERE subject = $1`), subject).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return biometric.Template{}, biometric.ErrNotEnrolled
	}
	if err != nil {
		return biometric.Template{}, err
	}
	return biometric.UnmarshalTemplate(body)
}

// PutTemplate replaces the subject's template and bumps the template
// counter in the same transaction.
func (s *SQL) PutTemplate(ctx context.Context, subject string, tmpl biometric.Template) error {
	body, err := biometric.MarshalTemplate(tmpl)
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO templates (subject, strategy, body, updated_us)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (subject) DO UPDATE SET
				strategy = EXCLUDED.strategy,
				body = EXCLUDED.body,
				updated_us = EXCLUDED.updated_us
		`), subject, tmpl.Strategy, body, micros(s.clock.Now())); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO counters (name, value) VALUES ($1, 1)
			ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		`), templateCounter)
		return err
	})
}

func (s *SQL) ListTemplates(ctx context.Context) (map[string]biometric.Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT subject, body FROM templates`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]biometric.Template)
	for rows.Next() {
		var (
			subject string
			body    []byte
		)
		if err := rows.Scan(&subject, &body); err != nil {
			return nil, err
		}
		tmpl, err := biometric.UnmarshalTemplate(body)
		if err != nil {
			return nil, fmt.Errorf("decode template %s: %w", subject, err)
		}
		out[subject] = tmpl
	}
	return out, rows.Err()
}

func (s *SQL) TemplateVersion(ctx context.Context) (string, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT value FROM counters WHERE name = $1`), templateCounter).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "0", nil
	}
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(v, 10), nil
}

func (s *SQL) CreateAdmin(ctx context.Context, a account.Admin) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO admins (id, handle, credential_hash, created_us) VALUES ($1, $2, $3, $4)
	`), a.ID, a.Handle, a.CredentialHash, micros(a.CreatedAt))
	if isUniqueViolation(err) {
		return account.ErrDuplicateAdmin
	}
	return err
}

func (s *SQL) GetAdminByHandle(ctx context.Context, handle string) (account.Admin, error) {
	var (
		a       account.Admin
		created int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, handle, credential_hash, created_us FROM admins WHERE handle = $1
	`), handle).Scan(&a.ID, &a.Handle, &a.CredentialHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Admin{}, account.ErrAdminNotFound
	}
	if err != nil {
		return account.Admin{}, err
	}
	a.CreatedAt = fromMicros(created)
	return a, nil
}

// SaveRefreshToken stores a refresh token id for rotation checks.
func (s *SQL) SaveRefreshToken(ctx context.Context, id, subject string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO refresh_tokens (id, subject, expires_us) VALUES ($1, $2, $3)
	`), id, subject, micros(expiresAt))
	return err
}

// ConsumeRefreshToken marks a live token revoked in a single statement.
func (s *SQL) ConsumeRefreshToken(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE id = $1 AND NOT revoked AND expires_us > $2
	`), id, micros(now))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var (
	_ biometric.TemplateStore = (*SQL)(nil)
	_ account.Store           = (*SQL)(nil)
)
