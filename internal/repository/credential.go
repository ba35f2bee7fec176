// Package repository provides PostgreSQL persistence for PIN credentials
// and the lock audit trail.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/atinyakov/sessionlock/internal/models"
)

// ErrCredentialNotFound is returned when a user has no PIN credential.
var ErrCredentialNotFound = errors.New("credential not found")

// PostgresCredentialRepository stores one PIN credential per user.
type PostgresCredentialRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresCredentialRepository creates a repository over db.
func NewPostgresCredentialRepository(db *sql.DB) *PostgresCredentialRepository {
	return &PostgresCredentialRepository{DB: db}
}

// GetCredential fetches the credential of userID.
// It returns ErrCredentialNotFound when none exists.
func (r *PostgresCredentialRepository) GetCredential(ctx context.Context, userID string) (*models.Credential, error) {
	var c models.Credential
	err := r.DB.QueryRowContext(ctx, `
		SELECT user_id, username, salt, salted_hash, last_changed_at
		FROM pin_credentials WHERE user_id = $1
	`, userID).Scan(&c.UserID, &c.Username, &c.Salt, &c.SaltedHash, &c.LastChangedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetCredential: %w", err)
	}
	return &c, nil
}

// UpsertCredential writes c, replacing any previous credential of the
// same user.
func (r *PostgresCredentialRepository) UpsertCredential(ctx context.Context, c models.Credential) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO pin_credentials (user_id, username, salt, salted_hash, last_changed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			username = EXCLUDED.username,
			salt = EXCLUDED.salt,
			salted_hash = EXCLUDED.salted_hash,
			last_changed_at = EXCLUDED.last_changed_at
	`, c.UserID, c.Username, c.Salt, c.SaltedHash, c.LastChangedAt)
	if err != nil {
		return fmt.Errorf("UpsertCredential: %w", err)
	}
	return nil
}
