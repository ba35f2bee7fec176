package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/atinyakov/sessionlock/internal/models"
)

// PostgresAuditRepository persists lock audit events.
type PostgresAuditRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresAuditRepository creates a repository over db.
func NewPostgresAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{DB: db}
}

// InsertEvent appends e to the audit trail.
func (r *PostgresAuditRepository) InsertEvent(ctx context.Context, e models.AuditEvent) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO lock_audit_events (id, user_id, tab_id, kind, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, e.UserID, e.TabID, string(e.Kind), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("InsertEvent: %w", err)
	}
	return nil
}

// ListEvents returns the newest events of userID, at most limit of them.
func (r *PostgresAuditRepository) ListEvents(ctx context.Context, userID string, limit int) ([]models.AuditEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, user_id, tab_id, kind, created_at FROM lock_audit_events
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListEvents: %w", err)
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var (
			e    models.AuditEvent
			kind string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.TabID, &kind, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		e.Kind = models.AuditKind(kind)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListEvents: %w", err)
	}
	return events, nil
}
