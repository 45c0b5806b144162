// Package notify persists operator notifications. The boundary monitor uses
// it to raise, refresh and clear allocation warnings.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openfund/accounting/internal/database"
)

// Severity of a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Notification is one persisted operator message.
type Notification struct {
	ID        int64
	Roles     []string
	Severity  Severity
	Title     string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PgSink stores notifications in PostgreSQL.
type PgSink struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPgSink creates a notification sink backed by the given pool.
func NewPgSink(pool *pgxpool.Pool) *PgSink {
	return &PgSink{pool: pool, now: time.Now}
}

// Send creates a notification for the given roles and returns its id.
func (s *PgSink) Send(ctx context.Context, roles []string, severity Severity, title, body string) (int64, error) {
	var id int64
	now := s.now()
	row := database.From(ctx, s.pool).QueryRow(ctx,
		`INSERT INTO notifications (roles, severity, title, body, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5) RETURNING id`,
		roles, severity, title, body, now)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("inserting notification: %w", err)
	}
	return id, nil
}

// Update replaces the title and body of an existing notification in place.
func (s *PgSink) Update(ctx context.Context, id int64, title, body string) error {
	tag, err := database.From(ctx, s.pool).Exec(ctx,
		`UPDATE notifications SET title = $2, body = $3, updated_at = $4 WHERE id = $1`,
		id, title, body, s.now())
	if err != nil {
		return fmt.Errorf("updating notification %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %d not found", id)
	}
	return nil
}

// Delete removes a notification. Deleting an already removed id is a no-op.
func (s *PgSink) Delete(ctx context.Context, id int64) error {
	_, err := database.From(ctx, s.pool).Exec(ctx,
		`DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting notification %d: %w", id, err)
	}
	return nil
}
