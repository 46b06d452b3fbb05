package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/greenchain/esg-approvals/internal/apperr"
	"github.com/greenchain/esg-approvals/internal/database"
)

// NotificationRepository stores per-recipient workflow notifications. The
// user_id column holds either an individual id or an audience string such as
// "site_approvers"; resolution to individuals happens outside this service.
type NotificationRepository struct {
	q database.Querier
}

// NewNotificationRepository creates a repository bound to a pool or transaction.
func NewNotificationRepository(q database.Querier) *NotificationRepository {
	return &NotificationRepository{q: q}
}

// Insert creates one notification row.
func (r *NotificationRepository) Insert(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications
		    (user_id, title, message, type, workflow_id, read)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := r.q.QueryRow(ctx, query,
		n.UserID,
		n.Title,
		n.Message,
		n.Type,
		n.WorkflowID,
		n.Read,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create notification")
	}
	return nil
}

// ListForUser returns notifications for a recipient newest-first.
func (r *NotificationRepository) ListForUser(ctx context.Context, userID string, unreadOnly bool) ([]*Notification, error) {
	query := `
		SELECT id, user_id, title, message, type, workflow_id, read, created_at
		FROM notifications
		WHERE user_id = $1
		  AND ($2 = false OR read = false)
		ORDER BY created_at DESC
	`

	rows, err := r.q.Query(ctx, query, userID, unreadOnly)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list notifications")
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan notification")
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkRead sets read=true and returns the updated notification. A missing
// notification is a no-op returning (nil, nil).
func (r *NotificationRepository) MarkRead(ctx context.Context, id string) (*Notification, error) {
	query := `
		UPDATE notifications
		SET read = true
		WHERE id = $1
		RETURNING id, user_id, title, message, type, workflow_id, read, created_at
	`

	n, err := scanNotification(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to mark notification read")
	}
	return n, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

func scanNotification(row rowScanner) (*Notification, error) {
	n := &Notification{}
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Title,
		&n.Message,
		&n.Type,
		&n.WorkflowID,
		&n.Read,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return n, nil
}
