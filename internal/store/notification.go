package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/fitstack/internal/model"
)

type NotificationStore struct {
	db *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

func scanNotification(scanner interface{ Scan(...any) error }) (*model.Notification, error) {
	var n model.Notification
	var relatedID sql.NullString
	var readAt sql.NullTime
	err := scanner.Scan(
		&n.ID, &n.RecipientID, &n.RecipientRole, &n.Type, &n.Title, &n.Message,
		&relatedID, &readAt, &n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if relatedID.Valid {
		n.RelatedID = &relatedID.String
	}
	if readAt.Valid {
		n.ReadAt = &readAt.Time
	}
	return &n, nil
}

const notificationCols = `id, recipient_id, recipient_role, type, title, message, related_id, read_at, created_at`

func (s *NotificationStore) Create(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	var relatedID any
	if n.RelatedID != nil {
		relatedID = *n.RelatedID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, recipient_id, recipient_role, type, title, message, related_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.RecipientID, n.RecipientRole, n.Type, n.Title, n.Message, relatedID, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+notificationCols+` FROM notifications WHERE id = ?`, n.ID)
	created, err := scanNotification(row)
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return created, nil
}

func (s *NotificationStore) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	query := `SELECT ` + notificationCols + ` FROM notifications WHERE recipient_id = ?`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var list []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		list = append(list, *n)
	}
	return list, rows.Err()
}

// MarkRead marks the recipient's own notification read. It reports false when
// the notification does not exist for that recipient.
func (s *NotificationStore) MarkRead(ctx context.Context, id, recipientID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = COALESCE(read_at, ?) WHERE id = ? AND recipient_id = ?`,
		time.Now().UTC(), id, recipientID,
	)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
