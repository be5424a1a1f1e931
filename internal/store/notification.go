package store

import (
	"database/sql"
	"fmt"

	"github.com/komunitas/loyalty-server/internal/model"
)

type NotificationStore struct {
	db *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

func scanNotification(scanner interface{ Scan(...any) error }) (*model.Notification, error) {
	var n model.Notification
	var isRead int

	err := scanner.Scan(&n.ID, &n.MemberID, &n.Message, &n.LinkURL, &isRead, &n.CreatedAt)
	if err != nil {
		return nil, err
	}

	n.IsRead = isRead != 0
	return &n, nil
}

const notificationCols = `id, member_id, message, link_url, is_read, created_at`

func (s *NotificationStore) Create(memberID int64, message, linkURL string) (*model.Notification, error) {
	result, err := s.db.Exec(
		`INSERT INTO notifications (member_id, message, link_url) VALUES (?, ?, ?)`,
		memberID, message, linkURL,
	)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *NotificationStore) GetByID(id int64) (*model.Notification, error) {
	row := s.db.QueryRow(`SELECT `+notificationCols+` FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// ListByMember returns the member's notifications newest first.
func (s *NotificationStore) ListByMember(memberID int64, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+notificationCols+` FROM notifications WHERE member_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		memberID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, *n)
	}
	return notifications, rows.Err()
}

func (s *NotificationStore) UnreadCount(memberID int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM notifications WHERE member_id = ? AND is_read = 0`, memberID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}

// MarkRead flags one notification read, scoped to the owning member so a
// member cannot mark another member's notification.
func (s *NotificationStore) MarkRead(id, memberID int64) error {
	_, err := s.db.Exec(
		`UPDATE notifications SET is_read = 1 WHERE id = ? AND member_id = ?`,
		id, memberID,
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

func (s *NotificationStore) MarkAllRead(memberID int64) error {
	_, err := s.db.Exec(`UPDATE notifications SET is_read = 1 WHERE member_id = ?`, memberID)
	if err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}
