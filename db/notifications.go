package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/fedigraph/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertNotification = `INSERT INTO notifications(id, recipient_id, trigger_actor_id, type, post_id, comment_id, read, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`

	// The read filter is optional: a NULL argument matches both states.
	sqlSelectNotifications = `SELECT n.id, n.recipient_id, n.trigger_actor_id, n.type, n.post_id, n.comment_id, n.read, n.created_at, n.updated_at,
			t.handle, t.full_handle, t.display_name, t.icon_url
		FROM notifications n
		LEFT JOIN actors t ON t.id = n.trigger_actor_id
		WHERE n.recipient_id = ? AND (? IS NULL OR n.read = ?)
		ORDER BY n.created_at DESC, n.rowid DESC
		LIMIT ? OFFSET ?`
	sqlCountNotifications = `SELECT COUNT(*) FROM notifications n WHERE n.recipient_id = ? AND (? IS NULL OR n.read = ?)`

	sqlCountUnreadNotifications = `SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND read = 0`
	sqlMarkAllNotificationsRead = `UPDATE notifications SET read = 1, updated_at = ? WHERE recipient_id = ? AND read = 0`
	sqlMarkNotificationsRead    = `UPDATE notifications SET read = 1, updated_at = ? WHERE recipient_id = ? AND read = 0 AND id IN (%s)`
)

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

func (db *DB) CreateNotification(ctx context.Context, n *domain.Notification) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertNotification,
			n.Id, n.RecipientID, nullUUID(n.TriggerActorID), n.Type, nullUUID(n.PostID), nullUUID(n.CommentID),
			formatTime(n.CreatedAt), formatTime(n.UpdatedAt))
		return err
	})
}

func readFilter(read *bool) any {
	if read == nil {
		return nil
	}
	return boolInt(*read)
}

// ReadNotifications pages through a recipient's notifications, newest first,
// each carrying a snapshot of the triggering actor.
func (db *DB) ReadNotifications(ctx context.Context, recipientID uuid.UUID, read *bool, page domain.Page) ([]domain.NotificationView, int, error) {
	filter := readFilter(read)

	var total int
	if err := db.db.QueryRowContext(ctx, sqlCountNotifications, recipientID, filter, filter).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := db.db.QueryContext(ctx, sqlSelectNotifications, recipientID, filter, filter, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("read notifications: %w", err)
	}
	defer rows.Close()

	views := []domain.NotificationView{}
	for rows.Next() {
		var v domain.NotificationView
		var trigger, post, comment uuid.NullUUID
		var isRead int
		var handle, fullHandle, displayName, iconURL sql.NullString
		err := rows.Scan(&v.Id, &v.RecipientID, &trigger, &v.Type, &post, &comment, &isRead, scanTime(&v.CreatedAt), scanTime(&v.UpdatedAt),
			&handle, &fullHandle, &displayName, &iconURL)
		if err != nil {
			return nil, 0, fmt.Errorf("scan notification: %w", err)
		}
		v.Read = isRead == 1
		v.TriggerActorID = uuidPtr(trigger)
		v.PostID = uuidPtr(post)
		v.CommentID = uuidPtr(comment)
		if handle.Valid {
			v.Actor = &domain.ActorSnapshot{
				Handle:      handle.String,
				FullHandle:  fullHandle.String,
				DisplayName: displayName.String,
				IconURL:     iconURL.String,
			}
		}
		views = append(views, v)
	}
	return views, total, rows.Err()
}

func uuidPtr(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

func (db *DB) CountUnreadNotifications(ctx context.Context, recipientID uuid.UUID) (int, error) {
	var n int
	if err := db.db.QueryRowContext(ctx, sqlCountUnreadNotifications, recipientID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

// MarkNotificationsRead marks the given notifications read. Ids belonging to
// other recipients are ignored.
func (db *DB) MarkNotificationsRead(ctx context.Context, recipientID uuid.UUID, ids []uuid.UUID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+2)
	args = append(args, formatTime(at), recipientID)
	for _, id := range ids {
		args = append(args, id)
	}

	var updated int64
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, fmt.Sprintf(sqlMarkNotificationsRead, placeholders), args...)
		if err != nil {
			return err
		}
		updated, err = res.RowsAffected()
		return err
	})
	return updated, err
}

func (db *DB) MarkAllNotificationsRead(ctx context.Context, recipientID uuid.UUID, at time.Time) (int64, error) {
	var updated int64
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlMarkAllNotificationsRead, formatTime(at), recipientID)
		if err != nil {
			return err
		}
		updated, err = res.RowsAffected()
		return err
	})
	return updated, err
}
