package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/deemkeen/fedigraph/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertInboxActivity = `INSERT INTO inbox_activities(id, target_actor_id, activity_id, type, actor_uri, object_uri, raw_json, processed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`
	sqlMarkInboxActivityProcessed = `UPDATE inbox_activities SET processed = 1 WHERE id = ?`
	sqlSelectInboxActivities      = `SELECT id, target_actor_id, activity_id, type, actor_uri, object_uri, raw_json, processed, created_at
		FROM inbox_activities WHERE target_actor_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`
	sqlSelectInboxActivityByActivityID = `SELECT id, target_actor_id, activity_id, type, actor_uri, object_uri, raw_json, processed, created_at
		FROM inbox_activities WHERE target_actor_id = ? AND activity_id = ?`
)

// CreateInboxActivity stores a received activity. A repeated non-empty
// activity id for the same target yields ErrDuplicate.
func (db *DB) CreateInboxActivity(ctx context.Context, a *domain.InboxActivity) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertInboxActivity,
			a.Id, a.TargetActorID, a.ActivityID, a.Type, a.ActorURI, a.ObjectURI, a.RawJSON, formatTime(a.CreatedAt))
		return err
	})
}

func (db *DB) MarkInboxActivityProcessed(ctx context.Context, id uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlMarkInboxActivityProcessed, id)
		return err
	})
}

func scanInboxActivity(row rowScanner) (*domain.InboxActivity, error) {
	var a domain.InboxActivity
	var processed int
	if err := row.Scan(&a.Id, &a.TargetActorID, &a.ActivityID, &a.Type, &a.ActorURI, &a.ObjectURI, &a.RawJSON, &processed, scanTime(&a.CreatedAt)); err != nil {
		return nil, err
	}
	a.Processed = processed == 1
	return &a, nil
}

// ReadInboxActivityByActivityID returns the activity an actor received under
// activityID, or nil.
func (db *DB) ReadInboxActivityByActivityID(ctx context.Context, targetID uuid.UUID, activityID string) (*domain.InboxActivity, error) {
	a, err := scanInboxActivity(db.db.QueryRowContext(ctx, sqlSelectInboxActivityByActivityID, targetID, activityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read inbox activity: %w", err)
	}
	return a, nil
}

// ReadInboxActivities returns the latest activities received for an actor.
func (db *DB) ReadInboxActivities(ctx context.Context, targetID uuid.UUID, limit int) ([]domain.InboxActivity, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectInboxActivities, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("read inbox activities: %w", err)
	}
	defer rows.Close()

	activities := []domain.InboxActivity{}
	for rows.Next() {
		a, err := scanInboxActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inbox activity: %w", err)
		}
		activities = append(activities, *a)
	}
	return activities, rows.Err()
}
