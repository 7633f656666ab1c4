package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// membership describes a set stored as a join table whose size is cached
// in a counter column on the owning row.
type membership struct {
	name      string
	exists    string
	insert    string
	remove    string
	increment string
	decrement string
	members   string
}

const (
	sqlPostExists    = `SELECT 1 FROM posts WHERE id = ?`
	sqlCommentExists = `SELECT 1 FROM comments WHERE id = ?`
)

var (
	postLikes = membership{
		name:      "post like",
		exists:    sqlPostExists,
		insert:    `INSERT INTO post_likes(post_id, actor_id, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		remove:    `DELETE FROM post_likes WHERE post_id = ? AND actor_id = ?`,
		increment: `UPDATE posts SET likes_count = likes_count + 1 WHERE id = ?`,
		decrement: `UPDATE posts SET likes_count = likes_count - 1 WHERE id = ? AND likes_count > 0`,
		members:   `SELECT actor_id FROM post_likes WHERE post_id = ? ORDER BY created_at, rowid`,
	}
	postShares = membership{
		name:      "post share",
		exists:    sqlPostExists,
		insert:    `INSERT INTO post_shares(post_id, actor_id, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		remove:    `DELETE FROM post_shares WHERE post_id = ? AND actor_id = ?`,
		increment: `UPDATE posts SET shares_count = shares_count + 1 WHERE id = ?`,
		decrement: `UPDATE posts SET shares_count = shares_count - 1 WHERE id = ? AND shares_count > 0`,
		members:   `SELECT actor_id FROM post_shares WHERE post_id = ? ORDER BY created_at, rowid`,
	}
	commentLikes = membership{
		name:      "comment like",
		exists:    sqlCommentExists,
		insert:    `INSERT INTO comment_likes(comment_id, actor_id, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		remove:    `DELETE FROM comment_likes WHERE comment_id = ? AND actor_id = ?`,
		increment: `UPDATE comments SET likes_count = likes_count + 1 WHERE id = ?`,
		decrement: `UPDATE comments SET likes_count = likes_count - 1 WHERE id = ? AND likes_count > 0`,
		members:   `SELECT actor_id FROM comment_likes WHERE comment_id = ? ORDER BY created_at, rowid`,
	}
)

// add inserts (ownerID, actorID) and bumps the counter only when the row was
// new. Both happen in one transaction, so concurrent duplicates apply once.
func (db *DB) add(ctx context.Context, m membership, ownerID, actorID uuid.UUID, at time.Time) (bool, error) {
	var applied bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		applied = false
		if err := requireRow(ctx, tx, m.exists, ownerID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, m.insert, ownerID, actorID, formatTime(at))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, m.increment, ownerID); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("add %s: %w", m.name, err)
	}
	return applied, nil
}

// remove is the inverse of add; the counter never drops below zero.
func (db *DB) remove(ctx context.Context, m membership, ownerID, actorID uuid.UUID) (bool, error) {
	var applied bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		applied = false
		if err := requireRow(ctx, tx, m.exists, ownerID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, m.remove, ownerID, actorID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, m.decrement, ownerID); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", m.name, err)
	}
	return applied, nil
}

func (db *DB) readMembers(ctx context.Context, m membership, ownerID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := db.db.QueryContext(ctx, m.members, ownerID)
	if err != nil {
		return nil, fmt.Errorf("read %s members: %w", m.name, err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func requireRow(ctx context.Context, tx *sql.Tx, query string, id uuid.UUID) error {
	var one int
	err := tx.QueryRowContext(ctx, query, id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}
