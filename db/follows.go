package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	sqlInsertFollow        = `INSERT INTO follows(follower_id, followee_uri, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`
	sqlDeleteFollow        = `DELETE FROM follows WHERE follower_id = ? AND followee_uri = ?`
	sqlSelectFollowingURIs = `SELECT followee_uri FROM follows WHERE follower_id = ? ORDER BY created_at, rowid`
	sqlSelectFollowerURIs  = `SELECT actors.federation_id FROM follows
		INNER JOIN actors ON actors.id = follows.follower_id
		WHERE follows.followee_uri = ?
		ORDER BY follows.created_at, follows.rowid`
	sqlCountFollowers = `SELECT COUNT(*) FROM follows WHERE followee_uri = ?`
	sqlCountFollowing = `SELECT COUNT(*) FROM follows WHERE follower_id = ?`
)

// CreateFollow adds followerID -> followeeURI. It reports false when the
// edge already existed.
func (db *DB) CreateFollow(ctx context.Context, followerID uuid.UUID, followeeURI string, at time.Time) (bool, error) {
	var applied bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertFollow, followerID, followeeURI, formatTime(at))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		applied = n == 1
		return err
	})
	return applied, err
}

// DeleteFollow removes the edge, reporting false when it did not exist.
func (db *DB) DeleteFollow(ctx context.Context, followerID uuid.UUID, followeeURI string) (bool, error) {
	var applied bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlDeleteFollow, followerID, followeeURI)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		applied = n == 1
		return err
	})
	return applied, err
}

func (db *DB) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReadFollowingURIs returns the federation ids followerID follows.
func (db *DB) ReadFollowingURIs(ctx context.Context, followerID uuid.UUID) ([]string, error) {
	uris, err := db.queryStrings(ctx, sqlSelectFollowingURIs, followerID)
	if err != nil {
		return nil, fmt.Errorf("read following of %s: %w", followerID, err)
	}
	return uris, nil
}

// ReadFollowerURIs returns the federation ids of everyone following followeeURI.
func (db *DB) ReadFollowerURIs(ctx context.Context, followeeURI string) ([]string, error) {
	uris, err := db.queryStrings(ctx, sqlSelectFollowerURIs, followeeURI)
	if err != nil {
		return nil, fmt.Errorf("read followers of %s: %w", followeeURI, err)
	}
	return uris, nil
}

func (db *DB) CountFollowers(ctx context.Context, followeeURI string) (int, error) {
	var n int
	if err := db.db.QueryRowContext(ctx, sqlCountFollowers, followeeURI).Scan(&n); err != nil {
		return 0, fmt.Errorf("count followers: %w", err)
	}
	return n, nil
}

func (db *DB) CountFollowing(ctx context.Context, followerID uuid.UUID) (int, error) {
	var n int
	if err := db.db.QueryRowContext(ctx, sqlCountFollowing, followerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count following: %w", err)
	}
	return n, nil
}
