package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/fedigraph/domain"
	"github.com/google/uuid"
)

const (
	sqlCommentColumns = `id, post_id, author_id, content, likes_count, created_at, updated_at`

	sqlInsertComment         = `INSERT INTO comments(` + sqlCommentColumns + `) VALUES (?, ?, ?, ?, 0, ?, ?)`
	sqlIncrementReplies      = `UPDATE posts SET replies_count = replies_count + 1 WHERE id = ?`
	sqlDeleteCommentByAuthor = `DELETE FROM comments WHERE id = ? AND author_id = ? RETURNING post_id`
	sqlDecrementReplies      = `UPDATE posts SET replies_count = replies_count - 1 WHERE id = ? AND replies_count > 0`
	sqlSelectCommentById     = `SELECT ` + sqlCommentColumns + ` FROM comments WHERE id = ?`
	sqlSelectCommentsByPost  = `SELECT ` + sqlCommentColumns + ` FROM comments WHERE post_id = ? ORDER BY created_at, rowid LIMIT ? OFFSET ?`
	sqlCountCommentsByPost   = `SELECT COUNT(*) FROM comments WHERE post_id = ?`
)

func scanComment(row rowScanner) (*domain.Comment, error) {
	var c domain.Comment
	err := row.Scan(&c.Id, &c.PostID, &c.AuthorID, &c.Content, &c.LikesCount, scanTime(&c.CreatedAt), scanTime(&c.UpdatedAt))
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateComment inserts c and bumps the post's reply counter in the same
// transaction. ErrNotFound when the post is gone.
func (db *DB) CreateComment(ctx context.Context, c *domain.Comment) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, sqlPostExists, c.PostID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, sqlInsertComment, c.Id, c.PostID, c.AuthorID, c.Content, formatTime(c.CreatedAt), formatTime(c.UpdatedAt)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, sqlIncrementReplies, c.PostID)
		return err
	})
}

// DeleteComment removes the comment only if authorID wrote it, and
// decrements the post's reply counter. ErrNotFound when nothing matched.
func (db *DB) DeleteComment(ctx context.Context, commentID, authorID uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		var postID uuid.UUID
		err := tx.QueryRowContext(ctx, sqlDeleteCommentByAuthor, commentID, authorID).Scan(&postID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, sqlDecrementReplies, postID)
		return err
	})
}

// ReadCommentById returns the comment with its like set, or nil.
func (db *DB) ReadCommentById(ctx context.Context, id uuid.UUID) (*domain.Comment, error) {
	c, err := scanComment(db.db.QueryRowContext(ctx, sqlSelectCommentById, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read comment %s: %w", id, err)
	}
	if c.LikedBy, err = db.readMembers(ctx, commentLikes, c.Id); err != nil {
		return nil, err
	}
	return c, nil
}

// ReadCommentsByPost pages through a post's comments, oldest first.
func (db *DB) ReadCommentsByPost(ctx context.Context, postID uuid.UUID, page domain.Page) ([]domain.Comment, int, error) {
	var total int
	if err := db.db.QueryRowContext(ctx, sqlCountCommentsByPost, postID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count comments: %w", err)
	}

	rows, err := db.db.QueryContext(ctx, sqlSelectCommentsByPost, postID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("read comments: %w", err)
	}
	comments := []domain.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		comments = append(comments, *c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range comments {
		if comments[i].LikedBy, err = db.readMembers(ctx, commentLikes, comments[i].Id); err != nil {
			return nil, 0, err
		}
	}
	return comments, total, nil
}

func (db *DB) AddCommentLike(ctx context.Context, commentID, actorID uuid.UUID, at time.Time) (bool, error) {
	return db.add(ctx, commentLikes, commentID, actorID, at)
}

func (db *DB) RemoveCommentLike(ctx context.Context, commentID, actorID uuid.UUID) (bool, error) {
	return db.remove(ctx, commentLikes, commentID, actorID)
}
