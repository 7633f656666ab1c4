package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/fedigraph/domain"
	"github.com/google/uuid"
)

const (
	sqlPostColumns = `id, federation_id, author_id, content, summary, visibility, sensitive, attachments, to_uris, cc_uris,
		replies_count, likes_count, shares_count, published_at, created_at, updated_at`

	sqlInsertPost = `INSERT INTO posts(` + sqlPostColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, ?, ?, ?)`
	sqlUpdatePost = `UPDATE posts SET content = ?, summary = ?, visibility = ?, sensitive = ?, attachments = ?, to_uris = ?, cc_uris = ?, updated_at = ? WHERE id = ?`
	sqlDeletePost = `DELETE FROM posts WHERE id = ?`

	sqlSelectPostById          = `SELECT ` + sqlPostColumns + ` FROM posts WHERE id = ?`
	sqlSelectPostsByAuthor     = `SELECT ` + sqlPostColumns + ` FROM posts WHERE author_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	sqlCountPostsByAuthor      = `SELECT COUNT(*) FROM posts WHERE author_id = ?`
	sqlSelectPublishedByAuthor = `SELECT ` + sqlPostColumns + ` FROM posts WHERE author_id = ? AND visibility IN ('public', 'unlisted') ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	sqlCountPublishedByAuthor  = `SELECT COUNT(*) FROM posts WHERE author_id = ? AND visibility IN ('public', 'unlisted')`
	sqlSelectPublicByAuthor    = `SELECT ` + sqlPostColumns + ` FROM posts WHERE author_id = ? AND visibility = 'public' ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	sqlCountPublicByAuthor     = `SELECT COUNT(*) FROM posts WHERE author_id = ? AND visibility = 'public'`

	// Outbox: the actor's public posts and the public posts it shared.
	sqlSelectOutbox = `SELECT kind, post_id, at FROM (
			SELECT 'Create' AS kind, p.id AS post_id, p.created_at AS at, p.rowid AS seq FROM posts p
			WHERE p.author_id = ? AND p.visibility = 'public'
			UNION ALL
			SELECT 'Announce' AS kind, s.post_id AS post_id, s.created_at AS at, s.rowid AS seq FROM post_shares s
			INNER JOIN posts p ON p.id = s.post_id
			WHERE s.actor_id = ? AND p.visibility = 'public'
		) ORDER BY at DESC, seq DESC LIMIT ? OFFSET ?`
	sqlCountOutbox = `SELECT
		(SELECT COUNT(*) FROM posts WHERE author_id = ? AND visibility = 'public') +
		(SELECT COUNT(*) FROM post_shares s INNER JOIN posts p ON p.id = s.post_id WHERE s.actor_id = ? AND p.visibility = 'public')`
)

// OutboxItem is one entry of an actor's outbox: Create for authored posts,
// Announce for shares.
type OutboxItem struct {
	Kind string
	Post *domain.Post
	At   time.Time
}

func marshalPostJSON(p *domain.Post) (attachments, to, cc string, err error) {
	fields := []struct {
		v   any
		dst *string
	}{
		{nonNil(p.Attachments), &attachments},
		{nonNil(p.To), &to},
		{nonNil(p.Cc), &cc},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.v)
		if err != nil {
			return "", "", "", fmt.Errorf("encode post fields: %w", err)
		}
		*f.dst = string(b)
	}
	return attachments, to, cc, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func scanPost(row rowScanner) (*domain.Post, error) {
	var p domain.Post
	var sensitive int
	var attachments, to, cc string
	err := row.Scan(&p.Id, &p.FederationID, &p.AuthorID, &p.Content, &p.Summary, &p.Visibility, &sensitive, &attachments, &to, &cc,
		&p.RepliesCount, &p.LikesCount, &p.SharesCount, scanTime(&p.PublishedAt), scanTime(&p.CreatedAt), scanTime(&p.UpdatedAt))
	if err != nil {
		return nil, err
	}
	p.Sensitive = sensitive == 1
	for _, f := range []struct {
		raw string
		dst any
	}{{attachments, &p.Attachments}, {to, &p.To}, {cc, &p.Cc}} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("decode post %s fields: %w", p.Id, err)
		}
	}
	return &p, nil
}

func (db *DB) CreatePost(ctx context.Context, p *domain.Post) error {
	attachments, to, cc, err := marshalPostJSON(p)
	if err != nil {
		return err
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertPost,
			p.Id, p.FederationID, p.AuthorID, p.Content, p.Summary, p.Visibility, boolInt(p.Sensitive), attachments, to, cc,
			formatTime(p.PublishedAt), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
		return err
	})
}

// UpdatePost writes the mutable fields of p. Counters are left alone.
func (db *DB) UpdatePost(ctx context.Context, p *domain.Post) error {
	attachments, to, cc, err := marshalPostJSON(p)
	if err != nil {
		return err
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlUpdatePost, p.Content, p.Summary, p.Visibility, boolInt(p.Sensitive), attachments, to, cc, formatTime(p.UpdatedAt), p.Id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeletePost removes the post; likes, shares, comments and notifications
// referencing it cascade.
func (db *DB) DeletePost(ctx context.Context, id uuid.UUID) (bool, error) {
	var deleted bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlDeletePost, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		deleted = n == 1
		return err
	})
	return deleted, err
}

// ReadPostById returns the post with its like and share sets, or nil.
func (db *DB) ReadPostById(ctx context.Context, id uuid.UUID) (*domain.Post, error) {
	p, err := scanPost(db.db.QueryRowContext(ctx, sqlSelectPostById, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read post %s: %w", id, err)
	}
	if err := db.loadPostSets(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (db *DB) loadPostSets(ctx context.Context, p *domain.Post) error {
	var err error
	if p.LikedBy, err = db.readMembers(ctx, postLikes, p.Id); err != nil {
		return err
	}
	p.SharedBy, err = db.readMembers(ctx, postShares, p.Id)
	return err
}

// PostScope selects which of an author's posts a listing returns.
type PostScope int

const (
	// ScopeAll lists every post.
	ScopeAll PostScope = iota
	// ScopePublished skips followers-only and direct posts.
	ScopePublished
	// ScopePublic lists public posts only.
	ScopePublic
)

// ReadPostsByAuthor pages through an author's posts in scope, newest first.
func (db *DB) ReadPostsByAuthor(ctx context.Context, authorID uuid.UUID, scope PostScope, page domain.Page) ([]domain.Post, int, error) {
	selectSQL, countSQL := sqlSelectPostsByAuthor, sqlCountPostsByAuthor
	switch scope {
	case ScopePublished:
		selectSQL, countSQL = sqlSelectPublishedByAuthor, sqlCountPublishedByAuthor
	case ScopePublic:
		selectSQL, countSQL = sqlSelectPublicByAuthor, sqlCountPublicByAuthor
	}

	var total int
	if err := db.db.QueryRowContext(ctx, countSQL, authorID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count posts: %w", err)
	}

	rows, err := db.db.QueryContext(ctx, selectSQL, authorID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("read posts: %w", err)
	}
	posts := []domain.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		posts = append(posts, *p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range posts {
		if err := db.loadPostSets(ctx, &posts[i]); err != nil {
			return nil, 0, err
		}
	}
	return posts, total, nil
}

func (db *DB) AddPostLike(ctx context.Context, postID, actorID uuid.UUID, at time.Time) (bool, error) {
	return db.add(ctx, postLikes, postID, actorID, at)
}

func (db *DB) RemovePostLike(ctx context.Context, postID, actorID uuid.UUID) (bool, error) {
	return db.remove(ctx, postLikes, postID, actorID)
}

func (db *DB) AddPostShare(ctx context.Context, postID, actorID uuid.UUID, at time.Time) (bool, error) {
	return db.add(ctx, postShares, postID, actorID, at)
}

func (db *DB) RemovePostShare(ctx context.Context, postID, actorID uuid.UUID) (bool, error) {
	return db.remove(ctx, postShares, postID, actorID)
}

// CountOutbox counts the items ReadOutbox pages over.
func (db *DB) CountOutbox(ctx context.Context, actorID uuid.UUID) (int, error) {
	var n int
	if err := db.db.QueryRowContext(ctx, sqlCountOutbox, actorID, actorID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}

// ReadOutbox returns outbox items newest first.
func (db *DB) ReadOutbox(ctx context.Context, actorID uuid.UUID, limit, offset int) ([]OutboxItem, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectOutbox, actorID, actorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("read outbox: %w", err)
	}
	type ref struct {
		kind   string
		postID uuid.UUID
		at     time.Time
	}
	var refs []ref
	for rows.Next() {
		var r ref
		if err := rows.Scan(&r.kind, &r.postID, scanTime(&r.at)); err != nil {
			rows.Close()
			return nil, err
		}
		refs = append(refs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items := make([]OutboxItem, 0, len(refs))
	for _, r := range refs {
		p, err := db.ReadPostById(ctx, r.postID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		items = append(items, OutboxItem{Kind: r.kind, Post: p, At: r.at})
	}
	return items, nil
}
