package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/deemkeen/fedigraph/domain"
	"github.com/google/uuid"
)

const (
	sqlActorColumns = `id, federation_id, handle, full_handle, display_name, summary, email, icon_url, password_hash,
		inbox_uri, outbox_uri, followers_uri, following_uri, public_key_id, public_key_pem, private_key_pem,
		remote, host, created_at, updated_at`

	sqlInsertActor = `INSERT INTO actors(` + sqlActorColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpsertRemoteActor = `INSERT INTO actors(` + sqlActorColumns + `) VALUES (?, ?, ?, ?, ?, ?, NULL, ?, '', ?, ?, ?, ?, ?, ?, '', 1, ?, ?, ?)
		ON CONFLICT(federation_id) DO UPDATE SET
			display_name = excluded.display_name,
			summary = excluded.summary,
			icon_url = excluded.icon_url,
			inbox_uri = excluded.inbox_uri,
			outbox_uri = excluded.outbox_uri,
			followers_uri = excluded.followers_uri,
			following_uri = excluded.following_uri,
			public_key_id = excluded.public_key_id,
			public_key_pem = excluded.public_key_pem,
			updated_at = excluded.updated_at
		WHERE actors.remote = 1`

	sqlSelectActorById           = `SELECT ` + sqlActorColumns + ` FROM actors WHERE id = ?`
	sqlSelectLocalActorByHandle  = `SELECT ` + sqlActorColumns + ` FROM actors WHERE handle = ? AND remote = 0`
	sqlSelectActorByFederationID = `SELECT ` + sqlActorColumns + ` FROM actors WHERE federation_id = ?`
	sqlSelectActorByEmail        = `SELECT ` + sqlActorColumns + ` FROM actors WHERE email = ?`
	sqlSelectActorByKeyID        = `SELECT ` + sqlActorColumns + ` FROM actors WHERE public_key_id = ?`

	sqlSearchActors = `SELECT ` + sqlActorColumns + ` FROM actors
		WHERE handle LIKE ? ESCAPE '\' OR lower(display_name) LIKE ? ESCAPE '\'
		ORDER BY CASE WHEN handle LIKE ? ESCAPE '\' THEN 0 ELSE 1 END, remote, handle
		LIMIT ?`

	sqlUpdateActorProfile = `UPDATE actors SET display_name = ?, summary = ?, icon_url = ?, updated_at = ? WHERE id = ?`

	sqlCountLocalActors = `SELECT COUNT(*) FROM actors WHERE remote = 0`

	// Actor deletion: counters first, rows after.
	sqlDecrementLikedPosts        = `UPDATE posts SET likes_count = likes_count - 1 WHERE id IN (SELECT post_id FROM post_likes WHERE actor_id = ?) AND likes_count > 0`
	sqlDecrementSharedPosts       = `UPDATE posts SET shares_count = shares_count - 1 WHERE id IN (SELECT post_id FROM post_shares WHERE actor_id = ?) AND shares_count > 0`
	sqlDecrementLikedComments     = `UPDATE comments SET likes_count = likes_count - 1 WHERE id IN (SELECT comment_id FROM comment_likes WHERE actor_id = ?) AND likes_count > 0`
	sqlDecrementCommentedPosts    = `UPDATE posts SET replies_count = MAX(replies_count - (SELECT COUNT(*) FROM comments c WHERE c.post_id = posts.id AND c.author_id = ?), 0) WHERE id IN (SELECT post_id FROM comments WHERE author_id = ?)`
	sqlDeleteFollowsOfActor       = `DELETE FROM follows WHERE follower_id = ? OR followee_uri = ?`
	sqlDeleteNotificationsOfActor = `DELETE FROM notifications WHERE recipient_id = ? OR trigger_actor_id = ?`
	sqlDeleteActor                = `DELETE FROM actors WHERE id = ?`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActor(row rowScanner) (*domain.Actor, error) {
	var a domain.Actor
	var email sql.NullString
	var remote int
	err := row.Scan(&a.Id, &a.FederationID, &a.Handle, &a.FullHandle, &a.DisplayName, &a.Summary, &email, &a.IconURL, &a.PasswordHash,
		&a.InboxURI, &a.OutboxURI, &a.FollowersURI, &a.FollowingURI, &a.PublicKey.ID, &a.PublicKey.PublicKeyPem, &a.PrivateKeyPem,
		&remote, &a.Host, scanTime(&a.CreatedAt), scanTime(&a.UpdatedAt))
	if err != nil {
		return nil, err
	}
	a.Email = email.String
	a.Remote = remote == 1
	a.PublicKey.Owner = a.FederationID
	return &a, nil
}

func (db *DB) CreateActor(ctx context.Context, a *domain.Actor) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertActor,
			a.Id, a.FederationID, a.Handle, a.FullHandle, a.DisplayName, a.Summary, nullString(a.Email), a.IconURL, a.PasswordHash,
			a.InboxURI, a.OutboxURI, a.FollowersURI, a.FollowingURI, a.PublicKey.ID, a.PublicKey.PublicKeyPem, a.PrivateKeyPem,
			boolInt(a.Remote), a.Host, formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
		return err
	})
}

// UpsertRemoteActor inserts or refreshes a cached remote actor keyed by its
// federation id. Local actors are never overwritten.
func (db *DB) UpsertRemoteActor(ctx context.Context, a *domain.Actor) (*domain.Actor, error) {
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertRemoteActor,
			a.Id, a.FederationID, a.Handle, a.FullHandle, a.DisplayName, a.Summary, a.IconURL,
			a.InboxURI, a.OutboxURI, a.FollowersURI, a.FollowingURI, a.PublicKey.ID, a.PublicKey.PublicKeyPem,
			a.Host, formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
		return err
	})
	if err != nil {
		return nil, err
	}
	return db.ReadActorByFederationID(ctx, a.FederationID)
}

func (db *DB) readActor(ctx context.Context, query string, arg any) (*domain.Actor, error) {
	a, err := scanActor(db.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read actor: %w", err)
	}
	following, err := db.ReadFollowingURIs(ctx, a.Id)
	if err != nil {
		return nil, err
	}
	a.Following = following
	return a, nil
}

// ReadActorById returns the actor or nil when it does not exist.
func (db *DB) ReadActorById(ctx context.Context, id uuid.UUID) (*domain.Actor, error) {
	return db.readActor(ctx, sqlSelectActorById, id)
}

// ReadLocalActorByHandle looks up a local actor by its (lowercase) handle.
func (db *DB) ReadLocalActorByHandle(ctx context.Context, handle string) (*domain.Actor, error) {
	return db.readActor(ctx, sqlSelectLocalActorByHandle, handle)
}

func (db *DB) ReadActorByFederationID(ctx context.Context, federationID string) (*domain.Actor, error) {
	return db.readActor(ctx, sqlSelectActorByFederationID, federationID)
}

func (db *DB) ReadActorByEmail(ctx context.Context, email string) (*domain.Actor, error) {
	return db.readActor(ctx, sqlSelectActorByEmail, email)
}

func (db *DB) ReadActorByKeyID(ctx context.Context, keyID string) (*domain.Actor, error) {
	return db.readActor(ctx, sqlSelectActorByKeyID, keyID)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// SearchActors matches query against handles and display names, prefix
// matches on the handle first.
func (db *DB) SearchActors(ctx context.Context, query string, limit int) ([]domain.Actor, error) {
	q := escapeLike(strings.ToLower(query))
	rows, err := db.db.QueryContext(ctx, sqlSearchActors, "%"+q+"%", "%"+q+"%", q+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search actors: %w", err)
	}
	defer rows.Close()

	actors := []domain.Actor{}
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan actor: %w", err)
		}
		actors = append(actors, *a)
	}
	return actors, rows.Err()
}

func (db *DB) UpdateActorProfile(ctx context.Context, a *domain.Actor) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlUpdateActorProfile, a.DisplayName, a.Summary, a.IconURL, formatTime(a.UpdatedAt), a.Id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (db *DB) CountLocalActors(ctx context.Context) (int, error) {
	var n int
	if err := db.db.QueryRowContext(ctx, sqlCountLocalActors).Scan(&n); err != nil {
		return 0, fmt.Errorf("count actors: %w", err)
	}
	return n, nil
}

// DeleteActor removes an actor and everything hanging off it in one
// transaction. Counters on other actors' posts and comments are decremented
// before the membership rows disappear.
func (db *DB) DeleteActor(ctx context.Context, id uuid.UUID, federationID string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		steps := []struct {
			query string
			args  []any
		}{
			{sqlDecrementLikedPosts, []any{id}},
			{sqlDecrementSharedPosts, []any{id}},
			{sqlDecrementLikedComments, []any{id}},
			{sqlDecrementCommentedPosts, []any{id, id}},
			{sqlDeleteFollowsOfActor, []any{id, federationID}},
			{sqlDeleteNotificationsOfActor, []any{id, id}},
		}
		for _, s := range steps {
			if _, err := tx.ExecContext(ctx, s.query, s.args...); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, sqlDeleteActor, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
