package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"
)

const (
	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors (
		id TEXT NOT NULL PRIMARY KEY,
		federation_id TEXT UNIQUE NOT NULL,
		handle TEXT NOT NULL,
		full_handle TEXT UNIQUE NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		email TEXT UNIQUE,
		icon_url TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		inbox_uri TEXT NOT NULL,
		outbox_uri TEXT NOT NULL DEFAULT '',
		followers_uri TEXT NOT NULL DEFAULT '',
		following_uri TEXT NOT NULL DEFAULT '',
		public_key_id TEXT NOT NULL DEFAULT '',
		public_key_pem TEXT NOT NULL DEFAULT '',
		private_key_pem TEXT NOT NULL DEFAULT '',
		remote INTEGER NOT NULL DEFAULT 0,
		host TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`

	sqlCreateActorsIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_actors_local_handle ON actors(handle) WHERE remote = 0;
		CREATE INDEX IF NOT EXISTS idx_actors_display_name ON actors(display_name);
	`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		follower_id TEXT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
		followee_uri TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (follower_id, followee_uri)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_followee_uri ON follows(followee_uri);
	`

	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts (
		id TEXT NOT NULL PRIMARY KEY,
		federation_id TEXT UNIQUE NOT NULL,
		author_id TEXT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL DEFAULT 'public',
		sensitive INTEGER NOT NULL DEFAULT 0,
		attachments TEXT NOT NULL DEFAULT '[]',
		to_uris TEXT NOT NULL DEFAULT '[]',
		cc_uris TEXT NOT NULL DEFAULT '[]',
		replies_count INTEGER NOT NULL DEFAULT 0 CHECK (replies_count >= 0),
		likes_count INTEGER NOT NULL DEFAULT 0 CHECK (likes_count >= 0),
		shares_count INTEGER NOT NULL DEFAULT 0 CHECK (shares_count >= 0),
		published_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`

	sqlCreatePostsIndices = `
		CREATE INDEX IF NOT EXISTS idx_posts_author_id ON posts(author_id, created_at DESC);
	`

	sqlCreatePostLikesTable = `CREATE TABLE IF NOT EXISTS post_likes (
		post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		actor_id TEXT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (post_id, actor_id)
	)`

	sqlCreatePostSharesTable = `CREATE TABLE IF NOT EXISTS post_shares (
		post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		actor_id TEXT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (post_id, actor_id)
	)`

	sqlCreateMembershipIndices = `
		CREATE INDEX IF NOT EXISTS idx_post_likes_actor_id ON post_likes(actor_id);
		CREATE INDEX IF NOT EXISTS idx_post_shares_actor_id ON post_shares(actor_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_comment_likes_actor_id ON comment_likes(actor_id);
	`

	sqlCreateCommentsTable = `CREATE TABLE IF NOT EXISTS comments (
		id TEXT NOT NULL PRIMARY KEY,
		post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		author_id TEXT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		likes_count INTEGER NOT NULL DEFAULT 0 CHECK (likes_count >= 0),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`

	sqlCreateCommentsIndices = `
		CREATE INDEX IF NOT EXISTS idx_comments_post_id ON comments(post_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_comments_author_id ON comments(author_id);
	`

	sqlCreateCommentLikesTable = `CREATE TABLE IF NOT EXISTS comment_likes (
		comment_id TEXT NOT NULL REFERENCES comments(id) ON DELETE CASCADE,
		actor_id TEXT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (comment_id, actor_id)
	)`

	sqlCreateNotificationsTable = `CREATE TABLE IF NOT EXISTS notifications (
		id TEXT NOT NULL PRIMARY KEY,
		recipient_id TEXT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
		trigger_actor_id TEXT REFERENCES actors(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		post_id TEXT REFERENCES posts(id) ON DELETE CASCADE,
		comment_id TEXT REFERENCES comments(id) ON DELETE CASCADE,
		read INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		CHECK (trigger_actor_id IS NULL OR trigger_actor_id != recipient_id)
	)`

	sqlCreateNotificationsIndices = `
		CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, read, created_at DESC);
	`

	sqlCreateInboxTable = `CREATE TABLE IF NOT EXISTS inbox_activities (
		id TEXT NOT NULL PRIMARY KEY,
		target_actor_id TEXT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
		activity_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT '',
		actor_uri TEXT NOT NULL DEFAULT '',
		object_uri TEXT NOT NULL DEFAULT '',
		raw_json TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`

	sqlCreateInboxIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_inbox_activity_id ON inbox_activities(target_actor_id, activity_id) WHERE activity_id != '';
		CREATE INDEX IF NOT EXISTS idx_inbox_processed ON inbox_activities(processed);
	`
)

// RunMigrations creates all tables and indices.
func (db *DB) RunMigrations(ctx context.Context) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		tables := []struct {
			name string
			sql  string
		}{
			{"actors", sqlCreateActorsTable},
			{"follows", sqlCreateFollowsTable},
			{"posts", sqlCreatePostsTable},
			{"post_likes", sqlCreatePostLikesTable},
			{"post_shares", sqlCreatePostSharesTable},
			{"comments", sqlCreateCommentsTable},
			{"comment_likes", sqlCreateCommentLikesTable},
			{"notifications", sqlCreateNotificationsTable},
			{"inbox_activities", sqlCreateInboxTable},
		}
		for _, t := range tables {
			if err := db.createTableIfNotExists(tx, t.sql, t.name); err != nil {
				return err
			}
		}

		indices := []string{
			sqlCreateActorsIndices,
			sqlCreateFollowsIndices,
			sqlCreatePostsIndices,
			sqlCreateMembershipIndices,
			sqlCreateCommentsIndices,
			sqlCreateNotificationsIndices,
			sqlCreateInboxIndices,
		}
		for _, idx := range indices {
			if _, err := tx.ExecContext(ctx, idx); err != nil {
				return fmt.Errorf("create indices: %w", err)
			}
		}
		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	if _, err := tx.Exec(createSQL); err != nil {
		return fmt.Errorf("create table %s: %w", tableName, err)
	}
	log.Debug("table ready", "table", tableName)
	return nil
}
