package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/fedigraph/domain"
	"github.com/google/uuid"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// setupTestDB opens a fresh file-backed database; in-memory sqlite would give
// every pooled connection its own empty database.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// createTestActor inserts a local actor directly.
func createTestActor(t *testing.T, db *DB, handle string) *domain.Actor {
	t.Helper()
	fid := "https://example.com/users/" + handle
	a := &domain.Actor{
		Id:           uuid.New(),
		FederationID: fid,
		Handle:       handle,
		FullHandle:   handle + "@example.com",
		InboxURI:     fid + "/inbox",
		OutboxURI:    fid + "/outbox",
		PublicKey:    domain.PublicKey{ID: fid + "#main-key", PublicKeyPem: "pem"},
		Host:         "example.com",
		CreatedAt:    testTime,
		UpdatedAt:    testTime,
	}
	if err := db.CreateActor(context.Background(), a); err != nil {
		t.Fatalf("Failed to create test actor: %v", err)
	}
	return a
}

func createTestPost(t *testing.T, db *DB, author *domain.Actor, visibility domain.Visibility, at time.Time) *domain.Post {
	t.Helper()
	id := uuid.New()
	p := &domain.Post{
		Id:           id,
		FederationID: "https://example.com/posts/" + id.String(),
		AuthorID:     author.Id,
		Content:      "hello",
		Visibility:   visibility,
		To:           []string{"https://www.w3.org/ns/activitystreams#Public"},
		Cc:           []string{author.FederationID + "/followers"},
		PublishedAt:  at,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	if err := db.CreatePost(context.Background(), p); err != nil {
		t.Fatalf("Failed to create test post: %v", err)
	}
	return p
}

func TestCreateAndReadActor(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	alice := createTestActor(t, db, "alice")

	byId, err := db.ReadActorById(ctx, alice.Id)
	if err != nil {
		t.Fatalf("ReadActorById failed: %v", err)
	}
	if byId == nil || byId.Handle != "alice" {
		t.Fatalf("Expected alice, got %+v", byId)
	}
	if !byId.CreatedAt.Equal(testTime) {
		t.Errorf("Expected CreatedAt %s, got %s", testTime, byId.CreatedAt)
	}
	if byId.PublicKey.Owner != alice.FederationID {
		t.Errorf("Expected key owner %s, got %s", alice.FederationID, byId.PublicKey.Owner)
	}
	if len(byId.Following) != 0 {
		t.Errorf("Expected no followees, got %v", byId.Following)
	}

	byHandle, err := db.ReadLocalActorByHandle(ctx, "alice")
	if err != nil || byHandle == nil || byHandle.Id != alice.Id {
		t.Errorf("ReadLocalActorByHandle = %+v, %v", byHandle, err)
	}

	byFid, err := db.ReadActorByFederationID(ctx, alice.FederationID)
	if err != nil || byFid == nil || byFid.Id != alice.Id {
		t.Errorf("ReadActorByFederationID = %+v, %v", byFid, err)
	}

	byKey, err := db.ReadActorByKeyID(ctx, alice.PublicKey.ID)
	if err != nil || byKey == nil || byKey.Id != alice.Id {
		t.Errorf("ReadActorByKeyID = %+v, %v", byKey, err)
	}
}

func TestReadActorNotFound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	acc, err := db.ReadActorById(ctx, uuid.New())
	if err != nil {
		t.Fatalf("Expected no error for missing actor, got %v", err)
	}
	if acc != nil {
		t.Error("Expected nil actor")
	}

	acc, err = db.ReadLocalActorByHandle(ctx, "nobody")
	if err != nil || acc != nil {
		t.Errorf("Expected (nil, nil), got (%v, %v)", acc, err)
	}
}

func TestCreateActorDuplicates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	alice := createTestActor(t, db, "alice")

	dup := *alice
	dup.Id = uuid.New()
	err := db.CreateActor(ctx, &dup)
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate for duplicate handle, got %v", err)
	}

	withEmail := func(handle, email string) error {
		a := *alice
		a.Id = uuid.New()
		a.Handle = handle
		a.FullHandle = handle + "@example.com"
		a.FederationID = "https://example.com/users/" + handle
		a.Email = email
		return db.CreateActor(ctx, &a)
	}
	if err := withEmail("bob", "shared@example.com"); err != nil {
		t.Fatalf("Creating bob failed: %v", err)
	}
	if err := withEmail("carol", "shared@example.com"); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate for duplicate email, got %v", err)
	}
	// Empty emails are stored as NULL and never collide.
	if err := withEmail("dave", ""); err != nil {
		t.Errorf("Empty email should not collide: %v", err)
	}
}

func TestUpsertRemoteActor(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	remote := &domain.Actor{
		Id:           uuid.New(),
		FederationID: "https://remote.example/users/zoe",
		Handle:       "zoe",
		FullHandle:   "zoe@remote.example",
		DisplayName:  "Zoe",
		InboxURI:     "https://remote.example/users/zoe/inbox",
		PublicKey:    domain.PublicKey{ID: "https://remote.example/users/zoe#main-key", PublicKeyPem: "pem1"},
		Host:         "remote.example",
		CreatedAt:    testTime,
		UpdatedAt:    testTime,
	}
	stored, err := db.UpsertRemoteActor(ctx, remote)
	if err != nil {
		t.Fatalf("UpsertRemoteActor failed: %v", err)
	}
	if !stored.Remote {
		t.Error("Expected Remote flag")
	}

	refreshed := *remote
	refreshed.Id = uuid.New()
	refreshed.DisplayName = "Zoe Z"
	refreshed.PublicKey.PublicKeyPem = "pem2"
	stored2, err := db.UpsertRemoteActor(ctx, &refreshed)
	if err != nil {
		t.Fatalf("Second UpsertRemoteActor failed: %v", err)
	}
	if stored2.Id != stored.Id {
		t.Error("Upsert should keep the original id")
	}
	if stored2.DisplayName != "Zoe Z" || stored2.PublicKey.PublicKeyPem != "pem2" {
		t.Errorf("Upsert did not refresh fields: %+v", stored2)
	}

	// A remote actor may share a handle with a local one.
	createTestActor(t, db, "zoe")
	local, _ := db.ReadLocalActorByHandle(ctx, "zoe")
	if local == nil || local.Remote {
		t.Error("Expected the local zoe to be found by handle")
	}
}

func TestFollowIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	alice := createTestActor(t, db, "alice")
	bob := createTestActor(t, db, "bob")

	applied, err := db.CreateFollow(ctx, alice.Id, bob.FederationID, testTime)
	if err != nil || !applied {
		t.Fatalf("First follow = %v, %v", applied, err)
	}
	applied, err = db.CreateFollow(ctx, alice.Id, bob.FederationID, testTime)
	if err != nil || applied {
		t.Fatalf("Second follow = %v, %v; want false, nil", applied, err)
	}

	reloaded, _ := db.ReadActorById(ctx, alice.Id)
	if len(reloaded.Following) != 1 || reloaded.Following[0] != bob.FederationID {
		t.Errorf("Expected alice to follow bob once, got %v", reloaded.Following)
	}

	followers, err := db.ReadFollowerURIs(ctx, bob.FederationID)
	if err != nil || len(followers) != 1 || followers[0] != alice.FederationID {
		t.Errorf("ReadFollowerURIs = %v, %v", followers, err)
	}
	if n, _ := db.CountFollowers(ctx, bob.FederationID); n != 1 {
		t.Errorf("Expected 1 follower, got %d", n)
	}
	if n, _ := db.CountFollowing(ctx, alice.Id); n != 1 {
		t.Errorf("Expected 1 following, got %d", n)
	}

	removed, err := db.DeleteFollow(ctx, alice.Id, bob.FederationID)
	if err != nil || !removed {
		t.Fatalf("DeleteFollow = %v, %v", removed, err)
	}
	removed, err = db.DeleteFollow(ctx, alice.Id, bob.FederationID)
	if err != nil || removed {
		t.Errorf("Second DeleteFollow = %v, %v; want false, nil", removed, err)
	}
}

func TestPostRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	alice := createTestActor(t, db, "alice")
	post := createTestPost(t, db, alice, domain.VisibilityPublic, testTime)

	got, err := db.ReadPostById(ctx, post.Id)
	if err != nil || got == nil {
		t.Fatalf("ReadPostById = %v, %v", got, err)
	}
	if len(got.To) != 1 || len(got.Cc) != 1 {
		t.Errorf("Expected to/cc to round trip, got %v / %v", got.To, got.Cc)
	}
	if got.Attachments == nil || len(got.Attachments) != 0 {
		t.Errorf("Expected empty attachments, got %v", got.Attachments)
	}
	if len(got.LikedBy) != 0 || len(got.SharedBy) != 0 {
		t.Error("New post should have empty sets")
	}

	got.Content = "edited"
	got.Visibility = domain.VisibilityDirect
	got.To, got.Cc = nil, nil
	got.Attachments = []domain.Attachment{{URL: "https://example.com/a.png", MediaKind: "image", MIMEType: "image/png"}}
	if err := db.UpdatePost(ctx, got); err != nil {
		t.Fatalf("UpdatePost failed: %v", err)
	}
	updated, _ := db.ReadPostById(ctx, post.Id)
	if updated.Content != "edited" || updated.Visibility != domain.VisibilityDirect {
		t.Errorf("Update not persisted: %+v", updated)
	}
	if len(updated.To) != 0 || len(updated.Attachments) != 1 {
		t.Errorf("Expected cleared to and one attachment, got %v / %v", updated.To, updated.Attachments)
	}

	missing := *got
	missing.Id = uuid.New()
	if err := db.UpdatePost(ctx, &missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound updating missing post, got %v", err)
	}

	deleted, err := db.DeletePost(ctx, post.Id)
	if err != nil || !deleted {
		t.Fatalf("DeletePost = %v, %v", deleted, err)
	}
	if p, _ := db.ReadPostById(ctx, post.Id); p != nil {
		t.Error("Expected post to be gone")
	}
}

func TestPostLikeMembership(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	alice := createTestActor(t, db, "alice")
	bob := createTestActor(t, db, "bob")
	post := createTestPost(t, db, alice, domain.VisibilityPublic, testTime)

	tests := []struct {
		name      string
		op        func() (bool, error)
		applied   bool
		wantCount int
	}{
		{"unlike before like is a no-op", func() (bool, error) { return db.RemovePostLike(ctx, post.Id, bob.Id) }, false, 0},
		{"like", func() (bool, error) { return db.AddPostLike(ctx, post.Id, bob.Id, testTime) }, true, 1},
		{"like again", func() (bool, error) { return db.AddPostLike(ctx, post.Id, bob.Id, testTime) }, false, 1},
		{"like by author", func() (bool, error) { return db.AddPostLike(ctx, post.Id, alice.Id, testTime) }, true, 2},
		{"unlike", func() (bool, error) { return db.RemovePostLike(ctx, post.Id, bob.Id) }, true, 1},
		{"unlike again", func() (bool, error) { return db.RemovePostLike(ctx, post.Id, bob.Id) }, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applied, err := tt.op()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if applied != tt.applied {
				t.Errorf("applied = %v, want %v", applied, tt.applied)
			}
			p, _ := db.ReadPostById(ctx, post.Id)
			if p.LikesCount != tt.wantCount || len(p.LikedBy) != tt.wantCount {
				t.Errorf("LikesCount = %d, LikedBy = %v, want %d", p.LikesCount, p.LikedBy, tt.wantCount)
			}
		})
	}

	if _, err := db.AddPostLike(ctx, uuid.New(), bob.Id, testTime); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound liking a missing post, got %v", err)
	}
}

func TestConcurrentLikesApplyOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	alice := createTestActor(t, db, "alice")
	bob := createTestActor(t, db, "bob")
	post := createTestPost(t, db, alice, domain.VisibilityPublic, testTime)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]bool, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = db.AddPostLike(ctx, post.Id, bob.Id, testTime)
		}(i)
	}
	wg.Wait()

	appliedCount := 0
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("worker %d failed: %v", i, errs[i])
		}
		if results[i] {
			appliedCount++
		}
	}
	if appliedCount != 1 {
		t.Errorf("Expected exactly one applied like, got %d", appliedCount)
	}
	p, _ := db.ReadPostById(ctx, post.Id)
	if p.LikesCount != 1 {
		t.Errorf("Expected LikesCount 1, got %d", p.LikesCount)
	}
}

func TestCommentRepliesCount(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	alice := createTestActor(t, db, "alice")
	bob := createTestActor(t, db, "bob")
	post := createTestPost(t, db, alice, domain.VisibilityPublic, testTime)

	comment := &domain.Comment{Id: uuid.New(), PostID: post.Id, AuthorID: bob.Id, Content: "nice", CreatedAt: testTime, UpdatedAt: testTime}
	if err := db.CreateComment(ctx, comment); err != nil {
		t.Fatalf("CreateComment failed: %v", err)
	}
	p, _ := db.ReadPostById(ctx, post.Id)
	if p.RepliesCount != 1 {
		t.Errorf("Expected RepliesCount 1, got %d", p.RepliesCount)
	}

	orphan := &domain.Comment{Id: uuid.New(), PostID: uuid.New(), AuthorID: bob.Id, Content: "x", CreatedAt: testTime, UpdatedAt: testTime}
	if err := db.CreateComment(ctx, orphan); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing post, got %v", err)
	}

	liked, err := db.AddCommentLike(ctx, comment.Id, alice.Id, testTime)
	if err != nil || !liked {
		t.Fatalf("AddCommentLike = %v, %v", liked, err)
	}
	c, _ := db.ReadCommentById(ctx, comment.Id)
	if c.LikesCount != 1 || len(c.LikedBy) != 1 {
		t.Errorf("Expected one comment like, got %d / %v", c.LikesCount, c.LikedBy)
	}

	comments, total, err := db.ReadCommentsByPost(ctx, post.Id, domain.Page{Limit: 10})
	if err != nil || total != 1 || len(comments) != 1 {
		t.Fatalf("ReadCommentsByPost = %v, %d, %v", comments, total, err)
	}

	if err := db.DeleteComment(ctx, comment.Id, alice.Id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting someone else's comment, got %v", err)
	}
	if err := db.DeleteComment(ctx, comment.Id, bob.Id); err != nil {
		t.Fatalf("DeleteComment failed: %v", err)
	}
	p, _ = db.ReadPostById(ctx, post.Id)
	if p.RepliesCount != 0 {
		t.Errorf("Expected RepliesCount 0 after delete, got %d", p.RepliesCount)
	}
}

func TestNotifications(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	alice := createTestActor(t, db, "alice")
	bob := createTestActor(t, db, "bob")

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		at := testTime.Add(time.Duration(i) * time.Minute)
		n := &domain.Notification{Id: uuid.New(), RecipientID: alice.Id, TriggerActorID: &bob.Id, Type: domain.NotificationFollow, CreatedAt: at, UpdatedAt: at}
		if err := db.CreateNotification(ctx, n); err != nil {
			t.Fatalf("CreateNotification failed: %v", err)
		}
		ids = append(ids, n.Id)
	}

	views, total, err := db.ReadNotifications(ctx, alice.Id, nil, domain.Page{Limit: 2})
	if err != nil {
		t.Fatalf("ReadNotifications failed: %v", err)
	}
	if total != 3 || len(views) != 2 {
		t.Fatalf("Expected 2 of 3, got %d of %d", len(views), total)
	}
	if views[0].Id != ids[2] {
		t.Error("Expected newest first")
	}
	if views[0].Actor == nil || views[0].Actor.Handle != "bob" {
		t.Errorf("Expected bob snapshot, got %+v", views[0].Actor)
	}

	// Bob cannot mark Alice's notifications.
	if n, _ := db.MarkNotificationsRead(ctx, bob.Id, ids, testTime); n != 0 {
		t.Errorf("Expected 0 rows for foreign recipient, got %d", n)
	}
	if n, _ := db.MarkNotificationsRead(ctx, alice.Id, ids[:1], testTime); n != 1 {
		t.Errorf("Expected 1 row marked, got %d", n)
	}
	if n, _ := db.CountUnreadNotifications(ctx, alice.Id); n != 2 {
		t.Errorf("Expected 2 unread, got %d", n)
	}

	read := true
	readViews, readTotal, _ := db.ReadNotifications(ctx, alice.Id, &read, domain.Page{Limit: 10})
	if readTotal != 1 || len(readViews) != 1 || !readViews[0].Read {
		t.Errorf("Expected one read notification, got %d", readTotal)
	}

	if n, _ := db.MarkAllNotificationsRead(ctx, alice.Id, testTime); n != 2 {
		t.Errorf("Expected 2 rows marked, got %d", n)
	}
	if n, _ := db.CountUnreadNotifications(ctx, alice.Id); n != 0 {
		t.Errorf("Expected 0 unread, got %d", n)
	}
}

func TestSelfNotificationRejected(t *testing.T) {
	db := setupTestDB(t)
	alice := createTestActor(t, db, "alice")
	n := &domain.Notification{Id: uuid.New(), RecipientID: alice.Id, TriggerActorID: &alice.Id, Type: domain.NotificationLike, CreatedAt: testTime, UpdatedAt: testTime}
	if err := db.CreateNotification(context.Background(), n); err == nil {
		t.Error("Expected the store to reject a self notification")
	}
}

func TestOutboxOrdering(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	alice := createTestActor(t, db, "alice")
	bob := createTestActor(t, db, "bob")

	first := createTestPost(t, db, alice, domain.VisibilityPublic, testTime)
	createTestPost(t, db, alice, domain.VisibilityFollowers, testTime.Add(time.Minute))
	bobs := createTestPost(t, db, bob, domain.VisibilityPublic, testTime.Add(2*time.Minute))
	if _, err := db.AddPostShare(ctx, bobs.Id, alice.Id, testTime.Add(3*time.Minute)); err != nil {
		t.Fatalf("AddPostShare failed: %v", err)
	}
	last := createTestPost(t, db, alice, domain.VisibilityPublic, testTime.Add(4*time.Minute))

	total, err := db.CountOutbox(ctx, alice.Id)
	if err != nil || total != 3 {
		t.Fatalf("CountOutbox = %d, %v; want 3", total, err)
	}

	items, err := db.ReadOutbox(ctx, alice.Id, 10, 0)
	if err != nil {
		t.Fatalf("ReadOutbox failed: %v", err)
	}
	want := []struct {
		kind string
		id   uuid.UUID
	}{{"Create", last.Id}, {"Announce", bobs.Id}, {"Create", first.Id}}
	if len(items) != len(want) {
		t.Fatalf("Expected %d items, got %d", len(want), len(items))
	}
	for i, w := range want {
		if items[i].Kind != w.kind || items[i].Post.Id != w.id {
			t.Errorf("item %d = %s %s, want %s %s", i, items[i].Kind, items[i].Post.Id, w.kind, w.id)
		}
	}

	paged, _ := db.ReadOutbox(ctx, alice.Id, 1, 1)
	if len(paged) != 1 || paged[0].Kind != "Announce" {
		t.Errorf("Expected the Announce on the second page, got %+v", paged)
	}
}

func TestInboxActivityDuplicate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	alice := createTestActor(t, db, "alice")

	activity := func(activityID string) *domain.InboxActivity {
		return &domain.InboxActivity{Id: uuid.New(), TargetActorID: alice.Id, ActivityID: activityID, Type: "Follow", RawJSON: "{}", CreatedAt: testTime}
	}
	if err := db.CreateInboxActivity(ctx, activity("https://remote.example/1")); err != nil {
		t.Fatalf("CreateInboxActivity failed: %v", err)
	}
	if err := db.CreateInboxActivity(ctx, activity("https://remote.example/1")); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate for repeated activity id, got %v", err)
	}
	// Activities without an id are always stored.
	for i := 0; i < 2; i++ {
		if err := db.CreateInboxActivity(ctx, activity("")); err != nil {
			t.Fatalf("CreateInboxActivity without id failed: %v", err)
		}
	}

	stored, err := db.ReadInboxActivities(ctx, alice.Id, 10)
	if err != nil || len(stored) != 3 {
		t.Fatalf("ReadInboxActivities = %d, %v", len(stored), err)
	}
	if err := db.MarkInboxActivityProcessed(ctx, stored[0].Id); err != nil {
		t.Fatalf("MarkInboxActivityProcessed failed: %v", err)
	}
	stored, _ = db.ReadInboxActivities(ctx, alice.Id, 10)
	processed := 0
	for _, a := range stored {
		if a.Processed {
			processed++
		}
	}
	if processed != 1 {
		t.Errorf("Expected one processed activity, got %d", processed)
	}

	found, err := db.ReadInboxActivityByActivityID(ctx, alice.Id, "https://remote.example/1")
	if err != nil || found == nil || found.Type != "Follow" {
		t.Errorf("ReadInboxActivityByActivityID = %+v, %v", found, err)
	}
	missing, err := db.ReadInboxActivityByActivityID(ctx, alice.Id, "https://remote.example/2")
	if err != nil || missing != nil {
		t.Errorf("Expected nil for unknown activity id, got %+v, %v", missing, err)
	}
}

func TestSearchActors(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	for _, h := range []string{"bobby", "alice", "jimbob", "bob"} {
		createTestActor(t, db, h)
	}

	found, err := db.SearchActors(ctx, "bob", 10)
	if err != nil {
		t.Fatalf("SearchActors failed: %v", err)
	}
	if len(found) != 3 {
		t.Fatalf("Expected 3 matches, got %d", len(found))
	}
	if found[0].Handle != "bob" || found[1].Handle != "bobby" || found[2].Handle != "jimbob" {
		t.Errorf("Expected prefix matches first, got %s, %s, %s", found[0].Handle, found[1].Handle, found[2].Handle)
	}

	// LIKE wildcards in the query are literal.
	found, _ = db.SearchActors(ctx, "%", 10)
	if len(found) != 0 {
		t.Errorf("Expected no match for a literal %%, got %d", len(found))
	}
}

func TestDeleteActorCascade(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	alice := createTestActor(t, db, "alice")
	bob := createTestActor(t, db, "bob")
	post := createTestPost(t, db, alice, domain.VisibilityPublic, testTime)

	mustApply := func(name string, applied bool, err error) {
		if err != nil || !applied {
			t.Fatalf("%s = %v, %v", name, applied, err)
		}
	}
	applied, err := db.AddPostLike(ctx, post.Id, bob.Id, testTime)
	mustApply("like", applied, err)
	applied, err = db.AddPostShare(ctx, post.Id, bob.Id, testTime)
	mustApply("share", applied, err)
	applied, err = db.CreateFollow(ctx, bob.Id, alice.FederationID, testTime)
	mustApply("bob follows alice", applied, err)
	applied, err = db.CreateFollow(ctx, alice.Id, bob.FederationID, testTime)
	mustApply("alice follows bob", applied, err)
	comment := &domain.Comment{Id: uuid.New(), PostID: post.Id, AuthorID: bob.Id, Content: "hi", CreatedAt: testTime, UpdatedAt: testTime}
	if err := db.CreateComment(ctx, comment); err != nil {
		t.Fatalf("CreateComment failed: %v", err)
	}
	n := &domain.Notification{Id: uuid.New(), RecipientID: alice.Id, TriggerActorID: &bob.Id, Type: domain.NotificationLike, PostID: &post.Id, CreatedAt: testTime, UpdatedAt: testTime}
	if err := db.CreateNotification(ctx, n); err != nil {
		t.Fatalf("CreateNotification failed: %v", err)
	}

	if err := db.DeleteActor(ctx, bob.Id, bob.FederationID); err != nil {
		t.Fatalf("DeleteActor failed: %v", err)
	}

	p, _ := db.ReadPostById(ctx, post.Id)
	if p.LikesCount != 0 || p.SharesCount != 0 || p.RepliesCount != 0 {
		t.Errorf("Expected counters reset, got likes=%d shares=%d replies=%d", p.LikesCount, p.SharesCount, p.RepliesCount)
	}
	a, _ := db.ReadActorById(ctx, alice.Id)
	if len(a.Following) != 0 {
		t.Errorf("Expected alice to follow nobody, got %v", a.Following)
	}
	if followers, _ := db.CountFollowers(ctx, alice.FederationID); followers != 0 {
		t.Errorf("Expected no followers left, got %d", followers)
	}
	if unread, _ := db.CountUnreadNotifications(ctx, alice.Id); unread != 0 {
		t.Errorf("Expected notifications removed, got %d", unread)
	}

	if err := db.DeleteActor(ctx, bob.Id, bob.FederationID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestTimeColumnScan(t *testing.T) {
	tests := []struct {
		src  any
		want time.Time
	}{
		{formatTime(testTime), testTime},
		{[]byte(formatTime(testTime)), testTime},
		{testTime.In(time.FixedZone("x", 3600)), testTime},
		{"2024-03-01T12:00:00Z", testTime},
		{nil, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%T", tt.src), func(t *testing.T) {
			var got time.Time
			if err := scanTime(&got).Scan(tt.src); err != nil {
				t.Fatalf("Scan failed: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	var got time.Time
	if err := scanTime(&got).Scan("yesterday"); err == nil {
		t.Error("Expected error for garbage time")
	}
}
