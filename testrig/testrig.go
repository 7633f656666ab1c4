// Package testrig wires a complete, file-backed service graph for tests.
package testrig

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/fedigraph/actors"
	"github.com/deemkeen/fedigraph/comments"
	"github.com/deemkeen/fedigraph/db"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/notifications"
	"github.com/deemkeen/fedigraph/posts"
	"github.com/deemkeen/fedigraph/util"
)

const (
	Domain     = "example.com"
	Credential = "correct horse battery staple"
)

var Start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	keyOnce sync.Once
	keyPair *util.RsaKeyPair
	keyErr  error
)

// KeyGenerator hands out one keypair generated on first use, so tests don't
// pay for RSA generation per actor.
func KeyGenerator() (*util.RsaKeyPair, error) {
	keyOnce.Do(func() {
		keyPair, keyErr = util.GeneratePemKeypair()
	})
	return keyPair, keyErr
}

// plainHasher skips bcrypt's work factor.
type plainHasher struct{}

func (plainHasher) Hash(credential string) (string, error) { return "plain:" + credential, nil }
func (plainHasher) Compare(hash, credential string) bool  { return hash == "plain:"+credential }

func NewTestDB(t testing.TB) *db.DB {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Services is the full graph, built in dependency order.
type Services struct {
	DB        *db.DB
	Clock     *util.FakeClock
	Fanout    *notifications.Fanout
	Directory *actors.Directory
	Posts     *posts.Graph
	Comments  *comments.Graph
}

func NewServices(t testing.TB) *Services {
	t.Helper()
	store := NewTestDB(t)
	clock := util.NewFakeClock(Start)

	fanout := notifications.NewFanout(store, nil, clock)
	directory := actors.NewDirectory(store, KeyGenerator, plainHasher{}, fanout, actors.Options{Domain: Domain, Clock: clock})
	postGraph := posts.NewGraph(store, directory, fanout, posts.Options{Domain: Domain, Clock: clock})
	commentGraph := comments.NewGraph(store, postGraph, directory, fanout, comments.Options{Clock: clock})

	return &Services{
		DB:        store,
		Clock:     clock,
		Fanout:    fanout,
		Directory: directory,
		Posts:     postGraph,
		Comments:  commentGraph,
	}
}

// CreateActor registers a local actor with the shared test credential.
func (s *Services) CreateActor(t testing.TB, handle string) *domain.Actor {
	t.Helper()
	actor, err := s.Directory.CreateLocalActor(context.Background(), actors.CreateActorRequest{Handle: handle, Credential: Credential})
	if err != nil {
		t.Fatalf("create actor %s: %v", handle, err)
	}
	return actor
}

// CreatePost publishes a public post and advances the clock a second so
// ordering is deterministic.
func (s *Services) CreatePost(t testing.TB, author *domain.Actor, content string) *domain.Post {
	t.Helper()
	s.Clock.Advance(time.Second)
	post, err := s.Posts.CreatePost(context.Background(), posts.CreatePostRequest{AuthorID: author.Id, Content: content})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	return post
}

// Notifications returns every notification of recipient, newest first.
func (s *Services) Notifications(t testing.TB, recipient *domain.Actor) []domain.NotificationView {
	t.Helper()
	list, err := s.Fanout.ListForRecipient(context.Background(), recipient.Id, domain.Page{Limit: domain.MaxPageLimit}, nil)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	return list.Items
}
