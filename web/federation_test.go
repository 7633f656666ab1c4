package web

import (
	"context"
	"encoding/xml"
	"net/http"
	"strings"
	"testing"

	"github.com/deemkeen/fedigraph/activitypub"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/posts"
)

func TestWebfingerEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.CreateActor(t, "alice")

	w := ts.do(t, request{method: http.MethodGet, path: "/.well-known/webfinger?resource=acct:alice@example.com"})
	expectStatus(t, w, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/jrd+json") {
		t.Errorf("Expected jrd content type, got %q", ct)
	}
	wf := decode[activitypub.Webfinger](t, w)
	if wf.Subject != "acct:alice@example.com" || len(wf.Links) == 0 {
		t.Errorf("Unexpected webfinger %+v", wf)
	}

	expectErrorCode(t, ts.do(t, request{method: http.MethodGet, path: "/.well-known/webfinger"}), http.StatusBadRequest, "VALIDATION_ERROR")
	expectErrorCode(t, ts.do(t, request{method: http.MethodGet, path: "/.well-known/webfinger?resource=acct:alice@elsewhere.example"}), http.StatusNotFound, "NOT_FOUND")
	expectErrorCode(t, ts.do(t, request{method: http.MethodGet, path: "/.well-known/webfinger?resource=acct:nobody@example.com"}), http.StatusNotFound, "NOT_FOUND")
}

func TestActorEndpointNegotiation(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.CreateActor(t, "alice")

	for _, accept := range []string{activitypub.ContentType, `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`} {
		w := ts.do(t, request{method: http.MethodGet, path: "/users/alice", accept: accept})
		expectStatus(t, w, http.StatusOK)
		if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, activitypub.ContentType) {
			t.Errorf("Expected activity content type, got %q", ct)
		}
		body := w.Body.String()
		if !strings.Contains(body, `"preferredUsername":"alice"`) {
			t.Errorf("Expected Person document, got %s", body)
		}
		if strings.Contains(body, "PRIVATE KEY") || strings.Contains(body, "plain:") {
			t.Error("Actor document leaks secrets")
		}
	}

	w := ts.do(t, request{method: http.MethodGet, path: "/users/alice", accept: "text/html"})
	expectStatus(t, w, http.StatusFound)
	if loc := w.Header().Get("Location"); loc != "/u/alice" {
		t.Errorf("Expected redirect to /u/alice, got %q", loc)
	}

	expectErrorCode(t, ts.do(t, request{method: http.MethodGet, path: "/users/nobody", accept: activitypub.ContentType}), http.StatusNotFound, "NOT_FOUND")
}

func TestInboxEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	alice := ts.CreateActor(t, "alice")

	follow := `{"id":"https://remote.example/activities/1","type":"Follow","actor":"https://remote.example/users/zoe","object":"` + alice.FederationID + `"}`
	w := ts.do(t, request{method: http.MethodPost, path: "/users/alice/inbox", body: follow})
	expectStatus(t, w, http.StatusAccepted)

	stored, err := ts.DB.ReadInboxActivities(context.Background(), alice.Id, 10)
	if err != nil {
		t.Fatalf("ReadInboxActivities failed: %v", err)
	}
	if len(stored) != 1 || stored[0].Processed || stored[0].Type != "Follow" {
		t.Errorf("Expected one unprocessed Follow, got %+v", stored)
	}

	// Redelivery is accepted without a second record.
	expectStatus(t, ts.do(t, request{method: http.MethodPost, path: "/users/alice/inbox", body: follow}), http.StatusAccepted)
	if stored, _ := ts.DB.ReadInboxActivities(context.Background(), alice.Id, 10); len(stored) != 1 {
		t.Errorf("Expected duplicate to be ignored, got %d records", len(stored))
	}

	expectErrorCode(t, ts.do(t, request{method: http.MethodPost, path: "/users/alice/inbox", body: `[1,2]`}), http.StatusBadRequest, "VALIDATION_ERROR")
	expectErrorCode(t, ts.do(t, request{method: http.MethodPost, path: "/users/nobody/inbox", body: follow}), http.StatusNotFound, "NOT_FOUND")

	big := `{"type":"Note","content":"` + strings.Repeat("x", maxInboxBodySize) + `"}`
	expectErrorCode(t, ts.do(t, request{method: http.MethodPost, path: "/users/alice/inbox", body: big}), http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE")
}

func TestOutboxAndCollectionEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	alice := ts.CreateActor(t, "alice")
	bob := ts.CreateActor(t, "bob")
	ts.CreatePost(t, alice, "first")
	ts.CreatePost(t, alice, "second")
	if _, err := ts.Directory.Follow(context.Background(), bob.Id, alice.FederationID); err != nil {
		t.Fatalf("Follow failed: %v", err)
	}

	w := ts.do(t, request{method: http.MethodGet, path: "/users/alice/outbox"})
	expectStatus(t, w, http.StatusOK)
	root := decode[map[string]any](t, w)
	if root["type"] != "OrderedCollection" || root["totalItems"] != float64(2) {
		t.Errorf("Unexpected outbox root %v", root)
	}

	w = ts.do(t, request{method: http.MethodGet, path: "/users/alice/outbox?page=1"})
	expectStatus(t, w, http.StatusOK)
	page := decode[activitypub.OrderedCollectionPage](t, w)
	if page.Type != "OrderedCollectionPage" || len(page.OrderedItems) != 2 {
		t.Errorf("Unexpected outbox page %+v", page)
	}

	expectErrorCode(t, ts.do(t, request{method: http.MethodGet, path: "/users/alice/outbox?page=abc"}), http.StatusBadRequest, "VALIDATION_ERROR")
	expectErrorCode(t, ts.do(t, request{method: http.MethodGet, path: "/users/alice/outbox?page=-1"}), http.StatusBadRequest, "VALIDATION_ERROR")

	w = ts.do(t, request{method: http.MethodGet, path: "/users/alice/followers"})
	expectStatus(t, w, http.StatusOK)
	followers := decode[map[string]any](t, w)
	items, _ := followers["orderedItems"].([]any)
	if len(items) != 1 || items[0] != bob.FederationID {
		t.Errorf("Unexpected followers %v", followers)
	}

	w = ts.do(t, request{method: http.MethodGet, path: "/users/alice/following"})
	expectStatus(t, w, http.StatusOK)
	following := decode[map[string]any](t, w)
	if items, ok := following["orderedItems"].([]any); !ok || len(items) != 0 {
		t.Errorf("Expected empty following collection, got %v", following)
	}
}

func TestNoteEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	alice := ts.CreateActor(t, "alice")
	post := ts.CreatePost(t, alice, "hello **world**")

	w := ts.do(t, request{method: http.MethodGet, path: "/posts/" + post.Id.String()})
	expectStatus(t, w, http.StatusOK)
	note := decode[map[string]any](t, w)
	if note["type"] != "Note" || note["id"] != post.FederationID {
		t.Errorf("Unexpected note %v", note)
	}
	if content, _ := note["content"].(string); !strings.Contains(content, "<strong>world</strong>") {
		t.Errorf("Expected rendered content, got %q", content)
	}

	direct, err := ts.Posts.CreatePost(context.Background(), posts.CreatePostRequest{AuthorID: alice.Id, Content: "psst", Visibility: domain.VisibilityDirect})
	if err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}
	expectErrorCode(t, ts.do(t, request{method: http.MethodGet, path: "/posts/" + direct.Id.String()}), http.StatusNotFound, "NOT_FOUND")
	expectErrorCode(t, ts.do(t, request{method: http.MethodGet, path: "/posts/not-a-uuid"}), http.StatusNotFound, "NOT_FOUND")
}

func TestFederationRoutesDisabled(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.conf.Conf.WithAp = false
	ts.router = NewRouter(ts.conf, Services{
		Directory: ts.Directory,
		Posts:     ts.Posts,
		Comments:  ts.Comments,
		Fanout:    ts.Fanout,
		Auth:      ts.auth,
	}, DefaultLimits())
	ts.CreateActor(t, "alice")

	if w := ts.do(t, request{method: http.MethodGet, path: "/.well-known/webfinger?resource=acct:alice@example.com"}); w.Code != http.StatusNotFound {
		t.Errorf("Expected webfinger to be disabled, got %d", w.Code)
	}
	expectStatus(t, ts.do(t, request{method: http.MethodGet, path: "/u/alice"}), http.StatusOK)
}

type rss struct {
	Channel struct {
		Title string `xml:"title"`
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
		} `xml:"item"`
	} `xml:"channel"`
}

func TestFeedEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	alice := ts.CreateActor(t, "alice")
	post := ts.CreatePost(t, alice, "hello *feed*")

	w := ts.do(t, request{method: http.MethodGet, path: "/users/alice/feed"})
	expectStatus(t, w, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/rss+xml") {
		t.Errorf("Expected rss content type, got %q", ct)
	}

	var feed rss
	if err := xml.Unmarshal(w.Body.Bytes(), &feed); err != nil {
		t.Fatalf("Failed to parse feed: %v", err)
	}
	if !strings.Contains(feed.Channel.Title, "alice@example.com") {
		t.Errorf("Unexpected feed title %q", feed.Channel.Title)
	}
	if len(feed.Channel.Items) != 1 || feed.Channel.Items[0].Link != post.FederationID {
		t.Fatalf("Unexpected feed items %+v", feed.Channel.Items)
	}
	if !strings.Contains(feed.Channel.Items[0].Description, "<em>feed</em>") {
		t.Errorf("Expected rendered description, got %q", feed.Channel.Items[0].Description)
	}

	expectErrorCode(t, ts.do(t, request{method: http.MethodGet, path: "/users/nobody/feed"}), http.StatusNotFound, "NOT_FOUND")
}

func TestProfileEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	alice := ts.CreateActor(t, "alice")
	for i := 0; i < postsPerPage+1; i++ {
		ts.CreatePost(t, alice, "post")
	}

	w := ts.do(t, request{method: http.MethodGet, path: "/u/alice"})
	expectStatus(t, w, http.StatusOK)
	profile := decode[ProfileView](t, w)
	if profile.Title != "@alice" || profile.User.ActorURL != alice.FederationID {
		t.Errorf("Unexpected profile header %+v", profile)
	}
	if len(profile.Posts) != postsPerPage || profile.TotalPosts != postsPerPage+1 || !profile.HasNext || profile.HasPrev {
		t.Errorf("Unexpected first page: %d posts of %d, next=%v prev=%v", len(profile.Posts), profile.TotalPosts, profile.HasNext, profile.HasPrev)
	}

	w = ts.do(t, request{method: http.MethodGet, path: "/u/alice?page=2"})
	expectStatus(t, w, http.StatusOK)
	second := decode[ProfileView](t, w)
	if len(second.Posts) != 1 || second.HasNext || !second.HasPrev || second.PrevPage != 1 {
		t.Errorf("Unexpected second page %+v", second)
	}

	expectErrorCode(t, ts.do(t, request{method: http.MethodGet, path: "/u/nobody"}), http.StatusNotFound, "NOT_FOUND")
}

func TestAnonymousViewsListPublicPostsOnly(t *testing.T) {
	ts := newTestServer(t, nil)
	alice := ts.CreateActor(t, "alice")
	public := ts.CreatePost(t, alice, "for everyone")
	for _, v := range []domain.Visibility{domain.VisibilityUnlisted, domain.VisibilityFollowers, domain.VisibilityDirect} {
		_, err := ts.Posts.CreatePost(context.Background(), posts.CreatePostRequest{AuthorID: alice.Id, Content: "not listed", Visibility: v})
		if err != nil {
			t.Fatalf("Failed to create %s post: %v", v, err)
		}
	}

	w := ts.do(t, request{method: http.MethodGet, path: "/u/alice"})
	expectStatus(t, w, http.StatusOK)
	profile := decode[ProfileView](t, w)
	if profile.TotalPosts != 1 || len(profile.Posts) != 1 || profile.Posts[0].Id != public.Id {
		t.Errorf("Expected only the public post on the profile, got %d of %d", len(profile.Posts), profile.TotalPosts)
	}

	w = ts.do(t, request{method: http.MethodGet, path: "/users/alice/feed"})
	expectStatus(t, w, http.StatusOK)
	var feed rss
	if err := xml.Unmarshal(w.Body.Bytes(), &feed); err != nil {
		t.Fatalf("Failed to parse feed: %v", err)
	}
	if len(feed.Channel.Items) != 1 || feed.Channel.Items[0].Link != public.FederationID {
		t.Errorf("Expected only the public post in the feed, got %+v", feed.Channel.Items)
	}
}
