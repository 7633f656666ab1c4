// Package activitypub is the federation surface of the server: WebFinger
// discovery, ActivityPub documents for local actors and posts, and inbox
// processing.
package activitypub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/fedigraph/db"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/util"
	"github.com/google/uuid"
)

const (
	ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"
	SecurityContext        = "https://w3id.org/security/v1"

	// ContentType is the media type of every ActivityPub document.
	ContentType = "application/activity+json"

	OutboxPageSize = 20
)

// Directory is the actor lookup and follow graph the gateway serves from.
type Directory interface {
	GetByHandle(ctx context.Context, handle string) (*domain.Actor, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Actor, error)
	GetByFederationID(ctx context.Context, federationID string) (*domain.Actor, error)
	UpsertRemoteActor(ctx context.Context, actor *domain.Actor) (*domain.Actor, error)
	Followers(ctx context.Context, federationID string) ([]string, error)
	Follow(ctx context.Context, followerID uuid.UUID, followeeFederationID string) (bool, error)
	Unfollow(ctx context.Context, followerID uuid.UUID, followeeFederationID string) (bool, error)
}

// Posts is the post graph the gateway serves and mutates.
type Posts interface {
	GetPost(ctx context.Context, id uuid.UUID) (*domain.Post, error)
	Outbox(ctx context.Context, actorID uuid.UUID, limit, offset int) ([]db.OutboxItem, int, error)
	Like(ctx context.Context, postID, actorID uuid.UUID) (*domain.Post, bool, error)
	Unlike(ctx context.Context, postID, actorID uuid.UUID) (*domain.Post, bool, error)
	Share(ctx context.Context, postID, actorID uuid.UUID) (*domain.Post, bool, error)
	Unshare(ctx context.Context, postID, actorID uuid.UUID) (*domain.Post, bool, error)
}

// Store records inbox traffic. Local actors are read with their keys so
// fetches made on their behalf can be signed.
type Store interface {
	ReadLocalActorByHandle(ctx context.Context, handle string) (*domain.Actor, error)
	CreateInboxActivity(ctx context.Context, a *domain.InboxActivity) error
	MarkInboxActivityProcessed(ctx context.Context, id uuid.UUID) error
	ReadInboxActivityByActivityID(ctx context.Context, targetID uuid.UUID, activityID string) (*domain.InboxActivity, error)
}

type Options struct {
	Domain string
	// Resolver defaults to an HTTP Fetcher caching into the directory.
	Resolver ActorResolver
	Clock    util.Clock
}

type Gateway struct {
	directory Directory
	posts     Posts
	store     Store
	resolver  ActorResolver
	handlers  map[string]Handler
	opts      Options
}

func NewGateway(directory Directory, posts Posts, store Store, opts Options) *Gateway {
	if opts.Clock == nil {
		opts.Clock = util.RealClock()
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewFetcher(nil, directory, opts.Clock)
	}
	g := &Gateway{
		directory: directory,
		posts:     posts,
		store:     store,
		resolver:  resolver,
		opts:      opts,
	}
	g.handlers = map[string]Handler{
		"Follow":   g.handleFollow,
		"Like":     g.handleLike,
		"Announce": g.handleAnnounce,
		"Undo":     g.handleUndo,
	}
	return g
}

type WebfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

type Webfinger struct {
	Subject string          `json:"subject"`
	Links   []WebfingerLink `json:"links"`
}

// ResolveWebfinger answers an acct:<handle>@<domain> query. Foreign domains
// are rejected before any lookup.
func (g *Gateway) ResolveWebfinger(ctx context.Context, resource string) (*Webfinger, error) {
	acct, ok := strings.CutPrefix(strings.TrimSpace(resource), "acct:")
	if !ok {
		return nil, domain.NewValidationError("resource must be acct:<user>@<host>")
	}
	user, host, ok := strings.Cut(acct, "@")
	if !ok || user == "" || host == "" || strings.Contains(host, "@") {
		return nil, domain.NewValidationError("resource must be acct:<user>@<host>")
	}
	if !strings.EqualFold(host, g.opts.Domain) {
		return nil, domain.NewNotFoundError("resource", resource)
	}

	actor, err := g.directory.GetByHandle(ctx, util.NormalizeHandle(user))
	if err != nil {
		return nil, err
	}
	if actor == nil {
		return nil, domain.NewNotFoundError("resource", resource)
	}

	return &Webfinger{
		Subject: fmt.Sprintf("acct:%s@%s", actor.Handle, g.opts.Domain),
		Links: []WebfingerLink{{
			Rel:  "self",
			Type: ContentType,
			Href: actor.FederationID,
		}},
	}, nil
}

type Image struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Person is the ActivityPub actor document of a local actor.
type Person struct {
	Context                   []string         `json:"@context"`
	ID                        string           `json:"id"`
	Type                      string           `json:"type"`
	PreferredUsername         string           `json:"preferredUsername"`
	Name                      string           `json:"name"`
	Summary                   string           `json:"summary"`
	Inbox                     string           `json:"inbox"`
	Outbox                    string           `json:"outbox"`
	Followers                 string           `json:"followers"`
	Following                 string           `json:"following"`
	URL                       string           `json:"url"`
	ManuallyApprovesFollowers bool             `json:"manuallyApprovesFollowers"`
	Discoverable              bool             `json:"discoverable"`
	Published                 string           `json:"published"`
	PublicKey                 domain.PublicKey `json:"publicKey"`
	Icon                      *Image           `json:"icon,omitempty"`
}

func (g *Gateway) localActor(ctx context.Context, handle string) (*domain.Actor, error) {
	actor, err := g.directory.GetByHandle(ctx, util.NormalizeHandle(handle))
	if err != nil {
		return nil, err
	}
	if actor == nil || actor.Remote {
		return nil, domain.NewNotFoundError("actor", handle)
	}
	return actor, nil
}

// ActorDocument shapes the Person document of a local actor.
func (g *Gateway) ActorDocument(ctx context.Context, handle string) (*Person, error) {
	actor, err := g.localActor(ctx, handle)
	if err != nil {
		return nil, err
	}

	person := &Person{
		Context:           []string{ActivityStreamsContext, SecurityContext},
		ID:                actor.FederationID,
		Type:              "Person",
		PreferredUsername: actor.Handle,
		Name:              actor.Name(),
		Summary:           actor.Summary,
		Inbox:             actor.InboxURI,
		Outbox:            actor.OutboxURI,
		Followers:         actor.FollowersURI,
		Following:         actor.FollowingURI,
		URL:               actor.FederationID,
		Discoverable:      true,
		Published:         formatTime(actor.CreatedAt),
		PublicKey:         actor.PublicKey,
	}
	if actor.IconURL != "" {
		person.Icon = &Image{Type: "Image", URL: actor.IconURL}
	}
	return person, nil
}

// OrderedCollection is used for the outbox root and the follow collections.
// OrderedItems is omitted when nil and rendered when it holds an empty slice.
type OrderedCollection struct {
	Context      string `json:"@context"`
	ID           string `json:"id"`
	Type         string `json:"type"`
	TotalItems   int    `json:"totalItems"`
	First        string `json:"first,omitempty"`
	OrderedItems any    `json:"orderedItems,omitempty"`
}

type OrderedCollectionPage struct {
	Context      string      `json:"@context"`
	ID           string      `json:"id"`
	Type         string      `json:"type"`
	PartOf       string      `json:"partOf"`
	TotalItems   int         `json:"totalItems"`
	OrderedItems []*Activity `json:"orderedItems"`
	Next         string      `json:"next,omitempty"`
	Prev         string      `json:"prev,omitempty"`
}

// OutboxDocument returns the outbox root for page 0 and an
// OrderedCollectionPage of OutboxPageSize activities for page >= 1.
func (g *Gateway) OutboxDocument(ctx context.Context, handle string, page int) (any, error) {
	if page < 0 {
		return nil, domain.NewValidationError("page must not be negative")
	}
	actor, err := g.localActor(ctx, handle)
	if err != nil {
		return nil, err
	}

	if page == 0 {
		_, total, err := g.posts.Outbox(ctx, actor.Id, 0, 0)
		if err != nil {
			return nil, err
		}
		return &OrderedCollection{
			Context:    ActivityStreamsContext,
			ID:         actor.OutboxURI,
			Type:       "OrderedCollection",
			TotalItems: total,
			First:      pageURI(actor.OutboxURI, 1),
		}, nil
	}

	offset := (page - 1) * OutboxPageSize
	items, total, err := g.posts.Outbox(ctx, actor.Id, OutboxPageSize, offset)
	if err != nil {
		return nil, err
	}

	activities := make([]*Activity, 0, len(items))
	for _, item := range items {
		activity, err := g.outboxActivity(ctx, actor, item)
		if err != nil {
			return nil, err
		}
		activities = append(activities, activity)
	}

	doc := &OrderedCollectionPage{
		Context:      ActivityStreamsContext,
		ID:           pageURI(actor.OutboxURI, page),
		Type:         "OrderedCollectionPage",
		PartOf:       actor.OutboxURI,
		TotalItems:   total,
		OrderedItems: activities,
	}
	if offset+len(items) < total {
		doc.Next = pageURI(actor.OutboxURI, page+1)
	}
	if page > 1 {
		doc.Prev = pageURI(actor.OutboxURI, page-1)
	}
	return doc, nil
}

func (g *Gateway) outboxActivity(ctx context.Context, actor *domain.Actor, item db.OutboxItem) (*Activity, error) {
	if item.Kind == "Announce" {
		return &Activity{
			ID:        fmt.Sprintf("%s/announces/%s", actor.FederationID, item.Post.Id),
			Type:      "Announce",
			Actor:     ObjectRef{ID: actor.FederationID},
			Published: formatTime(item.At),
			To:        []string{util.PublicAudience},
			Cc:        []string{actor.FollowersURI},
			Object:    ObjectRef{ID: item.Post.FederationID},
		}, nil
	}

	note := g.note(actor, item.Post)
	note.Context = ""
	return &Activity{
		ID:        util.ActivityIRI(g.opts.Domain, "create", item.Post.Id),
		Type:      "Create",
		Actor:     ObjectRef{ID: actor.FederationID},
		Published: note.Published,
		To:        note.To,
		Cc:        note.Cc,
		Object:    ObjectRef{ID: note.ID, Value: note},
	}, nil
}

// FollowersDocument lists the federation ids following a local actor.
func (g *Gateway) FollowersDocument(ctx context.Context, handle string) (*OrderedCollection, error) {
	actor, err := g.localActor(ctx, handle)
	if err != nil {
		return nil, err
	}
	followers, err := g.directory.Followers(ctx, actor.FederationID)
	if err != nil {
		return nil, err
	}
	return collection(actor.FollowersURI, followers), nil
}

// FollowingDocument lists the federation ids a local actor follows.
func (g *Gateway) FollowingDocument(ctx context.Context, handle string) (*OrderedCollection, error) {
	actor, err := g.localActor(ctx, handle)
	if err != nil {
		return nil, err
	}
	return collection(actor.FollowingURI, actor.Following), nil
}

func collection(id string, items []string) *OrderedCollection {
	if items == nil {
		items = []string{}
	}
	return &OrderedCollection{
		Context:      ActivityStreamsContext,
		ID:           id,
		Type:         "OrderedCollection",
		TotalItems:   len(items),
		OrderedItems: items,
	}
}

type Document struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// Note is the ActivityPub object of a post.
type Note struct {
	Context      string     `json:"@context,omitempty"`
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	AttributedTo string     `json:"attributedTo"`
	Content      string     `json:"content"`
	Summary      string     `json:"summary,omitempty"`
	Sensitive    bool       `json:"sensitive"`
	Published    string     `json:"published"`
	Updated      string     `json:"updated,omitempty"`
	URL          string     `json:"url"`
	To           []string   `json:"to"`
	Cc           []string   `json:"cc"`
	Attachment   []Document `json:"attachment,omitempty"`
}

// NoteObject renders a public or unlisted post. Other posts are not found.
func (g *Gateway) NoteObject(ctx context.Context, postID uuid.UUID) (*Note, error) {
	post, err := g.posts.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil || !post.IsPublished() {
		return nil, domain.NewNotFoundError("post", postID)
	}
	author, err := g.directory.GetByID(ctx, post.AuthorID)
	if err != nil {
		return nil, err
	}
	if author == nil {
		return nil, domain.NewNotFoundError("post", postID)
	}
	return g.note(author, post), nil
}

func (g *Gateway) note(author *domain.Actor, post *domain.Post) *Note {
	note := &Note{
		Context:      ActivityStreamsContext,
		ID:           post.FederationID,
		Type:         "Note",
		AttributedTo: author.FederationID,
		Content:      util.RenderContent(post.Content),
		Summary:      post.Summary,
		Sensitive:    post.Sensitive,
		Published:    formatTime(post.PublishedAt),
		URL:          post.FederationID,
		To:           nonNil(post.To),
		Cc:           nonNil(post.Cc),
	}
	if post.UpdatedAt.After(post.PublishedAt) {
		note.Updated = formatTime(post.UpdatedAt)
	}
	for _, a := range post.Attachments {
		note.Attachment = append(note.Attachment, Document{
			Type:      "Document",
			MediaType: a.MIMEType,
			URL:       a.URL,
			Width:     a.Width,
			Height:    a.Height,
		})
	}
	return note
}

func pageURI(collection string, page int) string {
	return fmt.Sprintf("%s?page=%d", collection, page)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
