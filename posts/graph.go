// Package posts owns posts and their like and share sets.
package posts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedigraph/db"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/notifications"
	"github.com/deemkeen/fedigraph/util"
	"github.com/google/uuid"
)

const MaxContentLength = 5000

type Store interface {
	CreatePost(ctx context.Context, p *domain.Post) error
	UpdatePost(ctx context.Context, p *domain.Post) error
	DeletePost(ctx context.Context, id uuid.UUID) (bool, error)
	ReadPostById(ctx context.Context, id uuid.UUID) (*domain.Post, error)
	ReadPostsByAuthor(ctx context.Context, authorID uuid.UUID, scope db.PostScope, page domain.Page) ([]domain.Post, int, error)

	AddPostLike(ctx context.Context, postID, actorID uuid.UUID, at time.Time) (bool, error)
	RemovePostLike(ctx context.Context, postID, actorID uuid.UUID) (bool, error)
	AddPostShare(ctx context.Context, postID, actorID uuid.UUID, at time.Time) (bool, error)
	RemovePostShare(ctx context.Context, postID, actorID uuid.UUID) (bool, error)

	CountOutbox(ctx context.Context, actorID uuid.UUID) (int, error)
	ReadOutbox(ctx context.Context, actorID uuid.UUID, limit, offset int) ([]db.OutboxItem, error)
}

// Directory resolves the actors a post touches.
type Directory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Actor, error)
	ResolveMentions(ctx context.Context, text string) ([]*domain.Actor, error)
}

type Notifier interface {
	Create(ctx context.Context, req notifications.CreateRequest) (*domain.Notification, error)
}

type Options struct {
	Domain string
	Clock  util.Clock
}

type Graph struct {
	store     Store
	directory Directory
	notifier  Notifier
	opts      Options
}

func NewGraph(store Store, directory Directory, notifier Notifier, opts Options) *Graph {
	if opts.Clock == nil {
		opts.Clock = util.RealClock()
	}
	return &Graph{store: store, directory: directory, notifier: notifier, opts: opts}
}

type CreatePostRequest struct {
	AuthorID    uuid.UUID           `json:"-"`
	Content     string              `json:"content"`
	Summary     string              `json:"summary"`
	Visibility  domain.Visibility   `json:"visibility"`
	Sensitive   bool                `json:"sensitive"`
	Attachments []domain.Attachment `json:"attachments"`
}

// UpdatePostRequest lists the editable fields. Nil fields are left unchanged;
// at least one must be set.
type UpdatePostRequest struct {
	Content     *string              `json:"content"`
	Summary     *string              `json:"summary"`
	Visibility  *domain.Visibility   `json:"visibility"`
	Sensitive   *bool                `json:"sensitive"`
	Attachments *[]domain.Attachment `json:"attachments"`
}

func (r UpdatePostRequest) empty() bool {
	return r.Content == nil && r.Summary == nil && r.Visibility == nil && r.Sensitive == nil && r.Attachments == nil
}

// Addressing derives the to/cc audiences of a post from its visibility.
func Addressing(visibility domain.Visibility, followersURI string) (to, cc []string) {
	switch visibility {
	case domain.VisibilityPublic:
		return []string{util.PublicAudience}, []string{followersURI}
	case domain.VisibilityFollowers:
		return []string{followersURI}, []string{}
	default:
		return []string{}, []string{}
	}
}

func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", domain.NewValidationError("content is required")
	}
	if len([]rune(content)) > MaxContentLength {
		return "", domain.NewValidationError("content exceeds %d characters", MaxContentLength)
	}
	return content, nil
}

func validateAttachments(attachments []domain.Attachment) error {
	for i, a := range attachments {
		if !strings.HasPrefix(a.URL, "https://") && !strings.HasPrefix(a.URL, "http://") {
			return domain.NewValidationError("attachment %d needs an http(s) url", i)
		}
	}
	return nil
}

func (g *Graph) author(ctx context.Context, id uuid.UUID) (*domain.Actor, error) {
	author, err := g.directory.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if author == nil {
		return nil, domain.NewNotFoundError("actor", id)
	}
	return author, nil
}

func (g *Graph) CreatePost(ctx context.Context, req CreatePostRequest) (*domain.Post, error) {
	author, err := g.author(ctx, req.AuthorID)
	if err != nil {
		return nil, err
	}
	content, err := validateContent(req.Content)
	if err != nil {
		return nil, err
	}
	visibility := req.Visibility
	if visibility == "" {
		visibility = domain.VisibilityPublic
	}
	if !visibility.Valid() {
		return nil, domain.NewValidationError("unknown visibility %q", visibility)
	}
	if err := validateAttachments(req.Attachments); err != nil {
		return nil, err
	}

	now := g.opts.Clock.Now()
	id := uuid.New()
	to, cc := Addressing(visibility, author.FollowersURI)
	post := &domain.Post{
		Id:           id,
		FederationID: util.PostIRI(g.opts.Domain, id),
		AuthorID:     author.Id,
		Content:      content,
		Summary:      strings.TrimSpace(req.Summary),
		Visibility:   visibility,
		Sensitive:    req.Sensitive,
		Attachments:  append([]domain.Attachment{}, req.Attachments...),
		To:           to,
		Cc:           cc,
		LikedBy:      []uuid.UUID{},
		SharedBy:     []uuid.UUID{},
		PublishedAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := g.store.CreatePost(ctx, post); err != nil {
		return nil, domain.NewServerError("failed to create post", err)
	}
	log.Debug("post created", "post", post.Id, "author", author.FullHandle)

	g.notifyMentions(ctx, author, post)
	return post, nil
}

func (g *Graph) notifyMentions(ctx context.Context, author *domain.Actor, post *domain.Post) {
	mentioned, err := g.directory.ResolveMentions(ctx, post.Content)
	if err != nil {
		log.Warn("failed to resolve mentions", "post", post.Id, "err", err)
		return
	}
	for _, m := range mentioned {
		g.notify(ctx, notifications.CreateRequest{
			RecipientID:    m.Id,
			TriggerActorID: &author.Id,
			Type:           domain.NotificationMention,
			PostID:         &post.Id,
		})
	}
}

// GetPost returns the post or nil.
func (g *Graph) GetPost(ctx context.Context, id uuid.UUID) (*domain.Post, error) {
	post, err := g.store.ReadPostById(ctx, id)
	if err != nil {
		return nil, domain.NewServerError("failed to read post", err)
	}
	return post, nil
}

func (g *Graph) ownedPost(ctx context.Context, postID, requesterID uuid.UUID) (*domain.Post, error) {
	post, err := g.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, domain.NewNotFoundError("post", postID)
	}
	if post.AuthorID != requesterID {
		return nil, domain.NewForbiddenError("only the author may change this post")
	}
	return post, nil
}

func (g *Graph) UpdatePost(ctx context.Context, postID, requesterID uuid.UUID, req UpdatePostRequest) (*domain.Post, error) {
	post, err := g.ownedPost(ctx, postID, requesterID)
	if err != nil {
		return nil, err
	}
	if req.empty() {
		return nil, domain.NewValidationError("no updatable field given")
	}

	if req.Content != nil {
		if post.Content, err = validateContent(*req.Content); err != nil {
			return nil, err
		}
	}
	if req.Summary != nil {
		post.Summary = strings.TrimSpace(*req.Summary)
	}
	if req.Sensitive != nil {
		post.Sensitive = *req.Sensitive
	}
	if req.Attachments != nil {
		if err := validateAttachments(*req.Attachments); err != nil {
			return nil, err
		}
		post.Attachments = append([]domain.Attachment{}, *req.Attachments...)
	}
	if req.Visibility != nil && *req.Visibility != post.Visibility {
		if !req.Visibility.Valid() {
			return nil, domain.NewValidationError("unknown visibility %q", *req.Visibility)
		}
		author, err := g.author(ctx, post.AuthorID)
		if err != nil {
			return nil, err
		}
		post.Visibility = *req.Visibility
		post.To, post.Cc = Addressing(post.Visibility, author.FollowersURI)
	}
	post.UpdatedAt = g.opts.Clock.Now()

	if err := g.store.UpdatePost(ctx, post); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, domain.NewNotFoundError("post", postID)
		}
		return nil, domain.NewServerError("failed to update post", err)
	}
	return post, nil
}

func (g *Graph) DeletePost(ctx context.Context, postID, requesterID uuid.UUID) error {
	if _, err := g.ownedPost(ctx, postID, requesterID); err != nil {
		return err
	}
	deleted, err := g.store.DeletePost(ctx, postID)
	if err != nil {
		return domain.NewServerError("failed to delete post", err)
	}
	if !deleted {
		return domain.NewNotFoundError("post", postID)
	}
	return nil
}

// PostPage is one page of an author's posts.
type PostPage struct {
	Items  []domain.Post `json:"items"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// ListByAuthor pages through an author's posts, newest first. Viewers other
// than the author only see public and unlisted posts.
func (g *Graph) ListByAuthor(ctx context.Context, authorID, viewerID uuid.UUID, page domain.Page) (*PostPage, error) {
	scope := db.ScopeAll
	if viewerID != authorID {
		scope = db.ScopePublished
	}
	return g.list(ctx, authorID, scope, page)
}

// ListPublicByAuthor pages through an author's public posts, newest first.
// Anonymous surfaces such as the profile page and the RSS feed use it.
func (g *Graph) ListPublicByAuthor(ctx context.Context, authorID uuid.UUID, page domain.Page) (*PostPage, error) {
	return g.list(ctx, authorID, db.ScopePublic, page)
}

func (g *Graph) list(ctx context.Context, authorID uuid.UUID, scope db.PostScope, page domain.Page) (*PostPage, error) {
	if _, err := g.author(ctx, authorID); err != nil {
		return nil, err
	}
	page = page.Normalize()
	items, total, err := g.store.ReadPostsByAuthor(ctx, authorID, scope, page)
	if err != nil {
		return nil, domain.NewServerError("failed to list posts", err)
	}
	return &PostPage{Items: items, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// Outbox returns a page of the actor's public activity and the total count.
func (g *Graph) Outbox(ctx context.Context, actorID uuid.UUID, limit, offset int) ([]db.OutboxItem, int, error) {
	total, err := g.store.CountOutbox(ctx, actorID)
	if err != nil {
		return nil, 0, domain.NewServerError("failed to count outbox", err)
	}
	if limit == 0 {
		return []db.OutboxItem{}, total, nil
	}
	items, err := g.store.ReadOutbox(ctx, actorID, limit, offset)
	if err != nil {
		return nil, 0, domain.NewServerError("failed to read outbox", err)
	}
	return items, total, nil
}

type membershipOp func(ctx context.Context, postID, actorID uuid.UUID) (bool, error)

// mutate runs one atomic membership change and returns the post as stored
// afterwards, whether or not the change applied.
func (g *Graph) mutate(ctx context.Context, postID, actorID uuid.UUID, op membershipOp) (*domain.Post, bool, error) {
	if _, err := g.author(ctx, actorID); err != nil {
		return nil, false, err
	}
	applied, err := op(ctx, postID, actorID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, false, domain.NewNotFoundError("post", postID)
	}
	if err != nil {
		return nil, false, domain.NewServerError("failed to update post", err)
	}
	post, err := g.GetPost(ctx, postID)
	if err != nil {
		return nil, false, err
	}
	if post == nil {
		return nil, false, domain.NewNotFoundError("post", postID)
	}
	return post, applied, nil
}

// Like adds actorID to the post's likers. A repeated like is a no-op.
func (g *Graph) Like(ctx context.Context, postID, actorID uuid.UUID) (*domain.Post, bool, error) {
	post, applied, err := g.mutate(ctx, postID, actorID, func(ctx context.Context, postID, actorID uuid.UUID) (bool, error) {
		return g.store.AddPostLike(ctx, postID, actorID, g.opts.Clock.Now())
	})
	if err == nil && applied {
		g.notify(ctx, notifications.CreateRequest{
			RecipientID:    post.AuthorID,
			TriggerActorID: &actorID,
			Type:           domain.NotificationLike,
			PostID:         &post.Id,
		})
	}
	return post, applied, err
}

func (g *Graph) Unlike(ctx context.Context, postID, actorID uuid.UUID) (*domain.Post, bool, error) {
	return g.mutate(ctx, postID, actorID, g.store.RemovePostLike)
}

// Share adds actorID to the post's sharers. A repeated share is a no-op.
func (g *Graph) Share(ctx context.Context, postID, actorID uuid.UUID) (*domain.Post, bool, error) {
	post, applied, err := g.mutate(ctx, postID, actorID, func(ctx context.Context, postID, actorID uuid.UUID) (bool, error) {
		return g.store.AddPostShare(ctx, postID, actorID, g.opts.Clock.Now())
	})
	if err == nil && applied {
		g.notify(ctx, notifications.CreateRequest{
			RecipientID:    post.AuthorID,
			TriggerActorID: &actorID,
			Type:           domain.NotificationRepost,
			PostID:         &post.Id,
		})
	}
	return post, applied, err
}

func (g *Graph) Unshare(ctx context.Context, postID, actorID uuid.UUID) (*domain.Post, bool, error) {
	return g.mutate(ctx, postID, actorID, g.store.RemovePostShare)
}

func (g *Graph) notify(ctx context.Context, req notifications.CreateRequest) {
	if g.notifier == nil {
		return
	}
	if _, err := g.notifier.Create(ctx, req); err != nil {
		log.Warn("failed to create notification", "type", req.Type, "recipient", req.RecipientID, "err", err)
	}
}
