// Package comments owns comments on posts and their like sets.
package comments

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

const MaxContentLength = 2000

type Store interface {
	CreateComment(ctx context.Context, c *domain.Comment) error
	DeleteComment(ctx context.Context, commentID, authorID uuid.UUID) error
	ReadCommentById(ctx context.Context, id uuid.UUID) (*domain.Comment, error)
	ReadCommentsByPost(ctx context.Context, postID uuid.UUID, page domain.Page) ([]domain.Comment, int, error)
	AddCommentLike(ctx context.Context, commentID, actorID uuid.UUID, at time.Time) (bool, error)
	RemoveCommentLike(ctx context.Context, commentID, actorID uuid.UUID) (bool, error)
}

// Posts looks up the post a comment belongs to.
type Posts interface {
	GetPost(ctx context.Context, id uuid.UUID) (*domain.Post, error)
}

type Directory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Actor, error)
	ResolveMentions(ctx context.Context, text string) ([]*domain.Actor, error)
}

type Notifier interface {
	Create(ctx context.Context, req notifications.CreateRequest) (*domain.Notification, error)
}

type Options struct {
	Clock util.Clock
}

type Graph struct {
	store     Store
	posts     Posts
	directory Directory
	notifier  Notifier
	clock     util.Clock
}

func NewGraph(store Store, posts Posts, directory Directory, notifier Notifier, opts Options) *Graph {
	if opts.Clock == nil {
		opts.Clock = util.RealClock()
	}
	return &Graph{store: store, posts: posts, directory: directory, notifier: notifier, clock: opts.Clock}
}

// CommentPage is one page of a post's comments, oldest first.
type CommentPage struct {
	Items  []domain.Comment `json:"items"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

func (g *Graph) post(ctx context.Context, postID uuid.UUID) (*domain.Post, error) {
	post, err := g.posts.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, domain.NewNotFoundError("post", postID)
	}
	return post, nil
}

func (g *Graph) actor(ctx context.Context, id uuid.UUID) (*domain.Actor, error) {
	actor, err := g.directory.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor == nil {
		return nil, domain.NewNotFoundError("actor", id)
	}
	return actor, nil
}

// CreateComment stores the comment and bumps the post's reply count. The
// post author is notified, and so is every local actor mentioned.
func (g *Graph) CreateComment(ctx context.Context, postID, authorID uuid.UUID, content string) (*domain.Comment, error) {
	post, err := g.post(ctx, postID)
	if err != nil {
		return nil, err
	}
	author, err := g.actor(ctx, authorID)
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domain.NewValidationError("content is required")
	}
	if len([]rune(content)) > MaxContentLength {
		return nil, domain.NewValidationError("content exceeds %d characters", MaxContentLength)
	}

	now := g.clock.Now()
	comment := &domain.Comment{
		Id:        uuid.New(),
		PostID:    post.Id,
		AuthorID:  author.Id,
		Content:   content,
		LikedBy:   []uuid.UUID{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.store.CreateComment(ctx, comment); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, domain.NewNotFoundError("post", postID)
		}
		return nil, domain.NewServerError("failed to create comment", err)
	}

	g.notify(ctx, notifications.CreateRequest{
		RecipientID:    post.AuthorID,
		TriggerActorID: &author.Id,
		Type:           domain.NotificationComment,
		PostID:         &post.Id,
		CommentID:      &comment.Id,
	})

	mentioned, err := g.directory.ResolveMentions(ctx, content)
	if err != nil {
		log.Warn("failed to resolve mentions", "comment", comment.Id, "err", err)
		return comment, nil
	}
	for _, m := range mentioned {
		g.notify(ctx, notifications.CreateRequest{
			RecipientID:    m.Id,
			TriggerActorID: &author.Id,
			Type:           domain.NotificationMention,
			PostID:         &post.Id,
			CommentID:      &comment.Id,
		})
	}
	return comment, nil
}

// DeleteComment removes a comment written by requesterID. Comments that do
// not exist and comments by someone else are both reported as NotFound.
func (g *Graph) DeleteComment(ctx context.Context, commentID, requesterID uuid.UUID) error {
	err := g.store.DeleteComment(ctx, commentID, requesterID)
	if errors.Is(err, db.ErrNotFound) {
		return domain.NewNotFoundError("comment", commentID)
	}
	if err != nil {
		return domain.NewServerError("failed to delete comment", err)
	}
	return nil
}

func (g *Graph) GetComment(ctx context.Context, id uuid.UUID) (*domain.Comment, error) {
	c, err := g.store.ReadCommentById(ctx, id)
	if err != nil {
		return nil, domain.NewServerError("failed to read comment", err)
	}
	return c, nil
}

func (g *Graph) ListForPost(ctx context.Context, postID uuid.UUID, page domain.Page) (*CommentPage, error) {
	if _, err := g.post(ctx, postID); err != nil {
		return nil, err
	}
	page = page.Normalize()
	items, total, err := g.store.ReadCommentsByPost(ctx, postID, page)
	if err != nil {
		return nil, domain.NewServerError("failed to list comments", err)
	}
	return &CommentPage{Items: items, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

func (g *Graph) mutate(ctx context.Context, commentID, actorID uuid.UUID, op func() (bool, error)) (*domain.Comment, bool, error) {
	if _, err := g.actor(ctx, actorID); err != nil {
		return nil, false, err
	}
	applied, err := op()
	if errors.Is(err, db.ErrNotFound) {
		return nil, false, domain.NewNotFoundError("comment", commentID)
	}
	if err != nil {
		return nil, false, domain.NewServerError("failed to update comment", err)
	}
	comment, err := g.GetComment(ctx, commentID)
	if err != nil {
		return nil, false, err
	}
	if comment == nil {
		return nil, false, domain.NewNotFoundError("comment", commentID)
	}
	return comment, applied, nil
}

// Like adds actorID to the comment's likers; repeated likes are no-ops.
func (g *Graph) Like(ctx context.Context, commentID, actorID uuid.UUID) (*domain.Comment, bool, error) {
	return g.mutate(ctx, commentID, actorID, func() (bool, error) {
		return g.store.AddCommentLike(ctx, commentID, actorID, g.clock.Now())
	})
}

func (g *Graph) Unlike(ctx context.Context, commentID, actorID uuid.UUID) (*domain.Comment, bool, error) {
	return g.mutate(ctx, commentID, actorID, func() (bool, error) {
		return g.store.RemoveCommentLike(ctx, commentID, actorID)
	})
}

func (g *Graph) notify(ctx context.Context, req notifications.CreateRequest) {
	if g.notifier == nil {
		return
	}
	if _, err := g.notifier.Create(ctx, req); err != nil {
		log.Warn("failed to create notification", "type", req.Type, "recipient", req.RecipientID, "err", err)
	}
}
