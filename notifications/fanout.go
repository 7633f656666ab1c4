// Package notifications records notifications caused by graph mutations and
// optionally pushes them to real-time listeners.
package notifications

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/util"
	"github.com/google/uuid"
)

// Store is the persistence the fanout needs.
type Store interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
	ReadNotifications(ctx context.Context, recipientID uuid.UUID, read *bool, page domain.Page) ([]domain.NotificationView, int, error)
	CountUnreadNotifications(ctx context.Context, recipientID uuid.UUID) (int, error)
	MarkNotificationsRead(ctx context.Context, recipientID uuid.UUID, ids []uuid.UUID, at time.Time) (int64, error)
	MarkAllNotificationsRead(ctx context.Context, recipientID uuid.UUID, at time.Time) (int64, error)
}

type CreateRequest struct {
	RecipientID    uuid.UUID
	TriggerActorID *uuid.UUID
	Type           domain.NotificationType
	PostID         *uuid.UUID
	CommentID      *uuid.UUID
}

// ListResult is one page of a recipient's notifications.
type ListResult struct {
	Items  []domain.NotificationView `json:"items"`
	Total  int                       `json:"total"`
	Limit  int                       `json:"limit"`
	Offset int                       `json:"offset"`
}

type Fanout struct {
	store     Store
	publisher Publisher
	clock     util.Clock
}

// NewFanout builds a fanout over store. publisher may be nil.
func NewFanout(store Store, publisher Publisher, clock util.Clock) *Fanout {
	if clock == nil {
		clock = util.RealClock()
	}
	return &Fanout{store: store, publisher: publisher, clock: clock}
}

// Create records a notification. Self-notifications are suppressed and
// reported as (nil, nil).
func (f *Fanout) Create(ctx context.Context, req CreateRequest) (*domain.Notification, error) {
	if req.TriggerActorID != nil && *req.TriggerActorID == req.RecipientID {
		return nil, nil
	}
	if !req.Type.Valid() {
		return nil, domain.NewValidationError("unknown notification type %q", req.Type)
	}

	now := f.clock.Now()
	n := &domain.Notification{
		Id:             uuid.New(),
		RecipientID:    req.RecipientID,
		TriggerActorID: req.TriggerActorID,
		Type:           req.Type,
		PostID:         req.PostID,
		CommentID:      req.CommentID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := f.store.CreateNotification(ctx, n); err != nil {
		return nil, domain.NewServerError("failed to store notification", err)
	}

	if f.publisher != nil {
		if err := f.publisher.Publish(ctx, n); err != nil {
			log.Warn("failed to publish notification", "notification", n.Id, "recipient", n.RecipientID, "err", err)
		}
	}
	return n, nil
}

// ListForRecipient pages newest first. read filters by read state when set.
func (f *Fanout) ListForRecipient(ctx context.Context, recipientID uuid.UUID, page domain.Page, read *bool) (*ListResult, error) {
	page = page.Normalize()
	items, total, err := f.store.ReadNotifications(ctx, recipientID, read, page)
	if err != nil {
		return nil, domain.NewServerError("failed to list notifications", err)
	}
	return &ListResult{Items: items, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// MarkRead marks ids read for recipientID only and returns how many changed.
func (f *Fanout) MarkRead(ctx context.Context, recipientID uuid.UUID, ids []uuid.UUID) (int64, error) {
	n, err := f.store.MarkNotificationsRead(ctx, recipientID, ids, f.clock.Now())
	if err != nil {
		return 0, domain.NewServerError("failed to mark notifications read", err)
	}
	return n, nil
}

func (f *Fanout) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	n, err := f.store.MarkAllNotificationsRead(ctx, recipientID, f.clock.Now())
	if err != nil {
		return 0, domain.NewServerError("failed to mark notifications read", err)
	}
	return n, nil
}

func (f *Fanout) UnreadCount(ctx context.Context, recipientID uuid.UUID) (int, error) {
	n, err := f.store.CountUnreadNotifications(ctx, recipientID)
	if err != nil {
		return 0, domain.NewServerError("failed to count notifications", err)
	}
	return n, nil
}
