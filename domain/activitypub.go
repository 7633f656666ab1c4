package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType names the graph event that produced a notification.
type NotificationType string

const (
	NotificationFollow  NotificationType = "follow"
	NotificationLike    NotificationType = "like"
	NotificationComment NotificationType = "comment"
	NotificationMention NotificationType = "mention"
	NotificationRepost  NotificationType = "repost"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationFollow, NotificationLike, NotificationComment, NotificationMention, NotificationRepost:
		return true
	}
	return false
}

type Notification struct {
	Id             uuid.UUID        `json:"id"`
	RecipientID    uuid.UUID        `json:"recipientId"`
	TriggerActorID *uuid.UUID       `json:"triggerActorId,omitempty"`
	Type           NotificationType `json:"type"`
	PostID         *uuid.UUID       `json:"postId,omitempty"`
	CommentID      *uuid.UUID       `json:"commentId,omitempty"`
	Read           bool             `json:"read"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// ActorSnapshot is the trigger actor as seen when a notification is read.
type ActorSnapshot struct {
	Handle      string `json:"handle"`
	FullHandle  string `json:"fullHandle"`
	DisplayName string `json:"displayName,omitempty"`
	IconURL     string `json:"iconUrl,omitempty"`
}

// NotificationView is a notification joined with its trigger actor.
type NotificationView struct {
	Notification
	Actor *ActorSnapshot `json:"actor,omitempty"`
}

// InboxActivity is a raw activity received on an actor inbox.
type InboxActivity struct {
	Id            uuid.UUID `json:"id"`
	TargetActorID uuid.UUID `json:"targetActorId"`
	ActivityID    string    `json:"activityId"`
	Type          string    `json:"type"`
	ActorURI      string    `json:"actor"`
	ObjectURI     string    `json:"object"`
	RawJSON       string    `json:"-"`
	Processed     bool      `json:"processed"`
	CreatedAt     time.Time `json:"createdAt"`
}
