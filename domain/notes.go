package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Visibility controls the federation audience of a post.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityFollowers Visibility = "followers"
	VisibilityUnlisted  Visibility = "unlisted"
	VisibilityDirect    Visibility = "direct"
)

// Valid reports whether v is one of the known visibilities.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityFollowers, VisibilityUnlisted, VisibilityDirect:
		return true
	}
	return false
}

// Attachment is a media reference on a post.
type Attachment struct {
	URL       string `json:"url"`
	MediaKind string `json:"mediaKind"`
	MIMEType  string `json:"mimeType"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

type Post struct {
	Id           uuid.UUID    `json:"id"`
	FederationID string       `json:"federationId"`
	AuthorID     uuid.UUID    `json:"authorId"`
	Content      string       `json:"content"`
	Summary      string       `json:"summary,omitempty"` // content warning
	Visibility   Visibility   `json:"visibility"`
	Sensitive    bool         `json:"sensitive"`
	Attachments  []Attachment `json:"attachments"`

	To []string `json:"to"`
	Cc []string `json:"cc"`

	RepliesCount int         `json:"repliesCount"`
	LikesCount   int         `json:"likesCount"`
	SharesCount  int         `json:"sharesCount"`
	LikedBy      []uuid.UUID `json:"likedBy"`
	SharedBy     []uuid.UUID `json:"sharedBy"`

	PublishedAt time.Time `json:"publishedAt"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IsPublished reports whether the post may be served to anonymous readers.
func (p *Post) IsPublished() bool {
	return p.Visibility == VisibilityPublic || p.Visibility == VisibilityUnlisted
}

func (p *Post) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tAuthorID: %s \n\tContent: %s \n\tCreatedAt: %s)", p.Id, p.AuthorID, p.Content, p.CreatedAt)
}

type Comment struct {
	Id         uuid.UUID   `json:"id"`
	PostID     uuid.UUID   `json:"postId"`
	AuthorID   uuid.UUID   `json:"authorId"`
	Content    string      `json:"content"`
	LikesCount int         `json:"likesCount"`
	LikedBy    []uuid.UUID `json:"likedBy"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Page is an offset window over a newest-first listing.
type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize clamps the page into the accepted range.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
