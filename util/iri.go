package util

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PublicAudience is the ActivityStreams public collection.
const PublicAudience = "https://www.w3.org/ns/activitystreams#Public"

type Action uint

const (
	ActionId Action = iota
	ActionInbox
	ActionOutbox
	ActionFollowers
	ActionFollowing
	ActionFeed
)

// GetIRI derives an actor endpoint from handle and domain.
func GetIRI(domain string, handle string, action Action) string {

	prefix := fmt.Sprintf("https://%s/users/%s", domain, handle)
	switch action {
	case ActionInbox:
		return fmt.Sprintf("%s/inbox", prefix)
	case ActionOutbox:
		return fmt.Sprintf("%s/outbox", prefix)
	case ActionFollowers:
		return fmt.Sprintf("%s/followers", prefix)
	case ActionFollowing:
		return fmt.Sprintf("%s/following", prefix)
	case ActionFeed:
		return fmt.Sprintf("%s/feed", prefix)
	case ActionId:
		return prefix
	default:
		return ""
	}
}

// KeyID is the publicKey id of an actor.
func KeyID(actorIRI string) string {
	return actorIRI + "#main-key"
}

func PostIRI(domain string, id uuid.UUID) string {
	return fmt.Sprintf("https://%s/posts/%s", domain, id)
}

// ParsePostIRI extracts the post id from one of domain's post IRIs.
func ParsePostIRI(domain string, iri string) (uuid.UUID, bool) {
	raw, ok := strings.CutPrefix(iri, fmt.Sprintf("https://%s/posts/", domain))
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// ActivityIRI builds the id of an activity derived from a local object.
func ActivityIRI(domain string, kind string, id uuid.UUID) string {
	return fmt.Sprintf("https://%s/activities/%s/%s", domain, kind, id)
}
