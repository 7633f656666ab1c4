package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/util"
)

const (
	// RemoteActorMaxAge is how long a cached remote actor is trusted before
	// it is fetched again.
	RemoteActorMaxAge = 24 * time.Hour

	maxActorDocumentSize = 1 << 20
)

// ActorResponse represents the JSON structure of an ActivityPub actor
type ActorResponse struct {
	Context           any    `json:"@context"`
	ID                string `json:"id"`
	Type              string `json:"type"`
	PreferredUsername string `json:"preferredUsername"`
	Name              string `json:"name"`
	Summary           string `json:"summary"`
	Inbox             string `json:"inbox"`
	Outbox            string `json:"outbox"`
	Followers         string `json:"followers"`
	Following         string `json:"following"`
	Icon              struct {
		Type      string `json:"type"`
		MediaType string `json:"mediaType"`
		URL       string `json:"url"`
	} `json:"icon"`
	PublicKey domain.PublicKey `json:"publicKey"`
}

// RemoteActors caches fetched actors in the directory.
type RemoteActors interface {
	GetByFederationID(ctx context.Context, federationID string) (*domain.Actor, error)
	UpsertRemoteActor(ctx context.Context, actor *domain.Actor) (*domain.Actor, error)
}

// ActorResolver turns an actor URI into a cached actor. signer, when set, is
// the local actor whose key signs the fetch.
type ActorResolver interface {
	Resolve(ctx context.Context, actorURI string, signer *domain.Actor) (*domain.Actor, error)
}

// Fetcher resolves remote actors over HTTP, serving fresh cache entries
// without a request.
type Fetcher struct {
	client *http.Client
	actors RemoteActors
	clock  util.Clock
	maxAge time.Duration
}

func NewFetcher(client *http.Client, actors RemoteActors, clock util.Clock) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if clock == nil {
		clock = util.RealClock()
	}
	return &Fetcher{client: client, actors: actors, clock: clock, maxAge: RemoteActorMaxAge}
}

// Resolve returns the cached actor if it is fresh, otherwise fetches and
// caches it. Local actors are returned from the directory as they are.
func (f *Fetcher) Resolve(ctx context.Context, actorURI string, signer *domain.Actor) (*domain.Actor, error) {
	cached, err := f.actors.GetByFederationID(ctx, actorURI)
	if err != nil {
		return nil, err
	}
	if cached != nil && (!cached.Remote || f.clock.Now().Sub(cached.UpdatedAt) < f.maxAge) {
		return cached, nil
	}

	fetched, err := f.Fetch(ctx, actorURI, signer)
	if err != nil {
		if cached != nil {
			log.Warn("remote actor refresh failed, using cached copy", "actor", actorURI, "err", err)
			return cached, nil
		}
		return nil, err
	}
	return f.actors.UpsertRemoteActor(ctx, fetched)
}

// Fetch downloads and parses an actor document without touching the cache.
func (f *Fetcher) Fetch(ctx context.Context, actorURI string, signer *domain.Actor) (*domain.Actor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion()+" ActivityPub")

	if signer != nil && signer.PrivateKeyPem != "" {
		privateKey, err := ParsePrivateKey(signer.PrivateKeyPem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
		if err := SignRequest(req, privateKey, signer.PublicKey.ID); err != nil {
			return nil, err
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("actor fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxActorDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var actor ActorResponse
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	return actor.toDomain(actorURI)
}

// toDomain validates a fetched document and maps it to a cacheable actor.
// The document must live on the host it was fetched from.
func (a *ActorResponse) toDomain(fetchedFrom string) (*domain.Actor, error) {
	if a.ID == "" || a.Inbox == "" || a.PublicKey.PublicKeyPem == "" {
		return nil, errors.New("actor missing required fields")
	}

	host, err := extractDomain(a.ID)
	if err != nil {
		return nil, err
	}
	origin, err := extractDomain(fetchedFrom)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(host, origin) {
		return nil, fmt.Errorf("actor %s served from foreign host %s", a.ID, origin)
	}

	handle := util.NormalizeHandle(a.PreferredUsername)
	if handle == "" {
		handle = strings.ToLower(extractUsername(a.ID))
	}
	if handle == "" {
		return nil, errors.New("actor has no username")
	}

	keyOwner := a.PublicKey.Owner
	if keyOwner == "" {
		keyOwner = a.ID
	}
	if keyOwner != a.ID {
		return nil, fmt.Errorf("key %s is owned by %s, not %s", a.PublicKey.ID, keyOwner, a.ID)
	}

	return &domain.Actor{
		FederationID: a.ID,
		Handle:       handle,
		FullHandle:   handle + "@" + strings.ToLower(host),
		DisplayName:  util.StripHTML(a.Name),
		Summary:      util.StripHTML(a.Summary),
		IconURL:      a.Icon.URL,
		InboxURI:     a.Inbox,
		OutboxURI:    a.Outbox,
		FollowersURI: a.Followers,
		FollowingURI: a.Following,
		PublicKey: domain.PublicKey{
			ID:           a.PublicKey.ID,
			Owner:        keyOwner,
			PublicKeyPem: a.PublicKey.PublicKeyPem,
		},
		Remote: true,
		Host:   strings.ToLower(host),
	}, nil
}

// extractDomain extracts the domain from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("actor URI %q has no host", actorURI)
	}
	return parsed.Host, nil
}

// extractUsername extracts username from various URI formats
// Examples:
// - "https://example.com/users/alice" -> "alice"
// - "https://example.com/@alice" -> "alice"
func extractUsername(uri string) string {
	parts := strings.Split(strings.TrimRight(uri, "/"), "/")
	return strings.TrimPrefix(parts[len(parts)-1], "@")
}
