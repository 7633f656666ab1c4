// Package actors manages local and cached remote actors and the follow
// graph between them.
package actors

import (
	"context"
	"errors"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedigraph/db"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/notifications"
	"github.com/deemkeen/fedigraph/util"
	"github.com/google/uuid"
	passwordvalidator "github.com/wagslane/go-password-validator"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 50
)

// Store is the identity persistence the directory needs.
type Store interface {
	CreateActor(ctx context.Context, a *domain.Actor) error
	UpsertRemoteActor(ctx context.Context, a *domain.Actor) (*domain.Actor, error)
	ReadActorById(ctx context.Context, id uuid.UUID) (*domain.Actor, error)
	ReadLocalActorByHandle(ctx context.Context, handle string) (*domain.Actor, error)
	ReadActorByFederationID(ctx context.Context, federationID string) (*domain.Actor, error)
	ReadActorByEmail(ctx context.Context, email string) (*domain.Actor, error)
	SearchActors(ctx context.Context, query string, limit int) ([]domain.Actor, error)
	UpdateActorProfile(ctx context.Context, a *domain.Actor) error
	DeleteActor(ctx context.Context, id uuid.UUID, federationID string) error

	CreateFollow(ctx context.Context, followerID uuid.UUID, followeeURI string, at time.Time) (bool, error)
	DeleteFollow(ctx context.Context, followerID uuid.UUID, followeeURI string) (bool, error)
	ReadFollowerURIs(ctx context.Context, followeeURI string) ([]string, error)
	CountFollowers(ctx context.Context, followeeURI string) (int, error)
	CountFollowing(ctx context.Context, followerID uuid.UUID) (int, error)
}

// Notifier receives the notifications the directory raises.
type Notifier interface {
	Create(ctx context.Context, req notifications.CreateRequest) (*domain.Notification, error)
}

// KeyGenerator produces the signing keypair of a new actor.
type KeyGenerator func() (*util.RsaKeyPair, error)

// Hasher turns credentials into stored hashes and checks them.
type Hasher interface {
	Hash(credential string) (string, error)
	Compare(hash, credential string) bool
}

type bcryptHasher struct{}

func (bcryptHasher) Hash(credential string) (string, error) { return util.HashCredential(credential) }
func (bcryptHasher) Compare(hash, credential string) bool  { return util.CheckCredential(hash, credential) }

// BcryptHasher is the production Hasher.
func BcryptHasher() Hasher { return bcryptHasher{} }

type Options struct {
	// Domain is the host local actors live on.
	Domain             string
	MinPasswordEntropy float64
	Clock              util.Clock
}

type Directory struct {
	store    Store
	keygen   KeyGenerator
	hasher   Hasher
	notifier Notifier
	opts     Options
}

func NewDirectory(store Store, keygen KeyGenerator, hasher Hasher, notifier Notifier, opts Options) *Directory {
	if keygen == nil {
		keygen = util.GeneratePemKeypair
	}
	if hasher == nil {
		hasher = BcryptHasher()
	}
	if opts.Clock == nil {
		opts.Clock = util.RealClock()
	}
	return &Directory{store: store, keygen: keygen, hasher: hasher, notifier: notifier, opts: opts}
}

// Domain is the host local actors are created on.
func (d *Directory) Domain() string {
	return d.opts.Domain
}

type CreateActorRequest struct {
	Handle      string `json:"handle"`
	Credential  string `json:"password"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// CreateLocalActor registers a new local actor with a fresh keypair. The
// returned actor carries neither the credential hash nor the private key.
func (d *Directory) CreateLocalActor(ctx context.Context, req CreateActorRequest) (*domain.Actor, error) {
	handle := util.NormalizeHandle(req.Handle)
	if handle == "" {
		return nil, domain.NewValidationError("handle is required")
	}
	if !util.ValidHandle(handle) {
		return nil, domain.NewValidationError("handle %q may only contain a-z, 0-9 and _ (max 30)", handle)
	}
	if req.Credential == "" {
		return nil, domain.NewValidationError("password is required")
	}
	if d.opts.MinPasswordEntropy > 0 {
		if err := passwordvalidator.Validate(req.Credential, d.opts.MinPasswordEntropy); err != nil {
			return nil, domain.NewValidationError("password too weak: %v", err)
		}
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, domain.NewValidationError("invalid email %q", req.Email)
		}
	}

	existing, err := d.store.ReadLocalActorByHandle(ctx, handle)
	if err != nil {
		return nil, domain.NewServerError("failed to check handle", err)
	}
	if existing != nil {
		return nil, domain.NewConflictError("handle %q is already taken", handle)
	}
	if email != "" {
		existing, err = d.store.ReadActorByEmail(ctx, email)
		if err != nil {
			return nil, domain.NewServerError("failed to check email", err)
		}
		if existing != nil {
			return nil, domain.NewConflictError("email is already registered")
		}
	}

	keypair, err := d.keygen()
	if err != nil {
		return nil, domain.NewServerError("failed to generate keypair", err)
	}
	hash, err := d.hasher.Hash(req.Credential)
	if err != nil {
		return nil, domain.NewServerError("failed to hash password", err)
	}

	now := d.opts.Clock.Now()
	fid := util.GetIRI(d.opts.Domain, handle, util.ActionId)
	actor := &domain.Actor{
		Id:           uuid.New(),
		FederationID: fid,
		Handle:       handle,
		FullHandle:   handle + "@" + d.opts.Domain,
		DisplayName:  util.StripHTML(req.DisplayName),
		Email:        email,
		PasswordHash: hash,
		InboxURI:     util.GetIRI(d.opts.Domain, handle, util.ActionInbox),
		OutboxURI:    util.GetIRI(d.opts.Domain, handle, util.ActionOutbox),
		FollowersURI: util.GetIRI(d.opts.Domain, handle, util.ActionFollowers),
		FollowingURI: util.GetIRI(d.opts.Domain, handle, util.ActionFollowing),
		PublicKey: domain.PublicKey{
			ID:           util.KeyID(fid),
			Owner:        fid,
			PublicKeyPem: keypair.Public,
		},
		PrivateKeyPem: keypair.Private,
		Following:     []string{},
		Host:          d.opts.Domain,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := d.store.CreateActor(ctx, actor); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return nil, domain.NewConflictError("handle %q or email is already taken", handle)
		}
		return nil, domain.NewServerError("failed to create actor", err)
	}

	log.Info("actor created", "actor", actor.Id, "handle", actor.FullHandle)
	return actor.Public(), nil
}

func (d *Directory) lookup(read func() (*domain.Actor, error)) (*domain.Actor, error) {
	a, err := read()
	if err != nil {
		return nil, domain.NewServerError("failed to read actor", err)
	}
	return a.Public(), nil
}

// GetByHandle returns the local actor with handle, or nil.
func (d *Directory) GetByHandle(ctx context.Context, handle string) (*domain.Actor, error) {
	return d.lookup(func() (*domain.Actor, error) {
		return d.store.ReadLocalActorByHandle(ctx, util.NormalizeHandle(handle))
	})
}

// GetByFederationID returns the local or cached remote actor, or nil.
func (d *Directory) GetByFederationID(ctx context.Context, federationID string) (*domain.Actor, error) {
	return d.lookup(func() (*domain.Actor, error) {
		return d.store.ReadActorByFederationID(ctx, federationID)
	})
}

func (d *Directory) GetByID(ctx context.Context, id uuid.UUID) (*domain.Actor, error) {
	return d.lookup(func() (*domain.Actor, error) {
		return d.store.ReadActorById(ctx, id)
	})
}

// UpdateProfileRequest lists the editable profile fields. Nil fields are
// left unchanged.
type UpdateProfileRequest struct {
	DisplayName *string `json:"displayName"`
	Summary     *string `json:"summary"`
	IconURL     *string `json:"iconUrl"`
}

func (d *Directory) UpdateProfile(ctx context.Context, id uuid.UUID, req UpdateProfileRequest) (*domain.Actor, error) {
	actor, err := d.store.ReadActorById(ctx, id)
	if err != nil {
		return nil, domain.NewServerError("failed to read actor", err)
	}
	if actor == nil || actor.Remote {
		return nil, domain.NewNotFoundError("actor", id)
	}

	if req.DisplayName != nil {
		actor.DisplayName = util.StripHTML(*req.DisplayName)
	}
	if req.Summary != nil {
		actor.Summary = util.StripHTML(*req.Summary)
	}
	if req.IconURL != nil {
		icon := strings.TrimSpace(*req.IconURL)
		if icon != "" {
			u, err := url.Parse(icon)
			if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
				return nil, domain.NewValidationError("iconUrl must be an http(s) URL")
			}
		}
		actor.IconURL = icon
	}
	actor.UpdatedAt = d.opts.Clock.Now()

	if err := d.store.UpdateActorProfile(ctx, actor); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, domain.NewNotFoundError("actor", id)
		}
		return nil, domain.NewServerError("failed to update profile", err)
	}
	return actor.Public(), nil
}

// Follow makes followerID follow the actor identified by followeeFederationID.
// A repeated follow is a no-op reported as applied=false.
func (d *Directory) Follow(ctx context.Context, followerID uuid.UUID, followeeFederationID string) (bool, error) {
	follower, err := d.store.ReadActorById(ctx, followerID)
	if err != nil {
		return false, domain.NewServerError("failed to read follower", err)
	}
	if follower == nil {
		return false, domain.NewNotFoundError("actor", followerID)
	}
	if follower.FederationID == followeeFederationID {
		return false, domain.NewValidationError("an actor cannot follow itself")
	}
	followee, err := d.store.ReadActorByFederationID(ctx, followeeFederationID)
	if err != nil {
		return false, domain.NewServerError("failed to read followee", err)
	}
	if followee == nil {
		return false, domain.NewNotFoundError("actor", followeeFederationID)
	}

	applied, err := d.store.CreateFollow(ctx, follower.Id, followee.FederationID, d.opts.Clock.Now())
	if err != nil {
		return false, domain.NewServerError("failed to follow", err)
	}
	if applied && !followee.Remote {
		d.notify(ctx, notifications.CreateRequest{
			RecipientID:    followee.Id,
			TriggerActorID: &follower.Id,
			Type:           domain.NotificationFollow,
		})
	}
	return applied, nil
}

// Unfollow removes the follow edge. Not following is a no-op.
func (d *Directory) Unfollow(ctx context.Context, followerID uuid.UUID, followeeFederationID string) (bool, error) {
	follower, err := d.store.ReadActorById(ctx, followerID)
	if err != nil {
		return false, domain.NewServerError("failed to read follower", err)
	}
	if follower == nil {
		return false, domain.NewNotFoundError("actor", followerID)
	}
	applied, err := d.store.DeleteFollow(ctx, follower.Id, followeeFederationID)
	if err != nil {
		return false, domain.NewServerError("failed to unfollow", err)
	}
	return applied, nil
}

// Followers returns the federation ids following federationID.
func (d *Directory) Followers(ctx context.Context, federationID string) ([]string, error) {
	ids, err := d.store.ReadFollowerURIs(ctx, federationID)
	if err != nil {
		return nil, domain.NewServerError("failed to read followers", err)
	}
	return ids, nil
}

func (d *Directory) FollowerCount(ctx context.Context, federationID string) (int, error) {
	n, err := d.store.CountFollowers(ctx, federationID)
	if err != nil {
		return 0, domain.NewServerError("failed to count followers", err)
	}
	return n, nil
}

func (d *Directory) FollowingCount(ctx context.Context, id uuid.UUID) (int, error) {
	n, err := d.store.CountFollowing(ctx, id)
	if err != nil {
		return 0, domain.NewServerError("failed to count following", err)
	}
	return n, nil
}

// Search matches query against handles and display names. limit is clamped
// to [1, MaxSearchLimit].
func (d *Directory) Search(ctx context.Context, query string, limit int) ([]*domain.Actor, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*domain.Actor{}, nil
	}
	if limit < 1 {
		limit = 1
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	found, err := d.store.SearchActors(ctx, query, limit)
	if err != nil {
		return nil, domain.NewServerError("failed to search actors", err)
	}
	out := make([]*domain.Actor, 0, len(found))
	for i := range found {
		out = append(out, found[i].Public())
	}
	return out, nil
}

// Authenticate checks a local actor's credential.
func (d *Directory) Authenticate(ctx context.Context, handle, credential string) (*domain.Actor, error) {
	actor, err := d.store.ReadLocalActorByHandle(ctx, util.NormalizeHandle(handle))
	if err != nil {
		return nil, domain.NewServerError("failed to read actor", err)
	}
	if actor == nil || !d.hasher.Compare(actor.PasswordHash, credential) {
		return nil, domain.NewUnauthorizedError("invalid handle or password")
	}
	return actor.Public(), nil
}

// UpsertRemoteActor caches an actor fetched from another server.
func (d *Directory) UpsertRemoteActor(ctx context.Context, actor *domain.Actor) (*domain.Actor, error) {
	if actor.FederationID == "" || actor.InboxURI == "" {
		return nil, domain.NewValidationError("remote actor needs an id and an inbox")
	}
	if actor.Host == d.opts.Domain {
		return nil, domain.NewValidationError("%s is a local actor", actor.FederationID)
	}

	cached := *actor
	now := d.opts.Clock.Now()
	if cached.Id == uuid.Nil {
		cached.Id = uuid.New()
	}
	cached.Remote = true
	cached.CreatedAt, cached.UpdatedAt = now, now

	stored, err := d.store.UpsertRemoteActor(ctx, &cached)
	if err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return nil, domain.NewConflictError("remote actor %s collides with a known actor", actor.FullHandle)
		}
		return nil, domain.NewServerError("failed to cache remote actor", err)
	}
	if stored == nil || !stored.Remote {
		return nil, domain.NewConflictError("%s is a local actor", actor.FederationID)
	}
	return stored.Public(), nil
}

// Delete removes an actor together with everything that references it, in
// one transaction.
func (d *Directory) Delete(ctx context.Context, id uuid.UUID) error {
	actor, err := d.store.ReadActorById(ctx, id)
	if err != nil {
		return domain.NewServerError("failed to read actor", err)
	}
	if actor == nil {
		return domain.NewNotFoundError("actor", id)
	}
	if err := d.store.DeleteActor(ctx, actor.Id, actor.FederationID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return domain.NewNotFoundError("actor", id)
		}
		return domain.NewServerError("failed to delete actor", err)
	}
	log.Info("actor deleted", "actor", id, "handle", actor.FullHandle)
	return nil
}

func (d *Directory) notify(ctx context.Context, req notifications.CreateRequest) {
	if d.notifier == nil {
		return
	}
	if _, err := d.notifier.Create(ctx, req); err != nil {
		log.Warn("failed to create notification", "type", req.Type, "recipient", req.RecipientID, "err", err)
	}
}

// ResolveMentions returns the distinct local actors mentioned in text, by
// bare handle or handle@<local domain>. Unknown handles are skipped.
func (d *Directory) ResolveMentions(ctx context.Context, text string) ([]*domain.Actor, error) {
	var out []*domain.Actor
	seen := make(map[string]bool)
	for _, m := range util.ExtractMentions(text) {
		if !m.IsLocal(d.opts.Domain) || seen[m.Handle] {
			continue
		}
		seen[m.Handle] = true
		actor, err := d.store.ReadLocalActorByHandle(ctx, m.Handle)
		if err != nil {
			return nil, domain.NewServerError("failed to resolve mention", err)
		}
		if actor != nil {
			out = append(out, actor.Public())
		}
	}
	return out, nil
}
