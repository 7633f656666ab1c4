package activitypub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedigraph/db"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/util"
	"github.com/google/uuid"
)

// ObjectRef is an activity field that is either an IRI or an embedded
// object. Value, when set, is marshalled in place of the IRI.
type ObjectRef struct {
	ID    string
	Value any
	raw   json.RawMessage
}

func (r ObjectRef) MarshalJSON() ([]byte, error) {
	if r.Value != nil {
		return json.Marshal(r.Value)
	}
	return json.Marshal(r.ID)
}

func (r *ObjectRef) UnmarshalJSON(b []byte) error {
	r.raw = append(json.RawMessage(nil), b...)
	var iri string
	if err := json.Unmarshal(b, &iri); err == nil {
		r.ID = iri
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	r.ID = obj.ID
	return nil
}

// Embedded decodes an embedded activity. It reports false for bare IRIs.
func (r ObjectRef) Embedded() (*Activity, bool) {
	if !bytes.HasPrefix(bytes.TrimSpace(r.raw), []byte("{")) {
		return nil, false
	}
	var inner Activity
	if err := json.Unmarshal(r.raw, &inner); err != nil {
		return nil, false
	}
	return &inner, true
}

// Audience is an addressing field, which may be a single IRI or a list.
type Audience []string

func (a *Audience) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*a = Audience{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*a = many
	return nil
}

// Activity represents a generic ActivityPub activity
type Activity struct {
	Context   any       `json:"@context,omitempty"`
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Actor     ObjectRef `json:"actor"`
	Published string    `json:"published,omitempty"`
	To        Audience  `json:"to,omitempty"`
	Cc        Audience  `json:"cc,omitempty"`
	Object    ObjectRef `json:"object"`
}

// Handler processes one verified activity addressed to target.
type Handler func(ctx context.Context, target, sender *domain.Actor, activity *Activity) error

var errNotAddressed = errors.New("activity is not addressed to the inbox owner")

// RegisterHandler installs h for activities of type activityType, replacing
// any built-in handler. It must be called before the gateway serves requests.
func (g *Gateway) RegisterHandler(activityType string, h Handler) {
	g.handlers[activityType] = h
}

// ReceiveActivity records an activity posted to a local actor's inbox and,
// when its signature verifies, dispatches it by type. Activities that are
// unsigned, unverifiable, unhandled or fail in their handler stay stored as
// unprocessed. A repeated activity id is accepted without a second dispatch.
func (g *Gateway) ReceiveActivity(ctx context.Context, handle string, body []byte, r *http.Request) error {
	target, err := g.store.ReadLocalActorByHandle(ctx, util.NormalizeHandle(handle))
	if err != nil {
		return domain.NewServerError("failed to read inbox owner", err)
	}
	if target == nil {
		return domain.NewNotFoundError("actor", handle)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil || envelope == nil {
		return domain.NewValidationError("activity must be a JSON object")
	}

	activity := decodeEnvelope(envelope)

	record := &domain.InboxActivity{
		Id:            uuid.New(),
		TargetActorID: target.Id,
		ActivityID:    activity.ID,
		Type:          activity.Type,
		ActorURI:      activity.Actor.ID,
		ObjectURI:     activity.Object.ID,
		RawJSON:       string(body),
		CreatedAt:     g.opts.Clock.Now(),
	}
	if err := g.store.CreateInboxActivity(ctx, record); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			log.Info("inbox: duplicate activity ignored", "target", target.Handle, "activity", activity.ID)
			return nil
		}
		return domain.NewServerError("failed to store activity", err)
	}
	log.Info("inbox: received", "target", target.Handle, "type", activity.Type, "actor", activity.Actor.ID)

	g.dispatch(ctx, target, record, &activity, body, r)
	return nil
}

// decodeEnvelope reads each activity field on its own, so a field in an
// unexpected shape only loses that field.
func decodeEnvelope(envelope map[string]json.RawMessage) Activity {
	var activity Activity
	fields := map[string]any{
		"@context":  &activity.Context,
		"id":        &activity.ID,
		"type":      &activity.Type,
		"actor":     &activity.Actor,
		"published": &activity.Published,
		"to":        &activity.To,
		"cc":        &activity.Cc,
		"object":    &activity.Object,
	}
	for name, dst := range fields {
		raw, ok := envelope[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			log.Debug("inbox: activity field not understood", "field", name, "err", err)
		}
	}
	return activity
}

func (g *Gateway) dispatch(ctx context.Context, target *domain.Actor, record *domain.InboxActivity, activity *Activity, body []byte, r *http.Request) {
	handler, ok := g.handlers[activity.Type]
	if !ok {
		log.Debug("inbox: no handler", "type", activity.Type)
		return
	}

	sender, err := g.verify(ctx, target, activity, body, r)
	if err != nil {
		log.Warn("inbox: unverified activity left unprocessed", "activity", record.Id, "actor", activity.Actor.ID, "err", err)
		return
	}

	if err := handler(ctx, target, sender, activity); err != nil {
		log.Warn("inbox: handler failed", "type", activity.Type, "activity", record.Id, "err", err)
		return
	}

	if err := g.store.MarkInboxActivityProcessed(ctx, record.Id); err != nil {
		log.Error("inbox: failed to mark activity processed", "activity", record.Id, "err", err)
	}
}

// verify checks the body digest and HTTP signature and returns the signing
// actor, who must be the activity's actor.
func (g *Gateway) verify(ctx context.Context, target *domain.Actor, activity *Activity, body []byte, r *http.Request) (*domain.Actor, error) {
	if r == nil || r.Header.Get("Signature") == "" {
		return nil, errors.New("missing signature")
	}
	if err := checkDate(r, g.opts.Clock.Now()); err != nil {
		return nil, err
	}
	if err := verifyDigest(r, body); err != nil {
		return nil, err
	}

	keyID, err := SignatureKeyID(r)
	if err != nil {
		return nil, err
	}
	owner := KeyOwner(keyID)
	if owner == "" || owner != activity.Actor.ID {
		return nil, fmt.Errorf("signed by %q on behalf of %q", owner, activity.Actor.ID)
	}

	sender, err := g.resolver.Resolve(ctx, owner, target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve signer: %w", err)
	}
	if sender.PublicKey.ID != "" && sender.PublicKey.ID != keyID {
		return nil, fmt.Errorf("key %s does not belong to %s", keyID, owner)
	}
	if _, err := VerifyRequest(r, sender.PublicKey.PublicKeyPem); err != nil {
		return nil, err
	}
	return sender, nil
}

func (g *Gateway) handleFollow(ctx context.Context, target, sender *domain.Actor, activity *Activity) error {
	if activity.Object.ID != target.FederationID {
		return errNotAddressed
	}
	applied, err := g.directory.Follow(ctx, sender.Id, target.FederationID)
	if err != nil {
		return err
	}
	log.Info("inbox: follow", "follower", sender.FullHandle, "followee", target.Handle, "applied", applied)
	return nil
}

// targetPost resolves the local post an activity refers to. Only posts by
// the inbox owner are accepted.
func (g *Gateway) targetPost(ctx context.Context, target *domain.Actor, iri string) (uuid.UUID, error) {
	postID, ok := util.ParsePostIRI(g.opts.Domain, iri)
	if !ok {
		return uuid.Nil, fmt.Errorf("%s is not a local post", iri)
	}
	post, err := g.posts.GetPost(ctx, postID)
	if err != nil {
		return uuid.Nil, err
	}
	if post == nil {
		return uuid.Nil, domain.NewNotFoundError("post", postID)
	}
	if post.AuthorID != target.Id {
		return uuid.Nil, errNotAddressed
	}
	return postID, nil
}

type postMutation func(ctx context.Context, postID, actorID uuid.UUID) (*domain.Post, bool, error)

func (g *Gateway) mutatePost(ctx context.Context, target, sender *domain.Actor, iri string, op postMutation) error {
	postID, err := g.targetPost(ctx, target, iri)
	if err != nil {
		return err
	}
	_, _, err = op(ctx, postID, sender.Id)
	return err
}

func (g *Gateway) handleLike(ctx context.Context, target, sender *domain.Actor, activity *Activity) error {
	return g.mutatePost(ctx, target, sender, activity.Object.ID, g.posts.Like)
}

func (g *Gateway) handleAnnounce(ctx context.Context, target, sender *domain.Actor, activity *Activity) error {
	return g.mutatePost(ctx, target, sender, activity.Object.ID, g.posts.Share)
}

// handleUndo reverts a Follow, Like or Announce. The undone activity is
// taken from the embedded object or, for a bare IRI, from the inbox log.
func (g *Gateway) handleUndo(ctx context.Context, target, sender *domain.Actor, activity *Activity) error {
	inner, ok := activity.Object.Embedded()
	if !ok {
		stored, err := g.store.ReadInboxActivityByActivityID(ctx, target.Id, activity.Object.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			return fmt.Errorf("undone activity %s is unknown", activity.Object.ID)
		}
		inner = &Activity{}
		if err := json.Unmarshal([]byte(stored.RawJSON), inner); err != nil {
			return fmt.Errorf("failed to parse undone activity: %w", err)
		}
	}
	if inner.Actor.ID != sender.FederationID {
		return fmt.Errorf("%s cannot undo an activity of %s", sender.FederationID, inner.Actor.ID)
	}

	switch inner.Type {
	case "Follow":
		if inner.Object.ID != target.FederationID {
			return errNotAddressed
		}
		_, err := g.directory.Unfollow(ctx, sender.Id, target.FederationID)
		return err
	case "Like":
		return g.mutatePost(ctx, target, sender, inner.Object.ID, g.posts.Unlike)
	case "Announce":
		return g.mutatePost(ctx, target, sender, inner.Object.ID, g.posts.Unshare)
	default:
		return fmt.Errorf("undo of %q is not supported", inner.Type)
	}
}
