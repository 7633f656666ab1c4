package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Publisher pushes freshly created notifications to real-time listeners.
type Publisher interface {
	Publish(ctx context.Context, n *domain.Notification) error
}

// ActorChannel is the pub/sub channel carrying an actor's notifications.
func ActorChannel(actorID uuid.UUID) string {
	return fmt.Sprintf("notifications:actor:%s", actorID)
}

// RedisPublisher publishes notifications as JSON on per-actor Redis channels.
// A nil client turns every call into a no-op.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, n *domain.Notification) error {
	if p.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return p.rdb.Publish(ctx, ActorChannel(n.RecipientID), payload).Err()
}

// Subscribe delivers every payload published for actorID to onMessage until
// ctx is cancelled.
func (p *RedisPublisher) Subscribe(ctx context.Context, actorID uuid.UUID, onMessage func(payload string)) error {
	if p.rdb == nil {
		return nil
	}
	sub := p.rdb.Subscribe(ctx, ActorChannel(actorID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", ActorChannel(actorID), err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Error("panic in notification subscriber", "err", r, "stack", string(debug.Stack()))
						}
					}()
					onMessage(msg.Payload)
				}()
			}
		}
	}()

	return nil
}
