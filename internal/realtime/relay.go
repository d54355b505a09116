package realtime

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/BossHoder/kollector/internal/models"
)

// eventsChannel carries completion events from the worker process to the
// process holding the websocket connections.
const eventsChannel = "events:asset_processed"

// envelope wraps an event with its target identity for transit.
type envelope struct {
	OwnerID string                 `json:"ownerId"`
	Event   models.CompletionEvent `json:"event"`
}

// Publisher emits completion events onto the Redis channel. It satisfies the
// worker pool's Emitter; like the broadcaster, a missing transport is a
// logged no-op, never an error the pipeline sees.
type Publisher struct {
	client *redis.Client
}

// NewPublisher wraps an existing Redis connection.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Emit(ownerID string, event models.CompletionEvent) {
	if p == nil || p.client == nil {
		log.Printf("event emit skipped owner=%s: publisher not initialized", ownerID)
		return
	}
	raw, err := json.Marshal(envelope{OwnerID: ownerID, Event: event})
	if err != nil {
		log.Printf("marshal event envelope asset=%s: %v", event.AssetID, err)
		return
	}
	if err := p.client.Publish(context.Background(), eventsChannel, raw).Err(); err != nil {
		log.Printf("publish event asset=%s: %v", event.AssetID, err)
	}
}

// RunRelay subscribes to the events channel and forwards each event into the
// local hub. It blocks until ctx is cancelled. Delivery is best-effort:
// pub/sub does not buffer for absent subscribers, matching the event
// contract (events are notifications, the asset record is the durable truth).
func RunRelay(ctx context.Context, client *redis.Client, b *Broadcaster) error {
	sub := client.Subscribe(ctx, eventsChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("decode event envelope: %v", err)
				continue
			}
			b.Emit(env.OwnerID, env.Event)
		}
	}
}
