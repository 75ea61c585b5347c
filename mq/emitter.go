package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"emporium/models"

	"github.com/redis/go-redis/v9"
)

const OrderEventsChannel = "order-events"

// Emitter publishes order events to Redis.
type Emitter struct {
	client  *redis.Client
	channel string
}

func NewEmitter(client *redis.Client) *Emitter {
	return &Emitter{client: client, channel: OrderEventsChannel}
}

// Emit publishes ev. Delivery is best effort: a failure is logged, never
// returned, so it cannot fail the request that produced the event.
func (e *Emitter) Emit(ctx context.Context, ev models.OrderEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[Emit] Failed to marshal event: %v", err)
		return
	}
	if err := e.client.Publish(ctx, e.channel, data).Err(); err != nil {
		log.Printf("[Emit] Failed to publish %s for order %s: %v", ev.Type, ev.OrderID, err)
	}
}

// Subscribe delivers every event on the channel to handle until ctx is done.
func Subscribe(ctx context.Context, client *redis.Client, handle func(models.OrderEvent)) error {
	sub := client.Subscribe(ctx, OrderEventsChannel)
	defer sub.Close()

	// wait for the subscription to be confirmed before reading
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", OrderEventsChannel, err)
	}
	log.Printf("[OrderEvents] Listening on %s", OrderEventsChannel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev models.OrderEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("[OrderEvents] Failed to parse event: %v", err)
				continue
			}
			handle(ev)
		}
	}
}
