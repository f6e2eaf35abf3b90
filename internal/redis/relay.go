package redisclient

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/medoswift-realtime/internal/realtime"
)

const EventsChannel = "medoswift:events"

// Deliverer hands a relayed event to the local connections.
type Deliverer interface {
	Deliver(ev realtime.Event) int
}

const (
	outboxSize     = 1024
	publishTimeout = 250 * time.Millisecond
)

// Relay publishes events on a Redis channel so every api-server process
// delivers them to its own connections. It implements realtime.Publisher.
// Publish only queues the event; Run drains the queue. Delivery stays
// best-effort: events published while a process is not subscribed are lost
// for that process.
type Relay struct {
	client  *redis.Client
	local   Deliverer
	channel string
	outbox  chan realtime.Event
	timeout time.Duration
}

func NewRelay(client *redis.Client, local Deliverer) *Relay {
	return &Relay{
		client:  client,
		local:   local,
		channel: EventsChannel,
		outbox:  make(chan realtime.Event, outboxSize),
		timeout: publishTimeout,
	}
}

// Publish never waits on Redis. When the outbox is full the event goes to
// this process's connections only.
func (r *Relay) Publish(topic, event string, payload any) {
	ev, err := realtime.NewEvent(topic, event, payload)
	if err != nil {
		log.Printf("relay publish dropped topic=%s event=%s err=%v", topic, event, err)
		return
	}

	select {
	case r.outbox <- ev:
	default:
		log.Printf("relay outbox full topic=%s event=%s, delivering locally", topic, event)
		r.local.Deliver(ev)
	}
}

func (r *Relay) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.outbox:
			r.send(ctx, ev)
		}
	}
}

func (r *Relay) send(ctx context.Context, ev realtime.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("relay encode failed topic=%s event=%s err=%v", ev.Topic, ev.Name, err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Publish(pubCtx, r.channel, data).Err(); err != nil {
		// Redis is down; this process's clients still get the event.
		log.Printf("relay publish failed channel=%s err=%v, delivering locally", r.channel, err)
		r.local.Deliver(ev)
	}
}

// Run delivers relayed events to the local hub until ctx is cancelled.
// It also publishes queued events for the same lifetime.
func (r *Relay) Run(ctx context.Context) error {
	go r.drain(ctx)

	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	log.Printf("relay listening channel=%s", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev realtime.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("relay dropped malformed event err=%v", err)
				continue
			}
			r.local.Deliver(ev)
		}
	}
}
