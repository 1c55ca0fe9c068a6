package gateway

import (
	"context"
	"log/slog"
	"sync"

	"hirenest-chat/internal/logger"
)

const defaultFeedBuffer = 64

type subscriber struct {
	ch  chan Change
	req SubscribeRequest
}

// Broadcaster fans row changes out to in-process subscribers
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{} // collection -> subscribers
	buffer int
	log    *slog.Logger
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold buffer events
func NewBroadcaster(buffer int, log *slog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultFeedBuffer
	}
	return &Broadcaster{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: buffer,
		log:    logger.OrDefault(log).With("component", "feed"),
	}
}

// Subscribe registers a subscriber for changes matching req
func (b *Broadcaster) Subscribe(ctx context.Context, req SubscribeRequest) *Subscription {
	s := &subscriber{ch: make(chan Change, b.buffer), req: req}

	b.mu.Lock()
	if b.subs[req.Collection] == nil {
		b.subs[req.Collection] = make(map[*subscriber]struct{})
	}
	b.subs[req.Collection][s] = struct{}{}
	count := len(b.subs[req.Collection])
	b.mu.Unlock()

	feedSubscribers.Inc()
	b.log.Debug("subscriber added", "collection", req.Collection, "subscribers", count)

	return NewSubscription(ctx, s.ch, func() { b.unsubscribe(s) })
}

func (b *Broadcaster) unsubscribe(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subs[s.req.Collection]
	if !ok {
		return
	}
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	close(s.ch)
	if len(subs) == 0 {
		delete(b.subs, s.req.Collection)
	}
	feedSubscribers.Dec()
	b.log.Debug("subscriber removed", "collection", s.req.Collection)
}

// Publish delivers a change to every matching subscriber without blocking.
// A subscriber whose buffer is full misses the event.
func (b *Broadcaster) Publish(change Change) {
	// Held for the whole fan-out so unsubscribe cannot close a channel mid-send
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs[change.Collection] {
		if !wantsEvent(s.req, change.Type) || !Matches(change.Row, s.req.Filters) {
			continue
		}
		select {
		case s.ch <- change:
		default:
			feedDropped.Inc()
			b.log.Warn("subscriber buffer full, dropping change",
				"collection", change.Collection, "type", change.Type, "id", change.Row["id"])
		}
	}
}

// SubscriberCount returns the number of subscribers on a collection
func (b *Broadcaster) SubscriberCount(collection string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[collection])
}

// TotalSubscriberCount returns the number of subscribers across collections
func (b *Broadcaster) TotalSubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, subs := range b.subs {
		total += len(subs)
	}
	return total
}
