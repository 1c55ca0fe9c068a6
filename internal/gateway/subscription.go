package gateway

import (
	"context"
	"fmt"
	"sync"
)

// Subscription is a cancellable change feed. Events is closed once the
// subscription is released.
type Subscription struct {
	events  <-chan Change
	done    chan struct{}
	once    sync.Once
	release func()
}

// NewSubscription wraps a feed channel. release is called exactly once, on Close
// or when ctx ends, and must arrange for events to be closed.
func NewSubscription(ctx context.Context, events <-chan Change, release func()) *Subscription {
	s := &Subscription{
		events:  events,
		done:    make(chan struct{}),
		release: release,
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s
}

// Events returns the feed
func (s *Subscription) Events() <-chan Change {
	return s.events
}

// Done is closed when the subscription has been released
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.release != nil {
			s.release()
		}
	})
}

// Matches reports whether row satisfies every filter
func Matches(row Row, filters []Filter) bool {
	for _, f := range filters {
		v, ok := row[f.Column]
		switch f.Op {
		case OpIsNull:
			if ok && v != nil {
				return false
			}
		case OpEq:
			if !ok || !sameValue(v, f.Value) {
				return false
			}
		case OpIn:
			values, _ := f.Value.([]any)
			found := false
			for _, candidate := range values {
				if ok && sameValue(v, candidate) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// sameValue compares values that may have crossed a JSON boundary
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func wantsEvent(req SubscribeRequest, t ChangeType) bool {
	if len(req.Events) == 0 {
		return true
	}
	for _, e := range req.Events {
		if e == t {
			return true
		}
	}
	return false
}
