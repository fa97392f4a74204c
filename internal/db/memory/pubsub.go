package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/kailas-cloud/livedoc/internal/db"
)

const subscriberBuffer = 64

type subscriber struct {
	msgs chan []byte
	done chan struct{} // closed once the subscriber leaves or the store closes
}

type topic struct {
	subscribers []*subscriber
}

type registry struct {
	mu     sync.Mutex
	topics map[string]*topic
	closed bool
}

func newRegistry() *registry {
	return &registry{topics: make(map[string]*topic)}
}

func (r *registry) subscribe(key string) (*subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("store closed")
	}
	sub := &subscriber{msgs: make(chan []byte, subscriberBuffer), done: make(chan struct{})}
	t, ok := r.topics[key]
	if !ok {
		t = &topic{}
		r.topics[key] = t
	}
	t.subscribers = append(t.subscribers, sub)
	return sub, nil
}

func (r *registry) unsubscribe(key string, sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[key]
	if !ok {
		return
	}
	for i, cur := range t.subscribers {
		if cur == sub {
			t.subscribers[i] = t.subscribers[len(t.subscribers)-1]
			t.subscribers = t.subscribers[:len(t.subscribers)-1]
			close(sub.done)
			break
		}
	}
	if len(t.subscribers) == 0 {
		delete(r.topics, key)
	}
}

// subscribersOf snapshots the subscriber list so publishing does not hold the lock.
func (r *registry) subscribersOf(key string) []*subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[key]
	if !ok {
		return nil
	}
	return append([]*subscriber(nil), t.subscribers...)
}

func (r *registry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for key, t := range r.topics {
		for _, sub := range t.subscribers {
			close(sub.done)
		}
		delete(r.topics, key)
	}
}

// Publish delivers payload to every current subscriber of channel, in order.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	for _, sub := range s.topics.subscribersOf(channel) {
		if err := sub.send(ctx, payload); err != nil {
			return &db.Error{Op: db.OpPublish, Err: err}
		}
	}
	return nil
}

// send skips a subscriber that left between snapshot and delivery.
func (sub *subscriber) send(ctx context.Context, payload []byte) error {
	select {
	case sub.msgs <- payload:
		return nil
	case <-sub.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe calls fn for every message on channel until ctx is done or the store closes.
func (s *Store) Subscribe(ctx context.Context, channel string, fn func(payload []byte)) error {
	sub, err := s.topics.subscribe(channel)
	if err != nil {
		return &db.Error{Op: db.OpSubscribe, Err: err}
	}
	defer s.topics.unsubscribe(channel, sub)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.done:
			return nil
		case payload := <-sub.msgs:
			fn(payload)
		}
	}
}
