package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	ErrUnknownChannel = errors.New("stream: unknown channel")
	ErrChannelClosed  = errors.New("stream: channel closed")
	ErrChannelExists  = errors.New("stream: channel already open")
)

// Broker fans events out per task. Each channel keeps an append-only log so
// late subscribers replay everything published so far before following live.
type Broker struct {
	mu       sync.RWMutex
	channels map[string]*channel
}

type channel struct {
	mu          sync.Mutex
	events      []Event
	closed      bool // no more publishes
	wake        chan struct{}
	subscribers int
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{channels: make(map[string]*channel)}
}

// Open creates the channel for id.
func (b *Broker) Open(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.channels[id]; ok {
		return ErrChannelExists
	}
	b.channels[id] = &channel{wake: make(chan struct{})}
	return nil
}

func (b *Broker) get(id string) *channel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.channels[id]
}

// Publish appends an event with the JSON encoding of payload. Publishing a
// terminal kind closes the channel for further publishes.
func (b *Broker) Publish(id string, kind Kind, payload interface{}) (Event, error) {
	ch := b.get(id)
	if ch == nil {
		return Event{}, ErrUnknownChannel
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("stream: marshal %s payload: %w", kind, err)
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return Event{}, ErrChannelClosed
	}
	ev := Event{Seq: len(ch.events) + 1, Kind: kind, Data: data}
	ch.events = append(ch.events, ev)
	if kind.Terminal() {
		ch.closed = true
	}
	ch.broadcast()
	return ev, nil
}

// Close forcibly tears down the channel for id without publishing anything.
// Waiting subscribers drain what was already logged and then end.
func (b *Broker) Close(id string) error {
	b.mu.Lock()
	ch, ok := b.channels[id]
	delete(b.channels, id)
	b.mu.Unlock()
	if !ok {
		return ErrUnknownChannel
	}
	ch.mu.Lock()
	ch.closed = true
	ch.broadcast()
	ch.mu.Unlock()
	return nil
}

// Subscribers returns the number of active subscriptions on id.
func (b *Broker) Subscribers(id string) int {
	ch := b.get(id)
	if ch == nil {
		return 0
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.subscribers
}

// broadcast wakes every waiter; callers hold ch.mu.
func (ch *channel) broadcast() {
	close(ch.wake)
	ch.wake = make(chan struct{})
}

// Subscribe returns a cursor positioned at the start of id's log. For an
// unknown id the subscription yields a single synthetic error event.
func (b *Broker) Subscribe(id string) *Subscription {
	ch := b.get(id)
	if ch == nil {
		data, _ := json.Marshal(ErrorPayload{Message: "task not found"})
		return &Subscription{missing: &Event{Seq: 0, Kind: KindError, Data: data}}
	}
	ch.mu.Lock()
	ch.subscribers++
	ch.mu.Unlock()
	return &Subscription{ch: ch}
}

// Subscription reads one task's events in publish order.
type Subscription struct {
	ch      *channel
	cursor  int
	done    bool
	missing *Event
	once    sync.Once
}

// Next blocks until the next event is available. It returns io.EOF after the
// terminal event has been delivered or once the channel was force-closed and
// drained, and ctx.Err() if ctx ends first.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	if s.done {
		return Event{}, io.EOF
	}
	if s.ch == nil {
		s.done = true
		if s.missing != nil {
			return *s.missing, nil
		}
		return Event{}, io.EOF
	}
	for {
		s.ch.mu.Lock()
		if s.cursor < len(s.ch.events) {
			ev := s.ch.events[s.cursor]
			s.cursor++
			s.ch.mu.Unlock()
			if ev.Kind.Terminal() {
				s.finish()
			}
			return ev, nil
		}
		if s.ch.closed {
			s.ch.mu.Unlock()
			s.finish()
			return Event{}, io.EOF
		}
		wake := s.ch.wake
		s.ch.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-wake:
		}
	}
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.finish()
}

func (s *Subscription) finish() {
	s.done = true
	s.once.Do(func() {
		if s.ch == nil {
			return
		}
		s.ch.mu.Lock()
		s.ch.subscribers--
		s.ch.mu.Unlock()
	})
}
