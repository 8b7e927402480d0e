package ordertest

import (
	"context"
	"sync"
)

type Event struct {
	RoutingKey string
	Payload    any
}

// Publisher records published events. Err, when set, is returned from
// every Publish after recording.
type Publisher struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (p *Publisher) Publish(_ context.Context, routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Event{RoutingKey: routingKey, Payload: payload})
	return p.Err
}

func (p *Publisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}
