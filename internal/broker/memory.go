package broker

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process Broker for single-instance deployments and
// tests. Each subscriber drains its own buffered queue on a dedicated
// goroutine, so one slow handler cannot stall the others, while per-channel
// publish order is preserved per subscriber.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string]map[int]*memorySub
	nextID int
	closed bool
}

type memorySub struct {
	queue chan Event
	done  chan struct{}
	once  sync.Once
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[int]*memorySub)}
}

func (b *MemoryBroker) Publish(_ context.Context, channel string, ev Event) error {
	b.mu.Lock()
	targets := make([]*memorySub, 0, len(b.subs[channel]))
	for _, sub := range b.subs[channel] {
		targets = append(targets, sub)
	}
	b.mu.Unlock()
	for _, sub := range targets {
		select {
		case sub.queue <- ev:
		case <-sub.done:
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, channel string, fn Handler) (func(), error) {
	sub := &memorySub{queue: make(chan Event, 256), done: make(chan struct{})}

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]*memorySub)
	}
	id := b.nextID
	b.nextID++
	b.subs[channel][id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case ev := <-sub.queue:
				fn(ev)
			case <-sub.done:
				return
			}
		}
	}()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs[channel], id)
		b.mu.Unlock()
		sub.once.Do(func() { close(sub.done) })
	}
	return cancel, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.once.Do(func() { close(sub.done) })
		}
	}
	b.subs = make(map[string]map[int]*memorySub)
	return nil
}
