// Package bus carries "something changed" events between the process that
// writes a collection and every device subscribed to it. Events carry no
// payload: subscribers re-read the collection, so a dropped or coalesced
// event never leaves a subscriber with a partial view.
package bus

import (
	"context"
	"sync"
)

// TopicNotices is published after every successful notice write.
const TopicNotices = "qssma:notices:changed"

type Bus interface {
	Publish(ctx context.Context, topic string) error

	// Subscribe returns a channel that receives one value per event (events
	// may be coalesced when the subscriber is slow) and a cancel func that
	// closes the channel. Cancel is safe to call more than once.
	Subscribe(ctx context.Context, topic string) (<-chan struct{}, func())
}

// Memory is an in-process Bus for a single device or tests.
type Memory struct {
	mu   sync.Mutex
	subs map[string]map[*memorySub]struct{}
}

type memorySub struct {
	ch   chan struct{}
	done chan struct{}
	once sync.Once
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[*memorySub]struct{})}
}

func (m *Memory) Publish(_ context.Context, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs[topic] {
		notify(sub.ch)
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, topic string) (<-chan struct{}, func()) {
	sub := &memorySub{ch: make(chan struct{}, 1), done: make(chan struct{})}

	m.mu.Lock()
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[*memorySub]struct{})
	}
	m.subs[topic][sub] = struct{}{}
	m.mu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			m.mu.Lock()
			delete(m.subs[topic], sub)
			close(sub.ch)
			m.mu.Unlock()
			close(sub.done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()
	return sub.ch, cancel
}

// notify never blocks: a pending event already tells the subscriber to
// re-read.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
