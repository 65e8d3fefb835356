package offline

import (
	"sync"
)

const (
	// EventInstalled: a new generation is cached and waiting.
	EventInstalled = "installed"
	// EventControllerChange: a new generation took over. Pages reload once.
	EventControllerChange = "controllerchange"
)

type Event struct {
	Type       string `json:"type"`
	Generation string `json:"generation"`
}

// Broadcaster fans lifecycle events out to connected UI clients. A client
// that is not keeping up misses events rather than blocking activation.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uint64]chan Event
	nextID uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]chan Event)}
}

func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	ch := make(chan Event, 4)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

func (b *Broadcaster) Broadcast(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// ReloadGuard reloads a client at most once, however many
// controllerchange events it sees.
type ReloadGuard struct {
	once   sync.Once
	reload func()
}

func NewReloadGuard(reload func()) *ReloadGuard {
	return &ReloadGuard{reload: reload}
}

// ControllerChanged reports whether this call triggered the reload.
func (g *ReloadGuard) ControllerChanged() bool {
	fired := false
	g.once.Do(func() {
		fired = true
		g.reload()
	})
	return fired
}
