// Package feed keeps at most one live notice subscription open and
// republishes its snapshots to local observers.
package feed

import (
	"fmt"
	"sync"

	"github.com/lalith-99/qssma-portal/internal/gateway"
	"github.com/lalith-99/qssma-portal/internal/models"
	"go.uber.org/zap"
)

type State int

const (
	Idle State = iota
	Subscribing
	Live
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Subscribing:
		return "subscribing"
	case Live:
		return "live"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Source opens live notice subscriptions.
type Source interface {
	SubscribeActiveNotices(onChange func([]models.Notice)) gateway.Subscription
}

// Observer receives every applied snapshot. It runs on the delivery
// goroutine and must not call Stop.
type Observer func([]models.Notice)

type observerEntry struct {
	id uint64
	fn Observer
}

type Synchronizer struct {
	src     Source
	logger  *zap.Logger
	metrics *Collector

	mu        sync.Mutex
	state     State
	gen       uint64
	handle    gateway.Subscription
	current   []models.Notice
	observers []observerEntry
	nextID    uint64

	// deliverMu is held for a whole delivery, so Stop can wait for one in
	// flight and nothing reaches an observer after Stop returns.
	deliverMu sync.Mutex
}

func NewSynchronizer(src Source, metrics *Collector, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetricsCollector()
	}
	return &Synchronizer{src: src, logger: logger, metrics: metrics}
}

// Start opens the subscription. It is a no-op unless the feed is Idle.
func (s *Synchronizer) Start() {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	s.state = Subscribing
	s.mu.Unlock()

	handle := s.src.SubscribeActiveNotices(func(notices []models.Notice) {
		s.receive(gen, notices)
	})
	s.metrics.subscriptions.Inc()

	s.mu.Lock()
	if s.gen != gen {
		// Stopped while subscribing.
		s.mu.Unlock()
		handle.Cancel()
		return
	}
	s.handle = handle
	s.mu.Unlock()
	s.logger.Debug("notice feed subscribed")
}

// Stop cancels the subscription and returns the feed to Idle. It is safe
// to call at any time. Once it returns no observer is called for the
// stopped subscription.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	s.gen++
	handle := s.handle
	wasActive := s.state != Idle
	s.handle = nil
	s.state = Idle
	s.current = nil
	s.mu.Unlock()

	if handle != nil {
		handle.Cancel()
	}
	// Wait out an in-flight delivery.
	s.deliverMu.Lock()
	s.deliverMu.Unlock()
	s.metrics.activeNotices.Set(0)
	if wasActive {
		s.logger.Debug("notice feed stopped")
	}
}

func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns a copy of the latest snapshot. It is empty while the
// feed is not Live.
func (s *Synchronizer) Current() []models.Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Notice, len(s.current))
	copy(out, s.current)
	return out
}

// Observe registers fn for every future snapshot. The returned func
// removes it.
func (s *Synchronizer) Observe(fn Observer) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.observers = append(s.observers, observerEntry{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, o := range s.observers {
				if o.id == id {
					s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// receive applies a snapshot from subscription gen. Snapshots replace the
// current list wholesale; they are never merged.
func (s *Synchronizer) receive(gen uint64, notices []models.Notice) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.gen != gen || s.state == Idle {
		s.mu.Unlock()
		return
	}
	snapshot := make([]models.Notice, len(notices))
	copy(snapshot, notices)
	s.current = snapshot
	s.state = Live
	observers := make([]observerEntry, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	s.metrics.snapshots.Inc()
	s.metrics.activeNotices.Set(float64(len(snapshot)))

	for _, o := range observers {
		out := make([]models.Notice, len(snapshot))
		copy(out, snapshot)
		s.notify(o, out)
	}
}

func (s *Synchronizer) notify(o observerEntry, notices []models.Notice) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.observerPanics.Inc()
			s.logger.Error("feed observer panicked", zap.Uint64("observer", o.id), zap.Any("panic", r))
		}
	}()
	o.fn(notices)
}
