package feed

import (
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/lalith-99/qssma-portal/internal/gateway"
	"github.com/lalith-99/qssma-portal/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// sourceFake hands out subscriptions whose callbacks the test drives.
type sourceFake struct {
	mu   sync.Mutex
	subs []*subFake
}

type subFake struct {
	mu        sync.Mutex
	onChange  func([]models.Notice)
	cancelled bool
}

func (s *subFake) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

func (s *subFake) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// push delivers even after Cancel, the way a slow teardown would.
func (s *subFake) push(notices ...models.Notice) {
	s.onChange(notices)
}

func (f *sourceFake) SubscribeActiveNotices(onChange func([]models.Notice)) gateway.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &subFake{onChange: onChange}
	f.subs = append(f.subs, sub)
	return sub
}

func (f *sourceFake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *sourceFake) last() *subFake {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[len(f.subs)-1]
}

func notice(id string, minute int) models.Notice {
	return models.Notice{
		ID:        id,
		Title:     "Aviso " + id,
		Body:      "corpo",
		Audience:  models.AudienceAll,
		Priority:  models.PriorityInformative,
		Active:    true,
		CreatedAt: time.Date(2026, 3, 1, 9, minute, 0, 0, time.UTC),
	}
}

func ids(notices []models.Notice) []string {
	out := make([]string, 0, len(notices))
	for _, n := range notices {
		out = append(out, n.ID)
	}
	return out
}

func TestStartIsIdempotent(t *testing.T) {
	c := qt.New(t)
	src := &sourceFake{}
	metrics := NewMetricsCollector()
	s := NewSynchronizer(src, metrics, nil)

	s.Start()
	s.Start()
	c.Assert(src.count(), qt.Equals, 1)
	c.Assert(s.State(), qt.Equals, Subscribing)

	src.last().push(notice("a", 1))
	c.Assert(s.State(), qt.Equals, Live)
	s.Start()
	c.Assert(src.count(), qt.Equals, 1)
	c.Assert(testutil.ToFloat64(metrics.subscriptions), qt.Equals, float64(1))
}

func TestStopIsSafeWhenIdle(t *testing.T) {
	c := qt.New(t)
	s := NewSynchronizer(&sourceFake{}, nil, nil)
	s.Stop()
	s.Stop()
	c.Assert(s.State(), qt.Equals, Idle)
}

func TestNoCallbacksAfterStop(t *testing.T) {
	c := qt.New(t)
	src := &sourceFake{}
	s := NewSynchronizer(src, nil, nil)

	var got [][]string
	s.Observe(func(n []models.Notice) { got = append(got, ids(n)) })

	s.Start()
	sub := src.last()
	sub.push(notice("a", 1))
	s.Stop()
	c.Assert(sub.isCancelled(), qt.IsTrue)

	sub.push(notice("a", 1), notice("b", 2))
	c.Assert(got, qt.DeepEquals, [][]string{{"a"}})
	c.Assert(s.Current(), qt.HasLen, 0)

	// A fresh Start opens a new subscription; the old one stays ignored.
	s.Start()
	c.Assert(src.count(), qt.Equals, 2)
	sub.push(notice("stale", 3))
	src.last().push(notice("c", 4))
	c.Assert(got, qt.DeepEquals, [][]string{{"a"}, {"c"}})
}

// A notice deleted by a manager disappears from the next snapshot without
// any refresh by the observer.
func TestSnapshotReplacesCurrent(t *testing.T) {
	c := qt.New(t)
	src := &sourceFake{}
	metrics := NewMetricsCollector()
	s := NewSynchronizer(src, metrics, nil)

	var rendered []string
	s.Observe(func(n []models.Notice) { rendered = ids(n) })

	s.Start()
	src.last().push(notice("b", 2), notice("a", 1))
	c.Assert(rendered, qt.DeepEquals, []string{"b", "a"})

	src.last().push(notice("a", 1))
	c.Assert(rendered, qt.DeepEquals, []string{"a"})
	c.Assert(ids(s.Current()), qt.DeepEquals, []string{"a"})
	c.Assert(testutil.ToFloat64(metrics.activeNotices), qt.Equals, float64(1))
}

func TestObserverPanicIsIsolated(t *testing.T) {
	c := qt.New(t)
	src := &sourceFake{}
	metrics := NewMetricsCollector()
	s := NewSynchronizer(src, metrics, nil)

	s.Observe(func([]models.Notice) { panic("render failed") })
	var calls int
	s.Observe(func([]models.Notice) { calls++ })

	s.Start()
	src.last().push(notice("a", 1))
	src.last().push()
	c.Assert(calls, qt.Equals, 2)
	c.Assert(testutil.ToFloat64(metrics.observerPanics), qt.Equals, float64(2))
	c.Assert(s.State(), qt.Equals, Live)
}

func TestObserveCancel(t *testing.T) {
	c := qt.New(t)
	src := &sourceFake{}
	s := NewSynchronizer(src, nil, nil)

	var calls int
	cancel := s.Observe(func([]models.Notice) { calls++ })
	s.Start()
	src.last().push(notice("a", 1))
	cancel()
	cancel()
	src.last().push(notice("a", 1))
	c.Assert(calls, qt.Equals, 1)
}

func TestStopWaitsForInFlightDelivery(t *testing.T) {
	c := qt.New(t)
	src := &sourceFake{}
	s := NewSynchronizer(src, nil, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	finished := false
	s.Observe(func([]models.Notice) {
		close(entered)
		<-release
		mu.Lock()
		finished = true
		mu.Unlock()
	})

	s.Start()
	sub := src.last()
	go sub.push(notice("a", 1))
	<-entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		c.Fatal("Stop returned while an observer was still running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-stopped

	mu.Lock()
	defer mu.Unlock()
	c.Assert(finished, qt.IsTrue)
}
