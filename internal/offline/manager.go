// Package offline fronts the portal shell with a generation-versioned
// response cache so the shell keeps rendering without a network.
package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrNothingWaiting is returned by Activate when no generation is installed
// and waiting.
var ErrNothingWaiting = errors.New("no cache generation waiting")

// errTooLarge marks a response too big to hold in the cache.
var errTooLarge = errors.New("response exceeds cache entry limit")

const (
	defaultShellDocument = "/index.html"
	offlineBody          = "offline content"
	maxEntryBytes        = 16 << 20
	fillTimeout          = 30 * time.Second

	// generationKey holds a generation's marker entry. StoredAt is the last
	// install or activation, which is what Adopt ranks by.
	generationKey = "qssma:generation"
)

// Headers that describe a connection, not a response.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Request headers forwarded upstream on cached fetches.
var forwardHeaders = []string{"Accept", "Accept-Language", "User-Agent"}

type Options struct {
	// Origin serves the shell. Relative request paths resolve against it.
	Origin *url.URL
	// CoreAssets are pre-cached by Install.
	CoreAssets []string
	// BypassHosts are host suffixes that are never cached.
	BypassHosts []string
	// LivePrefixes are same-origin paths that are never cached.
	LivePrefixes []string
	// ShellDocument is served to navigations that fail offline.
	ShellDocument string

	Client  *http.Client
	Metrics *Collector
	Events  *Broadcaster
	Logger  *zap.Logger
	Now     func() time.Time
}

type Manager struct {
	origin     *url.URL
	classifier *Classifier
	core       []string
	shellDoc   string
	store      Storage
	client     *http.Client
	metrics    *Collector
	events     *Broadcaster
	logger     *zap.Logger
	now        func() time.Time

	fill singleflight.Group

	mu      sync.RWMutex
	active  string
	waiting string
}

func NewManager(store Storage, opts Options) *Manager {
	if opts.ShellDocument == "" {
		opts.ShellDocument = defaultShellDocument
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetricsCollector()
	}
	if opts.Events == nil {
		opts.Events = NewBroadcaster()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		origin:     opts.Origin,
		classifier: NewClassifier(opts.Origin, opts.CoreAssets, opts.BypassHosts, opts.LivePrefixes),
		core:       opts.CoreAssets,
		shellDoc:   normalizePath(opts.ShellDocument),
		store:      store,
		client:     opts.Client,
		metrics:    opts.Metrics,
		events:     opts.Events,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// Active is the generation currently serving requests.
func (m *Manager) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Waiting is the installed generation awaiting activation, if any.
func (m *Manager) Waiting() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.waiting
}

func (m *Manager) Events() *Broadcaster { return m.events }

// Install pre-caches every core asset into generation name. A new
// generation is all or nothing: if any asset fails it is deleted. A
// generation already in storage (left by an earlier run) is refreshed
// instead: assets it already holds survive a failed fetch, and it is never
// deleted here. The first install activates immediately; later ones wait
// for Activate.
func (m *Manager) Install(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("install: empty generation name")
	}
	gens, err := m.store.Generations(ctx)
	if err != nil {
		return fmt.Errorf("install %s: %w", name, err)
	}
	existed := false
	for _, g := range gens {
		existed = existed || g == name
	}

	for _, asset := range m.core {
		target := m.resolve(&url.URL{Path: normalizePath(asset)})
		err := m.precache(ctx, name, target)
		if err == nil {
			continue
		}
		if existed && m.lookup(ctx, name, target.String()) != nil {
			m.logger.Warn("keeping stored copy of core asset",
				zap.String("generation", name), zap.String("asset", asset), zap.Error(err))
			continue
		}
		m.abandon(ctx, name, existed)
		return fmt.Errorf("install %s: precache %s: %w", name, asset, err)
	}
	if err := m.stamp(ctx, name); err != nil {
		m.abandon(ctx, name, existed)
		return fmt.Errorf("install %s: %w", name, err)
	}

	m.mu.Lock()
	first := m.active == ""
	m.waiting = name
	m.mu.Unlock()

	m.logger.Info("cache generation installed", zap.String("generation", name), zap.Int("assets", len(m.core)))
	if first {
		return m.Activate(ctx)
	}
	m.events.Broadcast(Event{Type: EventInstalled, Generation: name})
	return nil
}

// Activate makes the waiting generation current and deletes every other
// generation. Connected clients get one controllerchange event.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	name := m.waiting
	if name == "" {
		m.mu.Unlock()
		return ErrNothingWaiting
	}
	m.active = name
	m.waiting = ""
	m.mu.Unlock()

	m.metrics.activations.Inc()
	if err := m.stamp(ctx, name); err != nil {
		m.logger.Warn("stamp active generation", zap.String("generation", name), zap.Error(err))
	}
	m.prune(ctx, name)
	m.logger.Info("cache generation activated", zap.String("generation", name))
	m.events.Broadcast(Event{Type: EventControllerChange, Generation: name})
	return nil
}

// SkipWaiting handles the page's skipWaiting message.
func (m *Manager) SkipWaiting(ctx context.Context) error {
	return m.Activate(ctx)
}

// Adopt activates the most recently installed or activated generation in
// storage. It lets a restarted device serve its shell when Install cannot
// reach the origin. Unstamped generations rank last, by name.
func (m *Manager) Adopt(ctx context.Context) (string, error) {
	gens, err := m.store.Generations(ctx)
	if err != nil {
		return "", err
	}
	if len(gens) == 0 {
		return "", ErrNothingWaiting
	}
	sort.Strings(gens)
	var (
		name   string
		latest time.Time
	)
	for _, g := range gens {
		var at time.Time
		if e := m.lookup(ctx, g, generationKey); e != nil {
			at = e.StoredAt
		}
		if name == "" || !at.Before(latest) {
			name, latest = g, at
		}
	}

	m.mu.Lock()
	m.waiting = name
	m.mu.Unlock()
	return name, m.Activate(ctx)
}

func (m *Manager) precache(ctx context.Context, gen string, target *url.URL) error {
	e, err := m.fetch(ctx, target, nil)
	if err != nil {
		return err
	}
	if e.Status != http.StatusOK {
		return fmt.Errorf("status %d", e.Status)
	}
	return m.store.Put(ctx, gen, target.String(), e)
}

func (m *Manager) stamp(ctx context.Context, gen string) error {
	return m.store.Put(ctx, gen, generationKey, &Entry{Status: http.StatusOK, StoredAt: m.now()})
}

// abandon drops a generation this install created. One that was already
// stored is left alone.
func (m *Manager) abandon(ctx context.Context, gen string, existed bool) {
	if existed {
		return
	}
	if err := m.store.DeleteGeneration(ctx, gen); err != nil {
		m.logger.Warn("drop failed generation", zap.String("generation", gen), zap.Error(err))
	}
}

func (m *Manager) prune(ctx context.Context, keep string) {
	gens, err := m.store.Generations(ctx)
	if err != nil {
		m.logger.Warn("list cache generations", zap.Error(err))
		return
	}
	for _, g := range gens {
		if g == keep {
			continue
		}
		if err := m.store.DeleteGeneration(ctx, g); err != nil {
			m.logger.Warn("delete old cache generation", zap.String("generation", g), zap.Error(err))
			continue
		}
		m.logger.Info("old cache generation removed", zap.String("generation", g))
	}
}

func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := m.resolve(r.URL)
	class := m.classifier.Classify(target)

	if r.Method != http.MethodGet || class == NetworkOnly {
		m.passThrough(w, r, target, NetworkOnly)
		return
	}
	if class == Shell {
		m.cacheFirst(w, r, target)
		return
	}
	m.networkFirst(w, r, target)
}

func (m *Manager) cacheFirst(w http.ResponseWriter, r *http.Request, target *url.URL) {
	gen := m.Active()
	if e := m.lookup(r.Context(), gen, target.String()); e != nil {
		m.count(Shell, "hit")
		serve(w, e, "hit")
		return
	}

	// The fill is shared by every request for key, so it must outlive the
	// request that started it.
	key := target.String()
	v, err, _ := m.fill.Do(key, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), fillTimeout)
		defer cancel()
		e, err := m.fetch(ctx, target, r.Header)
		if err != nil {
			return nil, err
		}
		m.remember(ctx, gen, key, e)
		return e, nil
	})
	if errors.Is(err, errTooLarge) {
		m.passThrough(w, r, target, Shell)
		return
	}
	if err != nil {
		m.logger.Debug("shell fetch failed", zap.String("url", key), zap.Error(err))
		m.fallback(w, r, Shell)
		return
	}
	m.count(Shell, "miss")
	serve(w, v.(*Entry), "miss")
}

func (m *Manager) networkFirst(w http.ResponseWriter, r *http.Request, target *url.URL) {
	gen := m.Active()
	key := target.String()
	e, err := m.fetch(r.Context(), target, r.Header)
	if errors.Is(err, errTooLarge) {
		m.passThrough(w, r, target, NetworkFirst)
		return
	}
	if err == nil {
		m.remember(r.Context(), gen, key, e)
		m.count(NetworkFirst, "network")
		serve(w, e, "network")
		return
	}
	if cached := m.lookup(r.Context(), gen, key); cached != nil {
		m.count(NetworkFirst, "stale")
		serve(w, cached, "stale")
		return
	}
	m.fallback(w, r, NetworkFirst)
}

// fallback answers a request the network could not. Navigations get the
// cached shell document; everything else gets a 503.
func (m *Manager) fallback(w http.ResponseWriter, r *http.Request, class Class) {
	if isNavigation(r) {
		shell := m.resolve(&url.URL{Path: m.shellDoc})
		if e := m.lookup(r.Context(), m.Active(), shell.String()); e != nil {
			m.count(class, "shell-fallback")
			serve(w, e, "fallback")
			return
		}
	}
	m.count(class, "offline")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = io.WriteString(w, offlineBody)
}

// passThrough streams the upstream response without caching it.
func (m *Manager) passThrough(w http.ResponseWriter, r *http.Request, target *url.URL, class Class) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	req.ContentLength = r.ContentLength
	req.Header = r.Header.Clone()
	stripHop(req.Header)

	resp, err := m.client.Do(req)
	if err != nil {
		m.count(class, "unavailable")
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if class == NetworkOnly {
		m.count(class, "network")
	} else {
		m.count(class, "uncached")
	}
	h := resp.Header.Clone()
	stripHop(h)
	for k, vv := range h {
		w.Header()[k] = vv
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		m.logger.Debug("pass-through copy", zap.String("url", target.String()), zap.Error(err))
	}
}

// remember stores e in gen. A failing store is logged and ignored; the
// response is served either way. gen was read before the fetch, so the
// write is dropped if another generation took over since; the read lock
// keeps Activate from switching over until the write lands.
func (m *Manager) remember(ctx context.Context, gen, key string, e *Entry) {
	if gen == "" || e.Status != http.StatusOK {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if gen != m.active {
		m.logger.Debug("cache write for retired generation dropped", zap.String("generation", gen), zap.String("url", key))
		return
	}
	if err := m.store.Put(ctx, gen, key, e); err != nil {
		m.metrics.writeFailures.Inc()
		m.logger.Warn("cache write skipped", zap.String("url", key), zap.Error(err))
	}
}

func (m *Manager) lookup(ctx context.Context, gen, key string) *Entry {
	if gen == "" {
		return nil
	}
	e, err := m.store.Get(ctx, gen, key)
	if err != nil {
		m.logger.Warn("cache read failed", zap.String("url", key), zap.Error(err))
		return nil
	}
	return e
}

func (m *Manager) fetch(ctx context.Context, target *url.URL, in http.Header) (*Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	for _, h := range forwardHeaders {
		if v := in.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEntryBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	if len(body) > maxEntryBytes {
		return nil, fmt.Errorf("read %s: %w", target, errTooLarge)
	}
	h := resp.Header.Clone()
	stripHop(h)
	h.Del("Content-Length")
	return &Entry{Status: resp.StatusCode, Header: h, Body: body, StoredAt: m.now()}, nil
}

func (m *Manager) resolve(u *url.URL) *url.URL {
	if u.IsAbs() {
		return u
	}
	return m.origin.ResolveReference(&url.URL{Path: u.Path, RawQuery: u.RawQuery})
}

func (m *Manager) count(class Class, result string) {
	m.metrics.lookups.WithLabelValues(class.String(), result).Inc()
}

func serve(w http.ResponseWriter, e *Entry, source string) {
	for k, vv := range e.Header {
		w.Header()[k] = append([]string(nil), vv...)
	}
	w.Header().Set("X-Cache", source)
	w.WriteHeader(e.Status)
	_, _ = w.Write(e.Body)
}

func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func stripHop(h http.Header) {
	for _, k := range hopHeaders {
		h.Del(k)
	}
}
