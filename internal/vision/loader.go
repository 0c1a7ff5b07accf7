package vision

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is the lifecycle of a Loader.
type State string

const (
	StatePending State = "pending"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Factory builds an engine. New is the default.
type Factory func(cfg Config) (Engine, error)

// Loader initializes one Engine, once. Concurrent Load calls wait for the same
// initialization; a failure is cached and returned to every later caller.
type Loader struct {
	cfg     Config
	factory Factory

	start sync.Once
	done  chan struct{}

	mu     sync.RWMutex
	state  State
	engine Engine
	err    error
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithFactory replaces the engine constructor.
func WithFactory(f Factory) LoaderOption {
	return func(l *Loader) { l.factory = f }
}

// NewLoader returns a Loader that has not started loading yet.
func NewLoader(cfg Config, opts ...LoaderOption) *Loader {
	l := &Loader{cfg: cfg.withDefaults(), factory: New, done: make(chan struct{}), state: StatePending}
	for _, o := range opts {
		o(l)
	}
	return l
}

var (
	sharedOnce   sync.Once
	sharedLoader *Loader
)

// Shared returns the process-wide Loader. cfg is used by the first call only.
func Shared(cfg Config) *Loader {
	sharedOnce.Do(func() { sharedLoader = NewLoader(cfg) })
	return sharedLoader
}

// Load starts initialization on first use and waits for it. ctx bounds the
// wait only; an abandoned initialization still completes in the background.
func (l *Loader) Load(ctx context.Context) (Engine, error) {
	l.start.Do(func() { go l.run() })
	select {
	case <-l.done:
		l.mu.RLock()
		defer l.mu.RUnlock()
		return l.engine, l.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start begins loading without waiting.
func (l *Loader) Start() {
	l.start.Do(func() { go l.run() })
}

func (l *Loader) run() {
	defer close(l.done)
	began := time.Now()
	eng, err := l.factory(l.cfg)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.state, l.err = StateFailed, err
		slog.Error("Vision engine failed to load", "backend", l.cfg.Backend, "error", err)
		return
	}
	l.state, l.engine = StateReady, eng
	slog.Info("Vision engine ready", "backend", l.cfg.Backend, "duration_ms", time.Since(began).Milliseconds())
}

// State reports the current lifecycle state without blocking.
func (l *Loader) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Backend returns the configured backend name.
func (l *Loader) Backend() string { return l.cfg.Backend }

// Err returns the load error once failed, nil otherwise.
func (l *Loader) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Close releases the engine if it was loaded.
func (l *Loader) Close() error {
	l.mu.RLock()
	eng := l.engine
	l.mu.RUnlock()
	if eng == nil {
		return nil
	}
	return eng.Close()
}
