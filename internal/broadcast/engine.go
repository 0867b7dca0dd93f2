// Package broadcast fans the latest position of an asset out to every
// observer subscribed to it.
//
// Each asset with at least one observer owns exactly one poll loop. The
// first Subscribe starts it and the Unsubscribe (or failed send) that empties
// the observer set stops it. Registry entries are guarded per asset; the
// engine lock only protects the asset map. Locks are always taken engine
// first, entry second.
package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"fleet-monitor/asset-tracking/internal/domain"
	"fleet-monitor/asset-tracking/internal/logging"
	"fleet-monitor/asset-tracking/internal/metrics"
)

var (
	ErrInvalidAsset    = errors.New("broadcast: asset id is required")
	ErrInvalidObserver = errors.New("broadcast: observer is nil or has no id")
	ErrEngineClosed    = errors.New("broadcast: engine closed")
)

const MessageTypeLocation = "location"

type Message struct {
	Type string             `json:"type"`
	Data domain.LocationFix `json:"data"`
}

// Observer is one live connection. Send must honour ctx and must not call
// back into the engine.
type Observer interface {
	ID() string
	Send(ctx context.Context, msg Message) error
}

type FixSource interface {
	LatestFix(ctx context.Context, assetID string) (domain.LocationFix, error)
}

type Config struct {
	PollInterval time.Duration
	SendTimeout  time.Duration
}

type Engine struct {
	source      FixSource
	poll        time.Duration
	sendTimeout time.Duration
	log         zerolog.Logger

	root   context.Context
	stop   context.CancelFunc
	loops  sync.WaitGroup
	starts atomic.Int64

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

type entry struct {
	assetID string

	mu        sync.Mutex
	observers map[string]Observer
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewEngine(source FixSource, cfg Config) *Engine {
	root, stop := context.WithCancel(context.Background())
	return &Engine{
		source:      source,
		poll:        cfg.PollInterval,
		sendTimeout: cfg.SendTimeout,
		log:         logging.Component("broadcast"),
		root:        root,
		stop:        stop,
		entries:     make(map[string]*entry),
	}
}

// Subscribe registers obs for assetID, starting the asset's poll loop when
// obs is its first observer. Subscribing an id twice replaces the handle.
func (e *Engine) Subscribe(assetID string, obs Observer) error {
	if assetID == "" {
		return ErrInvalidAsset
	}
	if obs == nil || obs.ID() == "" {
		return ErrInvalidObserver
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	ent := e.entries[assetID]
	if ent != nil {
		ent.mu.Lock()
		if ent.closed {
			// the old loop is draining; it will not remove a replacement
			ent.mu.Unlock()
			ent = nil
		}
	}
	if ent == nil {
		ent = &entry{
			assetID:   assetID,
			observers: make(map[string]Observer),
			done:      make(chan struct{}),
		}
		e.entries[assetID] = ent
		ent.mu.Lock()
	}
	defer ent.mu.Unlock()

	if _, dup := ent.observers[obs.ID()]; !dup {
		metrics.BroadcastObservers.Inc()
	}
	ent.observers[obs.ID()] = obs

	if ent.cancel == nil {
		ctx, cancel := context.WithCancel(e.root)
		ent.cancel = cancel
		e.starts.Add(1)
		metrics.BroadcastLoops.Inc()
		e.loops.Add(1)
		go e.run(ctx, ent)
	}

	e.log.Debug().Str("asset_id", assetID).Str("observer", obs.ID()).Int("observers", len(ent.observers)).
		Msg("observer subscribed")
	return nil
}

// Unsubscribe removes the observer. When it was the last one the poll loop
// is stopped and Unsubscribe returns only after the loop has exited.
// Unknown assets and observers are ignored.
func (e *Engine) Unsubscribe(assetID, observerID string) {
	e.mu.Lock()
	ent := e.entries[assetID]
	if ent == nil {
		e.mu.Unlock()
		return
	}
	ent.mu.Lock()
	done := e.removeLocked(ent, observerID, nil)
	ent.mu.Unlock()
	e.mu.Unlock()

	if done != nil {
		<-done
	}
}

// removeLocked drops observerID (only if it is still want, when want is
// set) and stops the loop when the set empties. It returns the loop's done
// channel when this call stopped it. Both locks must be held.
func (e *Engine) removeLocked(ent *entry, observerID string, want Observer) <-chan struct{} {
	cur, ok := ent.observers[observerID]
	if !ok || (want != nil && cur != want) {
		return nil
	}
	delete(ent.observers, observerID)
	metrics.BroadcastObservers.Dec()

	if len(ent.observers) > 0 || ent.closed {
		return nil
	}
	ent.closed = true
	ent.cancel()
	return ent.done
}

// run owns one started loop; Subscribe has already counted it.
func (e *Engine) run(ctx context.Context, ent *entry) {
	e.log.Debug().Str("asset_id", ent.assetID).Msg("poll loop started")

	defer func() {
		e.mu.Lock()
		if e.entries[ent.assetID] == ent {
			delete(e.entries, ent.assetID)
		}
		e.mu.Unlock()

		metrics.BroadcastLoops.Dec()
		e.log.Debug().Str("asset_id", ent.assetID).Msg("poll loop stopped")
		close(ent.done)
		e.loops.Done()
	}()

	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	e.tick(ctx, ent)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx, ent)
		}
	}
}

func (e *Engine) tick(ctx context.Context, ent *entry) {
	fix, err := e.source.LatestFix(ctx, ent.assetID)
	if errors.Is(err, domain.ErrNoLocation) {
		e.log.Debug().Str("asset_id", ent.assetID).Msg("no location yet, skipping tick")
		return
	}
	if err != nil {
		if ctx.Err() == nil {
			e.log.Warn().Err(err).Str("asset_id", ent.assetID).Msg("latest fix lookup failed")
		}
		return
	}

	msg := Message{Type: MessageTypeLocation, Data: fix}
	for _, obs := range ent.snapshot() {
		if ctx.Err() != nil {
			return
		}
		sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
		err := obs.Send(sendCtx, msg)
		cancel()
		if err == nil {
			continue
		}

		metrics.BroadcastSendFailures.Inc()
		e.log.Info().Err(err).Str("asset_id", ent.assetID).Str("observer", obs.ID()).
			Msg("send failed, dropping observer")

		e.mu.Lock()
		ent.mu.Lock()
		// never wait on done here: this goroutine is the loop
		e.removeLocked(ent, obs.ID(), obs)
		ent.mu.Unlock()
		e.mu.Unlock()
	}
}

// snapshot returns the observers in id order, or nil once the entry is closed.
func (ent *entry) snapshot() []Observer {
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.closed {
		return nil
	}
	out := make([]Observer, 0, len(ent.observers))
	for _, o := range ent.observers {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Serve implements suture.Service; it stops every loop when ctx ends.
func (e *Engine) Serve(ctx context.Context) error {
	<-ctx.Done()
	e.Close()
	return ctx.Err()
}

func (e *Engine) String() string { return "broadcast-engine" }

// Close stops all loops, drops every observer and waits for the loops to exit.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, ent := range e.entries {
		ent.mu.Lock()
		metrics.BroadcastObservers.Sub(float64(len(ent.observers)))
		ent.observers = make(map[string]Observer)
		ent.closed = true
		ent.mu.Unlock()
	}
	e.mu.Unlock()

	e.stop()
	e.loops.Wait()
}

// ActiveLoops reports how many assets currently have a running poll loop.
func (e *Engine) ActiveLoops() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

func (e *Engine) ObserverCount(assetID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent := e.entries[assetID]
	if ent == nil {
		return 0
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return len(ent.observers)
}

// LoopsStarted counts poll loops started over the engine's lifetime.
func (e *Engine) LoopsStarted() int64 {
	return e.starts.Load()
}
