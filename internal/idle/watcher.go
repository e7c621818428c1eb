// Package idle implements the inactivity watchdog that forces logout after
// a period without user interaction. The check is polled, not scheduled
// precisely: the callback can lag the threshold by up to one poll interval.
// That imprecision is accepted and documented behavior.
package idle

import (
	"context"
	"sync"
	"time"
)

// Watcher tracks the time of the last user activity and fires a callback
// once when the idle threshold is exceeded. After firing it stops polling;
// a new Watcher is needed for a new session.
type Watcher struct {
	threshold    time.Duration
	pollInterval time.Duration
	onIdle       func()

	mu           sync.Mutex
	lastActivity time.Time
	running      bool
	fired        bool
	stop         chan struct{}
}

// NewWatcher constructs a watcher. onIdle runs on the watcher's own
// goroutine and is invoked at most once per Start.
func NewWatcher(threshold, pollInterval time.Duration, onIdle func()) *Watcher {
	if threshold <= 0 {
		threshold = 30 * time.Minute
	}
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &Watcher{
		threshold:    threshold,
		pollInterval: pollInterval,
		onIdle:       onIdle,
	}
}

// Touch records user activity, resetting the countdown.
func (w *Watcher) Touch() {
	w.mu.Lock()
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

// Start begins polling and returns a stop function. The stop function is
// idempotent and must be called on teardown so timers do not leak across
// page sessions.
func (w *Watcher) Start(ctx context.Context) func() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return func() {}
	}
	w.running = true
	w.fired = false
	w.lastActivity = time.Now()
	w.stop = make(chan struct{})
	stop := w.stop
	w.mu.Unlock()

	go w.loop(ctx, stop)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
		})
	}
}

func (w *Watcher) loop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if w.checkIdle() {
				return
			}
		}
	}
}

// checkIdle fires the callback and reports true when the threshold has been
// exceeded and the callback has not fired yet.
func (w *Watcher) checkIdle() bool {
	w.mu.Lock()
	idle := !w.fired && time.Since(w.lastActivity) > w.threshold
	if idle {
		w.fired = true
	}
	callback := w.onIdle
	w.mu.Unlock()

	if idle && callback != nil {
		callback()
	}
	return idle
}
