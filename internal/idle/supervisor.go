package idle

import (
	"context"
	"sync"
	"time"
)

// Supervisor runs one Watcher per signed-in admin. Request middleware calls
// Touch on every authenticated request; when an admin goes quiet past the
// threshold the supervisor forgets the watcher and invokes onIdle with the
// admin's ID.
type Supervisor struct {
	threshold    time.Duration
	pollInterval time.Duration
	onIdle       func(userID uint64)

	mu       sync.Mutex
	watchers map[uint64]*supervised
}

type supervised struct {
	watcher *Watcher
	stop    func()
}

// NewSupervisor constructs a supervisor sharing one threshold and poll
// interval across all admins.
func NewSupervisor(threshold, pollInterval time.Duration, onIdle func(userID uint64)) *Supervisor {
	return &Supervisor{
		threshold:    threshold,
		pollInterval: pollInterval,
		onIdle:       onIdle,
		watchers:     make(map[uint64]*supervised),
	}
}

// Touch records activity for an admin, starting a watcher on first sight.
func (s *Supervisor) Touch(userID uint64) {
	s.mu.Lock()
	entry, ok := s.watchers[userID]
	if ok {
		s.mu.Unlock()
		entry.watcher.Touch()
		return
	}

	watcher := NewWatcher(s.threshold, s.pollInterval, func() {
		s.forget(userID)
		if s.onIdle != nil {
			s.onIdle(userID)
		}
	})
	stop := watcher.Start(context.Background())
	s.watchers[userID] = &supervised{watcher: watcher, stop: stop}
	s.mu.Unlock()
}

// Stop tears down an admin's watcher without firing onIdle, used on logout.
func (s *Supervisor) Stop(userID uint64) {
	s.mu.Lock()
	entry := s.watchers[userID]
	delete(s.watchers, userID)
	s.mu.Unlock()

	if entry != nil {
		entry.stop()
	}
}

// StopAll tears down every watcher, used on process shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	entries := make([]*supervised, 0, len(s.watchers))
	for id, entry := range s.watchers {
		entries = append(entries, entry)
		delete(s.watchers, id)
	}
	s.mu.Unlock()

	for _, entry := range entries {
		entry.stop()
	}
}

// forget drops the bookkeeping for a fired watcher.
func (s *Supervisor) forget(userID uint64) {
	s.mu.Lock()
	delete(s.watchers, userID)
	s.mu.Unlock()
}
