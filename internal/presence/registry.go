package presence

import (
	"context"
	"sync"
)

// Registry owns one Manager per online admin. Handlers go through the
// registry so login, heartbeat and logout all act on the same instance.
type Registry struct {
	newManager func() *Manager

	mu       sync.Mutex
	managers map[uint64]*Manager
}

// NewRegistry constructs a registry with a factory for per-session managers.
func NewRegistry(newManager func() *Manager) *Registry {
	return &Registry{
		newManager: newManager,
		managers:   make(map[uint64]*Manager),
	}
}

// Start initializes presence for an admin. When the admin already has a
// live manager (a second tab, a re-login), the existing session is closed
// first so heartbeats are never duplicated.
func (r *Registry) Start(ctx context.Context, userID uint64, email, role, clientIP, userAgent string) error {
	r.mu.Lock()
	previous := r.managers[userID]
	manager := r.newManager()
	r.managers[userID] = manager
	r.mu.Unlock()

	if previous != nil {
		previous.Cleanup(ctx)
	}
	return manager.Initialize(ctx, userID, email, role, clientIP, userAgent)
}

// Get returns the live manager for an admin, if any.
func (r *Registry) Get(userID uint64) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	manager, ok := r.managers[userID]
	return manager, ok
}

// Stop cleans up and forgets an admin's manager. Calling it when no manager
// exists is a no-op, so logout stays idempotent.
func (r *Registry) Stop(ctx context.Context, userID uint64) {
	r.mu.Lock()
	manager := r.managers[userID]
	delete(r.managers, userID)
	r.mu.Unlock()

	if manager != nil {
		manager.Cleanup(ctx)
	}
}

// StopAll cleans up every live manager, used on process shutdown.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	managers := make([]*Manager, 0, len(r.managers))
	for id, manager := range r.managers {
		managers = append(managers, manager)
		delete(r.managers, id)
	}
	r.mu.Unlock()

	for _, manager := range managers {
		manager.Cleanup(ctx)
	}
}
