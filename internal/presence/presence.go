package presence

import (
	"context"
	"encoding/json"
	"time"
)

// Roster freshness windows. Kept as named constants; both classifications
// are derived from LastSeenAt at read time.
const (
	// RecentlyActiveWindow classifies an admin seen within the last five minutes.
	RecentlyActiveWindow = 5 * time.Minute
	// ActiveNowWindow classifies an admin seen within the last minute.
	ActiveNowWindow = time.Minute
)

// Freshness labels derived from the windows above.
const (
	FreshnessActiveNow      = "active_now"
	FreshnessRecentlyActive = "recently_active"
	FreshnessAway           = "away"
)

// Classify maps a last-seen timestamp to a freshness label.
func Classify(lastSeenAt, now time.Time) string {
	age := now.Sub(lastSeenAt)
	switch {
	case age <= ActiveNowWindow:
		return FreshnessActiveNow
	case age <= RecentlyActiveWindow:
		return FreshnessRecentlyActive
	default:
		return FreshnessAway
	}
}

// Payload is the per-admin entry tracked on the broadcast topic. Each admin
// writes only its own key, so concurrent writers cannot conflict.
type Payload struct {
	UserID                 uint64         `json:"user_id"`
	Email                  string         `json:"email"`
	Role                   string         `json:"role"`
	Ref                    string         `json:"ref"` // Instance ref, distinguishes tabs.
	OnlineAt               time.Time      `json:"online_at"`
	SessionStart           time.Time      `json:"session_start"`
	LastSeenAt             time.Time      `json:"last_seen_at"`
	CurrentPage            string         `json:"current_page"`
	SessionDurationSeconds int64          `json:"session_duration_seconds"`
	Metadata               map[string]any `json:"metadata,omitempty"`
}

// Encode serializes the payload for the broker.
func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload deserializes a broker entry.
func DecodePayload(raw []byte) (Payload, error) {
	var p Payload
	err := json.Unmarshal(raw, &p)
	return p, err
}

// Entry is one roster row with its derived freshness class.
type Entry struct {
	Payload
	Freshness string `json:"freshness"`
}

// Broker abstracts the shared broadcast topic the roster lives on. The
// production implementation is redis-backed; tests substitute an in-memory
// fake.
type Broker interface {
	// Track upserts this admin's keyed entry and notifies subscribers.
	Track(ctx context.Context, key string, payload []byte) error
	// Untrack removes this admin's keyed entry and notifies subscribers.
	Untrack(ctx context.Context, key string) error
	// Roster returns all tracked entries keyed by admin.
	Roster(ctx context.Context) (map[string][]byte, error)
	// Subscribe delivers a signal per roster change. The returned stop
	// function releases the subscription; it must be called on teardown.
	Subscribe(ctx context.Context) (<-chan struct{}, func(), error)
}
