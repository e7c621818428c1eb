package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/opsboard/backoffice/internal/audit"
	"github.com/opsboard/backoffice/internal/models"
)

// Manager tracks one admin's presence for the lifetime of a page session.
// It is constructed per session and injected, never shared as a package
// global. All network faults here are logged and swallowed: presence must
// never break the admin's page.
type Manager struct {
	broker            Broker
	conn              *gorm.DB
	recorder          *audit.Recorder
	geo               *GeoLookup
	heartbeatInterval time.Duration
	onRoster          func([]Entry)

	mu            sync.Mutex
	payload       Payload
	sessionRowID  uint64
	stopHeartbeat chan struct{}
	stopSync      func()
	started       bool
	closed        bool
	roster        []Entry
}

// ManagerOptions configures a presence Manager.
type ManagerOptions struct {
	Broker            Broker
	DB                *gorm.DB
	Recorder          *audit.Recorder
	Geo               *GeoLookup
	HeartbeatInterval time.Duration
	// OnRoster, when set, receives the rebuilt roster after every sync
	// event, for pushing an online-admin count to the UI.
	OnRoster func([]Entry)
}

// NewManager constructs a Manager.
func NewManager(opts ManagerOptions) *Manager {
	interval := opts.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Manager{
		broker:            opts.Broker,
		conn:              opts.DB,
		recorder:          opts.Recorder,
		geo:               opts.Geo,
		heartbeatInterval: interval,
		onRoster:          opts.OnRoster,
	}
}

// Initialize joins the broadcast topic for the admin, records session start,
// writes the initial presence row and starts the heartbeat. Calling it on an
// already-started manager is an error; construct one manager per session.
func (m *Manager) Initialize(ctx context.Context, userID uint64, email, role, clientIP, userAgent string) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("presence: manager already initialized")
	}
	m.started = true

	now := time.Now().UTC()
	m.payload = Payload{
		UserID:       userID,
		Email:        email,
		Role:         role,
		Ref:          uuid.NewString(),
		OnlineAt:     now,
		SessionStart: now,
		LastSeenAt:   now,
	}
	m.mu.Unlock()

	metadata := map[string]any{
		"ip":         clientIP,
		"user_agent": userAgent,
	}
	if m.geo != nil {
		if geo, errGeo := m.geo.Lookup(ctx, clientIP); errGeo != nil {
			log.WithError(errGeo).Debug("presence geo lookup failed")
		} else if geo != nil {
			metadata["geo"] = geo
		}
	}

	m.mu.Lock()
	m.payload.Metadata = metadata
	payload := m.payload
	m.mu.Unlock()

	m.openSessionHistory(ctx, payload, metadata, clientIP, userAgent)
	m.recorder.Record(ctx, audit.Event{
		Action:       audit.ActionSessionStart,
		ResourceType: "admin_session",
		ActorID:      userID,
		IPAddress:    clientIP,
		UserAgent:    userAgent,
	})
	m.upsertPresenceRow(ctx, payload)
	m.track(ctx, payload)

	if errSub := m.subscribeSync(ctx); errSub != nil {
		log.WithError(errSub).Warn("presence sync subscription failed")
	}

	m.mu.Lock()
	m.stopHeartbeat = make(chan struct{})
	stop := m.stopHeartbeat
	m.mu.Unlock()
	go m.heartbeatLoop(stop)

	return nil
}

// UpdateCurrentPage re-tracks the payload with the new path on navigation.
func (m *Manager) UpdateCurrentPage(ctx context.Context, path string) {
	m.mu.Lock()
	if !m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.payload.CurrentPage = path
	m.payload.LastSeenAt = time.Now().UTC()
	payload := m.payload
	m.mu.Unlock()

	m.upsertPresenceRow(ctx, payload)
	m.track(ctx, payload)
}

// Touch refreshes LastSeenAt and re-tracks, used by the heartbeat endpoint.
func (m *Manager) Touch(ctx context.Context) {
	m.mu.Lock()
	if !m.started || m.closed {
		m.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	m.payload.LastSeenAt = now
	m.payload.SessionDurationSeconds = int64(now.Sub(m.payload.SessionStart).Seconds())
	payload := m.payload
	m.mu.Unlock()

	m.upsertPresenceRow(ctx, payload)
	m.track(ctx, payload)
}

// Roster returns the latest synced roster snapshot with freshness classes.
func (m *Manager) Roster() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.roster))
	copy(out, m.roster)
	return out
}

// Cleanup stops the heartbeat, finalizes the session history row, leaves the
// topic and clears local state. Idempotent: the second and later calls do
// nothing, and never double-count a session end.
func (m *Manager) Cleanup(ctx context.Context) {
	m.mu.Lock()
	if !m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	stopHeartbeat := m.stopHeartbeat
	stopSync := m.stopSync
	payload := m.payload
	sessionRowID := m.sessionRowID
	m.stopHeartbeat = nil
	m.stopSync = nil
	m.roster = nil
	m.mu.Unlock()

	if stopHeartbeat != nil {
		close(stopHeartbeat)
	}
	if stopSync != nil {
		stopSync()
	}

	m.closeSessionHistory(ctx, payload, sessionRowID)
	m.recorder.Record(ctx, audit.Event{
		Action:       audit.ActionSessionEnd,
		ResourceType: "admin_session",
		ActorID:      payload.UserID,
	})

	if errUntrack := m.broker.Untrack(ctx, rosterKey(payload.UserID)); errUntrack != nil {
		log.WithError(errUntrack).Warn("presence untrack failed")
	}
}

// heartbeatLoop re-tracks the payload every interval until stopped.
func (m *Manager) heartbeatLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Touch(context.Background())
		}
	}
}

// subscribeSync listens for roster change signals and rebuilds the snapshot.
func (m *Manager) subscribeSync(ctx context.Context) error {
	signals, stop, err := m.broker.Subscribe(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.stopSync = stop
	m.mu.Unlock()

	go func() {
		for range signals {
			m.refreshRoster(context.Background())
		}
	}()

	// Seed the initial snapshot without waiting for the first sync.
	m.refreshRoster(ctx)
	return nil
}

// refreshRoster rebuilds the full online roster from the shared state and
// republishes it for UI consumption.
func (m *Manager) refreshRoster(ctx context.Context) {
	raw, err := m.broker.Roster(ctx)
	if err != nil {
		log.WithError(err).Debug("presence roster read failed")
		return
	}

	now := time.Now().UTC()
	entries := make([]Entry, 0, len(raw))
	for key, value := range raw {
		payload, errDecode := DecodePayload(value)
		if errDecode != nil {
			log.WithError(errDecode).WithField("key", key).Debug("presence payload decode failed")
			continue
		}
		entries = append(entries, Entry{Payload: payload, Freshness: Classify(payload.LastSeenAt, now)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })

	m.mu.Lock()
	closed := m.closed
	m.roster = entries
	callback := m.onRoster
	m.mu.Unlock()

	if !closed && callback != nil {
		callback(entries)
	}
}

func (m *Manager) track(ctx context.Context, payload Payload) {
	encoded, errEncode := payload.Encode()
	if errEncode != nil {
		log.WithError(errEncode).Warn("presence payload encode failed")
		return
	}
	if errTrack := m.broker.Track(ctx, rosterKey(payload.UserID), encoded); errTrack != nil {
		log.WithError(errTrack).Warn("presence track failed")
	}
}

// openSessionHistory writes the session-history row for this appearance.
func (m *Manager) openSessionHistory(ctx context.Context, payload Payload, metadata map[string]any, clientIP, userAgent string) {
	if m.conn == nil {
		return
	}
	var metadataJSON datatypes.JSON
	if raw, errMarshal := json.Marshal(metadata); errMarshal == nil {
		metadataJSON = datatypes.JSON(raw)
	}
	row := models.SessionHistory{
		AdminID:   payload.UserID,
		StartedAt: payload.SessionStart,
		IPAddress: clientIP,
		UserAgent: userAgent,
		Metadata:  metadataJSON,
	}
	if errCreate := m.conn.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Warn("presence session history create failed")
		return
	}
	m.mu.Lock()
	m.sessionRowID = row.ID
	m.mu.Unlock()
}

// closeSessionHistory finalizes the admin's most recent open session row.
func (m *Manager) closeSessionHistory(ctx context.Context, payload Payload, sessionRowID uint64) {
	if m.conn == nil {
		return
	}
	now := time.Now().UTC()
	duration := int64(now.Sub(payload.SessionStart).Seconds())

	query := m.conn.WithContext(ctx).Model(&models.SessionHistory{})
	if sessionRowID > 0 {
		query = query.Where("id = ? AND ended_at IS NULL", sessionRowID)
	} else {
		// Fall back to the most recent open row for this admin.
		query = query.Where(
			"admin_id = ? AND ended_at IS NULL AND id = (SELECT MAX(id) FROM session_histories WHERE admin_id = ? AND ended_at IS NULL)",
			payload.UserID, payload.UserID,
		)
	}
	if errUpdate := query.Updates(map[string]any{
		"ended_at":         now,
		"duration_seconds": duration,
	}).Error; errUpdate != nil {
		log.WithError(errUpdate).Warn("presence session history close failed")
	}
}

// upsertPresenceRow mirrors the payload into the presence table.
func (m *Manager) upsertPresenceRow(ctx context.Context, payload Payload) {
	if m.conn == nil {
		return
	}
	var metadataJSON datatypes.JSON
	if len(payload.Metadata) > 0 {
		if raw, errMarshal := json.Marshal(payload.Metadata); errMarshal == nil {
			metadataJSON = datatypes.JSON(raw)
		}
	}
	row := models.Presence{
		UserID:                 payload.UserID,
		Email:                  payload.Email,
		Role:                   payload.Role,
		OnlineAt:               payload.OnlineAt,
		SessionStart:           payload.SessionStart,
		LastSeenAt:             payload.LastSeenAt,
		CurrentPage:            payload.CurrentPage,
		SessionDurationSeconds: payload.SessionDurationSeconds,
		Metadata:               metadataJSON,
	}
	if errUpsert := m.conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(&row).Error; errUpsert != nil {
		log.WithError(errUpsert).Warn("presence row upsert failed")
	}
}

func rosterKey(userID uint64) string {
	return strconv.FormatUint(userID, 10)
}
