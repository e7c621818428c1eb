package presence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/opsboard/backoffice/internal/audit"
	"github.com/opsboard/backoffice/internal/models"
)

func setupPresenceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:presence_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := conn.AutoMigrate(&models.Presence{}, &models.SessionHistory{}, &models.AuditEvent{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

func newTestManager(t *testing.T, conn *gorm.DB, broker Broker) *Manager {
	t.Helper()
	return NewManager(ManagerOptions{
		Broker:            broker,
		DB:                conn,
		Recorder:          audit.NewRecorder(conn),
		HeartbeatInterval: time.Hour, // keep the ticker quiet during tests
	})
}

func TestManager_InitializeWritesPresenceAndHistory(t *testing.T) {
	conn := setupPresenceDB(t)
	broker := NewMemoryBroker()
	manager := newTestManager(t, conn, broker)
	defer manager.Cleanup(context.Background())

	if errInit := manager.Initialize(context.Background(), 5, "admin@example.com", "admin", "127.0.0.1", "test-agent"); errInit != nil {
		t.Fatalf("initialize: %v", errInit)
	}

	var row models.Presence
	if errFind := conn.First(&row, "user_id = ?", 5).Error; errFind != nil {
		t.Fatalf("presence row: %v", errFind)
	}
	if row.Email != "admin@example.com" || row.Role != "admin" {
		t.Fatalf("unexpected presence row %+v", row)
	}

	var openSessions int64
	if errCount := conn.Model(&models.SessionHistory{}).Where("admin_id = ? AND ended_at IS NULL", 5).Count(&openSessions).Error; errCount != nil {
		t.Fatalf("count sessions: %v", errCount)
	}
	if openSessions != 1 {
		t.Fatalf("expected 1 open session row, got %d", openSessions)
	}

	roster, errRoster := broker.Roster(context.Background())
	if errRoster != nil {
		t.Fatalf("broker roster: %v", errRoster)
	}
	if _, ok := roster["5"]; !ok {
		t.Fatalf("expected admin tracked under key 5, roster %v", roster)
	}
}

func TestManager_InitializeTwiceFails(t *testing.T) {
	conn := setupPresenceDB(t)
	manager := newTestManager(t, conn, NewMemoryBroker())
	defer manager.Cleanup(context.Background())

	if errInit := manager.Initialize(context.Background(), 5, "a@example.com", "admin", "", ""); errInit != nil {
		t.Fatalf("initialize: %v", errInit)
	}
	if errAgain := manager.Initialize(context.Background(), 5, "a@example.com", "admin", "", ""); errAgain == nil {
		t.Fatalf("expected second initialize to fail")
	}
}

func TestManager_CleanupIdempotent(t *testing.T) {
	conn := setupPresenceDB(t)
	broker := NewMemoryBroker()
	manager := newTestManager(t, conn, broker)

	if errInit := manager.Initialize(context.Background(), 9, "admin@example.com", "admin", "", ""); errInit != nil {
		t.Fatalf("initialize: %v", errInit)
	}

	manager.Cleanup(context.Background())
	manager.Cleanup(context.Background())
	manager.Cleanup(context.Background())

	var closedSessions int64
	if errCount := conn.Model(&models.SessionHistory{}).Where("admin_id = ? AND ended_at IS NOT NULL", 9).Count(&closedSessions).Error; errCount != nil {
		t.Fatalf("count sessions: %v", errCount)
	}
	if closedSessions != 1 {
		t.Fatalf("expected exactly one closed session row, got %d", closedSessions)
	}

	var endEvents int64
	if errCount := conn.Model(&models.AuditEvent{}).Where("action = ?", audit.ActionSessionEnd).Count(&endEvents).Error; errCount != nil {
		t.Fatalf("count audit events: %v", errCount)
	}
	if endEvents != 1 {
		t.Fatalf("expected exactly one session_end event, got %d", endEvents)
	}

	roster, errRoster := broker.Roster(context.Background())
	if errRoster != nil {
		t.Fatalf("broker roster: %v", errRoster)
	}
	if len(roster) != 0 {
		t.Fatalf("expected empty roster after cleanup, got %v", roster)
	}
}

func TestManager_TouchUpdatesLastSeenAndDuration(t *testing.T) {
	conn := setupPresenceDB(t)
	manager := newTestManager(t, conn, NewMemoryBroker())
	defer manager.Cleanup(context.Background())

	if errInit := manager.Initialize(context.Background(), 3, "a@example.com", "admin", "", ""); errInit != nil {
		t.Fatalf("initialize: %v", errInit)
	}

	var before models.Presence
	if errFind := conn.First(&before, "user_id = ?", 3).Error; errFind != nil {
		t.Fatalf("presence row: %v", errFind)
	}

	time.Sleep(10 * time.Millisecond)
	manager.Touch(context.Background())

	var after models.Presence
	if errFind := conn.First(&after, "user_id = ?", 3).Error; errFind != nil {
		t.Fatalf("presence row after touch: %v", errFind)
	}
	if !after.LastSeenAt.After(before.LastSeenAt) {
		t.Fatalf("expected LastSeenAt to advance, before %v after %v", before.LastSeenAt, after.LastSeenAt)
	}
}

func TestManager_UpdateCurrentPage(t *testing.T) {
	conn := setupPresenceDB(t)
	manager := newTestManager(t, conn, NewMemoryBroker())
	defer manager.Cleanup(context.Background())

	if errInit := manager.Initialize(context.Background(), 4, "a@example.com", "admin", "", ""); errInit != nil {
		t.Fatalf("initialize: %v", errInit)
	}
	manager.UpdateCurrentPage(context.Background(), "/admin/users")

	var row models.Presence
	if errFind := conn.First(&row, "user_id = ?", 4).Error; errFind != nil {
		t.Fatalf("presence row: %v", errFind)
	}
	if row.CurrentPage != "/admin/users" {
		t.Fatalf("expected current page /admin/users, got %q", row.CurrentPage)
	}
}

func TestRegistry_RestartClosesPreviousSession(t *testing.T) {
	conn := setupPresenceDB(t)
	broker := NewMemoryBroker()
	registry := NewRegistry(func() *Manager {
		return newTestManager(t, conn, broker)
	})
	defer registry.StopAll(context.Background())

	if errStart := registry.Start(context.Background(), 8, "a@example.com", "admin", "", ""); errStart != nil {
		t.Fatalf("first start: %v", errStart)
	}
	if errStart := registry.Start(context.Background(), 8, "a@example.com", "admin", "", ""); errStart != nil {
		t.Fatalf("second start: %v", errStart)
	}

	var openSessions int64
	if errCount := conn.Model(&models.SessionHistory{}).Where("admin_id = ? AND ended_at IS NULL", 8).Count(&openSessions).Error; errCount != nil {
		t.Fatalf("count sessions: %v", errCount)
	}
	if openSessions != 1 {
		t.Fatalf("expected one open session after restart, got %d", openSessions)
	}
}

func TestRegistry_StopUnknownAdminIsNoOp(t *testing.T) {
	registry := NewRegistry(func() *Manager {
		return NewManager(ManagerOptions{Broker: NewMemoryBroker(), Recorder: audit.NewRecorder(nil)})
	})
	registry.Stop(context.Background(), 12345)
}

func TestClassify(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		age  time.Duration
		want string
	}{
		{30 * time.Second, FreshnessActiveNow},
		{time.Minute, FreshnessActiveNow},
		{2 * time.Minute, FreshnessRecentlyActive},
		{5 * time.Minute, FreshnessRecentlyActive},
		{6 * time.Minute, FreshnessAway},
		{time.Hour, FreshnessAway},
	}
	for _, tc := range cases {
		if got := Classify(now.Add(-tc.age), now); got != tc.want {
			t.Fatalf("age %v: expected %q, got %q", tc.age, tc.want, got)
		}
	}
}

func TestPayloadEncodeDecode(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	payload := Payload{
		UserID:      11,
		Email:       "a@example.com",
		Role:        "admin",
		Ref:         "ref-1",
		OnlineAt:    now,
		LastSeenAt:  now,
		CurrentPage: "/admin",
	}

	raw, errEncode := payload.Encode()
	if errEncode != nil {
		t.Fatalf("encode: %v", errEncode)
	}
	decoded, errDecode := DecodePayload(raw)
	if errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if decoded.UserID != payload.UserID || decoded.Email != payload.Email || decoded.Ref != payload.Ref {
		t.Fatalf("decoded payload mismatch: %+v", decoded)
	}
}

func TestMemoryBroker_SubscribeSignalsOnChange(t *testing.T) {
	broker := NewMemoryBroker()
	signals, stop, errSub := broker.Subscribe(context.Background())
	if errSub != nil {
		t.Fatalf("subscribe: %v", errSub)
	}
	defer stop()

	if errTrack := broker.Track(context.Background(), "1", []byte(`{}`)); errTrack != nil {
		t.Fatalf("track: %v", errTrack)
	}

	select {
	case <-signals:
	case <-time.After(time.Second):
		t.Fatalf("no signal after track")
	}

	if errUntrack := broker.Untrack(context.Background(), "1"); errUntrack != nil {
		t.Fatalf("untrack: %v", errUntrack)
	}
	select {
	case <-signals:
	case <-time.After(time.Second):
		t.Fatalf("no signal after untrack")
	}
}
