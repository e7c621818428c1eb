package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/opsboard/backoffice/internal/models"
)

func setupAuditDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:audit_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := conn.AutoMigrate(&models.AuditEvent{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

func TestRecord_AppendsRow(t *testing.T) {
	conn := setupAuditDB(t)
	recorder := NewRecorder(conn)

	recorder.Record(context.Background(), Event{
		Action:       ActionLogin,
		ResourceType: "admin_session",
		ActorID:      7,
		IPAddress:    "203.0.113.9",
		UserAgent:    "test-agent",
		Metadata:     map[string]any{"two_factor_verified": true},
	})

	var row models.AuditEvent
	if errFind := conn.First(&row).Error; errFind != nil {
		t.Fatalf("read event: %v", errFind)
	}
	if row.Action != ActionLogin || row.ActorID != 7 {
		t.Fatalf("unexpected row %+v", row)
	}
	if row.Outcome != OutcomeSuccess {
		t.Fatalf("expected default outcome success, got %q", row.Outcome)
	}
	if row.EventID == "" {
		t.Fatalf("expected a generated event id")
	}

	var metadata map[string]any
	if errDecode := json.Unmarshal(row.Metadata, &metadata); errDecode != nil {
		t.Fatalf("decode metadata: %v", errDecode)
	}
	if metadata["two_factor_verified"] != true {
		t.Fatalf("unexpected metadata %v", metadata)
	}
}

func TestRecord_ExplicitFailureOutcome(t *testing.T) {
	conn := setupAuditDB(t)
	recorder := NewRecorder(conn)

	recorder.Record(context.Background(), Event{
		Action:  ActionLoginFailed,
		Outcome: OutcomeFailure,
	})

	var row models.AuditEvent
	if errFind := conn.First(&row).Error; errFind != nil {
		t.Fatalf("read event: %v", errFind)
	}
	if row.Outcome != OutcomeFailure {
		t.Fatalf("expected failure outcome, got %q", row.Outcome)
	}
}

func TestRecord_EventIDsUnique(t *testing.T) {
	conn := setupAuditDB(t)
	recorder := NewRecorder(conn)

	for i := 0; i < 5; i++ {
		recorder.Record(context.Background(), Event{Action: ActionLogout})
	}

	var ids []string
	if errPluck := conn.Model(&models.AuditEvent{}).Pluck("event_id", &ids).Error; errPluck != nil {
		t.Fatalf("pluck ids: %v", errPluck)
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate event id %q", id)
		}
		seen[id] = true
	}
}

func TestRecord_NilRecorderAndConnAreNoOps(t *testing.T) {
	var recorder *Recorder
	recorder.Record(context.Background(), Event{Action: ActionLogin})
	NewRecorder(nil).Record(context.Background(), Event{Action: ActionLogin})
}
