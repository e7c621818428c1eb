package settings

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

// resetSnapshot restores an empty snapshot after each test so the package
// global does not leak between cases.
func resetSnapshot(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		StoreDBConfig(time.Time{}, nil)
	})
}

func TestStringReadsPlainAndWrappedValues(t *testing.T) {
	resetSnapshot(t)
	StoreDBConfig(time.Now(), map[string]json.RawMessage{
		SiteNameKey:     json.RawMessage(`"Ops Console"`),
		WebAuthnRPIDKey: json.RawMessage(`{"value":"backoffice.example.com"}`),
		"PADDED":        json.RawMessage(`"  padded  "`),
	})

	if got := String(SiteNameKey); got != "Ops Console" {
		t.Fatalf("site name = %q", got)
	}
	if got := String(WebAuthnRPIDKey); got != "backoffice.example.com" {
		t.Fatalf("rpid = %q", got)
	}
	if got := String("PADDED"); got != "padded" {
		t.Fatalf("padded = %q", got)
	}
	if got := String("MISSING"); got != "" {
		t.Fatalf("missing = %q", got)
	}
}

func TestStringsFiltersEmptyEntries(t *testing.T) {
	resetSnapshot(t)
	StoreDBConfig(time.Now(), map[string]json.RawMessage{
		WebAuthnOriginsKey: json.RawMessage(`["https://a.example.com", "  ", "https://b.example.com"]`),
		"SINGLE":           json.RawMessage(`"https://only.example.com"`),
	})

	want := []string{"https://a.example.com", "https://b.example.com"}
	if got := Strings(WebAuthnOriginsKey); !reflect.DeepEqual(got, want) {
		t.Fatalf("origins = %v, want %v", got, want)
	}
	if got := Strings("SINGLE"); !reflect.DeepEqual(got, []string{"https://only.example.com"}) {
		t.Fatalf("single = %v", got)
	}
	if got := Strings("MISSING"); got != nil {
		t.Fatalf("missing = %v", got)
	}
}

func TestIntFallbacks(t *testing.T) {
	resetSnapshot(t)
	StoreDBConfig(time.Now(), map[string]json.RawMessage{
		IdleTimeoutMinutesKey: json.RawMessage(`15`),
		"QUOTED":              json.RawMessage(`"45"`),
		"GARBAGE":             json.RawMessage(`"not a number"`),
	})

	if got := Int(IdleTimeoutMinutesKey, DefaultIdleTimeoutMinutes); got != 15 {
		t.Fatalf("idle timeout = %d", got)
	}
	if got := Int("QUOTED", 0); got != 45 {
		t.Fatalf("quoted = %d", got)
	}
	if got := Int("GARBAGE", 7); got != 7 {
		t.Fatalf("garbage fallback = %d", got)
	}
	if got := Int("MISSING", DefaultIdleTimeoutMinutes); got != DefaultIdleTimeoutMinutes {
		t.Fatalf("missing fallback = %d", got)
	}
}

func TestValueCopiesAreIsolated(t *testing.T) {
	resetSnapshot(t)
	source := map[string]json.RawMessage{"KEY": json.RawMessage(`"original"`)}
	StoreDBConfig(time.Now(), source)
	source["KEY"][1] = 'X'

	raw, ok := Value("KEY")
	if !ok {
		t.Fatalf("expected key present")
	}
	if string(raw) != `"original"` {
		t.Fatalf("snapshot mutated by caller: %s", raw)
	}

	raw[1] = 'Y'
	again, _ := Value("KEY")
	if string(again) != `"original"` {
		t.Fatalf("snapshot mutated by reader: %s", again)
	}
}

func TestSensitivePathPrefixes(t *testing.T) {
	resetSnapshot(t)

	got := SensitivePathPrefixes()
	if !reflect.DeepEqual(got, DefaultSensitivePathPrefixes) {
		t.Fatalf("defaults = %v", got)
	}
	// returned slice must not alias the package default
	got[0] = "/mutated"
	if DefaultSensitivePathPrefixes[0] != "/admin/users" {
		t.Fatalf("default slice mutated")
	}

	StoreDBConfig(time.Now(), map[string]json.RawMessage{
		SensitivePathPrefixesKey: json.RawMessage(`["/admin/billing"]`),
	})
	if got := SensitivePathPrefixes(); !reflect.DeepEqual(got, []string{"/admin/billing"}) {
		t.Fatalf("configured = %v", got)
	}
}
