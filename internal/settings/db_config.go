package settings

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// dbConfigSnapshot holds the in-memory DB config values.
type dbConfigSnapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

// globalDBConfig stores the latest dbConfigSnapshot atomically.
var globalDBConfig atomic.Value // stores dbConfigSnapshot

// init seeds the global DB config snapshot.
func init() {
	globalDBConfig.Store(dbConfigSnapshot{values: map[string]json.RawMessage{}})
}

// StoreDBConfig replaces the in-memory snapshot of DB-backed settings.
func StoreDBConfig(updatedAt time.Time, values map[string]json.RawMessage) {
	next := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		if v == nil {
			next[key] = nil
			continue
		}
		copied := make([]byte, len(v))
		copy(copied, v)
		next[key] = copied
	}

	globalDBConfig.Store(dbConfigSnapshot{
		updatedAt: updatedAt.UTC(),
		values:    next,
	})
}

// Value returns a copy of the raw config value for a key.
func Value(key string) (json.RawMessage, bool) {
	cfg := loadDBConfig()
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false
	}
	val, ok := cfg.values[key]
	if !ok {
		return nil, false
	}
	if val == nil {
		return nil, true
	}
	copied := make([]byte, len(val))
	copy(copied, val)
	return copied, true
}

// String reads a string setting from the snapshot.
func String(key string) string {
	raw, ok := Value(key)
	if !ok {
		return ""
	}
	return parseString(raw)
}

// Strings reads a string-slice setting from the snapshot.
func Strings(key string) []string {
	raw, ok := Value(key)
	if !ok {
		return nil
	}
	return parseStrings(raw)
}

// Int reads an integer setting from the snapshot, returning fallback when
// the key is absent or unparseable.
func Int(key string, fallback int) int {
	raw, ok := Value(key)
	if !ok {
		return fallback
	}
	raw = bytes.TrimSpace(raw)
	var n int
	if errUnmarshal := json.Unmarshal(raw, &n); errUnmarshal == nil {
		return n
	}
	if s := parseString(raw); s != "" {
		if parsed, errParse := strconv.Atoi(s); errParse == nil {
			return parsed
		}
	}
	return fallback
}

// parseString extracts a string value from JSON config payloads.
func parseString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if errUnmarshal := json.Unmarshal(raw, &s); errUnmarshal == nil {
		return strings.TrimSpace(s)
	}
	// wrapper allows parsing values wrapped in a { "value": ... } object.
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if errUnmarshal := json.Unmarshal(raw, &wrapper); errUnmarshal == nil {
		if len(wrapper.Value) > 0 {
			return parseString(wrapper.Value)
		}
	}
	return ""
}

// parseStrings extracts a string slice from JSON config payloads.
func parseStrings(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if errUnmarshal := json.Unmarshal(raw, &values); errUnmarshal == nil {
		return normalizeStrings(values)
	}
	if single := parseString(raw); single != "" {
		return []string{single}
	}
	return nil
}

// normalizeStrings trims and filters empty strings.
func normalizeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	return out
}

// loadDBConfig returns the current snapshot with safe defaults.
func loadDBConfig() dbConfigSnapshot {
	v := globalDBConfig.Load()
	cfg, ok := v.(dbConfigSnapshot)
	if !ok {
		return dbConfigSnapshot{values: map[string]json.RawMessage{}}
	}
	if cfg.values == nil {
		return dbConfigSnapshot{updatedAt: cfg.updatedAt, values: map[string]json.RawMessage{}}
	}
	return cfg
}

// SensitivePathPrefixes returns the configured sensitive prefixes or the
// defaults when none are set.
func SensitivePathPrefixes() []string {
	if configured := Strings(SensitivePathPrefixesKey); len(configured) > 0 {
		return configured
	}
	out := make([]string, len(DefaultSensitivePathPrefixes))
	copy(out, DefaultSensitivePathPrefixes)
	return out
}
