package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// defaultGeoLookupURL is the lookup endpoint; %s receives the client IP.
const defaultGeoLookupURL = "http://ip-api.com/json/%s"

// GeoLookup resolves a best-effort location for session-start metadata. The
// hard timeout keeps a slow upstream from blocking presence initialization.
type GeoLookup struct {
	client *http.Client
	url    string
}

// NewGeoLookup constructs a lookup with the given timeout and optional URL
// template override.
func NewGeoLookup(timeout time.Duration, urlTemplate string) *GeoLookup {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if strings.TrimSpace(urlTemplate) == "" {
		urlTemplate = defaultGeoLookupURL
	}
	return &GeoLookup{
		client: &http.Client{Timeout: timeout},
		url:    urlTemplate,
	}
}

// Lookup returns location metadata for an IP, or an error the caller is
// expected to log and ignore. Private and empty addresses are skipped.
func (g *GeoLookup) Lookup(ctx context.Context, ip string) (map[string]any, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" || ip == "127.0.0.1" || ip == "::1" {
		return nil, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.client.Timeout)
	defer cancel()

	req, errReq := http.NewRequestWithContext(reqCtx, http.MethodGet, fmt.Sprintf(g.url, ip), nil)
	if errReq != nil {
		return nil, fmt.Errorf("presence: geo request: %w", errReq)
	}
	resp, errDo := g.client.Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("presence: geo lookup: %w", errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("presence: geo lookup status %d", resp.StatusCode)
	}

	var payload map[string]any
	if errDecode := json.NewDecoder(resp.Body).Decode(&payload); errDecode != nil {
		return nil, fmt.Errorf("presence: geo decode: %w", errDecode)
	}
	return payload, nil
}
