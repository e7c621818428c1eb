package security

import (
	"net/url"
	"strings"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/opsboard/backoffice/internal/settings"
)

// Default WebAuthn relying party configuration.
const (
	// webAuthnRPID is the default relying party ID.
	webAuthnRPID = "localhost"
	// webAuthnRPName is the default relying party display name.
	webAuthnRPName = "Back Office"
	// webAuthnOrigin is the default WebAuthn origin.
	webAuthnOrigin = "http://localhost:8317"
)

// NewWebAuthn builds a WebAuthn configuration using DB-backed overrides.
func NewWebAuthn() (*webauthn.WebAuthn, error) {
	rpName := webAuthnRPName
	if override := settings.String(settings.WebAuthnRPNameKey); override != "" {
		rpName = override
	}

	origins := settings.Strings(settings.WebAuthnOriginsKey)
	if len(origins) == 0 {
		origins = []string{webAuthnOrigin}
	}

	rpID := webAuthnRPID
	if override := settings.String(settings.WebAuthnRPIDKey); override != "" {
		rpID = override
	} else if derived := deriveRPIDFromOrigins(origins); derived != "" {
		rpID = derived
	}

	return webauthn.New(&webauthn.Config{
		RPID:          rpID,
		RPDisplayName: rpName,
		RPOrigins:     origins,
	})
}

// deriveRPIDFromOrigins extracts an RP ID from the configured origins.
func deriveRPIDFromOrigins(origins []string) string {
	for _, origin := range origins {
		if host := originHost(origin); host != "" {
			return host
		}
	}
	return ""
}

// originHost parses an origin string and returns its hostname.
func originHost(origin string) string {
	trimmed := strings.TrimSpace(origin)
	if trimmed == "" {
		return ""
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return strings.TrimSpace(parsed.Hostname())
}
