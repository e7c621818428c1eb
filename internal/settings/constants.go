package settings

// DB config keys and defaults for runtime-tunable settings.
const (
	// SiteNameKey is the DB config key for the UI site name.
	SiteNameKey = "SITE_NAME"
	// DefaultSiteName is the fallback UI site name.
	DefaultSiteName = "Back Office"
	// SensitivePathPrefixesKey lists path prefixes requiring a fresh 2FA stamp.
	SensitivePathPrefixesKey = "SENSITIVE_PATH_PREFIXES"
	// IdleTimeoutMinutesKey controls the client idle threshold in minutes.
	IdleTimeoutMinutesKey = "IDLE_TIMEOUT_MINUTES"
	// DefaultIdleTimeoutMinutes is the fallback idle threshold.
	DefaultIdleTimeoutMinutes = 30
	// WebAuthnRPIDKey overrides the WebAuthn relying party ID.
	WebAuthnRPIDKey = "WEB_AUTHN_RPID"
	// WebAuthnRPNameKey overrides the WebAuthn relying party display name.
	WebAuthnRPNameKey = "WEB_AUTHN_RP_NAME"
	// WebAuthnOriginsKey overrides the allowed WebAuthn origins.
	WebAuthnOriginsKey = "WEB_AUTHN_ORIGINS"
)

// DefaultSensitivePathPrefixes lists the routes that demand a recent second
// factor when none are configured.
var DefaultSensitivePathPrefixes = []string{
	"/admin/users",
	"/admin/settings",
	"/admin/audit",
}
