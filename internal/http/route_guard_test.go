package http

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/opsboard/backoffice/internal/audit"
	"github.com/opsboard/backoffice/internal/auth"
	"github.com/opsboard/backoffice/internal/models"
	"github.com/opsboard/backoffice/internal/security"
)

const guardSecret = "route-guard-test-secret"

func setupGuardDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:route_guard_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := conn.AutoMigrate(&models.Admin{}, &models.AuditEvent{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

func seedGuardAdmin(t *testing.T, conn *gorm.DB, mutate func(*models.Admin)) models.Admin {
	t.Helper()
	confirmed := time.Now().UTC()
	admin := models.Admin{
		Email:            "admin@example.com",
		Password:         "irrelevant",
		Role:             models.RoleAdmin,
		Active:           true,
		EmailConfirmedAt: &confirmed,
	}
	if mutate != nil {
		mutate(&admin)
	}
	if errCreate := conn.Create(&admin).Error; errCreate != nil {
		t.Fatalf("seed admin: %v", errCreate)
	}
	return admin
}

// newGuardEngine mounts the guard over a handful of page routes and returns
// the engine plus a counter of how many requests reached the handlers.
func newGuardEngine(t *testing.T, conn *gorm.DB) (*gin.Engine, *int) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	resolver := auth.NewVerifiedSessionResolver(conn, guardSecret)
	recorder := audit.NewRecorder(conn)
	guard := NewRouteGuard(resolver, recorder, guardSecret, "/admin", CookieOptions{Path: "/"})

	invoked := 0
	engine := gin.New()
	pages := engine.Group("/admin", guard.Middleware())
	handler := func(c *gin.Context) {
		invoked++
		c.String(http.StatusOK, "page")
	}
	pages.GET("/login", handler)
	pages.GET("/2fa", handler)
	pages.GET("/dashboard", handler)
	pages.GET("/users", handler)
	pages.GET("/usersfoo", handler)
	return engine, &invoked
}

func guardRequest(t *testing.T, engine *gin.Engine, path string, cookies map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for name, value := range cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func sessionTokenFor(t *testing.T, admin models.Admin, ttl time.Duration) string {
	t.Helper()
	token, errToken := security.GenerateSessionToken(guardSecret, admin.ID, admin.Email, admin.Role, false, ttl)
	if errToken != nil {
		t.Fatalf("generate session token: %v", errToken)
	}
	return token
}

func clearedCookie(rec *httptest.ResponseRecorder, name string) bool {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == name && cookie.Value == "" && cookie.MaxAge < 0 {
			return true
		}
	}
	return false
}

func TestRouteGuard_PublicPathsSkipAuth(t *testing.T) {
	conn := setupGuardDB(t)
	engine, invoked := newGuardEngine(t, conn)

	for _, path := range []string{"/admin/login", "/admin/2fa"} {
		rec := guardRequest(t, engine, path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
	if *invoked != 2 {
		t.Fatalf("expected both public handlers to run, got %d", *invoked)
	}
}

func TestRouteGuard_MissingCookieRedirectsToLogin(t *testing.T) {
	conn := setupGuardDB(t)
	engine, invoked := newGuardEngine(t, conn)

	rec := guardRequest(t, engine, "/admin/dashboard", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	location := rec.Header().Get("Location")
	if !strings.HasPrefix(location, "/admin/login?error=session") {
		t.Fatalf("unexpected redirect %q", location)
	}
	if !strings.Contains(location, "next="+url.QueryEscape("/admin/dashboard")) {
		t.Fatalf("redirect lost intended path: %q", location)
	}
	if *invoked != 0 {
		t.Fatalf("handler ran despite missing session")
	}
}

func TestRouteGuard_ExpiredSessionClearsCookieAndRedirects(t *testing.T) {
	conn := setupGuardDB(t)
	admin := seedGuardAdmin(t, conn, nil)
	engine, invoked := newGuardEngine(t, conn)

	expired := sessionTokenFor(t, admin, -time.Minute)
	rec := guardRequest(t, engine, "/admin/dashboard", map[string]string{SessionCookieName: expired})
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Location"), "/admin/login?error=session") {
		t.Fatalf("unexpected redirect %q", rec.Header().Get("Location"))
	}
	if !clearedCookie(rec, SessionCookieName) {
		t.Fatalf("expected session cookie cleared")
	}
	if *invoked != 0 {
		t.Fatalf("handler ran with expired session")
	}
}

func TestRouteGuard_IdentityGoneRedirectsUnauthorized(t *testing.T) {
	conn := setupGuardDB(t)
	admin := seedGuardAdmin(t, conn, nil)
	engine, _ := newGuardEngine(t, conn)

	token := sessionTokenFor(t, admin, time.Hour)
	if errDelete := conn.Delete(&models.Admin{}, admin.ID).Error; errDelete != nil {
		t.Fatalf("delete admin: %v", errDelete)
	}

	rec := guardRequest(t, engine, "/admin/dashboard", map[string]string{SessionCookieName: token})
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Location"), "/admin/login?error=unauthorized") {
		t.Fatalf("unexpected redirect %q", rec.Header().Get("Location"))
	}
}

func TestRouteGuard_DeactivatedAdminRedirectsWithReason(t *testing.T) {
	conn := setupGuardDB(t)
	admin := seedGuardAdmin(t, conn, nil)
	engine, invoked := newGuardEngine(t, conn)

	token := sessionTokenFor(t, admin, time.Hour)
	// Deactivation lands mid-session; the very next request bounces.
	if errUpdate := conn.Model(&models.Admin{}).Where("id = ?", admin.ID).Update("active", false).Error; errUpdate != nil {
		t.Fatalf("deactivate admin: %v", errUpdate)
	}

	rec := guardRequest(t, engine, "/admin/dashboard", map[string]string{SessionCookieName: token})
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Location"), "/admin/login?error=deactivated") {
		t.Fatalf("unexpected redirect %q", rec.Header().Get("Location"))
	}
	if !clearedCookie(rec, SessionCookieName) {
		t.Fatalf("expected session cookie cleared")
	}
	if *invoked != 0 {
		t.Fatalf("handler ran for deactivated admin")
	}

	var events int64
	if errCount := conn.Model(&models.AuditEvent{}).Where("actor_id = ?", admin.ID).Count(&events).Error; errCount != nil {
		t.Fatalf("count audit events: %v", errCount)
	}
	if events != 1 {
		t.Fatalf("expected one audit event, got %d", events)
	}
}

func TestRouteGuard_DemotedAdminRedirectsUnauthorized(t *testing.T) {
	conn := setupGuardDB(t)
	admin := seedGuardAdmin(t, conn, nil)
	engine, invoked := newGuardEngine(t, conn)

	token := sessionTokenFor(t, admin, time.Hour)
	// Demotion lands mid-session; the token still carries role=admin but the
	// fresh profile read wins.
	if errUpdate := conn.Model(&models.Admin{}).Where("id = ?", admin.ID).Update("role", models.RoleUser).Error; errUpdate != nil {
		t.Fatalf("demote admin: %v", errUpdate)
	}

	rec := guardRequest(t, engine, "/admin/dashboard", map[string]string{SessionCookieName: token})
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Location"), "/admin/login?error=unauthorized") {
		t.Fatalf("unexpected redirect %q", rec.Header().Get("Location"))
	}
	if !clearedCookie(rec, SessionCookieName) {
		t.Fatalf("expected session cookie cleared")
	}
	if *invoked != 0 {
		t.Fatalf("handler ran for demoted admin")
	}
}

func TestRouteGuard_NoTOTPNeverAsksForStamp(t *testing.T) {
	conn := setupGuardDB(t)
	admin := seedGuardAdmin(t, conn, nil)
	engine, invoked := newGuardEngine(t, conn)

	token := sessionTokenFor(t, admin, time.Hour)
	rec := guardRequest(t, engine, "/admin/users", map[string]string{SessionCookieName: token})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on sensitive path without totp, got %d", rec.Code)
	}
	if *invoked != 1 {
		t.Fatalf("handler should have run")
	}
}

func TestRouteGuard_TOTPEnabledSensitivePathRequiresStamp(t *testing.T) {
	conn := setupGuardDB(t)
	admin := seedGuardAdmin(t, conn, func(a *models.Admin) {
		a.TOTPSecret = "SECRET"
		a.TOTPEnabled = true
	})
	engine, invoked := newGuardEngine(t, conn)
	token := sessionTokenFor(t, admin, time.Hour)

	// No stamp: bounce to the 2FA entry preserving the destination.
	rec := guardRequest(t, engine, "/admin/users", map[string]string{SessionCookieName: token})
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302 without stamp, got %d", rec.Code)
	}
	location := rec.Header().Get("Location")
	if !strings.HasPrefix(location, "/admin/2fa?next=") || !strings.Contains(location, url.QueryEscape("/admin/users")) {
		t.Fatalf("unexpected redirect %q", location)
	}
	if *invoked != 0 {
		t.Fatalf("handler ran without stamp")
	}

	// Fresh stamp: through.
	stamp, errStamp := security.GenerateStamp(guardSecret, time.Hour)
	if errStamp != nil {
		t.Fatalf("generate stamp: %v", errStamp)
	}
	rec = guardRequest(t, engine, "/admin/users", map[string]string{SessionCookieName: token, StampCookieName: stamp})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with fresh stamp, got %d", rec.Code)
	}

	// Non-sensitive path needs no stamp even with TOTP enabled.
	rec = guardRequest(t, engine, "/admin/dashboard", map[string]string{SessionCookieName: token})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on non-sensitive path, got %d", rec.Code)
	}
}

func TestRouteGuard_ExpiredStampClearedAndRedirected(t *testing.T) {
	conn := setupGuardDB(t)
	admin := seedGuardAdmin(t, conn, func(a *models.Admin) {
		a.TOTPSecret = "SECRET"
		a.TOTPEnabled = true
	})
	engine, _ := newGuardEngine(t, conn)
	token := sessionTokenFor(t, admin, time.Hour)

	expiredStamp, errStamp := security.GenerateStamp(guardSecret, -time.Minute)
	if errStamp != nil {
		t.Fatalf("generate stamp: %v", errStamp)
	}
	rec := guardRequest(t, engine, "/admin/users", map[string]string{SessionCookieName: token, StampCookieName: expiredStamp})
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302 with expired stamp, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Location"), "/admin/2fa?next=") {
		t.Fatalf("unexpected redirect %q", rec.Header().Get("Location"))
	}
	if !clearedCookie(rec, StampCookieName) {
		t.Fatalf("expected stamp cookie cleared")
	}
}

func TestRouteGuard_PrefixMatchesOnPathBoundary(t *testing.T) {
	conn := setupGuardDB(t)
	admin := seedGuardAdmin(t, conn, func(a *models.Admin) {
		a.TOTPSecret = "SECRET"
		a.TOTPEnabled = true
	})
	engine, _ := newGuardEngine(t, conn)
	token := sessionTokenFor(t, admin, time.Hour)

	// /admin/usersfoo shares the string prefix but not the path boundary.
	rec := guardRequest(t, engine, "/admin/usersfoo", map[string]string{SessionCookieName: token})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for non-boundary prefix, got %d", rec.Code)
	}
}

func TestHasPathPrefix(t *testing.T) {
	cases := []struct {
		path   string
		prefix string
		want   bool
	}{
		{"/admin/users", "/admin/users", true},
		{"/admin/users/5", "/admin/users", true},
		{"/admin/usersfoo", "/admin/users", false},
		{"/admin", "/admin/users", false},
		{"/admin/users", "/admin/users/", false},
		{"/admin/users/5", "/admin/users/", true},
	}
	for _, tc := range cases {
		if got := hasPathPrefix(tc.path, tc.prefix); got != tc.want {
			t.Fatalf("hasPathPrefix(%q, %q) = %v, want %v", tc.path, tc.prefix, got, tc.want)
		}
	}
}
