// Package app wires configuration, persistence, presence and the HTTP
// surface into a runnable back-office server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/opsboard/backoffice/internal/audit"
	internalauth "github.com/opsboard/backoffice/internal/auth"
	"github.com/opsboard/backoffice/internal/config"
	"github.com/opsboard/backoffice/internal/db"
	relayhttp "github.com/opsboard/backoffice/internal/http"
	adminapi "github.com/opsboard/backoffice/internal/http/api/admin"
	"github.com/opsboard/backoffice/internal/http/api/admin/handlers"
	"github.com/opsboard/backoffice/internal/idle"
	"github.com/opsboard/backoffice/internal/logging"
	"github.com/opsboard/backoffice/internal/presence"
	"github.com/opsboard/backoffice/internal/settings"
)

// shutdownTimeout bounds the graceful HTTP drain on exit.
const shutdownTimeout = 10 * time.Second

// Migrate opens the database and runs schema migrations, then exits.
func Migrate(_ context.Context, configPath string) error {
	cfg, err := config.Load(config.ResolveConfigPath(configPath))
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log)

	conn, err := db.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the back-office server and blocks until the context is
// cancelled or the listener fails.
func RunServer(ctx context.Context, configPath string) error {
	cfg, err := config.Load(config.ResolveConfigPath(configPath))
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log)

	conn, err := db.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errSeed := db.SeedBootstrapAdmin(conn, os.Getenv("ADMIN_BOOTSTRAP_EMAIL"), os.Getenv("ADMIN_BOOTSTRAP_PASSWORD")); errSeed != nil {
		return errSeed
	}
	if errSnapshot := settings.RefreshDBConfigSnapshot(ctx, conn); errSnapshot != nil {
		log.WithError(errSnapshot).Warn("settings snapshot load failed")
	}

	recorder := audit.NewRecorder(conn)

	var redisClient *redis.Client
	var broker presence.Broker
	if cfg.Redis.URL != "" {
		redisClient, err = presence.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("app: connect redis: %w", err)
		}
		broker = presence.NewRedisBroker(redisClient, cfg.Redis.Namespace)
	} else {
		log.Warn("redis url not configured, presence roster is process-local")
		broker = presence.NewMemoryBroker()
	}

	geo := presence.NewGeoLookup(cfg.Presence.GeoLookupTimeout, cfg.Presence.GeoLookupURL)
	registry := presence.NewRegistry(func() *presence.Manager {
		return presence.NewManager(presence.ManagerOptions{
			Broker:            broker,
			DB:                conn,
			Recorder:          recorder,
			Geo:               geo,
			HeartbeatInterval: cfg.Presence.HeartbeatInterval,
		})
	})

	authenticator := internalauth.NewAuthenticator(conn)
	resolver := internalauth.NewVerifiedSessionResolver(conn, cfg.Auth.SessionSecret)
	// Both the pages and the API live under the base path, so the cookies
	// never travel outside the back office.
	cookies := relayhttp.CookieOptions{
		Path:   cfg.Server.BasePath,
		Domain: cfg.Auth.CookieDomain,
		Secure: cfg.Server.Production,
	}

	// The DB-backed setting wins over the config file, read once at boot.
	idleThreshold := cfg.Idle.Threshold
	if minutes := settings.Int(settings.IdleTimeoutMinutesKey, 0); minutes > 0 {
		idleThreshold = time.Duration(minutes) * time.Minute
	}

	idleSupervisor := idle.NewSupervisor(idleThreshold, cfg.Idle.PollInterval, func(userID uint64) {
		log.WithField("user_id", userID).Info("admin idle threshold exceeded, closing session")
		recorder.Record(context.Background(), audit.Event{
			Action:       audit.ActionLogout,
			ResourceType: "admin_session",
			ActorID:      userID,
			Metadata:     map[string]any{"reason": "idle_timeout"},
		})
		registry.Stop(context.Background(), userID)
	})

	engine := buildEngine(cfg, adminapi.Options{
		BasePath:      cfg.Server.BasePath,
		DB:            conn,
		Authenticator: authenticator,
		Resolver:      resolver,
		Recorder:      recorder,
		Presence:      registry,
		Tokens: handlers.TokenConfig{
			Secret:       cfg.Auth.SessionSecret,
			SessionTTL:   cfg.Auth.SessionTTL,
			ChallengeTTL: cfg.Auth.ChallengeTTL,
			StampTTL:     cfg.Auth.StampTTL,
		},
		Cookies:      cookies,
		OnActivity:   idleSupervisor.Touch,
		OnSessionEnd: idleSupervisor.Stop,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("starting back office on %s", cfg.Server.Addr)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case errServe := <-errCh:
		if errServe != nil {
			return errServe
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	idleSupervisor.StopAll()
	registry.StopAll(shutdownCtx)
	if redisClient != nil {
		if errClose := redisClient.Close(); errClose != nil {
			log.WithError(errClose).Warn("redis close failed")
		}
	}
	return server.Shutdown(shutdownCtx)
}

// buildEngine assembles the gin engine: health endpoint, API routes and the
// guarded browser pages.
func buildEngine(cfg *config.Config, opts adminapi.Options) *gin.Engine {
	if cfg.Server.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogMiddleware())
	if !cfg.Server.TrustProxy {
		_ = engine.SetTrustedProxies(nil)
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	adminapi.RegisterAdminRoutes(engine, opts)
	registerAdminPages(engine, cfg, opts)
	return engine
}

// registerAdminPages mounts the browser-facing back-office pages behind the
// route guard. The pages render a minimal shell; the page scripts talk to
// the back-office API for everything else.
func registerAdminPages(engine *gin.Engine, cfg *config.Config, opts adminapi.Options) {
	guard := relayhttp.NewRouteGuard(opts.Resolver, opts.Recorder, opts.Tokens.Secret, cfg.Server.BasePath, opts.Cookies)

	pages := engine.Group(cfg.Server.BasePath, guard.Middleware())
	pages.GET("/login", pageShell("Sign In"))
	pages.GET("/2fa", pageShell("Two-Factor Verification"))
	pages.GET("", pageShell("Dashboard"))
	pages.GET("/users", pageShell("Users"))
	pages.GET("/settings", pageShell("Settings"))
	pages.GET("/audit", pageShell("Audit Log"))
	pages.GET("/sessions", pageShell("Active Sessions"))
}

// pageShell serves a minimal HTML document for a back-office page.
func pageShell(title string) gin.HandlerFunc {
	body := []byte("<!doctype html><html><head><title>" + title + "</title></head><body><div id=\"app\"></div></body></html>")
	return func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", body)
	}
}

// requestLogMiddleware logs each request with method, path, status and
// latency at debug level.
func requestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request")
	}
}
