package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"support-widget-server/internal/auth"
	"support-widget-server/internal/cache"
	"support-widget-server/internal/config"
	"support-widget-server/internal/db"
	"support-widget-server/internal/db/sqlite"
	"support-widget-server/internal/handlers"
	"support-widget-server/internal/logger"
	"support-widget-server/internal/metrics"
	"support-widget-server/internal/realtime"
	"support-widget-server/internal/retention"
	"support-widget-server/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and realtime server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending SQLite migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger.Init(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
		path := cfg.SQLitePath()
		if err := sqlite.Migrate(path); err != nil {
			return err
		}
		logger.Info("migrations_applied", "path", path)
		return nil
	},
}

var signCmd = &cobra.Command{
	Use:   "sign <user-id> [organization-id]",
	Short: "Print identity headers for an operator",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		key, _ := cmd.Flags().GetString("key")
		if key == "" {
			if len(cfg.Security.SigningKeys) == 0 {
				return errors.New("no signing key: pass --key or configure security.signing_keys")
			}
			key = cfg.Security.SigningKeys[0]
		}
		subject, org := args[0], ""
		if len(args) == 2 {
			org = args[1]
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %s\n", auth.HeaderUserID, subject)
		fmt.Fprintf(out, "%s: %s\n", auth.HeaderOrgID, org)
		fmt.Fprintf(out, "%s: %s\n", auth.HeaderSignature, auth.Sign(key, subject, org))
		return nil
	},
}

func init() {
	signCmd.Flags().String("key", "", "signing key (defaults to the first configured key)")
}

func openStore(ctx context.Context, cfg *config.Config) (db.Store, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		return sqlite.Open(ctx, sqlite.Config{
			Path:         cfg.SQLitePath(),
			MaxOpenConns: cfg.Storage.SQLite.MaxOpenConns,
			MaxIdleTime:  cfg.Storage.SQLite.MaxIdleTime,
		})
	default:
		return db.Open(cfg.Server.DataDir)
	}
}

func openCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	if cfg.Cache.Driver == "redis" {
		return cache.NewRedis(ctx, cfg.Cache.RedisURL, "widget:")
	}
	return cache.NewMemory(), nil
}

// conversationAuthorizer lets a contact session join only its own
// conversations.
func conversationAuthorizer(conversations *service.Conversations) realtime.Authorizer {
	return func(ctx context.Context, conversationID, contactSessionID string) error {
		conv, err := conversations.GetOne(ctx, conversationID, contactSessionID)
		if err != nil {
			return err
		}
		if conv == nil {
			return db.ErrNotFound
		}
		return nil
	}
}

func handlerOptions(cfg *config.Config) handlers.Options {
	return handlers.Options{
		AllowedOrigins: cfg.Security.CORS.AllowedOrigins,
		SigningKeys:    cfg.Security.SigningKeys,
		RateRPS:        cfg.Security.RateLimit.RPS,
		RateBurst:      cfg.Security.RateLimit.Burst,
		TrustedProxies: cfg.Security.TrustedProxies,
		StateCookieKey: cfg.StateCookieKey(),
		StateCookieTTL: cfg.Server.StateCookieTTL,
		SecureCookies:  cfg.Server.SecureCookies,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger.Init(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	defer store.Close()

	sessionCache, err := openCache(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s cache: %w", cfg.Cache.Driver, err)
	}
	defer sessionCache.Close()

	m := metrics.New()
	sessions := service.NewContactSessions(store, sessionCache, cfg.Sessions.Duration, cfg.Cache.TTL)
	conversations := service.NewConversations(store, sessions)

	hub := realtime.NewHub(conversationAuthorizer(conversations), m, cfg.Security.CORS.AllowedOrigins)
	go hub.Run(ctx)

	if cfg.Retention.Enabled {
		if err := retention.New(store, m, cfg.Retention.Cron).Start(ctx); err != nil {
			return err
		}
	} else {
		logger.Info("retention_disabled")
	}

	h := handlers.New(service.NewUsers(store), sessions, conversations,
		service.NewMessages(store, conversations, hub), hub, m, handlerOptions(cfg))
	if len(cfg.Security.SigningKeys) == 0 {
		logger.Warn("no_signing_keys_configured", "effect", "user creation will always be rejected")
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_starting",
			"addr", srv.Addr,
			"storage", cfg.Storage.Driver,
			"cache", cfg.Cache.Driver,
			"data_dir", cfg.Server.DataDir,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
