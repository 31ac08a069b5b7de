// Command server runs the portcullis forward-authentication gateway.
//
// Configuration is layered: built-in defaults, then a YAML config file
// (see pkg/config for discovery), then PORTCULLIS_* environment
// variables. Run with -config to point at an explicit file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/portcullis-auth/portcullis/pkg/config"
	"github.com/portcullis-auth/portcullis/pkg/decision"
	"github.com/portcullis-auth/portcullis/pkg/httpapi"
	"github.com/portcullis-auth/portcullis/pkg/identity"
	"github.com/portcullis-auth/portcullis/pkg/identity/memory"
	"github.com/portcullis-auth/portcullis/pkg/identity/postgres"
	"github.com/portcullis-auth/portcullis/pkg/identity/redis"
	"github.com/portcullis-auth/portcullis/pkg/observability"
	"github.com/portcullis-auth/portcullis/pkg/seed"
	"github.com/portcullis-auth/portcullis/pkg/session"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening identity store: %w", err)
	}
	defer store.Close()
	logger.Info("identity store ready", "type", cfg.Identity.Type)

	// Converge the store on the configured baseline before accepting
	// traffic. Individual entity failures are reported, not fatal.
	report := seed.New(store, logger).Reconcile(ctx, cfg.Seed.Baseline)
	logger.Info("seed reconciliation finished", "report", report.String())

	sessions, err := session.NewManager(store, session.Config{
		CookieName: cfg.Session.CookieName,
		Secret:     []byte(cfg.Session.Secret),
		TTL:        cfg.Session.TTL,
		Secure:     cfg.Session.Secure,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}

	mux := http.NewServeMux()
	httpapi.New(decision.New(store, logger), sessions, logger).Register(mux)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.HealthCheck(r.Context()); err != nil {
			http.Error(w, "identity store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	if cfg.Observability.Metrics.Enabled {
		mux.Handle("GET "+cfg.Observability.Metrics.Path, promhttp.Handler())
	}

	handler := httpapi.Chain(mux,
		httpapi.Recovery(logger),
		httpapi.RequestID(),
		httpapi.Logging(logger),
		observability.MetricsMiddleware,
	)

	srv := httpapi.NewServer(handler, httpapi.ServerConfig{
		Addr:            ":" + strconv.Itoa(cfg.Server.Port),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          logger,
	})
	return srv.ListenAndServe()
}

// openStore builds the identity store selected by the configuration.
func openStore(ctx context.Context, cfg *config.Config) (identity.Store, error) {
	lockout := identity.LockoutPolicy{
		MaxFailures: cfg.Identity.Lockout.MaxFailures,
		Duration:    cfg.Identity.Lockout.Duration,
	}

	switch cfg.Identity.Type {
	case "memory":
		return memory.New(lockout), nil
	case "redis":
		return redis.New(ctx, redis.Config{
			Addr:     cfg.Identity.Redis.Addr,
			Password: cfg.Identity.Redis.Password,
			DB:       cfg.Identity.Redis.DB,
			Lockout:  lockout,
		})
	case "postgres":
		return postgres.New(ctx, postgres.Config{
			DSN:            cfg.Identity.Postgres.DSN,
			MaxConns:       cfg.Identity.Postgres.MaxConns,
			MigrateOnStart: cfg.Identity.Postgres.MigrateOnStart,
			Lockout:        lockout,
		})
	default:
		return nil, fmt.Errorf("unknown identity store type %q", cfg.Identity.Type)
	}
}
