// Command vaultd runs the epoch-locked vault service.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/chronoflux-labs/chronovault/pkg/assets"
	"github.com/chronoflux-labs/chronovault/pkg/audit"
	"github.com/chronoflux-labs/chronovault/pkg/auth"
	"github.com/chronoflux-labs/chronovault/pkg/condition"
	"github.com/chronoflux-labs/chronovault/pkg/config"
	"github.com/chronoflux-labs/chronovault/pkg/contracts"
	"github.com/chronoflux-labs/chronovault/pkg/delegation"
	"github.com/chronoflux-labs/chronovault/pkg/engine"
	"github.com/chronoflux-labs/chronovault/pkg/entry"
	"github.com/chronoflux-labs/chronovault/pkg/epoch"
	"github.com/chronoflux-labs/chronovault/pkg/keeper"
	"github.com/chronoflux-labs/chronovault/pkg/mode"
	"github.com/chronoflux-labs/chronovault/pkg/observability"
	"github.com/chronoflux-labs/chronovault/pkg/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("vaultd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return fmt.Errorf("load vault profile: %w", err)
	}
	slog.Info("profile loaded",
		"name", profile.Name,
		"admin", profile.Admin,
		"epoch_duration", profile.EpochDuration,
		"assets", profile.Assets,
	)

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "chronovault",
		ServiceVersion: "1.0.0",
		Environment:    os.Getenv("ENVIRONMENT"),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       os.Getenv("OTEL_INSECURE") == "true",
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	store, closeStore, err := openStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open entry store: %w", err)
	}
	defer closeStore()

	admin := contracts.Principal(profile.Admin)
	conditions, err := condition.NewRegistry(admin, contracts.Principal(profile.ConditionManager))
	if err != nil {
		return fmt.Errorf("init condition registry: %w", err)
	}

	clock := epoch.NewClock(profile.EpochDuration)
	machine := mode.NewMachine(admin)
	if states, ok := store.(entry.StateStore); ok {
		if err := restoreVaultState(ctx, states, clock, machine); err != nil {
			return fmt.Errorf("restore vault state: %w", err)
		}
	}

	eng, err := engine.New(engine.Config{
		Admin:       admin,
		Store:       store,
		Conditions:  conditions,
		Delegations: delegation.NewRegistry(),
		Clock:       clock,
		Machine:     machine,
		Transferor:  newBank(cfg.DatabaseURL),
		AllowList:   assets.NewAllowList(profile.Assets...),
		Penalties:   profile.PenaltyPolicy(),
		Auditor:     audit.NewLogger(),
		Sink:        obs,
	})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	var limiter keeper.LimiterStore
	if cfg.RedisAddr != "" {
		limiter = keeper.NewRedisLimiterStore(cfg.RedisAddr, os.Getenv("REDIS_PASSWORD"), 0)
		slog.Info("keeper limiter backed by redis", "addr", cfg.RedisAddr)
	} else {
		limiter = keeper.NewInMemoryLimiterStore()
	}

	srv := server.New(server.Config{
		Engine:    eng,
		Validator: auth.NewJWTValidator([]byte(cfg.JWTSecret)),
		Limiter:   limiter,
		Policy:    keeper.Policy{RPM: 60, Burst: 5},
		Obs:       obs,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("vaultd listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// restoreVaultState rehydrates the epoch clock and mode machine from the
// durable store and hooks their transitions back into it, so the epoch
// counter and mode survive restarts along with the entries they gate.
func restoreVaultState(ctx context.Context, states entry.StateStore, clock *epoch.Clock, machine *mode.Machine) error {
	st, ok, err := states.LoadVaultState(ctx)
	if err != nil {
		return err
	}
	if ok {
		clock.Restore(st.CurrentEpoch, st.EpochStartedAt)
		machine.Restore(st.Mode)
		slog.Info("vault state restored", "epoch", st.CurrentEpoch, "mode", st.Mode)
	} else {
		seed := entry.VaultState{
			EpochStartedAt: clock.Snapshot().StartedAt,
			Mode:           machine.Mode(),
		}
		if err := states.SaveVaultState(ctx, seed); err != nil {
			return err
		}
	}

	clock.WithPersistence(func(s epoch.State) error {
		return states.SaveClockState(context.Background(), s.Current, s.StartedAt)
	})
	machine.WithPersistence(func(m contracts.Mode) error {
		return states.SaveMode(context.Background(), m)
	})
	return nil
}

// newBank returns the custody backend. Only the in-memory bank ships; with
// a durable entry store the operator is warned that balances reset on
// restart while entry records do not.
func newBank(dsn string) *assets.MemoryBank {
	if dsn != "" {
		slog.Warn("asset custody is in-memory and resets on restart, entry records do not")
	}
	return assets.NewMemoryBank()
}

// openStore picks the entry store from the DSN: postgres for
// postgres:// URLs, sqlite otherwise, in-memory when unset.
func openStore(dsn string) (entry.Store, func(), error) {
	switch {
	case dsn == "":
		slog.Warn("no DATABASE_URL set, entries are not persisted")
		return entry.NewMemoryStore(), func() {}, nil
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		store := entry.NewPostgresStore(db)
		slog.Info("entries persisted to postgres")
		return store, func() { _ = db.Close() }, nil
	default:
		store, err := entry.OpenSQLiteStore(dsn)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("entries persisted to sqlite", "path", dsn)
		return store, func() { _ = store.Close() }, nil
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
