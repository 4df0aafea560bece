// Command chirpd is the chirp speech daemon. It exposes the narration API on
// loopback and speaks through the on-device synthesizer, optionally upgraded
// with the premium network voice.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/tadpolelabs/chirp/internal/budget"
	"github.com/tadpolelabs/chirp/internal/config"
	"github.com/tadpolelabs/chirp/internal/engine"
	"github.com/tadpolelabs/chirp/internal/health"
	"github.com/tadpolelabs/chirp/internal/observe"
	"github.com/tadpolelabs/chirp/internal/policy"
	"github.com/tadpolelabs/chirp/internal/quota"
	"github.com/tadpolelabs/chirp/internal/server"
	"github.com/tadpolelabs/chirp/pkg/voice"
	cloudvoice "github.com/tadpolelabs/chirp/pkg/voice/cloud"
	devicevoice "github.com/tadpolelabs/chirp/pkg/voice/device"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "chirp.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "chirpd: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "chirpd: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("chirpd starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"tier", cfg.Tier,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "chirpd",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Quota store ───────────────────────────────────────────────────────────
	store, err := newQuotaStore(ctx, cfg.Quota)
	if err != nil {
		slog.Error("failed to open quota store", "err", err, "driver", cfg.Quota.Driver)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("quota store close error", "err", err)
		}
	}()
	slog.Info("quota store ready", "driver", cfg.Quota.Driver)

	// ── Voice backends ────────────────────────────────────────────────────────
	deviceBackend := devicevoice.New(cfg.Device.BaseURL)

	var cloudBackend voice.Backend
	if cfg.Cloud.Endpoint != "" {
		cb, err := cloudvoice.New(cfg.Cloud.Endpoint, cfg.Cloud.APIKey)
		if err != nil {
			slog.Error("failed to create cloud voice", "err", err)
			return 1
		}
		cloudBackend = cb
		slog.Info("premium voice enabled", "endpoint", cfg.Cloud.Endpoint)
	} else {
		slog.Info("premium voice disabled; running device-only")
	}

	// ── Budget checker ────────────────────────────────────────────────────────
	var checker budget.Checker = budget.Noop{}
	if cfg.Budget.BaseURL != "" {
		checker = budget.NewHTTPChecker(cfg.Budget.BaseURL)
		slog.Info("budget service configured", "base_url", cfg.Budget.BaseURL)
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	pol := policy.New(policy.Tier(cfg.Tier), store)
	eng, err := engine.New(engine.Options{
		Device:  deviceBackend,
		Cloud:   cloudBackend,
		Policy:  pol,
		Budget:  checker,
		Metrics: metrics,
		Params: voice.Params{
			Language: cfg.Voice.Language,
			Rate:     cfg.Voice.Rate,
			Pitch:    cfg.Voice.Pitch,
		},
		SpeakTimeout: cfg.Voice.SpeakTimeout,
	})
	if err != nil {
		slog.Error("failed to create engine", "err", err)
		return 1
	}
	defer eng.Close()

	// ── HTTP server ───────────────────────────────────────────────────────────
	checkers := []health.Checker{
		{Name: "device_voice", Check: deviceBackend.Ping},
		{Name: "quota_store", Check: func(ctx context.Context) error {
			_, err := store.Load(ctx, quota.MonthKey(time.Now()))
			return err
		}},
	}
	srv := server.New(eng, metrics, health.New(checkers...))

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("api listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newQuotaStore opens the persistence backend selected in cfg.
func newQuotaStore(ctx context.Context, cfg config.QuotaConfig) (quota.Store, error) {
	switch cfg.Driver {
	case config.QuotaSQLite:
		return quota.NewSQLite(cfg.Path)
	case config.QuotaPostgres:
		return quota.NewPostgres(ctx, cfg.PostgresDSN)
	default:
		return quota.NewMemory(), nil
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
