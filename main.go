// Command voicekeeper runs the Discord moderation bot. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Opens the gateway connection and registers slash commands.
//   - Sweeps orphan voice channels left over from a previous run.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: listener only starts when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/voicekeeper/bot"
	"github.com/onnwee/voicekeeper/config"
	"github.com/onnwee/voicekeeper/db"
	"github.com/onnwee/voicekeeper/registry"
	"github.com/onnwee/voicekeeper/server"
	"github.com/onnwee/voicekeeper/telemetry"
)

func main() {
	// .env is a local-dev convenience; deployments set the environment directly.
	_ = godotenv.Load()

	// Logging defaults to info-level text; LOG_LEVEL and LOG_FORMAT override.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unrecognized LOG_LEVEL, defaulting to info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT"))
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateBotReady(); err != nil {
		slog.Error("config incomplete", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics registry plus optional OTLP tracing.
	telemetry.Init()

	shutdown, err := telemetry.InitTracing("voicekeeper", "1.0.0")
	if err != nil {
		slog.Error("tracing init failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("database open failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("database close failed", slog.Any("err", err))
		}
	}()

	// Run migrations: versioned first, embedded SQL as fallback for
	// deployments predating the schema_migrations table.
	slog.Info("applying database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("fallback migration failed", slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Root context cancelled on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	members := registry.New()
	b, err := bot.New(cfg, database, members)
	if err != nil {
		slog.Error("bot construction failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := b.Start(ctx); err != nil {
		slog.Error("gateway connect failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := b.Stop(); err != nil {
			slog.Error("gateway close failed", slog.Any("err", err))
		}
	}()
	if err := db.SetKV(ctx, database, "gateway_state", "up"); err != nil {
		slog.Warn("gateway state record failed", slog.Any("err", err))
	}

	// Reconcile channels orphaned by a previous process.
	swept, err := b.Manager().Sweep(ctx)
	if err != nil {
		slog.Error("startup sweep failed", slog.Any("err", err))
	} else {
		_ = db.SetKV(ctx, database, "last_sweep", time.Now().UTC().Format(time.RFC3339))
		_ = db.SetKV(ctx, database, "last_sweep_removed", fmt.Sprintf("%d", swept))
	}

	// Profiling listener, off unless explicitly enabled.
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // net/http default mux carries /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof listener error", slog.Any("err", err))
			}
		}()
	}

	// Ops HTTP surface: health, readiness, status, metrics.
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		if err := server.Start(ctx, database, members, addr); err != nil {
			slog.Error("ops server exited", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	if err := db.SetKV(context.WithoutCancel(ctx), database, "gateway_state", "down"); err != nil {
		slog.Warn("gateway state record failed", slog.Any("err", err))
	}
}
