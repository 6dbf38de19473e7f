package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/admission"
	"github.com/snarg/scribe/internal/api"
	"github.com/snarg/scribe/internal/audio"
	"github.com/snarg/scribe/internal/config"
	"github.com/snarg/scribe/internal/database"
	"github.com/snarg/scribe/internal/ingest"
	"github.com/snarg/scribe/internal/metrics"
	"github.com/snarg/scribe/internal/relay"
	"github.com/snarg/scribe/internal/transcribe"
	"github.com/snarg/scribe/internal/transcript"
	"github.com/snarg/scribe/internal/usage"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	f.StringVar(&overrides.DatabaseURL, "database-url", "", "Postgres URL for the usage ledger (overrides DATABASE_URL)")
	f.BoolVar(&overrides.MockMode, "mock", false, "stream a synthetic transcript instead of calling the provider")
}

// ledgerStore is what serve needs from either usage backend.
type ledgerStore interface {
	usage.Store
	api.HealthChecker
}

func runServe(cmd *cobra.Command, args []string) error {
	startTime := time.Now()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Error().Err(err).Msg("failed to load config")
		return err
	}

	log := newLogger(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("version", version).Bool("mock", cfg.MockMode).Msg("scribe starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Admission counters
	var counters admission.Store
	if cfg.RedisURL != "" {
		rdb, err := admission.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		counters = admission.NewRedisStore(rdb)
		log.Info().Msg("admission counters in redis")
	} else {
		counters = admission.NewMemoryStore()
	}
	gate := admission.NewGate(counters, cfg.RateLimit, cfg.RateWindow, log)
	go gate.RunSweeper(ctx, cfg.RateSweepInterval)

	// Usage ledger
	var (
		store ledgerStore
		pool  *pgxpool.Pool
	)
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		if err := db.InitSchema(ctx); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		store, pool = db, db.Pool
	} else {
		db, err := database.OpenSQLite(ctx, cfg.LedgerPath, log)
		if err != nil {
			return err
		}
		defer db.Close()
		store = db
	}
	ledger := usage.NewLedger(store, log)

	// Transcription
	var (
		transcriber transcribe.Transcriber
		repairer    transcript.Repairer
	)
	if cfg.MockMode {
		transcriber = transcribe.NewMock(cfg.MockTokenInterval, log)
		repairer = transcript.ScanRepairer{}
	} else {
		client, err := transcribe.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return fmt.Errorf("create provider client: %w", err)
		}
		transcriber = transcribe.NewOrchestrator(transcribe.Options{
			Provider:        transcribe.NewGemini(client, log),
			Models:          cfg.Models,
			PollInterval:    cfg.PollInterval,
			PollBackoffBase: cfg.PollBackoffBase,
			PollMaxRetries:  cfg.PollMaxRetries,
			Log:             log,
		})
		repairer = transcribe.NewGeminiRepairer(client, cfg.RepairModel, log)
		log.Info().Strs("models", cfg.Models).Msg("provider configured")
	}

	prober := audio.NewFFprobe(cfg.FFprobePath, log)
	if !prober.Available() {
		log.Warn().Str("ffprobe", cfg.FFprobePath).Msg("ffprobe not found, media duration ceiling disabled")
	}

	janitor := ingest.NewJanitor(cfg.TempDir, cfg.OrphanMaxAge, log)
	janitor.Start()
	defer janitor.Stop()

	rl := relay.New(log)
	prometheus.MustRegister(metrics.NewCollector(pool, rl))

	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, api.Deps{
		Gate:             gate,
		Ingestor:         ingest.New(cfg.MaxUploadBytes, cfg.TempDir, log),
		Prober:           prober,
		Transcriber:      transcriber,
		Relay:            rl,
		Ledger:           ledger,
		LedgerStore:      store,
		Repairer:         repairer,
		FFprobeAvailable: prober.Available,
		Version:          version,
		StartTime:        startTime,
	}, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
			return err
		}
	}

	// Streams can run for minutes; give them a bounded chance to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Int("active_streams", rl.ActiveStreams()).Msg("http server shutdown error")
	}

	log.Info().Msg("scribe stopped")
	return nil
}
