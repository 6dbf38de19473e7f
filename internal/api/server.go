package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/admission"
	"github.com/snarg/scribe/internal/audio"
	"github.com/snarg/scribe/internal/config"
	"github.com/snarg/scribe/internal/ingest"
	"github.com/snarg/scribe/internal/metrics"
	"github.com/snarg/scribe/internal/relay"
	"github.com/snarg/scribe/internal/transcribe"
	"github.com/snarg/scribe/internal/transcript"
	"github.com/snarg/scribe/internal/usage"
)

// Deps are the pipeline components the handlers drive.
type Deps struct {
	Gate        *admission.Gate
	Ingestor    *ingest.Ingestor
	Prober      audio.DurationProber
	Transcriber transcribe.Transcriber
	Relay       *relay.Relay
	Ledger      *usage.Ledger
	LedgerStore HealthChecker
	Repairer    transcript.Repairer

	// FFprobeAvailable is reported by /healthz; nil skips the check.
	FFprobeAvailable func() bool
	Version          string
	StartTime        time.Time
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSWithOrigins(cfg.AllowedOrigins))

	mode := "provider"
	if cfg.MockMode {
		mode = "mock"
	}
	health := NewHealthHandler(deps.LedgerStore, deps.FFprobeAvailable, mode, deps.Version, deps.StartTime)
	r.Get("/healthz", health.ServeHTTP)

	upload := &UploadHandler{
		gate:        deps.Gate,
		ingestor:    deps.Ingestor,
		prober:      deps.Prober,
		transcriber: deps.Transcriber,
		relay:       deps.Relay,
		ledger:      deps.Ledger,
		maxDuration: cfg.MaxMediaDuration,
		proxyHeader: cfg.TrustedProxyHeader,
	}

	r.Group(func(r chi.Router) {
		r.Use(OriginGuard(cfg.AllowedOrigins))
		upload.Routes(r)
		NewRateHandler(deps.Ledger).Routes(r)
		NewRepairHandler(deps.Repairer).Routes(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.AdminToken))
		NewStatsHandler(deps.Ledger).Routes(r)
		r.Handle("/metrics", promhttp.Handler())
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight streams
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
