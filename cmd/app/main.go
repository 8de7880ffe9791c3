package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/prospecthq/leadhive/internal/browser"
	"github.com/prospecthq/leadhive/internal/config"
	"github.com/prospecthq/leadhive/internal/credits"
	"github.com/prospecthq/leadhive/internal/db"
	"github.com/prospecthq/leadhive/internal/jobs"
	"github.com/prospecthq/leadhive/internal/observability"
	"github.com/prospecthq/leadhive/internal/scraper"
	"github.com/prospecthq/leadhive/internal/verifier"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// .env.local takes priority for development
	godotenv.Load(".env.local", ".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg)

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Env,
			TracesSampleRate: func() float64 {
				if cfg.Env == "production" {
					return 0.1
				}
				return 1.0
			}(),
			AttachStacktrace: true,
			Debug:            cfg.Env == "development",
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Info().Str("environment", cfg.Env).Msg("Sentry initialised successfully")
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Warn().Msg("Sentry DSN not configured, error tracking disabled")
	}

	obsProviders, err := observability.Init(context.Background(), observability.Config{
		Enabled:      os.Getenv("OBSERVABILITY_ENABLED") != "false",
		ServiceName:  "leadhive",
		Environment:  cfg.Env,
		OTLPEndpoint: strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTLPHeaders:  parseOTLPHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		OTLPInsecure: os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialise observability providers")
	} else if obsProviders != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := obsProviders.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgDB, err := db.InitFromEnvWithRetry(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pgDB.Close()

	queue := db.NewDbQueue(pgDB.GetDB())
	sessions := db.NewSessionStore(pgDB.GetDB())
	leadStore := db.NewLeadStore(pgDB.GetDB())
	bulkStore := db.NewBulkStore(pgDB.GetDB())
	profiles := db.NewProfileStore(pgDB.GetDB())
	ledger := credits.NewPgLedger(pgDB.GetDB())

	registry := browser.NewRegistry(sessions, queue)

	// Stale and orphaned sessions are cleared before the first poll so a
	// crash mid-scrape never blocks a profile across restarts.
	if err := registry.ReconcileOnBoot(ctx); err != nil {
		log.Error().Err(err).Msg("Boot reconciliation failed")
		sentry.CaptureException(err)
	}

	extractJS, err := cfg.Scraper.ExtractScript()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load extraction script")
	}
	if extractJS == "" {
		log.Warn().Msg("No extraction script configured, scrape jobs cannot run")
	}

	extractor := scraper.NewHeadlessExtractor(scraper.HeadlessConfig{
		ExecPath:     cfg.Scraper.ChromePath,
		UserDataDir:  cfg.Scraper.UserDataDir,
		Headless:     cfg.Scraper.Headless,
		ProxyServer:  cfg.Scraper.ProxyServer,
		PageTimeout:  cfg.Scraper.PageTimeout,
		MinPageDelay: cfg.Scraper.MinPageDelay,
		MaxPageDelay: cfg.Scraper.MaxPageDelay,
		ExtractJS:    extractJS,
	})

	processor := jobs.NewProcessor(queue, profiles, registry, sessions, leadStore, extractor)
	processor.Start(ctx)
	defer processor.Stop()

	manager := jobs.NewManager(queue, profiles, registry, processor)

	var creds []*verifier.Credential
	for _, spec := range cfg.Verifier.Keys() {
		creds = append(creds, &verifier.Credential{
			Key:            spec.Key,
			DisplayName:    spec.DisplayName,
			RequestsPerMin: spec.RequestsPerMin,
		})
	}
	keyPool := verifier.NewKeyPool(creds)

	verifyClient := verifier.NewHTTPClient(cfg.Verifier.BaseURL, cfg.Verifier.RequestTimeout)
	verifyService := verifier.NewService(leadStore, bulkStore, ledger, verifyClient, keyPool)
	verifyPool := verifier.NewPool(keyPool, verifyService)
	verifyPool.Start(ctx)
	defer verifyPool.Stop()

	perMin, perHour := keyPool.TotalCapacity()
	log.Info().
		Int("requests_per_min", perMin).
		Int("requests_per_hour", perHour).
		Msg("Verification capacity configured")

	srv := diagnosticsServer(cfg, obsProviders, manager, verifyPool)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Int("port", cfg.Port).Msg("Diagnostics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-stop:
			log.Info().Str("signal", sig.String()).Msg("Shutting down")
		case <-gctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Diagnostics server shutdown failed")
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Service exited with error")
		sentry.CaptureException(err)
	}
}

// diagnosticsServer serves health, processor status, and metrics. The job
// submission API proper is a separate surface; this server exists for
// operators and orchestration probes.
func diagnosticsServer(cfg *config.AppConfig, prov *observability.Providers, manager *jobs.Manager, pool *verifier.Pool) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/health/processor", func(w http.ResponseWriter, r *http.Request) {
		status := manager.ProcessorStatus()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"processor":   status,
			"queue_depth": pool.QueueDepth(),
		})
	})

	if prov != nil && prov.MetricsHandler != nil {
		mux.Handle("/metrics", prov.MetricsHandler)
	}

	return &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      observability.WrapHandler(mux, prov),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// setupLogging configures the logging system
func setupLogging(cfg *config.AppConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Env == "development" || cfg.PrettyLogs {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "leadhive").
			Logger()
	}
}

// parseOTLPHeaders parses "key=value,key2=value2" header lists
func parseOTLPHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return headers
}
