package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dannyai/assistant-gateway/internal/apiclient"
	"github.com/dannyai/assistant-gateway/internal/config"
	"github.com/dannyai/assistant-gateway/internal/gateway"
	"github.com/dannyai/assistant-gateway/internal/keypool"
	"github.com/dannyai/assistant-gateway/internal/llm"
	"github.com/dannyai/assistant-gateway/internal/observability"
	"github.com/dannyai/assistant-gateway/internal/store"
	"github.com/dannyai/assistant-gateway/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("llm_endpoint", cfg.LLMEndpoint).
		Str("tts_endpoint", cfg.TTSEndpoint).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Assistant Gateway Service starting")

	// Open durable local state (credential health, audio cache, preferences)
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("Failed to open database")
	}
	defer db.Close()

	healthRepo := store.NewHealthRepo(db)
	audioCache := store.NewAudioCacheRepo(db)
	prefsRepo := store.NewPrefsRepo(db)

	// Credential pools, one per upstream service
	llmPool, err := keypool.New("gemini", cfg.LLMKeys(),
		keypool.WithHealthStore(healthRepo),
		keypool.WithCooldown(cfg.CooldownBase(), cfg.CooldownMax()))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build Gemini credential pool")
	}
	ttsPool, err := keypool.New("groq", cfg.TTSKeys(),
		keypool.WithHealthStore(healthRepo),
		keypool.WithCooldown(cfg.CooldownBase(), cfg.CooldownMax()))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build Groq credential pool")
	}

	// Background health probes recover cooled-down credentials early
	probeCtx, stopProbes := context.WithCancel(context.Background())
	defer stopProbes()

	llmProber := keypool.NewProber(llmPool, cfg.LLMProbeEndpoint, apiclient.QueryParamAuth("key"), cfg.ProbeInterval())
	llmProber.Start(probeCtx)
	ttsProber := keypool.NewProber(ttsPool, cfg.TTSProbeEndpoint, apiclient.BearerAuth, cfg.ProbeInterval())
	ttsProber.Start(probeCtx)

	switchLogger := func(service string, attempt int, err error) {
		logger.Warn().Str("service", service).Int("attempt", attempt).Err(err).
			Msg("Credential failed, switching to next candidate")
	}

	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	llmClient := apiclient.New("gemini", llmPool, apiclient.QueryParamAuth("key"),
		apiclient.WithProber(llmProber),
		apiclient.WithTimeout(timeout),
		apiclient.WithNotifier(switchLogger))
	ttsClient := apiclient.New("groq", ttsPool, apiclient.BearerAuth,
		apiclient.WithProber(ttsProber),
		apiclient.WithTimeout(timeout),
		apiclient.WithNotifier(switchLogger))

	completer := llm.NewCompleter(llmClient, cfg.LLMEndpoint)

	// A missing fallback engine is non-fatal: only the degraded path is
	// disabled, and each session is told once.
	startupNotice := ""
	if !cfg.FallbackEnabled() {
		logger.Warn().Msg("No fallback synthesizer configured, speech output has no degraded path")
		startupNotice = "Backup voice is not configured; speech may be unavailable during outages."
	}

	// Each session gets its own orchestrator so audio and notices flow back
	// over that session's connection.
	newSynthesizer := func(player tts.Player, notify func(string)) gateway.Synthesizer {
		opts := []tts.OrchestratorOption{
			tts.WithCache(audioCache),
			tts.WithNotifier(notify),
		}
		if cfg.FallbackEnabled() {
			opts = append(opts, tts.WithFallback(tts.NewOpenAIFallback(
				cfg.FallbackTTSBaseURL, cfg.FallbackTTSAPIKey,
				cfg.FallbackTTSModel, cfg.FallbackTTSVoice, player)))
		}
		return tts.NewOrchestrator(ttsClient, cfg.TTSEndpoint, cfg.TTSModel, cfg.DefaultVoice, player, opts...)
	}

	// Create HTTP server
	mux := http.NewServeMux()

	mux.HandleFunc("/session", gateway.HandleSession(gateway.SessionConfig{
		Completer:      completer,
		NewSynthesizer: newSynthesizer,
		Prefs:          prefsRepo,
		AssistantName:  cfg.AssistantName,
		DefaultVoice:   cfg.DefaultVoice,
		StartupNotice:  startupNotice,
	}))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness: the database must answer and each pool must hold at least
	// one configured credential.
	dbCheck := func(ctx context.Context) (bool, error) {
		if err := db.Reader.PingContext(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
	llmPoolCheck := func(ctx context.Context) (bool, error) {
		if len(llmPool.Credentials()) == 0 {
			return false, fmt.Errorf("gemini pool has no credentials")
		}
		return true, nil
	}
	ttsPoolCheck := func(ctx context.Context) (bool, error) {
		if len(ttsPool.Credentials()) == 0 {
			return false, fmt.Errorf("groq pool has no credentials")
		}
		return true, nil
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"database":    dbCheck,
		"gemini_pool": llmPoolCheck,
		"groq_pool":   ttsPoolCheck,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. WebSocket sessions are long lived, so
	// no write timeout is set on the server itself; the session enforces its
	// own per-frame deadlines.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 0,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/session", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	stopProbes()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
