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

	"github.com/lingopath/voice-translator/internal/config"
	"github.com/lingopath/voice-translator/internal/gateway"
	"github.com/lingopath/voice-translator/internal/live"
	"github.com/lingopath/voice-translator/internal/observability"
	"github.com/lingopath/voice-translator/internal/stt"
	"github.com/lingopath/voice-translator/internal/tts"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before the logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("pipeline_mode", cfg.PipelineMode).
		Str("from", cfg.FromLanguage).
		Str("to", cfg.ToLanguage).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Translator Service starting")

	mux := http.NewServeMux()

	// Browser WebSocket entry point
	mux.HandleFunc("/session", gateway.Handler(cfg))

	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness checks validate that each backend client can be assembled
	// from the loaded credentials. No API calls are made here; a failing key
	// still surfaces on the first session instead of on every probe.
	session := cfg.Session("", "")
	checks := map[string]observability.HealthCheckFunc{
		"deepgram": func(ctx context.Context) (bool, error) {
			client := stt.New(session, cfg.CircuitBreakerMaxFailures,
				time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second, logger)
			if client == nil {
				return false, fmt.Errorf("failed to create Deepgram client")
			}
			client.Close()
			return true, nil
		},
		"cartesia": func(ctx context.Context) (bool, error) {
			if client := tts.New(session, logger); client == nil {
				return false, fmt.Errorf("failed to create Cartesia client")
			}
			return true, nil
		},
		"gemini": func(ctx context.Context) (bool, error) {
			if client := live.New(session, nil, logger); client == nil {
				return false, fmt.Errorf("failed to create Gemini client")
			}
			return true, nil
		},
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/session", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
