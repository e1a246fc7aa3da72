package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mmaudet/twake-assistant/internal/capture"
	"github.com/mmaudet/twake-assistant/internal/config"
	"github.com/mmaudet/twake-assistant/internal/metrics"
	"github.com/mmaudet/twake-assistant/internal/server"
	"github.com/mmaudet/twake-assistant/internal/session"
	"github.com/mmaudet/twake-assistant/internal/store"
	"github.com/mmaudet/twake-assistant/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "twake-assistant-agent"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load .env before the config file, the store URL references its variables
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load .env file: %v\n", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger, logLevel := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("bind_address", cfg.Server.Address),
		slog.Int("port", cfg.Server.Port),
		slog.Int("sample_rate", cfg.Capture.SampleRate),
		slog.Int("frame_size", cfg.Capture.FrameSize),
		slog.Int("chunk_size", cfg.Capture.ChunkSize),
		slog.String("transcription_base_url", cfg.Transcription.BaseURL),
		slog.String("default_language", cfg.Transcription.DefaultLanguage),
		slog.Float64("poll_interval", cfg.Transcription.PollInterval),
		slog.String("store_database", cfg.Store.Database),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Connect to the document store
	storeCtx, storeCancel := context.WithTimeout(ctx, 15*time.Second)
	st, err := store.New(storeCtx, store.Config{
		URL:      cfg.Store.URL,
		Database: cfg.Store.Database,
	}, logger)
	storeCancel()
	if err != nil {
		logger.Error("Failed to connect to document store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Document store connected", slog.String("database", cfg.Store.Database))

	// Initialize transcription client
	client, err := transcription.NewClient(transcription.Config{
		BaseURL: cfg.Transcription.BaseURL,
		Timeout: cfg.Transcription.GetTimeoutDuration(),
	})
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Transcription client initialized",
		slog.String("base_url", cfg.Transcription.BaseURL),
	)

	// Initialize capture pipeline
	pipeline, err := capture.NewPipeline(capture.Config{
		SampleRate: cfg.Capture.SampleRate,
		ChunkSize:  cfg.Capture.ChunkSize,
		QueueDepth: cfg.Capture.QueueDepth,
		RetainWAV:  cfg.Capture.RetainWAV,
		DumpDir:    cfg.Capture.DumpDir,
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create capture pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Capture pipeline initialized",
		slog.Int("chunk_size", cfg.Capture.ChunkSize),
		slog.Int("queue_depth", cfg.Capture.QueueDepth),
	)

	// Initialize session controller
	controller := session.NewController(session.Config{
		PollInterval: cfg.Transcription.GetPollInterval(),
	}, client, st, logger, appMetrics)
	logger.Info("Session controller initialized",
		slog.Duration("poll_interval", cfg.Transcription.GetPollInterval()),
	)

	// Initialize HTTP API server
	httpServer := server.NewHTTPServer(cfg, logger, controller, pipeline, st, client, appMetrics)
	logger.Info("HTTP API server initialized",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	// Start HTTP server
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Watch the config file; the log level applies live, everything else
	// requires a restart.
	watcher, err := config.NewWatcher(*configPath, logger, func(updated *config.Config) {
		logLevel.Set(parseLevel(updated.Logging.Level))
		logger.Info("Configuration reloaded",
			slog.String("log_level", updated.Logging.Level),
		)
		if updated.Transcription.PollInterval != cfg.Transcription.PollInterval ||
			updated.Server.Port != cfg.Server.Port {
			logger.Warn("Changed settings other than log level take effect on restart")
		}
	})
	if err != nil {
		logger.Warn("Config watcher unavailable", slog.String("error", err.Error()))
	} else {
		defer watcher.Close()
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Finalize an active session first so its transcription is persisted
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := controller.Stop(stopCtx); err != nil {
		logger.Error("Error stopping session", slog.String("error", err.Error()))
	}
	stopCancel()

	// Stop HTTP server (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Release the capture pipeline
	pipeline.Close()

	// Get final statistics
	stats := pipeline.GetStats()
	clientStats := client.GetStats()
	logger.Info("Final agent statistics",
		slog.Uint64("frames_received", stats.FramesIn),
		slog.Uint64("samples_received", stats.SamplesIn),
		slog.Uint64("chunks_emitted", stats.ChunksEmitted),
		slog.Uint64("backend_requests", clientStats.TotalRequests),
		slog.Float64("backend_success_rate", clientStats.SuccessRate),
	)

	logger.Info("Service stopped")
}

// parseLevel maps a config level string to a slog level
func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo // default fallback
	}
}

// initLogger creates and configures the structured logger based on
// configuration. The returned LevelVar allows live level changes on reload.
func initLogger(cfg config.LoggingConfig) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.Level == "debug", // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler), level
}
