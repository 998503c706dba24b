package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/a3tai/mcp-receipt-reader/internal/config"
	"github.com/a3tai/mcp-receipt-reader/internal/fallback"
	"github.com/a3tai/mcp-receipt-reader/internal/mcp"
	"github.com/a3tai/mcp-receipt-reader/internal/pdf"
	"github.com/a3tai/mcp-receipt-reader/internal/pipeline"
	"github.com/a3tai/mcp-receipt-reader/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

// newLogger builds the process logger. In stdio mode the MCP protocol owns
// stdout, so logs go to stderr and anything below warn is dropped unless
// debug is enabled.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.IsDebug() {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	if cfg.IsStdioMode() {
		zc.OutputPaths = []string{"stderr"}
		if !cfg.IsDebug() && level < zapcore.WarnLevel {
			level = zapcore.WarnLevel
		}
	} else {
		zc.OutputPaths = []string{"stdout"}
	}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

// newFallback builds the model-backed extractor once for the whole process.
// Missing credentials disable the fallback instead of failing every upload.
func newFallback(cfg *config.Config, logger *zap.Logger) (*fallback.Extractor, io.Closer) {
	if !cfg.FallbackEnabled() {
		logger.Info("AI fallback disabled by configuration")
		return nil, nil
	}

	completer, err := fallback.NewCompleter(fallback.Options{
		Provider: cfg.AIProvider,
		Model:    cfg.AIModel,
		BaseURL:  cfg.AIBaseURL,
		APIKey:   cfg.AIAPIKey,
		Timeout:  cfg.AITimeout,
	})
	if err != nil {
		logger.Warn("AI fallback disabled", zap.String("provider", cfg.AIProvider), zap.Error(err))
		return nil, nil
	}

	closer, _ := completer.(io.Closer)
	return fallback.New(completer, logger), closer
}

// serveMetrics exposes reg on addr until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("serving metrics", zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := pipeline.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	if cfg.MetricsAddr != "" {
		serveMetrics(ctx, cfg.MetricsAddr, reg, logger)
	}

	pdfService, err := pdf.NewService(cfg.MaxFileSize, cfg.UploadDirectory)
	if err != nil {
		return fmt.Errorf("failed to create PDF service: %w", err)
	}

	extractor, closer := newFallback(cfg, logger)
	if closer != nil {
		defer closer.Close()
	}

	opts := pipeline.Options{
		FallbackTimeout: cfg.AITimeout,
		IssuingOffice:   cfg.IssuingOffice,
		Metrics:         metrics,
		CacheSize:       cfg.CacheSize,
	}
	if extractor != nil {
		opts.Fallback = extractor
	}

	deps := mcp.Deps{
		PDF:      pdfService,
		Pipeline: pipeline.New(pdfService, opts, logger),
		Fallback: extractor,
	}

	if cfg.DatabaseURL != "" {
		pool, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		deps.Store = store.New(pool, logger)
		if err := deps.Store.Migrate(ctx); err != nil {
			return err
		}
	}

	server, err := mcp.NewServer(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	return server.Run(ctx)
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			printVersion()
			return
		}
	}

	cfg, err := config.LoadFromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if version != "dev" {
		cfg.Version = version
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	logger.Debug("starting", zap.Stringer("config", cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		_ = logger.Sync()
		stop()
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("MCP Receipt Reader\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Git Commit: %s\n", gitCommit)
	fmt.Printf("Built with: %s\n", runtime.Version())
}
