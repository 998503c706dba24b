package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/a3tai/mcp-receipt-reader/internal/config"
	rerrors "github.com/a3tai/mcp-receipt-reader/internal/errors"
	"github.com/a3tai/mcp-receipt-reader/internal/fallback"
	"github.com/a3tai/mcp-receipt-reader/internal/pdf"
	"github.com/a3tai/mcp-receipt-reader/internal/pipeline"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type options struct {
	fallback bool
	pretty   bool
	verbose  bool
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg := config.DefaultConfig()
	if err := config.LoadFromEnv(cfg); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	var opts options
	fs := pflag.NewFlagSet("receipt_extract", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&opts.fallback, "fallback", false, "Ask the AI model when required fields are missing")
	fs.BoolVar(&opts.pretty, "pretty", false, "Indent the JSON output")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "Log pipeline stages to stderr")
	fs.StringVar(&cfg.AIProvider, "ai-provider", cfg.AIProvider, "AI provider: openai or gemini")
	fs.StringVar(&cfg.AIModel, "ai-model", cfg.AIModel, "AI model name (provider default when empty)")
	fs.DurationVar(&cfg.AITimeout, "ai-timeout", cfg.AITimeout, "Timeout for one AI call")
	fs.Usage = func() { printUsage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(stderr, "Error: exactly one PDF file path required\n\n")
		printUsage(stderr, fs)
		return 2
	}
	cfg.AIProvider = strings.ToLower(cfg.AIProvider)
	config.ApplyProviderDefaults(cfg)

	logger := zap.NewNop()
	if opts.verbose {
		zc := zap.NewDevelopmentConfig()
		zc.OutputPaths = []string{"stderr"}
		if l, err := zc.Build(); err == nil {
			logger = l
			defer func() { _ = logger.Sync() }()
		}
	}

	result, err := extract(ctx, fs.Arg(0), cfg, opts.fallback, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %s\nDetail: %v\n", rerrors.UserMessage(err), err)
		return 1
	}

	encoder := json.NewEncoder(stdout)
	if opts.pretty {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(stderr, "Error writing result: %v\n", err)
		return 1
	}
	return 0
}

func extract(ctx context.Context, path string, cfg *config.Config, useFallback bool, logger *zap.Logger) (*pipeline.Result, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	svc, err := pdf.NewService(cfg.MaxFileSize, filepath.Dir(absPath))
	if err != nil {
		return nil, err
	}

	pipeOpts := pipeline.Options{
		FallbackTimeout: cfg.AITimeout,
		IssuingOffice:   cfg.IssuingOffice,
		CacheSize:       -1,
	}
	if useFallback {
		completer, err := fallback.NewCompleter(fallback.Options{
			Provider: cfg.AIProvider,
			Model:    cfg.AIModel,
			BaseURL:  cfg.AIBaseURL,
			APIKey:   cfg.AIAPIKey,
			Timeout:  cfg.AITimeout,
		})
		if err != nil {
			return nil, err
		}
		if closer, ok := completer.(io.Closer); ok {
			defer closer.Close()
		}
		pipeOpts.Fallback = fallback.New(completer, logger)
	}

	return pipeline.New(svc, pipeOpts, logger).ProcessFile(ctx, filepath.Base(absPath))
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "Receipt Extract - pull the fields out of one insurance money receipt PDF")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  receipt_extract [OPTIONS] <pdf_file>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "OPTIONS:")
	fmt.Fprint(w, fs.FlagUsages())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "EXAMPLES:")
	fmt.Fprintln(w, "  receipt_extract receipt.pdf")
	fmt.Fprintln(w, "  receipt_extract --pretty receipt.pdf")
	fmt.Fprintln(w, "  OPENAI_API_KEY=... receipt_extract --fallback scans/receipt.pdf")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Settings are also read from RECEIPT_* variables and a .env file in the working directory.")
}
