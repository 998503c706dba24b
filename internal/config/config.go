package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Mode constants
	ModeStdio  = "stdio"
	ModeServer = "server"

	// Fallback providers
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderNone   = "none"

	// Default values
	DefaultPort          = 8080
	DefaultHost          = "127.0.0.1"
	DefaultLogLevel      = "info"
	DefaultMaxFileSize   = 20 * 1024 * 1024 // 20MB
	DefaultAIProvider    = ProviderOpenAI
	DefaultOpenAIModel   = "gpt-4o-mini"
	DefaultGeminiModel   = "gemini-1.5-flash"
	DefaultAITimeout     = 30 * time.Second
	DefaultIssuingOffice = "Head Office"
	DefaultCacheSize     = 32

	// EnvPrefix prefixes every environment variable read by the service
	EnvPrefix = "RECEIPT"

	// Directory permissions
	DefaultDirPerm = 0o750
)

// Config holds all configuration for the receipt MCP server
type Config struct {
	// Server configuration
	Mode string // "server" or "stdio"
	Host string
	Port int

	// Upload configuration
	UploadDirectory string
	MaxFileSize     int64 // Maximum PDF file size in bytes
	IssuingOffice   string

	// Fallback extraction
	AIProvider string // "openai", "gemini" or "none"
	AIModel    string
	AIBaseURL  string
	AIAPIKey   string
	AITimeout  time.Duration

	// Collaborators
	DatabaseURL string
	MetricsAddr string

	// CacheSize bounds the parsed-page cache; negative disables it.
	CacheSize int

	// Application configuration
	Version    string
	ServerName string
	LogLevel   string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		currentDir = "."
	}

	return &Config{
		Mode:            ModeStdio, // Default to stdio mode for MCP compatibility
		Host:            DefaultHost,
		Port:            DefaultPort,
		UploadDirectory: currentDir,
		MaxFileSize:     DefaultMaxFileSize,
		IssuingOffice:   DefaultIssuingOffice,
		AIProvider:      DefaultAIProvider,
		AITimeout:       DefaultAITimeout,
		CacheSize:       DefaultCacheSize,
		Version:         "1.0.0",
		ServerName:      "mcp-receipt-reader",
		LogLevel:        DefaultLogLevel,
	}
}

// LoadFromFlags parses command line flags and returns a configuration.
// Precedence: flags, then RECEIPT_* environment, then a .env file in the
// working directory, then defaults.
func LoadFromFlags() (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	populateConfigFromViper(cfg)
	ApplyProviderDefaults(cfg)

	if cfg.UploadDirectory != "" {
		if expandedPath, err := filepath.Abs(cfg.UploadDirectory); err == nil {
			cfg.UploadDirectory = expandedPath
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("host", cfg.Host)
	viper.SetDefault("port", cfg.Port)
	viper.SetDefault("dir", cfg.UploadDirectory)
	viper.SetDefault("loglevel", cfg.LogLevel)
	viper.SetDefault("maxfilesize", cfg.MaxFileSize)
	viper.SetDefault("issuing-office", cfg.IssuingOffice)
	viper.SetDefault("ai-provider", cfg.AIProvider)
	viper.SetDefault("ai-model", cfg.AIModel)
	viper.SetDefault("ai-base-url", cfg.AIBaseURL)
	viper.SetDefault("ai-api-key", cfg.AIAPIKey)
	viper.SetDefault("ai-timeout", cfg.AITimeout)
	viper.SetDefault("database-url", cfg.DatabaseURL)
	viper.SetDefault("metrics-addr", cfg.MetricsAddr)
	viper.SetDefault("cache-size", cfg.CacheSize)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	pflag.String("mode", cfg.Mode, "Server mode: 'stdio' for MCP standard I/O, 'server' for streamable HTTP")
	pflag.String("host", cfg.Host, "Server host address (server mode only)")
	pflag.Int("port", cfg.Port, "Server port (server mode only)")
	pflag.String("dir", cfg.UploadDirectory, "Directory containing uploaded receipt PDFs")
	pflag.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pflag.Int64("maxfilesize", cfg.MaxFileSize, "Maximum PDF file size in bytes")
	pflag.String("issuing-office", cfg.IssuingOffice, "Issuing office used when the receipt does not name one")
	pflag.String("ai-provider", cfg.AIProvider, "Fallback extraction provider (openai, gemini, none)")
	pflag.String("ai-model", cfg.AIModel, "Fallback model name (provider default if empty)")
	pflag.String("ai-base-url", cfg.AIBaseURL, "Base URL of an OpenAI-compatible endpoint")
	pflag.String("ai-api-key", cfg.AIAPIKey, "API key for the fallback provider")
	pflag.Duration("ai-timeout", cfg.AITimeout, "Timeout for one fallback extraction call")
	pflag.String("database-url", cfg.DatabaseURL, "PostgreSQL URL for saving receipts (optional)")
	pflag.String("metrics-addr", cfg.MetricsAddr, "Address for the Prometheus /metrics endpoint (optional)")
	pflag.Int("cache-size", cfg.CacheSize, "Parsed pages kept in memory (negative disables the cache)")
}

var flagKeys = []string{
	"mode", "host", "port", "dir", "loglevel", "maxfilesize", "issuing-office",
	"ai-provider", "ai-model", "ai-base-url", "ai-api-key", "ai-timeout",
	"database-url", "metrics-addr", "cache-size",
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	for _, key := range flagKeys {
		_ = viper.BindPFlag(key, pflag.Lookup(key))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nMCP Receipt Reader - extracts and verifies insurance money receipts from PDF\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --dir=/srv/uploads                      # stdio mode\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --ai-provider=gemini --dir=/srv/uploads  # Gemini fallback\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=server --port=8081                # streamable HTTP\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		for _, key := range flagKeys {
			fmt.Fprintf(os.Stderr, "  %s_%s\n", EnvPrefix, strings.ToUpper(strings.ReplaceAll(key, "-", "_")))
		}
		fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY, GEMINI_API_KEY (used when %s_AI_API_KEY is unset)\n", EnvPrefix)
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return fmt.Errorf("version requested")
		}
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.Mode = viper.GetString("mode")
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.UploadDirectory = viper.GetString("dir")
	cfg.LogLevel = viper.GetString("loglevel")
	cfg.MaxFileSize = viper.GetInt64("maxfilesize")
	cfg.IssuingOffice = viper.GetString("issuing-office")
	cfg.AIProvider = strings.ToLower(viper.GetString("ai-provider"))
	cfg.AIModel = viper.GetString("ai-model")
	cfg.AIBaseURL = viper.GetString("ai-base-url")
	cfg.AIAPIKey = viper.GetString("ai-api-key")
	cfg.AITimeout = viper.GetDuration("ai-timeout")
	cfg.DatabaseURL = viper.GetString("database-url")
	cfg.MetricsAddr = viper.GetString("metrics-addr")
	cfg.CacheSize = viper.GetInt("cache-size")
}

// LoadDotEnv loads an optional .env file from the working directory. Variables
// already set in the environment are not overridden.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// envKeys are the settings one-shot tools read without a flag set of ours.
var envKeys = []string{"maxfilesize", "issuing-office", "ai-provider", "ai-model", "ai-base-url", "ai-api-key", "ai-timeout"}

// LoadFromEnv reads the extraction settings (RECEIPT_* after .env) into cfg,
// leaving the server settings alone. Callers apply their own flags on top and
// then call ApplyProviderDefaults.
func LoadFromEnv(cfg *Config) error {
	if err := LoadDotEnv(); err != nil {
		return err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if v.IsSet("maxfilesize") {
		cfg.MaxFileSize = v.GetInt64("maxfilesize")
	}
	if v.IsSet("issuing-office") {
		cfg.IssuingOffice = v.GetString("issuing-office")
	}
	if v.IsSet("ai-provider") {
		cfg.AIProvider = strings.ToLower(v.GetString("ai-provider"))
	}
	if v.IsSet("ai-model") {
		cfg.AIModel = v.GetString("ai-model")
	}
	if v.IsSet("ai-base-url") {
		cfg.AIBaseURL = v.GetString("ai-base-url")
	}
	if v.IsSet("ai-api-key") {
		cfg.AIAPIKey = v.GetString("ai-api-key")
	}
	if v.IsSet("ai-timeout") {
		cfg.AITimeout = v.GetDuration("ai-timeout")
	}
	return nil
}

// ApplyProviderDefaults fills the model and key from provider conventions
func ApplyProviderDefaults(cfg *Config) {
	switch cfg.AIProvider {
	case ProviderOpenAI:
		if cfg.AIModel == "" {
			cfg.AIModel = DefaultOpenAIModel
		}
		if cfg.AIAPIKey == "" {
			cfg.AIAPIKey = os.Getenv("OPENAI_API_KEY")
		}
	case ProviderGemini:
		if cfg.AIModel == "" {
			cfg.AIModel = DefaultGeminiModel
		}
		if cfg.AIAPIKey == "" {
			cfg.AIAPIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Mode != ModeStdio && c.Mode != ModeServer {
		return errors.New("mode must be either 'stdio' or 'server'")
	}

	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	if c.UploadDirectory == "" {
		return errors.New("upload directory cannot be empty")
	}

	// Check if upload directory exists, create if it doesn't
	if _, err := os.Stat(c.UploadDirectory); os.IsNotExist(err) {
		if err := os.MkdirAll(c.UploadDirectory, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create upload directory %s: %w", c.UploadDirectory, err)
		}
	} else if err != nil {
		return fmt.Errorf("cannot access upload directory %s: %w", c.UploadDirectory, err)
	}

	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}

	switch c.AIProvider {
	case ProviderOpenAI, ProviderGemini, ProviderNone:
	default:
		return fmt.Errorf("invalid AI provider: %s (must be one of: openai, gemini, none)", c.AIProvider)
	}

	if c.AIProvider != ProviderNone && c.AITimeout <= 0 {
		return errors.New("AI timeout must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

// FallbackEnabled reports whether a fallback provider is configured. A
// configured provider without a key is still "enabled"; building it fails
// fast at startup.
func (c *Config) FallbackEnabled() bool {
	return c.AIProvider != ProviderNone
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration. The API key
// and database URL are masked.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Host: %s, Port: %d, UploadDirectory: %s, LogLevel: %s, "+
		"MaxFileSize: %d, AIProvider: %s, AIModel: %s, AIAPIKey: %s, AITimeout: %s, DatabaseURL: %s, MetricsAddr: %s, CacheSize: %d}",
		c.Mode, c.Host, c.Port, c.UploadDirectory, c.LogLevel, c.MaxFileSize,
		c.AIProvider, c.AIModel, mask(c.AIAPIKey), c.AITimeout, mask(c.DatabaseURL), c.MetricsAddr, c.CacheSize)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

// IsServerMode returns true if the server is running in HTTP server mode
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if the server is running in stdio mode
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}
