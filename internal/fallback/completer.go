// Package fallback extracts receipt fields with a language model when the
// pattern rules leave required fields empty.
package fallback

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	rerrors "github.com/a3tai/mcp-receipt-reader/internal/errors"
)

// Providers
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Completer sends one prompt to a model and returns its raw reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options configures a Completer.
type Options struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	// HTTPClient overrides the transport of the OpenAI-compatible provider.
	HTTPClient *http.Client
}

// NewCompleter builds the Completer for opts.Provider. It fails fast when the
// provider has no credentials.
func NewCompleter(opts Options) (Completer, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case ProviderOpenAI, "":
		c, err := NewOpenAI(opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderGemini:
		c, err := NewGemini(opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, rerrors.New(rerrors.ErrorTypeFallbackCredentials,
			fmt.Sprintf("unsupported fallback provider %q", opts.Provider)).
			WithStage(rerrors.StageFallback)
	}
}
