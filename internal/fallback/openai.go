package fallback

import (
	"context"
	"net/http"
	"strings"

	rerrors "github.com/a3tai/mcp-receipt-reader/internal/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	llm   llms.Model
	model string
}

// NewOpenAI creates the OpenAI-compatible provider.
func NewOpenAI(opts Options) (*OpenAI, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, rerrors.New(rerrors.ErrorTypeFallbackCredentials, "OPENAI_API_KEY is empty").
			WithStage(rerrors.StageFallback)
	}

	lcOpts := []openai.Option{
		openai.WithToken(key),
		openai.WithModel(opts.Model),
		openai.WithResponseFormat(openai.ResponseFormatJSON),
	}
	if opts.BaseURL != "" {
		lcOpts = append(lcOpts, openai.WithBaseURL(opts.BaseURL))
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	lcOpts = append(lcOpts, openai.WithHTTPClient(client))

	llm, err := openai.New(lcOpts...)
	if err != nil {
		return nil, rerrors.Wrap(rerrors.ErrorTypeFallbackCredentials, "failed to create OpenAI client", err).
			WithStage(rerrors.StageFallback)
	}

	return &OpenAI{llm: llm, model: opts.Model}, nil
}

// Complete runs the prompt at temperature 0 in JSON mode.
func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, o.llm, prompt,
		llms.WithTemperature(0),
		llms.WithJSONMode(),
	)
}
