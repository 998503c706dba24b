package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	rerrors "github.com/a3tai/mcp-receipt-reader/internal/errors"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

var errGeminiClosed = errors.New("gemini: provider closed")

// Gemini calls Google's Gemini API. The client is created on first use and
// shared afterwards.
type Gemini struct {
	apiKey   string
	model    string
	endpoint string

	mu     sync.Mutex
	client *genai.Client
	closed bool
}

// NewGemini creates the Gemini provider.
func NewGemini(opts Options) (*Gemini, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, rerrors.New(rerrors.ErrorTypeFallbackCredentials, "GEMINI_API_KEY is empty").
			WithStage(rerrors.StageFallback)
	}
	return &Gemini{
		apiKey:   key,
		model:    strings.TrimSpace(opts.Model),
		endpoint: opts.BaseURL,
	}, nil
}

func (g *Gemini) getClient() (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, errGeminiClosed
	}
	if g.client != nil {
		return g.client, nil
	}

	clientOpts := []option.ClientOption{option.WithAPIKey(g.apiKey)}
	if g.endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(g.endpoint))
	}
	client, err := genai.NewClient(context.Background(), clientOpts...)
	if err != nil {
		return nil, err
	}
	g.client = client
	return client, nil
}

// Complete runs the prompt at temperature 0 with a JSON response type.
func (g *Gemini) Complete(ctx context.Context, prompt string) (string, error) {
	client, err := g.getClient()
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}

	m := client.GenerativeModel(g.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	txt := firstText(resp)
	if txt == "" {
		return "", fmt.Errorf("gemini: empty response")
	}
	return txt, nil
}

// Close releases the underlying client, if one was created. Later calls to
// Complete fail; a call already in flight may be cut short.
func (g *Gemini) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	if g.client == nil {
		return nil
	}
	client := g.client
	g.client = nil
	return client.Close()
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		if sb.Len() > 0 {
			return sb.String()
		}
	}
	return ""
}

func ptrFloat32(f float32) *float32 { return &f }
