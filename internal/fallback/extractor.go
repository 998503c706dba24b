package fallback

import (
	"context"
	"errors"
	"strings"

	rerrors "github.com/a3tai/mcp-receipt-reader/internal/errors"
	"github.com/a3tai/mcp-receipt-reader/internal/receipt"
	"go.uber.org/zap"
)

// Extractor asks a model for the receipt fields of a reconstructed text.
type Extractor struct {
	completer Completer
	logger    *zap.Logger
}

// New creates an Extractor over completer.
func New(completer Completer, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		completer: completer,
		logger:    logger.With(zap.String("stage", rerrors.StageFallback)),
	}
}

// Extract returns the record the model reads from text. CompanyType stays
// empty when the model omits it; InferCompanyType over the whole page fills
// it. Every failure is a recoverable PipelineError; callers keep their
// partial record.
func (e *Extractor) Extract(ctx context.Context, text string) (receipt.Record, error) {
	reply, err := e.complete(ctx, BuildPrompt(text))
	if err != nil {
		return receipt.Record{}, err
	}

	rec, err := ParseRecord(reply)
	if err != nil {
		e.logger.Warn("fallback: unparseable reply", zap.Int("reply_len", len(reply)), zap.Error(err))
		return receipt.Record{}, rerrors.Wrap(rerrors.ErrorTypeFallbackResponse, "model reply is not a JSON object", err).
			WithStage(rerrors.StageFallback)
	}
	return rec, nil
}

func (e *Extractor) complete(ctx context.Context, prompt string) (string, error) {
	if e.completer == nil {
		return "", rerrors.New(rerrors.ErrorTypeFallbackCredentials, "no fallback provider configured").
			WithStage(rerrors.StageFallback)
	}

	reply, err := e.completer.Complete(ctx, prompt)
	if err == nil {
		return reply, nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e.logger.Warn("fallback: model call timed out", zap.Error(err))
		return "", rerrors.Wrap(rerrors.ErrorTypeFallbackTimeout, "model call timed out", err).
			WithStage(rerrors.StageFallback)
	}
	e.logger.Warn("fallback: model call failed", zap.Error(err))
	return "", rerrors.Wrap(rerrors.ErrorTypeFallbackService, "model call failed", err).
		WithStage(rerrors.StageFallback)
}

// InferCompanyType guesses the insurer family from the receipt text.
func InferCompanyType(text string) receipt.CompanyType {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "takaful"), strings.Contains(lower, "islami insurance"):
		return receipt.CompanyTakaful
	case strings.Contains(lower, "federal insurance"):
		return receipt.CompanyFederal
	default:
		return receipt.CompanyGlobal
	}
}

// Merge fills the empty fields of primary from secondary.
func Merge(primary, secondary receipt.Record) receipt.Record {
	out := primary
	for _, name := range receipt.FieldNames {
		if strings.TrimSpace(out.Get(name)) == "" {
			out.Set(name, secondary.Get(name))
		}
	}
	return out
}
