// Package pipeline runs one receipt upload through text extraction, line
// reconstruction, pattern extraction, the completeness gate, the optional
// model fallback and verification.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	rerrors "github.com/a3tai/mcp-receipt-reader/internal/errors"
	"github.com/a3tai/mcp-receipt-reader/internal/extractor"
	"github.com/a3tai/mcp-receipt-reader/internal/fallback"
	"github.com/a3tai/mcp-receipt-reader/internal/layout"
	"github.com/a3tai/mcp-receipt-reader/internal/pdf"
	"github.com/a3tai/mcp-receipt-reader/internal/receipt"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source tells where the final record came from.
type Source string

const (
	SourcePattern  Source = "pattern"
	SourceFallback Source = "fallback"
	SourcePartial  Source = "partial"
)

// User-facing progress messages.
const (
	MessageSwitchingToAI    = "Switching to AI…"
	MessageFallbackDisabled = "AI extraction is disabled. Using partial data."
)

// DefaultFallbackTimeout bounds one fallback call.
const DefaultFallbackTimeout = 30 * time.Second

// FieldExtractor is the model-backed extractor used when the gate fails.
type FieldExtractor interface {
	Extract(ctx context.Context, text string) (receipt.Record, error)
}

// Options configures a Pipeline.
type Options struct {
	// Fallback is consulted when required fields are missing. Nil disables it.
	Fallback        FieldExtractor
	FallbackTimeout time.Duration
	// IssuingOffice is used when the receipt does not name one.
	IssuingOffice string
	Metrics       *Metrics
	// CacheSize bounds the parsed-page cache. Zero uses DefaultCacheSize and
	// a negative value disables caching.
	CacheSize int
}

// Result is the outcome of one upload.
type Result struct {
	UploadID      string             `json:"uploadId"`
	Record        receipt.Record     `json:"record"`
	FieldStatus   receipt.StatusMap  `json:"fieldStatus"`
	Source        Source             `json:"source"`
	MissingFields []string           `json:"missingFields"`
	Messages      []string           `json:"messages,omitempty"`
	Preview       *pdf.PreviewResult `json:"preview,omitempty"`
	RawText       string             `json:"rawText"`
}

// Pipeline processes receipt uploads. It holds no per-upload state and is
// safe for concurrent use.
type Pipeline struct {
	pdf           *pdf.Service
	patterns      *extractor.Extractor
	fallback      FieldExtractor
	timeout       time.Duration
	issuingOffice string
	metrics       *Metrics
	cache         *pageCache
	logger        *zap.Logger
}

// New creates a Pipeline over svc.
func New(svc *pdf.Service, opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.FallbackTimeout
	if timeout <= 0 {
		timeout = DefaultFallbackTimeout
	}
	var cache *pageCache
	switch {
	case opts.CacheSize == 0:
		cache = newPageCache(DefaultCacheSize)
	case opts.CacheSize > 0:
		cache = newPageCache(opts.CacheSize)
	}
	return &Pipeline{
		pdf:           svc,
		patterns:      extractor.New(logger),
		fallback:      opts.Fallback,
		timeout:       timeout,
		issuingOffice: opts.IssuingOffice,
		metrics:       opts.Metrics,
		cache:         cache,
		logger:        logger,
	}
}

// WithoutFallback returns a copy of p that never calls the model.
func (p *Pipeline) WithoutFallback() *Pipeline {
	cp := *p
	cp.fallback = nil
	return &cp
}

// FallbackEnabled reports whether a fallback extractor is configured.
func (p *Pipeline) FallbackEnabled() bool {
	return p.fallback != nil
}

// CacheStats reports parsed-page cache usage.
func (p *Pipeline) CacheStats() CacheStats {
	return p.cache.stats()
}

// ProcessFile loads path from the upload directory and processes it.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) (*Result, error) {
	resolved, data, err := p.pdf.Load(path)
	if err != nil {
		p.metrics.upload("failed")
		return nil, err
	}
	result, err := p.Process(ctx, data)
	if err != nil {
		var pe *rerrors.PipelineError
		if errors.As(err, &pe) {
			pe.FilePath = resolved
		}
		return nil, err
	}
	return result, nil
}

// Process runs the full pipeline over the bytes of one PDF. Only failures to
// obtain page text are returned as errors; a failed fallback yields the
// partial pattern record with an empty status map.
func (p *Pipeline) Process(ctx context.Context, data []byte) (*Result, error) {
	uploadID := uuid.NewString()
	log := p.logger.With(zap.String("upload_id", uploadID))

	if err := p.pdf.ValidateBytes(uploadID, data); err != nil {
		p.metrics.upload("failed")
		return nil, err
	}

	page, preview, err := p.readFirstPage(ctx, data, log)
	if err != nil {
		p.metrics.upload("failed")
		log.Error("pipeline: text extraction failed", zap.String("stage", rerrors.StageText), zap.Error(err))
		return nil, err
	}

	start := time.Now()
	lines := layout.GroupLines(page.Runs)
	doc := layout.Trim(lines)
	raw := doc.Text()
	p.metrics.since(rerrors.StageReconstruct, start)
	if doc.Empty() {
		log.Warn("pipeline: no issuing office marker on page 1", zap.String("stage", rerrors.StageReconstruct))
	}

	start = time.Now()
	partial := p.patterns.Extract(raw)
	p.metrics.since(rerrors.StagePattern, start)

	result := &Result{
		UploadID: uploadID,
		Preview:  preview,
		RawText:  raw,
	}

	gate := receipt.Validate(partial)
	switch {
	case gate.IsValid:
		result.Record = partial
		result.Source = SourcePattern
	case p.fallback == nil:
		log.Info("pipeline: required fields missing, fallback disabled",
			zap.String("stage", rerrors.StageGate), zap.Strings("missing", gate.MissingFields))
		result.Record = partial
		result.Source = SourcePartial
		result.Messages = append(result.Messages, MessageFallbackDisabled)
	default:
		log.Info("pipeline: required fields missing, switching to fallback",
			zap.String("stage", rerrors.StageGate), zap.Strings("missing", gate.MissingFields))
		result.Messages = append(result.Messages, MessageSwitchingToAI)

		rec, ferr := p.runFallback(ctx, raw)
		if ferr != nil {
			log.Warn("pipeline: fallback failed, using partial data",
				zap.String("stage", rerrors.StageFallback), zap.Error(ferr))
			result.Record = p.finish(partial, lines)
			result.Source = SourcePartial
			result.FieldStatus = receipt.StatusMap{}
			result.MissingFields = receipt.Validate(result.Record).MissingFields
			result.Messages = append(result.Messages, rerrors.UserMessage(ferr))
			p.metrics.upload(string(SourcePartial))
			return result, nil
		}
		result.Record = fallback.Merge(rec, partial)
		result.Source = SourceFallback
	}

	result.Record = p.finish(result.Record, lines)
	result.MissingFields = receipt.Validate(result.Record).MissingFields

	start = time.Now()
	result.FieldStatus = receipt.Verify(raw, result.Record)
	p.metrics.since(rerrors.StageVerify, start)
	p.metrics.statuses(result.FieldStatus)
	p.metrics.upload(string(result.Source))

	log.Debug("pipeline: upload processed",
		zap.String("source", string(result.Source)),
		zap.Int("verified", result.FieldStatus.Count(receipt.StatusVerified)),
		zap.Int("mismatch", result.FieldStatus.Count(receipt.StatusMismatch)))

	return result, nil
}

// readFirstPage extracts page text and renders the preview concurrently. A
// preview failure is logged and otherwise ignored. Parsed pages are cached by
// content hash.
func (p *Pipeline) readFirstPage(ctx context.Context, data []byte, log *zap.Logger) (*pdf.PageText, *pdf.PreviewResult, error) {
	key := contentKey(data)
	if entry, ok := p.cache.get(key); ok {
		log.Debug("pipeline: page cache hit", zap.String("stage", rerrors.StageText))
		return entry.page, entry.preview, nil
	}

	var (
		page    *pdf.PageText
		preview *pdf.PreviewResult
	)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		defer p.metrics.since(rerrors.StageText, start)

		pt, err := p.pdf.FirstPage(data)
		if err != nil {
			return err
		}
		page = pt
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		defer p.metrics.since(rerrors.StagePreview, start)

		pr, err := p.pdf.RenderPreview(data)
		if err != nil {
			log.Debug("pipeline: no preview", zap.String("stage", rerrors.StagePreview), zap.Error(err))
			return nil
		}
		preview = pr
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	p.cache.put(key, pageEntry{page: page, preview: preview})
	return page, preview, nil
}

func (p *Pipeline) runFallback(ctx context.Context, raw string) (receipt.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	rec, err := p.fallback.Extract(ctx, raw)
	p.metrics.since(rerrors.StageFallback, start)

	var pe *rerrors.PipelineError
	if err != nil && !errors.As(err, &pe) {
		errType := rerrors.ErrorTypeFallbackService
		if errors.Is(err, context.DeadlineExceeded) {
			errType = rerrors.ErrorTypeFallbackTimeout
		}
		err = rerrors.Wrap(errType, "fallback extraction failed", err).WithStage(rerrors.StageFallback)
	}

	switch {
	case err == nil:
		p.metrics.fallback("ok")
	case rerrors.TypeOf(err) == rerrors.ErrorTypeFallbackTimeout:
		p.metrics.fallback("timeout")
	default:
		p.metrics.fallback("error")
	}
	return rec, err
}

// finish applies the static defaults: the configured issuing office and the
// insurer family read from the whole page.
func (p *Pipeline) finish(r receipt.Record, pageLines []string) receipt.Record {
	if strings.TrimSpace(r.IssuingOffice) == "" {
		r.IssuingOffice = p.issuingOffice
	}
	if r.CompanyType == "" {
		r.CompanyType = fallback.InferCompanyType(strings.Join(pageLines, "\n"))
	}
	return r
}
