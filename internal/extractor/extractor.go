// Package extractor turns reconstructed receipt text into a best-effort
// record using an ordered table of field rules.
package extractor

import (
	"fmt"
	"strings"

	"github.com/a3tai/mcp-receipt-reader/internal/receipt"
	"go.uber.org/zap"
)

// Extractor applies a rule table to receipt text.
type Extractor struct {
	rules  []Rule
	logger *zap.Logger
}

// New creates an Extractor with the default rule table.
func New(logger *zap.Logger) *Extractor {
	return NewWithRules(DefaultRules(), logger)
}

// NewWithRules creates an Extractor with a custom rule table.
func NewWithRules(rules []Rule, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		rules:  rules,
		logger: logger.With(zap.String("stage", "pattern")),
	}
}

// Extract runs every rule against text. Fields without a match stay empty;
// a failing rule is logged and skipped so the partial record is always
// returned.
func (e *Extractor) Extract(text string) receipt.Record {
	in := Input{Text: collapseWhitespace(text)}
	for _, rule := range e.rules {
		if in.Partial.Get(rule.Field) != "" {
			continue
		}
		value, err := e.apply(rule, in)
		if err != nil {
			e.logger.Warn("pattern: rule failed", zap.String("field", rule.Field), zap.Error(err))
			continue
		}
		if value != "" {
			in.Partial.Set(rule.Field, value)
		}
	}
	return in.Partial
}

func (e *Extractor) apply(rule Rule, in Input) (value string, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = ""
			err = fmt.Errorf("panic in %s rule: %v", rule.Field, r)
		}
	}()

	raw, ok := rule.Match(in)
	if !ok {
		return "", nil
	}
	if rule.PostProcess != nil {
		raw = rule.PostProcess(raw)
	}
	return strings.TrimSpace(raw), nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
