package pdf

import (
	"bytes"
	"fmt"
	"strings"

	rerrors "github.com/a3tai/mcp-receipt-reader/internal/errors"
	"github.com/a3tai/mcp-receipt-reader/internal/layout"
	"github.com/ledongthuc/pdf"
)

// Reader extracts positioned text from the first page of a receipt.
type Reader struct {
	maxFileSize int64
}

// NewReader creates a new PDF reader with the specified constraints
func NewReader(maxFileSize int64) *Reader {
	return &Reader{
		maxFileSize: maxFileSize,
	}
}

// FirstPage returns the positioned text runs of page 1. Later pages are
// ignored. A PDF that cannot be parsed, or whose first page carries no text,
// yields a non-recoverable PipelineError.
func (r *Reader) FirstPage(data []byte) (result *PageText, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = rerrors.New(rerrors.ErrorTypePDFExtraction, "PDF parser failed").
				WithContext(fmt.Sprint(rec)).
				WithStage(rerrors.StageText).
				WithPage(1)
		}
	}()

	if int64(len(data)) > r.maxFileSize {
		return nil, rerrors.New(rerrors.ErrorTypeInvalidInput,
			fmt.Sprintf("file too large: %d bytes (max: %d bytes)", len(data), r.maxFileSize)).
			WithStage(rerrors.StageText)
	}

	pdfReader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, rerrors.Wrap(rerrors.ErrorTypePDFExtraction, "failed to open PDF", err).
			WithStage(rerrors.StageText)
	}

	pages := pdfReader.NumPage()
	if pages < 1 {
		return nil, rerrors.New(rerrors.ErrorTypeNoText, "PDF has no pages").
			WithStage(rerrors.StageText)
	}

	page := pdfReader.Page(1)
	if page.V.IsNull() {
		return nil, rerrors.New(rerrors.ErrorTypeNoText, "page 1 is missing").
			WithStage(rerrors.StageText).
			WithPage(1)
	}

	rows, err := page.GetTextByRow()
	if err != nil {
		return nil, rerrors.Wrap(rerrors.ErrorTypePDFExtraction, "failed to read page text", err).
			WithStage(rerrors.StageText).
			WithPage(1)
	}

	var runs []layout.Run
	for _, row := range rows {
		for _, text := range row.Content {
			if strings.TrimSpace(text.S) == "" {
				continue
			}
			runs = append(runs, layout.Run{Text: text.S, X: text.X, Y: text.Y})
		}
	}

	if len(runs) == 0 {
		return nil, rerrors.New(rerrors.ErrorTypeNoText, "no text content could be extracted from page 1").
			WithStage(rerrors.StageText).
			WithPage(1)
	}

	return &PageText{Runs: runs, Pages: pages}, nil
}
