package pdf

import "github.com/a3tai/mcp-receipt-reader/internal/layout"

// FileInfo represents information about an uploaded receipt file
type FileInfo struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	ModifiedTime string `json:"modified_time"`
}

// PageText is the text layer of a receipt's first page.
type PageText struct {
	// Runs are the positioned fragments of page 1, in content-stream order.
	Runs []layout.Run `json:"runs"`
	// Pages is the document's page count; only page 1 is read.
	Pages int `json:"pages"`
}

// ValidateFileRequest represents a request to validate a receipt PDF
type ValidateFileRequest struct {
	Path string `json:"path"`
}

// ValidateFileResult represents the result of a PDF validation operation
type ValidateFileResult struct {
	Valid   bool   `json:"valid"`
	Path    string `json:"path"`
	Message string `json:"message,omitempty"`
}

// PreviewResult holds the page-1 preview image.
type PreviewResult struct {
	PNG    []byte `json:"-"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}
