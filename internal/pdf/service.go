package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	rerrors "github.com/a3tai/mcp-receipt-reader/internal/errors"
	"github.com/a3tai/mcp-receipt-reader/internal/pdf/security"
)

// Service bundles the receipt file operations behind the upload directory
// sandbox.
type Service struct {
	maxFileSize   int64
	reader        *Reader
	validator     *Validator
	preview       *Preview
	pathValidator *security.PathValidator
}

// NewService creates a new PDF service with all components
func NewService(maxFileSize int64, uploadDirectory string) (*Service, error) {
	pathValidator, err := security.NewPathValidator(uploadDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to create path validator: %w", err)
	}

	return &Service{
		maxFileSize:   maxFileSize,
		reader:        NewReader(maxFileSize),
		validator:     NewValidator(maxFileSize),
		preview:       NewPreview(DefaultPreviewScale),
		pathValidator: pathValidator,
	}, nil
}

// Load resolves path inside the upload directory, validates it and returns
// the absolute path with the file contents.
func (s *Service) Load(path string) (string, []byte, error) {
	resolved, err := s.pathValidator.Resolve(path)
	if err != nil {
		return "", nil, rerrors.Wrap(rerrors.ErrorTypeInvalidInput, "security validation failed", err).
			WithStage(rerrors.StageValidate).
			WithFile(path)
	}

	fileInfo, err := os.Stat(resolved)
	if err != nil {
		return "", nil, rerrors.Wrap(rerrors.ErrorTypeInvalidInput, "cannot access file", err).
			WithStage(rerrors.StageValidate).
			WithFile(resolved)
	}
	if err := s.validator.ValidateFileInfo(resolved, fileInfo); err != nil {
		return "", nil, rerrors.Wrap(rerrors.ErrorTypeInvalidInput, "invalid receipt file", err).
			WithStage(rerrors.StageValidate).
			WithFile(resolved)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", nil, rerrors.Wrap(rerrors.ErrorTypeInvalidInput, "cannot read file", err).
			WithStage(rerrors.StageValidate).
			WithFile(resolved)
	}
	return resolved, data, nil
}

// ValidateBytes checks an in-memory upload before processing.
func (s *Service) ValidateBytes(name string, data []byte) error {
	if err := s.validator.ValidateBytes(name, data); err != nil {
		return rerrors.Wrap(rerrors.ErrorTypeInvalidInput, "invalid receipt file", err).
			WithStage(rerrors.StageValidate).
			WithFile(name)
	}
	return nil
}

// FirstPage extracts the positioned text runs of page 1.
func (s *Service) FirstPage(data []byte) (*PageText, error) {
	return s.reader.FirstPage(data)
}

// RenderPreview renders page 1 for visual verification.
func (s *Service) RenderPreview(data []byte) (*PreviewResult, error) {
	return s.preview.Render(data)
}

// ValidateFile performs validation on a receipt file inside the upload
// directory
func (s *Service) ValidateFile(req ValidateFileRequest) (*ValidateFileResult, error) {
	resolved, err := s.pathValidator.Resolve(req.Path)
	if err != nil {
		return &ValidateFileResult{Path: req.Path, Message: err.Error()}, nil
	}
	result, err := s.validator.ValidateFile(ValidateFileRequest{Path: resolved})
	if err != nil {
		return nil, err
	}
	result.Path = req.Path
	return result, nil
}

// ListUploads returns the PDFs directly inside the upload directory, newest
// first, capped at limit when limit > 0.
func (s *Service) ListUploads(limit int) ([]FileInfo, error) {
	dir := s.pathValidator.UploadDirectory()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []FileInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read upload directory: %w", err)
	}

	files := make([]FileInfo, 0, len(entries))
	modTimes := make(map[string]time.Time, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".pdf") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		modTimes[path] = info.ModTime()
		files = append(files, FileInfo{
			Path:         path,
			Name:         entry.Name(),
			Size:         info.Size(),
			ModifiedTime: info.ModTime().Format(time.RFC3339),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		return modTimes[files[i].Path].After(modTimes[files[j].Path])
	})
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

// UploadDirectory returns the directory receipts are read from
func (s *Service) UploadDirectory() string {
	return s.pathValidator.UploadDirectory()
}

// MaxFileSize returns the maximum file size limit
func (s *Service) MaxFileSize() int64 {
	return s.maxFileSize
}
