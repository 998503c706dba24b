package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathValidator confines receipt lookups to the configured upload directory.
type PathValidator struct {
	uploadDirectory string
}

// NewPathValidator creates a validator rooted at uploadDirectory. The
// directory does not have to exist yet.
func NewPathValidator(uploadDirectory string) (*PathValidator, error) {
	if uploadDirectory == "" {
		return nil, fmt.Errorf("upload directory cannot be empty")
	}
	abs, err := filepath.Abs(uploadDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload directory: %w", err)
	}
	return &PathValidator{uploadDirectory: filepath.Clean(abs)}, nil
}

// UploadDirectory returns the absolute upload directory.
func (v *PathValidator) UploadDirectory() string {
	return v.uploadDirectory
}

// Resolve turns path into an absolute path inside the upload directory.
// Relative paths are taken relative to the upload directory. Null bytes are
// stripped before resolution.
func (v *PathValidator) Resolve(path string) (string, error) {
	path = strings.ReplaceAll(path, "\x00", "")
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(v.uploadDirectory, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if err := v.ValidatePath(abs); err != nil {
		return "", err
	}
	return abs, nil
}

// ValidatePath rejects paths that escape the upload directory, including via
// symlinks.
func (v *PathValidator) ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	// Nothing to escape from until the directory exists.
	if _, err := os.Stat(v.uploadDirectory); os.IsNotExist(err) {
		return nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	if !within(v.uploadDirectory, abs) {
		return fmt.Errorf("path is outside upload directory: %s", path)
	}

	realDir, err := filepath.EvalSymlinks(v.uploadDirectory)
	if err != nil {
		realDir = v.uploadDirectory
	}
	if realPath, err := filepath.EvalSymlinks(abs); err == nil && !within(realDir, realPath) {
		return fmt.Errorf("path is outside upload directory: %s", path)
	}

	return nil
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
