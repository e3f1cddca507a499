package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/feilong2k/codemaestro/internal/application/port"
)

// ErrPathEscapes is returned for paths that resolve outside the workspace
var ErrPathEscapes = errors.New("path escapes workspace")

// WorkspaceStorage implements port.FileStorage over the local directory
// agents write tests and implementation files into
type WorkspaceStorage struct {
	baseDir string
	logger  *zap.Logger
}

// NewWorkspaceStorage creates a new WorkspaceStorage rooted at baseDir
func NewWorkspaceStorage(baseDir string, logger *zap.Logger) *WorkspaceStorage {
	return &WorkspaceStorage{
		baseDir: baseDir,
		logger:  logger,
	}
}

// Save writes content atomically to the relative path
func (s *WorkspaceStorage) Save(ctx context.Context, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath, err := s.resolve(path)
	if err != nil {
		return err
	}

	parentDir := filepath.Dir(fullPath)
	if err := os.MkdirAll(parentDir, 0755); err != nil {
		s.logger.Error("Failed to create parent directories",
			zap.String("path", parentDir),
			zap.Error(err))
		return fmt.Errorf("failed to create directories: %w", err)
	}

	// write to a sibling temp file so readers never see a partial file
	tmp, err := os.CreateTemp(parentDir, "."+filepath.Base(fullPath)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		s.logger.Error("Failed to write file",
			zap.String("path", fullPath),
			zap.Error(err))
		return fmt.Errorf("failed to write file: %w", err)
	}

	s.logger.Debug("Workspace file saved",
		zap.String("path", path),
		zap.Int("size", len(content)))

	return nil
}

// Read reads content from the relative path
func (s *WorkspaceStorage) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return content, nil
}

// Exists reports whether a regular file exists at the relative path
func (s *WorkspaceStorage) Exists(ctx context.Context, path string) bool {
	fullPath, err := s.resolve(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(fullPath)
	return err == nil && info.Mode().IsRegular()
}

// Delete removes the file. Missing files are not an error.
func (s *WorkspaceStorage) Delete(ctx context.Context, path string) error {
	fullPath, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		s.logger.Error("Failed to delete file",
			zap.String("path", fullPath),
			zap.Error(err))
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// GetFullPath converts a relative path to full path
func (s *WorkspaceStorage) GetFullPath(relativePath string) string {
	return filepath.Join(s.baseDir, relativePath)
}

// resolve joins path onto the workspace and rejects anything outside it
func (s *WorkspaceStorage) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathEscapes)
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: %s is absolute", ErrPathEscapes, path)
	}

	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(absBase, path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, path)
	}
	return absPath, nil
}

// Verify interface compliance
var _ port.FileStorage = (*WorkspaceStorage)(nil)
