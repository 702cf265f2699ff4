package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileAppender writes entries as JSON lines to a single append-only file.
type FileAppender struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewFileAppender opens (creating if needed) the audit file at path.
func NewFileAppender(path string) (*FileAppender, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: create directory for %q: %w", path, err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %q: %w", path, err)
	}
	return &FileAppender{file: file, path: path}, nil
}

func (fa *FileAppender) Append(_ context.Context, entry *Entry) error {
	line, err := entry.JSON()
	if err != nil {
		return err
	}
	line = append(line, '\n')

	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.file == nil {
		return fmt.Errorf("audit: appender for %q is closed", fa.path)
	}
	if _, err := fa.file.Write(line); err != nil {
		return fmt.Errorf("audit: write %q: %w", fa.path, err)
	}
	return nil
}

func (fa *FileAppender) Close() error {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.file == nil {
		return nil
	}
	err := fa.file.Close()
	fa.file = nil
	return err
}
