package wizard

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// SpreadsheetFile is a spreadsheet selected for upload.
type SpreadsheetFile interface {
	Name() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// LocalFile is a spreadsheet on the local filesystem.
type LocalFile struct {
	path string
}

func NewLocalFile(path string) *LocalFile {
	return &LocalFile{path: path}
}

func (f *LocalFile) Name() string { return filepath.Base(f.path) }

func (f *LocalFile) Open(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(f.path)
}

// MemoryFile is a spreadsheet already read into memory, e.g. from a form upload.
type MemoryFile struct {
	name string
	data []byte
}

func NewMemoryFile(name string, data []byte) *MemoryFile {
	return &MemoryFile{name: name, data: data}
}

func (f *MemoryFile) Name() string { return f.name }

func (f *MemoryFile) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

// Accepts reports whether name carries one of the allowed extensions.
func (c Config) Accepts(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext != "" && slices.Contains(c.AllowedExtensions, ext)
}
