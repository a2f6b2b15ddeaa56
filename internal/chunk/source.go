package chunk

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Source is random-access media the responder serves from.
// *bytes.Reader and *FileSource satisfy it.
type Source interface {
	io.ReaderAt
	Size() int64
}

// FileSource serves a local file.
type FileSource struct {
	f    *os.File
	size int64
}

// OpenFile opens path for serving.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open media file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat media file: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &FileSource{f: f, size: info.Size()}, nil
}

func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *FileSource) Size() int64 { return s.size }

// Name returns the file's base name.
func (s *FileSource) Name() string { return filepath.Base(s.f.Name()) }

func (s *FileSource) Close() error { return s.f.Close() }
