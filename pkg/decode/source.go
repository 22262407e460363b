package decode

import (
	"fmt"
	"io"
	"os"
)

// Source is a random-access windowed byte source. Decoders read only the
// window they were asked for, so multi-gigabyte sources never have to be
// materialized.
type Source interface {
	io.ReaderAt
	Size() int64
}

// BytesSource adapts an in-memory buffer to the Source interface.
type BytesSource struct {
	data []byte
}

// NewBytesSource wraps data without copying it.
func NewBytesSource(data []byte) *BytesSource {
	return &BytesSource{data: data}
}

func (s *BytesSource) Size() int64 { return int64(len(s.data)) }

func (s *BytesSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("bytes source: negative offset %d", off)
	}
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// FileSource is a Source backed by a regular file.
type FileSource struct {
	f    *os.File
	size int64
}

// OpenFile opens path as a Source. The caller owns Close.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat source: %w", err)
	}

	return &FileSource{f: f, size: info.Size()}, nil
}

func (s *FileSource) Size() int64 { return s.size }

func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

// Close releases the underlying file handle.
func (s *FileSource) Close() error { return s.f.Close() }

// readWindow reads the byte range [off, off+n) from src, tolerating a short
// read at the end of the source. Helper shared by the fixed-stride decoders.
func readWindow(src Source, off, n int64) ([]byte, error) {
	size := src.Size()
	if off >= size {
		return nil, nil
	}
	if off+n > size {
		n = size - off
	}

	buf := make([]byte, n)
	read, err := src.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read source window [%d,%d): %w", off, off+n, err)
	}
	if int64(read) != n {
		return nil, fmt.Errorf("short source read: got %d of %d bytes at offset %d", read, n, off)
	}

	return buf, nil
}
