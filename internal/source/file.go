package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// File reads the tail of a log file. Rotated gzip and zstd files are
// detected by their magic bytes and decompressed on the fly.
type File struct {
	path   string
	limit  int
	logger *slog.Logger
}

// NewFile creates a file source
func NewFile(path string, limit int, logger *slog.Logger) *File {
	if logger == nil {
		logger = slog.Default()
	}
	return &File{path: path, limit: limit, logger: logger}
}

func (f *File) Describe() string {
	return "file:" + f.path
}

func (f *File) Read(ctx context.Context) ([]string, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("file not found: %s: %w", f.path, err)
		}
		return nil, fmt.Errorf("failed to open %s: %w", f.path, err)
	}
	defer file.Close()

	br := bufio.NewReader(file)
	head, _ := br.Peek(len(zstdMagic))

	var r io.Reader = br
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		r = gz
		f.logger.Debug("Decompressing gzip log file", "path", f.path)
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer zr.Close()
		r = zr
		f.logger.Debug("Decompressing zstd log file", "path", f.path)
	}

	lines, err := Tail(&ctxReader{ctx: ctx, r: r}, f.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	return lines, nil
}

// ctxReader stops a long read once the context is cancelled
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
