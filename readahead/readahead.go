// Package readahead buffers a forward-only byte source for offset-ordered
// WAD streaming. Entry payloads are interleaved with index gaps, so the
// reader keeps a large page-aligned buffer, tracks the absolute stream
// offset, and discards gap bytes without handing them to the caller.
package readahead

import (
	"bufio"
	"errors"
	"io"
	"os"
)

const (
	KiB = 1024
	MiB = 1024 * KiB
)

// DefaultChunkSize is large enough that even the biggest WAD index and
// typical compressed payloads are served from one buffered read.
const DefaultChunkSize = 12 * MiB

// Reader is a buffered forward-only reader over an archive stream.
type Reader struct {
	src io.ReadCloser
	buf *bufio.Reader
	off int64
}

// Open opens path for buffered sequential reading. chunkSize <= 0 selects
// DefaultChunkSize; either way the buffer is rounded up to whole pages.
func Open(path string, chunkSize int) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return New(f, chunkSize), nil
}

// New buffers an already-open source. The source is closed together with
// the Reader.
func New(src io.ReadCloser, chunkSize int) *Reader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	pageSize := os.Getpagesize()
	chunkSize = (chunkSize + pageSize - 1) &^ (pageSize - 1)
	return &Reader{src: src, buf: bufio.NewReaderSize(src, chunkSize)}
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.src == nil {
		return 0, errors.New("readahead: reader is closed")
	}
	n, err := r.buf.Read(p)
	r.off += int64(n)
	return n, err
}

// Discard drops n bytes, serving them from the buffer where possible.
// It can skip the gaps between offset-sorted entry payloads; the streamed
// WAD extractor skips them by reading through its own counting reader.
func (r *Reader) Discard(n int64) error {
	for n > 0 {
		step := n
		const maxStep = 1 << 30
		if step > maxStep {
			step = maxStep
		}
		done, err := r.buf.Discard(int(step))
		r.off += int64(done)
		if err != nil {
			return err
		}
		n -= int64(done)
	}
	return nil
}

// Offset returns the absolute stream position: bytes read plus bytes
// discarded since opening.
func (r *Reader) Offset() int64 { return r.off }

func (r *Reader) Close() error {
	if r.src == nil {
		return nil
	}
	err := r.src.Close()
	r.src = nil
	return err
}
