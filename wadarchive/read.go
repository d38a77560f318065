package wadarchive

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	zstdpool "github.com/mostynb/zstdpool-freelist"
	"github.com/valyala/bytebufferpool"
)

// maxEntrySize caps per-entry allocations; entries declaring more than this
// are rejected rather than trusted.
const maxEntrySize = 2 << 30

var zstdDecoderPool = zstdpool.NewDecoderPool(
	zstd.WithDecoderMaxMemory(maxEntrySize),
)

var compressedPool bytebufferpool.Pool

// ReadOptions control payload verification.
type ReadOptions struct {
	// Verify checks the sha256 prefix of the uncompressed payload
	// against the index record.
	Verify bool
	// AllowZeroChecksum treats a zero sha256 prefix as unverified
	// instead of mismatched. Some writers emit a zero prefix on the
	// final entry.
	AllowZeroChecksum bool
}

// ReadEntry decodes one entry's payload. For symlink entries the returned
// bytes are the UTF-8 target path; callers must not extract them as file
// data.
func (a *Archive) ReadEntry(e Entry, opts *ReadOptions) ([]byte, error) {
	if opts == nil {
		opts = &ReadOptions{}
	}
	if uint64(e.UncompressedSize) > maxEntrySize {
		return nil, fmt.Errorf("%w: declared size %d", ErrMalformedEntry, e.UncompressedSize)
	}
	if e.Offset+uint64(e.CompressedSize) > uint64(a.size) {
		return nil, ErrIndexOutOfBounds
	}

	bb := compressedPool.Get()
	defer compressedPool.Put(bb)
	if cap(bb.B) < int(e.CompressedSize) {
		bb.B = make([]byte, e.CompressedSize)
	}
	raw := bb.B[:e.CompressedSize]
	if err := a.readFull(raw, int64(e.Offset)); err != nil {
		return nil, err
	}

	var out []byte
	switch e.Type {
	case EntryRaw:
		if e.CompressedSize != e.UncompressedSize {
			return nil, fmt.Errorf("%w: raw entry sizes differ (%d != %d)",
				ErrMalformedEntry, e.CompressedSize, e.UncompressedSize)
		}
		out = append([]byte(nil), raw...)
	case EntrySymlink:
		return append([]byte(nil), raw...), nil
	case EntryGzip:
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
		}
		out = make([]byte, 0, e.UncompressedSize)
		buf := bytes.NewBuffer(out)
		if _, err := io.Copy(buf, io.LimitReader(zr, maxEntrySize)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
		}
		if err := zr.Close(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
		}
		out = buf.Bytes()
	case EntryZstd:
		dec, err := zstdDecoderPool.Get(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
		}
		out, err = dec.DecodeAll(raw, make([]byte, 0, e.UncompressedSize))
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownEntryType, uint8(e.Type))
	}

	if len(out) != int(e.UncompressedSize) {
		return nil, fmt.Errorf("%w: decoded %d bytes, want %d",
			ErrMalformedEntry, len(out), e.UncompressedSize)
	}
	if opts.Verify {
		if err := verifyChecksum(e, out, opts.AllowZeroChecksum); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func verifyChecksum(e Entry, payload []byte, allowZero bool) error {
	if e.SHA256Prefix == 0 && allowZero {
		return nil
	}
	sum := sha256.Sum256(payload)
	if got := binary.LittleEndian.Uint64(sum[:8]); got != e.SHA256Prefix {
		return fmt.Errorf("%w: entry %016x: %016x != %016x",
			ErrChecksumMismatch, e.PathHash, got, e.SHA256Prefix)
	}
	return nil
}
