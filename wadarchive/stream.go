package wadarchive

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	bin "github.com/gagliardetto/binary"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"k8s.io/klog/v2"

	"github.com/communitydragon/cdtb/binhash"
)

// sniffLen is how much of each streamed payload is retained in memory for
// extension guessing of unknown entries.
const sniffLen = 512

// ExtractStream extracts an archive from a forward-only byte stream.
// The index is read up front, entries are visited in ascending offset
// order, and each payload is decompressed incrementally without being
// materialized in memory. Gaps between payloads are discarded; an entry
// whose bytes were already consumed (a duplicate sharing an earlier
// offset) is reported as errored.
func ExtractStream(ctx context.Context, r io.Reader, outputRoot string, names binhash.Resolver, opts *ExtractOptions) (*Report, error) {
	if opts == nil {
		opts = &ExtractOptions{}
	}
	cr := &countingReader{r: r}

	entries, err := readStreamIndex(cr)
	if err != nil {
		return nil, err
	}
	report := &Report{}
	sorted := SortByOffset(entries)

	zr, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(maxEntrySize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
	}
	defer zr.Close()

	for _, e := range sorted {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if opts.Tick != nil {
			opts.Tick()
		}
		if e.Offset < cr.n {
			report.addError(e, "", fmt.Errorf("%w: payload at %d already consumed", ErrMalformedEntry, e.Offset))
			continue
		}
		if gap := int64(e.Offset - cr.n); gap > 0 {
			if _, err := io.CopyN(io.Discard, cr, gap); err != nil {
				return report, fmt.Errorf("skip to entry %016x: %w", e.PathHash, err)
			}
		}
		extractStreamOne(cr, zr, e, outputRoot, names, opts, report)
	}
	return report, nil
}

func readStreamIndex(r io.Reader) ([]Entry, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, ErrTruncated
	}
	if head[0] != 'R' || head[1] != 'W' {
		return nil, ErrBadMagic
	}
	var headerSize int64
	switch head[2] {
	case 2:
		headerSize = headerSizeV2
	case 3:
		headerSize = headerSizeV3
	default:
		return nil, fmt.Errorf("%w: %d.%d", ErrUnsupportedVersion, head[2], head[3])
	}
	if _, err := io.CopyN(io.Discard, r, headerSize-4); err != nil {
		return nil, ErrTruncated
	}
	var idxHead [indexHeaderSize]byte
	if _, err := io.ReadFull(r, idxHead[:]); err != nil {
		return nil, ErrTruncated
	}
	stride := binary.LittleEndian.Uint16(idxHead[10:12])
	count := binary.LittleEndian.Uint32(idxHead[12:16])
	if stride == 0 {
		stride = entryRecordSize
	}
	if stride < entryRecordSize {
		return nil, fmt.Errorf("%w: index stride %d", ErrMalformedEntry, stride)
	}
	indexBytes := make([]byte, int64(count)*int64(stride))
	if _, err := io.ReadFull(r, indexBytes); err != nil {
		return nil, ErrTruncated
	}
	entries := make([]Entry, 0, count)
	dec := bin.NewBinDecoder(indexBytes)
	for i := uint32(0); i < count; i++ {
		if err := dec.SetPosition(uint(i) * uint(stride)); err != nil {
			return nil, err
		}
		e, err := readEntryRecord(dec)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func extractStreamOne(cr *countingReader, zr *zstd.Decoder, e Entry, outputRoot string, names binhash.Resolver, opts *ExtractOptions, report *Report) {
	name, known := "", false
	if names != nil {
		name, known = names.Get(e.PathHash)
	}
	skip := func() {
		report.mu.Lock()
		report.Skipped++
		report.mu.Unlock()
	}
	// Skipped payload bytes are discarded by the gap logic before the
	// next entry.
	if (opts.Unknown == UnknownNo && !known) || (opts.Unknown == UnknownOnly && known) {
		skip()
		return
	}
	if known && len(opts.Patterns) > 0 && !matchAny(opts.Patterns, name) {
		skip()
		return
	}

	if e.Type == EntrySymlink {
		if _, err := io.CopyN(io.Discard, cr, int64(e.CompressedSize)); err != nil {
			report.addError(e, name, err)
			return
		}
		report.mu.Lock()
		report.Symlinked++
		report.mu.Unlock()
		return
	}

	if known && !opts.Overwrite {
		dest, err := safeJoin(outputRoot, name)
		if err != nil {
			report.addError(e, name, err)
			return
		}
		if ok, err := canSkip(dest, e, opts.Read.Verify); err == nil && ok {
			skip()
			return
		}
	}

	limit := io.LimitReader(cr, int64(e.CompressedSize))
	var payload io.Reader
	switch e.Type {
	case EntryRaw:
		if e.CompressedSize != e.UncompressedSize {
			report.addError(e, name, fmt.Errorf("%w: raw entry sizes differ", ErrMalformedEntry))
			return
		}
		payload = limit
	case EntryGzip:
		gz, err := gzip.NewReader(limit)
		if err != nil {
			report.addError(e, name, fmt.Errorf("%w: %v", ErrDecompressionFailed, err))
			return
		}
		defer gz.Close()
		payload = gz
	case EntryZstd:
		if err := zr.Reset(limit); err != nil {
			report.addError(e, name, fmt.Errorf("%w: %v", ErrDecompressionFailed, err))
			return
		}
		payload = zr
	default:
		report.addError(e, name, fmt.Errorf("%w: %d", ErrUnknownEntryType, uint8(e.Type)))
		return
	}

	n, skipped, err := spoolStreamEntry(payload, e, outputRoot, name, known, opts)
	if err != nil {
		report.addError(e, name, err)
		return
	}
	report.mu.Lock()
	if skipped {
		report.Skipped++
	} else {
		report.Extracted++
		report.WrittenLen += n
	}
	report.mu.Unlock()
}

// spoolStreamEntry copies the decoded payload into an anonymous temp file
// below outputRoot, then renames it to its resolved destination. Unknown
// entries are named from the spooled payload's magic bytes.
func spoolStreamEntry(payload io.Reader, e Entry, outputRoot, name string, known bool, opts *ExtractOptions) (n uint64, skipped bool, err error) {
	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return 0, false, err
	}
	tmp, err := os.CreateTemp(outputRoot, ".wadstream-*")
	if err != nil {
		return 0, false, err
	}
	tmpName := tmp.Name()
	discard := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	var hasher hash.Hash
	var dst io.Writer = tmp
	if opts.Read.Verify {
		hasher = sha256.New()
		dst = io.MultiWriter(tmp, hasher)
	}
	sniff := &sniffWriter{}
	lw := &limitedWriter{w: io.MultiWriter(dst, sniff), max: uint64(e.UncompressedSize)}
	if _, err := io.Copy(lw, payload); err != nil {
		discard()
		return 0, false, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
	}
	if lw.n != uint64(e.UncompressedSize) {
		discard()
		return 0, false, fmt.Errorf("%w: decoded %d bytes, want %d", ErrMalformedEntry, lw.n, e.UncompressedSize)
	}
	if hasher != nil {
		sum := hasher.Sum(nil)
		got := binary.LittleEndian.Uint64(sum[:8])
		if got != e.SHA256Prefix && !(e.SHA256Prefix == 0 && opts.Read.AllowZeroChecksum) {
			discard()
			return 0, false, fmt.Errorf("%w: %016x != %016x", ErrChecksumMismatch, got, e.SHA256Prefix)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, false, err
	}

	if !known {
		name = unknownName(e.PathHash, sniff.buf)
		if len(opts.Patterns) > 0 && !matchAny(opts.Patterns, name) {
			os.Remove(tmpName)
			return 0, true, nil
		}
	}
	dest, err := safeJoin(outputRoot, name)
	if err != nil {
		os.Remove(tmpName)
		return 0, false, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		os.Remove(tmpName)
		return 0, false, err
	}
	if !opts.Overwrite {
		if ok, err := canSkip(dest, e, opts.Read.Verify); err == nil && ok {
			os.Remove(tmpName)
			return 0, true, nil
		}
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return 0, false, err
	}
	klog.V(3).Infof("extracted %s (%d bytes)", dest, lw.n)
	return lw.n, false, nil
}

type countingReader struct {
	r io.Reader
	n uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += uint64(n)
	return n, err
}

// limitedWriter fails once more than max bytes are written, so a lying
// compressed payload cannot grow unboundedly.
type limitedWriter struct {
	w   io.Writer
	n   uint64
	max uint64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.n+uint64(len(p)) > l.max {
		return 0, fmt.Errorf("%w: payload exceeds declared size %d", ErrMalformedEntry, l.max)
	}
	n, err := l.w.Write(p)
	l.n += uint64(n)
	return n, err
}

// sniffWriter retains the first sniffLen bytes passing through it.
type sniffWriter struct {
	buf []byte
}

func (s *sniffWriter) Write(p []byte) (int, error) {
	if len(s.buf) < sniffLen {
		need := sniffLen - len(s.buf)
		if need > len(p) {
			need = len(p)
		}
		s.buf = append(s.buf, p[:need]...)
	}
	return len(p), nil
}
