// Package wadarchive reads WAD archives: a fixed-stride index of xxhash64
// path keys over compressed payload blobs. The archive is random-access
// (memory-mapped or any io.ReaderAt); a forward-only streaming path lives
// in stream.go.
package wadarchive

import (
	"errors"
	"fmt"
	"io"

	bin "github.com/gagliardetto/binary"
	"github.com/tidwall/hashmap"
	"golang.org/x/exp/mmap"
)

var (
	ErrBadMagic            = errors.New("not a WAD file")
	ErrUnsupportedVersion  = errors.New("unsupported WAD version")
	ErrTruncated           = errors.New("truncated WAD file")
	ErrIndexOutOfBounds    = errors.New("WAD entry exceeds file bounds")
	ErrUnknownEntryType    = errors.New("unknown WAD entry type")
	ErrMalformedEntry      = errors.New("malformed WAD entry")
	ErrDecompressionFailed = errors.New("decompression failed")
	ErrChecksumMismatch    = errors.New("sha256 prefix mismatch")
	ErrInvalidPath         = errors.New("invalid entry path")
)

// EntryType selects the payload codec of a WAD entry.
type EntryType uint8

const (
	EntryRaw     EntryType = 0
	EntryGzip    EntryType = 1
	EntrySymlink EntryType = 2 // payload is a UTF-8 target path, not file data
	EntryZstd    EntryType = 3
)

func (t EntryType) String() string {
	switch t {
	case EntryRaw:
		return "raw"
	case EntryGzip:
		return "gzip"
	case EntrySymlink:
		return "symlink"
	case EntryZstd:
		return "zstd"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Entry is one record of the archive index. Entries are immutable once
// decoded.
type Entry struct {
	PathHash         uint64
	Offset           uint64
	CompressedSize   uint32
	UncompressedSize uint32
	Type             EntryType
	Duplicate        bool
	SHA256Prefix     uint64
}

const (
	headerSizeV2 = 88
	headerSizeV3 = 256
	// unknown u64 + index offset u16 + stride u16 + entry count u32
	indexHeaderSize = 16
	entryRecordSize = 32
)

// Archive is a read-only random-access view over a WAD file.
type Archive struct {
	Major uint8
	Minor uint8

	src    io.ReaderAt
	size   int64
	closer io.Closer

	entries []Entry
	byHash  *hashmap.Map[uint64, int]
}

// OpenFile memory-maps the archive at path.
func OpenFile(path string) (*Archive, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	a, err := Open(r, int64(r.Len()))
	if err != nil {
		r.Close()
		return nil, err
	}
	a.closer = r
	return a, nil
}

// OpenBytes opens an archive held entirely in memory.
func OpenBytes(data []byte) (*Archive, error) {
	return Open(newByteReaderAt(data), int64(len(data)))
}

// Open parses the header and index of an archive backed by src. The backing
// bytes must not be mutated while the archive or any entry payload view is
// in use.
func Open(src io.ReaderAt, size int64) (*Archive, error) {
	a := &Archive{src: src, size: size}

	var head [4]byte
	if err := a.readFull(head[:], 0); err != nil {
		return nil, err
	}
	if head[0] != 'R' || head[1] != 'W' {
		return nil, ErrBadMagic
	}
	a.Major, a.Minor = head[2], head[3]

	var headerSize int64
	switch a.Major {
	case 2:
		headerSize = headerSizeV2
	case 3:
		headerSize = headerSizeV3
	default:
		return nil, fmt.Errorf("%w: %d.%d", ErrUnsupportedVersion, a.Major, a.Minor)
	}

	var idxHead [indexHeaderSize]byte
	if err := a.readFull(idxHead[:], headerSize); err != nil {
		return nil, err
	}
	dec := bin.NewBinDecoder(idxHead[:])
	if _, err := dec.ReadUint64(bin.LE); err != nil { // unknown
		return nil, err
	}
	if _, err := dec.ReadUint16(bin.LE); err != nil { // index offset, unused
		return nil, err
	}
	stride, err := dec.ReadUint16(bin.LE)
	if err != nil {
		return nil, err
	}
	count, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, err
	}
	if stride == 0 {
		stride = entryRecordSize
	}
	if stride < entryRecordSize {
		return nil, fmt.Errorf("%w: index stride %d", ErrMalformedEntry, stride)
	}

	indexStart := headerSize + indexHeaderSize
	indexLen := int64(count) * int64(stride)
	if indexStart+indexLen > size {
		return nil, ErrTruncated
	}
	indexBytes := make([]byte, indexLen)
	if err := a.readFull(indexBytes, indexStart); err != nil {
		return nil, err
	}

	a.entries = make([]Entry, 0, count)
	a.byHash = hashmap.New[uint64, int](int(count) + 1)
	dec = bin.NewBinDecoder(indexBytes)
	for i := uint32(0); i < count; i++ {
		if err := dec.SetPosition(uint(i) * uint(stride)); err != nil {
			return nil, err
		}
		e, err := readEntryRecord(dec)
		if err != nil {
			return nil, err
		}
		if e.Offset+uint64(e.CompressedSize) > uint64(size) {
			return nil, fmt.Errorf("%w: entry %016x offset %d size %d",
				ErrIndexOutOfBounds, e.PathHash, e.Offset, e.CompressedSize)
		}
		a.byHash.Set(e.PathHash, len(a.entries))
		a.entries = append(a.entries, e)
	}
	return a, nil
}

func readEntryRecord(dec *bin.Decoder) (Entry, error) {
	var e Entry
	var err error
	if e.PathHash, err = dec.ReadUint64(bin.LE); err != nil {
		return e, err
	}
	offset, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return e, err
	}
	e.Offset = uint64(offset)
	if e.CompressedSize, err = dec.ReadUint32(bin.LE); err != nil {
		return e, err
	}
	if e.UncompressedSize, err = dec.ReadUint32(bin.LE); err != nil {
		return e, err
	}
	typ, err := dec.ReadUint8()
	if err != nil {
		return e, err
	}
	e.Type = EntryType(typ)
	dup, err := dec.ReadUint8()
	if err != nil {
		return e, err
	}
	e.Duplicate = dup != 0
	if _, err = dec.ReadUint16(bin.LE); err != nil { // unknown
		return e, err
	}
	if e.SHA256Prefix, err = dec.ReadUint64(bin.LE); err != nil {
		return e, err
	}
	return e, nil
}

func (a *Archive) readFull(dst []byte, off int64) error {
	n, err := a.src.ReadAt(dst, off)
	if n == len(dst) {
		return nil
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF || err == nil {
		return ErrTruncated
	}
	return err
}

// Entries returns the index in source-file order.
func (a *Archive) Entries() []Entry { return a.entries }

// Len returns the number of index entries.
func (a *Archive) Len() int { return len(a.entries) }

// Size returns the archive size in bytes.
func (a *Archive) Size() int64 { return a.size }

// Lookup finds the entry whose path hashes (xxhash64, lowercased) to h.
func (a *Archive) Lookup(h uint64) (Entry, bool) {
	i, ok := a.byHash.Get(h)
	if !ok {
		return Entry{}, false
	}
	return a.entries[i], true
}

// Close releases the backing mapping, if the archive owns one.
func (a *Archive) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

type byteReaderAt struct{ data []byte }

func newByteReaderAt(data []byte) *byteReaderAt { return &byteReaderAt{data} }

func (r *byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
