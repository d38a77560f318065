package wadarchive_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"github.com/communitydragon/cdtb/binhash"
	"github.com/communitydragon/cdtb/hashtable"
	"github.com/communitydragon/cdtb/wadarchive"
)

type fixtureEntry struct {
	pathHash uint64
	payload  []byte // on-disk (possibly compressed) bytes
	usize    uint32
	typ      wadarchive.EntryType
	sha      uint64 // zero means "compute from uncompressed"
	plain    []byte // uncompressed bytes, for checksum computation
}

func shaPrefix(data []byte) uint64 {
	sum := sha256.Sum256(data)
	return binary.LittleEndian.Uint64(sum[:8])
}

// buildWad assembles a v2 archive: 88 header bytes, the index header and
// a 32-byte-stride index, payloads packed after the index.
func buildWad(t *testing.T, entries []fixtureEntry) []byte {
	t.Helper()
	const headerSize = 88
	const indexHeaderSize = 16
	const stride = 32

	indexStart := headerSize + indexHeaderSize
	payloadStart := indexStart + stride*len(entries)

	var buf bytes.Buffer
	buf.WriteString("RW")
	buf.WriteByte(2)
	buf.WriteByte(0)
	buf.Write(make([]byte, headerSize-4))

	w := func(v any) {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
	}
	w(uint64(0))             // unknown
	w(uint16(indexStart))    // index offset
	w(uint16(stride))        // entry stride
	w(uint32(len(entries))) // entry count

	offset := payloadStart
	for _, e := range entries {
		sha := e.sha
		if sha == 0 && e.typ != wadarchive.EntrySymlink {
			plain := e.plain
			if plain == nil {
				plain = e.payload
			}
			sha = shaPrefix(plain)
		}
		w(e.pathHash)
		w(uint32(offset))
		w(uint32(len(e.payload)))
		w(e.usize)
		w(uint8(e.typ))
		w(uint8(0)) // duplicate
		w(uint16(0))
		w(sha)
		offset += len(e.payload)
	}
	for _, e := range entries {
		buf.Write(e.payload)
	}
	return buf.Bytes()
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func TestOpenRawEntry(t *testing.T) {
	data := buildWad(t, []fixtureEntry{{
		pathHash: 0x0123456789abcdef,
		payload:  []byte("abcd"),
		usize:    4,
		typ:      wadarchive.EntryRaw,
	}})
	a, err := wadarchive.OpenBytes(data)
	require.NoError(t, err)
	require.Equal(t, uint8(2), a.Major)
	require.Equal(t, 1, a.Len())

	e, ok := a.Lookup(0x0123456789abcdef)
	require.True(t, ok)
	require.Equal(t, uint32(4), e.CompressedSize)

	payload, err := a.ReadEntry(e, &wadarchive.ReadOptions{Verify: true})
	require.NoError(t, err)
	require.Equal(t, []byte("abcd"), payload)

	_, ok = a.Lookup(0x1111111111111111)
	require.False(t, ok)
}

func TestOpenGzipEntry(t *testing.T) {
	data := buildWad(t, []fixtureEntry{{
		pathHash: 42,
		payload:  gzipBytes(t, []byte("hello")),
		usize:    5,
		typ:      wadarchive.EntryGzip,
		plain:    []byte("hello"),
	}})
	a, err := wadarchive.OpenBytes(data)
	require.NoError(t, err)
	e, ok := a.Lookup(42)
	require.True(t, ok)
	payload, err := a.ReadEntry(e, &wadarchive.ReadOptions{Verify: true})
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), payload)
}

func TestOpenZstdEntry(t *testing.T) {
	plain := bytes.Repeat([]byte("zstd payload "), 100)
	data := buildWad(t, []fixtureEntry{{
		pathHash: 7,
		payload:  zstdBytes(t, plain),
		usize:    uint32(len(plain)),
		typ:      wadarchive.EntryZstd,
		plain:    plain,
	}})
	a, err := wadarchive.OpenBytes(data)
	require.NoError(t, err)
	e, _ := a.Lookup(7)
	payload, err := a.ReadEntry(e, &wadarchive.ReadOptions{Verify: true})
	require.NoError(t, err)
	require.Equal(t, plain, payload)
}

func TestSymlinkEntry(t *testing.T) {
	target := "assets/shared/target.dds"
	data := buildWad(t, []fixtureEntry{{
		pathHash: 9,
		payload:  []byte(target),
		usize:    uint32(len(target)),
		typ:      wadarchive.EntrySymlink,
	}})
	a, err := wadarchive.OpenBytes(data)
	require.NoError(t, err)
	e, _ := a.Lookup(9)
	require.Equal(t, wadarchive.EntrySymlink, e.Type)
	payload, err := a.ReadEntry(e, nil)
	require.NoError(t, err)
	require.Equal(t, target, string(payload))
}

func TestEmptyArchive(t *testing.T) {
	data := buildWad(t, nil)
	a, err := wadarchive.OpenBytes(data)
	require.NoError(t, err)
	require.Equal(t, 0, a.Len())
	_, ok := a.Lookup(1)
	require.False(t, ok)
}

func TestOpenErrors(t *testing.T) {
	t.Run("bad magic", func(t *testing.T) {
		_, err := wadarchive.OpenBytes([]byte("NOPE...."))
		require.ErrorIs(t, err, wadarchive.ErrBadMagic)
	})
	t.Run("unsupported version", func(t *testing.T) {
		data := buildWad(t, nil)
		data[2] = 4
		_, err := wadarchive.OpenBytes(data)
		require.ErrorIs(t, err, wadarchive.ErrUnsupportedVersion)
	})
	t.Run("truncated header", func(t *testing.T) {
		_, err := wadarchive.OpenBytes([]byte("RW\x02\x00"))
		require.ErrorIs(t, err, wadarchive.ErrTruncated)
	})
	t.Run("entry out of bounds", func(t *testing.T) {
		data := buildWad(t, []fixtureEntry{{
			pathHash: 1,
			payload:  []byte("abcd"),
			usize:    4,
			typ:      wadarchive.EntryRaw,
		}})
		// Truncate away the payload.
		_, err := wadarchive.OpenBytes(data[:len(data)-4])
		require.ErrorIs(t, err, wadarchive.ErrIndexOutOfBounds)
	})
}

func TestReadEntryErrors(t *testing.T) {
	t.Run("raw size mismatch", func(t *testing.T) {
		data := buildWad(t, []fixtureEntry{{
			pathHash: 1,
			payload:  []byte("abcd"),
			usize:    8,
			typ:      wadarchive.EntryRaw,
		}})
		a, err := wadarchive.OpenBytes(data)
		require.NoError(t, err)
		e, _ := a.Lookup(1)
		_, err = a.ReadEntry(e, nil)
		require.ErrorIs(t, err, wadarchive.ErrMalformedEntry)
	})
	t.Run("unknown type", func(t *testing.T) {
		data := buildWad(t, []fixtureEntry{{
			pathHash: 1,
			payload:  []byte("abcd"),
			usize:    4,
			typ:      wadarchive.EntryType(9),
		}})
		a, err := wadarchive.OpenBytes(data)
		require.NoError(t, err)
		e, _ := a.Lookup(1)
		_, err = a.ReadEntry(e, nil)
		require.ErrorIs(t, err, wadarchive.ErrUnknownEntryType)
	})
	t.Run("checksum mismatch", func(t *testing.T) {
		data := buildWad(t, []fixtureEntry{{
			pathHash: 1,
			payload:  []byte("abcd"),
			usize:    4,
			typ:      wadarchive.EntryRaw,
			sha:      0xffffffffffffffff,
		}})
		a, err := wadarchive.OpenBytes(data)
		require.NoError(t, err)
		e, _ := a.Lookup(1)
		_, err = a.ReadEntry(e, &wadarchive.ReadOptions{Verify: true})
		require.ErrorIs(t, err, wadarchive.ErrChecksumMismatch)
		// Verification is optional; without it the read succeeds.
		_, err = a.ReadEntry(e, nil)
		require.NoError(t, err)
	})
	t.Run("zero checksum policy", func(t *testing.T) {
		data := buildWad(t, []fixtureEntry{{
			pathHash: 1,
			payload:  []byte("abcd"),
			usize:    4,
			typ:      wadarchive.EntryRaw,
			sha:      1, // overwritten below
		}})
		// Rewrite the sha field to zero: last 8 bytes of the index record.
		const shaOff = 88 + 16 + 32 - 8
		copy(data[shaOff:shaOff+8], make([]byte, 8))
		a, err := wadarchive.OpenBytes(data)
		require.NoError(t, err)
		e, _ := a.Lookup(1)
		_, err = a.ReadEntry(e, &wadarchive.ReadOptions{Verify: true})
		require.ErrorIs(t, err, wadarchive.ErrChecksumMismatch)
		_, err = a.ReadEntry(e, &wadarchive.ReadOptions{Verify: true, AllowZeroChecksum: true})
		require.NoError(t, err)
	})
}

func TestArchiveSizeProperties(t *testing.T) {
	entries := []fixtureEntry{
		{pathHash: 1, payload: []byte("abcd"), usize: 4, typ: wadarchive.EntryRaw},
		{pathHash: 2, payload: gzipBytes(t, []byte("hello")), usize: 5, typ: wadarchive.EntryGzip, plain: []byte("hello")},
	}
	data := buildWad(t, entries)
	a, err := wadarchive.OpenBytes(data)
	require.NoError(t, err)

	var sum uint64
	for _, e := range a.Entries() {
		sum += uint64(e.CompressedSize)
		require.LessOrEqual(t, e.Offset+uint64(e.CompressedSize), uint64(len(data)))
	}
	require.LessOrEqual(t, sum, uint64(len(data)))
}

func testNames(t *testing.T) *hashtable.HashFile {
	t.Helper()
	hf := hashtable.NewHashFile(filepath.Join(t.TempDir(), "hashes.game.txt"), hashtable.FamilyGame)
	require.NoError(t, hf.Load())
	return hf
}

func TestExtract(t *testing.T) {
	known := "assets/characters/ahri/ahri.dds"
	names := testNames(t)
	require.True(t, names.TryInsert(known))

	entries := []fixtureEntry{
		{pathHash: binhash.XxHash64(known), payload: []byte("texture"), usize: 7, typ: wadarchive.EntryRaw},
		{pathHash: 0xabcdef, payload: []byte(`{"a":1}`), usize: 7, typ: wadarchive.EntryRaw},
		{pathHash: 0x55, payload: []byte("assets/other.dds"), usize: 16, typ: wadarchive.EntrySymlink},
	}
	data := buildWad(t, entries)
	a, err := wadarchive.OpenBytes(data)
	require.NoError(t, err)

	out := t.TempDir()
	report, err := a.Extract(context.Background(), out, names, nil)
	require.NoError(t, err)
	require.Equal(t, 2, report.Extracted)
	require.Equal(t, 1, report.Symlinked)
	require.Equal(t, 0, report.Errored)

	got, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(known)))
	require.NoError(t, err)
	require.Equal(t, []byte("texture"), got)

	// The unknown JSON payload lands under unknown/ with a sniffed
	// extension.
	got, err = os.ReadFile(filepath.Join(out, "unknown", "0000000000abcdef.json"))
	require.NoError(t, err)
	require.Equal(t, []byte(`{"a":1}`), got)

	// A second pass with overwrite off skips everything.
	report, err = a.Extract(context.Background(), out, names, nil)
	require.NoError(t, err)
	require.Equal(t, 0, report.Extracted)
	require.Equal(t, 2, report.Skipped)
}

func TestExtractUnknownModesAndPatterns(t *testing.T) {
	known := "data/characters/ahri/ahri.bin"
	names := testNames(t)
	require.True(t, names.TryInsert(known))

	entries := []fixtureEntry{
		{pathHash: binhash.XxHash64(known), payload: []byte("PROPdata"), usize: 8, typ: wadarchive.EntryRaw},
		{pathHash: 0x77, payload: []byte("plain"), usize: 5, typ: wadarchive.EntryRaw},
	}
	a, err := wadarchive.OpenBytes(buildWad(t, entries))
	require.NoError(t, err)

	out := t.TempDir()
	report, err := a.Extract(context.Background(), out, names, &wadarchive.ExtractOptions{
		Unknown: wadarchive.UnknownNo,
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.Extracted)
	require.Equal(t, 1, report.Skipped)

	out = t.TempDir()
	report, err = a.Extract(context.Background(), out, names, &wadarchive.ExtractOptions{
		Unknown: wadarchive.UnknownOnly,
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.Extracted)
	_, err = os.Stat(filepath.Join(out, filepath.FromSlash(known)))
	require.Error(t, err)

	out = t.TempDir()
	report, err = a.Extract(context.Background(), out, names, &wadarchive.ExtractOptions{
		Patterns: []string{"data/characters/*"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.Extracted)
	require.Equal(t, 1, report.Skipped)
}

func TestExtractStream(t *testing.T) {
	known := "assets/characters/ahri/skins/base/ahri.skn"
	names := testNames(t)
	require.True(t, names.TryInsert(known))

	plain := bytes.Repeat([]byte("streamed "), 64)
	entries := []fixtureEntry{
		{pathHash: binhash.XxHash64(known), payload: zstdBytes(t, plain), usize: uint32(len(plain)), typ: wadarchive.EntryZstd, plain: plain},
		{pathHash: 0x31337, payload: gzipBytes(t, []byte(`{"k":2}`)), usize: 7, typ: wadarchive.EntryGzip, plain: []byte(`{"k":2}`)},
	}
	data := buildWad(t, entries)

	out := t.TempDir()
	report, err := wadarchive.ExtractStream(context.Background(), bytes.NewReader(data), out, names,
		&wadarchive.ExtractOptions{Read: wadarchive.ReadOptions{Verify: true}})
	require.NoError(t, err)
	require.Equal(t, 2, report.Extracted)
	require.Equal(t, 0, report.Errored)

	got, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(known)))
	require.NoError(t, err)
	require.Equal(t, plain, got)

	got, err = os.ReadFile(filepath.Join(out, "unknown", "0000000000031337.json"))
	require.NoError(t, err)
	require.Equal(t, []byte(`{"k":2}`), got)
}

func TestExtractDuplicateDestination(t *testing.T) {
	// Two entries with the same path hash at different offsets resolve
	// to the same destination; writers must be serialized per path.
	known := "data/shared/config.bin"
	names := testNames(t)
	require.True(t, names.TryInsert(known))

	h := binhash.XxHash64(known)
	entries := []fixtureEntry{
		{pathHash: h, payload: []byte("payload!"), usize: 8, typ: wadarchive.EntryRaw},
		{pathHash: h, payload: []byte("payload!"), usize: 8, typ: wadarchive.EntryRaw},
	}
	a, err := wadarchive.OpenBytes(buildWad(t, entries))
	require.NoError(t, err)

	out := t.TempDir()
	report, err := a.Extract(context.Background(), out, names, &wadarchive.ExtractOptions{Workers: 4})
	require.NoError(t, err)
	require.Equal(t, 0, report.Errored)
	require.Equal(t, 2, report.Extracted+report.Skipped)

	got, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(known)))
	require.NoError(t, err)
	require.Equal(t, []byte("payload!"), got)

	// No stray temp files survive.
	files, err := os.ReadDir(filepath.Join(out, "data", "shared"))
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestExtractNeverEscapesRoot(t *testing.T) {
	names := testNames(t)
	evil := "../../evil.txt"
	require.True(t, names.Insert(0x66, evil))

	a, err := wadarchive.OpenBytes(buildWad(t, []fixtureEntry{
		{pathHash: 0x66, payload: []byte("x"), usize: 1, typ: wadarchive.EntryRaw},
	}))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "root")
	report, err := a.Extract(context.Background(), out, names, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Errored)
	require.ErrorIs(t, report.Errors[0].Err, wadarchive.ErrInvalidPath)
}

func TestSortByOffset(t *testing.T) {
	entries := []wadarchive.Entry{{Offset: 30}, {Offset: 10}, {Offset: 20}}
	sorted := wadarchive.SortByOffset(entries)
	require.Equal(t, uint64(10), sorted[0].Offset)
	require.Equal(t, uint64(20), sorted[1].Offset)
	require.Equal(t, uint64(30), sorted[2].Offset)
	// input untouched
	require.Equal(t, uint64(30), entries[0].Offset)
}
