package readahead_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/communitydragon/cdtb/readahead"
)

func TestReader(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	r, err := readahead.Open(path, 8*readahead.KiB)
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Equal(t, int64(len(payload)), r.Offset())
}

func TestDiscardTracksOffset(t *testing.T) {
	payload := []byte("headerGAPGAPpayload")
	r := readahead.New(io.NopCloser(bytes.NewReader(payload)), 0)

	head := make([]byte, 6)
	_, err := io.ReadFull(r, head)
	require.NoError(t, err)
	require.Equal(t, "header", string(head))

	require.NoError(t, r.Discard(6))
	require.Equal(t, int64(12), r.Offset())

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "payload", string(rest))
	require.Equal(t, int64(len(payload)), r.Offset())
}

func TestClosedReaderFails(t *testing.T) {
	r := readahead.New(io.NopCloser(bytes.NewReader([]byte("x"))), 0)
	require.NoError(t, r.Close())
	_, err := r.Read(make([]byte, 1))
	require.Error(t, err)
	require.NoError(t, r.Close())
}
