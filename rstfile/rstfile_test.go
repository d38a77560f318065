package rstfile_test

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/communitydragon/cdtb/binhash"
	"github.com/communitydragon/cdtb/rstfile"
)

type rstBuilder struct {
	bytes.Buffer
}

func (b *rstBuilder) u8(v uint8)   { b.WriteByte(v) }
func (b *rstBuilder) u32(v uint32) { binary.Write(b, binary.LittleEndian, v) }
func (b *rstBuilder) u64(v uint64) { binary.Write(b, binary.LittleEndian, v) }

func TestParseV5(t *testing.T) {
	var b rstBuilder
	b.WriteString("RST")
	b.u8(5)
	b.u32(1)
	b.u64(0<<39 | 42) // offset 0, key 42
	b.WriteString("Hi\x00")

	f, err := rstfile.Parse(b.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint8(5), f.Version)
	require.Equal(t, uint(39), f.HashBits)
	require.Equal(t, 1, f.Len())

	got, ok := f.Lookup(42)
	require.True(t, ok)
	require.Equal(t, "Hi", got)
	require.True(t, f.Contains(42))

	_, ok = f.Lookup(0)
	require.False(t, ok)
}

func TestParseV2FontConfig(t *testing.T) {
	font := `{"font": "beaufort"}`
	var b rstBuilder
	b.WriteString("RST")
	b.u8(2)
	b.u8(1)
	b.u32(uint32(len(font)))
	b.WriteString(font)
	b.u32(1)
	b.u64(0<<40 | 7)
	b.u8(0) // trenc off
	b.WriteString("value\x00")

	f, err := rstfile.Parse(b.Bytes())
	require.NoError(t, err)
	require.True(t, f.HasFontConfig)
	require.Equal(t, font, f.FontConfig)
	require.Equal(t, uint(40), f.HashBits)
	got, _ := f.Lookup(7)
	require.Equal(t, "value", got)
}

func TestParseV2NoFontConfig(t *testing.T) {
	var b rstBuilder
	b.WriteString("RST")
	b.u8(2)
	b.u8(0)
	b.u32(0)
	b.u8(0)

	f, err := rstfile.Parse(b.Bytes())
	require.NoError(t, err)
	require.False(t, f.HasFontConfig)
	require.Equal(t, "", f.FontConfig)
}

func TestParseTrailingEncoding(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	var blob bytes.Buffer
	blob.WriteByte(0xFF)
	blob.WriteByte(byte(len(payload)))
	blob.WriteByte(0)
	blob.Write(payload)

	var b rstBuilder
	b.WriteString("RST")
	b.u8(3)
	b.u32(1)
	b.u64(0<<40 | 99)
	b.u8(1) // trenc on
	b.Write(blob.Bytes())

	f, err := rstfile.Parse(b.Bytes())
	require.NoError(t, err)
	got, ok := f.Lookup(99)
	require.True(t, ok)
	require.Equal(t, base64.StdEncoding.EncodeToString(payload), got)
}

func TestParseMultipleOffsets(t *testing.T) {
	var b rstBuilder
	b.WriteString("RST")
	b.u8(4)
	b.u32(2)
	b.u64(0<<39 | 1)
	b.u64(6<<39 | 2)
	b.u8(0)
	b.WriteString("first\x00second\x00")

	f, err := rstfile.Parse(b.Bytes())
	require.NoError(t, err)
	got, _ := f.Lookup(1)
	require.Equal(t, "first", got)
	got, _ = f.Lookup(2)
	require.Equal(t, "second", got)
}

func TestLookupString(t *testing.T) {
	name := "item_1001_name"
	key := binhash.RstHash(name, 39)

	var b rstBuilder
	b.WriteString("RST")
	b.u8(5)
	b.u32(1)
	b.u64(0<<39 | key)
	b.WriteString("Boots\x00")

	f, err := rstfile.Parse(b.Bytes())
	require.NoError(t, err)

	byName, ok := f.LookupString(name)
	require.True(t, ok)
	byKey, ok2 := f.Lookup(key)
	require.True(t, ok2)
	require.Equal(t, byKey, byName)
}

func TestInvalidUTF8Replaced(t *testing.T) {
	var b rstBuilder
	b.WriteString("RST")
	b.u8(5)
	b.u32(1)
	b.u64(0<<39 | 3)
	// windows-1252 quote, invalid UTF-8
	b.Write([]byte{'q', 0x92, 's', 0x00})

	f, err := rstfile.Parse(b.Bytes())
	require.NoError(t, err)
	got, _ := f.Lookup(3)
	require.Equal(t, "q�s", got)
}

func TestParseErrors(t *testing.T) {
	_, err := rstfile.Parse([]byte("NOP\x05"))
	require.ErrorIs(t, err, rstfile.ErrBadMagic)

	_, err = rstfile.Parse([]byte("RST\x09\x00\x00\x00\x00"))
	require.ErrorIs(t, err, rstfile.ErrUnsupportedVersion)

	_, err = rstfile.Parse([]byte("RST\x05"))
	require.ErrorIs(t, err, rstfile.ErrTruncated)
}
