// Package rstfile parses RST localized-string tables: a mapping from
// truncated xxhash64 keys to translated text. Depending on the version
// the key mask is 39 or 40 bits wide and values may be base64-wrapped
// binary behind a trailing-encoding marker.
package rstfile

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"

	"github.com/communitydragon/cdtb/binhash"
)

var (
	ErrBadMagic           = errors.New("not an RST file")
	ErrUnsupportedVersion = errors.New("unsupported RST version")
	ErrTruncated          = errors.New("truncated RST file")
)

// File is a parsed RST table.
type File struct {
	Version  uint8
	HashBits uint
	// FontConfig is the optional v2 font configuration string; HasFontConfig
	// distinguishes absent from empty.
	FontConfig    string
	HasFontConfig bool

	entries map[uint64]string
}

// Parse decodes an RST file held in memory.
func Parse(data []byte) (*File, error) {
	dec := bin.NewBinDecoder(data)
	magic, err := dec.ReadNBytes(3)
	if err != nil || string(magic) != "RST" {
		return nil, ErrBadMagic
	}
	version, err := dec.ReadUint8()
	if err != nil {
		return nil, ErrTruncated
	}

	f := &File{Version: version, HashBits: 40}
	switch version {
	case 2:
		hasFont, err := dec.ReadUint8()
		if err != nil {
			return nil, ErrTruncated
		}
		if hasFont != 0 {
			n, err := dec.ReadUint32(bin.LE)
			if err != nil {
				return nil, ErrTruncated
			}
			b, err := dec.ReadNBytes(int(n))
			if err != nil {
				return nil, ErrTruncated
			}
			f.FontConfig = string(b)
			f.HasFontConfig = true
		}
	case 3:
	case 4, 5:
		f.HashBits = 39
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	count, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, ErrTruncated
	}
	type slot struct {
		offset uint64
		key    uint64
	}
	mask := uint64(1)<<f.HashBits - 1
	slots := make([]slot, 0, count)
	for i := uint32(0); i < count; i++ {
		v, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return nil, ErrTruncated
		}
		slots = append(slots, slot{offset: v >> f.HashBits, key: v & mask})
	}

	hasTrenc := false
	if version < 5 {
		t, err := dec.ReadUint8()
		if err != nil {
			return nil, ErrTruncated
		}
		hasTrenc = t != 0
	}

	var blob []byte
	if rem := dec.Remaining(); rem > 0 {
		if blob, err = dec.ReadNBytes(rem); err != nil {
			return nil, ErrTruncated
		}
	}

	f.entries = make(map[uint64]string, count)
	for _, s := range slots {
		if s.offset >= uint64(len(blob)) {
			return nil, ErrTruncated
		}
		f.entries[s.key] = decodeValue(blob, s.offset, hasTrenc)
	}
	return f, nil
}

// decodeValue reads one string from the data blob. With trailing encoding
// enabled, a 0xFF marker introduces a u16-sized binary value that is
// base64-wrapped; everything else is NUL-terminated UTF-8, with invalid
// sequences replaced rather than rejected (real files are sometimes
// messed up).
func decodeValue(blob []byte, offset uint64, trenc bool) string {
	if trenc && blob[offset] == 0xFF {
		rest := blob[offset+1:]
		if len(rest) < 2 {
			return ""
		}
		size := uint64(rest[0]) | uint64(rest[1])<<8
		payload := rest[2:]
		if size > uint64(len(payload)) {
			size = uint64(len(payload))
		}
		return base64.StdEncoding.EncodeToString(payload[:size])
	}
	end := bytes.IndexByte(blob[offset:], 0)
	if end < 0 {
		end = len(blob) - int(offset)
	}
	return strings.ToValidUTF8(string(blob[offset:int(offset)+end]), "�")
}

// Lookup returns the value for a precomputed (already truncated) key.
func (f *File) Lookup(key uint64) (string, bool) {
	// Accept untruncated xxhash64 digests too.
	s, ok := f.entries[key&(uint64(1)<<f.HashBits-1)]
	return s, ok
}

// LookupString hashes name (xxhash64, lowercased, masked to the file's
// hash width) and looks it up.
func (f *File) LookupString(name string) (string, bool) {
	return f.Lookup(binhash.RstHash(name, f.HashBits))
}

// Contains reports whether the key is present.
func (f *File) Contains(key uint64) bool {
	_, ok := f.Lookup(key)
	return ok
}

// Len returns the number of entries.
func (f *File) Len() int { return len(f.entries) }

// Entries returns a copy of the table.
func (f *File) Entries() map[uint64]string {
	out := make(map[uint64]string, len(f.entries))
	for k, v := range f.entries {
		out[k] = v
	}
	return out
}
