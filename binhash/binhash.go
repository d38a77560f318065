// Package binhash implements the hash algorithms used by the asset formats:
// FNV-1a-32 for PROP structural names, xxhash64 for WAD paths and PROP path
// scalars, and truncated xxhash64 for RST string keys.
//
// All algorithms hash the ASCII-lowercased input. Hashes are opaque integers
// at the semantic level; the Resolver interface is the only bridge back to
// preimage strings.
package binhash

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	fnvOffsetBasis = 0x811c9dc5
	fnvPrime       = 0x01000193
)

// Fnv1a32 returns the FNV-1a-32 hash of the ASCII-lowercased input.
// Used for PROP entry paths, type names, field names and hashed values.
func Fnv1a32(s string) uint32 {
	h := uint32(fnvOffsetBasis)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		h = (h ^ uint32(c)) * fnvPrime
	}
	return h
}

// XxHash64 returns the xxhash64 digest of the lowercased input.
// Used for WAD entry paths and PROP PATH scalars.
func XxHash64(s string) uint64 {
	return xxhash.Sum64String(lower(s))
}

// RstHash returns the xxhash64 digest of the lowercased input masked to
// bits. The mask width is an RST file-format parameter (39 or 40).
func RstHash(s string, bits uint) uint64 {
	return xxhash.Sum64String(lower(s)) & ((1 << bits) - 1)
}

func lower(s string) string {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 'A' && c <= 'Z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				if b[j] >= 'A' && b[j] <= 'Z' {
					b[j] += 'a' - 'A'
				}
			}
			return string(b)
		}
	}
	return s
}

// Resolver maps a hash back to its known preimage, if any.
type Resolver interface {
	Get(h uint64) (string, bool)
}

// FieldHash is an FNV-1a-32 hash of a PROP field name.
type FieldHash uint32

// EntryHash is an FNV-1a-32 hash of a PROP entry path. Link scalars carry
// an EntryHash referencing another entry of the same file.
type EntryHash uint32

// TypeHash is an FNV-1a-32 hash of a PROP type name.
type TypeHash uint32

// ValueHash is an FNV-1a-32 hash carried by a PROP "hash" scalar.
type ValueHash uint32

// PathHash is an xxhash64 hash of a WAD path. PROP "path" scalars carry one.
type PathHash uint64

func (h FieldHash) Hex() string { return fmt.Sprintf("%08x", uint32(h)) }
func (h EntryHash) Hex() string { return fmt.Sprintf("%08x", uint32(h)) }
func (h TypeHash) Hex() string  { return fmt.Sprintf("%08x", uint32(h)) }
func (h ValueHash) Hex() string { return fmt.Sprintf("%08x", uint32(h)) }
func (h PathHash) Hex() string  { return fmt.Sprintf("%016x", uint64(h)) }

// Format renders a hash for display: the preimage when the resolver knows
// it, "{<hex>}" otherwise.
func Format[H interface{ Hex() string }](h H, res Resolver, raw uint64) string {
	if res != nil {
		if s, ok := res.Get(raw); ok {
			return s
		}
	}
	return "{" + h.Hex() + "}"
}

func (h FieldHash) Format(res Resolver) string { return Format(h, res, uint64(h)) }
func (h EntryHash) Format(res Resolver) string { return Format(h, res, uint64(h)) }
func (h TypeHash) Format(res Resolver) string  { return Format(h, res, uint64(h)) }
func (h ValueHash) Format(res Resolver) string { return Format(h, res, uint64(h)) }
func (h PathHash) Format(res Resolver) string  { return Format(h, res, uint64(h)) }
