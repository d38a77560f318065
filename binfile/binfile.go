// Package binfile parses PROP and PTCH property binaries into immutable
// tagged trees. The wire format is self-describing: a flat list of typed
// entries whose fields carry one of ~25 scalar or compound type tags.
// Raw tags drifted across patch versions; CanonicalTag is the single
// place that drift is handled.
package binfile

import (
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"k8s.io/klog/v2"

	"github.com/communitydragon/cdtb/binhash"
)

// Options parameterize parsing.
type Options struct {
	// BtypeVersion selects the wire-tag remapping; it derives from the
	// patch version the file shipped with (major*100+minor). Zero means
	// DefaultBtypeVersion.
	BtypeVersion int
	// Strict rejects trailing bytes after the last entry instead of
	// warning.
	Strict bool
}

// File is a parsed PROP or PTCH file.
type File struct {
	IsPatch     bool
	Version     uint32
	LinkedFiles []string
	Entries     []Entry
	// PatchEntries holds the materialized patch trees of a PTCH file
	// with version >= 3, nil otherwise.
	PatchEntries []PatchEntry

	byPath map[binhash.EntryHash]int
}

// ByPath returns the entry whose path hashes to h.
func (f *File) ByPath(h uint32) (*Entry, bool) {
	i, ok := f.byPath[binhash.EntryHash(h)]
	if !ok {
		return nil, false
	}
	return &f.Entries[i], true
}

// ResolveLink follows a link scalar to its target entry in the same file.
// The data model is a forest; links are resolved by lookup, never by
// back-pointer.
func (f *File) ResolveLink(l Link) (*Entry, bool) {
	return f.ByPath(uint32(l))
}

type reader struct {
	dec          *bin.Decoder
	btypeVersion int
}

// Parse decodes a PROP or PTCH file held in memory.
func Parse(data []byte, opts *Options) (*File, error) {
	if opts == nil {
		opts = &Options{}
	}
	btv := opts.BtypeVersion
	if btv == 0 {
		btv = DefaultBtypeVersion
	}
	r := &reader{dec: bin.NewBinDecoder(data), btypeVersion: btv}

	f := &File{}
	magic, err := r.dec.ReadNBytes(4)
	if err != nil {
		return nil, ErrBadMagic
	}
	if string(magic) == "PTCH" {
		f.IsPatch = true
		one, err1 := r.dec.ReadUint32(bin.LE)
		zero, err2 := r.dec.ReadUint32(bin.LE)
		if err1 != nil || err2 != nil || one != 1 || zero != 0 {
			return nil, fmt.Errorf("%w: bad PTCH preamble", ErrBadMagic)
		}
		if magic, err = r.dec.ReadNBytes(4); err != nil {
			return nil, ErrBadMagic
		}
	}
	if string(magic) != "PROP" {
		return nil, ErrBadMagic
	}

	if f.Version, err = r.dec.ReadUint32(bin.LE); err != nil {
		return nil, wrapTruncated(err)
	}
	if f.Version >= 2 {
		n, err := r.dec.ReadUint32(bin.LE)
		if err != nil {
			return nil, wrapTruncated(err)
		}
		f.LinkedFiles = make([]string, 0, n)
		for i := uint32(0); i < n; i++ {
			s, err := r.readString()
			if err != nil {
				return nil, wrapTruncated(err)
			}
			f.LinkedFiles = append(f.LinkedFiles, s)
		}
	}

	entryCount, err := r.dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, wrapTruncated(err)
	}
	entryTypes := make([]binhash.TypeHash, 0, entryCount)
	for i := uint32(0); i < entryCount; i++ {
		t, err := r.dec.ReadUint32(bin.LE)
		if err != nil {
			return nil, wrapTruncated(err)
		}
		entryTypes = append(entryTypes, binhash.TypeHash(t))
	}

	f.Entries = make([]Entry, 0, entryCount)
	f.byPath = make(map[binhash.EntryHash]int, entryCount)
	for _, htype := range entryTypes {
		e, err := r.readEntry(htype)
		if err != nil {
			return nil, err
		}
		f.byPath[e.Path] = len(f.Entries)
		f.Entries = append(f.Entries, e)
	}

	if f.IsPatch && f.Version >= 3 {
		if f.PatchEntries, err = r.readPatchSection(); err != nil {
			return nil, err
		}
	}

	if rem := r.dec.Remaining(); rem > 0 {
		if opts.Strict {
			return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, rem)
		}
		klog.Warningf("PROP file has %d trailing bytes after last entry", rem)
	}
	return f, nil
}

func wrapTruncated(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTruncatedPayload, err)
}

func (r *reader) readString() (string, error) {
	n, err := r.dec.ReadUint16(bin.LE)
	if err != nil {
		return "", err
	}
	b, err := r.dec.ReadNBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) readEntry(htype binhash.TypeHash) (Entry, error) {
	length, err := r.dec.ReadUint32(bin.LE)
	if err != nil {
		return Entry{}, wrapTruncated(err)
	}
	start := r.dec.Position()
	hpath, err := r.dec.ReadUint32(bin.LE)
	if err != nil {
		return Entry{}, wrapTruncated(err)
	}
	count, err := r.dec.ReadUint16(bin.LE)
	if err != nil {
		return Entry{}, wrapTruncated(err)
	}
	fields := make(Fields, 0, count)
	for i := uint16(0); i < count; i++ {
		fld, err := r.readField()
		if err != nil {
			return Entry{}, err
		}
		fields = append(fields, fld)
	}
	if consumed := r.dec.Position() - start; consumed != uint(length) {
		return Entry{}, fmt.Errorf("%w: entry %08x consumed %d bytes, declared %d",
			ErrEntryLengthMismatch, hpath, consumed, length)
	}
	return Entry{Path: binhash.EntryHash(hpath), Type: htype, Fields: fields}, nil
}

func (r *reader) readTag() (TypeTag, error) {
	raw, err := r.dec.ReadUint8()
	if err != nil {
		return 0, wrapTruncated(err)
	}
	return CanonicalTag(raw, r.btypeVersion)
}

func (r *reader) readField() (Field, error) {
	hname, err := r.dec.ReadUint32(bin.LE)
	if err != nil {
		return Field{}, wrapTruncated(err)
	}
	tag, err := r.readTag()
	if err != nil {
		return Field{}, err
	}
	v, err := r.readFieldValue(tag)
	if err != nil {
		return Field{}, err
	}
	return Field{Name: binhash.FieldHash(hname), Value: v}, nil
}

// readFieldValue decodes the payload of a field of the given tag,
// including the compound headers that only appear in field position.
func (r *reader) readFieldValue(tag TypeTag) (Value, error) {
	switch tag {
	case TagContainer, TagContainer2:
		return r.readContainer(tag)
	case TagOption:
		return r.readOption()
	case TagMap:
		return r.readMap()
	default:
		return r.readValue(tag)
	}
}

// readValue decodes a bare value of the given tag. Containers, options
// and maps never nest as bare values; their elements are restricted to
// scalars, structs and embeds.
func (r *reader) readValue(tag TypeTag) (Value, error) {
	dec := r.dec
	switch tag {
	case TagEmpty:
		var e Empty
		for i := range e {
			v, err := dec.ReadUint16(bin.LE)
			if err != nil {
				return nil, wrapTruncated(err)
			}
			e[i] = v
		}
		return e, nil
	case TagBool:
		v, err := dec.ReadUint8()
		if err != nil {
			return nil, wrapTruncated(err)
		}
		return Bool(v != 0), nil
	case TagS8:
		v, err := dec.ReadInt8()
		if err != nil {
			return nil, wrapTruncated(err)
		}
		return S8(v), nil
	case TagU8:
		v, err := dec.ReadUint8()
		if err != nil {
			return nil, wrapTruncated(err)
		}
		return U8(v), nil
	case TagS16:
		v, err := dec.ReadInt16(bin.LE)
		if err != nil {
			return nil, wrapTruncated(err)
		}
		return S16(v), nil
	case TagU16:
		v, err := dec.ReadUint16(bin.LE)
		if err != nil {
			return nil, wrapTruncated(err)
		}
		return U16(v), nil
	case TagS32:
		v, err := dec.ReadInt32(bin.LE)
		if err != nil {
			return nil, wrapTruncated(err)
		}
		return S32(v), nil
	case TagU32:
		v, err := dec.ReadUint32(bin.LE)
		if err != nil {
			return nil, wrapTruncated(err)
		}
		return U32(v), nil
	case TagS64:
		v, err := dec.ReadInt64(bin.LE)
		if err != nil {
			return nil, wrapTruncated(err)
		}
		return S64(v), nil
	case TagU64:
		v, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return nil, wrapTruncated(err)
		}
		return U64(v), nil
	case TagF32:
		v, err := dec.ReadFloat32(bin.LE)
		if err != nil {
			return nil, wrapTruncated(err)
		}
		return F32(v), nil
	case TagVec2:
		var v Vec2
		if err := r.readFloats(v[:]); err != nil {
			return nil, err
		}
		return v, nil
	case TagVec3:
		var v Vec3
		if err := r.readFloats(v[:]); err != nil {
			return nil, err
		}
		return v, nil
	case TagVec4:
		var v Vec4
		if err := r.readFloats(v[:]); err != nil {
			return nil, err
		}
		return v, nil
	case TagMat4:
		var m Mat4
		for i := range m {
			if err := r.readFloats(m[i][:]); err != nil {
				return nil, err
			}
		}
		return m, nil
	case TagRgba:
		b, err := dec.ReadNBytes(4)
		if err != nil {
			return nil, wrapTruncated(err)
		}
		return Rgba{b[0], b[1], b[2], b[3]}, nil
	case TagString:
		s, err := r.readString()
		if err != nil {
			return nil, wrapTruncated(err)
		}
		return String(s), nil
	case TagHash:
		v, err := dec.ReadUint32(bin.LE)
		if err != nil {
			return nil, wrapTruncated(err)
		}
		return Hash(v), nil
	case TagPath:
		v, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return nil, wrapTruncated(err)
		}
		return Path(v), nil
	case TagLink:
		v, err := dec.ReadUint32(bin.LE)
		if err != nil {
			return nil, wrapTruncated(err)
		}
		return Link(v), nil
	case TagFlag:
		v, err := dec.ReadUint8()
		if err != nil {
			return nil, wrapTruncated(err)
		}
		return Flag(v), nil
	case TagStruct:
		htype, fields, err := r.readObject()
		if err != nil {
			return nil, err
		}
		return Struct{Type: htype, Fields: fields}, nil
	case TagEmbedded:
		htype, fields, err := r.readObject()
		if err != nil {
			return nil, err
		}
		return Embedded{Type: htype, Fields: fields}, nil
	default:
		return nil, fmt.Errorf("%w: %v not allowed as a bare value", ErrUnknownTypeTag, tag)
	}
}

func (r *reader) readFloats(dst []float32) error {
	for i := range dst {
		v, err := r.dec.ReadFloat32(bin.LE)
		if err != nil {
			return wrapTruncated(err)
		}
		dst[i] = v
	}
	return nil
}

// readObject decodes the shared struct/embedded payload: type hash, then
// (unless null) a declared size, field count and fields. The declared
// size must equal the bytes consumed after the size field.
func (r *reader) readObject() (binhash.TypeHash, Fields, error) {
	htype, err := r.dec.ReadUint32(bin.LE)
	if err != nil {
		return 0, nil, wrapTruncated(err)
	}
	if htype == 0 {
		return 0, nil, nil
	}
	size, err := r.dec.ReadUint32(bin.LE)
	if err != nil {
		return 0, nil, wrapTruncated(err)
	}
	start := r.dec.Position()
	count, err := r.dec.ReadUint16(bin.LE)
	if err != nil {
		return 0, nil, wrapTruncated(err)
	}
	fields := make(Fields, 0, count)
	for i := uint16(0); i < count; i++ {
		fld, err := r.readField()
		if err != nil {
			return 0, nil, err
		}
		fields = append(fields, fld)
	}
	if consumed := r.dec.Position() - start; consumed != uint(size) {
		return 0, nil, fmt.Errorf("%w: struct %08x consumed %d bytes, declared %d",
			ErrEntryLengthMismatch, htype, consumed, size)
	}
	return binhash.TypeHash(htype), fields, nil
}

func (r *reader) readContainer(containerTag TypeTag) (Value, error) {
	elem, err := r.readTag()
	if err != nil {
		return nil, err
	}
	// The declared byte size is an end-of-container sentinel; old
	// writers are inconsistent about what it covers, so it is not
	// validated.
	if _, err := r.dec.ReadUint32(bin.LE); err != nil {
		return nil, wrapTruncated(err)
	}
	count, err := r.dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, wrapTruncated(err)
	}
	items := make([]Value, 0, count)
	for i := uint32(0); i < count; i++ {
		v, err := r.readValue(elem)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return Container{ContainerTag: containerTag, Elem: elem, Items: items}, nil
}

func (r *reader) readOption() (Value, error) {
	elem, err := r.readTag()
	if err != nil {
		return nil, err
	}
	present, err := r.dec.ReadUint8()
	if err != nil {
		return nil, wrapTruncated(err)
	}
	switch present {
	case 0:
		return Option{Elem: elem}, nil
	case 1:
		v, err := r.readValue(elem)
		if err != nil {
			return nil, err
		}
		return Option{Elem: elem, Value: v}, nil
	default:
		return nil, fmt.Errorf("%w: option presence flag %d", ErrMalformedValue, present)
	}
}

func (r *reader) readMap() (Value, error) {
	keyTag, err := r.readTag()
	if err != nil {
		return nil, err
	}
	valTag, err := r.readTag()
	if err != nil {
		return nil, err
	}
	if !hashableKey(keyTag) {
		return nil, fmt.Errorf("%w: %v", ErrMapKeyNotHashable, keyTag)
	}
	if _, err := r.dec.ReadUint32(bin.LE); err != nil { // size sentinel
		return nil, wrapTruncated(err)
	}
	count, err := r.dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, wrapTruncated(err)
	}
	items := make([]MapItem, 0, count)
	for i := uint32(0); i < count; i++ {
		k, err := r.readValue(keyTag)
		if err != nil {
			return nil, err
		}
		v, err := r.readValue(valTag)
		if err != nil {
			return nil, err
		}
		items = append(items, MapItem{Key: k, Value: v})
	}
	return Map{KeyTag: keyTag, ValueTag: valTag, Items: items}, nil
}

// readPatchSection decodes the PTCH tail: dotted-path assignments that
// materialize into nested field trees keyed by target entry hash.
func (r *reader) readPatchSection() ([]PatchEntry, error) {
	count, err := r.dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, wrapTruncated(err)
	}
	order := make([]binhash.EntryHash, 0, count)
	byPath := make(map[binhash.EntryHash]*PatchEntry, count)
	for i := uint32(0); i < count; i++ {
		hpath, err := r.dec.ReadUint32(bin.LE)
		if err != nil {
			return nil, wrapTruncated(err)
		}
		// A second header word follows the target hash; its meaning is
		// unknown and it is discarded.
		if _, err := r.dec.ReadUint32(bin.LE); err != nil {
			return nil, wrapTruncated(err)
		}
		tag, err := r.readTag()
		if err != nil {
			return nil, err
		}
		objectPath, err := r.readString()
		if err != nil {
			return nil, wrapTruncated(err)
		}
		v, err := r.readFieldValue(tag)
		if err != nil {
			return nil, err
		}

		target := binhash.EntryHash(hpath)
		pe, ok := byPath[target]
		if !ok {
			pe = &PatchEntry{Path: target}
			byPath[target] = pe
			order = append(order, target)
		}
		pe.Fields = applyDottedPath(pe.Fields, strings.Split(objectPath, "."), v)
	}

	out := make([]PatchEntry, 0, len(order))
	for _, h := range order {
		out = append(out, *byPath[h])
	}
	return out, nil
}

// applyDottedPath walks/creates nested field groups for every path
// segment but the last, then assigns the leaf field. Each segment's name
// hash is the FNV-1a-32 of the segment.
func applyDottedPath(fields Fields, segments []string, v Value) Fields {
	name := binhash.FieldHash(binhash.Fnv1a32(segments[0]))
	for i, f := range fields {
		if f.Name == name {
			if len(segments) == 1 {
				fields[i].Value = v
				return fields
			}
			nested, ok := f.Value.(Nested)
			if !ok {
				nested = Nested{}
			}
			nested.Fields = applyDottedPath(nested.Fields, segments[1:], v)
			fields[i].Value = nested
			return fields
		}
	}
	if len(segments) == 1 {
		return append(fields, Field{Name: name, Value: v})
	}
	nested := Nested{Fields: applyDottedPath(nil, segments[1:], v)}
	return append(fields, Field{Name: name, Value: nested})
}
