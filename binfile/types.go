package binfile

import (
	"errors"
	"fmt"

	"github.com/communitydragon/cdtb/binhash"
)

var (
	ErrBadMagic            = errors.New("not a PROP file")
	ErrUnsupportedVersion  = errors.New("unsupported PROP version")
	ErrEntryLengthMismatch = errors.New("entry length mismatch")
	ErrUnknownTypeTag      = errors.New("unknown type tag")
	ErrMapKeyNotHashable   = errors.New("map key type is not hashable")
	ErrTruncatedPayload    = errors.New("truncated payload")
	ErrMalformedValue      = errors.New("malformed value")
	ErrTrailingData        = errors.New("trailing data after last entry")
)

// TypeTag is the canonical wire type of a PROP value. Raw tags are
// remapped to this enum by CanonicalTag; all downstream code speaks the
// canonical values.
type TypeTag uint8

const (
	TagEmpty TypeTag = 0
	TagBool  TypeTag = 1
	TagS8    TypeTag = 2
	TagU8    TypeTag = 3
	TagS16   TypeTag = 4
	TagU16   TypeTag = 5
	TagS32   TypeTag = 6
	TagU32   TypeTag = 7
	TagS64   TypeTag = 8
	TagU64   TypeTag = 9
	TagF32   TypeTag = 10
	TagVec2  TypeTag = 11
	TagVec3  TypeTag = 12
	TagVec4  TypeTag = 13
	TagMat4  TypeTag = 14
	TagRgba  TypeTag = 15
	// TagString is a u16-length-prefixed UTF-8 string.
	TagString TypeTag = 16
	// TagHash is an FNV-1a-32 hashed value.
	TagHash TypeTag = 17
	// TagPath is an xxhash64 WAD path, introduced in patch 10.23.
	TagPath TypeTag = 18

	// Complex tags live in the 0x80 band since patch 9.23.
	TagContainer TypeTag = 0x80
	// TagContainer2 is wire-identical to TagContainer but introduced in
	// patch 10.8; the identity is preserved through the decoded tree.
	TagContainer2 TypeTag = 0x81
	TagStruct     TypeTag = 0x82
	TagEmbedded   TypeTag = 0x83
	// TagLink references another entry of the same file by entry hash.
	TagLink   TypeTag = 0x84
	TagOption TypeTag = 0x85
	TagMap    TypeTag = 0x86
	TagFlag   TypeTag = 0x87
)

var tagNames = map[TypeTag]string{
	TagEmpty: "empty", TagBool: "bool", TagS8: "s8", TagU8: "u8",
	TagS16: "s16", TagU16: "u16", TagS32: "s32", TagU32: "u32",
	TagS64: "s64", TagU64: "u64", TagF32: "f32", TagVec2: "vec2",
	TagVec3: "vec3", TagVec4: "vec4", TagMat4: "mat4x4", TagRgba: "rgba",
	TagString: "string", TagHash: "hash", TagPath: "path",
	TagContainer: "container", TagContainer2: "container2",
	TagStruct: "struct", TagEmbedded: "embedded", TagLink: "link",
	TagOption: "option", TagMap: "map", TagFlag: "flag",
}

func (t TypeTag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return fmt.Sprintf("tag(0x%02x)", uint8(t))
}

func (t TypeTag) valid() bool {
	_, ok := tagNames[t]
	return ok
}

// DefaultBtypeVersion is assumed when the caller does not know the
// originating patch version.
const DefaultBtypeVersion = 1008

// CanonicalTag remaps a raw wire tag to the canonical TypeTag.
// btypeVersion derives from the patch version (major*100+minor): before
// 9.23 the complex tags had no 0x80 flag, and before 10.8 the 0x81 slot
// (container2) did not exist yet.
func CanonicalTag(raw uint8, btypeVersion int) (TypeTag, error) {
	v := raw
	if btypeVersion < 923 {
		if v == 18 {
			v = 0x80
		} else if v >= 19 {
			v = 0x80 + v - 18
		}
	}
	if btypeVersion < 1008 && v >= 0x81 {
		v++
	}
	tag := TypeTag(v)
	if !tag.valid() {
		return 0, fmt.Errorf("%w: 0x%02x", ErrUnknownTypeTag, raw)
	}
	return tag, nil
}

// hashableKey reports whether a tag may key a map.
func hashableKey(t TypeTag) bool {
	switch t {
	case TagBool, TagS8, TagU8, TagS16, TagU16, TagS32, TagU32,
		TagS64, TagU64, TagString, TagHash, TagPath, TagLink, TagFlag:
		return true
	}
	return false
}

// Value is one decoded PROP value. The concrete types below form a sealed
// union, one per TypeTag; consumers switch on the concrete type or on
// Tag().
type Value interface {
	Tag() TypeTag
}

type (
	// Empty carries the three unknown u16 the wire stores for tag 0.
	Empty [3]uint16
	Bool  bool
	S8    int8
	U8    uint8
	S16   int16
	U16   uint16
	S32   int32
	U32   uint32
	S64   int64
	U64   uint64
	F32   float32
	Vec2  [2]float32
	Vec3  [3]float32
	Vec4  [4]float32
	// Mat4 is row-major.
	Mat4   [4][4]float32
	Rgba   [4]uint8
	String string
	Hash   binhash.ValueHash
	Path   binhash.PathHash
	Link   binhash.EntryHash
	Flag   uint8
)

func (Empty) Tag() TypeTag  { return TagEmpty }
func (Bool) Tag() TypeTag   { return TagBool }
func (S8) Tag() TypeTag     { return TagS8 }
func (U8) Tag() TypeTag     { return TagU8 }
func (S16) Tag() TypeTag    { return TagS16 }
func (U16) Tag() TypeTag    { return TagU16 }
func (S32) Tag() TypeTag    { return TagS32 }
func (U32) Tag() TypeTag    { return TagU32 }
func (S64) Tag() TypeTag    { return TagS64 }
func (U64) Tag() TypeTag    { return TagU64 }
func (F32) Tag() TypeTag    { return TagF32 }
func (Vec2) Tag() TypeTag   { return TagVec2 }
func (Vec3) Tag() TypeTag   { return TagVec3 }
func (Vec4) Tag() TypeTag   { return TagVec4 }
func (Mat4) Tag() TypeTag   { return TagMat4 }
func (Rgba) Tag() TypeTag   { return TagRgba }
func (String) Tag() TypeTag { return TagString }
func (Hash) Tag() TypeTag   { return TagHash }
func (Path) Tag() TypeTag   { return TagPath }
func (Link) Tag() TypeTag   { return TagLink }
func (Flag) Tag() TypeTag   { return TagFlag }

// Struct is a typed compound value. A zero Type with no fields is the
// null struct.
type Struct struct {
	Type   binhash.TypeHash
	Fields Fields
}

func (Struct) Tag() TypeTag { return TagStruct }

// Embedded is wire-identical to Struct; the tag identity is preserved for
// consumers and re-serialization.
type Embedded struct {
	Type   binhash.TypeHash
	Fields Fields
}

func (Embedded) Tag() TypeTag { return TagEmbedded }

// Container is a homogeneous list. ContainerTag distinguishes the two
// wire-identical container tags.
type Container struct {
	ContainerTag TypeTag // TagContainer or TagContainer2
	Elem         TypeTag
	Items        []Value
}

func (c Container) Tag() TypeTag { return c.ContainerTag }

// Option holds zero or one value of kind Elem; Value is nil when absent.
type Option struct {
	Elem  TypeTag
	Value Value
}

func (Option) Tag() TypeTag { return TagOption }

// MapItem is one key/value pair of a Map.
type MapItem struct {
	Key   Value
	Value Value
}

// Map holds unordered key/value pairs. Keys are of a hashable scalar
// kind; duplicate keys are not rejected and are kept in wire order.
type Map struct {
	KeyTag   TypeTag
	ValueTag TypeTag
	Items    []MapItem
}

func (Map) Tag() TypeTag { return TagMap }

// Nested is an untyped field group; it only appears in materialized PTCH
// patch trees.
type Nested struct {
	Fields Fields
}

func (Nested) Tag() TypeTag { return TagStruct }

// Field is a named value inside an entry or compound. Field order is
// stable and preserved.
type Field struct {
	Name  binhash.FieldHash
	Value Value
}

// Fields is an ordered field list with hash and name lookup. Lookup is
// linear; field lists are small.
type Fields []Field

// Get returns the field whose name hashes to h.
func (fs Fields) Get(h uint32) (Field, bool) {
	for _, f := range fs {
		if uint32(f.Name) == h {
			return f, true
		}
	}
	return Field{}, false
}

// GetNamed hashes name with FNV-1a-32 and looks it up.
func (fs Fields) GetNamed(name string) (Field, bool) {
	return fs.Get(binhash.Fnv1a32(name))
}

// Value returns the field's value, or nil if absent.
func (fs Fields) Value(h uint32) Value {
	if f, ok := fs.Get(h); ok {
		return f.Value
	}
	return nil
}

// ValueNamed is Value with an on-the-fly hashed name.
func (fs Fields) ValueNamed(name string) Value {
	return fs.Value(binhash.Fnv1a32(name))
}

// Entry is a top-level PROP object.
type Entry struct {
	Path   binhash.EntryHash
	Type   binhash.TypeHash
	Fields Fields
}

// Get looks a field up by precomputed name hash.
func (e *Entry) Get(h uint32) (Field, bool) { return e.Fields.Get(h) }

// GetNamed looks a field up by name, hashed on the fly.
func (e *Entry) GetNamed(name string) (Field, bool) { return e.Fields.GetNamed(name) }

// Value returns the value of the field with the given name hash, or nil.
func (e *Entry) Value(h uint32) Value { return e.Fields.Value(h) }

// ValueNamed is Value with an on-the-fly hashed name.
func (e *Entry) ValueNamed(name string) Value { return e.Fields.ValueNamed(name) }

// PatchEntry is the materialized patch tree targeting one entry of a PTCH
// file.
type PatchEntry struct {
	Path   binhash.EntryHash
	Fields Fields
}

// Scalar coercions. Each returns false when the value is not of a
// convertible kind.

func AsBool(v Value) (bool, bool) {
	switch x := v.(type) {
	case Bool:
		return bool(x), true
	case Flag:
		return x != 0, true
	}
	return false, false
}

func AsU32(v Value) (uint32, bool) {
	switch x := v.(type) {
	case U8:
		return uint32(x), true
	case U16:
		return uint32(x), true
	case U32:
		return uint32(x), true
	case Hash:
		return uint32(x), true
	case Link:
		return uint32(x), true
	}
	return 0, false
}

func AsI64(v Value) (int64, bool) {
	switch x := v.(type) {
	case S8:
		return int64(x), true
	case S16:
		return int64(x), true
	case S32:
		return int64(x), true
	case S64:
		return int64(x), true
	case U8:
		return int64(x), true
	case U16:
		return int64(x), true
	case U32:
		return int64(x), true
	}
	return 0, false
}

func AsU64(v Value) (uint64, bool) {
	switch x := v.(type) {
	case U8:
		return uint64(x), true
	case U16:
		return uint64(x), true
	case U32:
		return uint64(x), true
	case U64:
		return uint64(x), true
	case Path:
		return uint64(x), true
	}
	return 0, false
}

func AsF32(v Value) (float32, bool) {
	if x, ok := v.(F32); ok {
		return float32(x), true
	}
	return 0, false
}

func AsString(v Value) (string, bool) {
	if x, ok := v.(String); ok {
		return string(x), true
	}
	return "", false
}
