package binfile

import (
	"bytes"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/communitydragon/cdtb/binhash"
)

// Resolvers bundles the hash tables used to render hashes back to names
// when projecting a file. Any of them may be nil; unresolved hashes render
// as "{<hex>}".
type Resolvers struct {
	Entries binhash.Resolver // PROP entry paths and links
	Types   binhash.Resolver // PROP type names
	Fields  binhash.Resolver // PROP field names
	Hashes  binhash.Resolver // hashed scalar values
	Paths   binhash.Resolver // xxhash64 WAD paths
}

// Serializable is a JSON object that keeps its keys in insertion order,
// so entries and fields serialize in wire order. Map fields still project
// to plain maps; their order carries no meaning.
type Serializable struct {
	keys   []string
	values []any
}

func (s *Serializable) set(key string, value any) {
	s.keys = append(s.keys, key)
	s.values = append(s.values, value)
}

// Len returns the number of keys.
func (s *Serializable) Len() int { return len(s.keys) }

// Keys returns the keys in insertion order.
func (s *Serializable) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Get returns the value stored under key.
func (s *Serializable) Get(key string) (any, bool) {
	for i, k := range s.keys {
		if k == key {
			return s.values[i], true
		}
	}
	return nil, false
}

var serializeJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// MarshalJSON emits the object with keys in insertion order.
func (s *Serializable) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := serializeJSON.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := serializeJSON.Marshal(s.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ToSerializable projects the file into a JSON-encodable structure:
// entries keyed by rendered path in declaration order, compound nodes
// carrying a "__type" discriminator, patch trees under "__patches".
func (f *File) ToSerializable(res *Resolvers) *Serializable {
	if res == nil {
		res = &Resolvers{}
	}
	out := &Serializable{}
	for i := range f.Entries {
		e := &f.Entries[i]
		out.set(e.Path.Format(res.Entries), e.ToSerializable(res))
	}
	if f.PatchEntries != nil {
		patches := &Serializable{}
		for i := range f.PatchEntries {
			pe := &f.PatchEntries[i]
			patches.set(pe.Path.Format(res.Entries), fieldsToSerializable(pe.Fields, res, ""))
		}
		out.set("__patches", patches)
	}
	return out
}

// ToSerializable projects one entry, including its type discriminator.
func (e *Entry) ToSerializable(res *Resolvers) *Serializable {
	return fieldsToSerializable(e.Fields, res, e.Type.Format(res.Types))
}

func fieldsToSerializable(fields Fields, res *Resolvers, typeName string) *Serializable {
	out := &Serializable{}
	for _, f := range fields {
		out.set(f.Name.Format(res.Fields), valueToSerializable(f.Value, res))
	}
	if typeName != "" {
		out.set("__type", typeName)
	}
	return out
}

func valueToSerializable(v Value, res *Resolvers) any {
	switch x := v.(type) {
	case nil:
		return nil
	case Empty:
		return []uint16{x[0], x[1], x[2]}
	case Bool:
		return bool(x)
	case S8:
		return int8(x)
	case U8:
		return uint8(x)
	case S16:
		return int16(x)
	case U16:
		return uint16(x)
	case S32:
		return int32(x)
	case U32:
		return uint32(x)
	case S64:
		return int64(x)
	case U64:
		return uint64(x)
	case F32:
		return float32(x)
	case Vec2:
		return x[:]
	case Vec3:
		return x[:]
	case Vec4:
		return x[:]
	case Mat4:
		rows := make([][]float32, len(x))
		for i := range x {
			rows[i] = x[i][:]
		}
		return rows
	case Rgba:
		return []uint8{x[0], x[1], x[2], x[3]}
	case String:
		return string(x)
	case Hash:
		return binhash.ValueHash(x).Format(res.Hashes)
	case Path:
		return binhash.PathHash(x).Format(res.Paths)
	case Link:
		return binhash.EntryHash(x).Format(res.Entries)
	case Flag:
		return uint8(x)
	case Struct:
		return fieldsToSerializable(x.Fields, res, binhash.TypeHash(x.Type).Format(res.Types))
	case Embedded:
		return fieldsToSerializable(x.Fields, res, binhash.TypeHash(x.Type).Format(res.Types))
	case Nested:
		return fieldsToSerializable(x.Fields, res, "")
	case Container:
		items := make([]any, 0, len(x.Items))
		for _, it := range x.Items {
			items = append(items, valueToSerializable(it, res))
		}
		return items
	case Option:
		if x.Value == nil {
			return nil
		}
		return valueToSerializable(x.Value, res)
	case Map:
		m := make(map[string]any, len(x.Items))
		for _, it := range x.Items {
			m[mapKeyString(it.Key, res)] = valueToSerializable(it.Value, res)
		}
		return m
	default:
		return fmt.Sprintf("%v", v)
	}
}

// mapKeyString renders a map key as a JSON object key.
func mapKeyString(k Value, res *Resolvers) string {
	switch x := k.(type) {
	case String:
		return string(x)
	case Hash:
		return binhash.ValueHash(x).Format(res.Hashes)
	case Path:
		return binhash.PathHash(x).Format(res.Paths)
	case Link:
		return binhash.EntryHash(x).Format(res.Entries)
	default:
		return fmt.Sprint(valueToSerializable(k, res))
	}
}
