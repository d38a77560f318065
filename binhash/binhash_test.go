package binhash_test

import (
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/require"

	"github.com/communitydragon/cdtb/binhash"
)

func TestFnv1a32(t *testing.T) {
	// Published FNV-1a-32 vectors.
	require.Equal(t, uint32(0x811c9dc5), binhash.Fnv1a32(""))
	require.Equal(t, uint32(0xe40c292c), binhash.Fnv1a32("a"))
	require.Equal(t, uint32(0xbf9cf968), binhash.Fnv1a32("foobar"))
}

func TestFnv1a32Lowercases(t *testing.T) {
	require.Equal(t, binhash.Fnv1a32("foobar"), binhash.Fnv1a32("FooBar"))
	require.Equal(t, binhash.Fnv1a32("data/characters/ahri/ahri.bin"),
		binhash.Fnv1a32("DATA/Characters/Ahri/Ahri.bin"))
}

func TestXxHash64Lowercases(t *testing.T) {
	require.Equal(t, xxhash.Sum64String("assets/foo.png"), binhash.XxHash64("ASSETS/Foo.PNG"))
	require.Equal(t, binhash.XxHash64("assets/foo.png"), binhash.XxHash64("Assets/FOO.png"))
}

func TestRstHashMask(t *testing.T) {
	full := xxhash.Sum64String("item_name")
	require.Equal(t, full&(1<<40-1), binhash.RstHash("Item_Name", 40))
	require.Equal(t, full&(1<<39-1), binhash.RstHash("item_name", 39))
}

func TestFormat(t *testing.T) {
	h := binhash.FieldHash(0xdeadbeef)
	require.Equal(t, "{deadbeef}", h.Format(nil))

	p := binhash.PathHash(0x0123456789abcdef)
	require.Equal(t, "{0123456789abcdef}", p.Format(nil))

	res := resolverFunc(func(v uint64) (string, bool) {
		if v == 0xdeadbeef {
			return "mspeed", true
		}
		return "", false
	})
	require.Equal(t, "mspeed", h.Format(res))
}

type resolverFunc func(uint64) (string, bool)

func (f resolverFunc) Get(h uint64) (string, bool) { return f(h) }
