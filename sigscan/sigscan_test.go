package sigscan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/communitydragon/cdtb/sigscan"
)

func TestGuess(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		ext  string
	}{
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}, "png"},
		{"jpg", []byte{0xff, 0xd8, 0xff, 0xe0, 0, 0, 0, 0, 0, 0, 0, 0}, "jpg"},
		{"json", []byte(`{"foo": 1}`), "json"},
		{"dds", []byte("DDS |\x00\x00\x00\x07\x10\x00\x00"), "dds"},
		{"ogg", []byte("OggS\x00\x02\x00\x00\x00\x00\x00\x00"), "ogg"},
		{"webm", []byte{0x1a, 0x45, 0xdf, 0xa3, 0x9f, 0x42, 0x86, 0x81}, "webm"},
		{"ttf", []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x0f, 0x00, 0x80}, "ttf"},
		{"otf", []byte("OTTO\x00\x0e\x00\x80\x00\x03\x00\x60"), "otf"},
		{"bnk", []byte("BKHD\x1c\x00\x00\x00\x86\x00\x00\x00"), "bnk"},
		{"wpk", []byte("r3d2\x01\x00\x00\x00\x10\x00\x00\x00"), "wpk"},
		{"skl", []byte("r3d2sklt\x01\x00\x00\x00"), "skl"},
		{"scb", []byte("r3d2Mesh\x02\x00\x00\x00"), "scb"},
		{"anm", []byte("r3d2anmd\x04\x00\x00\x00"), "anm"},
		{"tex", []byte("TEX\x00\x00\x01\x00\x00\x00\x00\x00\x00"), "tex"},
		{"skn", []byte{0x33, 0x22, 0x11, 0x00, 0x04, 0x00, 0x00, 0x00}, "skn"},
		{"bin", []byte("PROP\x03\x00\x00\x00\x00\x00\x00\x00"), "bin"},
		{"ptch", []byte("PTCH\x01\x00\x00\x00\x00\x00\x00\x00"), "bin"},
		{"unknown", []byte{0x00, 0xff, 0x13, 0x37, 0, 0, 0, 0, 0, 0, 0, 0}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.ext, sigscan.Guess(tc.data))
		})
	}
}

func TestGuessPrefersLongestPrefix(t *testing.T) {
	// "r3d2sklt" must win over the shorter "r3d2" wpk magic.
	require.Equal(t, "skl", sigscan.Guess([]byte("r3d2sklt\x00\x00\x00\x00")))
	require.Equal(t, "wpk", sigscan.Guess([]byte("r3d2\x00\x00\x00\x00\x00\x00\x00\x00")))
}

func TestGuessShortData(t *testing.T) {
	require.Equal(t, "json", sigscan.Guess([]byte("{")))
	require.Equal(t, "", sigscan.Guess(nil))
}
