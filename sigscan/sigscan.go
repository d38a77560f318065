// Package sigscan guesses a file extension from the leading bytes of a
// payload. WAD extraction uses it to name entries whose path hash has no
// known preimage.
package sigscan

import (
	"bytes"

	"github.com/gabriel-vasile/mimetype"
)

// MagicLen is how many leading bytes Guess needs for every fixed-width
// magic; a few text signatures are longer and match only when the caller
// provides more.
const MagicLen = 12

type signature struct {
	prefix []byte
	ext    string
}

// A longer prefix is listed before any shorter prefix it extends, so that
// e.g. "r3d2Mesh" wins over "r3d2".
var signatures = []signature{
	{[]byte("<!-- Elements -->"), "template.html"},
	{[]byte(`"use strict";`), "min.js"},
	{[]byte("PreLoadBuffer"), "preload"},
	{[]byte("[ObjectBegin]"), "sco"},
	{[]byte("\x1bLuaQ\x00\x01\x04\x08"), "luabin64"},
	{[]byte("\x1bLuaQ\x00\x01\x04\x04"), "luabin"},
	{[]byte("<template "), "template.html"},
	{[]byte("r3d2Mesh"), "scb"},
	{[]byte("r3d2anmd"), "anm"},
	{[]byte("r3d2canm"), "anm"},
	{[]byte("r3d2sklt"), "skl"},
	{[]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, "png"},
	{[]byte("OTTO\x00"), "otf"},
	{[]byte{0x33, 0x22, 0x11, 0x00}, "skn"},
	{[]byte{0x1a, 0x45, 0xdf, 0xa3}, "webm"},
	{[]byte{0x00, 0x01, 0x00, 0x00}, "ttf"},
	{[]byte("true"), "ttf"},
	{[]byte("OggS"), "ogg"},
	{[]byte("DDS "), "dds"},
	{[]byte("PROP"), "bin"},
	{[]byte("PTCH"), "bin"},
	{[]byte("BKHD"), "bnk"},
	{[]byte("r3d2"), "wpk"},
	{[]byte("TEX\x00"), "tex"},
	{[]byte("OPAM"), "mob"},
	{[]byte("<svg"), "svg"},
	{[]byte{0xff, 0xd8, 0xff}, "jpg"},
	{[]byte("{"), "json"},
}

// Guess returns the extension matching the payload's magic bytes, or ""
// when nothing matches.
func Guess(data []byte) string {
	for _, sig := range signatures {
		if bytes.HasPrefix(data, sig.prefix) {
			return sig.ext
		}
	}
	return ""
}

// GuessSniff is Guess with a content-sniffing fallback for payloads the
// signature table does not know.
func GuessSniff(data []byte) string {
	if ext := Guess(data); ext != "" {
		return ext
	}
	mt := mimetype.Detect(data)
	if ext := mt.Extension(); ext != "" && ext != ".bin" {
		return ext[1:]
	}
	return ""
}
