package guesser

import (
	"path"
	"strings"
	"unicode/utf8"

	"github.com/communitydragon/cdtb/sigscan"
	"github.com/communitydragon/cdtb/wadarchive"
)

// binaryExts are extensions that never contain path strings; grep skips
// them as early as possible.
var binaryExts = map[string]bool{
	"png": true, "jpg": true, "ttf": true, "webm": true, "ogg": true,
	"dds": true, "tga": true,
}

// textEntry is one decoded, textual WAD payload handed to grep
// strategies.
type textEntry struct {
	entry wadarchive.Entry
	// path is the known preimage, or "" when unknown.
	path string
	ext  string
	data string
}

// eachTextEntry decodes the archive's textual entries one at a time. The
// known path (when any) comes from the guesser's table; the extension
// falls back to magic-byte sniffing.
func (g *Guesser) eachTextEntry(a *wadarchive.Archive, fn func(te textEntry) error) error {
	for _, e := range a.Entries() {
		if e.Type == wadarchive.EntrySymlink {
			continue
		}
		g.mu.Lock()
		name := g.known[e.PathHash]
		g.mu.Unlock()
		ext := ""
		if name != "" {
			ext = strings.TrimPrefix(path.Ext(name), ".")
			if binaryExts[ext] {
				continue
			}
		}
		data, err := a.ReadEntry(e, nil)
		if err != nil {
			continue
		}
		if ext == "" {
			ext = sigscan.Guess(data)
			if binaryExts[ext] {
				continue
			}
		}
		if !utf8.Valid(data) {
			continue
		}
		text := strings.TrimPrefix(string(data), "﻿")
		if text == "" {
			continue
		}
		if err := fn(textEntry{entry: e, path: name, ext: ext, data: text}); err != nil {
			return err
		}
	}
	return nil
}
