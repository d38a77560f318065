// Package guesser discovers unknown hash preimages by mining decoded
// assets and applying combinatorial substitution strategies over the
// already-known names. Every strategy feeds candidate paths through the
// same filter: hash, test membership in the unknown set, and on a hit
// move the name into the hash table.
//
// Strategies are incremental (substitution products are generated, not
// pre-materialized) and interruptible: the context is checked between
// candidate groups, and the hash table is only saved at strategy
// completion, never mid-flight.
package guesser

import (
	"context"
	"iter"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/hashmap"
	"k8s.io/klog/v2"

	"github.com/communitydragon/cdtb/binhash"
	"github.com/communitydragon/cdtb/hashtable"
	"github.com/communitydragon/cdtb/wadarchive"
)

// ProgressSink receives coarse progress at candidate-group boundaries.
type ProgressSink interface {
	StartStrategy(name string, groups int)
	Step()
	EndStrategy()
}

type nopProgress struct{}

func (nopProgress) StartStrategy(string, int) {}
func (nopProgress) Step()                     {}
func (nopProgress) EndStrategy()              {}

// Guesser drives try-insert discovery for one hash family.
type Guesser struct {
	file     *hashtable.HashFile
	progress ProgressSink

	mu      sync.Mutex
	known   map[uint64]string
	unknown hashmap.Map[uint64, struct{}]
	found   int
	dirs    []string // cached directory list, reset on discovery
}

// New creates a guesser over the given hash table and the hash values
// whose names are still unknown. The table must be loaded.
func New(file *hashtable.HashFile, hashes []uint64) *Guesser {
	g := &Guesser{
		file:     file,
		progress: nopProgress{},
		known:    file.Snapshot(),
	}
	for _, h := range hashes {
		if _, ok := g.known[h]; !ok {
			g.unknown.Set(h, struct{}{})
		}
	}
	return g
}

// FromArchives seeds the unknown set from every entry of the given WAD
// archives.
func FromArchives(file *hashtable.HashFile, archives []*wadarchive.Archive) *Guesser {
	var hashes []uint64
	for _, a := range archives {
		for _, e := range a.Entries() {
			hashes = append(hashes, e.PathHash)
		}
	}
	return New(file, hashes)
}

// SetProgress installs a progress sink. Nil restores the no-op sink.
func (g *Guesser) SetProgress(p ProgressSink) {
	if p == nil {
		p = nopProgress{}
	}
	g.progress = p
}

// Found returns how many names were discovered so far.
func (g *Guesser) Found() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.found
}

// UnknownLen returns the number of hashes still unknown.
func (g *Guesser) UnknownLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.unknown.Len()
}

// Save flushes discovered names to the backing hash file. Call between
// strategies or at explicit checkpoints only.
func (g *Guesser) Save() error {
	return g.file.Save()
}

// Check hashes one candidate path and records it on a hit. Safe for
// concurrent callers.
func (g *Guesser) Check(p string) bool {
	h := binhash.XxHash64(p)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.unknown.Get(h); !ok {
		return false
	}
	g.addKnownLocked(h, strings.ToLower(p))
	return true
}

// IsKnown checks a candidate and reports whether it is now known,
// counting a fresh hit as known.
func (g *Guesser) IsKnown(p string) bool {
	h := binhash.XxHash64(p)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.unknown.Get(h); ok {
		g.addKnownLocked(h, strings.ToLower(p))
		return true
	}
	_, ok := g.known[h]
	return ok
}

func (g *Guesser) addKnownLocked(h uint64, p string) {
	klog.Infof("%016x %s", h, p)
	g.known[h] = p
	g.unknown.Delete(h)
	g.found++
	g.file.Insert(h, p)
	g.dirs = nil
}

// CheckSeq checks every candidate produced by seq.
func (g *Guesser) CheckSeq(seq iter.Seq[string]) {
	for p := range seq {
		g.Check(p)
	}
}

// CheckList checks whitespace-separated candidates from a text blob.
func (g *Guesser) CheckList(text string) {
	for _, p := range strings.Fields(text) {
		g.Check(p)
	}
}

// KnownPaths returns a sorted copy of the known names.
func (g *Guesser) KnownPaths() []string {
	return g.knownPaths()
}

func (g *Guesser) knownPaths() []string {
	g.mu.Lock()
	paths := make([]string, 0, len(g.known))
	for _, p := range g.known {
		paths = append(paths, p)
	}
	g.mu.Unlock()
	sort.Strings(paths)
	return paths
}

// DirectoryList returns every directory and intermediate directory of the
// known paths. The list is cached until the next discovery.
func (g *Guesser) DirectoryList() []string {
	g.mu.Lock()
	if g.dirs != nil {
		dirs := g.dirs
		g.mu.Unlock()
		return dirs
	}
	g.mu.Unlock()

	dirs := make(map[string]bool)
	bases := g.knownPaths()
	for len(bases) > 0 {
		next := make(map[string]bool)
		for _, p := range bases {
			d := path.Dir(p)
			if d == "." || d == "/" || dirs[d] {
				continue
			}
			next[d] = true
		}
		bases = bases[:0]
		for d := range next {
			dirs[d] = true
			bases = append(bases, d)
		}
	}
	out := make([]string, 0, len(dirs))
	for d := range dirs {
		out = append(out, d)
	}
	sort.Strings(out)

	g.mu.Lock()
	g.dirs = out
	g.mu.Unlock()
	return out
}

var (
	reWordSplit   = regexp.MustCompile(`[/_.-]`)
	reLargeNumber = regexp.MustCompile(`^[0-9]{3,}$`)
)

// Wordlist builds the word tokens of the known paths, splitting on
// path/word separators, dropping the extension token and large numbers.
// filter, when non-nil, drops whole paths before tokenizing.
func (g *Guesser) Wordlist(filter *regexp.Regexp) []string {
	words := make(map[string]bool)
	for _, p := range g.knownPaths() {
		if filter != nil && filter.MatchString(p) {
			continue
		}
		tokens := reWordSplit.Split(p, -1)
		if len(tokens) > 0 {
			tokens = tokens[:len(tokens)-1] // drop the extension token
		}
		for _, w := range tokens {
			if w == "" || reLargeNumber.MatchString(w) {
				continue
			}
			words[w] = true
		}
	}
	out := make([]string, 0, len(words))
	for w := range words {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// SubstituteBasenames checks every known basename against every known
// directory.
func (g *Guesser) SubstituteBasenames(ctx context.Context) error {
	names := make(map[string]bool)
	for _, p := range g.knownPaths() {
		names[path.Base(p)] = true
	}
	dirs := g.DirectoryList()
	sorted := sortedKeys(names)
	klog.V(1).Infof("substitute basenames: %d basenames, %d directories", len(sorted), len(dirs))
	g.progress.StartStrategy("basenames", len(sorted))
	defer g.progress.EndStrategy()
	for _, name := range sorted {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, dir := range dirs {
			g.Check(dir + "/" + name)
		}
		g.progress.Step()
	}
	return nil
}

// SubstituteBasenameWords replaces single word tokens of the given paths'
// basenames with every word of the wordlist.
func (g *Guesser) SubstituteBasenameWords(ctx context.Context, paths, words []string) error {
	formats := make(map[string]bool)
	for _, p := range paths {
		for _, span := range wordSpans(p) {
			formats[p[:span[0]]+"%s"+p[span[1]:]] = true
		}
	}
	sorted := sortedKeys(formats)
	klog.V(1).Infof("substitute basename words: %d formats, %d words", len(sorted), len(words))
	g.progress.StartStrategy("words", len(sorted))
	defer g.progress.EndStrategy()
	for _, fmtStr := range sorted {
		if err := ctx.Err(); err != nil {
			return err
		}
		prefix, suffix, _ := strings.Cut(fmtStr, "%s")
		for _, w := range words {
			g.Check(prefix + w + suffix)
		}
		g.progress.Step()
	}
	return nil
}

// AddBasenameWord inserts a word before or after every word token of the
// given paths' basenames, joined with "-" or "_".
func (g *Guesser) AddBasenameWord(ctx context.Context, paths, words []string) error {
	formats := make(map[string]bool)
	for _, p := range paths {
		for _, span := range wordSpans(p) {
			for _, sep := range []string{"-", "_"} {
				formats[p[:span[0]]+"%s"+sep+p[span[0]:]] = true
				formats[p[:span[1]]+sep+"%s"+p[span[1]:]] = true
			}
		}
	}
	sorted := sortedKeys(formats)
	klog.V(1).Infof("add basename word: %d formats, %d words", len(sorted), len(words))
	g.progress.StartStrategy("words", len(sorted))
	defer g.progress.EndStrategy()
	for _, fmtStr := range sorted {
		if err := ctx.Err(); err != nil {
			return err
		}
		prefix, suffix, _ := strings.Cut(fmtStr, "%s")
		for _, w := range words {
			g.Check(prefix + w + suffix)
		}
		g.progress.Step()
	}
	return nil
}

// wordSpans returns the [start,end) spans of word tokens inside the
// basename of p (the extension excluded).
func wordSpans(p string) [][2]int {
	slash := strings.LastIndexByte(p, '/') + 1
	base := p[slash:]
	dot := strings.LastIndexByte(base, '.')
	if dot <= 0 {
		return nil
	}
	var spans [][2]int
	start := -1
	for i := 0; i < dot; i++ {
		switch base[i] {
		case '_', '.', '-':
			if start >= 0 {
				spans = append(spans, [2]int{slash + start, slash + i})
				start = -1
			}
		default:
			if start < 0 {
				start = i
			}
		}
	}
	if start >= 0 {
		spans = append(spans, [2]int{slash + start, slash + dot})
	}
	return spans
}

var reNumber = regexp.MustCompile(`[0-9]+`)

// SubstituteNumbers enumerates integers below nmax in the numeric spans of
// the given paths' basenames. digits > 0 pins the formatting width.
func (g *Guesser) SubstituteNumbers(ctx context.Context, paths []string, nmax, digits int) error {
	formats := make(map[string]bool)
	for _, p := range paths {
		slash := strings.LastIndexByte(p, '/') + 1
		dot := strings.LastIndexByte(p, '.')
		if dot <= slash {
			continue
		}
		for _, m := range reNumber.FindAllStringIndex(p[slash:dot], -1) {
			if digits > 0 && m[1]-m[0] != digits {
				continue
			}
			formats[p[:slash+m[0]]+"%d"+p[slash+m[1]:]] = true
		}
	}
	sorted := sortedKeys(formats)
	klog.V(1).Infof("substitute numbers: %d formats, nmax=%d", len(sorted), nmax)
	g.progress.StartStrategy("numbers", len(sorted))
	defer g.progress.EndStrategy()
	for _, fmtStr := range sorted {
		if err := ctx.Err(); err != nil {
			return err
		}
		prefix, suffix, _ := strings.Cut(fmtStr, "%d")
		for n := 0; n < nmax; n++ {
			num := strconv.Itoa(n)
			if digits > 0 {
				num = leftPad(num, digits)
			}
			g.Check(prefix + num + suffix)
		}
		g.progress.Step()
	}
	return nil
}

func leftPad(s string, width int) string {
	for len(s) < width {
		s = "0" + s
	}
	return s
}

// SubstituteExtensions swaps every known extension onto every known
// prefix.
func (g *Guesser) SubstituteExtensions(ctx context.Context) error {
	prefixes := make(map[string]bool)
	extensions := make(map[string]bool)
	for _, p := range g.knownPaths() {
		if ext := path.Ext(p); ext != "" {
			prefixes[strings.TrimSuffix(p, ext)] = true
			extensions[ext] = true
		}
	}
	exts := sortedKeys(extensions)
	sorted := sortedKeys(prefixes)
	klog.V(1).Infof("substitute extensions: %d prefixes, %d extensions", len(sorted), len(exts))
	g.progress.StartStrategy("extensions", len(sorted))
	defer g.progress.EndStrategy()
	for _, prefix := range sorted {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, ext := range exts {
			g.Check(prefix + ext)
		}
		g.progress.Step()
	}
	return nil
}

var reSuffix = regexp.MustCompile(`^(.*?)(\.[^.]+)?(\.[^.]+)$`)

// SubstituteSuffixes swaps the ".suffix.ext" middle component against
// every known suffix (including none).
func (g *Guesser) SubstituteSuffixes(ctx context.Context) error {
	suffixes := map[string]bool{"": true}
	formats := make(map[string]bool)
	for _, p := range g.knownPaths() {
		m := reSuffix.FindStringSubmatch(p)
		if m == nil {
			continue
		}
		if m[2] != "" {
			suffixes[m[2]] = true
		}
		formats[m[1]+"%s"+m[3]] = true
	}
	sufs := sortedKeys(suffixes)
	sorted := sortedKeys(formats)
	klog.V(1).Infof("substitute suffixes: %d formats, %d suffixes", len(sorted), len(sufs))
	g.progress.StartStrategy("suffixes", len(sorted))
	defer g.progress.EndStrategy()
	for _, fmtStr := range sorted {
		if err := ctx.Err(); err != nil {
			return err
		}
		prefix, suffix, _ := strings.Cut(fmtStr, "%s")
		for _, s := range sufs {
			g.Check(prefix + s + suffix)
		}
		g.progress.Step()
	}
	return nil
}

// CheckBasenamePrefixes prepends each prefix to every known basename.
// With no prefixes the resolution-variant defaults are used.
func (g *Guesser) CheckBasenamePrefixes(ctx context.Context, prefixes []string) error {
	if len(prefixes) == 0 {
		prefixes = []string{"2x_", "2x_sd_", "4x_", "4x_sd_", "sd_"}
	}
	paths := g.knownPaths()
	klog.V(1).Infof("check basename prefixes: %d prefixes over %d paths", len(prefixes), len(paths))
	g.progress.StartStrategy("prefixes", len(paths))
	defer g.progress.EndStrategy()
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir, base := path.Split(p)
		for _, prefix := range prefixes {
			g.Check(dir + prefix + base)
		}
		g.progress.Step()
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
