package wadarchive

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/ryanuber/go-glob"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/communitydragon/cdtb/binhash"
	"github.com/communitydragon/cdtb/sigscan"
)

// UnknownMode selects how entries without a known path name are handled
// during extraction.
type UnknownMode int

const (
	// UnknownYes extracts unknown entries under unknown/<hex hash>.
	UnknownYes UnknownMode = iota
	// UnknownNo skips unknown entries.
	UnknownNo
	// UnknownOnly extracts only unknown entries.
	UnknownOnly
)

// ExtractOptions control Extract.
type ExtractOptions struct {
	// Overwrite re-extracts entries whose destination already exists.
	Overwrite bool
	// Unknown selects handling of entries with no known name.
	Unknown UnknownMode
	// Patterns restricts extraction to entries whose resolved path
	// matches any glob. Empty means all.
	Patterns []string
	// Read carries checksum verification knobs.
	Read ReadOptions
	// Workers bounds extraction parallelism. Zero means GOMAXPROCS.
	Workers int
	// Tick, when set, is called once per visited entry.
	Tick func()
}

// EntryError records a single entry's extraction failure.
type EntryError struct {
	PathHash uint64
	Path     string
	Err      error
}

func (e EntryError) Error() string {
	return fmt.Sprintf("entry %016x (%s): %v", e.PathHash, e.Path, e.Err)
}

// Report accumulates per-entry extraction outcomes. A failing entry never
// aborts extraction of unrelated entries.
type Report struct {
	mu         sync.Mutex
	Extracted  int
	Skipped    int
	Symlinked  int
	Errored    int
	WrittenLen uint64
	Errors     []EntryError
}

func (r *Report) addError(e Entry, path string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errored++
	r.Errors = append(r.Errors, EntryError{PathHash: e.PathHash, Path: path, Err: err})
}

// destLocks serializes writers that resolve to the same destination
// path. Duplicate entries sharing a path hash at different offsets are
// legal, so two workers may race on one file otherwise.
type destLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newDestLocks() *destLocks {
	return &destLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the destination and returns its release func.
func (d *destLocks) acquire(dest string) func() {
	d.mu.Lock()
	l, ok := d.locks[dest]
	if !ok {
		l = &sync.Mutex{}
		d.locks[dest] = l
	}
	d.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Extract writes every matching entry below outputRoot. Entry paths are
// resolved through names; entries without a preimage get synthetic
// "unknown/<hex hash>[.<ext>]" paths, with the extension guessed from the
// payload's magic bytes. Writes never escape outputRoot and leave no
// partial file behind.
func (a *Archive) Extract(ctx context.Context, outputRoot string, names binhash.Resolver, opts *ExtractOptions) (*Report, error) {
	if opts == nil {
		opts = &ExtractOptions{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	report := &Report{}
	locks := newDestLocks()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, e := range a.entries {
		e := e
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if opts.Tick != nil {
				defer opts.Tick()
			}
			a.extractOne(e, outputRoot, names, opts, report, locks)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

func (a *Archive) extractOne(e Entry, outputRoot string, names binhash.Resolver, opts *ExtractOptions, report *Report, locks *destLocks) {
	name, known := "", false
	if names != nil {
		name, known = names.Get(e.PathHash)
	}
	switch opts.Unknown {
	case UnknownNo:
		if !known {
			report.mu.Lock()
			report.Skipped++
			report.mu.Unlock()
			return
		}
	case UnknownOnly:
		if known {
			report.mu.Lock()
			report.Skipped++
			report.mu.Unlock()
			return
		}
	}

	// Known names can be filtered before paying for the payload read.
	if known && len(opts.Patterns) > 0 && !matchAny(opts.Patterns, name) {
		report.mu.Lock()
		report.Skipped++
		report.mu.Unlock()
		return
	}

	if e.Type == EntrySymlink {
		report.mu.Lock()
		report.Symlinked++
		report.mu.Unlock()
		if klog.V(2).Enabled() {
			target, err := a.ReadEntry(e, nil)
			if err == nil {
				klog.Infof("symlink entry %016x -> %s", e.PathHash, target)
			}
		}
		return
	}

	payload, err := a.ReadEntry(e, &opts.Read)
	if err != nil {
		report.addError(e, name, err)
		return
	}

	if !known {
		name = unknownName(e.PathHash, payload)
		if len(opts.Patterns) > 0 && !matchAny(opts.Patterns, name) {
			report.mu.Lock()
			report.Skipped++
			report.mu.Unlock()
			return
		}
	}

	dest, err := safeJoin(outputRoot, name)
	if err != nil {
		report.addError(e, name, err)
		return
	}

	release := locks.acquire(dest)
	defer release()

	if !opts.Overwrite {
		if skip, err := canSkip(dest, e, opts.Read.Verify); err == nil && skip {
			report.mu.Lock()
			report.Skipped++
			report.mu.Unlock()
			return
		}
	}

	if err := writeFileAtomic(dest, payload); err != nil {
		report.addError(e, name, err)
		return
	}
	report.mu.Lock()
	report.Extracted++
	report.WrittenLen += uint64(len(payload))
	report.mu.Unlock()
}

func unknownName(h uint64, payload []byte) string {
	name := fmt.Sprintf("unknown/%016x", h)
	if ext := sigscan.GuessSniff(payload); ext != "" {
		name += "." + ext
	}
	return name
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if glob.Glob(p, name) {
			return true
		}
	}
	return false
}

// safeJoin resolves name below root, rejecting anything that would escape
// it.
func safeJoin(root, name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if name == "" || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return filepath.Join(root, clean), nil
}

// canSkip reports whether dest already holds the entry's payload: same
// size, and (when verifying and the record carries a checksum) the same
// sha256 prefix.
func canSkip(dest string, e Entry, verify bool) (bool, error) {
	fi, err := os.Stat(dest)
	if err != nil {
		return false, err
	}
	if !fi.Mode().IsRegular() || fi.Size() != int64(e.UncompressedSize) {
		return false, nil
	}
	if !verify || e.SHA256Prefix == 0 {
		return true, nil
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		return false, err
	}
	sum := sha256.Sum256(data)
	return binary.LittleEndian.Uint64(sum[:8]) == e.SHA256Prefix, nil
}

// writeFileAtomic writes data to a uniquely-named temp file next to dest,
// then renames it into place. A failed write leaves no partial file, and
// concurrent writers never share a temp path.
func writeFileAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// SortByOffset returns a copy of entries in ascending payload-offset order,
// the order a forward-only reader must consume them in.
func SortByOffset(entries []Entry) []Entry {
	out := append([]Entry(nil), entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}
