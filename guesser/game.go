package guesser

import (
	"context"
	"encoding/binary"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"k8s.io/klog/v2"

	"github.com/communitydragon/cdtb/hashtable"
	"github.com/communitydragon/cdtb/wadarchive"
)

// Game guesses game WAD paths: assets/ and data/ trees keyed by
// character, skin and language components.
type Game struct {
	*Guesser
}

// NewGame wraps a guesser over the game hash table.
func NewGame(file *hashtable.HashFile, hashes []uint64) *Game {
	return &Game{Guesser: New(file, hashes)}
}

var reGameCharacter = regexp.MustCompile(`^(?:assets|data)/characters/([^/]+)/`)

// Characters lists the character names appearing in known paths.
func (g *Game) Characters() []string {
	chars := make(map[string]bool)
	for _, p := range g.knownPaths() {
		if m := reGameCharacter.FindStringSubmatch(p); m != nil {
			chars[m[1]] = true
		}
	}
	return sortedKeys(chars)
}

// SubstituteCharacter swaps the character name component of every known
// character path against every known character.
func (g *Game) SubstituteCharacter(ctx context.Context) error {
	chars := make(map[string]bool)
	formats := make(map[string]bool)
	for _, p := range g.knownPaths() {
		m := reGameCharacter.FindStringSubmatch(p)
		if m == nil {
			continue
		}
		chars[m[1]] = true
		formats[strings.ReplaceAll(p, m[1], "\x00")] = true
	}
	names := sortedKeys(chars)
	sorted := sortedKeys(formats)
	klog.V(1).Infof("substitute characters: %d formats, %d characters", len(sorted), len(names))
	g.progress.StartStrategy("character", len(sorted))
	defer g.progress.EndStrategy()
	for _, fmtStr := range sorted {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, c := range names {
			g.Check(strings.ReplaceAll(fmtStr, "\x00", c))
		}
		g.progress.Step()
	}
	return nil
}

var reGameSkin = regexp.MustCompile(`/characters/([^/]+)/skins/(base|skin\d+)/`)

var reGameSkinComponent = regexp.MustCompile(`(?:base|skin\d+)`)

// SubstituteSkinNumbers swaps the skinNN path components of each
// character against every combination of that character's known skins.
func (g *Game) SubstituteSkinNumbers(ctx context.Context) error {
	type charInfo struct {
		skins   map[string]bool
		formats map[string]int // format -> occurrence count
	}
	characters := make(map[string]*charInfo)
	for _, p := range g.knownPaths() {
		m := reGameSkin.FindStringSubmatch(p)
		if m == nil || m[1] == "sightward" {
			continue
		}
		c, ok := characters[m[1]]
		if !ok {
			c = &charInfo{skins: make(map[string]bool), formats: make(map[string]int)}
			characters[m[1]] = c
		}
		c.skins[m[2]] = true
		fmtStr := reGameSkinComponent.ReplaceAllString(p, "\x00")
		c.formats[fmtStr] = strings.Count(fmtStr, "\x00")
	}

	names := make([]string, 0, len(characters))
	for char := range characters {
		names = append(names, char)
	}
	sort.Strings(names)

	klog.V(1).Infof("substitute skin numbers: %d characters", len(characters))
	g.progress.StartStrategy("skin_num", len(characters))
	defer g.progress.EndStrategy()
	for _, char := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := characters[char]
		skins := sortedKeys(c.skins)
		for fmtStr, nocc := range c.formats {
			combinations(skins, nocc, func(combo []string) {
				p := fmtStr
				for _, s := range combo {
					p = strings.Replace(p, "\x00", s, 1)
				}
				g.Check(p)
			})
		}
		g.progress.Step()
	}
	return nil
}

// combinations visits every nocc-element combination of items, in order.
func combinations(items []string, nocc int, fn func([]string)) {
	if nocc <= 0 || nocc > len(items) {
		return
	}
	idx := make([]int, nocc)
	for i := range idx {
		idx[i] = i
	}
	combo := make([]string, nocc)
	for {
		for i, j := range idx {
			combo[i] = items[j]
		}
		fn(combo)
		i := nocc - 1
		for i >= 0 && idx[i] == len(items)-nocc+i {
			i--
		}
		if i < 0 {
			return
		}
		idx[i]++
		for j := i + 1; j < nocc; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}

var reGameLang = regexp.MustCompile(strings.Join(Languages, "|"))

// SubstituteLang rewrites language components against every known locale.
func (g *Game) SubstituteLang(ctx context.Context) error {
	formats := make(map[string]bool)
	for _, p := range g.knownPaths() {
		if reGameLang.MatchString(p) {
			formats[reGameLang.ReplaceAllString(p, "\x00")] = true
		}
	}
	sorted := sortedKeys(formats)
	klog.V(1).Infof("substitute lang: %d formats, %d langs", len(sorted), len(Languages))
	g.progress.StartStrategy("region_lang", len(sorted))
	defer g.progress.EndStrategy()
	for _, fmtStr := range sorted {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, lang := range Languages {
			g.Check(strings.ReplaceAll(fmtStr, "\x00", lang))
		}
		g.progress.Step()
	}
	return nil
}

// GuessCharacterFiles checks the common per-character file patterns. With
// no explicit characters the known character set is used.
func (g *Game) GuessCharacterFiles(ctx context.Context, chars []string) error {
	if chars == nil {
		chars = g.Characters()
	}
	formats := []string{
		"data/characters/%s/skins/root.bin",
		"data/characters/%[1]s/skins/base/%[1]s.skl",
		"data/characters/%[1]s/skins/base/%[1]s.skn",
		"data/characters/%[1]s/skins/base/%[1]s_tx_cm.dds",
		"data/characters/%s/tiers/root.bin",
		"data/characters/%[1]s/%[1]s.bin",
		"data/characters/%[1]s/%[1]s.ddf",
		"data/characters/%[1]s/hud/%[1]s_circle.dds",
		"data/characters/%[1]s/hud/%[1]s_square.dds",
		"assets/characters/%[1]s/hud/%[1]s_circle.dds",
		"assets/characters/%[1]s/hud/%[1]s_square.dds",
	}
	klog.V(1).Infof("guess characters files: %d characters", len(chars))
	g.progress.StartStrategy("character", len(chars))
	defer g.progress.EndStrategy()
	for _, c := range chars {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, f := range formats {
			g.Check(fmt.Sprintf(f, c))
		}
		nskins := 200
		if c == "sightward" {
			nskins = 500
		}
		for i := 0; i < nskins; i++ {
			g.Check(fmt.Sprintf("data/characters/%s/skins/skin%d.bin", c, i))
			g.Check(fmt.Sprintf("data/characters/%s/animations/skin%d.bin", c, i))
		}
		if strings.HasPrefix(c, "pet") {
			for i := 0; i < 10; i++ {
				g.Check(fmt.Sprintf("data/characters/%s/tiers/tier%d.bin", c, i))
			}
		}
		g.progress.Step()
	}
	return nil
}

// GuessFromLcuHashes derives game paths from known LCU paths under the
// lol-game-data plugin.
func (g *Game) GuessFromLcuHashes(lcu *hashtable.HashFile) {
	re := regexp.MustCompile(`^plugins/rcp-be-lol-game-data/global/default/((?:assets|data)/.*)\.(png|jpg|json)$`)
	for _, p := range lcu.Snapshot() {
		m := re.FindStringSubmatch(p)
		if m == nil {
			continue
		}
		if m[2] == "json" {
			g.Check(m[1] + ".json")
		} else {
			g.Check(m[1] + ".dds")
		}
	}
}

// GuessShaderVariants checks platform and revision suffix variants of
// known shader files.
func (g *Game) GuessShaderVariants(ctx context.Context) error {
	exts := make(map[string]bool)
	for _, variant := range []string{"p", "v"} {
		for _, n := range []string{"2", "3"} {
			exts["."+variant+"s_"+n+"_0"] = true
		}
	}
	var shaderPaths []string
	for _, p := range g.knownPaths() {
		if exts[path.Ext(p)] {
			shaderPaths = append(shaderPaths, p)
		}
	}
	g.progress.StartStrategy("shaders", len(shaderPaths))
	defer g.progress.EndStrategy()
	for _, p := range shaderPaths {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, platform := range []string{"dx9", "dx11", "glsl", "metal"} {
			g.Check(p + "." + platform)
			for n := 0; n < 100000; n += 100 {
				g.Check(fmt.Sprintf("%s.%s_%d", p, platform, n))
			}
		}
		g.progress.Step()
	}
	return nil
}

var (
	reGameBinPath  = regexp.MustCompile(`(?:ASSETS|DATA|Characters|Shaders|Maps/MapGeometry)/`)
	reGamePreload  = regexp.MustCompile(`Name="([^"]+)"`)
	reGameInclude  = regexp.MustCompile(`#include "([^"]+)"`)
	reGamePathLike = regexp.MustCompile(`(?:ASSETS|DATA|DATA_SOON|Global|LEVELS|UX)/[0-9a-zA-Z_. /-]+`)
)

// grepExtsSkipped are filetypes known to not contain full paths.
var grepExtsSkipped = map[string]bool{
	"dds": true, "jpg": true, "png": true, "tga": true, "ttf": true,
	"otf": true, "ogg": true, "webm": true, "anm": true, "skl": true,
	"skn": true, "scb": true, "sco": true, "troybin": true,
	"luabin": true, "luabin64": true, "bnk": true, "wpk": true,
}

// GrepWad mines candidate paths from the archive's payloads: .bin files
// carry length-prefixed path strings, preload files Name="..." atoms,
// shaders #include directives, everything else path-looking byte runs.
func (g *Game) GrepWad(ctx context.Context, a *wadarchive.Archive) error {
	klog.V(1).Infof("find game hashes in WAD (%d entries)", a.Len())
	g.progress.StartStrategy("grep", a.Len())
	defer g.progress.EndStrategy()
	for _, e := range a.Entries() {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.progress.Step()
		if e.Type == wadarchive.EntrySymlink {
			continue
		}
		g.mu.Lock()
		name := g.known[e.PathHash]
		g.mu.Unlock()
		ext := strings.TrimPrefix(path.Ext(name), ".")
		if grepExtsSkipped[ext] {
			continue
		}
		data, err := a.ReadEntry(e, nil)
		if err != nil {
			continue
		}
		switch ext {
		case "bin", "inibin":
			g.grepBin(data)
		case "preload":
			g.grepPreload(name, data)
		case "hls", "ps_2_0", "ps_3_0", "vs_2_0", "vs_3_0":
			if name != "" {
				dir := path.Dir(name)
				for _, m := range reGameInclude.FindAllSubmatch(data, -1) {
					g.Check(path.Clean(dir + "/" + strings.ToLower(string(m[1]))))
				}
			}
		default:
			g.GrepData(data)
		}
	}
	return nil
}

// grepBin finds length-prefixed path strings in raw property binaries:
// locate a known prefix, then read the u16 length stored just before it.
func (g *Game) grepBin(data []byte) {
	for _, m := range reGameBinPath.FindAllIndex(data, -1) {
		i := m[0]
		if i < 2 {
			continue
		}
		n := int(binary.LittleEndian.Uint16(data[i-2 : i]))
		if i+n > len(data) {
			continue
		}
		p := strings.ToLower(string(data[i : i+n]))
		if !isPrintablePath(p) {
			continue
		}
		switch {
		case strings.HasPrefix(p, "characters"):
			g.Check("assets/" + p)
			g.Check("data/" + p)
		case strings.HasSuffix(p, ".lua"):
			g.Check(strings.TrimSuffix(p, ".lua") + ".luabin")
			g.Check(strings.TrimSuffix(p, ".lua") + ".luabin64")
		case strings.HasPrefix(p, "shaders"):
			g.Check("assets/shaders/generated/" + p + ".ps_2_0")
			g.Check("assets/shaders/generated/" + p + ".vs_2_0")
		case strings.HasPrefix(p, "maps"):
			g.Check("data/" + p + ".mapgeo")
			g.Check("data/" + p + ".materials.bin")
		default:
			g.Check(p)
			if strings.HasSuffix(p, ".png") {
				g.Check(strings.TrimSuffix(p, ".png") + ".dds")
			}
		}
	}
}

func (g *Game) grepPreload(name string, data []byte) {
	for _, m := range reGamePreload.FindAllSubmatch(data, -1) {
		p := strings.ToLower(string(m[1]))
		switch {
		case strings.HasSuffix(p, ".lua"):
			g.Check(strings.TrimSuffix(p, ".lua") + ".luabin")
			g.Check(strings.TrimSuffix(p, ".lua") + ".luabin64")
		case strings.HasSuffix(p, ".troy"):
			g.Check("data/shared/particles/" + strings.TrimSuffix(p, ".troy") + ".troybin")
		case name != "":
			g.Check(path.Dir(name) + "/" + p + ".preload")
		}
	}
}

// GrepData finds path-looking strings in arbitrary payloads, probing the
// u16 (or u32) length stored before each match to recover truncation.
func (g *Game) GrepData(data []byte) {
	paths := make(map[string]bool)
	for _, m := range reGamePathLike.FindAllIndex(data, -1) {
		p := strings.ToLower(string(data[m[0]:m[1]]))
		paths[strings.ReplaceAll(p, "data_soon/", "data/")] = true
		pos := m[0]
		if pos >= 2 {
			n := int(binary.LittleEndian.Uint16(data[pos-2 : pos]))
			if n == 0 && pos >= 4 {
				n = int(binary.LittleEndian.Uint32(data[pos-4 : pos]))
			}
			if n > 0 && n < len(p) {
				paths[strings.ReplaceAll(p[:n], "data_soon/", "data/")] = true
			}
		}
	}
	for p := range paths {
		if strings.HasSuffix(p, ".lua") {
			g.Check(strings.TrimSuffix(p, ".lua") + ".luabin")
			g.Check(strings.TrimSuffix(p, ".lua") + ".luabin64")
		} else {
			g.Check(p)
		}
	}
}

func isPrintablePath(p string) bool {
	for i := 0; i < len(p); i++ {
		if p[i] < 0x20 || p[i] > 0x7e {
			return false
		}
	}
	return len(p) > 0
}
