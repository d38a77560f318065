package guesser

import (
	"context"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"k8s.io/klog/v2"

	"github.com/communitydragon/cdtb/hashtable"
	"github.com/communitydragon/cdtb/wadarchive"
)

// LCU guesses client (LCU) WAD paths; they live under plugins/ with
// region/lang directory components.
type LCU struct {
	*Guesser
}

// NewLCU wraps a guesser over the LCU hash table.
func NewLCU(file *hashtable.HashFile, hashes []uint64) *LCU {
	return &LCU{Guesser: New(file, hashes)}
}

var reLCUWordlistFilter = regexp.MustCompile(
	`(?:^plugins/rcp-be-lol-game-data/global/default/data/characters/|/[0-9a-f]{32}\.)`)

// BuildWordlist builds the LCU word tokens, dropping character data and
// content-hash-named files.
func (g *LCU) BuildWordlist() []string {
	return g.Wordlist(reLCUWordlistFilter)
}

var reLCUPluginPrefix = regexp.MustCompile(`^plugins/([^/]+)/[^/]+/[^/]+/`)

// SubstituteRegionLang rewrites the region/lang path components of every
// known path against all region and language combinations.
func (g *LCU) SubstituteRegionLang(ctx context.Context) error {
	regions := append(append([]string{}, Regions...), "global")
	langs := append(append([]string{}, Languages...), "default")
	known := g.knownPaths()
	klog.V(1).Info("substitute region and lang")
	g.progress.StartStrategy("region_lang", len(regions)*len(langs))
	defer g.progress.EndStrategy()
	for _, region := range regions {
		for _, lang := range langs {
			if err := ctx.Err(); err != nil {
				return err
			}
			replacement := "plugins/${1}/" + region + "/" + lang + "/"
			for _, p := range known {
				g.Check(reLCUPluginPrefix.ReplaceAllString(p, replacement))
			}
			g.progress.Step()
		}
	}
	return nil
}

// SubstitutePlugin swaps the plugin name component across all known
// plugin paths.
func (g *LCU) SubstitutePlugin(ctx context.Context) error {
	plugins := make(map[string]bool)
	formats := make(map[string]bool)
	for _, p := range g.knownPaths() {
		if !strings.HasPrefix(p, "plugins/") {
			continue
		}
		rest := p[len("plugins/"):]
		name, tail, found := strings.Cut(rest, "/")
		if !found {
			continue
		}
		plugins[name] = true
		formats["plugins/%s/"+tail] = true
	}
	names := sortedKeys(plugins)
	sorted := sortedKeys(formats)
	klog.V(1).Infof("substitute plugin: %d formats, %d plugins", len(sorted), len(names))
	g.progress.StartStrategy("plugin", len(sorted))
	defer g.progress.EndStrategy()
	for _, fmtStr := range sorted {
		if err := ctx.Err(); err != nil {
			return err
		}
		tail := strings.TrimPrefix(fmtStr, "plugins/%s/")
		for _, name := range names {
			g.Check("plugins/" + name + "/" + tail)
		}
		g.progress.Step()
	}
	return nil
}

var (
	reLCUFePath      = regexp.MustCompile(`\bfe/([^/]+)/([a-zA-Z0-9/_.@-]+)`)
	reLCUDataPath    = regexp.MustCompile(`/DATA/([a-zA-Z0-9/_.@-]+)`)
	reLCUAssetsPath  = regexp.MustCompile(`\blol-game-data/assets/([a-zA-Z0-9/_.@-]+)`)
	reLCURelPath     = regexp.MustCompile(`[^a-zA-Z0-9/_.\\-]((?:\.|\.\.)/[a-zA-Z0-9/_.-]+)`)
	reLCUSubPath     = regexp.MustCompile(`["']([a-zA-Z0-9][a-zA-Z0-9/_.@-]*\.(?:js|json|webm|html|[a-z]{3}))\b`)
	reLCUTemplateID  = regexp.MustCompile(`<template id="[^"]*-template-([^"]+)"`)
	reLCUSourceMap   = regexp.MustCompile(`sourceMappingURL=(.*?\.js)\.map`)
	reLCUSplashNames = regexp.MustCompile(`-splash-([^.]+)`)
)

// pluginDescription is the part of a plugin description.json the grep
// strategy mines.
type pluginDescription struct {
	Name               string              `json:"name"`
	PluginDependencies jsoniter.RawMessage `json:"pluginDependencies"`
}

// GrepWad mines candidate paths from the archive's textual payloads:
// known URL shapes rewritten to plugin paths, plugin descriptions, and
// relative-path strings cross-joined with the directory list.
func (g *LCU) GrepWad(ctx context.Context, a *wadarchive.Archive) error {
	klog.V(1).Infof("find LCU hashes in WAD (%d entries)", a.Len())
	relpaths := make(map[string]bool)

	err := g.eachTextEntry(a, func(te textEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		data := te.data
		if te.ext == "json" {
			g.grepJSON(te)
		}

		// /fe/{plugin}/{subpath} -> plugins/rcp-fe-{plugin}/global/default/{subpath}
		for _, m := range reLCUFePath.FindAllStringSubmatch(data, -1) {
			g.Check(strings.ToLower("plugins/rcp-fe-" + m[1] + "/global/default/" + m[2]))
		}
		// /DATA/{subpath} -> plugins/rcp-be-lol-game-data/global/default/data/{subpath}
		for _, m := range reLCUDataPath.FindAllStringSubmatch(data, -1) {
			g.Check(strings.ToLower("plugins/rcp-be-lol-game-data/global/default/data/" + m[1]))
		}
		// /lol-game-data/assets/{subpath} -> plugins/rcp-be-lol-game-data/global/default/{subpath}
		for _, m := range reLCUAssetsPath.FindAllStringSubmatch(data, -1) {
			g.Check(strings.ToLower("plugins/rcp-be-lol-game-data/global/default/" + m[1]))
		}

		for _, m := range reLCURelPath.FindAllStringSubmatch(data, -1) {
			relpaths[m[1]] = true
		}
		for _, m := range reLCUSubPath.FindAllStringSubmatch(data, -1) {
			relpaths[m[1]] = true
		}
		for _, m := range reLCUTemplateID.FindAllStringSubmatch(data, -1) {
			relpaths[m[1]+"/template.html"] = true
		}
		for _, m := range reLCUSourceMap.FindAllStringSubmatch(data, -1) {
			relpaths[m[1]] = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Cross-join mined relative basenames with every known directory.
	names := make(map[string]bool, len(relpaths))
	for p := range relpaths {
		p = strings.ToLower(strings.TrimLeft(p, "./"))
		if p != "" {
			names[p] = true
		}
	}
	dirs := g.DirectoryList()
	sorted := sortedKeys(names)
	g.progress.StartStrategy("grep", len(sorted))
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

// grepJSON mines plugin descriptions and splash configs.
func (g *LCU) grepJSON(te textEntry) {
	var desc pluginDescription
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(te.data, &desc); err != nil {
		return
	}
	if desc.Name != "" && len(desc.PluginDependencies) > 0 {
		// Common per-plugin files next to a description.json.
		for _, sub := range []string{
			"index.html", "init.js", "init.js.map", "bundle.js",
			"trans.json", "css/main.css", "license.json",
		} {
			g.Check("plugins/" + desc.Name + "/global/default/" + sub)
		}
	}

	var splash struct {
		MusicVolume *float64          `json:"musicVolume"`
		Files       map[string]string `json:"files"`
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(te.data, &splash); err != nil {
		return
	}
	if splash.MusicVolume != nil && len(splash.Files) > 0 {
		names := make(map[string]bool)
		for _, p := range splash.Files {
			for _, m := range reLCUSplashNames.FindAllStringSubmatch(strings.ToLower(p), -1) {
				names[m[1]] = true
			}
		}
		for name := range names {
			base := "plugins/rcp-fe-lol-splash/global/default/splash-assets/" + name
			g.Check(base + "/config.json")
			for _, p := range splash.Files {
				g.Check(base + "/" + strings.ToLower(p))
			}
		}
	}
}

// GuessFromGameHashes derives LCU paths from known game paths: dds
// textures surface as png/jpg, json files verbatim.
func (g *LCU) GuessFromGameHashes(game *hashtable.HashFile) {
	const base = "plugins/rcp-be-lol-game-data/global/default"
	for _, p := range game.Snapshot() {
		switch {
		case strings.HasSuffix(p, ".dds"):
			prefix := strings.TrimSuffix(p, ".dds")
			g.Check(base + "/" + prefix + ".png")
			g.Check(base + "/" + prefix + ".jpg")
		case strings.HasSuffix(p, ".json"):
			g.Check(base + "/" + p)
		}
	}
}
