package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/communitydragon/cdtb/guesser"
	"github.com/communitydragon/cdtb/hashtable"
	"github.com/communitydragon/cdtb/wadarchive"
)

// guessStrategies names the selectable strategies in their default run
// order.
var guessStrategies = []string{
	"grep", "basenames", "words", "numbers", "extensions",
	"region_lang", "plugin", "skin_num", "character", "prefixes",
}

func newCmd_HashesGuess() *cli.Command {
	var (
		hashDir    string
		strategies string
		numberMax  int
	)
	return &cli.Command{
		Name:        "hashes-guess",
		Usage:       "Discover unknown WAD path names by mining archives and substituting known names.",
		ArgsUsage:   "<archive>...",
		Description: "Archives ending in .wad feed the LCU guesser, .wad.client the game guesser. Discovered names are appended to the hash tables after each strategy.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "hashes",
				Usage:       "directory holding the hash tables",
				Destination: &hashDir,
			},
			&cli.StringFlag{
				Name:        "strategies",
				Usage:       "comma-separated strategies to run (default: all): " + strings.Join(guessStrategies, ","),
				Destination: &strategies,
			},
			&cli.IntFlag{
				Name:        "number-max",
				Usage:       "upper bound for the numbers strategy",
				Value:       100,
				Destination: &numberMax,
			},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() == 0 {
				return usageErrorf("at least one archive path is required")
			}

			selected := make(map[string]bool)
			if strategies == "" {
				for _, s := range guessStrategies {
					selected[s] = true
				}
			} else {
				for _, s := range strings.Split(strategies, ",") {
					s = strings.TrimSpace(s)
					if s == "" {
						continue
					}
					if !isAnyOf(s, guessStrategies...) {
						return usageErrorf("unknown strategy %q", s)
					}
					selected[s] = true
				}
			}

			reg := openRegistry(hashDir)
			var lcuWads, gameWads []*wadarchive.Archive
			defer func() {
				for _, a := range append(lcuWads, gameWads...) {
					a.Close()
				}
			}()
			for _, p := range c.Args().Slice() {
				a, err := wadarchive.OpenFile(p)
				if err != nil {
					return fmt.Errorf("open %s: %w", p, err)
				}
				switch {
				case strings.HasSuffix(p, ".wad.client"):
					gameWads = append(gameWads, a)
				case strings.HasSuffix(p, ".wad"):
					lcuWads = append(lcuWads, a)
				default:
					a.Close()
					return usageErrorf("cannot tell LCU from game WAD: %q", p)
				}
			}

			startedAt := time.Now()
			defer func() {
				klog.Infof("Finished in %s", time.Since(startedAt))
			}()

			if len(lcuWads) > 0 {
				if err := runLcuGuess(c.Context, reg, lcuWads, selected, numberMax); err != nil {
					return err
				}
			}
			if len(gameWads) > 0 {
				if err := runGameGuess(c.Context, reg, gameWads, selected, numberMax); err != nil {
					return err
				}
			}
			return reg.SaveDirty()
		},
	}
}

// checkpoint saves discoveries between strategies so that a cancellation
// never loses finished work, then surfaces the strategy error.
func checkpoint(g interface{ Save() error }, err error) error {
	if saveErr := g.Save(); saveErr != nil && err == nil {
		return saveErr
	}
	return err
}

func runLcuGuess(ctx context.Context, reg *hashtable.Registry, wads []*wadarchive.Archive, selected map[string]bool, numberMax int) error {
	hf, err := loadHashFile(reg, hashtable.FamilyLCU)
	if err != nil {
		return err
	}
	g := guesser.NewLCU(hf, entryHashes(wads))
	sink := newGuessProgress()
	g.SetProgress(sink)
	defer sink.Wait()
	klog.Infof("LCU guesser: %d unknown hashes", g.UnknownLen())

	if selected["grep"] {
		for _, a := range wads {
			if err := checkpoint(g, g.GrepWad(ctx, a)); err != nil {
				return err
			}
		}
	}
	if selected["basenames"] {
		if err := checkpoint(g, g.SubstituteBasenames(ctx)); err != nil {
			return err
		}
	}
	if selected["words"] {
		words := g.BuildWordlist()
		if err := checkpoint(g, g.SubstituteBasenameWords(ctx, g.KnownPaths(), words)); err != nil {
			return err
		}
	}
	if selected["numbers"] {
		if err := checkpoint(g, g.SubstituteNumbers(ctx, g.KnownPaths(), numberMax, 0)); err != nil {
			return err
		}
	}
	if selected["extensions"] {
		if err := checkpoint(g, g.SubstituteExtensions(ctx)); err != nil {
			return err
		}
	}
	if selected["region_lang"] {
		if err := checkpoint(g, g.SubstituteRegionLang(ctx)); err != nil {
			return err
		}
	}
	if selected["plugin"] {
		if err := checkpoint(g, g.SubstitutePlugin(ctx)); err != nil {
			return err
		}
	}
	if game, err := loadHashFile(reg, hashtable.FamilyGame); err == nil {
		g.GuessFromGameHashes(game)
	}
	klog.Infof("LCU guesser: %d names discovered", g.Found())
	return g.Save()
}

func runGameGuess(ctx context.Context, reg *hashtable.Registry, wads []*wadarchive.Archive, selected map[string]bool, numberMax int) error {
	hf, err := loadHashFile(reg, hashtable.FamilyGame)
	if err != nil {
		return err
	}
	g := guesser.NewGame(hf, entryHashes(wads))
	sink := newGuessProgress()
	g.SetProgress(sink)
	defer sink.Wait()
	klog.Infof("game guesser: %d unknown hashes", g.UnknownLen())

	if selected["grep"] {
		for _, a := range wads {
			if err := checkpoint(g, g.GrepWad(ctx, a)); err != nil {
				return err
			}
		}
	}
	if selected["basenames"] {
		if err := checkpoint(g, g.SubstituteBasenames(ctx)); err != nil {
			return err
		}
	}
	if selected["words"] {
		words := g.Wordlist(nil)
		if err := checkpoint(g, g.SubstituteBasenameWords(ctx, g.KnownPaths(), words)); err != nil {
			return err
		}
	}
	if selected["numbers"] {
		if err := checkpoint(g, g.SubstituteNumbers(ctx, g.KnownPaths(), numberMax, 0)); err != nil {
			return err
		}
	}
	if selected["extensions"] {
		if err := checkpoint(g, g.SubstituteExtensions(ctx)); err != nil {
			return err
		}
	}
	if selected["region_lang"] {
		if err := checkpoint(g, g.SubstituteLang(ctx)); err != nil {
			return err
		}
	}
	if selected["skin_num"] {
		if err := checkpoint(g, g.SubstituteSkinNumbers(ctx)); err != nil {
			return err
		}
	}
	if selected["character"] {
		if err := checkpoint(g, g.SubstituteCharacter(ctx)); err != nil {
			return err
		}
		if err := checkpoint(g, g.GuessCharacterFiles(ctx, nil)); err != nil {
			return err
		}
	}
	if selected["prefixes"] {
		if err := checkpoint(g, g.CheckBasenamePrefixes(ctx, nil)); err != nil {
			return err
		}
	}
	if lcu, err := loadHashFile(reg, hashtable.FamilyLCU); err == nil {
		g.GuessFromLcuHashes(lcu)
	}
	klog.Infof("game guesser: %d names discovered", g.Found())
	return g.Save()
}

func entryHashes(wads []*wadarchive.Archive) []uint64 {
	var hashes []uint64
	for _, a := range wads {
		for _, e := range a.Entries() {
			hashes = append(hashes, e.PathHash)
		}
	}
	return hashes
}
