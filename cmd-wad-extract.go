package main

import (
	"fmt"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"k8s.io/klog/v2"

	"github.com/communitydragon/cdtb/hashtable"
	"github.com/communitydragon/cdtb/readahead"
	"github.com/communitydragon/cdtb/wadarchive"
)

func newCmd_WadExtract() *cli.Command {
	var (
		outDir      string
		hashDir     string
		unknownMode string
		patterns    cli.StringSlice
		overwrite   bool
		verify      bool
		allowZero   bool
		streamed    bool
		jobs        int
	)
	return &cli.Command{
		Name:        "wad-extract",
		Usage:       "Extract the entries of a WAD archive to a directory tree.",
		ArgsUsage:   "<archive>",
		Description: "Entries with a known name extract to that path below the output directory; unknown entries land under unknown/ named by hash and sniffed extension.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "output directory",
				Value:       ".",
				Destination: &outDir,
			},
			&cli.StringFlag{
				Name:        "hashes",
				Usage:       "directory holding the hash tables",
				Destination: &hashDir,
			},
			&cli.StringFlag{
				Name:        "unknown",
				Usage:       "handling of entries with no known name: yes, no, only",
				Value:       "yes",
				Destination: &unknownMode,
			},
			&cli.StringSliceFlag{
				Name:        "pattern",
				Aliases:     []string{"p"},
				Usage:       "only extract entries whose path matches this glob (repeatable)",
				Destination: &patterns,
			},
			&cli.BoolFlag{
				Name:        "overwrite",
				Usage:       "re-extract entries whose destination already exists",
				Destination: &overwrite,
			},
			&cli.BoolFlag{
				Name:        "verify",
				Usage:       "verify the sha256 prefix of every extracted payload",
				Destination: &verify,
			},
			&cli.BoolFlag{
				Name:        "allow-zero-checksum",
				Usage:       "treat a zero sha256 prefix as unverified instead of mismatched",
				Destination: &allowZero,
			},
			&cli.BoolFlag{
				Name:        "stream",
				Usage:       "read the archive as a forward-only stream in offset order",
				Destination: &streamed,
			},
			&cli.IntFlag{
				Name:        "jobs",
				Aliases:     []string{"j"},
				Usage:       "parallel extraction workers",
				Value:       runtime.GOMAXPROCS(0),
				Destination: &jobs,
			},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return usageErrorf("exactly one archive path is required")
			}
			archivePath := c.Args().First()

			var unknown wadarchive.UnknownMode
			switch unknownMode {
			case "yes":
				unknown = wadarchive.UnknownYes
			case "no":
				unknown = wadarchive.UnknownNo
			case "only":
				unknown = wadarchive.UnknownOnly
			default:
				return usageErrorf("invalid --unknown value %q", unknownMode)
			}

			reg := openRegistry(hashDir)
			names, err := reg.ForWadPath(archivePath)
			if err != nil {
				klog.Warningf("%v; resolving names with the game hash table", err)
				names = reg.File(hashtable.FamilyGame)
			}
			if err := names.Load(); err != nil {
				return err
			}

			startedAt := time.Now()
			defer func() {
				klog.Infof("Finished in %s", time.Since(startedAt))
			}()

			opts := &wadarchive.ExtractOptions{
				Overwrite: overwrite,
				Unknown:   unknown,
				Patterns:  patterns.Value(),
				Read: wadarchive.ReadOptions{
					Verify:            verify,
					AllowZeroChecksum: allowZero,
				},
				Workers: jobs,
			}

			var report *wadarchive.Report
			if streamed {
				r, err := readahead.Open(archivePath, 0)
				if err != nil {
					return err
				}
				defer r.Close()
				progress, bar, done := newExtractBar(-1)
				opts.Tick = func() { bar.Increment() }
				report, err = wadarchive.ExtractStream(c.Context, r, outDir, names, opts)
				done(progress, bar)
				if err != nil {
					return err
				}
			} else {
				archive, err := wadarchive.OpenFile(archivePath)
				if err != nil {
					return err
				}
				defer archive.Close()
				progress, bar, done := newExtractBar(int64(archive.Len()))
				opts.Tick = func() { bar.Increment() }
				report, err = archive.Extract(c.Context, outDir, names, opts)
				done(progress, bar)
				if err != nil {
					return err
				}
			}

			for _, ee := range report.Errors {
				klog.Errorf("%v", ee)
			}
			fmt.Printf("extracted %d entries (%s), skipped %d, symlinks %d, errors %d\n",
				report.Extracted, humanize.Bytes(report.WrittenLen),
				report.Skipped, report.Symlinked, report.Errored)
			if report.Errored > 0 {
				return fmt.Errorf("%d entries failed to extract", report.Errored)
			}
			return nil
		},
	}
}

// newExtractBar builds a progress bar over total entries (-1 when the
// total is unknown up front).
func newExtractBar(total int64) (*mpb.Progress, *mpb.Bar, func(*mpb.Progress, *mpb.Bar)) {
	progress := mpb.New(mpb.WithWidth(64))
	bar := progress.New(total,
		mpb.BarStyle(),
		mpb.PrependDecorators(decor.Name("extract"), decor.CountersNoUnit(" %d / %d")),
		mpb.AppendDecorators(decor.Percentage()),
	)
	return progress, bar, func(p *mpb.Progress, b *mpb.Bar) {
		b.SetTotal(-1, true)
		p.Wait()
	}
}
