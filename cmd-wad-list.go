package main

import (
	"fmt"
	"sort"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/communitydragon/cdtb/hashtable"
	"github.com/communitydragon/cdtb/wadarchive"
)

func newCmd_WadList() *cli.Command {
	var hashDir string
	return &cli.Command{
		Name:        "wad-list",
		Usage:       "List the entries of a WAD archive.",
		Description: "Print one \"<hash> <name>\" line per entry, sorted by name. Entries with no known name print their hex hash in braces.",
		ArgsUsage:   "<archive>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "hashes",
				Usage:       "directory holding the hash tables",
				Destination: &hashDir,
			},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return usageErrorf("exactly one archive path is required")
			}
			archivePath := c.Args().First()

			reg := openRegistry(hashDir)
			names, err := reg.ForWadPath(archivePath)
			if err != nil {
				klog.Warningf("%v; resolving names with the game hash table", err)
				names = reg.File(hashtable.FamilyGame)
			}
			if err := names.Load(); err != nil {
				return err
			}

			archive, err := wadarchive.OpenFile(archivePath)
			if err != nil {
				return err
			}
			defer archive.Close()

			type line struct {
				hash uint64
				name string
			}
			lines := make([]line, 0, archive.Len())
			for _, e := range archive.Entries() {
				name, ok := names.Get(e.PathHash)
				if !ok {
					name = fmt.Sprintf("{%016x}", e.PathHash)
				}
				lines = append(lines, line{hash: e.PathHash, name: name})
			}
			sort.Slice(lines, func(i, j int) bool { return lines[i].name < lines[j].name })
			for _, l := range lines {
				fmt.Printf("%016x %s\n", l.hash, l.name)
			}
			return nil
		},
	}
}
