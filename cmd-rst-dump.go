package main

import (
	"fmt"
	"os"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli/v2"

	"github.com/communitydragon/cdtb/hashtable"
	"github.com/communitydragon/cdtb/rstfile"
)

func newCmd_RstDump() *cli.Command {
	var (
		hashDir string
		asJSON  bool
	)
	return &cli.Command{
		Name:        "rst-dump",
		Usage:       "Parse an RST string table and dump its entries.",
		ArgsUsage:   "<rst-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "hashes",
				Usage:       "directory holding the hash tables",
				Destination: &hashDir,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "dump as JSON",
				Destination: &asJSON,
			},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return usageErrorf("exactly one RST file is required")
			}
			data, err := os.ReadFile(c.Args().First())
			if err != nil {
				return err
			}
			f, err := rstfile.Parse(data)
			if err != nil {
				return err
			}

			var names *hashtable.HashFile
			if hf, err := loadHashFile(openRegistry(hashDir), hashtable.FamilyRst); err == nil {
				names = hf
			}

			entries := f.Entries()
			keys := make([]uint64, 0, len(entries))
			for k := range entries {
				keys = append(keys, k)
			}
			sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

			if asJSON {
				out := make(map[string]string, len(entries))
				for _, k := range keys {
					out[keyString(k, names)] = entries[k]
				}
				data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(out, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if f.HasFontConfig {
				fmt.Printf("font config: %s\n", f.FontConfig)
			}
			for _, k := range keys {
				fmt.Printf("%s %s\n", keyString(k, names), entries[k])
			}
			return nil
		},
	}
}

func keyString(k uint64, names *hashtable.HashFile) string {
	if names != nil {
		if s, ok := names.Get(k); ok {
			return s
		}
	}
	return fmt.Sprintf("{%010x}", k)
}
