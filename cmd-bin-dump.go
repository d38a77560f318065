package main

import (
	"fmt"
	"os"

	"github.com/davecgh/go-spew/spew"
	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli/v2"

	"github.com/communitydragon/cdtb/binfile"
	"github.com/communitydragon/cdtb/hashtable"
)

func newCmd_BinDump() *cli.Command {
	var (
		patchVersion string
		hashDir      string
		asJSON       bool
		strict       bool
	)
	return &cli.Command{
		Name:        "bin-dump",
		Usage:       "Parse a PROP/PTCH property binary and dump its entries.",
		ArgsUsage:   "<bin-file>",
		Description: "Hashes resolve to names through the hash tables; unknown hashes print as {<hex>}. The patch version selects the wire-tag remapping of old files.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "patch-version",
				Aliases:     []string{"V"},
				Usage:       "patch version the file shipped with (MAJOR.MINOR)",
				Destination: &patchVersion,
			},
			&cli.StringFlag{
				Name:        "hashes",
				Usage:       "directory holding the hash tables",
				Destination: &hashDir,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "dump as JSON instead of a debug listing",
				Destination: &asJSON,
			},
			&cli.BoolFlag{
				Name:        "strict",
				Usage:       "reject trailing bytes after the last entry",
				Destination: &strict,
			},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return usageErrorf("exactly one bin file is required")
			}
			btypeVersion, err := parseBtypeVersion(patchVersion)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(c.Args().First())
			if err != nil {
				return err
			}
			f, err := binfile.Parse(data, &binfile.Options{
				BtypeVersion: btypeVersion,
				Strict:       strict,
			})
			if err != nil {
				return err
			}

			reg := openRegistry(hashDir)
			res := &binfile.Resolvers{}
			if entries, err := loadHashFile(reg, hashtable.FamilyBinEntries); err == nil {
				res.Entries = entries
			}
			if types, err := loadHashFile(reg, hashtable.FamilyBinTypes); err == nil {
				res.Types = types
			}
			if fields, err := loadHashFile(reg, hashtable.FamilyBinFields); err == nil {
				res.Fields = fields
			}
			if hashes, err := loadHashFile(reg, hashtable.FamilyBinHashes); err == nil {
				res.Hashes = hashes
			}
			if paths, err := loadHashFile(reg, hashtable.FamilyGame); err == nil {
				res.Paths = paths
			}

			serialized := f.ToSerializable(res)
			if asJSON {
				out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(serialized, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
			} else {
				spew.Dump(serialized)
			}
			return nil
		},
	}
}
