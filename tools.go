package main

import (
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/communitydragon/cdtb/binfile"
	"github.com/communitydragon/cdtb/hashtable"
)

func isAnyOf(s string, anyOf ...string) bool {
	return slices.Contains(anyOf, s)
}

func isDirectory(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// exists checks whether a file or directory exists.
func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		// file does not exist
		return false, nil
	}
	// other error
	return false, err
}

// openRegistry builds a hash registry rooted at dir, defaulting to the
// relative "hashes" directory inside the working directory.
func openRegistry(dir string) *hashtable.Registry {
	if dir == "" {
		dir = "hashes"
	}
	return hashtable.NewRegistry(dir)
}

// loadHashFile loads one family's table, tolerating a missing file.
func loadHashFile(reg *hashtable.Registry, fam hashtable.Family) (*hashtable.HashFile, error) {
	hf := reg.File(fam)
	if err := hf.Load(); err != nil {
		return nil, err
	}
	return hf, nil
}

// parseBtypeVersion converts a "major.minor" patch version string into
// the btype version used for tag remapping (major*100+minor). An empty
// string selects the latest remapping.
func parseBtypeVersion(s string) (int, error) {
	if s == "" {
		return binfile.DefaultBtypeVersion, nil
	}
	major, minor, found := strings.Cut(s, ".")
	if !found {
		return 0, usageErrorf("invalid patch version %q, want MAJOR.MINOR", s)
	}
	maj, err := strconv.Atoi(major)
	if err != nil {
		return 0, usageErrorf("invalid patch version %q: %v", s, err)
	}
	min, err := strconv.Atoi(minor)
	if err != nil {
		return 0, usageErrorf("invalid patch version %q: %v", s, err)
	}
	return maj*100 + min, nil
}
