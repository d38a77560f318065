package main

import (
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/communitydragon/cdtb/binfile"
	"github.com/communitydragon/cdtb/wadarchive"
)

func TestParseBtypeVersion(t *testing.T) {
	v, err := parseBtypeVersion("")
	require.NoError(t, err)
	require.Equal(t, binfile.DefaultBtypeVersion, v)

	v, err = parseBtypeVersion("10.8")
	require.NoError(t, err)
	require.Equal(t, 1008, v)

	v, err = parseBtypeVersion("9.23")
	require.NoError(t, err)
	require.Equal(t, 923, v)

	_, err = parseBtypeVersion("10")
	require.Error(t, err)
	require.Equal(t, exitUsage, exitCode(err))

	_, err = parseBtypeVersion("x.y")
	require.Error(t, err)
}

func TestExitCode(t *testing.T) {
	require.Equal(t, 0, exitCode(nil))
	require.Equal(t, exitUsage, exitCode(usageErrorf("bad args")))
	require.Equal(t, exitFormat, exitCode(wadarchive.ErrBadMagic))
	require.Equal(t, exitFormat, exitCode(fmt.Errorf("context: %w", binfile.ErrUnknownTypeTag)))
	require.Equal(t, exitIO, exitCode(&fs.PathError{Op: "open", Path: "x", Err: fs.ErrNotExist}))
	require.Equal(t, 1, exitCode(fmt.Errorf("other")))
}
