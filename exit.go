package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/communitydragon/cdtb/binfile"
	"github.com/communitydragon/cdtb/rstfile"
	"github.com/communitydragon/cdtb/wadarchive"
)

// Exit codes: 0 ok, 2 usage error, 3 format error, 4 I/O error.
const (
	exitUsage  = 2
	exitFormat = 3
	exitIO     = 4
)

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

var formatErrors = []error{
	wadarchive.ErrBadMagic,
	wadarchive.ErrUnsupportedVersion,
	wadarchive.ErrTruncated,
	wadarchive.ErrIndexOutOfBounds,
	wadarchive.ErrUnknownEntryType,
	wadarchive.ErrMalformedEntry,
	wadarchive.ErrDecompressionFailed,
	wadarchive.ErrChecksumMismatch,
	wadarchive.ErrInvalidPath,
	binfile.ErrBadMagic,
	binfile.ErrUnsupportedVersion,
	binfile.ErrEntryLengthMismatch,
	binfile.ErrUnknownTypeTag,
	binfile.ErrMapKeyNotHashable,
	binfile.ErrTruncatedPayload,
	binfile.ErrMalformedValue,
	binfile.ErrTrailingData,
	rstfile.ErrBadMagic,
	rstfile.ErrUnsupportedVersion,
	rstfile.ErrTruncated,
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var usage usageError
	if errors.As(err, &usage) {
		return exitUsage
	}
	for _, sentinel := range formatErrors {
		if errors.Is(err, sentinel) {
			return exitFormat
		}
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return exitIO
	}
	return 1
}
