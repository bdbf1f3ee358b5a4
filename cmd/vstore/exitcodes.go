package main

import (
	"errors"

	"github.com/matsen/vstore/internal/config"
	"github.com/matsen/vstore/internal/export"
	"github.com/matsen/vstore/internal/fetch"
	"github.com/matsen/vstore/internal/filedb"
)

// Exit codes
const (
	ExitSuccess      = 0 // Success
	ExitError        = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError  = 2 // Configuration error (missing base path, invalid options)
	ExitDataError    = 3 // Data error (type mismatch, corrupt metadata, malformed input)
	ExitNotFound     = 4 // Table or version not found
	ExitNoSpace      = 5 // Not enough free disk space
	ExitVerifyFailed = 6 // verify found problems
	ExitFetchError   = 7 // Remote fetch failed
)

// exitCodeFor maps an error onto an exit code.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, filedb.ErrConfiguration), errors.Is(err, filedb.ErrNotVersionedMode),
		errors.Is(err, config.ErrBasePathNotConfigured), errors.Is(err, export.ErrReservedTable):
		return ExitConfigError
	case errors.Is(err, filedb.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, filedb.ErrInsufficientSpace):
		return ExitNoSpace
	case errors.Is(err, filedb.ErrDataTypeMismatch), errors.Is(err, filedb.ErrCorruptMetadata),
		errors.Is(err, export.ErrNotArray):
		return ExitDataError
	case errors.Is(err, fetch.ErrNetworkError), errors.Is(err, fetch.ErrRateLimited),
		fetch.IsNotFound(err), fetch.IsAuthError(err), errors.Is(err, fetch.ErrInvalidResponse):
		return ExitFetchError
	default:
		return ExitError
	}
}
