package ingest

import "errors"

// Request and storage failures. Each maps to one HTTP status in Handler.
var (
	ErrMalformedMetadata = errors.New("invalid JSON in addonData")
	ErrUnauthorized      = errors.New("unauthorized key")
	ErrMissingFile       = errors.New("no file in upload")
	ErrMoveContention    = errors.New("file is still being written")
	ErrDirectoryCreate   = errors.New("cannot create destination directory")
	ErrFilesystem        = errors.New("filesystem error")
)
