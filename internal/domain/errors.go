package domain

import "errors"

// ErrNotFound indicates a local file that does not exist yet.
// Callers treat it as "not yet verified", not as a failure.
var ErrNotFound = errors.New("file not found")

// ErrIntegrity indicates a checksum mismatch after a completed transfer
var ErrIntegrity = errors.New("checksum mismatch")

// ErrTransferIO indicates a local or stream I/O fault while moving bytes.
// The partial file is left on disk for the next attempt to resume.
var ErrTransferIO = errors.New("transfer i/o error")

// ErrMalformedManifest indicates a sound-def.json that could not be parsed
var ErrMalformedManifest = errors.New("malformed manifest")

// ErrUnsafeFilename indicates a manifest filename that is not a single local path element
var ErrUnsafeFilename = errors.New("unsafe filename")

// ErrAlreadyRunning indicates another task already owns this filename
var ErrAlreadyRunning = errors.New("download already running")
