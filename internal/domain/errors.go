package domain

import "errors"

// ErrTransientNetwork marks a connection fault or timeout on a single attempt
var ErrTransientNetwork = errors.New("transient network failure")

// ErrRateLimited indicates a 429 from the host
var ErrRateLimited = errors.New("rate limited")

// ErrForbidden indicates a 403 from the host
var ErrForbidden = errors.New("forbidden")

// ErrServerError indicates a 5xx from the host
var ErrServerError = errors.New("server error")

// ErrPermanentFetch is returned once the retry budget is gone
var ErrPermanentFetch = errors.New("fetch failed permanently")

// ErrManifestStructure aborts a single variant (no key directive, no segments)
var ErrManifestStructure = errors.New("invalid manifest structure")

// ErrDecryption drops a single segment
var ErrDecryption = errors.New("segment decryption failed")

// ErrFilesystem wraps write/delete failures
var ErrFilesystem = errors.New("filesystem error")

// ErrCheckpointSave is fatal to the job
var ErrCheckpointSave = errors.New("checkpoint save failed")

// ErrCorruptCheckpoint means the persisted state could not be parsed
var ErrCorruptCheckpoint = errors.New("corrupt checkpoint")
