package domain

import "errors"

// Error classes shared by sources, sinks and the pipeline. Adapters wrap the
// underlying cause with one of these so the pipeline can decide whether an
// error is scoped to a file, an init time, or the whole run.
var (
	// ErrConfig reports missing credentials or an unknown source or sink.
	ErrConfig = errors.New("configuration error")

	// ErrSourceUnavailable reports an upstream that could not be reached or
	// rejected the request (auth failure, quota, server error).
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrNotPublished reports data that does not exist upstream yet.
	ErrNotPublished = errors.New("not yet published")

	// ErrDimensionMismatch reports datasets that do not align on their
	// non-merge dimensions, or conflicting values for the same cell.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrAlreadyExists reports an attempt to save over an existing store.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotExist reports an attempt to read or append to a missing store.
	ErrNotExist = errors.New("does not exist")

	// ErrSinkUnavailable reports a sink that cannot be reached. It is fatal
	// to the whole run.
	ErrSinkUnavailable = errors.New("sink unavailable")
)
