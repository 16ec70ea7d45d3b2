package domain

import (
	"context"
	"time"
)

// FileInfo identifies one downloadable file of one model run. Values are
// produced by a source's listing and never modified afterwards; each source
// carries its own locator (URL, object key, file id) alongside.
type FileInfo interface {
	// Filename is the name the file is stored under in the raw store. It is
	// stable for a given remote file so repeated downloads land on the same path.
	Filename() string

	// InitTime is the init time of the model run the file belongs to.
	InitTime() time.Time
}

// Field is one decoded 2D message from a raw file.
type Field struct {
	Name     string        // source short name, e.g. "10si" or "temperature"
	Level    string        // "<surface type>:<value>", empty when unknown
	InitTime time.Time     // zero when the file carries no reference time
	Step     time.Duration // forecast lead time
	Values   []float32     // flattened grid in the decoder's scan order
}

// Decoder parses a raw file on local disk into its fields.
type Decoder interface {
	Decode(ctx context.Context, path string) ([]Field, error)
}
