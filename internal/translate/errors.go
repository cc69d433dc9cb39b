package translate

import (
	"errors"
	"fmt"
)

var (
	// ErrTranslation means a chunk could not be translated after all retries.
	ErrTranslation = errors.New("translation failed")
	// ErrTimeout means the job exceeded its wall-clock budget.
	ErrTimeout = errors.New("translation time budget exceeded")
	// ErrNoText means the document has nothing to send to the provider, for
	// example a scan without a text layer.
	ErrNoText = fmt.Errorf("%w: document has no translatable text", ErrTranslation)
)

// ChunkError identifies the chunk whose final attempt failed.
// Index is 0-based; the message uses 1-based numbering.
type ChunkError struct {
	Index int
	Total int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("%s: chunk %d/%d: %v", ErrTranslation, e.Index+1, e.Total, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTranslation) hold for every ChunkError.
func (e *ChunkError) Is(target error) bool { return target == ErrTranslation }
