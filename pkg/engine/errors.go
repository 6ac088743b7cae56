package engine

import "errors"

var (
	// ErrContextExceeded reports that priming or generation would
	// overflow the backend's context window. Always fatal.
	ErrContextExceeded = errors.New("context size exceeded")

	// ErrNoCache reports that the configured engine keeps no persistent
	// decode state, so cache operations are unavailable.
	ErrNoCache = errors.New("engine does not support caching")
)
