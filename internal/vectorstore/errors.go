package vectorstore

import "errors"

// Sentinel errors for store and engine operations.
var (
	// ErrMissingSession is returned when a Personal scope is requested without a session id.
	ErrMissingSession = errors.New("personal scope requires a session id")

	// ErrInvalidScope indicates an unknown or zero-value scope.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrEmptyQuery is returned for a blank search query.
	ErrEmptyQuery = errors.New("query must not be empty")

	// ErrEmptyContent marks a passage with no text.
	ErrEmptyContent = errors.New("passage content is empty")

	// ErrDimensionMismatch marks a vector whose length differs from the store dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrZeroVector marks a vector with zero magnitude, which has no direction to compare.
	ErrZeroVector = errors.New("embedding has zero magnitude")

	// ErrPersistence wraps failures of the durable backend. In-memory state has
	// already been updated when it is returned.
	ErrPersistence = errors.New("persistence failed")
)
