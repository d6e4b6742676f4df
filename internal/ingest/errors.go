package ingest

import "errors"

var (
	// ErrMissingFilename is returned when an upload has no filename.
	ErrMissingFilename = errors.New("filename is required")

	// ErrUnsupportedType is returned for file extensions outside the allow list.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrTooLarge is returned when an upload exceeds the size limit.
	ErrTooLarge = errors.New("file too large")

	// ErrEmptyDocument is returned when a file has no extractable text.
	ErrEmptyDocument = errors.New("document has no text")

	// ErrNotText is returned when file content is not valid UTF-8.
	ErrNotText = errors.New("file is not valid UTF-8 text")

	// ErrNothingIndexed is returned when no passage of a document could be stored.
	ErrNothingIndexed = errors.New("no passages could be indexed")

	// ErrTaskNotFound is returned for an unknown document id.
	ErrTaskNotFound = errors.New("ingestion task not found")
)
