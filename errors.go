package askdocs

import "errors"

var (
	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("askdocs: document not found")

	// ErrUnsupportedFormat is returned for unrecognized file formats at
	// upload time.
	ErrUnsupportedFormat = errors.New("askdocs: unsupported file format")

	// ErrAlreadyProcessing is returned when an ingestion run is refused
	// because another worker holds the document.
	ErrAlreadyProcessing = errors.New("askdocs: document is already being processed")

	// ErrInvalidInput is returned for bad arguments at public entry points.
	ErrInvalidInput = errors.New("askdocs: invalid input")

	// ErrFileTooLarge is returned when an upload exceeds the configured cap.
	ErrFileTooLarge = errors.New("askdocs: file exceeds maximum upload size")
)
