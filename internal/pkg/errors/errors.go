package errors

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalid           = errors.New("invalid")
	ErrConflict          = errors.New("conflict")
	ErrTooMany           = errors.New("too many requests")
	ErrInternal          = errors.New("internal")
	ErrIngestRunning     = errors.New("ingest already running")
	ErrIndexEmpty        = errors.New("index is empty")
	ErrUnsupportedScheme = errors.New("unsupported root url scheme")
	ErrSourceUnreachable = errors.New("source unreachable")
	ErrEmbedderDim       = errors.New("embedding dimension mismatch")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsIngestRunning(err error) bool {
	return errors.Is(err, ErrIngestRunning)
}
