package domain

import "errors"

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid.
	// Never retried: an invalid document or query stays invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmbeddingUnavailable indicates the embedding service could not
	// produce a vector (unreachable, non-2xx, or malformed response).
	// Transient: retried with backoff up to the attempt cap.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrVectorStoreUnavailable indicates the vector store could not be
	// reached or rejected the request with a server error.
	// Transient: same retry policy as ErrEmbeddingUnavailable.
	ErrVectorStoreUnavailable = errors.New("vector store unavailable")

	// ErrConfigMismatch indicates an existing collection's dimensionality
	// conflicts with the configured vector size. Fatal: continuing would
	// silently corrupt the index.
	ErrConfigMismatch = errors.New("collection configuration mismatch")

	// ErrDimensionMismatch indicates a vector's length does not match the
	// collection's configured size. The write is rejected, not truncated.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// IsTransient reports whether err should be retried with backoff.
// Everything else is either permanent (invalid input) or fatal.
func IsTransient(err error) bool {
	return errors.Is(err, ErrEmbeddingUnavailable) || errors.Is(err, ErrVectorStoreUnavailable)
}
