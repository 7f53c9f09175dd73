package driven

import "context"

// EmbedMode selects the encoder behaviour. The embedding model is
// asymmetric: queries and passages are encoded differently and the two
// modes are not interchangeable.
type EmbedMode string

const (
	EmbedModeQuery   EmbedMode = "query"
	EmbedModePassage EmbedMode = "passage"
)

// EmbeddingService generates text embeddings.
// The client itself never retries; retry accounting belongs to the callers
// so the attempt budget lives in one place.
type EmbeddingService interface {
	// Embed generates an embedding for the given text in the given mode.
	// Returns ErrInvalidInput for text that is empty after trimming, and
	// ErrEmbeddingUnavailable for transport or response failures.
	Embed(ctx context.Context, text string, mode EmbedMode) ([]float32, error)

	// Dimensions returns the embedding dimension size
	Dimensions() int

	// HealthCheck verifies the embedding service is available
	HealthCheck(ctx context.Context) error

	// Close releases resources held by the embedding service
	Close() error
}
