package similarity

import "context"

// #region embedder-interface

// Embedder abstracts the embedding backend so the service can be tested without a network.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// #endregion embedder-interface

// #region config

// Config holds blend weights for the embedding path.
type Config struct {
	EmbeddingWeight float64 `yaml:"embedding_weight" validate:"gte=0,lte=1"`
	CacheLimit      int     `yaml:"cache_limit" validate:"gte=0"`
}

// DefaultConfig returns the 0.75 embedding / 0.25 lexical blend.
func DefaultConfig() Config {
	return Config{
		EmbeddingWeight: 0.75,
		CacheLimit:      4096,
	}
}

// #endregion config
