package similarity

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region service

// Service scores text similarity in [0,1]. Safe for concurrent use.
type Service struct {
	embedder Embedder
	config   Config
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[string][]float32
}

// New creates a Service. embedder may be nil (lexical only).
func New(embedder Embedder, config Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		embedder: embedder,
		config:   config,
		logger:   logger.Named("similarity"),
		cache:    make(map[string][]float32),
	}
}

// Lexical returns a Service without an embedding backend.
func Lexical() *Service {
	return New(nil, DefaultConfig(), nil)
}

// #endregion service

// #region similarity

// Similarity blends embedding cosine with token Jaccard when an embedder is
// configured, and falls back to Jaccard alone on any embedding failure.
func (s *Service) Similarity(ctx context.Context, a, b string) float64 {
	ta, tb := Tokenize(a), Tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	lexical := jaccard(ta, tb)
	if s == nil || s.embedder == nil {
		return lexical
	}
	ea, err := s.embed(ctx, a)
	if err != nil {
		return lexical
	}
	eb, err := s.embed(ctx, b)
	if err != nil {
		return lexical
	}
	if len(ea) != len(eb) {
		return lexical
	}
	cos := cosineSimilarity(ea, eb)
	if math.IsNaN(cos) {
		return lexical
	}
	rescaled := world.Clamp01((cos + 1) / 2)
	w := s.config.EmbeddingWeight
	return world.Clamp01(w*rescaled + (1-w)*lexical)
}

// Max returns the highest similarity between text and any of others.
func (s *Service) Max(ctx context.Context, text string, others []string) float64 {
	best := 0.0
	for _, o := range others {
		if v := s.Similarity(ctx, text, o); v > best {
			best = v
		}
	}
	return best
}

// LexicalSimilarity is the token-set Jaccard baseline.
func LexicalSimilarity(a, b string) float64 {
	ta, tb := Tokenize(a), Tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	return jaccard(ta, tb)
}

// #endregion similarity

// #region embed

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	if v, ok := s.cache[text]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	v, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.Debug("embedding failed, using lexical similarity", zap.Error(err))
		return nil, err
	}
	if len(v) == 0 {
		return nil, errEmptyEmbedding
	}

	s.mu.Lock()
	if s.config.CacheLimit > 0 {
		if len(s.cache) >= s.config.CacheLimit {
			s.cache = make(map[string][]float32)
		}
		s.cache[text] = v
	}
	s.mu.Unlock()
	return v, nil
}

// #endregion embed

// #region helpers

var errEmptyEmbedding = errors.New("empty embedding")

// Tokenize lowercases text and splits it into letter/digit runs.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// jaccard computes |A∩B| / |A∪B| over token sets.
func jaccard(a, b []string) float64 {
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}
	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// cosineSimilarity computes cosine similarity between two vectors.
// Returns 0 for zero-length or mismatched vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// #endregion helpers
