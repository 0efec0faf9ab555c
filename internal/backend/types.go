package backend

import (
	"context"
	"errors"
	"time"

	"github.com/danielpatrickdp/worldledger/internal/similarity"
	"github.com/danielpatrickdp/worldledger/internal/verify"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region kinds

// Backend kinds selectable at startup.
const (
	KindNone   = "none"
	KindOpenAI = "openai"
	KindGRPC   = "grpc"
)

// ErrDisabled is returned by an operation the configured backend does not offer.
var ErrDisabled = errors.New("backend capability disabled")

// #endregion kinds

// #region request-response

// Request is what a producer asks an external generator for.
type Request struct {
	Directive    world.Directive  `json:"directive"`
	Projection   string           `json:"projection"`
	Difficulty   world.Difficulty `json:"difficulty"`
	Style        string           `json:"style"`
	ExpectedType world.FactType   `json:"expected_fact_type,omitempty"`
	RecentFacts  []world.FactRef  `json:"recent_facts"`
	Anchors      []world.FactRef  `json:"anchors"`
	Language     string           `json:"language"`
	Temperature  float64          `json:"temperature"`
	MaxTokens    int              `json:"max_tokens"`
}

// Payload is a generator's structured answer. Fact stays loosely typed so
// the producer can decode and salvage it through the fact validator.
type Payload struct {
	Artifact        string                `json:"artifact"`
	Bundle          world.NarrativeBundle `json:"bundle"`
	Fact            map[string]any        `json:"fact"`
	WhatChanged     string                `json:"what_changed"`
	TensionProgress float64               `json:"tension_progress"`
}

// #endregion request-response

// #region interfaces

// Generator produces candidate payloads.
type Generator interface {
	Generate(ctx context.Context, req Request) (Payload, error)
}

// Backend is the full external collaborator: generation, risk and novelty
// estimation, and embeddings.
type Backend interface {
	Generator
	verify.RiskEstimator
	verify.NoveltyEstimator
	similarity.Embedder
	Close() error
}

// #endregion interfaces

// #region config

// Config selects and tunes the external backend.
type Config struct {
	Kind              string        `yaml:"kind" mapstructure:"kind" validate:"oneof=none openai grpc"`
	Model             string        `yaml:"model" mapstructure:"model"`
	EmbeddingModel    string        `yaml:"embedding_model" mapstructure:"embedding_model"`
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey            string        `yaml:"-" mapstructure:"api_key"`
	Address           string        `yaml:"address" mapstructure:"address"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
	ReadyTimeout      time.Duration `yaml:"ready_timeout" mapstructure:"ready_timeout" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int           `yaml:"burst" mapstructure:"burst" validate:"gte=0"`
	Language          string        `yaml:"language" mapstructure:"language"`
	Temperature       float64       `yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens         int           `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gte=0"`
	AppName           string        `yaml:"app_name" mapstructure:"app_name"`
	SiteURL           string        `yaml:"site_url" mapstructure:"site_url"`
}

// DefaultConfig returns a disabled backend with OpenRouter-compatible defaults.
func DefaultConfig() Config {
	return Config{
		Kind:              KindNone,
		BaseURL:           "https://openrouter.ai/api/v1",
		Timeout:           30 * time.Second,
		ReadyTimeout:      20 * time.Second,
		RequestsPerSecond: 2,
		Burst:             4,
		Language:          "english",
		Temperature:       0.7,
		MaxTokens:         900,
		AppName:           "worldledger",
		SiteURL:           "http://localhost",
	}
}

// Enabled reports whether a backend should be constructed at all.
func (c Config) Enabled() bool {
	switch c.Kind {
	case KindOpenAI:
		return c.Model != "" && c.APIKey != ""
	case KindGRPC:
		return c.Address != ""
	}
	return false
}

// #endregion config
