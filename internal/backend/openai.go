package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/danielpatrickdp/worldledger/internal/verify"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region client

// OpenAI talks to any OpenAI-compatible chat endpoint (OpenRouter by
// default). Every call gets one attempt under the configured timeout.
type OpenAI struct {
	client  *openai.Client
	config  Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ Backend = (*OpenAI)(nil)

// NewOpenAI builds the client. It fails when the model or key is missing.
func NewOpenAI(config Config, logger *zap.Logger) (*OpenAI, error) {
	if config.Model == "" || config.APIKey == "" {
		return nil, fmt.Errorf("openai backend: model and api key are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	oc := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		oc.BaseURL = config.BaseURL
	}
	oc.HTTPClient = &http.Client{
		Timeout:   config.Timeout,
		Transport: headerTransport{base: http.DefaultTransport, referer: config.SiteURL, title: config.AppName},
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	burst := config.Burst
	if burst < 1 {
		burst = 1
	}
	logger.Named("backend").Info("openai backend ready", zap.String("model", config.Model), zap.String("base_url", oc.BaseURL))
	return &OpenAI{
		client:  openai.NewClientWithConfig(oc),
		config:  config,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("backend"),
	}, nil
}

// Close is a no-op; the HTTP client holds no dedicated resources.
func (o *OpenAI) Close() error { return nil }

// headerTransport adds the attribution headers OpenRouter asks for.
type headerTransport struct {
	base    http.RoundTripper
	referer string
	title   string
}

func (t headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	if t.referer != "" {
		r.Header.Set("HTTP-Referer", t.referer)
	}
	if t.title != "" {
		r.Header.Set("X-Title", t.title)
	}
	return t.base.RoundTrip(r)
}

// #endregion client

// #region chat

func (o *OpenAI) chatJSON(ctx context.Context, system, user string, temperature float64, maxTokens int) (map[string]any, error) {
	if o.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.Timeout)
		defer cancel()
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature:    float32(temperature),
		MaxTokens:      maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion: no choices")
	}
	return ParseObject(resp.Choices[0].Message.Content)
}

// #endregion chat

// #region generate

// Generate asks the model for one candidate payload.
func (o *OpenAI) Generate(ctx context.Context, req Request) (Payload, error) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = o.config.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = o.config.MaxTokens
	}
	if req.Language == "" {
		req.Language = o.config.Language
	}
	m, err := o.chatJSON(ctx, generateSystem, generatePrompt(req), temperature, maxTokens)
	if err != nil {
		o.logger.Warn("generate failed", zap.String("directive", string(req.Directive)), zap.Error(err))
		return Payload{}, err
	}
	return PayloadFromMap(m), nil
}

// #endregion generate

// #region estimators

// EstimateRisk asks the model for closure, chaos and fragility risk.
func (o *OpenAI) EstimateRisk(ctx context.Context, ch world.Challenge, cand world.Candidate) (verify.Risk, error) {
	m, err := o.chatJSON(ctx, riskSystem, riskPrompt(ch, cand), 0, 280)
	if err != nil {
		o.logger.Warn("risk estimate failed", zap.String("candidate", cand.ID), zap.Error(err))
		return verify.Risk{}, err
	}
	return RiskFromMap(m), nil
}

// EstimateNovelty asks the model how much the candidate progresses the world.
func (o *OpenAI) EstimateNovelty(ctx context.Context, ch world.Challenge, cand world.Candidate) (float64, error) {
	m, err := o.chatJSON(ctx, noveltySystem, noveltyPrompt(ch, cand), 0, 220)
	if err != nil {
		o.logger.Warn("novelty estimate failed", zap.String("candidate", cand.ID), zap.Error(err))
		return 0, err
	}
	return NoveltyFromMap(m), nil
}

// #endregion estimators

// #region embed

// Embed returns an embedding for text. Without an embedding model it
// returns ErrDisabled and callers stay lexical.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if o.config.EmbeddingModel == "" {
		return nil, ErrDisabled
	}
	if o.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.Timeout)
		defer cancel()
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.config.EmbeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("create embeddings: empty response")
	}
	return resp.Data[0].Embedding, nil
}

// #endregion embed
