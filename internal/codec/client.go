package codec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/worldledger/internal/backend"
	"github.com/danielpatrickdp/worldledger/internal/verify"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region methods
// Full method names of the narrative sidecar. Messages are google.protobuf.Struct
// on both sides, so no generated stubs are needed.
const (
	serviceName     = "worldledger.v1.NarrativeService"
	methodGenerate  = "/" + serviceName + "/Generate"
	methodRisk      = "/" + serviceName + "/EstimateRisk"
	methodNovelty   = "/" + serviceName + "/EstimateNovelty"
	methodEmbed     = "/" + serviceName + "/Embed"
	methodHealth    = "/" + serviceName + "/Health"
	statusServing   = "SERVING"
	defaultDeadline = 30 * time.Second
)

// #endregion methods

// #region client-struct
// CodecClient talks to the narrative sidecar over gRPC.
type CodecClient struct {
	conn         *grpc.ClientConn
	client       grpc.ClientConnInterface
	timeout      time.Duration
	readyTimeout time.Duration
	logger       *zap.Logger
}

var _ backend.Backend = (*CodecClient)(nil)

// #endregion client-struct

// #region constructor
// NewCodecClient connects to the sidecar at config.Address. The connection is
// lazy; call WaitReady before the first step.
func NewCodecClient(config backend.Config, logger *zap.Logger) (*CodecClient, error) {
	if config.Address == "" {
		return nil, errors.New("grpc backend: address is required")
	}
	conn, err := grpc.NewClient(config.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", config.Address, err)
	}
	c := NewCodecClientWithService(conn, config, logger)
	c.conn = conn
	return c, nil
}

// NewCodecClientWithService wraps an existing connection. Used for testing
// without a real gRPC server.
func NewCodecClientWithService(svc grpc.ClientConnInterface, config backend.Config, logger *zap.Logger) *CodecClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultDeadline
	}
	return &CodecClient{
		client:       svc,
		timeout:      timeout,
		readyTimeout: config.ReadyTimeout,
		logger:       logger.Named("codec"),
	}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection if this client owns one.
func (c *CodecClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region invoke
func (c *CodecClient) invoke(ctx context.Context, method string, in any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fields, err := toMap(in)
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	reply := &structpb.Struct{}
	if err := c.client.Invoke(ctx, method, req, reply); err != nil {
		return nil, err
	}
	return reply.AsMap(), nil
}

// toMap round-trips v through JSON so every value is a type structpb accepts.
func toMap(v any) (map[string]any, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	return out, nil
}

// #endregion invoke

// #region wait-ready
// WaitReady polls Health with exponential backoff until the sidecar reports
// SERVING, the ready timeout elapses, or ctx is done.
func (c *CodecClient) WaitReady(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = c.readyTimeout

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		m, err := c.invoke(ctx, methodHealth, map[string]any{"service": serviceName})
		if err != nil {
			c.logger.Debug("sidecar not ready", zap.Int("attempt", attempt), zap.Error(err))
			return fmt.Errorf("health rpc: %w", err)
		}
		if status, _ := m["status"].(string); status != statusServing {
			return fmt.Errorf("health rpc: status %q", status)
		}
		c.logger.Info("sidecar ready", zap.Int("attempts", attempt))
		return nil
	}, backoff.WithContext(bo, ctx))
}

// #endregion wait-ready

// #region generate
// Generate asks the sidecar for one candidate payload.
func (c *CodecClient) Generate(ctx context.Context, req backend.Request) (backend.Payload, error) {
	m, err := c.invoke(ctx, methodGenerate, req)
	if err != nil {
		c.logger.Warn("generate failed", zap.String("directive", string(req.Directive)), zap.Error(err))
		return backend.Payload{}, fmt.Errorf("generate rpc: %w", err)
	}
	return backend.PayloadFromMap(m), nil
}

// #endregion generate

// #region estimators
type judgeRequest struct {
	Challenge world.Challenge `json:"challenge"`
	Candidate world.Candidate `json:"candidate"`
}

// EstimateRisk asks the sidecar for closure, chaos and fragility risk.
func (c *CodecClient) EstimateRisk(ctx context.Context, ch world.Challenge, cand world.Candidate) (verify.Risk, error) {
	m, err := c.invoke(ctx, methodRisk, judgeRequest{Challenge: ch, Candidate: cand})
	if err != nil {
		c.logger.Warn("risk estimate failed", zap.String("candidate", cand.ID), zap.Error(err))
		return verify.Risk{}, fmt.Errorf("estimate risk rpc: %w", err)
	}
	return backend.RiskFromMap(m), nil
}

// EstimateNovelty asks the sidecar how much the candidate progresses the world.
func (c *CodecClient) EstimateNovelty(ctx context.Context, ch world.Challenge, cand world.Candidate) (float64, error) {
	m, err := c.invoke(ctx, methodNovelty, judgeRequest{Challenge: ch, Candidate: cand})
	if err != nil {
		c.logger.Warn("novelty estimate failed", zap.String("candidate", cand.ID), zap.Error(err))
		return 0, fmt.Errorf("estimate novelty rpc: %w", err)
	}
	return backend.NoveltyFromMap(m), nil
}

// #endregion estimators

// #region embed
// Embed sends text to the sidecar for embedding. An empty vector means the
// sidecar has no embedding model loaded.
func (c *CodecClient) Embed(ctx context.Context, text string) ([]float32, error) {
	m, err := c.invoke(ctx, methodEmbed, map[string]any{"text": text})
	if err != nil {
		return nil, fmt.Errorf("embed rpc: %w", err)
	}
	raw, _ := m["embedding"].([]any)
	if len(raw) == 0 {
		return nil, backend.ErrDisabled
	}
	out := make([]float32, 0, len(raw))
	for i, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("embed rpc: element %d is %T", i, v)
		}
		out = append(out, float32(f))
	}
	return out, nil
}

// #endregion embed
