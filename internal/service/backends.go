package service

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/classpilot/aihub-go/internal/domain"
	"github.com/classpilot/aihub-go/internal/infra/transport"
)

// ChunkFunc receives raw stream chunks as the backend produces them.
type ChunkFunc func(text string, tokens int) error

// InvokeResult carries the answer plus per-call telemetry the store needs.
type InvokeResult struct {
	Answer  *domain.AgentAnswer
	Retries int // transport-level attempts beyond the first
}

// Backend is the strategy interface over the mock and real AI backends.
// The orchestrator picks an implementation per request from the rollout
// controller's mode; there is no runtime type inspection.
type Backend interface {
	Name() string
	Invoke(ctx context.Context, req *domain.AgentRequest) (InvokeResult, error)
	InvokeStream(ctx context.Context, req *domain.AgentRequest, onChunk ChunkFunc) (InvokeResult, error)
}

// ---------------------------------------------------------------
// Real backend: HTTP calls through the transport client
// ---------------------------------------------------------------

// RealBackend calls the AI agent service over HTTP.
type RealBackend struct {
	client        *transport.Client
	streamTimeout time.Duration
}

// NewRealBackend wraps the transport client. streamTimeout bounds a whole
// SSE exchange and should be generous (streams outlive request timeouts).
func NewRealBackend(client *transport.Client, streamTimeout time.Duration) *RealBackend {
	return &RealBackend{client: client, streamTimeout: streamTimeout}
}

func (b *RealBackend) Name() string { return "real" }

// Invoke posts the request and unwraps the response envelope.
func (b *RealBackend) Invoke(ctx context.Context, req *domain.AgentRequest) (InvokeResult, error) {
	resp, err := b.client.Do(ctx, transport.RequestConfig{
		Method: "POST",
		Path:   "/v1/chat",
		Body:   req,
	})
	if err != nil {
		return InvokeResult{}, err
	}

	var env domain.Envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return InvokeResult{}, domain.NewRequestError(domain.ErrCodeUnknown, "decode agent response: "+err.Error(), false)
	}
	if !env.Success || env.Data == nil {
		if env.Error != nil {
			return InvokeResult{}, env.Error
		}
		return InvokeResult{}, domain.NewRequestError(domain.ErrCodeUnknown, "agent returned empty envelope", false)
	}
	return InvokeResult{Answer: env.Data, Retries: resp.Meta.Retries}, nil
}

// InvokeStream opens the SSE endpoint and feeds chunks to onChunk until the
// DONE marker. The assembled answer is returned for caching and metrics.
func (b *RealBackend) InvokeStream(ctx context.Context, req *domain.AgentRequest, onChunk ChunkFunc) (InvokeResult, error) {
	streamReq := *req
	streamReq.Stream = true

	resp, err := b.client.Do(ctx, transport.RequestConfig{
		Method:  "POST",
		Path:    "/v1/chat/stream",
		Body:    &streamReq,
		Timeout: b.streamTimeout,
		Stream:  true,
	})
	if err != nil {
		return InvokeResult{}, err
	}
	defer resp.Stream.Close()

	var content strings.Builder
	tokens := 0
	err = transport.ReadEventStream(ctx, resp.Stream, func(text string, n int) error {
		content.WriteString(text)
		tokens += n
		return onChunk(text, n)
	})
	if err != nil {
		return InvokeResult{}, err
	}

	return InvokeResult{
		Answer: &domain.AgentAnswer{
			Answer:     content.String(),
			TokensUsed: tokens,
		},
		Retries: resp.Meta.Retries,
	}, nil
}

// ---------------------------------------------------------------
// Mock backend: deterministic canned answers
// ---------------------------------------------------------------

// cannedAnswers rotate deterministically by query hash so the same prompt
// always gets the same mock reply.
var cannedAnswers = []string{
	"Here's a study plan for that topic: start with the fundamentals, practice two past exam questions, then review your mistakes.",
	"Good question. The key concept to focus on is understanding why the method works, not just the steps. Try explaining it back in your own words.",
	"Based on your recent practice sessions, I'd suggest revisiting the previous unit before moving on. Want a quick summary?",
	"Let's break that down into three parts and work through them one at a time.",
}

// MockBackend serves canned responses with simulated token pacing. Used in
// the preparation phase and as the hybrid fallback.
type MockBackend struct {
	clock      clock.Clock
	chunkDelay time.Duration
}

// NewMockBackend creates the mock. A nil clk uses real time.
func NewMockBackend(clk clock.Clock) *MockBackend {
	if clk == nil {
		clk = clock.New()
	}
	return &MockBackend{clock: clk, chunkDelay: 30 * time.Millisecond}
}

func (b *MockBackend) Name() string { return "mock" }

func (b *MockBackend) pick(query string) string {
	h := fnv.New32a()
	h.Write([]byte(query))
	return cannedAnswers[h.Sum32()%uint32(len(cannedAnswers))]
}

// Invoke returns the canned answer immediately.
func (b *MockBackend) Invoke(ctx context.Context, req *domain.AgentRequest) (InvokeResult, error) {
	if err := ctx.Err(); err != nil {
		return InvokeResult{}, domain.NewRequestError(domain.ErrCodeCancelled, "cancelled", false)
	}
	answer := b.pick(req.Query)
	return InvokeResult{Answer: &domain.AgentAnswer{
		Answer:     answer,
		TokensUsed: len(strings.Fields(answer)),
		Model:      "mock",
		FromMock:   true,
	}}, nil
}

// InvokeStream emits the canned answer word by word, pacing with the clock
// so the UI's streaming path is exercised end to end.
func (b *MockBackend) InvokeStream(ctx context.Context, req *domain.AgentRequest, onChunk ChunkFunc) (InvokeResult, error) {
	answer := b.pick(req.Query)
	words := strings.Fields(answer)

	for i, w := range words {
		select {
		case <-ctx.Done():
			return InvokeResult{}, domain.NewRequestError(domain.ErrCodeCancelled, "cancelled mid-stream", false)
		default:
		}

		chunk := w
		if i < len(words)-1 {
			chunk += " "
		}
		if err := onChunk(chunk, 1); err != nil {
			return InvokeResult{}, err
		}
		b.clock.Sleep(b.chunkDelay)
	}

	return InvokeResult{Answer: &domain.AgentAnswer{
		Answer:     answer,
		TokensUsed: len(words),
		Model:      "mock",
		FromMock:   true,
	}}, nil
}

// disabledErr is returned when no backend may serve a feature.
func disabledErr(feature string) error {
	return &domain.ErrFeatureDisabled{
		Feature: feature,
		Reason:  fmt.Sprintf("backend mode disabled for feature %s", feature),
	}
}
