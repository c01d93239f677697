// Package provider abstracts text-generation backends behind a single
// interface. Implementations live in subpackages (anthropic, ollama) and are
// looked up by name through a Registry.
package provider

import (
	"context"
	"time"

	"github.com/devflow-ai/devflow/pkg/cost"
	"github.com/devflow-ai/devflow/pkg/models"
)

// FinishReason reports why a generation stopped.
type FinishReason string

const (
	// FinishStop means the model completed its response naturally or hit a
	// stop sequence.
	FinishStop FinishReason = "stop"
	// FinishLength means the response was cut off at the max-token limit.
	FinishLength FinishReason = "length"
	// FinishError means the backend reported an abnormal stop.
	FinishError FinishReason = "error"
)

// Options controls a single generation call. Model and MaxTokens fall back to
// provider defaults when unset; Temperature is used verbatim.
type Options struct {
	Model         string        `json:"model,omitempty"`
	Temperature   float64       `json:"temperature"`
	MaxTokens     int           `json:"max_tokens,omitempty"`
	StopSequences []string      `json:"stop_sequences,omitempty"`
	SystemPrompt  string        `json:"system_prompt,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
}

// Validate checks option ranges after provider defaults have been applied.
func (o Options) Validate() error {
	if o.Temperature < 0 || o.Temperature > 2 {
		return models.Ef(models.ErrorValidation, "temperature %v out of range [0, 2]", o.Temperature)
	}
	if o.MaxTokens <= 0 {
		return models.Ef(models.ErrorValidation, "max_tokens must be positive, got %d", o.MaxTokens)
	}
	if o.Timeout < 0 {
		return models.Ef(models.ErrorValidation, "timeout must not be negative, got %s", o.Timeout)
	}
	return nil
}

// Normalized fills unset Model and MaxTokens with the given provider defaults
// and validates the result.
func (o Options) Normalized(defaultModel string, defaultMaxTokens int) (Options, error) {
	if o.Model == "" {
		o.Model = defaultModel
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = defaultMaxTokens
	}
	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}

// Result is the outcome of a non-streaming generation.
type Result struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	TokensIn     int64         `json:"tokens_in"`
	TokensOut    int64         `json:"tokens_out"`
	FinishReason FinishReason  `json:"finish_reason"`
	Duration     time.Duration `json:"duration"`
}

// Tokens returns the combined input and output token count.
func (r *Result) Tokens() int64 {
	return r.TokensIn + r.TokensOut
}

// StreamChunk is one element of a streaming generation. Content chunks arrive
// first; the final chunk has Done set and carries the usage totals. Err is set
// instead of Done when the stream fails midway.
type StreamChunk struct {
	Content   string `json:"content"`
	Done      bool   `json:"done"`
	TokensIn  int64  `json:"tokens_in,omitempty"`
	TokensOut int64  `json:"tokens_out,omitempty"`
	Err       error  `json:"-"`
}

// Health is the result of a provider health probe.
type Health struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// ModelInfo describes one model a provider can serve.
type ModelInfo struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Local    bool   `json:"local"`
}

// Provider is the text-generation backend contract. Generate and
// GenerateStream must honor context cancellation; GenerateStream returns a
// channel that is closed after the final chunk.
type Provider interface {
	// Name identifies the provider in the registry and in mode configs.
	Name() string
	// Generate produces a complete response for the prompt.
	Generate(ctx context.Context, prompt string, opts Options) (*Result, error)
	// GenerateStream produces the response incrementally.
	GenerateStream(ctx context.Context, prompt string, opts Options) (<-chan StreamChunk, error)
	// ListModels reports the models this provider can serve.
	ListModels(ctx context.Context) ([]ModelInfo, error)
	// HealthCheck probes the backend.
	HealthCheck(ctx context.Context) Health
	// EstimateCost prices a hypothetical call against the given model, or the
	// provider default when model is empty.
	EstimateCost(tokensIn, tokensOut int64, model string) cost.Cost
}
