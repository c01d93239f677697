// Package anthropic implements the provider contract on top of the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/devflow-ai/devflow/pkg/cost"
	"github.com/devflow-ai/devflow/pkg/models"
	"github.com/devflow-ai/devflow/pkg/provider"
)

// Name is the registry name of this provider.
const Name = "anthropic"

// DefaultModel is used when a call does not name a model.
const DefaultModel = "claude-3-5-sonnet-20241022"

// DefaultMaxTokens caps responses when a call does not set a budget.
const DefaultMaxTokens = 4096

// healthCheckModel keeps the health probe on the cheapest model.
const healthCheckModel = "claude-3-5-haiku-20241022"

type pricing struct {
	in  cost.Cost
	out cost.Cost
}

// Prices are per 1K tokens.
var claudePricing = map[string]pricing{
	"claude-opus-4-5-20251101":   {in: cost.MustParseUSD("0.015"), out: cost.MustParseUSD("0.075")},
	"claude-3-5-sonnet-20241022": {in: cost.MustParseUSD("0.003"), out: cost.MustParseUSD("0.015")},
	"claude-3-5-haiku-20241022":  {in: cost.MustParseUSD("0.0008"), out: cost.MustParseUSD("0.004")},
	"claude-3-opus-20240229":     {in: cost.MustParseUSD("0.015"), out: cost.MustParseUSD("0.075")},
	"claude-3-sonnet-20240229":   {in: cost.MustParseUSD("0.003"), out: cost.MustParseUSD("0.015")},
	"claude-3-haiku-20240307":    {in: cost.MustParseUSD("0.00025"), out: cost.MustParseUSD("0.00125")},
}

var defaultPricing = pricing{in: cost.MustParseUSD("0.003"), out: cost.MustParseUSD("0.015")}

// messagesAPI is the subset of the SDK client this provider calls. Tests
// substitute a scripted implementation.
type messagesAPI interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Config holds constructor parameters.
type Config struct {
	APIKey       string
	DefaultModel string
	MaxTokens    int
	Logger       *slog.Logger
}

// Provider talks to the Anthropic Messages API.
type Provider struct {
	msg          messagesAPI
	defaultModel string
	maxTokens    int
	logger       *slog.Logger
}

// New creates a provider from config. The API key is required.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, models.E(models.ErrorValidation, "anthropic api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
	return newWithMessages(&client.Messages, cfg), nil
}

func newWithMessages(msg messagesAPI, cfg Config) *Provider {
	model := cfg.DefaultModel
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		msg:          msg,
		defaultModel: model,
		maxTokens:    maxTokens,
		logger:       logger.With("component", "provider.anthropic"),
	}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return Name }

// Generate implements provider.Provider.
func (p *Provider) Generate(ctx context.Context, prompt string, opts provider.Options) (*provider.Result, error) {
	params, o, err := p.buildParams(prompt, opts)
	if err != nil {
		return nil, err
	}
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	start := time.Now()
	msg, err := p.msg.New(ctx, *params)
	if err != nil {
		return nil, classify(err)
	}
	duration := time.Since(start)

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	result := &provider.Result{
		Content:      sb.String(),
		Model:        o.Model,
		TokensIn:     msg.Usage.InputTokens,
		TokensOut:    msg.Usage.OutputTokens,
		FinishReason: mapStopReason(string(msg.StopReason)),
		Duration:     duration,
	}
	p.logger.Info("Generation completed",
		"model", o.Model,
		"tokens_in", result.TokensIn,
		"tokens_out", result.TokensOut,
		"finish_reason", result.FinishReason,
		"duration", duration)
	return result, nil
}

// GenerateStream implements provider.Provider. Text deltas are forwarded as
// they arrive; the final chunk carries the usage totals reported by the API.
func (p *Provider) GenerateStream(ctx context.Context, prompt string, opts provider.Options) (<-chan provider.StreamChunk, error) {
	params, o, err := p.buildParams(prompt, opts)
	if err != nil {
		return nil, err
	}
	cancel := context.CancelFunc(func() {})
	if o.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
	}

	stream := p.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		cancel()
		_ = stream.Close()
		return nil, classify(err)
	}

	out := make(chan provider.StreamChunk, 32)
	go func() {
		defer close(out)
		defer cancel()
		defer func() { _ = stream.Close() }()

		var tokensIn, tokensOut int64
		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case sdk.MessageStartEvent:
				tokensIn = ev.Message.Usage.InputTokens
			case sdk.ContentBlockDeltaEvent:
				delta, ok := ev.Delta.AsAny().(sdk.TextDelta)
				if !ok || delta.Text == "" {
					continue
				}
				select {
				case out <- provider.StreamChunk{Content: delta.Text}:
				case <-ctx.Done():
					return
				}
			case sdk.MessageDeltaEvent:
				if ev.Usage.InputTokens > 0 {
					tokensIn = ev.Usage.InputTokens
				}
				tokensOut = ev.Usage.OutputTokens
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case out <- provider.StreamChunk{Err: classify(err)}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- provider.StreamChunk{Done: true, TokensIn: tokensIn, TokensOut: tokensOut}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// ListModels implements provider.Provider. The model set is the pricing
// table; the Messages API has no listing endpoint worth a network call here.
func (p *Provider) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	infos := make([]provider.ModelInfo, 0, len(claudePricing))
	for id := range claudePricing {
		infos = append(infos, provider.ModelInfo{ID: id, Provider: Name})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

// HealthCheck implements provider.Provider with a minimal haiku request.
func (p *Provider) HealthCheck(ctx context.Context) provider.Health {
	params := sdk.MessageNewParams{
		MaxTokens: 10,
		Model:     sdk.Model(healthCheckModel),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock("Hi"))},
	}
	start := time.Now()
	_, err := p.msg.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return provider.Health{Healthy: false, Latency: latency, Error: err.Error()}
	}
	return provider.Health{Healthy: true, Latency: latency}
}

// EstimateCost implements provider.Provider using the per-model price table.
func (p *Provider) EstimateCost(tokensIn, tokensOut int64, model string) cost.Cost {
	if model == "" {
		model = p.defaultModel
	}
	pr, ok := claudePricing[model]
	if !ok {
		pr = defaultPricing
	}
	return cost.ForCall(tokensIn, tokensOut, pr.in, pr.out)
}

func (p *Provider) buildParams(prompt string, opts provider.Options) (*sdk.MessageNewParams, provider.Options, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, opts, models.E(models.ErrorValidation, "prompt must not be empty")
	}
	o, err := opts.Normalized(p.defaultModel, p.maxTokens)
	if err != nil {
		return nil, opts, err
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(o.MaxTokens),
		Model:     sdk.Model(o.Model),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
	}
	if o.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: o.SystemPrompt}}
	}
	if o.Temperature > 0 {
		params.Temperature = sdk.Float(o.Temperature)
	}
	if len(o.StopSequences) > 0 {
		params.StopSequences = o.StopSequences
	}
	return &params, o, nil
}

func mapStopReason(reason string) provider.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return provider.FinishStop
	case "max_tokens":
		return provider.FinishLength
	default:
		return provider.FinishError
	}
}

// classify translates SDK and transport failures into the error taxonomy.
// Rate limits and 5xx responses are retryable; other API errors are not.
func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError {
			return models.WrapError(models.ErrorTransient, err, "anthropic request")
		}
		return models.WrapError(models.ErrorProvider, err, "anthropic request")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.WrapError(models.ErrorTimeout, err, "anthropic request")
	}
	if errors.Is(err, context.Canceled) {
		return models.WrapError(models.ErrorCancelled, err, "anthropic request")
	}
	return models.WrapError(models.ErrorTransient, err, "anthropic request")
}
