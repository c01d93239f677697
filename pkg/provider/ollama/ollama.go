// Package ollama implements the provider contract against a local Ollama
// server. Generation is free; the point of this backend is cost control.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/devflow-ai/devflow/pkg/cost"
	"github.com/devflow-ai/devflow/pkg/models"
	"github.com/devflow-ai/devflow/pkg/provider"
)

// Name is the registry name of this provider.
const Name = "ollama"

// Defaults mirror a stock local install.
const (
	DefaultBaseURL   = "http://localhost:11434"
	DefaultModel     = "codellama:7b"
	DefaultMaxTokens = 2048
	DefaultTimeout   = 5 * time.Minute
)

// Config holds constructor parameters.
type Config struct {
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Provider talks to the Ollama REST API.
type Provider struct {
	baseURL      string
	http         *http.Client
	defaultModel string
	maxTokens    int
	logger       *slog.Logger

	mu        sync.RWMutex
	available []string
}

// New creates a provider from config.
func New(cfg Config) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		baseURL:      baseURL,
		http:         httpClient,
		defaultModel: model,
		maxTokens:    maxTokens,
		logger:       logger.With("component", "provider.ollama"),
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64  `json:"temperature"`
	NumPredict  int      `json:"num_predict"`
	Stop        []string `json:"stop,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int64  `json:"prompt_eval_count"`
	EvalCount       int64  `json:"eval_count"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return Name }

// Generate implements provider.Provider.
func (p *Provider) Generate(ctx context.Context, prompt string, opts provider.Options) (*provider.Result, error) {
	payload, o, err := p.buildRequest(ctx, prompt, opts, false)
	if err != nil {
		return nil, err
	}
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := p.post(ctx, "/api/generate", payload)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, p.statusError(resp)
	}

	var body generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, models.WrapError(models.ErrorProvider, err, "decode ollama response")
	}
	duration := time.Since(start)

	result := &provider.Result{
		Content:      body.Response,
		Model:        payload.Model,
		TokensIn:     body.PromptEvalCount,
		TokensOut:    body.EvalCount,
		FinishReason: mapDoneReason(body),
		Duration:     duration,
	}
	p.logger.Info("Generation completed",
		"model", payload.Model,
		"tokens_out", result.TokensOut,
		"duration", duration)
	return result, nil
}

// GenerateStream implements provider.Provider. Ollama streams newline
// delimited JSON objects; the object with done=true carries the token counts.
func (p *Provider) GenerateStream(ctx context.Context, prompt string, opts provider.Options) (<-chan provider.StreamChunk, error) {
	payload, o, err := p.buildRequest(ctx, prompt, opts, true)
	if err != nil {
		return nil, err
	}
	cancel := context.CancelFunc(func() {})
	if o.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
	}

	resp, err := p.post(ctx, "/api/generate", payload)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		err := p.statusError(resp)
		_ = resp.Body.Close()
		cancel()
		return nil, err
	}

	out := make(chan provider.StreamChunk, 32)
	go func() {
		defer close(out)
		defer cancel()
		defer func() { _ = resp.Body.Close() }()

		dec := json.NewDecoder(resp.Body)
		for {
			var line generateResponse
			if err := dec.Decode(&line); err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				select {
				case out <- provider.StreamChunk{Err: p.classify(err, "ollama stream")}:
				case <-ctx.Done():
				}
				return
			}
			if line.Done {
				select {
				case out <- provider.StreamChunk{Done: true, TokensIn: line.PromptEvalCount, TokensOut: line.EvalCount}:
				case <-ctx.Done():
				}
				return
			}
			if line.Response == "" {
				continue
			}
			select {
			case out <- provider.StreamChunk{Content: line.Response}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ListModels implements provider.Provider and refreshes the cached model set
// used for fallback resolution.
func (p *Provider) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	names, err := p.refreshModels(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]provider.ModelInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, provider.ModelInfo{ID: name, Provider: Name, Local: true})
	}
	return infos, nil
}

// HealthCheck implements provider.Provider by probing the tags endpoint.
func (p *Provider) HealthCheck(ctx context.Context) provider.Health {
	start := time.Now()
	_, err := p.refreshModels(ctx)
	latency := time.Since(start)
	if err != nil {
		return provider.Health{Healthy: false, Latency: latency, Error: err.Error()}
	}
	return provider.Health{Healthy: true, Latency: latency}
}

// EstimateCost implements provider.Provider. Local inference is free.
func (p *Provider) EstimateCost(tokensIn, tokensOut int64, model string) cost.Cost {
	return cost.Zero
}

// Pull asks the server to download a model.
func (p *Provider) Pull(ctx context.Context, model string) error {
	if model == "" {
		return models.E(models.ErrorValidation, "model must not be empty")
	}
	resp, err := p.post(ctx, "/api/pull", map[string]any{"name": model, "stream": false})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return p.statusError(resp)
	}
	p.logger.Info("Model pulled", "model", model)
	return nil
}

func (p *Provider) buildRequest(ctx context.Context, prompt string, opts provider.Options, stream bool) (*generateRequest, provider.Options, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, opts, models.E(models.ErrorValidation, "prompt must not be empty")
	}
	o, err := opts.Normalized(p.defaultModel, p.maxTokens)
	if err != nil {
		return nil, opts, err
	}
	return &generateRequest{
		Model:  p.resolveModel(ctx, o.Model),
		Prompt: prompt,
		System: o.SystemPrompt,
		Stream: stream,
		Options: generateOptions{
			Temperature: o.Temperature,
			NumPredict:  o.MaxTokens,
			Stop:        o.StopSequences,
		},
	}, o, nil
}

// resolveModel substitutes an installed model when the requested one is
// absent. A request for "codellama:13b" falls back to any installed
// "codellama" variant before giving up and passing the name through.
func (p *Provider) resolveModel(ctx context.Context, requested string) string {
	p.mu.RLock()
	available := p.available
	p.mu.RUnlock()
	if len(available) == 0 {
		names, err := p.refreshModels(ctx)
		if err != nil {
			return requested
		}
		available = names
	}
	for _, name := range available {
		if name == requested {
			return requested
		}
	}
	base, _, _ := strings.Cut(requested, ":")
	for _, name := range available {
		if strings.Contains(name, base) {
			p.logger.Debug("Substituting installed model", "requested", requested, "using", name)
			return name
		}
	}
	p.logger.Warn("Requested model not installed", "model", requested, "available", available)
	return requested
}

func (p *Provider) refreshModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, models.WrapError(models.ErrorInternal, err, "build ollama request")
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, p.classify(err, "ollama tags")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, p.statusError(resp)
	}
	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, models.WrapError(models.ErrorProvider, err, "decode ollama tags")
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	p.mu.Lock()
	p.available = names
	p.mu.Unlock()
	return names, nil
}

func (p *Provider) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, models.WrapError(models.ErrorInternal, err, "encode ollama request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, models.WrapError(models.ErrorInternal, err, "build ollama request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, p.classify(err, "ollama request")
	}
	return resp, nil
}

func (p *Provider) statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	if resp.StatusCode >= http.StatusInternalServerError {
		return models.WrapError(models.ErrorTransient, err, "ollama request")
	}
	return models.WrapError(models.ErrorProvider, err, "ollama request")
}

func (p *Provider) classify(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.WrapError(models.ErrorTimeout, err, op)
	}
	if errors.Is(err, context.Canceled) {
		return models.WrapError(models.ErrorCancelled, err, op)
	}
	return models.WrapError(models.ErrorTransient, err, op)
}

func mapDoneReason(body generateResponse) provider.FinishReason {
	switch {
	case body.DoneReason == "length":
		return provider.FinishLength
	case body.Done:
		return provider.FinishStop
	default:
		return provider.FinishError
	}
}
