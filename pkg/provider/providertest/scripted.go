// Package providertest provides a scripted provider implementation for tests
// that exercise agents and the orchestrator without a real backend.
package providertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/devflow-ai/devflow/pkg/cost"
	"github.com/devflow-ai/devflow/pkg/provider"
)

// ScriptEntry defines a single scripted response.
type ScriptEntry struct {
	// Response content (exactly one of Response or Err should be set).
	Response     string
	TokensIn     int64
	TokensOut    int64
	FinishReason provider.FinishReason
	Err          error

	// Test control.
	BlockUntilCancelled bool            // block Generate until ctx is cancelled
	WaitCh              <-chan struct{} // block Generate until closed, then respond
	OnBlock             chan<- struct{} // notified when Generate enters a blocking path
	Delay               time.Duration   // sleep before responding
}

// Call records one Generate invocation.
type Call struct {
	Prompt string
	Opts   provider.Options
}

// Scripted is a provider whose responses are scripted ahead of time. Routed
// entries match a substring of the system prompt or prompt and take precedence
// over the sequential script; parallel subtasks call in non-deterministic
// order, so routing keys them by agent instead of position.
type Scripted struct {
	mu         sync.Mutex
	name       string
	sequential []ScriptEntry
	seqIndex   int
	routes     map[string][]ScriptEntry
	routeIndex map[string]int
	calls      []Call

	// PricePerKIn and PricePerKOut feed EstimateCost. Zero by default.
	PricePerKIn  cost.Cost
	PricePerKOut cost.Cost

	// Unhealthy makes HealthCheck report a failed probe with HealthErr.
	Unhealthy bool
	HealthErr string
}

// NewScripted creates a scripted provider registered under name.
func NewScripted(name string) *Scripted {
	return &Scripted{
		name:       name,
		routes:     make(map[string][]ScriptEntry),
		routeIndex: make(map[string]int),
	}
}

// AddSequential appends an entry consumed in order by non-routed calls.
func (s *Scripted) AddSequential(entry ScriptEntry) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequential = append(s.sequential, entry)
	return s
}

// AddResponse is shorthand for a successful sequential text response.
func (s *Scripted) AddResponse(text string) *Scripted {
	return s.AddSequential(ScriptEntry{Response: text})
}

// AddError is shorthand for a sequential failure.
func (s *Scripted) AddError(err error) *Scripted {
	return s.AddSequential(ScriptEntry{Err: err})
}

// AddRouted appends an entry consumed by calls whose system prompt or prompt
// contains match.
func (s *Scripted) AddRouted(match string, entry ScriptEntry) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[match] = append(s.routes[match], entry)
	return s
}

// Calls returns a copy of every recorded invocation.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns the number of Generate and GenerateStream invocations.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Name implements provider.Provider.
func (s *Scripted) Name() string { return s.name }

// Generate implements provider.Provider.
func (s *Scripted) Generate(ctx context.Context, prompt string, opts provider.Options) (*provider.Result, error) {
	entry, err := s.next(prompt, opts)
	if err != nil {
		return nil, err
	}
	if entry.BlockUntilCancelled {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if entry.WaitCh != nil {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		select {
		case <-entry.WaitCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if entry.Delay > 0 {
		select {
		case <-time.After(entry.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if entry.Err != nil {
		return nil, entry.Err
	}
	return s.result(entry, opts), nil
}

// GenerateStream implements provider.Provider by splitting the scripted
// response into word chunks.
func (s *Scripted) GenerateStream(ctx context.Context, prompt string, opts provider.Options) (<-chan provider.StreamChunk, error) {
	res, err := s.Generate(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}
	words := strings.SplitAfter(res.Content, " ")
	out := make(chan provider.StreamChunk, len(words)+1)
	for _, w := range words {
		if w != "" {
			out <- provider.StreamChunk{Content: w}
		}
	}
	out <- provider.StreamChunk{Done: true, TokensIn: res.TokensIn, TokensOut: res.TokensOut}
	close(out)
	return out, nil
}

// ListModels implements provider.Provider.
func (s *Scripted) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	return []provider.ModelInfo{{ID: "scripted-model", Provider: s.name}}, nil
}

// HealthCheck implements provider.Provider.
func (s *Scripted) HealthCheck(ctx context.Context) provider.Health {
	if s.Unhealthy {
		return provider.Health{Healthy: false, Error: s.HealthErr}
	}
	return provider.Health{Healthy: true, Latency: time.Millisecond}
}

// EstimateCost implements provider.Provider.
func (s *Scripted) EstimateCost(tokensIn, tokensOut int64, model string) cost.Cost {
	return cost.ForCall(tokensIn, tokensOut, s.PricePerKIn, s.PricePerKOut)
}

func (s *Scripted) next(prompt string, opts provider.Options) (ScriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Prompt: prompt, Opts: opts})

	haystack := opts.SystemPrompt + "\n" + prompt
	for match, entries := range s.routes {
		if !strings.Contains(haystack, match) {
			continue
		}
		i := s.routeIndex[match]
		if i >= len(entries) {
			return ScriptEntry{}, fmt.Errorf("scripted provider: route %q exhausted after %d calls", match, i)
		}
		s.routeIndex[match]++
		return entries[i], nil
	}
	if s.seqIndex >= len(s.sequential) {
		return ScriptEntry{}, fmt.Errorf("scripted provider: script exhausted after %d calls", s.seqIndex)
	}
	entry := s.sequential[s.seqIndex]
	s.seqIndex++
	return entry, nil
}

func (s *Scripted) result(entry ScriptEntry, opts provider.Options) *provider.Result {
	tokensIn := entry.TokensIn
	if tokensIn == 0 {
		tokensIn = 10
	}
	tokensOut := entry.TokensOut
	if tokensOut == 0 {
		tokensOut = int64(len(entry.Response)/4) + 1
	}
	finish := entry.FinishReason
	if finish == "" {
		finish = provider.FinishStop
	}
	return &provider.Result{
		Content:      entry.Response,
		Model:        opts.Model,
		TokensIn:     tokensIn,
		TokensOut:    tokensOut,
		FinishReason: finish,
		Duration:     time.Millisecond,
	}
}
