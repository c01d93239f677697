package agent

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devflow-ai/devflow/pkg/bus"
	"github.com/devflow-ai/devflow/pkg/cache"
	"github.com/devflow-ai/devflow/pkg/models"
	"github.com/devflow-ai/devflow/pkg/provider"
	"github.com/devflow-ai/devflow/pkg/provider/providertest"
)

func testDeps(t *testing.T, p provider.Provider, c *cache.Cache) Deps {
	t.Helper()
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(p))
	return Deps{
		Providers: reg,
		Bus:       bus.New(),
		Selector: StaticSelector(models.ModelDescriptor{
			Provider:  p.Name(),
			Model:     "test-model",
			MaxTokens: 1024,
		}),
		Cache: c,
	}
}

// collectEvents subscribes to every bus event and returns the recorded
// types in publish order.
func collectEvents(t *testing.T, b *bus.Bus) func() []string {
	t.Helper()
	var mu sync.Mutex
	var types []string
	_, err := b.Subscribe(bus.Wildcard, func(ctx context.Context, e models.Event) error {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), types...)
	}
}

func TestBuiltinExecuteProducesResultAndEvents(t *testing.T) {
	scripted := providertest.NewScripted("anthropic").
		AddSequential(providertest.ScriptEntry{Response: "requirements list", TokensIn: 40, TokensOut: 80})
	deps := testDeps(t, scripted, nil)
	recorded := collectEvents(t, deps.Bus)

	a, err := NewBuiltin(models.AgentConcept, deps)
	require.NoError(t, err)

	task := &models.AgentTask{TaskID: "t1", SubtaskID: "s1", PhaseNumber: 1, Description: "build a login page", Mode: models.ModeSpeed}
	res, err := a.Execute(context.Background(), task)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "requirements list", res.Output["response"])
	assert.Equal(t, int64(40), res.TokensIn)
	assert.Equal(t, int64(80), res.TokensOut)
	assert.Equal(t, "test-model", res.Output["model"])

	types := recorded()
	assert.Contains(t, types, "agent.started")
	assert.Contains(t, types, "agent.progress")
	assert.Contains(t, types, "agent.completed")
	assert.NotContains(t, types, "agent.failed")
}

func TestBuiltinPromptCarriesPriorImplementOutput(t *testing.T) {
	scripted := providertest.NewScripted("anthropic").AddResponse("test file content")
	deps := testDeps(t, scripted, nil)

	a, err := NewBuiltin(models.AgentTest, deps)
	require.NoError(t, err)

	long := strings.Repeat("x", 2500)
	task := (&models.AgentTask{TaskID: "t1", Description: "write tests"}).WithContext(map[string]any{
		models.AgentImplement.ResultKey(): &models.AgentResult{
			Success: true,
			Output:  map[string]any{"response": long},
		},
	})

	_, err = a.Execute(context.Background(), task)
	require.NoError(t, err)

	calls := scripted.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "write tests")
	assert.Contains(t, calls[0].Prompt, strings.Repeat("x", 2000))
	// Prior output is truncated to 2000 characters.
	assert.NotContains(t, calls[0].Prompt, strings.Repeat("x", 2001))
}

func TestBuiltinPromptMissingPriorReadsNA(t *testing.T) {
	scripted := providertest.NewScripted("anthropic").AddResponse("design doc")
	deps := testDeps(t, scripted, nil)

	a, err := NewBuiltin(models.AgentArchitect, deps)
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), &models.AgentTask{TaskID: "t1", Description: "design it"})
	require.NoError(t, err)

	calls := scripted.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "Previous Analysis:\nN/A")
}

func TestBuiltinLengthFinishRetriesWithDoubledBudget(t *testing.T) {
	scripted := providertest.NewScripted("anthropic").
		AddSequential(providertest.ScriptEntry{Response: "partial", FinishReason: provider.FinishLength, TokensOut: 1024}).
		AddSequential(providertest.ScriptEntry{Response: "full answer", TokensOut: 1500})
	deps := testDeps(t, scripted, nil)

	a, err := NewBuiltin(models.AgentImplement, deps)
	require.NoError(t, err)

	res, err := a.Execute(context.Background(), &models.AgentTask{TaskID: "t1", Description: "implement"})
	require.NoError(t, err)

	calls := scripted.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, 1024, calls[0].Opts.MaxTokens)
	assert.Equal(t, 2048, calls[1].Opts.MaxTokens)
	assert.Equal(t, "full answer", res.Output["response"])
	assert.NotContains(t, res.Output, "truncated")
	// Both calls are billed.
	assert.Equal(t, int64(20), res.TokensIn)
}

func TestBuiltinSecondLengthFinishAcceptedAsTruncated(t *testing.T) {
	scripted := providertest.NewScripted("anthropic").
		AddSequential(providertest.ScriptEntry{Response: "partial", FinishReason: provider.FinishLength}).
		AddSequential(providertest.ScriptEntry{Response: "still partial", FinishReason: provider.FinishLength})
	deps := testDeps(t, scripted, nil)

	a, err := NewBuiltin(models.AgentImplement, deps)
	require.NoError(t, err)

	res, err := a.Execute(context.Background(), &models.AgentTask{TaskID: "t1", Description: "implement"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "still partial", res.Output["response"])
	assert.Equal(t, true, res.Output["truncated"])
}

func TestBuiltinServesSecondCallFromCache(t *testing.T) {
	scripted := providertest.NewScripted("anthropic").AddResponse("cached content")
	c := cache.New(cache.Config{})
	deps := testDeps(t, scripted, c)

	a, err := NewBuiltin(models.AgentConcept, deps)
	require.NoError(t, err)

	task := &models.AgentTask{TaskID: "t1", Description: "same prompt"}
	first, err := a.Execute(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, "cached content", first.Output["response"])

	second, err := a.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, "cached content", second.Output["response"])
	assert.Equal(t, true, second.Output["cached"])
	assert.Zero(t, second.Cost)
	assert.Equal(t, 1, scripted.CallCount(), "cache hit must not reach the provider")
}

func TestBuiltinConcurrentExecutionsGetPerAgentResponses(t *testing.T) {
	scripted := providertest.NewScripted("anthropic").
		AddRouted("Analyze this development task", providertest.ScriptEntry{Response: "concept notes"}).
		AddRouted("Create comprehensive tests", providertest.ScriptEntry{Response: "test plan"})
	deps := testDeps(t, scripted, nil)

	concept, err := NewBuiltin(models.AgentConcept, deps)
	require.NoError(t, err)
	tester, err := NewBuiltin(models.AgentTest, deps)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*models.AgentResult, 2)
	errs := make([]error, 2)
	for i, a := range []Agent{concept, tester} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = a.Execute(context.Background(), &models.AgentTask{
				TaskID: "t1", Description: "a login page",
			})
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, "concept notes", results[0].Output["response"])
	assert.Equal(t, "test plan", results[1].Output["response"])
}

func TestBuiltinProviderErrorEmitsAgentFailed(t *testing.T) {
	scripted := providertest.NewScripted("anthropic").
		AddError(models.E(models.ErrorProvider, "rate limited"))
	deps := testDeps(t, scripted, nil)
	recorded := collectEvents(t, deps.Bus)

	a, err := NewBuiltin(models.AgentImplement, deps)
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), &models.AgentTask{TaskID: "t1", Description: "implement"})
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrorProvider))

	types := recorded()
	assert.Contains(t, types, "agent.started")
	assert.Contains(t, types, "agent.failed")
	assert.NotContains(t, types, "agent.completed")
}

func TestBuiltinCancelledContextShortCircuits(t *testing.T) {
	scripted := providertest.NewScripted("anthropic").AddResponse("never used")
	deps := testDeps(t, scripted, nil)

	a, err := NewBuiltin(models.AgentConcept, deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Execute(ctx, &models.AgentTask{TaskID: "t1", Description: "never runs"})
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrorCancelled))
	assert.Zero(t, scripted.CallCount())
}

func TestBuiltinImplementCountsCodeBlocksAndFiles(t *testing.T) {
	response := "Here you go:\n```go\nfunc main() {}\n```\nand\n```sql\nSELECT 1;\n```"
	scripted := providertest.NewScripted("anthropic").AddResponse(response)
	deps := testDeps(t, scripted, nil)

	a, err := NewBuiltin(models.AgentImplement, deps)
	require.NoError(t, err)

	task := (&models.AgentTask{TaskID: "t1", Description: "implement"}).WithContext(map[string]any{
		"file": "pkg/auth/login.go",
	})
	res, err := a.Execute(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Output["code_blocks"])
	assert.Equal(t, []string{"pkg/auth/login.go"}, res.FilesModified)
}

func TestNewBuiltinRejectsTypesWithoutTemplate(t *testing.T) {
	deps := testDeps(t, providertest.NewScripted("anthropic"), nil)
	_, err := NewBuiltin(models.AgentRefactor, deps)
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrorValidation))
}

func TestRegisterBuiltinsCoversCoreTypes(t *testing.T) {
	deps := testDeps(t, providertest.NewScripted("anthropic"), nil)
	reg := NewRegistry(4, nil)
	require.NoError(t, RegisterBuiltins(reg, deps))

	caps := reg.List()
	assert.Len(t, caps, len(CoreTypes()))
	for _, typ := range CoreTypes() {
		_, err := reg.Get(typ)
		assert.NoError(t, err, "core type %s should be registered", typ)
	}
}
