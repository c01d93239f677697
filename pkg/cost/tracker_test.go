package cost

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerAccumulates(t *testing.T) {
	tr := NewTracker()
	tr.Add(Record{TaskID: "t1", Provider: "claude", Model: "m", TokensIn: 100, TokensOut: 50, Cost: MustParseUSD("0.01")})
	tr.Add(Record{TaskID: "t1", Provider: "claude", Model: "m", TokensIn: 200, TokensOut: 80, Cost: MustParseUSD("0.02")})
	tr.Add(Record{TaskID: "t2", Provider: "ollama", Model: "codellama:7b", TokensIn: 300, TokensOut: 120, Cost: Zero})

	assert.Equal(t, MustParseUSD("0.03"), tr.Total())
	assert.Equal(t, MustParseUSD("0.03"), tr.TaskTotal("t1"))
	assert.Equal(t, Zero, tr.TaskTotal("t2"))
	assert.Equal(t, 3, tr.Count())
}

func TestTrackerSummarize(t *testing.T) {
	tr := NewTracker()
	now := time.Now().UTC()
	tr.Add(Record{Timestamp: now, Provider: "claude", Model: "sonnet", TokensIn: 1000, TokensOut: 500, Cost: MustParseUSD("0.0105")})
	tr.Add(Record{Timestamp: now.AddDate(0, 0, -1), Provider: "claude", Model: "haiku", TokensIn: 400, TokensOut: 100, Cost: MustParseUSD("0.00072")})
	tr.Add(Record{Timestamp: now.AddDate(0, 0, -40), Provider: "ollama", Model: "codellama:7b", TokensIn: 9000, TokensOut: 4000, Cost: Zero})

	sum := tr.Summarize(7)
	assert.Equal(t, 2, sum.CallCount)
	assert.Equal(t, MustParseUSD("0.01122"), sum.TotalCost)
	assert.Equal(t, int64(2000), sum.TotalTokens)
	assert.Equal(t, MustParseUSD("0.0105"), sum.ByModel["sonnet"])
	assert.NotContains(t, sum.ByProvider, "ollama")
	require.Len(t, sum.ByDay, 2)
	assert.True(t, sum.ByDay[0].Date < sum.ByDay[1].Date)

	all := tr.Summarize(0)
	assert.Equal(t, 3, all.CallCount)
	assert.Nil(t, all.Since)
}

func TestTrackerPrune(t *testing.T) {
	tr := NewTracker()
	now := time.Now().UTC()
	tr.Add(Record{Timestamp: now.AddDate(0, 0, -100), TaskID: "old", Provider: "claude", Model: "sonnet", TokensIn: 500, TokensOut: 200, Cost: MustParseUSD("0.02")})
	tr.Add(Record{Timestamp: now, TaskID: "new", Provider: "claude", Model: "sonnet", TokensIn: 100, TokensOut: 40, Cost: MustParseUSD("0.01")})

	assert.Zero(t, tr.Prune(now.AddDate(0, 0, -200)), "nothing older than the cutoff")
	assert.Equal(t, 2, tr.Count())

	assert.Equal(t, 1, tr.Prune(now.AddDate(0, 0, -90)))
	assert.Equal(t, 1, tr.Count())
	assert.Equal(t, MustParseUSD("0.01"), tr.Total())
	assert.Equal(t, Zero, tr.TaskTotal("old"))
	assert.Equal(t, MustParseUSD("0.01"), tr.TaskTotal("new"))
}

func TestTrackerConcurrentAdd(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Add(Record{TaskID: "t", Provider: "p", Model: "m", Cost: FromMicros(10)})
		}()
	}
	wg.Wait()
	assert.Equal(t, FromMicros(500), tr.Total())
	assert.Equal(t, 50, tr.Count())
}
