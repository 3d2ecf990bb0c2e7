package accounting

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_IdempotentPerRequestID(t *testing.T) {
	a := New()

	require.True(t, a.Record("content_analyst", "req-1", 100, 0.0002))
	assert.False(t, a.Record("content_analyst", "req-1", 100, 0.0002), "duplicate must be a no-op")
	assert.False(t, a.Record("content_analyst", "", 50, 0.1), "empty request id is rejected")

	m := a.Snapshot()
	assert.Equal(t, 1, m.TotalCalls)
	assert.Equal(t, 100, m.TotalTokens)
	assert.InDelta(t, 0.0002, m.TotalCost, 1e-12)
	assert.Equal(t, 1, m.PerAgentBreakdown["content_analyst"].Calls)
	assert.True(t, a.Seen("req-1"))
}

func TestRecord_ConcurrentDuplicates(t *testing.T) {
	a := New()
	agents := []string{"blog_writer", "script_writer", "social_strategist"}

	var wg sync.WaitGroup
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("req-%d", i%30)
			a.Record(agents[i%30%len(agents)], id, 10, 0.5)
		}(i)
	}
	wg.Wait()

	m := a.Snapshot()
	assert.Equal(t, 30, m.TotalCalls)
	assert.Equal(t, 300, m.TotalTokens)

	var calls, tokens int
	var cost float64
	for _, u := range m.PerAgentBreakdown {
		calls += u.Calls
		tokens += u.Tokens
		cost += u.Cost
	}
	assert.Equal(t, m.TotalCalls, calls)
	assert.Equal(t, m.TotalTokens, tokens)
	assert.InDelta(t, m.TotalCost, cost, 1e-9)
}

func TestSnapshot_IsACopy(t *testing.T) {
	a := New()
	a.Record("seo_analyst", "r1", 5, 1)

	snap := a.Snapshot()
	delete(snap.PerAgentBreakdown, "seo_analyst")

	assert.Contains(t, a.Snapshot().PerAgentBreakdown, "seo_analyst")
}

func TestReport(t *testing.T) {
	a := New()
	a.Record("blog_writer", "r1", 1000, 3)
	a.Record("blog_writer", "r2", 500, 1)
	a.Record("script_writer", "r3", 200, 1)

	r := a.Report()
	require.Len(t, r.Agents, 2)
	assert.Equal(t, "blog_writer", r.Agents[0].Agent)
	assert.InDelta(t, 750, r.Agents[0].TokensPerCall, 1e-9)
	assert.InDelta(t, 2, r.Agents[0].CostPerCall, 1e-9)
	assert.InDelta(t, 0.8, r.Agents[0].CostShare, 1e-9)
	assert.InDelta(t, 0.2, r.Agents[1].CostShare, 1e-9)
}

func TestPricing(t *testing.T) {
	p := DefaultPricing()
	assert.Zero(t, p.Cost("ollama", 10_000))
	assert.InDelta(t, 0.002, p.Cost("gemini", 1000), 1e-12)
	assert.Zero(t, p.Cost("gemini", 0))
}

func TestRestore_ContinuesFromSnapshot(t *testing.T) {
	a := New()
	require.True(t, a.Record("blog_writer", "r1", 10, 0.5))

	b := Restore(a.Snapshot())
	require.True(t, b.Record("blog_writer", "r2", 5, 0.25))

	m := b.Snapshot()
	assert.Equal(t, 2, m.TotalCalls)
	assert.Equal(t, 15, m.TotalTokens)
	assert.Equal(t, 2, m.PerAgentBreakdown["blog_writer"].Calls)
	assert.Equal(t, 1, a.Snapshot().TotalCalls, "restored accountant must not share state")
}
