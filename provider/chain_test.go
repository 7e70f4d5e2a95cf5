package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/governor"
	"github.com/hupe1980/agentswarm/model"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T) (*clock, *governor.Governor, *model.MockModel, *model.MockModel, *Chain) {
	t.Helper()
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	gov := governor.New(func(o *governor.Options) { o.Clock = clk.Now })
	primary := model.NewMockModel("llama-70b", "groq")
	secondary := model.NewMockModel("claude", "anthropic")
	primary.AddResponse("q", "from primary")
	secondary.AddResponse("q", "from secondary")
	chain := NewChain([]Provider{
		{ID: "groq-70b", Model: primary},
		{ID: "anthropic", Model: secondary},
	}, func(o *Options) { o.Guard = gov })
	return clk, gov, primary, secondary, chain
}

func TestChainUsesFirstHealthyProvider(t *testing.T) {
	_, gov, primary, secondary, chain := newFixture(t)

	res, err := chain.Invoke(context.Background(), model.NewRequest("", "q"))
	require.NoError(t, err)
	assert.Equal(t, "groq-70b", res.ProviderID)
	assert.Equal(t, "from primary", res.Response.Text)
	assert.Equal(t, 1, primary.Calls())
	assert.Zero(t, secondary.Calls())
	assert.Positive(t, gov.TokensUsed())
}

func TestChainFallsBackAndOpensCircuit(t *testing.T) {
	clk, gov, primary, secondary, chain := newFixture(t)
	primary.SetError(errors.New("503"))

	for i := 0; i < 3; i++ {
		res, err := chain.Invoke(context.Background(), model.NewRequest("", "q"))
		require.NoError(t, err)
		assert.Equal(t, "anthropic", res.ProviderID)
	}
	assert.Equal(t, governor.StateOpen, gov.Health("groq-70b").State)
	assert.Equal(t, 3, primary.Calls())

	// within the cooldown the open provider is not called at all
	clk.Advance(30 * time.Second)
	res, err := chain.Invoke(context.Background(), model.NewRequest("", "q"))
	require.NoError(t, err)
	assert.Equal(t, "anthropic", res.ProviderID)
	assert.Equal(t, 3, primary.Calls())
	assert.True(t, res.Attempts[0].Skipped)
	assert.Equal(t, 4, secondary.Calls())

	// after the cooldown a recovered provider is probed and closes again
	clk.Advance(30 * time.Second)
	primary.SetError(nil)
	res, err = chain.Invoke(context.Background(), model.NewRequest("", "q"))
	require.NoError(t, err)
	assert.Equal(t, "groq-70b", res.ProviderID)
	assert.Equal(t, governor.StateClosed, gov.Health("groq-70b").State)
}

func TestChainExhausted(t *testing.T) {
	_, _, primary, secondary, chain := newFixture(t)
	primary.SetError(errors.New("timeout"))
	secondary.SetError(errors.New("overloaded"))

	_, err := chain.Invoke(context.Background(), model.NewRequest("", "q"))
	var exhausted *core.AllProvidersFailedError
	require.ErrorAs(t, err, &exhausted)
	assert.Len(t, exhausted.Attempts, 2)
	assert.True(t, IsExhausted(err))
}

func TestChainCancellationDoesNotBlameProvider(t *testing.T) {
	_, gov, primary, secondary, chain := newFixture(t)
	primary.SetDelay(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := chain.Invoke(ctx, model.NewRequest("", "q"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, gov.Health("groq-70b").ConsecutiveFailures)
	assert.Zero(t, secondary.Calls())
}

func TestChainWithoutGuard(t *testing.T) {
	m := model.NewMockModel("m", "mock")
	chain := NewChain([]Provider{{ID: "only", Model: m}})
	text, err := chain.Complete(context.Background(), "", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: hello", text)
	assert.Equal(t, []string{"only"}, chain.Providers())
}

func TestTokensOfFallsBackToEstimate(t *testing.T) {
	req := model.NewRequest("12345678", "abcd")
	assert.Equal(t, 3, tokensOf(req, model.Response{}, nil))
	assert.Equal(t, 10, tokensOf(req, model.Response{Usage: &model.TokenUsage{TotalTokens: 10}}, nil))
}
