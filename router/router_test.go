package router

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaultRouter() *Router {
	return New(func(o *Options) { o.Profiles = DefaultProfiles() })
}

func TestClassifySingleIntent(t *testing.T) {
	r := newDefaultRouter()
	cases := map[string]string{
		"bitcoin prijs analyse":       "finance",
		"debug mijn python code":      "engineer",
		"gezondheid en slaap analyse": "health",
		"web search online nieuws":    "navigator",
		"my biometrics look odd":      "health",
	}
	for in, want := range cases {
		assert.Contains(t, r.Classify(in).AgentIDs(), want, in)
	}
}

func TestClassifyMultiIntentPriorityOrder(t *testing.T) {
	r := newDefaultRouter()
	intent := r.Classify("web search nieuws en bitcoin prijs")
	assert.Equal(t, []string{"finance", "navigator"}, intent.AgentIDs())
	assert.False(t, intent.Fallback)
}

func TestClassifyNeverEmpty(t *testing.T) {
	r := newDefaultRouter()
	for _, in := range []string{"", "   ", "\t\n", "qwerty zxcv", "!!!"} {
		intent := r.Classify(in)
		require.Len(t, intent.Selections, 1, in)
		assert.Equal(t, "echo", intent.Selections[0].AgentID)
		assert.True(t, intent.Fallback)
	}
}

func TestClassifyBlankSkipsScoring(t *testing.T) {
	r := newDefaultRouter()
	assert.Nil(t, r.Classify("  ").Scores)
	assert.NotNil(t, r.Classify("qwerty").Scores)
}

func TestArchivistSuppressesEngineer(t *testing.T) {
	r := newDefaultRouter()
	intent := r.Classify("wat is een python module")
	ids := intent.AgentIDs()
	assert.Contains(t, ids, "archivist")
	assert.NotContains(t, ids, "engineer")
	assert.Equal(t, 1.0, intent.Scores["engineer"])
}

func TestScoreSaturates(t *testing.T) {
	r := New(func(o *Options) {
		o.Profiles = []Profile{{AgentID: "a", Terms: []Term{
			{Phrase: "alpha", Weight: 0.4},
			{Phrase: "beta", Weight: 0.4},
			{Phrase: "gamma", Weight: 0.4},
		}}}
	})
	assert.InDelta(t, 0.4, r.Classify("alpha").Scores["a"], 1e-9)
	assert.True(t, r.Classify("alpha").Fallback)
	assert.InDelta(t, 0.8, r.Classify("alpha beta").Scores["a"], 1e-9)
	assert.Equal(t, 1.0, r.Classify("alpha beta gamma").Scores["a"])
	// repeated matches of one term count once
	assert.InDelta(t, 0.4, r.Classify("alpha alpha alpha").Scores["a"], 1e-9)
}

func TestPhraseMatchingIsConsecutive(t *testing.T) {
	r := New(func(o *Options) {
		o.Profiles = []Profile{{AgentID: "finance", Keywords: []string{"smart contract"}}}
	})
	assert.Equal(t, []string{"finance"}, r.Classify("audit this Smart-Contract please").AgentIDs())
	assert.True(t, r.Classify("smart people sign a contract").Fallback)
}

func TestTopBreaksTiesByPriority(t *testing.T) {
	r := New(func(o *Options) {
		o.Profiles = []Profile{
			{AgentID: "first", Keywords: []string{"shared"}},
			{AgentID: "second", Keywords: []string{"shared"}},
		}
	})
	intent := r.Classify("shared")
	assert.Equal(t, "first", intent.Top().AgentID)
}

func TestRegisterKeepsPriority(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Profile{AgentID: "a", Keywords: []string{"x"}}))
	require.NoError(t, r.Register(Profile{AgentID: "b", Keywords: []string{"x"}}))
	require.NoError(t, r.Register(Profile{AgentID: "a", Keywords: []string{"y"}}))
	assert.Equal(t, []string{"a", "b"}, r.Agents())
	assert.Equal(t, []string{"b"}, r.Classify("x").AgentIDs())
	assert.Error(t, r.Register(Profile{}))
}

func TestClassifyConcurrentWithRegister(t *testing.T) {
	r := newDefaultRouter()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.Classify("bitcoin wallet")
		}()
		go func(i int) {
			defer wg.Done()
			_ = r.Register(Profile{AgentID: "extra", Keywords: []string{"foo"}})
		}(i)
	}
	wg.Wait()
	assert.Contains(t, r.Agents(), "extra")
}

func TestLoadTable(t *testing.T) {
	src := `
threshold = 0.6
default_agent = "fallback"

[[profiles]]
agent = "finance"
keywords = ["bitcoin"]
suppresses = ["engineer"]

[[profiles.terms]]
phrase = "smart contract"
weight = 1.0

[[profiles]]
agent = "engineer"
keywords = ["code"]
`
	table, err := LoadTable(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, table.Profiles, 2)
	assert.Equal(t, "finance", table.Profiles[0].AgentID)
	assert.Equal(t, 1.0, table.Profiles[0].Terms[0].Weight)

	r := New(table.Apply)
	assert.Equal(t, "fallback", r.DefaultAgent())
	assert.Equal(t, []string{"finance"}, r.Classify("smart contract code").AgentIDs())
}

func TestKeywordSelectsAboveDefaultThreshold(t *testing.T) {
	r := New(func(o *Options) {
		o.Threshold = 0.9
		o.Profiles = []Profile{{AgentID: "finance", Keywords: []string{"bitcoin"}, Terms: []Term{
			{Phrase: "ledger", Weight: 0.5},
			{Phrase: "audit"},
		}}}
	})
	intent := r.Classify("bitcoin")
	assert.Equal(t, []string{"finance"}, intent.AgentIDs())
	assert.Equal(t, DefaultTermWeight, intent.Scores["finance"])
	// a term without a weight counts like a keyword
	assert.Equal(t, []string{"finance"}, r.Classify("audit").AgentIDs())
	assert.True(t, r.Classify("ledger").Fallback)
}

func TestLoadTableRejectsUnknownFields(t *testing.T) {
	_, err := LoadTable(strings.NewReader("thresh = 1\n"))
	assert.Error(t, err)

	_, err = LoadTable(strings.NewReader("[[profiles]]\nkeywords = [\"x\"]\n"))
	assert.Error(t, err)
}
