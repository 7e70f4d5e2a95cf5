package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/model"
	"github.com/hupe1980/agentswarm/provider"
)

// recordingInvoker answers every request with text and remembers what it
// was sent.
type recordingInvoker struct {
	mu   sync.Mutex
	text string
	err  error
	reqs []model.Request
}

func (r *recordingInvoker) Invoke(_ context.Context, req model.Request) (provider.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return provider.Result{}, r.err
	}
	return provider.Result{ProviderID: "mock", Response: model.Response{Text: r.text}}, nil
}

func (r *recordingInvoker) last() model.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqs[len(r.reqs)-1]
}

func mockChain(responses map[string]string, failing bool) *provider.Chain {
	m := model.NewMockModel("mock-1", "mock")
	for k, v := range responses {
		m.AddResponse(k, v)
	}
	if failing {
		m.SetError(errors.New("503 service unavailable"))
	}
	return provider.NewChain([]provider.Provider{{ID: "mock", Model: m}})
}

func TestEchoAgentRotates(t *testing.T) {
	a := NewEchoAgent("one", "two")
	assert.Equal(t, "echo", a.Name())

	var got []string
	for i := 0; i < 3; i++ {
		p, err := a.Process(context.Background(), newTestRequest("hi"))
		require.NoError(t, err)
		require.Len(t, p, 1)
		got = append(got, p[0].Content.(string))
	}
	assert.Equal(t, []string{"one", "two", "one"}, got)
}

func TestEchoAgentHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEchoAgent().Process(ctx, newTestRequest("hi"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestModelAgentThroughChain(t *testing.T) {
	chain := mockChain(map[string]string{"explain goroutines": "Goroutines are cheap threads."}, false)
	a := NewModelAgent("oracle", chain, func(o *ModelAgentOptions) {
		o.Description = "reasoning"
	})

	payloads, err := a.Process(context.Background(), newTestRequest("explain goroutines"))
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	p := payloads[0]
	assert.Equal(t, "oracle", p.AgentID)
	assert.Equal(t, core.KindText, p.Kind)
	assert.Equal(t, "Goroutines are cheap threads.", p.Content)
	assert.Equal(t, "mock", p.Metadata["provider"])
	assert.Equal(t, "reasoning", a.Description())
}

func TestModelAgentRendersInstruction(t *testing.T) {
	inv := &recordingInvoker{text: "ok"}
	a := NewModelAgent("schedule", inv, func(o *ModelAgentOptions) {
		o.Instruction = NewInstructionFromText("You are {{.agent}}. Today is {{.date}}.")
		o.MaxTokens = 64
	})
	_, err := a.Process(context.Background(), newTestRequest("plan my week"))
	require.NoError(t, err)

	req := inv.last()
	assert.Equal(t, "You are schedule. Today is 2026-03-14.", req.Instructions)
	assert.Equal(t, "plan my week", req.LastUserText())
	assert.Equal(t, 64, req.MaxTokens)
}

func TestModelAgentExhaustionBecomesErrorPayload(t *testing.T) {
	a := NewModelAgent("finance", mockChain(nil, true))
	payloads, err := a.Process(context.Background(), newTestRequest("bitcoin koers"))
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.True(t, payloads[0].IsError())
	assert.Contains(t, payloads[0].Content, "all providers failed")
}

func TestModelAgentPropagatesOtherErrors(t *testing.T) {
	a := NewModelAgent("finance", &recordingInvoker{err: context.DeadlineExceeded})
	_, err := a.Process(context.Background(), newTestRequest("q"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = NewModelAgent("finance", &recordingInvoker{text: "   "}).Process(context.Background(), newTestRequest("q"))
	assert.Error(t, err)
}

func TestCodeBlocksShaper(t *testing.T) {
	answer := "Here you go:\n```go\nfmt.Println(\"hi\")\n```\nDone."
	a := NewModelAgent("engineer", &recordingInvoker{text: answer}, func(o *ModelAgentOptions) {
		o.Shaper = CodeBlocks
	})
	payloads, err := a.Process(context.Background(), newTestRequest("write hello world"))
	require.NoError(t, err)
	p := payloads[0]
	assert.Equal(t, core.KindCode, p.Kind)
	assert.Equal(t, `fmt.Println("hi")`, p.Content)
	assert.Equal(t, answer, p.DisplayText)
	assert.Equal(t, "go", p.Metadata["language"])

	plain := CodeBlocks(core.NewTextPayload("engineer", "no code here"))
	assert.Equal(t, core.KindText, plain.Kind)
}

type fakeRetriever struct {
	docs  []core.Document
	err   error
	calls []string
}

func (f *fakeRetriever) Query(_ context.Context, text string, k int) ([]core.Document, error) {
	f.calls = append(f.calls, text)
	if f.err != nil {
		return nil, f.err
	}
	if k < len(f.docs) {
		return f.docs[:k], nil
	}
	return f.docs, nil
}

type fakeMemory struct {
	facts  map[string]string
	events []core.EpisodicEvent
}

func (f *fakeMemory) Recall(_ context.Context, key string) (string, bool, error) {
	v, ok := f.facts[key]
	return v, ok, nil
}

func (f *fakeMemory) SearchEvents(_ context.Context, query string, _ int) ([]core.EpisodicEvent, error) {
	var out []core.EpisodicEvent
	for _, e := range f.events {
		if strings.Contains(strings.ToLower(e.Action), strings.ToLower(query)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestRetrievalAgentSynthesizesFromContext(t *testing.T) {
	retriever := &fakeRetriever{docs: []core.Document{
		{ID: "d1", Content: "The governor enforces rate limits.", Metadata: map[string]string{"source": "governor.md"}},
	}}
	mem := &fakeMemory{
		facts:  map[string]string{"governor": "guards admission"},
		events: []core.EpisodicEvent{{Actor: "governor", Action: "governor", Details: map[string]any{"reason": "rate"}}},
	}
	inv := &recordingInvoker{text: "The governor guards admission [Source: governor.md]."}
	a := NewRetrievalAgent("archivist", inv, func(o *RetrievalAgentOptions) {
		o.Retriever = retriever
		o.Memory = mem
	})

	payloads, err := a.Process(context.Background(), newTestRequest("Wat doet de governor?"))
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	p := payloads[0]
	assert.Equal(t, "The governor guards admission [Source: governor.md].", p.Content)
	assert.Contains(t, p.DisplayText, "> Sources: governor.md")
	assert.Equal(t, []string{"governor.md"}, p.Metadata["sources"])
	assert.Nil(t, p.Metadata["degraded"])

	prompt := inv.last().LastUserText()
	assert.Contains(t, prompt, "FRAGMENT (Source: governor.md)")
	assert.Contains(t, prompt, "[Fact] governor: guards admission")
	assert.Contains(t, prompt, "[Event] governor/governor")
	assert.Equal(t, []string{"Wat doet de governor?", "governor"}, retriever.calls)
}

func TestRetrievalAgentFallsBackToRawContext(t *testing.T) {
	retriever := &fakeRetriever{docs: []core.Document{{ID: "notes.txt", Content: "Cooldown is sixty seconds."}}}
	a := NewRetrievalAgent("archivist", mockChain(nil, true), func(o *RetrievalAgentOptions) {
		o.Retriever = retriever
	})

	payloads, err := a.Process(context.Background(), newTestRequest("explain the cooldown"))
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	p := payloads[0]
	assert.False(t, p.IsError())
	assert.Contains(t, p.Content, "Cooldown is sixty seconds.")
	assert.Equal(t, true, p.Metadata["degraded"])
	assert.Equal(t, []string{"notes.txt"}, p.Metadata["sources"])
}

func TestRetrievalAgentToleratesCollaboratorFailure(t *testing.T) {
	a := NewRetrievalAgent("archivist", nil, func(o *RetrievalAgentOptions) {
		o.Retriever = &fakeRetriever{err: errors.New("index offline")}
	})
	payloads, err := a.Process(context.Background(), newTestRequest("anything about vectors"))
	require.NoError(t, err)
	assert.Equal(t, "No relevant sources were found.", payloads[0].Content)
}

func TestSearchQueries(t *testing.T) {
	assert.Nil(t, searchQueries("   ", 4))
	assert.Equal(t,
		[]string{"How does the circuit breaker work?", "circuit breaker work", "circuit", "breaker"},
		searchQueries("How does the circuit breaker work?", 4))
	assert.Equal(t, []string{"governor"}, searchQueries("governor", 4))
}

func TestDefaultRosterMatchesRoles(t *testing.T) {
	agents := DefaultRoster(&recordingInvoker{text: "ok"})
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name()
	}
	for _, r := range DefaultRoles() {
		assert.Contains(t, names, r.ID)
	}
	assert.Contains(t, names, "archivist")
	assert.Equal(t, "echo", names[len(names)-1])

	byName := map[string]core.Agent{}
	for _, a := range agents {
		byName[a.Name()] = a
	}
	for id, want := range map[string]core.ContentKind{
		"finance": core.KindMetric,
		"health":  core.KindChart,
		"oracle":  core.KindText,
	} {
		m, ok := byName[id].(*ModelAgent)
		require.True(t, ok, id)
		assert.Equal(t, want, m.kind, id)

		payloads, err := m.Process(context.Background(), core.NewRequest("q", ""))
		require.NoError(t, err)
		require.Len(t, payloads, 1)
		assert.Equal(t, want, payloads[0].Kind, id)
	}
}
