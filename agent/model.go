package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/logging"
	"github.com/hupe1980/agentswarm/model"
	"github.com/hupe1980/agentswarm/provider"
)

// Invoker sends a model request through the provider fallback chain.
// *provider.Chain implements it.
type Invoker interface {
	Invoke(ctx context.Context, req model.Request) (provider.Result, error)
}

var _ Invoker = (*provider.Chain)(nil)

// Shaper post-processes the payload built from a completion, e.g. to pull a
// code block out of the text and change the payload kind.
type Shaper func(p core.ResultPayload) core.ResultPayload

// ModelAgentOptions configures a ModelAgent instance.
//
// Use functional options with NewModelAgent to override defaults.
type ModelAgentOptions struct {
	Description string
	Instruction Instruction
	// Kind of the produced payload. Defaults to core.KindText.
	Kind core.ContentKind
	// MaxTokens caps the completion; zero keeps the adapter default.
	MaxTokens int
	Shaper    Shaper
	Logger    logging.Logger
}

// ModelAgent answers a request with one completion from the provider
// fallback chain, framed by a role instruction.
//
// Provider exhaustion does not fail the agent: it produces a KindError
// payload explaining that no backend was available. Caller cancellation is
// returned as an error so the dispatcher can account for it.
type ModelAgent struct {
	BaseAgent
	llm         Invoker
	instruction Instruction
	kind        core.ContentKind
	maxTokens   int
	shaper      Shaper
	logger      logging.Logger
}

var _ core.Agent = (*ModelAgent)(nil)

// NewModelAgent creates a ModelAgent.
func NewModelAgent(name string, llm Invoker, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	opts := ModelAgentOptions{
		Kind:   core.KindText,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if !opts.Kind.Valid() {
		opts.Kind = core.KindText
	}

	a := &ModelAgent{
		BaseAgent:   NewBaseAgent(name),
		llm:         llm,
		instruction: opts.Instruction,
		kind:        opts.Kind,
		maxTokens:   opts.MaxTokens,
		shaper:      opts.Shaper,
		logger:      logging.OrNoOp(opts.Logger),
	}
	a.SetDescription(opts.Description)
	return a
}

// Process implements core.Agent.
func (a *ModelAgent) Process(ctx context.Context, req core.Request) ([]core.ResultPayload, error) {
	instructions, err := a.instruction.Resolve(req, map[string]any{"agent": a.Name()})
	if err != nil {
		return nil, fmt.Errorf("resolve instruction: %w", err)
	}

	mreq := model.NewRequest(instructions, req.Text)
	mreq.MaxTokens = a.maxTokens

	start := time.Now()
	res, err := a.llm.Invoke(ctx, mreq)
	if err != nil {
		if provider.IsExhausted(err) {
			a.logger.Warn("No provider available", "agent", a.Name(), "error", err)
			return []core.ResultPayload{core.NewErrorPayload(a.Name(), err)}, nil
		}
		return nil, err
	}

	text := strings.TrimSpace(res.Response.Text)
	if text == "" {
		return nil, errors.New("empty completion")
	}

	p := core.ResultPayload{
		AgentID:     a.Name(),
		Kind:        a.kind,
		Content:     text,
		DisplayText: text,
		ProducedAt:  time.Now(),
		Metadata: map[string]any{
			"provider":       res.ProviderID,
			"execution_time": time.Since(start).Seconds(),
		},
	}
	if a.shaper != nil {
		p = a.shaper(p)
	}
	return []core.ResultPayload{p}, nil
}

var fencedCode = regexp.MustCompile("(?s)```(\\w+)?\\n(.*?)```")

// CodeBlocks is a Shaper that turns a completion containing a fenced code
// block into a KindCode payload. Content becomes the first block; the full
// answer stays in DisplayText. Completions without a block are left as they
// are.
func CodeBlocks(p core.ResultPayload) core.ResultPayload {
	text, _ := p.Content.(string)
	m := fencedCode.FindStringSubmatch(text)
	if m == nil {
		return p
	}
	p.Kind = core.KindCode
	p.Content = strings.TrimSpace(m[2])
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	if m[1] != "" {
		p.Metadata["language"] = m[1]
	}
	return p
}
