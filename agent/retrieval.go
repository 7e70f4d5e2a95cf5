package agent

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/logging"
	"github.com/hupe1980/agentswarm/model"
	"github.com/hupe1980/agentswarm/provider"
)

// Memory is the slice of the memory store the archivist reads from.
// *memory.Store implements it.
type Memory interface {
	Recall(ctx context.Context, key string) (string, bool, error)
	SearchEvents(ctx context.Context, query string, limit int) ([]core.EpisodicEvent, error)
}

// RetrievalAgentOptions configures a RetrievalAgent.
type RetrievalAgentOptions struct {
	Description string
	Instruction Instruction
	Retriever   core.Retriever
	Memory      Memory
	// TopK documents per search query.
	TopK int
	// MaxQueries bounds how many search queries are derived from the request.
	MaxQueries int
	// MaxFragments bounds the context handed to the model.
	MaxFragments int
	Logger       logging.Logger
}

// RetrievalAgent is the archivist: it gathers knowledge documents, semantic
// facts and episodic events relevant to the request and has the fallback
// chain answer from that context. When no provider is available the raw
// context is returned instead.
type RetrievalAgent struct {
	BaseAgent
	llm  Invoker
	opts RetrievalAgentOptions
	log  logging.Logger
}

var _ core.Agent = (*RetrievalAgent)(nil)

const defaultArchivistInstruction = `You are the archivist. Answer the question using only the knowledge below.
Cite sources as [Source: name]. If the answer is not in the knowledge, say so honestly.`

// NewRetrievalAgent creates a RetrievalAgent. llm may be nil, in which case
// the agent always returns the raw context.
func NewRetrievalAgent(name string, llm Invoker, optFns ...func(o *RetrievalAgentOptions)) *RetrievalAgent {
	opts := RetrievalAgentOptions{
		Instruction:  NewInstructionFromText(defaultArchivistInstruction),
		TopK:         5,
		MaxQueries:   4,
		MaxFragments: 8,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	a := &RetrievalAgent{
		BaseAgent: NewBaseAgent(name),
		llm:       llm,
		opts:      opts,
		log:       logging.OrNoOp(opts.Logger),
	}
	a.SetDescription(opts.Description)
	return a
}

type gathered struct {
	queries   []string
	fragments []string
	sources   []string
}

// Process implements core.Agent.
func (a *RetrievalAgent) Process(ctx context.Context, req core.Request) ([]core.ResultPayload, error) {
	g, err := a.gather(ctx, req.Text)
	if err != nil {
		return nil, err
	}

	knowledge := "No relevant sources were found."
	if len(g.fragments) > 0 {
		knowledge = strings.Join(g.fragments, "\n")
	}
	meta := map[string]any{
		"queries":   g.queries,
		"sources":   g.sources,
		"fragments": len(g.fragments),
	}

	answer, degraded, err := a.synthesize(ctx, req, knowledge)
	if err != nil {
		return nil, err
	}
	if degraded {
		meta["degraded"] = true
	}

	display := answer
	if len(g.sources) > 0 {
		display = fmt.Sprintf("%s\n\n> Sources: %s", answer, strings.Join(g.sources, ", "))
	}
	return []core.ResultPayload{{
		AgentID:     a.Name(),
		Kind:        core.KindText,
		Content:     answer,
		DisplayText: display,
		ProducedAt:  time.Now(),
		Metadata:    meta,
	}}, nil
}

func (a *RetrievalAgent) synthesize(ctx context.Context, req core.Request, knowledge string) (string, bool, error) {
	if a.llm == nil {
		return knowledge, true, nil
	}
	instructions, err := a.opts.Instruction.Resolve(req, map[string]any{"agent": a.Name()})
	if err != nil {
		return "", false, fmt.Errorf("resolve instruction: %w", err)
	}
	prompt := fmt.Sprintf("QUESTION: %s\n\nKNOWLEDGE:\n%s", req.Text, knowledge)

	res, err := a.llm.Invoke(ctx, model.NewRequest(instructions, prompt))
	switch {
	case err == nil && strings.TrimSpace(res.Response.Text) != "":
		return strings.TrimSpace(res.Response.Text), false, nil
	case err == nil, provider.IsExhausted(err):
		a.log.Warn("Archivist answering from raw context", "agent", a.Name(), "error", err)
		return knowledge, true, nil
	default:
		return "", false, err
	}
}

// gather runs every derived query against the retriever and the episodic
// log, and looks up key terms as semantic facts. Collaborator failures are
// logged and skipped.
func (a *RetrievalAgent) gather(ctx context.Context, text string) (gathered, error) {
	g := gathered{queries: searchQueries(text, a.opts.MaxQueries)}
	seen := map[string]bool{}
	sources := map[string]bool{}
	add := func(fragment, source string) {
		if seen[fragment] {
			return
		}
		seen[fragment] = true
		g.fragments = append(g.fragments, fragment)
		if source != "" {
			sources[source] = true
		}
	}

	for _, q := range g.queries {
		if err := ctx.Err(); err != nil {
			return gathered{}, err
		}
		if a.opts.Retriever != nil {
			docs, err := a.opts.Retriever.Query(ctx, q, a.opts.TopK)
			if err != nil {
				a.log.Warn("Retriever query failed", "query", q, "error", err)
			}
			for _, d := range docs {
				src := documentSource(d)
				add(fmt.Sprintf("---\nFRAGMENT (Source: %s):\n%s", src, d.Content), src)
			}
		}
		if a.opts.Memory != nil {
			events, err := a.opts.Memory.SearchEvents(ctx, q, 5)
			if err != nil {
				a.log.Warn("Event search failed", "query", q, "error", err)
			}
			for _, e := range events {
				add(fmt.Sprintf("[Event] %s/%s: %s", e.Actor, e.Action, truncate(fmt.Sprint(e.Details), 200)), "")
			}
		}
	}

	if a.opts.Memory != nil {
		for _, term := range keyTerms(text) {
			v, ok, err := a.opts.Memory.Recall(ctx, term)
			if err != nil {
				a.log.Warn("Fact recall failed", "key", term, "error", err)
				continue
			}
			if ok {
				add(fmt.Sprintf("[Fact] %s: %s", term, v), "")
			}
		}
	}

	if len(g.fragments) > a.opts.MaxFragments {
		g.fragments = g.fragments[:a.opts.MaxFragments]
	}
	for s := range sources {
		g.sources = append(g.sources, s)
	}
	sort.Strings(g.sources)
	return g, nil
}

func documentSource(d core.Document) string {
	for _, k := range []string{"source", "bron", "path"} {
		if v := d.Metadata[k]; v != "" {
			return v
		}
	}
	return d.ID
}

var stopWords = map[string]bool{
	// Dutch
	"wat": true, "hoe": true, "wie": true, "waar": true, "welke": true,
	"waarom": true, "wanneer": true, "doet": true, "werkt": true, "is": true,
	"zijn": true, "de": true, "het": true, "een": true, "van": true, "in": true,
	"op": true, "met": true, "voor": true, "over": true, "uit": true, "aan": true,
	"er": true, "dit": true, "dat": true, "nog": true, "ook": true, "al": true,
	"kan": true, "kun": true, "moet": true, "mag": true, "wil": true, "zou": true,
	"leg": true, "vertel": true, "beschrijf": true, "weten": true, "we": true,
	// English
	"what": true, "how": true, "who": true, "where": true, "which": true,
	"why": true, "when": true, "does": true, "the": true, "and": true,
	"are": true, "about": true, "tell": true, "explain": true, "describe": true,
}

// keyTerms returns the words of text that are neither stop words nor
// shorter than three letters, lower-cased and stripped of punctuation.
func keyTerms(text string) []string {
	var out []string
	for _, w := range strings.Fields(text) {
		w = strings.ToLower(strings.Trim(w, "?.,!:;\"'()"))
		if len(w) <= 2 || stopWords[w] || slices.Contains(out, w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

// searchQueries derives search queries: the request itself, then its key
// terms joined, then each key term on its own.
func searchQueries(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" || limit <= 0 {
		return nil
	}
	queries := []string{text}
	terms := keyTerms(text)
	candidates := append([]string{strings.Join(terms, " ")}, terms...)
	for _, c := range candidates {
		if len(queries) >= limit {
			break
		}
		if c != "" && !slices.Contains(queries, c) {
			queries = append(queries, c)
		}
	}
	return queries
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
