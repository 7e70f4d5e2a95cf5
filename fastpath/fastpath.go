// Package fastpath answers trivial conversational input (greetings,
// thanks, goodbyes) with a canned payload, bypassing routing and dispatch
// entirely.
package fastpath

import (
	"regexp"
	"strings"
	"time"

	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/logging"
)

// Category groups fast path patterns that share a canned response.
type Category string

const (
	Greeting        Category = "greeting"
	Acknowledgement Category = "acknowledgement"
	Farewell        Category = "farewell"
)

// Pattern binds an anchored expression to a response category.
type Pattern struct {
	Category Category
	Expr     *regexp.Regexp
}

// DefaultPatterns returns the stock Dutch and English patterns in match
// order.
func DefaultPatterns() []Pattern {
	p := func(c Category, expr string) Pattern {
		return Pattern{Category: c, Expr: regexp.MustCompile(expr)}
	}
	return []Pattern{
		p(Greeting, `^hallo\b`),
		p(Greeting, `^hoi\b`),
		p(Greeting, `^hey\b`),
		p(Greeting, `^hi\b`),
		p(Greeting, `^hello\b`),
		p(Greeting, `^goede(morgen|middag|avond)\b`),
		p(Greeting, `^good (morning|afternoon|evening)\b`),
		p(Greeting, `^yo\b`),
		p(Greeting, `^hoe gaat het`),
		p(Greeting, `^how are you`),
		p(Acknowledgement, `^bedankt`),
		p(Acknowledgement, `^dank je`),
		p(Acknowledgement, `^thanks\b`),
		p(Acknowledgement, `^thank you`),
		p(Farewell, `^doei\b`),
		p(Farewell, `^tot ziens`),
		p(Farewell, `^bye\b`),
		p(Farewell, `^goodbye\b`),
	}
}

// DefaultResponses returns the canned response per category.
func DefaultResponses() map[Category]string {
	return map[Category]string{
		Greeting:        "Hoi! Alle systemen operationeel. Waarmee kan ik helpen?",
		Acknowledgement: "Graag gedaan! Laat het weten als je nog iets nodig hebt.",
		Farewell:        "Tot ziens! De swarm blijft stand-by.",
	}
}

// Recorder receives the audit entry written for every fast path answer.
type Recorder interface {
	RecordEvent(actor, action string, details map[string]any) error
}

// Options configures a Matcher.
type Options struct {
	// AgentID is reported as the author of canned payloads.
	AgentID string
	// MaxWords: only inputs with fewer words are eligible.
	MaxWords  int
	Patterns  []Pattern
	Responses map[Category]string
	Recorder  Recorder
	Clock     func() time.Time
	// Logger defaults to a NoOp logger.
	Logger logging.Logger
}

// Matcher is a deterministic, side-effect-free (apart from auditing)
// short-circuit for trivial input. It is safe for concurrent use.
type Matcher struct {
	opts Options
}

// New creates a Matcher with the stock patterns.
func New(optFns ...func(o *Options)) *Matcher {
	opts := Options{
		AgentID:   "echo",
		MaxWords:  6,
		Patterns:  DefaultPatterns(),
		Responses: DefaultResponses(),
		Clock:     time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Matcher{opts: opts}
}

// Match returns the canned payload for text when the first matching pattern
// has a response. The second return value reports whether the fast path
// applies.
func (m *Matcher) Match(text string) (core.ResultPayload, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" || len(strings.Fields(lower)) >= m.opts.MaxWords {
		return core.ResultPayload{}, false
	}
	for _, p := range m.opts.Patterns {
		if !p.Expr.MatchString(lower) {
			continue
		}
		resp, ok := m.opts.Responses[p.Category]
		if !ok {
			return core.ResultPayload{}, false
		}
		if m.opts.Recorder != nil {
			if err := m.opts.Recorder.RecordEvent("swarm", "fast_track", map[string]any{
				"agent":    m.opts.AgentID,
				"category": string(p.Category),
			}); err != nil {
				m.opts.Logger.Warn("Fast path audit dropped", "category", string(p.Category), "error", err)
			}
		}
		return core.ResultPayload{
			AgentID:     m.opts.AgentID,
			Kind:        core.KindText,
			Content:     resp,
			DisplayText: resp,
			ProducedAt:  m.opts.Clock(),
			Metadata:    map[string]any{"fast_path": string(p.Category)},
		}, true
	}
	return core.ResultPayload{}, false
}
