// Package router classifies a request into the set of agents that should
// handle it. Classification is a pure scoring function over a declared
// capability table; every agent whose score clears the threshold is
// selected, so one request can fan out to several specialists.
package router

import (
	"fmt"
	"strings"
	"sync"
)

// Selection is one selected agent and its score.
type Selection struct {
	AgentID string
	Score   float64
}

// Intent is the result of classification. Selections are ordered by agent
// registration priority and are never empty.
type Intent struct {
	Selections []Selection
	// Scores holds the raw score of every registered agent.
	Scores map[string]float64
	// Fallback is set when no agent cleared the threshold (or the input was
	// blank) and the default agent was selected.
	Fallback bool
}

// AgentIDs returns the selected agent ids in priority order.
func (i Intent) AgentIDs() []string {
	ids := make([]string, len(i.Selections))
	for n, s := range i.Selections {
		ids[n] = s.AgentID
	}
	return ids
}

// Top returns the highest scoring selection. Ties break by registration
// priority.
func (i Intent) Top() Selection {
	var best Selection
	for n, s := range i.Selections {
		if n == 0 || s.Score > best.Score {
			best = s
		}
	}
	return best
}

// Options configures a Router.
type Options struct {
	// Threshold is the minimum score for selection.
	Threshold float64
	// DefaultAgent is selected when nothing else is.
	DefaultAgent string
	// Profiles is the initial capability table in priority order.
	Profiles []Profile
}

// Router scores requests against a capability table. Register and Classify
// are safe for concurrent use.
type Router struct {
	threshold    float64
	defaultAgent string

	mu       sync.RWMutex
	profiles []compiledProfile
	index    map[string]int
}

// New creates a Router. Without explicit profiles the router starts empty
// and classifies everything to the default agent.
func New(optFns ...func(o *Options)) *Router {
	opts := Options{
		Threshold:    0.5,
		DefaultAgent: "echo",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	r := &Router{
		threshold:    opts.Threshold,
		defaultAgent: opts.DefaultAgent,
		index:        make(map[string]int),
	}
	for _, p := range opts.Profiles {
		_ = r.Register(p)
	}
	return r
}

// DefaultAgent returns the fallback agent id.
func (r *Router) DefaultAgent() string { return r.defaultAgent }

// Register adds a profile at the lowest priority. Re-registering an agent
// replaces its profile but keeps its original priority.
func (r *Router) Register(p Profile) error {
	if strings.TrimSpace(p.AgentID) == "" {
		return fmt.Errorf("profile has no agent id")
	}
	cp := compile(p)

	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[p.AgentID]; ok {
		r.profiles[i] = cp
		return nil
	}
	r.index[p.AgentID] = len(r.profiles)
	r.profiles = append(r.profiles, cp)
	return nil
}

// Agents returns registered agent ids in priority order.
func (r *Router) Agents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.profiles))
	for i, p := range r.profiles {
		ids[i] = p.agentID
	}
	return ids
}

// Classify scores text against every profile and selects all agents at or
// above the threshold. Blank input goes straight to the default agent.
func (r *Router) Classify(text string) Intent {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return r.fallback(nil)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	scores := make(map[string]float64, len(r.profiles))
	var selected []Selection
	for _, p := range r.profiles {
		s := p.score(tokens)
		scores[p.agentID] = s
		if s > 0 && s >= r.threshold {
			selected = append(selected, Selection{AgentID: p.agentID, Score: s})
		}
	}
	selected = r.applySuppression(selected)
	if len(selected) == 0 {
		return r.fallback(scores)
	}
	return Intent{Selections: selected, Scores: scores}
}

// applySuppression drops agents suppressed by another selected agent.
// Callers must hold r.mu.
func (r *Router) applySuppression(selected []Selection) []Selection {
	if len(selected) < 2 {
		return selected
	}
	drop := map[string]bool{}
	for _, s := range selected {
		for _, victim := range r.profiles[r.index[s.AgentID]].suppresses {
			if victim != s.AgentID {
				drop[victim] = true
			}
		}
	}
	if len(drop) == 0 {
		return selected
	}
	kept := selected[:0]
	for _, s := range selected {
		if !drop[s.AgentID] {
			kept = append(kept, s)
		}
	}
	return kept
}

func (r *Router) fallback(scores map[string]float64) Intent {
	return Intent{
		Selections: []Selection{{AgentID: r.defaultAgent, Score: 0}},
		Scores:     scores,
		Fallback:   true,
	}
}
