package router

import (
	"strings"
	"unicode"
)

// DefaultTermWeight is the weight given to keywords and to terms declared
// without an explicit weight. It saturates the score, so a single keyword hit
// selects an agent at any threshold.
const DefaultTermWeight = 1.0

// Term is a weighted phrase in a capability profile. Phrases may span
// several words; each word matches an input token by prefix, so "biometr"
// matches "biometrics".
type Term struct {
	Phrase string  `toml:"phrase"`
	Weight float64 `toml:"weight"`
}

// Profile declares what an agent is good at.
type Profile struct {
	AgentID string `toml:"agent"`
	Terms   []Term `toml:"terms"`
	// Keywords is shorthand for Terms with DefaultTermWeight.
	Keywords []string `toml:"keywords"`
	// Suppresses lists agents dropped from the selection whenever this
	// agent is selected.
	Suppresses []string `toml:"suppresses"`
}

type compiledTerm struct {
	tokens []string
	weight float64
}

type compiledProfile struct {
	agentID    string
	terms      []compiledTerm
	suppresses []string
}

func compile(p Profile) compiledProfile {
	cp := compiledProfile{agentID: p.AgentID, suppresses: append([]string(nil), p.Suppresses...)}
	seen := map[string]bool{}
	add := func(phrase string, weight float64) {
		toks := tokenize(phrase)
		key := strings.Join(toks, " ")
		if len(toks) == 0 || seen[key] {
			return
		}
		seen[key] = true
		cp.terms = append(cp.terms, compiledTerm{tokens: toks, weight: weight})
	}
	for _, t := range p.Terms {
		w := t.Weight
		if w <= 0 {
			w = DefaultTermWeight
		}
		add(t.Phrase, w)
	}
	for _, kw := range p.Keywords {
		add(kw, DefaultTermWeight)
	}
	return cp
}

// tokenize lower-cases text and splits it on anything that is not a letter
// or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// matches reports whether the term's tokens occur consecutively in input,
// each term token being a prefix of the corresponding input token.
func (t compiledTerm) matches(input []string) bool {
	n := len(t.tokens)
	for i := 0; i+n <= len(input); i++ {
		ok := true
		for j := 0; j < n; j++ {
			if !strings.HasPrefix(input[i+j], t.tokens[j]) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// score is the saturating weighted overlap: the sum of the weights of every
// distinct matched term, capped at 1.
func (p compiledProfile) score(input []string) float64 {
	var s float64
	for _, t := range p.terms {
		if t.matches(input) {
			s += t.weight
		}
	}
	if s > 1 {
		return 1
	}
	return s
}

// DefaultProfiles returns the stock capability table in registration
// priority order.
func DefaultProfiles() []Profile {
	return []Profile{
		{AgentID: "engineer", Keywords: []string{
			"code", "debug", "refactor", "git", "functie", "function", "class",
			"programmeer", "program", "build", "compile", "test", "script",
			"python", "javascript", "golang", "schrijf", "algoritme", "algorithm",
			"implementeer", "implement", "bug", "error", "fout", "module", "import",
		}},
		{AgentID: "finance", Keywords: []string{
			"blockchain", "crypto", "encrypt", "decrypt", "smart contract",
			"bitcoin", "wallet", "token", "ethereum", "koers", "prijs", "price",
		}},
		{AgentID: "health", Keywords: []string{
			"health", "hrv", "biohack", "biodata", "biometr", "peptide",
			"gezondheid", "slaap", "sleep", "eiwit", "protein", "dna", "stress",
		}},
		{AgentID: "navigator", Keywords: []string{
			"zoek op", "web search", "fetch", "scrape", "api call", "onderzoek",
			"explore", "discover", "research",
		}},
		{AgentID: "oracle", Keywords: []string{
			"denk na", "logica", "logic", "redeneer", "reason", "droom",
			"bewustzijn", "evolve", "filosofie", "philosophy", "ethiek", "ethics",
			"waarom", "why", "hypothese", "hypothesis",
		}},
		{AgentID: "creative", Keywords: []string{
			"creatief", "creative", "idee", "idea", "brainstorm", "ascii",
			"kunst", "innovate", "design",
		}},
		{AgentID: "security", Keywords: []string{
			"beveilig", "security", "firewall", "audit", "threat",
		}},
		{AgentID: "archivist", Suppresses: []string{"engineer"}, Keywords: []string{
			"zoek kennis", "herinner", "remember", "rag", "vector", "semantic",
			"geheugen", "memory", "knowledge", "zoek in", "archief", "archive",
			"wat weten we over", "recall", "opzoeken", "doorzoek",
			"wat doet", "wat is", "what is", "hoe werkt", "how does", "leg uit",
			"explain", "vertel over", "beschrijf", "describe", "uitleg",
			"waarvoor", "wie is", "who is", "wat betekent", "doel van", "rol van",
			"informatie over", "meer over", "welke", "hoeveel", "waar zit",
			"waar staat", "wanneer",
		}},
		{AgentID: "data", Keywords: []string{
			"convert", "transform", "data clean", "etl", "csv", "dataset",
		}},
		{AgentID: "cleanup", Keywords: []string{
			"cleanup", "clean", "delete", "opruim", "cache", "garbage",
		}},
		{AgentID: "schedule", Keywords: []string{
			"schedule", "cronjob", "timer", "dag ritme", "bio ritme", "planning",
			"agenda", "deadline", "wanneer", "herinnering", "reminder",
		}},
	}
}
