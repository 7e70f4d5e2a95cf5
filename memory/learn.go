package memory

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Fact is a key/value pair learned from user input.
type Fact struct {
	Key   string
	Value string
}

// UserNameKey is the fact key under which a stated user name is kept.
const UserNameKey = "user_name"

var (
	namePhrase       = regexp.MustCompile(`(?i)\b(?:mijn naam is|my name is)\s+([^.,!?\n]+)`)
	preferencePhrase = regexp.MustCompile(`(?i)\b(?:ik houd? van|i (?:like|love))\s+([^.,!?\n]+)`)
)

const (
	maxNameLen       = 50
	maxPreferenceLen = 100
)

// ExtractFacts picks self-descriptions out of text: a stated name becomes the
// UserNameKey fact, the first stated preference a "preference:<value>" fact.
// Dutch and English phrasings are recognized.
func ExtractFacts(text string) []Fact {
	var facts []Fact
	if m := namePhrase.FindStringSubmatch(text); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" && utf8.RuneCountInString(name) < maxNameLen {
			facts = append(facts, Fact{Key: UserNameKey, Value: name})
		}
	}
	if m := preferencePhrase.FindStringSubmatch(text); m != nil {
		if pref := strings.TrimSpace(m[1]); pref != "" && utf8.RuneCountInString(pref) < maxPreferenceLen {
			facts = append(facts, Fact{Key: "preference:" + strings.ToLower(pref), Value: pref})
		}
	}
	return facts
}
