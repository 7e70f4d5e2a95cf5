package governor

import "regexp"

// injectionPatterns are matched against lower-cased input. English and Dutch
// phrasings of instruction override attempts are covered.
var injectionPatterns = compileAll(
	`ignore\s+(all\s+)?previous\s+instructions`,
	`vergeet\s+(alles|alle\s+instructies)`,
	`negeer\s+(alles|alle\s+instructies)`,
	`jailbreak`,
	`dan\s+mode`,
	`developer\s+mode`,
	`act\s+as\s+if\s+you\s+have\s+no`,
	`pretend\s+(you|that)\s+(are|have)\s+no`,
	`bypass\s+(safety|filter|restriction)`,
	`disregard\s+(your|all|safety)`,
	`system\s*prompt`,
	`repeat\s+the\s+(text|words)\s+above`,
	`output\s+(your|the)\s+(system|initial)`,
)

type piiPattern struct {
	label string
	re    *regexp.Regexp
}

// piiPatterns run in order, most specific first.
var piiPatterns = []piiPattern{
	{"EMAIL", regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9.-]+`)},
	{"IBAN", regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{4}\d{7,25}\b`)},
	{"CREDITCARD", regexp.MustCompile(`\b\d(?:[ -]?\d){12,18}\b`)},
	{"PHONE", regexp.MustCompile(`(?:\+31|\b0)[\s.-]?(?:[1-9]\d{1,2}[\s.-]?\d{6,7}|\d[\s.-]?\d{7})\b`)},
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// ScrubPII replaces e-mail addresses, IBANs, card numbers and Dutch phone
// numbers with bracketed placeholders such as "[EMAIL]".
func ScrubPII(text string) string {
	if text == "" {
		return text
	}
	for _, p := range piiPatterns {
		text = p.re.ReplaceAllLiteralString(text, "["+p.label+"]")
	}
	return text
}
