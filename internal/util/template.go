// Package util holds small helpers shared by the agent packages.
package util

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

// instructions are rendered on every request; parsing once per distinct
// text is enough.
var parsed, _ = lru.New[string, *template.Template](256)

var funcs = template.FuncMap{
	"default": func(fallback, val any) any {
		if val == nil || val == "" {
			return fallback
		}
		return val
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},
	"truncate": func(n int, s string) string {
		if utf8.RuneCountInString(s) <= n {
			return s
		}
		return string([]rune(s)[:n]) + "…"
	},
}

// RenderTemplate renders text as a text/template against state. Text without
// template markers is returned unchanged. Parsed templates are cached and
// safe to execute concurrently.
func RenderTemplate(text string, state map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, ok := parsed.Get(text)
	if !ok {
		var err error
		tmpl, err = template.New("instruction").Funcs(funcs).Parse(text)
		if err != nil {
			return "", fmt.Errorf("parse instruction template: %w", err)
		}
		parsed.Add(text, tmpl)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, state); err != nil {
		return "", fmt.Errorf("render instruction template: %w", err)
	}
	return buf.String(), nil
}
