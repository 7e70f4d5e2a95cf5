package agent

import (
	"maps"
	"time"

	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/internal/util"
)

// Provider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from the request, the clock, etc.
type Provider interface {
	Instruction(req core.Request) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(req core.Request) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(req core.Request) (string, error) { return f(req) }

// Instruction represents either a static instruction string or a dynamic
// provider. The resolved text is rendered as a text/template with the request
// fields available as {{.text}}, {{.caller}}, {{.correlation_id}} and
// {{.date}}.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(req core.Request) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// IsZero reports whether no instruction was configured.
func (i Instruction) IsZero() bool { return i.provider == nil && i.text == "" }

// Resolve returns the rendered instruction text, invoking the provider if
// needed. vars are merged over the request fields.
func (i Instruction) Resolve(req core.Request, vars map[string]any) (string, error) {
	text := i.text
	if i.provider != nil {
		var err error
		if text, err = i.provider.Instruction(req); err != nil {
			return "", err
		}
	}
	state := map[string]any{
		"text":           req.Text,
		"caller":         req.CallerID,
		"correlation_id": req.CorrelationID,
		"date":           req.ReceivedAt.Format(time.DateOnly),
	}
	maps.Copy(state, vars)
	return util.RenderTemplate(text, state)
}
