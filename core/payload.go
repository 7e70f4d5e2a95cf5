package core

import (
	"fmt"
	"time"
)

// ContentKind tags the shape of a ResultPayload's content.
type ContentKind string

const (
	KindText   ContentKind = "text"
	KindCode   ContentKind = "code"
	KindMetric ContentKind = "metric"
	KindChart  ContentKind = "chart"
	KindError  ContentKind = "error"
)

// Valid reports whether k is one of the known kinds.
func (k ContentKind) Valid() bool {
	switch k {
	case KindText, KindCode, KindMetric, KindChart, KindError:
		return true
	default:
		return false
	}
}

// ResultPayload is the structured output unit produced by an agent.
//
// Content holds kind-specific data: a string for text, code and error
// payloads, a map or number for metrics, and an arbitrary chart description
// for charts. DisplayText is always a human readable rendering.
type ResultPayload struct {
	AgentID     string         `json:"agent"`
	Kind        ContentKind    `json:"type"`
	Content     any            `json:"content"`
	DisplayText string         `json:"display_text,omitempty"`
	ProducedAt  time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewTextPayload builds a text payload whose display text equals its content.
func NewTextPayload(agentID, text string) ResultPayload {
	return ResultPayload{
		AgentID:     agentID,
		Kind:        KindText,
		Content:     text,
		DisplayText: text,
		ProducedAt:  time.Now(),
	}
}

// NewErrorPayload converts an agent failure into an error-kind payload.
func NewErrorPayload(agentID string, err error) ResultPayload {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ResultPayload{
		AgentID:     agentID,
		Kind:        KindError,
		Content:     msg,
		DisplayText: fmt.Sprintf("%s failed: %s", agentID, msg),
		ProducedAt:  time.Now(),
	}
}

// IsError reports whether the payload represents a failed agent slot.
func (p ResultPayload) IsError() bool { return p.Kind == KindError }

// Text returns the display text, falling back to a string rendering of the
// content.
func (p ResultPayload) Text() string {
	if p.DisplayText != "" {
		return p.DisplayText
	}
	if s, ok := p.Content.(string); ok {
		return s
	}
	if p.Content == nil {
		return ""
	}
	return fmt.Sprintf("%v", p.Content)
}
