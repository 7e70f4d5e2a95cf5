// Package model defines the provider-agnostic abstractions and concrete
// helpers for interacting with generative backends inside the swarm.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI-compatible endpoints such as Groq and Ollama, Anthropic,
// Gemini) implement the Model interface from this package so higher layers
// (agents, the fallback chain) remain decoupled from vendor SDKs.
package model
