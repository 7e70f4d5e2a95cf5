// Package memory implements core.MemoryStore as a write-behind buffer over a
// pluggable Backend. The record types and the store contract reside in the
// core package; depend on core.MemoryStore in your code and pick a backend
// (memory/sqlite or the InMemoryBackend here) at wiring time.
//
// Writes append to a pending buffer and return immediately. A background
// flusher moves the buffer to the backend when it reaches FlushThreshold
// records or its oldest record reaches FlushInterval. When a journal is
// configured each batch is fsynced to it before the backend commit, so a
// crash between the two is repaired on the next start.
package memory
