// Package memory contains core.PreferenceStore implementations: a
// process-local InMemoryStore and, in memory/sqlite, a file-backed store.
// Both are keyed by user id; the orchestrator works without any store.
package memory
