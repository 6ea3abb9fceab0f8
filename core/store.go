package core

// SearchResult represents a retrieved memory item with a relevance score and arbitrary metadata.
type SearchResult struct {
	ID       string
	Content  string
	Score    float64
	Metadata map[string]any
}

// PreferenceStore persists per-user preferences (key/value) and free-form
// notes. Backends are optional; the orchestrator works without one.
type PreferenceStore interface {
	Get(userID string) (map[string]any, error)
	Put(userID string, delta map[string]any) error
	Search(userID string, query string, limit int) ([]SearchResult, error)
	Store(userID string, content string, metadata map[string]any) error
	Delete(userID string, memoryID string) error
}
