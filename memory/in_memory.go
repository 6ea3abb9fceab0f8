package memory

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/neurallink/core"
)

// ErrNotFound is returned by Delete for unknown note ids.
var ErrNotFound = errors.New("memory not found")

// StoredNote is the internal representation of a stored note.
type StoredNote struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// InMemoryStore is a process-local PreferenceStore offering
//  1. per-user key/value preferences (Get / Put)
//  2. append-only notes with case-insensitive substring Search
//
// Search returns notes oldest first with a constant score of 1.0.
type InMemoryStore struct {
	mu     sync.RWMutex
	prefs  map[string]map[string]any // userID -> key -> value
	notes  map[string][]StoredNote   // userID -> notes in insertion order
	nextID map[string]int
}

var _ core.PreferenceStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		prefs:  make(map[string]map[string]any),
		notes:  make(map[string][]StoredNote),
		nextID: make(map[string]int),
	}
}

// Get returns a shallow copy of the user's preferences.
func (m *InMemoryStore) Get(userID string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]any, len(m.prefs[userID]))
	for k, v := range m.prefs[userID] {
		result[k] = v
	}
	return result, nil
}

// Put merges delta into the user's preferences.
func (m *InMemoryStore) Put(userID string, delta map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.prefs[userID]; !exists {
		m.prefs[userID] = make(map[string]any)
	}
	for k, v := range delta {
		m.prefs[userID][k] = v
	}
	return nil
}

// Search matches notes containing query, ignoring case. An empty query
// matches everything; limit <= 0 means no limit.
func (m *InMemoryStore) Search(userID string, query string, limit int) ([]core.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := strings.ToLower(query)
	results := []core.SearchResult{}
	for _, n := range m.notes[userID] {
		if limit > 0 && len(results) >= limit {
			break
		}
		if q != "" && !strings.Contains(strings.ToLower(n.Content), q) {
			continue
		}
		md := make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			md[k] = v
		}
		results = append(results, core.SearchResult{ID: n.ID, Content: n.Content, Score: 1.0, Metadata: md})
	}
	return results, nil
}

// Store appends a note for the user.
func (m *InMemoryStore) Store(userID string, content string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("note_%d", m.nextID[userID])
	m.nextID[userID]++
	m.notes[userID] = append(m.notes[userID], StoredNote{ID: id, Content: content, Metadata: metadata})
	return nil
}

// Delete removes a note by id.
func (m *InMemoryStore) Delete(userID string, noteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	notes := m.notes[userID]
	for i, n := range notes {
		if n.ID == noteID {
			m.notes[userID] = append(notes[:i], notes[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
