package room

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/neurallink/core"
)

type countingClearer struct{ clears int }

func (c *countingClearer) Clear() { c.clears++ }

func newRegistry(t *testing.T) (*Registry, *countingClearer) {
	t.Helper()
	w := &countingClearer{}
	r, err := NewRegistry(w)
	require.NoError(t, err)
	return r, w
}

func TestRegistry_Defaults(t *testing.T) {
	r, _ := newRegistry(t)
	assert.Equal(t, Living, r.Current().ID)
	assert.Equal(t, []string{Living, Library, Studio, Workshop, Think, Lounge}, r.IDs())

	prompt, jsonOnly := r.CurrentPrompt()
	assert.Contains(t, prompt, "{{.ai_id}}")
	assert.False(t, jsonOnly)

	studio, ok := r.Lookup("STUDIO")
	require.True(t, ok)
	assert.True(t, studio.RequiresJSON)
	assert.Len(t, r.Rooms(), 6)
}

func TestRegistry_ClassifyNavigation(t *testing.T) {
	r, _ := newRegistry(t)

	rm, ok := r.ClassifyNavigation("Labas, EIK Į BIBLIOTEKĄ prašau")
	require.True(t, ok)
	assert.Equal(t, Library, rm.ID)

	_, ok = r.ClassifyNavigation("just chatting about libraries")
	assert.False(t, ok)
}

func TestRegistry_ClassifyNavigationTableOrderWins(t *testing.T) {
	r, _ := newRegistry(t)
	// "/lounge" appears first in the text but library precedes lounge in the table.
	rm, ok := r.ClassifyNavigation("/lounge or /library?")
	require.True(t, ok)
	assert.Equal(t, Library, rm.ID)
}

func TestRegistry_SwitchClearsWindowEvenForSameRoom(t *testing.T) {
	r, w := newRegistry(t)

	rm, err := r.SwitchTo("library")
	require.NoError(t, err)
	assert.Equal(t, Library, rm.ID)
	assert.Equal(t, 1, w.clears)

	_, err = r.SwitchTo("library")
	require.NoError(t, err)
	assert.Equal(t, 2, w.clears)
	assert.Equal(t, Library, r.Current().ID)
}

func TestRegistry_SwitchUnknownRoomIsRejected(t *testing.T) {
	r, w := newRegistry(t)
	_, err := r.SwitchTo("kitchen")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrUnknownRoom))
	assert.Equal(t, Living, r.Current().ID)
	assert.Equal(t, 0, w.clears)
}

func TestNewRegistry_Validation(t *testing.T) {
	_, err := NewRegistry(nil)
	assert.Error(t, err)

	_, err = NewRegistry(&countingClearer{}, func(o *Options) { o.Initial = "kitchen" })
	assert.ErrorIs(t, err, core.ErrUnknownRoom)

	_, err = NewRegistry(&countingClearer{}, func(o *Options) {
		o.Navigation = []NavigationRule{{Keyword: "cook", Room: "kitchen"}}
	})
	assert.ErrorIs(t, err, core.ErrUnknownRoom)

	_, err = NewRegistry(&countingClearer{}, func(o *Options) {
		o.Rooms = append(DefaultRooms(), Room{ID: "Living"})
	})
	assert.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rooms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rooms:
  - id: library
    prompt: "Quiet please."
  - id: studio
    requires_json: false
navigation:
  - keyword: "knygos"
    room: library
`), 0o600))

	ov, err := LoadOverrides(path)
	require.NoError(t, err)

	opts := Options{Rooms: DefaultRooms(), Navigation: DefaultNavigation()}
	require.NoError(t, ov.Apply(&opts))

	r, err := NewRegistry(&countingClearer{}, func(o *Options) {
		o.Rooms = opts.Rooms
		o.Navigation = opts.Navigation
	})
	require.NoError(t, err)

	lib, _ := r.Lookup(Library)
	assert.Equal(t, "Quiet please.", lib.Prompt)
	studio, _ := r.Lookup(Studio)
	assert.False(t, studio.RequiresJSON)
	workshop, _ := r.Lookup(Workshop)
	assert.True(t, workshop.RequiresJSON, "untouched flag keeps default")

	rm, ok := r.ClassifyNavigation("Kur knygos?")
	require.True(t, ok)
	assert.Equal(t, Library, rm.ID)
	_, ok = r.ClassifyNavigation("/lounge")
	assert.False(t, ok, "navigation table replaced")
}

func TestOverrides_UnknownRoom(t *testing.T) {
	ov := &Overrides{Rooms: []RoomOverride{{ID: "kitchen"}}}
	opts := Options{Rooms: DefaultRooms()}
	assert.ErrorIs(t, ov.Apply(&opts), core.ErrUnknownRoom)
}
