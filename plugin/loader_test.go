package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

const inlineManifest = `name: auto_greeter
triggers: [user_join]
source: |
  package main

  func HandleTrigger(trigger string, data map[string]interface{}) (map[string]interface{}, error) {
  	return map[string]interface{}{"action": "send_message", "message": "Labas!"}, nil
  }
`

func TestLoader_Sync(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "greeter.yaml"), inlineManifest)
	writeFile(t, filepath.Join(dir, "echo.go"), `package main

func HandleTrigger(trigger string, data map[string]interface{}) (map[string]interface{}, error) {
	return nil, nil
}
`)
	writeFile(t, filepath.Join(dir, "echo.yaml"), "name: echo\ntriggers: [message]\nfile: echo.go\nactive: false\n")
	writeFile(t, filepath.Join(dir, "broken.yaml"), "name: broken\ntriggers: [message]\n")

	r := NewRegistry()
	l := NewLoader(dir, r)

	loaded, err := l.Sync()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source or file is required")
	assert.ElementsMatch(t, []string{"auto_greeter", "echo"}, loaded)

	list := r.List()
	require.Len(t, list, 2)
	byName := map[string]Info{list[0].Name: list[0], list[1].Name: list[1]}
	assert.True(t, byName["auto_greeter"].Active)
	assert.False(t, byName["echo"].Active)

	// unchanged manifests are not re-registered
	require.NoError(t, os.Remove(filepath.Join(dir, "broken.yaml")))
	loaded, err = l.Sync()
	require.NoError(t, err)
	assert.Empty(t, loaded)

	// deleting a manifest removes its plugin
	require.NoError(t, os.Remove(filepath.Join(dir, "echo.yaml")))
	_, err = l.Sync()
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())
	assert.Empty(t, r.Subscribers(TriggerMessage))
}

func TestLoadManifest_Validation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.yaml")

	writeFile(t, path, "triggers: [x]\nsource: y\n")
	_, err := LoadManifest(path)
	assert.ErrorContains(t, err, "name is required")

	writeFile(t, path, "name: a\nsource: y\nfile: z.go\n")
	_, err = LoadManifest(path)
	assert.ErrorContains(t, err, "mutually exclusive")

	writeFile(t, path, "name: a\nfile: missing.go\n")
	_, err = LoadManifest(path)
	assert.Error(t, err)

	writeFile(t, path, "name: [unterminated\n")
	_, err = LoadManifest(path)
	assert.Error(t, err)
}

func TestLoader_Watch(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry()
	l := NewLoader(dir, r, func(o *LoaderOptions) { o.Debounce = 20 * time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Watch(ctx) }()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "greeter.yaml"), inlineManifest)

	assert.Eventually(t, func() bool { return r.Len() == 1 }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "greeter.yaml")))
	assert.Eventually(t, func() bool { return r.Len() == 0 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestLoader_WatchMissingDir(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "nope"), NewRegistry())
	assert.Error(t, l.Watch(context.Background()))
}
