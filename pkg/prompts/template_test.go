package prompts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderInsertsValuesVerbatim(t *testing.T) {
	tmpl := New("policy", `The policy you must enforce is: "{{.Policy}}"`)

	out, err := tmpl.Render(map[string]interface{}{"Policy": `Never say "<b>" & co`})
	require.NoError(t, err)
	assert.Equal(t, `The policy you must enforce is: "Never say "<b>" & co"`, out)
}

func TestRenderMissingKeyFails(t *testing.T) {
	tmpl := New("policy", `{{.Policy}}`)
	_, err := tmpl.Render(map[string]interface{}{})
	assert.Error(t, err)
}

func TestParseError(t *testing.T) {
	tmpl := New("broken", `{{.Policy`)
	err := tmpl.Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestFileStoreGetAndResolve(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "security.tmpl"), []byte("custom {{.X}}"), 0o600))

	store, err := NewFileStore(dir)
	require.NoError(t, err)

	tmpl, err := store.Get(context.Background(), "security")
	require.NoError(t, err)
	out, err := tmpl.Render(map[string]interface{}{"X": "rules"})
	require.NoError(t, err)
	assert.Equal(t, "custom rules", out)

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	fallback := New("policy", "builtin")
	resolved, err := Resolve(context.Background(), store, "policy", fallback)
	require.NoError(t, err)
	assert.Same(t, fallback, resolved)

	resolved, err = Resolve(context.Background(), nil, "security", fallback)
	require.NoError(t, err)
	assert.Same(t, fallback, resolved)
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestNewFileStoreRequiresDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "x.tmpl")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := NewFileStore(file)
	assert.Error(t, err)
}
