package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssetStoreWrite(t *testing.T) {
	root := filepath.Join(t.TempDir(), "assets")
	store, err := NewAssetStore(root)
	require.NoError(t, err)

	name := store.NewFilename("ComfyUI_00042_.png")
	assert.True(t, strings.HasSuffix(name, ".png"))

	path, err := store.Write(name, []byte("image-bytes"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), data)
	assert.Equal(t, "/assets/files/"+name, store.URL(name))
}

func TestAssetStoreRejectsPathTraversal(t *testing.T) {
	store, err := NewAssetStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "../escape.png", "a/b.png", ".hidden"} {
		_, err := store.Write(name, []byte("x"))
		assert.Error(t, err, "name %q must be rejected", name)
	}
}

func TestNewFilenameUnique(t *testing.T) {
	store, err := NewAssetStore(t.TempDir())
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		name := store.NewFilename("out.png")
		assert.False(t, seen[name])
		seen[name] = true
	}

	assert.True(t, strings.HasSuffix(store.NewFilename("noext"), ".png"))
}
