package helper

import (
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionKey(t *testing.T) {
	key := CollectionKey("whales.pdf")
	assert.True(t, strings.HasPrefix(key, "pdf_collection_"))
	assert.Len(t, key, len("pdf_collection_")+8)
	assert.Equal(t, key, CollectionKey("whales.pdf"))
	assert.NotEqual(t, key, CollectionKey("dolphins.pdf"))
}

func TestGenerateUUID_Ordered(t *testing.T) {
	ids := make([]string, 50)
	for i := range ids {
		id, err := GenerateUUID()
		require.NoError(t, err)
		ids[i] = id
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestCreateFolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, CreateFolder(dir))
	require.NoError(t, CreateFolder(dir))
	assert.DirExists(t, dir)
	assert.Error(t, CreateFolder(""))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "héll...", Truncate("héllo world", 4))
	assert.Equal(t, "abc", Truncate("abc", 0))
}
