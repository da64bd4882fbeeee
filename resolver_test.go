package fatfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func Test_splitPath(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{path: "", want: nil},
		{path: "/", want: nil},
		{path: "\\", want: nil},
		{path: "A", want: []string{"A"}},
		{path: "/A/B", want: []string{"A", "B"}},
		{path: "A\\B", want: []string{"A", "B"}},
		{path: "//A///B/", want: []string{"A", "B"}},
		{path: "A/./B", want: []string{"A", "B"}},
		{path: "A/../B", want: []string{"B"}},
		{path: "../A", want: []string{"A"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, splitPath(tt.path))
		})
	}
}

func Test_joinPath(t *testing.T) {
	assert.Equal(t, "/", joinPath())
	assert.Equal(t, "/A/B", joinPath("A", "B"))
	assert.Equal(t, "/A/B", joinPath("/A", "B"))
}

func Test_isSubPath(t *testing.T) {
	assert.True(t, isSubPath([]string{"a"}, []string{"A", "B"}))
	assert.False(t, isSubPath([]string{"A"}, []string{"A"}))
	assert.False(t, isSubPath([]string{"A", "B"}, []string{"A"}))
	assert.False(t, isSubPath([]string{"A"}, []string{"AB", "C"}))
}

func TestResolver_CacheIdentity(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)
	require.NoError(t, e.CreateDirectory("A/B"))

	first, err := e.resolver.resolveDirectory("A/B")
	require.NoError(t, err)
	second, err := e.resolver.resolveDirectory("/a/./b")
	require.NoError(t, err)
	assert.Same(t, first, second, "a directory has only one live instance")

	root, err := e.resolver.resolveDirectory("/")
	require.NoError(t, err)
	assert.Same(t, e.root, root)

	// ".." entries point to the root with cluster 0.
	up, err := e.resolver.directory(DirectoryEntry{Attributes: AttrDirectory})
	require.NoError(t, err)
	assert.Same(t, e.root, up)
}

func TestResolver_ChangesAreVisible(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)
	require.NoError(t, e.CreateDirectory("A"))

	dir, err := e.resolver.resolveDirectory("A")
	require.NoError(t, err)

	writeTestFile(t, e, "A/FILE.TXT", []byte("x"))

	// The already resolved instance sees the new file.
	entries, err := dir.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "FILE.TXT", entries[0].Name.String())
}

func TestResolver_NotADirectory(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)
	writeTestFile(t, e, "FILE.TXT", []byte("x"))

	_, err := e.resolver.resolveDirectory("FILE.TXT")
	assert.ErrorIs(t, err, ErrNotADirectory)

	_, _, err = e.resolver.resolveParent("FILE.TXT/X")
	assert.ErrorIs(t, err, ErrNotADirectory)

	_, _, err = e.resolver.resolveParent("/")
	assert.ErrorIs(t, err, ErrRootDirectory)
}

func Test_directoryCache(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)
	require.NoError(t, e.CreateDirectory("A"))
	a, err := e.Resolve("A")
	require.NoError(t, err)

	cache := newDirectoryCache(zaptest.NewLogger(t))
	old, err := newChainDirectory(e.vol, a.FirstCluster)
	require.NoError(t, err)
	cache.put(old)

	got, ok := cache.get(a.FirstCluster)
	require.True(t, ok)
	assert.Same(t, old, got)

	// Replacing closes the previous instance.
	replacement, err := newChainDirectory(e.vol, a.FirstCluster)
	require.NoError(t, err)
	cache.put(replacement)
	assert.True(t, old.closed)

	require.NoError(t, cache.forget(a.FirstCluster))
	assert.True(t, replacement.closed)
	_, ok = cache.get(a.FirstCluster)
	assert.False(t, ok)

	require.NoError(t, cache.forget(a.FirstCluster), "forgetting twice is fine")
	require.NoError(t, cache.close())
}
