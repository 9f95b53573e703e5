package persist

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "doc.json"), false)

	require.NoError(t, store.Save(doc{Name: "foo", Count: 3}))

	var loaded doc
	assert.True(t, store.Load(&loaded))
	assert.Equal(t, doc{Name: "foo", Count: 3}, loaded)
}

func TestSaveCreatesParentDirs(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "nested", "deeper", "doc.json"), true)

	require.NoError(t, store.Save([]string{"a", "b"}))

	var loaded []string
	assert.True(t, store.Load(&loaded))
	assert.Equal(t, []string{"a", "b"}, loaded)
}

func TestSaveIndented(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "doc.json"), true)
	require.NoError(t, store.Save(doc{Name: "foo"}))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"name\"")
}

func TestLoadMissingFile(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "nope.json"), false)

	loaded := doc{Name: "untouched"}
	assert.False(t, store.Load(&loaded))
	assert.Equal(t, "untouched", loaded.Name)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	store := New(path, false)
	loaded := doc{Name: "untouched"}
	assert.False(t, store.Load(&loaded))
	assert.Equal(t, "untouched", loaded.Name)
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	var loaded doc
	assert.False(t, New(path, false).Load(&loaded))
}

func TestSaveReplacesPreviousContent(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "doc.json"), false)
	require.NoError(t, store.Save([]int{1, 2, 3}))
	require.NoError(t, store.Save([]int{9}))

	var loaded []int
	assert.True(t, store.Load(&loaded))
	assert.Equal(t, []int{9}, loaded)
}

func TestLoadWithinRetention(t *testing.T) {
	tests := []struct {
		name      string
		age       time.Duration
		retention time.Duration
		expected  bool
	}{
		{name: "fresh file within window", age: 30 * time.Minute, retention: time.Hour, expected: true},
		{name: "stale file past window", age: 2 * time.Hour, retention: time.Hour, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := New(filepath.Join(t.TempDir(), "doc.json"), false)
			require.NoError(t, store.Save(doc{Name: "foo"}))

			stamp := time.Now().Add(-tt.age)
			require.NoError(t, os.Chtimes(store.Path(), stamp, stamp))

			var loaded doc
			assert.Equal(t, tt.expected, store.LoadWithin(&loaded, tt.retention))
		})
	}
}

func TestLoadWithinZeroRetentionNeverTrusts(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "doc.json"), false)
	require.NoError(t, store.Save(doc{Name: "foo"}))

	// Even a file written moments ago is discarded with retention zero.
	var loaded doc
	assert.False(t, store.LoadWithin(&loaded, 0))
}

func TestLoadWithinMissingFile(t *testing.T) {
	var loaded doc
	assert.False(t, New(filepath.Join(t.TempDir(), "nope.json"), false).LoadWithin(&loaded, time.Hour))
}
