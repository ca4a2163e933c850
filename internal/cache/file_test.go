package cache_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-processor/internal/cache"
)

type municipio struct {
	Codigo string `json:"codigo_municipio"`
	Nome   string `json:"nome"`
}

func TestFileStore_PutGet(t *testing.T) {
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	store, err := cache.NewFileStore(t.TempDir(), cache.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	ctx := context.Background()
	value := []municipio{{Codigo: "4106902", Nome: "Curitiba"}}
	require.NoError(t, store.Put(ctx, "catalog:municipios", value))

	lookup, ok := store.Get(ctx, "catalog:municipios", time.Hour)
	require.True(t, ok)
	assert.False(t, lookup.Stale)
	assert.Equal(t, now.Unix(), lookup.CreatedAt.Unix())

	var got []municipio
	require.NoError(t, lookup.Decode(&got))
	assert.Equal(t, value, got)

	now = now.Add(2 * time.Hour)
	lookup, ok = store.Get(ctx, "catalog:municipios", time.Hour)
	require.True(t, ok)
	assert.True(t, lookup.Stale)
}

func TestFileStore_Miss(t *testing.T) {
	store, err := cache.NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, ok := store.Get(context.Background(), "never-written", time.Hour)
	assert.False(t, ok)
}

func TestFileStore_Overwrite(t *testing.T) {
	store, err := cache.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", map[string]any{"v": 1}))
	require.NoError(t, store.Put(ctx, "k", map[string]any{"v": 2}))

	lookup, ok := store.Get(ctx, "k", time.Hour)
	require.True(t, ok)
	assert.JSONEq(t, `{"v":2}`, string(lookup.Value))
}

func TestFileStore_Layout(t *testing.T) {
	dir := t.TempDir()
	store, err := cache.NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "catalog:convenio:4106902", map[string]any{"aderente": true}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not be left behind")

	name := entries[0].Name()
	assert.Equal(t, cache.HashKey("catalog:convenio:4106902")+".json", name)

	info, err := entries[0].Info()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"created_at"`))
	assert.True(t, strings.Contains(string(data), `"value":{"aderente":true}`))
}

func TestFileStore_CorruptEntriesAreMisses(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{{{"},
		{"missing value", `{"created_at": 1736942400}`},
		{"missing created_at", `{"value": {"a": 1}}`},
		{"null value", `{"created_at": 1736942400, "value": null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			store, err := cache.NewFileStore(dir)
			require.NoError(t, err)

			path := filepath.Join(dir, cache.HashKey("k")+".json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, ok := store.Get(context.Background(), "k", time.Hour)
			assert.False(t, ok)
		})
	}
}

func TestNewFileStore_EmptyDir(t *testing.T) {
	_, err := cache.NewFileStore("")
	assert.Error(t, err)
}

func TestHashKey_Stable(t *testing.T) {
	assert.Equal(t, cache.HashKey("a"), cache.HashKey("a"))
	assert.NotEqual(t, cache.HashKey("catalog:aliquota:4106902:0107:x"), cache.HashKey("catalog:aliquota:4106902:0107:y"))
	assert.Len(t, cache.HashKey("a"), 64)
}
