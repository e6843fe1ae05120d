package sessionstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "@me:example.org", "@peer:example.org")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "identityKeyBase64", "sessionKeyBase64", 1000))

	got, ok, err := store.Get(ctx, "identityKeyBase64")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sessionKeyBase64", got)

	_, ok, err = store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertOverwritesExistingSession(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "@me:example.org", "@peer:example.org")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "k1", "v1", 1))
	require.NoError(t, store.Put(ctx, "k1", "v2", 2))

	got, ok, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", got)
}

func TestAllReturnsEverySession(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "@me:example.org", "@peer:example.org")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "k1", "v1", 1))
	require.NoError(t, store.Put(ctx, "k2", "v2", 2))

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k1": "v1", "k2": "v2"}, all)
}

func TestDeleteRemovesSession(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "@me:example.org", "@peer:example.org")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "k1", "v1", 1))
	require.NoError(t, store.Delete(ctx, "k1"))

	_, ok, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileNameIsStableAndSanitized(t *testing.T) {
	name := FileName("@me:example.org", "@peer:example.org")
	assert.Equal(t, FileName("@me:example.org", "@peer:example.org"), name)
	assert.NotContains(t, name, ":")
	assert.NotContains(t, name, "@")
}
