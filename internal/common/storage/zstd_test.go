package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressedStoreRoundTrip(t *testing.T) {
	objects := NewMemoryStorage()
	store := NewCompressedStore(objects, "results")
	ctx := context.Background()
	payload := bytes.Repeat([]byte(`{"x":[1,2,3],"objective":12.5}`), 200)

	require.NoError(t, store.Put(ctx, "results/7/a.json.zst", payload))

	raw, err := objects.GetObject(ctx, "results", "results/7/a.json.zst")
	require.NoError(t, err)
	stored, err := io.ReadAll(raw)
	require.NoError(t, err)
	require.NoError(t, raw.Close())
	assert.Less(t, len(stored), len(payload), "payload is stored compressed")

	got, err := store.Get(ctx, "results/7/a.json.zst")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = store.Get(ctx, "results/7/missing.json.zst")
	assert.True(t, errors.Is(err, ErrObjectNotFound))
}

func TestCompressedStoreDeletePrefix(t *testing.T) {
	objects := NewMemoryStorage()
	store := NewCompressedStore(objects, "results")
	ctx := context.Background()
	for _, key := range []string{"results/1/a.json.zst", "results/1/b.json.zst", "results/10/c.json.zst"} {
		require.NoError(t, store.Put(ctx, key, []byte("data")))
	}

	n, err := store.DeletePrefix(ctx, "results/1/")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, objects.Len())

	n, err = store.DeletePrefix(ctx, "results/1/")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = store.DeletePrefix(ctx, "")
	assert.Error(t, err)
}
