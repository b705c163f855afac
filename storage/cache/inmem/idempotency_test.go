package inmemcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewIdempotencyStore()
	store.now = func() time.Time { return now }

	_, claimed, err := store.Reserve(ctx, "k", "h", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	rec, claimed, _ := store.Reserve(ctx, "k", "h", time.Minute)
	assert.False(t, claimed)
	assert.False(t, rec.Completed)

	require.NoError(t, store.Complete(ctx, "k", []byte("resp"), time.Minute))
	rec, claimed, _ = store.Reserve(ctx, "k", "other", time.Minute)
	assert.False(t, claimed)
	assert.True(t, rec.Completed)
	assert.Equal(t, "h", rec.RequestHash)
	assert.Equal(t, []byte("resp"), rec.Response)

	now = now.Add(time.Minute)
	_, claimed, _ = store.Reserve(ctx, "k", "other", time.Minute)
	assert.True(t, claimed, "expired")

	require.NoError(t, store.Release(ctx, "k"))
	_, claimed, _ = store.Reserve(ctx, "k", "again", time.Minute)
	assert.True(t, claimed)
}
