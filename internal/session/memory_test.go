package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSaveGetDelete(t *testing.T) {
	store := NewMemoryStore(time.Hour, 0)
	defer store.Close()
	ctx := context.Background()

	sess, err := New()
	require.NoError(t, err)
	require.NotEmpty(t, sess.Token)
	require.False(t, sess.Authenticated())

	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Get(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.Token, got.Token)

	// The store hands out copies; mutating one must not leak into the
	// record.
	got.Principal = &Principal{ID: "x"}
	again, err := store.Get(ctx, sess.Token)
	require.NoError(t, err)
	assert.Nil(t, again.Principal)

	require.NoError(t, store.Delete(ctx, sess.Token))
	_, err = store.Get(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting again is not an error
	assert.NoError(t, store.Delete(ctx, sess.Token))
}

func TestMemoryStoreReadYourWrites(t *testing.T) {
	store := NewMemoryStore(time.Hour, 0)
	defer store.Close()
	ctx := context.Background()

	sess, err := New()
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, sess))

	sess.Principal = &Principal{ID: "u1", Email: "a@b.c", Roles: []string{"admin"}}
	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Get(ctx, sess.Token)
	require.NoError(t, err)
	require.True(t, got.Authenticated())
	assert.Equal(t, "u1", got.Principal.ID)
}

func TestMemoryStoreDeleteExpired(t *testing.T) {
	store := NewMemoryStore(time.Hour, 0)
	defer store.Close()
	ctx := context.Background()

	stale, err := New()
	require.NoError(t, err)
	stale.LastSeen = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.Save(ctx, stale))

	fresh, err := New()
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, fresh))

	n, err := store.DeleteExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Get(ctx, stale.Token)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, fresh.Token)
	assert.NoError(t, err)
}

func TestMemoryStoreJanitorEvicts(t *testing.T) {
	store := NewMemoryStore(time.Millisecond, 5*time.Millisecond)
	defer store.Close()
	ctx := context.Background()

	sess, err := New()
	require.NoError(t, err)
	sess.LastSeen = time.Now().Add(-time.Minute)
	require.NoError(t, store.Save(ctx, sess))

	assert.Eventually(t, func() bool {
		_, err := store.Get(ctx, sess.Token)
		return err == ErrNotFound
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	store := NewMemoryStore(time.Hour, 0)
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sess := &Session{
					Token:     fmt.Sprintf("tok-%d-%d", i, j),
					CreatedAt: time.Now(),
					LastSeen:  time.Now(),
				}
				_ = store.Save(ctx, sess)
				_, _ = store.Get(ctx, sess.Token)
				_, _ = store.DeleteExpired(ctx, time.Hour)
				_ = store.Delete(ctx, sess.Token)
			}
		}(i)
	}
	wg.Wait()
}

func TestNewSessionsHaveUniqueTokens(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sess, err := New()
		require.NoError(t, err)
		require.False(t, seen[sess.Token])
		seen[sess.Token] = true
	}
}
