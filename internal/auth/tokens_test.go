package auth

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexKey = regexp.MustCompile(`^[0-9a-f]{40}$`)

func TestObtainCreatesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	tok, err := f.store.Obtain(ctx, 2, now, TokenRotateAfter)
	require.NoError(t, err)
	assert.Regexp(t, hexKey, tok.Key)
	assert.Equal(t, int64(2), tok.UserID)
	assert.True(t, tok.Created.Equal(now))

	got, err := f.store.Lookup(ctx, tok.Key)
	require.NoError(t, err)
	assert.Equal(t, tok.Key, got.Key)
	assert.Equal(t, int64(2), got.UserID)
	assert.True(t, got.Created.Equal(now))
}

func TestObtainReusesFreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	first, err := f.store.Obtain(ctx, 2, now, TokenRotateAfter)
	require.NoError(t, err)
	second, err := f.store.Obtain(ctx, 2, now.Add(TokenRotateAfter), TokenRotateAfter)
	require.NoError(t, err)
	assert.Equal(t, first.Key, second.Key)
}

func TestObtainRotatesStaleToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	first, err := f.store.Obtain(ctx, 2, now, TokenRotateAfter)
	require.NoError(t, err)
	later := now.Add(TokenRotateAfter + time.Second)
	second, err := f.store.Obtain(ctx, 2, later, TokenRotateAfter)
	require.NoError(t, err)

	assert.NotEqual(t, first.Key, second.Key)
	assert.True(t, second.Created.Equal(later))
	_, err = f.store.Lookup(ctx, first.Key)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestObtainAppliesRetention(t *testing.T) {
	f := newFixture(t)

	tok, err := f.store.Obtain(context.Background(), 2, f.clock.Now(), TokenRotateAfter)
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, f.mr.TTL(tokenKey(tok.Key)))
	assert.Equal(t, 7*24*time.Hour, f.mr.TTL(userKey(2)))

	f.mr.FastForward(7*24*time.Hour + time.Second)
	_, err = f.store.Lookup(context.Background(), tok.Key)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestObtainConcurrentLoginsAgree(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	const workers = 6
	keys := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := f.store.Obtain(context.Background(), 2, now, TokenRotateAfter)
			errs[i] = err
			if tok != nil {
				keys[i] = tok.Key
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, keys[0], keys[i])
	}
	stored, err := f.client.Keys(context.Background(), "auth:token:*").Result()
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestLookupUnknownKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.Lookup(context.Background(), "0000000000000000000000000000000000000000")
	assert.ErrorIs(t, err, ErrTokenNotFound)
	_, err = f.store.Lookup(context.Background(), "")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRevokeUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, err := f.store.Obtain(ctx, 2, f.clock.Now(), TokenRotateAfter)
	require.NoError(t, err)
	require.NoError(t, f.store.RevokeUser(ctx, 2))

	_, err = f.store.Lookup(ctx, tok.Key)
	assert.ErrorIs(t, err, ErrTokenNotFound)
	assert.False(t, f.mr.Exists(userKey(2)))

	require.NoError(t, f.store.RevokeUser(ctx, 99))
}

func TestStoreReportsRedisFailure(t *testing.T) {
	f := newFixture(t)
	f.mr.Close()

	_, err := f.store.Lookup(context.Background(), "abc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTokenNotFound)
}
