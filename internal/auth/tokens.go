package auth

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// maxTxAttempts bounds optimistic transaction retries under contention.
const maxTxAttempts = 8

var (
	// ErrTokenNotFound indicates no token is stored under the key.
	ErrTokenNotFound = errors.New("auth: token not found")
	// ErrTokenContention indicates the rotation lost every optimistic retry.
	ErrTokenContention = errors.New("auth: token rotation contention")
)

// TokenStore persists at most one token per user.
type TokenStore interface {
	Lookup(ctx context.Context, key string) (*Token, error)
	// Obtain returns the user's token, creating one when absent and
	// replacing it when older than rotateAfter.
	Obtain(ctx context.Context, userID int64, now time.Time, rotateAfter time.Duration) (*Token, error)
	RevokeUser(ctx context.Context, userID int64) error
}

// RedisTokenStore keeps tokens in Redis. Each token lives under its key
// and the user pointer names the current key.
type RedisTokenStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisTokenStore constructs a store. retention is the housekeeping
// TTL applied to stored keys and must exceed TokenValidity.
func NewRedisTokenStore(client *redis.Client, retention time.Duration) *RedisTokenStore {
	if retention < TokenValidity {
		retention = 7 * 24 * time.Hour
	}
	return &RedisTokenStore{client: client, retention: retention}
}

func tokenKey(key string) string {
	return "auth:token:" + key
}

func userKey(userID int64) string {
	return "auth:user:" + strconv.FormatInt(userID, 10) + ":token"
}

// newKey returns 40 random hex characters.
func newKey() (string, error) {
	var raw [32]byte
	for i := 0; i < 2; i++ {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", err
		}
		copy(raw[i*16:], id[:])
	}
	return hex.EncodeToString(raw[:])[:40], nil
}

// Lookup fetches the token stored under key.
func (s *RedisTokenStore) Lookup(ctx context.Context, key string) (*Token, error) {
	if key == "" {
		return nil, ErrTokenNotFound
	}
	data, err := s.client.Get(ctx, tokenKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("auth: lookup token: %w", err)
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("auth: decode token: %w", err)
	}
	tok.Key = key
	return &tok, nil
}

// Obtain implements TokenStore. The read and the rotation run under
// WATCH on the user pointer so concurrent logins agree on one key.
func (s *RedisTokenStore) Obtain(ctx context.Context, userID int64, now time.Time, rotateAfter time.Duration) (*Token, error) {
	var result *Token
	err := s.watch(ctx, userKey(userID), func(tx *redis.Tx) error {
		current, err := s.current(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current != nil && current.Age(now) <= rotateAfter {
			result = current
			return nil
		}
		key, err := newKey()
		if err != nil {
			return fmt.Errorf("auth: generate key: %w", err)
		}
		next := Token{Key: key, UserID: userID, Created: now}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if current != nil {
				pipe.Del(ctx, tokenKey(current.Key))
			}
			pipe.Set(ctx, tokenKey(next.Key), data, s.retention)
			pipe.Set(ctx, userKey(userID), next.Key, s.retention)
			return nil
		})
		if err != nil {
			return err
		}
		result = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RevokeUser drops the user's token, if any.
func (s *RedisTokenStore) RevokeUser(ctx context.Context, userID int64) error {
	ptr := userKey(userID)
	return s.watch(ctx, ptr, func(tx *redis.Tx) error {
		key, err := tx.Get(ctx, ptr).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if key != "" {
				pipe.Del(ctx, tokenKey(key))
			}
			pipe.Del(ctx, ptr)
			return nil
		})
		return err
	})
}

func (s *RedisTokenStore) current(ctx context.Context, tx *redis.Tx, userID int64) (*Token, error) {
	key, err := tx.Get(ctx, userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	data, err := tx.Get(ctx, tokenKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("auth: decode token: %w", err)
	}
	tok.Key = key
	return &tok, nil
}

func (s *RedisTokenStore) watch(ctx context.Context, key string, fn func(*redis.Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, fn, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("auth: token transaction: %w", err)
	}
	return ErrTokenContention
}

var _ TokenStore = (*RedisTokenStore)(nil)
