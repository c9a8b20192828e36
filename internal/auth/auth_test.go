package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/privadome/privadome-api/internal/users"
)

type stubUsers struct {
	mu    sync.Mutex
	users map[int64]*users.User
}

func (s *stubUsers) Get(ctx context.Context, id int64) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *stubUsers) GetByUsername(ctx context.Context, username string) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, users.ErrNotFound
}

func (s *stubUsers) set(fn func(map[int64]*users.User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.users)
}

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	mr      *miniredis.Miniredis
	client  *redis.Client
	store   *RedisTokenStore
	users   *stubUsers
	clock   *fakeClock
	service *Service
}

var (
	hashOnce   sync.Once
	sharedHash string
)

// passwordHash hashes "secretPassword" once per test binary.
func passwordHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		h, err := users.HashPassword("secretPassword")
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		sharedHash = h
	})
	return sharedHash
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hash := passwordHash(t)
	dir := &stubUsers{users: map[int64]*users.User{
		1: {ID: 1, Username: "adminUser", PasswordHash: hash, IsActive: true, IsSuperuser: true},
		2: {ID: 2, Username: "regularUser", PasswordHash: hash, IsActive: true},
		3: {ID: 3, Username: "dormantUser", PasswordHash: hash, IsActive: false},
	}}
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewRedisTokenStore(client, 7*24*time.Hour)
	return &fixture{
		mr:      mr,
		client:  client,
		store:   store,
		users:   dir,
		clock:   clock,
		service: NewService(dir, store, nil, WithClock(clock.Now)),
	}
}
