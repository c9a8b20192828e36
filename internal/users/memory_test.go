package users

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func init() {
	hashCost = bcrypt.MinCost
}

// memoryRepo is an in-memory Repository. Update holds the lock for the
// whole callback, mirroring the row lock taken by PGRepository.
type memoryRepo struct {
	mu     sync.Mutex
	users  []User
	nextID int64

	listErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{nextID: 1}
}

func (m *memoryRepo) index(id int64) int {
	for i := range m.users {
		if m.users[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *memoryRepo) List(ctx context.Context) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]User, len(m.users))
	copy(out, m.users)
	return out, nil
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	u := m.users[i]
	return &u, nil
}

func (m *memoryRepo) GetByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.users {
		if m.users[i].Username == username {
			u := m.users[i]
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRepo) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.users)), nil
}

func (m *memoryRepo) Create(ctx context.Context, user *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.users {
		if m.users[i].Username == user.Username {
			return nil, ErrDuplicateUsername
		}
	}
	u := *user
	u.ID = m.nextID
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.nextID++
	m.users = append(m.users, u)
	return &u, nil
}

func (m *memoryRepo) Update(ctx context.Context, id int64, fn func(*User) error) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	u := m.users[i]
	if err := fn(&u); err != nil {
		return nil, err
	}
	for j := range m.users {
		if j != i && m.users[j].Username == u.Username {
			return nil, ErrDuplicateUsername
		}
	}
	u.UpdatedAt = time.Now()
	m.users[i] = u
	return &u, nil
}

func (m *memoryRepo) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return ErrNotFound
	}
	m.users = append(m.users[:i], m.users[i+1:]...)
	return nil
}

type recordingRevoker struct {
	mu      sync.Mutex
	revoked []int64
	err     error
}

func (r *recordingRevoker) RevokeUser(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, userID)
	return r.err
}

// seedDirectory creates the admin (1), regular (2) and other (3) accounts.
func seedDirectory(t *testing.T) (*memoryRepo, *recordingRevoker, *Service) {
	t.Helper()
	repo := newMemoryRepo()
	seed := []struct {
		username, email, password string
		admin                     bool
	}{
		{"adminUser", "adminEmail@test.test", "adminPassword", true},
		{"regularUser", "regularEmail@test.test", "regularPassword", false},
		{"otherUser", "otherEmail@test.test", "otherPassword", false},
	}
	for _, s := range seed {
		u := &User{Username: s.username, Email: s.email, IsActive: true, IsSuperuser: s.admin}
		if err := u.SetPassword(s.password); err != nil {
			t.Fatalf("hash: %v", err)
		}
		if _, err := repo.Create(context.Background(), u); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	revoker := &recordingRevoker{}
	return repo, revoker, NewService(repo, revoker, nil)
}

func mustGet(t *testing.T, repo *memoryRepo, id int64) *User {
	t.Helper()
	u, err := repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %d: %v", id, err)
	}
	return u
}
