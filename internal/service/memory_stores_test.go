package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
	"github.com/surveyforge/surveyforge-backend/internal/repository"
	"github.com/surveyforge/surveyforge-backend/internal/security"
)

// memCredStore keeps credential records in a map. Methods the services never
// call fall through to the embedded nil interface and would panic loudly.
type memCredStore struct {
	repository.CredentialRepository
	mu        sync.Mutex
	records   map[string]*domain.Credential
	findErr   error
	touchErr  error
	touchHits int
}

func newMemCredStore() *memCredStore {
	return &memCredStore{records: map[string]*domain.Credential{}}
}

func (m *memCredStore) Insert(_ context.Context, c *domain.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.Digest == c.Digest {
			return repository.ErrDuplicateDigest
		}
	}
	c.CreatedAt = time.Now()
	m.records[c.ID] = c
	return nil
}

func (m *memCredStore) FindActiveByDigest(_ context.Context, digest string) (*domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, c := range m.records {
		if c.Digest == digest && c.Usable(time.Now()) {
			return c, nil
		}
	}
	return nil, repository.ErrCredentialNotFound
}

func (m *memCredStore) FindByDigest(_ context.Context, digest string) (*domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.records {
		if c.Digest == digest {
			return c, nil
		}
	}
	return nil, repository.ErrCredentialNotFound
}

func (m *memCredStore) TouchUsage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.touchErr != nil {
		return m.touchErr
	}
	if c, ok := m.records[id]; ok {
		now := time.Now()
		c.UsageCount++
		c.LastUsedAt = &now
		m.touchHits++
	}
	return nil
}

func (m *memCredStore) Revoke(_ context.Context, id, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.records[id]
	if !ok || !c.IsActive {
		return false, nil
	}
	m.deactivate(c, reason)
	return true, nil
}

func (m *memCredStore) RevokeAllForOwner(_ context.Context, ownerID uint, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.records {
		if c.OwnerID == ownerID && c.IsActive {
			m.deactivate(c, reason)
			n++
		}
	}
	return n, nil
}

func (m *memCredStore) SupersedeOwnerKind(_ context.Context, ownerID uint, kind domain.CredentialKind, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.records {
		if c.OwnerID == ownerID && c.Kind == kind && c.IsActive {
			m.deactivate(c, reason)
			n++
		}
	}
	return n, nil
}

func (m *memCredStore) ListActiveByOwner(_ context.Context, ownerID uint) ([]domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Credential
	for _, c := range m.records {
		if c.OwnerID == ownerID && c.Usable(time.Now()) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memCredStore) deactivate(c *domain.Credential, reason string) {
	now := time.Now()
	c.IsActive = false
	c.RevokedAt = &now
	c.RevokedReason = &reason
}

func (m *memCredStore) activeCount(ownerID uint) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.records {
		if c.OwnerID == ownerID && c.IsActive {
			n++
		}
	}
	return n
}

type memUserStore struct {
	repository.UserRepository
	mu     sync.Mutex
	users  map[uint]*domain.User
	nextID uint
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: map[uint]*domain.User{}}
}

func (m *memUserStore) Create(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	m.nextID++
	user.ID = m.nextID
	m.users[user.ID] = user
	return nil
}

func (m *memUserStore) FindByID(_ context.Context, id uint) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, repository.ErrUserNotFound
}

func (m *memUserStore) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *memUserStore) UpdatePassword(_ context.Context, id uint, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

func (m *memUserStore) MarkLogin(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		now := time.Now()
		u.LastLoginAt = &now
	}
	return nil
}

func (m *memUserStore) MarkEmailVerified(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.IsEmailVerified = true
	}
	return nil
}

func (m *memUserStore) addUser(t *testing.T, email, password string, active bool) *domain.User {
	t.Helper()
	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	u := &domain.User{
		ID:           m.nextID,
		Name:         "Test User",
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		IsActive:     active,
	}
	m.users[u.ID] = u
	return u
}

func newSessionFixture() (*SessionService, *memCredStore, *memUserStore) {
	creds := newMemCredStore()
	users := newMemUserStore()
	codec := security.NewTokenCodec("surveyforge-test", "0123456789abcdef0123456789abcdef")
	svc := NewSessionService(codec, creds, users, "1h", "15m", "1h", time.Second)
	return svc, creds, users
}
