package auth

import (
	"context"
	"sync"
	"time"

	"alyanspace.org/adminauth/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps identities and refresh records in process memory. A
// single mutex serializes writes, which makes rotation trivially atomic.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Identity
	byEmail map[string]string
	refresh map[string]map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Identity),
		byEmail: make(map[string]string),
		refresh: make(map[string]map[string]time.Time),
	}
}

func (s *MemoryStore) Identities(context.Context) IdentityStore        { return memIdentities{s} }
func (s *MemoryStore) RefreshTokens(context.Context) RefreshTokenStore { return memRefreshTokens{s} }
func (s *MemoryStore) Ping(context.Context) error                      { return nil }

// Identity store -----------------------------------------------------------
type memIdentities struct{ s *MemoryStore }

func (m memIdentities) Create(_ context.Context, ident *Identity) error {
	if ident == nil || ident.Email == "" {
		return ErrInvalidInput
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if ident.ID == "" {
		ident.ID = ids.New()
	}
	if _, ok := m.s.byEmail[ident.Email]; ok {
		return ErrAlreadyExists
	}
	if _, ok := m.s.byID[ident.ID]; ok {
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = now
	}
	if ident.UpdatedAt.IsZero() {
		ident.UpdatedAt = ident.CreatedAt
	}
	cp := *ident
	m.s.byID[cp.ID] = &cp
	m.s.byEmail[cp.Email] = cp.ID
	return nil
}

func (m memIdentities) Find(_ context.Context, id string) (*Identity, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	ident, ok := m.s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

func (m memIdentities) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	m.s.mu.RLock()
	id, ok := m.s.byEmail[email]
	m.s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.Find(ctx, id)
}

func (m memIdentities) TouchLogin(_ context.Context, id string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	ident, ok := m.s.byID[id]
	if !ok {
		return ErrNotFound
	}
	t := at.UTC()
	ident.LastLoginAt = &t
	ident.UpdatedAt = t
	return nil
}

func (m memIdentities) SetActive(_ context.Context, id string, active bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	ident, ok := m.s.byID[id]
	if !ok {
		return ErrNotFound
	}
	ident.IsActive = active
	ident.UpdatedAt = time.Now().UTC()
	return nil
}

// Refresh token store ------------------------------------------------------
type memRefreshTokens struct{ s *MemoryStore }

func (m memRefreshTokens) Create(_ context.Context, identityID string, rec RefreshRecord) error {
	if rec.Token == "" {
		return ErrInvalidInput
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.byID[identityID]; !ok {
		return ErrNotFound
	}
	set := m.s.refresh[identityID]
	if set == nil {
		set = make(map[string]time.Time)
		m.s.refresh[identityID] = set
	}
	set[rec.Token] = rec.CreatedAt.UTC()
	return nil
}

func (m memRefreshTokens) Rotate(_ context.Context, identityID, oldToken string, next RefreshRecord) error {
	if next.Token == "" {
		return ErrInvalidInput
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	set := m.s.refresh[identityID]
	if _, ok := set[oldToken]; !ok {
		return ErrTokenRevoked
	}
	delete(set, oldToken)
	set[next.Token] = next.CreatedAt.UTC()
	return nil
}

func (m memRefreshTokens) Remove(_ context.Context, identityID, token string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	delete(m.s.refresh[identityID], token)
	return nil
}

func (m memRefreshTokens) RemoveAll(_ context.Context, identityID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	delete(m.s.refresh, identityID)
	return nil
}

func (m memRefreshTokens) PurgeCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for _, set := range m.s.refresh {
		for tok, created := range set {
			if created.Before(cutoff) {
				delete(set, tok)
				n++
			}
		}
	}
	return n, nil
}

// count reports the live refresh records of an identity.
func (s *MemoryStore) count(identityID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.refresh[identityID])
}
