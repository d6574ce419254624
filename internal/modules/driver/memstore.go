// README: In-memory driver profile store for single-process runs and tests.
package driver

import (
	"context"
	"sort"
	"sync"
	"time"

	"trigo/internal/types"
)

type MemStore struct {
	mu       sync.RWMutex
	profiles map[types.ID]Profile
}

func NewMemStore() *MemStore {
	return &MemStore{profiles: make(map[types.ID]Profile)}
}

func (m *MemStore) Get(_ context.Context, userID types.ID) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneProfile(p), nil
}

func (m *MemStore) SetOnline(_ context.Context, userID types.ID, online bool, _ time.Time) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	p.Online = online
	m.profiles[userID] = p
	return cloneProfile(p), nil
}

func (m *MemStore) SetLocation(_ context.Context, userID types.ID, loc types.Point, placeRef *string, at time.Time) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	p.Location = &loc
	p.PlaceRef = placeRef
	p.LocationUpdatedAt = &at
	m.profiles[userID] = p
	return cloneProfile(p), nil
}

func (m *MemStore) ListMatchable(_ context.Context) ([]Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Profile
	for _, p := range m.profiles {
		if p.Matchable() {
			out = append(out, *cloneProfile(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *MemStore) Upsert(_ context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = *cloneProfile(p)
	return nil
}

func cloneProfile(p Profile) *Profile {
	cp := p
	if p.Location != nil {
		loc := *p.Location
		cp.Location = &loc
	}
	if p.PlaceRef != nil {
		ref := *p.PlaceRef
		cp.PlaceRef = &ref
	}
	if p.LocationUpdatedAt != nil {
		at := *p.LocationUpdatedAt
		cp.LocationUpdatedAt = &at
	}
	return &cp
}
