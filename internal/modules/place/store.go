// README: Place directory backed by PostgreSQL plus an in-memory variant.
package place

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trigo/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, id int64) (*Place, error) {
	var p Place
	err := s.db.QueryRow(ctx, `
		SELECT name, address, lat, lng
		FROM places
		WHERE id = $1`, id,
	).Scan(&p.Name, &p.Address, &p.Point.Lat, &p.Point.Lng)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Ref = DirectoryRef(id)
	return &p, nil
}

// Create inserts a place and returns its reference. Used by seeding and tests.
func (s *Store) Create(ctx context.Context, name, address string, pt types.Point) (string, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO places (name, address, lat, lng)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, name, address, pt.Lat, pt.Lng,
	).Scan(&id)
	if err != nil {
		return "", err
	}
	return DirectoryRef(id), nil
}

// MemStore is a directory kept in process memory.
type MemStore struct {
	mu     sync.RWMutex
	nextID int64
	places map[int64]Place
}

func NewMemStore() *MemStore {
	return &MemStore{places: make(map[int64]Place)}
}

func (m *MemStore) Get(_ context.Context, id int64) (*Place, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.places[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemStore) Create(_ context.Context, name, address string, pt types.Point) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ref := strconv.FormatInt(m.nextID, 10)
	m.places[m.nextID] = Place{Ref: ref, Name: name, Address: address, Point: pt}
	return ref, nil
}
