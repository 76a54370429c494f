package store

import (
	"context"
	"errors"
	"strings"

	"example.com/chainfeed/internal/models"
)

// MockStore simulates the Cassandra read model for testing.
type MockStore struct {
	Entries    map[string][]models.Entry // keyed by lowercased author
	Profiles   map[string]models.Profile // keyed by lowercased address
	ShouldFail bool                      // flag to simulate failures
	FailFor    map[string]bool           // per-identity fetch failures
}

// NewMock initializes a new mock store
func NewMock() *MockStore {
	return &MockStore{
		Entries:  make(map[string][]models.Entry),
		Profiles: make(map[string]models.Profile),
		FailFor:  make(map[string]bool),
	}
}

func (m *MockStore) Close() {}

// ListEntries returns the entries recorded for one author.
func (m *MockStore) ListEntries(ctx context.Context, identity string) ([]models.Entry, error) {
	id := strings.ToLower(identity)
	if m.ShouldFail || m.FailFor[id] {
		return nil, errors.New("mock: list entries failed")
	}
	res := make([]models.Entry, len(m.Entries[id]))
	copy(res, m.Entries[id])
	return res, nil
}

// TotalLikes sums the recorded like counts for one author.
func (m *MockStore) TotalLikes(ctx context.Context, identity string) (int, error) {
	if m.ShouldFail {
		return 0, errors.New("mock: total likes failed")
	}
	total := 0
	for _, e := range m.Entries[strings.ToLower(identity)] {
		total += e.Likes
	}
	return total, nil
}

// UpsertEntry records a confirmed entry, replacing any copy with the same id.
func (m *MockStore) UpsertEntry(ctx context.Context, e models.Entry) error {
	if m.ShouldFail {
		return errors.New("mock: upsert entry failed")
	}
	author := strings.ToLower(e.Author)
	for i, cur := range m.Entries[author] {
		if cur.ID == e.ID {
			m.Entries[author][i] = e
			return nil
		}
	}
	m.Entries[author] = append(m.Entries[author], e)
	return nil
}

// ApplyLike overwrites a recorded entry's like count.
func (m *MockStore) ApplyLike(ctx context.Context, author, id string, likes int) error {
	if m.ShouldFail {
		return errors.New("mock: apply like failed")
	}
	for i, cur := range m.Entries[strings.ToLower(author)] {
		if cur.ID == id {
			m.Entries[strings.ToLower(author)][i].Likes = likes
			return nil
		}
	}
	return errors.New("mock: entry not found")
}

// GetProfile returns the recorded profile, or an unregistered zero profile.
func (m *MockStore) GetProfile(ctx context.Context, identity string) (models.Profile, error) {
	if m.ShouldFail {
		return models.Profile{}, errors.New("mock: get profile failed")
	}
	addr := strings.ToLower(identity)
	if p, ok := m.Profiles[addr]; ok {
		return p, nil
	}
	return models.Profile{Address: addr}, nil
}

// IsRegistered reports whether a profile was recorded for the address.
func (m *MockStore) IsRegistered(ctx context.Context, identity string) (bool, error) {
	if m.ShouldFail {
		return false, errors.New("mock: is registered failed")
	}
	_, ok := m.Profiles[strings.ToLower(identity)]
	return ok, nil
}

// UpsertProfile records a profile.
func (m *MockStore) UpsertProfile(ctx context.Context, p models.Profile) error {
	if m.ShouldFail {
		return errors.New("mock: upsert profile failed")
	}
	p.Address = strings.ToLower(p.Address)
	p.Registered = true
	m.Profiles[p.Address] = p
	return nil
}

// ---------------------------------------------
// MockStoreFail always returns errors for negative tests
type MockStoreFail struct{}

func (m *MockStoreFail) Close() {}

func (m *MockStoreFail) ListEntries(ctx context.Context, identity string) ([]models.Entry, error) {
	return nil, errors.New("mock store list entries failed")
}

func (m *MockStoreFail) TotalLikes(ctx context.Context, identity string) (int, error) {
	return 0, errors.New("mock store total likes failed")
}

func (m *MockStoreFail) UpsertEntry(ctx context.Context, e models.Entry) error {
	return errors.New("mock store upsert entry failed")
}

func (m *MockStoreFail) ApplyLike(ctx context.Context, author, id string, likes int) error {
	return errors.New("mock store apply like failed")
}

func (m *MockStoreFail) GetProfile(ctx context.Context, identity string) (models.Profile, error) {
	return models.Profile{}, errors.New("mock store get profile failed")
}

func (m *MockStoreFail) IsRegistered(ctx context.Context, identity string) (bool, error) {
	return false, errors.New("mock store is registered failed")
}

func (m *MockStoreFail) UpsertProfile(ctx context.Context, p models.Profile) error {
	return errors.New("mock store upsert profile failed")
}
