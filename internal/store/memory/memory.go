package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"saldo/internal/core"
	"saldo/internal/store"
)

var _ store.Repository = (*Store)(nil)

// Store keeps user documents in a map. Values are cloned on the way in and
// out so callers never share slices with the stored copy.
type Store struct {
	mu    sync.RWMutex
	users map[string]*core.User
	now   func() time.Time
}

func New() *Store {
	return &Store{users: make(map[string]*core.User), now: time.Now}
}

// NewFromFiles seeds the store from base/seed_users.json when present. The
// file holds a JSON array of user documents; a missing file yields an
// empty store.
func NewFromFiles(base string) (*Store, error) {
	s := New()
	data, err := os.ReadFile(filepath.Join(base, "seed_users.json"))
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var users []*core.User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	for _, u := range users {
		if u == nil || u.UserID == "" {
			continue
		}
		store.Normalize(u).Recompute()
		if u.Version == 0 {
			u.Version = 1
		}
		s.users[u.UserID] = u.Clone()
	}
	return s, nil
}

func (s *Store) Load(_ context.Context, userID string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", core.ErrNotFound, userID)
	}
	return u.Clone(), nil
}

func (s *Store) GetOrCreate(ctx context.Context, userID string) (*core.User, error) {
	return store.GetOrCreate(ctx, s, userID)
}

// Save implements the version check under the write lock.
func (s *Store) Save(_ context.Context, u *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored int64
	existing, ok := s.users[u.UserID]
	if ok {
		stored = existing.Version
	}
	if stored != u.Version {
		return fmt.Errorf("%w: user %s at version %d, have %d", store.ErrVersionConflict, u.UserID, stored, u.Version)
	}

	now := s.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	u.Version++
	s.users[u.UserID] = u.Clone()
	return nil
}

func (s *Store) ListUserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) Close() error { return nil }
