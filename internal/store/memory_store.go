package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tripforge/itinerary-engine/internal/model"
)

// MemoryStore is an in-process Store, used in tests and single-instance
// deployments without Redis configured. It also implements OwnershipIndex.
type MemoryStore struct {
	mu        sync.RWMutex
	items     map[string]*model.Itinerary
	revisions map[string][]model.Revision
	owners    map[string]string   // itineraryID -> userID
	trips     map[string][]string // userID -> itineraryIDs
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:     make(map[string]*model.Itinerary),
		revisions: make(map[string][]model.Revision),
		owners:    make(map[string]string),
		trips:     make(map[string][]string),
	}
}

func (s *MemoryStore) LinkOwnership(_ context.Context, userID, itineraryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.owners[itineraryID]; !exists {
		s.trips[userID] = append(s.trips[userID], itineraryID)
	}
	s.owners[itineraryID] = userID
	return nil
}

func (s *MemoryStore) OwnerOf(_ context.Context, itineraryID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.owners[itineraryID]
	if !ok {
		return "", model.NewErrorWithID("store.OwnerOf", itineraryID, model.ErrNodeNotFound)
	}
	return owner, nil
}

func (s *MemoryStore) TripsFor(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.trips[userID]))
	copy(out, s.trips[userID])
	return out, nil
}

func (s *MemoryStore) Load(_ context.Context, itineraryID string) (*model.Itinerary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[itineraryID]
	if !ok {
		return nil, model.NewErrorWithID("store.Load", itineraryID, model.ErrNodeNotFound)
	}
	return it.Clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, it *model.Itinerary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[it.ID]; exists {
		return model.NewErrorWithID("store.Create", it.ID, fmt.Errorf("itinerary already exists"))
	}
	s.items[it.ID] = it.Clone()
	return nil
}

func (s *MemoryStore) Save(_ context.Context, it *model.Itinerary, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[it.ID]
	if !ok {
		return model.NewErrorWithID("store.Save", it.ID, model.ErrNodeNotFound)
	}
	if cur.Version != expectedVersion {
		return model.NewErrorWithID("store.Save", it.ID, model.ErrVersionConflict)
	}
	s.items[it.ID] = it.Clone()
	return nil
}

func (s *MemoryStore) AppendRevision(_ context.Context, rev model.Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revisions[rev.ItineraryID] = append(s.revisions[rev.ItineraryID], rev)
	return nil
}

func (s *MemoryStore) ListRevisions(_ context.Context, itineraryID string, limit int, beforeRevision int) ([]model.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.revisions[itineraryID]
	sorted := make([]model.Revision, len(all))
	copy(sorted, all)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RevisionNumber > sorted[j].RevisionNumber })

	var out []model.Revision
	for _, r := range sorted {
		if beforeRevision > 0 && r.RevisionNumber >= beforeRevision {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Healthcheck(_ context.Context) error {
	return nil
}
