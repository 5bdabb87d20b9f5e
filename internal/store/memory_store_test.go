package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripforge/itinerary-engine/internal/model"
)

func TestMemoryStore_CreateLoadRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	it := &model.Itinerary{ID: "it-1", Version: 1, Trip: model.TripMetadata{Destination: "Rome"}}
	require.NoError(t, s.Create(ctx, it))

	loaded, err := s.Load(ctx, "it-1")
	require.NoError(t, err)
	assert.Equal(t, "Rome", loaded.Trip.Destination)
	assert.Equal(t, 1, loaded.Version)
}

func TestMemoryStore_CreateRejectsDuplicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	it := &model.Itinerary{ID: "it-1", Version: 1}
	require.NoError(t, s.Create(ctx, it))
	err := s.Create(ctx, it)
	assert.Error(t, err)
}

func TestMemoryStore_LoadMissingReturnsNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Load(context.Background(), "missing")
	assert.True(t, model.IsNotFound(err))
}

func TestMemoryStore_SaveEnforcesExpectedVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	it := &model.Itinerary{ID: "it-1", Version: 1}
	require.NoError(t, s.Create(ctx, it))

	it.Version = 2
	require.NoError(t, s.Save(ctx, it, 1))

	stale := &model.Itinerary{ID: "it-1", Version: 3}
	err := s.Save(ctx, stale, 1)
	assert.True(t, model.IsConflict(err))
}

func TestMemoryStore_SaveDoesNotAliasCallerItinerary(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	it := &model.Itinerary{ID: "it-1", Version: 1, Days: []model.Day{{DayNumber: 1}}}
	require.NoError(t, s.Create(ctx, it))

	it.Version = 2
	it.Days[0].Notes = "mutated after save"
	require.NoError(t, s.Save(ctx, it, 1))

	loaded, err := s.Load(ctx, "it-1")
	require.NoError(t, err)
	loaded.Days[0].Notes = "mutated after load"

	reloaded, err := s.Load(ctx, "it-1")
	require.NoError(t, err)
	assert.NotEqual(t, "mutated after load", reloaded.Days[0].Notes)
}

func TestMemoryStore_ListRevisionsPaginatesNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.AppendRevision(ctx, model.Revision{ItineraryID: "it-1", RevisionNumber: i}))
	}

	page1, err := s.ListRevisions(ctx, "it-1", 2, 0)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, 5, page1[0].RevisionNumber)
	assert.Equal(t, 4, page1[1].RevisionNumber)

	page2, err := s.ListRevisions(ctx, "it-1", 2, page1[len(page1)-1].RevisionNumber)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, 3, page2[0].RevisionNumber)
	assert.Equal(t, 2, page2[1].RevisionNumber)
}

func TestMemoryStore_Healthcheck(t *testing.T) {
	s := NewMemoryStore()
	assert.NoError(t, s.Healthcheck(context.Background()))
}
