package initsvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripforge/itinerary-engine/internal/model"
	"github.com/tripforge/itinerary-engine/internal/store"
)

func TestCreate_BuildsEmptyDayShellAndPersists(t *testing.T) {
	s := store.NewMemoryStore()
	svc := New(s, s, nil)

	start := time.Date(2026, 1, 24, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 27, 0, 0, 0, 0, time.UTC)

	res, err := svc.Create(context.Background(), "user-1", CreateRequest{
		Destination: "Warsaw",
		DateRange:   model.DateRange{Start: start, End: end, Inclusive: true},
		Party:       model.Party{Adults: 2, Rooms: 1},
		BudgetTier:  model.BudgetMid,
		Interests:   []string{"museums"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.Itinerary.ID)
	assert.NotEmpty(t, res.ExecutionID)
	assert.Equal(t, model.StatusDraft, res.Itinerary.Status)
	require.Len(t, res.Itinerary.Days, 4)
	for i, d := range res.Itinerary.Days {
		assert.Equal(t, i+1, d.DayNumber)
		assert.Empty(t, d.Nodes)
	}

	loaded, err := s.Load(context.Background(), res.Itinerary.ID)
	require.NoError(t, err)
	assert.Equal(t, "Warsaw", loaded.Trip.Destination)

	owner, err := s.OwnerOf(context.Background(), res.Itinerary.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner)
}

func TestCreate_DefaultsCurrencyWhenUnset(t *testing.T) {
	s := store.NewMemoryStore()
	svc := New(s, s, nil)

	res, err := svc.Create(context.Background(), "user-1", CreateRequest{
		DateRange: model.DateRange{Start: time.Now(), End: time.Now()},
	})
	require.NoError(t, err)
	assert.Equal(t, "USD", res.Itinerary.Settings.Currency)
}

func TestCreate_SingleDayTripProducesOneDay(t *testing.T) {
	s := store.NewMemoryStore()
	svc := New(s, s, nil)

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	res, err := svc.Create(context.Background(), "user-1", CreateRequest{
		DateRange: model.DateRange{Start: day, End: day},
	})
	require.NoError(t, err)
	require.Len(t, res.Itinerary.Days, 1)
}

func TestCreate_ToleratesMissingOwnershipIndex(t *testing.T) {
	s := store.NewMemoryStore()
	svc := New(s, nil, nil)

	day := time.Now()
	res, err := svc.Create(context.Background(), "user-1", CreateRequest{
		DateRange: model.DateRange{Start: day, End: day},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Itinerary.ID)
}
