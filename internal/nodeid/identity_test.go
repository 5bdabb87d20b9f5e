package nodeid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripforge/itinerary-engine/internal/model"
)

func sampleItinerary() *model.Itinerary {
	return &model.Itinerary{
		ID:      "itin-1",
		Version: 1,
		Trip:    model.TripMetadata{Destination: "Lisbon"},
		Days: []model.Day{
			{
				DayNumber: 1,
				Date:      time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
				Nodes: []model.Node{
					{ID: "day1_node1", Title: "Breakfast", Type: model.NodeMeal, Location: model.Location{Name: "Cafe"}},
					{ID: "day1_node2", Title: "Castle tour", Type: model.NodeAttraction, Location: model.Location{Name: "Castle"}},
				},
			},
		},
	}
}

func TestMigrateIfNeeded_NoopWhenCanonical(t *testing.T) {
	it := sampleItinerary()
	out := MigrateIfNeeded(it)
	assert.Same(t, it, out)
	assert.Equal(t, 1, out.Version)
}

func TestMigrateIfNeeded_RenumbersAndBumpsVersion(t *testing.T) {
	it := sampleItinerary()
	it.Days[0].Nodes[0].ID = "legacy-id-1"

	out := MigrateIfNeeded(it)
	require.NotSame(t, it, out)
	assert.Equal(t, "day1_node1", out.Days[0].Nodes[0].ID)
	assert.Equal(t, "day1_node2", out.Days[0].Nodes[1].ID)
	assert.Equal(t, 2, out.Version)

	// original is untouched (deep copy before mutate)
	assert.Equal(t, "legacy-id-1", it.Days[0].Nodes[0].ID)
}

func TestMigrateIfNeeded_Idempotent(t *testing.T) {
	it := sampleItinerary()
	it.Days[0].Nodes[0].ID = "legacy-id-1"

	once := MigrateIfNeeded(it)
	twice := MigrateIfNeeded(once)
	assert.Same(t, once, twice)
	assert.Equal(t, once.Version, twice.Version)
}

func TestSummarizeForWorker_EnumeratesAllNodes(t *testing.T) {
	it := sampleItinerary()
	summary := SummarizeForWorker(it, "activity", 0)
	assert.Contains(t, summary, "day1_node1")
	assert.Contains(t, summary, "day1_node2")
	assert.Contains(t, summary, "Breakfast")
	assert.Contains(t, summary, "Castle tour")
}

func TestSummarizeForWorker_RespectsCharBudget(t *testing.T) {
	it := sampleItinerary()
	summary := SummarizeForWorker(it, "activity", 20)
	assert.LessOrEqual(t, len(summary), 20)
}

func TestValidateConsistency_DetectsDuplicateAndBlank(t *testing.T) {
	it := sampleItinerary()
	it.Days[0].Nodes[1].ID = "day1_node1"
	it.Days[0].Nodes[1].Title = "   "

	errs := ValidateConsistency(it)
	require.NotEmpty(t, errs)

	var sawDup, sawBlank bool
	for _, e := range errs {
		ce := e.(ConsistencyError)
		if ce.Reason == "duplicate identifier in day" {
			sawDup = true
		}
		if ce.Reason == "blank title" {
			sawBlank = true
		}
	}
	assert.True(t, sawDup)
	assert.True(t, sawBlank)
}

func TestValidateConsistency_DetectsInvertedWindow(t *testing.T) {
	it := sampleItinerary()
	it.Days[0].Nodes[0].Timing = model.Timing{StartEpochMillis: 2000, EndEpochMillis: 1000}

	errs := ValidateConsistency(it)
	require.NotEmpty(t, errs)
	assert.Equal(t, "start after end", errs[0].(ConsistencyError).Reason)
}

func TestValidateConsistency_CleanItineraryHasNoErrors(t *testing.T) {
	it := sampleItinerary()
	errs := ValidateConsistency(it)
	assert.Empty(t, errs)
}

func TestRenumberDay(t *testing.T) {
	day := &model.Day{
		DayNumber: 2,
		Nodes: []model.Node{
			{ID: "zzz"},
			{ID: "yyy"},
		},
	}
	RenumberDay(day)
	assert.Equal(t, "day2_node1", day.Nodes[0].ID)
	assert.Equal(t, "day2_node2", day.Nodes[1].ID)
}

func TestNextPosition(t *testing.T) {
	day, pos, ok := NextPosition("day3_node7")
	require.True(t, ok)
	assert.Equal(t, 3, day)
	assert.Equal(t, 7, pos)

	_, _, ok = NextPosition("not-canonical")
	assert.False(t, ok)
}
