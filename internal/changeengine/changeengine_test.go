package changeengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripforge/itinerary-engine/internal/model"
	"github.com/tripforge/itinerary-engine/internal/store"
)

func seedItinerary(t *testing.T, s *store.MemoryStore) {
	t.Helper()
	it := &model.Itinerary{
		ID:      "it-1",
		Version: 1,
		Settings: model.Settings{Currency: "EUR"},
		Days: []model.Day{
			{DayNumber: 1, Nodes: []model.Node{
				{ID: "day1_node1", Title: "Breakfast", Type: model.NodeMeal},
				{ID: "day1_node2", Title: "Castle", Type: model.NodeAttraction, Locked: true},
			}},
		},
	}
	require.NoError(t, s.Create(context.Background(), it))
}

func TestApply_BumpsVersionOnNonEmptyDiff(t *testing.T) {
	s := store.NewMemoryStore()
	seedItinerary(t, s)
	e := New(s, nil, nil, nil, nil, 100, time.Hour)

	cs := model.ChangeSet{
		BaseVersion: 1,
		Day:         1,
		Operations:  []model.Operation{{Kind: model.OpUpdate, TargetNodeID: "day1_node1", Fields: map[string]interface{}{"title": "Brunch"}}},
	}
	res, err := e.Apply(context.Background(), "it-1", cs)
	require.NoError(t, err)
	assert.Equal(t, 2, res.NewVersion)
	require.Len(t, res.Diff.Updated, 1)
	assert.Equal(t, "Brunch", res.Diff.Updated[0].After.Title)
}

func TestApply_EmptyDiffDoesNotBumpVersion(t *testing.T) {
	s := store.NewMemoryStore()
	seedItinerary(t, s)
	e := New(s, nil, nil, nil, nil, 100, time.Hour)

	cs := model.ChangeSet{
		BaseVersion: 1,
		Day:         1,
		Operations:  []model.Operation{{Kind: model.OpUpdate, TargetNodeID: "day1_node1", Fields: map[string]interface{}{"title": "Breakfast"}}},
	}
	res, err := e.Apply(context.Background(), "it-1", cs)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewVersion)
	assert.True(t, res.Diff.Empty())
}

func TestApply_StaleBaseVersionConflicts(t *testing.T) {
	s := store.NewMemoryStore()
	seedItinerary(t, s)
	e := New(s, nil, nil, nil, nil, 100, time.Hour)

	cs := model.ChangeSet{BaseVersion: 99, Day: 1, Operations: []model.Operation{{Kind: model.OpUpdate, TargetNodeID: "day1_node1", Fields: map[string]interface{}{"title": "X"}}}}
	_, err := e.Apply(context.Background(), "it-1", cs)
	assert.True(t, model.IsConflict(err))
}

func TestApply_NonexistentTargetLeavesItineraryUnchanged(t *testing.T) {
	s := store.NewMemoryStore()
	seedItinerary(t, s)
	e := New(s, nil, nil, nil, nil, 100, time.Hour)

	cs := model.ChangeSet{BaseVersion: 1, Day: 1, Operations: []model.Operation{{Kind: model.OpUpdate, TargetNodeID: "missing", Fields: map[string]interface{}{"title": "X"}}}}
	_, err := e.Apply(context.Background(), "it-1", cs)
	assert.True(t, model.IsNotFound(err))

	loaded, loadErr := s.Load(context.Background(), "it-1")
	require.NoError(t, loadErr)
	assert.Equal(t, 1, loaded.Version)
}

func TestApply_LockedNodeRefusesUpdate(t *testing.T) {
	s := store.NewMemoryStore()
	seedItinerary(t, s)
	e := New(s, nil, nil, nil, nil, 100, time.Hour)

	cs := model.ChangeSet{BaseVersion: 1, Day: 1, Operations: []model.Operation{{Kind: model.OpUpdate, TargetNodeID: "day1_node2", Fields: map[string]interface{}{"title": "New Castle"}}}}
	_, err := e.Apply(context.Background(), "it-1", cs)
	assert.True(t, model.IsConflict(err))
}

func TestApply_UnlockOperationIsAllowedOnLockedNode(t *testing.T) {
	s := store.NewMemoryStore()
	seedItinerary(t, s)
	e := New(s, nil, nil, nil, nil, 100, time.Hour)

	cs := model.ChangeSet{BaseVersion: 1, Day: 1, Operations: []model.Operation{{Kind: model.OpUpdate, TargetNodeID: "day1_node2", Fields: map[string]interface{}{"locked": false}}}}
	res, err := e.Apply(context.Background(), "it-1", cs)
	require.NoError(t, err)
	assert.False(t, res.Diff.Updated[0].After.Locked)
}

func TestApply_LockedTrueFieldDoesNotSmuggleOtherFieldChanges(t *testing.T) {
	s := store.NewMemoryStore()
	seedItinerary(t, s)
	e := New(s, nil, nil, nil, nil, 100, time.Hour)

	cs := model.ChangeSet{BaseVersion: 1, Day: 1, Operations: []model.Operation{
		{Kind: model.OpUpdate, TargetNodeID: "day1_node2", Fields: map[string]interface{}{"locked": true, "title": "hacked"}},
	}}
	_, err := e.Apply(context.Background(), "it-1", cs)
	assert.True(t, model.IsConflict(err))

	loaded, loadErr := s.Load(context.Background(), "it-1")
	require.NoError(t, loadErr)
	assert.Equal(t, "Castle", mustFindTitle(loaded, "day1_node2"))
}

func TestApply_ReplaceAppliesStartAndEndTimeOverrides(t *testing.T) {
	s := store.NewMemoryStore()
	seedItinerary(t, s)
	e := New(s, nil, nil, nil, nil, 100, time.Hour)

	cs := model.ChangeSet{
		BaseVersion: 1,
		Day:         1,
		Operations: []model.Operation{
			{
				Kind:              model.OpReplace,
				TargetNodeID:      "day1_node1",
				Node:              model.Node{Title: "Late Breakfast", Type: model.NodeMeal},
				StartTimeOverride: "15:00",
				EndTimeOverride:   "17:00",
			},
		},
	}
	res, err := e.Apply(context.Background(), "it-1", cs)
	require.NoError(t, err)
	require.Len(t, res.Diff.Updated, 1)

	after := res.Diff.Updated[0].After
	assert.Equal(t, "Late Breakfast", after.Title)
	require.True(t, after.Timing.HasWindow())

	start := time.UnixMilli(after.Timing.StartEpochMillis).UTC()
	end := time.UnixMilli(after.Timing.EndEpochMillis).UTC()
	assert.Equal(t, 15, start.Hour())
	assert.Equal(t, 17, end.Hour())
}

func TestApply_ReplaceRejectsEndBeforeStartOverride(t *testing.T) {
	s := store.NewMemoryStore()
	seedItinerary(t, s)
	e := New(s, nil, nil, nil, nil, 100, time.Hour)

	cs := model.ChangeSet{
		BaseVersion: 1,
		Day:         1,
		Operations: []model.Operation{
			{
				Kind:              model.OpReplace,
				TargetNodeID:      "day1_node1",
				Node:              model.Node{Title: "Late Breakfast", Type: model.NodeMeal},
				StartTimeOverride: "17:00",
				EndTimeOverride:   "15:00",
			},
		},
	}
	_, err := e.Apply(context.Background(), "it-1", cs)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestApply_IdempotentReplayReturnsCachedResult(t *testing.T) {
	s := store.NewMemoryStore()
	seedItinerary(t, s)
	e := New(s, nil, nil, nil, nil, 100, time.Hour)

	cs := model.ChangeSet{
		BaseVersion:    1,
		Day:            1,
		IdempotencyKey: "key-1",
		Operations:     []model.Operation{{Kind: model.OpUpdate, TargetNodeID: "day1_node1", Fields: map[string]interface{}{"title": "Brunch"}}},
	}
	res1, err := e.Apply(context.Background(), "it-1", cs)
	require.NoError(t, err)

	res2, err := e.Apply(context.Background(), "it-1", cs)
	require.NoError(t, err)
	assert.Equal(t, res1, res2)

	loaded, err := s.Load(context.Background(), "it-1")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Version)
}

func TestPropose_MatchesApplyDiffWithoutMutating(t *testing.T) {
	s := store.NewMemoryStore()
	seedItinerary(t, s)
	e := New(s, nil, nil, nil, nil, 100, time.Hour)

	it, err := s.Load(context.Background(), "it-1")
	require.NoError(t, err)

	cs := model.ChangeSet{BaseVersion: 1, Day: 1, Operations: []model.Operation{{Kind: model.OpUpdate, TargetNodeID: "day1_node1", Fields: map[string]interface{}{"title": "Brunch"}}}}
	proposedDiff, err := e.Propose(context.Background(), it, cs)
	require.NoError(t, err)

	applyRes, err := e.Apply(context.Background(), "it-1", cs)
	require.NoError(t, err)
	assert.Equal(t, proposedDiff, applyRes.Diff)

	reloaded, err := s.Load(context.Background(), "it-1")
	require.NoError(t, err)
	assert.Equal(t, "Brunch", mustFindTitle(reloaded, "day1_node1"))
}

func mustFindTitle(it *model.Itinerary, nodeID string) string {
	n, _, _ := it.FindNodeAnyDay(nodeID)
	if n == nil {
		return ""
	}
	return n.Title
}

func TestApply_InsertRenumbersDay(t *testing.T) {
	s := store.NewMemoryStore()
	seedItinerary(t, s)
	e := New(s, nil, nil, nil, nil, 100, time.Hour)

	cs := model.ChangeSet{
		BaseVersion: 1,
		Day:         1,
		Operations: []model.Operation{
			{Kind: model.OpInsert, Position: 0, Node: model.Node{Title: "New first stop", Type: model.NodeActivity}},
		},
	}
	res, err := e.Apply(context.Background(), "it-1", cs)
	require.NoError(t, err)
	assert.Equal(t, 2, res.NewVersion)

	it, err := s.Load(context.Background(), "it-1")
	require.NoError(t, err)
	require.Len(t, it.Days[0].Nodes, 3)
	assert.Equal(t, "day1_node1", it.Days[0].Nodes[0].ID)
	assert.Equal(t, "New first stop", it.Days[0].Nodes[0].Title)
	assert.Equal(t, "day1_node2", it.Days[0].Nodes[1].ID)
	assert.Equal(t, "day1_node3", it.Days[0].Nodes[2].ID)
}

func TestApply_DeleteRemovesAndRenumbers(t *testing.T) {
	s := store.NewMemoryStore()
	seedItinerary(t, s)
	e := New(s, nil, nil, nil, nil, 100, time.Hour)

	// node2 is locked; delete node1 instead.
	cs := model.ChangeSet{BaseVersion: 1, Day: 1, Operations: []model.Operation{{Kind: model.OpDelete, TargetNodeID: "day1_node1"}}}
	_, err := e.Apply(context.Background(), "it-1", cs)
	require.NoError(t, err)

	it, err := s.Load(context.Background(), "it-1")
	require.NoError(t, err)
	require.Len(t, it.Days[0].Nodes, 1)
	assert.Equal(t, "day1_node1", it.Days[0].Nodes[0].ID)
	assert.Equal(t, "Castle", it.Days[0].Nodes[0].Title)
}

func TestUndo_RestoresPreStateAsNewRevision(t *testing.T) {
	s := store.NewMemoryStore()
	seedItinerary(t, s)
	e := New(s, nil, nil, nil, nil, 100, time.Hour)
	ctx := context.Background()

	cs := model.ChangeSet{BaseVersion: 1, Day: 1, Operations: []model.Operation{{Kind: model.OpUpdate, TargetNodeID: "day1_node1", Fields: map[string]interface{}{"title": "Brunch"}}}}
	applyRes, err := e.Apply(ctx, "it-1", cs)
	require.NoError(t, err)
	require.Equal(t, 2, applyRes.NewVersion)

	newVersion, err := e.Undo(ctx, "it-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, newVersion)

	it, err := s.Load(ctx, "it-1")
	require.NoError(t, err)
	assert.Equal(t, "Breakfast", mustFindTitle(it, "day1_node1"))
}
