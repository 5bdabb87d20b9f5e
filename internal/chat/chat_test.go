package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripforge/itinerary-engine/internal/changeengine"
	"github.com/tripforge/itinerary-engine/internal/llm"
	"github.com/tripforge/itinerary-engine/internal/model"
	"github.com/tripforge/itinerary-engine/internal/registry"
	"github.com/tripforge/itinerary-engine/internal/store"
)

type fakeClassifier struct {
	response map[string]interface{}
	err      error
}

func (f fakeClassifier) GenerateStructured(_ context.Context, _ string, _ llm.Schema) (map[string]interface{}, error) {
	return f.response, f.err
}

type fakeExplainWorker struct{ answer string }

func (f fakeExplainWorker) Capability() registry.Capability {
	return registry.Capability{TaskType: registry.TaskExplain, ChatEnabled: true}
}
func (f fakeExplainWorker) Execute(context.Context, registry.Request) (registry.Result, error) {
	return registry.Result{Answer: f.answer}, nil
}

type fakeEditWorker struct{ nodeID string }

func (f fakeEditWorker) Capability() registry.Capability {
	return registry.Capability{TaskType: registry.TaskEdit, ChatEnabled: true, ProducesChangeSet: true}
}
func (f fakeEditWorker) Execute(_ context.Context, req registry.Request) (registry.Result, error) {
	target, _ := req.Payload["target_node_id"].(string)
	return registry.Result{ChangeSet: &model.ChangeSet{
		Day:        1,
		Operations: []model.Operation{{Kind: model.OpUpdate, TargetNodeID: target, Fields: map[string]interface{}{"title": "Updated"}}},
	}}, nil
}

func seed(t *testing.T, s *store.MemoryStore) {
	t.Helper()
	it := &model.Itinerary{
		ID:      "it-1",
		Version: 1,
		Days: []model.Day{
			{DayNumber: 1, Nodes: []model.Node{
				{ID: "day1_node1", Title: "Old Town Museum", Type: model.NodeAttraction},
				{ID: "day1_node2", Title: "City Park", Type: model.NodeAttraction},
			}},
		},
	}
	require.NoError(t, s.Create(context.Background(), it))
}

func TestHandle_LowConfidenceAsksForClarification(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s)
	reg := registry.New()
	client := fakeClassifier{response: map[string]interface{}{"intent": "edit", "confidence": 0.2}}

	o := New(s, reg, nil, client, nil, nil, 0.6)
	resp, err := o.Handle(context.Background(), Request{ItineraryID: "it-1", Text: "change it"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Clarification)
}

func TestHandle_ExplainReturnsAnswer(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s)
	reg := registry.New()
	require.NoError(t, reg.Register(fakeExplainWorker{answer: "Your trip has two attractions on day one."}))

	client := fakeClassifier{response: map[string]interface{}{"intent": "explain", "confidence": 0.9}}
	o := New(s, reg, nil, client, nil, nil, 0.6)

	resp, err := o.Handle(context.Background(), Request{ItineraryID: "it-1", Text: "what's on day 1?"})
	require.NoError(t, err)
	assert.Equal(t, "Your trip has two attractions on day one.", resp.Answer)
}

func TestHandle_AmbiguousReferentReturnsCandidates(t *testing.T) {
	s := store.NewMemoryStore()
	it := &model.Itinerary{
		ID:      "it-2",
		Version: 1,
		Days: []model.Day{
			{DayNumber: 1, Nodes: []model.Node{
				{ID: "day1_node1", Title: "Museum of Art", Type: model.NodeAttraction},
				{ID: "day1_node2", Title: "Museum of History", Type: model.NodeAttraction},
			}},
		},
	}
	require.NoError(t, s.Create(context.Background(), it))

	reg := registry.New()
	client := fakeClassifier{response: map[string]interface{}{"intent": "edit", "confidence": 0.9, "node_ref": "the museum"}}
	o := New(s, reg, nil, client, nil, nil, 0.6)

	resp, err := o.Handle(context.Background(), Request{ItineraryID: "it-2", Text: "rename the museum"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(resp.Candidates), 2)
}

func TestHandle_EditDispatchesChangeSetThroughEngine(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s)
	reg := registry.New()
	require.NoError(t, reg.Register(fakeEditWorker{}))
	engine := changeengine.New(s, nil, nil, nil, nil, 100, 0)

	client := fakeClassifier{response: map[string]interface{}{
		"intent": "edit", "confidence": 0.9, "node_ref": "Old Town Museum",
	}}
	o := New(s, reg, engine, client, nil, nil, 0.6)

	resp, err := o.Handle(context.Background(), Request{ItineraryID: "it-1", Text: "rename old town museum"})
	require.NoError(t, err)
	require.NotNil(t, resp.Applied)
	assert.Equal(t, 2, resp.Applied.NewVersion)
}

func TestHandle_UnknownIntentClarifies(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s)
	reg := registry.New()
	client := fakeClassifier{response: map[string]interface{}{"intent": "unknown", "confidence": 0.9}}
	o := New(s, reg, nil, client, nil, nil, 0.6)

	resp, err := o.Handle(context.Background(), Request{ItineraryID: "it-1", Text: "asdf"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Clarification)
}

func TestTitleScore_ExactBeatsPartial(t *testing.T) {
	assert.Greater(t, titleScore("old town museum", "old town museum"), titleScore("museum", "old town museum"))
}
