package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripforge/itinerary-engine/internal/changeengine"
	"github.com/tripforge/itinerary-engine/internal/eventbus"
	"github.com/tripforge/itinerary-engine/internal/initsvc"
	"github.com/tripforge/itinerary-engine/internal/model"
	"github.com/tripforge/itinerary-engine/internal/store"
)

func newTestServer() (*Server, *store.MemoryStore) {
	s := store.NewMemoryStore()
	bus := eventbus.NewInProcessBus()
	engine := changeengine.New(s, bus, nil, nil, nil, 100, 0)
	init := initsvc.New(s, s, nil)
	srv := New(s, bus, nil, nil, engine, init, nil)
	return srv, s
}

func TestHandleHealthz_ReportsOK(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleCreate_ReturnsShellWithoutWaitingForPipeline(t *testing.T) {
	srv, s := newTestServer()
	body, _ := json.Marshal(map[string]interface{}{
		"user_id": "user-1", "destination": "Warsaw",
		"start": "2026-01-24", "end": "2026-01-27", "adults": 2, "rooms": 1,
		"budget_tier": "mid", "interests": []string{"museums"},
	})
	req := httptest.NewRequest(http.MethodPost, "/itineraries", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	itineraryID, _ := out["itinerary_id"].(string)
	require.NotEmpty(t, itineraryID)

	loaded, err := s.Load(context.Background(), itineraryID)
	require.NoError(t, err)
	assert.Len(t, loaded.Days, 4)
}

func TestHandleApplyChange_AppliesAndReturnsDiff(t *testing.T) {
	srv, s := newTestServer()
	createBody, _ := json.Marshal(map[string]interface{}{
		"user_id": "user-1", "destination": "Rome",
		"start": "2026-02-01", "end": "2026-02-01",
	})
	req := httptest.NewRequest(http.MethodPost, "/itineraries", bytes.NewReader(createBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	itineraryID := out["itinerary_id"].(string)

	it, err := s.Load(context.Background(), itineraryID)
	require.NoError(t, err)
	it.Days[0].Nodes = append(it.Days[0].Nodes, model.Node{ID: "day1_node1", Title: "Placeholder", Type: model.NodeAttraction})
	require.NoError(t, s.Save(context.Background(), it, it.Version))

	changeBody, _ := json.Marshal(map[string]interface{}{
		"base_version": 1,
		"day":          1,
		"operations": []map[string]interface{}{
			{"op": "update", "id": "day1_node1", "fields": map[string]interface{}{"title": "Updated"}},
		},
	})
	req2 := httptest.NewRequest(http.MethodPost, "/itineraries/"+itineraryID+"/changes", bytes.NewReader(changeBody))
	req2.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
}
