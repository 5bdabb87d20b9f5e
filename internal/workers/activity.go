package workers

import (
	"context"
	"fmt"

	"github.com/tripforge/itinerary-engine/internal/eventbus"
	"github.com/tripforge/itinerary-engine/internal/llm"
	"github.com/tripforge/itinerary-engine/internal/model"
	"github.com/tripforge/itinerary-engine/internal/registry"
	"github.com/tripforge/itinerary-engine/internal/telemetry"
)

// ActivityWorker fills attraction placeholders with real content, isolated
// to nodes of type attraction as the population phase requires.
type ActivityWorker struct{ base }

func NewActivityWorker(client llm.Client, bus eventbus.Bus, logger telemetry.Logger) *ActivityWorker {
	return &ActivityWorker{base: newBase("activity", client, bus, logger)}
}

func (w *ActivityWorker) Capability() registry.Capability {
	return registry.Capability{
		TaskType:            registry.TaskPopulateAttractions,
		Priority:            0,
		ChatEnabled:         false,
		RequiredInputFields: []string{"interests"},
		PopulatesInPlace:    true,
	}
}

func (w *ActivityWorker) Execute(ctx context.Context, req registry.Request) (registry.Result, error) {
	if err := checkTaskType(registry.TaskPopulateAttractions, req.TaskType); err != nil {
		return registry.Result{}, err
	}
	it := req.Itinerary
	w.publishProgress(ctx, it.ID, req.ExecutionID, "population", 10, "populating attractions")

	out := it.Clone()
	for di := range out.Days {
		day := &out.Days[di]
		for ni := range day.Nodes {
			n := &day.Nodes[ni]
			if n.Type != model.NodeAttraction {
				continue
			}
			prompt := fmt.Sprintf("Suggest an attraction for day %d matching interests %v in %s", day.DayNumber, it.Trip.Interests, it.Trip.Destination)
			content, err := w.client.GenerateStructured(ctx, prompt, llm.Schema{"title": "string", "location_name": "string", "duration_minutes": "number"})
			if err != nil {
				w.logger.WarnWithContext(ctx, "activity worker: generation failed for node", map[string]interface{}{"node_id": n.ID, "error": err.Error()})
				continue
			}
			if title, ok := content["title"].(string); ok && title != "" {
				n.Title = title
			}
			if loc, ok := content["location_name"].(string); ok && loc != "" {
				n.Location.Name = loc
			}
			if dur, ok := content["duration_minutes"].(float64); ok {
				n.Timing.DurationMinutes = int(dur)
			}
		}
	}

	w.publishProgress(ctx, it.ID, req.ExecutionID, "population", 0, "attractions populated")
	return registry.Result{Mutated: out}, nil
}
