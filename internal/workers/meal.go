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

// MealWorker fills meal slots, inferring breakfast/lunch/dinner from slot
// time.
type MealWorker struct{ base }

func NewMealWorker(client llm.Client, bus eventbus.Bus, logger telemetry.Logger) *MealWorker {
	return &MealWorker{base: newBase("meal", client, bus, logger)}
}

func (w *MealWorker) Capability() registry.Capability {
	return registry.Capability{
		TaskType:         registry.TaskPopulateMeals,
		ChatEnabled:      false,
		PopulatesInPlace: true,
	}
}

// mealSlotName infers the meal by hour-of-day from the epoch-millis start.
func mealSlotName(startMs int64) string {
	if startMs == 0 {
		return "meal"
	}
	hour := (startMs / 3_600_000) % 24
	switch {
	case hour < 11:
		return "breakfast"
	case hour < 16:
		return "lunch"
	default:
		return "dinner"
	}
}

func (w *MealWorker) Execute(ctx context.Context, req registry.Request) (registry.Result, error) {
	if err := checkTaskType(registry.TaskPopulateMeals, req.TaskType); err != nil {
		return registry.Result{}, err
	}
	it := req.Itinerary
	w.publishProgress(ctx, it.ID, req.ExecutionID, "population", 10, "populating meals")

	out := it.Clone()
	for di := range out.Days {
		day := &out.Days[di]
		for ni := range day.Nodes {
			n := &day.Nodes[ni]
			if n.Type != model.NodeMeal {
				continue
			}
			slot := mealSlotName(n.Timing.StartEpochMillis)
			prompt := fmt.Sprintf("Suggest a %s restaurant in %s for day %d", slot, it.Trip.Destination, day.DayNumber)
			content, err := w.client.GenerateStructured(ctx, prompt, llm.Schema{"title": "string", "location_name": "string"})
			if err != nil {
				w.logger.WarnWithContext(ctx, "meal worker: generation failed for node", map[string]interface{}{"node_id": n.ID, "error": err.Error()})
				continue
			}
			if title, ok := content["title"].(string); ok && title != "" {
				n.Title = title
			}
			if loc, ok := content["location_name"].(string); ok && loc != "" {
				n.Location.Name = loc
			}
			if n.Details == nil {
				n.Details = map[string]interface{}{}
			}
			n.Details["meal_slot"] = slot
		}
	}

	w.publishProgress(ctx, it.ID, req.ExecutionID, "population", 0, "meals populated")
	return registry.Result{Mutated: out}, nil
}
