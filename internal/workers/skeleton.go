package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/tripforge/itinerary-engine/internal/eventbus"
	"github.com/tripforge/itinerary-engine/internal/llm"
	"github.com/tripforge/itinerary-engine/internal/model"
	"github.com/tripforge/itinerary-engine/internal/nodeid"
	"github.com/tripforge/itinerary-engine/internal/registry"
	"github.com/tripforge/itinerary-engine/internal/telemetry"
)

// SkeletonWorker produces the per-day structure of placeholder Nodes: title,
// type, and slot time only. It is the single blocking worker in the
// skeleton phase.
type SkeletonWorker struct {
	base
	slotsPerDay int
}

// NewSkeletonWorker builds a skeleton worker. slotsPerDay defaults to 4
// (breakfast, morning activity, lunch, afternoon activity) when 0.
func NewSkeletonWorker(client llm.Client, bus eventbus.Bus, logger telemetry.Logger, slotsPerDay int) *SkeletonWorker {
	if slotsPerDay <= 0 {
		slotsPerDay = 4
	}
	return &SkeletonWorker{base: newBase("skeleton", client, bus, logger), slotsPerDay: slotsPerDay}
}

func (w *SkeletonWorker) Capability() registry.Capability {
	return registry.Capability{
		TaskType:            registry.TaskCreate,
		Priority:            0,
		ChatEnabled:         false,
		RequiredInputFields: []string{"destination", "date_range", "party", "budget_tier"},
		PopulatesInPlace:    true,
	}
}

func (w *SkeletonWorker) Execute(ctx context.Context, req registry.Request) (registry.Result, error) {
	if err := checkTaskType(registry.TaskCreate, req.TaskType); err != nil {
		return registry.Result{}, err
	}
	it := req.Itinerary
	w.publishProgress(ctx, it.ID, req.ExecutionID, "skeleton", 0, "building day structure")

	days := it.Trip.DateRange.Days()
	out := it.Clone()
	out.Days = make([]model.Day, days)

	start := it.Trip.DateRange.Start
	slotTitles := []string{"Breakfast", "Morning activity", "Lunch", "Afternoon activity"}
	slotTypes := []model.NodeType{model.NodeMeal, model.NodeAttraction, model.NodeMeal, model.NodeAttraction}

	for d := 0; d < days; d++ {
		date := start.AddDate(0, 0, d)
		day := model.Day{DayNumber: d + 1, Date: date}
		for s := 0; s < w.slotsPerDay; s++ {
			title := "Activity"
			nt := model.NodeActivity
			if s < len(slotTitles) {
				title = slotTitles[s]
				nt = slotTypes[s]
			}
			day.Nodes = append(day.Nodes, model.Node{
				ID:    nodeid.CanonicalID(day.DayNumber, s+1),
				Title: fmt.Sprintf("%s (day %d)", title, d+1),
				Type:  nt,
				Timing: model.Timing{
					StartEpochMillis: date.Add(time.Duration(s*3) * time.Hour).UnixMilli(),
				},
			})
		}
		out.Days[d] = day
	}

	w.publishProgress(ctx, it.ID, req.ExecutionID, "skeleton", 10, "day structure complete")
	return registry.Result{Mutated: out}, nil
}
