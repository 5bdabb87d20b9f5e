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

// TransportWorker fills transit slots with mode, duration, and a cost
// estimate.
type TransportWorker struct{ base }

func NewTransportWorker(client llm.Client, bus eventbus.Bus, logger telemetry.Logger) *TransportWorker {
	return &TransportWorker{base: newBase("transport", client, bus, logger)}
}

func (w *TransportWorker) Capability() registry.Capability {
	return registry.Capability{
		TaskType:         registry.TaskPopulateTransport,
		ChatEnabled:      false,
		PopulatesInPlace: true,
	}
}

func (w *TransportWorker) Execute(ctx context.Context, req registry.Request) (registry.Result, error) {
	if err := checkTaskType(registry.TaskPopulateTransport, req.TaskType); err != nil {
		return registry.Result{}, err
	}
	it := req.Itinerary
	w.publishProgress(ctx, it.ID, req.ExecutionID, "population", 10, "populating transport")

	out := it.Clone()
	for di := range out.Days {
		day := &out.Days[di]
		for ni := range day.Nodes {
			n := &day.Nodes[ni]
			if n.Type != model.NodeTransit {
				continue
			}
			prompt := fmt.Sprintf("Estimate transit mode, duration, and cost between stops on day %d in %s", day.DayNumber, it.Trip.Destination)
			content, err := w.client.GenerateStructured(ctx, prompt, llm.Schema{"mode": "string", "duration_minutes": "number", "cost_amount": "number"})
			if err != nil {
				w.logger.WarnWithContext(ctx, "transport worker: generation failed for node", map[string]interface{}{"node_id": n.ID, "error": err.Error()})
				continue
			}
			if mode, ok := content["mode"].(string); ok && mode != "" {
				if n.Details == nil {
					n.Details = map[string]interface{}{}
				}
				n.Details["mode"] = mode
			}
			if dur, ok := content["duration_minutes"].(float64); ok {
				n.Timing.DurationMinutes = int(dur)
			}
			if cost, ok := content["cost_amount"].(float64); ok {
				n.Cost.Amount = cost
				n.Cost.Currency = it.Settings.Currency
			}
		}
	}

	w.publishProgress(ctx, it.ID, req.ExecutionID, "population", 0, "transport populated")
	return registry.Result{Mutated: out}, nil
}
