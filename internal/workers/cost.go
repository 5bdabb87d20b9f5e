package workers

import (
	"context"
	"time"

	"github.com/tripforge/itinerary-engine/internal/eventbus"
	"github.com/tripforge/itinerary-engine/internal/llm"
	"github.com/tripforge/itinerary-engine/internal/model"
	"github.com/tripforge/itinerary-engine/internal/registry"
	"github.com/tripforge/itinerary-engine/internal/telemetry"
)

// CostWorker assigns per-node cost estimates using the requested budget
// tier. It does not call the LLM: tier-based cost bands are a deterministic
// lookup, grounded on the tier already carried by trip metadata.
type CostWorker struct {
	base
	bands map[model.BudgetTier]map[model.NodeType]float64
}

// NewCostWorker builds a cost worker with the default per-tier, per-type
// cost bands (amounts are illustrative placeholders; a real deployment
// would source these from a pricing collaborator, out of scope here).
func NewCostWorker(client llm.Client, bus eventbus.Bus, logger telemetry.Logger) *CostWorker {
	return &CostWorker{
		base: newBase("cost", client, bus, logger),
		bands: map[model.BudgetTier]map[model.NodeType]float64{
			model.BudgetEconomy: {
				model.NodeAttraction: 10, model.NodeMeal: 15, model.NodeHotel: 60, model.NodeTransit: 5, model.NodeActivity: 10,
			},
			model.BudgetMid: {
				model.NodeAttraction: 25, model.NodeMeal: 35, model.NodeHotel: 150, model.NodeTransit: 15, model.NodeActivity: 25,
			},
			model.BudgetLuxury: {
				model.NodeAttraction: 60, model.NodeMeal: 90, model.NodeHotel: 450, model.NodeTransit: 40, model.NodeActivity: 60,
			},
		},
	}
}

func (w *CostWorker) Capability() registry.Capability {
	return registry.Capability{
		TaskType:         registry.TaskEstimateCost,
		ChatEnabled:      false,
		PopulatesInPlace: true,
	}
}

func (w *CostWorker) Execute(ctx context.Context, req registry.Request) (registry.Result, error) {
	if err := checkTaskType(registry.TaskEstimateCost, req.TaskType); err != nil {
		return registry.Result{}, err
	}
	it := req.Itinerary
	w.publishProgress(ctx, it.ID, req.ExecutionID, "cost", 70, "estimating costs")

	band := w.bands[it.Trip.BudgetTier]
	out := it.Clone()
	for di := range out.Days {
		day := &out.Days[di]
		for ni := range day.Nodes {
			n := &day.Nodes[ni]
			if n.Cost.Amount != 0 {
				continue
			}
			amount, ok := band[n.Type]
			if !ok {
				continue
			}
			n.Cost.Amount = amount
			n.Cost.Tier = string(it.Trip.BudgetTier)
			if n.Cost.Currency == "" {
				n.Cost.Currency = it.Settings.Currency
			} else if n.Cost.Currency != it.Settings.Currency {
				w.publishCurrencyMismatch(ctx, it.ID, req.ExecutionID, n.ID, n.Cost.Currency, it.Settings.Currency)
			}
		}
	}

	w.publishProgress(ctx, it.ID, req.ExecutionID, "cost", 0, "costs estimated")
	return registry.Result{Mutated: out}, nil
}

// publishCurrencyMismatch warns that a node's own currency was preserved
// over the itinerary's default rather than silently overwritten.
func (w *CostWorker) publishCurrencyMismatch(ctx context.Context, itineraryID, executionID, nodeID, nodeCurrency, itineraryCurrency string) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(ctx, itineraryID, model.AgentEvent{
		Type:        model.EventWarning,
		ItineraryID: itineraryID,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Code:        "currency_mismatch",
		Message:     "node currency " + nodeCurrency + " differs from itinerary currency " + itineraryCurrency + "; node currency preserved",
		TimestampMs: time.Now().UnixMilli(),
	})
}
