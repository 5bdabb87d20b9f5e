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

// EnrichmentWorker adds location coordinates and opening hours to nodes
// that have no coordinates yet; it does not add photos or pacing warnings.
// It runs as the single enrichment phase worker and is also
// invoked chat-side (and fire-and-forget by the Change Engine) against a
// single node.
type EnrichmentWorker struct{ base }

func NewEnrichmentWorker(client llm.Client, bus eventbus.Bus, logger telemetry.Logger) *EnrichmentWorker {
	return &EnrichmentWorker{base: newBase("enrichment", client, bus, logger)}
}

func (w *EnrichmentWorker) Capability() registry.Capability {
	return registry.Capability{
		TaskType:         registry.TaskEnrich,
		ChatEnabled:      true,
		PopulatesInPlace: true,
	}
}

func (w *EnrichmentWorker) Execute(ctx context.Context, req registry.Request) (registry.Result, error) {
	if err := checkTaskType(registry.TaskEnrich, req.TaskType); err != nil {
		return registry.Result{}, err
	}
	it := req.Itinerary
	w.publishProgress(ctx, it.ID, req.ExecutionID, "enrichment", 40, "enriching nodes")

	out := it.Clone()
	for di := range out.Days {
		day := &out.Days[di]
		for ni := range day.Nodes {
			if err := w.enrichNode(ctx, it, &day.Nodes[ni]); err != nil {
				w.logger.WarnWithContext(ctx, "enrichment worker: failed for node", map[string]interface{}{"node_id": day.Nodes[ni].ID, "error": err.Error()})
			}
		}
	}

	w.publishProgress(ctx, it.ID, req.ExecutionID, "enrichment", 0, "enrichment complete")
	return registry.Result{Mutated: out}, nil
}

func (w *EnrichmentWorker) enrichNode(ctx context.Context, it *model.Itinerary, n *model.Node) error {
	if n.Location.Coordinates != nil {
		return nil
	}
	prompt := fmt.Sprintf("Provide coordinates and opening hours for %q in %s", n.Location.Name, it.Trip.Destination)
	content, err := w.client.GenerateStructured(ctx, prompt, llm.Schema{"lat": "number", "lng": "number", "hours": "string"})
	if err != nil {
		return err
	}
	lat, latOK := content["lat"].(float64)
	lng, lngOK := content["lng"].(float64)
	if latOK && lngOK && lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180 {
		n.Location.Coordinates = &model.Coordinates{Lat: lat, Lng: lng}
	}
	if hours, ok := content["hours"].(string); ok && hours != "" {
		if n.Details == nil {
			n.Details = map[string]interface{}{}
		}
		n.Details["hours"] = hours
	}
	return nil
}

// EnrichNode enriches a single node in place, used by the Change Engine's
// fire-and-forget auto-enrichment trigger where a full-itinerary pass
// would be wasted work.
func (w *EnrichmentWorker) EnrichNode(ctx context.Context, it *model.Itinerary, n *model.Node) error {
	return w.enrichNode(ctx, it, n)
}
