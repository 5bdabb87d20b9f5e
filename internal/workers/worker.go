// Package workers implements the nine specialized workers: each declares
// exactly one task type, emits progress events over the event bus, and
// produces a ChangeSet, returns a mutated copy of the itinerary, or (the
// explainer) returns an answer.
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/tripforge/itinerary-engine/internal/eventbus"
	"github.com/tripforge/itinerary-engine/internal/llm"
	"github.com/tripforge/itinerary-engine/internal/model"
	"github.com/tripforge/itinerary-engine/internal/registry"
	"github.com/tripforge/itinerary-engine/internal/telemetry"
)

// base holds the collaborators every worker needs: an LLM client for
// content generation, the event bus for progress events, and a logger.
// Concrete workers embed it rather than re-declaring these fields.
type base struct {
	client llm.Client
	bus    eventbus.Bus
	logger telemetry.Logger
	kind   string
}

func newBase(kind string, client llm.Client, bus eventbus.Bus, logger telemetry.Logger) base {
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	return base{client: client, bus: bus, logger: logger.WithComponent("worker." + kind), kind: kind}
}

func (b base) publishProgress(ctx context.Context, itineraryID, executionID, phase string, percent int, message string) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(ctx, itineraryID, model.AgentEvent{
		Type:        model.EventProgress,
		ItineraryID: itineraryID,
		ExecutionID: executionID,
		Phase:       phase,
		Percent:     percent,
		Message:     message,
		WorkerKind:  b.kind,
		TimestampMs: time.Now().UnixMilli(),
	})
}

// checkTaskType fails fast when a request is routed to the wrong worker.
func checkTaskType(declared, got registry.TaskType) error {
	if declared != got {
		return model.NewError("worker.checkTaskType", fmt.Errorf("%w: worker declares %q, invoked for %q", model.ErrInvalidInput, declared, got))
	}
	return nil
}
