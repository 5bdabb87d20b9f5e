package workers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tripforge/itinerary-engine/internal/eventbus"
	"github.com/tripforge/itinerary-engine/internal/llm"
	"github.com/tripforge/itinerary-engine/internal/model"
	"github.com/tripforge/itinerary-engine/internal/registry"
	"github.com/tripforge/itinerary-engine/internal/telemetry"
)

// BookingWorker produces a booking reference for a target node. It never
// restructures the itinerary: its ChangeSet is always a single `update`
// operation setting booking_ref.
type BookingWorker struct{ base }

func NewBookingWorker(client llm.Client, bus eventbus.Bus, logger telemetry.Logger) *BookingWorker {
	return &BookingWorker{base: newBase("booking", client, bus, logger)}
}

func (w *BookingWorker) Capability() registry.Capability {
	return registry.Capability{
		TaskType:            registry.TaskBook,
		ChatEnabled:         true,
		RequiredInputFields: []string{"target_node_id"},
		ProducesChangeSet:   true,
	}
}

func (w *BookingWorker) Execute(ctx context.Context, req registry.Request) (registry.Result, error) {
	if err := checkTaskType(registry.TaskBook, req.TaskType); err != nil {
		return registry.Result{}, err
	}
	it := req.Itinerary
	targetNodeID, _ := req.Payload["target_node_id"].(string)
	if targetNodeID == "" {
		return registry.Result{}, model.NewError("booking.Execute", fmt.Errorf("%w: target_node_id required", model.ErrInvalidInput))
	}

	w.publishProgress(ctx, it.ID, req.ExecutionID, "chat", 0, "requesting booking")

	// No external booking API integration; the reference is minted locally
	// so the ChangeSet contract is exercisable end-to-end without an
	// external collaborator.
	ref := "bk-" + uuid.NewString()

	cs := &model.ChangeSet{
		BaseVersion: it.Version,
		Reason:      "booking confirmed",
		Operations: []model.Operation{
			{Kind: model.OpUpdate, TargetNodeID: targetNodeID, Fields: map[string]interface{}{"booking_ref": ref}},
		},
	}

	w.publishProgress(ctx, it.ID, req.ExecutionID, "chat", 0, "booking confirmed")
	return registry.Result{ChangeSet: cs}, nil
}
