package workers

import (
	"fmt"

	"context"

	"github.com/tripforge/itinerary-engine/internal/eventbus"
	"github.com/tripforge/itinerary-engine/internal/llm"
	"github.com/tripforge/itinerary-engine/internal/model"
	"github.com/tripforge/itinerary-engine/internal/registry"
	"github.com/tripforge/itinerary-engine/internal/telemetry"
)

// EditorWorker translates a free-text edit request into a ChangeSet; it
// never mutates the itinerary itself, leaving that to the Change Engine.
type EditorWorker struct{ base }

func NewEditorWorker(client llm.Client, bus eventbus.Bus, logger telemetry.Logger) *EditorWorker {
	return &EditorWorker{base: newBase("editor", client, bus, logger)}
}

func (w *EditorWorker) Capability() registry.Capability {
	return registry.Capability{
		TaskType:            registry.TaskEdit,
		ChatEnabled:         true,
		RequiredInputFields: []string{"text", "target_node_id"},
		ProducesChangeSet:   true,
	}
}

func (w *EditorWorker) Execute(ctx context.Context, req registry.Request) (registry.Result, error) {
	if err := checkTaskType(registry.TaskEdit, req.TaskType); err != nil {
		return registry.Result{}, err
	}
	it := req.Itinerary
	w.publishProgress(ctx, it.ID, req.ExecutionID, "chat", 0, "drafting edit")

	text, _ := req.Payload["text"].(string)
	targetNodeID, _ := req.Payload["target_node_id"].(string)

	prompt := fmt.Sprintf("Translate this edit request into a partial field update for node %s: %q", targetNodeID, text)
	content, err := w.client.GenerateStructured(ctx, prompt, llm.Schema{"fields": "object", "reason": "string"})
	if err != nil {
		return registry.Result{}, model.NewError("editor.Execute", fmt.Errorf("%w: %v", model.ErrLLMFailure, err))
	}

	fields, _ := content["fields"].(map[string]interface{})
	if len(fields) == 0 {
		return registry.Result{}, model.NewError("editor.Execute", fmt.Errorf("%w: edit produced no fields", model.ErrSchemaViolation))
	}
	reason, _ := content["reason"].(string)
	if reason == "" {
		reason = "chat edit"
	}

	cs := &model.ChangeSet{
		BaseVersion: it.Version,
		Reason:      reason,
		Operations: []model.Operation{
			{Kind: model.OpUpdate, TargetNodeID: targetNodeID, Fields: fields},
		},
	}

	w.publishProgress(ctx, it.ID, req.ExecutionID, "chat", 0, "edit drafted")
	return registry.Result{ChangeSet: cs}, nil
}
