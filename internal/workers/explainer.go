package workers

import (
	"context"
	"fmt"

	"github.com/tripforge/itinerary-engine/internal/eventbus"
	"github.com/tripforge/itinerary-engine/internal/llm"
	"github.com/tripforge/itinerary-engine/internal/model"
	"github.com/tripforge/itinerary-engine/internal/nodeid"
	"github.com/tripforge/itinerary-engine/internal/registry"
	"github.com/tripforge/itinerary-engine/internal/telemetry"
)

// ExplainerWorker answers free-text questions about the current itinerary
// without mutating it.
type ExplainerWorker struct{ base }

func NewExplainerWorker(client llm.Client, bus eventbus.Bus, logger telemetry.Logger) *ExplainerWorker {
	return &ExplainerWorker{base: newBase("explainer", client, bus, logger)}
}

func (w *ExplainerWorker) Capability() registry.Capability {
	return registry.Capability{
		TaskType:            registry.TaskExplain,
		ChatEnabled:         true,
		RequiredInputFields: []string{"text"},
	}
}

func (w *ExplainerWorker) Execute(ctx context.Context, req registry.Request) (registry.Result, error) {
	if err := checkTaskType(registry.TaskExplain, req.TaskType); err != nil {
		return registry.Result{}, err
	}
	it := req.Itinerary
	w.publishProgress(ctx, it.ID, req.ExecutionID, "chat", 0, "answering question")

	text, _ := req.Payload["text"].(string)
	summary := nodeid.SummarizeForWorker(it, "explainer", 4000)

	prompt := fmt.Sprintf("Given this itinerary:\n%s\nAnswer the user's question: %q", summary, text)
	content, err := w.client.GenerateStructured(ctx, prompt, llm.Schema{"answer": "string"})
	if err != nil {
		return registry.Result{}, model.NewError("explainer.Execute", fmt.Errorf("%w: %v", model.ErrLLMFailure, err))
	}

	answer, _ := content["answer"].(string)
	if answer == "" {
		answer = "I don't have enough information to answer that."
	}

	w.publishProgress(ctx, it.ID, req.ExecutionID, "chat", 0, "answered")
	return registry.Result{Answer: answer}, nil
}
