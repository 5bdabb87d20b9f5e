// Package chat implements the chat orchestrator: classify a free-text
// request's intent, resolve ambiguous node references, dispatch to exactly
// one worker, and route mutating results through the Change Engine.
package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tripforge/itinerary-engine/internal/changeengine"
	"github.com/tripforge/itinerary-engine/internal/eventbus"
	"github.com/tripforge/itinerary-engine/internal/llm"
	"github.com/tripforge/itinerary-engine/internal/model"
	"github.com/tripforge/itinerary-engine/internal/nodeid"
	"github.com/tripforge/itinerary-engine/internal/registry"
	"github.com/tripforge/itinerary-engine/internal/store"
	"github.com/tripforge/itinerary-engine/internal/telemetry"
)

// Intent is the tagged classification of a chat request.
type Intent string

const (
	IntentCreate  Intent = "create"
	IntentEdit    Intent = "edit"
	IntentExplain Intent = "explain"
	IntentBook    Intent = "book"
	IntentUnknown Intent = "unknown"
)

var intentTaskType = map[Intent]registry.TaskType{
	IntentEdit:    registry.TaskEdit,
	IntentExplain: registry.TaskExplain,
	IntentBook:    registry.TaskBook,
}

// Classification is the LLM's read of a chat message.
type Classification struct {
	Intent     Intent
	Entities   map[string]interface{}
	Confidence float64
	NodeRef    string // free-text referent the user mentioned, e.g. "the museum"
}

// Candidate is a ranked node resolved from an ambiguous referent.
type Candidate struct {
	NodeID string
	Title  string
	Day    int
	Score  float64
}

// Response is what the orchestrator hands back to the caller for one turn.
// Exactly one of Clarification, Candidates, Answer, or Applied is set.
type Response struct {
	Clarification string
	Candidates    []Candidate
	Answer        string
	Applied       *changeengine.ApplyResult
}

// Request is one chat turn.
type Request struct {
	ItineraryID string
	Text        string
	ExecutionID string
	ScopeDay    int // 0 means unscoped
}

// Orchestrator wires classification, disambiguation, dispatch, and apply.
type Orchestrator struct {
	store               store.Store
	registry            *registry.Registry
	engine              *changeengine.Engine
	llmClient           llm.Client
	bus                 eventbus.Bus
	logger              telemetry.Logger
	confidenceThreshold float64
}

// New builds a chat Orchestrator.
func New(s store.Store, reg *registry.Registry, engine *changeengine.Engine, client llm.Client, bus eventbus.Bus, logger telemetry.Logger, confidenceThreshold float64) *Orchestrator {
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	if confidenceThreshold <= 0 {
		confidenceThreshold = 0.6
	}
	return &Orchestrator{
		store:               s,
		registry:            reg,
		engine:              engine,
		llmClient:           client,
		bus:                 bus,
		logger:              logger.WithComponent("chat"),
		confidenceThreshold: confidenceThreshold,
	}
}

var classifySchema = llm.Schema{
	"intent":     "string",
	"node_ref":   "string",
	"confidence": "number",
	"entities":   "object",
}

// Handle runs one chat turn end to end.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Response, error) {
	it, err := o.store.Load(ctx, req.ItineraryID)
	if err != nil {
		return Response{}, err
	}
	it = nodeid.MigrateIfNeeded(it)

	cls, err := o.classify(ctx, it, req.Text)
	if err != nil {
		return Response{}, err
	}

	if cls.Confidence < o.confidenceThreshold || cls.Intent == IntentUnknown {
		o.publishProgress(ctx, req.ItineraryID, req.ExecutionID, "clarifying low-confidence request")
		return Response{Clarification: "Could you say more about what you'd like to change? I'm not sure I understood that correctly."}, nil
	}

	if cls.NodeRef != "" {
		candidates := o.resolveNode(it, cls.NodeRef, req.ScopeDay)
		if ambiguous(candidates) {
			return Response{Candidates: candidates}, nil
		}
		if len(candidates) == 1 {
			if cls.Entities == nil {
				cls.Entities = map[string]interface{}{}
			}
			cls.Entities["target_node_id"] = candidates[0].NodeID
		}
	}

	taskType, ok := intentTaskType[cls.Intent]
	if !ok {
		return Response{Clarification: "I can't do that yet."}, nil
	}

	w, ok := o.registry.WorkerFor(taskType)
	if !ok {
		return Response{}, fmt.Errorf("no worker registered for intent %s", cls.Intent)
	}

	o.publishProgress(ctx, req.ItineraryID, req.ExecutionID, fmt.Sprintf("dispatching to %s worker", taskType))

	payload := map[string]interface{}{"text": req.Text}
	for k, v := range cls.Entities {
		payload[k] = v
	}

	res, err := w.Execute(ctx, registry.Request{
		TaskType:    taskType,
		Itinerary:   it,
		ExecutionID: req.ExecutionID,
		Payload:     payload,
	})
	if err != nil {
		return Response{}, err
	}

	if res.ChangeSet != nil {
		cs := *res.ChangeSet
		cs.BaseVersion = it.Version
		applyRes, err := o.engine.Apply(ctx, req.ItineraryID, cs)
		if err != nil {
			return Response{}, err
		}
		return Response{Applied: &applyRes}, nil
	}

	if res.Answer != "" {
		return Response{Answer: res.Answer}, nil
	}

	return Response{}, fmt.Errorf("worker for intent %s produced neither a changeset nor an answer", cls.Intent)
}

// classify consults the LLM for intent, referent, confidence, and entities.
func (o *Orchestrator) classify(ctx context.Context, it *model.Itinerary, text string) (Classification, error) {
	summary := nodeid.SummarizeForWorker(it, "chat-classifier", 2000)
	prompt := fmt.Sprintf("Classify the user's travel-itinerary request.\n\nItinerary summary:\n%s\n\nUser message: %s", summary, text)

	out, err := o.llmClient.GenerateStructured(ctx, prompt, classifySchema)
	if err != nil {
		return Classification{}, model.NewError("chat.classify", err)
	}

	cls := Classification{Intent: IntentUnknown, Entities: map[string]interface{}{}}
	if v, ok := out["intent"].(string); ok {
		cls.Intent = Intent(strings.ToLower(v))
	}
	if v, ok := out["node_ref"].(string); ok {
		cls.NodeRef = v
	}
	if v, ok := out["confidence"].(float64); ok {
		cls.Confidence = v
	}
	if v, ok := out["entities"].(map[string]interface{}); ok {
		cls.Entities = v
	}
	return cls, nil
}

// resolveNode ranks candidate nodes by title match, day proximity to the
// requested scope, and recency (later position in the day breaks ties).
func (o *Orchestrator) resolveNode(it *model.Itinerary, ref string, scopeDay int) []Candidate {
	needle := strings.ToLower(strings.TrimSpace(ref))
	var candidates []Candidate
	for _, day := range it.Days {
		for i, n := range day.Nodes {
			score := titleScore(needle, strings.ToLower(n.Title))
			if score <= 0 {
				continue
			}
			if scopeDay > 0 {
				dist := scopeDay - day.DayNumber
				if dist < 0 {
					dist = -dist
				}
				score -= float64(dist) * 0.05
			}
			score += float64(i) * 0.001 // later entries edge out earlier duplicates
			candidates = append(candidates, Candidate{NodeID: n.ID, Title: n.Title, Day: day.DayNumber, Score: score})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	return candidates
}

// titleScore is a simple substring/word-overlap heuristic: 1.0 for an exact
// match, 0.7 for a substring match, 0.4 plus 0.1 per shared word longer
// than two letters, 0 otherwise.
func titleScore(needle, title string) float64 {
	if needle == "" {
		return 0
	}
	if needle == title {
		return 1.0
	}
	if strings.Contains(title, needle) || strings.Contains(needle, title) {
		return 0.7
	}
	words := strings.Fields(needle)
	hits := 0
	for _, w := range words {
		if len(w) > 2 && strings.Contains(title, w) {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	return 0.4 + 0.1*float64(hits)
}

// ambiguous reports whether the top candidates score within a narrow band,
// meaning the caller should ask the user to disambiguate rather than guess.
func ambiguous(candidates []Candidate) bool {
	if len(candidates) < 2 {
		return false
	}
	const band = 0.15
	return candidates[0].Score-candidates[1].Score < band
}

func (o *Orchestrator) publishProgress(ctx context.Context, itineraryID, executionID, message string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(ctx, itineraryID, model.AgentEvent{
		Type:        model.EventProgress,
		ItineraryID: itineraryID,
		ExecutionID: executionID,
		Message:     message,
		WorkerKind:  "chat",
	})
}
