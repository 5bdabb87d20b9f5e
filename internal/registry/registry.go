// Package registry maps task types to the specialized workers that handle
// them, enforcing the zero-overlap invariant across chat-enabled workers
// and answering execution-planning queries for both the pipeline and the
// chat orchestrator.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tripforge/itinerary-engine/internal/model"
)

// TaskType identifies the kind of work a worker performs.
type TaskType string

const (
	TaskCreate             TaskType = "create"
	TaskPopulateAttractions TaskType = "populate-attractions"
	TaskPopulateMeals      TaskType = "populate-meals"
	TaskPopulateTransport  TaskType = "populate-transport"
	TaskEnrich             TaskType = "enrich"
	TaskEstimateCost       TaskType = "estimate-cost"
	TaskEdit               TaskType = "edit"
	TaskExplain            TaskType = "explain"
	TaskBook               TaskType = "book"
)

// Request is the input handed to a worker's Execute call.
type Request struct {
	TaskType    TaskType
	Itinerary   *model.Itinerary
	ExecutionID string
	Payload     map[string]interface{}
}

// Result is what a worker produces: either a ChangeSet for the Change
// Engine to apply, or a directly mutated sub-tree (populates-in-place), or
// (explainer, clarification responses) a read-only natural-language
// Answer. Exactly one of these is populated per the worker's declared
// capability.
type Result struct {
	ChangeSet *model.ChangeSet
	Mutated   *model.Itinerary
	Answer    string
}

// Worker is the contract every specialized worker implements.
type Worker interface {
	Capability() Capability
	Execute(ctx context.Context, req Request) (Result, error)
}

// Capability is a worker's declared metadata.
type Capability struct {
	TaskType              TaskType
	Priority              int
	ChatEnabled           bool
	RequiredInputFields   []string
	ProducesChangeSet     bool
	PopulatesInPlace      bool
}

// Registry maps task type to worker and enforces the zero-overlap
// invariant among chat-enabled workers at registration time.
type Registry struct {
	mu      sync.RWMutex
	workers map[TaskType]Worker
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{workers: make(map[TaskType]Worker)}
}

// Register adds a worker, refusing a second chat-enabled worker for a task
// type already claimed by another chat-enabled worker.
func (r *Registry) Register(w Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	capa := w.Capability()
	if existing, ok := r.workers[capa.TaskType]; ok {
		existingCap := existing.Capability()
		if existingCap.ChatEnabled && capa.ChatEnabled {
			return fmt.Errorf("registry: task type %q already has a chat-enabled worker registered", capa.TaskType)
		}
	}
	r.workers[capa.TaskType] = w
	return nil
}

// WorkerFor returns the worker registered for a task type.
func (r *Registry) WorkerFor(t TaskType) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[t]
	return w, ok
}

// ChatCapableWorkers returns every worker with ChatEnabled true, the set the
// Chat Orchestrator dispatches into.
func (r *Registry) ChatCapableWorkers() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Worker
	for _, w := range r.workers {
		if w.Capability().ChatEnabled {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Capability().TaskType < out[j].Capability().TaskType
	})
	return out
}

// ExecutionPlan is the outcome of Plan: a single worker (chat path) or an
// ordered multi-worker list (pipeline path).
type ExecutionPlan struct {
	Workers []Worker
}

// Plan resolves a task type to an execution plan. A chat-dispatch call
// (single task type) yields exactly one worker; callers that need an
// ordered multi-worker plan call PlanAll.
func (r *Registry) Plan(t TaskType) (ExecutionPlan, error) {
	w, ok := r.WorkerFor(t)
	if !ok {
		return ExecutionPlan{}, fmt.Errorf("registry: no worker registered for task type %q", t)
	}
	return ExecutionPlan{Workers: []Worker{w}}, nil
}

// PlanAll resolves an ordered list of task types into a multi-worker plan,
// skipping any unregistered type without reporting it (registry stays
// agnostic of phase semantics).
func (r *Registry) PlanAll(types ...TaskType) ExecutionPlan {
	var plan ExecutionPlan
	for _, t := range types {
		if w, ok := r.WorkerFor(t); ok {
			plan.Workers = append(plan.Workers, w)
		}
	}
	return plan
}
