// Package pipeline drives itinerary generation through strict
// dependency-ordered phases, parallelizing independent workers within a
// phase.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tripforge/itinerary-engine/internal/eventbus"
	"github.com/tripforge/itinerary-engine/internal/model"
	"github.com/tripforge/itinerary-engine/internal/nodeid"
	"github.com/tripforge/itinerary-engine/internal/registry"
	"github.com/tripforge/itinerary-engine/internal/store"
	"github.com/tripforge/itinerary-engine/internal/telemetry"
)

// Phase names, anchored to the progress percentages assigned below.
const (
	PhaseSkeleton     = "skeleton"
	PhasePopulation   = "population"
	PhaseEnrichment   = "enrichment"
	PhaseCost         = "cost"
	PhaseFinalization = "finalization"
)

var phasePercent = map[string]int{
	PhaseSkeleton:     10,
	PhasePopulation:   40,
	PhaseEnrichment:   70,
	PhaseCost:         90,
	PhaseFinalization: 100,
}

// Orchestrator runs the five-phase generation pipeline for one itinerary
// per Run call.
type Orchestrator struct {
	store     store.Store
	bus       eventbus.Bus
	registry  *registry.Registry
	logger    telemetry.Logger
	telemetry *telemetry.Provider

	mu         sync.Mutex
	cancels    map[string]context.CancelFunc
}

// New builds an Orchestrator.
func New(s store.Store, bus eventbus.Bus, reg *registry.Registry, logger telemetry.Logger, provider *telemetry.Provider) *Orchestrator {
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	return &Orchestrator{
		store:     s,
		bus:       bus,
		registry:  reg,
		logger:    logger.WithComponent("pipeline"),
		telemetry: provider,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Cancel signals the named execution to abort at the next phase boundary
// or worker poll point.
func (o *Orchestrator) Cancel(executionID string) {
	o.mu.Lock()
	cancel, ok := o.cancels[executionID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// Run executes all five phases for itineraryID under executionID. It
// attaches a recovery callback so an unexpected panic on Run's own
// goroutine surfaces as an `error` event rather than silently killing it;
// population workers run on their own goroutines, which this recovery
// does not cover.
func (o *Orchestrator) Run(ctx context.Context, itineraryID, executionID string) {
	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancels[executionID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, executionID)
		o.mu.Unlock()
		cancel()
	}()

	defer func() {
		if r := recover(); r != nil {
			o.publishError(ctx, itineraryID, executionID, model.SeverityCritical, fmt.Sprintf("pipeline panic: %v", r), false)
			o.markFailed(ctx, itineraryID)
		}
	}()

	if err := o.runPhases(ctx, itineraryID, executionID); err != nil {
		if ctx.Err() != nil {
			o.publishWarning(ctx, itineraryID, executionID, "pipeline_cancelled", "generation cancelled", "")
			return
		}
		o.publishError(ctx, itineraryID, executionID, model.SeverityCritical, err.Error(), false)
		o.markFailed(ctx, itineraryID)
	}
}

func (o *Orchestrator) runPhases(ctx context.Context, itineraryID, executionID string) error {
	it, err := o.store.Load(ctx, itineraryID)
	if err != nil {
		return err
	}

	it, err = o.runSkeleton(ctx, it, executionID)
	if err != nil {
		return fmt.Errorf("skeleton phase: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	it, err = o.runPopulation(ctx, it, executionID)
	if err != nil {
		return fmt.Errorf("population phase: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	it, err = o.runSingleWorkerPhase(ctx, it, executionID, PhaseEnrichment, registry.TaskEnrich)
	if err != nil {
		o.publishWarning(ctx, itineraryID, executionID, "enrichment_degraded", err.Error(), "")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	it, err = o.runSingleWorkerPhase(ctx, it, executionID, PhaseCost, registry.TaskEstimateCost)
	if err != nil {
		o.publishWarning(ctx, itineraryID, executionID, "cost_degraded", err.Error(), "")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	return o.finalize(ctx, it, executionID)
}

func (o *Orchestrator) runSkeleton(ctx context.Context, it *model.Itinerary, executionID string) (*model.Itinerary, error) {
	o.publishPhase(ctx, it.ID, executionID, model.EventPhaseStart, PhaseSkeleton, 0)
	start := time.Now()

	w, ok := o.registry.WorkerFor(registry.TaskCreate)
	if !ok {
		return nil, fmt.Errorf("no skeleton worker registered")
	}
	res, err := w.Execute(ctx, registry.Request{TaskType: registry.TaskCreate, Itinerary: it, ExecutionID: executionID})
	if err != nil {
		return nil, err
	}
	it = res.Mutated
	if errs := nodeid.ValidateConsistency(it); len(errs) > 0 {
		return nil, fmt.Errorf("skeleton failed consistency validation: %v", errs[0])
	}

	if err := o.persist(ctx, it); err != nil {
		return nil, err
	}

	o.recordPhaseLatency(ctx, PhaseSkeleton, time.Since(start))
	o.publishPhase(ctx, it.ID, executionID, model.EventPhaseComplete, PhaseSkeleton, phasePercent[PhaseSkeleton])
	return it, nil
}

// runPopulation runs activity/meal/transport concurrently. Failure of one
// does not cancel the others and partial success is acceptable, so
// errgroup's fail-fast cancellation would be wrong here; each worker's
// error is captured independently instead. Only if every registered worker
// in the phase fails does this escalate to a phase-level error, since an
// itinerary with no population at all is not a degraded result, it is a
// failed one.
func (o *Orchestrator) runPopulation(ctx context.Context, it *model.Itinerary, executionID string) (*model.Itinerary, error) {
	o.publishPhase(ctx, it.ID, executionID, model.EventPhaseStart, PhasePopulation, phasePercent[PhaseSkeleton])
	start := time.Now()

	taskTypes := []registry.TaskType{registry.TaskPopulateAttractions, registry.TaskPopulateMeals, registry.TaskPopulateTransport}

	var mu sync.Mutex
	working := it
	attempted := 0
	succeeded := 0

	// A plain errgroup.Group (not WithContext) waits for every worker to
	// finish without cancelling siblings on the first error: isolation
	// across population workers is the invariant, not fail-fast.
	var g errgroup.Group
	for _, t := range taskTypes {
		t := t
		w, ok := o.registry.WorkerFor(t)
		if !ok {
			continue
		}
		w := w
		mu.Lock()
		attempted++
		mu.Unlock()
		g.Go(func() error {
			mu.Lock()
			snapshot := working
			mu.Unlock()

			res, err := w.Execute(ctx, registry.Request{TaskType: t, Itinerary: snapshot, ExecutionID: executionID})
			if err != nil {
				o.logger.WarnWithContext(ctx, "population worker failed", map[string]interface{}{"task_type": string(t), "error": err.Error()})
				o.publishError(ctx, it.ID, executionID, model.SeverityWarn, fmt.Sprintf("%s worker failed: %v", t, err), model.IsRetryable(err))
				return nil
			}
			mu.Lock()
			succeeded++
			if res.Mutated != nil {
				// Keep sibling workers' output: copy in only this worker's node type.
				nt := map[registry.TaskType]model.NodeType{registry.TaskPopulateAttractions: model.NodeAttraction, registry.TaskPopulateMeals: model.NodeMeal, registry.TaskPopulateTransport: model.NodeTransit}[t]
				merged := working.Clone()
				for di := range merged.Days {
					for ni, n := range merged.Days[di].Nodes {
						if n.Type == nt && di < len(res.Mutated.Days) && ni < len(res.Mutated.Days[di].Nodes) {
							merged.Days[di].Nodes[ni] = res.Mutated.Days[di].Nodes[ni]
						}
					}
				}
				working = merged
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if attempted > 0 && succeeded == 0 {
		o.recordPhaseLatency(ctx, PhasePopulation, time.Since(start))
		return working, fmt.Errorf("all %d population workers failed", attempted)
	}

	if err := o.persist(ctx, working); err != nil {
		o.logger.ErrorWithContext(ctx, "population phase: persist failed", map[string]interface{}{"error": err.Error()})
	}

	o.recordPhaseLatency(ctx, PhasePopulation, time.Since(start))
	o.publishPhase(ctx, working.ID, executionID, model.EventPhaseComplete, PhasePopulation, phasePercent[PhasePopulation])
	return working, nil
}

func (o *Orchestrator) runSingleWorkerPhase(ctx context.Context, it *model.Itinerary, executionID, phase string, t registry.TaskType) (*model.Itinerary, error) {
	o.publishPhase(ctx, it.ID, executionID, model.EventPhaseStart, phase, phasePercent[PhasePopulation])
	start := time.Now()

	w, ok := o.registry.WorkerFor(t)
	if !ok {
		return it, fmt.Errorf("no worker registered for %s phase", phase)
	}
	res, err := w.Execute(ctx, registry.Request{TaskType: t, Itinerary: it, ExecutionID: executionID})
	if err != nil {
		return it, err
	}
	if res.Mutated != nil {
		it = res.Mutated
	}
	if err := o.persist(ctx, it); err != nil {
		return it, err
	}

	o.recordPhaseLatency(ctx, phase, time.Since(start))
	o.publishPhase(ctx, it.ID, executionID, model.EventPhaseComplete, phase, phasePercent[phase])
	return it, nil
}

func (o *Orchestrator) finalize(ctx context.Context, it *model.Itinerary, executionID string) error {
	o.publishPhase(ctx, it.ID, executionID, model.EventPhaseStart, PhaseFinalization, phasePercent[PhaseCost])

	reloaded, err := o.store.Load(ctx, it.ID)
	if err != nil {
		return err
	}
	reloaded.Status = model.StatusReady
	reloaded.UpdatedAt = time.Now()
	if err := o.store.Save(ctx, reloaded, reloaded.Version); err != nil {
		return err
	}

	if o.bus != nil {
		o.bus.Publish(ctx, it.ID, model.AgentEvent{
			Type:          model.EventGenerationComplete,
			ItineraryID:   it.ID,
			ExecutionID:   executionID,
			FinalSnapshot: reloaded,
			TimestampMs:   time.Now().UnixMilli(),
		})
	}
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, it *model.Itinerary) error {
	current, err := o.store.Load(ctx, it.ID)
	if err != nil {
		return err
	}
	it.Version = current.Version
	return o.store.Save(ctx, it, current.Version)
}

func (o *Orchestrator) markFailed(ctx context.Context, itineraryID string) {
	it, err := o.store.Load(ctx, itineraryID)
	if err != nil {
		return
	}
	it.Status = model.StatusFailed
	_ = o.store.Save(ctx, it, it.Version)
}

func (o *Orchestrator) recordPhaseLatency(ctx context.Context, phase string, d time.Duration) {
	if o.telemetry != nil {
		o.telemetry.RecordPhaseLatency(ctx, phase, d)
	}
}

func (o *Orchestrator) publishPhase(ctx context.Context, itineraryID, executionID string, eventType model.EventType, phase string, percent int) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(ctx, itineraryID, model.AgentEvent{
		Type:        eventType,
		ItineraryID: itineraryID,
		ExecutionID: executionID,
		Phase:       phase,
		Percent:     percent,
		TimestampMs: time.Now().UnixMilli(),
	})
}

func (o *Orchestrator) publishWarning(ctx context.Context, itineraryID, executionID, code, message, hint string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(ctx, itineraryID, model.AgentEvent{
		Type:         model.EventWarning,
		ItineraryID:  itineraryID,
		ExecutionID:  executionID,
		Code:         code,
		Message:      message,
		RecoveryHint: hint,
		TimestampMs:  time.Now().UnixMilli(),
	})
}

func (o *Orchestrator) publishError(ctx context.Context, itineraryID, executionID string, severity model.Severity, message string, retryable bool) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(ctx, itineraryID, model.AgentEvent{
		Type:        model.EventError,
		ItineraryID: itineraryID,
		ExecutionID: executionID,
		Message:     message,
		Severity:    severity,
		Retryable:   retryable,
		TimestampMs: time.Now().UnixMilli(),
	})
}
