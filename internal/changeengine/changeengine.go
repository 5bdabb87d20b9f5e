// Package changeengine implements propose/apply/undo against a pinned
// itinerary object: diff computation, revision history, locks, an
// idempotency cache, and the fire-and-forget auto-enrichment trigger.
package changeengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tripforge/itinerary-engine/internal/eventbus"
	"github.com/tripforge/itinerary-engine/internal/model"
	"github.com/tripforge/itinerary-engine/internal/nodeid"
	"github.com/tripforge/itinerary-engine/internal/store"
	"github.com/tripforge/itinerary-engine/internal/telemetry"
)

// Enricher is the narrow interface the Change Engine needs from the
// enrichment worker to fire auto-enrichment without importing the workers
// package (which would create an import cycle back through registry).
type Enricher interface {
	EnrichNode(ctx context.Context, it *model.Itinerary, n *model.Node) error
}

// ApplyResult is the outcome of a successful apply.
type ApplyResult struct {
	NewVersion int
	Diff       model.Diff
}

// Engine is the Change Engine. One Engine instance serves every itinerary;
// per-itinerary serialization is provided by an internal lock keyed on
// itinerary ID, not a single global mutex.
type Engine struct {
	store     store.Store
	bus       eventbus.Bus
	enricher  Enricher
	logger    telemetry.Logger
	telemetry *telemetry.Provider

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	idempotency *idempotencyCache

	lockedNodesMu sync.Mutex
	lockedNodes   map[string]map[string]bool // itineraryID -> nodeID -> locked
}

// New builds a Change Engine. cacheSize/cacheTTL configure the idempotency
// cache.
func New(s store.Store, bus eventbus.Bus, enricher Enricher, logger telemetry.Logger, provider *telemetry.Provider, cacheSize int, cacheTTL time.Duration) *Engine {
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	return &Engine{
		store:       s,
		bus:         bus,
		enricher:    enricher,
		logger:      logger.WithComponent("changeengine"),
		telemetry:   provider,
		locks:       make(map[string]*sync.Mutex),
		idempotency: newIdempotencyCache(cacheSize, cacheTTL),
		lockedNodes: make(map[string]map[string]bool),
	}
}

func (e *Engine) lockFor(itineraryID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[itineraryID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[itineraryID] = l
	}
	return l
}

// LockNode marks a node as locked (client-pinned); mutations on it are
// refused until UnlockNode.
func (e *Engine) LockNode(itineraryID, nodeID string) {
	e.lockedNodesMu.Lock()
	defer e.lockedNodesMu.Unlock()
	if e.lockedNodes[itineraryID] == nil {
		e.lockedNodes[itineraryID] = make(map[string]bool)
	}
	e.lockedNodes[itineraryID][nodeID] = true
}

// UnlockNode clears a node's locked flag.
func (e *Engine) UnlockNode(itineraryID, nodeID string) {
	e.lockedNodesMu.Lock()
	defer e.lockedNodesMu.Unlock()
	delete(e.lockedNodes[itineraryID], nodeID)
}

func (e *Engine) isLocked(itineraryID, nodeID string) bool {
	e.lockedNodesMu.Lock()
	defer e.lockedNodesMu.Unlock()
	return e.lockedNodes[itineraryID][nodeID]
}

// Propose computes the diff a ChangeSet would produce, without persisting
// or bumping the version. Conflict detection (locks, base-version) still
// runs.
func (e *Engine) Propose(ctx context.Context, it *model.Itinerary, cs model.ChangeSet) (model.Diff, error) {
	_, diff, err := e.computeApply(it, cs)
	return diff, err
}

// Apply is the authoritative mutation path: resolve targets, validate
// preconditions, clone, mutate, diff, persist, publish, and trigger any
// downstream auto-enrichment.
func (e *Engine) Apply(ctx context.Context, itineraryID string, cs model.ChangeSet) (ApplyResult, error) {
	lock := e.lockFor(itineraryID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	defer func() {
		if e.telemetry != nil {
			e.telemetry.RecordApplyLatency(ctx, itineraryID, time.Since(start))
		}
	}()

	if cs.IdempotencyKey != "" {
		if cached, ok := e.idempotency.get(itineraryID, cs.IdempotencyKey); ok {
			if e.telemetry != nil {
				e.telemetry.RecordIdempotencyHit(ctx)
			}
			return cached, nil
		}
		if e.telemetry != nil {
			e.telemetry.RecordIdempotencyMiss(ctx)
		}
	}

	it, err := e.store.Load(ctx, itineraryID)
	if err != nil {
		return ApplyResult{}, err
	}

	mutated, diff, err := e.computeApply(it, cs)
	if err != nil {
		return ApplyResult{}, err
	}

	if diff.Empty() {
		return ApplyResult{NewVersion: it.Version, Diff: diff}, nil
	}

	rev := model.Revision{
		ItineraryID:    itineraryID,
		RevisionNumber: it.Version + 1,
		Timestamp:      time.Now().UnixMilli(),
		Reason:         cs.Reason,
		ChangeSet:      cs,
		PreState:       it.Days,
	}
	if err := e.store.AppendRevision(ctx, rev); err != nil {
		return ApplyResult{}, model.NewErrorWithID("changeengine.Apply", itineraryID, fmt.Errorf("%w: revision write failed: %v", model.ErrTransient, err))
	}

	mutated.Version = it.Version + 1
	mutated.UpdatedAt = time.Now()
	if err := e.store.Save(ctx, mutated, it.Version); err != nil {
		return ApplyResult{}, err
	}

	result := ApplyResult{NewVersion: mutated.Version, Diff: diff}
	if cs.IdempotencyKey != "" {
		e.idempotency.put(itineraryID, cs.IdempotencyKey, result)
	}

	e.scheduleAutoEnrichment(itineraryID, mutated, diff)
	e.publishPatch(ctx, itineraryID, diff, mutated.Version)

	return result, nil
}

// computeApply runs the mutation steps against a clone of it, returning the
// mutated clone and the diff, without touching the store.
func (e *Engine) computeApply(it *model.Itinerary, cs model.ChangeSet) (*model.Itinerary, model.Diff, error) {
	if cs.BaseVersion != 0 && cs.BaseVersion != it.Version {
		return nil, model.Diff{}, model.NewErrorWithID("changeengine.apply", it.ID, model.ErrVersionConflict)
	}

	before := it.Clone()
	working := it.Clone()

	for _, op := range cs.Operations {
		if err := e.applyOperation(working, op, cs.Day); err != nil {
			return nil, model.Diff{}, err
		}
	}

	diff := computeDiff(before, working)
	return working, diff, nil
}

func (e *Engine) applyOperation(it *model.Itinerary, op model.Operation, csDay int) error {
	switch op.Kind {
	case model.OpInsert:
		return e.applyInsert(it, op, csDay)
	case model.OpReplace:
		return e.applyReplace(it, op)
	case model.OpUpdate:
		return e.applyUpdate(it, op)
	case model.OpDelete:
		return e.applyDelete(it, op)
	case model.OpMove:
		return e.applyMove(it, op)
	default:
		return model.NewError("changeengine.applyOperation", fmt.Errorf("%w: unknown operation kind %q", model.ErrInvalidInput, op.Kind))
	}
}

func (e *Engine) resolveDay(it *model.Itinerary, dayNumber int) (*model.Day, error) {
	day, ok := it.DayByNumber(dayNumber)
	if !ok {
		return nil, model.NewError("changeengine.resolveDay", fmt.Errorf("%w: day %d not found", model.ErrNodeNotFound, dayNumber))
	}
	return day, nil
}

func (e *Engine) resolveNode(it *model.Itinerary, nodeID string) (*model.Node, *model.Day, error) {
	n, day, ok := it.FindNodeAnyDay(nodeID)
	if !ok {
		return nil, nil, model.NewErrorWithID("changeengine.resolveNode", nodeID, model.ErrNodeNotFound)
	}
	return n, day, nil
}

func (e *Engine) refuseIfLocked(it *model.Itinerary, n *model.Node, allowUnlock bool) error {
	if n.Locked && !allowUnlock {
		return model.NewErrorWithID("changeengine.refuseIfLocked", n.ID, model.ErrLockedTarget)
	}
	if e.isLocked(it.ID, n.ID) && !allowUnlock {
		return model.NewErrorWithID("changeengine.refuseIfLocked", n.ID, model.ErrLockedTarget)
	}
	return nil
}

func (e *Engine) applyInsert(it *model.Itinerary, op model.Operation, csDay int) error {
	day, err := e.resolveDay(it, csDay)
	if err != nil {
		return err
	}
	pos := op.Position
	if pos < 0 || pos > len(day.Nodes) {
		pos = len(day.Nodes)
	}
	node := op.Node.Clone()
	day.Nodes = append(day.Nodes, model.Node{})
	copy(day.Nodes[pos+1:], day.Nodes[pos:])
	day.Nodes[pos] = node
	nodeid.RenumberDay(day)
	return nil
}

func (e *Engine) applyReplace(it *model.Itinerary, op model.Operation) error {
	existing, day, err := e.resolveNode(it, op.TargetNodeID)
	if err != nil {
		return err
	}
	if err := e.refuseIfLocked(it, existing, false); err != nil {
		return err
	}
	replacement := op.Node.Clone()
	replacement.ID = existing.ID
	if err := applyTimeOverrides(&replacement, day.Date, op.StartTimeOverride, op.EndTimeOverride); err != nil {
		return model.NewErrorWithID("changeengine.applyReplace", existing.ID, fmt.Errorf("%w: %v", model.ErrInvalidInput, err))
	}
	for ni := range day.Nodes {
		if day.Nodes[ni].ID == existing.ID {
			day.Nodes[ni] = replacement
			break
		}
	}
	return nil
}

// applyTimeOverrides resolves a replace operation's wall-clock start_time
// and end_time overrides ("HH:MM") against the node's day and writes them
// into the replacement node's Timing, so a replace can reschedule a node
// without its caller having to compute epoch millis itself.
func applyTimeOverrides(n *model.Node, day time.Time, start, end string) error {
	if start == "" && end == "" {
		return nil
	}
	if start != "" {
		t, err := time.ParseInLocation("15:04", start, day.Location())
		if err != nil {
			return fmt.Errorf("invalid start_time %q: %w", start, err)
		}
		n.Timing.StartEpochMillis = combineDateAndClock(day, t).UnixMilli()
	}
	if end != "" {
		t, err := time.ParseInLocation("15:04", end, day.Location())
		if err != nil {
			return fmt.Errorf("invalid end_time %q: %w", end, err)
		}
		n.Timing.EndEpochMillis = combineDateAndClock(day, t).UnixMilli()
	}
	if n.Timing.HasWindow() && n.Timing.StartEpochMillis > n.Timing.EndEpochMillis {
		return fmt.Errorf("start_time %q is after end_time %q", start, end)
	}
	return nil
}

func combineDateAndClock(day, clock time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, day.Location())
}

func (e *Engine) applyUpdate(it *model.Itinerary, op model.Operation) error {
	existing, day, err := e.resolveNode(it, op.TargetNodeID)
	if err != nil {
		return err
	}
	v, unlockRequested := op.Fields["locked"]
	unlocking := unlockRequested && v == false
	if err := e.refuseIfLocked(it, existing, unlocking); err != nil {
		return err
	}

	for ni := range day.Nodes {
		if day.Nodes[ni].ID != existing.ID {
			continue
		}
		n := &day.Nodes[ni]
		applyFields(n, op.Fields)
		break
	}
	return nil
}

func (e *Engine) applyDelete(it *model.Itinerary, op model.Operation) error {
	existing, day, err := e.resolveNode(it, op.TargetNodeID)
	if err != nil {
		return err
	}
	if err := e.refuseIfLocked(it, existing, false); err != nil {
		return err
	}
	out := day.Nodes[:0]
	for _, n := range day.Nodes {
		if n.ID != existing.ID {
			out = append(out, n)
		}
	}
	day.Nodes = out
	nodeid.RenumberDay(day)
	return nil
}

func (e *Engine) applyMove(it *model.Itinerary, op model.Operation) error {
	existing, srcDay, err := e.resolveNode(it, op.TargetNodeID)
	if err != nil {
		return err
	}
	if err := e.refuseIfLocked(it, existing, false); err != nil {
		return err
	}

	dstDay, err := e.resolveDay(it, op.DestDay)
	if err != nil {
		return err
	}

	moved := *existing
	var remaining []model.Node
	for _, n := range srcDay.Nodes {
		if n.ID != existing.ID {
			remaining = append(remaining, n)
		}
	}
	srcDay.Nodes = remaining

	pos := op.DestPosition
	if dstDay.DayNumber == srcDay.DayNumber {
		dstDay = srcDay
	}
	if pos < 0 || pos > len(dstDay.Nodes) {
		pos = len(dstDay.Nodes)
	}
	dstDay.Nodes = append(dstDay.Nodes, model.Node{})
	copy(dstDay.Nodes[pos+1:], dstDay.Nodes[pos:])
	dstDay.Nodes[pos] = moved

	nodeid.RenumberDay(srcDay)
	if dstDay.DayNumber != srcDay.DayNumber {
		nodeid.RenumberDay(dstDay)
	}
	return nil
}

// applyFields shallow-merges a partial update onto a node's well-known
// fields. Unknown keys are stored verbatim in Details.
func applyFields(n *model.Node, fields map[string]interface{}) {
	for k, v := range fields {
		switch k {
		case "title":
			if s, ok := v.(string); ok {
				n.Title = s
			}
		case "locked":
			if b, ok := v.(bool); ok {
				n.Locked = b
			}
		case "booking_ref":
			if s, ok := v.(string); ok {
				n.BookingRef = s
			}
		default:
			if n.Details == nil {
				n.Details = map[string]interface{}{}
			}
			n.Details[k] = v
		}
	}
}

// computeDiff derives (added, removed, updated) by comparing node sets
// before and after, keyed by node identifier across all days.
func computeDiff(before, after *model.Itinerary) model.Diff {
	beforeNodes := make(map[string]model.Node)
	for _, d := range before.Days {
		for _, n := range d.Nodes {
			beforeNodes[n.ID] = n
		}
	}
	afterNodes := make(map[string]model.Node)
	for _, d := range after.Days {
		for _, n := range d.Nodes {
			afterNodes[n.ID] = n
		}
	}

	var diff model.Diff
	for id, n := range afterNodes {
		b, existed := beforeNodes[id]
		if !existed {
			diff.Added = append(diff.Added, n)
			continue
		}
		if !nodeEqual(b, n) {
			diff.Updated = append(diff.Updated, model.UpdatedPair{Before: b, After: n})
		}
	}
	for id, n := range beforeNodes {
		if _, stillExists := afterNodes[id]; !stillExists {
			diff.Removed = append(diff.Removed, n)
		}
	}
	return diff
}

func nodeEqual(a, b model.Node) bool {
	return fmt.Sprintf("%+v", a) == fmt.Sprintf("%+v", b)
}

func (e *Engine) publishPatch(ctx context.Context, itineraryID string, diff model.Diff, newVersion int) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(ctx, itineraryID, model.AgentEvent{
		Type:        model.EventPatchApplied,
		ItineraryID: itineraryID,
		Diff:        &diff,
		NewVersion:  newVersion,
		TimestampMs: time.Now().UnixMilli(),
	})
}

// scheduleAutoEnrichment launches enrichment for added/updated nodes
// lacking coordinates in a background goroutine, completing with a
// node_enhanced event. Fire-and-forget WITH a completion callback: never
// launch async work with no signal back to the caller.
func (e *Engine) scheduleAutoEnrichment(itineraryID string, it *model.Itinerary, diff model.Diff) {
	if e.enricher == nil {
		return
	}
	candidates := make([]model.Node, 0, len(diff.Added)+len(diff.Updated))
	candidates = append(candidates, diff.Added...)
	for _, u := range diff.Updated {
		candidates = append(candidates, u.After)
	}

	for _, n := range candidates {
		if n.Location.Coordinates != nil {
			continue
		}
		node := n
		go func() {
			ctx := context.Background()
			if err := e.enricher.EnrichNode(ctx, it, &node); err != nil {
				e.logger.WarnWithContext(ctx, "changeengine: auto-enrichment failed", map[string]interface{}{
					"itinerary_id": itineraryID, "node_id": node.ID, "error": err.Error(),
				})
				return
			}
			if e.bus != nil {
				e.bus.Publish(ctx, itineraryID, model.AgentEvent{
					Type:            model.EventNodeEnhanced,
					ItineraryID:     itineraryID,
					NodeID:          node.ID,
					EnhancementKind: "coordinates",
					TimestampMs:     time.Now().UnixMilli(),
				})
			}
		}()
	}
}

// Undo restores an itinerary's Days from the named revision's PreState,
// recording the restoration as a new revision rather than rewinding
// history.
func (e *Engine) Undo(ctx context.Context, itineraryID string, revisionNumber int) (int, error) {
	lock := e.lockFor(itineraryID)
	lock.Lock()
	defer lock.Unlock()

	revs, err := e.store.ListRevisions(ctx, itineraryID, 0, revisionNumber+1)
	if err != nil {
		return 0, err
	}
	var target *model.Revision
	for i := range revs {
		if revs[i].RevisionNumber == revisionNumber {
			target = &revs[i]
			break
		}
	}
	if target == nil {
		return 0, model.NewErrorWithID("changeengine.Undo", itineraryID, model.ErrNodeNotFound)
	}

	it, err := e.store.Load(ctx, itineraryID)
	if err != nil {
		return 0, err
	}

	restored := it.Clone()
	restored.Days = make([]model.Day, len(target.PreState))
	for i, d := range target.PreState {
		restored.Days[i] = d.Clone()
	}
	restored.Version = it.Version + 1
	restored.UpdatedAt = time.Now()

	rev := model.Revision{
		ItineraryID:    itineraryID,
		RevisionNumber: restored.Version,
		Timestamp:      time.Now().UnixMilli(),
		Reason:         fmt.Sprintf("rollback to revision %d", revisionNumber),
		PreState:       it.Days,
	}
	if err := e.store.AppendRevision(ctx, rev); err != nil {
		return 0, model.NewErrorWithID("changeengine.Undo", itineraryID, fmt.Errorf("%w: %v", model.ErrTransient, err))
	}
	if err := e.store.Save(ctx, restored, it.Version); err != nil {
		return 0, err
	}
	return restored.Version, nil
}
