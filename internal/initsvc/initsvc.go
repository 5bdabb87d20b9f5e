// Package initsvc implements a synchronous step that mints an itinerary
// identifier, builds an empty day-shell from the requested date range,
// persists it, and links ownership, all before the pipeline orchestrator's
// asynchronous generation starts, so the client can open its event
// subscription against a known identifier first.
package initsvc

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tripforge/itinerary-engine/internal/model"
	"github.com/tripforge/itinerary-engine/internal/store"
	"github.com/tripforge/itinerary-engine/internal/telemetry"
)

// CreateRequest carries the client-supplied trip parameters.
type CreateRequest struct {
	Destination string
	DateRange   model.DateRange
	Party       model.Party
	BudgetTier  model.BudgetTier
	Interests   []string
	Language    string
	Currency    string
}

// Result is what Create returns: the persisted shell plus a freshly minted
// execution ID the caller hands to the pipeline orchestrator.
type Result struct {
	Itinerary   *model.Itinerary
	ExecutionID string
}

// Service mints itineraries and links ownership, synchronously.
type Service struct {
	store    store.Store
	owners   store.OwnershipIndex
	logger   telemetry.Logger
	idFunc   func() string
}

// New builds an Initialization Service. owners may be nil if the
// configured store does not implement OwnershipIndex; ownership linking is
// then skipped. A failed link is logged as a warning rather than failing
// creation.
func New(s store.Store, owners store.OwnershipIndex, logger telemetry.Logger) *Service {
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	return &Service{
		store:  s,
		owners: owners,
		logger: logger.WithComponent("initsvc"),
		idFunc: func() string { return uuid.NewString() },
	}
}

// Create builds the empty day shell, persists it, and links ownership. It
// must complete before the HTTP response is sent; pipeline generation
// starts only after Create returns.
func (svc *Service) Create(ctx context.Context, userID string, req CreateRequest) (Result, error) {
	now := time.Now()
	it := &model.Itinerary{
		ID:        svc.idFunc(),
		OwnerID:   userID,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    model.StatusDraft,
		Settings:  model.Settings{Currency: defaultString(req.Currency, "USD"), Units: "metric"},
		Trip: model.TripMetadata{
			Destination: req.Destination,
			DateRange:   req.DateRange,
			Party:       req.Party,
			BudgetTier:  req.BudgetTier,
			Interests:   req.Interests,
			Language:    req.Language,
		},
		Days: buildEmptyDays(req.DateRange),
	}

	if err := svc.store.Create(ctx, it); err != nil {
		return Result{}, err
	}

	if svc.owners != nil {
		if err := svc.owners.LinkOwnership(ctx, userID, it.ID); err != nil {
			svc.logger.WarnWithContext(ctx, "initsvc: failed to link ownership", map[string]interface{}{
				"user_id": userID, "itinerary_id": it.ID, "error": err.Error(),
			})
		}
	}

	return Result{Itinerary: it, ExecutionID: svc.idFunc()}, nil
}

// buildEmptyDays computes one Day per calendar day in the range, each with
// an empty node list: the shell the pipeline's skeleton phase populates.
func buildEmptyDays(r model.DateRange) []model.Day {
	n := r.Days()
	days := make([]model.Day, n)
	for i := 0; i < n; i++ {
		days[i] = model.Day{
			DayNumber: i + 1,
			Date:      r.Start.AddDate(0, 0, i),
			Nodes:     []model.Node{},
		}
	}
	return days
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
