// Package store defines the persistence boundary for itineraries and their
// revision history. This package supplies the interface plus an in-memory
// implementation and a Redis-backed one that exercises the
// optimistic-concurrency contract the Change Engine depends on.
package store

import (
	"context"

	"github.com/tripforge/itinerary-engine/internal/model"
)

// Store is the persistence boundary the Change Engine and pipeline write
// through. Every mutation is version-gated: Save fails with
// model.ErrVersionConflict if the stored version has moved since Load.
type Store interface {
	// Load fetches the current itinerary snapshot.
	Load(ctx context.Context, itineraryID string) (*model.Itinerary, error)

	// Save persists it if expectedVersion matches the stored version,
	// then atomically advances the stored version to it.Version.
	Save(ctx context.Context, it *model.Itinerary, expectedVersion int) error

	// Create inserts a brand-new itinerary; fails if the ID already exists.
	Create(ctx context.Context, it *model.Itinerary) error

	// AppendRevision appends one entry to an itinerary's history.
	AppendRevision(ctx context.Context, rev model.Revision) error

	// ListRevisions returns up to limit revisions older than beforeRevision
	// (0 means "most recent"), newest first.
	ListRevisions(ctx context.Context, itineraryID string, limit int, beforeRevision int) ([]model.Revision, error)

	// Healthcheck reports whether the store can currently serve requests.
	Healthcheck(ctx context.Context) error
}

// OwnershipIndex links itineraries to the user that created them,
// independent of the itinerary document itself so ownership lookups don't
// require loading the full aggregate.
type OwnershipIndex interface {
	// LinkOwnership records that userID owns itineraryID.
	LinkOwnership(ctx context.Context, userID, itineraryID string) error

	// OwnerOf returns the user ID that owns itineraryID, or
	// model.ErrNodeNotFound if no link exists.
	OwnerOf(ctx context.Context, itineraryID string) (string, error)

	// TripsFor lists itinerary IDs owned by userID.
	TripsFor(ctx context.Context, userID string) ([]string, error)
}
