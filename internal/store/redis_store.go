package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/tripforge/itinerary-engine/internal/model"
)

const (
	itineraryKeyPrefix = "itin:engine:itinerary:"
	revisionKeyPrefix  = "itin:engine:revisions:"
	ownerKeyPrefix     = "itin:engine:owner:"
	tripsKeyPrefix     = "itin:engine:trips:"
)

// RedisStore is a Store backed by Redis: one key per itinerary holding its
// JSON encoding, a WATCH/MULTI transaction to enforce the expected-version
// check atomically across processes, and a sorted-set index for revisions
// so ListRevisions can page by revision number.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client; connection lifecycle is owned by
// the caller (cmd/server).
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func itineraryKey(id string) string { return itineraryKeyPrefix + id }
func revisionKey(id string) string  { return revisionKeyPrefix + id }

func (s *RedisStore) Load(ctx context.Context, itineraryID string) (*model.Itinerary, error) {
	raw, err := s.client.Get(ctx, itineraryKey(itineraryID)).Bytes()
	if err == redis.Nil {
		return nil, model.NewErrorWithID("store.Load", itineraryID, model.ErrNodeNotFound)
	}
	if err != nil {
		return nil, model.NewErrorWithID("store.Load", itineraryID, fmt.Errorf("%w: %v", model.ErrTransient, err))
	}

	var it model.Itinerary
	if err := json.Unmarshal(raw, &it); err != nil {
		return nil, model.NewErrorWithID("store.Load", itineraryID, fmt.Errorf("%w: decode: %v", model.ErrSchemaViolation, err))
	}
	return &it, nil
}

func (s *RedisStore) Create(ctx context.Context, it *model.Itinerary) error {
	data, err := json.Marshal(it)
	if err != nil {
		return model.NewErrorWithID("store.Create", it.ID, err)
	}

	ok, err := s.client.SetNX(ctx, itineraryKey(it.ID), data, 0).Result()
	if err != nil {
		return model.NewErrorWithID("store.Create", it.ID, fmt.Errorf("%w: %v", model.ErrTransient, err))
	}
	if !ok {
		return model.NewErrorWithID("store.Create", it.ID, fmt.Errorf("itinerary already exists"))
	}
	return nil
}

// Save enforces the expected-version check with a WATCH transaction so a
// concurrent writer between our Load and Save loses the race with
// model.ErrVersionConflict rather than silently overwriting.
func (s *RedisStore) Save(ctx context.Context, it *model.Itinerary, expectedVersion int) error {
	key := itineraryKey(it.ID)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return model.NewErrorWithID("store.Save", it.ID, model.ErrNodeNotFound)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrTransient, err)
		}

		var cur model.Itinerary
		if err := json.Unmarshal(raw, &cur); err != nil {
			return fmt.Errorf("%w: decode: %v", model.ErrSchemaViolation, err)
		}
		if cur.Version != expectedVersion {
			return model.NewErrorWithID("store.Save", it.ID, model.ErrVersionConflict)
		}

		data, err := json.Marshal(it)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	if err := s.client.Watch(ctx, txf, key); err != nil {
		if _, ok := err.(*model.EngineError); ok {
			return err
		}
		return model.NewErrorWithID("store.Save", it.ID, fmt.Errorf("%w: %v", model.ErrTransient, err))
	}
	return nil
}

func (s *RedisStore) AppendRevision(ctx context.Context, rev model.Revision) error {
	data, err := json.Marshal(rev)
	if err != nil {
		return model.NewErrorWithID("store.AppendRevision", rev.ItineraryID, err)
	}
	key := revisionKey(rev.ItineraryID)
	if err := s.client.ZAdd(ctx, key, &redis.Z{Score: float64(rev.RevisionNumber), Member: data}).Err(); err != nil {
		return model.NewErrorWithID("store.AppendRevision", rev.ItineraryID, fmt.Errorf("%w: %v", model.ErrTransient, err))
	}
	return nil
}

func (s *RedisStore) ListRevisions(ctx context.Context, itineraryID string, limit int, beforeRevision int) ([]model.Revision, error) {
	key := revisionKey(itineraryID)

	max := "+inf"
	if beforeRevision > 0 {
		max = fmt.Sprintf("(%d", beforeRevision)
	}
	count := int64(0)
	if limit > 0 {
		count = int64(limit)
	}

	raws, err := s.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   max,
		Count: count,
	}).Result()
	if err != nil {
		return nil, model.NewErrorWithID("store.ListRevisions", itineraryID, fmt.Errorf("%w: %v", model.ErrTransient, err))
	}

	out := make([]model.Revision, 0, len(raws))
	for _, raw := range raws {
		var rev model.Revision
		if err := json.Unmarshal([]byte(raw), &rev); err != nil {
			continue
		}
		out = append(out, rev)
	}
	return out, nil
}

func (s *RedisStore) Healthcheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func ownerKey(itineraryID string) string { return ownerKeyPrefix + itineraryID }
func tripsKey(userID string) string      { return tripsKeyPrefix + userID }

// LinkOwnership records the itinerary-to-user link as a plain key plus a
// per-user set, so OwnerOf and TripsFor are each a single round trip.
func (s *RedisStore) LinkOwnership(ctx context.Context, userID, itineraryID string) error {
	if err := s.client.Set(ctx, ownerKey(itineraryID), userID, 0).Err(); err != nil {
		return model.NewErrorWithID("store.LinkOwnership", itineraryID, fmt.Errorf("%w: %v", model.ErrTransient, err))
	}
	if err := s.client.SAdd(ctx, tripsKey(userID), itineraryID).Err(); err != nil {
		return model.NewErrorWithID("store.LinkOwnership", itineraryID, fmt.Errorf("%w: %v", model.ErrTransient, err))
	}
	return nil
}

func (s *RedisStore) OwnerOf(ctx context.Context, itineraryID string) (string, error) {
	userID, err := s.client.Get(ctx, ownerKey(itineraryID)).Result()
	if err == redis.Nil {
		return "", model.NewErrorWithID("store.OwnerOf", itineraryID, model.ErrNodeNotFound)
	}
	if err != nil {
		return "", model.NewErrorWithID("store.OwnerOf", itineraryID, fmt.Errorf("%w: %v", model.ErrTransient, err))
	}
	return userID, nil
}

func (s *RedisStore) TripsFor(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, tripsKey(userID)).Result()
	if err != nil {
		return nil, model.NewErrorWithID("store.TripsFor", userID, fmt.Errorf("%w: %v", model.ErrTransient, err))
	}
	return ids, nil
}
