/*
Package store implements the Collection Store (component D): per-collection
CRUD and filtered scan built on the KV engine (component A) using the
compiled type produced by the Record Model Compiler (component C). Every
successful mutation publishes exactly one event on the Event Bus
(component E), satisfying invariant I3.
*/
package store

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/quipubase/quipubase-go/internal/apperr"
	"github.com/quipubase/quipubase-go/internal/eventbus"
	"github.com/quipubase/quipubase-go/internal/kv"
	"github.com/quipubase/quipubase-go/internal/recordtype"
)

const idField = "id"

// Store is the per-collection record store. Callers obtain one per
// collection_id from an Engine (see Engine.StoreFor).
type Store struct {
	collectionID string
	bucket       string
	engine       kv.Engine
	compiled     *recordtype.CompiledType
	bus          *eventbus.Bus
	telemetry    *Telemetry
	onWrite      func(collectionID string, delta int64)
}

func bucketFor(collectionID string) string {
	return "coll/" + collectionID
}

// New constructs a Store for one collection. onWrite, if non-nil, is
// invoked after every successful create/delete with +1/-1 so callers can
// maintain an approximate record count (see registry.UpdateRecordCount).
func New(collectionID string, engine kv.Engine, compiled *recordtype.CompiledType, bus *eventbus.Bus, telemetry *Telemetry, onWrite func(collectionID string, delta int64)) *Store {
	return &Store{
		collectionID: collectionID,
		bucket:       bucketFor(collectionID),
		engine:       engine,
		compiled:     compiled,
		bus:          bus,
		telemetry:    telemetry,
		onWrite:      onWrite,
	}
}

// Create validates payload, assigns an id if absent, persists the record,
// and publishes a created event.
func (s *Store) Create(ctx context.Context, payload map[string]any) (recordtype.Record, error) {
	return withTelemetry(s.telemetry, s.collectionID, "", RecordCreateStart, RecordCreateSuccess, RecordCreateFailed, func() (recordtype.Record, error) {
		record, err := s.compiled.Validate(payload)
		if err != nil {
			return nil, err
		}

		recordID, _ := record[idField].(string)
		if recordID == "" {
			recordID = uuid.NewString()
			record[idField] = recordID
		}

		raw, err := s.compiled.Serialize(record)
		if err != nil {
			return nil, err
		}
		if err := s.engine.Put(ctx, s.bucket, []byte(recordID), raw); err != nil {
			return nil, err
		}

		if s.onWrite != nil {
			s.onWrite(s.collectionID, 1)
		}
		s.bus.Publish(s.collectionID, eventbus.KindCreated, recordID, record)
		return record, nil
	})
}

// Retrieve reads and deserializes the record with the given id.
func (s *Store) Retrieve(ctx context.Context, recordID string) (recordtype.Record, error) {
	return withTelemetry(s.telemetry, s.collectionID, recordID, RecordReadStart, RecordReadSuccess, RecordReadFailed, func() (recordtype.Record, error) {
		raw, err := s.engine.Get(ctx, s.bucket, []byte(recordID))
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				return nil, apperr.NotFound("store: record %q not found in collection %s", recordID, s.collectionID)
			}
			return nil, err
		}
		return s.compiled.Deserialize(raw)
	})
}

// Update performs a read-modify-write: patch replaces the enumerated
// top-level fields (excluding id), the merged record is re-validated, and
// an updated event is published with the post-image.
func (s *Store) Update(ctx context.Context, recordID string, patch map[string]any) (recordtype.Record, error) {
	return withTelemetry(s.telemetry, s.collectionID, recordID, RecordUpdateStart, RecordUpdateSuccess, RecordUpdateFailed, func() (recordtype.Record, error) {
		raw, err := s.engine.Get(ctx, s.bucket, []byte(recordID))
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				return nil, apperr.NotFound("store: record %q not found in collection %s", recordID, s.collectionID)
			}
			return nil, err
		}
		existing, err := s.compiled.Deserialize(raw)
		if err != nil {
			return nil, err
		}

		merged := make(map[string]any, len(existing)+len(patch))
		for k, v := range existing {
			merged[k] = v
		}
		for k, v := range patch {
			if k == idField {
				continue
			}
			merged[k] = v
		}
		merged[idField] = recordID

		record, err := s.compiled.Validate(merged)
		if err != nil {
			return nil, err
		}

		newRaw, err := s.compiled.Serialize(record)
		if err != nil {
			return nil, err
		}
		if err := s.engine.Put(ctx, s.bucket, []byte(recordID), newRaw); err != nil {
			return nil, err
		}

		s.bus.Publish(s.collectionID, eventbus.KindUpdated, recordID, record)
		return record, nil
	})
}

// Delete removes the record with the given id and publishes a deleted
// event carrying the pre-image.
func (s *Store) Delete(ctx context.Context, recordID string) error {
	_, err := withTelemetry(s.telemetry, s.collectionID, recordID, RecordDeleteStart, RecordDeleteSuccess, RecordDeleteFailed, func() (struct{}, error) {
		raw, err := s.engine.Get(ctx, s.bucket, []byte(recordID))
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				return struct{}{}, apperr.NotFound("store: record %q not found in collection %s", recordID, s.collectionID)
			}
			return struct{}{}, err
		}
		preImage, err := s.compiled.Deserialize(raw)
		if err != nil {
			return struct{}{}, err
		}

		if err := s.engine.Delete(ctx, s.bucket, []byte(recordID)); err != nil {
			return struct{}{}, err
		}

		if s.onWrite != nil {
			s.onWrite(s.collectionID, -1)
		}
		s.bus.Publish(s.collectionID, eventbus.KindDeleted, recordID, preImage)
		return struct{}{}, nil
	})
	return err
}

// Find scans the collection's key-space in ascending key order, yielding
// at most limit records matching filter after skipping the first offset
// matches. A limit of zero returns every match after the offset. The scan
// is finite and not restartable.
func (s *Store) Find(ctx context.Context, filter map[string]any, limit, offset int) ([]recordtype.Record, error) {
	return withTelemetry(s.telemetry, s.collectionID, "", RecordFindStart, RecordFindSuccess, RecordFindFailed, func() ([]recordtype.Record, error) {
		entries, err := s.engine.PrefixScan(ctx, s.bucket, nil)
		if err != nil {
			return nil, err
		}
		sort.Slice(entries, func(i, j int) bool {
			return string(entries[i].Key) < string(entries[j].Key)
		})

		results := make([]recordtype.Record, 0, limit)
		skipped := 0
		for _, entry := range entries {
			record, err := s.compiled.Deserialize(entry.Value)
			if err != nil {
				return nil, err
			}
			if !s.compiled.Match(record, filter) {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			results = append(results, record)
			if limit > 0 && len(results) >= limit {
				break
			}
		}
		return results, nil
	})
}

// Purge drops the collection's key prefix wholesale, used when a
// collection is deleted.
func (s *Store) Purge(ctx context.Context) error {
	if err := s.engine.DropPrefix(ctx, s.bucket, nil); err != nil {
		return err
	}
	s.telemetry.emit(RecordEvent{Type: CollectionPurged, CollectionID: s.collectionID})
	return nil
}
