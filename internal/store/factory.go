package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/quipubase/quipubase-go/internal/apperr"
	"github.com/quipubase/quipubase-go/internal/eventbus"
	"github.com/quipubase/quipubase-go/internal/kv"
	"github.com/quipubase/quipubase-go/internal/recordtype"
	"github.com/quipubase/quipubase-go/internal/registry"
)

// Engine ties the Schema Registry, KV engine, Record Model Compiler, and
// Event Bus together into the single entry point the HTTP surface drives.
// It caches one compiled type and Store per collection_id so repeated
// record operations never recompile a schema.
type Engine struct {
	mu        sync.RWMutex
	kv        kv.Engine
	registry  *registry.Registry
	bus       *eventbus.Bus
	telemetry *Telemetry
	compiled  map[string]*recordtype.CompiledType
	stores    map[string]*Store
}

// NewEngine constructs an Engine. The registry's Load should be called
// once at startup, before the Engine serves requests.
func NewEngine(kvEngine kv.Engine, reg *registry.Registry, bus *eventbus.Bus, telemetry *Telemetry) *Engine {
	return &Engine{
		kv:        kvEngine,
		registry:  reg,
		bus:       bus,
		telemetry: telemetry,
		compiled:  make(map[string]*recordtype.CompiledType),
		stores:    make(map[string]*Store),
	}
}

// CreateCollection registers schema (idempotent on content hash) and
// compiles its record type.
func (e *Engine) CreateCollection(ctx context.Context, schema json.RawMessage) (*registry.Collection, error) {
	collection, err := e.registry.CreateCollection(ctx, schema)
	if err != nil {
		return nil, err
	}
	if _, err := e.compiledTypeFor(collection); err != nil {
		return nil, err
	}
	return collection, nil
}

// GetCollection returns the admin record for collection_id.
func (e *Engine) GetCollection(ctx context.Context, collectionID string) (*registry.Collection, error) {
	return e.registry.GetCollection(ctx, collectionID)
}

// ListCollections returns every registered collection.
func (e *Engine) ListCollections(ctx context.Context) ([]*registry.Collection, error) {
	return e.registry.ListCollections(ctx)
}

// DeleteCollection purges the collection's records, closes its topic, and
// removes its admin record.
func (e *Engine) DeleteCollection(ctx context.Context, collectionID string) error {
	s, err := e.storeFor(ctx, collectionID)
	if err != nil {
		return err
	}
	if err := s.Purge(ctx); err != nil {
		return err
	}
	e.bus.CloseTopic(collectionID)

	e.mu.Lock()
	delete(e.compiled, collectionID)
	delete(e.stores, collectionID)
	e.mu.Unlock()

	return e.registry.DeleteCollection(ctx, collectionID)
}

// StoreFor returns the Store for an already-registered collection,
// compiling and caching its type on first access.
func (e *Engine) StoreFor(ctx context.Context, collectionID string) (*Store, error) {
	return e.storeFor(ctx, collectionID)
}

// Subscribe opens a Subscription on collectionID's topic, after confirming
// the collection exists.
func (e *Engine) Subscribe(ctx context.Context, collectionID string) (*eventbus.Subscription, error) {
	if _, err := e.registry.GetCollection(ctx, collectionID); err != nil {
		return nil, err
	}
	return e.bus.Subscribe(ctx, collectionID), nil
}

// Shutdown closes every open topic, then the KV engine.
func (e *Engine) Shutdown() error {
	e.bus.Shutdown()
	return e.kv.Close()
}

func (e *Engine) storeFor(ctx context.Context, collectionID string) (*Store, error) {
	e.mu.RLock()
	s, ok := e.stores[collectionID]
	e.mu.RUnlock()
	if ok {
		return s, nil
	}

	collection, err := e.registry.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	compiled, err := e.compiledTypeFor(collection)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.stores[collectionID]; ok {
		return s, nil
	}
	s = New(collectionID, e.kv, compiled, e.bus, e.telemetry, e.recordCountDelta)
	e.stores[collectionID] = s
	return s, nil
}

func (e *Engine) compiledTypeFor(collection *registry.Collection) (*recordtype.CompiledType, error) {
	e.mu.RLock()
	ct, ok := e.compiled[collection.ID]
	e.mu.RUnlock()
	if ok {
		return ct, nil
	}

	compiled, err := recordtype.Compile(collection.Schema)
	if err != nil {
		return nil, apperr.Storage(err, "store: failed to recompile schema for collection %s", collection.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ct, ok := e.compiled[collection.ID]; ok {
		return ct, nil
	}
	e.compiled[collection.ID] = compiled
	return compiled, nil
}

// recordCountDelta is wired as each Store's onWrite hook so the registry's
// persisted record_count tracks create/delete traffic.
func (e *Engine) recordCountDelta(collectionID string, delta int64) {
	ctx := context.Background()
	collection, err := e.registry.GetCollection(ctx, collectionID)
	if err != nil {
		return
	}
	_ = e.registry.UpdateRecordCount(ctx, collectionID, collection.RecordCount+delta)
}
