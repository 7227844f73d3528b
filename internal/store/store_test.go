package store_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/quipubase/quipubase-go/internal/apperr"
	"github.com/quipubase/quipubase-go/internal/eventbus"
	"github.com/quipubase/quipubase-go/internal/kv"
	"github.com/quipubase/quipubase-go/internal/registry"
	"github.com/quipubase/quipubase-go/internal/store"
	"github.com/stretchr/testify/require"
)

const taskSchema = `{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "done": {"type": "boolean"}
  },
  "required": ["title", "done"]
}`

func newTestEngine(t *testing.T) (*store.Engine, context.Context) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.db")
	kvEngine, err := kv.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kvEngine.Close() })

	reg := registry.New(kvEngine)
	bus := eventbus.New()
	telemetry := store.NewTelemetry(nil, nil)
	return store.NewEngine(kvEngine, reg, bus, telemetry), context.Background()
}

func TestCreateThenRetrieve(t *testing.T) {
	engine, ctx := newTestEngine(t)
	collection, err := engine.CreateCollection(ctx, json.RawMessage(taskSchema))
	require.NoError(t, err)

	s, err := engine.StoreFor(ctx, collection.ID)
	require.NoError(t, err)

	record, err := s.Create(ctx, map[string]any{"title": "buy milk", "done": false})
	require.NoError(t, err)
	recordID, _ := record["id"].(string)
	require.NotEmpty(t, recordID)

	fetched, err := s.Retrieve(ctx, recordID)
	require.NoError(t, err)
	require.Equal(t, record, fetched)
}

func TestDeleteThenRetrieveIsNotFound(t *testing.T) {
	engine, ctx := newTestEngine(t)
	collection, err := engine.CreateCollection(ctx, json.RawMessage(taskSchema))
	require.NoError(t, err)
	s, err := engine.StoreFor(ctx, collection.ID)
	require.NoError(t, err)

	record, err := s.Create(ctx, map[string]any{"title": "x", "done": true})
	require.NoError(t, err)
	recordID := record["id"].(string)

	require.NoError(t, s.Delete(ctx, recordID))

	_, err = s.Retrieve(ctx, recordID)
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestClosedSchemaRejectsUnknownField(t *testing.T) {
	engine, ctx := newTestEngine(t)
	collection, err := engine.CreateCollection(ctx, json.RawMessage(taskSchema))
	require.NoError(t, err)
	s, err := engine.StoreFor(ctx, collection.ID)
	require.NoError(t, err)

	_, err = s.Create(ctx, map[string]any{"title": "x", "done": false, "extra": 1})
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestRequiredFieldRejection(t *testing.T) {
	engine, ctx := newTestEngine(t)
	collection, err := engine.CreateCollection(ctx, json.RawMessage(taskSchema))
	require.NoError(t, err)
	s, err := engine.StoreFor(ctx, collection.ID)
	require.NoError(t, err)

	_, err = s.Create(ctx, map[string]any{"title": "x"})
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestUpdatePublishesPostImage(t *testing.T) {
	engine, ctx := newTestEngine(t)
	collection, err := engine.CreateCollection(ctx, json.RawMessage(taskSchema))
	require.NoError(t, err)
	s, err := engine.StoreFor(ctx, collection.ID)
	require.NoError(t, err)

	sub, err := engine.Subscribe(ctx, collection.ID)
	require.NoError(t, err)

	record, err := s.Create(ctx, map[string]any{"title": "x", "done": false})
	require.NoError(t, err)
	recordID := record["id"].(string)
	<-sub.Events() // drain the create event

	updated, err := s.Update(ctx, recordID, map[string]any{"done": true})
	require.NoError(t, err)
	require.Equal(t, true, updated["done"])

	event := <-sub.Events()
	require.Equal(t, eventbus.KindUpdated, event.Kind)
	require.Equal(t, true, event.Payload["done"])
}

func TestFindFiltersByEqualityAndRespectsLimitOffset(t *testing.T) {
	engine, ctx := newTestEngine(t)
	collection, err := engine.CreateCollection(ctx, json.RawMessage(taskSchema))
	require.NoError(t, err)
	s, err := engine.StoreFor(ctx, collection.ID)
	require.NoError(t, err)

	for _, rec := range []map[string]any{
		{"title": "a", "done": true},
		{"title": "b", "done": false},
		{"title": "c", "done": true},
	} {
		_, err := s.Create(ctx, rec)
		require.NoError(t, err)
	}

	results, err := s.Find(ctx, map[string]any{"done": true}, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	page, err := s.Find(ctx, map[string]any{"done": true}, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, results[1]["id"], page[0]["id"])
}

func TestPurgeIsolatesOtherCollections(t *testing.T) {
	engine, ctx := newTestEngine(t)
	collectionA, err := engine.CreateCollection(ctx, json.RawMessage(taskSchema))
	require.NoError(t, err)
	collectionB, err := engine.CreateCollection(ctx, json.RawMessage(`{"type":"object","properties":{"x":{"type":"string"}}}`))
	require.NoError(t, err)

	storeA, err := engine.StoreFor(ctx, collectionA.ID)
	require.NoError(t, err)
	storeB, err := engine.StoreFor(ctx, collectionB.ID)
	require.NoError(t, err)

	_, err = storeA.Create(ctx, map[string]any{"title": "x", "done": false})
	require.NoError(t, err)
	recordB, err := storeB.Create(ctx, map[string]any{"x": "keep"})
	require.NoError(t, err)

	require.NoError(t, engine.DeleteCollection(ctx, collectionA.ID))

	fetched, err := storeB.Retrieve(ctx, recordB["id"].(string))
	require.NoError(t, err)
	require.Equal(t, "keep", fetched["x"])
}

func TestCreateCollectionIdempotentAcrossEngine(t *testing.T) {
	engine, ctx := newTestEngine(t)
	c1, err := engine.CreateCollection(ctx, json.RawMessage(taskSchema))
	require.NoError(t, err)
	c2, err := engine.CreateCollection(ctx, json.RawMessage(taskSchema))
	require.NoError(t, err)
	require.Equal(t, c1.ID, c2.ID)
}
