package registry_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/quipubase/quipubase-go/internal/apperr"
	"github.com/quipubase/quipubase-go/internal/kv"
	"github.com/quipubase/quipubase-go/internal/registry"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*registry.Registry, context.Context) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.db")
	engine, err := kv.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return registry.New(engine), context.Background()
}

func TestSchemaIDIgnoresKeyOrder(t *testing.T) {
	a := json.RawMessage(`{"type":"object","properties":{"a":{"type":"string"},"b":{"type":"integer"}}}`)
	b := json.RawMessage(`{"properties":{"b":{"type":"integer"},"a":{"type":"string"}},"type":"object"}`)

	idA, err := registry.SchemaID(a)
	require.NoError(t, err)
	idB, err := registry.SchemaID(b)
	require.NoError(t, err)
	require.Equal(t, idA, idB)
}

func TestSchemaIDDiffersOnContent(t *testing.T) {
	a := json.RawMessage(`{"type":"object"}`)
	b := json.RawMessage(`{"type":"array"}`)

	idA, err := registry.SchemaID(a)
	require.NoError(t, err)
	idB, err := registry.SchemaID(b)
	require.NoError(t, err)
	require.NotEqual(t, idA, idB)
}

func TestCreateCollectionAssignsUUIDDistinctFromSchemaID(t *testing.T) {
	reg, ctx := newTestRegistry(t)
	schema := json.RawMessage(`{"type":"object"}`)

	c, err := reg.CreateCollection(ctx, schema)
	require.NoError(t, err)

	require.NotEqual(t, c.SchemaID, c.ID)
	_, err = uuid.Parse(c.ID)
	require.NoError(t, err, "collection id must be a UUID, not the schema hash")
}

func TestCreateCollectionIsIdempotent(t *testing.T) {
	reg, ctx := newTestRegistry(t)
	schema := json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}}}`)

	c1, err := reg.CreateCollection(ctx, schema)
	require.NoError(t, err)

	reordered := json.RawMessage(`{"properties":{"name":{"type":"string"}},"type":"object"}`)
	c2, err := reg.CreateCollection(ctx, reordered)
	require.NoError(t, err)

	require.Equal(t, c1.ID, c2.ID)

	all, err := reg.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestGetCollectionNotFound(t *testing.T) {
	reg, ctx := newTestRegistry(t)
	_, err := reg.GetCollection(ctx, "does-not-exist")
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestDeleteCollectionRemovesFromCache(t *testing.T) {
	reg, ctx := newTestRegistry(t)
	schema := json.RawMessage(`{"type":"object"}`)

	c, err := reg.CreateCollection(ctx, schema)
	require.NoError(t, err)

	require.NoError(t, reg.DeleteCollection(ctx, c.ID))

	_, err = reg.GetCollection(ctx, c.ID)
	require.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = reg.GetBySchemaID(ctx, c.SchemaID)
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestLoadWarmsCacheFromDurableStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	engine, err := kv.Open(path)
	require.NoError(t, err)

	reg1 := registry.New(engine)
	ctx := context.Background()
	schema := json.RawMessage(`{"type":"object"}`)
	created, err := reg1.CreateCollection(ctx, schema)
	require.NoError(t, err)
	require.NoError(t, engine.Close())

	engine2, err := kv.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine2.Close() })

	reg2 := registry.New(engine2)
	require.NoError(t, reg2.Load(ctx))

	found, err := reg2.GetBySchemaID(ctx, created.SchemaID)
	require.NoError(t, err)
	require.Equal(t, created.ID, found.ID)
}

func TestUpdateRecordCount(t *testing.T) {
	reg, ctx := newTestRegistry(t)
	schema := json.RawMessage(`{"type":"object"}`)
	c, err := reg.CreateCollection(ctx, schema)
	require.NoError(t, err)

	require.NoError(t, reg.UpdateRecordCount(ctx, c.ID, 42))

	updated, err := reg.GetCollection(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, int64(42), updated.RecordCount)
}
