/*
Package registry implements the Schema Registry (component B): it assigns a
content-addressed identity (schema_id) to every JSON Schema presented to the
engine and keeps the idempotent schema_id -> collection_id mapping that makes
create_collection safe to call repeatedly with the same schema.

schema_id is derived from the schema itself, not from a caller-supplied
name: two callers who submit byte-for-byte-different but semantically
identical schemas (e.g. differing only in key order) compute the same
schema_id. collection_id is a distinct, freshly allocated UUID assigned the
first time a given schema_id is seen; the registry persists the
schema_id -> collection_id mapping so later create_collection calls with the
same schema resolve to that same collection_id instead of minting a new one.
*/
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quipubase/quipubase-go/internal/apperr"
	"github.com/quipubase/quipubase-go/internal/kv"
)

const metaBucket = "__registry__"

// Collection is the persisted admin record for a registered collection.
type Collection struct {
	ID        string          `json:"id"`
	SchemaID  string          `json:"schema_id"`
	Schema    json.RawMessage `json:"schema"`
	CreatedAt time.Time       `json:"created_at"`
	// RecordCount is a best-effort counter maintained by the store layer and
	// surfaced here for the collection-admin HTTP responses.
	RecordCount int64 `json:"record_count"`
}

// Registry maps schema identity to collection records and keeps an
// in-memory cache so that resolving a schema_id to its collection_id needs
// no scan of the meta bucket.
type Registry struct {
	mu     sync.RWMutex
	engine kv.Engine
	// cache maps schema_id -> collection_id; Load rebuilds it from the
	// collection records kept in the meta bucket.
	cache map[string]string
}

// New constructs a Registry backed by engine. It does not load existing
// collections eagerly; Load should be called once at startup to warm the
// cache from durable storage.
func New(engine kv.Engine) *Registry {
	return &Registry{
		engine: engine,
		cache:  make(map[string]string),
	}
}

// Load populates the in-memory schema_id -> collection_id cache from
// durable storage. Call once during startup before serving requests.
func (r *Registry) Load(ctx context.Context) error {
	entries, err := r.engine.PrefixScan(ctx, metaBucket, []byte("collection/"))
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		var c Collection
		if err := json.Unmarshal(e.Value, &c); err != nil {
			return apperr.Storage(err, "registry: corrupt collection record for key %q", e.Key)
		}
		r.cache[c.SchemaID] = c.ID
	}
	return nil
}

// SchemaID computes the content-addressed identity of a JSON Schema:
// sha256 over its canonical (sorted-key) re-encoding, hex-encoded.
func SchemaID(schema json.RawMessage) (string, error) {
	decoded, err := decodeJSONPreserveNumbers(schema)
	if err != nil {
		return "", apperr.Validation("registry: schema is not valid JSON: %v", err)
	}
	canon, err := canonicalize(decoded)
	if err != nil {
		return "", apperr.Validation("registry: schema cannot be canonicalized: %v", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// CreateCollection registers schema and returns its Collection record. If a
// collection already exists for this schema's identity, the existing record
// is returned unchanged — creation is idempotent by schema hash.
func (r *Registry) CreateCollection(ctx context.Context, schema json.RawMessage) (*Collection, error) {
	schemaID, err := SchemaID(schema)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if collectionID, ok := r.cache[schemaID]; ok {
		return r.getLocked(ctx, collectionID)
	}

	collectionID := uuid.NewString()
	collection := &Collection{
		ID:        collectionID,
		SchemaID:  schemaID,
		Schema:    schema,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.putLocked(ctx, collection); err != nil {
		return nil, err
	}
	r.cache[schemaID] = collectionID
	return collection, nil
}

// GetCollection retrieves a collection by its id.
func (r *Registry) GetCollection(ctx context.Context, collectionID string) (*Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(ctx, collectionID)
}

// GetBySchemaID retrieves a collection by its schema's content-addressed id.
func (r *Registry) GetBySchemaID(ctx context.Context, schemaID string) (*Collection, error) {
	r.mu.RLock()
	collectionID, ok := r.cache[schemaID]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("registry: no collection for schema_id %s", schemaID)
	}
	return r.GetCollection(ctx, collectionID)
}

// ListCollections returns every registered collection, ordered by id.
func (r *Registry) ListCollections(ctx context.Context) ([]*Collection, error) {
	entries, err := r.engine.PrefixScan(ctx, metaBucket, []byte("collection/"))
	if err != nil {
		return nil, err
	}
	collections := make([]*Collection, 0, len(entries))
	for _, e := range entries {
		var c Collection
		if err := json.Unmarshal(e.Value, &c); err != nil {
			return nil, apperr.Storage(err, "registry: corrupt collection record for key %q", e.Key)
		}
		collections = append(collections, &c)
	}
	return collections, nil
}

// DeleteCollection removes a collection's admin record. It does not delete
// the collection's stored records; callers are expected to purge the
// record key-space separately (see store.Store.Purge) before calling this.
func (r *Registry) DeleteCollection(ctx context.Context, collectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.getLocked(ctx, collectionID)
	if err != nil {
		return err
	}
	key := []byte(collectionKey(collectionID))
	if err := r.engine.Delete(ctx, metaBucket, key); err != nil {
		return err
	}
	delete(r.cache, c.SchemaID)
	return nil
}

// UpdateRecordCount persists an updated record count for a collection. It
// is called by the store layer after successful writes and deletes so the
// collection-admin surface can report an approximate size without scanning.
func (r *Registry) UpdateRecordCount(ctx context.Context, collectionID string, count int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.getLocked(ctx, collectionID)
	if err != nil {
		return err
	}
	c.RecordCount = count
	return r.putLocked(ctx, c)
}

func (r *Registry) getLocked(ctx context.Context, collectionID string) (*Collection, error) {
	raw, err := r.engine.Get(ctx, metaBucket, []byte(collectionKey(collectionID)))
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.NotFound("registry: no collection with id %s", collectionID)
		}
		return nil, err
	}
	var c Collection
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, apperr.Storage(err, "registry: corrupt collection record for id %s", collectionID)
	}
	return &c, nil
}

func (r *Registry) putLocked(ctx context.Context, c *Collection) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return apperr.Storage(err, "registry: failed to marshal collection record %s", c.ID)
	}
	return r.engine.Put(ctx, metaBucket, []byte(collectionKey(c.ID)), raw)
}

func collectionKey(collectionID string) string {
	return "collection/" + collectionID
}
