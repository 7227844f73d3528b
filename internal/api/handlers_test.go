package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/quipubase/quipubase-go/internal/api"
	"github.com/quipubase/quipubase-go/internal/eventbus"
	"github.com/quipubase/quipubase-go/internal/kv"
	"github.com/quipubase/quipubase-go/internal/registry"
	"github.com/quipubase/quipubase-go/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	path := filepath.Join(t.TempDir(), "api.db")
	kvEngine, err := kv.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kvEngine.Close() })

	reg := registry.New(kvEngine)
	bus := eventbus.New()
	telemetry := store.NewTelemetry(nil, nil)
	engine := store.NewEngine(kvEngine, reg, bus, telemetry)

	s := api.NewServer(api.Options{Addr: ":0", Engine: engine})
	return s.Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

const taskSchemaBody = `{"title":"Task","type":"object","properties":{"title":{"type":"string"},"done":{"type":"boolean"}},"required":["title","done"]}`

func TestScenarioCreateSchemaThenCreateRecord(t *testing.T) {
	handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/v1/collections", json.RawMessage(taskSchemaBody))
	require.Equal(t, http.StatusOK, rec.Code)

	var collection struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &collection))
	require.NotEmpty(t, collection.ID)

	createRec := doJSON(t, handler, http.MethodPost, "/v1/collections/objects/"+collection.ID, map[string]any{
		"event": "create",
		"data":  map[string]any{"title": "buy milk", "done": false},
	})
	require.Equal(t, http.StatusOK, createRec.Code)

	var created struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	recordID, _ := created.Data["id"].(string)
	require.NotEmpty(t, recordID)

	// Scenario 2: read back.
	readRec := doJSON(t, handler, http.MethodPost, "/v1/collections/objects/"+collection.ID, map[string]any{
		"event": "read",
		"id":    recordID,
	})
	require.Equal(t, http.StatusOK, readRec.Code)
	var readResp struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(readRec.Body.Bytes(), &readResp))
	require.Equal(t, "buy milk", readResp.Data["title"])
	require.Equal(t, false, readResp.Data["done"])

	// Scenario 4: filtered query over three inserted records.
	for _, body := range []map[string]any{
		{"title": "a", "done": true},
		{"title": "b", "done": false},
		{"title": "c", "done": true},
	} {
		rec := doJSON(t, handler, http.MethodPost, "/v1/collections/objects/"+collection.ID, map[string]any{
			"event": "create",
			"data":  body,
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	queryRec := doJSON(t, handler, http.MethodPost, "/v1/collections/objects/"+collection.ID, map[string]any{
		"event": "query",
		"data":  map[string]any{"done": true},
	})
	require.Equal(t, http.StatusOK, queryRec.Code)
	var queryResp struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(queryRec.Body.Bytes(), &queryResp))
	require.Len(t, queryResp.Data, 2)

	// Scenario 5: delete then 404.
	deleteRec := doJSON(t, handler, http.MethodPost, "/v1/collections/objects/"+collection.ID, map[string]any{
		"event": "delete",
		"id":    recordID,
	})
	require.Equal(t, http.StatusOK, deleteRec.Code)

	notFoundRec := doJSON(t, handler, http.MethodPost, "/v1/collections/objects/"+collection.ID, map[string]any{
		"event": "read",
		"id":    recordID,
	})
	require.Equal(t, http.StatusNotFound, notFoundRec.Code)

	// Scenario 6: closed schema rejection.
	rejectRec := doJSON(t, handler, http.MethodPost, "/v1/collections/objects/"+collection.ID, map[string]any{
		"event": "create",
		"data":  map[string]any{"title": "x", "done": false, "extra": 1},
	})
	require.Equal(t, http.StatusBadRequest, rejectRec.Code)
}

func TestCreateCollectionIsIdempotentOverHTTP(t *testing.T) {
	handler := newTestServer(t)

	first := doJSON(t, handler, http.MethodPost, "/v1/collections", json.RawMessage(taskSchemaBody))
	second := doJSON(t, handler, http.MethodPost, "/v1/collections", json.RawMessage(taskSchemaBody))

	var c1, c2 struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &c1))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &c2))
	require.Equal(t, c1.ID, c2.ID)
}

func TestHealthz(t *testing.T) {
	handler := newTestServer(t)
	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
