package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/quipubase/quipubase-go/internal/apperr"
	"github.com/quipubase/quipubase-go/internal/registry"
	"github.com/quipubase/quipubase-go/internal/store"
	"go.uber.org/zap"
)

// requestTimeout bounds every route except the streaming GET, which must
// be able to hold its connection open indefinitely (§5: "subscription
// reads from the event buffer block indefinitely unless cancelled").
const requestTimeout = 60 * time.Second

type handlers struct {
	engine            *store.Engine
	logger            *zap.Logger
	keepAliveInterval time.Duration
	shuttingDown      func() bool
}

func (h *handlers) mount(mux chi.Router) {
	mux.Get("/healthz", h.healthz)

	mux.Route("/v1/collections", func(r chi.Router) {
		// Admin and mutation routes are expected to complete quickly;
		// bound them so a stuck KV call can't hang a handler forever.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Post("/", h.createCollection)
			r.Get("/", h.listCollections)
			r.Get("/{collection_id}", h.getCollection)
			r.Delete("/{collection_id}", h.deleteCollection)

			r.Post("/objects/{collection_id}", h.mutate)
		})

		// The streaming subscription is intentionally exempt: it must hold
		// its connection open until the client disconnects or a stop event
		// is published, not until a fixed deadline elapses.
		r.Get("/objects/{collection_id}", h.stream)
	})
}

// collectionView is the wire shape for collection admin responses.
type collectionView struct {
	ID          string          `json:"id"`
	SHA         string          `json:"sha"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	RecordCount int64           `json:"record_count,omitempty"`
}

func toCollectionView(c *registry.Collection, includeSchema bool) collectionView {
	view := collectionView{ID: c.ID, SHA: c.SchemaID, RecordCount: c.RecordCount}
	if includeSchema {
		view.Schema = c.Schema
	}
	return view
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if h.shuttingDown != nil && h.shuttingDown() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) createCollection(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apperr.Protocol("api: failed to read request body: %v", err))
		return
	}

	collection, err := h.engine.CreateCollection(r.Context(), json.RawMessage(body))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollectionView(collection, true))
}

func (h *handlers) listCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := h.engine.ListCollections(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]collectionView, 0, len(collections))
	for _, c := range collections {
		views = append(views, toCollectionView(c, false))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handlers) getCollection(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collection_id")
	collection, err := h.engine.GetCollection(r.Context(), collectionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollectionView(collection, true))
}

func (h *handlers) deleteCollection(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collection_id")
	if err := h.engine.DeleteCollection(r.Context(), collectionID); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			writeJSON(w, http.StatusOK, map[string]int{"code": 1})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"code": 0})
}

// mutationRequest is the overloaded Mutation Request body, preserved for
// wire compatibility with the original source's single-endpoint design
// (see the Open Question in the design notes).
type mutationRequest struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// mutationResponse wraps every successful record operation's result.
type mutationResponse struct {
	Collection string `json:"collection"`
	Data       any    `json:"data"`
	Event      string `json:"event"`
}

func (h *handlers) mutate(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collection_id")

	var req mutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Protocol("api: malformed mutation request body: %v", err))
		return
	}

	s, err := h.engine.StoreFor(r.Context(), collectionID)
	if err != nil {
		writeError(w, err)
		return
	}

	switch req.Event {
	case "create":
		if len(req.Data) == 0 {
			writeError(w, apperr.Protocol("api: create requires \"data\""))
			return
		}
		if req.ID != "" {
			writeError(w, apperr.Protocol("api: create forbids \"id\""))
			return
		}
		var payload map[string]any
		if err := json.Unmarshal(req.Data, &payload); err != nil {
			writeError(w, apperr.Validation("api: data must be a JSON object: %v", err))
			return
		}
		record, err := s.Create(r.Context(), payload)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, mutationResponse{Collection: collectionID, Data: record, Event: req.Event})

	case "read":
		if req.ID == "" {
			writeError(w, apperr.Protocol("api: read requires \"id\""))
			return
		}
		record, err := s.Retrieve(r.Context(), req.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, mutationResponse{Collection: collectionID, Data: record, Event: req.Event})

	case "update":
		if req.ID == "" || len(req.Data) == 0 {
			writeError(w, apperr.Protocol("api: update requires \"id\" and \"data\""))
			return
		}
		var patch map[string]any
		if err := json.Unmarshal(req.Data, &patch); err != nil {
			writeError(w, apperr.Validation("api: data must be a JSON object: %v", err))
			return
		}
		record, err := s.Update(r.Context(), req.ID, patch)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, mutationResponse{Collection: collectionID, Data: record, Event: req.Event})

	case "delete":
		if req.ID == "" {
			writeError(w, apperr.Protocol("api: delete requires \"id\""))
			return
		}
		if err := s.Delete(r.Context(), req.ID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, mutationResponse{Collection: collectionID, Data: map[string]string{"id": req.ID}, Event: req.Event})

	case "query":
		filter := map[string]any{}
		if len(req.Data) > 0 {
			if err := json.Unmarshal(req.Data, &filter); err != nil {
				writeError(w, apperr.Validation("api: data must be a JSON object: %v", err))
				return
			}
		}
		limit := parseIntQuery(r, "limit", 100)
		offset := parseIntQuery(r, "offset", 0)
		records, err := s.Find(r.Context(), filter, limit, offset)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, mutationResponse{Collection: collectionID, Data: records, Event: req.Event})

	case "stop":
		writeJSON(w, http.StatusOK, mutationResponse{Collection: collectionID, Data: nil, Event: req.Event})

	default:
		writeError(w, apperr.Protocol("api: unknown event %q", req.Event))
	}
}

func parseIntQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
