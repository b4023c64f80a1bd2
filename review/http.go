package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// maxDecisionBodySize limits decision request bodies to prevent DoS.
const maxDecisionBodySize = 1 << 20 // 1 MB

// ItemStore is the queue surface the HTTP handler needs. Both Store and
// MemQueue satisfy it.
type ItemStore interface {
	Get(ctx context.Context, id string) (*Item, error)
	List(ctx context.Context, status ItemStatus) ([]*Item, error)
	Decide(ctx context.Context, id, decision, decidedBy string) (*Item, error)
}

// BucketProvider is implemented by stores that can expose a KV bucket
// for SSE watching. Stores without one fall back to no streaming.
type BucketProvider interface {
	Bucket() jetstream.KeyValue
}

// HTTPHandler provides REST endpoints for the review queue: listing and
// viewing items, submitting decisions, and an SSE stream of queue events.
type HTTPHandler struct {
	store  ItemStore
	logger *slog.Logger
}

// NewHTTPHandler creates an HTTP handler over a review queue store.
func NewHTTPHandler(store ItemStore, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{store: store, logger: logger}
}

// RegisterHTTPHandlers registers the review API endpoints.
// The prefix should be "/review" (without trailing slash).
func (h *HTTPHandler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	prefix = strings.TrimSuffix(prefix, "/")

	mux.HandleFunc("GET "+prefix, h.handleList)
	mux.HandleFunc("GET "+prefix+"/stream", h.handleStream)
	mux.HandleFunc("GET "+prefix+"/{id}", h.handleGet)
	mux.HandleFunc("POST "+prefix+"/{id}/decision", h.handleDecide)
}

// ListItemsResponse is the response for GET /review.
type ListItemsResponse struct {
	Items []*Item `json:"items"`
	Total int     `json:"total"`
}

// DecisionRequest is the request body for POST /review/{id}/decision.
type DecisionRequest struct {
	Decision string `json:"decision"`
}

// handleList handles GET /review.
// Query parameters:
//   - status: pending, resolved, expired, all (default: pending)
//   - limit: max results (default: 50)
func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var status ItemStatus
	switch r.URL.Query().Get("status") {
	case "pending", "":
		status = ItemStatusPending
	case "resolved":
		status = ItemStatusResolved
	case "expired":
		status = ItemStatusExpired
	case "all":
		status = ""
	default:
		h.writeError(w, http.StatusBadRequest, "invalid status: must be pending, resolved, expired, or all")
		return
	}

	limit := 50
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed < 1 || parsed > 1000 {
			h.writeError(w, http.StatusBadRequest, "invalid limit: must be 1-1000")
			return
		}
		limit = parsed
	}

	items, err := h.store.List(ctx, status)
	if err != nil {
		h.logger.Error("Failed to list review items", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list review items")
		return
	}

	total := len(items)
	if len(items) > limit {
		items = items[:limit]
	}

	h.writeJSON(w, http.StatusOK, ListItemsResponse{Items: items, Total: total})
}

// handleGet handles GET /review/{id}.
func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !strings.HasPrefix(id, "rq-") {
		h.writeError(w, http.StatusBadRequest, "invalid item ID format (must start with 'rq-')")
		return
	}

	item, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			h.writeError(w, http.StatusNotFound, "review item not found")
			return
		}
		h.logger.Error("Failed to get review item", "id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get review item")
		return
	}

	h.writeJSON(w, http.StatusOK, item)
}

// handleDecide handles POST /review/{id}/decision.
func (h *HTTPHandler) handleDecide(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !strings.HasPrefix(id, "rq-") {
		h.writeError(w, http.StatusBadRequest, "invalid item ID format (must start with 'rq-')")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxDecisionBodySize)

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Decision == "" {
		h.writeError(w, http.StatusBadRequest, "decision is required")
		return
	}

	// User ID comes from the auth middleware when present.
	decidedBy := r.Header.Get("X-User-ID")
	if decidedBy == "" {
		decidedBy = "anonymous"
	}

	item, err := h.store.Decide(r.Context(), id, req.Decision, decidedBy)
	if err != nil {
		switch {
		case errors.Is(err, ErrItemNotFound):
			h.writeError(w, http.StatusNotFound, "review item not found")
		case errors.Is(err, ErrAlreadyDecided):
			h.writeError(w, http.StatusConflict, err.Error())
		case strings.Contains(err.Error(), "not among options"):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("Failed to record decision", "id", id, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to record decision")
		}
		return
	}

	h.logger.Info("Review decision recorded via HTTP",
		"item_id", id,
		"decision", req.Decision,
		"decided_by", decidedBy,
	)

	h.writeJSON(w, http.StatusOK, item)
}

// SSE event types for the review stream.
const (
	SSEEventItemCreated  = "item_created"
	SSEEventItemResolved = "item_resolved"
	SSEEventItemExpired  = "item_expired"
	SSEEventHeartbeat    = "heartbeat"
)

// handleStream handles GET /review/stream for SSE events.
//
// On initial connection, existing items are replayed as item_created
// events. A sync_complete event signals the end of the initial replay.
func (h *HTTPHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	flusher.Flush()

	provider, ok := h.store.(BucketProvider)
	if !ok {
		h.sendSSEEvent(w, flusher, "error", map[string]string{"message": "streaming not available for this store"})
		return
	}

	watcher, err := provider.Bucket().WatchAll(ctx)
	if err != nil {
		h.logger.Error("Failed to create bucket watcher", "error", err)
		h.sendSSEEvent(w, flusher, "error", map[string]string{"message": "failed to watch review queue"})
		return
	}
	defer watcher.Stop()

	if err := h.sendSSEEvent(w, flusher, "connected", map[string]string{"status": "connected"}); err != nil {
		return
	}

	seen := make(map[string]*Item)

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	var eventID uint64

	updates := watcher.Updates()
	for {
		select {
		case <-ctx.Done():
			return

		case <-heartbeat.C:
			eventID++
			if err := h.sendSSEEventWithID(w, flusher, eventID, SSEEventHeartbeat, map[string]any{}); err != nil {
				return
			}

		case entry, ok := <-updates:
			if !ok {
				return
			}

			// nil entry signals end of initial values
			if entry == nil {
				if err := h.sendSSEEvent(w, flusher, "sync_complete", map[string]string{"status": "ready"}); err != nil {
					return
				}
				continue
			}

			if entry.Operation() == jetstream.KeyValueDelete {
				delete(seen, entry.Key())
				continue
			}

			var item Item
			if err := json.Unmarshal(entry.Value(), &item); err != nil {
				h.logger.Warn("Failed to parse review item", "key", entry.Key(), "error", err)
				continue
			}

			eventType := determineEventType(&item, seen[entry.Key()])
			clone := item
			seen[entry.Key()] = &clone

			eventID++
			if err := h.sendSSEEventWithID(w, flusher, eventID, eventType, &item); err != nil {
				return
			}
		}
	}
}

// determineEventType maps a KV update to the SSE event type based on
// what changed since the previous entry for this key.
func determineEventType(current, previous *Item) string {
	if previous == nil {
		return SSEEventItemCreated
	}
	if previous.Status != current.Status {
		switch current.Status {
		case ItemStatusResolved:
			return SSEEventItemResolved
		case ItemStatusExpired:
			return SSEEventItemExpired
		}
	}
	return SSEEventItemCreated
}

func (h *HTTPHandler) sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	return h.sendSSEEventWithID(w, flusher, 0, eventType, data)
}

func (h *HTTPHandler) sendSSEEventWithID(w http.ResponseWriter, flusher http.Flusher, id uint64, eventType string, data any) error {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn("Failed to marshal SSE data", "error", err)
		return nil
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return fmt.Errorf("write event type: %w", err)
	}
	if id > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return fmt.Errorf("write event id: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", dataBytes); err != nil {
		return fmt.Errorf("write event data: %w", err)
	}

	flusher.Flush()
	return nil
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("Failed to write JSON response", "error", err)
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
