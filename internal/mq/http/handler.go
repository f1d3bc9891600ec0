package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JulianoL13/doc-queue/internal/common/logs"
	"github.com/JulianoL13/doc-queue/internal/filter"
	"github.com/JulianoL13/doc-queue/internal/mq"
	"github.com/JulianoL13/doc-queue/internal/store"
)

const (
	maxBodyBytes = 1 << 20
	pingInterval = 15 * time.Second
)

// Queue defines what the handler needs from the message queue
type Queue interface {
	Publish(ctx context.Context, body map[string]any) (string, error)
	PublishBatched(body map[string]any) error
	Subscribe(fn mq.SubscriptionHandler, opts ...mq.SubscriptionOption) (*mq.Subscription, error)
}

type Handler struct {
	queue  Queue
	logger logs.Logger
	ping   time.Duration
}

func NewHandler(queue Queue, logger logs.Logger) *Handler {
	return &Handler{
		queue:  queue,
		logger: logger,
		ping:   pingInterval,
	}
}

// PublishResponse is returned by POST /messages
type PublishResponse struct {
	ID        string `json:"id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type BatchResponse struct {
	Queued int `json:"queued"`
}

// StreamEvent is the data of one SSE message event
type StreamEvent struct {
	ID   string         `json:"id"`
	Body map[string]any `json:"body"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func isClosed(err error) bool {
	return errors.Is(err, mq.ErrPublisherClosed) ||
		errors.Is(err, mq.ErrBatchPublisherClosed) ||
		errors.Is(err, mq.ErrSubscriberClosed) ||
		errors.Is(err, mq.ErrQueueClosed)
}

func (h *Handler) log(r *http.Request) logs.Logger {
	if l := LoggerFromContext(r.Context()); l != nil {
		return l
	}
	return h.logger
}

// Health returns service health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Publish durably stores one JSON object
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil || body == nil {
		http.Error(w, "body must be a JSON object", http.StatusBadRequest)
		return
	}

	id, err := h.queue.Publish(r.Context(), body)
	switch {
	case isClosed(err):
		http.Error(w, "queue closed", http.StatusServiceUnavailable)
	case err != nil:
		h.log(r).Error("failed to publish message", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	case id == "":
		writeJSON(w, http.StatusOK, PublishResponse{Duplicate: true})
	default:
		writeJSON(w, http.StatusCreated, PublishResponse{ID: id})
	}
}

// PublishBatch queues one object or an array of objects for batched writing
func (h *Handler) PublishBatch(w http.ResponseWriter, r *http.Request) {
	bodies, err := decodeBatch(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	for i, body := range bodies {
		if err := h.queue.PublishBatched(body); err != nil {
			if isClosed(err) {
				http.Error(w, "queue closed", http.StatusServiceUnavailable)
				return
			}
			h.log(r).Error("failed to queue message", "error", err, "index", i)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusAccepted, BatchResponse{Queued: len(bodies)})
}

func decodeBatch(r io.Reader) ([]map[string]any, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var one map[string]any
	if err := json.Unmarshal(raw, &one); err == nil && one != nil {
		return []map[string]any{one}, nil
	}

	var many []map[string]any
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, errors.New("body must be a JSON object or an array of objects")
	}
	for i, body := range many {
		if body == nil {
			return nil, fmt.Errorf("item %d is not an object", i)
		}
	}
	return many, nil
}

// Stream sends every new message matching the optional CEL filter as a
// server-sent event until the client goes away.
// Query params: filter
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	f, err := filter.Compile(r.URL.Query().Get("filter"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	messages := make(chan *store.Message, 16)

	sub, err := h.queue.Subscribe(func(subCtx context.Context, msg *store.Message) error {
		select {
		case messages <- msg:
			return nil
		case <-ctx.Done():
			return nil
		case <-subCtx.Done():
			return subCtx.Err()
		}
	}, mq.WithLocalFilter(f))
	if err != nil {
		if isClosed(err) {
			http.Error(w, "queue closed", http.StatusServiceUnavailable)
			return
		}
		h.log(r).Error("failed to subscribe", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer sub.Close()

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	rc.Flush()

	ticker := time.NewTicker(h.ping)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			rc.Flush()
		case msg := <-messages:
			data, err := json.Marshal(StreamEvent{ID: msg.ID, Body: msg.Body})
			if err != nil {
				h.log(r).Warn("failed to encode stream event", "id", msg.ID, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: message\ndata: %s\n\n", msg.ID, data); err != nil {
				return
			}
			rc.Flush()
		}
	}
}
