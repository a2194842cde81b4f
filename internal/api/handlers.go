package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/leafsii/rediscmd/pkg/kv"
)

// MetricsInterface defines the interface for metrics recording
type MetricsInterface interface {
	RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration)
}

const readyTimeout = 2 * time.Second

type Handler struct {
	client *kv.Client
	logger *zap.SugaredLogger
}

func NewHandler(client *kv.Client, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		client: client,
		logger: kv.NopIfNil(logger),
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Readyz reports whether the store answers a PING
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := h.client.Ping(ctx); err != nil {
		h.logger.Warnw("Readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT READY"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	groups, err := h.client.ListGroups(r.Context(), key)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	out := make([]GroupDTO, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupDTO{
			Name:            g.Name,
			Consumers:       g.Consumers,
			Pending:         g.Pending,
			LastDeliveredID: g.LastDeliveredID,
			EntriesRead:     g.EntriesRead,
			Lag:             g.Lag,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ListConsumers(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	group := chi.URLParam(r, "group")

	consumers, err := h.client.ListConsumers(r.Context(), key, group)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	out := make([]ConsumerDTO, 0, len(consumers))
	for _, c := range consumers {
		out = append(out, ConsumerDTO{
			Name:    c.Name,
			Pending: c.Pending,
			IdleMs:  c.Idle.Milliseconds(),
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GroupExists(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	group := chi.URLParam(r, "group")

	exists, err := h.client.GroupExists(r.Context(), key, group)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, GroupExistsDTO{Stream: key, Group: group, Exists: exists})
}

// writeStoreError maps a store error onto a status code
func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, kv.ErrBackendUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", err.Error())
	case isMissing(err):
		h.writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusGatewayTimeout, "TIMEOUT", err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
	}
}

// isMissing recognizes the replies for an absent stream or group
func isMissing(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such key") || strings.HasPrefix(msg, "NOGROUP")
}

// Utility methods
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.logger.Errorw("API error", "code", code, "message", message, "status", status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := ErrorResponse{
		Code:    code,
		Message: message,
	}
	json.NewEncoder(w).Encode(err)
}
