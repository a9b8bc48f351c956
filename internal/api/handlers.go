// Package api exposes HTTP handlers for the health data gateway.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/healthsync/internal/auth"
	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/persistence"
)

// DLQRequeuer replays quarantined outbox entries.
type DLQRequeuer interface {
	Requeue(ctx context.Context, dlqIDs []int64) (int, error)
}

// TriageStore lists failed raw events for operators.
type TriageStore interface {
	FailedEvents(ctx context.Context, cursor *domain.Cursor, limit int) ([]domain.RawEvent, *domain.Cursor, error)
}

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service        *domain.Service
	webhookSecrets map[string]string
	dlq            DLQRequeuer
	triage         TriageStore
}

// NewHandler builds a Handler. webhookSecrets maps provider name to the
// shared secret expected in the X-Webhook-Secret header.
func NewHandler(service *domain.Service, webhookSecrets map[string]string, dlq DLQRequeuer, triage TriageStore) *Handler {
	return &Handler{service: service, webhookSecrets: webhookSecrets, dlq: dlq, triage: triage}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/webhooks/", h.webhook)
	mux.HandleFunc("/v1/users/", h.userResource)
	mux.HandleFunc("/v1/admin/backfill", h.backfill)
	mux.HandleFunc("/v1/admin/dlq/requeue", h.dlqRequeue)
	mux.HandleFunc("/v1/admin/events/failed", h.failedEvents)
	mux.HandleFunc("/healthz", healthz)
}

// WebhookSkipper reports whether a request bypasses bearer-token auth.
// Webhooks authenticate with per-provider shared secrets instead.
func WebhookSkipper(r *http.Request) bool {
	return r.URL.Path == "/healthz" || strings.HasPrefix(r.URL.Path, "/v1/webhooks/")
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/v1/webhooks/")
	provider, err := domain.ParseProvider(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "unknown provider")
		return
	}

	secret, ok := h.webhookSecrets[string(provider)]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "webhooks not enabled for provider")
		return
	}
	got := r.Header.Get("X-Webhook-Secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook secret")
		return
	}

	payload, err := readBody(r, 1<<20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to read body")
		return
	}

	result, err := h.service.Ingest(r.Context(), provider, payload, time.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownProvider):
			writeError(w, http.StatusNotFound, "not_found", "unknown provider")
		case errors.Is(err, domain.ErrNoActiveConnection):
			writeError(w, http.StatusUnprocessableEntity, "no_active_connection", "no syncable connection for provider user")
		default:
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		}
		return
	}

	resp := IngestResponse{
		EventID:    result.EventID,
		Duplicate:  result.Duplicate,
		ParseError: result.ParseError,
	}
	status := http.StatusAccepted
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// userResource dispatches /v1/users/{user}/summaries, /metrics, /metrics/latest.
func (h *Handler) userResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
		return
	}
	userID := parts[0]

	if !h.authorizeRead(w, r, userID) {
		return
	}

	switch parts[1] {
	case "summaries":
		h.summaries(w, r, userID)
	case "metrics":
		h.metrics(w, r, userID)
	case "metrics/latest":
		h.latestMetric(w, r, userID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
	}
}

// authorizeRead enforces health:read and restricts non-admin callers to
// their own data.
func (h *Handler) authorizeRead(w http.ResponseWriter, r *http.Request, userID string) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	if !claims.HasScope(auth.ScopeHealthRead) && !claims.HasScope(auth.ScopeHealthAdmin) {
		writeError(w, http.StatusForbidden, "forbidden", "scope health:read required")
		return false
	}
	if claims.Subject != userID && !claims.HasScope(auth.ScopeHealthAdmin) {
		writeError(w, http.StatusForbidden, "forbidden", "cannot read another user's data")
		return false
	}
	return true
}

func (h *Handler) summaries(w http.ResponseWriter, r *http.Request, userID string) {
	from, to, err := dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	summaries, err := h.service.Summaries(r.Context(), userID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]SummaryView, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, toSummaryView(s))
	}
	writeJSON(w, http.StatusOK, SummariesResponse{Items: items})
}

func (h *Handler) metrics(w http.ResponseWriter, r *http.Request, userID string) {
	metricType := r.URL.Query().Get("type")
	if metricType == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing type parameter")
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	metrics, err := h.service.Metrics(r.Context(), userID, domain.MetricType(metricType), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]MetricView, 0, len(metrics))
	for _, m := range metrics {
		items = append(items, toMetricView(m))
	}
	writeJSON(w, http.StatusOK, MetricsResponse{Items: items})
}

func (h *Handler) latestMetric(w http.ResponseWriter, r *http.Request, userID string) {
	metricType := r.URL.Query().Get("type")
	if metricType == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing type parameter")
		return
	}
	date := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid date, expected YYYY-MM-DD")
			return
		}
		date = parsed
	}

	m, err := h.service.LatestMetric(r.Context(), userID, domain.MetricType(metricType), date)
	if err != nil {
		if errors.Is(err, domain.ErrMetricNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no resolved value for metric")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toMetricView(*m))
}

func (h *Handler) backfill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !h.authorizeAdmin(w, r) {
		return
	}

	var req BackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	from, _ := time.Parse("2006-01-02", req.From)
	to, _ := time.Parse("2006-01-02", req.To)
	count, err := h.service.EnqueueBackfill(r.Context(), req.UserID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, BackfillResponse{KeysEnqueued: count})
}

func (h *Handler) dlqRequeue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !h.authorizeAdmin(w, r) {
		return
	}

	var req DLQRequeueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	count, err := h.dlq.Requeue(r.Context(), req.DLQIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, DLQRequeueResponse{Requeued: count})
}

func (h *Handler) failedEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !h.authorizeAdmin(w, r) {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 200 {
				parsed = 200
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	events, next, err := h.triage.FailedEvents(r.Context(), cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]FailedEventView, 0, len(events))
	for _, ev := range events {
		items = append(items, toFailedEventView(ev))
	}
	writeJSON(w, http.StatusOK, FailedEventsResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) authorizeAdmin(w http.ResponseWriter, r *http.Request) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	if !claims.HasScope(auth.ScopeHealthAdmin) {
		writeError(w, http.StatusForbidden, "forbidden", "scope health:admin required")
		return false
	}
	return true
}

func readBody(r *http.Request, limit int64) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, limit))
}

// dateRange parses from/to query params as YYYY-MM-DD, defaulting to the
// trailing seven days.
func dateRange(r *http.Request) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -6)

	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid to, expected YYYY-MM-DD")
		}
		to = parsed
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid from, expected YYYY-MM-DD")
		}
		from = parsed
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("to precedes from")
	}
	return from, to, nil
}
