package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"example.com/healthsync/internal/domain"
)

// IngestResponse describes the response body for webhook ingestion.
type IngestResponse struct {
	EventID    string `json:"event_id"`
	Duplicate  bool   `json:"duplicate"`
	ParseError bool   `json:"parse_error"`
}

// SummaryView exposes one reconciled day.
type SummaryView struct {
	UserID           string             `json:"user_id"`
	Date             string             `json:"date"`
	RestingHR        *float64           `json:"resting_hr,omitempty"`
	HRVMillis        *float64           `json:"hrv_ms,omitempty"`
	Steps            *float64           `json:"steps,omitempty"`
	RecoveryScore    *float64           `json:"recovery_score,omitempty"`
	SleepScore       *float64           `json:"sleep_score,omitempty"`
	ReadinessScore   *float64           `json:"readiness_score,omitempty"`
	RespiratoryRate  *float64           `json:"respiratory_rate,omitempty"`
	CaloriesOut      *float64           `json:"calories_out,omitempty"`
	BodyTempDeltaC   *float64           `json:"body_temp_delta_c,omitempty"`
	SleepDurationMin *float64           `json:"sleep_duration_min,omitempty"`
	ActiveMinutes    *float64           `json:"active_minutes,omitempty"`
	SleepSessions    int                `json:"sleep_sessions"`
	ActivitySessions int                `json:"activity_sessions"`
	Sources          map[string]string  `json:"sources,omitempty"`
	ComputedAt       time.Time          `json:"computed_at"`
}

// SummariesResponse packages a summaries range query.
type SummariesResponse struct {
	Items []SummaryView `json:"items"`
}

// MetricView exposes one resolved metric value with its winning source.
type MetricView struct {
	UserID     string    `json:"user_id"`
	Date       string    `json:"date"`
	MetricType string    `json:"metric_type"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	Source     string    `json:"source"`
	Quality    float64   `json:"quality"`
	RecordedAt time.Time `json:"recorded_at"`
}

// MetricsResponse packages a resolved-metrics range query.
type MetricsResponse struct {
	Items []MetricView `json:"items"`
}

// BackfillRequest is the payload for POST /v1/admin/backfill.
type BackfillRequest struct {
	UserID string `json:"user_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// Validate ensures request correctness.
func (r BackfillRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user_id is required")
	}
	from, err := time.Parse("2006-01-02", r.From)
	if err != nil {
		return errors.New("from must be YYYY-MM-DD")
	}
	to, err := time.Parse("2006-01-02", r.To)
	if err != nil {
		return errors.New("to must be YYYY-MM-DD")
	}
	if to.Before(from) {
		return errors.New("to precedes from")
	}
	return nil
}

// BackfillResponse reports how many (user, day) keys were enqueued.
type BackfillResponse struct {
	KeysEnqueued int `json:"keys_enqueued"`
}

// DLQRequeueRequest optionally narrows a requeue to specific entries.
type DLQRequeueRequest struct {
	DLQIDs []int64 `json:"dlq_ids"`
}

// DLQRequeueResponse reports how many entries were requeued.
type DLQRequeueResponse struct {
	Requeued int `json:"requeued"`
}

// FailedEventView exposes a failed raw event for triage.
type FailedEventView struct {
	EventID     string    `json:"event_id"`
	UserID      string    `json:"user_id"`
	Provider    string    `json:"provider"`
	EventType   string    `json:"event_type"`
	ParseError  bool      `json:"parse_error"`
	ParseDetail string    `json:"parse_detail,omitempty"`
	ErrorDetail *string   `json:"error_detail,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// FailedEventsResponse packages the triage listing.
type FailedEventsResponse struct {
	Items      []FailedEventView `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func toSummaryView(s domain.DailySummary) SummaryView {
	sources := make(map[string]string, len(s.Sources))
	for metricType, provider := range s.Sources {
		sources[string(metricType)] = string(provider)
	}
	return SummaryView{
		UserID:           s.UserID,
		Date:             s.Date.Format("2006-01-02"),
		RestingHR:        s.RestingHR,
		HRVMillis:        s.HRVMillis,
		Steps:            s.Steps,
		RecoveryScore:    s.RecoveryScore,
		SleepScore:       s.SleepScore,
		ReadinessScore:   s.ReadinessScore,
		RespiratoryRate:  s.RespiratoryRate,
		CaloriesOut:      s.CaloriesOut,
		BodyTempDeltaC:   s.BodyTempDeltaC,
		SleepDurationMin: s.SleepDurationMin,
		ActiveMinutes:    s.ActiveMinutes,
		SleepSessions:    s.SleepSessions,
		ActivitySessions: s.ActivitySessions,
		Sources:          sources,
		ComputedAt:       s.ComputedAt,
	}
}

func toMetricView(m domain.ResolvedMetric) MetricView {
	return MetricView{
		UserID:     m.UserID,
		Date:       m.Date.Format("2006-01-02"),
		MetricType: string(m.MetricType),
		Value:      m.Value,
		Unit:       m.Unit,
		Source:     string(m.Source),
		Quality:    m.Quality,
		RecordedAt: m.RecordedAt,
	}
}

func toFailedEventView(ev domain.RawEvent) FailedEventView {
	return FailedEventView{
		EventID:     ev.ID,
		UserID:      ev.UserID,
		Provider:    string(ev.Provider),
		EventType:   ev.EventType,
		ParseError:  ev.ParseError,
		ParseDetail: ev.ParseDetail,
		ErrorDetail: ev.ErrorDetail,
		ReceivedAt:  ev.ReceivedAt,
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
