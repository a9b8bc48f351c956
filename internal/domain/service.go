// Package domain defines the business logic for the health-data ingestion engine.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownProvider indicates no adapter is registered for the provider.
	ErrUnknownProvider = errors.New("no adapter registered for provider")
	// ErrNoActiveConnection indicates the (provider, provider user) pair has no syncable connection.
	ErrNoActiveConnection = errors.New("no active provider connection")
	// ErrSummaryNotFound is returned when a daily summary cannot be located.
	ErrSummaryNotFound = errors.New("daily summary not found")
	// ErrMetricNotFound is returned when no resolved metric exists for the key.
	ErrMetricNotFound = errors.New("resolved metric not found")
)

// Adapter translates a provider-specific payload into a provider-agnostic
// RawEvent. Implementations are pure: no I/O, no side effects, and they never
// fail; malformed input yields a RawEvent with ParseError set and the payload
// preserved.
type Adapter interface {
	Provider() Provider
	Normalize(payload []byte, receivedAt time.Time) RawEvent
}

// GatewayRepository captures the persistence operations the ingestion gateway needs.
type GatewayRepository interface {
	ConnectionByProviderUser(ctx context.Context, provider Provider, providerUserID string) (*ProviderConnection, error)
	InsertRawEvent(ctx context.Context, ev RawEvent) (id string, duplicate bool, err error)
	RecordSyncSuccess(ctx context.Context, userID string, provider Provider, at time.Time) error
	RecordSyncFailure(ctx context.Context, userID string, provider Provider, detail string, errorThreshold int) error

	SummariesRange(ctx context.Context, userID string, from, to time.Time) ([]DailySummary, error)
	ResolvedMetricsRange(ctx context.Context, userID string, metricType MetricType, from, to time.Time) ([]ResolvedMetric, error)
	LatestMetric(ctx context.Context, userID string, metricType MetricType, date time.Time) (*ResolvedMetric, error)
	EnqueueBackfill(ctx context.Context, userID string, from, to time.Time) (int, error)
}

// Service orchestrates ingestion and read paths over the canonical tables.
type Service struct {
	repo             GatewayRepository
	adapters         map[Provider]Adapter
	failureThreshold int
}

// NewService constructs a Service. failureThreshold is the number of
// consecutive adapter failures after which a connection is marked errored.
func NewService(repo GatewayRepository, adapters []Adapter, failureThreshold int) *Service {
	byProvider := make(map[Provider]Adapter, len(adapters))
	for _, a := range adapters {
		byProvider[a.Provider()] = a
	}
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	return &Service{repo: repo, adapters: byProvider, failureThreshold: failureThreshold}
}

// IngestResult reports the outcome of a single ingestion call.
type IngestResult struct {
	EventID    string
	Duplicate  bool
	ParseError bool
}

// Ingest validates the source connection, normalizes the payload through the
// matching adapter, and appends the RawEvent to the immutable log. The event
// is enqueued for normalization as a side effect of the append (transactional
// outbox). Duplicate deliveries return the original event id, so the call is
// safe under at-least-once delivery.
func (s *Service) Ingest(ctx context.Context, provider Provider, payload []byte, receivedAt time.Time) (IngestResult, error) {
	adapter, ok := s.adapters[provider]
	if !ok {
		return IngestResult{}, ErrUnknownProvider
	}

	ev := adapter.Normalize(payload, receivedAt)
	ev.ID = uuid.NewString()

	if provider == ProviderManual {
		// Manual entries originate in the app; the provider user id is the
		// internal user id and no OAuth connection exists.
		ev.UserID = ev.ProviderUserID
	} else {
		conn, err := s.repo.ConnectionByProviderUser(ctx, provider, ev.ProviderUserID)
		if err != nil {
			return IngestResult{}, err
		}
		if conn == nil || !conn.Syncable() {
			return IngestResult{}, ErrNoActiveConnection
		}
		ev.UserID = conn.UserID
	}

	id, duplicate, err := s.repo.InsertRawEvent(ctx, ev)
	if err != nil {
		return IngestResult{}, err
	}

	// Sync-state bookkeeping never fails the ingestion call; errors are
	// isolated per event.
	if provider != ProviderManual {
		if ev.ParseError {
			if ferr := s.repo.RecordSyncFailure(ctx, ev.UserID, provider, ev.ParseDetail, s.failureThreshold); ferr != nil {
				return IngestResult{EventID: id, Duplicate: duplicate, ParseError: true}, nil
			}
		} else if !duplicate {
			_ = s.repo.RecordSyncSuccess(ctx, ev.UserID, provider, receivedAt)
		}
	}

	return IngestResult{EventID: id, Duplicate: duplicate, ParseError: ev.ParseError}, nil
}

// Summaries returns daily summaries for the inclusive date range.
func (s *Service) Summaries(ctx context.Context, userID string, from, to time.Time) ([]DailySummary, error) {
	return s.repo.SummariesRange(ctx, userID, DayOf(from), DayOf(to))
}

// Metrics returns resolved (winning) metric values for the range.
func (s *Service) Metrics(ctx context.Context, userID string, metricType MetricType, from, to time.Time) ([]ResolvedMetric, error) {
	return s.repo.ResolvedMetricsRange(ctx, userID, metricType, DayOf(from), DayOf(to))
}

// LatestMetric returns the single resolved value and its winning source for a
// (user, metric type, date) key.
func (s *Service) LatestMetric(ctx context.Context, userID string, metricType MetricType, date time.Time) (*ResolvedMetric, error) {
	m, err := s.repo.LatestMetric(ctx, userID, metricType, DayOf(date))
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMetricNotFound
	}
	return m, nil
}

// EnqueueBackfill marks every day in the inclusive range dirty so the
// scheduler re-runs reconciliation and aggregation. Returns the number of
// keys enqueued.
func (s *Service) EnqueueBackfill(ctx context.Context, userID string, from, to time.Time) (int, error) {
	return s.repo.EnqueueBackfill(ctx, userID, DayOf(from), DayOf(to))
}
