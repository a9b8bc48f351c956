package domain

import "time"

// MetricType names a canonical point-in-time measurement.
type MetricType string

const (
	MetricRestingHR       MetricType = "resting_hr"
	MetricHRV             MetricType = "hrv_ms"
	MetricSteps           MetricType = "steps"
	MetricRecoveryScore   MetricType = "recovery_score"
	MetricSleepScore      MetricType = "sleep_score"
	MetricReadinessScore  MetricType = "readiness_score"
	MetricRespiratoryRate MetricType = "respiratory_rate"
	MetricCaloriesOut     MetricType = "calories_out"
	MetricBodyTempDelta   MetricType = "body_temp_delta_c"
	MetricActiveMinutes   MetricType = "active_minutes"
)

// MetricCandidate is one source's contribution toward a canonical metric.
// Rows are insert-only; the Reconciler flips the Winner flag, nothing is
// ever deleted.
type MetricCandidate struct {
	ID             int64
	UserID         string
	Date           time.Time
	MetricType     MetricType
	Value          float64
	Unit           string
	Source         Provider
	SourcePriority int
	Quality        float64
	RecordedAt     time.Time
	RawEventID     string
	Winner         bool
}

// ResolvedMetric is the winning candidate exposed through the query API.
type ResolvedMetric struct {
	UserID     string
	Date       time.Time
	MetricType MetricType
	Value      float64
	Unit       string
	Source     Provider
	Quality    float64
	RecordedAt time.Time
}
