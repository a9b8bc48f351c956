package reconcile

import (
	"time"

	"example.com/healthsync/internal/domain"
)

// BuildSummary projects the resolved metrics and sessions for a (user, date)
// key into a DailySummary. The summary is a cache over canonical data: it is
// rebuilt wholesale and must tolerate partial data: absent metrics stay nil,
// never zero.
func BuildSummary(userID string, date time.Time, winners map[domain.MetricType]domain.MetricCandidate, sessions []domain.Session, now time.Time) domain.DailySummary {
	summary := domain.DailySummary{
		UserID:     userID,
		Date:       domain.DayOf(date),
		Sources:    make(map[domain.MetricType]domain.Provider, len(winners)),
		ComputedAt: now.UTC(),
	}

	for metricType, winner := range winners {
		value := winner.Value
		switch metricType {
		case domain.MetricRestingHR:
			summary.RestingHR = &value
		case domain.MetricHRV:
			summary.HRVMillis = &value
		case domain.MetricSteps:
			summary.Steps = &value
		case domain.MetricRecoveryScore:
			summary.RecoveryScore = &value
		case domain.MetricSleepScore:
			summary.SleepScore = &value
		case domain.MetricReadinessScore:
			summary.ReadinessScore = &value
		case domain.MetricRespiratoryRate:
			summary.RespiratoryRate = &value
		case domain.MetricCaloriesOut:
			summary.CaloriesOut = &value
		case domain.MetricBodyTempDelta:
			summary.BodyTempDeltaC = &value
		case domain.MetricActiveMinutes:
			summary.ActiveMinutes = &value
		default:
			continue
		}
		summary.Sources[metricType] = winner.Source
	}

	var sleepMinutes, activeMinutes float64
	for _, s := range sessions {
		if !s.Resolved {
			continue
		}
		switch s.Kind {
		case domain.SessionSleep:
			summary.SleepSessions++
			sleepMinutes += s.Duration().Minutes()
		case domain.SessionActivity:
			summary.ActivitySessions++
			activeMinutes += s.Duration().Minutes()
		}
	}
	if summary.SleepSessions > 0 {
		summary.SleepDurationMin = &sleepMinutes
	}
	// Session-derived active minutes only fill in when no point metric won.
	if summary.ActiveMinutes == nil && summary.ActivitySessions > 0 {
		summary.ActiveMinutes = &activeMinutes
	}

	return summary
}
