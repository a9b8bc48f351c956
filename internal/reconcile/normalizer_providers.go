package reconcile

import (
	"encoding/json"
	"fmt"
	"time"

	"example.com/healthsync/internal/domain"
)

func normalizeWhoop(b *builder) {
	switch b.ev.EventType {
	case "recovery.updated":
		var body struct {
			CreatedAt string `json:"created_at"`
			Data      struct {
				CycleDay string `json:"cycle_day"`
				Score    struct {
					RecoveryScore    *float64 `json:"recovery_score"`
					RestingHeartRate *float64 `json:"resting_heart_rate"`
					HRVRmssdMilli    *float64 `json:"hrv_rmssd_milli"`
					RespiratoryRate  *float64 `json:"respiratory_rate"`
				} `json:"score"`
			} `json:"data"`
		}
		if err := json.Unmarshal(b.ev.Payload, &body); err != nil {
			b.warn("data", err.Error())
			return
		}
		date := b.dayOrReceived(body.Data.CycleDay)
		at := b.timeOrReceived(body.CreatedAt)
		if v := body.Data.Score.RecoveryScore; v != nil {
			b.metric(domain.MetricRecoveryScore, *v, "score", date, at)
		}
		if v := body.Data.Score.RestingHeartRate; v != nil {
			b.metric(domain.MetricRestingHR, *v, "bpm", date, at)
		}
		if v := body.Data.Score.HRVRmssdMilli; v != nil {
			b.metric(domain.MetricHRV, *v, "ms", date, at)
		}
		if v := body.Data.Score.RespiratoryRate; v != nil {
			b.metric(domain.MetricRespiratoryRate, *v, "breaths/min", date, at)
		}

	case "sleep.updated":
		var body struct {
			CreatedAt string `json:"created_at"`
			Data      struct {
				Sleep struct {
					Start string `json:"start"`
					End   string `json:"end"`
					Score struct {
						SleepPerformance *float64 `json:"sleep_performance_percentage"`
					} `json:"score"`
				} `json:"sleep"`
			} `json:"data"`
		}
		if err := json.Unmarshal(b.ev.Payload, &body); err != nil {
			b.warn("data", err.Error())
			return
		}
		start, err1 := time.Parse(time.RFC3339, body.Data.Sleep.Start)
		end, err2 := time.Parse(time.RFC3339, body.Data.Sleep.End)
		if err1 != nil || err2 != nil {
			b.warn("sleep", "missing or invalid sleep interval")
			return
		}
		var metrics map[string]float64
		if v := body.Data.Sleep.Score.SleepPerformance; v != nil {
			metrics = map[string]float64{"sleep_performance": *v}
			b.metric(domain.MetricSleepScore, *v, "score", start, b.timeOrReceived(body.CreatedAt))
		}
		b.session(domain.SessionSleep, start, end, metrics)

	case "workout.updated":
		var body struct {
			Data struct {
				Workout struct {
					Start     string   `json:"start"`
					End       string   `json:"end"`
					SportName string   `json:"sport_name"`
					Kilojoule *float64 `json:"kilojoule"`
					Strain    *float64 `json:"strain"`
				} `json:"workout"`
			} `json:"data"`
		}
		if err := json.Unmarshal(b.ev.Payload, &body); err != nil {
			b.warn("data", err.Error())
			return
		}
		start, err1 := time.Parse(time.RFC3339, body.Data.Workout.Start)
		end, err2 := time.Parse(time.RFC3339, body.Data.Workout.End)
		if err1 != nil || err2 != nil {
			b.warn("workout", "missing or invalid workout interval")
			return
		}
		metrics := map[string]float64{}
		if v := body.Data.Workout.Kilojoule; v != nil {
			metrics["calories_kcal"] = *v / kilojoulesPerKilocalorie
		}
		if v := body.Data.Workout.Strain; v != nil {
			metrics["strain"] = *v
		}
		b.session(domain.SessionActivity, start, end, metrics)
	}
}

func normalizeOura(b *builder) {
	switch b.ev.EventType {
	case "daily_readiness":
		var body struct {
			EventTime string `json:"event_time"`
			Data      struct {
				Day                  string   `json:"day"`
				Score                *float64 `json:"score"`
				TemperatureDeviation *float64 `json:"temperature_deviation"`
			} `json:"data"`
		}
		if err := json.Unmarshal(b.ev.Payload, &body); err != nil {
			b.warn("data", err.Error())
			return
		}
		date := b.dayOrReceived(body.Data.Day)
		at := b.timeOrReceived(body.EventTime)
		if v := body.Data.Score; v != nil {
			b.metric(domain.MetricReadinessScore, *v, "score", date, at)
		}
		if v := body.Data.TemperatureDeviation; v != nil {
			b.metric(domain.MetricBodyTempDelta, *v, "celsius", date, at)
		}

	case "daily_sleep":
		var body struct {
			EventTime string `json:"event_time"`
			Data      struct {
				Day   string   `json:"day"`
				Score *float64 `json:"score"`
			} `json:"data"`
		}
		if err := json.Unmarshal(b.ev.Payload, &body); err != nil {
			b.warn("data", err.Error())
			return
		}
		if v := body.Data.Score; v != nil {
			b.metric(domain.MetricSleepScore, *v, "score", b.dayOrReceived(body.Data.Day), b.timeOrReceived(body.EventTime))
		}

	case "sleep":
		var body struct {
			EventTime string `json:"event_time"`
			Data      struct {
				Day              string   `json:"day"`
				BedtimeStart     string   `json:"bedtime_start"`
				BedtimeEnd       string   `json:"bedtime_end"`
				AverageHRV       *float64 `json:"average_hrv"`
				LowestHeartRate  *float64 `json:"lowest_heart_rate"`
				AverageBreath    *float64 `json:"average_breath"`
				SleepEfficiency  *float64 `json:"efficiency"`
			} `json:"data"`
		}
		if err := json.Unmarshal(b.ev.Payload, &body); err != nil {
			b.warn("data", err.Error())
			return
		}
		date := b.dayOrReceived(body.Data.Day)
		at := b.timeOrReceived(body.EventTime)
		if v := body.Data.AverageHRV; v != nil {
			b.metric(domain.MetricHRV, *v, "ms", date, at)
		}
		if v := body.Data.LowestHeartRate; v != nil {
			b.metric(domain.MetricRestingHR, *v, "bpm", date, at)
		}
		if v := body.Data.AverageBreath; v != nil {
			b.metric(domain.MetricRespiratoryRate, *v, "breaths/min", date, at)
		}
		start, err1 := time.Parse(time.RFC3339, body.Data.BedtimeStart)
		end, err2 := time.Parse(time.RFC3339, body.Data.BedtimeEnd)
		if err1 != nil || err2 != nil {
			b.warn("sleep", "missing or invalid bedtime interval")
			return
		}
		var metrics map[string]float64
		if v := body.Data.SleepEfficiency; v != nil {
			metrics = map[string]float64{"efficiency": *v}
		}
		b.session(domain.SessionSleep, start, end, metrics)

	case "workout":
		var body struct {
			Data struct {
				StartDatetime string   `json:"start_datetime"`
				EndDatetime   string   `json:"end_datetime"`
				Activity      string   `json:"activity"`
				Calories      *float64 `json:"calories"`
			} `json:"data"`
		}
		if err := json.Unmarshal(b.ev.Payload, &body); err != nil {
			b.warn("data", err.Error())
			return
		}
		start, err1 := time.Parse(time.RFC3339, body.Data.StartDatetime)
		end, err2 := time.Parse(time.RFC3339, body.Data.EndDatetime)
		if err1 != nil || err2 != nil {
			b.warn("workout", "missing or invalid workout interval")
			return
		}
		var metrics map[string]float64
		if v := body.Data.Calories; v != nil {
			metrics = map[string]float64{"calories_kcal": *v}
		}
		b.session(domain.SessionActivity, start, end, metrics)
	}
}

func normalizeGarmin(b *builder) {
	switch b.ev.EventType {
	case "dailies":
		var body struct {
			Dailies []struct {
				CalendarDate        string   `json:"calendarDate"`
				Steps               *float64 `json:"steps"`
				RestingHeartRate    *float64 `json:"restingHeartRateInBeatsPerMinute"`
				ActiveKilocalories  *float64 `json:"activeKilocalories"`
				ActiveTimeInSeconds *float64 `json:"activeTimeInSeconds"`
			} `json:"dailies"`
		}
		if err := json.Unmarshal(b.ev.Payload, &body); err != nil {
			b.warn("dailies", err.Error())
			return
		}
		for _, d := range body.Dailies {
			if d.CalendarDate == "" {
				b.warn("calendarDate", "daily summary without calendar date skipped")
				continue
			}
			date := b.dayOrReceived(d.CalendarDate)
			at := b.ev.ReceivedAt
			if v := d.Steps; v != nil {
				b.metric(domain.MetricSteps, *v, "count", date, at)
			}
			if v := d.RestingHeartRate; v != nil {
				b.metric(domain.MetricRestingHR, *v, "bpm", date, at)
			}
			if v := d.ActiveKilocalories; v != nil {
				b.metric(domain.MetricCaloriesOut, *v, "kcal", date, at)
			}
			if v := d.ActiveTimeInSeconds; v != nil {
				b.metric(domain.MetricActiveMinutes, *v/secondsPerMinute, "min", date, at)
			}
		}

	case "sleeps":
		var body struct {
			Sleeps []struct {
				StartTimeInSeconds int64    `json:"startTimeInSeconds"`
				DurationInSeconds  *float64 `json:"durationInSeconds"`
				OverallSleepScore  *struct {
					Value float64 `json:"value"`
				} `json:"overallSleepScore"`
			} `json:"sleeps"`
		}
		if err := json.Unmarshal(b.ev.Payload, &body); err != nil {
			b.warn("sleeps", err.Error())
			return
		}
		for _, s := range body.Sleeps {
			if s.StartTimeInSeconds == 0 || s.DurationInSeconds == nil {
				b.warn("sleeps", "sleep record without interval skipped")
				continue
			}
			start := time.Unix(s.StartTimeInSeconds, 0).UTC()
			end := start.Add(time.Duration(*s.DurationInSeconds) * time.Second)
			var metrics map[string]float64
			if s.OverallSleepScore != nil {
				metrics = map[string]float64{"sleep_score": s.OverallSleepScore.Value}
				b.metric(domain.MetricSleepScore, s.OverallSleepScore.Value, "score", start, b.ev.ReceivedAt)
			}
			b.session(domain.SessionSleep, start, end, metrics)
		}

	case "activities":
		var body struct {
			Activities []struct {
				ActivityType       string   `json:"activityType"`
				StartTimeInSeconds int64    `json:"startTimeInSeconds"`
				DurationInSeconds  *float64 `json:"durationInSeconds"`
				ActiveKilocalories *float64 `json:"activeKilocalories"`
			} `json:"activities"`
		}
		if err := json.Unmarshal(b.ev.Payload, &body); err != nil {
			b.warn("activities", err.Error())
			return
		}
		for _, a := range body.Activities {
			if a.StartTimeInSeconds == 0 || a.DurationInSeconds == nil {
				b.warn("activities", "activity without interval skipped")
				continue
			}
			start := time.Unix(a.StartTimeInSeconds, 0).UTC()
			end := start.Add(time.Duration(*a.DurationInSeconds) * time.Second)
			var metrics map[string]float64
			if a.ActiveKilocalories != nil {
				metrics = map[string]float64{"calories_kcal": *a.ActiveKilocalories}
			}
			b.session(domain.SessionActivity, start, end, metrics)
		}
	}
}

// appleHealthMetricTypes maps HealthKit quantity identifiers to canonical
// metric types plus the unit conversion into canonical units.
var appleHealthMetricTypes = map[string]struct {
	metricType domain.MetricType
	unit       string
	convert    func(value float64, unit string) (float64, bool)
}{
	"HKQuantityTypeIdentifierStepCount": {
		metricType: domain.MetricSteps, unit: "count",
		convert: func(v float64, u string) (float64, bool) { return v, u == "count" },
	},
	"HKQuantityTypeIdentifierRestingHeartRate": {
		metricType: domain.MetricRestingHR, unit: "bpm",
		convert: func(v float64, u string) (float64, bool) { return v, u == "count/min" },
	},
	"HKQuantityTypeIdentifierHeartRateVariabilitySDNN": {
		metricType: domain.MetricHRV, unit: "ms",
		convert: func(v float64, u string) (float64, bool) {
			switch u {
			case "s":
				return v * 1000, true
			case "ms":
				return v, true
			}
			return 0, false
		},
	},
	"HKQuantityTypeIdentifierRespiratoryRate": {
		metricType: domain.MetricRespiratoryRate, unit: "breaths/min",
		convert: func(v float64, u string) (float64, bool) { return v, u == "count/min" },
	},
	"HKQuantityTypeIdentifierActiveEnergyBurned": {
		metricType: domain.MetricCaloriesOut, unit: "kcal",
		convert: func(v float64, u string) (float64, bool) {
			switch u {
			case "kcal":
				return v, true
			case "kJ":
				return v / kilojoulesPerKilocalorie, true
			}
			return 0, false
		},
	},
}

func normalizeAppleHealth(b *builder) {
	var body struct {
		Samples []struct {
			Type     string   `json:"type"`
			Value    *float64 `json:"value"`
			ValueStr string   `json:"value_str"`
			Unit     string   `json:"unit"`
			Start    string   `json:"start"`
			End      string   `json:"end"`
		} `json:"samples"`
	}
	if err := json.Unmarshal(b.ev.Payload, &body); err != nil {
		b.warn("samples", err.Error())
		return
	}

	for _, sample := range body.Samples {
		start, errStart := time.Parse(time.RFC3339, sample.Start)
		if errStart != nil {
			b.warn(sample.Type, "sample without start time skipped")
			continue
		}

		if sample.Type == "HKCategoryTypeIdentifierSleepAnalysis" {
			end, errEnd := time.Parse(time.RFC3339, sample.End)
			if errEnd != nil {
				b.warn(sample.Type, "sleep sample without end time skipped")
				continue
			}
			if sample.ValueStr == "asleep" || sample.ValueStr == "inBed" {
				b.session(domain.SessionSleep, start, end, nil)
			}
			continue
		}

		mapping, ok := appleHealthMetricTypes[sample.Type]
		if !ok {
			b.warn(sample.Type, "unsupported sample type skipped")
			continue
		}
		if sample.Value == nil {
			b.warn(sample.Type, "sample missing value skipped")
			continue
		}
		converted, ok := mapping.convert(*sample.Value, sample.Unit)
		if !ok {
			b.warn(sample.Type, fmt.Sprintf("unmappable unit %q skipped", sample.Unit))
			continue
		}
		b.metric(mapping.metricType, converted, mapping.unit, start, start)
	}
}

func normalizeGoogleFit(b *builder) {
	var body struct {
		Dataset []struct {
			DataTypeName string `json:"dataTypeName"`
			Point        []struct {
				Start string   `json:"start"`
				End   string   `json:"end"`
				Value *float64 `json:"value"`
			} `json:"point"`
		} `json:"dataset"`
	}
	if err := json.Unmarshal(b.ev.Payload, &body); err != nil {
		b.warn("dataset", err.Error())
		return
	}

	for _, ds := range body.Dataset {
		var metricType domain.MetricType
		var unit string
		switch ds.DataTypeName {
		case "com.google.step_count.delta":
			metricType, unit = domain.MetricSteps, "count"
		case "com.google.heart_rate.resting":
			metricType, unit = domain.MetricRestingHR, "bpm"
		case "com.google.calories.expended":
			metricType, unit = domain.MetricCaloriesOut, "kcal"
		case "com.google.active_minutes":
			metricType, unit = domain.MetricActiveMinutes, "min"
		default:
			b.warn(ds.DataTypeName, "unsupported data type skipped")
			continue
		}
		for _, p := range ds.Point {
			if p.Value == nil {
				b.warn(ds.DataTypeName, "point missing value skipped")
				continue
			}
			at := b.timeOrReceived(p.Start)
			b.metric(metricType, *p.Value, unit, at, at)
		}
	}
}

func normalizeTerra(b *builder) {
	switch b.ev.EventType {
	case "body":
		var body struct {
			Data []struct {
				MeasuredAt string `json:"measured_at"`
				HeartData  struct {
					RestingHRBpm *float64 `json:"resting_hr_bpm"`
					HRVRmssd     *float64 `json:"hrv_rmssd"`
				} `json:"heart_data"`
				RespirationData struct {
					BreathsPerMin *float64 `json:"breaths_per_min"`
				} `json:"respiration_data"`
			} `json:"data"`
		}
		if err := json.Unmarshal(b.ev.Payload, &body); err != nil {
			b.warn("data", err.Error())
			return
		}
		for _, d := range body.Data {
			at := b.timeOrReceived(d.MeasuredAt)
			if v := d.HeartData.RestingHRBpm; v != nil {
				b.metric(domain.MetricRestingHR, *v, "bpm", at, at)
			}
			if v := d.HeartData.HRVRmssd; v != nil {
				b.metric(domain.MetricHRV, *v, "ms", at, at)
			}
			if v := d.RespirationData.BreathsPerMin; v != nil {
				b.metric(domain.MetricRespiratoryRate, *v, "breaths/min", at, at)
			}
		}

	case "sleep":
		var body struct {
			Data []struct {
				StartTime  string   `json:"start_time"`
				EndTime    string   `json:"end_time"`
				SleepScore *float64 `json:"sleep_score"`
			} `json:"data"`
		}
		if err := json.Unmarshal(b.ev.Payload, &body); err != nil {
			b.warn("data", err.Error())
			return
		}
		for _, d := range body.Data {
			start, err1 := time.Parse(time.RFC3339, d.StartTime)
			end, err2 := time.Parse(time.RFC3339, d.EndTime)
			if err1 != nil || err2 != nil {
				b.warn("sleep", "sleep record without interval skipped")
				continue
			}
			var metrics map[string]float64
			if d.SleepScore != nil {
				metrics = map[string]float64{"sleep_score": *d.SleepScore}
				b.metric(domain.MetricSleepScore, *d.SleepScore, "score", start, start)
			}
			b.session(domain.SessionSleep, start, end, metrics)
		}

	case "activity":
		var body struct {
			Data []struct {
				StartTime    string   `json:"start_time"`
				EndTime      string   `json:"end_time"`
				ActivityType string   `json:"activity_type"`
				Calories     *float64 `json:"calories"`
			} `json:"data"`
		}
		if err := json.Unmarshal(b.ev.Payload, &body); err != nil {
			b.warn("data", err.Error())
			return
		}
		for _, d := range body.Data {
			start, err1 := time.Parse(time.RFC3339, d.StartTime)
			end, err2 := time.Parse(time.RFC3339, d.EndTime)
			if err1 != nil || err2 != nil {
				b.warn("activity", "activity without interval skipped")
				continue
			}
			var metrics map[string]float64
			if d.Calories != nil {
				metrics = map[string]float64{"calories_kcal": *d.Calories}
			}
			b.session(domain.SessionActivity, start, end, metrics)
		}

	case "daily":
		var body struct {
			Data []struct {
				Day           string   `json:"day"`
				Steps         *float64 `json:"steps"`
				CaloriesTotal *float64 `json:"calories_total"`
			} `json:"data"`
		}
		if err := json.Unmarshal(b.ev.Payload, &body); err != nil {
			b.warn("data", err.Error())
			return
		}
		for _, d := range body.Data {
			date := b.dayOrReceived(d.Day)
			if v := d.Steps; v != nil {
				b.metric(domain.MetricSteps, *v, "count", date, b.ev.ReceivedAt)
			}
			if v := d.CaloriesTotal; v != nil {
				b.metric(domain.MetricCaloriesOut, *v, "kcal", date, b.ev.ReceivedAt)
			}
		}
	}
}

// manualMetricUnits lists accepted (metric type, unit) pairs for manual
// entries and the conversion into canonical units.
var manualMetricUnits = map[domain.MetricType]map[string]func(float64) float64{
	domain.MetricRestingHR:       {"bpm": identity},
	domain.MetricHRV:             {"ms": identity, "s": func(v float64) float64 { return v * 1000 }},
	domain.MetricSteps:           {"count": identity},
	domain.MetricCaloriesOut:     {"kcal": identity, "kJ": func(v float64) float64 { return v / kilojoulesPerKilocalorie }},
	domain.MetricActiveMinutes:   {"min": identity},
	domain.MetricRespiratoryRate: {"breaths/min": identity},
}

func identity(v float64) float64 { return v }

func normalizeManual(b *builder) {
	switch b.ev.EventType {
	case "metric":
		var body struct {
			MetricType string   `json:"metric_type"`
			Value      *float64 `json:"value"`
			Unit       string   `json:"unit"`
			RecordedAt string   `json:"recorded_at"`
		}
		if err := json.Unmarshal(b.ev.Payload, &body); err != nil {
			b.warn("data", err.Error())
			return
		}
		if body.Value == nil {
			b.warn("value", "manual metric missing value skipped")
			return
		}
		metricType := domain.MetricType(body.MetricType)
		units, ok := manualMetricUnits[metricType]
		if !ok {
			b.warn("metric_type", fmt.Sprintf("unsupported manual metric type %q skipped", body.MetricType))
			return
		}
		convert, ok := units[body.Unit]
		if !ok {
			b.warn("unit", fmt.Sprintf("unmappable unit %q for %s skipped", body.Unit, body.MetricType))
			return
		}
		at := b.timeOrReceived(body.RecordedAt)
		canonicalUnit := canonicalUnitFor(metricType)
		b.metric(metricType, convert(*body.Value), canonicalUnit, at, at)

	case "activity":
		var body struct {
			Start        string `json:"start"`
			End          string `json:"end"`
			ActivityType string `json:"activity_type"`
		}
		if err := json.Unmarshal(b.ev.Payload, &body); err != nil {
			b.warn("data", err.Error())
			return
		}
		start, err1 := time.Parse(time.RFC3339, body.Start)
		end, err2 := time.Parse(time.RFC3339, body.End)
		if err1 != nil || err2 != nil {
			b.warn("activity", "manual activity without interval skipped")
			return
		}
		b.session(domain.SessionActivity, start, end, nil)
	}
}

func canonicalUnitFor(metricType domain.MetricType) string {
	switch metricType {
	case domain.MetricRestingHR:
		return "bpm"
	case domain.MetricHRV:
		return "ms"
	case domain.MetricSteps:
		return "count"
	case domain.MetricCaloriesOut:
		return "kcal"
	case domain.MetricActiveMinutes:
		return "min"
	case domain.MetricRespiratoryRate:
		return "breaths/min"
	default:
		return ""
	}
}
