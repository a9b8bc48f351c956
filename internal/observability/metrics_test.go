package observability

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, provider string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, eventsIngested.WithLabelValues(provider).Write(&m))
	return m.GetCounter().GetValue()
}

func TestRecordEventIngested(t *testing.T) {
	before := counterValue(t, "whoop")

	at := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	RecordEventIngested("whoop", at)

	require.Equal(t, before+1, counterValue(t, "whoop"))

	var g dto.Metric
	require.NoError(t, ingestWatermark.Write(&g))
	require.Equal(t, float64(at.Unix()), g.GetGauge().GetValue())
}

func TestRecordEventIngestedZeroTimeKeepsWatermark(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	RecordEventIngested("oura", at)
	RecordEventIngested("oura", time.Time{})

	var g dto.Metric
	require.NoError(t, ingestWatermark.Write(&g))
	require.Equal(t, float64(at.Unix()), g.GetGauge().GetValue())
}

func TestRecordSummaryComputed(t *testing.T) {
	var before dto.Metric
	require.NoError(t, summariesComputed.Write(&before))

	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	RecordSummaryComputed(at)

	var after dto.Metric
	require.NoError(t, summariesComputed.Write(&after))
	require.Equal(t, before.GetCounter().GetValue()+1, after.GetCounter().GetValue())

	var g dto.Metric
	require.NoError(t, summaryWatermark.Write(&g))
	require.Equal(t, float64(at.Unix()), g.GetGauge().GetValue())
}
