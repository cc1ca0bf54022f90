package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestCounters(t *testing.T) {
	before := counterValue(t, pushOutcomes.WithLabelValues("main", OutcomeTransient))
	PushOutcome("main", OutcomeTransient)
	assert.Equal(t, before+1, counterValue(t, pushOutcomes.WithLabelValues("main", OutcomeTransient)))

	claimedBefore := counterValue(t, outboxClaimed)
	Claimed(3)
	assert.Equal(t, claimedBefore+3, counterValue(t, outboxClaimed))
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, "2xx", classifyStatus(204))
	assert.Equal(t, "4xx", classifyStatus(409))
	assert.Equal(t, "5xx", classifyStatus(503))
	assert.Equal(t, "unknown", classifyStatus(99))
}
