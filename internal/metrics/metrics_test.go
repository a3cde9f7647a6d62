package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveUpstream(t *testing.T) {
	before := testutil.ToFloat64(UpstreamRequests.WithLabelValues("tts", "500"))
	beforeErr := testutil.ToFloat64(UpstreamRequests.WithLabelValues("tts", "error"))

	ObserveUpstream("tts", 500, 10*time.Millisecond)
	ObserveUpstream("tts", 0, time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(UpstreamRequests.WithLabelValues("tts", "500")))
	assert.Equal(t, beforeErr+1, testutil.ToFloat64(UpstreamRequests.WithLabelValues("tts", "error")))
}

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { MustRegister(reg) })

	UnitsSpent.WithLabelValues("tts").Add(3)
	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["speechkit_units_spent_total"])
}
