package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/jeongseonghan/lte-cellsync/internal/lte"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.AttemptFinished(OutcomeResolved, 24)
	m.AttemptFinished(OutcomeAbandoned, 100)
	m.AttemptFinished(OutcomeAbandoned, 100)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues(OutcomeResolved)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts.WithLabelValues(OutcomeAbandoned)))

	m.Detection("track", true)
	m.Detection("track", false)
	m.Detection("track", true)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.detections.WithLabelValues("track", "hit")))

	m.CellResolved(lte.CellCandidate{CellID: 301, CFOHz: -1200, Quality: 21.5})
	assert.Equal(t, 301.0, testutil.ToFloat64(m.lastCellID))
	assert.Equal(t, -1200.0, testutil.ToFloat64(m.lastCFOHz))

	m.ScanFinished(11, 189, -42)
	m.ScanCandidates(3)
	assert.Equal(t, 11.0, testutil.ToFloat64(m.scanDirect))
	assert.Equal(t, 189.0, testutil.ToFloat64(m.scanInterp))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.scanCandidates))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AttemptFinished(OutcomeError, 1)
		m.Detection("find", false)
		m.CellResolved(lte.CellCandidate{})
		m.ScanFinished(1, 0, 0)
		m.ScanCandidates(0)
	})
}

func TestSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
