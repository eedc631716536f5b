package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jeongseonghan/lte-cellsync/internal/lte"
)

// Attempt outcomes.
const (
	OutcomeResolved  = "resolved"
	OutcomeAbandoned = "abandoned"
	OutcomeError     = "error"
)

// Metrics holds the Prometheus collectors for acquisition and band scans.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	attempts       *prometheus.CounterVec   // by outcome
	attemptFrames  *prometheus.HistogramVec // frames consumed per attempt, by outcome
	detections     *prometheus.CounterVec   // by state and result
	lastCFOHz      prometheus.Gauge
	lastQuality    prometheus.Gauge
	lastCellID     prometheus.Gauge
	scanDirect     prometheus.Counter
	scanInterp     prometheus.Counter
	scanCandidates prometheus.Gauge
	scanPeakEnergy prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cellsync_attempts_total",
				Help: "Acquisition attempts by outcome",
			},
			[]string{"outcome"},
		),
		attemptFrames: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cellsync_attempt_frames",
				Help:    "Frames consumed per acquisition attempt",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"outcome"},
		),
		detections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cellsync_detections_total",
				Help: "Per-frame PSS detection results by state",
			},
			[]string{"state", "result"},
		),
		lastCFOHz: f.NewGauge(prometheus.GaugeOpts{
			Name: "cellsync_last_cfo_hz",
			Help: "Carrier frequency offset of the last resolved cell",
		}),
		lastQuality: f.NewGauge(prometheus.GaugeOpts{
			Name: "cellsync_last_quality_db",
			Help: "Averaged PSS peak-to-average ratio of the last resolved cell",
		}),
		lastCellID: f.NewGauge(prometheus.GaugeOpts{
			Name: "cellsync_last_cell_id",
			Help: "Physical cell identity of the last resolved cell",
		}),
		scanDirect: f.NewCounter(prometheus.CounterOpts{
			Name: "cellsync_scan_measurements_total",
			Help: "Channels measured directly by the band scanner",
		}),
		scanInterp: f.NewCounter(prometheus.CounterOpts{
			Name: "cellsync_scan_interpolated_total",
			Help: "Channels filled by interpolation in the band scanner",
		}),
		scanCandidates: f.NewGauge(prometheus.GaugeOpts{
			Name: "cellsync_scan_candidates",
			Help: "Channels above the RSSI threshold in the last scan",
		}),
		scanPeakEnergy: f.NewGauge(prometheus.GaugeOpts{
			Name: "cellsync_scan_peak_energy_db",
			Help: "Strongest channel energy of the last scan",
		}),
	}
}

// AttemptFinished records the outcome of one acquisition attempt.
func (m *Metrics) AttemptFinished(outcome string, frames int) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
	m.attemptFrames.WithLabelValues(outcome).Observe(float64(frames))
}

// Detection records one per-frame correlator decision.
func (m *Metrics) Detection(state string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.detections.WithLabelValues(state, result).Inc()
}

// CellResolved exports the parameters of a resolved cell.
func (m *Metrics) CellResolved(c lte.CellCandidate) {
	if m == nil {
		return
	}
	m.lastCFOHz.Set(c.CFOHz)
	m.lastQuality.Set(c.Quality)
	m.lastCellID.Set(float64(c.CellID))
}

// ScanFinished records the work done by one band scan.
func (m *Metrics) ScanFinished(direct, interpolated int, peakEnergyDB float64) {
	if m == nil {
		return
	}
	m.scanDirect.Add(float64(direct))
	m.scanInterp.Add(float64(interpolated))
	m.scanPeakEnergy.Set(peakEnergyDB)
}

// ScanCandidates records how many channels passed the RSSI threshold.
func (m *Metrics) ScanCandidates(n int) {
	if m == nil {
		return
	}
	m.scanCandidates.Set(float64(n))
}
