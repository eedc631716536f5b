package scan

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/jeongseonghan/lte-cellsync/internal/metrics"
	"github.com/jeongseonghan/lte-cellsync/internal/monitoring"
	"github.com/jeongseonghan/lte-cellsync/internal/radio"
)

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid scan config")

// Config controls a band scan.
type Config struct {
	// Decimation is the measurement stride used for long channel lists.
	Decimation int
	// DirectLimit is the longest list that is measured channel by channel.
	DirectLimit int
	SampleRate  float64
}

// DefaultConfig measures every 20th channel of lists longer than 100.
func DefaultConfig() Config {
	return Config{
		Decimation:  20,
		DirectLimit: 100,
		SampleRate:  1.92e6,
	}
}

// Validate rejects unusable settings.
func (c Config) Validate() error {
	if c.Decimation < 1 {
		return fmt.Errorf("%w: decimation %d must be at least 1", ErrInvalidConfig, c.Decimation)
	}
	if c.DirectLimit < 0 {
		return fmt.Errorf("%w: direct limit %d is negative", ErrInvalidConfig, c.DirectLimit)
	}
	if !(c.SampleRate > 0) || math.IsInf(c.SampleRate, 0) {
		return fmt.Errorf("%w: sample rate %g must be positive", ErrInvalidConfig, c.SampleRate)
	}
	return nil
}

// Result holds one energy value per channel, in the order of the scanned
// frequencies. Measured marks the channels that were not interpolated.
type Result struct {
	Frequencies []float64
	Energies    []float64
	Measured    []bool
}

// Candidate is a channel that passed the RSSI threshold.
type Candidate struct {
	FrequencyHz float64 `json:"frequencyHz"`
	EnergyDB    float64 `json:"energyDb"`
}

// Candidates returns the channels whose energy is at least thresholdDB,
// strongest first. Equal energies keep ascending frequency order.
func (r *Result) Candidates(thresholdDB float64) []Candidate {
	var out []Candidate
	for i, e := range r.Energies {
		if db := PowerDB(e); db >= thresholdDB {
			out = append(out, Candidate{FrequencyHz: r.Frequencies[i], EnergyDB: db})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EnergyDB > out[j].EnergyDB })
	return out
}

// PowerDB converts a linear mean power to dB. Zero power maps to -Inf.
func PowerDB(p float64) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(p)
}

// Scanner measures received energy over a list of channels.
type Scanner struct {
	cfg     Config
	meter   radio.EnergyMeter
	metrics *metrics.Metrics
}

// NewScanner validates cfg. m may be nil.
func NewScanner(cfg Config, meter radio.EnergyMeter, m *metrics.Metrics) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if meter == nil {
		return nil, fmt.Errorf("%w: no energy meter", ErrInvalidConfig)
	}
	return &Scanner{cfg: cfg, meter: meter, metrics: m}, nil
}

// Scan measures freqs, which must be in ascending order, with samples
// samples per measurement. Lists longer than DirectLimit are measured every
// Decimation channels plus the last one and linearly interpolated in
// between. The first failed measurement aborts the scan.
func (s *Scanner) Scan(ctx context.Context, freqs []float64, samples int) (*Result, error) {
	if samples <= 0 {
		return nil, fmt.Errorf("%w: %d samples per measurement", ErrInvalidConfig, samples)
	}
	if !sort.Float64sAreSorted(freqs) {
		return nil, errors.New("scan: frequencies not in ascending order")
	}

	n := len(freqs)
	res := &Result{
		Frequencies: append([]float64(nil), freqs...),
		Energies:    make([]float64, n),
		Measured:    make([]bool, n),
	}
	if n == 0 {
		return res, nil
	}

	stride := 1
	if n > s.cfg.DirectLimit {
		stride = s.cfg.Decimation
	}
	var sampled []int
	for i := 0; i < n; i += stride {
		sampled = append(sampled, i)
	}
	if sampled[len(sampled)-1] != n-1 {
		sampled = append(sampled, n-1)
	}

	for _, i := range sampled {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := s.meter.MeasureEnergy(freqs[i], s.cfg.SampleRate, samples)
		if err != nil {
			return nil, fmt.Errorf("measure %.1f MHz: %w", freqs[i]/1e6, err)
		}
		res.Energies[i] = e
		res.Measured[i] = true
	}

	for k := 0; k+1 < len(sampled); k++ {
		interpolate(res, sampled[k], sampled[k+1])
	}

	peak := math.Inf(-1)
	for _, e := range res.Energies {
		peak = math.Max(peak, PowerDB(e))
	}
	monitoring.Logf("scan: %d channels, %d measured, peak %.1f dB", n, len(sampled), peak)
	s.metrics.ScanFinished(len(sampled), n-len(sampled), peak)
	return res, nil
}

// interpolate fills the channels strictly between a and b on the line
// through their measured energies.
func interpolate(res *Result, a, b int) {
	fa, fb := res.Frequencies[a], res.Frequencies[b]
	ea, eb := res.Energies[a], res.Energies[b]
	for i := a + 1; i < b; i++ {
		t := float64(i-a) / float64(b-a)
		if fb != fa {
			t = (res.Frequencies[i] - fa) / (fb - fa)
		}
		res.Energies[i] = ea + t*(eb-ea)
	}
}

// Candidates runs Candidates on r and records the count.
func (s *Scanner) Candidates(r *Result, thresholdDB float64) []Candidate {
	c := r.Candidates(thresholdDB)
	s.metrics.ScanCandidates(len(c))
	return c
}
