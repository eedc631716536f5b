package lte

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// Method selects how the cross-correlation is computed. Both methods
// produce the same values within floating point tolerance.
type Method int

const (
	MethodAuto Method = iota
	MethodTime
	MethodFreq
)

// String returns the method name used in configuration files.
func (m Method) String() string {
	switch m {
	case MethodTime:
		return "time"
	case MethodFreq:
		return "freq"
	default:
		return "auto"
	}
}

// ParseMethod parses "auto", "time" or "freq".
func ParseMethod(s string) (Method, bool) {
	switch s {
	case "", "auto":
		return MethodAuto, true
	case "time":
		return MethodTime, true
	case "freq":
		return MethodFreq, true
	}
	return MethodAuto, false
}

// PeakGuard is the number of lags on each side of a correlation peak that
// are left out of the noise floor. The autocorrelation of a 62 subcarrier
// sequence on 128 samples spreads most of its energy over these lags.
const PeakGuard = 8

// CorrelationResult is the strongest match of a window against a set of
// reference sequences.
type CorrelationResult struct {
	PeakIndex     int
	PeakValue     float64 // squared magnitude
	PeakToAverage float64 // peak power over the mean power of the off-peak lags
	SequenceIndex int
}

// QualityDB returns the peak-to-average ratio in dB, -Inf for a degenerate
// window.
func (r CorrelationResult) QualityDB() float64 {
	if r.PeakToAverage <= 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(r.PeakToAverage)
}

// FindPeak correlates window against every sequence in refs and returns the
// sequence and lag with the largest peak power. Ties go to the lower sequence
// index. The window must be at least as long as the references.
//
// The average excludes the PeakGuard lags around the peak whenever enough
// lags remain, so narrow and wide windows measure the same ratio for the
// same signal to noise ratio.
func FindPeak(window []complex128, refs []*ReferenceSequence, method Method) CorrelationResult {
	if len(refs) == 0 {
		panic("lte: FindPeak without reference sequences")
	}
	var best CorrelationResult
	found := false
	for i, power := range correlateSet(window, refs, method) {
		r := peakOf(power)
		r.SequenceIndex = refs[i].Index
		if !found || r.PeakValue > best.PeakValue ||
			(r.PeakValue == best.PeakValue && r.SequenceIndex < best.SequenceIndex) {
			best = r
			found = true
		}
	}
	return best
}

// CorrelatePower returns |c[t]|^2 for every valid lag t in
// [0, len(window)-len(ref)], c[t] = sum conj(ref[n]) * window[t+n].
func CorrelatePower(window, ref []complex128, method Method) []float64 {
	return correlateSet(window, []*ReferenceSequence{{Time: ref}}, method)[0]
}

func resolveMethod(method Method, window, ref int) Method {
	if method != MethodAuto {
		return method
	}
	if window > 4*ref {
		return MethodFreq
	}
	return MethodTime
}

// correlateSet returns the correlation power of window against each
// reference. The frequency method transforms the window once for all of
// them.
func correlateSet(window []complex128, refs []*ReferenceSequence, method Method) [][]float64 {
	out := make([][]float64, len(refs))
	var W []complex128
	for i, ref := range refs {
		if len(window) < len(ref.Time) || len(ref.Time) == 0 {
			panic("lte: correlation window shorter than reference")
		}
		var c []complex128
		if resolveMethod(method, len(window), len(ref.Time)) == MethodFreq {
			n := nextPow2(len(window))
			if len(W) != n {
				w := make([]complex128, n)
				copy(w, window)
				W = FFT(w)
			}
			c = correlateFreq(W, refSpectrum(ref, n), len(window)-len(ref.Time)+1)
		} else {
			c = correlateTime(window, ref.Time)
		}
		power := make([]float64, len(c))
		for k, v := range c {
			power[k] = real(v)*real(v) + imag(v)*imag(v)
		}
		out[i] = power
	}
	return out
}

func correlateTime(window, ref []complex128) []complex128 {
	lags := len(window) - len(ref) + 1
	out := make([]complex128, lags)
	for t := 0; t < lags; t++ {
		var acc complex128
		for n, r := range ref {
			acc += cmplx.Conj(r) * window[t+n]
		}
		out[t] = acc
	}
	return out
}

// spectra caches the zero padded spectra of the shared primary sequences.
var spectra sync.Map // spectrumKey -> []complex128

type spectrumKey struct {
	group, n int
}

// refSpectrum returns the n point FFT of the zero padded reference. Only
// the shared primary sequences are cached.
func refSpectrum(ref *ReferenceSequence, n int) []complex128 {
	shared := ref.Index >= 0 && ref.Index < NumPrimary && ref == Primary(ref.Index)
	key := spectrumKey{ref.Index, n}
	if shared {
		if v, ok := spectra.Load(key); ok {
			return v.([]complex128)
		}
	}
	r := make([]complex128, n)
	copy(r, ref.Time)
	R := FFT(r)
	if shared {
		spectra.Store(key, R)
	}
	return R
}

// correlateFreq computes the valid lags through one zero padded circular
// correlation. The FFT length covers the whole window, so no valid lag
// wraps. W is not modified.
func correlateFreq(W, R []complex128, lags int) []complex128 {
	prod := make([]complex128, len(W))
	for k := range W {
		prod[k] = W[k] * cmplx.Conj(R[k])
	}
	return IFFT(prod)[:lags]
}

func peakOf(power []float64) CorrelationResult {
	idx := floats.MaxIdx(power)
	peak := power[idx]
	if peak <= 0 {
		return CorrelationResult{}
	}
	mean := floats.Sum(power) / float64(len(power))
	lo, hi := max(0, idx-PeakGuard), min(len(power), idx+PeakGuard+1)
	if off := len(power) - (hi - lo); off >= 2*PeakGuard {
		// A floor of exactly zero cannot be separated from the peak; keep
		// the plain mean then.
		if floor := (floats.Sum(power[:lo]) + floats.Sum(power[hi:])) / float64(off); floor > 0 {
			mean = floor
		}
	}
	return CorrelationResult{
		PeakIndex:     idx,
		PeakValue:     peak,
		PeakToAverage: peak / mean,
	}
}
