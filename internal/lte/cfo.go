package lte

import (
	"math"
	"math/cmplx"
)

// MaxCFO is the largest offset, in cycles per sample, that the half-symbol
// estimator resolves without ambiguity on correctly timed samples. Beyond
// about half of it the PSS correlation peak itself moves (the Zadoff-Chu
// timing/frequency ambiguity), so acquisition searches offsets in CFOStep
// increments before estimating.
const MaxCFO = 1.0 / FFTSize

// CFOStep is half a subcarrier (7.5 kHz) in cycles per sample.
const CFOStep = 1.0 / (2 * FFTSize)

// EstimateCFO returns the frequency offset of aligned, in cycles per sample,
// from the phase rotation between the two halves of the reference. aligned
// must start at the first sample of the reference.
func EstimateCFO(aligned, ref []complex128) float64 {
	half := len(ref) / 2
	if half == 0 || len(aligned) < 2*half {
		return 0
	}
	var p1, p2 complex128
	for n := 0; n < half; n++ {
		p1 += cmplx.Conj(ref[n]) * aligned[n]
		p2 += cmplx.Conj(ref[half+n]) * aligned[half+n]
	}
	prod := cmplx.Conj(p1) * p2
	if prod == 0 {
		return 0
	}
	return cmplx.Phase(prod) / (2 * math.Pi * float64(half))
}

// CorrectCFO rotates samples in place by exp(-j2*pi*cfo*n).
func CorrectCFO(samples []complex128, cfo float64) {
	if cfo == 0 {
		return
	}
	step := cmplx.Exp(complex(0, -2*math.Pi*cfo))
	rot := complex(1, 0)
	for i := range samples {
		samples[i] *= rot
		rot *= step
		// Renormalise to keep the rotator on the unit circle.
		if i&1023 == 1023 {
			rot /= complex(cmplx.Abs(rot), 0)
		}
	}
}

// CFOHz converts cycles per sample to Hz at the cell search rate.
func CFOHz(cfo float64) float64 {
	return cfo * SampleRate
}
