package lte

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
)

func rotate(x []complex128, cfo float64) []complex128 {
	out := make([]complex128, len(x))
	for n, v := range x {
		out[n] = v * cmplx.Exp(complex(0, 2*math.Pi*cfo*float64(n)))
	}
	return out
}

func TestEstimateCFO_RoundTrip(t *testing.T) {
	for g := 0; g < NumPrimary; g++ {
		ref := Primary(g).Time
		for _, f := range []float64{-0.004, -0.002, -0.0005, 0, 0.001, 0.003, 0.004} {
			got := EstimateCFO(rotate(ref, f), ref)
			assert.InDelta(t, f, got, 1e-3, "group %d cfo %g", g, f)
		}
	}
}

func TestEstimateCFO_Deterministic(t *testing.T) {
	ref := Primary(0).Time
	x := rotate(ref, 0.0025)
	first := EstimateCFO(x, ref)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, EstimateCFO(x, ref))
	}
}

func TestEstimateCFO_Degenerate(t *testing.T) {
	ref := Primary(0).Time
	assert.Zero(t, EstimateCFO(make([]complex128, FFTSize), ref))
	assert.Zero(t, EstimateCFO(ref[:10], ref))
}

func TestCorrectCFO(t *testing.T) {
	ref := Primary(1).Time
	x := rotate(ref, 0.003)
	CorrectCFO(x, 0.003)
	for n := range ref {
		assert.InDelta(t, 0, cmplx.Abs(x[n]-ref[n]), 1e-9)
	}
	assert.InDelta(t, 0, EstimateCFO(x, ref), 1e-9)
}

func TestCFOHz(t *testing.T) {
	assert.InDelta(t, 1920.0, CFOHz(0.001), 1e-9)
	assert.InDelta(t, SubcarrierHz, CFOHz(MaxCFO), 1e-9)
}
