package lte

import (
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// plans holds one pool of FFT plans per length. A plan keeps scratch
// space, so each one is used by a single goroutine at a time.
var plans sync.Map // int -> *sync.Pool

func getPlan(n int) *fourier.CmplxFFT {
	v, ok := plans.Load(n)
	if !ok {
		v, _ = plans.LoadOrStore(n, &sync.Pool{
			New: func() any { return fourier.NewCmplxFFT(n) },
		})
	}
	return v.(*sync.Pool).Get().(*fourier.CmplxFFT)
}

func putPlan(p *fourier.CmplxFFT) {
	if v, ok := plans.Load(p.Len()); ok {
		v.(*sync.Pool).Put(p)
	}
}

// FFT computes the unnormalized forward DFT of x.
func FFT(x []complex128) []complex128 {
	if len(x) == 0 {
		return nil
	}
	p := getPlan(len(x))
	defer putPlan(p)
	return p.Coefficients(nil, x)
}

// IFFT computes the inverse DFT of x, scaled by 1/N so that
// IFFT(FFT(x)) == x.
func IFFT(x []complex128) []complex128 {
	n := len(x)
	if n == 0 {
		return nil
	}
	p := getPlan(n)
	defer putPlan(p)
	out := p.Sequence(nil, x)
	scale := complex(1/float64(n), 0)
	for i := range out {
		out[i] *= scale
	}
	return out
}

// MapSubcarriers places the 62 sync values around DC of an FFTSize
// spectrum: values 0..30 on subcarriers -31..-1 and 31..61 on 1..31.
func MapSubcarriers(seq []complex128) []complex128 {
	bins := make([]complex128, FFTSize)
	half := SyncLen / 2
	for n := 0; n < half; n++ {
		bins[FFTSize-half+n] = seq[n]
	}
	for n := half; n < SyncLen; n++ {
		bins[n-half+1] = seq[n]
	}
	return bins
}

// ExtractSubcarriers is the inverse of MapSubcarriers.
func ExtractSubcarriers(bins []complex128) []complex128 {
	seq := make([]complex128, SyncLen)
	half := SyncLen / 2
	for n := 0; n < half; n++ {
		seq[n] = bins[FFTSize-half+n]
	}
	for n := half; n < SyncLen; n++ {
		seq[n] = bins[n-half+1]
	}
	return seq
}

// carrierBin returns the FFT bin of subcarrier k, k in [-N/2, N/2).
func carrierBin(k int) int {
	if k < 0 {
		return FFTSize + k
	}
	return k
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
