package lte

import (
	"math/cmplx"
)

// Equalizer estimates a per-subcarrier channel from a known symbol and
// removes it from another symbol of the same slot.
type Equalizer struct {
	channelResp []complex128 // H(k) over the sync subcarriers
}

// NewEqualizer creates an equalizer for n subcarriers.
func NewEqualizer(n int) *Equalizer {
	return &Equalizer{channelResp: make([]complex128, n)}
}

// EstimateChannel estimates H(k) = Y(k) / X(k) wherever the known symbol is
// non-zero and interpolates the gaps.
func (eq *Equalizer) EstimateChannel(received, known []complex128) {
	for k := range eq.channelResp {
		eq.channelResp[k] = 0
		if k >= len(received) || k >= len(known) {
			continue
		}
		if known[k] != 0 {
			eq.channelResp[k] = received[k] / known[k]
		}
	}
	eq.interpolateChannel()
}

// Channel returns the current estimate. The slice is owned by the equalizer.
func (eq *Equalizer) Channel() []complex128 {
	return eq.channelResp
}

// interpolateChannel fills gaps in the channel estimate via linear interpolation.
func (eq *Equalizer) interpolateChannel() {
	type point struct {
		idx int
		val complex128
	}
	var points []point
	for k, h := range eq.channelResp {
		if h != 0 {
			points = append(points, point{k, h})
		}
	}
	if len(points) < 2 {
		return
	}

	for i := 0; i < len(points)-1; i++ {
		k1, k2 := points[i].idx, points[i+1].idx
		v1, v2 := points[i].val, points[i+1].val
		for k := k1 + 1; k < k2; k++ {
			t := float64(k-k1) / float64(k2-k1)
			eq.channelResp[k] = v1*complex(1-t, 0) + v2*complex(t, 0)
		}
	}
}

// Equalize performs zero-forcing equalization.
func (eq *Equalizer) Equalize(received []complex128) []complex128 {
	equalized := make([]complex128, len(received))
	copy(equalized, received)

	for k := range equalized {
		if k >= len(eq.channelResp) {
			break
		}
		h := eq.channelResp[k]
		if cmplx.Abs(h) > 1e-10 {
			equalized[k] = received[k] / h
		} else {
			equalized[k] = 0
		}
	}
	return equalized
}

// EqualizeMMSE performs MMSE equalization, W(k) = H*(k) / (|H(k)|^2 + noise).
func (eq *Equalizer) EqualizeMMSE(received []complex128, noisePower float64) []complex128 {
	equalized := make([]complex128, len(received))

	for k := range equalized {
		if k >= len(eq.channelResp) {
			break
		}
		h := eq.channelResp[k]
		hPow := real(h)*real(h) + imag(h)*imag(h)
		if hPow+noisePower > 1e-10 {
			w := cmplx.Conj(h) / complex(hPow+noisePower, 0)
			equalized[k] = received[k] * w
		}
	}
	return equalized
}
