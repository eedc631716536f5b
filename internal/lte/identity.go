package lte

import (
	"math/cmplx"
)

// Strategy selects how the equalized SSS is matched against the table.
type Strategy int

const (
	// StrategyFull correlates all subcarriers coherently.
	StrategyFull Strategy = iota
	// StrategyDifferential correlates products of adjacent subcarriers,
	// which tolerates a residual timing error at the cost of noise.
	StrategyDifferential
)

// String returns the strategy name used in configuration files.
func (s Strategy) String() string {
	if s == StrategyDifferential {
		return "differential"
	}
	return "full"
}

// ParseStrategy parses "full" or "differential".
func ParseStrategy(s string) (Strategy, bool) {
	switch s {
	case "", "full":
		return StrategyFull, true
	case "differential":
		return StrategyDifferential, true
	}
	return StrategyFull, false
}

// Identity is the outcome of SSS resolution.
type Identity struct {
	SecondaryGroup int
	CyclicPrefix   CyclicPrefix
	Subframe       int     // 0 or 5
	Score          float64 // correlation coefficient in [0, 1], 1 for a perfect match
}

// Resolver determines N_ID_1, the cyclic prefix and the half-frame position
// from the SSS symbol that precedes a detected PSS. The zero value uses full
// correlation and zero-forcing equalization.
type Resolver struct {
	Strategy   Strategy
	NoisePower float64 // > 0 selects MMSE equalization
}

// Resolve tries both cyclic prefix hypotheses and returns the stronger one.
// An exact tie resolves to the normal prefix. pssPos is the start of the PSS
// useful part within window. ok is false when neither SSS position fits
// inside the window.
func (r Resolver) Resolve(window []complex128, pssPos, nid2 int) (id Identity, ok bool) {
	eq, ok := r.channelFromPSS(window, pssPos, nid2)
	if !ok {
		return Identity{}, false
	}
	normal, okN := r.scorePrefix(window, pssPos, nid2, CPNormal, eq)
	extended, okE := r.scorePrefix(window, pssPos, nid2, CPExtended, eq)
	switch {
	case okN && okE:
		if extended.Score > normal.Score {
			return extended, true
		}
		return normal, true
	case okN:
		return normal, true
	case okE:
		return extended, true
	}
	return Identity{}, false
}

// ResolveCP evaluates a single, already decided cyclic prefix.
func (r Resolver) ResolveCP(window []complex128, pssPos, nid2 int, cp CyclicPrefix) (Identity, bool) {
	eq, ok := r.channelFromPSS(window, pssPos, nid2)
	if !ok {
		return Identity{}, false
	}
	return r.scorePrefix(window, pssPos, nid2, cp, eq)
}

func (r Resolver) channelFromPSS(window []complex128, pssPos, nid2 int) (*Equalizer, bool) {
	if pssPos < 0 || pssPos+FFTSize > len(window) {
		return nil, false
	}
	received := ExtractSubcarriers(FFT(window[pssPos : pssPos+FFTSize]))
	eq := NewEqualizer(SyncLen)
	eq.EstimateChannel(received, Primary(nid2).Freq)
	return eq, true
}

func (r Resolver) scorePrefix(window []complex128, pssPos, nid2 int, cp CyclicPrefix, eq *Equalizer) (Identity, bool) {
	start := pssPos - cp.SSSDistance()
	if start < 0 {
		return Identity{}, false
	}
	received := ExtractSubcarriers(FFT(window[start : start+FFTSize]))
	var y []complex128
	if r.NoisePower > 0 {
		y = eq.EqualizeMMSE(received, r.NoisePower)
	} else {
		y = eq.Equalize(received)
	}
	if r.Strategy == StrategyDifferential {
		y = differential(y)
	}

	best := Identity{CyclicPrefix: cp, Score: -1}
	for nid1 := 0; nid1 < NumSecondary; nid1++ {
		pair := Secondary(nid1, nid2)
		for _, sf := range [2]int{0, 5} {
			ref := pair.Variant(sf)
			if r.Strategy == StrategyDifferential {
				ref = differential(ref)
			}
			score := matchScore(y, ref)
			if score > best.Score {
				best.SecondaryGroup = nid1
				best.Subframe = sf
				best.Score = score
			}
		}
	}
	return best, true
}

// matchScore is the squared normalized correlation of y with ref. It does
// not depend on the gain of y, so scores from different equalizers and
// frequency hypotheses compare directly.
func matchScore(y, ref []complex128) float64 {
	var acc complex128
	var ey, er float64
	for k, d := range ref {
		acc += cmplx.Conj(d) * y[k]
		ey += real(y[k])*real(y[k]) + imag(y[k])*imag(y[k])
		er += real(d)*real(d) + imag(d)*imag(d)
	}
	if ey == 0 || er == 0 {
		return 0
	}
	return (real(acc)*real(acc) + imag(acc)*imag(acc)) / (ey * er)
}

func differential(x []complex128) []complex128 {
	out := make([]complex128, len(x)-1)
	for k := range out {
		out[k] = x[k+1] * cmplx.Conj(x[k])
	}
	return out
}
