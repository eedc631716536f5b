package lte

import (
	"fmt"
	"math"
	"math/rand"
)

// Synthesizer generates downlink radio frames that carry the PSS and SSS of
// one cell. The remaining symbols are either silent or filled with random
// QPSK on the 72 central subcarriers.
type Synthesizer struct {
	cellID   int
	cp       CyclicPrefix
	FillData bool
	rng      *rand.Rand
	qpsk     [4]complex128
}

// NewSynthesizer creates a synthesizer for cellID. seed fixes the filler
// data so that frames are reproducible.
func NewSynthesizer(cellID int, cp CyclicPrefix, seed int64) *Synthesizer {
	if cellID < 0 || cellID > MaxCellID {
		panic(fmt.Sprintf("lte: cell id %d out of range", cellID))
	}
	a := 1 / math.Sqrt2
	return &Synthesizer{
		cellID: cellID,
		cp:     cp,
		rng:    rand.New(rand.NewSource(seed)),
		// Gray-coded QPSK, unit average power
		qpsk: [4]complex128{
			complex(a, a),
			complex(-a, a),
			complex(-a, -a),
			complex(a, -a),
		},
	}
}

// CellID returns the synthesized cell identity.
func (s *Synthesizer) CellID() int { return s.cellID }

// Frame returns one 10 ms radio frame of FrameLen samples starting at the
// first sample of subframe 0.
func (s *Synthesizer) Frame() []complex128 {
	nid1, nid2 := SplitCellID(s.cellID)
	pss := MapSubcarriers(Primary(nid2).Freq)
	sss := Secondary(nid1, nid2)
	last := s.cp.SymbolsPerSlot() - 1

	frame := make([]complex128, 0, FrameLen)
	for slot := 0; slot < 20; slot++ {
		for l := 0; l <= last; l++ {
			var bins []complex128
			switch {
			case slot%10 == 0 && l == last:
				bins = pss
			case slot%10 == 0 && l == last-1:
				bins = MapSubcarriers(sss.Variant(slot / 2))
			case s.FillData:
				bins = s.randomSymbol()
			default:
				bins = make([]complex128, FFTSize)
			}
			frame = append(frame, ModulateSymbol(bins, s.cp.Len(l))...)
		}
	}
	return frame
}

func (s *Synthesizer) randomSymbol() []complex128 {
	bins := make([]complex128, FFTSize)
	for k := -NumCarriers / 2; k <= NumCarriers/2; k++ {
		if k == 0 {
			continue
		}
		bins[carrierBin(k)] = s.qpsk[s.rng.Intn(4)]
	}
	return bins
}

// ModulateSymbol converts one FFTSize spectrum into a time-domain OFDM
// symbol with a cyclic prefix of cpLen samples.
func ModulateSymbol(bins []complex128, cpLen int) []complex128 {
	td := IFFT(bins)
	return addCyclicPrefix(td, cpLen)
}

func addCyclicPrefix(samples []complex128, cpLen int) []complex128 {
	n := len(samples)
	result := make([]complex128, cpLen+n)
	// Copy last cpLen samples to the beginning
	copy(result, samples[n-cpLen:])
	copy(result[cpLen:], samples)
	return result
}
