package lte

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"
)

// Zadoff-Chu roots for N_ID_2 = 0, 1, 2.
var primaryRoots = [NumPrimary]int{25, 29, 34}

// ReferenceSequence is a fixed synchronization sequence in both domains.
// Sequences are shared between all correlator calls and must not be
// modified.
type ReferenceSequence struct {
	Index int
	Freq  []complex128 // SyncLen subcarrier values
	Time  []complex128 // FFTSize samples, no cyclic prefix
}

// SecondaryPair holds the two SSS variants of one cell: the sequence sent in
// subframe 0 and the swapped one sent in subframe 5.
type SecondaryPair struct {
	Subframe0 []complex128
	Subframe5 []complex128
}

// Variant returns the sequence for subframe 0 or 5.
func (p SecondaryPair) Variant(subframe int) []complex128 {
	if subframe == 5 {
		return p.Subframe5
	}
	return p.Subframe0
}

var (
	tablesOnce     sync.Once
	primaryTable   [NumPrimary]*ReferenceSequence
	secondaryTable [NumPrimary][NumSecondary]SecondaryPair
)

func loadTables() {
	tablesOnce.Do(func() {
		for g := 0; g < NumPrimary; g++ {
			freq := zadoffChu(primaryRoots[g])
			primaryTable[g] = &ReferenceSequence{
				Index: g,
				Freq:  freq,
				Time:  IFFT(MapSubcarriers(freq)),
			}
		}
		s, c, z := mSequence(2, 0), mSequence(3, 0), mSequence(4, 2, 1, 0)
		for nid2 := 0; nid2 < NumPrimary; nid2++ {
			for nid1 := 0; nid1 < NumSecondary; nid1++ {
				secondaryTable[nid2][nid1] = buildSecondary(nid1, nid2, s, c, z)
			}
		}
	})
}

// Primary returns the PSS for group index 0..2. Other indices panic.
func Primary(group int) *ReferenceSequence {
	if group < 0 || group >= NumPrimary {
		panic(fmt.Sprintf("lte: primary group %d out of range", group))
	}
	loadTables()
	return primaryTable[group]
}

// PrimarySet returns all three primary sequences ordered by index.
func PrimarySet() []*ReferenceSequence {
	loadTables()
	return []*ReferenceSequence{primaryTable[0], primaryTable[1], primaryTable[2]}
}

// Secondary returns the SSS pair of N_ID_1 scrambled for N_ID_2.
// Out of range indices panic.
func Secondary(nid1, nid2 int) SecondaryPair {
	if nid1 < 0 || nid1 >= NumSecondary {
		panic(fmt.Sprintf("lte: secondary group %d out of range", nid1))
	}
	if nid2 < 0 || nid2 >= NumPrimary {
		panic(fmt.Sprintf("lte: primary group %d out of range", nid2))
	}
	loadTables()
	return secondaryTable[nid2][nid1]
}

func zadoffChu(u int) []complex128 {
	d := make([]complex128, SyncLen)
	for n := 0; n < SyncLen; n++ {
		var arg float64
		if n < SyncLen/2 {
			arg = float64(u*n*(n+1)) / 63
		} else {
			arg = float64(u*(n+1)*(n+2)) / 63
		}
		d[n] = cmplx.Exp(complex(0, -math.Pi*arg))
	}
	return d
}

// mSequence returns the 31-chip +/-1 sequence of the 5-bit register
// x(i+5) = sum x(i+tap) mod 2 started from 00001.
func mSequence(taps ...int) [31]float64 {
	var x [31]int
	x[4] = 1
	for i := 0; i+5 < 31; i++ {
		sum := 0
		for _, t := range taps {
			sum += x[i+t]
		}
		x[i+5] = sum % 2
	}
	var out [31]float64
	for i, b := range x {
		out[i] = float64(1 - 2*b)
	}
	return out
}

// SecondaryIndices returns the cyclic shifts m0, m1 of N_ID_1.
func SecondaryIndices(nid1 int) (m0, m1 int) {
	qp := nid1 / 30
	q := (nid1 + qp*(qp+1)/2) / 30
	mp := nid1 + q*(q+1)/2
	m0 = mp % 31
	m1 = (m0 + mp/31 + 1) % 31
	return m0, m1
}

func buildSecondary(nid1, nid2 int, s, c, z [31]float64) SecondaryPair {
	m0, m1 := SecondaryIndices(nid1)
	sub0 := make([]complex128, SyncLen)
	sub5 := make([]complex128, SyncLen)
	for n := 0; n < 31; n++ {
		s0 := s[(n+m0)%31]
		s1 := s[(n+m1)%31]
		c0 := c[(n+nid2)%31]
		c1 := c[(n+nid2+3)%31]
		z0 := z[(n+m0%8)%31]
		z1 := z[(n+m1%8)%31]

		sub0[2*n] = complex(s0*c0, 0)
		sub0[2*n+1] = complex(s1*c1*z0, 0)
		sub5[2*n] = complex(s1*c0, 0)
		sub5[2*n+1] = complex(s0*c1*z1, 0)
	}
	return SecondaryPair{Subframe0: sub0, Subframe5: sub5}
}
