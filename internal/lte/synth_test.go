package lte

import (
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizer_FrameLayout(t *testing.T) {
	for _, cp := range []CyclicPrefix{CPNormal, CPExtended} {
		frame := NewSynthesizer(CellID(3, 2), cp, 1).Frame()
		require.Len(t, frame, FrameLen, cp.String())

		pss := Primary(2).Time
		for _, start := range []int{PSSSlotOffset, HalfFrameLen + PSSSlotOffset} {
			for n := range pss {
				assert.InDelta(t, 0, cmplx.Abs(frame[start+n]-pss[n]), 1e-12)
			}
			// The cyclic prefix repeats the symbol tail.
			cpLen := cp.Len(cp.SymbolsPerSlot() - 1)
			for n := 0; n < cpLen; n++ {
				assert.InDelta(t, 0, cmplx.Abs(frame[start-cpLen+n]-pss[FFTSize-cpLen+n]), 1e-12)
			}
		}
	}
}

func TestSynthesizer_FillDataIsSeeded(t *testing.T) {
	a := NewSynthesizer(5, CPNormal, 9)
	a.FillData = true
	b := NewSynthesizer(5, CPNormal, 9)
	b.FillData = true
	assert.Equal(t, a.Frame(), b.Frame())

	silent := NewSynthesizer(5, CPNormal, 9).Frame()
	assert.Zero(t, silent[SlotLen+200])
}

func TestCyclicPrefixGeometry(t *testing.T) {
	assert.Equal(t, 137, CPNormal.SSSDistance())
	assert.Equal(t, 160, CPExtended.SSSDistance())
	assert.Equal(t, "extended", CPExtended.String())

	var cp CyclicPrefix
	assert.NoError(t, cp.UnmarshalText([]byte("extended")))
	assert.Equal(t, CPExtended, cp)
	assert.Error(t, cp.UnmarshalText([]byte("long")))
}

func TestCellIDSplit(t *testing.T) {
	for cell := 0; cell <= MaxCellID; cell++ {
		s, p := SplitCellID(cell)
		assert.Equal(t, cell, CellID(s, p))
		assert.Less(t, s, NumSecondary)
	}
	assert.Panics(t, func() { NewSynthesizer(504, CPNormal, 0) })
}
