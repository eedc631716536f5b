package radio

import (
	"errors"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeongseonghan/lte-cellsync/internal/lte"
)

func toComplex128(buf []complex64) []complex128 {
	out := make([]complex128, len(buf))
	for i, v := range buf {
		out[i] = complex128(v)
	}
	return out
}

func TestSimulatorDeterministic(t *testing.T) {
	cell := SimCell{FrequencyHz: 806e6, CellID: 77, Amplitude: 1, FillData: true}
	read := func() []complex64 {
		sim := NewSimulator(cell)
		sim.NoisePower = 0.1
		sim.Seed = 9
		require.NoError(t, sim.Tune(806e6))
		require.NoError(t, sim.StartStream())
		buf := make([]complex64, 4000)
		require.NoError(t, ReadFull(sim, buf))
		return buf
	}
	assert.Equal(t, read(), read())
}

func TestSimulatorPSSPlacement(t *testing.T) {
	cell := SimCell{FrequencyHz: 1e9, CellID: 3*40 + 2, Amplitude: 1, TimingOffset: 5000}
	sim := NewSimulator(cell)
	require.NoError(t, sim.Tune(1e9))
	require.NoError(t, sim.StartStream())

	buf := make([]complex64, lte.FrameLen)
	require.NoError(t, ReadFull(sim, buf))
	assert.Equal(t, int64(lte.FrameLen), sim.Position())

	r := lte.FindPeak(toComplex128(buf), lte.PrimarySet(), lte.MethodFreq)
	assert.Equal(t, 2, r.SequenceIndex)
	// Frame start at stream index 14200, so the PSS of subframe 5 is at
	// 14200+832-9600 within the first frame.
	want := (cell.FrameOffset() + lte.PSSSlotOffset) % lte.HalfFrameLen
	assert.Equal(t, 14200, cell.FrameOffset())
	assert.Equal(t, want, r.PeakIndex%lte.HalfFrameLen)
}

func TestSimulatorOffCenter(t *testing.T) {
	cell := SimCell{FrequencyHz: 1e9, CellID: 1, Amplitude: 1, FillData: true}
	sim := NewSimulator(cell)
	sim.BandwidthHz = 1e6

	power := func(freq float64) float64 {
		require.NoError(t, sim.Tune(freq))
		require.NoError(t, sim.StartStream())
		buf := make([]complex64, lte.FrameLen)
		require.NoError(t, ReadFull(sim, buf))
		require.NoError(t, sim.StopStream())
		return MeanPower(buf)
	}
	center := power(1e9)
	near := power(1e9 + 200e3)
	assert.Greater(t, center, near)
	assert.InDelta(t, 0.64, near/center, 1e-4)
	assert.Equal(t, 0.0, power(1e9+2e6))
}

func TestSimulatorCFO(t *testing.T) {
	const cfo = 0.002
	cell := SimCell{FrequencyHz: 1e9, CellID: 0, Amplitude: 1, CFO: cfo}
	sim := NewSimulator(cell)
	require.NoError(t, sim.Tune(1e9))
	require.NoError(t, sim.StartStream())

	buf := make([]complex64, lte.FrameLen)
	require.NoError(t, ReadFull(sim, buf))
	x := toComplex128(buf)
	pos := lte.PSSSlotOffset
	got := lte.EstimateCFO(x[pos:pos+lte.FFTSize], lte.Primary(0).Time)
	assert.InDelta(t, cfo, got, 1e-4)
}

func TestSimulatorBlank(t *testing.T) {
	sim := NewSimulator(SimCell{FrequencyHz: 1e9, CellID: 0, Amplitude: 1, FillData: true})
	sim.Blank = func(half int) bool { return half == 1 }
	require.NoError(t, sim.Tune(1e9))
	require.NoError(t, sim.StartStream())

	buf := make([]complex64, lte.FrameLen)
	require.NoError(t, ReadFull(sim, buf))
	assert.Greater(t, MeanPower(buf[:lte.HalfFrameLen]), 0.5)
	assert.Equal(t, 0.0, MeanPower(buf[lte.HalfFrameLen:]))
}

func TestSimulatorStreamState(t *testing.T) {
	sim := NewSimulator()
	buf := make([]complex64, 16)
	_, err := sim.Receive(buf, true)
	assert.ErrorIs(t, err, ErrNotStreaming)

	require.NoError(t, sim.StartStream())
	n, err := sim.Receive(buf, false)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = sim.Receive(buf, true)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	for _, v := range buf {
		assert.Equal(t, 0.0, cmplx.Abs(complex128(v)))
	}
}

func TestSimulatorFault(t *testing.T) {
	boom := errors.New("usb disconnected")
	sim := NewSimulator()
	sim.Fault = func(op string) error {
		if op == "receive" {
			return boom
		}
		return nil
	}
	require.NoError(t, sim.StartStream())
	_, err := sim.Receive(make([]complex64, 4), true)
	assert.ErrorIs(t, err, boom)
}
