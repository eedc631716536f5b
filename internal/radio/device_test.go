package radio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkDevice hands out a fixed value in chunks of at most chunk samples and
// reports buffered samples to non-blocking reads.
type chunkDevice struct {
	chunk     int
	buffered  int
	value     complex64
	tuned     float64
	rate      float64
	started   int
	stopped   int
	receives  int
	tuneErr   error
	streaming bool
}

func (d *chunkDevice) Receive(buf []complex64, blocking bool) (int, error) {
	d.receives++
	if !d.streaming {
		return 0, ErrNotStreaming
	}
	n := len(buf)
	if n > d.chunk {
		n = d.chunk
	}
	if !blocking {
		if d.buffered == 0 {
			return 0, nil
		}
		if n > d.buffered {
			n = d.buffered
		}
		d.buffered -= n
	}
	for i := 0; i < n; i++ {
		buf[i] = d.value
	}
	return n, nil
}

func (d *chunkDevice) Tune(f float64) error           { d.tuned = f; return d.tuneErr }
func (d *chunkDevice) SetSampleRate(hz float64) error { d.rate = hz; return nil }
func (d *chunkDevice) SetGain(float64) error          { return nil }
func (d *chunkDevice) StartStream() error             { d.started++; d.streaming = true; return nil }
func (d *chunkDevice) StopStream() error              { d.stopped++; d.streaming = false; return nil }

func TestReadFullChunks(t *testing.T) {
	d := &chunkDevice{chunk: 7, value: 1, streaming: true}
	buf := make([]complex64, 50)
	require.NoError(t, ReadFull(d, buf))
	assert.Equal(t, 8, d.receives)
	assert.Equal(t, complex64(1), buf[49])

	d.chunk = 0
	assert.ErrorIs(t, ReadFull(d, buf), ErrNoProgress)
}

func TestFlush(t *testing.T) {
	d := &chunkDevice{chunk: 10, buffered: 25, streaming: true}
	n, err := Flush(d, make([]complex64, 16), 100)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	d.buffered = 1000
	n, err = Flush(d, make([]complex64, 16), 3)
	require.NoError(t, err)
	assert.Equal(t, 30, n)

	d.streaming = false
	_, err = Flush(d, make([]complex64, 16), 3)
	assert.ErrorIs(t, err, ErrNotStreaming)
}

func TestDeviceMeter(t *testing.T) {
	d := &chunkDevice{chunk: 64, value: complex(0.3, 0.4)}
	m := DeviceMeter{Device: d, Settle: 100}

	e, err := m.MeasureEnergy(751e6, 1.92e6, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, e, 1e-6)
	assert.Equal(t, 751e6, d.tuned)
	assert.Equal(t, 1.92e6, d.rate)
	assert.Equal(t, 1, d.started)
	assert.Equal(t, 1, d.stopped)

	_, err = m.MeasureEnergy(751e6, 1.92e6, 0)
	assert.Error(t, err)

	d.tuneErr = errors.New("pll not locked")
	_, err = m.MeasureEnergy(751e6, 1.92e6, 10)
	assert.ErrorIs(t, err, d.tuneErr)
}

func TestMeanPower(t *testing.T) {
	assert.Equal(t, 0.0, MeanPower(nil))
	// (|1|^2 + |1+2i|^2) / 2
	assert.InDelta(t, 3.0, MeanPower([]complex64{1, complex(1, 2)}), 1e-9)
	assert.InDelta(t, 25.0, MeanPower([]complex64{complex(3, 4)}), 1e-9)
}

func TestDeviceMeterOverSimulator(t *testing.T) {
	sim := NewSimulator()
	sim.NoisePower = 0.5
	var meter EnergyMeter = DeviceMeter{Device: sim}
	e, err := meter.MeasureEnergy(1e9, 1.92e6, 100000)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, e, 0.02)
}
