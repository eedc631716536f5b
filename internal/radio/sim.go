package radio

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
	"sync"

	"github.com/jeongseonghan/lte-cellsync/internal/lte"
)

// SimCell is one transmitter seen by the Simulator.
type SimCell struct {
	FrequencyHz float64
	CellID      int
	CP          lte.CyclicPrefix
	// Amplitude is the RMS amplitude of the synchronization symbols.
	Amplitude float64
	// CFO is the carrier offset in cycles per sample when tuned exactly to
	// FrequencyHz.
	CFO float64
	// TimingOffset shifts the cell's frame so that stream sample s carries
	// frame sample (s + TimingOffset) mod lte.FrameLen.
	TimingOffset int
	FillData     bool
}

// FrameOffset returns the stream index, modulo one frame, at which this
// cell's radio frames start.
func (c SimCell) FrameOffset() int {
	return ((lte.FrameLen-c.TimingOffset)%lte.FrameLen + lte.FrameLen) % lte.FrameLen
}

// Simulator is a deterministic Device producing synthesized LTE downlink
// signals plus white Gaussian noise. Stream position 0 is the first sample
// after StartStream.
type Simulator struct {
	Cells      []SimCell
	NoisePower float64
	Seed       int64
	// BandwidthHz is the span over which a cell leaks into an off-center
	// tuning, with a linear roll-off. Zero means 1.4 MHz.
	BandwidthHz float64
	// Blank, when set, silences every cell during the stream half frames
	// for which it returns true. Noise is unaffected.
	Blank func(halfFrame int) bool
	// Fault, when set, is consulted before every device operation ("tune",
	// "rate", "gain", "start", "stop", "receive") and its error returned.
	Fault func(op string) error

	mu        sync.Mutex
	freqHz    float64
	rateHz    float64
	gainDB    float64
	streaming bool
	pos       int64
	rng       *rand.Rand
	frames    map[int][]complex128
	acc       []complex128
}

// NewSimulator returns a simulator tuned to nothing at the cell search rate.
func NewSimulator(cells ...SimCell) *Simulator {
	return &Simulator{Cells: cells, rateHz: lte.SampleRate}
}

func (s *Simulator) fault(op string) error {
	if s.Fault == nil {
		return nil
	}
	if err := s.Fault(op); err != nil {
		return fmt.Errorf("simulator %s: %w", op, err)
	}
	return nil
}

// Tune implements Device.
func (s *Simulator) Tune(freqHz float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("tune"); err != nil {
		return err
	}
	s.freqHz = freqHz
	return nil
}

// SetSampleRate implements Device.
func (s *Simulator) SetSampleRate(hz float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("rate"); err != nil {
		return err
	}
	if hz <= 0 {
		return fmt.Errorf("simulator rate: invalid sample rate %.0f", hz)
	}
	s.rateHz = hz
	return nil
}

// SetGain implements Device. Negative gains select unity gain.
func (s *Simulator) SetGain(db float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("gain"); err != nil {
		return err
	}
	s.gainDB = db
	return nil
}

// StartStream implements Device. It rewinds the stream and reseeds the noise.
func (s *Simulator) StartStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("start"); err != nil {
		return err
	}
	s.streaming = true
	s.pos = 0
	s.rng = rand.New(rand.NewSource(s.Seed))
	return nil
}

// StopStream implements Device.
func (s *Simulator) StopStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("stop"); err != nil {
		return err
	}
	s.streaming = false
	return nil
}

// Frequency returns the tuned center frequency.
func (s *Simulator) Frequency() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freqHz
}

// Position returns the number of samples delivered since StartStream.
func (s *Simulator) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Receive implements Device. Samples are produced on demand, so a
// non-blocking call never finds anything buffered.
func (s *Simulator) Receive(buf []complex64, blocking bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("receive"); err != nil {
		return 0, err
	}
	if !s.streaming {
		return 0, ErrNotStreaming
	}
	if !blocking || len(buf) == 0 {
		return 0, nil
	}

	if cap(s.acc) < len(buf) {
		s.acc = make([]complex128, len(buf))
	}
	acc := s.acc[:len(buf)]
	for i := range acc {
		acc[i] = 0
	}
	for i := range s.Cells {
		s.addCell(acc, i)
	}

	sigma := math.Sqrt(s.NoisePower / 2)
	g := s.linearGain()
	for i, v := range acc {
		if sigma > 0 {
			v += complex(sigma*s.rng.NormFloat64(), sigma*s.rng.NormFloat64())
		}
		buf[i] = complex64(v * complex(g, 0))
	}
	s.pos += int64(len(buf))
	return len(buf), nil
}

func (s *Simulator) addCell(acc []complex128, idx int) {
	c := s.Cells[idx]
	a := c.Amplitude * s.rolloff(c.FrequencyHz)
	if a == 0 {
		return
	}
	frame := s.frame(idx)
	f := c.CFO + (c.FrequencyHz-s.freqHz)/s.rateHz

	// Start phase is taken modulo one cycle to keep precision on long streams.
	_, frac := math.Modf(f * float64(s.pos))
	rot := cmplx.Rect(a, 2*math.Pi*frac)
	step := cmplx.Rect(1, 2*math.Pi*f)

	for i := range acc {
		p := s.pos + int64(i)
		if s.Blank == nil || !s.Blank(int(p/lte.HalfFrameLen)) {
			k := (p + int64(c.TimingOffset)) % lte.FrameLen
			if k < 0 {
				k += lte.FrameLen
			}
			acc[i] += frame[k] * rot
		}
		rot *= step
		if i&1023 == 1023 {
			rot *= complex(a/cmplx.Abs(rot), 0)
		}
	}
}

// rolloff is the linear leakage of a cell at freqHz into the tuned channel.
func (s *Simulator) rolloff(freqHz float64) float64 {
	bw := s.BandwidthHz
	if bw <= 0 {
		bw = 1.4e6
	}
	r := 1 - math.Abs(freqHz-s.freqHz)/bw
	if r < 0 {
		return 0
	}
	return r
}

func (s *Simulator) linearGain() float64 {
	if s.gainDB <= 0 {
		return 1
	}
	return math.Pow(10, s.gainDB/20)
}

// frame returns the cached radio frame of cell idx, scaled so that a
// synchronization symbol has unit RMS amplitude.
func (s *Simulator) frame(idx int) []complex128 {
	if f, ok := s.frames[idx]; ok {
		return f
	}
	if s.frames == nil {
		s.frames = make(map[int][]complex128)
	}
	c := s.Cells[idx]
	synth := lte.NewSynthesizer(c.CellID, c.CP, s.Seed+int64(idx))
	synth.FillData = c.FillData
	f := synth.Frame()
	scale := complex(lte.FFTSize/math.Sqrt(lte.SyncLen), 0)
	for i := range f {
		f[i] *= scale
	}
	s.frames[idx] = f
	return f
}
