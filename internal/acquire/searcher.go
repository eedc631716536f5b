package acquire

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jeongseonghan/lte-cellsync/internal/lte"
	"github.com/jeongseonghan/lte-cellsync/internal/metrics"
	"github.com/jeongseonghan/lte-cellsync/internal/monitoring"
	"github.com/jeongseonghan/lte-cellsync/internal/radio"
)

// Handler receives the outcome of every acquisition attempt. Exactly one
// method is called per terminal transition.
type Handler interface {
	OnCellResolved(c lte.CellCandidate)
	OnCandidateAbandoned(freqHz float64)
}

// FrameSink receives the first complete radio frame after a cell resolves,
// starting at subframe 0 and corrected by the estimated CFO.
type FrameSink interface {
	OnAlignedFrame(c lte.CellCandidate, frame []complex128)
}

// Handlers fans one outcome out to several handlers in order.
type Handlers []Handler

// OnCellResolved forwards c to every handler.
func (hs Handlers) OnCellResolved(c lte.CellCandidate) {
	for _, h := range hs {
		h.OnCellResolved(c)
	}
}

// OnCandidateAbandoned forwards freqHz to every handler.
func (hs Handlers) OnCandidateAbandoned(freqHz float64) {
	for _, h := range hs {
		h.OnCandidateAbandoned(freqHz)
	}
}

// Result describes one finished attempt.
type Result struct {
	ID          string
	FrequencyHz float64
	State       State
	Frames      int
	Candidate   *lte.CellCandidate // set when State is RESOLVED
}

// Searcher drives an Engine from a radio Device, one frequency at a time.
type Searcher struct {
	Device  radio.Device
	Handler Handler   // optional
	Sink    FrameSink // optional
	GainDB  float64   // negative selects automatic gain
	// FlushReads bounds the non-blocking reads used to drop stale samples
	// after retuning.
	FlushReads int

	engine  *Engine
	metrics *metrics.Metrics
	buf     []complex64
	frame   []complex128
}

// NewSearcher validates cfg and binds an engine to dev. m may be nil.
func NewSearcher(dev radio.Device, cfg Config, m *metrics.Metrics) (*Searcher, error) {
	e, err := NewEngine(cfg, m)
	if err != nil {
		return nil, err
	}
	return &Searcher{
		Device:     dev,
		FlushReads: 64,
		engine:     e,
		metrics:    m,
		buf:        make([]complex64, cfg.FrameLen),
		frame:      make([]complex128, cfg.FrameLen),
	}, nil
}

// Engine exposes the underlying state machine.
func (s *Searcher) Engine() *Engine { return s.engine }

// enterInit retunes the radio, starts the stream and drops stale samples.
// On a flush error the stream is stopped again.
func (s *Searcher) enterInit(freqHz float64) error {
	if err := s.Device.Tune(freqHz); err != nil {
		return fmt.Errorf("tune %.0f Hz: %w", freqHz, err)
	}
	if err := s.Device.SetSampleRate(lte.SampleRate); err != nil {
		return fmt.Errorf("set sample rate: %w", err)
	}
	if err := s.Device.SetGain(s.GainDB); err != nil {
		return fmt.Errorf("set gain: %w", err)
	}
	if err := s.Device.StartStream(); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	if n, err := radio.Flush(s.Device, s.buf, s.FlushReads); err != nil {
		s.stopStream()
		return err
	} else if n > 0 {
		monitoring.Logf("acquire: flushed %d stale samples", n)
	}
	return nil
}

// stopStream stops the device stream. A failure only affects the next
// attempt, which restarts the stream, so it is logged rather than returned.
func (s *Searcher) stopStream() {
	if err := s.Device.StopStream(); err != nil {
		monitoring.Logf("acquire: stop stream: %v", err)
	}
}

// Acquire runs one attempt on freqHz until the engine resolves a cell or
// gives up. Radio failures abort the attempt, are reported to the handler
// as abandoned and returned. Cancellation of ctx is honoured between frames
// and is not reported to the handler.
func (s *Searcher) Acquire(ctx context.Context, freqHz float64) (Result, error) {
	res := Result{
		ID:          uuid.New().String(),
		FrequencyHz: freqHz,
		State:       StateAbandoned,
	}
	monitoring.Logf("acquire[%s]: start %.1f MHz", res.ID, freqHz/1e6)

	s.engine.Reset()
	if err := s.enterInit(freqHz); err != nil {
		s.fail(&res, err)
		return res, err
	}
	defer s.stopStream()

	for !s.engine.State().Terminal() {
		if err := ctx.Err(); err != nil {
			res.State = s.engine.State()
			res.Frames = s.engine.Context().Frames
			s.metrics.AttemptFinished(metrics.OutcomeError, res.Frames)
			return res, err
		}
		if err := s.readFrame(s.frame); err != nil {
			err = fmt.Errorf("receive: %w", err)
			s.fail(&res, err)
			return res, err
		}
		s.engine.Step(s.frame)
	}

	res.State = s.engine.State()
	res.Frames = s.engine.Context().Frames
	if res.State == StateAbandoned {
		monitoring.Logf("acquire[%s]: abandoned after %d frames", res.ID, res.Frames)
		s.metrics.AttemptFinished(metrics.OutcomeAbandoned, res.Frames)
		if s.Handler != nil {
			s.Handler.OnCandidateAbandoned(freqHz)
		}
		return res, nil
	}

	c := s.engine.Candidate()
	c.FrequencyHz = freqHz
	res.Candidate = &c
	monitoring.Logf("acquire[%s]: cell %d at %.1f MHz, frame offset %d", res.ID, c.CellID, freqHz/1e6, c.FrameOffset)
	s.metrics.AttemptFinished(metrics.OutcomeResolved, res.Frames)
	s.metrics.CellResolved(c)
	if s.Handler != nil {
		s.Handler.OnCellResolved(c)
	}
	if s.Sink != nil {
		frame, err := s.alignedFrame(c)
		if err != nil {
			return res, fmt.Errorf("aligned frame: %w", err)
		}
		s.Sink.OnAlignedFrame(c, frame)
	}
	return res, nil
}

func (s *Searcher) fail(res *Result, err error) {
	res.State = StateAbandoned
	res.Frames = s.engine.Context().Frames
	monitoring.Logf("acquire[%s]: %v", res.ID, err)
	s.metrics.AttemptFinished(metrics.OutcomeError, res.Frames)
	if s.Handler != nil {
		s.Handler.OnCandidateAbandoned(res.FrequencyHz)
	}
}

// Run attempts every frequency in order and stops at the first error.
func (s *Searcher) Run(ctx context.Context, freqs []float64) ([]Result, error) {
	results := make([]Result, 0, len(freqs))
	for _, f := range freqs {
		res, err := s.Acquire(ctx, f)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (s *Searcher) readFrame(dst []complex128) error {
	buf := s.buf[:len(dst)]
	if err := radio.ReadFull(s.Device, buf); err != nil {
		return err
	}
	for i, v := range buf {
		dst[i] = complex128(v)
	}
	return nil
}

// alignedFrame skips to the next subframe 0 boundary in stream coordinates
// and returns one CFO-corrected radio frame.
func (s *Searcher) alignedFrame(c lte.CellCandidate) ([]complex128, error) {
	skip := (int64(c.FrameOffset) - s.engine.Position()) % lte.FrameLen
	if skip < 0 {
		skip += lte.FrameLen
	}
	for skip > 0 {
		n := min(skip, int64(len(s.buf)))
		if err := radio.ReadFull(s.Device, s.buf[:n]); err != nil {
			return nil, err
		}
		skip -= n
	}
	frame := make([]complex128, lte.FrameLen)
	for off := 0; off < len(frame); off += len(s.buf) {
		end := min(off+len(s.buf), len(frame))
		if err := s.readFrame(frame[off:end]); err != nil {
			return nil, err
		}
	}
	lte.CorrectCFO(frame, c.CFO)
	return frame, nil
}
