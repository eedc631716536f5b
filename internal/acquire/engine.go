package acquire

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/jeongseonghan/lte-cellsync/internal/lte"
	"github.com/jeongseonghan/lte-cellsync/internal/metrics"
	"github.com/jeongseonghan/lte-cellsync/internal/monitoring"
)

// Context is the mutable state of one acquisition attempt.
type Context struct {
	State      State
	FrameCount int // frames in the current state
	LossCount  int // consecutive TRACK misses
	Frames     int // frames consumed since Reset
	Detections int // TRACK detections

	ThresholdDB float64
	Group       int   // confirmed primary group, -1 while unconstrained
	Offset      int64 // stream index of the confirmed PSS useful part

	CPLocked     bool
	CyclicPrefix lte.CyclicPrefix

	// Per-detection samples; frames without a detection are not recorded.
	CFOs      []float64
	Qualities []float64
}

// CFO returns the average offset over TRACK detections.
func (c Context) CFO() float64 {
	if len(c.CFOs) == 0 {
		return 0
	}
	return stat.Mean(c.CFOs, nil)
}

// Quality returns the average peak-to-average ratio in dB over TRACK
// detections.
func (c Context) Quality() float64 {
	if len(c.Qualities) == 0 {
		return 0
	}
	return stat.Mean(c.Qualities, nil)
}

// Engine is the frame-by-frame acquisition state machine. It is not safe
// for concurrent use; independent engines share nothing but the read-only
// sequence tables.
type Engine struct {
	cfg      Config
	resolver lte.Resolver
	metrics  *metrics.Metrics

	ctx     Context
	cfoSeed float64 // FIND estimate, the TRACK correction until averaging takes over

	window  []complex128
	scratch []complex128
	guard   int   // samples at the head of window carried from the last frame
	pos     int64 // stream index of the next frame's first sample

	best      lte.Identity
	bestQ     float64
	bestStart int64 // stream index of subframe 0 for best
	haveBest  bool
}

// NewEngine validates cfg and returns an engine in FIND. m may be nil.
func NewEngine(cfg Config, m *metrics.Metrics) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		resolver: lte.Resolver{Strategy: cfg.Strategy, NoisePower: cfg.NoisePower},
		metrics:  m,
		window:   make([]complex128, 0, GuardLen+cfg.FrameLen),
		scratch:  make([]complex128, 0, GuardLen+cfg.FrameLen),
	}
	e.Reset()
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Reset is the INIT entry hook. It drops buffered samples, zeroes the
// counters, restores the find threshold, clears the group constraint and
// enters FIND. Stream position 0 is the first sample of the next Step.
func (e *Engine) Reset() {
	e.ctx = Context{
		State:       StateInit,
		ThresholdDB: e.cfg.FindThresholdDB,
		Group:       -1,
	}
	e.cfoSeed = 0
	e.window = e.window[:0]
	e.guard = 0
	e.pos = 0
	e.best = lte.Identity{}
	e.bestQ = 0
	e.bestStart = 0
	e.haveBest = false
	e.ctx.State = StateFind
}

// State returns the current state.
func (e *Engine) State() State { return e.ctx.State }

// Context returns a copy of the attempt state.
func (e *Engine) Context() Context {
	c := e.ctx
	c.CFOs = append([]float64(nil), e.ctx.CFOs...)
	c.Qualities = append([]float64(nil), e.ctx.Qualities...)
	return c
}

// Position returns the stream index of the first sample not yet consumed.
func (e *Engine) Position() int64 { return e.pos }

// Step consumes one frame of samples and returns the new state. The frame
// is copied; the caller keeps ownership. Terminal states are sticky until
// Reset.
func (e *Engine) Step(frame []complex128) State {
	if e.ctx.State.Terminal() {
		return e.ctx.State
	}
	e.fill(frame)
	e.ctx.Frames++

	switch e.ctx.State {
	case StateFind:
		e.find()
	case StateTrack:
		e.track()
	}

	e.pos += int64(len(frame))
	e.keepGuard()
	return e.ctx.State
}

// winStart is the stream index of window[0].
func (e *Engine) winStart() int64 {
	return e.pos - int64(e.guard)
}

func (e *Engine) fill(frame []complex128) {
	e.window = append(e.window, frame...)
}

func (e *Engine) keepGuard() {
	n := len(e.window)
	g := GuardLen
	if g > n {
		g = n
	}
	copy(e.window, e.window[n-g:])
	e.window = e.window[:g]
	e.guard = g
}

func (e *Engine) find() {
	h, hit := e.search()
	e.metrics.Detection("find", hit)

	if !hit {
		e.ctx.FrameCount++
		if e.ctx.FrameCount >= e.cfg.MaxFindFrames {
			monitoring.Logf("acquire: no PSS after %d frames, abandoning", e.ctx.FrameCount)
			e.ctx.State = StateAbandoned
		}
		return
	}

	e.ctx.Group = h.r.SequenceIndex
	e.ctx.Offset = e.winStart() + int64(h.r.PeakIndex)
	e.ctx.ThresholdDB = e.cfg.TrackThresholdDB
	e.ctx.LossCount = 0
	e.ctx.FrameCount = 0
	e.cfoSeed = h.cfo
	e.ctx.State = StateTrack
	monitoring.Logf("acquire: PSS group %d at %d, %.1f dB, cfo %.0f Hz, sss %.2f",
		h.r.SequenceIndex, e.ctx.Offset, h.r.QualityDB(), lte.CFOHz(h.cfo), h.score)
}

// hypothesis is the outcome of the FIND search under one trial frequency
// offset.
type hypothesis struct {
	r     lte.CorrelationResult
	cfo   float64 // trial offset plus the residual estimate
	score float64 // best SSS coefficient, -1 when no SSS fits the window
}

// better prefers a trusted SSS match, then the stronger SSS match, then the
// stronger PSS peak. A trial offset a whole subcarrier off still produces a
// strong PSS peak at a shifted lag, but its SSS does not match.
func (h hypothesis) better(o hypothesis, minScore float64) bool {
	ht, ot := h.score >= minScore, o.score >= minScore
	if ht != ot {
		return ht
	}
	if ht && h.score != o.score {
		return h.score > o.score
	}
	return h.r.PeakToAverage > o.r.PeakToAverage
}

// search correlates the window against all primaries under each trial
// offset and returns the best hypothesis above the find threshold.
func (e *Engine) search() (hypothesis, bool) {
	if len(e.window) < lte.FFTSize {
		return hypothesis{}, false
	}
	var best hypothesis
	found := false
	for k := -e.cfg.CFOSearchSteps; k <= e.cfg.CFOSearchSteps; k++ {
		h, ok := e.try(float64(k) * lte.CFOStep)
		if ok && (!found || h.better(best, e.cfg.MinSSSScore)) {
			best, found = h, true
		}
	}
	return best, found
}

func (e *Engine) try(shift float64) (hypothesis, bool) {
	e.scratch = append(e.scratch[:0], e.window...)
	lte.CorrectCFO(e.scratch, shift)
	r := lte.FindPeak(e.scratch, lte.PrimarySet(), e.cfg.Method)
	if r.PeakToAverage <= 0 || r.QualityDB() < e.ctx.ThresholdDB {
		return hypothesis{}, false
	}

	residual := lte.EstimateCFO(e.scratch[r.PeakIndex:], lte.Primary(r.SequenceIndex).Time)
	lte.CorrectCFO(e.scratch, residual)
	h := hypothesis{r: r, cfo: shift + residual, score: -1}
	if pos, ok := e.occurrence(r.PeakIndex); ok {
		if id, ok := e.resolver.Resolve(e.scratch, pos, r.SequenceIndex); ok {
			h.score = id.Score
		}
	}
	return h, true
}

// occurrence returns the window index at which a PSS seen at rel recurs
// with the most room around it for the search radius and the preceding
// SSS.
func (e *Engine) occurrence(rel int) (int, bool) {
	last := len(e.window) - lte.FFTSize
	if last < 0 {
		return 0, false
	}
	rel %= lte.HalfFrameLen
	if rel < 0 {
		rel += lte.HalfFrameLen
	}
	best, bestMargin := 0, -1<<31
	found := false
	for ; rel <= last; rel += lte.HalfFrameLen {
		m := min(rel-lte.CPExtended.SSSDistance(), last-rel)
		if !found || m > bestMargin {
			best, bestMargin, found = rel, m, true
		}
	}
	return best, found
}

// expected returns the window index at which the confirmed PSS recurs.
func (e *Engine) expected() (int, bool) {
	return e.occurrence(int((e.ctx.Offset - e.winStart()) % lte.HalfFrameLen))
}

// correction is the offset removed from a TRACK window before correlating.
func (e *Engine) correction() float64 {
	if e.cfg.CFOMode == CFOPerFrame && len(e.ctx.CFOs) > 0 {
		return e.ctx.CFO()
	}
	return e.cfoSeed
}

func (e *Engine) track() {
	e.ctx.FrameCount++
	hit := e.trackFrame()
	e.metrics.Detection("track", hit)

	if hit {
		e.ctx.LossCount = 0
	} else {
		e.ctx.LossCount++
		if e.ctx.LossCount >= e.cfg.MaxTrackLoss {
			monitoring.Logf("acquire: lost PSS for %d frames, abandoning", e.ctx.LossCount)
			e.ctx.State = StateAbandoned
			return
		}
	}

	if e.ctx.FrameCount >= e.cfg.TrackFramesRequired {
		if !e.haveBest {
			monitoring.Logf("acquire: tracked %d frames without resolving the SSS, abandoning", e.ctx.FrameCount)
			e.ctx.State = StateAbandoned
			return
		}
		e.ctx.State = StateResolved
		c := e.Candidate()
		monitoring.Logf("acquire: resolved cell %d (%s CP), cfo %.0f Hz, %.1f dB",
			c.CellID, c.CyclicPrefix, c.CFOHz, c.Quality)
	}
}

// trackFrame searches around the expected position and records a
// detection.
func (e *Engine) trackFrame() bool {
	rel, ok := e.expected()
	if !ok {
		return false
	}
	last := len(e.window) - lte.FFTSize
	lo := max(0, rel-e.cfg.TrackRadius)
	hi := min(last, rel+e.cfg.TrackRadius)

	applied := e.correction()
	e.scratch = append(e.scratch[:0], e.window...)
	lte.CorrectCFO(e.scratch, applied)
	win := e.scratch

	ref := lte.Primary(e.ctx.Group)
	r := lte.FindPeak(win[lo:hi+lte.FFTSize], []*lte.ReferenceSequence{ref}, e.cfg.Method)
	q := r.QualityDB()
	if r.PeakToAverage <= 0 || q < e.ctx.ThresholdDB {
		return false
	}

	pss := lo + r.PeakIndex
	e.ctx.Offset = e.winStart() + int64(pss)
	cfo := applied + lte.EstimateCFO(win[pss:], ref.Time)
	e.ctx.CFOs = append(e.ctx.CFOs, cfo)
	e.ctx.Qualities = append(e.ctx.Qualities, q)
	e.ctx.Detections++

	var id lte.Identity
	if e.ctx.CPLocked {
		id, ok = e.resolver.ResolveCP(win, pss, e.ctx.Group, e.ctx.CyclicPrefix)
	} else {
		id, ok = e.resolver.Resolve(win, pss, e.ctx.Group)
	}
	if !ok || id.Score < e.cfg.MinSSSScore {
		return true
	}
	if !e.ctx.CPLocked {
		e.ctx.CPLocked = true
		e.ctx.CyclicPrefix = id.CyclicPrefix
	}
	if !e.haveBest || q > e.bestQ {
		e.best = id
		e.bestQ = q
		e.bestStart = e.ctx.Offset - lte.PSSSlotOffset
		if id.Subframe == 5 {
			e.bestStart -= lte.HalfFrameLen
		}
		e.haveBest = true
	}
	return true
}

// Candidate returns the resolved cell. It is only meaningful in RESOLVED;
// during TRACK it is the provisional candidate.
func (e *Engine) Candidate() lte.CellCandidate {
	off := e.bestStart % lte.FrameLen
	if off < 0 {
		off += lte.FrameLen
	}
	cfo := e.ctx.CFO()
	return lte.CellCandidate{
		CellID:         lte.CellID(e.best.SecondaryGroup, e.ctx.Group),
		PrimaryGroup:   e.ctx.Group,
		SecondaryGroup: e.best.SecondaryGroup,
		CyclicPrefix:   e.ctx.CyclicPrefix,
		FrameOffset:    int(off),
		CFO:            cfo,
		CFOHz:          lte.CFOHz(cfo),
		Quality:        e.ctx.Quality(),
		Subframe:       e.best.Subframe,
		Frames:         e.ctx.Frames,
	}
}

// String summarizes the attempt for log lines.
func (c Context) String() string {
	return fmt.Sprintf("%s frames=%d loss=%d detections=%d group=%d",
		c.State, c.FrameCount, c.LossCount, c.Detections, c.Group)
}
