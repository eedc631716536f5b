package acquire

import (
	"errors"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeongseonghan/lte-cellsync/internal/lte"
	"github.com/jeongseonghan/lte-cellsync/internal/monitoring"
	"github.com/jeongseonghan/lte-cellsync/internal/radio"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

const testFreq = 796e6

// frames returns a source of consecutive frameLen-sample blocks from a
// simulator tuned to testFreq.
func frames(t *testing.T, sim *radio.Simulator, frameLen int) func() []complex128 {
	t.Helper()
	require.NoError(t, sim.Tune(testFreq))
	require.NoError(t, sim.StartStream())
	buf := make([]complex64, frameLen)
	return func() []complex128 {
		require.NoError(t, radio.ReadFull(sim, buf))
		out := make([]complex128, frameLen)
		for i, v := range buf {
			out[i] = complex128(v)
		}
		return out
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxFindFrames = 10
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, nil)
	require.NoError(t, err)
	return e
}

// run steps until a terminal state or limit frames and returns the states
// visited after each step.
func run(e *Engine, next func() []complex128, limit int) []State {
	var states []State
	for i := 0; i < limit && !e.State().Terminal(); i++ {
		states = append(states, e.Step(next()))
	}
	return states
}

func TestEngine_NoiseAbandonsInMaxFindFrames(t *testing.T) {
	cfg := testConfig()
	sim := radio.NewSimulator()
	sim.NoisePower = 1
	sim.Seed = 3
	e := newTestEngine(t, cfg)

	states := run(e, frames(t, sim, cfg.FrameLen), 1000)
	require.Len(t, states, cfg.MaxFindFrames)
	for _, s := range states[:len(states)-1] {
		assert.Equal(t, StateFind, s)
	}
	assert.Equal(t, StateAbandoned, states[len(states)-1])
	assert.Zero(t, e.Context().Detections)
}

func TestEngine_ZeroInputAbandons(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFindFrames = 3
	e := newTestEngine(t, cfg)

	zero := make([]complex128, cfg.FrameLen)
	states := run(e, func() []complex128 { return zero }, 100)
	assert.Equal(t, []State{StateFind, StateFind, StateAbandoned}, states)
}

func TestEngine_ResolvesCleanGroup1(t *testing.T) {
	cfg := testConfig()
	cell := radio.SimCell{FrequencyHz: testFreq, CellID: lte.CellID(57, 1), Amplitude: 1, TimingOffset: 3000}
	e := newTestEngine(t, cfg)

	states := run(e, frames(t, radio.NewSimulator(cell), cfg.FrameLen), 100)
	require.Equal(t, StateResolved, e.State())
	assert.Equal(t, StateTrack, states[0])
	assert.Len(t, states, 1+cfg.TrackFramesRequired)

	c := e.Candidate()
	assert.Equal(t, 1, c.PrimaryGroup)
	assert.Equal(t, 57, c.SecondaryGroup)
	assert.Equal(t, cell.CellID, c.CellID)
	assert.Equal(t, lte.CPNormal, c.CyclicPrefix)
	assert.Equal(t, cell.FrameOffset(), c.FrameOffset)
	assert.Greater(t, c.Quality, cfg.TrackThresholdDB)
	assert.InDelta(t, 0, c.CFO, 1e-5)
	assert.Equal(t, len(states), c.Frames)

	ctx := e.Context()
	assert.Equal(t, cfg.TrackFramesRequired, ctx.Detections)
	assert.Len(t, ctx.CFOs, ctx.Detections)
	assert.Equal(t, cfg.TrackThresholdDB, ctx.ThresholdDB)
}

func TestEngine_ExtendedPrefix(t *testing.T) {
	cfg := testConfig()
	cell := radio.SimCell{FrequencyHz: testFreq, CellID: 425, CP: lte.CPExtended, Amplitude: 1, TimingOffset: 12345}
	sim := radio.NewSimulator(cell)
	sim.NoisePower = 0.01
	e := newTestEngine(t, cfg)

	run(e, frames(t, sim, cfg.FrameLen), 100)
	require.Equal(t, StateResolved, e.State())
	c := e.Candidate()
	assert.Equal(t, 425, c.CellID)
	assert.Equal(t, lte.CPExtended, c.CyclicPrefix)
	assert.Equal(t, cell.FrameOffset(), c.FrameOffset)
}

func TestEngine_CFORecovery(t *testing.T) {
	for _, mode := range []CFOMode{CFOPerFrame, CFOOnResolve} {
		t.Run(mode.String(), func(t *testing.T) {
			cfg := testConfig()
			cfg.CFOMode = mode
			cell := radio.SimCell{FrequencyHz: testFreq, CellID: 100, Amplitude: 1, CFO: 0.002, TimingOffset: 700}
			sim := radio.NewSimulator(cell)
			sim.NoisePower = 0.01
			e := newTestEngine(t, cfg)

			run(e, frames(t, sim, cfg.FrameLen), 100)
			require.Equal(t, StateResolved, e.State())
			c := e.Candidate()
			assert.InDelta(t, 0.002, c.CFO, 1e-4)
			assert.InDelta(t, 0.002*lte.SampleRate, c.CFOHz, 200)
			assert.Equal(t, 100, c.CellID)
		})
	}
}

func TestEngine_CFONearASubcarrier(t *testing.T) {
	// Offsets near a whole subcarrier give a strong PSS peak at a slipped
	// lag; only the SSS tells the two hypotheses apart.
	for _, tc := range []struct {
		mode CFOMode
		cfo  float64
	}{
		{CFOPerFrame, -0.005},
		{CFOOnResolve, 0.003},
	} {
		t.Run(tc.mode.String(), func(t *testing.T) {
			cfg := testConfig()
			cfg.CFOMode = tc.mode
			cell := radio.SimCell{FrequencyHz: testFreq, CellID: 100, Amplitude: 1, CFO: tc.cfo, TimingOffset: 700}
			sim := radio.NewSimulator(cell)
			sim.NoisePower = 0.01
			e := newTestEngine(t, cfg)

			run(e, frames(t, sim, cfg.FrameLen), 100)
			require.Equal(t, StateResolved, e.State())
			c := e.Candidate()
			assert.Equal(t, 100, c.CellID)
			assert.Equal(t, cell.FrameOffset(), c.FrameOffset)
			assert.InDelta(t, tc.cfo, c.CFO, 2e-4)
		})
	}
}

func TestEngine_TracksAtMarginalSNR(t *testing.T) {
	// TRACK sees a few hundred lags, FIND a whole window; both must rate
	// the same PSS alike.
	cfg := testConfig()
	cell := radio.SimCell{FrequencyHz: testFreq, CellID: 211, Amplitude: 1, TimingOffset: 5000}
	sim := radio.NewSimulator(cell)
	sim.NoisePower = 1.4
	sim.Seed = 11
	e := newTestEngine(t, cfg)
	next := frames(t, sim, cfg.FrameLen)

	for i := 0; i < cfg.MaxFindFrames && e.State() == StateFind; i++ {
		e.Step(next())
	}
	require.Equal(t, StateTrack, e.State())

	for i := 0; i < cfg.TrackFramesRequired && e.State() == StateTrack; i++ {
		e.Step(next())
	}
	ctx := e.Context()
	assert.Greater(t, ctx.Detections, cfg.TrackFramesRequired/2)
	for _, q := range ctx.Qualities {
		assert.GreaterOrEqual(t, q, cfg.TrackThresholdDB)
	}
	if e.State() == StateResolved {
		assert.Equal(t, 211, e.Candidate().CellID)
	}
}

func TestEngine_LossRecovery(t *testing.T) {
	cfg := testConfig()
	cell := radio.SimCell{FrequencyHz: testFreq, CellID: 7, Amplitude: 1, TimingOffset: 3000}

	t.Run("one short of the limit", func(t *testing.T) {
		sim := radio.NewSimulator(cell)
		// frames 2..2+MaxTrackLoss-2 carry no signal
		sim.Blank = func(h int) bool { return h >= 2 && h < 2+cfg.MaxTrackLoss-1 }
		e := newTestEngine(t, cfg)
		next := frames(t, sim, cfg.FrameLen)

		assert.Equal(t, StateTrack, e.Step(next()))
		assert.Equal(t, StateTrack, e.Step(next()))
		for i := 1; i < cfg.MaxTrackLoss; i++ {
			require.Equal(t, StateTrack, e.Step(next()))
			assert.Equal(t, i, e.Context().LossCount)
		}
		assert.Equal(t, StateTrack, e.Step(next()))
		assert.Equal(t, 0, e.Context().LossCount)

		run(e, next, 100)
		assert.Equal(t, StateResolved, e.State())
		assert.Equal(t, cfg.TrackFramesRequired-(cfg.MaxTrackLoss-1), e.Context().Detections)
	})

	t.Run("at the limit", func(t *testing.T) {
		sim := radio.NewSimulator(cell)
		sim.Blank = func(h int) bool { return h >= 2 }
		e := newTestEngine(t, cfg)
		next := frames(t, sim, cfg.FrameLen)

		e.Step(next())
		e.Step(next())
		for i := 1; i < cfg.MaxTrackLoss; i++ {
			require.Equal(t, StateTrack, e.Step(next()))
		}
		assert.Equal(t, StateAbandoned, e.Step(next()))
		assert.Equal(t, cfg.MaxTrackLoss, e.Context().LossCount)
	})
}

func TestEngine_WholeFrameSteps(t *testing.T) {
	cfg := testConfig()
	cfg.FrameLen = lte.FrameLen
	cfg.TrackFramesRequired = 8
	cell := radio.SimCell{FrequencyHz: testFreq, CellID: 301, Amplitude: 1, TimingOffset: 19000}
	sim := radio.NewSimulator(cell)
	sim.NoisePower = 0.01
	e := newTestEngine(t, cfg)

	run(e, frames(t, sim, cfg.FrameLen), 100)
	require.Equal(t, StateResolved, e.State())
	c := e.Candidate()
	assert.Equal(t, 301, c.CellID)
	assert.Equal(t, cell.FrameOffset(), c.FrameOffset)
}

func TestEngine_TerminalIsSticky(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFindFrames = 1
	e := newTestEngine(t, cfg)
	zero := make([]complex128, cfg.FrameLen)

	assert.Equal(t, StateAbandoned, e.Step(zero))
	assert.Equal(t, StateAbandoned, e.Step(zero))
	assert.Equal(t, 1, e.Context().Frames)

	e.Reset()
	assert.Equal(t, StateFind, e.State())
	assert.Equal(t, -1, e.Context().Group)
	assert.Equal(t, cfg.FindThresholdDB, e.Context().ThresholdDB)
	assert.Zero(t, e.Position())
}

func TestEngine_ContextIsACopy(t *testing.T) {
	cfg := testConfig()
	cell := radio.SimCell{FrequencyHz: testFreq, CellID: 5, Amplitude: 1}
	e := newTestEngine(t, cfg)
	next := frames(t, radio.NewSimulator(cell), cfg.FrameLen)
	e.Step(next())
	e.Step(next())

	ctx := e.Context()
	require.NotEmpty(t, ctx.CFOs)
	ctx.CFOs[0] = 42
	assert.NotEqual(t, 42.0, e.Context().CFOs[0])
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	for name, mutate := range map[string]func(*Config){
		"zero frame length":  func(c *Config) { c.FrameLen = 0 },
		"short frame length": func(c *Config) { c.FrameLen = 1000 },
		"zero max find":      func(c *Config) { c.MaxFindFrames = 0 },
		"negative track":     func(c *Config) { c.TrackFramesRequired = -1 },
		"zero loss":          func(c *Config) { c.MaxTrackLoss = 0 },
		"radius":             func(c *Config) { c.TrackRadius = GuardLen + 1 },
		"nan threshold":      func(c *Config) { c.FindThresholdDB = math.NaN() },
		"noise":              func(c *Config) { c.NoisePower = -1 },
		"cfo mode":           func(c *Config) { c.CFOMode = 7 },
		"sss score":          func(c *Config) { c.MinSSSScore = 1.5 },
		"nan sss score":      func(c *Config) { c.MinSSSScore = math.NaN() },
		"search steps":       func(c *Config) { c.CFOSearchSteps = MaxCFOSearchSteps + 1 },
		"negative steps":     func(c *Config) { c.CFOSearchSteps = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			err := cfg.Validate()
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)

			_, err = NewEngine(cfg, nil)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestParseCFOMode(t *testing.T) {
	m, ok := ParseCFOMode("on_resolve")
	assert.True(t, ok)
	assert.Equal(t, CFOOnResolve, m)
	_, ok = ParseCFOMode("sometimes")
	assert.False(t, ok)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "TRACK", StateTrack.String())
	assert.Equal(t, "State(9)", State(9).String())
	assert.True(t, StateResolved.Terminal())
	assert.False(t, StateFind.Terminal())
}
