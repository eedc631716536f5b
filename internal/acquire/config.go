package acquire

import (
	"errors"
	"fmt"
	"math"

	"github.com/jeongseonghan/lte-cellsync/internal/lte"
)

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid acquisition config")

// GuardLen is the number of samples carried from one frame into the next
// window, enough for an extended-prefix SSS ahead of a PSS at the window
// start plus one symbol.
const GuardLen = 320

// CFOMode selects how the carrier offset estimate is refined while
// tracking. Detection and identity always run on a corrected copy of the
// window; the caller's samples are never modified.
type CFOMode int

const (
	// CFOPerFrame re-centres the correction of every TRACK window on the
	// running average and accumulates the residual.
	CFOPerFrame CFOMode = iota
	// CFOOnResolve keeps the FIND estimate as the correction for the whole
	// of TRACK. The averaged estimate is only applied once, to the frame
	// handed off at RESOLVED.
	CFOOnResolve
)

// String returns the mode name used in configuration files.
func (m CFOMode) String() string {
	if m == CFOOnResolve {
		return "on_resolve"
	}
	return "per_frame"
}

// ParseCFOMode parses "per_frame" or "on_resolve".
func ParseCFOMode(s string) (CFOMode, bool) {
	switch s {
	case "", "per_frame":
		return CFOPerFrame, true
	case "on_resolve":
		return CFOOnResolve, true
	}
	return CFOPerFrame, false
}

// Config holds the tunables of one acquisition engine. Timeouts are counted
// in frames.
type Config struct {
	FindThresholdDB     float64
	TrackThresholdDB    float64
	MaxFindFrames       int
	TrackFramesRequired int
	MaxTrackLoss        int

	FrameLen    int // samples per Step
	TrackRadius int // TRACK search half-width in samples

	CFOMode CFOMode
	// CFOSearchSteps is the number of half-subcarrier frequency hypotheses
	// tried on each side of zero in FIND. 2 covers offsets up to about
	// 18.75 kHz.
	CFOSearchSteps int

	Method     lte.Method
	Strategy   lte.Strategy
	NoisePower float64 // > 0 selects MMSE equalization for the SSS
	// MinSSSScore is the SSS correlation coefficient a detection needs
	// before its identity is trusted. Weaker matches neither lock the
	// cyclic prefix nor become the candidate.
	MinSSSScore float64
}

// MaxCFOSearchSteps bounds CFOSearchSteps.
const MaxCFOSearchSteps = 4

// DefaultConfig returns thresholds chosen so that noise alone stays well
// below the find threshold over a full search.
func DefaultConfig() Config {
	return Config{
		FindThresholdDB:     14,
		TrackThresholdDB:    16,
		MaxFindFrames:       100,
		TrackFramesRequired: 20,
		MaxTrackLoss:        5,
		FrameLen:            lte.HalfFrameLen,
		TrackRadius:         128,
		CFOSearchSteps:      2,
		MinSSSScore:         0.25,
	}
}

// Validate rejects unusable settings. Nothing is clamped.
func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"find threshold":  c.FindThresholdDB,
		"track threshold": c.TrackThresholdDB,
		"noise power":     c.NoisePower,
		"min sss score":   c.MinSSSScore,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be finite", ErrInvalidConfig, name)
		}
	}
	if c.NoisePower < 0 {
		return fmt.Errorf("%w: noise power %g is negative", ErrInvalidConfig, c.NoisePower)
	}
	if c.MinSSSScore < 0 || c.MinSSSScore > 1 {
		return fmt.Errorf("%w: min sss score %g outside [0, 1]", ErrInvalidConfig, c.MinSSSScore)
	}
	if c.CFOSearchSteps < 0 || c.CFOSearchSteps > MaxCFOSearchSteps {
		return fmt.Errorf("%w: cfo search steps %d outside [0, %d]", ErrInvalidConfig, c.CFOSearchSteps, MaxCFOSearchSteps)
	}
	if c.MaxFindFrames <= 0 {
		return fmt.Errorf("%w: max find frames must be positive", ErrInvalidConfig)
	}
	if c.TrackFramesRequired <= 0 {
		return fmt.Errorf("%w: track frames required must be positive", ErrInvalidConfig)
	}
	if c.MaxTrackLoss <= 0 {
		return fmt.Errorf("%w: max track loss must be positive", ErrInvalidConfig)
	}
	if c.FrameLen < lte.HalfFrameLen {
		return fmt.Errorf("%w: frame length %d shorter than a half frame (%d)",
			ErrInvalidConfig, c.FrameLen, lte.HalfFrameLen)
	}
	if c.TrackRadius <= 0 || c.TrackRadius > GuardLen {
		return fmt.Errorf("%w: track radius %d outside (0, %d]", ErrInvalidConfig, c.TrackRadius, GuardLen)
	}
	if c.CFOMode != CFOPerFrame && c.CFOMode != CFOOnResolve {
		return fmt.Errorf("%w: unknown cfo mode %d", ErrInvalidConfig, c.CFOMode)
	}
	if c.Method < lte.MethodAuto || c.Method > lte.MethodFreq {
		return fmt.Errorf("%w: unknown correlation method %d", ErrInvalidConfig, c.Method)
	}
	if c.Strategy != lte.StrategyFull && c.Strategy != lte.StrategyDifferential {
		return fmt.Errorf("%w: unknown identity strategy %d", ErrInvalidConfig, c.Strategy)
	}
	return nil
}
