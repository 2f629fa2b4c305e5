package synthetic

import "math"

// PatternName selects a price regime for a preset.
type PatternName string

const (
	PatternSqueezeBreakout PatternName = "squeeze-breakout"
	PatternMeanRevert      PatternName = "mean-revert"
	PatternMomentumBurst   PatternName = "momentum-burst"
)

// patternFunc maps a bucket index to a regime-specific price offset (in units
// of the preset's noise amplitude) and a volatility multiplier. Pure function
// of the bucket, no shared state.
type patternFunc func(bucket int64) (offset, volMult float64)

func patternFor(name PatternName) patternFunc {
	switch name {
	case PatternSqueezeBreakout:
		return squeezeBreakout
	case PatternMomentumBurst:
		return momentumBurst
	case PatternMeanRevert:
		return meanRevert
	default:
		return meanRevert
	}
}

// squeezeBreakout alternates a long low-volatility squeeze phase with a sharp
// impulsive breakout shaped by a half-sine.
func squeezeBreakout(bucket int64) (float64, float64) {
	const period = 120
	const breakoutLen = 18
	phase := mod(bucket, period)
	if phase < period-breakoutLen {
		// squeeze: volatility compresses as the phase progresses
		compression := 1.0 - 0.6*float64(phase)/float64(period-breakoutLen)
		return 0, 0.4 * compression
	}
	// breakout: half-sine impulse, direction flips on alternating periods
	t := float64(phase-(period-breakoutLen)) / float64(breakoutLen)
	dir := 1.0
	if (bucket/period)%2 == 1 {
		dir = -1.0
	}
	return dir * 6 * math.Sin(t*math.Pi), 2.5
}

// meanRevert applies a bounded oscillation pulling the price back toward the
// preset baseline.
func meanRevert(bucket int64) (float64, float64) {
	const period = 40
	t := float64(mod(bucket, period)) / period
	return 1.5 * math.Sin(2*math.Pi*t), 1.0
}

// momentumBurst periodically multiplies the noise amplitude, producing
// clustered volatility without a directional offset.
func momentumBurst(bucket int64) (float64, float64) {
	const period = 90
	const burstLen = 18
	phase := mod(bucket, period)
	if phase < burstLen {
		return 0, 3.0
	}
	return 0, 0.8
}

func mod(a, n int64) int64 {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
