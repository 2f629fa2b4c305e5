package synthetic

import (
	"context"
	"fmt"
	"math"

	"marketsim/internal/models"
)

// priceFloorRatio keeps generated prices strictly positive even for presets
// whose noise exceeds the base price.
const priceFloorRatio = 0.01

// minVolume keeps volume strictly positive.
const minVolume = 1.0

// intrabucket sample count used to derive high/low.
const highLowSamples = 3

// Synthesizer generates reproducible OHLCV series without any I/O. Identical
// arguments always produce identical output; the salt namespaces all noise
// draws so series can be regenerated wholesale by changing it.
type Synthesizer struct {
	salt string
}

func NewSynthesizer() *Synthesizer {
	return &Synthesizer{salt: "v1"}
}

// FetchCandles implements the candle source capability. The context is
// accepted for interface symmetry; generation is pure and never blocks.
func (s *Synthesizer) FetchCandles(_ context.Context, symbol string, tf models.Timeframe, startMs, endMs int64) ([]models.Candle, error) {
	return s.Generate(symbol, tf, startMs, endMs)
}

// Generate produces the candle series covering [startMs, endMs) on bucket
// boundaries. A degenerate range returns an empty series. The only failure
// mode is an unsupported timeframe.
func (s *Synthesizer) Generate(symbol string, tf models.Timeframe, startMs, endMs int64) ([]models.Candle, error) {
	width := tf.DurationMs()
	if width == 0 {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidTimeframe, tf)
	}
	if endMs <= startMs {
		return []models.Candle{}, nil
	}

	preset := resolvePreset(symbol)
	pattern := patternFor(preset.Pattern)

	// first bucket at or after startMs
	first := startMs / width
	if startMs%width != 0 {
		first++
	}

	candles := make([]models.Candle, 0, (endMs-startMs)/width+1)
	for b := first; b*width < endMs; b++ {
		ts := b * width
		open := s.priceAt(symbol, preset, pattern, b)
		close := s.priceAt(symbol, preset, pattern, b+1)

		_, volMult := pattern(b)
		high := math.Max(open, close)
		low := math.Min(open, close)
		mid := (open + close) / 2
		for i := 0; i < highLowSamples; i++ {
			key := fmt.Sprintf("%s:%d:s%d:%s", symbol, b, i, s.salt)
			sample := mid + centered(key)*preset.NoiseAmp*volMult*2
			high = math.Max(high, sample)
			low = math.Min(low, sample)
		}
		floor := s.floor(preset)
		if low < floor {
			low = floor
		}
		if high < low {
			high = low
		}

		volKey := fmt.Sprintf("%s:%d:vol:%s", symbol, b, s.salt)
		volume := preset.VolumeBase + math.Abs(close-open)*preset.VolumeScale + centered(volKey)*preset.VolumeNoise
		if volume < minVolume {
			volume = minVolume
		}

		candles = append(candles, models.Candle{
			TimestampMs: ts,
			Open:        open,
			High:        high,
			Low:         low,
			Close:       close,
			Volume:      volume,
		})
	}
	return candles, nil
}

// priceAt evaluates the deterministic price function at a bucket boundary:
// linear trend plus cyclical component plus pattern offset plus seeded noise,
// clamped to a strictly positive floor.
func (s *Synthesizer) priceAt(symbol string, preset Preset, pattern patternFunc, b int64) float64 {
	base := preset.BasePrice +
		preset.TrendPerBucket*float64(b) +
		math.Sin(float64(b)/preset.CyclePeriod)*preset.CycleAmplitude

	offset, volMult := pattern(b)
	noiseKey := fmt.Sprintf("%s:%d:%s", symbol, b, s.salt)
	noise := centered(noiseKey) * preset.NoiseAmp * volMult

	p := base + offset*preset.NoiseAmp + noise
	if floor := s.floor(preset); p < floor {
		return floor
	}
	return p
}

func (s *Synthesizer) floor(preset Preset) float64 {
	f := preset.BasePrice * priceFloorRatio
	if f <= 0 {
		f = 0.0001
	}
	return f
}
