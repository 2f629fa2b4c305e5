package synthetic

import "strings"

// Preset holds the deterministic generation parameters for one base asset.
// Parameters are tuned so generated prices stay strictly positive; the
// generator additionally floor-clamps as a safety net.
type Preset struct {
	BasePrice      float64
	TrendPerBucket float64
	CycleAmplitude float64
	CyclePeriod    float64
	NoiseAmp       float64
	Pattern        PatternName
	VolumeBase     float64
	VolumeScale    float64
	VolumeNoise    float64
}

var presets = map[string]Preset{
	"BTC": {
		BasePrice:      43000,
		TrendPerBucket: 0.9,
		CycleAmplitude: 850,
		CyclePeriod:    96,
		NoiseAmp:       120,
		Pattern:        PatternSqueezeBreakout,
		VolumeBase:     320,
		VolumeScale:    2.4,
		VolumeNoise:    80,
	},
	"ETH": {
		BasePrice:      2600,
		TrendPerBucket: 0.05,
		CycleAmplitude: 70,
		CyclePeriod:    72,
		NoiseAmp:       11,
		Pattern:        PatternMomentumBurst,
		VolumeBase:     2100,
		VolumeScale:    18,
		VolumeNoise:    500,
	},
	"SOL": {
		BasePrice:      105,
		TrendPerBucket: 0.004,
		CycleAmplitude: 6,
		CyclePeriod:    60,
		NoiseAmp:       0.9,
		Pattern:        PatternMomentumBurst,
		VolumeBase:     9000,
		VolumeScale:    450,
		VolumeNoise:    2000,
	},
	"XRP": {
		BasePrice:      0.62,
		TrendPerBucket: 0.000004,
		CycleAmplitude: 0.025,
		CyclePeriod:    110,
		NoiseAmp:       0.004,
		Pattern:        PatternMeanRevert,
		VolumeBase:     400000,
		VolumeScale:    90000,
		VolumeNoise:    60000,
	},
	"EURO": {
		BasePrice:      1.085,
		TrendPerBucket: 0.0000002,
		CycleAmplitude: 0.004,
		CyclePeriod:    140,
		NoiseAmp:       0.0007,
		Pattern:        PatternMeanRevert,
		VolumeBase:     120000,
		VolumeScale:    30000,
		VolumeNoise:    15000,
	},
}

var defaultPreset = Preset{
	BasePrice:      100,
	TrendPerBucket: 0.002,
	CycleAmplitude: 4,
	CyclePeriod:    80,
	NoiseAmp:       0.8,
	Pattern:        PatternMeanRevert,
	VolumeBase:     5000,
	VolumeScale:    200,
	VolumeNoise:    1200,
}

// quoteSuffixes lists quote assets stripped off a pair symbol to find the
// base-asset preset key. Stablecoins first, then fiats, longest match wins
// within each group.
var quoteSuffixes = []string{"USDT", "USDC", "BUSD", "DAI", "USD", "EUR", "GBP", "JPY"}

// resolvePreset normalizes the symbol and finds its preset. Unknown base
// assets fall back to the default preset rather than erroring.
func resolvePreset(symbol string) Preset {
	base := strings.ToUpper(strings.TrimSpace(symbol))
	base = strings.ReplaceAll(base, "-", "")
	base = strings.ReplaceAll(base, "/", "")
	for _, q := range quoteSuffixes {
		if len(base) > len(q) && strings.HasSuffix(base, q) {
			base = strings.TrimSuffix(base, q)
			break
		}
	}
	if p, ok := presets[base]; ok {
		return p
	}
	return defaultPreset
}
