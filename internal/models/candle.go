package models

import (
	"errors"
	"fmt"
)

// Timeframe is the candle bucket width. Only the four widths used by the
// simulation engine are supported; all range arithmetic is expressed in them.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe1d  Timeframe = "1d"
)

var ErrInvalidTimeframe = errors.New("invalid timeframe")

var timeframeDurations = map[Timeframe]int64{
	Timeframe1m:  60 * 1000,
	Timeframe15m: 15 * 60 * 1000,
	Timeframe1h:  60 * 60 * 1000,
	Timeframe1d:  24 * 60 * 60 * 1000,
}

// ParseTimeframe parses a timeframe string like "15m".
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeframe, s)
	}
	return tf, nil
}

// SupportedTimeframes returns the supported timeframes in ascending width order.
func SupportedTimeframes() []Timeframe {
	return []Timeframe{Timeframe1m, Timeframe15m, Timeframe1h, Timeframe1d}
}

func (tf Timeframe) String() string {
	return string(tf)
}

// Valid reports whether the timeframe is one of the supported widths.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// DurationMs returns the bucket width in milliseconds, or 0 for an unknown timeframe.
func (tf Timeframe) DurationMs() int64 {
	return timeframeDurations[tf]
}

// AlignMs floors a millisecond timestamp to the start of its bucket.
func (tf Timeframe) AlignMs(tsMs int64) int64 {
	width := tf.DurationMs()
	if width == 0 {
		return tsMs
	}
	return (tsMs / width) * width
}

// Candle is a single OHLCV aggregate over one timeframe bucket. TimestampMs
// is the bucket start in epoch milliseconds, always an exact multiple of the
// timeframe width. Candles are immutable once returned by a source; a session
// may re-emit a candle for the same bucket, which consumers treat as an upsert.
type Candle struct {
	TimestampMs int64   `json:"timestampMs"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
}

// Validate checks the OHLC ordering invariant, non-negative volume and bucket
// alignment for the given timeframe.
func (c Candle) Validate(tf Timeframe) error {
	if c.Volume < 0 {
		return fmt.Errorf("candle %d: negative volume %f", c.TimestampMs, c.Volume)
	}
	lo, hi := c.Open, c.Open
	if c.Close < lo {
		lo = c.Close
	}
	if c.Close > hi {
		hi = c.Close
	}
	if c.Low > lo || c.High < hi {
		return fmt.Errorf("candle %d: OHLC out of order (o=%f h=%f l=%f c=%f)",
			c.TimestampMs, c.Open, c.High, c.Low, c.Close)
	}
	if width := tf.DurationMs(); width > 0 && c.TimestampMs%width != 0 {
		return fmt.Errorf("candle %d: not aligned to %s bucket", c.TimestampMs, tf)
	}
	return nil
}
