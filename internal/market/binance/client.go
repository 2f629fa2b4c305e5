package binance

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"

	"marketsim/internal/models"
)

const (
	// Binance allows 1200 weight/minute on public endpoints; one request per
	// 100ms stays well inside that.
	minRequestInterval = 100 * time.Millisecond
	requestTimeout     = 30 * time.Second
	pageLimit          = 1000
)

// Client is a candle source backed by the Binance klines API. No API key is
// needed for public market data.
type Client struct {
	client *gobinance.Client

	requestMu   sync.Mutex
	lastRequest time.Time
}

func NewClient() *Client {
	return &Client{
		client: gobinance.NewClient("", ""),
	}
}

// FetchCandles pages forward across [startMs, endMs) and converts klines to
// candles. Binance pages are already ordered oldest to newest.
func (c *Client) FetchCandles(ctx context.Context, symbol string, tf models.Timeframe, startMs, endMs int64) ([]models.Candle, error) {
	width := tf.DurationMs()
	if width == 0 {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidTimeframe, tf)
	}
	if endMs <= startMs {
		return []models.Candle{}, nil
	}

	var candles []models.Candle
	cursor := startMs
	for cursor < endMs {
		klines, err := c.fetchPage(ctx, symbol, tf, cursor, endMs)
		if err != nil {
			return nil, err
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			candle, err := toCandle(k)
			if err != nil {
				slog.Warn("skipping unparseable kline", "symbol", symbol, "error", err)
				continue
			}
			if candle.TimestampMs >= startMs && candle.TimestampMs < endMs {
				candles = append(candles, candle)
			}
		}

		last := klines[len(klines)-1].OpenTime
		if last+width <= cursor {
			break
		}
		cursor = last + width
		if len(klines) < pageLimit {
			break
		}
	}
	return candles, nil
}

func (c *Client) fetchPage(ctx context.Context, symbol string, tf models.Timeframe, startMs, endMs int64) ([]*gobinance.Kline, error) {
	if err := c.waitForRateLimit(ctx); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	klines, err := c.client.NewKlinesService().
		Symbol(symbol).
		Interval(tf.String()).
		Limit(pageLimit).
		StartTime(startMs).
		EndTime(endMs - 1).
		Do(reqCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines: %w", err)
	}
	return klines, nil
}

// waitForRateLimit enforces the minimum interval between requests.
func (c *Client) waitForRateLimit(ctx context.Context) error {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()

	elapsed := time.Since(c.lastRequest)
	if elapsed < minRequestInterval {
		select {
		case <-time.After(minRequestInterval - elapsed):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.lastRequest = time.Now()
	return nil
}

func toCandle(k *gobinance.Kline) (models.Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return models.Candle{}, err
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return models.Candle{}, err
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return models.Candle{}, err
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return models.Candle{}, err
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return models.Candle{}, err
	}
	return models.Candle{
		TimestampMs: k.OpenTime,
		Open:        open,
		High:        high,
		Low:         low,
		Close:       closePrice,
		Volume:      volume,
	}, nil
}
