package cryptocompare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"marketsim/internal/models"
)

const (
	DefaultBaseURL        = "https://min-api.cryptocompare.com"
	DefaultPageSize       = 2000
	DefaultThrottleDelay  = 150 * time.Millisecond
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxAttempts    = 5
)

// ErrProviderResponse marks a logical error payload from the provider.
// Never retried.
var ErrProviderResponse = errors.New("provider error response")

// quoteAssets is matched against the symbol suffix to split a concatenated
// pair like "BTCUSDT". Stablecoins first, then fiats.
var quoteAssets = []string{"USDT", "USDC", "BUSD", "DAI", "TUSD", "USD", "EUR", "GBP", "JPY", "AUD"}

type Config struct {
	BaseURL        string
	APIKey         string
	PageSize       int
	ThrottleDelay  time.Duration
	RequestTimeout time.Duration
	MaxAttempts    int
	BackoffMin     time.Duration
	BackoffMax     time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.ThrottleDelay <= 0 {
		c.ThrottleDelay = DefaultThrottleDelay
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Second
	}
}

// Client fetches historical candles from the quote provider's REST API. The
// provider returns one bounded page of candles ending at a given "to"
// timestamp, so arbitrary ranges are covered by paging backwards from the
// range end. One fetch runs one request at a time; rate limits make
// concurrent pagination counterproductive.
type Client struct {
	cfg        Config
	httpClient *http.Client

	requestMu   sync.Mutex
	lastRequest time.Time
}

func NewClient(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
	}
}

type providerCandle struct {
	Time       int64   `json:"time"` // epoch seconds
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	VolumeFrom float64 `json:"volumefrom"`
}

type providerResponse struct {
	Response string `json:"Response"`
	Message  string `json:"Message"`
	Data     struct {
		Data []providerCandle `json:"Data"`
	} `json:"Data"`
}

// FetchCandles returns the candles covering [startMs, endMs) sorted ascending
// with one candle per bucket. If any single page exhausts its retry budget the
// whole fetch fails; callers need exact range coverage, a silently gapped
// series is worse than an error.
func (c *Client) FetchCandles(ctx context.Context, symbol string, tf models.Timeframe, startMs, endMs int64) ([]models.Candle, error) {
	width := tf.DurationMs()
	if width == 0 {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidTimeframe, tf)
	}
	if endMs <= startMs {
		return []models.Candle{}, nil
	}

	fsym, tsym := SplitPair(symbol)
	byBucket := make(map[int64]models.Candle)

	cursorToTs := endMs / 1000
	first := true
	for cursorToTs*1000 > startMs {
		if !first {
			// fixed inter-request delay, independent of error responses
			if err := c.throttle(ctx); err != nil {
				return nil, err
			}
		}
		first = false

		page, rawLen, err := c.fetchPage(ctx, fsym, tsym, tf, cursorToTs)
		if err != nil {
			return nil, fmt.Errorf("fetch %s %s page to=%d: %w", symbol, tf, cursorToTs, err)
		}
		if len(page) == 0 {
			break
		}

		for _, pc := range page {
			tsMs := pc.Time * 1000
			if tsMs < startMs || tsMs >= endMs {
				continue
			}
			// overlapping page boundaries can return the same bucket twice;
			// last write wins
			byBucket[tsMs] = models.Candle{
				TimestampMs: tsMs,
				Open:        pc.Open,
				High:        pc.High,
				Low:         pc.Low,
				Close:       pc.Close,
				Volume:      pc.VolumeFrom,
			}
		}

		oldest := page[0]
		if oldest.Time*1000 <= startMs {
			break
		}
		if rawLen < c.cfg.PageSize {
			// provider has no more history before this page
			break
		}
		// step strictly before the oldest candle seen
		cursorToTs = oldest.Time - 1
	}

	candles := make([]models.Candle, 0, len(byBucket))
	for _, candle := range byBucket {
		candles = append(candles, candle)
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].TimestampMs < candles[j].TimestampMs
	})
	return candles, nil
}

// fetchPage requests one page ending at toTs (epoch seconds), retrying the
// same request on throttling, server errors and transient network failures
// with exponential backoff up to the attempt budget.
func (c *Client) fetchPage(ctx context.Context, fsym, tsym string, tf models.Timeframe, toTs int64) ([]providerCandle, int, error) {
	endpoint, aggregate := endpointFor(tf)

	q := url.Values{}
	q.Set("fsym", fsym)
	q.Set("tsym", tsym)
	q.Set("limit", strconv.Itoa(c.cfg.PageSize))
	q.Set("toTs", strconv.FormatInt(toTs, 10))
	q.Set("aggregate", strconv.Itoa(aggregate))
	if c.cfg.APIKey != "" {
		q.Set("api_key", c.cfg.APIKey)
	}
	reqURL := c.cfg.BaseURL + endpoint + "?" + q.Encode()

	b := &backoff.Backoff{
		Min:    c.cfg.BackoffMin,
		Max:    c.cfg.BackoffMax,
		Factor: 2,
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		page, rawLen, err := c.doRequest(ctx, reqURL)
		if err == nil {
			return page, rawLen, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, 0, err
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}
		wait := b.Duration()
		slog.Warn("provider request failed, retrying",
			"attempt", attempt, "backoff", wait, "error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	return nil, 0, fmt.Errorf("exhausted %d attempts: %w", c.cfg.MaxAttempts, lastErr)
}

// doRequest performs one HTTP round trip with a hard timeout that aborts the
// in-flight call if the provider hangs.
func (c *Client) doRequest(ctx context.Context, reqURL string) ([]providerCandle, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// drain so the connection can be reused
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, 0, &httpStatusError{code: resp.StatusCode}
	}

	var parsed providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 0, fmt.Errorf("%w: malformed body: %v", ErrProviderResponse, err)
	}
	if strings.EqualFold(parsed.Response, "Error") {
		return nil, 0, fmt.Errorf("%w: %s", ErrProviderResponse, parsed.Message)
	}

	// the provider pads range edges with empty rows
	page := make([]providerCandle, 0, len(parsed.Data.Data))
	for _, pc := range parsed.Data.Data {
		if pc.Open == 0 && pc.High == 0 && pc.Low == 0 && pc.Close == 0 {
			continue
		}
		page = append(page, pc)
	}
	return page, len(parsed.Data.Data), nil
}

func (c *Client) throttle(ctx context.Context) error {
	c.requestMu.Lock()
	wait := c.cfg.ThrottleDelay - time.Since(c.lastRequest)
	c.lastRequest = time.Now().Add(wait)
	c.requestMu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type httpStatusError struct {
	code int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d", e.code)
}

// isRetryable classifies an error as transient. Throttling (429) and server
// errors retry; other HTTP statuses and logical provider errors fail fast.
// Network-level failures are recognized by message since the net package
// wraps them inconsistently.
func isRetryable(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.code == http.StatusTooManyRequests || statusErr.code >= 500
	}
	if errors.Is(err, ErrProviderResponse) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout",
		"connection reset",
		"connection refused",
		"no such host",
		"broken pipe",
		"unexpected eof",
		"request canceled",
		"aborted",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// SplitPair splits a concatenated pair string into base and quote assets by
// matching the suffix against the known quote assets. An unrecognized suffix
// defaults the quote to USD.
func SplitPair(symbol string) (base, quote string) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "/", "")
	for _, q := range quoteAssets {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return strings.TrimSuffix(s, q), q
		}
	}
	return s, "USD"
}

// endpointFor maps a timeframe to the provider's history endpoint and
// aggregate parameter.
func endpointFor(tf models.Timeframe) (string, int) {
	switch tf {
	case models.Timeframe1m:
		return "/data/v2/histominute", 1
	case models.Timeframe15m:
		return "/data/v2/histominute", 15
	case models.Timeframe1h:
		return "/data/v2/histohour", 1
	default:
		return "/data/v2/histoday", 1
	}
}
