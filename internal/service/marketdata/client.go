package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/service/ratelimit"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/cache"
	apphttp "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/http"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/logger"
)

const (
	DefaultBaseURL   = "https://query1.finance.yahoo.com"
	defaultUserAgent = "Mozilla/5.0 (compatible; market-scanner/1.0)"
	limiterKey       = "yahoo"
)

type Option func(*Client)

// Client fetches OHLCV series from the Yahoo Finance chart API.
type Client struct {
	baseURL    string
	http       *apphttp.Client
	limiter    *ratelimit.Limiter
	ratePerSec float64
	burst      float64
	cache      cache.Service
	cacheTTL   time.Duration
	log        *logger.Logger
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		limiter:    ratelimit.New(),
		ratePerSec: 10,
		burst:      5,
		cacheTTL:   5 * time.Minute,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = apphttp.NewClient(apphttp.WithTimeout(20*time.Second), apphttp.WithUserAgent(defaultUserAgent))
	}
	return c
}

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(hc *apphttp.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit caps outbound requests per second with the given burst.
func WithRateLimit(perSec float64, burst int) Option {
	return func(c *Client) {
		if perSec > 0 {
			c.ratePerSec = perSec
		}
		if burst > 0 {
			c.burst = float64(burst)
		}
	}
}

// WithCache enables series caching; a zero ttl keeps the default.
func WithCache(svc cache.Service, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = svc
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func (c *Client) FetchSeries(ctx context.Context, instrument, interval, lookback string) ([]models.Bar, error) {
	key := cache.GenerateKeyWithParams("series", instrument, lookback, interval)
	if c.cache != nil {
		var bars []models.Bar
		if err := c.cache.Get(ctx, key, &bars); err == nil && len(bars) > 0 {
			return bars, nil
		}
	}

	if err := c.limiter.Wait(ctx, limiterKey, c.burst, c.ratePerSec); err != nil {
		return nil, err
	}

	var resp chartResponse
	err := c.http.SendAndParse(ctx, &apphttp.RequestOptions{
		Method: apphttp.MethodGet,
		URL:    c.baseURL + "/v8/finance/chart/" + url.PathEscape(instrument),
		QueryParams: map[string][]string{
			"range":    {lookback},
			"interval": {interval},
		},
	}, &resp)
	if err != nil {
		return nil, classify(instrument, err)
	}

	bars, err := resp.bars(instrument)
	if err != nil {
		return nil, err
	}
	bars = clean(bars)
	if len(bars) == 0 {
		return nil, models.UnsupportedInstrument("fetch", instrument, errors.New("no data found"))
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, bars, c.cacheTTL); err != nil {
			c.log.Warn("series cache write failed", logger.String("key", key), logger.Error(err))
		}
	}
	c.log.Debug("series fetched",
		logger.String("symbol", instrument),
		logger.String("interval", interval),
		logger.Int("bars", len(bars)),
	)
	return bars, nil
}

func classify(instrument string, err error) error {
	var se *apphttp.StatusError
	var de *apphttp.DecodeError
	switch {
	case errors.As(err, &se):
		switch {
		case se.StatusCode == http.StatusTooManyRequests:
			return models.RateLimited("fetch "+instrument, err)
		case se.StatusCode == http.StatusNotFound:
			return models.UnsupportedInstrument("fetch", instrument, err)
		case se.StatusCode >= 500:
			return models.TransientNetwork("fetch "+instrument, err)
		default:
			return models.MalformedData("fetch", instrument, err)
		}
	case errors.As(err, &de):
		return models.MalformedData("fetch", instrument, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return models.TransientNetwork("fetch "+instrument, err)
	}
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

func (r *chartResponse) bars(instrument string) ([]models.Bar, error) {
	if e := r.Chart.Error; e != nil {
		err := fmt.Errorf("%s: %s", e.Code, e.Description)
		if strings.EqualFold(e.Code, "Not Found") {
			return nil, models.UnsupportedInstrument("fetch", instrument, err)
		}
		return nil, models.MalformedData("fetch", instrument, err)
	}
	if len(r.Chart.Result) == 0 || len(r.Chart.Result[0].Timestamp) == 0 {
		return nil, models.UnsupportedInstrument("fetch", instrument, errors.New("no data found"))
	}

	res := r.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return nil, models.MalformedData("fetch", instrument, errors.New("missing quote block"))
	}
	q := res.Indicators.Quote[0]
	n := len(res.Timestamp)
	if len(q.Open) != n || len(q.High) != n || len(q.Low) != n || len(q.Close) != n || len(q.Volume) != n {
		return nil, models.MalformedData("fetch", instrument, errors.New("quote columns differ in length"))
	}

	bars := make([]models.Bar, n)
	for i, ts := range res.Timestamp {
		bars[i] = models.Bar{
			Time:   time.Unix(ts, 0).UTC(),
			Open:   value(q.Open[i]),
			High:   value(q.High[i]),
			Low:    value(q.Low[i]),
			Close:  value(q.Close[i]),
			Volume: value(q.Volume[i]),
		}
	}
	return bars, nil
}

func value(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// clean drops empty rows, forward-fills gaps, and removes bars with
// non-positive prices or High below Low.
func clean(in []models.Bar) []models.Bar {
	out := make([]models.Bar, 0, len(in))
	var prev *models.Bar
	for _, b := range in {
		if allNaN(b) {
			continue
		}
		if prev != nil {
			b.Open = fill(b.Open, prev.Open)
			b.High = fill(b.High, prev.High)
			b.Low = fill(b.Low, prev.Low)
			b.Close = fill(b.Close, prev.Close)
			b.Volume = fill(b.Volume, prev.Volume)
		}
		cur := b
		prev = &cur
		if math.IsNaN(b.Volume) {
			b.Volume = 0
		}
		if !(b.Open > 0 && b.High > 0 && b.Low > 0 && b.Close > 0) || b.High < b.Low {
			continue
		}
		out = append(out, b)
	}
	return out
}

func allNaN(b models.Bar) bool {
	return math.IsNaN(b.Open) && math.IsNaN(b.High) && math.IsNaN(b.Low) && math.IsNaN(b.Close) && math.IsNaN(b.Volume)
}

func fill(v, prev float64) float64 {
	if math.IsNaN(v) {
		return prev
	}
	return v
}
