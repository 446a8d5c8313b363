package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"market-pulse/internal/domain"
	"market-pulse/internal/logger"
	"market-pulse/internal/retry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	coingeckoBaseURL = "https://api.coingecko.com/api/v3"
	marketsEndpoint  = "/coins/markets"
)

// ErrMissingSymbol is returned when the markets response lacks BTC or ETH.
var ErrMissingSymbol = errors.New("tracked symbol missing from market data")

// MarketsParams are the query parameters sent to /coins/markets.
type MarketsParams struct {
	VsCurrency            string
	Order                 string
	PerPage               int
	Page                  int
	Sparkline             bool
	PriceChangePercentage string
}

// DefaultMarketsParams returns the parameters the bot has always queried with.
func DefaultMarketsParams() MarketsParams {
	return MarketsParams{
		VsCurrency:            "usd",
		Order:                 "market_cap_desc",
		PerPage:               20,
		Page:                  1,
		Sparkline:             false,
		PriceChangePercentage: "1h,24h,7d",
	}
}

func (p MarketsParams) values() url.Values {
	v := url.Values{}
	v.Set("vs_currency", p.VsCurrency)
	v.Set("order", p.Order)
	v.Set("per_page", strconv.Itoa(p.PerPage))
	v.Set("page", strconv.Itoa(p.Page))
	v.Set("sparkline", strconv.FormatBool(p.Sparkline))
	v.Set("price_change_percentage", p.PriceChangePercentage)
	return v
}

// Options configures a CoinGeckoProvider. Zero values fall back to defaults.
type Options struct {
	BaseURL           string
	Params            MarketsParams
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	RequestsPerMinute int
	Attempts          int
	BackoffStep       time.Duration
	APILog            *logger.Log
	Sleep             retry.SleepFunc
}

// CoinGeckoProvider fetches BTC and ETH market snapshots from the CoinGecko free API.
type CoinGeckoProvider struct {
	client  *http.Client
	baseURL string
	params  MarketsParams
	tracer  trace.Tracer
	limiter *rate.Limiter
	apiLog  *logger.Log
	retry   retry.Linear
}

// NewCoinGeckoProvider creates a provider with its own throttled HTTP client.
func NewCoinGeckoProvider(tracer trace.Tracer, opts Options) *CoinGeckoProvider {
	if opts.BaseURL == "" {
		opts.BaseURL = coingeckoBaseURL
	}
	if opts.Params == (MarketsParams{}) {
		opts.Params = DefaultMarketsParams()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 90 * time.Second
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 30
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.BackoffStep <= 0 {
		opts.BackoffStep = 10 * time.Second
	}
	if opts.APILog == nil {
		opts.APILog = logger.Discard().CoinGecko
	}

	every := time.Minute / time.Duration(opts.RequestsPerMinute)
	p := &CoinGeckoProvider{
		client:  newHTTPClient(opts.ConnectTimeout, opts.ReadTimeout),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		params:  opts.Params,
		tracer:  tracer,
		limiter: rate.NewLimiter(rate.Every(every), 1),
		apiLog:  opts.APILog,
	}
	p.retry = retry.Linear{
		Attempts: opts.Attempts,
		Step:     opts.BackoffStep,
		Sleep:    opts.Sleep,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			p.apiLog.WithFields(logger.Fields{"attempt": attempt, "wait": wait.String()}).
				WithError(err).Warn("CoinGecko request timed out, retrying")
		},
	}
	return p
}

func newHTTPClient(connectTimeout, readTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	transport.ResponseHeaderTimeout = readTimeout
	return &http.Client{
		Transport: transport,
		Timeout:   connectTimeout + readTimeout,
	}
}

// FetchSnapshots returns the current BTC and ETH snapshots keyed by symbol.
// Only timeouts are retried; any other failure, including a response
// without both tracked symbols, fails on the first attempt.
func (p *CoinGeckoProvider) FetchSnapshots(ctx context.Context) (map[string]domain.AssetSnapshot, error) {
	ctx, span := p.tracer.Start(ctx, "coingecko.fetch-snapshots")
	defer span.End()

	var result map[string]domain.AssetSnapshot
	err := p.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		span.SetAttributes(attribute.Int("coingecko.attempt", attempt))
		snapshots, err := p.fetchOnce(ctx)
		if err != nil {
			if isTimeout(ctx, err) {
				return err
			}
			return retry.Permanent(err)
		}
		result = snapshots
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("fetch market data: %w", err)
	}
	return result, nil
}

func (p *CoinGeckoProvider) fetchOnce(ctx context.Context) (map[string]domain.AssetSnapshot, error) {
	endpoint := p.baseURL + marketsEndpoint + "?" + p.params.values().Encode()

	body, err := p.doRequest(ctx, endpoint)
	logger.LogAPIRequest(p.apiLog, "CoinGecko", marketsEndpoint, err == nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol                   string  `json:"symbol"`
		CurrentPrice             float64 `json:"current_price"`
		PriceChangePercentage24h float64 `json:"price_change_percentage_24h"`
		TotalVolume              float64 `json:"total_volume"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse markets: %w", err)
	}

	snapshots := make(map[string]domain.AssetSnapshot, len(domain.TrackedSymbols))
	for _, coin := range raw {
		symbol := domain.NormalizeSymbol(coin.Symbol)
		if _, tracked := domain.CoinGeckoID[symbol]; !tracked {
			continue
		}
		snapshots[symbol] = domain.AssetSnapshot{
			Symbol:                   symbol,
			CurrentPrice:             coin.CurrentPrice,
			PriceChangePercentage24h: coin.PriceChangePercentage24h,
			TotalVolume:              coin.TotalVolume,
		}
	}

	if missing := domain.MissingSymbols(snapshots); len(missing) > 0 {
		p.apiLog.WithField("missing", strings.Join(missing, ",")).Error("Could not find BTC or ETH data")
		return nil, fmt.Errorf("%w: %s", ErrMissingSymbol, strings.Join(missing, ","))
	}
	return snapshots, nil
}

func (p *CoinGeckoProvider) doRequest(ctx context.Context, url string) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("coingecko API error %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}

// isTimeout reports whether err is a network timeout worth retrying. A
// deadline on the caller's own context is not.
func isTimeout(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
