package clist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	logx "remindbot/pkg/logx"
)

const (
	defaultBaseURL  = "https://clist.by/api/v1/contest/"
	defaultLimit    = 200
	defaultLookback = 48 * time.Hour
	startTimeLayout = "2006-01-02T15:04:05"
)

type ClientConfig struct {
	BaseURL  string
	APIKey   string // query credential: "username=...&api_key=..."
	Limit    int
	Lookback time.Duration
	// RatePerMin caps upstream requests; retries count against it too.
	RatePerMin int
}

// Client fetches the current contest list from clist.by.
type Client struct {
	cfg     ClientConfig
	http    *retryablehttp.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func NewClient(cfg ClientConfig, log logx.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaultLimit
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = defaultLookback
	}
	rpm := cfg.RatePerMin
	if rpm <= 0 {
		rpm = 6
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = 3
	hc.RetryWaitMin = 1 * time.Second
	hc.RetryWaitMax = 10 * time.Second
	hc.HTTPClient.Timeout = 30 * time.Second
	hc.Logger = nil // retries surface through our own logger

	return &Client{
		cfg:     cfg,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		log:     log,
	}
}

// Fetch returns the upstream contest list starting after now-lookback.
// All failures are wrapped in ErrUpstream.
func (c *Client) Fetch(ctx context.Context) ([]RawContest, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u, err := c.buildURL(time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("User-Agent", "remindbot/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUpstream, resp.StatusCode)
	}

	var body struct {
		Objects []RawContest `json:"objects"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUpstream, err)
	}

	c.log.Debug("contest list fetched", logx.Int("count", len(body.Objects)))
	return body.Objects, nil
}

func (c *Client) buildURL(now time.Time) (string, error) {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	q := base.Query()
	q.Set("limit", strconv.Itoa(c.cfg.Limit))
	q.Set("start__gte", now.Add(-c.cfg.Lookback).Format(startTimeLayout))
	base.RawQuery = q.Encode()

	// The clist credential is a pre-encoded "username=...&api_key=..." pair.
	key := strings.TrimSpace(c.cfg.APIKey)
	if key != "" {
		base.RawQuery += "&" + key
	}
	return base.String(), nil
}
