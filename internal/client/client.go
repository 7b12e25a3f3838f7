// Package client provides the paced HTTP client shared by the geocoding and
// DPE lookups. Public data.gouv.fr APIs throttle per IP, so every request
// goes through a single minimum-delay gate and transient failures are
// retried with exponential backoff.
package client

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"immopipe/internal/metrics"
)

// Doer issues a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ProxyConfig describes the rotating egress proxy. Each request is sent with
// a fresh session token so consecutive calls leave from different IPs.
type ProxyConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

func (p ProxyConfig) sessionURL() (*url.URL, error) {
	session := strconv.FormatFloat(rand.Float64(), 'f', -1, 64)
	return url.Parse(fmt.Sprintf("http://%s-country-fr-session-%s:%s@%s:%d",
		p.Username, session, p.Password, p.Host, p.Port))
}

// Options configures a Client. Zero values fall back to the defaults tuned
// for the ADEME and BAN APIs.
type Options struct {
	MinDelay   time.Duration
	MaxRetries int
	RetryDelay time.Duration
	MaxDelay   time.Duration
	Timeout    time.Duration
	UserAgent  string
	Proxy      *ProxyConfig
	Logger     *logrus.Logger
}

// Client is a rate-limited HTTP GET client. The pacing gate is shared by all
// callers, so concurrent goroutines never burst past one request per MinDelay.
type Client struct {
	doer       Doer
	proxy      *ProxyConfig
	timeout    time.Duration
	minDelay   time.Duration
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
	userAgent  string
	logger     *logrus.Logger

	mu          sync.Mutex
	lastRequest time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a Client from opts, filling in defaults for unset fields.
func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.MinDelay <= 0 {
		opts.MinDelay = 100 * time.Millisecond
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 32 * time.Second
	}
	if opts.Timeout <= 0 {
		if opts.Proxy != nil {
			opts.Timeout = 5 * time.Second
		} else {
			opts.Timeout = 30 * time.Second
		}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "immopipe/1.0"
	}
	return &Client{
		doer:       &http.Client{Timeout: opts.Timeout},
		proxy:      opts.Proxy,
		timeout:    opts.Timeout,
		minDelay:   opts.MinDelay,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		maxDelay:   opts.MaxDelay,
		userAgent:  opts.UserAgent,
		logger:     opts.Logger,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// Get performs a paced GET and returns the response body. A nil body with a
// nil error means the URL yielded no usable data; transient failures are
// retried internally and never surface to callers.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if params != nil {
		req.URL.RawQuery = params.Encode()
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.pace(ctx); err != nil {
			return nil, err
		}
		resp, err := c.send(req)
		if err != nil {
			if ctx.Err() != nil {
				metrics.HTTPRequests.WithLabelValues(metrics.OutcomeError).Inc()
				return nil, ctx.Err()
			}
			c.backoff(attempt, err)
			continue
		}
		body, status := drain(resp)
		switch {
		case status == http.StatusOK:
			metrics.HTTPRequests.WithLabelValues(metrics.OutcomeOK).Inc()
			return body, nil
		case status == http.StatusTooManyRequests:
			wait := c.retryDelay
			if v, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil {
				wait = time.Duration(v) * time.Second
			}
			c.logger.WithField("wait", wait.String()).Warn("Rate limit exceeded, backing off")
			metrics.HTTPRetries.Inc()
			c.sleep(wait)
		case status >= 500:
			c.backoff(attempt, fmt.Errorf("server error %d", status))
		default:
			c.logger.WithFields(logrus.Fields{"url": rawURL, "status": status}).Error("Request rejected")
			metrics.HTTPRequests.WithLabelValues(metrics.OutcomeNoData).Inc()
			return nil, nil
		}
	}

	c.logger.WithFields(logrus.Fields{"url": rawURL, "attempts": c.maxRetries}).Error("Request failed after all retries")
	metrics.HTTPRequests.WithLabelValues(metrics.OutcomeNoData).Inc()
	return nil, nil
}

// pace blocks until at least minDelay has passed since the previous request.
// The mutex is held across the wait so concurrent callers queue up instead of
// bursting together.
func (c *Client) pace(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if wait := c.minDelay - c.now().Sub(c.lastRequest); wait > 0 {
		c.sleep(wait)
	}
	c.lastRequest = c.now()
	return nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	if c.proxy != nil {
		proxyURL, err := c.proxy.sessionURL()
		if err != nil {
			return nil, err
		}
		proxied := &http.Client{
			Timeout:   c.timeout,
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
		return proxied.Do(req)
	}
	return c.doer.Do(req)
}

func (c *Client) backoff(attempt int, cause error) {
	delay := c.retryDelay * (1 << attempt)
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	c.logger.WithError(cause).Warnf("Request error, retrying in %s (%d/%d)", delay, attempt+1, c.maxRetries)
	metrics.HTTPRetries.Inc()
	c.sleep(delay)
}

func drain(resp *http.Response) ([]byte, int) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode
	}
	return body, resp.StatusCode
}
