package netztransparenz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	pricing "market-optimizer/internal/pricing/domain"
	"market-optimizer/internal/pricing/infrastructure/csvcodec"
)

const (
	// DefaultBaseURL is the spot price dataset endpoint.
	DefaultBaseURL = "https://ds.netztransparenz.de/api/v1/data/Spotmarktpreise"
	// DefaultTokenURL is the identity server token endpoint.
	DefaultTokenURL = "https://identity.netztransparenz.de/users/connect/token"
	// DefaultTokenLifetime applies when the token response has no expires_in.
	DefaultTokenLifetime = 3500 * time.Second

	pathTimeLayout = "2006-01-02T15:04:05"
	maxErrorBody   = 512
)

// Config holds client credentials and endpoints.
type Config struct {
	BaseURL       string
	TokenURL      string
	ClientID      string
	ClientSecret  string
	TokenLifetime time.Duration
	Timeout       time.Duration
}

// Client fetches hourly spot prices from the Netztransparenz data service.
type Client struct {
	cfg    Config
	client *http.Client
	logger *log.Logger
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
	tokens  singleflight.Group
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the clock used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient constructs a client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("netztransparenz: missing client credentials")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.TokenLifetime <= 0 {
		cfg.TokenLifetime = DefaultTokenLifetime
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: log.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchPrices returns hourly prices from the start of start's day to the
// end of end's day.
func (c *Client) FetchPrices(ctx context.Context, start, end time.Time) ([]pricing.PriceRecord, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}
	from := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, time.UTC)
	endpoint := c.cfg.BaseURL + "/" + url.PathEscape(from.Format(pathTimeLayout)) + "/" + url.PathEscape(to.Format(pathTimeLayout))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "*/*")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("netztransparenz: get prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode == http.StatusUnauthorized {
			c.invalidate()
		}
		return nil, &pricing.SourceStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	records, skipped, err := csvcodec.ParseAPIResponse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("netztransparenz: parse response: %w", err)
	}
	if skipped > 0 {
		c.logger.Printf("netztransparenz: skipped %d malformed rows", skipped)
	}
	return records, nil
}

// Token returns a cached bearer token, requesting a new one when expired.
// Concurrent refreshes share one request.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.expires) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	v, err, _ := c.tokens.Do("token", func() (any, error) {
		return c.requestToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) requestToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", pricing.ErrSourceToken, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", pricing.ErrSourceToken, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: http %d", pricing.ErrSourceToken, resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode: %v", pricing.ErrSourceToken, err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("%w: response has no access_token", pricing.ErrSourceToken)
	}
	lifetime := c.cfg.TokenLifetime
	if payload.ExpiresIn > 0 {
		lifetime = time.Duration(payload.ExpiresIn) * time.Second
	}

	c.mu.Lock()
	c.token = payload.AccessToken
	c.expires = c.now().Add(lifetime)
	expires := c.expires
	c.mu.Unlock()
	c.logger.Printf("netztransparenz: token refreshed, valid until %s", expires.Format(time.RFC3339))
	return payload.AccessToken, nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}
