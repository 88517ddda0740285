package feed

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eddiefleurent/mifflin_matcher/internal/config"
	"github.com/eddiefleurent/mifflin_matcher/internal/models"
)

// APIError represents an activity API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// RetryConfig bounds the per-page retry loop.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig is used when the caller passes no overrides.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
}

// Client fetches transaction history pages from the activity endpoint.
type Client struct {
	client    *http.Client
	baseURL   string
	apiToken  string
	pageLimit int
	retry     RetryConfig
	logger    *log.Logger
}

// NewClient builds an activity API client from the feed config section. A
// nil logger discards output.
func NewClient(cfg config.FeedConfig, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = 250
	}
	return &Client{
		client:    &http.Client{Timeout: timeout},
		baseURL:   strings.TrimRight(cfg.Endpoint, "/"),
		apiToken:  cfg.APIToken,
		pageLimit: pageLimit,
		retry:     DefaultRetryConfig,
		logger:    logger,
	}
}

// WithHTTPClient swaps the underlying HTTP client, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

// WithRetry overrides the retry policy.
func (c *Client) WithRetry(retry RetryConfig) *Client {
	c.retry = retry
	return c
}

type transactionsPage struct {
	Transactions []models.Transaction `json:"transactions"`
	HasMore      bool                 `json:"has_more"`
}

// Transactions fetches the complete history for one account, walking pages
// until the API reports no more. Each page fetch is retried on transient
// failures with jittered exponential backoff.
func (c *Client) Transactions(ctx context.Context, accountID string) ([]models.Transaction, error) {
	var all []models.Transaction
	for page := 1; ; page++ {
		result, err := c.fetchPageWithRetry(ctx, accountID, page)
		if err != nil {
			return nil, fmt.Errorf("account %s page %d: %w", accountID, page, err)
		}
		all = append(all, result.Transactions...)
		if !result.HasMore {
			break
		}
	}
	c.logger.Printf("feed: fetched %d transactions for account %s", len(all), accountID)
	return all, nil
}

func (c *Client) fetchPageWithRetry(ctx context.Context, accountID string, page int) (*transactionsPage, error) {
	var lastErr error
	backoff := c.retry.InitialBackoff

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("operation canceled: %w", ctx.Err())
		}

		result, err := c.fetchPage(ctx, accountID, page)
		if err == nil {
			return result, nil
		}

		lastErr = err
		c.logger.Printf("feed: attempt %d/%d for account %s page %d failed: %v",
			attempt+1, c.retry.MaxRetries+1, accountID, page, err)

		if !isTransientError(err) || attempt == c.retry.MaxRetries {
			break
		}
		select {
		case <-time.After(backoff):
			backoff = c.nextBackoff(backoff)
		case <-ctx.Done():
			return nil, fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", c.retry.MaxRetries+1, lastErr)
}

func (c *Client) fetchPage(ctx context.Context, accountID string, page int) (*transactionsPage, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/transactions", c.baseURL, url.PathEscape(accountID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(c.pageLimit))
	req.URL.RawQuery = q.Encode()

	req.Header.Add("Authorization", "Bearer "+c.apiToken)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "mifflin-matcher/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Printf("feed: failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap
		if readErr != nil {
			return nil, &APIError{Status: resp.StatusCode, Body: "failed to read error body"}
		}
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	var result transactionsPage
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && err != io.EOF {
		return nil, err
	}
	return &result, nil
}

func (c *Client) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > c.retry.MaxBackoff {
		backoff = c.retry.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.Printf("feed: failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := err.(*APIError); ok {
		switch apiErr.Status {
		case http.StatusTooManyRequests, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return apiErr.Status >= 500
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"network",
		"dns",
		"tcp",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

var _ Source = (*Client)(nil)
