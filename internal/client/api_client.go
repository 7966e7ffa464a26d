// Package client talks to the VaporFund metadata backend: strategy and
// whitelisted-token listings, transaction preparation and referral tracking.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/time/rate"

	"github.com/vaporfund/staking-widget/internal/logging"
	"github.com/vaporfund/staking-widget/internal/metrics"
	"github.com/vaporfund/staking-widget/internal/util"
	"github.com/vaporfund/staking-widget/pkg/types"
)

// Backend endpoints, relative to the base URL
const (
	EndpointStrategies         = "/strategies"
	EndpointTokens             = "/tokens/whitelist"
	EndpointPrepareTransaction = "/transactions/prepare"
	EndpointTrackReferral      = "/referrals/track"
)

const (
	DefaultBaseURL = "https://api.vaporfund.com/v1"
	DefaultTimeout = 10 * time.Second
	maxBodySize    = 4 << 20
)

// Options configures an APIClient
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  float64 // Requests per second; 0 disables limiting
	Burst      int
	Cache      Cache         // Optional cache for the listings, may be shared between clients
	CacheTTL   time.Duration // Lifetime of cached listings
	Network    string        // Network the listings are requested for; part of the cache scope
	Retry      *util.RetryConfig
	Metrics    *metrics.Collector
	HTTPClient *http.Client
}

// APIClient is a bearer-authenticated client for the metadata backend
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      Cache
	cacheTTL   time.Duration
	network    string
	retry      *util.RetryConfig
	metrics    *metrics.Collector

	mu     sync.RWMutex
	apiKey string
}

// NewAPIClient creates a client authenticated with apiKey
func NewAPIClient(apiKey string, opts Options) *APIClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Retry == nil {
		opts.Retry = util.DefaultRetryConfig()
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &APIClient{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		limiter:    limiter,
		cache:      opts.Cache,
		cacheTTL:   opts.CacheTTL,
		network:    opts.Network,
		retry:      opts.Retry,
		metrics:    opts.Metrics,
		apiKey:     apiKey,
	}
}

// UpdateAPIKey switches the bearer token used by later requests. The
// listings cached under the previous key are dropped.
func (c *APIClient) UpdateAPIKey(apiKey string) {
	c.mu.Lock()
	previous := c.apiKey
	c.apiKey = apiKey
	c.mu.Unlock()

	if c.cache != nil && previous != apiKey {
		ctx := context.Background()
		for _, endpoint := range []string{EndpointStrategies, EndpointTokens} {
			if err := c.cache.Delete(ctx, c.cacheKey(previous, endpoint)); err != nil {
				logging.Debug("cache delete failed", "endpoint", endpoint, logging.Err(err))
			}
		}
	}
	logging.Info("api key updated", logging.Component("api-client"))
}

func (c *APIClient) currentKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// GetStrategies lists the yield strategies offered to this API key
func (c *APIClient) GetStrategies(ctx context.Context) ([]types.Strategy, error) {
	resp, err := cachedGet[types.StrategiesResponse](ctx, c, EndpointStrategies, "Failed to fetch strategies")
	if err != nil {
		return nil, err
	}
	return resp.Strategies, nil
}

// GetTokens lists the whitelisted deposit tokens
func (c *APIClient) GetTokens(ctx context.Context) ([]types.Token, error) {
	resp, err := cachedGet[types.TokensResponse](ctx, c, EndpointTokens, "Failed to fetch tokens")
	if err != nil {
		return nil, err
	}
	return resp.Tokens, nil
}

// PrepareTransaction asks the backend to assemble a deposit call
func (c *APIClient) PrepareTransaction(ctx context.Context, req types.PrepareTransactionRequest) (*types.PreparedTransaction, error) {
	return do[types.PreparedTransaction](ctx, c, http.MethodPost, EndpointPrepareTransaction, req, "Failed to prepare transaction")
}

// TrackReferral attributes a confirmed stake to a referral code
func (c *APIClient) TrackReferral(ctx context.Context, req types.ReferralTrackingRequest) error {
	_, err := do[json.RawMessage](ctx, c, http.MethodPost, EndpointTrackReferral, req, "Failed to track referral")
	if errors.Is(err, errEmptyData) {
		return nil
	}
	return err
}

// ValidateAPIKey performs an authenticated call and reports INVALID_API_KEY
// when the backend refuses the key.
func (c *APIClient) ValidateAPIKey(ctx context.Context) error {
	if !IsValidAPIKeyFormat(c.currentKey()) {
		return types.NewWidgetError(types.ErrInvalidAPIKey, "")
	}
	_, err := do[types.StrategiesResponse](ctx, c, http.MethodGet, EndpointStrategies, nil, "Failed to validate API key")
	return err
}

var errEmptyData = errors.New("backend returned no data")

// cacheKey scopes a listing to the backend, network and API key it was
// fetched with. The key itself is only stored as a hash.
func (c *APIClient) cacheKey(apiKey, endpoint string) string {
	scope := crypto.Keccak256Hash([]byte(c.baseURL + "|" + c.network + "|" + apiKey))
	return "api:" + scope.Hex()[2:18] + endpoint
}

// cachedGet serves a listing from the cache, fetching it with retries on a miss.
// Only transport failures are retried.
func cachedGet[T any](ctx context.Context, c *APIClient, endpoint, failMsg string) (*T, error) {
	key := c.cacheKey(c.currentKey(), endpoint)
	if c.cache != nil {
		var cached T
		err := c.cache.Get(ctx, key, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			logging.Warn("cache read failed", "endpoint", endpoint, logging.Err(err))
		}
	}

	out, result := util.RetryWithValue(ctx, c.retry, func() (*T, error) {
		out, err := do[T](ctx, c, http.MethodGet, endpoint, nil, failMsg)
		if err != nil && types.CodeOf(err) != types.ErrNetwork {
			return nil, util.MarkNonRetryable(err)
		}
		return out, err
	})
	if result.LastError != nil {
		if we, ok := types.AsWidgetError(result.LastError); ok {
			return nil, we
		}
		return nil, types.WrapWidgetError(types.ErrNetwork, "", result.LastError)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, out, c.cacheTTL); err != nil {
			logging.Warn("cache write failed", "endpoint", endpoint, logging.Err(err))
		}
	}
	return out, nil
}

// do performs an authenticated request and unwraps the response envelope.
// Every failure is a *types.WidgetError.
func do[T any](ctx context.Context, c *APIClient, method, endpoint string, body any, failMsg string) (*T, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, types.WrapWidgetError(types.ErrNetwork, "", err)
		}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, types.WrapWidgetError(types.ErrUnknown, failMsg, fmt.Errorf("failed to marshal request: %w", err))
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, types.WrapWidgetError(types.ErrUnknown, failMsg, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.currentKey())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveAPIRequest(endpoint, 0, time.Since(start))
		logging.Warn("api request failed",
			"endpoint", endpoint,
			logging.Err(err),
			logging.Component("api-client"))
		return nil, types.WrapWidgetError(types.ErrNetwork, "", err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveAPIRequest(endpoint, resp.StatusCode, time.Since(start))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, types.WrapWidgetError(types.ErrNetwork, "", fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		logging.Warn("api key rejected",
			"endpoint", endpoint,
			"status", resp.StatusCode,
			logging.Component("api-client"))
		return nil, types.NewWidgetError(types.ErrInvalidAPIKey, "")
	}

	var envelope types.APIResponse[T]
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		if resp.StatusCode >= 400 {
			return nil, types.WrapWidgetError(types.ErrUnknown, failMsg,
				fmt.Errorf("API error (%d): %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
		}
		return nil, types.WrapWidgetError(types.ErrUnknown, failMsg, fmt.Errorf("failed to parse response: %w", err))
	}

	if !envelope.Success || resp.StatusCode >= 400 {
		we := types.NewWidgetError(types.ErrUnknown, failMsg)
		if envelope.Error != nil {
			if envelope.Error.Message != "" {
				we.Message = envelope.Error.Message
			}
			we.Details = *envelope.Error
		}
		return nil, we
	}
	if envelope.Data == nil {
		return nil, types.WrapWidgetError(types.ErrUnknown, failMsg, errEmptyData)
	}
	return envelope.Data, nil
}
