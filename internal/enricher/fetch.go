package enricher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"claim-enricher/internal/circuitbreaker"
	"claim-enricher/internal/common/errors"
	commonhttp "claim-enricher/internal/common/http"
	"claim-enricher/internal/common/logging"
)

const (
	fetchTimeout = 10 * time.Second

	// tokenSafetyMargin is subtracted from the server-declared token lifetime
	tokenSafetyMargin = 30 * time.Second

	tokenCacheSweep = 5 * time.Minute
)

// Fetcher performs authenticated GET requests against configured endpoints.
// It holds its own connection pool, a process-wide OAuth2 token cache keyed
// by the raw credential string, and one circuit breaker per remote host.
type Fetcher struct {
	client        *http.Client
	tokens        *gocache.Cache
	breakers      *circuitbreaker.Manager
	tokenBreakers *circuitbreaker.Manager
	logger        logging.Logger
}

// NewFetcher creates a fetcher. A nil client gets a pooled default with the
// standard fetch timeout.
func NewFetcher(client *http.Client, logger logging.Logger) *Fetcher {
	if client == nil {
		client = commonhttp.NewHTTPClientWithTimeout(fetchTimeout)
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Fetcher{
		client:        client,
		tokens:        gocache.New(gocache.NoExpiration, tokenCacheSweep),
		breakers:      circuitbreaker.NewManager(circuitbreaker.HTTPConfig, logger),
		tokenBreakers: circuitbreaker.NewManager(circuitbreaker.OAuthConfig, logger),
		logger:        logger,
	}
}

// Fetch issues one authenticated GET to endpoint URL + queryString and
// returns the raw response body. Any transport failure, auth failure or
// non-2xx status yields an error; error messages never carry the secret
// value or the response body.
func (f *Fetcher) Fetch(ctx context.Context, ep EndpointConfig, queryString string) ([]byte, error) {
	requestURL := ep.URL + queryString

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("invalid endpoint %d URL: %s", ep.Index, requestURL))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	if err := f.applyAuth(ctx, ep, req); err != nil {
		return nil, err
	}

	var body []byte
	breaker := f.breakers.Get(req.URL.Host)
	err = breaker.Execute(func() error {
		resp, doErr := f.client.Do(req)
		if doErr != nil {
			return errors.ConnectionError(
				fmt.Sprintf("endpoint %d request failed for URL %s", ep.Index, requestURL), doErr)
		}
		defer resp.Body.Close()

		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return errors.ConnectionError(
				fmt.Sprintf("endpoint %d response read failed for URL %s", ep.Index, requestURL), readErr)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return errors.ConnectionError(
				fmt.Sprintf("endpoint %d returned HTTP %d for URL %s", ep.Index, resp.StatusCode, requestURL), nil)
		}

		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	return body, nil
}

// applyAuth attaches the authentication header for the endpoint's strategy
func (f *Fetcher) applyAuth(ctx context.Context, ep EndpointConfig, req *http.Request) error {
	switch strings.ToLower(ep.AuthType) {
	case "oauth2":
		token, err := f.resolveOAuth2Token(ctx, ep)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case "basic":
		if strings.TrimSpace(ep.AuthValue) != "" {
			req.Header.Set("Authorization", "Basic "+ep.AuthValue)
		}
	default:
		// apikey
		if strings.TrimSpace(ep.AuthValue) != "" {
			req.Header.Set("X-API-Key", ep.AuthValue)
		}
	}
	return nil
}

// resolveOAuth2Token returns a bearer token for the endpoint's credential
// triple, reusing the cached token while it remains valid. On a cache miss it
// performs a client-credentials exchange and caches the token for the
// server-declared lifetime minus a safety margin. Failures are not cached.
func (f *Fetcher) resolveOAuth2Token(ctx context.Context, ep EndpointConfig) (string, error) {
	if cached, found := f.tokens.Get(ep.AuthValue); found {
		return cached.(string), nil
	}

	parts := strings.SplitN(ep.AuthValue, ":", 3)
	if len(parts) != 3 {
		return "", errors.AuthError(
			fmt.Sprintf("endpoint %d oauth2 credential must be 'clientId:clientSecret:tokenUrl'", ep.Index))
	}
	clientID, clientSecret, tokenURL := parts[0], parts[1], parts[2]

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.AuthError(fmt.Sprintf("endpoint %d token URL is invalid", ep.Index))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var token string
	var expiresIn int64
	breaker := f.tokenBreakers.Get(req.URL.Host)
	err = breaker.Execute(func() error {
		resp, doErr := f.client.Do(req)
		if doErr != nil {
			return errors.ConnectionError(
				fmt.Sprintf("endpoint %d token request failed", ep.Index), doErr)
		}
		defer resp.Body.Close()

		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return errors.ConnectionError(
				fmt.Sprintf("endpoint %d token response read failed", ep.Index), readErr)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return errors.AuthError(
				fmt.Sprintf("endpoint %d token request returned HTTP %d", ep.Index, resp.StatusCode))
		}

		var tokenResp struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int64  `json:"expires_in"`
		}
		if jsonErr := json.Unmarshal(data, &tokenResp); jsonErr != nil {
			return errors.AuthError(fmt.Sprintf("endpoint %d token response is not valid JSON", ep.Index))
		}
		if tokenResp.AccessToken == "" {
			return errors.AuthError(fmt.Sprintf("endpoint %d token response has no access_token", ep.Index))
		}

		token = tokenResp.AccessToken
		expiresIn = tokenResp.ExpiresIn
		return nil
	})
	if err != nil {
		return "", err
	}

	if expiresIn <= 0 {
		expiresIn = 3600
	}
	if ttl := time.Duration(expiresIn)*time.Second - tokenSafetyMargin; ttl > 0 {
		f.tokens.Set(ep.AuthValue, token, ttl)
	}

	return token, nil
}
