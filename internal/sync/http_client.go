package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"example.com/healthsync/internal/domain"
)

const (
	maxAttempts    = 4
	baseRetryDelay = 500 * time.Millisecond
	requestTimeout = 15 * time.Second
)

// HTTPClient is a generic pull client for provider APIs that expose a
// paginated pending-events endpoint. Responses are expected as a JSON array
// of event objects; each element is forwarded verbatim to the adapter for
// that provider.
type HTTPClient struct {
	provider   domain.Provider
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient constructs a pull client for one provider.
func NewHTTPClient(provider domain.Provider, baseURL string) *HTTPClient {
	return &HTTPClient{
		provider: provider,
		baseURL:  baseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Provider returns the provider this client pulls for.
func (c *HTTPClient) Provider() domain.Provider {
	return c.provider
}

// Fetch retrieves events recorded after since for the given connection.
// Transient failures are retried with exponential backoff; credential
// rejections surface as ErrAuthFailed without retrying.
func (c *HTTPClient) Fetch(ctx context.Context, conn domain.ProviderConnection, since time.Time) ([][]byte, error) {
	endpoint := fmt.Sprintf("%s/events?%s", c.baseURL, url.Values{
		"user_id": {conn.ProviderUserID},
		"since":   {since.UTC().Format(time.RFC3339)},
	}.Encode())

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := baseRetryDelay << uint(attempt-2)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		payloads, retryable, err := c.fetchOnce(ctx, endpoint, conn.AccessToken)
		if err == nil {
			return payloads, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetch %s after %d attempts: %w", c.provider, maxAttempts, lastErr)
}

func (c *HTTPClient) fetchOnce(ctx context.Context, endpoint, token string) (payloads [][]byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, false, ErrAuthFailed
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("provider returned %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("provider returned %d: %s", resp.StatusCode, body)
	}

	var events []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, false, fmt.Errorf("decode events: %w", err)
	}

	payloads = make([][]byte, 0, len(events))
	for _, ev := range events {
		payloads = append(payloads, []byte(ev))
	}
	return payloads, false, nil
}
