package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	DefaultBaseURL  = "https://api.spotify.com/v1"
	DefaultTokenURL = "https://accounts.spotify.com/api/token"
	DefaultTimeout  = 10 * time.Second
	maxSearchLimit  = 50
)

var (
	// ErrNotFound is returned by GetTrack for unknown ids.
	ErrNotFound = errors.New("track not found")
	// ErrUnauthorized means the client credentials were rejected.
	ErrUnauthorized = errors.New("unauthorized")
)

// Config configures catalog access.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Market       string
	Timeout      time.Duration
	// HTTPClient is the base transport for both token and API calls.
	HTTPClient *http.Client
}

// Client performs authenticated catalog reads. The access token is fetched with the
// client-credentials grant under the caller's context and reused until it expires.
type Client struct {
	httpClient  *http.Client
	tokenClient *http.Client
	creds       *clientcredentials.Config
	baseURL     string
	market      string
	timeout     time.Duration

	// tokenSem admits one token fetch at a time; waiters give up with their ctx.
	tokenSem chan struct{}
	token    *oauth2.Token
}

// NewClient builds a client. Missing credentials fail at request time, not here.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	// The token endpoint gets its own hard limit in case a caller passes a context
	// without a deadline.
	tokenClient := *httpClient
	if tokenClient.Timeout <= 0 || tokenClient.Timeout > timeout {
		tokenClient.Timeout = timeout
	}

	return &Client{
		httpClient:  httpClient,
		tokenClient: &tokenClient,
		creds: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		baseURL:  baseURL,
		market:   strings.TrimSpace(cfg.Market),
		timeout:  timeout,
		tokenSem: make(chan struct{}, 1),
	}
}

// accessToken returns the cached token or fetches a new one bounded by ctx.
func (c *Client) accessToken(ctx context.Context) (*oauth2.Token, error) {
	select {
	case c.tokenSem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch access token: %w", ctx.Err())
	}
	defer func() { <-c.tokenSem }()

	if c.token.Valid() {
		return c.token, nil
	}
	token, err := c.creds.Token(context.WithValue(ctx, oauth2.HTTPClient, c.tokenClient))
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, retrieveErr)
		}
		return nil, fmt.Errorf("fetch access token: %w", err)
	}
	c.token = token
	return token, nil
}

// Search returns up to limit tracks for a free-text query in catalog order.
// A blank query returns no tracks without contacting the catalog.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "track")
	params.Set("limit", strconv.Itoa(limit))
	if c.market != "" {
		params.Set("market", c.market)
	}

	var body struct {
		Tracks struct {
			Items []Track `json:"items"`
		} `json:"tracks"`
	}
	if err := c.get(ctx, "/search?"+params.Encode(), &body); err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}

	items := body.Tracks.Items
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// GetTrack fetches one track by catalog id.
func (c *Client) GetTrack(ctx context.Context, id string) (Track, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Track{}, errors.New("catalog get track: empty id")
	}

	path := "/tracks/" + url.PathEscape(id)
	if c.market != "" {
		path += "?market=" + url.QueryEscape(c.market)
	}

	var track Track
	if err := c.get(ctx, path, &track); err != nil {
		return Track{}, fmt.Errorf("catalog get track %q: %w", id, err)
	}
	return track, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	token.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("rate limited (retry after %s)", resp.Header.Get("Retry-After"))
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
