package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds one upload+response round trip.
	DefaultTimeout = 12 * time.Second
	uploadField    = "upload_file"
	maxBodyBytes   = 4 << 20
)

// Config configures provider access.
type Config struct {
	Endpoint   string
	APIHost    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client uploads samples to a RapidAPI Shazam-compatible endpoint.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiHost    string
	apiKey     string
	timeout    time.Duration
}

func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: httpClient,
		endpoint:   strings.TrimSpace(cfg.Endpoint),
		apiHost:    strings.TrimSpace(cfg.APIHost),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		timeout:    timeout,
	}
}

// Recognize uploads the sample at sampleURI. It returns (nil, nil) when the provider
// found no song; every other failure matches ErrRecognitionFailed.
func (c *Client) Recognize(ctx context.Context, sampleURI string) (*Match, error) {
	if c.endpoint == "" {
		return nil, failure("configure", errors.New("recognition endpoint is not configured"))
	}

	body, contentType, err := buildUpload(sampleURI)
	if err != nil {
		return nil, failure("read sample", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, failure("build request", err)
	}
	req.Header.Set("Content-Type", contentType)
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, failure("upload", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, failure("read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, failure("upload", fmt.Errorf("status %d: %s", resp.StatusCode, snippet(payload)))
	}

	var wire wireResponse
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, failure("decode response", err)
	}
	match, err := wire.toMatch()
	if err != nil {
		return nil, failure("validate response", err)
	}
	return match, nil
}

// Probe issues an authenticated GET against probeURL and reports whether the provider
// accepted the credentials.
func (c *Client) Probe(ctx context.Context, probeURL string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("x-rapidapi-key", c.apiKey)
	req.Header.Set("x-rapidapi-host", c.apiHost)
}

// buildUpload wraps the WAV file at sampleURI in a multipart form.
func buildUpload(sampleURI string) (io.Reader, string, error) {
	path := strings.TrimPrefix(sampleURI, "file://")
	if path == "" {
		return nil, "", errors.New("empty sample uri")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, uploadField, "sample.wav"))
	header.Set("Content-Type", "audio/wav")
	part, err := form.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", err
	}
	if err := form.Close(); err != nil {
		return nil, "", err
	}
	return &buf, form.FormDataContentType(), nil
}

func snippet(payload []byte) string {
	text := strings.TrimSpace(string(payload))
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return text
}
