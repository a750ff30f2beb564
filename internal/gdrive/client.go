package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// Default endpoints.
const (
	DefaultBaseURL   = "https://www.googleapis.com/drive/v3"
	DefaultUploadURL = "https://www.googleapis.com/upload/drive/v3"
	userAgent        = "gdrive-replicate/0.1"
)

// TokenSource provides OAuth2 bearer tokens.
type TokenSource interface {
	Token() (string, error)
}

// Client is an HTTP client for the Drive v3 API. Every method performs a
// single HTTP exchange and returns a classified error on failure.
type Client struct {
	baseURL    string
	uploadURL  string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
}

// NewClient creates a Drive client. Empty URLs select the public endpoints.
func NewClient(baseURL, uploadURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if uploadURL == "" {
		uploadURL = DefaultUploadURL
	}

	return &Client{
		baseURL:    baseURL,
		uploadURL:  uploadURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
	}
}

// request describes one HTTP exchange. op names the call in logs and errors;
// URLs are never logged because upload session URLs are bearer capabilities.
type request struct {
	op     string
	method string
	url    string
	header http.Header
	body   io.Reader
	noAuth bool
}

// do runs one exchange. Any status below 400 is returned to the caller with
// the body open; everything else becomes an *APIError.
func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	body := r.body
	if body == nil {
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, fmt.Errorf("gdrive: %s: creating request: %w", r.op, err)
	}

	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	req.Header.Set("User-Agent", userAgent)

	if !r.noAuth {
		tok, tokErr := c.token.Token()
		if tokErr != nil {
			if ctx.Err() == nil && !errors.Is(tokErr, ErrUnauthorized) && !Classify(tokErr).Retryable() {
				tokErr = fmt.Errorf("%w: %w", ErrUnauthorized, tokErr)
			}

			return nil, fmt.Errorf("gdrive: %s: %w", r.op, tokErr)
		}

		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("gdrive: %s canceled: %w", r.op, ctx.Err())
		}

		c.logger.Debug("request failed in transport",
			slog.String("op", r.op),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("%w: %s: %w", ErrTransport, r.op, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := newAPIError(resp)

		c.logger.Debug("request returned error status",
			slog.String("op", r.op),
			slog.Int("status", apiErr.StatusCode),
			slog.String("reason", apiErr.Reason),
		)

		return nil, apiErr
	}

	c.logger.Debug("request succeeded",
		slog.String("op", r.op),
		slog.Int("status", resp.StatusCode),
	)

	return resp, nil
}

// apiURL joins a path under the metadata endpoint with query parameters.
// supportsAllDrives is always set so shared-drive items resolve.
func (c *Client) apiURL(path string, q url.Values) string {
	return joinURL(c.baseURL, path, q)
}

func (c *Client) uploadAPIURL(path string, q url.Values) string {
	return joinURL(c.uploadURL, path, q)
}

func joinURL(base, path string, q url.Values) string {
	if q == nil {
		q = url.Values{}
	}

	q.Set("supportsAllDrives", "true")

	return base + path + "?" + q.Encode()
}

// readFailure wraps an error hit while consuming a response body. A body
// cut short by the network is a transport failure.
func readFailure(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("gdrive: %s canceled: %w", op, ctx.Err())
	}

	return fmt.Errorf("%w: %s: reading response: %w", ErrTransport, op, err)
}
