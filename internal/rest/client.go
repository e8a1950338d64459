// Package rest is the client of the backend's chat and image endpoints.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/taptoon/taptoon-fe/internal/chaterr"
	"github.com/taptoon/taptoon-fe/internal/identity"
	"go.uber.org/zap"
)

// maxErrorBody bounds how much of a failed response is kept for the error.
const maxErrorBody = 4 << 10

// envelope wraps every backend response.
type envelope struct {
	SuccessOrFail bool            `json:"success_or_fail"`
	Message       string          `json:"message"`
	Data          json.RawMessage `json:"data"`
}

// Options configures a Client.
type Options struct {
	BaseURL string
	// UploadDirectories maps a post/portfolio scope to the storage directory
	// sent with /images/upload.
	UploadDirectories map[string]string
	ImageFileType     string
	Timeout           time.Duration
}

// Client calls the backend on behalf of one identity.
type Client struct {
	base   string
	id     identity.Identity
	opts   Options
	http   *http.Client
	logger *zap.Logger
}

// New creates a client. A zero Timeout means 30s.
func New(opts Options, id identity.Identity, logger *zap.Logger) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(opts.BaseURL, "/"),
		id:     id,
		opts:   opts,
		http:   &http.Client{Timeout: opts.Timeout},
		logger: logger,
	}
}

// Identity returns the identity requests are made with.
func (c *Client) Identity() identity.Identity {
	return c.id
}

// call performs an authenticated JSON request and returns the envelope's data.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body any) (json.RawMessage, error) {
	raw, status, err := c.do(ctx, op, method, path, query, body)
	if err != nil {
		return nil, err
	}
	return decodeEnvelope(op, status, raw)
}

// do performs an authenticated request and returns the raw body and status.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any) ([]byte, int, error) {
	if c.id.Token == "" {
		return nil, 0, &chaterr.AuthRequiredError{Op: op}
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.id.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: read response: %w", op, err)
	}
	c.logger.Debug("backend call",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	return raw, resp.StatusCode, nil
}

func decodeEnvelope(op string, status int, raw []byte) (json.RawMessage, error) {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, &chaterr.AuthRequiredError{Op: op}
	}

	var env envelope
	envErr := json.Unmarshal(raw, &env)

	if status < 200 || status > 299 {
		msg := env.Message
		if envErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw[:min(len(raw), maxErrorBody)]))
		}
		return nil, &chaterr.APIError{Op: op, Status: status, Message: msg}
	}
	if envErr != nil {
		return nil, &chaterr.DecodeError{Source: op, Err: envErr}
	}
	if !env.SuccessOrFail {
		return nil, &chaterr.APIError{Op: op, Status: status, Message: env.Message}
	}
	return env.Data, nil
}

func roomPath(roomID string, rest ...string) string {
	parts := append([]string{"/chats", url.PathEscape(roomID)}, rest...)
	return strings.Join(parts, "/")
}
