package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"log/slog"
)

const defaultUserAgent = "concierge-wa-gateway/0.1"

// Config controls how the Evolution client behaves.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
}

// Client wraps the Evolution gateway endpoints the egress worker uses.
// Retries here are off by default: the stream-level requeue owns attempt
// accounting, and a second retry layer would distort it.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
	userAgent  string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("evolution: API key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("evolution: base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
		userAgent:  userAgent,
	}, nil
}

// SendText delivers a text message through the given instance. The number is
// normalized to JID form before sending. A 2xx with an unparseable body still
// counts as delivered; the message id is simply absent.
func (c *Client) SendText(ctx context.Context, instance string, req SendTextRequest) (*SendResponse, error) {
	if strings.TrimSpace(instance) == "" {
		return nil, errors.New("evolution: instance required")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	req.Number = NormalizeJID(req.Number)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("evolution: marshal sendText body: %w", err)
	}
	data, err := c.invoke(ctx, http.MethodPost, "/message/sendText/"+url.PathEscape(instance), body)
	if err != nil {
		return nil, err
	}
	var resp SendResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Warn("evolution sendText: unparseable 2xx body", "instance", instance, "error", err)
		return &SendResponse{}, nil
	}
	return &resp, nil
}

// ConnectionState reports the instance's gateway connection state.
func (c *Client) ConnectionState(ctx context.Context, instance string) (string, error) {
	if strings.TrimSpace(instance) == "" {
		return "", errors.New("evolution: instance required")
	}
	data, err := c.invoke(ctx, http.MethodGet, "/instance/connectionState/"+url.PathEscape(instance), nil)
	if err != nil {
		return "", err
	}
	var resp connectionStateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("evolution: decode connection state: %w", err)
	}
	return resp.state(), nil
}

// SendPresence publishes a typing/offline hint in the recipient's chat.
func (c *Client) SendPresence(ctx context.Context, instance string, req PresenceRequest) error {
	if strings.TrimSpace(instance) == "" {
		return errors.New("evolution: instance required")
	}
	if err := req.validate(); err != nil {
		return err
	}
	req.Number = NormalizeJID(req.Number)
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("evolution: marshal presence body: %w", err)
	}
	_, err = c.invoke(ctx, http.MethodPost, "/chat/sendPresence/"+url.PathEscape(instance), body)
	return err
}

// SendLocation shares a pinned location through the given instance.
func (c *Client) SendLocation(ctx context.Context, instance string, req SendLocationRequest) (*SendResponse, error) {
	if strings.TrimSpace(instance) == "" {
		return nil, errors.New("evolution: instance required")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	req.Number = NormalizeJID(req.Number)
	return c.sendEnvelope(ctx, "/message/sendLocation/"+url.PathEscape(instance), req)
}

// SendButtons sends an interactive button message.
func (c *Client) SendButtons(ctx context.Context, instance string, req SendButtonsRequest) (*SendResponse, error) {
	if strings.TrimSpace(instance) == "" {
		return nil, errors.New("evolution: instance required")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	req.Number = NormalizeJID(req.Number)
	return c.sendEnvelope(ctx, "/message/sendButtons/"+url.PathEscape(instance), req)
}

// SendTemplate sends a pre-approved template message.
func (c *Client) SendTemplate(ctx context.Context, instance string, req SendTemplateRequest) (*SendResponse, error) {
	if strings.TrimSpace(instance) == "" {
		return nil, errors.New("evolution: instance required")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	req.Number = NormalizeJID(req.Number)
	return c.sendEnvelope(ctx, "/message/sendTemplate/"+url.PathEscape(instance), req)
}

func (c *Client) sendEnvelope(ctx context.Context, path string, payload any) (*SendResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("evolution: marshal send body: %w", err)
	}
	data, err := c.invoke(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	var resp SendResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return &SendResponse{}, nil
	}
	return &resp, nil
}

func (c *Client) invoke(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("evolution: build request: %w", err)
		}
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !shouldRetry(0, err) || attempt == c.maxRetries {
				return nil, fmt.Errorf("evolution: http error: %w", err)
			}
			lastErr = err
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("evolution: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := decodeAPIError(resp.StatusCode, data)
		if attempt < c.maxRetries && shouldRetry(resp.StatusCode, nil) {
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("evolution: request failed without response")
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt int, status int, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Warn("evolution retry",
		"path", path,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && status <= 599
}

// APIError carries the gateway's error envelope.
type APIError struct {
	StatusCode int             `json:"status"`
	Message    string          `json:"error"`
	Response   json.RawMessage `json:"response,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("evolution: %s (status=%d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("evolution: http status %d", e.StatusCode)
}

func decodeAPIError(status int, body []byte) error {
	var parsed APIError
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	parsed.StatusCode = status
	return &parsed
}
