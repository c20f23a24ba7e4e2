// Package telegram sends bot replies through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"booksoul/internal/integrations/paramstore"
)

const defaultBaseURL = "https://api.telegram.org"

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type sendPhotoRequest struct {
	ChatID  string `json:"chat_id"`
	Photo   string `json:"photo"`
	Caption string `json:"caption,omitempty"`
}

// apiResponse is the envelope every Bot API method returns.
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// APIError is a Bot API call that returned ok=false.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s failed with status %d: %s", e.Method, e.StatusCode, e.Description)
}

func (e *APIError) HTTPStatusCode() int {
	return e.StatusCode
}

type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      paramstore.Getter
	paramPrefix string
	limiter     *rate.Limiter
	parseMode   string

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRate paces outbound calls to perSecond requests with a burst of one.
// A non-positive value disables pacing.
func WithRate(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithParseMode sets the parse_mode used for text messages, e.g. "HTML".
func WithParseMode(mode string) Option {
	return func(c *Client) {
		c.parseMode = mode
	}
}

// NewClient creates a Client whose bot token lives in SSM under
// <paramPrefix>/telegram-token.
func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("telegram: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("telegram: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
		limiter:     rate.NewLimiter(rate.Limit(25), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveToken caches the token after the first successful fetch. A failed
// fetch is not cached, so the next call asks SSM again.
func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		return token, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	token, err := paramstore.Token(ctx, c.getter, paramstore.JoinPath(c.paramPrefix, "telegram-token"))
	if err != nil {
		return "", err
	}
	c.token = strings.TrimPrefix(token, "bot")
	return c.token, nil
}

func methodURL(baseURL, token, method string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/bot" + token + "/" + method
}

func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	if strings.TrimSpace(chatID) == "" {
		return errors.New("telegram: chat id must not be empty")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("telegram: text must not be empty")
	}
	return c.call(ctx, "sendMessage", sendMessageRequest{ChatID: chatID, Text: text, ParseMode: c.parseMode})
}

// SendPhoto sends a photo by URL or file_id with an optional caption.
func (c *Client) SendPhoto(ctx context.Context, chatID, photo, caption string) error {
	if strings.TrimSpace(chatID) == "" {
		return errors.New("telegram: chat id must not be empty")
	}
	if strings.TrimSpace(photo) == "" {
		return errors.New("telegram: photo must not be empty")
	}
	return c.call(ctx, "sendPhoto", sendPhotoRequest{ChatID: chatID, Photo: photo, Caption: caption})
}

func (c *Client) call(ctx context.Context, method string, payload any) error {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("telegram: %s: wait for send slot: %w", method, err)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, methodURL(c.baseURL, token, method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	res, err := httpClient.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("telegram: read %s response: %w", method, err)
	}
	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return &APIError{Method: method, StatusCode: res.StatusCode, Description: "undecodable response"}
	}
	if !out.OK || res.StatusCode < 200 || res.StatusCode >= 300 {
		status := res.StatusCode
		if out.ErrorCode != 0 {
			status = out.ErrorCode
		}
		return &APIError{Method: method, StatusCode: status, Description: out.Description}
	}
	return nil
}
