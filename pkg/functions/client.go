// Package functions calls the backend's callable functions that insert,
// update and delete notification token records.
//
// Wire format: POST {base}/{region}/{name} with body {"data": ...}.
// Success is {"result": ...}; failure is {"error": {"status", "message"}}.
package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/observability"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/retry"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/util/resiliency"
)

// Function names.
const (
	InsertOrUpdateTokenFunction = "user-insertOrUpdateNotificationToken"
	DeleteTokenFunction         = "user-deleteNotificationToken"
)

// TokenSource supplies the caller's bearer ID token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed TokenSource.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// Options configures a Client.
type Options struct {
	BaseURL              string
	InsertOrUpdateRegion string
	DeleteRegion         string
	Tokens               TokenSource
	HTTPClient           *http.Client
	Retry                retry.Policy
	Breaker              *resiliency.CircuitBreaker
	Sleep                retry.Sleeper
	Observability        *observability.Provider
}

// Client is safe for concurrent use.
type Client struct {
	opts   Options
	logger *slog.Logger
}

func NewClient(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultPolicy
	}
	if opts.Breaker == nil {
		opts.Breaker = resiliency.NewCircuitBreaker("functions", 5, 30*time.Second)
	}
	if opts.Observability == nil {
		opts.Observability = observability.Nop()
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Client{
		opts:   opts,
		logger: slog.Default().With("component", "functions"),
	}
}

// WithLogger overrides the logger.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	c.logger = l
	return c
}

// InsertOrUpdate creates or replaces the record for (userID, tokenID).
// The backend stamps the modification date.
func (c *Client) InsertOrUpdate(ctx context.Context, userID, tokenID string, rec contracts.RegistrationRecord) error {
	body := contracts.NewInsertOrUpdateTokenBody(userID, tokenID, rec)
	return c.call(ctx, c.opts.InsertOrUpdateRegion, InsertOrUpdateTokenFunction, tokenID, body)
}

// Delete removes the record for (userID, tokenID). Deleting a missing
// record succeeds.
func (c *Client) Delete(ctx context.Context, userID, tokenID string) error {
	body := contracts.DeleteTokenBody{UserID: userID, TokenID: tokenID}
	return c.call(ctx, c.opts.DeleteRegion, DeleteTokenFunction, tokenID, body)
}

func (c *Client) call(ctx context.Context, region, name, key string, data any) (err error) {
	ctx, finish := c.opts.Observability.TrackOperation(ctx, "functions.call",
		observability.FunctionOperation(name, region)...)
	defer func() { finish(err) }()

	payload, err := json.Marshal(callRequest{Data: data})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", name, err)
	}
	url := fmt.Sprintf("%s/%s/%s", c.opts.BaseURL, region, name)

	return retry.Do(ctx, retry.Params{Operation: name, Key: key}, c.opts.Retry, c.opts.Sleep, Retryable,
		func(ctx context.Context) error {
			return c.opts.Breaker.Execute(ctx, Retryable, func(ctx context.Context) error {
				return c.post(ctx, url, name, payload)
			})
		})
}

func (c *Client) post(ctx context.Context, url, name string, payload []byte) error {
	if c.opts.Tokens == nil {
		return ErrNoToken
	}
	token, err := c.opts.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoToken, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "function transport error", "function", name, "error", err)
		return fmt.Errorf("call %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", name, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.DebugContext(ctx, "function call succeeded", "function", name)
		return nil
	}

	ce := &CallError{Function: name, HTTPStatus: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	var body callResponse
	if json.Unmarshal(raw, &body) == nil && body.Error != nil {
		ce.Status = body.Error.Status
		ce.Message = body.Error.Message
	}
	c.logger.WarnContext(ctx, "function call failed",
		"function", name, "http_status", ce.HTTPStatus, "status", ce.Status, "message", ce.Message)
	return ce
}

type callRequest struct {
	Data any `json:"data"`
}

type callResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *callErrorBody  `json:"error,omitempty"`
}

type callErrorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
