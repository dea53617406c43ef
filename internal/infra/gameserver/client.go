package gameserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/VghostS/backNotifications/internal/domain/model"
	"github.com/VghostS/backNotifications/internal/infra/httpclient"
)

const (
	deliveriesPath        = "/v1/deliveries"
	idempotencyKeyHeader  = "X-Idempotency-Key"
	defaultRequestTimeout = 3 * time.Second
)

type Client struct {
	http *resty.Client
}

// RequestError describes a failed delivery call. Retryable is false for
// answers the server will repeat no matter how often it is asked.
type RequestError struct {
	Op         string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Err != nil && e.StatusCode > 0:
		return fmt.Sprintf("%s: status=%d: %v", e.Op, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("%s: status=%d", e.Op, e.StatusCode)
	default:
		return e.Op
	}
}

func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, &RequestError{Op: "create game server client", Err: errors.New("game server url is empty")}
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, &RequestError{Op: "parse game server url", Err: err}
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, &RequestError{Op: "validate game server url", Err: fmt.Errorf("invalid game server url: %s", trimmed)}
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	httpClient := resty.NewWithClient(httpclient.New(timeout)).
		SetBaseURL(strings.TrimRight(trimmed, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if key := strings.TrimSpace(apiKey); key != "" {
		httpClient.SetAuthToken(key)
	}

	return &Client{http: httpClient}, nil
}

// Deliver posts one item delivery. The purchase id travels as idempotency
// key so repeated attempts credit the player once.
func (c *Client) Deliver(ctx context.Context, delivery model.Delivery) error {
	if c == nil || c.http == nil {
		return &RequestError{Op: "deliver item", Err: errors.New("game server client is not initialized")}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(idempotencyKeyHeader, delivery.PurchaseID).
		SetBody(delivery).
		Post(deliveriesPath)
	if err != nil {
		return &RequestError{Op: "deliver item", Retryable: isRetryableTransport(ctx, err), Err: err}
	}
	if resp.IsError() {
		status := resp.StatusCode()
		return &RequestError{
			Op:         "deliver item",
			StatusCode: status,
			Retryable:  status >= http.StatusInternalServerError || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout,
			Err:        fmt.Errorf("game server error: %s", strings.TrimSpace(resp.String())),
		}
	}
	return nil
}

func IsRetryable(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Retryable
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isRetryableTransport(ctx context.Context, err error) bool {
	return ctx.Err() != context.Canceled && !errors.Is(err, context.Canceled)
}
