package kook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sony/gobreaker"
	"github.com/webitel/kook-mirror-service/config"
)

// ErrAPI matches every error the platform reports inside a well-formed envelope.
var ErrAPI = errors.New("kook: api error")

// APIError is a non-zero envelope code. It does not trip the breaker: the platform answered.
type APIError struct {
	Path    string
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kook: %s: code %d: %s", e.Path, e.Code, e.Message)
}

func (e *APIError) Is(target error) bool { return target == ErrAPI }

// StatusError is a transport-level failure (non-2xx without an envelope).
type StatusError struct {
	Path   string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("kook: %s: http status %d", e.Path, e.Status)
}

// envelope is the {code, message, data} wrapper of every response.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client is the HTTP API client of the platform, guarded by a circuit breaker.
type Client struct {
	base     *url.URL
	token    string
	pageSize int
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.Kook.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("kook: base url: %w", err)
	}
	logger = logger.With("component", "kook_client")

	// [RESILIENCE] Trip after consecutive transport failures; API-level errors count as success.
	threshold := cfg.Breaker.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kook-api",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrAPI) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("CIRCUIT_BREAKER_STATE_CHANGED", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		base:     base,
		token:    cfg.Kook.Token,
		pageSize: cfg.Sync.PageSize,
		http:     &http.Client{Timeout: cfg.Kook.Timeout},
		breaker:  breaker,
		logger:   logger,
	}, nil
}

// Close releases pooled connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.call(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, method, path, query, body, out)
	})
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.base.JoinPath(path)
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("kook: %s: encode body: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("kook: %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("kook: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kook: %s: read body: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &StatusError{Path: path, Status: resp.StatusCode}
		}
		return fmt.Errorf("kook: %s: decode envelope: %w", path, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return &StatusError{Path: path, Status: resp.StatusCode}
	}
	if env.Code != 0 {
		return &APIError{Path: path, Code: env.Code, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("kook: %s: decode data: %w", path, err)
	}
	return nil
}

func (c *Client) pageQuery(page int) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(c.pageSize))
	return q
}
