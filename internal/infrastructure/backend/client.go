package backend

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
	"time"

	"admin-dashboard/internal/domain"
	"admin-dashboard/internal/ports"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/google/uuid"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 32 << 20
)

type Config struct {
	BaseURL string
	Timeout time.Duration
	// Tracing wraps the transport with X-Ray subsegments.
	Tracing bool
	Metrics ports.Metrics
	Logger  ports.Logger
	// MaxBodyBytes caps response bodies; larger ones fail with ErrBodyTooLarge.
	MaxBodyBytes int64
}

// Client talks to the analytics backend. The zero-credential Client serves
// the auth calls; Bind returns a copy that authenticates every request.
type Client struct {
	base    *url.URL
	http    *http.Client
	metrics ports.Metrics
	logger  ports.Logger
	creds   ports.Credentials
	maxBody int64
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NopMetrics{}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = maxBodyBytes
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.Tracing {
		httpClient = xray.Client(httpClient)
	}
	return &Client{base: base, http: httpClient, metrics: cfg.Metrics, logger: cfg.Logger, maxBody: cfg.MaxBodyBytes}, nil
}

func (c *Client) Bind(creds ports.Credentials) ports.SessionAPI {
	bound := *c
	bound.creds = creds
	return &bound
}

type request struct {
	method      string
	path        string
	route       string
	query       url.Values
	body        io.Reader
	contentType string
	token       string
	accept      string
}

func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	u := *c.base
	u.Path = c.base.Path + r.path
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), r.body)
	if err != nil {
		return nil, err
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.accept == "" {
		r.accept = "application/json"
	}
	req.Header.Set("Accept", r.accept)
	req.Header.Set("X-Request-ID", uuid.NewString())

	authenticated := r.token != ""
	if !authenticated && c.creds != nil {
		token, err := c.creds.Token(ctx)
		if err != nil {
			return nil, err
		}
		r.token = token
		authenticated = true
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	route := r.route
	if route == "" {
		route = r.path
	}
	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.BackendRequest(r.method, route, 0, time.Since(started).Seconds())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%s %s: %w: %v", r.method, route, domain.ErrTransport, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	c.metrics.BackendRequest(r.method, route, resp.StatusCode, time.Since(started).Seconds())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%s %s: %w: %v", r.method, route, domain.ErrTransport, err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%s %s: %w", r.method, route, ErrBodyTooLarge)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &domain.APIError{Status: resp.StatusCode, Detail: errorDetail(body)}
		if resp.StatusCode == http.StatusUnauthorized && authenticated && c.creds != nil {
			c.creds.Invalidate(ctx)
		}
		if c.logger != nil {
			c.logger.Debug(ctx, "backend error response", "method", r.method, "route", route, "status", resp.StatusCode, "detail", apiErr.Detail)
		}
		return nil, apiErr
	}
	return body, nil
}

// errorDetail extracts {"detail": "..."}, {"detail": [{"msg": "..."}]} or {"message": "..."}.
func errorDetail(body []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(payload.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}

func decode[T any](body []byte) (T, error) {
	var out T
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("decode backend response: %w", err)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path, route string, query url.Values) ([]byte, error) {
	return c.do(ctx, request{method: http.MethodGet, path: path, route: route, query: query})
}

func (c *Client) postJSON(ctx context.Context, path, route string, query url.Values, payload any) ([]byte, error) {
	r := request{method: http.MethodPost, path: path, route: route, query: query}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		r.body = bytes.NewReader(raw)
		r.contentType = "application/json"
	}
	return c.do(ctx, r)
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

var (
	errNoToken      = errors.New("login response carried no access token")
	ErrBodyTooLarge = errors.New("backend response exceeds the size limit")
)
