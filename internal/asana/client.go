// Package asana is the resilient gateway to the remote task service. A
// Client keeps one pooled HTTP session, authenticates every request with the
// configured bearer token, and retries rate-limited and transient failures
// according to its RetryPolicy.
package asana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	DefaultAPIURL       = "https://app.asana.com/api/1.0"
	defaultHTTPTimeout  = 30 * time.Second
	defaultPageSize     = 100
	maxErrorBodyBytes   = 4 << 10
	maxIdleConnsPerHost = 16
)

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Logger  *slog.Logger

	// Retry with zero limits never retries; see DefaultRetryPolicy.
	Retry RetryPolicy

	// Transport overrides the pooled base transport, mainly for tests.
	Transport http.RoundTripper
}

// Client talks to the remote task service.
type Client struct {
	baseURL string
	http    *http.Client
	retry   RetryPolicy
	logger  *slog.Logger
}

// NewClient creates a client with a long-lived connection pool.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := cfg.Transport
	if transport == nil {
		pooled := http.DefaultTransport.(*http.Transport).Clone()
		pooled.MaxIdleConnsPerHost = maxIdleConnsPerHost
		transport = pooled
	}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   transport,
		}
	}

	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout, Transport: transport},
		retry:   cfg.Retry.normalized(),
		logger:  logger,
	}
}

// GetTask fetches the fields duesync needs from one task.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp dataEnvelope[Task]
	query := url.Values{"opt_fields": {"name,due_on,custom_fields.name,custom_fields.enum_value.gid,custom_fields.enum_value.name,memberships.section.gid"}}
	err := c.Do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), query, nil, &resp)
	return resp.Data, err
}

// ListSectionTasks returns every task currently in section, following pages.
func (c *Client) ListSectionTasks(ctx context.Context, section string) ([]Resource, error) {
	path := "/sections/" + url.PathEscape(section) + "/tasks"
	var out []Resource
	offset := ""
	for {
		query := url.Values{"limit": {fmt.Sprint(defaultPageSize)}}
		if offset != "" {
			query.Set("offset", offset)
		}
		var page pagedEnvelope[Resource]
		if err := c.Do(ctx, http.MethodGet, path, query, nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Data...)
		if page.NextPage == nil || page.NextPage.Offset == "" {
			return out, nil
		}
		offset = page.NextPage.Offset
	}
}

// UpdateDueDate sets a task's due date.
func (c *Client) UpdateDueDate(ctx context.Context, id, dueOn string) (Task, error) {
	var resp dataEnvelope[Task]
	body := dataEnvelope[dueDateUpdate]{Data: dueDateUpdate{DueOn: dueOn}}
	err := c.Do(ctx, http.MethodPut, "/tasks/"+url.PathEscape(id), nil, body, &resp)
	return resp.Data, err
}

// CreateWebhook subscribes target to events on resource.
func (c *Client) CreateWebhook(ctx context.Context, resource, target string) (Webhook, error) {
	var resp dataEnvelope[Webhook]
	body := dataEnvelope[webhookCreate]{Data: webhookCreate{Resource: resource, Target: target}}
	err := c.Do(ctx, http.MethodPost, "/webhooks", nil, body, &resp)
	return resp.Data, err
}

// ListWebhooks lists webhooks in workspace, optionally filtered by resource.
func (c *Client) ListWebhooks(ctx context.Context, workspace, resource string) ([]Webhook, error) {
	query := url.Values{"workspace": {workspace}}
	if resource != "" {
		query.Set("resource", resource)
	}
	var resp pagedEnvelope[Webhook]
	err := c.Do(ctx, http.MethodGet, "/webhooks", query, nil, &resp)
	return resp.Data, err
}

// DeleteWebhook removes a webhook subscription.
func (c *Client) DeleteWebhook(ctx context.Context, id string) error {
	return c.Do(ctx, http.MethodDelete, "/webhooks/"+url.PathEscape(id), nil, nil, nil)
}

// Do sends one logical request, retrying per the client's RetryPolicy, and
// decodes a successful JSON response into out when out is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = encoded
	}

	rateLimited, transient := 0, 0
	for {
		status, header, respBody, err := c.send(ctx, method, path, query, payload)
		decision := c.retry.Classify(status, header, err)

		switch decision.Kind {
		case DecisionDone:
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode %s %s response: %w", method, path, err)
			}
			return nil

		case DecisionRetryAfter:
			if rateLimited >= c.retry.MaxRateLimitRetries {
				return &RateLimitError{Method: method, Path: path, Attempts: rateLimited + 1, RetryAfter: decision.Delay}
			}
			rateLimited++
			c.logger.Warn("rate limited; waiting before retry",
				"method", method, "path", path, "retry_after", decision.Delay, "attempt", rateLimited)
			if err := c.retry.Sleep(ctx, decision.Delay); err != nil {
				return err
			}

		case DecisionBackoff:
			if transient >= c.retry.MaxTransientRetries {
				return &TransientError{Method: method, Path: path, Attempts: transient + 1, Status: status, Err: err}
			}
			transient++
			delay := c.retry.Backoff(transient)
			c.logger.Warn("transient failure; backing off",
				"method", method, "path", path, "status", status, "error", err, "delay", delay, "attempt", transient)
			if err := c.retry.Sleep(ctx, delay); err != nil {
				return err
			}

		default:
			if err != nil {
				return err
			}
			return newRequestError(method, path, status, respBody)
		}
	}
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload []byte) (int, http.Header, []byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, nil, ctxErr
		}
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, resp.Header, respBody, nil
}

func newRequestError(method, path string, status int, body []byte) error {
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	reqErr := &RequestError{Method: method, Path: path, Status: status, Body: string(body)}
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 {
		messages := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			if e.Message != "" {
				messages = append(messages, e.Message)
			}
		}
		reqErr.Message = strings.Join(messages, "; ")
	}
	if reqErr.Message == "" {
		reqErr.Message = http.StatusText(status)
	}
	return reqErr
}
