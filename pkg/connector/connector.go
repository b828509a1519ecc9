// Package connector implements the gateway's tool-execution registry
// (spec §4.E): mock, webhook, and generic-http connectors behind a common
// execute(params) contract, with a fail-closed domain allow-list for any
// connector that makes an outbound HTTP call.
package connector

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

	"github.com/amakua/uapk-gateway/pkg/canonicalize"
	"github.com/amakua/uapk-gateway/pkg/gwerr"
)

const DefaultTimeout = 30 * time.Second

// Result is a connector invocation's outcome (spec §4.E).
type Result struct {
	Success    bool                   `json:"success"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      *ExecError             `json:"error,omitempty"`
	StatusCode int                    `json:"status_code,omitempty"`
	DurationMs int64                  `json:"duration_ms"`
	ResultHash string                 `json:"result_hash,omitempty"`
}

// ExecError is the CONNECTOR-kind error attached to a failed result.
type ExecError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Connector is the minimal polymorphic surface every connector type
// implements — a tagged variant rather than a deep interface hierarchy,
// since the only operation any tool executor needs is execute(params).
type Connector interface {
	Execute(ctx context.Context, params map[string]interface{}) Result
}

// Config describes one configured tool's connector binding, resolved from
// the manifest's tool definition.
type Config struct {
	Type           string            // "mock", "webhook", "generic-http"
	URL            string            // webhook target, or generic-http URL template
	Method         string            // generic-http only; defaults to POST
	Headers        map[string]string
	Secrets        map[string]string // resolved name -> plaintext, injected per invocation
	Timeout        time.Duration
	AllowedDomains []string // connector-local allow-list; falls back to the registry default

	// Mock-only knobs.
	MockResponse map[string]interface{}
	MockDelay    time.Duration
	MockFail     bool
	MockFailCode string
}

// Registry resolves and builds connectors by connector_type, enforcing the
// registry-wide default domain allow-list when a connector config doesn't
// carry its own.
type Registry struct {
	defaultAllowedDomains []string
	defaultTimeout        time.Duration
	httpClient            *http.Client
}

// NewRegistry builds a registry. An empty defaultAllowedDomains denies every
// domain-based connector that doesn't supply its own allow-list (fail-closed).
func NewRegistry(defaultAllowedDomains []string, defaultTimeout time.Duration) *Registry {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Registry{
		defaultAllowedDomains: defaultAllowedDomains,
		defaultTimeout:        defaultTimeout,
		httpClient:            &http.Client{},
	}
}

// Build constructs a Connector for the given config.
func (r *Registry) Build(cfg Config) (Connector, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	allowed := cfg.AllowedDomains
	if allowed == nil {
		allowed = r.defaultAllowedDomains
	}

	switch cfg.Type {
	case "mock":
		return &mockConnector{cfg: cfg}, nil
	case "webhook":
		return &webhookConnector{cfg: cfg, timeout: timeout, allowed: allowed, client: r.httpClient}, nil
	case "generic-http":
		return &genericHTTPConnector{cfg: cfg, timeout: timeout, allowed: allowed, client: r.httpClient}, nil
	default:
		return nil, gwerr.New(gwerr.Connector, gwerr.CodeUnknownError, fmt.Sprintf("unknown connector_type %q", cfg.Type))
	}
}

func computeResultHash(data map[string]interface{}) string {
	if data == nil {
		return ""
	}
	h, err := canonicalize.CanonicalHash(data)
	if err != nil {
		return ""
	}
	return h
}

// --- mock ---

type mockConnector struct{ cfg Config }

func (c *mockConnector) Execute(ctx context.Context, params map[string]interface{}) Result {
	start := time.Now()
	if c.cfg.MockDelay > 0 {
		select {
		case <-time.After(c.cfg.MockDelay):
		case <-ctx.Done():
			return Result{
				Success:    false,
				Error:      &ExecError{Code: gwerr.CodeTimeout, Message: ctx.Err().Error()},
				DurationMs: time.Since(start).Milliseconds(),
			}
		}
	}
	if c.cfg.MockFail {
		code := c.cfg.MockFailCode
		if code == "" {
			code = gwerr.CodeUnknownError
		}
		return Result{
			Success:    false,
			Error:      &ExecError{Code: code, Message: "mock connector configured to fail"},
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	data := c.cfg.MockResponse
	if data == nil {
		data = map[string]interface{}{"echo": params}
	}
	return Result{
		Success:    true,
		Data:       data,
		DurationMs: time.Since(start).Milliseconds(),
		ResultHash: computeResultHash(data),
	}
}

// --- allow-list ---

// checkDomainAllowed enforces the fail-closed allow-list: an empty list
// denies everything (spec §4.E — "an empty allow-list denies everything").
func checkDomainAllowed(rawURL string, allowed []string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return gwerr.New(gwerr.Connector, gwerr.CodeRequestError, fmt.Sprintf("invalid url: %v", err))
	}
	host := u.Hostname()
	for _, d := range allowed {
		if strings.EqualFold(host, d) {
			return nil
		}
	}
	return gwerr.New(gwerr.Connector, gwerr.CodeDomainNotAllowed, fmt.Sprintf("domain %q is not in the allow-list", host))
}

// --- webhook ---

type webhookConnector struct {
	cfg     Config
	timeout time.Duration
	allowed []string
	client  *http.Client
}

func (c *webhookConnector) Execute(ctx context.Context, params map[string]interface{}) Result {
	start := time.Now()

	if err := checkDomainAllowed(c.cfg.URL, c.allowed); err != nil {
		return errResult(err, start)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return errResult(gwerr.Wrap(gwerr.Connector, gwerr.CodeRequestError, "marshal webhook body", err), start)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return errResult(gwerr.Wrap(gwerr.Connector, gwerr.CodeRequestError, "build webhook request", err), start)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	return doRequest(c.client, req, start)
}

// --- generic-http ---

type genericHTTPConnector struct {
	cfg     Config
	timeout time.Duration
	allowed []string
	client  *http.Client
}

func (c *genericHTTPConnector) Execute(ctx context.Context, params map[string]interface{}) Result {
	start := time.Now()

	targetURL := substituteTemplate(c.cfg.URL, params)
	if err := checkDomainAllowed(targetURL, c.allowed); err != nil {
		return errResult(err, start)
	}

	method := c.cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var req *http.Request
	var err error
	if method == http.MethodGet || method == http.MethodDelete {
		u, parseErr := url.Parse(targetURL)
		if parseErr != nil {
			return errResult(gwerr.Wrap(gwerr.Connector, gwerr.CodeRequestError, "parse url", parseErr), start)
		}
		q := u.Query()
		for k, v := range params {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	} else {
		var body []byte
		body, err = json.Marshal(params)
		if err == nil {
			req, err = http.NewRequestWithContext(ctx, method, targetURL, bytes.NewReader(body))
			if req != nil {
				req.Header.Set("Content-Type", "application/json")
			}
		}
	}
	if err != nil {
		return errResult(gwerr.Wrap(gwerr.Connector, gwerr.CodeRequestError, "build request", err), start)
	}

	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	for name, secret := range c.cfg.Secrets {
		req.Header.Set("X-Secret-"+name, secret)
	}

	return doRequest(c.client, req, start)
}

// substituteTemplate replaces "{param}" placeholders in a URL template with
// string-formatted values from params.
func substituteTemplate(tmpl string, params map[string]interface{}) string {
	out := tmpl
	for k, v := range params {
		out = strings.ReplaceAll(out, "{"+k+"}", fmt.Sprintf("%v", v))
	}
	return out
}

func doRequest(client *http.Client, req *http.Request, start time.Time) Result {
	resp, err := client.Do(req)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		code := gwerr.CodeRequestError
		if ctxErr := req.Context().Err(); ctxErr != nil {
			code = gwerr.CodeTimeout
		}
		return Result{
			Success:    false,
			Error:      &ExecError{Code: code, Message: err.Error()},
			DurationMs: duration,
		}
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 400 {
		return Result{
			Success:    false,
			StatusCode: resp.StatusCode,
			Error:      &ExecError{Code: gwerr.HTTPCodeConnector(resp.StatusCode), Message: string(bodyBytes)},
			DurationMs: duration,
		}
	}

	var data map[string]interface{}
	if len(bodyBytes) > 0 {
		if jsonErr := json.Unmarshal(bodyBytes, &data); jsonErr != nil {
			data = map[string]interface{}{"raw": string(bodyBytes)}
		}
	}

	return Result{
		Success:    true,
		StatusCode: resp.StatusCode,
		Data:       data,
		DurationMs: duration,
		ResultHash: computeResultHash(data),
	}
}

func errResult(err error, start time.Time) Result {
	var de *gwerr.Error
	code := gwerr.CodeUnknownError
	msg := err.Error()
	if e, ok := err.(*gwerr.Error); ok {
		de = e
		code = de.Code
	}
	return Result{
		Success:    false,
		Error:      &ExecError{Code: code, Message: msg},
		DurationMs: time.Since(start).Milliseconds(),
	}
}
