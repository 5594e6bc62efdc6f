// Package plugins provides the per-type policy plugins the manager calls to
// validate, enforce and remove rules: an HTTP client for remote plugin apps
// and an in-process driver for types validated from configuration.
package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/solatis/pmengine/internal/types"
)

// Plugin endpoint operations, appended to <base>/<type>policy/.
const (
	opFormalValidation  = "formalvalidation"
	opContextValidation = "contextvalidation"
	opEnforce           = "enforce"
	opRemove            = "remove"
)

// maxResponseBytes bounds how much of a plugin reply is read as its message.
const maxResponseBytes = 64 << 10

// HTTP calls a remote plugin app. Each operation POSTs the rule as JSON to
// <baseURL>/<type lower>policy/<operation>; status 200 accepts and any other
// status rejects with the response body as the message.
type HTTP struct {
	baseURL  string
	client   *http.Client
	user     string
	password string
	logger   *zap.Logger
}

// HTTPOption configures an HTTP plugin.
type HTTPOption func(*HTTP)

// WithBasicAuth sets credentials sent with every request.
func WithBasicAuth(user, password string) HTTPOption {
	return func(h *HTTP) {
		h.user = user
		h.password = password
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) {
		if c != nil {
			h.client = c
		}
	}
}

// WithHTTPLogger sets the logger. Defaults to zap.NewNop().
func WithHTTPLogger(l *zap.Logger) HTTPOption {
	return func(h *HTTP) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHTTP creates an HTTP plugin rooted at baseURL with the given request timeout.
func NewHTTP(baseURL string, timeout time.Duration, opts ...HTTPOption) (*HTTP, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL cannot be empty")
	}
	h := &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *HTTP) FormalValidation(ctx context.Context, rule types.Rule) error {
	return h.call(ctx, opFormalValidation, rule)
}

func (h *HTTP) ContextValidation(ctx context.Context, rule types.Rule) error {
	return h.call(ctx, opContextValidation, rule)
}

func (h *HTTP) Enforce(ctx context.Context, rule types.Rule) error {
	return h.call(ctx, opEnforce, rule)
}

func (h *HTTP) Remove(ctx context.Context, rule types.Rule) error {
	return h.call(ctx, opRemove, rule)
}

// endpoint returns the URL of an operation for a policy type.
func (h *HTTP) endpoint(policyType, op string) string {
	return fmt.Sprintf("%s/%spolicy/%s", h.baseURL, strings.ToLower(policyType), op)
}

func (h *HTTP) call(ctx context.Context, op string, rule types.Rule) error {
	body, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}

	url := h.endpoint(rule.Type, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain")
	if h.user != "" {
		req.SetBasicAuth(h.user, h.password)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Warn("plugin unreachable", zap.String("url", url), zap.Error(err))
		return fmt.Errorf("plugin %s unreachable: %w", op, err)
	}
	defer resp.Body.Close()

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	h.logger.Debug("plugin call",
		zap.String("url", url),
		zap.Int("id", rule.ID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		text := strings.TrimSpace(string(msg))
		if text == "" {
			text = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%s rejected (status %d): %s", op, resp.StatusCode, text)
	}
	return nil
}
