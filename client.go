package fondy

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

	"github.com/gatewaykit/fondy/signature"
)

const (
	// DefaultCheckoutEndpoint is the production checkout URL endpoint.
	DefaultCheckoutEndpoint = "https://pay.fondy.eu/api/checkout/url"

	defaultClientTimeout = 30 * time.Second
	maxResponseBytes     = 1 << 20
	errorSnippetBytes    = 512
)

// Client talks to the gateway's checkout API. A single Client is shared by
// every purchase attempt; it is never mutated after construction.
type Client struct {
	httpClient *http.Client
	endpoint   string
	logger     *zap.Logger
}

// ClientOption customizes a [Client].
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithEndpoint overrides the checkout URL endpoint.
func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithClientLogger sets the logger used for request diagnostics.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient builds a [Client] with a pooled *http.Client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultClientTimeout},
		endpoint:   DefaultCheckoutEndpoint,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c
}

// Endpoint returns the configured checkout URL endpoint.
func (c *Client) Endpoint() string { return c.endpoint }

type checkoutRequest struct {
	Request signature.Params `json:"request"`
}

// Checkout submits a signed parameter set and returns the hosted checkout
// page location. The call is made exactly once. Failures are *Error values
// of kind [KindTransport], [KindDecode] or [KindGatewayRejected].
func (c *Client) Checkout(ctx context.Context, params signature.Params) (*CheckoutRedirect, error) {
	body, err := json.Marshal(checkoutRequest{Request: params})
	if err != nil {
		return nil, NewSignatureError(fmt.Errorf("fondy: marshal checkout request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewURLError("invalid gateway endpoint", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewTransportError(fmt.Errorf("fondy: send checkout request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, NewTransportError(fmt.Errorf("fondy: read checkout response: %w", err))
	}
	c.logger.Debug("gateway response received",
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)),
	)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, NewDecodeError("unexpected gateway response",
			fmt.Errorf("fondy: %s returned %s: %s", c.endpoint, resp.Status, snippet(raw)))
	}

	redirect, gwErr, err := DecodeCheckoutResponse(raw)
	if err != nil {
		return nil, NewDecodeError("malformed gateway response",
			fmt.Errorf("fondy: decode checkout response: %w (body: %s)", err, snippet(raw)))
	}
	if gwErr != nil {
		return nil, NewGatewayRejectedError(gwErr)
	}
	return redirect, nil
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > errorSnippetBytes {
		return s[:errorSnippetBytes] + "..."
	}
	return s
}
