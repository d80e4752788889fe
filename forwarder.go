package fondy

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// PaymentEventType enumerates the events relayed to the fulfilment endpoint.
type PaymentEventType string

const (
	PaymentEventApproved PaymentEventType = "payment_approved"
	PaymentEventDeclined PaymentEventType = "payment_declined"
	PaymentEventExpired  PaymentEventType = "payment_expired"
	PaymentEventReversed PaymentEventType = "payment_reversed"
	PaymentEventUpdated  PaymentEventType = "payment_updated"
)

// DefaultForwardSignatureHeader carries the HMAC of relayed events.
const DefaultForwardSignatureHeader = "X-Checkout-Signature"

func eventTypeFor(status OrderStatus) PaymentEventType {
	switch status {
	case OrderStatusApproved:
		return PaymentEventApproved
	case OrderStatusDeclined:
		return PaymentEventDeclined
	case OrderStatusExpired:
		return PaymentEventExpired
	case OrderStatusReversed:
		return PaymentEventReversed
	default:
		return PaymentEventUpdated
	}
}

// PaymentEventData is the payload of a relayed event.
type PaymentEventData struct {
	OrderID      string      `json:"order_id"`
	OrderStatus  OrderStatus `json:"order_status"`
	PaymentID    string      `json:"payment_id,omitempty"`
	Amount       string      `json:"amount,omitempty"`
	Currency     string      `json:"currency,omitempty"`
	MaskedCard   string      `json:"masked_card,omitempty"`
	MerchantData string      `json:"merchant_data,omitempty"`
}

type paymentEvent struct {
	Type       PaymentEventType `json:"type"`
	Data       PaymentEventData `json:"data"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// ForwarderOptions configures a [WebhookForwarder].
type ForwarderOptions struct {
	// Endpoint receives the POSTed events.
	Endpoint string
	// HeaderName carries the signature. Defaults to [DefaultForwardSignatureHeader].
	HeaderName string
	// SecretKey signs the raw body with HMAC-SHA256.
	SecretKey []byte
	// Client defaults to a client with a 10 second timeout.
	Client *http.Client
}

// WebhookForwarder relays verified payment notifications to a downstream
// endpoint. It implements [NotificationConsumer]; a delivery failure is
// returned so the gateway redelivers the notification.
type WebhookForwarder struct {
	endpoint string
	header   string
	secret   []byte
	client   *http.Client
	clock    func() time.Time
}

// NewWebhookForwarder validates opts and returns a forwarder.
func NewWebhookForwarder(opts ForwarderOptions) (*WebhookForwarder, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, errors.New("fondy: forwarder endpoint is required")
	}
	if len(opts.SecretKey) == 0 {
		return nil, errors.New("fondy: forwarder secret is required")
	}
	f := &WebhookForwarder{
		endpoint: opts.Endpoint,
		header:   opts.HeaderName,
		secret:   opts.SecretKey,
		client:   opts.Client,
		clock:    time.Now,
	}
	if f.header == "" {
		f.header = DefaultForwardSignatureHeader
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: 10 * time.Second}
	}
	return f, nil
}

// HandlePaymentNotification implements [NotificationConsumer].
func (f *WebhookForwarder) HandlePaymentNotification(ctx context.Context, n *PaymentNotification) error {
	body, err := json.Marshal(paymentEvent{
		Type: eventTypeFor(n.OrderStatus),
		Data: PaymentEventData{
			OrderID:      n.OrderID,
			OrderStatus:  n.OrderStatus,
			PaymentID:    n.PaymentID,
			Amount:       n.Amount,
			Currency:     n.Currency,
			MaskedCard:   n.MaskedCard,
			MerchantData: n.MerchantData,
		},
		OccurredAt: f.clock().UTC(),
	})
	if err != nil {
		return fmt.Errorf("fondy: marshal payment event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("fondy: build payment event request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", RequestID(ctx))
	req.Header.Set(f.header, SignForwardedPayload(f.secret, body))

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fondy: send payment event: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("fondy: forward endpoint %s returned %s: %s", f.endpoint, resp.Status, strings.TrimSpace(string(excerpt)))
	}
	return nil
}

// SignForwardedPayload returns the base64url HMAC-SHA256 of payload, as sent
// in the forwarder's signature header.
func SignForwardedPayload(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// ChainConsumers runs consumers in order and stops at the first error.
func ChainConsumers(consumers ...NotificationConsumer) NotificationConsumer {
	return NotificationConsumerFunc(func(ctx context.Context, n *PaymentNotification) error {
		for _, c := range consumers {
			if c == nil {
				continue
			}
			if err := c.HandlePaymentNotification(ctx, n); err != nil {
				return err
			}
		}
		return nil
	})
}
