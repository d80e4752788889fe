package fondy

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/gatewaykit/fondy/signature"
)

const (
	testMerchantID = 1396424
	testPassword   = "test"
	testOrderID    = "3f1c4e0a-5b6d-4c7e-8f90-a1b2c3d4e5f6"
)

func testCredentials() Credentials {
	return Credentials{MerchantID: testMerchantID, MerchantPassword: testPassword}
}

func testCatalog() StaticCatalog {
	return NewFlatPriceCatalog(decimal.RequireFromString("1.00"), "RUB", "")
}

func newTestBuilder(t *testing.T, opts ...BuilderOption) *RequestBuilder {
	t.Helper()
	opts = append([]BuilderOption{withOrderIDGenerator(func() (string, error) { return testOrderID, nil })}, opts...)
	b, err := NewRequestBuilder(testCredentials(), "https://shop.example/", testCatalog(), opts...)
	if err != nil {
		t.Fatalf("NewRequestBuilder: %v", err)
	}
	return b
}

func itemID(n int) BuyItemParams {
	return BuyItemParams{ItemID: &n}
}

// signedNotificationBody signs fields the way the gateway signs callbacks:
// empty values are left out of the digest.
func signedNotificationBody(t *testing.T, secret string, fields map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal fields: %v", err)
	}
	params, err := signature.FromJSON(raw)
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	params.Set(signature.Key, signature.String(signature.Sign(secret, params.NonEmpty())))
	body, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return body
}

func approvedNotification(orderID string) map[string]any {
	return map[string]any{
		"order_id":        orderID,
		"order_status":    "approved",
		"response_status": "success",
		"merchant_id":     testMerchantID,
		"payment_id":      81234567,
		"amount":          100,
		"currency":        "RUB",
		"masked_card":     "444455XXXXXX1111",
		"merchant_data":   "",
	}
}

func decodeNotification(t *testing.T, body []byte) *PaymentNotification {
	t.Helper()
	n, err := DecodePaymentNotification(body)
	if err != nil {
		t.Fatalf("DecodePaymentNotification: %v", err)
	}
	return n
}

type stubCheckouter struct {
	checkout func(ctx context.Context, params signature.Params) (*CheckoutRedirect, error)
}

func (s stubCheckouter) Checkout(ctx context.Context, params signature.Params) (*CheckoutRedirect, error) {
	return s.checkout(ctx, params)
}

type recordingConsumer struct {
	calls []*PaymentNotification
	err   error
}

func (c *recordingConsumer) HandlePaymentNotification(_ context.Context, n *PaymentNotification) error {
	c.calls = append(c.calls, n)
	return c.err
}
