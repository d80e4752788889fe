package fondy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gatewaykit/fondy/signature"
)

func TestClientCheckout(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		status   int
		body     string
		wantKind ErrorKind
		wantURL  string
	}{
		"success": {
			status:  http.StatusOK,
			body:    `{"response":{"response_status":"success","checkout_url":"https://pay.example/x","payment_id":81234567}}`,
			wantURL: "https://pay.example/x",
		},
		"gateway rejection": {
			status:   http.StatusOK,
			body:     `{"response":{"response_status":"failure","error_code":1001,"error_message":"Order already exists"}}`,
			wantKind: KindGatewayRejected,
		},
		"non-2xx status": {
			status:   http.StatusBadGateway,
			body:     `<html>bad gateway</html>`,
			wantKind: KindDecode,
		},
		"malformed json": {
			status:   http.StatusOK,
			body:     `{"response":`,
			wantKind: KindDecode,
		},
		"neither shape": {
			status:   http.StatusOK,
			body:     `{"response":{"response_status":"success"}}`,
			wantKind: KindDecode,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			client := NewClient(WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))
			redirect, err := client.Checkout(context.Background(), signature.Params{{Key: "amount", Value: signature.Int(100)}})
			if tt.wantKind != "" {
				if !IsKind(err, tt.wantKind) {
					t.Fatalf("expected %s error, got %v", tt.wantKind, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Checkout: %v", err)
			}
			if redirect.CheckoutURL != tt.wantURL {
				t.Fatalf("expected %s got %s", tt.wantURL, redirect.CheckoutURL)
			}
			if redirect.PaymentID.String() != "81234567" {
				t.Fatalf("unexpected payment id %s", redirect.PaymentID)
			}
		})
	}
}

func TestClientCheckoutSendsWrappedRequest(t *testing.T) {
	t.Parallel()

	var received map[string]map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = io.WriteString(w, `{"response":{"response_status":"success","checkout_url":"https://pay.example/x","payment_id":"1"}}`)
	}))
	defer srv.Close()

	params := signature.Params{
		{Key: "order_id", Value: signature.String("o-1")},
		{Key: "amount", Value: signature.Int(100)},
	}
	params.Set(signature.Key, signature.String(signature.Sign(testPassword, params)))

	if _, err := NewClient(WithEndpoint(srv.URL)).Checkout(context.Background(), params); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	request, ok := received["request"]
	if !ok {
		t.Fatalf("expected body wrapped in request, got %v", received)
	}
	if request["amount"] != float64(100) {
		t.Fatalf("amount must be sent as a number, got %#v", request["amount"])
	}
	if request["signature"] != signature.Sign(testPassword, params.Without(signature.Key)) {
		t.Fatalf("unexpected signature %v", request["signature"])
	}
}

func TestClientCheckoutTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	_, err := NewClient(WithEndpoint(endpoint)).Checkout(context.Background(), nil)
	if !IsKind(err, KindTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if IsKind(err, KindGatewayRejected) {
		t.Fatalf("transport failure must not look like a gateway rejection")
	}
}

func TestClientCheckoutHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(WithEndpoint(srv.URL)).Checkout(ctx, nil)
	if !IsKind(err, KindTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded in chain, got %v", err)
	}
}

func TestClientRejectionCarriesGatewayDetails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"response":{"response_status":"failure","error_code":1014,"error_message":"Invalid signature","request_id":"r1"}}`)
	}))
	defer srv.Close()

	_, err := NewClient(WithEndpoint(srv.URL)).Checkout(context.Background(), nil)
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected *GatewayError in chain, got %v", err)
	}
	if gwErr.ErrorCode != 1014 || gwErr.RequestID != "r1" {
		t.Fatalf("unexpected gateway error %+v", gwErr)
	}
	if !strings.Contains(err.Error(), "Invalid signature") {
		t.Fatalf("message should surface gateway text: %v", err)
	}
}
