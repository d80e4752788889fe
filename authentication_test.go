package fondy

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestAllowlistAuthenticator(t *testing.T) {
	t.Parallel()

	auth, err := NewAllowlistAuthenticator([]string{"54.154.216.60", " 10.0.0.0/8 ", "", "2001:db8::/32"})
	if err != nil {
		t.Fatalf("NewAllowlistAuthenticator: %v", err)
	}

	tests := map[string]struct {
		remote  string
		allowed bool
	}{
		"exact address":      {remote: "54.154.216.60:41234", allowed: true},
		"inside cidr":        {remote: "10.20.30.40:443", allowed: true},
		"bare address":       {remote: "10.1.1.1", allowed: true},
		"ipv4 mapped":        {remote: "[::ffff:10.1.1.1]:80", allowed: true},
		"ipv6 inside cidr":   {remote: "[2001:db8::1]:8443", allowed: true},
		"outside":            {remote: "54.154.216.61:41234", allowed: false},
		"garbage":            {remote: "not-an-ip", allowed: false},
		"ipv6 outside range": {remote: "[2001:db9::1]:8443", allowed: false},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			err := auth.Authenticate(context.Background(), tt.remote)
			if tt.allowed && err != nil {
				t.Fatalf("expected %s to be allowed: %v", tt.remote, err)
			}
			if !tt.allowed && err == nil {
				t.Fatalf("expected %s to be rejected", tt.remote)
			}
		})
	}
}

func TestNewAllowlistAuthenticatorRejectsBadEntries(t *testing.T) {
	t.Parallel()

	for name, entries := range map[string][]string{
		"empty":        nil,
		"blank only":   {" ", ""},
		"invalid ip":   {"300.1.1.1"},
		"invalid cidr": {"10.0.0.0/99"},
	} {
		if _, err := NewAllowlistAuthenticator(entries); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestCallbackAuthenticationMiddleware(t *testing.T) {
	t.Parallel()

	body := signedNotificationBody(t, testPassword, approvedNotification("o-1"))

	tests := map[string]struct {
		auth       Authenticator
		wantStatus int
		wantCalls  int
	}{
		"no authenticator": {
			wantStatus: http.StatusOK,
			wantCalls:  1,
		},
		"allowed source": {
			auth:       mustAllowlist(t, "192.0.2.0/24"),
			wantStatus: http.StatusOK,
			wantCalls:  1,
		},
		"blocked source": {
			auth:       mustAllowlist(t, "10.0.0.0/8"),
			wantStatus: http.StatusForbidden,
		},
		"authenticator surfaces typed errors": {
			auth: AuthenticatorFunc(func(context.Context, string) error {
				return NewInternalError("allowlist unavailable", nil)
			}),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			consumer := &recordingConsumer{}
			var opts []Option
			if tt.auth != nil {
				opts = append(opts, WithCallbackAuthenticator(tt.auth))
			}
			h := newTestHandler(t, "http://127.0.0.1:1", consumer, opts...)

			// httptest requests come from 192.0.2.1.
			req := httptest.NewRequest(http.MethodPost, "/purchase_server_callback", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d got %d body=%s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if len(consumer.calls) != tt.wantCalls {
				t.Fatalf("expected %d consumer calls, got %d", tt.wantCalls, len(consumer.calls))
			}
			if tt.wantStatus != http.StatusOK {
				var payload Error
				if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
					t.Fatalf("decode error: %v", err)
				}
				if payload.Code != tt.wantStatus {
					t.Fatalf("expected body code %d got %d", tt.wantStatus, payload.Code)
				}
			}
		})
	}
}

func TestCallbackAuthenticationOnlyGuardsServerCallback(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, "http://127.0.0.1:1", nil, WithCallbackAuthenticator(mustAllowlist(t, "10.0.0.0/8")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/browser_callback", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("browser callback must stay public, got %d", rec.Code)
	}
}

func TestCallbackAuthenticationBehindTrustedProxy(t *testing.T) {
	t.Parallel()

	body := signedNotificationBody(t, testPassword, approvedNotification("o-1"))
	proxies, err := ParseNetworks([]string{"192.0.2.0/24", "10.0.0.1"})
	if err != nil {
		t.Fatalf("ParseNetworks: %v", err)
	}

	tests := map[string]struct {
		remote     string
		forwarded  []string
		proxies    []netip.Prefix
		wantStatus int
	}{
		"gateway via proxy": {
			remote:     "192.0.2.1:1234",
			forwarded:  []string{"54.154.216.60"},
			proxies:    proxies,
			wantStatus: http.StatusOK,
		},
		"gateway via two proxies": {
			remote:     "192.0.2.1:1234",
			forwarded:  []string{"54.154.216.60, 10.0.0.1"},
			proxies:    proxies,
			wantStatus: http.StatusOK,
		},
		"spoofed leftmost hop": {
			remote:     "192.0.2.1:1234",
			forwarded:  []string{"54.154.216.60, 203.0.113.9"},
			proxies:    proxies,
			wantStatus: http.StatusForbidden,
		},
		"header split across lines": {
			remote:     "192.0.2.1:1234",
			forwarded:  []string{"203.0.113.9", "54.154.216.60"},
			proxies:    proxies,
			wantStatus: http.StatusOK,
		},
		"untrusted peer header ignored": {
			remote:     "203.0.113.9:1234",
			forwarded:  []string{"54.154.216.60"},
			proxies:    proxies,
			wantStatus: http.StatusForbidden,
		},
		"proxy mode off": {
			remote:     "192.0.2.1:1234",
			forwarded:  []string{"54.154.216.60"},
			wantStatus: http.StatusForbidden,
		},
		"garbage hop": {
			remote:     "192.0.2.1:1234",
			forwarded:  []string{"not-an-ip"},
			proxies:    proxies,
			wantStatus: http.StatusForbidden,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			consumer := &recordingConsumer{}
			h := newTestHandler(t, "http://127.0.0.1:1", consumer,
				WithCallbackAuthenticator(mustAllowlist(t, "54.154.216.60")),
				WithTrustedProxies(tt.proxies...),
			)
			req := httptest.NewRequest(http.MethodPost, "/purchase_server_callback", bytes.NewReader(body))
			req.RemoteAddr = tt.remote
			for _, v := range tt.forwarded {
				req.Header.Add("X-Forwarded-For", v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d got %d body=%s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestParseNetworks(t *testing.T) {
	t.Parallel()

	prefixes, err := ParseNetworks([]string{"10.0.0.5/8", " ", "::ffff:192.0.2.1", "2001:db8::1"})
	if err != nil {
		t.Fatalf("ParseNetworks: %v", err)
	}
	want := []string{"10.0.0.0/8", "192.0.2.1/32", "2001:db8::1/128"}
	if len(prefixes) != len(want) {
		t.Fatalf("expected %d prefixes, got %v", len(want), prefixes)
	}
	for i, p := range prefixes {
		if p.String() != want[i] {
			t.Fatalf("prefix %d: expected %s got %s", i, want[i], p)
		}
	}
	if _, err := ParseNetworks([]string{"10.0.0.0/40"}); err == nil {
		t.Fatal("expected error for invalid prefix")
	}
}

func mustAllowlist(t *testing.T, entries ...string) *AllowlistAuthenticator {
	t.Helper()
	auth, err := NewAllowlistAuthenticator(entries)
	if err != nil {
		t.Fatalf("NewAllowlistAuthenticator: %v", err)
	}
	return auth
}
