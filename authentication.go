package fondy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"go.uber.org/zap"
)

// Authenticator decides whether a server callback may come from the given
// remote address before the payload is even decoded.
type Authenticator interface {
	Authenticate(ctx context.Context, remoteAddr string) error
}

// AuthenticatorFunc lifts bare functions into [Authenticator].
type AuthenticatorFunc func(ctx context.Context, remoteAddr string) error

// Authenticate validates the remote address using the wrapped function.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, remoteAddr string) error {
	return f(ctx, remoteAddr)
}

// AllowlistAuthenticator accepts callbacks only from the listed networks.
type AllowlistAuthenticator struct {
	prefixes []netip.Prefix
}

// NewAllowlistAuthenticator parses CIDR blocks or bare IP addresses.
func NewAllowlistAuthenticator(entries []string) (*AllowlistAuthenticator, error) {
	prefixes, err := ParseNetworks(entries)
	if err != nil {
		return nil, err
	}
	if len(prefixes) == 0 {
		return nil, errors.New("fondy: allowlist must not be empty")
	}
	return &AllowlistAuthenticator{prefixes: prefixes}, nil
}

// ParseNetworks parses CIDR blocks or bare IP addresses, skipping blanks.
// A bare address becomes a single-host prefix.
func ParseNetworks(entries []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			addr, err := netip.ParseAddr(entry)
			if err != nil {
				return nil, fmt.Errorf("fondy: invalid network %q: %w", entry, err)
			}
			addr = addr.Unmap()
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return nil, fmt.Errorf("fondy: invalid network %q: %w", entry, err)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return prefixes, nil
}

// Authenticate implements [Authenticator].
func (a *AllowlistAuthenticator) Authenticate(_ context.Context, remoteAddr string) error {
	addr, ok := parseRemoteAddr(remoteAddr)
	if !ok {
		return fmt.Errorf("fondy: unparseable remote address %q", remoteAddr)
	}
	if containsAddr(a.prefixes, addr) {
		return nil
	}
	return fmt.Errorf("fondy: %s is not an allowed callback source", addr)
}

func parseRemoteAddr(remoteAddr string) (netip.Addr, bool) {
	host := strings.TrimSpace(remoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func containsAddr(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// callbackSource returns the address the allowlist is checked against. When
// the peer is a trusted proxy, X-Forwarded-For is walked from the right and
// the first hop outside the trusted networks wins. Hops left of it were
// written by the client and are ignored.
func (h *Handler) callbackSource(r *http.Request) string {
	trusted := h.cfg.trustedProxies
	if len(trusted) == 0 {
		return r.RemoteAddr
	}
	peer, ok := parseRemoteAddr(r.RemoteAddr)
	if !ok || !containsAddr(trusted, peer) {
		return r.RemoteAddr
	}
	var hops []string
	for _, value := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(value, ",")...)
	}
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		addr, ok := parseRemoteAddr(hop)
		if !ok {
			return hop
		}
		if !containsAddr(trusted, addr) {
			return addr.String()
		}
	}
	return r.RemoteAddr
}

func (h *Handler) callbackAuthenticationMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.authenticator == nil {
			next(w, r)
			return
		}
		if err := h.cfg.authenticator.Authenticate(r.Context(), h.callbackSource(r)); err != nil {
			var httpErr *Error
			if errors.As(err, &httpErr) {
				writeJSONError(w, httpErr)
				return
			}
			fields := []zap.Field{
				zap.String("request_id", RequestID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err),
			}
			if rc := RequestContextFromContext(r.Context()); rc != nil && rc.ForwardedFor != "" {
				fields = append(fields, zap.String("forwarded_for", rc.ForwardedFor))
			}
			h.logger.Warn("callback rejected by source allowlist", fields...)
			writeJSONError(w, &Error{Kind: KindInvalidRequest, Code: http.StatusForbidden, Message: "callback source not allowed", Err: err})
			return
		}
		next(w, r)
	}
}
