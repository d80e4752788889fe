package fondy

import (
	"net/http"
	"net/netip"
	"strings"

	"go.uber.org/zap"
)

type config struct {
	authenticator       Authenticator
	trustedProxies      []netip.Prefix
	middleware          []Middleware
	logger              *zap.Logger
	browserCallbackPath string
	serverCallbackPath  string
	confirmationHTML    string
	maxBodyBytes        int64
}

type Middleware func(http.HandlerFunc) http.HandlerFunc

func applyMiddleware(h http.HandlerFunc, middleware ...Middleware) http.HandlerFunc {
	for _, m := range middleware {
		h = m(h)
	}
	return h
}

// Option customizes the handler behavior.
type Option func(*config)

// WithCallbackAuthenticator restricts who may call the server callback route.
func WithCallbackAuthenticator(auth Authenticator) Option {
	return func(cfg *config) {
		cfg.authenticator = auth
	}
}

// WithTrustedProxies makes the callback authenticator see the client address
// reported in X-Forwarded-For when the peer is one of the given networks.
// Without it only the direct peer address is checked.
func WithTrustedProxies(prefixes ...netip.Prefix) Option {
	return func(cfg *config) {
		cfg.trustedProxies = append(cfg.trustedProxies, prefixes...)
	}
}

// WithMiddleware appends custom middleware in the order provided.
func WithMiddleware(mw ...Middleware) Option {
	return func(cfg *config) {
		for _, m := range mw {
			if m == nil {
				continue
			}
			cfg.middleware = append(cfg.middleware, m)
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithBrowserCallbackPath changes the route the customer's browser returns to.
func WithBrowserCallbackPath(path string) Option {
	return func(cfg *config) {
		if path != "" {
			cfg.browserCallbackPath = routePath(path)
		}
	}
}

// WithServerCallbackPath changes the route the gateway posts notifications to.
func WithServerCallbackPath(path string) Option {
	return func(cfg *config) {
		if path != "" {
			cfg.serverCallbackPath = routePath(path)
		}
	}
}

// WithConfirmationPage replaces the HTML rendered on the browser callback.
func WithConfirmationPage(html string) Option {
	return func(cfg *config) {
		cfg.confirmationHTML = html
	}
}

// WithMaxBodyBytes caps inbound request bodies.
func WithMaxBodyBytes(n int64) Option {
	if n <= 0 {
		panic("fondy: max body bytes must be positive")
	}
	return func(cfg *config) {
		cfg.maxBodyBytes = n
	}
}

func routePath(p string) string {
	return "/" + strings.TrimLeft(p, "/")
}
