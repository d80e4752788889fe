package fondy

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/gatewaykit/fondy/signature"
)

// AttemptState is the position of a purchase attempt in its lifecycle.
type AttemptState string

const (
	AttemptInitiated  AttemptState = "initiated"
	AttemptSigned     AttemptState = "signed"
	AttemptSubmitted  AttemptState = "submitted"
	AttemptRedirected AttemptState = "redirected"
	AttemptRejected   AttemptState = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s AttemptState) Terminal() bool {
	return s == AttemptRedirected || s == AttemptRejected
}

// Attempt records one purchase from initiation to redirect or rejection.
// It belongs to a single request and is never shared. Location is the parsed
// form of Redirect.CheckoutURL; the buyer is sent to the latter verbatim.
type Attempt struct {
	OrderID  string
	State    AttemptState
	Params   signature.Params
	Redirect *CheckoutRedirect
	Location *url.URL
	Err      error
}

func (a *Attempt) advance(next AttemptState) {
	if a.State.Terminal() {
		panic(fmt.Sprintf("fondy: attempt already %s, cannot move to %s", a.State, next))
	}
	a.State = next
}

func (a *Attempt) reject(err error) (*Attempt, error) {
	a.advance(AttemptRejected)
	a.Err = err
	return a, err
}

// Checkouter submits signed parameters to the gateway. [*Client] implements it.
type Checkouter interface {
	Checkout(ctx context.Context, params signature.Params) (*CheckoutRedirect, error)
}

// Flow sequences the request builder and the gateway client for each
// purchase attempt. Attempts are independent: there are no retries and no
// shared mutable state.
type Flow struct {
	builder *RequestBuilder
	gateway Checkouter
	logger  *zap.Logger
}

// NewFlow wires a builder and a gateway client.
func NewFlow(builder *RequestBuilder, gateway Checkouter, logger *zap.Logger) *Flow {
	if builder == nil || gateway == nil {
		panic("fondy: flow requires a request builder and a gateway client")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{builder: builder, gateway: gateway, logger: logger}
}

// Purchase runs one attempt. The returned attempt is always non-nil and ends
// in [AttemptRedirected] or [AttemptRejected]; on rejection the error is also
// returned and is an *Error.
func (f *Flow) Purchase(ctx context.Context, params BuyItemParams) (*Attempt, error) {
	attempt := &Attempt{State: AttemptInitiated}

	signed, err := f.builder.Build(ctx, params)
	if err != nil {
		f.logger.Error("purchase request build failed", zap.Error(err))
		return attempt.reject(err)
	}
	attempt.OrderID = signed.Purchase.OrderID
	attempt.Params = signed.Params
	attempt.advance(AttemptSigned)

	log := f.logger.With(zap.String("order_id", attempt.OrderID))
	log.Debug("purchase request signed", zap.String("product_id", signed.Purchase.ProductID))

	attempt.advance(AttemptSubmitted)
	redirect, err := f.gateway.Checkout(ctx, signed.Params)
	if err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			err = NewTransportError(err)
		}
		log.Error("gateway checkout failed", zap.Error(err))
		return attempt.reject(err)
	}
	attempt.Redirect = redirect

	location, err := parseRedirectLocation(redirect.CheckoutURL)
	if err != nil {
		log.Error("gateway returned an invalid checkout url", zap.Error(err))
		return attempt.reject(err)
	}
	attempt.Location = location
	attempt.advance(AttemptRedirected)
	log.Info("purchase redirected to checkout", zap.String("payment_id", redirect.PaymentID.String()))
	return attempt, nil
}

func parseRedirectLocation(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, NewURLError("invalid checkout url", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, NewURLError("invalid checkout url", fmt.Errorf("%q is not an absolute URI", raw))
	}
	return u, nil
}
