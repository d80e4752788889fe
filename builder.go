package fondy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatewaykit/fondy/signature"
)

const (
	// ProtocolVersion is the checkout API version sent with every request.
	ProtocolVersion = "1.0.1"

	DefaultBrowserCallbackPath = "browser_callback"
	DefaultServerCallbackPath  = "purchase_server_callback"
	DefaultOrderDescription    = "My product description"
)

// Credentials identify the merchant to the gateway. The password is the
// shared signing secret and is redacted from every textual representation.
type Credentials struct {
	MerchantID       uint64 `json:"merchant_id" validate:"required"`
	MerchantPassword string `json:"-" validate:"required"`
}

// String redacts the merchant password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{MerchantID: %d, MerchantPassword: [REDACTED]}", c.MerchantID)
}

// GoString redacts the merchant password from %#v output.
func (c Credentials) GoString() string { return c.String() }

// BuyItemParams is the body of an inbound purchase request.
type BuyItemParams struct {
	ItemID *int `json:"item_id" validate:"required"`
}

// PurchaseRequest holds the gateway-bound fields of one purchase attempt.
type PurchaseRequest struct {
	OrderID           string `json:"order_id" validate:"required,uuid4"`
	MerchantID        uint64 `json:"merchant_id" validate:"required"`
	OrderDescription  string `json:"order_desc" validate:"required,max=1024"`
	AmountMinorUnits  int64  `json:"amount" validate:"gt=0"`
	Currency          string `json:"currency" validate:"required,iso4217"`
	ProtocolVersion   string `json:"version" validate:"required"`
	ResponseURL       string `json:"response_url" validate:"required,url"`
	ServerCallbackURL string `json:"server_callback_url" validate:"required,url"`
	MerchantData      string `json:"merchant_data,omitempty" validate:"max=2048"`
	ProductID         string `json:"product_id" validate:"required"`
}

// Params returns the unsigned parameter set in the order the gateway documents.
func (r PurchaseRequest) Params() signature.Params {
	params := signature.Params{
		{Key: "order_id", Value: signature.String(r.OrderID)},
		{Key: "merchant_id", Value: signature.Uint(r.MerchantID)},
		{Key: "order_desc", Value: signature.String(r.OrderDescription)},
		{Key: "amount", Value: signature.Int(r.AmountMinorUnits)},
		{Key: "currency", Value: signature.String(r.Currency)},
		{Key: "version", Value: signature.String(r.ProtocolVersion)},
		{Key: "response_url", Value: signature.String(r.ResponseURL)},
		{Key: "server_callback_url", Value: signature.String(r.ServerCallbackURL)},
	}
	if r.MerchantData != "" {
		params = append(params, signature.Param{Key: "merchant_data", Value: signature.String(r.MerchantData)})
	}
	return append(params, signature.Param{Key: "product_id", Value: signature.String(r.ProductID)})
}

// SignedRequest is a purchase request together with its signed parameter set.
// The signature is always the last parameter.
type SignedRequest struct {
	Purchase PurchaseRequest
	Params   signature.Params
}

// Signature returns the digest attached to the parameter set.
func (s SignedRequest) Signature() string {
	v, _ := s.Params.Get(signature.Key)
	return v.String()
}

// RequestBuilder assembles signed checkout requests. It is safe for
// concurrent use; nothing in it is mutated after construction.
type RequestBuilder struct {
	creds               Credentials
	siteURL             *url.URL
	catalog             Catalog
	logger              *zap.Logger
	signingTrace        bool
	browserCallbackPath string
	serverCallbackPath  string
	orderDescription    string
	merchantData        string
	newOrderID          func() (string, error)
}

// BuilderOption customizes a [RequestBuilder].
type BuilderOption func(*RequestBuilder)

// WithBuilderLogger sets the logger used for diagnostics.
func WithBuilderLogger(logger *zap.Logger) BuilderOption {
	return func(b *RequestBuilder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSigningTrace logs the pre-hash signing string at debug level. The
// string starts with the merchant password: never enable it in production.
func WithSigningTrace(enabled bool) BuilderOption {
	return func(b *RequestBuilder) {
		b.signingTrace = enabled
	}
}

// WithCallbackPaths overrides the paths joined onto the site URL.
func WithCallbackPaths(browser, server string) BuilderOption {
	return func(b *RequestBuilder) {
		if browser != "" {
			b.browserCallbackPath = browser
		}
		if server != "" {
			b.serverCallbackPath = server
		}
	}
}

// WithOrderDescription sets the order_desc used when the catalog entry has none.
func WithOrderDescription(desc string) BuilderOption {
	return func(b *RequestBuilder) {
		if desc != "" {
			b.orderDescription = desc
		}
	}
}

// WithMerchantData sets the opaque merchant_data echoed back in callbacks.
func WithMerchantData(data string) BuilderOption {
	return func(b *RequestBuilder) {
		b.merchantData = data
	}
}

// withOrderIDGenerator provides deterministic order ids in tests.
func withOrderIDGenerator(fn func() (string, error)) BuilderOption {
	return func(b *RequestBuilder) {
		b.newOrderID = fn
	}
}

// NewRequestBuilder validates the merchant configuration and returns a builder.
func NewRequestBuilder(creds Credentials, siteURL string, catalog Catalog, opts ...BuilderOption) (*RequestBuilder, error) {
	if err := validate.Struct(creds); err != nil {
		return nil, NewInternalError("invalid merchant credentials", normalizeValidationError(err))
	}
	if catalog == nil {
		return nil, NewInternalError("catalog is required", nil)
	}
	base, err := url.Parse(siteURL)
	if err != nil {
		return nil, NewURLError("invalid site URL", err)
	}
	if !base.IsAbs() || base.Host == "" {
		return nil, NewURLError("invalid site URL", fmt.Errorf("%q is not an absolute URL", siteURL))
	}
	b := &RequestBuilder{
		creds:               creds,
		siteURL:             base,
		catalog:             catalog,
		logger:              zap.NewNop(),
		browserCallbackPath: DefaultBrowserCallbackPath,
		serverCallbackPath:  DefaultServerCallbackPath,
		orderDescription:    DefaultOrderDescription,
		newOrderID:          newOrderID,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(b)
	}
	return b, nil
}

// Build creates the purchase request for one attempt and signs it.
func (b *RequestBuilder) Build(ctx context.Context, params BuyItemParams) (*SignedRequest, error) {
	if err := validate.Struct(params); err != nil {
		return nil, NewInvalidRequestError(normalizeValidationError(err).Error(), nil)
	}
	productID := strconv.Itoa(*params.ItemID)

	responseURL, err := b.join(b.browserCallbackPath)
	if err != nil {
		return nil, err
	}
	serverCallbackURL, err := b.join(b.serverCallbackPath)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("callback urls resolved",
		zap.String("response_url", responseURL),
		zap.String("server_callback_url", serverCallbackURL),
	)

	product, err := b.catalog.Lookup(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, NewInvalidRequestError("unknown item", err)
		}
		return nil, NewInternalError("catalog lookup failed", err)
	}
	amount, err := product.MinorUnits()
	if err != nil {
		return nil, NewInternalError("invalid product price", err)
	}

	orderID, err := b.newOrderID()
	if err != nil {
		return nil, NewInternalError("unable to generate order id", err)
	}

	desc := product.Description
	if desc == "" {
		desc = b.orderDescription
	}
	purchase := PurchaseRequest{
		OrderID:           orderID,
		MerchantID:        b.creds.MerchantID,
		OrderDescription:  desc,
		AmountMinorUnits:  amount,
		Currency:          product.Currency,
		ProtocolVersion:   ProtocolVersion,
		ResponseURL:       responseURL,
		ServerCallbackURL: serverCallbackURL,
		MerchantData:      b.merchantData,
		ProductID:         productID,
	}
	return b.Sign(purchase)
}

// Sign validates purchase and attaches the signature as the final parameter.
func (b *RequestBuilder) Sign(purchase PurchaseRequest) (*SignedRequest, error) {
	if err := validate.Struct(purchase); err != nil {
		return nil, NewInternalError("invalid purchase request", normalizeValidationError(err))
	}
	params := purchase.Params()
	if b.signingTrace {
		b.logger.Debug("signing string", zap.String("value", signature.SigningString(b.creds.MerchantPassword, params)))
	}
	params.Set(signature.Key, signature.String(signature.Sign(b.creds.MerchantPassword, params)))
	return &SignedRequest{Purchase: purchase, Params: params}, nil
}

func (b *RequestBuilder) join(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", NewURLError("invalid callback path", err)
	}
	return b.siteURL.ResolveReference(ref).String(), nil
}

func newOrderID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
