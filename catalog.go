package fondy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrProductNotFound is returned by catalogs that do not sell the requested item.
var ErrProductNotFound = errors.New("product not found")

// Catalog resolves the price of a purchasable item.
type Catalog interface {
	Lookup(ctx context.Context, productID string) (Product, error)
}

// CatalogFunc lifts bare functions into [Catalog].
type CatalogFunc func(ctx context.Context, productID string) (Product, error)

// Lookup delegates to the wrapped function.
func (f CatalogFunc) Lookup(ctx context.Context, productID string) (Product, error) {
	return f(ctx, productID)
}

// Product is a priced catalog entry. Price is expressed in major units.
type Product struct {
	ID          string
	Description string
	Price       decimal.Decimal
	Currency    string
}

// currencyExponents lists ISO-4217 currencies whose minor unit is not 1/100.
var currencyExponents = map[string]int32{
	"BHD": 3,
	"JPY": 0,
	"KRW": 0,
	"KWD": 3,
	"OMR": 3,
	"TND": 3,
	"VND": 0,
}

// MinorUnits converts the price to the integer amount the gateway expects.
// Prices with more precision than the currency allows are rejected rather
// than rounded.
func (p Product) MinorUnits() (int64, error) {
	exp, ok := currencyExponents[strings.ToUpper(p.Currency)]
	if !ok {
		exp = 2
	}
	shifted := p.Price.Shift(exp)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("price %s has more precision than %s allows", p.Price, p.Currency)
	}
	if !shifted.IsPositive() {
		return 0, fmt.Errorf("price %s must be positive", p.Price)
	}
	return shifted.IntPart(), nil
}

// StaticCatalog serves prices from memory. Fallback, when set, prices any
// item that is not listed explicitly.
type StaticCatalog struct {
	Products map[string]Product
	Fallback *Product
}

// Lookup implements [Catalog].
func (c StaticCatalog) Lookup(_ context.Context, productID string) (Product, error) {
	if p, ok := c.Products[productID]; ok {
		if p.ID == "" {
			p.ID = productID
		}
		return p, nil
	}
	if c.Fallback != nil {
		p := *c.Fallback
		p.ID = productID
		return p, nil
	}
	return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
}

// NewFlatPriceCatalog prices every item identically.
func NewFlatPriceCatalog(price decimal.Decimal, currency, description string) StaticCatalog {
	return StaticCatalog{
		Fallback: &Product{
			Description: description,
			Price:       price,
			Currency:    strings.ToUpper(currency),
		},
	}
}
