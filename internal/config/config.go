package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds the service configuration.
type Config struct {
	SiteURL           string `validate:"required,url"`
	MerchantID        uint64 `validate:"required"`
	MerchantPassword  string `validate:"required"`
	GatewayEndpoint   string `validate:"required,url"`
	ListenAddr        string `validate:"required"`
	Env               string `validate:"oneof=development production"`
	DatabasePath      string
	DefaultPrice      decimal.Decimal
	DefaultCurrency   string `validate:"required,iso4217"`
	OrderDescription  string `validate:"max=1024"`
	MerchantData      string `validate:"max=2048"`
	CallbackAllowlist []string
	TrustedProxies    []string
	HTTPTimeout       time.Duration `validate:"gt=0"`
	SigningTrace      bool
	ForwardURL        string `validate:"omitempty,url"`
	ForwardSecret     string `validate:"required_with=ForwardURL"`
	ForwardHeader     string
}

var keys = []string{
	"SITE_URL",
	"MERCHANT_ID",
	"MERCHANT_PASSWORD",
	"GATEWAY_ENDPOINT",
	"LISTEN_ADDR",
	"APP_ENV",
	"DATABASE_PATH",
	"DEFAULT_PRICE",
	"DEFAULT_CURRENCY",
	"ORDER_DESCRIPTION",
	"MERCHANT_DATA",
	"CALLBACK_ALLOWLIST",
	"TRUSTED_PROXIES",
	"HTTP_TIMEOUT",
	"SIGNING_TRACE",
	"FORWARD_WEBHOOK_URL",
	"FORWARD_WEBHOOK_SECRET",
	"FORWARD_WEBHOOK_HEADER",
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("GATEWAY_ENDPOINT", "https://pay.fondy.eu/api/checkout/url")
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DATABASE_PATH", "")
	v.SetDefault("DEFAULT_PRICE", "1.00")
	v.SetDefault("DEFAULT_CURRENCY", "RUB")
	v.SetDefault("ORDER_DESCRIPTION", "My product description")
	v.SetDefault("MERCHANT_DATA", "our_custom_payload")
	v.SetDefault("CALLBACK_ALLOWLIST", "")
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("HTTP_TIMEOUT", "30s")
	v.SetDefault("SIGNING_TRACE", false)
	v.SetDefault("FORWARD_WEBHOOK_URL", "")
	v.SetDefault("FORWARD_WEBHOOK_SECRET", "")
	v.SetDefault("FORWARD_WEBHOOK_HEADER", "X-Checkout-Signature")
}

// Load reads a .env file if one exists, then resolves every key from v,
// which already carries environment bindings and any command line flags.
func Load(v *viper.Viper) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	cfg := &Config{
		SiteURL:          v.GetString("SITE_URL"),
		MerchantID:       v.GetUint64("MERCHANT_ID"),
		MerchantPassword: v.GetString("MERCHANT_PASSWORD"),
		GatewayEndpoint:  v.GetString("GATEWAY_ENDPOINT"),
		ListenAddr:       v.GetString("LISTEN_ADDR"),
		Env:              v.GetString("APP_ENV"),
		DatabasePath:     v.GetString("DATABASE_PATH"),
		DefaultCurrency:  strings.ToUpper(v.GetString("DEFAULT_CURRENCY")),
		OrderDescription: v.GetString("ORDER_DESCRIPTION"),
		MerchantData:     v.GetString("MERCHANT_DATA"),
		HTTPTimeout:      v.GetDuration("HTTP_TIMEOUT"),
		SigningTrace:     v.GetBool("SIGNING_TRACE"),
		ForwardURL:       v.GetString("FORWARD_WEBHOOK_URL"),
		ForwardSecret:    v.GetString("FORWARD_WEBHOOK_SECRET"),
		ForwardHeader:    v.GetString("FORWARD_WEBHOOK_HEADER"),
	}

	price, err := decimal.NewFromString(v.GetString("DEFAULT_PRICE"))
	if err != nil {
		return nil, fmt.Errorf("config: DEFAULT_PRICE: %w", err)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("config: DEFAULT_PRICE must be positive, got %s", price)
	}
	cfg.DefaultPrice = price

	cfg.CallbackAllowlist = splitList(v.GetString("CALLBACK_ALLOWLIST"))
	cfg.TrustedProxies = splitList(v.GetString("TRUSTED_PROXIES"))
	if len(cfg.TrustedProxies) > 0 && len(cfg.CallbackAllowlist) == 0 {
		return nil, errors.New("config: TRUSTED_PROXIES requires CALLBACK_ALLOWLIST")
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

// String redacts the merchant password.
func (c Config) String() string {
	return fmt.Sprintf(
		"Config{SiteURL: %s, MerchantID: %d, MerchantPassword: [REDACTED], GatewayEndpoint: %s, ListenAddr: %s, Env: %s, DefaultPrice: %s %s}",
		c.SiteURL, c.MerchantID, c.GatewayEndpoint, c.ListenAddr, c.Env, c.DefaultPrice, c.DefaultCurrency,
	)
}

// GoString redacts the merchant password from %#v output.
func (c Config) GoString() string { return c.String() }
