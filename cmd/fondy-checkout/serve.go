package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gatewaykit/fondy"
	"github.com/gatewaykit/fondy/internal/config"
	"github.com/gatewaykit/fondy/internal/logging"
	"github.com/gatewaykit/fondy/store/sqlite"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the checkout HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("listen", ":8080", "address to listen on")
	cmd.Flags().String("database", "", "sqlite database for processed notifications (in-memory when empty)")
	_ = v.BindPFlag("LISTEN_ADDR", cmd.Flags().Lookup("listen"))
	_ = v.BindPFlag("DATABASE_PATH", cmd.Flags().Lookup("database"))
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Env)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds := fondy.Credentials{MerchantID: cfg.MerchantID, MerchantPassword: cfg.MerchantPassword}
	catalog := fondy.NewFlatPriceCatalog(cfg.DefaultPrice, cfg.DefaultCurrency, cfg.OrderDescription)

	builder, err := fondy.NewRequestBuilder(creds, cfg.SiteURL, catalog,
		fondy.WithBuilderLogger(logger.Named("builder")),
		fondy.WithOrderDescription(cfg.OrderDescription),
		fondy.WithMerchantData(cfg.MerchantData),
		fondy.WithSigningTrace(cfg.SigningTrace && cfg.Env != "production"),
	)
	if err != nil {
		return err
	}
	client := fondy.NewClient(
		fondy.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		fondy.WithEndpoint(cfg.GatewayEndpoint),
		fondy.WithClientLogger(logger.Named("gateway")),
	)
	flow := fondy.NewFlow(builder, client, logger.Named("flow"))

	store, closeStore, err := openStore(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer closeStore()

	consumer, err := newConsumer(cfg, logger)
	if err != nil {
		return err
	}
	processor := fondy.NewNotificationProcessor(creds, consumer,
		fondy.WithNotificationStore(store),
		fondy.WithProcessorLogger(logger.Named("callbacks")),
	)

	opts := []fondy.Option{
		fondy.WithLogger(logger.Named("http")),
		fondy.WithMiddleware(logging.Middleware(logger.Named("access"))),
	}
	if len(cfg.CallbackAllowlist) > 0 {
		auth, err := fondy.NewAllowlistAuthenticator(cfg.CallbackAllowlist)
		if err != nil {
			return err
		}
		opts = append(opts, fondy.WithCallbackAuthenticator(auth))

		proxies, err := fondy.ParseNetworks(cfg.TrustedProxies)
		if err != nil {
			return err
		}
		opts = append(opts, fondy.WithTrustedProxies(proxies...))
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           fondy.NewHandler(flow, processor, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("checkout service listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("gateway", client.Endpoint()),
			zap.Stringer("config", cfg),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, path string) (fondy.NotificationStore, func(), error) {
	if path == "" {
		return fondy.NewMemoryNotificationStore(), func() {}, nil
	}
	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("open notification store: %w", err)
	}
	if err := sqlite.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return sqlite.NewNotificationStore(db), func() { _ = db.Close() }, nil
}

func newConsumer(cfg *config.Config, logger *zap.Logger) (fondy.NotificationConsumer, error) {
	consumer := paymentLogger(logger.Named("payments"))
	if cfg.ForwardURL == "" {
		return consumer, nil
	}
	fwd, err := fondy.NewWebhookForwarder(fondy.ForwarderOptions{
		Endpoint:   cfg.ForwardURL,
		HeaderName: cfg.ForwardHeader,
		SecretKey:  []byte(cfg.ForwardSecret),
		Client:     &http.Client{Timeout: cfg.HTTPTimeout},
	})
	if err != nil {
		return nil, err
	}
	return fondy.ChainConsumers(consumer, fwd), nil
}

// paymentLogger records verified notifications. Fulfilment hooks in here.
func paymentLogger(logger *zap.Logger) fondy.NotificationConsumer {
	return fondy.NotificationConsumerFunc(func(ctx context.Context, n *fondy.PaymentNotification) error {
		logger.Info("payment notification",
			zap.String("request_id", fondy.RequestID(ctx)),
			zap.String("order_id", n.OrderID),
			zap.String("order_status", string(n.OrderStatus)),
			zap.String("payment_id", n.PaymentID),
			zap.String("amount", n.Amount),
			zap.String("currency", n.Currency),
			zap.String("masked_card", n.MaskedCard),
		)
		return nil
	})
}
