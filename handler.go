package fondy

import (
	"context"
	"errors"
	"net/http"

	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/gatewaykit/fondy/signature"
)

const defaultMaxBodyBytes = 1 << 20

const defaultConfirmationHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Payment received</title></head>
<body><p>Thank you! Your payment is being processed.</p></body>
</html>
`

// Purchaser starts purchase attempts. [*Flow] implements it.
type Purchaser interface {
	Purchase(ctx context.Context, params BuyItemParams) (*Attempt, error)
}

// NotificationHandler acts on decoded server callbacks.
// [*NotificationProcessor] implements it.
type NotificationHandler interface {
	Process(ctx context.Context, n *PaymentNotification) (Outcome, error)
}

// Handler wires the purchase and callback routes to a [Purchaser] and a
// [NotificationHandler].
type Handler struct {
	flow      Purchaser
	processor NotificationHandler
	mux       *http.ServeMux
	cfg       config
	logger    *zap.Logger
}

// NewHandler builds a [Handler] backed by net/http's ServeMux.
func NewHandler(flow Purchaser, processor NotificationHandler, opts ...Option) *Handler {
	if flow == nil || processor == nil {
		panic("fondy: handler requires a purchaser and a notification handler")
	}
	cfg := config{
		logger:              zap.NewNop(),
		browserCallbackPath: routePath(DefaultBrowserCallbackPath),
		serverCallbackPath:  routePath(DefaultServerCallbackPath),
		confirmationHTML:    defaultConfirmationHTML,
		maxBodyBytes:        defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	h := &Handler{
		flow:      flow,
		processor: processor,
		mux:       http.NewServeMux(),
		cfg:       cfg,
		logger:    cfg.logger,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP satisfies http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestCtx := requestContextFromRequest(r)
	ctx := contextWithRequestContext(r.Context(), requestCtx)
	w.Header().Set("X-Request-Id", requestCtx.RequestID)
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.maxBodyBytes)
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

func (h *Handler) registerRoutes() {
	mw := h.cfg.middleware
	callbackMW := append([]Middleware{h.callbackAuthenticationMiddleware}, mw...)

	h.mux.HandleFunc("POST /buy", applyMiddleware(h.handleBuy, mw...))
	h.mux.HandleFunc("POST "+h.cfg.serverCallbackPath, applyMiddleware(h.handleServerCallback, callbackMW...))
	h.mux.HandleFunc("POST "+h.cfg.browserCallbackPath, applyMiddleware(h.handleBrowserCallback, mw...))
	h.mux.HandleFunc("GET /healthz", h.handleHealth)
}

func (h *Handler) handleBuy(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, NewInvalidRequestError("malformed form body", err))
		return
	}
	var params BuyItemParams
	if err := runtime.BindForm(&params, r.PostForm, nil, nil); err != nil {
		writeJSONError(w, NewInvalidRequestError("item_id must be an integer", err))
		return
	}
	if params.ItemID == nil {
		writeJSONError(w, NewInvalidRequestError("item_id is required", nil))
		return
	}

	attempt, err := h.flow.Purchase(r.Context(), params)
	if err != nil {
		h.logger.Error("purchase failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("order_id", attempt.orderID()),
			zap.Error(err),
		)
		writeServiceError(w, err)
		return
	}
	http.Redirect(w, r, attempt.Redirect.CheckoutURL, http.StatusSeeOther)
}

func (h *Handler) handleServerCallback(w http.ResponseWriter, r *http.Request) {
	raw, err := signature.ReadAndBufferBody(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("payment notification too large",
				zap.String("request_id", RequestID(r.Context())),
				zap.Int64("limit", tooLarge.Limit),
			)
			writeJSONError(w, NewPayloadTooLargeError(tooLarge.Limit, err))
			return
		}
		writeJSONError(w, NewCallbackDecodeError(err))
		return
	}
	n, err := DecodePaymentNotification(raw)
	if err != nil {
		h.logger.Warn("malformed payment notification",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("payload", snippet(raw)),
			zap.Error(err),
		)
		writeJSONError(w, NewCallbackDecodeError(err))
		return
	}
	outcome, err := h.processor.Process(r.Context(), n)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.logger.Debug("payment notification acknowledged",
		zap.String("request_id", RequestID(r.Context())),
		zap.String("order_id", n.OrderID),
		zap.String("outcome", string(outcome)),
	)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleBrowserCallback(w http.ResponseWriter, r *http.Request) {
	writeHTML(w, http.StatusOK, h.cfg.confirmationHTML)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Attempt) orderID() string {
	if a == nil {
		return ""
	}
	return a.OrderID
}
