package fondy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gatewaykit/fondy/signature"
)

// OrderStatus is the order_status reported in payment notifications.
type OrderStatus string

const (
	OrderStatusCreated    OrderStatus = "created"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusDeclined   OrderStatus = "declined"
	OrderStatusApproved   OrderStatus = "approved"
	OrderStatusExpired    OrderStatus = "expired"
	OrderStatusReversed   OrderStatus = "reversed"
)

// Final reports whether the status ends the payment lifecycle.
func (s OrderStatus) Final() bool {
	switch s {
	case OrderStatusApproved, OrderStatusDeclined, OrderStatusExpired, OrderStatusReversed:
		return true
	default:
		return false
	}
}

// PaymentNotification is the asynchronous payment status callback. Fields
// keeps every scalar the gateway sent, including ones without a typed field,
// because all of them are covered by the signature.
type PaymentNotification struct {
	OrderID        string
	OrderStatus    OrderStatus
	ResponseStatus ResponseStatus
	PaymentID      string
	MerchantID     string
	Amount         string
	Currency       string
	MaskedCard     string
	MerchantData   string
	Signature      string
	Fields         signature.Params

	// canonical is the canonical JSON of the notification object.
	canonical []byte
}

// Canonical returns the canonical JSON encoding of the received payload.
func (n *PaymentNotification) Canonical() []byte { return n.canonical }

// DecodePaymentNotification parses a JSON callback body. Both a bare object
// and one wrapped in {"response": {...}} are accepted.
func DecodePaymentNotification(raw []byte) (*PaymentNotification, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	if dec.More() {
		return nil, errors.New("unexpected data after JSON body")
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, signature.ErrNotMapping
	}
	if inner, ok := obj["response"].(map[string]any); ok && len(obj) == 1 {
		obj = inner
	}

	encoded, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	canonical, err := signature.CanonicalizeJSONBody(encoded)
	if err != nil {
		return nil, fmt.Errorf("canonicalize notification: %w", err)
	}

	fields := signature.FromMap(obj)
	get := func(key string) string {
		v, _ := fields.Get(key)
		return v.String()
	}
	n := &PaymentNotification{
		OrderID:        get("order_id"),
		OrderStatus:    OrderStatus(get("order_status")),
		ResponseStatus: ResponseStatus(get("response_status")),
		PaymentID:      get("payment_id"),
		MerchantID:     get("merchant_id"),
		Amount:         get("amount"),
		Currency:       get("currency"),
		MaskedCard:     get("masked_card"),
		MerchantData:   get("merchant_data"),
		Signature:      get(signature.Key),
		Fields:         fields,
		canonical:      canonical,
	}
	if n.OrderID == "" {
		return nil, errors.New("order_id is required")
	}
	return n, nil
}

// ProcessedNotification is the idempotency record kept for every final
// notification that has been acted on.
type ProcessedNotification struct {
	OrderID     string
	OrderStatus OrderStatus
	PaymentID   string
	Payload     []byte
	ProcessedAt time.Time
}

// ErrNotificationNotFound is returned by stores when no record exists.
var ErrNotificationNotFound = errors.New("notification not found")

// NotificationStore remembers which orders already had a final notification
// processed. Implementations must be safe for concurrent use.
type NotificationStore interface {
	// MarkProcessed claims rec.OrderID. It returns false when the order was
	// already claimed.
	MarkProcessed(ctx context.Context, rec ProcessedNotification) (bool, error)
	// Release drops a claim so a redelivery can be processed again.
	Release(ctx context.Context, orderID string) error
	Get(ctx context.Context, orderID string) (*ProcessedNotification, error)
}

// MemoryNotificationStore keeps idempotency records in process memory.
type MemoryNotificationStore struct {
	mu      sync.RWMutex
	records map[string]ProcessedNotification
}

// NewMemoryNotificationStore returns an empty store.
func NewMemoryNotificationStore() *MemoryNotificationStore {
	return &MemoryNotificationStore{records: make(map[string]ProcessedNotification)}
}

// MarkProcessed implements [NotificationStore].
func (s *MemoryNotificationStore) MarkProcessed(_ context.Context, rec ProcessedNotification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.OrderID]; ok {
		return false, nil
	}
	s.records[rec.OrderID] = rec
	return true, nil
}

// Release implements [NotificationStore].
func (s *MemoryNotificationStore) Release(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, orderID)
	return nil
}

// Get implements [NotificationStore].
func (s *MemoryNotificationStore) Get(_ context.Context, orderID string) (*ProcessedNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[orderID]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	return &rec, nil
}

// NotificationConsumer is implemented by business logic that acts on
// verified payment notifications.
type NotificationConsumer interface {
	HandlePaymentNotification(ctx context.Context, n *PaymentNotification) error
}

// NotificationConsumerFunc lifts bare functions into [NotificationConsumer].
type NotificationConsumerFunc func(ctx context.Context, n *PaymentNotification) error

// HandlePaymentNotification delegates to the wrapped function.
func (f NotificationConsumerFunc) HandlePaymentNotification(ctx context.Context, n *PaymentNotification) error {
	return f(ctx, n)
}

// Outcome describes what the processor did with a notification.
type Outcome string

const (
	OutcomeAccepted         Outcome = "accepted"
	OutcomeAlreadyProcessed Outcome = "already_processed"
)

// NotificationProcessor verifies and deduplicates payment notifications
// before handing them to a [NotificationConsumer].
type NotificationProcessor struct {
	merchantID uint64
	verifier   signature.Verifier
	store      NotificationStore
	consumer   NotificationConsumer
	logger     *zap.Logger
	clock      func() time.Time
}

// ProcessorOption customizes a [NotificationProcessor].
type ProcessorOption func(*NotificationProcessor)

// WithVerifier replaces the default SHA-1 verifier.
func WithVerifier(v signature.Verifier) ProcessorOption {
	return func(p *NotificationProcessor) {
		if v != nil {
			p.verifier = v
		}
	}
}

// WithNotificationStore replaces the in-memory idempotency store.
func WithNotificationStore(s NotificationStore) ProcessorOption {
	return func(p *NotificationProcessor) {
		if s != nil {
			p.store = s
		}
	}
}

// WithProcessorLogger sets the logger.
func WithProcessorLogger(logger *zap.Logger) ProcessorOption {
	return func(p *NotificationProcessor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// processorWithClock provides deterministic time in tests.
func processorWithClock(fn func() time.Time) ProcessorOption {
	return func(p *NotificationProcessor) {
		p.clock = fn
	}
}

// NewNotificationProcessor builds a processor that verifies signatures with
// the merchant password.
func NewNotificationProcessor(creds Credentials, consumer NotificationConsumer, opts ...ProcessorOption) *NotificationProcessor {
	if consumer == nil {
		panic("fondy: notification consumer is required")
	}
	p := &NotificationProcessor{
		merchantID: creds.MerchantID,
		verifier:   signature.SHA1Verifier{Secret: creds.MerchantPassword, OmitEmpty: true},
		store:      NewMemoryNotificationStore(),
		consumer:   consumer,
		logger:     zap.NewNop(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(p)
	}
	return p
}

// Process verifies n and delivers it to the consumer at most once per order
// for final statuses. Verification failures are returned as
// [KindSignatureMismatch] errors and the payload is never acted on.
func (p *NotificationProcessor) Process(ctx context.Context, n *PaymentNotification) (Outcome, error) {
	log := p.logger.With(
		zap.String("order_id", n.OrderID),
		zap.String("order_status", string(n.OrderStatus)),
	)
	if err := p.verifier.Verify(ctx, n.Fields); err != nil {
		log.Warn("payment notification signature verification failed", zap.Error(err))
		return "", NewSignatureMismatchError(err)
	}
	if n.MerchantID != "" && n.MerchantID != strconv.FormatUint(p.merchantID, 10) {
		log.Warn("payment notification for another merchant", zap.String("merchant_id", n.MerchantID))
		return "", NewSignatureMismatchError(fmt.Errorf("merchant_id %s does not match", n.MerchantID))
	}

	if !n.OrderStatus.Final() {
		if err := p.consumer.HandlePaymentNotification(ctx, n); err != nil {
			return "", NewInternalError("notification handling failed", err)
		}
		log.Info("intermediate payment notification accepted")
		return OutcomeAccepted, nil
	}

	claimed, err := p.store.MarkProcessed(ctx, ProcessedNotification{
		OrderID:     n.OrderID,
		OrderStatus: n.OrderStatus,
		PaymentID:   n.PaymentID,
		Payload:     n.canonical,
		ProcessedAt: p.clock().UTC(),
	})
	if err != nil {
		return "", NewInternalError("notification store unavailable", err)
	}
	if !claimed {
		log.Info("skipping duplicate payment notification")
		p.compareFingerprint(ctx, log, n)
		return OutcomeAlreadyProcessed, nil
	}
	if err := p.consumer.HandlePaymentNotification(ctx, n); err != nil {
		if relErr := p.store.Release(ctx, n.OrderID); relErr != nil {
			log.Error("failed to release notification claim", zap.Error(relErr))
		}
		return "", NewInternalError("notification handling failed", err)
	}
	log.Info("payment notification processed", zap.String("payment_id", n.PaymentID))
	return OutcomeAccepted, nil
}

// compareFingerprint flags a redelivery whose canonical payload differs from
// the one recorded when the order was first processed. The duplicate is still
// acknowledged; the record is not replaced.
func (p *NotificationProcessor) compareFingerprint(ctx context.Context, log *zap.Logger, n *PaymentNotification) {
	rec, err := p.store.Get(ctx, n.OrderID)
	if err != nil {
		log.Debug("processed notification not readable", zap.Error(err))
		return
	}
	if bytes.Equal(rec.Payload, n.canonical) {
		return
	}
	log.Warn("duplicate payment notification differs from the processed one",
		zap.String("processed_status", string(rec.OrderStatus)),
		zap.String("processed_payment_id", rec.PaymentID),
		zap.Time("processed_at", rec.ProcessedAt),
	)
}
