package service

import (
	"context"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/serverless-orders/order-service/internal/apperr"
	"github.com/serverless-orders/order-service/internal/dispatch"
	"github.com/serverless-orders/order-service/internal/model"
	"github.com/serverless-orders/order-service/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultListLimit bounds an unfiltered or unlimited list call.
const DefaultListLimit = 50

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Notifier is the synchronous notification entry point, wired when the
// server should notify at mutation time instead of relying on the feed.
type Notifier interface {
	Direct(ctx context.Context, ev dispatch.DirectChangeEvent) error
}

// OrderService glues validation, caching and the repository.
type OrderService struct {
	repo     repo.RepositoryInterface
	hot      *lru.Cache[string, model.Order]
	notifier Notifier
	log      *zap.SugaredLogger
}

// NewOrderService returns OrderService. notifier may be nil; cacheSize <= 0
// falls back to a small default.
func NewOrderService(r repo.RepositoryInterface, cacheSize int, notifier Notifier, logger *zap.SugaredLogger) (*OrderService, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	hot, err := lru.New[string, model.Order](cacheSize)
	if err != nil {
		return nil, err
	}
	return &OrderService{repo: r, hot: hot, notifier: notifier, log: logger}, nil
}

// CreateOrderInput carries the caller-supplied fields of a new order.
type CreateOrderInput struct {
	CustomerName  string
	CustomerEmail string
	Items         []string
	Amount        decimal.Decimal
}

// Create validates the input, generates the key and writes the order.
// Status always starts at pending.
func (s *OrderService) Create(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	if in.CustomerName == "" {
		return nil, apperr.Validation("customerName", "must not be empty")
	}
	if in.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, apperr.Validation("amount", "must be positive")
	}
	if in.CustomerEmail != "" && !emailRe.MatchString(in.CustomerEmail) {
		return nil, apperr.Validation("customerEmail", "malformed address")
	}

	now := model.NowISO()
	o := &model.Order{
		OrderID:       model.NewOrderID(),
		CreatedAt:     now,
		CustomerName:  in.CustomerName,
		CustomerEmail: in.CustomerEmail,
		Items:         in.Items,
		Amount:        in.Amount,
		Status:        model.StatusPending,
		UpdatedAt:     now,
	}
	if o.Items == nil {
		o.Items = []string{}
	}
	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return nil, err
	}
	s.hot.Add(o.OrderID, *o)
	s.notify(ctx, dispatch.DirectChangeEvent{
		EventType: dispatch.DirectOrderCreated,
		Order:     *o,
	})
	return o, nil
}

// Get returns the first row matching the id, checking the in-process cache,
// then Redis, then the database.
func (s *OrderService) Get(ctx context.Context, orderID string) (*model.Order, error) {
	if o, ok := s.hot.Get(orderID); ok {
		return &o, nil
	}
	if o, err := s.repo.GetCachedOrder(ctx, orderID); err == nil {
		s.hot.Add(orderID, *o)
		return o, nil
	}
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.hot.Add(orderID, *o)
	if err := s.repo.CacheOrder(ctx, o); err != nil {
		s.log.Warnf("cache order %s: %v", orderID, err)
	}
	return o, nil
}

// List returns up to limit orders, filtered by status when given.
func (s *OrderService) List(ctx context.Context, status string, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.repo.ListOrders(ctx, status, limit)
}

// Update merges the supplied fields into the exact keyed row.
func (s *OrderService) Update(ctx context.Context, orderID, createdAt string, patch model.OrderPatch) (*model.Order, error) {
	if createdAt == "" {
		return nil, apperr.Validation("createdAt", "must be supplied with an update")
	}
	if patch.Amount != nil && patch.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, apperr.Validation("amount", "must be positive")
	}
	if patch.Status != nil && *patch.Status == "" {
		return nil, apperr.Validation("status", "must not be empty")
	}

	o, prev, err := s.repo.UpdateOrder(ctx, orderID, createdAt, patch)
	if err != nil {
		return nil, err
	}
	s.hot.Add(o.OrderID, *o)

	if prev.Status != o.Status {
		s.notify(ctx, dispatch.DirectChangeEvent{
			EventType: dispatch.DirectOrderUpdated,
			Order:     *o,
			OldStatus: prev.Status,
			NewStatus: o.Status,
		})
	}
	return o, nil
}

// Delete removes the first row matching the id. A second delete of the
// same id reports NotFound, not a failure.
func (s *OrderService) Delete(ctx context.Context, orderID string) error {
	if err := s.repo.DeleteOrder(ctx, orderID); err != nil {
		return err
	}
	s.hot.Remove(orderID)
	return nil
}

// notify is best-effort: the mutation is the source of truth and a failed
// synchronous notification never rolls it back.
func (s *OrderService) notify(ctx context.Context, ev dispatch.DirectChangeEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Direct(ctx, ev); err != nil {
		s.log.Warnf("direct notify %s for %s: %v", ev.EventType, ev.Order.OrderID, err)
	}
}
