package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/serverless-orders/order-service/internal/apperr"
	"github.com/serverless-orders/order-service/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	orderCacheTTL  = 5 * time.Minute
	orderCachePfx  = "order:"
	dedupKeyPrefix = "dedup:"
)

// RepositoryInterface restricts Repo methods (unit test seam).
type RepositoryInterface interface {
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	ListOrders(ctx context.Context, status string, limit int) ([]model.Order, error)
	UpdateOrder(ctx context.Context, orderID, createdAt string, patch model.OrderPatch) (updated, before *model.Order, err error)
	DeleteOrder(ctx context.Context, orderID string) error
	PollChanges(ctx context.Context, limit int) ([]model.ChangeEvent, error)
	MarkDispatched(ctx context.Context, id uint64) error
	PurgeDispatched(ctx context.Context, olderThan time.Time) (int64, error)
	MarkSeen(ctx context.Context, dedupKey string, ttl time.Duration) (bool, error)
	ClearSeen(ctx context.Context, dedupKey string) error
	CacheOrder(ctx context.Context, o *model.Order) error
	GetCachedOrder(ctx context.Context, orderID string) (*model.Order, error)
	DropCachedOrder(ctx context.Context, orderID string) error
	PublishNotification(ctx context.Context, n *model.Notification) error
	PublishDeadLetter(ctx context.Context, n *model.Notification, cause error) error
}

// Repository implements RepositoryInterface.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	dlq    *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo. The dead-letter writer may be nil when no
// dead-letter topic is configured.
func NewRepository(db *gorm.DB, rdb *redis.Client, w, dlq *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, dlq: dlq, log: logger}
}

// CreateOrder inserts the order and its INSERT feed row in one transaction.
// The key is freshly generated, so no pre-existence check is made.
func (r *Repository) CreateOrder(ctx context.Context, o *model.Order) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(o).Error; err != nil {
			return err
		}
		return r.appendChange(tx, model.ChangeInsert, nil, o)
	})
	if err != nil {
		return apperr.Downstream("postgres", err)
	}
	if err := r.CacheOrder(ctx, o); err != nil {
		r.log.Warnf("cache order %s: %v", o.OrderID, err)
	}
	return nil
}

// GetOrder resolves by order id alone: all rows sharing the id are ranged
// in createdAt order and the first one wins. When several rows ever share
// an id this is not necessarily the most recent one.
func (r *Repository) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var o model.Order
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at asc").
		First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.Downstream("postgres", err)
	}
	return &o, nil
}

// ListOrders returns up to limit orders. With a status filter the
// (status, createdAt) index is ranged most-recent-first; without one the
// scan is bounded but unordered. There is no continuation cursor.
func (r *Repository) ListOrders(ctx context.Context, status string, limit int) ([]model.Order, error) {
	var orders []model.Order
	q := r.db.WithContext(ctx).Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status).Order("created_at desc")
	}
	if err := q.Find(&orders).Error; err != nil {
		return nil, apperr.Downstream("postgres", err)
	}
	return orders, nil
}

// UpdateOrder merges the supplied fields into the exact (orderID, createdAt)
// row and refreshes updatedAt. No version is checked: concurrent writers
// are last-writer-wins.
func (r *Repository) UpdateOrder(ctx context.Context, orderID, createdAt string, patch model.OrderPatch) (*model.Order, *model.Order, error) {
	var updated, previous model.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var o model.Order
		err := tx.Where("order_id = ? AND created_at = ?", orderID, createdAt).First(&o).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrNotFound
			}
			return err
		}

		before := o
		before.Items = append([]string(nil), o.Items...)

		if patch.Status != nil {
			o.Status = *patch.Status
		}
		if patch.CustomerName != nil {
			o.CustomerName = *patch.CustomerName
		}
		if patch.Amount != nil {
			o.Amount = *patch.Amount
		}
		if patch.Items != nil {
			o.Items = *patch.Items
		}
		o.UpdatedAt = model.NowISO()

		if err := tx.Save(&o).Error; err != nil {
			return err
		}
		if err := r.appendChange(tx, model.ChangeModify, &before, &o); err != nil {
			return err
		}
		updated, previous = o, before
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, nil, err
		}
		return nil, nil, apperr.Downstream("postgres", err)
	}
	if err := r.CacheOrder(ctx, &updated); err != nil {
		r.log.Warnf("cache order %s: %v", updated.OrderID, err)
	}
	return &updated, &previous, nil
}

// DeleteOrder resolves the row with the same first-match lookup as GetOrder
// and removes that exact key. The read and the delete are two statements in
// one transaction, not a conditional delete.
func (r *Repository) DeleteOrder(ctx context.Context, orderID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var o model.Order
		err := tx.Where("order_id = ?", orderID).Order("created_at asc").First(&o).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrNotFound
			}
			return err
		}
		if err := tx.Where("order_id = ? AND created_at = ?", o.OrderID, o.CreatedAt).
			Delete(&model.Order{}).Error; err != nil {
			return err
		}
		return r.appendChange(tx, model.ChangeRemove, &o, nil)
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		return apperr.Downstream("postgres", err)
	}
	if err := r.DropCachedOrder(ctx, orderID); err != nil {
		r.log.Warnf("drop cached order %s: %v", orderID, err)
	}
	return nil
}

func (r *Repository) appendChange(tx *gorm.DB, kind string, before, after *model.Order) error {
	b, err := model.EncodeImage(before)
	if err != nil {
		return err
	}
	a, err := model.EncodeImage(after)
	if err != nil {
		return err
	}
	keyed := after
	if keyed == nil {
		keyed = before
	}
	return tx.Create(&model.ChangeEvent{
		OrderID:        keyed.OrderID,
		OrderCreatedAt: keyed.CreatedAt,
		Kind:           kind,
		Before:         b,
		After:          a,
	}).Error
}

// PollChanges pulls undispatched feed rows in sequence order.
func (r *Repository) PollChanges(ctx context.Context, limit int) ([]model.ChangeEvent, error) {
	var evts []model.ChangeEvent
	err := r.db.WithContext(ctx).
		Where("dispatched = false").
		Order("id").
		Limit(limit).
		Find(&evts).Error
	if err != nil {
		return nil, apperr.Downstream("postgres", err)
	}
	return evts, nil
}

// MarkDispatched sets the dispatched flag.
func (r *Repository) MarkDispatched(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.ChangeEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"dispatched": true, "dispatched_at": &now}).Error
}

// PurgeDispatched removes dispatched feed rows past the retention window.
func (r *Repository) PurgeDispatched(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("dispatched = true AND created_at < ?", olderThan).
		Delete(&model.ChangeEvent{})
	if res.Error != nil {
		return 0, apperr.Downstream("postgres", res.Error)
	}
	return res.RowsAffected, nil
}

// MarkSeen records the dedup key if unseen within the retention window.
// Returns true when this is the first sighting.
func (r *Repository) MarkSeen(ctx context.Context, dedupKey string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, dedupKeyPrefix+dedupKey, 1, ttl).Result()
	if err != nil {
		return false, apperr.Downstream("redis", err)
	}
	return ok, nil
}

// ClearSeen forgets a dedup key whose event was never delivered anywhere.
func (r *Repository) ClearSeen(ctx context.Context, dedupKey string) error {
	if err := r.rdb.Del(ctx, dedupKeyPrefix+dedupKey).Err(); err != nil {
		return apperr.Downstream("redis", err)
	}
	return nil
}

// CacheOrder writes Redis.
func (r *Repository) CacheOrder(ctx context.Context, o *model.Order) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, orderCachePfx+o.OrderID, b, orderCacheTTL).Err()
}

// GetCachedOrder reads Redis.
func (r *Repository) GetCachedOrder(ctx context.Context, orderID string) (*model.Order, error) {
	raw, err := r.rdb.Get(ctx, orderCachePfx+orderID).Bytes()
	if err != nil {
		return nil, err
	}
	var o model.Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// DropCachedOrder invalidates the Redis entry.
func (r *Repository) DropCachedOrder(ctx context.Context, orderID string) error {
	return r.rdb.Del(ctx, orderCachePfx+orderID).Err()
}

// PublishNotification sends to the topic. The order id keys the message so
// one order's notifications land on one partition; routing attributes ride
// as headers so subscribers can filter without deserializing the body.
func (r *Repository) PublishNotification(ctx context.Context, n *model.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	headers := []kafka.Header{
		{Key: "eventType", Value: []byte(n.EventType)},
		{Key: "orderId", Value: []byte(n.OrderID)},
		{Key: "subject", Value: []byte(n.Subject)},
	}
	if n.NewStatus != "" {
		headers = append(headers, kafka.Header{Key: "newStatus", Value: []byte(n.NewStatus)})
	}
	msg := kafka.Message{
		Key:     []byte(n.OrderID),
		Value:   body,
		Time:    time.Now(),
		Headers: headers,
	}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		return apperr.Downstream("kafka", err)
	}
	return nil
}

// PublishDeadLetter parks a notification that exhausted its retries.
func (r *Repository) PublishDeadLetter(ctx context.Context, n *model.Notification, cause error) error {
	if r.dlq == nil {
		return errors.New("dead-letter topic not configured")
	}
	body, err := json.Marshal(map[string]interface{}{
		"notification": n,
		"error":        cause.Error(),
		"failedAt":     time.Now().UTC().Format(model.TimeLayout),
	})
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(n.OrderID),
		Value: body,
		Time:  time.Now(),
	}
	if err := r.dlq.WriteMessages(ctx, msg); err != nil {
		return apperr.Downstream("kafka", err)
	}
	return nil
}
