// Package dispatch consumes change-feed batches, classifies each event and
// publishes the resulting notifications.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/serverless-orders/order-service/internal/config"
	"github.com/serverless-orders/order-service/internal/model"
	"github.com/serverless-orders/order-service/internal/retry"
	"go.uber.org/zap"
)

// Feed supplies undispatched change events in sequence order.
type Feed interface {
	PollChanges(ctx context.Context, limit int) ([]model.ChangeEvent, error)
	MarkDispatched(ctx context.Context, id uint64) error
}

// Guard dedups redelivered events. MarkSeen returns true on first sighting;
// ClearSeen releases a key whose event did not reach any topic, so the next
// delivery is treated as the first again.
type Guard interface {
	MarkSeen(ctx context.Context, dedupKey string, ttl time.Duration) (bool, error)
	ClearSeen(ctx context.Context, dedupKey string) error
}

// Publisher delivers notifications to the topic and the dead-letter topic.
type Publisher interface {
	PublishNotification(ctx context.Context, n *model.Notification) error
	PublishDeadLetter(ctx context.Context, n *model.Notification, cause error) error
}

// Dispatcher glues feed consumption, dedup, classification and publishing.
type Dispatcher struct {
	feed     Feed
	guard    Guard
	pub      Publisher
	log      *zap.SugaredLogger
	retryPol config.RetryConfig
	dedupTTL time.Duration
}

func New(feed Feed, guard Guard, pub Publisher, pol config.RetryConfig, dedupTTL time.Duration, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		feed:     feed,
		guard:    guard,
		pub:      pub,
		log:      logger,
		retryPol: pol,
		dedupTTL: dedupTTL,
	}
}

// RunOnce polls one batch and processes it. Returns the batch size.
func (d *Dispatcher) RunOnce(ctx context.Context, batchSize int) (int, error) {
	events, err := d.feed.PollChanges(ctx, batchSize)
	if err != nil {
		return 0, err
	}
	d.ProcessBatch(ctx, events)
	return len(events), nil
}

// ProcessBatch handles events one at a time. A failing event is logged and
// skipped so it cannot force the rest of the batch (and rows that already
// succeeded on an earlier delivery) through reprocessing.
func (d *Dispatcher) ProcessBatch(ctx context.Context, events []model.ChangeEvent) {
	for i := range events {
		if err := d.ProcessEvent(ctx, &events[i]); err != nil {
			d.log.Errorf("process change %d (%s): %v", events[i].ID, events[i].Kind, err)
		}
	}
}

// ProcessEvent runs one event through the guard, classification and
// publishing. Rows are marked dispatched once their outcome is settled:
// duplicate, nothing-to-notify, published, or parked on the dead letter. A
// row whose publish and dead-letter both fail stays undispatched and comes
// back on a later poll.
func (d *Dispatcher) ProcessEvent(ctx context.Context, ev *model.ChangeEvent) error {
	first, err := d.guard.MarkSeen(ctx, ev.DedupKey(), d.dedupTTL)
	if err != nil {
		return err
	}
	if !first {
		// Redelivery of an already-processed event.
		return d.feed.MarkDispatched(ctx, ev.ID)
	}

	n, err := d.Classify(ev)
	if err != nil {
		return err
	}
	if n == nil {
		return d.feed.MarkDispatched(ctx, ev.ID)
	}

	if err := d.publish(ctx, n); err != nil {
		// Nothing reached the topic or the dead letter. Release the dedup
		// key so the re-poll is not swallowed as a redelivery; if the clear
		// fails too, the key's TTL is the backstop.
		if clearErr := d.guard.ClearSeen(ctx, ev.DedupKey()); clearErr != nil {
			d.log.Warnf("clear dedup key %s: %v", ev.DedupKey(), clearErr)
		}
		return err
	}
	return d.feed.MarkDispatched(ctx, ev.ID)
}

func (d *Dispatcher) publish(ctx context.Context, n *model.Notification) error {
	err := retry.Do(ctx, d.retryPol, func() error {
		return d.pub.PublishNotification(ctx, n)
	})
	if err == nil {
		return nil
	}
	d.log.Warnf("publish %s for %s exhausted retries: %v", n.EventType, n.OrderID, err)
	if dlqErr := d.pub.PublishDeadLetter(ctx, n, err); dlqErr != nil {
		return fmt.Errorf("dead-letter after %v: %w", err, dlqErr)
	}
	return nil
}

// Classify maps a change event to a notification, or to nothing.
// Inserts always notify. Modifies notify only on a status change, edits of
// unrelated fields stay silent. Removals are not notified.
func (d *Dispatcher) Classify(ev *model.ChangeEvent) (*model.Notification, error) {
	switch ev.Kind {
	case model.ChangeInsert:
		after, err := ev.AfterImage()
		if err != nil {
			return nil, err
		}
		if after == nil {
			return nil, fmt.Errorf("insert event %d has no after image", ev.ID)
		}
		return createdNotification(after, ev.DedupKey()), nil

	case model.ChangeModify:
		before, err := ev.BeforeImage()
		if err != nil {
			return nil, err
		}
		after, err := ev.AfterImage()
		if err != nil {
			return nil, err
		}
		if after == nil {
			return nil, fmt.Errorf("modify event %d has no after image", ev.ID)
		}
		oldStatus := ""
		if before != nil {
			oldStatus = before.Status
		}
		if oldStatus == after.Status {
			return nil, nil
		}
		return statusNotification(after, oldStatus, after.Status, ev.DedupKey()), nil

	case model.ChangeRemove:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown change kind %q", ev.Kind)
	}
}

func createdNotification(o *model.Order, dedupKey string) *model.Notification {
	return &model.Notification{
		EventType:    model.EventOrderCreated,
		OrderID:      o.OrderID,
		CustomerName: o.CustomerName,
		Amount:       o.Amount.String(),
		Timestamp:    model.NowISO(),
		Message:      fmt.Sprintf("New order %s created for %s - $%s", o.OrderID, o.CustomerName, o.Amount.String()),
		Subject:      fmt.Sprintf("New Order Created: %s", o.OrderID),
		DedupKey:     dedupKey,
	}
}

func statusNotification(o *model.Order, oldStatus, newStatus, dedupKey string) *model.Notification {
	return &model.Notification{
		EventType:    model.EventOrderStatusChanged,
		OrderID:      o.OrderID,
		CustomerName: o.CustomerName,
		OldStatus:    oldStatus,
		NewStatus:    newStatus,
		Timestamp:    model.NowISO(),
		Message:      fmt.Sprintf("Order %s status changed from %s to %s", o.OrderID, oldStatus, newStatus),
		Subject:      fmt.Sprintf("Order Status Updated: %s", o.OrderID),
		DedupKey:     dedupKey,
	}
}
