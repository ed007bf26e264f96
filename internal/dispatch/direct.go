package dispatch

import (
	"context"
	"fmt"

	"github.com/serverless-orders/order-service/internal/model"
)

// Direct event types accepted on the synchronous path.
const (
	DirectOrderCreated = "order_created"
	DirectOrderUpdated = "order_updated"
)

// DirectChangeEvent is the invocation-shaped payload: a caller that wants
// to notify at the moment of mutation instead of waiting on the feed hands
// over the resolved order and the status transition explicitly.
type DirectChangeEvent struct {
	EventType string
	Order     model.Order
	OldStatus string
	NewStatus string
}

// Direct normalizes an invocation-shaped event into the canonical change
// event and runs it through the same classification as feed traffic, then
// publishes synchronously. The guard is not consulted: with no sequence
// token there is no redelivery to dedup against.
func (d *Dispatcher) Direct(ctx context.Context, ev DirectChangeEvent) error {
	canonical, err := normalizeDirect(ev)
	if err != nil {
		return err
	}
	n, err := d.Classify(canonical)
	if err != nil {
		return err
	}
	if n == nil {
		return nil
	}
	return d.publish(ctx, n)
}

func normalizeDirect(ev DirectChangeEvent) (*model.ChangeEvent, error) {
	after, err := model.EncodeImage(&ev.Order)
	if err != nil {
		return nil, err
	}
	canonical := &model.ChangeEvent{
		OrderID:        ev.Order.OrderID,
		OrderCreatedAt: ev.Order.CreatedAt,
		After:          after,
	}

	switch ev.EventType {
	case DirectOrderCreated:
		canonical.Kind = model.ChangeInsert
		return canonical, nil

	case DirectOrderUpdated:
		canonical.Kind = model.ChangeModify
		prev := ev.Order
		prev.Items = append([]string(nil), ev.Order.Items...)
		prev.Status = ev.OldStatus
		next := ev.Order
		if ev.NewStatus != "" {
			next.Status = ev.NewStatus
		}
		before, err := model.EncodeImage(&prev)
		if err != nil {
			return nil, err
		}
		canonical.Before = before
		canonical.After, err = model.EncodeImage(&next)
		if err != nil {
			return nil, err
		}
		return canonical, nil

	default:
		return nil, fmt.Errorf("unknown direct event type %q", ev.EventType)
	}
}
